package hwfile

import (
	"context"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edaniels/golog"

	"github.com/mhp/gantryio/hwerr"
)

// WaitFor polls until path exists. Exported sysfs directories are created
// asynchronously by the kernel and udev, so they can lag behind the export
// write. Polling gives up after timeout.
func WaitFor(ctx context.Context, p Provider, path string, timeout, interval time.Duration, logger golog.Logger) error {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	tries := uint64(timeout / interval)
	if tries == 0 {
		tries = 1
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), tries), ctx)
	op := func() error {
		if p.Exists(path) {
			return nil
		}
		return os.ErrNotExist
	}
	notify := func(error, time.Duration) {
		if logger != nil {
			logger.Debugw("waiting for control path", "path", path)
		}
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return hwerr.Path(hwerr.ErrTimeout, "wait", path, err)
	}
	return nil
}
