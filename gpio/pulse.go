package gpio

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mhp/gantryio/hwerr"
)

// PulseHigh is the high time of every pulse in a train.
const PulseHigh = time.Microsecond

// Pulse emits n pulses on pin, each PulseHigh long and followed by low.
// The sysfs write itself takes tens of microseconds, which bounds the
// fastest usable rate to roughly one pulse per 100us.
func Pulse(ctx context.Context, clk clock.Clock, pin *Pin, n int, low time.Duration) error {
	if !pin.Open() {
		return hwerr.NotInitialized("trigger pin")
	}
	if n < 0 || low < 0 {
		return hwerr.InvalidArgument("pulse count %d, low time %v", n, low)
	}

	for i := 0; i < n; i++ {
		if err := pin.Write(1); err != nil {
			return err
		}
		clk.Sleep(PulseHigh)
		if err := pin.Write(0); err != nil {
			return err
		}

		if low == 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(low):
		}
	}
	return nil
}
