// Package gpio drives digital pins through the sysfs gpio class.
package gpio

import (
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/mhp/gantryio/hwerr"
	"github.com/mhp/gantryio/hwfile"
)

const (
	DefaultRoot          = "/sys/class/gpio"
	DefaultExportTimeout = 5 * time.Second
	DefaultPollInterval  = 100 * time.Millisecond
)

// Direction of a pin.
type Direction int

const (
	In Direction = iota
	Out
)

func (d Direction) String() string {
	if d == In {
		return "in"
	}
	return "out"
}

// Controller exports pins and hands out locked value handles for them.
type Controller struct {
	Provider hwfile.Provider
	Root     string
	Timeout  time.Duration
	Interval time.Duration
	Logger   golog.Logger
}

// NewController returns a controller for the default gpio root.
func NewController(p hwfile.Provider, logger golog.Logger) *Controller {
	return &Controller{
		Provider: p,
		Root:     DefaultRoot,
		Timeout:  DefaultExportTimeout,
		Interval: DefaultPollInterval,
		Logger:   logger,
	}
}

func (c *Controller) pinPath(id int, attr string) string {
	return path.Join(c.Root, fmt.Sprintf("gpio%d", id), attr)
}

// Export asks the kernel to expose pin id and waits for its direction file.
// A pin that is already exported is left alone.
func (c *Controller) Export(ctx context.Context, id int) error {
	dir := c.pinPath(id, "direction")
	if c.Provider.Exists(dir) {
		c.Logger.Debugw("pin already exported", "pin", id)
		return nil
	}

	err := hwfile.WriteFile(c.Provider, path.Join(c.Root, "export"), strconv.Itoa(id))
	switch {
	case errors.Is(err, hwerr.ErrIO):
		// The kernel refuses to export a pin twice; if the files show up
		// anyway that is good enough.
		c.Logger.Debugw("export write failed, waiting anyway", "pin", id, "error", err)
	case err != nil:
		return err
	}

	return hwfile.WaitFor(ctx, c.Provider, dir, c.Timeout, c.Interval, c.Logger)
}

// Unexport hands pin id back to the kernel.
func (c *Controller) Unexport(id int) error {
	return hwfile.WriteFile(c.Provider, path.Join(c.Root, "unexport"), strconv.Itoa(id))
}

// Init exports pin id, sets its direction and opens its value file, read-only
// for inputs and write-only for outputs.
func (c *Controller) Init(ctx context.Context, id int, dir Direction) (*Pin, error) {
	if id < 0 {
		return nil, hwerr.InvalidArgument("pin %d", id)
	}
	if err := c.Export(ctx, id); err != nil {
		return nil, err
	}
	if err := hwfile.WriteFile(c.Provider, c.pinPath(id, "direction"), dir.String()); err != nil {
		return nil, err
	}

	// udev may still be fixing up value after direction is usable.
	value := c.pinPath(id, "value")
	if err := hwfile.WaitFor(ctx, c.Provider, value, c.Timeout, c.Interval, c.Logger); err != nil {
		return nil, err
	}

	flag := os.O_WRONLY
	if dir == In {
		flag = os.O_RDONLY
	}
	h, err := c.Provider.Acquire(value, flag)
	if err != nil {
		return nil, err
	}
	c.Logger.Debugw("pin ready", "pin", id, "direction", dir)
	return &Pin{ID: id, Direction: dir, value: h, ctl: c}, nil
}

// Pin is an exported pin with its value file held open.
type Pin struct {
	ID        int
	Direction Direction
	value     hwfile.Handle
	ctl       *Controller
}

// Open reports whether the pin still holds its value handle.
func (p *Pin) Open() bool {
	return p != nil && p.value != nil
}

// Read returns 0 or 1.
func (p *Pin) Read() (int, error) {
	if !p.Open() {
		return 0, hwerr.NotInitialized("gpio pin")
	}
	s, err := hwfile.ReadString(p.value, 3)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, hwerr.Path(hwerr.ErrIO, "parse", p.value.Name(), err)
	}
	return v, nil
}

// Write drives the pin low for 0 and high for anything else.
func (p *Pin) Write(bit int) error {
	if !p.Open() {
		return hwerr.NotInitialized("gpio pin")
	}
	if bit == 0 {
		return hwfile.WriteString(p.value, "0")
	}
	return hwfile.WriteString(p.value, "1")
}

// Close releases the value handle and unexports the pin. Both steps are
// attempted even if the first one fails.
func (p *Pin) Close() error {
	if !p.Open() {
		return nil
	}
	err := p.value.Close()
	p.value = nil
	return multierr.Combine(err, p.ctl.Unexport(p.ID))
}
