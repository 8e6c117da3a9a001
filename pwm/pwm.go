// Package pwm drives the two hardware PWM channels of pwmchip0 through sysfs.
//
// Channel 0 is physical pin 12 (BCM 18, ALT5) and channel 1 is physical pin
// 35 (BCM 19, ALT5). When the chip is not available the channels run in soft
// mode: duty cycle commands are mirrored into the sample buffer as the
// voltage the ADC would have measured, so telemetry still follows them.
package pwm

import (
	"context"
	"fmt"
	"math"
	"os"
	"path"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/mhp/gantryio/hwerr"
	"github.com/mhp/gantryio/hwfile"
)

const (
	DefaultChip = "/sys/class/pwm/pwmchip0"
	// DefaultMaxFrequencyHz is the highest frequency the chip runs stably at.
	DefaultMaxFrequencyHz = 1e5
	// DefaultNominalMillivolts is the supply the channels switch.
	DefaultNominalMillivolts = 5000.0
	// Channels is the number of hardware channels on the chip.
	Channels = 2
)

// PhysicalPins maps channels to header pin numbers.
var PhysicalPins = [Channels]int{12, 35}

// EstimateSlot is the sample buffer slot that monitors channel ch.
func EstimateSlot(ch int) int {
	return ch + 2
}

// Sink receives soft mode estimates.
type Sink interface {
	Store(ch int, mv float64) error
}

type channel struct {
	enable hwfile.Handle
	duty   hwfile.Handle
	period hwfile.Handle

	dutyFraction float64
	frequencyHz  float64
	periodNs     uint64
	activeNs     uint64
}

func (c *channel) open() bool {
	return c.enable != nil && c.duty != nil && c.period != nil
}

// Chip owns the control files of both channels.
type Chip struct {
	Provider          hwfile.Provider
	Root              string
	MaxFrequencyHz    float64
	NominalMillivolts float64
	Sink              Sink
	Timeout           time.Duration
	Interval          time.Duration
	Logger            golog.Logger

	channels [Channels]channel
}

// NewChip returns a closed chip with default settings. Both channels start at
// a commanded duty cycle of one half.
func NewChip(p hwfile.Provider, sink Sink, logger golog.Logger) *Chip {
	c := &Chip{
		Provider:          p,
		Root:              DefaultChip,
		MaxFrequencyHz:    DefaultMaxFrequencyHz,
		NominalMillivolts: DefaultNominalMillivolts,
		Sink:              sink,
		Timeout:           5 * time.Second,
		Interval:          100 * time.Millisecond,
		Logger:            logger,
	}
	for i := range c.channels {
		c.channels[i].dutyFraction = 0.5
	}
	return c
}

// attributes are the per channel control files, in acquisition order.
var attributes = [...]string{"enable", "duty_cycle", "period"}

func (c *Chip) chipFile(name string) string {
	return path.Join(c.Root, name)
}

func (c *Chip) lineFile(ch int, name string) string {
	return path.Join(c.Root, fmt.Sprintf("pwm%d", ch), name)
}

// Status reports whether all six control files are held.
func (c *Chip) Status() bool {
	for i := range c.channels {
		if !c.channels[i].open() {
			return false
		}
	}
	return true
}

// Init exports both channels, waits for all their control files and locks all
// six of them. Either all six are held afterwards or none are.
func (c *Chip) Init(ctx context.Context) error {
	if c.Status() {
		return nil
	}
	if err := c.export(); err != nil {
		return err
	}
	for ch := 0; ch < Channels; ch++ {
		for _, attr := range attributes {
			if err := hwfile.WaitFor(ctx, c.Provider, c.lineFile(ch, attr), c.Timeout, c.Interval, c.Logger); err != nil {
				return err
			}
		}
	}

	var acquired []hwfile.Handle
	acquire := func(p string) (hwfile.Handle, error) {
		h, err := c.Provider.Acquire(p, os.O_WRONLY)
		if err == nil {
			acquired = append(acquired, h)
		}
		return h, err
	}

	var opened [Channels]channel
	var err error
	for ch := 0; ch < Channels && err == nil; ch++ {
		if opened[ch].enable, err = acquire(c.lineFile(ch, "enable")); err != nil {
			break
		}
		if opened[ch].duty, err = acquire(c.lineFile(ch, "duty_cycle")); err != nil {
			break
		}
		opened[ch].period, err = acquire(c.lineFile(ch, "period"))
	}
	if err != nil {
		for _, h := range acquired {
			h.Close()
		}
		return errors.Wrap(err, "failed to lock pwm control files")
	}

	for ch := range c.channels {
		c.channels[ch].enable = opened[ch].enable
		c.channels[ch].duty = opened[ch].duty
		c.channels[ch].period = opened[ch].period
	}
	c.Logger.Debugw("pwm ready", "chip", c.Root)
	return nil
}

func (c *Chip) export() error {
	h, err := c.Provider.Acquire(c.chipFile("export"), os.O_WRONLY)
	if err != nil {
		return err
	}
	defer h.Close()

	for ch := 0; ch < Channels; ch++ {
		if c.Provider.Exists(c.lineFile(ch, "enable")) {
			continue
		}
		if err := hwfile.WriteInt(h, uint64(ch)); err != nil {
			c.Logger.Debugw("pwm export write failed, waiting anyway", "channel", ch, "error", err)
		}
	}
	return nil
}

func checkChannel(ch int) error {
	if ch < 0 || ch >= Channels {
		return hwerr.InvalidArgument("pwm channel %d", ch)
	}
	return nil
}

// SetDutyCycle sets channel ch to the duty fraction at freqHz. The frequency
// is capped at MaxFrequencyHz and the duty fraction clamped to [0, 1]. The
// channel is disabled while period and duty are rewritten.
func (c *Chip) SetDutyCycle(ch int, duty, freqHz float64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if math.IsNaN(duty) || math.IsNaN(freqHz) || freqHz <= 0 {
		return hwerr.InvalidArgument("duty %v at %v Hz", duty, freqHz)
	}

	freq := math.Min(freqHz, c.MaxFrequencyHz)
	duty = math.Min(1, math.Max(0, duty))
	periodNs := uint64(1e9 / freq)
	activeNs := uint64(float64(periodNs) * duty)

	cc := &c.channels[ch]
	var err error
	if cc.open() {
		err = cc.write(periodNs, activeNs)
	} else if c.Sink != nil {
		err = c.Sink.Store(EstimateSlot(ch), duty*c.NominalMillivolts)
	}

	cc.dutyFraction = duty
	cc.frequencyHz = freq
	return err
}

// write reprograms a channel. The driver rejects an active duration longer
// than the period, so when the period shrinks below the current active
// duration the duty cycle goes first.
func (cc *channel) write(periodNs, activeNs uint64) error {
	if err := hwfile.WriteString(cc.enable, "0"); err != nil {
		return err
	}
	if periodNs < cc.activeNs {
		if err := hwfile.WriteInt(cc.duty, activeNs); err != nil {
			return err
		}
		cc.activeNs = activeNs
		if err := hwfile.WriteInt(cc.period, periodNs); err != nil {
			return err
		}
		cc.periodNs = periodNs
	} else {
		if err := hwfile.WriteInt(cc.period, periodNs); err != nil {
			return err
		}
		cc.periodNs = periodNs
		if err := hwfile.WriteInt(cc.duty, activeNs); err != nil {
			return err
		}
		cc.activeNs = activeNs
	}
	return hwfile.WriteString(cc.enable, "1")
}

// DutyCycle returns the last commanded duty fraction of ch.
func (c *Chip) DutyCycle(ch int) (float64, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	return c.channels[ch].dutyFraction, nil
}

// Frequency returns the last commanded frequency of ch after capping, or
// zero if none was commanded yet.
func (c *Chip) Frequency(ch int) (float64, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	return c.channels[ch].frequencyHz, nil
}

// Close disables both channels, releases their control files and unexports
// them. Every step is attempted; failing to open unexport is an error.
func (c *Chip) Close() error {
	held := false
	for i := range c.channels {
		cc := &c.channels[i]
		held = held || cc.enable != nil || cc.duty != nil || cc.period != nil
	}
	if !held {
		return nil
	}

	var err error
	for i := range c.channels {
		cc := &c.channels[i]
		if cc.enable != nil {
			err = multierr.Append(err, hwfile.WriteString(cc.enable, "0"))
		}
		for _, h := range []*hwfile.Handle{&cc.enable, &cc.duty, &cc.period} {
			if *h != nil {
				err = multierr.Append(err, (*h).Close())
				*h = nil
			}
		}
		cc.periodNs, cc.activeNs = 0, 0
	}

	h, uerr := c.Provider.Acquire(c.chipFile("unexport"), os.O_WRONLY)
	if uerr != nil {
		return multierr.Append(err, uerr)
	}
	for ch := 0; ch < Channels; ch++ {
		err = multierr.Append(err, hwfile.WriteInt(h, uint64(ch)))
	}
	return multierr.Append(err, h.Close())
}
