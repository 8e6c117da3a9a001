// Package board owns every pin, the pwm chip and the converter of one
// instrument, and brings them up and down in a fixed order.
package board

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3"

	"github.com/mhp/gantryio/ads1115"
	"github.com/mhp/gantryio/gpio"
	"github.com/mhp/gantryio/hwerr"
	"github.com/mhp/gantryio/hwfile"
	"github.com/mhp/gantryio/pwm"
	"github.com/mhp/gantryio/samplebuf"
	"github.com/mhp/gantryio/sampler"
	"github.com/mhp/gantryio/thermo"
)

// ErrClosed is returned by Init once the board has been closed.
var ErrClosed = errors.New("board is closed")

// State is where the board is in its lifecycle.
type State int32

const (
	Uninitialized State = iota
	Initializing
	// Ready means every interface is open and the converter is sampled.
	Ready
	// Degraded means initialization failed. Nothing is held, the sampling
	// loop runs without a converter and pwm commands are only estimated.
	Degraded
	ShuttingDown
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	case ShuttingDown:
		return "shutting down"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// BusOpener connects to the converter at addr on the bus at path.
type BusOpener func(path string, addr uint16) (conn.Conn, error)

// Deps are the outside world the board talks to.
type Deps struct {
	Provider hwfile.Provider
	Clock    clock.Clock
	// OpenBus defaults to an i2c-dev bus acquired through Provider.
	OpenBus BusOpener
}

// Board is the single owner of the instrument's hardware interfaces. Calls
// other than State, the reads and the status checks are expected from one
// controlling goroutine.
type Board struct {
	cfg    Config
	deps   Deps
	logger golog.Logger
	state  atomic.Int32

	gpio    *gpio.Controller
	light   *gpio.Pin
	trigger *gpio.Pin
	spare   *gpio.Pin
	pwm     *pwm.Chip
	adc     *ads1115.Device

	buf  *samplebuf.Buffer
	refs *samplebuf.References
	loop *sampler.Loop
}

// New builds an uninitialized board. Nothing is opened until Init.
func New(cfg Config, deps Deps, logger golog.Logger) (*Board, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Provider == nil {
		deps.Provider = hwfile.OS{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.OpenBus == nil {
		p := deps.Provider
		deps.OpenBus = func(path string, addr uint16) (conn.Conn, error) {
			return ads1115.Open(p, path, addr)
		}
	}

	b := &Board{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		buf:    samplebuf.New(),
		refs:   samplebuf.NewReferences(),
	}
	for ch, mv := range cfg.ReferenceMillivolts {
		if err := b.refs.Set(ch, mv); err != nil {
			return nil, err
		}
	}

	b.gpio = gpio.NewController(deps.Provider, logger)
	b.gpio.Root = cfg.GPIO.Root
	b.gpio.Timeout = ms(cfg.GPIO.ExportTimeoutMs)
	b.gpio.Interval = ms(cfg.GPIO.ExportIntervalMs)

	b.pwm = pwm.NewChip(deps.Provider, b.buf, logger)
	b.pwm.Root = cfg.PWM.Chip
	b.pwm.MaxFrequencyHz = cfg.PWM.MaxFrequencyHz
	b.pwm.NominalMillivolts = cfg.PWM.NominalMillivolts
	b.pwm.Timeout = b.gpio.Timeout
	b.pwm.Interval = b.gpio.Interval

	b.loop = sampler.New(nil, b.buf, deps.Clock, logger)
	b.loop.ChannelDelay = ms(cfg.Sampler.ChannelDelayMs)
	b.loop.CycleDelay = ms(cfg.Sampler.CycleDelayMs)
	return b, nil
}

// State returns the lifecycle state.
func (b *Board) State() State {
	return State(b.state.Load())
}

func (b *Board) setState(s State) {
	b.state.Store(int32(s))
}

// Init opens the light, trigger and spare pins, the pwm chip and the
// converter, in that order, and starts sampling. A board that was already
// initialized is torn down first.
//
// If any step fails everything opened so far is released again, sampling
// starts without a converter and the original error is returned; the board
// is then Degraded.
func (b *Board) Init(ctx context.Context) error {
	switch b.State() {
	case Closed, ShuttingDown:
		return ErrClosed
	case Ready, Degraded:
		if err := b.teardown(); err != nil {
			b.logger.Warnw("releasing previous session", "error", err)
		}
	}
	b.setState(Initializing)

	if err := b.open(ctx); err != nil {
		if terr := b.teardown(); terr != nil {
			b.logger.Warnw("releasing after failed init", "error", terr)
		}
		b.loop.Source = nil
		b.loop.Start()
		b.setState(Degraded)
		b.logger.Warnw("hardware unavailable, running degraded", "error", err)
		return err
	}

	b.loop.Source = b.adc
	b.loop.Start()
	b.setState(Ready)
	b.logger.Infow("board ready", "light", b.cfg.Pins.Light, "trigger", b.cfg.Pins.Trigger,
		"spare", b.cfg.Pins.Spare, "adc", b.adc)
	return nil
}

func (b *Board) open(ctx context.Context) error {
	var err error
	if b.light, err = b.gpio.Init(ctx, b.cfg.Pins.Light, gpio.Out); err != nil {
		return errors.Wrap(err, "light pin")
	}
	if b.trigger, err = b.gpio.Init(ctx, b.cfg.Pins.Trigger, gpio.Out); err != nil {
		return errors.Wrap(err, "trigger pin")
	}
	if b.spare, err = b.gpio.Init(ctx, b.cfg.Pins.Spare, gpio.Out); err != nil {
		return errors.Wrap(err, "spare pin")
	}
	if err := b.pwm.Init(ctx); err != nil {
		return errors.Wrap(err, "pwm")
	}

	bus, err := b.deps.OpenBus(b.cfg.ADC.Bus, b.cfg.ADC.Address)
	if err != nil {
		return errors.Wrap(err, "adc")
	}
	dev := ads1115.NewDevice(bus, b.deps.Clock)
	dev.Settle = ms(b.cfg.ADC.SettleMs)
	if err := dev.Configure(ads1115.Config{Range: b.cfg.ADC.Range, Rate: b.cfg.ADC.Rate}); err != nil {
		dev.Close()
		return errors.Wrap(err, "adc")
	}
	b.adc = dev
	return nil
}

// teardown turns the lights off, then releases the pins, the pwm chip, the
// sampling loop and the converter. Every step runs regardless of earlier
// failures.
func (b *Board) teardown() error {
	var err error
	if b.light.Open() {
		err = multierr.Append(err, b.light.Write(0))
	}
	for _, p := range []**gpio.Pin{&b.light, &b.trigger, &b.spare} {
		if *p != nil {
			err = multierr.Append(err, (*p).Close())
			*p = nil
		}
	}
	err = multierr.Append(err, b.pwm.Close())
	b.loop.Stop()
	if b.adc != nil {
		err = multierr.Append(err, b.adc.Close())
		b.adc = nil
	}
	return err
}

// Close releases everything. A closed board stays closed.
func (b *Board) Close() error {
	switch b.State() {
	case Closed, ShuttingDown:
		return nil
	}
	b.setState(ShuttingDown)
	err := b.teardown()
	b.setState(Closed)
	return err
}

// Pulse emits n 1µs pulses on the trigger pin, wait apart.
func (b *Board) Pulse(ctx context.Context, n int, wait time.Duration) error {
	return gpio.Pulse(ctx, b.deps.Clock, b.trigger, n, wait)
}

func writePin(p *gpio.Pin, what string, bit int) error {
	if !p.Open() {
		return hwerr.NotInitialized(what)
	}
	return p.Write(bit)
}

// LightsOn drives the light pin high.
func (b *Board) LightsOn() error { return writePin(b.light, "light pin", 1) }

// LightsOff drives the light pin low.
func (b *Board) LightsOff() error { return writePin(b.light, "light pin", 0) }

// SpareOn drives the spare pin high.
func (b *Board) SpareOn() error { return writePin(b.spare, "spare pin", 1) }

// SpareOff drives the spare pin low.
func (b *Board) SpareOff() error { return writePin(b.spare, "spare pin", 0) }

// SetDutyCycle commands pwm channel ch. Without the pwm chip the command is
// only reflected in the channel's estimate slot.
func (b *Board) SetDutyCycle(ch int, duty, freqHz float64) error {
	return b.pwm.SetDutyCycle(ch, duty, freqHz)
}

// DutyCycle returns the last commanded duty fraction of pwm channel ch.
func (b *Board) DutyCycle(ch int) (float64, error) {
	return b.pwm.DutyCycle(ch)
}

// Frequency returns the last commanded frequency of pwm channel ch.
func (b *Board) Frequency(ch int) (float64, error) {
	return b.pwm.Frequency(ch)
}

func (b *Board) device() (*ads1115.Device, error) {
	if b.adc == nil {
		return nil, hwerr.NotInitialized("adc")
	}
	return b.adc, nil
}

// SetADCRange changes the converter gain. It is kept across re-init.
func (b *Board) SetADCRange(r ads1115.Range) error {
	dev, err := b.device()
	if err != nil {
		return err
	}
	if err := dev.SetRange(r); err != nil {
		return err
	}
	b.cfg.ADC.Range = r
	return nil
}

// SetADCRate changes the converter rate. It is kept across re-init.
func (b *Board) SetADCRate(r ads1115.Rate) error {
	dev, err := b.device()
	if err != nil {
		return err
	}
	if err := dev.SetRate(r); err != nil {
		return err
	}
	b.cfg.ADC.Rate = r
	return nil
}

// ReadRaw reads the converter's latest raw result for whichever channel it
// is on.
func (b *Board) ReadRaw() (int16, error) {
	dev, err := b.device()
	if err != nil {
		return 0, err
	}
	return dev.ReadRaw()
}

// ReadADC returns the latest sample of channel ch in millivolts.
func (b *Board) ReadADC(ch int) (float64, error) {
	return b.buf.Millivolts(ch)
}

// Reading returns the latest sample of channel ch with its staleness.
func (b *Board) Reading(ch int) (samplebuf.Reading, error) {
	return b.buf.Load(ch)
}

// Snapshot returns every channel's latest sample.
func (b *Board) Snapshot() [samplebuf.Channels]samplebuf.Reading {
	return b.buf.Snapshot()
}

// Temperature converts channel ch's latest sample with the given sensor
// model against the channel's reference voltage.
func (b *Board) Temperature(ch int, m thermo.Model) (float64, error) {
	v, err := b.buf.Millivolts(ch)
	if err != nil {
		return 0, err
	}
	vref, err := b.refs.Get(ch)
	if err != nil {
		return 0, err
	}
	return thermo.Celsius(m, v, vref)
}

// ReadNTCTemp reads channel ch as a thermistor.
func (b *Board) ReadNTCTemp(ch int) (float64, error) {
	return b.Temperature(ch, thermo.NTC)
}

// ReadRTDTemp reads channel ch as a platinum resistance thermometer.
func (b *Board) ReadRTDTemp(ch int) (float64, error) {
	return b.Temperature(ch, thermo.RTD)
}

// SetReferenceVoltage sets the divider supply of channel ch.
func (b *Board) SetReferenceVoltage(ch int, mv float64) error {
	return b.refs.Set(ch, mv)
}

// ReferenceVoltage returns the divider supply of channel ch.
func (b *Board) ReferenceVoltage(ch int) (float64, error) {
	return b.refs.Get(ch)
}

// StatusGPIO reports whether all three digital pins are open.
func (b *Board) StatusGPIO() bool {
	return b.light.Open() && b.trigger.Open() && b.spare.Open()
}

// StatusPWM reports whether all six pwm control files are held.
func (b *Board) StatusPWM() bool {
	return b.pwm.Status()
}

// StatusADC reports whether the converter is open.
func (b *Board) StatusADC() bool {
	return b.adc != nil
}

// Sampling reports whether the sampling loop is running.
func (b *Board) Sampling() bool {
	return b.loop.Running()
}

// SamplerStats returns the sampling loop counters.
func (b *Board) SamplerStats() sampler.Stats {
	return b.loop.Stats()
}
