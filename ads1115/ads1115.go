// Package ads1115 drives a TI ADS1115 four channel 16-bit converter over i2c.
//
// See: http://www.ti.com/lit/ds/symlink/ads1115.pdf
package ads1115

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"periph.io/x/conn/v3"

	"github.com/mhp/gantryio/hwerr"
)

const (
	// DefaultBus is the i2c-dev node the converter hangs off.
	DefaultBus = "/dev/i2c-1"
	// DefaultAddress is the converter address with ADDR tied to ground.
	DefaultAddress = 0x48
	// Channels is the number of single ended inputs.
	Channels = 4
	// DefaultSettle is how long a new configuration needs before the
	// conversion register reflects it.
	DefaultSettle = 100 * time.Millisecond
)

const (
	regConversion = 0x00
	regConfig     = 0x01
)

// Range selects the programmable gain amplifier's full scale.
type Range uint8

const (
	Range6V Range = iota
	Range4V
	Range2V
	Range1V
	Range500mV
	Range250mV
)

var fullScale = [...]float64{6144, 4096, 2048, 1024, 512, 256}

// FullScaleMillivolts is the input that reads as +32768.
func (r Range) FullScaleMillivolts() float64 {
	if !r.Valid() {
		return 0
	}
	return fullScale[r]
}

// Valid reports whether r is one of the six range codes.
func (r Range) Valid() bool {
	return int(r) < len(fullScale)
}

func (r Range) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Range(%d)", uint8(r))
	}
	return fmt.Sprintf("±%gmV", fullScale[r])
}

// Rate selects the conversion rate.
type Rate uint8

const (
	Rate8SPS Rate = iota
	Rate16SPS
	Rate32SPS
	Rate64SPS
	Rate128SPS
	Rate250SPS
	Rate475SPS
	Rate860SPS
)

var samplesPerSecond = [...]int{8, 16, 32, 64, 128, 250, 475, 860}

// Valid reports whether r is one of the eight rate codes.
func (r Rate) Valid() bool {
	return int(r) < len(samplesPerSecond)
}

// SamplesPerSecond returns the conversion rate r selects.
func (r Rate) SamplesPerSecond() int {
	if !r.Valid() {
		return 0
	}
	return samplesPerSecond[r]
}

func (r Rate) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Rate(%d)", uint8(r))
	}
	return fmt.Sprintf("%dSPS", samplesPerSecond[r])
}

// Config is the converter state that goes into the config register.
type Config struct {
	Channel int
	Range   Range
	Rate    Rate
}

// DefaultConfig is channel 0 at ±4.096V and 250 samples per second.
var DefaultConfig = Config{Channel: 0, Range: Range4V, Rate: Rate250SPS}

// Validate checks every field against its code space.
func (c Config) Validate() error {
	if c.Channel < 0 || c.Channel >= Channels {
		return hwerr.InvalidArgument("adc channel %d", c.Channel)
	}
	if !c.Range.Valid() {
		return hwerr.InvalidArgument("adc range code %d", uint8(c.Range))
	}
	if !c.Rate.Valid() {
		return hwerr.InvalidArgument("adc rate code %d", uint8(c.Rate))
	}
	return nil
}

// Bytes encodes the three byte write that loads the config register:
// register pointer, then the high byte (start, single ended mux, gain,
// continuous mode) and the low byte (rate, comparator disabled).
func (c Config) Bytes() [3]byte {
	return [3]byte{
		regConfig,
		1<<7 | byte((c.Channel&3)|4)<<4 | byte(c.Range&7)<<1 | 0,
		byte(c.Rate&7)<<5 | 0b00011,
	}
}

// RawToMillivolts scales a conversion result for the given range.
func RawToMillivolts(raw int16, r Range) float64 {
	return float64(raw) * r.FullScaleMillivolts() / 32768
}

// Device is one converter on a bus. All bus traffic goes through its mutex,
// so a configuration change never lands between another caller's push and
// read.
type Device struct {
	mu     sync.Mutex
	bus    conn.Conn
	clk    clock.Clock
	cfg    Config
	pushed bool

	// Settle is the wait after each configuration push.
	Settle time.Duration
}

// NewDevice wraps bus with the default configuration. Nothing is sent until
// the first Push or Sample.
func NewDevice(bus conn.Conn, clk clock.Clock) *Device {
	if clk == nil {
		clk = clock.New()
	}
	return &Device{bus: bus, clk: clk, cfg: DefaultConfig, Settle: DefaultSettle}
}

func (d *Device) String() string {
	return d.bus.String()
}

// Config returns the configuration last requested.
func (d *Device) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// SetRange changes the gain and pushes the configuration if it differs.
func (d *Device) SetRange(r Range) error {
	if !r.Valid() {
		return hwerr.InvalidArgument("adc range code %d", uint8(r))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pushed && d.cfg.Range == r {
		return nil
	}
	d.cfg.Range = r
	return d.push()
}

// SetRate changes the conversion rate and pushes the configuration if it
// differs.
func (d *Device) SetRate(r Rate) error {
	if !r.Valid() {
		return hwerr.InvalidArgument("adc rate code %d", uint8(r))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pushed && d.cfg.Rate == r {
		return nil
	}
	d.cfg.Rate = r
	return d.push()
}

// Configure replaces the whole configuration and pushes it.
func (d *Device) Configure(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = c
	return d.push()
}

// Push writes the current configuration unconditionally.
func (d *Device) Push() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.push()
}

func (d *Device) push() error {
	w := d.cfg.Bytes()
	if err := d.tx("config", w[:], nil); err != nil {
		d.pushed = false
		return err
	}
	if d.Settle > 0 {
		d.clk.Sleep(d.Settle)
	}
	// Point the register pointer back at the conversion result.
	if err := d.tx("select", []byte{regConversion}, nil); err != nil {
		d.pushed = false
		return err
	}
	d.pushed = true
	return nil
}

// ReadRaw reads the latest conversion result.
func (d *Device) ReadRaw() (int16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readRaw()
}

func (d *Device) readRaw() (int16, error) {
	var r [2]byte
	if err := d.tx("read", nil, r[:]); err != nil {
		return 0, err
	}
	return int16(uint16(r[0])<<8 | uint16(r[1])), nil
}

// Sample selects channel ch, pushing the configuration if the channel
// changed, and returns its reading in millivolts.
func (d *Device) Sample(ch int) (float64, error) {
	if ch < 0 || ch >= Channels {
		return 0, hwerr.InvalidArgument("adc channel %d", ch)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.pushed || d.cfg.Channel != ch {
		d.cfg.Channel = ch
		if err := d.push(); err != nil {
			return 0, err
		}
	}
	raw, err := d.readRaw()
	if err != nil {
		return 0, err
	}
	return RawToMillivolts(raw, d.cfg.Range), nil
}

func (d *Device) tx(op string, w, r []byte) error {
	if err := d.bus.Tx(w, r); err != nil {
		return hwerr.Path(hwerr.ErrIO, op, d.bus.String(), err)
	}
	return nil
}

// Close closes the underlying bus if it can be closed.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pushed = false
	if c, ok := d.bus.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var channelNames = regexp.MustCompile(`\A` +
	// Optional base name followed by channel number
	`(?:ads1115:)?([0123])` +
	// Optional i2c address in hex ("@48") starting with '@'
	`(?:@([[:xdigit:]]{2}))?` +
	`\z`)

const (
	submatchAll = iota
	submatchChan
	submatchAddr
	numSubmatchesExpected
)

// ParseChannel parses names like "2", "ads1115:2" or "ads1115:2@49" into a
// channel and bus address. hasAddr is false when the name carries no address,
// in which case addr is DefaultAddress.
func ParseChannel(name string) (ch int, addr uint16, hasAddr bool, err error) {
	submatches := channelNames.FindStringSubmatch(name)
	if len(submatches) != numSubmatchesExpected {
		return 0, 0, false, hwerr.InvalidArgument("can't parse channel name %q", name)
	}

	n, err := strconv.Atoi(submatches[submatchChan])
	if err != nil {
		return 0, 0, false, hwerr.InvalidArgument("can't parse channel number %q", name)
	}

	if len(submatches[submatchAddr]) == 0 {
		return n, DefaultAddress, false, nil
	}
	a, err := strconv.ParseUint(submatches[submatchAddr], 16, 8)
	if err != nil {
		return 0, 0, false, hwerr.InvalidArgument("can't parse device address %q", name)
	}
	return n, uint16(a), true, nil
}
