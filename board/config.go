package board

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/mhp/gantryio/ads1115"
	"github.com/mhp/gantryio/gpio"
	"github.com/mhp/gantryio/pwm"
	"github.com/mhp/gantryio/samplebuf"
	"github.com/mhp/gantryio/sampler"
)

// Config describes the wiring of the board. Start from DefaultConfig: Validate
// rejects empty paths and non-positive durations rather than defaulting them.
type Config struct {
	Pins    PinsConfig    `json:"pins"`
	GPIO    GPIOConfig    `json:"gpio"`
	PWM     PWMConfig     `json:"pwm"`
	ADC     ADCConfig     `json:"adc"`
	Sampler SamplerConfig `json:"sampler"`

	// ReferenceMillivolts is the divider supply per converter channel.
	ReferenceMillivolts [samplebuf.Channels]float64 `json:"reference_mv"`
}

// PinsConfig holds the BCM numbers of the digital pins.
type PinsConfig struct {
	Light   int `json:"light"`
	Trigger int `json:"trigger"`
	Spare   int `json:"spare"`
}

// GPIOConfig locates the gpio class and bounds how long an export may take.
type GPIOConfig struct {
	Root             string `json:"root"`
	ExportTimeoutMs  int    `json:"export_timeout_ms"`
	ExportIntervalMs int    `json:"export_interval_ms"`
}

// PWMConfig locates the pwm chip and sets its limits.
type PWMConfig struct {
	Chip              string  `json:"chip"`
	MaxFrequencyHz    float64 `json:"max_frequency_hz"`
	NominalMillivolts float64 `json:"nominal_mv"`
}

// ADCConfig locates the converter and sets its initial configuration.
type ADCConfig struct {
	Bus      string        `json:"bus"`
	Address  uint16        `json:"address"`
	Range    ads1115.Range `json:"range"`
	Rate     ads1115.Rate  `json:"rate"`
	SettleMs int           `json:"settle_ms"`
}

// SamplerConfig sets the sampling cadence.
type SamplerConfig struct {
	ChannelDelayMs int `json:"channel_delay_ms"`
	CycleDelayMs   int `json:"cycle_delay_ms"`
}

// DefaultConfig matches the production wiring: light on BCM 20, trigger on
// BCM 21, spare on BCM 26 and the converter at 0x48 on i2c-1.
func DefaultConfig() Config {
	cfg := Config{
		Pins: PinsConfig{Light: 20, Trigger: 21, Spare: 26},
		GPIO: GPIOConfig{
			Root:             gpio.DefaultRoot,
			ExportTimeoutMs:  int(gpio.DefaultExportTimeout / time.Millisecond),
			ExportIntervalMs: int(gpio.DefaultPollInterval / time.Millisecond),
		},
		PWM: PWMConfig{
			Chip:              pwm.DefaultChip,
			MaxFrequencyHz:    pwm.DefaultMaxFrequencyHz,
			NominalMillivolts: pwm.DefaultNominalMillivolts,
		},
		ADC: ADCConfig{
			Bus:      ads1115.DefaultBus,
			Address:  ads1115.DefaultAddress,
			Range:    ads1115.DefaultConfig.Range,
			Rate:     ads1115.DefaultConfig.Rate,
			SettleMs: int(ads1115.DefaultSettle / time.Millisecond),
		},
		Sampler: SamplerConfig{
			ChannelDelayMs: int(sampler.DefaultChannelDelay / time.Millisecond),
			CycleDelayMs:   int(sampler.DefaultCycleDelay / time.Millisecond),
		},
	}
	for i := range cfg.ReferenceMillivolts {
		cfg.ReferenceMillivolts[i] = samplebuf.DefaultReferenceMillivolts
	}
	return cfg
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate() error {
	pins := map[int]string{}
	for name, id := range map[string]int{"light": c.Pins.Light, "trigger": c.Pins.Trigger, "spare": c.Pins.Spare} {
		if id < 0 {
			return errors.Errorf("%s pin %d must not be negative", name, id)
		}
		if other, ok := pins[id]; ok {
			return errors.Errorf("%s and %s pins are both %d", other, name, id)
		}
		pins[id] = name
	}

	if c.GPIO.Root == "" {
		return errors.New("gpio root is required")
	}
	if c.GPIO.ExportTimeoutMs <= 0 || c.GPIO.ExportIntervalMs <= 0 {
		return errors.New("gpio export timeout and interval must be positive")
	}
	if c.GPIO.ExportIntervalMs > c.GPIO.ExportTimeoutMs {
		return errors.Errorf("gpio export interval %dms is longer than the timeout %dms",
			c.GPIO.ExportIntervalMs, c.GPIO.ExportTimeoutMs)
	}

	if c.PWM.Chip == "" {
		return errors.New("pwm chip is required")
	}
	if c.PWM.MaxFrequencyHz <= 0 {
		return errors.Errorf("pwm max frequency %v must be positive", c.PWM.MaxFrequencyHz)
	}
	if c.PWM.NominalMillivolts <= 0 {
		return errors.Errorf("pwm nominal supply %v must be positive", c.PWM.NominalMillivolts)
	}

	if c.ADC.Bus == "" {
		return errors.New("adc bus is required")
	}
	if c.ADC.Address < 0x03 || c.ADC.Address > 0x77 {
		return errors.Errorf("adc address %#x is outside the 7-bit range", c.ADC.Address)
	}
	if err := (ads1115.Config{Range: c.ADC.Range, Rate: c.ADC.Rate}).Validate(); err != nil {
		return err
	}
	if c.ADC.SettleMs < 0 {
		return errors.Errorf("adc settle %dms must not be negative", c.ADC.SettleMs)
	}

	if c.Sampler.ChannelDelayMs <= 0 || c.Sampler.CycleDelayMs <= 0 {
		return errors.New("sampler delays must be positive")
	}

	for ch, mv := range c.ReferenceMillivolts {
		if mv <= 0 {
			return errors.Errorf("reference voltage %v for channel %d must be positive", mv, ch)
		}
	}
	return nil
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// LoadConfig reads a JSON5 config file over DefaultConfig and validates the
// result.
func LoadConfig(file string) (Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Config{}, errors.Wrap(err, "reading config")
	}

	cfg := DefaultConfig()
	if err := json5.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parsing %s", file)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "invalid config %s", file)
	}
	return cfg, nil
}
