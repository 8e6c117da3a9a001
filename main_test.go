package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/urfave/cli/v2"
	"go.viam.com/test"

	"github.com/mhp/gantryio/board"
	"github.com/mhp/gantryio/samplebuf"
)

func argsOf(t *testing.T, values ...string) cli.Args {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	test.That(t, set.Parse(values), test.ShouldBeNil)
	return cli.NewContext(nil, set, nil).Args()
}

func TestParsePulseArgs(t *testing.T) {
	n, wait, err := parsePulseArgs(argsOf(t, "5", "250"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 5)
	test.That(t, wait, test.ShouldEqual, 250*time.Microsecond)

	for _, bad := range [][]string{{"5"}, {"x", "1"}, {"--", "-1", "1"}, {"1", "-5"}} {
		_, _, err := parsePulseArgs(argsOf(t, bad...))
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestParsePWMArgs(t *testing.T) {
	ch, duty, freq, err := parsePWMArgs(argsOf(t, "1", "0.25", "1000"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ch, test.ShouldEqual, 1)
	test.That(t, duty, test.ShouldEqual, 0.25)
	test.That(t, freq, test.ShouldEqual, 1000.0)

	_, _, _, err = parsePWMArgs(argsOf(t, "1", "half", "1000"))
	test.That(t, err, test.ShouldNotBeNil)
	_, _, _, err = parsePWMArgs(argsOf(t, "1", "0.5"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFormatReading(t *testing.T) {
	r := samplebuf.Reading{Millivolts: 2500}
	s := formatReading(2, r, 5000, nil)
	test.That(t, s, test.ShouldContainSubstring, "ch2:")
	test.That(t, s, test.ShouldContainSubstring, "2500.0mV")
	test.That(t, s, test.ShouldContainSubstring, "25.0C")
	test.That(t, s, test.ShouldNotContainSubstring, "stale")

	r.Err = errors.New("remote i/o error")
	s = formatReading(2, r, 0, errors.New("bad channel"))
	test.That(t, s, test.ShouldContainSubstring, "n/a")
	test.That(t, s, test.ShouldContainSubstring, "stale: remote i/o error")
}

func TestSelectChannel(t *testing.T) {
	cfg := board.DefaultConfig()
	cfg.ADC.Address = 0x49

	ch, err := selectChannel(&cfg, "2")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ch, test.ShouldEqual, 2)
	test.That(t, cfg.ADC.Address, test.ShouldEqual, uint16(0x49))

	ch, err = selectChannel(&cfg, "ads1115:1@4a")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ch, test.ShouldEqual, 1)
	test.That(t, cfg.ADC.Address, test.ShouldEqual, uint16(0x4a))

	_, err = selectChannel(&cfg, "ads1115:5")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, cfg.ADC.Address, test.ShouldEqual, uint16(0x4a))
}

func TestFakeDeps(t *testing.T) {
	cfg := board.DefaultConfig()
	deps := fakeDeps(cfg, golog.NewTestLogger(t))

	bus, err := deps.OpenBus(cfg.ADC.Bus, cfg.ADC.Address)
	test.That(t, err, test.ShouldBeNil)
	// Select channel 1, then read its conversion result.
	test.That(t, bus.Tx([]byte{0x01, 0xD2, 0xA3}, nil), test.ShouldBeNil)
	r := make([]byte, 2)
	test.That(t, bus.Tx(nil, r), test.ShouldBeNil)
	test.That(t, int16(uint16(r[0])<<8|uint16(r[1])), test.ShouldEqual, fakeRaw[1])

	b, err := board.New(cfg, deps, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b.Init(context.Background()), test.ShouldBeNil)
	test.That(t, b.StatusGPIO(), test.ShouldBeTrue)
	test.That(t, b.Close(), test.ShouldBeNil)
}

func writeConfig(t *testing.T) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "gantryio.json5")
	cfg := `{
		// keep the fake quick
		adc: {settle_ms: 0},
		sampler: {channel_delay_ms: 1, cycle_delay_ms: 1},
		gpio: {export_timeout_ms: 100, export_interval_ms: 1},
	}`
	test.That(t, os.WriteFile(file, []byte(cfg), 0o600), test.ShouldBeNil)
	return file
}

func runFake(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	full := append([]string{"gantryio", "--fake", "--config", writeConfig(t)}, args...)
	err := app.Run(full)
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	out, err := runFake(t, "status")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "state: ready")
	test.That(t, out, test.ShouldContainSubstring, "gpio:  true (light 20, trigger 21, spare 26)")
	test.That(t, out, test.ShouldContainSubstring, "adc:   true")
}

func TestPWMCommand(t *testing.T) {
	out, err := runFake(t, "pwm", "--for", "1ms", "0", "1.5", "2e5")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "pwm0: duty 1.000 at 100000 Hz")

	_, err = runFake(t, "pwm", "--for", "1ms", "2", "0.5", "1000")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadCommand(t *testing.T) {
	out, err := runFake(t, "read", "ads1115:0")
	test.That(t, err, test.ShouldBeNil)
	// 20000 counts on the ±4.096V range.
	test.That(t, out, test.ShouldContainSubstring, "2500.0mV")

	_, err = runFake(t, "read", "ads1115:7")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLevelAndPulseCommands(t *testing.T) {
	_, err := runFake(t, "lights", "--for", "1ms", "on")
	test.That(t, err, test.ShouldBeNil)
	_, err = runFake(t, "spare", "--for", "1ms", "maybe")
	test.That(t, err, test.ShouldNotBeNil)

	out, err := runFake(t, "pulse", "3", "10")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "3 pulses sent")
}
