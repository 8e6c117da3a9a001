package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	goutils "go.viam.com/utils"

	"github.com/mhp/gantryio/ads1115"
	"github.com/mhp/gantryio/board"
	"github.com/mhp/gantryio/gpio"
	"github.com/mhp/gantryio/samplebuf"
)

const (
	defaultMonitorInterval = time.Second
	// freshSampleTimeout bounds how long read waits for the sampling loop.
	freshSampleTimeout = 2 * time.Second
)

func statusAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	return withBoard(c, cfg, func(ctx context.Context, b *board.Board) error {
		w := c.App.Writer
		fmt.Fprintf(w, "state: %v\n", b.State())
		fmt.Fprintf(w, "gpio:  %v (light %d, trigger %d, spare %d)\n",
			b.StatusGPIO(), cfg.Pins.Light, cfg.Pins.Trigger, cfg.Pins.Spare)
		fmt.Fprintf(w, "pwm:   %v (%s)\n", b.StatusPWM(), cfg.PWM.Chip)
		fmt.Fprintf(w, "adc:   %v (%s @%#02x, %v, %v)\n",
			b.StatusADC(), cfg.ADC.Bus, cfg.ADC.Address, cfg.ADC.Range, cfg.ADC.Rate)
		fmt.Fprintf(w, "sampling: %v\n", b.Sampling())
		return nil
	})
}

// parsePulseArgs reads COUNT WAIT_US.
func parsePulseArgs(args cli.Args) (int, time.Duration, error) {
	if args.Len() != 2 {
		return 0, 0, errors.New("expected COUNT and WAIT_US")
	}
	n, err := strconv.Atoi(args.Get(0))
	if err != nil || n < 0 {
		return 0, 0, errors.Errorf("bad pulse count %q", args.Get(0))
	}
	us, err := strconv.Atoi(args.Get(1))
	if err != nil || us < 0 {
		return 0, 0, errors.Errorf("bad pulse spacing %q", args.Get(1))
	}
	return n, time.Duration(us) * time.Microsecond, nil
}

func pulseAction(c *cli.Context) error {
	n, wait, err := parsePulseArgs(c.Args())
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	return withBoard(c, cfg, func(ctx context.Context, b *board.Board) error {
		if err := b.Pulse(ctx, n, wait); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%d pulses sent\n", n)
		return nil
	})
}

type levelSetter func(b *board.Board, level int) error

func lights(b *board.Board, level int) error {
	if level == 0 {
		return b.LightsOff()
	}
	return b.LightsOn()
}

func spare(b *board.Board, level int) error {
	if level == 0 {
		return b.SpareOff()
	}
	return b.SpareOn()
}

// hold keeps the board open for d, or until ctx ends if d is zero. Closing
// the board releases every output, so anything set has to be held.
func hold(ctx context.Context, d time.Duration) {
	if d <= 0 {
		<-ctx.Done()
		return
	}
	goutils.SelectContextOrWait(ctx, d)
}

func levelAction(set levelSetter) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.Args().Len() != 1 {
			return errors.New("expected on or off")
		}
		level, err := gpio.ParseLevel(c.Args().First())
		if err != nil {
			return err
		}
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		return withBoard(c, cfg, func(ctx context.Context, b *board.Board) error {
			if err := set(b, level); err != nil {
				return err
			}
			hold(ctx, c.Duration(flagFor))
			return nil
		})
	}
}

// parsePWMArgs reads CHANNEL DUTY FREQ_HZ.
func parsePWMArgs(args cli.Args) (int, float64, float64, error) {
	if args.Len() != 3 {
		return 0, 0, 0, errors.New("expected CHANNEL, DUTY and FREQ_HZ")
	}
	ch, err := strconv.Atoi(args.Get(0))
	if err != nil {
		return 0, 0, 0, errors.Errorf("bad channel %q", args.Get(0))
	}
	duty, err := strconv.ParseFloat(args.Get(1), 64)
	if err != nil {
		return 0, 0, 0, errors.Errorf("bad duty cycle %q", args.Get(1))
	}
	freq, err := strconv.ParseFloat(args.Get(2), 64)
	if err != nil {
		return 0, 0, 0, errors.Errorf("bad frequency %q", args.Get(2))
	}
	return ch, duty, freq, nil
}

func pwmAction(c *cli.Context) error {
	ch, duty, freq, err := parsePWMArgs(c.Args())
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	return withBoard(c, cfg, func(ctx context.Context, b *board.Board) error {
		if err := b.SetDutyCycle(ch, duty, freq); err != nil {
			return err
		}
		d, _ := b.DutyCycle(ch)
		f, _ := b.Frequency(ch)
		fmt.Fprintf(c.App.Writer, "pwm%d: duty %.3f at %g Hz\n", ch, d, f)
		hold(ctx, c.Duration(flagFor))
		return nil
	})
}

func readAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return errors.New("expected CHANNEL")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ch, err := selectChannel(&cfg, c.Args().First())
	if err != nil {
		return err
	}
	return withBoard(c, cfg, func(ctx context.Context, b *board.Board) error {
		r, err := waitForSample(ctx, b, ch)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, formatChannel(b, ch, r))
		return nil
	})
}

// selectChannel parses a channel name. An address in the name overrides the
// configured one.
func selectChannel(cfg *board.Config, name string) (int, error) {
	ch, addr, hasAddr, err := ads1115.ParseChannel(name)
	if err != nil {
		return 0, err
	}
	if hasAddr {
		cfg.ADC.Address = addr
	}
	return ch, nil
}

// waitForSample gives the sampling loop a chance to produce a first value for
// ch. Without a converter the current value is returned straight away.
func waitForSample(ctx context.Context, b *board.Board, ch int) (samplebuf.Reading, error) {
	deadline := time.Now().Add(freshSampleTimeout)
	for {
		r, err := b.Reading(ch)
		if err != nil || !b.StatusADC() || !r.At.IsZero() || r.Stale() || time.Now().After(deadline) {
			return r, err
		}
		if !goutils.SelectContextOrWait(ctx, 10*time.Millisecond) {
			return r, ctx.Err()
		}
	}
}

func monitorAction(c *cli.Context) error {
	interval := c.Duration(flagInterval)
	if interval <= 0 {
		return errors.Errorf("bad interval %v", interval)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	return withBoard(c, cfg, func(ctx context.Context, b *board.Board) error {
		t := clock.New().Ticker(interval)
		defer t.Stop()
		for {
			snap := b.Snapshot()
			for ch, r := range snap {
				fmt.Fprintln(c.App.Writer, formatChannel(b, ch, r))
			}
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
			}
		}
	})
}
