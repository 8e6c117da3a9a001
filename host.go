package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// hostAction loads periph's host drivers and lists what loaded and which
// pins the board config refers to.
func hostAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	state, err := host.Init()
	if err != nil {
		return err
	}

	w := c.App.Writer
	for _, d := range state.Loaded {
		fmt.Fprintf(w, "loaded:  %s\n", d)
	}
	for _, f := range state.Skipped {
		fmt.Fprintf(w, "skipped: %s: %v\n", f.D, f.Err)
	}
	for _, f := range state.Failed {
		fmt.Fprintf(w, "failed:  %s: %v\n", f.D, f.Err)
	}

	for _, p := range []struct {
		role string
		bcm  int
	}{
		{"light", cfg.Pins.Light},
		{"trigger", cfg.Pins.Trigger},
		{"spare", cfg.Pins.Spare},
	} {
		pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", p.bcm))
		if pin == nil {
			fmt.Fprintf(w, "%-7s GPIO%d: not found\n", p.role, p.bcm)
			continue
		}
		fmt.Fprintf(w, "%-7s %s\n", p.role, pin)
	}
	return nil
}
