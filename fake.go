package main

import (
	"github.com/edaniels/golog"
	"periph.io/x/conn/v3"

	"github.com/mhp/gantryio/board"
	"github.com/mhp/gantryio/fakeio"
)

// fakeRaw is what the in-memory converter reads on each channel.
var fakeRaw = [...]int16{20000, 12000, 16000, 8000}

// fakeDeps backs a board with in-memory sysfs classes and converter, laid
// out where cfg expects the real ones.
func fakeDeps(cfg board.Config, logger golog.Logger) board.Deps {
	fs := fakeio.NewSysfs(cfg.GPIO.Root, cfg.PWM.Chip)
	return board.Deps{
		Provider: fs,
		OpenBus: func(path string, addr uint16) (conn.Conn, error) {
			adc := fakeio.NewADC()
			for ch, v := range fakeRaw {
				adc.SetRaw(ch, v)
			}
			logger.Debugw("using in-memory converter", "bus", path, "address", addr)
			return adc, nil
		},
	}
}
