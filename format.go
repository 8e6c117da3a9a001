package main

import (
	"fmt"
	"strings"

	"github.com/mhp/gantryio/board"
	"github.com/mhp/gantryio/samplebuf"
	"github.com/mhp/gantryio/thermo"
)

func formatCelsius(m thermo.Model, v, vref float64, vrefErr error) string {
	if vrefErr != nil {
		return "n/a"
	}
	c, err := thermo.Celsius(m, v, vref)
	if err != nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1fC", c)
}

// formatReading renders a sample the way the monitor prints it.
func formatReading(ch int, r samplebuf.Reading, vref float64, vrefErr error) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ch%d: %8.1fmV  ntc %7s  rtd %7s", ch, r.Millivolts,
		formatCelsius(thermo.NTC, r.Millivolts, vref, vrefErr),
		formatCelsius(thermo.RTD, r.Millivolts, vref, vrefErr))
	if r.Stale() {
		fmt.Fprintf(&sb, "  stale: %v", r.Err)
	}
	return sb.String()
}

func formatChannel(b *board.Board, ch int, r samplebuf.Reading) string {
	vref, err := b.ReferenceVoltage(ch)
	return formatReading(ch, r, vref, err)
}
