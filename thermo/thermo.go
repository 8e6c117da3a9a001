// Package thermo turns the voltage across a resistive temperature sensor into
// degrees Celsius. The sensor is the grounded leg of a divider whose upper
// leg is a fixed 10k resistor; the converter's input impedance is ignored.
package thermo

import (
	"math"

	"github.com/mhp/gantryio/hwerr"
)

const (
	// BiasOhms is the fixed upper leg of the divider.
	BiasOhms = 10000.0

	kelvin = 273.15

	ntcT0 = 25 + kelvin
	ntcR0 = 10000.0
	ntcB  = 3500.0

	rtdT0    = kelvin
	rtdR0    = 10000.0
	rtdAlpha = 0.003916
)

// Model selects the sensor characteristic.
type Model int

const (
	// NTC is a 10k B3500 thermistor.
	NTC Model = iota
	// RTD is a 10k platinum resistance thermometer.
	RTD
)

func (m Model) String() string {
	switch m {
	case NTC:
		return "ntc"
	case RTD:
		return "rtd"
	default:
		return "unknown"
	}
}

// Resistance solves the divider for the sensor leg given the measured
// voltage v and the divider supply vref, both in millivolts.
func Resistance(v, vref float64) float64 {
	return BiasOhms * v / (vref - v)
}

// NTCCelsius uses the beta form of Steinhart-Hart,
// 1/T = 1/T0 + 1/B * ln(R/R0).
func NTCCelsius(v, vref float64) float64 {
	r := Resistance(v, vref)
	return (ntcT0*ntcB)/(ntcB+ntcT0*math.Log(r/ntcR0)) - kelvin
}

// RTDCelsius uses the linear approximation R = R0 (1 + a (T - T0)).
func RTDCelsius(v, vref float64) float64 {
	r := Resistance(v, vref)
	return rtdT0 + (r-rtdR0)/(rtdR0*rtdAlpha) - kelvin
}

// Celsius dispatches on the sensor model.
func Celsius(m Model, v, vref float64) (float64, error) {
	switch m {
	case NTC:
		return NTCCelsius(v, vref), nil
	case RTD:
		return RTDCelsius(v, vref), nil
	default:
		return 0, hwerr.InvalidArgument("sensor model %d", int(m))
	}
}
