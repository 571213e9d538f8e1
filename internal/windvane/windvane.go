// Package windvane maps the wind vane's analog output to compass headings.
package windvane

import "math"

// CalibrationPoint pairs a representative vane voltage with the heading it
// indicates.
type CalibrationPoint struct {
	Voltage float64 `yaml:"voltage" json:"voltage"`
	Degrees float64 `yaml:"degrees" json:"degrees"`
}

// Calibration is the fixed eight-entry vane table, one entry per 45° heading.
type Calibration [8]CalibrationPoint

// DefaultCalibration is the table for the stock vane read through a 3.3V
// reference.
var DefaultCalibration = Calibration{
	{Voltage: 0.9, Degrees: 0},
	{Voltage: 2.0, Degrees: 45},
	{Voltage: 3.0, Degrees: 90},
	{Voltage: 2.8, Degrees: 135},
	{Voltage: 2.5, Degrees: 180},
	{Voltage: 1.5, Degrees: 225},
	{Voltage: 0.3, Degrees: 270},
	{Voltage: 0.6, Degrees: 315},
}

type cardinalPoint struct {
	degrees float64
	name    string
}

var cardinals = [8]cardinalPoint{
	{0, "North"},
	{45, "North East"},
	{90, "East"},
	{135, "South East"},
	{180, "South"},
	{225, "South West"},
	{270, "West"},
	{315, "North West"},
}

// Decoder snaps raw vane voltages to the nearest calibrated heading.
type Decoder struct {
	cal Calibration
}

// NewDecoder returns a Decoder using cal.
func NewDecoder(cal Calibration) *Decoder {
	return &Decoder{cal: cal}
}

// Calibration returns the decoder's table.
func (d *Decoder) Calibration() Calibration {
	return d.cal
}

// Decode returns the heading whose calibration voltage is closest to volts.
// Readings between two points snap to the nearer one; on an exact tie the
// entry listed first in the table wins.
func (d *Decoder) Decode(volts float64) float64 {
	best := 0
	bestDiff := math.Abs(d.cal[0].Voltage - volts)
	for i := 1; i < len(d.cal); i++ {
		if diff := math.Abs(d.cal[i].Voltage - volts); diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return d.cal[best].Degrees
}

// DegreesToCardinal names the 45° compass bucket nearest to degrees, with
// the first-listed bucket winning ties. No wrap-around is applied, so 350°
// is nearer to "North West" (315°) than to "North" (0°).
func DegreesToCardinal(degrees float64) string {
	best := 0
	bestDiff := math.Abs(cardinals[0].degrees - degrees)
	for i := 1; i < len(cardinals); i++ {
		if diff := math.Abs(cardinals[i].degrees - degrees); diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return cardinals[best].name
}
