// Package hardware defines the sensor and I/O collaborators the station
// samples. Register-level protocols live behind these interfaces; the
// station only deals in physical units and raw counter values.
package hardware

import (
	"context"
	"errors"
)

// Pin identifies an expander pin.
type Pin int

// Pins on the weather board's I/O expander.
const (
	PinRainCommon  Pin = 1 // rain gauge spare input
	PinRainCounter Pin = 2 // rain gauge switch counter
	PinRainGuard   Pin = 3 // rain gauge pull-up input
	PinAnemoDrive  Pin = 5 // anemometer drive, held low
	PinAnemoCount  Pin = 6 // anemometer switch counter
	PinRainDrive   Pin = 7 // rain gauge drive, held low
	PinWindVane    Pin = 8 // wind vane ADC
)

// PinMode selects how an expander pin is configured.
type PinMode int

const (
	ModeInput PinMode = iota
	ModeInputPullUp
	ModeOutput
	ModeADC
	// ModeCounter is a pull-up input with the hardware switch counter and
	// pin-change interrupt enabled.
	ModeCounter
)

func (m PinMode) String() string {
	switch m {
	case ModeInput:
		return "input"
	case ModeInputPullUp:
		return "input-pullup"
	case ModeOutput:
		return "output"
	case ModeADC:
		return "adc"
	case ModeCounter:
		return "counter"
	default:
		return "unknown"
	}
}

// ErrUnsupported is returned by collaborators asked for something their
// hardware cannot do.
var ErrUnsupported = errors.New("operation not supported by this hardware")

// EnvironmentSensor reads the combined temperature/pressure/humidity sensor.
type EnvironmentSensor interface {
	// Temperature returns the die temperature in °C.
	Temperature() (float64, error)
	// Pressure returns pressure in hPa.
	Pressure() (float64, error)
	// Humidity returns uncompensated relative humidity in %.
	Humidity() (float64, error)
}

// LightSensor reads ambient light.
type LightSensor interface {
	Lux() (float64, error)
}

// IOExpander is the pin substrate behind the wind and rain sensors.
type IOExpander interface {
	ConfigurePin(pin Pin, mode PinMode) error
	Output(pin Pin, high bool) error
	// ReadPulseCounter returns the raw value of a pin's wrap-around switch counter.
	ReadPulseCounter(pin Pin) (uint32, error)
	ClearPulseCounter(pin Pin) error
	// ReadADC returns the voltage on an ADC pin.
	ReadADC(pin Pin) (float64, error)
	// ClearInterrupt acknowledges a pending pin-change interrupt.
	ClearInterrupt() error
}

// CounterDrainer is implemented by expanders that can read a switch counter
// and clear it in one step. A tick arriving between a separate read and
// clear would otherwise be lost.
type CounterDrainer interface {
	ReadAndClearPulseCounter(pin Pin) (uint32, error)
}

// InterruptLine delivers pin-change interrupts. Watch invokes handler on its
// own goroutine every time the line fires, until ctx is done.
type InterruptLine interface {
	Watch(ctx context.Context, handler func()) error
}

// Board bundles the collaborators of one weather board. Any member may be
// nil when the hardware is absent.
type Board struct {
	Environment EnvironmentSensor
	Light       LightSensor
	Expander    IOExpander
	Interrupt   InterruptLine
	// Close releases hardware resources. May be nil.
	Close func() error
}
