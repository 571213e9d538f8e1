package periph

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
)

// Environment is a BME280 on the I2C bus.
type Environment struct {
	mu  sync.Mutex
	dev *bmxx80.Dev
}

// NewEnvironment opens the BME280 at addr.
func NewEnvironment(bus i2c.Bus, addr uint16) (*Environment, error) {
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("bmxx80.NewI2C(%#x): %w", addr, err)
	}
	return &Environment{dev: dev}, nil
}

func (e *Environment) sense() (physic.Env, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var env physic.Env
	if err := e.dev.Sense(&env); err != nil {
		return physic.Env{}, fmt.Errorf("bme280 sense: %w", err)
	}
	return env, nil
}

// Temperature returns the die temperature in °C.
func (e *Environment) Temperature() (float64, error) {
	env, err := e.sense()
	if err != nil {
		return 0, err
	}
	return env.Temperature.Celsius(), nil
}

// Pressure returns pressure in hPa.
func (e *Environment) Pressure() (float64, error) {
	env, err := e.sense()
	if err != nil {
		return 0, err
	}
	// env.Pressure is stored in nano Pascal.
	return float64(env.Pressure) / float64(100*physic.Pascal), nil
}

// Humidity returns relative humidity in %.
func (e *Environment) Humidity() (float64, error) {
	env, err := e.sense()
	if err != nil {
		return 0, err
	}
	return float64(env.Humidity) / float64(physic.PercentRH), nil
}

// Halt puts the sensor to sleep.
func (e *Environment) Halt() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dev.Halt()
}
