// Package periph wires the weather board collaborators to real hardware
// through periph.io: a BME280 for temperature, pressure and humidity, an
// ADS1115 for the wind vane, and host GPIO pins for the anemometer and rain
// gauge switches.
//
// There is no light sensor driver; boards opened here report no Light
// collaborator.
package periph

import (
	"errors"
	"fmt"

	"github.com/chrissnell/weatherhat/internal/hardware"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"
)

// Options selects the buses, addresses and pins of the board.
type Options struct {
	I2CBus         string // "" opens the first bus
	BME280Address  uint16
	ADS1115Address uint16
	AnemometerGPIO string
	RainGPIO       string
	VaneChannel    int
	// VaneReference is the full-scale voltage fed to the ADC.
	VaneReference float64
	// CounterModulus is the wrap point emulated by the software counters.
	CounterModulus uint32
}

// Open initialises the host and returns the board. The returned Close
// releases every device and the bus.
func Open(opts Options, logger *zap.SugaredLogger) (hardware.Board, error) {
	if _, err := host.Init(); err != nil {
		return hardware.Board{}, fmt.Errorf("host.Init: %w", err)
	}

	bus, err := i2creg.Open(opts.I2CBus)
	if err != nil {
		return hardware.Board{}, fmt.Errorf("i2creg.Open(%q): %w", opts.I2CBus, err)
	}

	closers := []func() error{bus.Close}
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	var board hardware.Board

	if opts.BME280Address != 0 {
		env, err := NewEnvironment(bus, opts.BME280Address)
		if err != nil {
			closeAll()
			return hardware.Board{}, err
		}
		closers = append(closers, env.Halt)
		board.Environment = env
	}

	adcPins := make(map[hardware.Pin]analog.PinADC)
	if opts.ADS1115Address != 0 {
		adcOpts := ads1x15.DefaultOpts
		adcOpts.I2cAddress = opts.ADS1115Address
		adc, err := ads1x15.NewADS1115(bus, &adcOpts)
		if err != nil {
			closeAll()
			return hardware.Board{}, fmt.Errorf("ads1x15.NewADS1115(%#x): %w", opts.ADS1115Address, err)
		}

		ref := opts.VaneReference
		if ref <= 0 {
			ref = 3.3
		}
		pin, err := adc.PinForChannel(ads1x15.Channel(opts.VaneChannel), physic.ElectricPotential(ref*float64(physic.Volt)), 8*physic.Hertz, ads1x15.BestQuality)
		if err != nil {
			closeAll()
			return hardware.Board{}, fmt.Errorf("ADC channel %d: %w", opts.VaneChannel, err)
		}
		adcPins[hardware.PinWindVane] = pin
	}

	gpios := make(map[hardware.Pin]string)
	if opts.AnemometerGPIO != "" {
		gpios[hardware.PinAnemoCount] = opts.AnemometerGPIO
	}
	if opts.RainGPIO != "" {
		gpios[hardware.PinRainCounter] = opts.RainGPIO
	}

	if len(gpios) > 0 || len(adcPins) > 0 {
		x := NewExpander(gpios, adcPins, opts.CounterModulus, logger)
		closers = append(closers, x.Close)
		board.Expander = x
		board.Interrupt = x
	}

	board.Close = closeAll
	logger.Infof("opened periph board on I2C bus %q (environment=%v expander=%v)", opts.I2CBus, board.Environment != nil, board.Expander != nil)
	return board, nil
}
