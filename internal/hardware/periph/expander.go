package periph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chrissnell/weatherhat/internal/hardware"
	"github.com/chrissnell/weatherhat/internal/pulsecounter"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
)

// edgePoll bounds how long a counter goroutine blocks in WaitForEdge before
// checking for shutdown.
const edgePoll = 250 * time.Millisecond

// Expander implements the expander contract directly on host GPIO pins and
// an external ADC: switch inputs are counted in software on falling edges
// (wrapping at the configured modulus, as the expander's hardware counter
// does) and each counted edge raises the interrupt line.
type Expander struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger

	gpios   map[hardware.Pin]string
	adcPins map[hardware.Pin]analog.PinADC
	modulus uint32

	mu       sync.Mutex
	counters map[hardware.Pin]uint32
	pins     map[hardware.Pin]gpio.PinIO
	handlers map[int]func()
	nextID   int
}

// NewExpander maps expander pins onto host GPIO names and ADC pins.
func NewExpander(gpios map[hardware.Pin]string, adcPins map[hardware.Pin]analog.PinADC, modulus uint32, logger *zap.SugaredLogger) *Expander {
	if modulus == 0 {
		modulus = pulsecounter.DefaultModulus
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Expander{
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		gpios:    gpios,
		adcPins:  adcPins,
		modulus:  modulus,
		counters: make(map[hardware.Pin]uint32),
		pins:     make(map[hardware.Pin]gpio.PinIO),
		handlers: make(map[int]func()),
	}
}

func (x *Expander) gpioFor(pin hardware.Pin) (gpio.PinIO, error) {
	name, ok := x.gpios[pin]
	if !ok {
		return nil, fmt.Errorf("expander pin %d: %w", pin, hardware.ErrUnsupported)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %s not found", name)
	}
	return p, nil
}

// ConfigurePin implements hardware.IOExpander. Pins without a GPIO mapping
// accept input and output modes as no-ops, since the sensor's other leg is
// wired to ground on a bare header.
func (x *Expander) ConfigurePin(pin hardware.Pin, mode hardware.PinMode) error {
	switch mode {
	case hardware.ModeADC:
		if _, ok := x.adcPins[pin]; !ok {
			return fmt.Errorf("expander pin %d has no ADC channel: %w", pin, hardware.ErrUnsupported)
		}
		return nil
	case hardware.ModeCounter:
		p, err := x.gpioFor(pin)
		if err != nil {
			return err
		}
		if err := p.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			return fmt.Errorf("configure %s for edge counting: %w", p.Name(), err)
		}
		x.mu.Lock()
		_, running := x.pins[pin]
		x.pins[pin] = p
		x.mu.Unlock()
		if !running {
			x.wg.Add(1)
			go x.count(pin, p)
		}
		return nil
	}

	if _, ok := x.gpios[pin]; !ok {
		return nil
	}
	p, err := x.gpioFor(pin)
	if err != nil {
		return err
	}
	switch mode {
	case hardware.ModeOutput:
		return p.Out(gpio.Low)
	case hardware.ModeInputPullUp:
		return p.In(gpio.PullUp, gpio.NoEdge)
	default:
		return p.In(gpio.PullNoChange, gpio.NoEdge)
	}
}

// count tallies falling edges on p until the expander is closed.
func (x *Expander) count(pin hardware.Pin, p gpio.PinIO) {
	defer x.wg.Done()
	x.logger.Infof("counting edges on %s for expander pin %d", p.Name(), pin)
	for {
		select {
		case <-x.ctx.Done():
			return
		default:
		}
		if !p.WaitForEdge(edgePoll) {
			continue
		}

		x.mu.Lock()
		x.counters[pin] = (x.counters[pin] + 1) % x.modulus
		handlers := make([]func(), 0, len(x.handlers))
		for _, h := range x.handlers {
			handlers = append(handlers, h)
		}
		x.mu.Unlock()

		for _, h := range handlers {
			h()
		}
	}
}

// Output implements hardware.IOExpander.
func (x *Expander) Output(pin hardware.Pin, high bool) error {
	if _, ok := x.gpios[pin]; !ok {
		return nil
	}
	p, err := x.gpioFor(pin)
	if err != nil {
		return err
	}
	level := gpio.Low
	if high {
		level = gpio.High
	}
	return p.Out(level)
}

// ReadPulseCounter implements hardware.IOExpander.
func (x *Expander) ReadPulseCounter(pin hardware.Pin) (uint32, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.pins[pin]; !ok {
		return 0, fmt.Errorf("expander pin %d is not a counter", pin)
	}
	return x.counters[pin], nil
}

// ClearPulseCounter implements hardware.IOExpander.
func (x *Expander) ClearPulseCounter(pin hardware.Pin) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.pins[pin]; !ok {
		return fmt.Errorf("expander pin %d is not a counter", pin)
	}
	x.counters[pin] = 0
	return nil
}

// ReadAndClearPulseCounter implements hardware.CounterDrainer.
func (x *Expander) ReadAndClearPulseCounter(pin hardware.Pin) (uint32, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.pins[pin]; !ok {
		return 0, fmt.Errorf("expander pin %d is not a counter", pin)
	}
	raw := x.counters[pin]
	x.counters[pin] = 0
	return raw, nil
}

// ReadADC implements hardware.IOExpander.
func (x *Expander) ReadADC(pin hardware.Pin) (float64, error) {
	adc, ok := x.adcPins[pin]
	if !ok {
		return 0, fmt.Errorf("expander pin %d has no ADC channel: %w", pin, hardware.ErrUnsupported)
	}
	sample, err := adc.Read()
	if err != nil {
		return 0, fmt.Errorf("read ADC for pin %d: %w", pin, err)
	}
	return float64(sample.V) / float64(physic.Volt), nil
}

// ClearInterrupt implements hardware.IOExpander. Edges are consumed as
// they are counted, so there is nothing to acknowledge.
func (x *Expander) ClearInterrupt() error {
	return nil
}

// Watch implements hardware.InterruptLine. Handlers run on the goroutine
// that counted the edge.
func (x *Expander) Watch(ctx context.Context, handler func()) error {
	x.mu.Lock()
	id := x.nextID
	x.nextID++
	x.handlers[id] = handler
	x.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-x.ctx.Done():
		}
		x.mu.Lock()
		delete(x.handlers, id)
		x.mu.Unlock()
	}()
	return nil
}

// Close stops edge counting and releases the pins.
func (x *Expander) Close() error {
	x.cancel()
	x.wg.Wait()

	x.mu.Lock()
	defer x.mu.Unlock()
	for pin, p := range x.pins {
		if err := p.Halt(); err != nil {
			x.logger.Warnf("halting %s for expander pin %d: %v", p.Name(), pin, err)
		}
	}
	for _, adc := range x.adcPins {
		adc.Halt()
	}
	return nil
}
