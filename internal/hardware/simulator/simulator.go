// Package simulator provides a software weather board: every collaborator
// the station needs, backed by in-memory state that tests can drive
// directly or that Run animates with synthetic weather.
package simulator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/chrissnell/weatherhat/internal/hardware"
	"github.com/chrissnell/weatherhat/internal/pulsecounter"
	"github.com/chrissnell/weatherhat/internal/windvane"
)

// Operations that can be made to fail with Fail.
const (
	OpTemperature = "temperature"
	OpPressure    = "pressure"
	OpHumidity    = "humidity"
	OpLux         = "lux"
	OpADC         = "adc"
	OpCounter     = "counter"
	OpClear       = "clear"
)

// Board is a simulated weather board. It is safe for concurrent use.
type Board struct {
	mu sync.Mutex

	temperature float64
	pressure    float64
	humidity    float64
	lux         float64
	vaneVolts   float64

	modulus  uint32
	counters map[hardware.Pin]uint32
	modes    map[hardware.Pin]hardware.PinMode
	outputs  map[hardware.Pin]bool
	failures map[string]error

	handlers      map[int]func()
	nextHandlerID int
	pending       bool
	clears        int
}

// NewBoard returns a board at mild indoor conditions whose switch counters
// wrap at modulus (zero selects the expander's 7-bit default).
func NewBoard(modulus uint32) *Board {
	if modulus == 0 {
		modulus = pulsecounter.DefaultModulus
	}
	return &Board{
		temperature: 20,
		pressure:    1013.25,
		humidity:    50,
		lux:         100,
		vaneVolts:   windvane.DefaultCalibration[0].Voltage,
		modulus:     modulus,
		counters:    make(map[hardware.Pin]uint32),
		modes:       make(map[hardware.Pin]hardware.PinMode),
		outputs:     make(map[hardware.Pin]bool),
		failures:    make(map[string]error),
		handlers:    make(map[int]func()),
	}
}

// Hardware returns the board wired as every station collaborator.
func (b *Board) Hardware() hardware.Board {
	return hardware.Board{
		Environment: b,
		Light:       b,
		Expander:    b,
		Interrupt:   b,
	}
}

// SetTemperature sets the die temperature in °C.
func (b *Board) SetTemperature(v float64) { b.set(&b.temperature, v) }

// SetPressure sets pressure in hPa.
func (b *Board) SetPressure(v float64) { b.set(&b.pressure, v) }

// SetHumidity sets raw humidity in %.
func (b *Board) SetHumidity(v float64) { b.set(&b.humidity, v) }

// SetLux sets illuminance.
func (b *Board) SetLux(v float64) { b.set(&b.lux, v) }

// SetVaneVoltage sets the wind vane ADC voltage.
func (b *Board) SetVaneVoltage(v float64) { b.set(&b.vaneVolts, v) }

func (b *Board) set(field *float64, v float64) {
	b.mu.Lock()
	*field = v
	b.mu.Unlock()
}

// Fail makes op return err until Recover is called.
func (b *Board) Fail(op string, err error) {
	b.mu.Lock()
	b.failures[op] = err
	b.mu.Unlock()
}

// Recover clears a failure set with Fail.
func (b *Board) Recover(op string) {
	b.mu.Lock()
	delete(b.failures, op)
	b.mu.Unlock()
}

// Mode returns the mode a pin was configured with.
func (b *Board) Mode(pin hardware.Pin) (hardware.PinMode, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.modes[pin]
	return m, ok
}

// OutputLevel returns the level last written to pin.
func (b *Board) OutputLevel(pin hardware.Pin) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outputs[pin]
}

// Raw returns the current raw switch counter value of pin.
func (b *Board) Raw(pin hardware.Pin) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counters[pin]
}

// InterruptClears returns how many times the interrupt was acknowledged.
func (b *Board) InterruptClears() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clears
}

// Pulse registers n switch closures on pin and then fires the interrupt
// line on the calling goroutine, which stands in for the interrupt context.
func (b *Board) Pulse(pin hardware.Pin, n uint32) {
	b.PulseSilently(pin, n)
	b.Fire()
}

// PulseSilently registers n switch closures without raising the interrupt,
// as if interrupts had been missed.
func (b *Board) PulseSilently(pin hardware.Pin, n uint32) {
	b.mu.Lock()
	b.counters[pin] = (b.counters[pin] + n) % b.modulus
	b.pending = true
	b.mu.Unlock()
}

// SetRaw forces the raw counter of pin, for replaying recorded sequences.
// The interrupt is not fired.
func (b *Board) SetRaw(pin hardware.Pin, raw uint32) {
	b.mu.Lock()
	b.counters[pin] = raw % b.modulus
	b.pending = true
	b.mu.Unlock()
}

// Fire invokes every registered interrupt handler.
func (b *Board) Fire() {
	b.mu.Lock()
	handlers := make([]func(), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}

// Temperature implements hardware.EnvironmentSensor.
func (b *Board) Temperature() (float64, error) { return b.read(OpTemperature, &b.temperature) }

// Pressure implements hardware.EnvironmentSensor.
func (b *Board) Pressure() (float64, error) { return b.read(OpPressure, &b.pressure) }

// Humidity implements hardware.EnvironmentSensor.
func (b *Board) Humidity() (float64, error) { return b.read(OpHumidity, &b.humidity) }

// Lux implements hardware.LightSensor.
func (b *Board) Lux() (float64, error) { return b.read(OpLux, &b.lux) }

func (b *Board) read(op string, field *float64) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failures[op]; err != nil {
		return 0, err
	}
	return *field, nil
}

// ConfigurePin implements hardware.IOExpander.
func (b *Board) ConfigurePin(pin hardware.Pin, mode hardware.PinMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modes[pin] = mode
	return nil
}

// Output implements hardware.IOExpander.
func (b *Board) Output(pin hardware.Pin, high bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.modes[pin] != hardware.ModeOutput {
		return fmt.Errorf("pin %d is not an output", pin)
	}
	b.outputs[pin] = high
	return nil
}

// ReadPulseCounter implements hardware.IOExpander.
func (b *Board) ReadPulseCounter(pin hardware.Pin) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failures[OpCounter]; err != nil {
		return 0, err
	}
	return b.counters[pin], nil
}

// ClearPulseCounter implements hardware.IOExpander.
func (b *Board) ClearPulseCounter(pin hardware.Pin) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failures[OpClear]; err != nil {
		return err
	}
	b.counters[pin] = 0
	return nil
}

// ReadAndClearPulseCounter implements hardware.CounterDrainer.
func (b *Board) ReadAndClearPulseCounter(pin hardware.Pin) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, op := range []string{OpCounter, OpClear} {
		if err := b.failures[op]; err != nil {
			return 0, err
		}
	}
	raw := b.counters[pin]
	b.counters[pin] = 0
	return raw, nil
}

// ReadADC implements hardware.IOExpander.
func (b *Board) ReadADC(pin hardware.Pin) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failures[OpADC]; err != nil {
		return 0, err
	}
	if b.modes[pin] != hardware.ModeADC {
		return 0, fmt.Errorf("pin %d is not configured for ADC", pin)
	}
	return b.vaneVolts, nil
}

// ClearInterrupt implements hardware.IOExpander.
func (b *Board) ClearInterrupt() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = false
	b.clears++
	return nil
}

// Watch implements hardware.InterruptLine. The handler stays registered
// until ctx is done.
func (b *Board) Watch(ctx context.Context, handler func()) error {
	b.mu.Lock()
	id := b.nextHandlerID
	b.nextHandlerID++
	b.handlers[id] = handler
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()
	return nil
}

// Run animates the board with synthetic weather until ctx is done: a daily
// temperature swing, humidity that tracks it, a wandering vane, anemometer
// pulses and the occasional shower.
func (b *Board) Run(ctx context.Context, step time.Duration) {
	if step <= 0 {
		step = 250 * time.Millisecond
	}
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	const baseTemp, baseHumidity, basePressure = 18.0, 60.0, 1013.0
	vaneIdx := 0
	var windCarry, rainCarry float64

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			hour := float64(now.Hour()) + float64(now.Minute())/60
			daily := 6 * math.Sin(2*math.Pi*(hour-9)/24)

			temp := baseTemp + daily + (rng.Float64()-0.5)*0.4
			b.SetTemperature(temp)
			b.SetHumidity(math.Max(10, math.Min(95, baseHumidity-(temp-baseTemp)*2)))
			b.SetPressure(basePressure + (rng.Float64()-0.5)*0.6)
			b.SetLux(math.Max(0, 20000*math.Sin(math.Pi*(hour-6)/12)))

			if rng.Float64() < 0.05 {
				vaneIdx = (vaneIdx + len(windvane.DefaultCalibration) + rng.Intn(3) - 1) % len(windvane.DefaultCalibration)
			}
			b.SetVaneVoltage(windvane.DefaultCalibration[vaneIdx].Voltage + (rng.Float64()-0.5)*0.05)

			// Roughly 2-12 pulses/s, two pulses per cup rotation.
			windCarry += (2 + rng.Float64()*10) * step.Seconds()
			if n := math.Floor(windCarry); n > 0 {
				windCarry -= n
				b.Pulse(hardware.PinAnemoCount, uint32(n))
			}

			if hour < 6 || rng.Float64() < 0.01 {
				rainCarry += 0.05 * step.Seconds()
			}
			if n := math.Floor(rainCarry); n > 0 {
				rainCarry -= n
				b.Pulse(hardware.PinRainCounter, uint32(n))
			}
		}
	}
}
