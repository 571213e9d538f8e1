package weatherhat

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/chrissnell/weatherhat/internal/clock"
	"github.com/chrissnell/weatherhat/internal/hardware"
	"github.com/chrissnell/weatherhat/internal/hardware/periph"
	"github.com/chrissnell/weatherhat/internal/hardware/simulator"
	"github.com/chrissnell/weatherhat/internal/types"
	"github.com/chrissnell/weatherhat/internal/weatherstations"
	"github.com/chrissnell/weatherhat/pkg/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	station *Station
	sim     *simulator.Board
	clock   *clock.Manual
}

func testConfig() config.DeviceData {
	offset := 5.0
	return config.DeviceData{
		Name:              "garden",
		Backend:           config.BackendSimulator,
		TemperatureOffset: &offset,
		SampleInterval:    "5s",
		PollInterval:      "1h",
		HistoryDepth:      10,
	}
}

func newFixture(t *testing.T, cfg config.DeviceData, logger *zap.SugaredLogger, opts ...Option) fixture {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t).Sugar()
	}

	var wg sync.WaitGroup
	sim := simulator.NewBoard(cfg.CounterModulus)
	clk := clock.NewManual(epoch)
	s, err := New(context.Background(), cfg, sim.Hardware(), logger, append([]Option{WithClock(clk), WithWaitGroup(&wg)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.StopWeatherStation()
		wg.Wait()
	})

	return fixture{station: s, sim: sim, clock: clk}
}

func TestBoardSetup(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	want := map[hardware.Pin]hardware.PinMode{
		hardware.PinWindVane:    hardware.ModeADC,
		hardware.PinAnemoDrive:  hardware.ModeOutput,
		hardware.PinAnemoCount:  hardware.ModeCounter,
		hardware.PinRainGuard:   hardware.ModeInputPullUp,
		hardware.PinRainDrive:   hardware.ModeOutput,
		hardware.PinRainCounter: hardware.ModeCounter,
		hardware.PinRainCommon:  hardware.ModeInputPullUp,
	}
	for pin, mode := range want {
		got, ok := f.sim.Mode(pin)
		require.True(t, ok, "pin %d not configured", pin)
		require.Equal(t, mode, got, "pin %d", pin)
	}

	require.False(t, f.sim.OutputLevel(hardware.PinAnemoDrive))
	require.False(t, f.sim.OutputLevel(hardware.PinRainDrive))
	require.Equal(t, 1, f.sim.InterruptClears())
	require.Equal(t, "garden", f.station.StationName())
	require.Equal(t, 5*time.Second, f.station.SampleInterval())
	require.NotEmpty(t, f.station.InstanceID())
}

func TestNewRejectsBadConfig(t *testing.T) {
	sim := simulator.NewBoard(0)
	logger := zaptest.NewLogger(t).Sugar()

	cfg := testConfig()
	cfg.Name = ""
	_, err := New(context.Background(), cfg, sim.Hardware(), logger)
	require.Error(t, err)

	cfg = testConfig()
	cfg.PollInterval = "0s"
	_, err = New(context.Background(), cfg, sim.Hardware(), logger)
	require.Error(t, err)
}

func TestNewFailsWhenBoardSetupFails(t *testing.T) {
	sim := simulator.NewBoard(0)
	boom := errors.New("expander not responding")
	sim.Fail(simulator.OpClear, boom)

	_, err := New(context.Background(), testConfig(), sim.Hardware(), zaptest.NewLogger(t).Sugar())
	require.ErrorIs(t, err, boom)
}

func TestHumidityCompensation(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.sim.SetTemperature(20)
	f.sim.SetHumidity(60)

	require.NoError(t, f.station.Update(f.station.SampleInterval()))

	temp, temps := f.station.Temperature()
	require.InDelta(t, 25.0, temp, 1e-9)
	require.Equal(t, 1, temps.Len())

	devTemp, _ := f.station.DeviceTemperature()
	require.InDelta(t, 20.0, devTemp, 1e-9)

	dew, _ := f.station.Dewpoint()
	require.InDelta(t, 12.0, dew, 1e-9)

	rh, _ := f.station.RelativeHumidity()
	require.InDelta(t, 15.0, rh, 1e-9)

	hum, _ := f.station.Humidity()
	require.InDelta(t, 60.0, hum, 1e-9)
}

func TestDerivedValueHelpers(t *testing.T) {
	tests := []struct {
		name        string
		temperature float64
		dewpoint    float64
		want        float64
	}{
		{name: "in range", temperature: 25, dewpoint: 12, want: 15},
		{name: "saturated", temperature: 10, dewpoint: 10, want: 80},
		{name: "clamped low", temperature: 40, dewpoint: 0, want: 0},
		{name: "clamped high", temperature: 0, dewpoint: 10, want: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, CompensateHumidity(tt.temperature, tt.dewpoint), 1e-9)
		})
	}

	require.InDelta(t, 12.0, Dewpoint(20, 60), 1e-9)
	require.InDelta(t, 29.92, HPAToInches(1013.25), 0.01)
	require.InDelta(t, 77.0, CelsiusToFahrenheit(25), 1e-9)
}

func TestOffsetChangeAppliesOnNextUpdate(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.sim.SetTemperature(20)

	require.NoError(t, f.station.Update(time.Minute))
	f.station.SetTemperatureOffset(-2)
	require.Equal(t, -2.0, f.station.TemperatureOffset())

	temp, _ := f.station.Temperature()
	require.InDelta(t, 25.0, temp, 1e-9, "unchanged until the next update")

	require.NoError(t, f.station.Update(time.Minute))
	temp, _ = f.station.Temperature()
	require.InDelta(t, 18.0, temp, 1e-9)
}

func TestIntervalGating(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	s := f.station
	_, speeds := s.WindSpeed()
	_, rates := s.RainRate()

	f.sim.PulseSilently(hardware.PinAnemoCount, 10)
	s.HandleInterrupt()

	for _, at := range []time.Duration{time.Second, 2 * time.Second} {
		f.clock.Set(epoch.Add(at))
		require.NoError(t, s.Update(5*time.Second))
		require.Zero(t, speeds.Len(), "no wind sample before the interval elapses")
		require.Zero(t, rates.Len())
		require.Equal(t, uint64(10), s.wind.Accumulated(), "counter left alone")
		require.Equal(t, epoch, s.wind.IntervalStart())
	}

	f.clock.Set(epoch.Add(5 * time.Second))
	require.NoError(t, s.Update(5*time.Second))
	require.Equal(t, 1, speeds.Len())
	require.Equal(t, 1, rates.Len())
	require.Zero(t, s.wind.Accumulated())
	require.Equal(t, epoch.Add(5*time.Second), s.wind.IntervalStart())
	require.Zero(t, f.sim.Raw(hardware.PinAnemoCount), "hardware counter cleared")

	// Polled quantities were sampled on every call.
	_, temps := s.Temperature()
	require.Equal(t, 3, temps.Len())
}

func TestUpdateWithoutElapsedTimeDoesNotDrain(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	_, speeds := f.station.WindSpeed()

	require.NoError(t, f.station.Update(0))
	require.NoError(t, f.station.Update(0))
	require.Zero(t, speeds.Len())
}

func TestWindAndRainFigures(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	s := f.station

	f.clock.Advance(time.Second)
	f.sim.PulseSilently(hardware.PinAnemoCount, 6)
	f.sim.PulseSilently(hardware.PinRainCounter, 2)
	s.HandleInterrupt()

	// Ticks that never raised an interrupt are still picked up by the drain.
	f.sim.PulseSilently(hardware.PinAnemoCount, 4)
	f.sim.PulseSilently(hardware.PinRainCounter, 1)

	f.clock.Set(epoch.Add(5 * time.Second))
	require.NoError(t, s.Update(5*time.Second))

	circumference := 2 * math.Pi * config.DefaultWindWheelRadiusCM
	wantSpeed := 10.0 / 5 / 2 * circumference * config.DefaultWindCalibrationFactor / 100
	speed, speeds := s.WindSpeed()
	require.InDelta(t, wantSpeed, speed, 1e-9)
	require.InDelta(t, wantSpeed, speeds.Average(0), 1e-9)

	rate, _ := s.RainRate()
	require.InDelta(t, 3.0/5*config.DefaultRainMMPerTick, rate, 1e-9)

	total, totals := s.RainTotal()
	require.InDelta(t, 3*config.DefaultRainMMPerTick, total, 1e-9)

	// Rain total is cumulative across intervals.
	f.sim.Pulse(hardware.PinRainCounter, 2)
	f.clock.Set(epoch.Add(10 * time.Second))
	require.NoError(t, s.Update(5*time.Second))
	total, _ = s.RainTotal()
	require.InDelta(t, 5*config.DefaultRainMMPerTick, total, 1e-9)
	require.Equal(t, 2, totals.Len())

	speed, _ = s.WindSpeed()
	require.Zero(t, speed, "calm interval")
}

func TestCounterWrapBetweenInterrupts(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	s := f.station

	f.sim.PulseSilently(hardware.PinAnemoCount, 100)
	s.HandleInterrupt()
	f.sim.PulseSilently(hardware.PinAnemoCount, 100) // raw wraps to 72
	s.HandleInterrupt()
	require.Equal(t, uint32(72), f.sim.Raw(hardware.PinAnemoCount))
	require.Equal(t, uint64(200), s.wind.Accumulated())

	f.clock.Set(epoch.Add(5 * time.Second))
	require.NoError(t, s.Update(5*time.Second))

	circumference := 2 * math.Pi * config.DefaultWindWheelRadiusCM
	speed, _ := s.WindSpeed()
	require.InDelta(t, 200.0/5/2*circumference*config.DefaultWindCalibrationFactor/100, speed, 1e-9)
}

func TestOverflowAmbiguityIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	cfg := testConfig()
	cfg.MaxWindSpeed = 10 // wraps in roughly 3.3s
	f := newFixture(t, cfg, zap.New(core).Sugar())

	f.clock.Advance(time.Second)
	f.sim.PulseSilently(hardware.PinAnemoCount, 5)
	f.station.HandleInterrupt()
	require.Zero(t, logs.FilterMessageSnippet("wrapped").Len())

	// A single tick after a calm spell is not suspicious.
	f.clock.Advance(10 * time.Second)
	f.sim.PulseSilently(hardware.PinAnemoCount, 1)
	f.station.HandleInterrupt()
	require.Zero(t, logs.FilterMessageSnippet("wrapped").Len())

	f.clock.Advance(10 * time.Second)
	f.sim.PulseSilently(hardware.PinAnemoCount, 70)
	f.station.HandleInterrupt()
	require.Equal(t, 1, logs.FilterMessageSnippet("wrapped").Len())

	// The ticks are still counted.
	require.Equal(t, uint64(76), f.station.wind.Accumulated())
}

func TestReadFailureIsContained(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	s := f.station
	f.sim.SetPressure(1000)
	require.NoError(t, s.Update(time.Minute))

	boom := errors.New("i2c timeout")
	f.sim.SetPressure(990)
	f.sim.SetTemperature(21)
	f.sim.Fail(simulator.OpPressure, boom)
	f.clock.Advance(time.Second)

	err := s.Update(time.Minute)
	require.ErrorIs(t, err, ErrSensorRead)
	require.ErrorIs(t, err, boom)

	var readErr *SensorReadError
	require.ErrorAs(t, err, &readErr)
	require.Equal(t, QuantityPressure, readErr.Quantity)

	pressure, pressures := s.Pressure()
	require.Equal(t, 1000.0, pressure, "previous value kept")
	require.Equal(t, 1, pressures.Len())

	temp, temps := s.Temperature()
	require.InDelta(t, 26.0, temp, 1e-9, "other quantities still updated")
	require.Equal(t, 2, temps.Len())

	f.sim.Recover(simulator.OpPressure)
	require.NoError(t, s.Update(time.Minute))
	pressure, _ = s.Pressure()
	require.Equal(t, 990.0, pressure)
}

func TestHumidityFailureSkipsDerivedValues(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.sim.Fail(simulator.OpHumidity, errors.New("crc mismatch"))

	err := f.station.Update(time.Minute)
	require.ErrorIs(t, err, ErrSensorRead)

	_, dews := f.station.Dewpoint()
	_, rhs := f.station.RelativeHumidity()
	require.Zero(t, dews.Len())
	require.Zero(t, rhs.Len())
}

func TestCounterFailureIsContained(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.sim.Fail(simulator.OpCounter, errors.New("bus busy"))

	// The interrupt path only logs.
	f.station.HandleInterrupt()

	f.clock.Set(epoch.Add(5 * time.Second))
	err := f.station.Update(5 * time.Second)

	var readErr *SensorReadError
	require.ErrorAs(t, err, &readErr)
	require.Contains(t, []string{QuantityWindSpeed, QuantityRainRate}, readErr.Quantity)

	// The interval still restarted and produced (zero) figures.
	_, speeds := f.station.WindSpeed()
	require.Equal(t, 1, speeds.Len())
	_, temps := f.station.Temperature()
	require.Equal(t, 1, temps.Len())
}

func TestWindDirection(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	s := f.station

	f.sim.SetVaneVoltage(2.0)
	require.NoError(t, s.Update(time.Minute))
	dir, _ := s.WindDirection()
	require.Equal(t, 45.0, dir)

	f.sim.SetVaneVoltage(2.95)
	require.NoError(t, s.Update(time.Minute))
	dir, dirs := s.WindDirection()
	require.Equal(t, 90.0, dir)
	require.InDelta(t, 67.5, dirs.Average(0), 1e-9)

	snap := s.Snapshot()
	require.Equal(t, 90.0, snap.WindDirection)
	require.InDelta(t, 67.5, snap.WindDirectionAverage, 1e-9)
	require.Equal(t, "North East", snap.WindCardinal, "ties go to the first bucket")
}

func TestCircularWindAverageOption(t *testing.T) {
	cfg := testConfig()
	cfg.CircularWindAverage = true
	f := newFixture(t, cfg, nil)

	// 0.9V is north, 0.6V is north west.
	for _, v := range []float64{0.9, 0.9, 0.6} {
		f.sim.SetVaneVoltage(v)
		require.NoError(t, f.station.Update(time.Minute))
	}

	want := math.Atan2(-math.Sqrt2/2, 2+math.Sqrt2/2)*180/math.Pi + 360
	snap := f.station.Snapshot()
	require.InDelta(t, want, snap.WindDirectionAverage, 1e-6)
	require.Equal(t, "North West", snap.WindCardinal)

	_, dirs := f.station.WindDirection()
	require.InDelta(t, 105.0, dirs.Buffer.Average(0), 1e-9, "arithmetic mean is still available")
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.sim.SetTemperature(20)
	f.sim.SetHumidity(60)
	f.sim.SetPressure(1005)
	f.sim.SetLux(321)
	f.clock.Advance(3 * time.Second)

	require.NoError(t, f.station.Update(time.Minute))
	snap := f.station.Snapshot()

	require.Equal(t, epoch.Add(3*time.Second), snap.Timestamp)
	require.Equal(t, "garden", snap.StationName)
	require.Equal(t, StationType, snap.StationType)
	require.Equal(t, f.station.InstanceID(), snap.InstanceID)
	require.InDelta(t, 25.0, snap.Temperature, 1e-9)
	require.InDelta(t, 20.0, snap.DeviceTemperature, 1e-9)
	require.Equal(t, 1005.0, snap.Pressure)
	require.Equal(t, 321.0, snap.Lux)
	require.InDelta(t, 15.0, snap.RelativeHumidity, 1e-9)
	require.InDelta(t, 77.0, snap.TemperatureF(), 1e-9)
}

func TestQuantityLookup(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	require.NoError(t, f.station.Update(time.Minute))

	for _, name := range Quantities() {
		buf, ok := f.station.Quantity(name)
		require.True(t, ok, name)
		require.NotNil(t, buf, name)
	}

	temps, _ := f.station.Quantity(QuantityTemperature)
	require.Equal(t, 1, temps.Len())

	_, ok := f.station.Quantity("snow_depth")
	require.False(t, ok)
}

func TestCapabilities(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	caps := f.station.Capabilities()
	for _, c := range []weatherstations.Capability{weatherstations.Environment, weatherstations.Light, weatherstations.Wind, weatherstations.Rain} {
		require.True(t, caps.Has(c), c.String())
	}

	sim := simulator.NewBoard(0)
	envOnly := hardware.Board{Environment: sim}
	s, err := New(context.Background(), testConfig(), envOnly, zaptest.NewLogger(t).Sugar(), WithClock(clock.NewManual(epoch)))
	require.NoError(t, err)
	t.Cleanup(func() { s.StopWeatherStation() })

	require.Equal(t, 1, s.Capabilities().Count())
	require.True(t, s.Capabilities().Has(weatherstations.Environment))

	// Without an expander there is nothing to drain.
	require.NoError(t, s.Update(0))
	_, speeds := s.WindSpeed()
	require.Zero(t, speeds.Len())
	_, luxes := s.Lux()
	require.Zero(t, luxes.Len())
}

func TestInterruptLineDrivesCounters(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	require.NoError(t, f.station.StartWeatherStation())

	f.sim.Pulse(hardware.PinAnemoCount, 6)
	f.sim.Pulse(hardware.PinRainCounter, 1)

	f.station.bus.Lock()
	wind, rain := f.station.wind.Accumulated(), f.station.rain.Accumulated()
	f.station.bus.Unlock()

	require.Equal(t, uint64(6), wind)
	require.Equal(t, uint64(1), rain)
	require.Equal(t, 3, f.sim.InterruptClears())
}

func TestPollingSendsReadings(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = "10ms"

	distributor := make(chan types.Reading, 10)
	f := newFixture(t, cfg, nil, WithDistributor(distributor))
	f.sim.SetTemperature(20)

	require.NoError(t, f.station.StartWeatherStation())

	select {
	case r := <-distributor:
		require.Equal(t, "garden", r.StationName)
		require.InDelta(t, 25.0, r.Temperature, 1e-9)
	case <-time.After(5 * time.Second):
		t.Fatal("no reading was distributed")
	}
}

func TestBoardWithoutVaneADC(t *testing.T) {
	anemo := &gpiotest.Pin{N: "WH_STATION_ANEMO", Num: 9101, EdgesChan: make(chan gpio.Level)}
	rain := &gpiotest.Pin{N: "WH_STATION_RAIN", Num: 9102, EdgesChan: make(chan gpio.Level)}
	for _, p := range []*gpiotest.Pin{anemo, rain} {
		require.NoError(t, gpioreg.Register(p))
		name := p.N
		t.Cleanup(func() { gpioreg.Unregister(name) })
	}

	x := periph.NewExpander(map[hardware.Pin]string{
		hardware.PinAnemoCount:  anemo.N,
		hardware.PinRainCounter: rain.N,
	}, nil, 0, zap.NewNop().Sugar())
	t.Cleanup(func() { x.Close() })

	var wg sync.WaitGroup
	clk := clock.NewManual(epoch)
	s, err := New(context.Background(), testConfig(), hardware.Board{Expander: x, Interrupt: x},
		zaptest.NewLogger(t).Sugar(), WithClock(clk), WithWaitGroup(&wg))
	require.NoError(t, err, "a missing vane ADC must not stop the switches")
	t.Cleanup(func() {
		s.StopWeatherStation()
		wg.Wait()
	})

	caps := s.Capabilities()
	require.True(t, caps.Has(weatherstations.Wind))
	require.True(t, caps.Has(weatherstations.Rain))

	for range 4 {
		anemo.EdgesChan <- gpio.Low
	}
	rain.EdgesChan <- gpio.Low
	require.Eventually(t, func() bool {
		a, _ := x.ReadPulseCounter(hardware.PinAnemoCount)
		r, _ := x.ReadPulseCounter(hardware.PinRainCounter)
		return a == 4 && r == 1
	}, 5*time.Second, time.Millisecond)

	clk.Set(epoch.Add(5 * time.Second))
	require.NoError(t, s.Update(5*time.Second))

	_, dirs := s.WindDirection()
	require.Zero(t, dirs.Len(), "no wind direction without an ADC")

	circumference := 2 * math.Pi * config.DefaultWindWheelRadiusCM
	speed, _ := s.WindSpeed()
	require.InDelta(t, 4.0/5/2*circumference*config.DefaultWindCalibrationFactor/100, speed, 1e-9)
	total, _ := s.RainTotal()
	require.InDelta(t, config.DefaultRainMMPerTick, total, 1e-9)
}

func TestInterruptsRacingTheDrainLoseNoTicks(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	require.NoError(t, f.station.StartWeatherStation())

	const pulses = 5000
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range pulses {
			f.sim.Pulse(hardware.PinRainCounter, 1)
		}
	}()

	running := true
	for running {
		select {
		case <-done:
			running = false
		default:
		}
		f.clock.Advance(5 * time.Second)
		require.NoError(t, f.station.Update(5*time.Second))
	}

	total, _ := f.station.RainTotal()
	require.Equal(t, pulses, int(math.Round(total/config.DefaultRainMMPerTick)))
}

// splitExpander hides the simulator's read-and-clear so the drain has to
// read, clear and resync in separate steps.
type splitExpander struct {
	hardware.IOExpander
}

func TestDrainWithSeparateReadAndClear(t *testing.T) {
	sim := simulator.NewBoard(0)
	board := sim.Hardware()
	board.Expander = splitExpander{board.Expander}
	_, ok := board.Expander.(hardware.CounterDrainer)
	require.False(t, ok)

	var wg sync.WaitGroup
	clk := clock.NewManual(epoch)
	s, err := New(context.Background(), testConfig(), board, zaptest.NewLogger(t).Sugar(), WithClock(clk), WithWaitGroup(&wg))
	require.NoError(t, err)
	t.Cleanup(func() {
		s.StopWeatherStation()
		wg.Wait()
	})

	sim.PulseSilently(hardware.PinRainCounter, 3)
	clk.Set(epoch.Add(5 * time.Second))
	require.NoError(t, s.Update(5*time.Second))

	total, _ := s.RainTotal()
	require.InDelta(t, 3*config.DefaultRainMMPerTick, total, 1e-9)
	require.Zero(t, sim.Raw(hardware.PinRainCounter))
	require.Zero(t, s.rain.LastRaw(), "resynced to the cleared counter")
}
