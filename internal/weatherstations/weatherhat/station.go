// Package weatherhat drives a Weather HAT style board: a combined
// temperature/pressure/humidity sensor, a light sensor, and an I/O expander
// carrying the wind vane ADC plus the anemometer and rain gauge switch
// counters.
//
// The station reconciles two acquisition paths. Polled sensors are read on
// every Update. The switch counters are advanced from the expander's
// interrupt line by HandleInterrupt and drained into wind speed and rain
// figures once per sample interval. A single bus lock serialises both paths.
package weatherhat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chrissnell/weatherhat/internal/clock"
	"github.com/chrissnell/weatherhat/internal/hardware"
	"github.com/chrissnell/weatherhat/internal/history"
	"github.com/chrissnell/weatherhat/internal/pulsecounter"
	"github.com/chrissnell/weatherhat/internal/types"
	"github.com/chrissnell/weatherhat/internal/weatherstations"
	"github.com/chrissnell/weatherhat/internal/windvane"
	"github.com/chrissnell/weatherhat/pkg/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StationType is the device type handled by this package.
const StationType = "weatherhat"

// Station holds the board collaborators, the pulse counters and the
// per-quantity histories of one weather board.
type Station struct {
	ctx         context.Context
	cancel      context.CancelFunc
	wg          *sync.WaitGroup
	config      config.DeviceData
	board       hardware.Board
	distributor chan types.Reading
	logger      *zap.SugaredLogger
	clock       clock.Clock
	instanceID  uuid.UUID
	decoder     *windvane.Decoder

	sampleInterval time.Duration
	pollInterval   time.Duration
	circumference  float64 // anemometer cup path, cm

	// bus serialises hardware access with the counters it feeds.
	bus  sync.Mutex
	wind *pulsecounter.Counter
	rain *pulsecounter.Counter
	vane bool // false when the expander has no ADC for the wind vane

	mu      sync.RWMutex
	offset  float64
	current values

	temperature       *history.Buffer[float64]
	deviceTemperature *history.Buffer[float64]
	pressure          *history.Buffer[float64]
	humidity          *history.Buffer[float64]
	relativeHumidity  *history.Buffer[float64]
	dewpoint          *history.Buffer[float64]
	lux               *history.Buffer[float64]
	windSpeed         *history.SpeedHistory
	windDirection     *history.DirectionHistory
	rainRate          *history.Buffer[float64]
	rainTotal         *history.Buffer[float64]
}

// values are the most recent in-memory figures. A quantity whose read fails
// keeps its previous value.
type values struct {
	temperature       float64
	deviceTemperature float64
	pressure          float64
	humidity          float64
	relativeHumidity  float64
	dewpoint          float64
	lux               float64
	windSpeed         float64
	windDirection     float64
	rainRate          float64
	rainTotal         float64
	updated           time.Time
}

// Option configures a Station.
type Option func(*Station)

// WithClock sets the station's time source.
func WithClock(c clock.Clock) Option {
	return func(s *Station) {
		s.clock = c
	}
}

// WithDistributor makes the running station send a Snapshot to ch after
// every update.
func WithDistributor(ch chan types.Reading) Option {
	return func(s *Station) {
		s.distributor = ch
	}
}

// WithWaitGroup registers the station's goroutines with wg.
func WithWaitGroup(wg *sync.WaitGroup) Option {
	return func(s *Station) {
		s.wg = wg
	}
}

// WithDecoder replaces the default wind vane calibration.
func WithDecoder(d *windvane.Decoder) Option {
	return func(s *Station) {
		s.decoder = d
	}
}

// New creates a station over board and prepares the board's pins. Any
// collaborator of board may be nil; the matching quantities are then never
// sampled. The station runs until ctx is done or StopWeatherStation is called.
func New(ctx context.Context, cfg config.DeviceData, board hardware.Board, logger *zap.SugaredLogger, opts ...Option) (*Station, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sampleInterval, pollInterval, err := cfg.Intervals()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Station{
		ctx:            ctx,
		cancel:         cancel,
		wg:             &sync.WaitGroup{},
		config:         cfg,
		board:          board,
		logger:         logger,
		clock:          clock.Real{},
		instanceID:     uuid.New(),
		decoder:        windvane.NewDecoder(windvane.DefaultCalibration),
		sampleInterval: sampleInterval,
		pollInterval:   pollInterval,
		circumference:  cfg.WindWheelRadiusCM * 2 * math.Pi,
		offset:         cfg.Offset(),
	}
	for _, opt := range opts {
		opt(s)
	}

	bufOpts := []history.Option{history.WithClock(s.clock)}
	depth := cfg.HistoryDepth
	s.temperature = history.New[float64](depth, bufOpts...)
	s.deviceTemperature = history.New[float64](depth, bufOpts...)
	s.pressure = history.New[float64](depth, bufOpts...)
	s.humidity = history.New[float64](depth, bufOpts...)
	s.relativeHumidity = history.New[float64](depth, bufOpts...)
	s.dewpoint = history.New[float64](depth, bufOpts...)
	s.lux = history.New[float64](depth, bufOpts...)
	s.windSpeed = history.NewSpeedHistory(depth, bufOpts...)
	var dirOpts []history.DirectionOption
	if cfg.CircularWindAverage {
		dirOpts = append(dirOpts, history.WithCircularMean())
	}
	s.windDirection = history.NewDirectionHistory(depth, bufOpts, dirOpts...)
	s.rainRate = history.New[float64](depth, bufOpts...)
	s.rainTotal = history.New[float64](depth, bufOpts...)

	now := s.clock.Now()
	s.wind = pulsecounter.New(cfg.CounterModulus, now, pulsecounter.WithMinTickInterval(s.windMinTick()))
	s.rain = pulsecounter.New(cfg.CounterModulus, now, pulsecounter.WithMinTickInterval(s.rainMinTick()))

	if err := s.setupBoard(); err != nil {
		cancel()
		return nil, fmt.Errorf("station [%s] board setup: %w", cfg.Name, err)
	}
	return s, nil
}

// windMinTick is the shortest time between anemometer pulses at the
// configured maximum wind speed. Zero when no maximum is configured.
func (s *Station) windMinTick() time.Duration {
	if s.config.MaxWindSpeed <= 0 || s.circumference <= 0 || s.config.WindCalibrationFactor <= 0 {
		return 0
	}
	// Two pulses per rotation.
	pulsesPerSecond := 2 * s.config.MaxWindSpeed * 100 / (s.circumference * s.config.WindCalibrationFactor)
	return time.Duration(float64(time.Second) / pulsesPerSecond)
}

// rainMinTick is the shortest time between bucket tips at the configured
// maximum rain rate. Zero when no maximum is configured.
func (s *Station) rainMinTick() time.Duration {
	if s.config.MaxRainRate <= 0 || s.config.RainMMPerTick <= 0 {
		return 0
	}
	ticksPerSecond := s.config.MaxRainRate / 3600 / s.config.RainMMPerTick
	return time.Duration(float64(time.Second) / ticksPerSecond)
}

// setupBoard puts the expander pins into the modes the sensors need, clears
// the switch counters and restarts both counting intervals.
func (s *Station) setupBoard() error {
	x := s.board.Expander
	if x == nil {
		return nil
	}

	s.bus.Lock()
	defer s.bus.Unlock()

	// Without an ADC the switches still count; only wind direction is lost.
	switch err := x.ConfigurePin(hardware.PinWindVane, hardware.ModeADC); {
	case err == nil:
		s.vane = true
	case errors.Is(err, hardware.ErrUnsupported):
		s.logger.Warnw("wind vane unavailable, wind direction will not be reported", "station", s.config.Name, "error", err)
	default:
		return fmt.Errorf("configure pin %d as %v: %w", hardware.PinWindVane, hardware.ModeADC, err)
	}

	steps := []struct {
		pin  hardware.Pin
		mode hardware.PinMode
	}{
		{hardware.PinAnemoDrive, hardware.ModeOutput},
		{hardware.PinAnemoCount, hardware.ModeCounter},
		{hardware.PinRainGuard, hardware.ModeInputPullUp},
		{hardware.PinRainDrive, hardware.ModeOutput},
		{hardware.PinRainCounter, hardware.ModeCounter},
		{hardware.PinRainCommon, hardware.ModeInputPullUp},
	}
	for _, step := range steps {
		if err := x.ConfigurePin(step.pin, step.mode); err != nil {
			return fmt.Errorf("configure pin %d as %v: %w", step.pin, step.mode, err)
		}
	}

	// The switches close to the drive pins, which are held low.
	for _, pin := range []hardware.Pin{hardware.PinAnemoDrive, hardware.PinRainDrive} {
		if err := x.Output(pin, false); err != nil {
			return fmt.Errorf("drive pin %d low: %w", pin, err)
		}
	}

	for _, pin := range []hardware.Pin{hardware.PinAnemoCount, hardware.PinRainCounter} {
		if err := x.ClearPulseCounter(pin); err != nil {
			return fmt.Errorf("clear counter on pin %d: %w", pin, err)
		}
	}
	if err := x.ClearInterrupt(); err != nil {
		return fmt.Errorf("clear interrupt: %w", err)
	}

	now := s.clock.Now()
	s.wind.Drain(0, now)
	s.rain.Drain(0, now)
	return nil
}

// StationName returns the configured device name.
func (s *Station) StationName() string {
	return s.config.Name
}

// InstanceID identifies this run of the station in telemetry.
func (s *Station) InstanceID() string {
	return s.instanceID.String()
}

// Capabilities reports which sensors the board provides.
func (s *Station) Capabilities() weatherstations.Capabilities {
	var caps weatherstations.Capabilities
	if s.board.Environment != nil {
		caps.Add(weatherstations.Environment)
	}
	if s.board.Light != nil {
		caps.Add(weatherstations.Light)
	}
	if s.board.Expander != nil {
		caps.Add(weatherstations.Wind)
		caps.Add(weatherstations.Rain)
	}
	return caps
}

// SampleInterval is the interval wind and rain are drained over.
func (s *Station) SampleInterval() time.Duration {
	return s.sampleInterval
}

// StartWeatherStation subscribes to the interrupt line and launches the
// polling loop.
func (s *Station) StartWeatherStation() error {
	s.logger.Infof("Starting Weather HAT station [%v] (%v)...", s.config.Name, s.Capabilities())

	if s.board.Interrupt != nil {
		if err := s.board.Interrupt.Watch(s.ctx, s.HandleInterrupt); err != nil {
			return fmt.Errorf("station [%s] watch interrupt line: %w", s.config.Name, err)
		}
	}

	s.wg.Add(1)
	go s.poll()
	return nil
}

// StopWeatherStation stops polling and releases the board.
func (s *Station) StopWeatherStation() error {
	s.logger.Infof("Stopping Weather HAT station [%v]", s.config.Name)
	s.cancel()
	// Not under the bus lock: closing the expander waits for edge handlers
	// that may themselves be waiting on it.
	if s.board.Close != nil {
		return s.board.Close()
	}
	return nil
}

func (s *Station) poll() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Infof("cancellation request received. Stopping station [%v] polling", s.config.Name)
			return
		case <-ticker.C:
			// Read failures are logged per quantity by Update.
			if err := s.Update(s.sampleInterval); err != nil {
				s.logger.Debugf("station [%v] update: %v", s.config.Name, err)
			}

			if s.distributor == nil {
				continue
			}
			select {
			case s.distributor <- s.Snapshot():
			case <-s.ctx.Done():
				return
			}
		}
	}
}
