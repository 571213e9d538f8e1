package weatherhat

import (
	"errors"
	"fmt"
	"time"

	"github.com/chrissnell/weatherhat/internal/hardware"
	"github.com/chrissnell/weatherhat/internal/pulsecounter"
)

// ErrSensorRead matches every *SensorReadError.
var ErrSensorRead = errors.New("sensor read failed")

// SensorReadError reports a quantity that could not be sampled this cycle.
type SensorReadError struct {
	Quantity string
	Err      error
}

func (e *SensorReadError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrSensorRead, e.Quantity, e.Err)
}

func (e *SensorReadError) Unwrap() []error {
	return []error{ErrSensorRead, e.Err}
}

// reading is one polled hardware value and the error reading it, if any.
// ok is false when the collaborator is absent.
type reading struct {
	value float64
	err   error
	ok    bool
}

func read(f func() (float64, error)) reading {
	v, err := f()
	return reading{value: v, err: err, ok: true}
}

// Update advances the station by one cycle. Polled sensors are sampled and
// appended every call. Once at least minInterval has passed since the last
// drain, the switch counters are drained into wind speed and rain figures.
//
// A failed read is logged, keeps the quantity's previous value and is
// returned as a *SensorReadError joined with any others; the remaining
// quantities are still updated.
func (s *Station) Update(minInterval time.Duration) error {
	var errs []error
	fail := func(quantity string, err error) {
		s.logger.Warnw("sensor read failed", "station", s.config.Name, "quantity", quantity, "error", err)
		errs = append(errs, &SensorReadError{Quantity: quantity, Err: err})
	}

	var temp, pres, hum, lux, vane reading

	s.bus.Lock()
	if env := s.board.Environment; env != nil {
		temp = read(env.Temperature)
		pres = read(env.Pressure)
		hum = read(env.Humidity)
	}
	if light := s.board.Light; light != nil {
		lux = read(light.Lux)
	}
	if x := s.board.Expander; x != nil && s.vane {
		vane = read(func() (float64, error) { return x.ReadADC(hardware.PinWindVane) })
	}
	s.bus.Unlock()

	now := s.clock.Now()

	s.mu.Lock()
	offset := s.offset
	cur := &s.current

	if temp.ok {
		if temp.err != nil {
			fail(QuantityTemperature, temp.err)
		} else {
			cur.deviceTemperature = temp.value
			cur.temperature = temp.value + offset
			s.deviceTemperature.AppendAt(cur.deviceTemperature, now)
			s.temperature.AppendAt(cur.temperature, now)
		}
	}

	if pres.ok {
		if pres.err != nil {
			fail(QuantityPressure, pres.err)
		} else {
			cur.pressure = pres.value
			s.pressure.AppendAt(cur.pressure, now)
		}
	}

	if hum.ok {
		if hum.err != nil {
			fail(QuantityHumidity, hum.err)
		} else {
			cur.humidity = hum.value
			s.humidity.AppendAt(cur.humidity, now)

			// Compensation needs this cycle's die temperature as well.
			if temp.err == nil {
				cur.dewpoint = Dewpoint(temp.value, hum.value)
				cur.relativeHumidity = CompensateHumidity(cur.temperature, cur.dewpoint)
				s.dewpoint.AppendAt(cur.dewpoint, now)
				s.relativeHumidity.AppendAt(cur.relativeHumidity, now)
			}
		}
	}

	if lux.ok {
		if lux.err != nil {
			fail(QuantityLux, lux.err)
		} else {
			cur.lux = lux.value
			s.lux.AppendAt(cur.lux, now)
		}
	}

	if vane.ok {
		if vane.err != nil {
			fail(QuantityWindDirection, vane.err)
		} else {
			cur.windDirection = s.decoder.Decode(vane.value)
			s.windDirection.AppendAt(cur.windDirection, now)
		}
	}
	cur.updated = now
	s.mu.Unlock()

	if s.board.Expander == nil {
		return errors.Join(errs...)
	}

	s.bus.Lock()
	elapsed := s.wind.Elapsed(now)
	if elapsed <= 0 || elapsed < minInterval {
		s.bus.Unlock()
		return errors.Join(errs...)
	}
	windTicks, windErr := s.drain(QuantityWindSpeed, hardware.PinAnemoCount, s.wind, now)
	rainTicks, rainErr := s.drain(QuantityRainRate, hardware.PinRainCounter, s.rain, now)
	s.bus.Unlock()

	for _, err := range []error{windErr, rainErr} {
		if err != nil {
			var readErr *SensorReadError
			if errors.As(err, &readErr) {
				fail(readErr.Quantity, readErr.Err)
			}
		}
	}

	seconds := elapsed.Seconds()
	windHz := float64(windTicks) / seconds / 2 // two pulses per rotation
	speed := windHz * s.circumference * s.config.WindCalibrationFactor / 100
	rate := float64(rainTicks) / seconds * s.config.RainMMPerTick

	s.mu.Lock()
	cur.windSpeed = speed
	cur.rainRate = rate
	cur.rainTotal += float64(rainTicks) * s.config.RainMMPerTick
	s.windSpeed.AppendAt(cur.windSpeed, now)
	s.rainRate.AppendAt(cur.rainRate, now)
	s.rainTotal.AppendAt(cur.rainTotal, now)
	s.mu.Unlock()

	s.logger.Debugw("drained switch counters", "station", s.config.Name,
		"elapsed", elapsed, "wind_ticks", windTicks, "rain_ticks", rainTicks,
		"wind_speed", speed, "rain_rate", rate)

	return errors.Join(errs...)
}

// drain folds the counter's last hardware value into its tally, clears the
// hardware counter and starts a new interval. Must be called with bus held.
//
// Expanders that read and clear in one step lose no ticks. Otherwise the
// hardware value is re-read after the clear and becomes the new reference.
func (s *Station) drain(quantity string, pin hardware.Pin, c *pulsecounter.Counter, now time.Time) (uint64, error) {
	x := s.board.Expander

	var errs []error
	if d, ok := x.(hardware.CounterDrainer); ok {
		raw, err := d.ReadAndClearPulseCounter(pin)
		if err == nil {
			s.advance(quantity, c, raw, now)
			ticks, _ := c.Drain(0, now)
			return ticks, nil
		}
		errs = append(errs, err)
	} else if raw, err := x.ReadPulseCounter(pin); err != nil {
		errs = append(errs, err)
	} else {
		s.advance(quantity, c, raw, now)
	}

	if err := x.ClearPulseCounter(pin); err != nil {
		errs = append(errs, err)
	}

	resync, err := x.ReadPulseCounter(pin)
	if err != nil {
		// Without a post-clear value, assume the clear took.
		errs = append(errs, err)
		resync = 0
	}

	ticks, _ := c.Drain(resync, now)
	if len(errs) > 0 {
		return ticks, &SensorReadError{Quantity: quantity, Err: errors.Join(errs...)}
	}
	return ticks, nil
}

// HandleInterrupt is invoked from the interrupt line whenever a switch
// counter changes. It acknowledges the interrupt and folds both counters'
// current values into their tallies. Failures are logged and otherwise
// ignored; the next interrupt or drain picks the counts up again.
func (s *Station) HandleInterrupt() {
	x := s.board.Expander
	if x == nil {
		return
	}

	s.bus.Lock()
	defer s.bus.Unlock()

	now := s.clock.Now()

	if err := x.ClearInterrupt(); err != nil {
		s.logger.Warnw("clearing expander interrupt failed", "station", s.config.Name, "error", err)
	}

	for _, ch := range []struct {
		quantity string
		pin      hardware.Pin
		counter  *pulsecounter.Counter
	}{
		{QuantityWindSpeed, hardware.PinAnemoCount, s.wind},
		{QuantityRainRate, hardware.PinRainCounter, s.rain},
	} {
		raw, err := x.ReadPulseCounter(ch.pin)
		if err != nil {
			s.logger.Warnw("sensor read failed", "station", s.config.Name, "quantity", ch.quantity, "error", err)
			continue
		}
		s.advance(ch.quantity, ch.counter, raw, now)
	}
}

// advance must be called with bus held.
func (s *Station) advance(quantity string, c *pulsecounter.Counter, raw uint32, now time.Time) {
	if _, err := c.Advance(raw, now); err != nil {
		if errors.Is(err, pulsecounter.ErrOverflowAmbiguity) {
			s.logger.Warnw("switch counter may have wrapped more than once; counts may be low",
				"station", s.config.Name, "quantity", quantity, "error", err)
			return
		}
		s.logger.Warnw("advancing switch counter failed", "station", s.config.Name, "quantity", quantity, "error", err)
	}
}
