package weatherhat

import (
	"time"

	"github.com/chrissnell/weatherhat/internal/history"
	"github.com/chrissnell/weatherhat/internal/types"
	"github.com/chrissnell/weatherhat/internal/windvane"
)

// Quantity names, as used by Quantity and in SensorReadError.
const (
	QuantityTemperature       = "temperature"
	QuantityDeviceTemperature = "device_temperature"
	QuantityPressure          = "pressure"
	QuantityHumidity          = "humidity"
	QuantityRelativeHumidity  = "relative_humidity"
	QuantityDewpoint          = "dewpoint"
	QuantityLux               = "lux"
	QuantityWindSpeed         = "wind_speed"
	QuantityWindDirection     = "wind_direction"
	QuantityRainRate          = "rain_rate"
	QuantityRainTotal         = "rain_total"
)

// Quantities lists every quantity name in a stable order.
func Quantities() []string {
	return []string{
		QuantityTemperature, QuantityDeviceTemperature, QuantityPressure,
		QuantityHumidity, QuantityRelativeHumidity, QuantityDewpoint, QuantityLux,
		QuantityWindSpeed, QuantityWindDirection, QuantityRainRate, QuantityRainTotal,
	}
}

// Dewpoint approximates the dewpoint in °C from the die temperature and
// uncompensated humidity.
func Dewpoint(deviceTemperature, humidity float64) float64 {
	return deviceTemperature - ((100 - humidity) / 5)
}

// CompensateHumidity converts a dewpoint into relative humidity at the
// compensated temperature, clamped to [0, 100].
func CompensateHumidity(temperature, dewpoint float64) float64 {
	rh := 100 - 5*(temperature-dewpoint) - 20
	return min(100, max(0, rh))
}

// HPAToInches converts hectopascals to inches of mercury.
func HPAToInches(hpa float64) float64 {
	return hpa * 0.02953
}

// CelsiusToFahrenheit converts °C to °F.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// Temperature returns the compensated temperature in °C.
func (s *Station) Temperature() (float64, *history.Buffer[float64]) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.temperature, s.temperature
}

// DeviceTemperature returns the uncompensated die temperature in °C.
func (s *Station) DeviceTemperature() (float64, *history.Buffer[float64]) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.deviceTemperature, s.deviceTemperature
}

// Pressure returns pressure in hPa.
func (s *Station) Pressure() (float64, *history.Buffer[float64]) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.pressure, s.pressure
}

// Humidity returns the sensor's uncompensated humidity in %.
func (s *Station) Humidity() (float64, *history.Buffer[float64]) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.humidity, s.humidity
}

// RelativeHumidity returns humidity compensated for the offset temperature.
func (s *Station) RelativeHumidity() (float64, *history.Buffer[float64]) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.relativeHumidity, s.relativeHumidity
}

// Dewpoint returns the dewpoint in °C.
func (s *Station) Dewpoint() (float64, *history.Buffer[float64]) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.dewpoint, s.dewpoint
}

// Lux returns ambient light.
func (s *Station) Lux() (float64, *history.Buffer[float64]) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.lux, s.lux
}

// WindSpeed returns wind speed in m/s over the last sample interval.
func (s *Station) WindSpeed() (float64, *history.SpeedHistory) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.windSpeed, s.windSpeed
}

// WindDirection returns the latest vane heading in degrees.
func (s *Station) WindDirection() (float64, *history.DirectionHistory) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.windDirection, s.windDirection
}

// RainRate returns rainfall in mm/s over the last sample interval.
func (s *Station) RainRate() (float64, *history.Buffer[float64]) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.rainRate, s.rainRate
}

// RainTotal returns rainfall in mm since the station started.
func (s *Station) RainTotal() (float64, *history.Buffer[float64]) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.rainTotal, s.rainTotal
}

// Quantity returns the history of the named quantity.
func (s *Station) Quantity(name string) (*history.Buffer[float64], bool) {
	switch name {
	case QuantityTemperature:
		return s.temperature, true
	case QuantityDeviceTemperature:
		return s.deviceTemperature, true
	case QuantityPressure:
		return s.pressure, true
	case QuantityHumidity:
		return s.humidity, true
	case QuantityRelativeHumidity:
		return s.relativeHumidity, true
	case QuantityDewpoint:
		return s.dewpoint, true
	case QuantityLux:
		return s.lux, true
	case QuantityWindSpeed:
		return s.windSpeed.Buffer, true
	case QuantityWindDirection:
		return s.windDirection.Buffer, true
	case QuantityRainRate:
		return s.rainRate, true
	case QuantityRainTotal:
		return s.rainTotal, true
	}
	return nil, false
}

// TemperatureOffset returns the additive temperature calibration in °C.
func (s *Station) TemperatureOffset() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// SetTemperatureOffset changes the temperature calibration. It applies from
// the next Update.
func (s *Station) SetTemperatureOffset(offset float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = offset
	s.logger.Infof("station [%v] temperature offset set to %.2f", s.config.Name, offset)
}

// Settings reports the station's sampling setup and calibration.
func (s *Station) Settings() types.StationSettings {
	return types.StationSettings{
		HistoryDepth:        s.temperature.Cap(),
		SampleInterval:      s.sampleInterval.String(),
		PollInterval:        s.pollInterval.String(),
		CounterModulus:      s.wind.Modulus(),
		TemperatureOffset:   s.TemperatureOffset(),
		CircularWindAverage: s.windDirection.Circular(),
		WindVane:            s.vane,
		VaneCalibration:     s.decoder.Calibration(),
	}
}

// Snapshot returns the station's current values as a Reading.
func (s *Station) Snapshot() types.Reading {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()

	ts := cur.updated
	if ts.IsZero() {
		ts = s.clock.Now()
	}

	dirAvg := s.windDirection.Average(s.config.WindDirectionSamples)
	return types.Reading{
		Timestamp:            ts,
		StationName:          s.config.Name,
		StationType:          StationType,
		InstanceID:           s.instanceID.String(),
		Temperature:          cur.temperature,
		DeviceTemperature:    cur.deviceTemperature,
		Pressure:             cur.pressure,
		Humidity:             cur.humidity,
		RelativeHumidity:     cur.relativeHumidity,
		Dewpoint:             cur.dewpoint,
		Lux:                  cur.lux,
		WindSpeed:            cur.windSpeed,
		WindSpeedAverage:     s.windSpeed.Average(0),
		WindGust:             s.windSpeed.Gust(gustWindow(s.sampleInterval)),
		WindDirection:        cur.windDirection,
		WindDirectionAverage: dirAvg,
		WindCardinal:         windvane.DegreesToCardinal(dirAvg),
		RainRate:             cur.rainRate,
		RainTotal:            cur.rainTotal,
	}
}

// gustWindow is the trailing window gusts are reported over. Wind speed is
// only produced once per sample interval, so the window must span at least
// one of them to contain a sample.
func gustWindow(sampleInterval time.Duration) time.Duration {
	return max(history.DefaultGustWindow, sampleInterval)
}
