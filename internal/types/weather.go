package types

import (
	"time"

	"github.com/chrissnell/weatherhat/internal/windvane"
)

// Reading is a snapshot of one weather board's current values. Stations
// send Readings to the distributor, which fans them out to the telemetry
// sinks. Wind speeds are in metres/second, rain in millimetres.
type Reading struct {
	Timestamp   time.Time `json:"timestamp" msgpack:"timestamp"`
	StationName string    `json:"station_name" msgpack:"station_name"`
	StationType string    `json:"station_type" msgpack:"station_type"`
	InstanceID  string    `json:"instance_id" msgpack:"instance_id"`

	Temperature       float64 `json:"temperature" msgpack:"temperature"`
	DeviceTemperature float64 `json:"device_temperature" msgpack:"device_temperature"`
	Pressure          float64 `json:"pressure" msgpack:"pressure"`
	Humidity          float64 `json:"humidity" msgpack:"humidity"`
	RelativeHumidity  float64 `json:"relative_humidity" msgpack:"relative_humidity"`
	Dewpoint          float64 `json:"dewpoint" msgpack:"dewpoint"`
	Lux               float64 `json:"lux" msgpack:"lux"`

	WindSpeed            float64 `json:"wind_speed" msgpack:"wind_speed"`
	WindSpeedAverage     float64 `json:"wind_speed_average" msgpack:"wind_speed_average"`
	WindGust             float64 `json:"wind_gust" msgpack:"wind_gust"`
	WindDirection        float64 `json:"wind_direction" msgpack:"wind_direction"`
	WindDirectionAverage float64 `json:"wind_direction_average" msgpack:"wind_direction_average"`
	WindCardinal         string  `json:"wind_cardinal" msgpack:"wind_cardinal"`

	RainRate  float64 `json:"rain_rate" msgpack:"rain_rate"`
	RainTotal float64 `json:"rain_total" msgpack:"rain_total"`
}

// PressureInHg returns Pressure in inches of mercury.
func (r Reading) PressureInHg() float64 {
	return r.Pressure * 0.02953
}

// TemperatureF returns Temperature in °F.
func (r Reading) TemperatureF() float64 {
	return r.Temperature*9/5 + 32
}

// StationSettings describes how a station samples and derives its readings.
type StationSettings struct {
	HistoryDepth        int                  `json:"history_depth" msgpack:"history_depth"`
	SampleInterval      string               `json:"sample_interval" msgpack:"sample_interval"`
	PollInterval        string               `json:"poll_interval" msgpack:"poll_interval"`
	CounterModulus      uint32               `json:"counter_modulus" msgpack:"counter_modulus"`
	TemperatureOffset   float64              `json:"temperature_offset" msgpack:"temperature_offset"`
	CircularWindAverage bool                 `json:"circular_wind_average" msgpack:"circular_wind_average"`
	WindVane            bool                 `json:"wind_vane" msgpack:"wind_vane"`
	VaneCalibration     windvane.Calibration `json:"vane_calibration" msgpack:"vane_calibration"`
}
