package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrDeviceNotFound is returned by GetDevice for unknown device names.
var ErrDeviceNotFound = errors.New("device not found in configuration")

// Device defaults. These match the Weather HAT board and its sensors.
const (
	DefaultBackend               = BackendPeriph
	DefaultBME280Address         = 0x76
	DefaultADS1115Address        = 0x48
	DefaultTemperatureOffset     = -7.5
	DefaultWindWheelRadiusCM     = 7.0
	DefaultWindCalibrationFactor = 1.18
	DefaultRainMMPerTick         = 0.2794
	DefaultCounterModulus        = 128
	DefaultHistoryDepth          = 1200
	DefaultWindDirectionSamples  = 60
	DefaultSampleInterval        = "60s"
	DefaultPollInterval          = "1s"
	DefaultVaneReference         = 3.3
)

// Hardware backends a device can be driven by.
const (
	BackendSimulator = "simulator"
	BackendPeriph    = "periph"
)

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// Get specific configuration sections
	GetDevices() ([]DeviceData, error)
	GetDevice(name string) (*DeviceData, error)
	GetTelemetryConfig() (*TelemetryData, error)
	GetControllers() ([]ControllerData, error)

	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Devices     []DeviceData     `json:"devices"`
	Telemetry   TelemetryData    `json:"telemetry,omitempty"`
	Controllers []ControllerData `json:"controllers,omitempty"`
}

// DeviceData holds configuration for one weather board
type DeviceData struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Enabled bool   `json:"enabled"`
	Backend string `json:"backend,omitempty"`

	// Hardware wiring (periph backend)
	I2CBus         string  `json:"i2c_bus,omitempty"`
	BME280Address  uint16  `json:"bme280_address,omitempty"`
	ADS1115Address uint16  `json:"ads1115_address,omitempty"`
	AnemometerGPIO string  `json:"anemometer_gpio,omitempty"`
	RainGPIO       string  `json:"rain_gpio,omitempty"`
	VaneChannel    int     `json:"vane_channel,omitempty"`
	VaneReference  float64 `json:"vane_reference,omitempty"`

	// Calibration
	TemperatureOffset     *float64 `json:"temperature_offset,omitempty"`
	WindWheelRadiusCM     float64  `json:"wind_wheel_radius_cm,omitempty"`
	WindCalibrationFactor float64  `json:"wind_calibration_factor,omitempty"`
	RainMMPerTick         float64  `json:"rain_mm_per_tick,omitempty"`
	CounterModulus        uint32   `json:"counter_modulus,omitempty"`

	// Sampling
	HistoryDepth         int    `json:"history_depth,omitempty"`
	WindDirectionSamples int    `json:"wind_direction_samples,omitempty"`
	SampleInterval       string `json:"sample_interval,omitempty"`
	PollInterval         string `json:"poll_interval,omitempty"`
	CircularWindAverage  bool   `json:"circular_wind_average,omitempty"`

	// Overflow ambiguity detection. Zero disables detection for that channel.
	MaxWindSpeed float64 `json:"max_wind_speed,omitempty"` // m/s
	MaxRainRate  float64 `json:"max_rain_rate,omitempty"`  // mm/h
}

// ApplyDefaults fills every unset field with the board's default.
// TemperatureOffset is a pointer so that an explicit zero offset survives.
func (d *DeviceData) ApplyDefaults() {
	if d.Type == "" {
		d.Type = "weatherhat"
	}
	if d.Backend == "" {
		d.Backend = DefaultBackend
	}
	if d.BME280Address == 0 && d.Backend == BackendPeriph {
		d.BME280Address = DefaultBME280Address
	}
	if d.ADS1115Address == 0 && d.Backend == BackendPeriph {
		d.ADS1115Address = DefaultADS1115Address
	}
	if d.VaneReference == 0 {
		d.VaneReference = DefaultVaneReference
	}
	if d.TemperatureOffset == nil {
		offset := DefaultTemperatureOffset
		d.TemperatureOffset = &offset
	}
	if d.WindWheelRadiusCM == 0 {
		d.WindWheelRadiusCM = DefaultWindWheelRadiusCM
	}
	if d.WindCalibrationFactor == 0 {
		d.WindCalibrationFactor = DefaultWindCalibrationFactor
	}
	if d.RainMMPerTick == 0 {
		d.RainMMPerTick = DefaultRainMMPerTick
	}
	if d.CounterModulus == 0 {
		d.CounterModulus = DefaultCounterModulus
	}
	if d.HistoryDepth == 0 {
		d.HistoryDepth = DefaultHistoryDepth
	}
	if d.WindDirectionSamples == 0 {
		d.WindDirectionSamples = DefaultWindDirectionSamples
	}
	if d.SampleInterval == "" {
		d.SampleInterval = DefaultSampleInterval
	}
	if d.PollInterval == "" {
		d.PollInterval = DefaultPollInterval
	}
}

// Offset returns the configured temperature offset, or the default when unset.
func (d *DeviceData) Offset() float64 {
	if d.TemperatureOffset == nil {
		return DefaultTemperatureOffset
	}
	return *d.TemperatureOffset
}

// Intervals parses the sample and poll intervals.
func (d *DeviceData) Intervals() (sample, poll time.Duration, err error) {
	sample, err = time.ParseDuration(d.SampleInterval)
	if err != nil {
		return 0, 0, fmt.Errorf("device [%s] sample-interval %q: %w", d.Name, d.SampleInterval, err)
	}
	poll, err = time.ParseDuration(d.PollInterval)
	if err != nil {
		return 0, 0, fmt.Errorf("device [%s] poll-interval %q: %w", d.Name, d.PollInterval, err)
	}
	if poll <= 0 {
		return 0, 0, fmt.Errorf("device [%s] poll-interval must be positive", d.Name)
	}
	return sample, poll, nil
}

// Validate checks a device whose defaults have been applied.
func (d *DeviceData) Validate() error {
	if d.Name == "" {
		return errors.New("device must have a name")
	}
	switch d.Backend {
	case BackendSimulator, BackendPeriph:
	default:
		return fmt.Errorf("device [%s] has unknown backend %q", d.Name, d.Backend)
	}
	if d.WindWheelRadiusCM < 0 || d.WindCalibrationFactor < 0 || d.RainMMPerTick < 0 {
		return fmt.Errorf("device [%s] calibration values must not be negative", d.Name)
	}
	if d.HistoryDepth < 1 {
		return fmt.Errorf("device [%s] history-depth must be at least 1", d.Name)
	}
	_, _, err := d.Intervals()
	return err
}

// TelemetryData holds the configuration for telemetry publishers
type TelemetryData struct {
	MQTT *MQTTData `json:"mqtt,omitempty"`
}

// MQTTData configures the MQTT telemetry publisher
type MQTTData struct {
	Broker      string `json:"broker"`
	Port        int    `json:"port,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	TopicPrefix string `json:"topic_prefix,omitempty"`
	QoS         byte   `json:"qos,omitempty"`
	Retain      bool   `json:"retain,omitempty"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
}

// ControllerData holds the configuration for various controller backends
type ControllerData struct {
	Type       string          `json:"type,omitempty"`
	RESTServer *RESTServerData `json:"rest,omitempty"`
}

// RESTServerData configures the REST/websocket read surface
type RESTServerData struct {
	Cert          string `json:"cert,omitempty"`
	Key           string `json:"key,omitempty"`
	Port          int    `json:"port,omitempty"`
	ListenAddr    string `json:"listen_addr,omitempty"`
	EnableMsgpack bool   `json:"enable_msgpack,omitempty"`
}

// findDevice returns the named device from devices.
func findDevice(devices []DeviceData, name string) (*DeviceData, error) {
	for i := range devices {
		if devices[i].Name == name {
			d := devices[i]
			return &d, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", name, ErrDeviceNotFound)
}
