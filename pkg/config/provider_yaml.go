package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string

	mu     sync.RWMutex
	config *ConfigData
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// LoadConfig loads the complete configuration from YAML file
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}
	return y.parse(cfgFile)
}

func (y *YAMLProvider) parse(cfgFile []byte) (*ConfigData, error) {
	// Load into temporary struct with YAML tags
	var yamlConfig struct {
		Devices     []DeviceYAML     `yaml:"devices"`
		Telemetry   TelemetryYAML    `yaml:"telemetry,omitempty"`
		Controllers []ControllerYAML `yaml:"controllers,omitempty"`
	}

	if err := yaml.Unmarshal(cfgFile, &yamlConfig); err != nil {
		return nil, err
	}

	// Convert to our internal format
	config := &ConfigData{
		Devices:     make([]DeviceData, len(yamlConfig.Devices)),
		Controllers: make([]ControllerData, len(yamlConfig.Controllers)),
	}

	for i, device := range yamlConfig.Devices {
		enabled := true
		if device.Enabled != nil {
			enabled = *device.Enabled
		}
		config.Devices[i] = DeviceData{
			Name:                  device.Name,
			Type:                  device.Type,
			Enabled:               enabled,
			Backend:               device.Backend,
			I2CBus:                device.I2CBus,
			BME280Address:         device.BME280Address,
			ADS1115Address:        device.ADS1115Address,
			AnemometerGPIO:        device.AnemometerGPIO,
			RainGPIO:              device.RainGPIO,
			VaneChannel:           device.VaneChannel,
			VaneReference:         device.VaneReference,
			TemperatureOffset:     device.TemperatureOffset,
			WindWheelRadiusCM:     device.WindWheelRadiusCM,
			WindCalibrationFactor: device.WindCalibrationFactor,
			RainMMPerTick:         device.RainMMPerTick,
			CounterModulus:        device.CounterModulus,
			HistoryDepth:          device.HistoryDepth,
			WindDirectionSamples:  device.WindDirectionSamples,
			SampleInterval:        device.SampleInterval,
			PollInterval:          device.PollInterval,
			CircularWindAverage:   device.CircularWindAverage,
			MaxWindSpeed:          device.MaxWindSpeed,
			MaxRainRate:           device.MaxRainRate,
		}
	}

	if m := yamlConfig.Telemetry.MQTT; m != nil {
		config.Telemetry.MQTT = &MQTTData{
			Broker:      m.Broker,
			Port:        m.Port,
			ClientID:    m.ClientID,
			TopicPrefix: m.TopicPrefix,
			QoS:         m.QoS,
			Retain:      m.Retain,
			Username:    m.Username,
			Password:    m.Password,
		}
	}

	for i, controller := range yamlConfig.Controllers {
		config.Controllers[i] = ControllerData{
			Type: controller.Type,
		}

		if controller.RESTServer != nil {
			config.Controllers[i].RESTServer = &RESTServerData{
				Cert:          controller.RESTServer.Cert,
				Key:           controller.RESTServer.Key,
				Port:          controller.RESTServer.Port,
				ListenAddr:    controller.RESTServer.ListenAddr,
				EnableMsgpack: controller.RESTServer.EnableMsgpack,
			}
		}
	}

	y.mu.Lock()
	y.config = config
	y.mu.Unlock()
	return config, nil
}

func (y *YAMLProvider) loaded() (*ConfigData, error) {
	y.mu.RLock()
	cfg := y.config
	y.mu.RUnlock()
	if cfg == nil {
		return y.LoadConfig()
	}
	return cfg, nil
}

// GetDevices returns device configurations
func (y *YAMLProvider) GetDevices() ([]DeviceData, error) {
	cfg, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return cfg.Devices, nil
}

// GetDevice returns the named device configuration
func (y *YAMLProvider) GetDevice(name string) (*DeviceData, error) {
	cfg, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return findDevice(cfg.Devices, name)
}

// GetTelemetryConfig returns telemetry configuration
func (y *YAMLProvider) GetTelemetryConfig() (*TelemetryData, error) {
	cfg, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return &cfg.Telemetry, nil
}

// GetControllers returns controller configurations
func (y *YAMLProvider) GetControllers() ([]ControllerData, error) {
	cfg, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return cfg.Controllers, nil
}

// IsReadOnly returns true since YAML files are read-only through this interface
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML provider
func (y *YAMLProvider) Close() error {
	return nil
}

// YAML-specific structs with proper YAML tags
type DeviceYAML struct {
	Name                  string   `yaml:"name"`
	Type                  string   `yaml:"type,omitempty"`
	Enabled               *bool    `yaml:"enabled,omitempty"`
	Backend               string   `yaml:"backend,omitempty"`
	I2CBus                string   `yaml:"i2c-bus,omitempty"`
	BME280Address         uint16   `yaml:"bme280-address,omitempty"`
	ADS1115Address        uint16   `yaml:"ads1115-address,omitempty"`
	AnemometerGPIO        string   `yaml:"anemometer-gpio,omitempty"`
	RainGPIO              string   `yaml:"rain-gpio,omitempty"`
	VaneChannel           int      `yaml:"vane-channel,omitempty"`
	VaneReference         float64  `yaml:"vane-reference,omitempty"`
	TemperatureOffset     *float64 `yaml:"temperature-offset,omitempty"`
	WindWheelRadiusCM     float64  `yaml:"wind-wheel-radius-cm,omitempty"`
	WindCalibrationFactor float64  `yaml:"wind-calibration-factor,omitempty"`
	RainMMPerTick         float64  `yaml:"rain-mm-per-tick,omitempty"`
	CounterModulus        uint32   `yaml:"counter-modulus,omitempty"`
	HistoryDepth          int      `yaml:"history-depth,omitempty"`
	WindDirectionSamples  int      `yaml:"wind-direction-samples,omitempty"`
	SampleInterval        string   `yaml:"sample-interval,omitempty"`
	PollInterval          string   `yaml:"poll-interval,omitempty"`
	CircularWindAverage   bool     `yaml:"circular-wind-average,omitempty"`
	MaxWindSpeed          float64  `yaml:"max-wind-speed,omitempty"`
	MaxRainRate           float64  `yaml:"max-rain-rate,omitempty"`
}

type TelemetryYAML struct {
	MQTT *MQTTYAML `yaml:"mqtt,omitempty"`
}

type MQTTYAML struct {
	Broker      string `yaml:"broker"`
	Port        int    `yaml:"port,omitempty"`
	ClientID    string `yaml:"client-id,omitempty"`
	TopicPrefix string `yaml:"topic-prefix,omitempty"`
	QoS         byte   `yaml:"qos,omitempty"`
	Retain      bool   `yaml:"retain,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
}

type ControllerYAML struct {
	Type       string          `yaml:"type,omitempty"`
	RESTServer *RESTServerYAML `yaml:"rest,omitempty"`
}

type RESTServerYAML struct {
	Cert          string `yaml:"cert,omitempty"`
	Key           string `yaml:"key,omitempty"`
	Port          int    `yaml:"port,omitempty"`
	ListenAddr    string `yaml:"listen-addr,omitempty"`
	EnableMsgpack bool   `yaml:"enable-msgpack,omitempty"`
}
