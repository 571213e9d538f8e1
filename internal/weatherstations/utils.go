package weatherstations

import (
	"fmt"

	"github.com/chrissnell/weatherhat/pkg/config"
)

// LoadDeviceConfig loads configuration for a specific device, with defaults
// applied and validated.
func LoadDeviceConfig(configProvider config.ConfigProvider, deviceName string) (*config.DeviceData, error) {
	device, err := configProvider.GetDevice(deviceName)
	if err != nil {
		return nil, fmt.Errorf("station [%s] failed to load config: %w", deviceName, err)
	}

	device.ApplyDefaults()
	if err := device.Validate(); err != nil {
		return nil, err
	}
	return device, nil
}
