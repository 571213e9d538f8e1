package managers

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/chrissnell/weatherhat/internal/interfaces"
	"github.com/chrissnell/weatherhat/internal/types"
	"github.com/chrissnell/weatherhat/internal/weatherstations"
	"github.com/chrissnell/weatherhat/internal/weatherstations/weatherhat"
	"github.com/chrissnell/weatherhat/pkg/config"
	"go.uber.org/zap"
)

// StationFactory builds the station for a configured device.
type StationFactory func(ctx context.Context, wg *sync.WaitGroup, configProvider config.ConfigProvider, deviceName string, distributor chan types.Reading, logger *zap.SugaredLogger) (weatherstations.WeatherStation, error)

// NewWeatherStationManager creates a WeatherStationManager object, populated with all configured weather stations
func NewWeatherStationManager(ctx context.Context, wg *sync.WaitGroup, configProvider config.ConfigProvider, distributor chan types.Reading, logger *zap.SugaredLogger) (interfaces.WeatherStationManager, error) {
	return newWeatherStationManager(ctx, wg, configProvider, distributor, logger, createStationFromConfig)
}

func newWeatherStationManager(ctx context.Context, wg *sync.WaitGroup, configProvider config.ConfigProvider, distributor chan types.Reading, logger *zap.SugaredLogger, factory StationFactory) (*weatherStationManager, error) {
	devices, err := configProvider.GetDevices()
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %v", err)
	}

	wsm := &weatherStationManager{
		ctx:            ctx,
		wg:             wg,
		configProvider: configProvider,
		distributor:    distributor,
		logger:         logger,
		factory:        factory,
		stations:       make(map[string]weatherstations.WeatherStation),
	}

	// Create weather stations directly from config data (only for enabled devices)
	for _, deviceConfig := range devices {
		if !deviceConfig.Enabled {
			logger.Infof("Skipping disabled device [%s]", deviceConfig.Name)
			continue
		}
		station, err := factory(ctx, wg, configProvider, deviceConfig.Name, distributor, logger)
		if err != nil {
			for _, created := range wsm.stations {
				created.StopWeatherStation()
			}
			return nil, fmt.Errorf("error creating weather station [%s]: %w", deviceConfig.Name, err)
		}
		wsm.stations[deviceConfig.Name] = station
	}

	return wsm, nil
}

type weatherStationManager struct {
	ctx            context.Context
	wg             *sync.WaitGroup
	configProvider config.ConfigProvider
	distributor    chan types.Reading
	logger         *zap.SugaredLogger
	factory        StationFactory
	stations       map[string]weatherstations.WeatherStation
	mu             sync.RWMutex
}

func (w *weatherStationManager) StartWeatherStations() error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for name, station := range w.stations {
		w.logger.Infof("Starting weather station [%v]...", name)
		if err := station.StartWeatherStation(); err != nil {
			return fmt.Errorf("failed to start weather station [%s]: %w", name, err)
		}
	}
	w.logger.Infof("Started %d weather stations", len(w.stations))
	return nil
}

// AddWeatherStation adds a new weather station dynamically
func (w *weatherStationManager) AddWeatherStation(deviceName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Check if station already exists
	if _, exists := w.stations[deviceName]; exists {
		return fmt.Errorf("weather station %s already exists", deviceName)
	}

	// Check if device is enabled
	device, err := w.configProvider.GetDevice(deviceName)
	if err != nil {
		return fmt.Errorf("failed to get device %s: %w", deviceName, err)
	}
	if !device.Enabled {
		return fmt.Errorf("cannot add disabled device %s", deviceName)
	}

	station, err := w.factory(w.ctx, w.wg, w.configProvider, deviceName, w.distributor, w.logger)
	if err != nil {
		return fmt.Errorf("error creating weather station [%s]: %w", deviceName, err)
	}

	// Start the station
	if err := station.StartWeatherStation(); err != nil {
		station.StopWeatherStation()
		return fmt.Errorf("failed to start weather station [%s]: %w", deviceName, err)
	}
	w.stations[deviceName] = station

	w.logger.Infof("Added and started weather station: %s", deviceName)
	return nil
}

// RemoveWeatherStation removes a weather station dynamically
func (w *weatherStationManager) RemoveWeatherStation(deviceName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	station, exists := w.stations[deviceName]
	if !exists {
		return fmt.Errorf("weather station %s not found", deviceName)
	}

	// Stop the weather station
	if err := station.StopWeatherStation(); err != nil {
		w.logger.Errorf("Error stopping weather station %s: %v", deviceName, err)
		// Continue with removal even if stop failed
	}

	delete(w.stations, deviceName)

	w.logger.Infof("Removed and stopped weather station: %s", deviceName)
	return nil
}

// ReloadWeatherStationsConfig reloads weather station configuration dynamically
func (w *weatherStationManager) ReloadWeatherStationsConfig() error {
	devices, err := w.configProvider.GetDevices()
	if err != nil {
		return fmt.Errorf("could not load configuration: %v", err)
	}

	// Track what stations should be active (only enabled devices)
	shouldBeActive := make(map[string]bool)
	for _, deviceConfig := range devices {
		if deviceConfig.Enabled {
			shouldBeActive[deviceConfig.Name] = true
		}
	}

	running := w.StationNames()

	// Remove stations that should no longer be active
	for _, name := range running {
		if !shouldBeActive[name] {
			if err := w.RemoveWeatherStation(name); err != nil {
				w.logger.Errorf("Failed to remove weather station %s: %v", name, err)
			}
		}
	}

	// Add stations that should be active but aren't
	for name := range shouldBeActive {
		if !slices.Contains(running, name) {
			if err := w.AddWeatherStation(name); err != nil {
				w.logger.Errorf("Failed to add weather station %s: %v", name, err)
			}
		}
	}

	return nil
}

// GetStation retrieves a weather station by name.
// Returns nil if the station does not exist.
// This method is safe for concurrent use.
func (w *weatherStationManager) GetStation(deviceName string) weatherstations.WeatherStation {
	w.mu.RLock()
	defer w.mu.RUnlock()

	station, exists := w.stations[deviceName]
	if !exists {
		return nil
	}
	return station
}

// StationNames returns the names of the running stations, sorted.
func (w *weatherStationManager) StationNames() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	names := make([]string, 0, len(w.stations))
	for name := range w.stations {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// createStationFromConfig creates the appropriate weather station based on device type
func createStationFromConfig(ctx context.Context, wg *sync.WaitGroup, configProvider config.ConfigProvider, deviceName string, distributor chan types.Reading, logger *zap.SugaredLogger) (weatherstations.WeatherStation, error) {
	device, err := configProvider.GetDevice(deviceName)
	if err != nil {
		return nil, err
	}

	// Check if device is enabled
	if !device.Enabled {
		return nil, fmt.Errorf("device [%s] is disabled", deviceName)
	}

	switch device.Type {
	case weatherhat.StationType, "":
		logger.Infof("Initializing Weather HAT station [%v]", deviceName)
		station, err := weatherhat.NewStation(ctx, wg, configProvider, deviceName, distributor, logger)
		if err != nil {
			return nil, err
		}
		return station, nil
	default:
		return nil, fmt.Errorf("unknown weather station type: %s", device.Type)
	}
}
