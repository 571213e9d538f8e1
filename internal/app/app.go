package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/chrissnell/weatherhat/internal/interfaces"
	"github.com/chrissnell/weatherhat/internal/managers"
	"github.com/chrissnell/weatherhat/pkg/config"
	"go.uber.org/zap"
)

// App represents the main application
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger

	mu  sync.Mutex
	wsm interfaces.WeatherStationManager
}

var _ interfaces.AppReloader = (*App)(nil)

// New creates a new application instance
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	return &App{
		configProvider: configProvider,
		logger:         logger,
	}
}

// Run starts the application and blocks until shutdown. SIGHUP reloads the
// station configuration.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		wg.Wait()
	}()

	// Initialize the telemetry manager
	telemetryManager, err := managers.NewTelemetryManager(ctx, &wg, a.configProvider, a.logger)
	if err != nil {
		return err
	}

	// Initialize the weather station manager
	wsm, err := managers.NewWeatherStationManager(ctx, &wg, a.configProvider, telemetryManager.ReadingDistributor, a.logger)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.wsm = wsm
	a.mu.Unlock()

	// Initialize the controller manager
	cm, err := managers.NewControllerManager(ctx, &wg, a.configProvider, wsm, telemetryManager, a.logger)
	if err != nil {
		return err
	}

	if err := wsm.StartWeatherStations(); err != nil {
		return err
	}

	if err := cm.StartControllers(); err != nil {
		return err
	}

	a.logger.Infow("Application started successfully", "telemetry_sinks", telemetryManager.Sinks(), "stations", wsm.StationNames())

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

wait:
	for {
		select {
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				a.logger.Info("SIGHUP received, reloading station configuration...")
				if err := a.ReloadConfiguration(ctx); err != nil {
					a.logger.Errorf("configuration reload failed: %v", err)
				}
				continue
			}
			a.logger.Info("shutdown signal received, initiating graceful shutdown...")
		case <-ctx.Done():
			a.logger.Info("context cancelled, shutting down...")
		}
		break wait
	}

	// Cancel context to signal all goroutines to stop
	cancel()

	// Wait for all workers to terminate
	a.logger.Info("waiting for all workers to terminate...")
	wg.Wait()
	a.logger.Info("shutdown complete")

	return nil
}

// ReloadConfiguration re-reads the configuration, starting stations for
// newly enabled devices and stopping those no longer enabled.
func (a *App) ReloadConfiguration(ctx context.Context) error {
	wsm, err := a.stations()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := a.configProvider.LoadConfig(); err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}
	return wsm.ReloadWeatherStationsConfig()
}

// AddWeatherStation starts a station for a configured device.
func (a *App) AddWeatherStation(deviceName string) error {
	wsm, err := a.stations()
	if err != nil {
		return err
	}
	return wsm.AddWeatherStation(deviceName)
}

// RemoveWeatherStation stops a running station.
func (a *App) RemoveWeatherStation(deviceName string) error {
	wsm, err := a.stations()
	if err != nil {
		return err
	}
	return wsm.RemoveWeatherStation(deviceName)
}

func (a *App) stations() (interfaces.WeatherStationManager, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.wsm == nil {
		return nil, fmt.Errorf("application is not running")
	}
	return a.wsm, nil
}
