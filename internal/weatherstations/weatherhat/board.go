package weatherhat

import (
	"context"
	"fmt"
	"sync"

	"github.com/chrissnell/weatherhat/internal/hardware"
	"github.com/chrissnell/weatherhat/internal/hardware/periph"
	"github.com/chrissnell/weatherhat/internal/hardware/simulator"
	"github.com/chrissnell/weatherhat/internal/types"
	"github.com/chrissnell/weatherhat/internal/weatherstations"
	"github.com/chrissnell/weatherhat/pkg/config"
	"go.uber.org/zap"
)

// NewStation loads the named device from configProvider, opens its board
// and returns the station. Readings are sent to distributor once started.
func NewStation(ctx context.Context, wg *sync.WaitGroup, configProvider config.ConfigProvider, deviceName string, distributor chan types.Reading, logger *zap.SugaredLogger) (*Station, error) {
	cfg, err := weatherstations.LoadDeviceConfig(configProvider, deviceName)
	if err != nil {
		return nil, err
	}

	board, err := OpenBoard(ctx, wg, *cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("station [%s]: %w", deviceName, err)
	}

	s, err := New(ctx, *cfg, board, logger, WithWaitGroup(wg), WithDistributor(distributor))
	if err != nil {
		if board.Close != nil {
			board.Close()
		}
		return nil, err
	}
	return s, nil
}

// OpenBoard returns the hardware for the device's backend. The simulator
// is animated until ctx is done.
func OpenBoard(ctx context.Context, wg *sync.WaitGroup, cfg config.DeviceData, logger *zap.SugaredLogger) (hardware.Board, error) {
	switch cfg.Backend {
	case config.BackendSimulator:
		logger.Infof("station [%v] using simulated board", cfg.Name)
		sim := simulator.NewBoard(cfg.CounterModulus)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sim.Run(ctx, 0)
		}()
		return sim.Hardware(), nil
	case config.BackendPeriph:
		return periph.Open(periph.Options{
			I2CBus:         cfg.I2CBus,
			BME280Address:  cfg.BME280Address,
			ADS1115Address: cfg.ADS1115Address,
			AnemometerGPIO: cfg.AnemometerGPIO,
			RainGPIO:       cfg.RainGPIO,
			VaneChannel:    cfg.VaneChannel,
			VaneReference:  cfg.VaneReference,
			CounterModulus: cfg.CounterModulus,
		}, logger)
	default:
		return hardware.Board{}, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
