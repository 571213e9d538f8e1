package managers

import (
	"context"
	"fmt"
	"sync"

	"github.com/chrissnell/weatherhat/internal/controllers/restserver"
	"github.com/chrissnell/weatherhat/pkg/config"
	"go.uber.org/zap"
)

// ControllerManager interface for the controller manager
type ControllerManager interface {
	StartControllers() error
}

// Controller is an interface that provides standard methods for various controller backends
type Controller interface {
	StartController() error
}

// NewControllerManager creates a new controller manager. Controllers serve
// the stations run by stations, and any live streams they offer are fed by
// telemetry.
func NewControllerManager(ctx context.Context, wg *sync.WaitGroup, configProvider config.ConfigProvider, stations restserver.StationSource, telemetry *TelemetryManager, logger *zap.SugaredLogger) (ControllerManager, error) {
	cm := &controllerManager{
		ctx:         ctx,
		wg:          wg,
		stations:    stations,
		telemetry:   telemetry,
		logger:      logger,
		controllers: make([]Controller, 0),
	}

	controllers, err := configProvider.GetControllers()
	if err != nil {
		return nil, fmt.Errorf("error loading controller configuration: %v", err)
	}

	// Create controllers based on configuration
	for _, con := range controllers {
		controller, err := cm.createController(con)
		if err != nil {
			return nil, fmt.Errorf("error creating controller: %v", err)
		}
		cm.controllers = append(cm.controllers, controller)
	}

	return cm, nil
}

type controllerManager struct {
	ctx         context.Context
	wg          *sync.WaitGroup
	stations    restserver.StationSource
	telemetry   *TelemetryManager
	logger      *zap.SugaredLogger
	controllers []Controller
}

func (c *controllerManager) StartControllers() error {
	c.logger.Info("Starting controller manager...")

	for _, controller := range c.controllers {
		err := controller.StartController()
		if err != nil {
			return fmt.Errorf("error starting controller: %v", err)
		}
	}

	c.logger.Infof("Started %d controllers successfully", len(c.controllers))
	return nil
}

// createController creates a controller based on the controller configuration
func (cm *controllerManager) createController(cc config.ControllerData) (Controller, error) {
	switch cc.Type {
	case "restserver", "rest":
		if cc.RESTServer == nil {
			return nil, fmt.Errorf("controller %q has no rest configuration", cc.Type)
		}
		ctrl, err := restserver.NewController(cm.ctx, cm.wg, *cc.RESTServer, cm.stations, cm.logger)
		if err != nil {
			return nil, err
		}
		if cm.telemetry != nil {
			cm.telemetry.AddSink("rest-live", ctrl.Live())
		}
		return ctrl, nil
	default:
		return nil, fmt.Errorf("unknown controller type: %s", cc.Type)
	}
}
