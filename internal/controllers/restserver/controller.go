package restserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chrissnell/weatherhat/internal/history"
	"github.com/chrissnell/weatherhat/internal/types"
	"github.com/chrissnell/weatherhat/internal/weatherstations"
	"github.com/chrissnell/weatherhat/pkg/config"
	"github.com/chrissnell/weatherhat/pkg/responseformat"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

var (
	errStationNotFound  = errors.New("station not found")
	errStationAmbiguous = errors.New("multiple stations are running; specify one with ?station=")
)

const (
	defaultListenAddr = "0.0.0.0"
	defaultPort       = 8080
)

// Station is the view of a running station that the REST server reads from.
type Station interface {
	StationName() string
	Snapshot() types.Reading
	Quantity(name string) (*history.Buffer[float64], bool)
	WindSpeed() (float64, *history.SpeedHistory)
	WindDirection() (float64, *history.DirectionHistory)
	TemperatureOffset() float64
	SetTemperatureOffset(offset float64)
}

// StationSource looks running stations up by name.
type StationSource interface {
	StationNames() []string
	GetStation(name string) weatherstations.WeatherStation
}

// Controller represents the REST server controller
type Controller struct {
	ctx        context.Context
	wg         *sync.WaitGroup
	restConfig config.RESTServerData
	Server     http.Server
	stations   StationSource
	live       *LiveHub
	logger     *zap.SugaredLogger
	handlers   *Handlers
}

// NewController creates a new REST server controller
func NewController(ctx context.Context, wg *sync.WaitGroup, rc config.RESTServerData, stations StationSource, logger *zap.SugaredLogger) (*Controller, error) {
	if stations == nil {
		return nil, fmt.Errorf("REST server requires a station source")
	}
	if (rc.Cert == "") != (rc.Key == "") {
		return nil, fmt.Errorf("REST server TLS requires both cert and key")
	}

	// If a ListenAddr was not provided, listen on all interfaces
	if rc.ListenAddr == "" {
		logger.Info("rest.listen-addr not provided; defaulting to 0.0.0.0 (all interfaces)")
		rc.ListenAddr = defaultListenAddr
	}

	if rc.Port == 0 {
		logger.Infof("rest.port not provided; defaulting to %d", defaultPort)
		rc.Port = defaultPort
	}

	ctrl := &Controller{
		ctx:        ctx,
		wg:         wg,
		restConfig: rc,
		stations:   stations,
		live:       NewLiveHub(logger),
		logger:     logger,
	}
	ctrl.handlers = NewHandlers(ctrl, responseformat.NewFormatter(rc.EnableMsgpack))

	ctrl.Server.Addr = fmt.Sprintf("%v:%v", rc.ListenAddr, rc.Port)
	ctrl.Server.Handler = ctrl.setupRouter()
	ctrl.Server.ReadHeaderTimeout = 10 * time.Second

	return ctrl, nil
}

// Live returns the hub that streams readings to /live clients. It is a
// telemetry sink and must be added to the telemetry manager to receive
// readings.
func (c *Controller) Live() *LiveHub {
	return c.live
}

// StartController starts the REST server
func (c *Controller) StartController() error {
	c.logger.Infof("Starting REST server controller on %v...", c.Server.Addr)
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		if c.restConfig.Cert != "" && c.restConfig.Key != "" {
			if err := c.Server.ListenAndServeTLS(c.restConfig.Cert, c.restConfig.Key); err != http.ErrServerClosed {
				c.logger.Errorf("REST server error: %v", err)
			}
		} else {
			if err := c.Server.ListenAndServe(); err != http.ErrServerClosed {
				c.logger.Errorf("REST server error: %v", err)
			}
		}
	}()

	go func() {
		<-c.ctx.Done()
		c.logger.Info("Shutting down the REST server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Server.Shutdown(shutdownCtx)
	}()

	return nil
}

// setupRouter configures the HTTP router with all endpoints
func (c *Controller) setupRouter() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/stations", c.handlers.GetStations).Methods(http.MethodGet)
	router.HandleFunc("/latest", c.handlers.GetLatest).Methods(http.MethodGet)
	router.HandleFunc("/history/{quantity}", c.handlers.GetHistory).Methods(http.MethodGet)
	router.HandleFunc("/stats/{quantity}", c.handlers.GetStats).Methods(http.MethodGet)
	router.HandleFunc("/wind", c.handlers.GetWind).Methods(http.MethodGet)
	router.HandleFunc("/calibration/temperature-offset", c.handlers.GetTemperatureOffset).Methods(http.MethodGet)
	router.HandleFunc("/calibration/temperature-offset", c.handlers.PutTemperatureOffset).Methods(http.MethodPut)
	router.HandleFunc("/live", c.live.ServeHTTP).Methods(http.MethodGet)

	return router
}

// station resolves the station a request refers to. With no ?station=
// parameter, the only running station is used.
func (c *Controller) station(name string) (Station, error) {
	if name == "" {
		names := c.stations.StationNames()
		switch len(names) {
		case 0:
			return nil, fmt.Errorf("%w: no stations are running", errStationNotFound)
		case 1:
			name = names[0]
		default:
			return nil, errStationAmbiguous
		}
	}

	ws := c.stations.GetStation(name)
	if ws == nil {
		return nil, fmt.Errorf("%w: %q", errStationNotFound, name)
	}
	s, ok := ws.(Station)
	if !ok {
		return nil, fmt.Errorf("%w: %q does not serve sensor history", errStationNotFound, name)
	}
	return s, nil
}
