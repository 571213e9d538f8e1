package managers

import (
	"context"
	"fmt"
	"sync"

	"github.com/chrissnell/weatherhat/internal/telemetry"
	"github.com/chrissnell/weatherhat/internal/telemetry/mqtt"
	"github.com/chrissnell/weatherhat/internal/types"
	"github.com/chrissnell/weatherhat/pkg/config"
	"go.uber.org/zap"
)

// TelemetryManager holds our active telemetry sinks
type TelemetryManager struct {
	ReadingDistributor chan types.Reading

	ctx    context.Context
	wg     *sync.WaitGroup
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	sinks []TelemetrySink
}

// TelemetrySink holds a sink's interface as well as the channel for passing
// readings to it
type TelemetrySink struct {
	Name string
	Sink telemetry.Sink
	C    chan<- types.Reading
}

// NewTelemetryManager creates a TelemetryManager, populated with every
// configured sink, and starts distributing readings to them
func NewTelemetryManager(ctx context.Context, wg *sync.WaitGroup, configProvider config.ConfigProvider, logger *zap.SugaredLogger) (*TelemetryManager, error) {
	t := &TelemetryManager{
		ReadingDistributor: make(chan types.Reading, 20),
		ctx:                ctx,
		wg:                 wg,
		logger:             logger,
	}

	telemetryConfig, err := configProvider.GetTelemetryConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading telemetry configuration: %w", err)
	}

	if telemetryConfig.MQTT != nil {
		publisher, err := mqtt.New(*telemetryConfig.MQTT, logger)
		if err != nil {
			return nil, fmt.Errorf("could not add MQTT telemetry sink: %w", err)
		}
		t.AddSink("mqtt", publisher)
	}

	wg.Add(1)
	go t.startReadingDistributor()

	return t, nil
}

// AddSink starts sink and adds it to the fan-out
func (t *TelemetryManager) AddSink(name string, sink telemetry.Sink) {
	c := sink.StartSink(t.ctx, t.wg)

	t.mu.Lock()
	t.sinks = append(t.sinks, TelemetrySink{Name: name, Sink: sink, C: c})
	t.mu.Unlock()

	t.logger.Infof("added telemetry sink [%v]", name)
}

// Sinks returns the names of the active sinks
func (t *TelemetryManager) Sinks() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, len(t.sinks))
	for i, s := range t.sinks {
		names[i] = s.Name
	}
	return names
}

// startReadingDistributor receives readings from stations and fans them out
// to the telemetry sinks
func (t *TelemetryManager) startReadingDistributor() {
	defer t.wg.Done()

	for {
		select {
		case r := <-t.ReadingDistributor:
			t.mu.RLock()
			sinks := t.sinks
			t.mu.RUnlock()

			for _, s := range sinks {
				select {
				case s.C <- r:
				case <-t.ctx.Done():
					return
				}
			}
		case <-t.ctx.Done():
			return
		}
	}
}
