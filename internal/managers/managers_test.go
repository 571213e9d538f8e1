package managers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chrissnell/weatherhat/internal/types"
	"github.com/chrissnell/weatherhat/internal/weatherstations"
	"github.com/chrissnell/weatherhat/pkg/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type fakeStation struct {
	name string

	mu      sync.Mutex
	started bool
	stopped bool
}

func (s *fakeStation) StartWeatherStation() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *fakeStation) StopWeatherStation() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeStation) StationName() string { return s.name }

func (s *fakeStation) Capabilities() weatherstations.Capabilities {
	var caps weatherstations.Capabilities
	caps.Add(weatherstations.Environment)
	return caps
}

func (s *fakeStation) state() (started, stopped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started, s.stopped
}

type fakeFactory struct {
	mu       sync.Mutex
	created  map[string]*fakeStation
	failWith map[string]error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{created: make(map[string]*fakeStation), failWith: make(map[string]error)}
}

func (f *fakeFactory) build(_ context.Context, _ *sync.WaitGroup, _ config.ConfigProvider, deviceName string, _ chan types.Reading, _ *zap.SugaredLogger) (weatherstations.WeatherStation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failWith[deviceName]; err != nil {
		return nil, err
	}
	s := &fakeStation{name: deviceName}
	f.created[deviceName] = s
	return s, nil
}

func (f *fakeFactory) station(name string) *fakeStation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[name]
}

func writeConfig(t *testing.T, path, contents string) *config.YAMLProvider {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	p := config.NewYAMLProvider(path)
	_, err := p.LoadConfig()
	require.NoError(t, err)
	return p
}

const stationsYAML = `
devices:
  - name: garden
  - name: shed
    enabled: false
  - name: roof
`

func TestWeatherStationManagerLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	provider := writeConfig(t, path, stationsYAML)
	factory := newFakeFactory()
	logger := zaptest.NewLogger(t).Sugar()

	var wg sync.WaitGroup
	wsm, err := newWeatherStationManager(context.Background(), &wg, provider, nil, logger, factory.build)
	require.NoError(t, err)
	require.Equal(t, []string{"garden", "roof"}, wsm.StationNames())
	require.Nil(t, factory.station("shed"), "disabled devices are skipped")

	require.NoError(t, wsm.StartWeatherStations())
	started, _ := factory.station("garden").state()
	require.True(t, started)

	require.NotNil(t, wsm.GetStation("roof"))
	require.Nil(t, wsm.GetStation("attic"))

	require.Error(t, wsm.AddWeatherStation("garden"), "already running")
	require.Error(t, wsm.AddWeatherStation("shed"), "disabled")
	require.Error(t, wsm.AddWeatherStation("attic"), "not configured")

	require.NoError(t, wsm.RemoveWeatherStation("garden"))
	_, stopped := factory.station("garden").state()
	require.True(t, stopped)
	require.Error(t, wsm.RemoveWeatherStation("garden"))
	require.Equal(t, []string{"roof"}, wsm.StationNames())

	require.NoError(t, wsm.AddWeatherStation("garden"))
	started, _ = factory.station("garden").state()
	require.True(t, started, "added stations are started")
}

func TestWeatherStationManagerReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	provider := writeConfig(t, path, stationsYAML)
	factory := newFakeFactory()

	var wg sync.WaitGroup
	wsm, err := newWeatherStationManager(context.Background(), &wg, provider, nil, zaptest.NewLogger(t).Sugar(), factory.build)
	require.NoError(t, err)
	require.NoError(t, wsm.StartWeatherStations())
	roof := factory.station("roof")

	writeConfig(t, path, `
devices:
  - name: garden
  - name: shed
  - name: roof
    enabled: false
`)
	_, err = provider.LoadConfig()
	require.NoError(t, err)

	require.NoError(t, wsm.ReloadWeatherStationsConfig())
	require.Equal(t, []string{"garden", "shed"}, wsm.StationNames())

	_, stopped := roof.state()
	require.True(t, stopped)
	started, _ := factory.station("shed").state()
	require.True(t, started)
}

func TestWeatherStationManagerCreateFailure(t *testing.T) {
	provider := writeConfig(t, filepath.Join(t.TempDir(), "config.yaml"), stationsYAML)
	factory := newFakeFactory()
	boom := errors.New("no i2c bus")
	factory.failWith["roof"] = boom

	var wg sync.WaitGroup
	_, err := newWeatherStationManager(context.Background(), &wg, provider, nil, zaptest.NewLogger(t).Sugar(), factory.build)
	require.ErrorIs(t, err, boom)

	_, stopped := factory.station("garden").state()
	require.True(t, stopped, "already created stations are stopped")
}

func TestCreateStationFromConfig(t *testing.T) {
	provider := writeConfig(t, filepath.Join(t.TempDir(), "config.yaml"), `
devices:
  - name: sim
    backend: simulator
    poll-interval: 1h
  - name: odd
    type: davis
  - name: off
    enabled: false
`)
	logger := zaptest.NewLogger(t).Sugar()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	station, err := createStationFromConfig(ctx, &wg, provider, "sim", nil, logger)
	require.NoError(t, err)
	require.Equal(t, "sim", station.StationName())
	require.NoError(t, station.StopWeatherStation())

	_, err = createStationFromConfig(ctx, &wg, provider, "odd", nil, logger)
	require.Error(t, err)

	_, err = createStationFromConfig(ctx, &wg, provider, "off", nil, logger)
	require.Error(t, err)

	_, err = createStationFromConfig(ctx, &wg, provider, "attic", nil, logger)
	require.ErrorIs(t, err, config.ErrDeviceNotFound)
}

type fakeSink struct {
	c chan types.Reading
}

func (s *fakeSink) StartSink(context.Context, *sync.WaitGroup) chan<- types.Reading {
	return s.c
}

func TestTelemetryFanOut(t *testing.T) {
	provider := writeConfig(t, filepath.Join(t.TempDir(), "config.yaml"), stationsYAML)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	tm, err := NewTelemetryManager(ctx, &wg, provider, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	require.Empty(t, tm.Sinks(), "no MQTT configured")

	a := &fakeSink{c: make(chan types.Reading, 1)}
	b := &fakeSink{c: make(chan types.Reading, 1)}
	tm.AddSink("a", a)
	tm.AddSink("b", b)
	require.Equal(t, []string{"a", "b"}, tm.Sinks())

	tm.ReadingDistributor <- types.Reading{StationName: "garden", Temperature: 12}

	for _, sink := range []*fakeSink{a, b} {
		select {
		case r := <-sink.c:
			require.Equal(t, "garden", r.StationName)
			require.Equal(t, 12.0, r.Temperature)
		case <-time.After(5 * time.Second):
			t.Fatal("reading was not fanned out")
		}
	}

	cancel()
	wg.Wait()
}

func TestTelemetryManagerRejectsBadMQTT(t *testing.T) {
	provider := writeConfig(t, filepath.Join(t.TempDir(), "config.yaml"), `
telemetry:
  mqtt:
    broker: mqtt.local
    qos: 5
`)
	var wg sync.WaitGroup
	_, err := NewTelemetryManager(context.Background(), &wg, provider, zaptest.NewLogger(t).Sugar())
	require.Error(t, err)
}

func TestControllerManager(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	logger := zaptest.NewLogger(t).Sugar()

	path := filepath.Join(t.TempDir(), "config.yaml")
	provider := writeConfig(t, path, stationsYAML)
	tm, err := NewTelemetryManager(ctx, &wg, provider, logger)
	require.NoError(t, err)

	wsm, err := newWeatherStationManager(ctx, &wg, provider, nil, logger, newFakeFactory().build)
	require.NoError(t, err)

	provider = writeConfig(t, path, `
controllers:
  - type: rest
    rest:
      listen-addr: 127.0.0.1
      port: 18080
`)
	_, err = NewControllerManager(ctx, &wg, provider, wsm, tm, logger)
	require.NoError(t, err)
	require.Equal(t, []string{"rest-live"}, tm.Sinks())

	for _, bad := range []string{
		"controllers:\n  - type: grpc\n",
		"controllers:\n  - type: rest\n",
	} {
		provider = writeConfig(t, path, bad)
		_, err = NewControllerManager(ctx, &wg, provider, wsm, tm, logger)
		require.Error(t, err)
	}

	cancel()
	wg.Wait()
}
