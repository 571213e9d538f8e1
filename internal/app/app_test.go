package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chrissnell/weatherhat/pkg/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRunLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	write := func(contents string) {
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	}
	write(`
devices:
  - name: garden
    backend: simulator
    sample-interval: 1s
  - name: shed
    backend: simulator
    enabled: false
`)

	provider := config.NewYAMLProvider(path)
	_, err := provider.LoadConfig()
	require.NoError(t, err)

	a := New(provider, zaptest.NewLogger(t).Sugar())
	require.Error(t, a.ReloadConfiguration(context.Background()), "not running yet")
	require.Error(t, a.AddWeatherStation("shed"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		wsm, err := a.stations()
		return err == nil && len(wsm.StationNames()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	write(`
devices:
  - name: garden
    backend: simulator
    enabled: false
  - name: shed
    backend: simulator
`)
	require.NoError(t, a.ReloadConfiguration(ctx))

	wsm, err := a.stations()
	require.NoError(t, err)
	require.Equal(t, []string{"shed"}, wsm.StationNames())

	require.NoError(t, a.RemoveWeatherStation("shed"))
	require.Empty(t, wsm.StationNames())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
