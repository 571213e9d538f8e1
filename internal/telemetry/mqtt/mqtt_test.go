package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chrissnell/weatherhat/internal/types"
	"github.com/chrissnell/weatherhat/pkg/config"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeToken struct {
	paho.Token
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	paho.Client

	mu           sync.Mutex
	connected    bool
	disconnected bool
	publishErr   error
	published    []message
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Connect() paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, message{topic, qos, retained, payload.([]byte)})
	return &fakeToken{err: c.publishErr}
}

func (c *fakeClient) messages() []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message(nil), c.published...)
}

func TestNewValidates(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	_, err := New(config.MQTTData{}, logger)
	require.Error(t, err)

	_, err = New(config.MQTTData{Broker: "mqtt.local", QoS: 3}, logger)
	require.Error(t, err)

	p, err := New(config.MQTTData{Broker: "mqtt.local"}, logger)
	require.NoError(t, err)
	require.Equal(t, 1883, p.cfg.Port)
	require.True(t, strings.HasPrefix(p.cfg.ClientID, "weatherhat-"))
}

func TestTopic(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "", want: "weatherhat/garden/telemetry"},
		{prefix: "home/weather", want: "home/weather/garden/telemetry"},
		{prefix: "home/weather/", want: "home/weather/garden/telemetry"},
	}
	for _, tt := range tests {
		p := newPublisher(&fakeClient{}, config.MQTTData{Broker: "b", TopicPrefix: tt.prefix}, zaptest.NewLogger(t).Sugar())
		require.Equal(t, tt.want, p.Topic("garden"))
	}
}

func TestPublish(t *testing.T) {
	client := &fakeClient{}
	p := newPublisher(client, config.MQTTData{Broker: "b", QoS: 1, Retain: true}, zaptest.NewLogger(t).Sugar())

	r := types.Reading{
		Timestamp:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		StationName: "garden",
		Temperature: 21.5,
		WindSpeed:   3.2,
	}

	require.ErrorIs(t, p.Publish(r), ErrNotConnected)
	require.Empty(t, client.messages())

	client.connected = true
	require.NoError(t, p.Publish(r))

	msgs := client.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "weatherhat/garden/telemetry", msgs[0].topic)
	require.Equal(t, byte(1), msgs[0].qos)
	require.True(t, msgs[0].retained)

	var got types.Reading
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	require.Equal(t, r, got)

	boom := errors.New("broker rejected")
	client.publishErr = boom
	require.ErrorIs(t, p.Publish(r), boom)
}

func TestStartSink(t *testing.T) {
	client := &fakeClient{}
	p := newPublisher(client, config.MQTTData{Broker: "b"}, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	c := p.StartSink(ctx, &wg)

	c <- types.Reading{StationName: "garden"}
	c <- types.Reading{StationName: "roof"}
	require.Eventually(t, func() bool { return len(client.messages()) == 2 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, "weatherhat/roof/telemetry", client.messages()[1].topic)

	cancel()
	wg.Wait()

	client.mu.Lock()
	defer client.mu.Unlock()
	require.True(t, client.disconnected)
}
