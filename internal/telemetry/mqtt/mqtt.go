// Package mqtt publishes station readings to an MQTT broker as JSON.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chrissnell/weatherhat/internal/types"
	"github.com/chrissnell/weatherhat/pkg/config"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPort        = 1883
	defaultTopicPrefix = "weatherhat"
	publishTimeout     = 5 * time.Second
)

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt client not connected")

// Publisher is a telemetry sink that publishes every reading to
// <topic-prefix>/<station>/telemetry.
type Publisher struct {
	client paho.Client
	cfg    config.MQTTData
	logger *zap.SugaredLogger
}

// New validates cfg and builds a publisher. The broker connection is made
// when the sink is started.
func New(cfg config.MQTTData, logger *zap.SugaredLogger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("you must provide an MQTT broker in the configuration file")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid MQTT QoS %d", cfg.QoS)
	}
	cfg = withDefaults(cfg)

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ paho.Client) {
		logger.Infow("mqtt connected", "broker", cfg.Broker, "port", cfg.Port, "client_id", cfg.ClientID)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warnw("mqtt connection lost", "broker", cfg.Broker, "error", err)
	})

	return newPublisher(paho.NewClient(opts), cfg, logger), nil
}

func newPublisher(client paho.Client, cfg config.MQTTData, logger *zap.SugaredLogger) *Publisher {
	return &Publisher{
		client: client,
		cfg:    withDefaults(cfg),
		logger: logger,
	}
}

func withDefaults(cfg config.MQTTData) config.MQTTData {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = defaultTopicPrefix
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "weatherhat-" + uuid.NewString()
	}
	return cfg
}

// Topic returns the topic readings from station are published to.
func (p *Publisher) Topic(station string) string {
	return strings.TrimSuffix(p.cfg.TopicPrefix, "/") + "/" + station + "/telemetry"
}

// StartSink connects to the broker in the background and publishes every
// reading received on the returned channel until ctx is done.
func (p *Publisher) StartSink(ctx context.Context, wg *sync.WaitGroup) chan<- types.Reading {
	p.logger.Infof("starting MQTT telemetry publisher for %s:%d...", p.cfg.Broker, p.cfg.Port)
	readingChan := make(chan types.Reading, 10)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer p.client.Disconnect(250)

		if err := p.connect(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				p.logger.Errorf("mqtt connect: %v", err)
			}
		}

		for {
			select {
			case r := <-readingChan:
				if err := p.Publish(r); err != nil {
					p.logger.Warnw("mqtt publish failed", "station", r.StationName, "error", err)
				}
			case <-ctx.Done():
				p.logger.Info("cancellation request received. Stopping MQTT publisher")
				return
			}
		}
	}()

	return readingChan
}

// connect waits for the initial connection. With connect-retry enabled the
// client keeps retrying on its own, so only ctx ends the wait early.
func (p *Publisher) connect(ctx context.Context) error {
	if p.client.IsConnected() {
		return nil
	}

	token := p.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Publish sends r as JSON to its station's topic.
func (p *Publisher) Publish(r types.Reading) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}

	topic := p.Topic(r.StationName)
	token := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retain, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	p.logger.Debugw("published telemetry", "topic", topic, "station", r.StationName)
	return nil
}
