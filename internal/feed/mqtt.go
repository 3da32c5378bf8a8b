package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"safeboard/internal/board"
)

const (
	mqttQoS         = 1
	mqttWaitTimeout = 5 * time.Second
)

// MQTTFeed carries post-change rows on an MQTT topic as retained messages,
// so a session connecting later immediately receives the current row.
type MQTTFeed struct {
	*Hub
	client mqtt.Client
	topic  string
	logger board.Logger
}

// MQTTConfig configures an MQTTFeed.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
}

// NewMQTTFeed connects to the broker and subscribes to the topic.
func NewMQTTFeed(cfg MQTTConfig, logger board.Logger) (*MQTTFeed, error) {
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("mqtt broker and topic are required")
	}
	f := &MQTTFeed{Hub: NewHub(), topic: cfg.Topic, logger: logger}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			// Subscriptions do not survive a reconnect with a clean session.
			if err := f.subscribe(); err != nil {
				f.logger.Warn("subscribing to config changes", "error", err)
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			f.logger.Warn("mqtt connection lost", "error", err)
		})

	f.client = mqtt.NewClient(opts)
	token := f.client.Connect()
	if !token.WaitTimeout(mqttWaitTimeout) {
		return nil, fmt.Errorf("connecting to mqtt broker %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to mqtt broker %s: %w", cfg.Broker, err)
	}
	return f, nil
}

func newMQTTFeedWithClient(client mqtt.Client, topic string, logger board.Logger) (*MQTTFeed, error) {
	f := &MQTTFeed{Hub: NewHub(), client: client, topic: topic, logger: logger}
	if err := f.subscribe(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *MQTTFeed) subscribe() error {
	token := f.client.Subscribe(f.topic, mqttQoS, f.handle)
	if !token.WaitTimeout(mqttWaitTimeout) {
		return fmt.Errorf("subscribing to %s: timed out", f.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribing to %s: %w", f.topic, err)
	}
	return nil
}

func (f *MQTTFeed) handle(_ mqtt.Client, msg mqtt.Message) {
	cfg, err := decodeRow(msg.Payload())
	if err != nil {
		f.logger.Warn("ignoring config change message", "topic", msg.Topic(), "error", err)
		return
	}
	f.broadcast(cfg)
}

// Publish sends cfg as the topic's retained message.
func (f *MQTTFeed) Publish(ctx context.Context, cfg board.AccidentConfig) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config row: %w", err)
	}
	token := f.client.Publish(f.topic, mqttQoS, true, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to mqtt: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (f *MQTTFeed) Close() error {
	f.client.Disconnect(250)
	return nil
}

var _ board.ChangeFeed = (*MQTTFeed)(nil)
