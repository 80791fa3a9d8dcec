package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig holds the broker connection settings for the MQTT sink.
type MQTTConfig struct {
	// Broker is the broker URI (e.g., tcp://localhost:1883).
	Broker string `yaml:"broker" json:"broker"`

	ClientID string `yaml:"client_id" json:"client_id"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`

	// Topic is the publish topic prefix; the session ID is appended.
	Topic string `yaml:"topic" json:"topic"`

	// QOS is the Quality of Service level (0, 1, 2).
	QOS int `yaml:"qos" json:"qos"`

	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout" json:"publish_timeout"`
}

// DefaultMQTTConfig returns usable local-broker defaults.
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:         "tcp://localhost:1883",
		ClientID:       fmt.Sprintf("portmgr-%d", time.Now().Unix()),
		Topic:          "portmgr/frames",
		QOS:            0,
		ConnectTimeout: 10 * time.Second,
		PublishTimeout: 5 * time.Second,
	}
}

// MQTTSink publishes every event as a JSON document to
// <topic>/<session>.
type MQTTSink struct {
	config MQTTConfig
	client mqtt.Client
}

// NewMQTTSink connects to the broker and returns the sink.
func NewMQTTSink(config MQTTConfig) (*MQTTSink, error) {
	if config.Broker == "" {
		config = DefaultMQTTConfig()
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 5 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(config.ClientID).
		SetConnectTimeout(config.ConnectTimeout).
		SetAutoReconnect(true)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(config.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", config.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", config.Broker, err)
	}
	return &MQTTSink{config: config, client: client}, nil
}

func (s *MQTTSink) Record(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	topic := s.config.Topic
	if ev.Session != "" {
		topic = topic + "/" + ev.Session
	}
	token := s.client.Publish(topic, byte(s.config.QOS), false, payload)
	if !token.WaitTimeout(s.config.PublishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	return token.Error()
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
