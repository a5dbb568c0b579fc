// internal/sink/mqtt.go
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTConfig configures the sample publisher.
type MQTTConfig struct {
	Broker   string // tcp://host:1883
	Topic    string // samples go to <Topic>/<channel>
	ClientID string
	QoS      byte
}

// publisher is the part of mqtt.Client the publisher uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

const publishTimeout = 5 * time.Second

// MQTT publishes samples as JSON. Push only enqueues; Run drains the queue
// on its own goroutine so a slow broker never stalls the engine.
type MQTT struct {
	cfg    MQTTConfig
	client mqtt.Client
	pub    publisher
	q      *Queue[Sample]
	log    zerolog.Logger
}

// NewMQTT builds a publisher with a drop-oldest buffer of capacity samples.
func NewMQTT(cfg MQTTConfig, capacity int, logger zerolog.Logger) *MQTT {
	m := &MQTT{
		cfg: cfg,
		q:   NewQueue[Sample](capacity),
		log: logger.With().Str("component", "mqtt").Str("broker", cfg.Broker).Logger(),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetMaxReconnectInterval(5 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetWriteTimeout(publishTimeout)
	opts.OnConnect = func(mqtt.Client) {
		m.log.Info().Msg("mqtt connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.log.Warn().Err(err).Msg("mqtt connection lost")
	}

	m.client = mqtt.NewClient(opts)
	m.pub = m.client
	return m
}

// Connect dials the broker once. Later drops are handled by paho's
// auto-reconnect.
func (m *MQTT) Connect() error {
	tok := m.client.Connect()
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt connect %s: timeout", m.cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", m.cfg.Broker, err)
	}
	return nil
}

func (m *MQTT) Push(s Sample) { m.q.Push(s) }

// Dropped counts samples lost to a full buffer.
func (m *MQTT) Dropped() uint64 { return m.q.Dropped() }

// Run publishes queued samples until ctx ends.
func (m *MQTT) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.q.C():
			for _, s := range m.q.Drain() {
				if err := m.publish(s); err != nil {
					m.log.Warn().Err(err).Str("channel", string(s.Channel)).Msg("publish failed")
				}
			}
		}
	}
}

// Close disconnects, waiting up to 250ms for in-flight messages.
func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}

// Topic returns the topic a channel publishes to.
func (m *MQTT) Topic(ch Channel) string {
	return strings.TrimSuffix(m.cfg.Topic, "/") + "/" + strings.ToLower(string(ch))
}

func (m *MQTT) publish(s Sample) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	tok := m.pub.Publish(m.Topic(s.Channel), m.cfg.QoS, false, payload)
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	return tok.Error()
}
