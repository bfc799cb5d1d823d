package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"geowatch/internal/monitor"
)

const (
	DefaultMQTTTopic    = "geowatch/alerts"
	DefaultMQTTClientID = "geowatch"

	mqttConnectTimeout = 30 * time.Second
	mqttPublishTimeout = 10 * time.Second
)

// MQTTOptions configures an MQTTProvider.
type MQTTOptions struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
}

// MQTTProvider publishes alerts as JSON to a broker topic. The connection
// is opened on first use and kept for later alerts.
type MQTTProvider struct {
	opts MQTTOptions

	mu     sync.Mutex
	client mqtt.Client
}

var _ Provider = (*MQTTProvider)(nil)

// mqttMessage is the JSON body published for each alert.
type mqttMessage struct {
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
	SentAt time.Time         `json:"sent_at"`
}

func NewMQTTProvider(opts MQTTOptions) (*MQTTProvider, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if opts.Topic == "" {
		opts.Topic = DefaultMQTTTopic
	}
	if opts.ClientID == "" {
		opts.ClientID = DefaultMQTTClientID
	}
	return &MQTTProvider{opts: opts}, nil
}

func (*MQTTProvider) Name() string { return "mqtt" }

// Topic returns the topic alerts are published to.
func (m *MQTTProvider) Topic() string { return m.opts.Topic }

func (m *MQTTProvider) Send(ctx context.Context, n *monitor.Notification) error {
	payload, err := encodeMQTTMessage(n, time.Now())
	if err != nil {
		return err
	}

	client, err := m.connect(ctx)
	if err != nil {
		return err
	}

	token := client.Publish(m.opts.Topic, 0, false, payload)
	if !token.WaitTimeout(publishWait(ctx)) {
		return fmt.Errorf("mqtt publish to %s timed out", m.opts.Topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", m.opts.Topic, err)
	}
	return nil
}

// Close disconnects from the broker if connected.
func (m *MQTTProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	m.client = nil
	return nil
}

func (m *MQTTProvider) connect(ctx context.Context) (mqtt.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil && m.client.IsConnected() {
		return m.client, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.opts.Broker)
	opts.SetClientID(m.opts.ClientID)
	if m.opts.Username != "" {
		opts.SetUsername(m.opts.Username)
		opts.SetPassword(m.opts.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", m.opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", m.opts.Broker, err)
	}
	m.client = client
	return client, nil
}

func encodeMQTTMessage(n *monitor.Notification, now time.Time) ([]byte, error) {
	payload, err := json.Marshal(mqttMessage{
		Title:  n.Title,
		Body:   n.Body,
		Data:   n.Payload,
		SentAt: now.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode mqtt message: %w", err)
	}
	return payload, nil
}

func publishWait(ctx context.Context) time.Duration {
	wait := mqttPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < wait {
			wait = max(left, 0)
		}
	}
	return wait
}
