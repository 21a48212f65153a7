package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/config"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // ms
	keepAlive         = 60 * time.Second
	maxQoS            = 2
)

var (
	ErrNotConnected  = errors.New("mqtt: not connected")
	ErrPublishFailed = errors.New("mqtt: publish failed")
)

// mqttClient is the subset of the paho client the publisher uses.
type mqttClient interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Publisher sends execution events to an MQTT broker.
type Publisher struct {
	client mqttClient
	prefix string
	qos    byte
	logger *zap.Logger
}

func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	// Broker meldet unerwarteten Abbruch
	opts.SetWill(statusTopic(cfg.TopicPrefix), statusPayload(cfg.ClientID, "offline"), 1, true)
	return opts
}

func statusTopic(prefix string) string {
	return prefix + "/status"
}

func statusPayload(clientID, status string) string {
	return fmt.Sprintf(`{"status":%q,"client_id":%q,"timestamp":%q}`,
		status, clientID, time.Now().UTC().Format(time.RFC3339))
}

// Connect dials the broker and announces the daemon as online.
func Connect(cfg config.MQTTConfig, logger *zap.Logger) (*Publisher, error) {
	if cfg.QoS > maxQoS {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}

	opts := buildClientOptions(cfg)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect: timeout after %v", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	p := NewPublisher(client, cfg.TopicPrefix, cfg.QoS, logger)
	if err := p.publish(statusTopic(cfg.TopicPrefix), []byte(statusPayload(cfg.ClientID, "online")), true); err != nil {
		logger.Warn("MQTT online status not published", zap.Error(err))
	}
	logger.Info("MQTT connected", zap.String("broker", cfg.Broker))
	return p, nil
}

func NewPublisher(client mqttClient, prefix string, qos byte, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, prefix: prefix, qos: qos, logger: logger}
}

// EventTopic is <prefix>/executions/<id>/events.
func (p *Publisher) EventTopic(executionID uuid.UUID) string {
	return fmt.Sprintf("%s/executions/%s/events", p.prefix, executionID)
}

type eventMessage struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Data        any       `json:"data,omitempty"`
}

// PublishEvent sends one execution event. Failures are logged, a run never
// stops because the broker is away.
func (p *Publisher) PublishEvent(executionID uuid.UUID, eventType string, ts time.Time, data any) {
	payload, err := json.Marshal(eventMessage{ExecutionID: executionID, Type: eventType, Timestamp: ts, Data: data})
	if err != nil {
		p.logger.Error("Failed to encode MQTT event", zap.Error(err))
		return
	}
	if err := p.publish(p.EventTopic(executionID), payload, false); err != nil {
		p.logger.Warn("MQTT event not published",
			zap.String("execution_id", executionID.String()),
			zap.String("type", eventType),
			zap.Error(err))
	}
}

func (p *Publisher) publish(topic string, payload []byte, retained bool) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	token := p.client.Publish(topic, p.qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p.client.IsConnected() {
		_ = p.publish(statusTopic(p.prefix), []byte(`{"status":"offline","reason":"graceful_shutdown"}`), true)
	}
	p.client.Disconnect(disconnectQuiesce)
}
