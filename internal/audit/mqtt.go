package audit

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

const (
	mqttPublishTimeout = 5 * time.Second
	mqttConnectTimeout = 10 * time.Second
)

// publisher is the subset of autopaho.ConnectionManager used by MQTTSink.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// MQTTConfig controls the MQTT fan-out sink.
type MQTTConfig struct {
	Broker    string
	Topic     string
	ClientID  string
	QueueSize int
}

// MQTTSink publishes each event as JSON to {topic}/{event_type}.
type MQTTSink struct {
	cm     *autopaho.ConnectionManager
	pub    publisher
	topic  string
	logger *slog.Logger
	w      *worker
}

// DialMQTT connects to the broker. A broker that is down at startup does not
// fail the call; autopaho keeps reconnecting in the background.
func DialMQTT(ctx context.Context, cfg MQTTConfig, logger *slog.Logger) (*MQTTSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	brokerURL, err := url.Parse(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("parse mqtt broker URL: %w", err)
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "yieldera-advisor-audit"
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{brokerURL},
		KeepAlive:  30,
		OnConnectionUp: func(_ *autopaho.ConnectionManager, _ *paho.Connack) {
			logger.Info("mqtt audit sink connected", "broker", cfg.Broker)
		},
		OnConnectError: func(err error) {
			logger.Warn("mqtt audit sink connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	s := newMQTTSink(cm, cfg.Topic, cfg.QueueSize, logger)
	s.cm = cm
	return s, nil
}

func newMQTTSink(pub publisher, topic string, queueSize int, logger *slog.Logger) *MQTTSink {
	s := &MQTTSink{
		pub:    pub,
		topic:  strings.TrimSuffix(topic, "/"),
		logger: logger,
	}
	s.w = startWorker("mqtt", queueSize, logger, s.publish)
	return s
}

// Log implements Sink.
func (s *MQTTSink) Log(event Event) {
	s.w.enqueue(Normalize(event))
}

func (s *MQTTSink) publish(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("mqtt marshal audit event", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mqttPublishTimeout)
	defer cancel()

	topic := s.topic + "/" + strings.ToLower(string(event.EventType))
	if _, err := s.pub.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		s.logger.Warn("mqtt audit publish failed", "topic", topic, "error", err)
	}
}

// Close drains pending events and disconnects.
func (s *MQTTSink) Close(ctx context.Context) error {
	s.w.stop()
	if s.cm == nil {
		return nil
	}
	return s.cm.Disconnect(ctx)
}
