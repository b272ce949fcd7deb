package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Dusre/radar/pkg/logging"
	"github.com/Dusre/radar/pkg/metrics"
)

// ErrNotConnected is returned when publishing while the broker connection is down
var ErrNotConnected = errors.New("mqtt client not connected")

// Config configures the MQTT publisher
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Timeout  time.Duration
}

// MQTTPublisher publishes refresh events as JSON
type MQTTPublisher struct {
	client  mqtt.Client
	cfg     Config
	logger  *logging.StructuredLogger
	metrics *metrics.Collector

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New returns a Nop publisher when no broker is configured, otherwise a
// connected MQTTPublisher.
func New(ctx context.Context, cfg Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (Publisher, error) {
	if cfg.Broker == "" {
		logger.Info(ctx, "[EVENTS_DISABLED] No MQTT broker configured", nil)
		return Nop{}, nil
	}

	p := NewMQTTPublisher(cfg, logger, metricsCollector)
	if err := p.Connect(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// NewMQTTPublisher builds an unconnected publisher
func NewMQTTPublisher(cfg Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *MQTTPublisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	p := &MQTTPublisher{
		cfg:     cfg,
		logger:  logger,
		metrics: metricsCollector,
		stopCh:  make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
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

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		logger.Info(context.Background(), "[MQTT_CONNECTED] Connected to broker", logging.Fields{
			"broker": cfg.Broker,
		})
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		logger.Warn(context.Background(), "[MQTT_CONNECTION_LOST] Broker connection lost", logging.Fields{
			"broker": cfg.Broker,
			"error":  err.Error(),
		})
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect establishes the broker connection. The first attempt is bounded by
// the configured timeout; auto-reconnect only applies once connected.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return errors.New("publisher stopped")
	default:
	}

	if p.IsConnected() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		p.client.Disconnect(0)
		return fmt.Errorf("mqtt connect to %s: %w", p.cfg.Broker, ctx.Err())
	case <-p.stopCh:
		p.client.Disconnect(0)
		return errors.New("publisher stopped")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	return nil
}

// Publish sends the event to the configured topic and waits up to the
// configured timeout for the broker acknowledgement.
func (p *MQTTPublisher) Publish(ctx context.Context, event RefreshEvent) error {
	if !p.IsConnected() {
		p.metrics.RecordEvent("not_connected")
		return ErrNotConnected
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.metrics.RecordEvent("encode_error")
		return fmt.Errorf("failed to encode refresh event: %w", err)
	}

	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, false, payload)

	timeout := time.NewTimer(p.cfg.Timeout)
	defer timeout.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		p.metrics.RecordEvent("cancelled")
		return ctx.Err()
	case <-timeout.C:
		p.metrics.RecordEvent("timeout")
		return fmt.Errorf("publish to %s timed out after %s", p.cfg.Topic, p.cfg.Timeout)
	}

	if err := token.Error(); err != nil {
		p.metrics.RecordEvent("error")
		return fmt.Errorf("publish to %s: %w", p.cfg.Topic, err)
	}

	p.metrics.RecordEvent("success")
	p.logger.Debug(ctx, "[MQTT_PUBLISH] Refresh event published", logging.Fields{
		"topic":  p.cfg.Topic,
		"run_id": event.RunID,
		"bytes":  len(payload),
	})
	return nil
}

// IsConnected returns whether the client is connected
func (p *MQTTPublisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Close disconnects from the broker. Safe to call more than once.
func (p *MQTTPublisher) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.client != nil {
		p.client.Disconnect(250)
	}
	p.setConnected(false)
	p.logger.Info(context.Background(), "[MQTT_DISCONNECTED] Publisher closed", nil)
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}
