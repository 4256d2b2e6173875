package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"weather-archive-server/internal/config"
	"weather-archive-server/internal/modules/weather/types"
	"weather-archive-server/internal/observability"
)

// handlerTimeout bounds one MessageHandler call.
const handlerTimeout = 10 * time.Second

// MessageHandler stores one validated observation.
type MessageHandler func(ctx context.Context, o types.Observation) error

type Subscriber struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once

	handlerMu sync.RWMutex
	handler   MessageHandler
}

// MQTTSubscriber is implemented by anything that can deliver observations.
type MQTTSubscriber interface {
	SetMessageHandler(handler MessageHandler)
}

func (s *Subscriber) SetMessageHandler(handler MessageHandler) {
	s.handlerMu.Lock()
	s.handler = handler
	s.handlerMu.Unlock()
}

func NewSubscriber(cfg config.Config, metrics *observability.Metrics, logger *slog.Logger) (*Subscriber, error) {
	if cfg.MQTTBroker == "" {
		return nil, fmt.Errorf("mqtt broker is not configured")
	}
	s := &Subscriber{
		cfg:     cfg,
		logger:  logger.With("component", "mqtt"),
		metrics: metrics,
		stopCh:  make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)

	// Session settings
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Callbacks keep internal state accurate
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		s.setConnected(true)
		s.logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		s.logger.Warn("mqtt connection lost", "error", err)
	})

	s.client = mqtt.NewClient(opts)
	return s, nil
}

// Connect establishes connection to the MQTT broker and subscribes to the configured topic.
func (s *Subscriber) Connect(ctx context.Context) error {
	// Fail fast if already stopped.
	select {
	case <-s.stopCh:
		return fmt.Errorf("subscriber stopped")
	default:
	}

	// Fast path.
	if s.IsConnected() {
		return nil
	}

	// Start connect attempt.
	token := s.client.Connect()

	// Wait in a ctx/stop-aware loop.
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			// OnConnectHandler sets connected=true.
			break
		}

		select {
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		case <-s.stopCh:
			s.client.Disconnect(0)
			return fmt.Errorf("subscriber stopped")
		default:
		}
	}

	// Subscribe to the topic
	if err := s.subscribe(); err != nil {
		s.client.Disconnect(0)
		return fmt.Errorf("subscribe: %w", err)
	}

	return nil
}

func (s *Subscriber) subscribe() error {
	if !s.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	topic := s.cfg.MQTTTopic
	qos := byte(1) // At least once delivery

	// Set up message handler
	messageHandler := func(client mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	}

	token := s.client.Subscribe(topic, qos, messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
	}

	s.logger.Info("subscribed to mqtt topic", "topic", topic, "qos", qos)
	return nil
}

func (s *Subscriber) handleMessage(topic string, payload []byte) {
	s.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	var o types.Observation
	if err := json.Unmarshal(payload, &o); err != nil {
		s.metrics.LiveMessages.WithLabelValues("invalid").Inc()
		s.logger.Warn("failed to parse observation message",
			"topic", topic,
			"error", err,
			"payload", string(payload),
		)
		return
	}
	o.ID = 0
	o.Timestamp = o.Timestamp.UTC().Truncate(time.Second)

	if err := validateObservation(o); err != nil {
		s.metrics.LiveMessages.WithLabelValues("invalid").Inc()
		s.logger.Warn("invalid observation message",
			"topic", topic,
			"timestamp", o.Key(),
			"error", err,
		)
		return
	}

	s.handlerMu.RLock()
	handler := s.handler
	s.handlerMu.RUnlock()
	if handler == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := handler(ctx, o); err != nil {
		s.metrics.LiveMessages.WithLabelValues("failed").Inc()
		s.logger.Error("message handler failed",
			"topic", topic,
			"timestamp", o.Key(),
			"error", err,
		)
		return
	}
	s.metrics.LiveMessages.WithLabelValues("ingested").Inc()
	s.logger.Debug("processed observation message", "timestamp", o.Key())
}

func validateObservation(o types.Observation) error {
	if o.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	if o.AirHumidity != nil {
		if *o.AirHumidity < 0 || *o.AirHumidity > 100 {
			return fmt.Errorf("airHumidity out of range: %f (must be 0-100)", *o.AirHumidity)
		}
	}

	if o.AtmPressure != nil {
		if *o.AtmPressure <= 0 {
			return fmt.Errorf("atmPressure must be positive: %f", *o.AtmPressure)
		}
	}

	if o.Cloudiness != nil {
		if *o.Cloudiness < 0 || *o.Cloudiness > 100 {
			return fmt.Errorf("cloudiness out of range: %f (must be 0-100)", *o.Cloudiness)
		}
	}

	if o.Temperature == nil && o.AirHumidity == nil && o.DewPoint == nil && o.AtmPressure == nil &&
		o.AirDirection == nil && o.AirSpeed == nil && o.Cloudiness == nil && o.H == nil &&
		o.VV == nil && o.WeatherEvents == nil {
		return fmt.Errorf("at least one measurement is required")
	}

	return nil
}

// IsConnected returns whether the client is connected.
func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect stops the subscriber and closes the MQTT connection.
// Idempotent and safe to call multiple times.
func (s *Subscriber) Disconnect() {
	// Signal shutdown once (unblocks any Connect loops).
	s.stopOnce.Do(func() { close(s.stopCh) })

	// Unsubscribe before disconnecting
	if s.client != nil && s.IsConnected() {
		token := s.client.Unsubscribe(s.cfg.MQTTTopic)
		token.WaitTimeout(2 * time.Second)
	}

	// Disconnect without holding s.mu to avoid lock contention/deadlocks.
	if s.client != nil {
		s.client.Disconnect(250)
	}

	// Update our internal state.
	s.setConnected(false)
	s.logger.Info("mqtt subscriber disconnected")
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
