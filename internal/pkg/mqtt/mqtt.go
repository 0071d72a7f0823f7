package mqtt

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"sync"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/denis-papin/ava-home/internal/pkg/bus"
	"github.com/denis-papin/ava-home/internal/pkg/config"
)

var (
	ErrConnectTimeout   = errors.New("unable to connect in time")
	ErrSubscribeTimeout = errors.New("unable to subscribe in time")
	ErrPublishTimeout   = errors.New("unable to publish in time")
)

const eventBuffer = 1024

type service struct {
	client paho_mqtt.Client
	cfg    *config.MqttConfig
	events chan bus.Event
	logger *zap.Logger

	mu      sync.Mutex
	filters map[string]byte
}

// ClientID derives a broker client id from the service name and the host, or
// returns the configured one.
func ClientID(cfg *config.MqttConfig, service string) string {
	if cfg.ClientID != "" {
		return cfg.ClientID
	}
	host, _ := os.Hostname()
	return slug.Make(fmt.Sprintf("ava %s %s", service, host))
}

// Dial builds the service and its paho client. Subscriptions are restored
// every time the client reconnects.
func Dial(cfg *config.MqttConfig, clientID string) *service {
	s := New(nil, cfg)
	s.client = NewClient(cfg, clientID, s.OnConnect)
	return s
}

// NewClient builds a paho client from the configuration. onConnect runs after
// every successful connection, reconnections included.
func NewClient(cfg *config.MqttConfig, clientID string, onConnect paho_mqtt.OnConnectHandler) paho_mqtt.Client {
	opts := paho_mqtt.NewClientOptions().
		AddBroker(cfg.Broker()).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetKeepAlive(cfg.KeepAlive).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetConnectionLostHandler(func(_ paho_mqtt.Client, err error) {
			zap.L().Warn("mqtt connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(c paho_mqtt.Client) {
			zap.L().Info("mqtt connected", zap.String("broker", cfg.Broker()), zap.String("client_id", clientID))
			if onConnect != nil {
				onConnect(c)
			}
		})
	return paho_mqtt.NewClient(opts)
}

func New(client paho_mqtt.Client, cfg *config.MqttConfig) *service {
	return &service{
		client: client,
		cfg:    cfg,
		events: make(chan bus.Event, eventBuffer),
		logger: zap.L(),
	}
}

func (s *service) Connect() error {
	token := s.client.Connect()
	res := token.WaitTimeout(s.cfg.ConnectTimeout)
	if err := token.Error(); err != nil {
		return err
	}
	if res {
		return nil
	}
	return ErrConnectTimeout
}

// Subscribe listens to topics. Every received message is queued on the
// returned channel in arrival order.
func (s *service) Subscribe(topics []string) (<-chan bus.Event, error) {
	if len(topics) == 0 {
		return s.events, nil
	}
	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = s.cfg.QoS
		s.logger.Info("subscribe", zap.String("topic", topic))
	}
	s.mu.Lock()
	if s.filters == nil {
		s.filters = make(map[string]byte, len(filters))
	}
	maps.Copy(s.filters, filters)
	s.mu.Unlock()

	token := s.client.SubscribeMultiple(filters, s.onMessage)
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		return nil, ErrSubscribeTimeout
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	return s.events, nil
}

// OnConnect restores the subscriptions a clean session loses on reconnect.
func (s *service) OnConnect(client paho_mqtt.Client) {
	s.mu.Lock()
	filters := maps.Clone(s.filters)
	s.mu.Unlock()
	if len(filters) == 0 {
		return
	}
	token := client.SubscribeMultiple(filters, s.onMessage)
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		s.logger.Error("resubscribe timed out", zap.Int("topics", len(filters)))
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Error("resubscribe failed", zap.Error(err))
		return
	}
	s.logger.Info("subscriptions restored", zap.Int("topics", len(filters)))
}

func (s *service) onMessage(_ paho_mqtt.Client, msg paho_mqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())
	select {
	case s.events <- bus.Event{Topic: msg.Topic(), Payload: payload}:
	default:
		s.logger.Warn("event queue full, message dropped", zap.String("topic", msg.Topic()))
	}
}

// Publish sends payload and waits for the broker to take it.
func (s *service) Publish(ctx context.Context, topic string, payload []byte) error {
	token := s.client.Publish(topic, s.cfg.QoS, false, payload)
	timer := time.NewTimer(s.cfg.PublishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *service) Disconnect() {
	s.client.Disconnect(250)
}
