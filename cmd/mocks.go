package cmd

import (
	"context"
	"sync"
	"time"

	"github.com/denis-papin/ava-home/internal/pkg/bus"
	"github.com/denis-papin/ava-home/internal/pkg/message"
)

type Published struct {
	Topic   string
	Payload string
}

// MockBus is a mock implementation of the Bus interface. Events pushed on
// Events reach the subscribed service.
type MockBus struct {
	ConnectFunc   func() error
	SubscribeFunc func(topics []string) error
	PublishFunc   func(ctx context.Context, topic string, payload []byte) error
	Events        chan bus.Event

	mu        sync.Mutex
	published []Published
	topics    []string
}

func NewMockBus() *MockBus {
	return &MockBus{Events: make(chan bus.Event, 64)}
}

func (m *MockBus) Connect() error {
	if m.ConnectFunc != nil {
		return m.ConnectFunc()
	}
	return nil
}

func (m *MockBus) Subscribe(topics []string) (<-chan bus.Event, error) {
	m.mu.Lock()
	m.topics = append(m.topics, topics...)
	m.mu.Unlock()
	if m.SubscribeFunc != nil {
		if err := m.SubscribeFunc(topics); err != nil {
			return nil, err
		}
	}
	return m.Events, nil
}

func (m *MockBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, topic, payload); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.published = append(m.published, Published{Topic: topic, Payload: string(payload)})
	m.mu.Unlock()
	return nil
}

func (m *MockBus) Disconnect() {}

func (m *MockBus) Published() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Published(nil), m.published...)
}

func (m *MockBus) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.topics...)
}

// MockStore is a mock implementation of the Store interface.
type MockStore struct {
	LatestTemperaturesFunc func(ctx context.Context) (map[string]float64, error)
	LatestDeviceStateFunc  func(ctx context.Context, topic string) ([]byte, error)
	CurrentPlanFunc        func(ctx context.Context, now time.Time, boost bool) (message.RegulationMap, error)

	mu           sync.Mutex
	temperatures map[string]float64
	states       map[string]string
	cleanups     int
}

func (m *MockStore) LatestTemperatures(ctx context.Context) (map[string]float64, error) {
	if m.LatestTemperaturesFunc != nil {
		return m.LatestTemperaturesFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.temperatures))
	for k, v := range m.temperatures {
		out[k] = v
	}
	return out, nil
}

func (m *MockStore) LatestDeviceState(ctx context.Context, topic string) ([]byte, error) {
	if m.LatestDeviceStateFunc != nil {
		return m.LatestDeviceStateFunc(ctx, topic)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[topic]; ok {
		return []byte(s), nil
	}
	return nil, nil
}

func (m *MockStore) LatestDeviceStates(context.Context) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.states))
	for k, v := range m.states {
		out[k] = []byte(v)
	}
	return out, nil
}

func (m *MockStore) CurrentPlan(ctx context.Context, now time.Time, boost bool) (message.RegulationMap, error) {
	if m.CurrentPlanFunc != nil {
		return m.CurrentPlanFunc(ctx, now, boost)
	}
	return message.RegulationMap{}, nil
}

func (m *MockStore) WriteTemperature(_ context.Context, deviceName string, temperature float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.temperatures == nil {
		m.temperatures = map[string]float64{}
	}
	m.temperatures[deviceName] = temperature
	return nil
}

func (m *MockStore) WriteDeviceState(_ context.Context, deviceName string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states == nil {
		m.states = map[string]string{}
	}
	m.states[deviceName] = string(state)
	return nil
}

func (m *MockStore) WritePlan(context.Context, time.Time, time.Time, bool, []byte) error {
	return nil
}

func (m *MockStore) Cleanup(context.Context, time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups++
	return nil
}

func (m *MockStore) Temperature(deviceName string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.temperatures[deviceName]
	return t, ok
}

func (m *MockStore) State(deviceName string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[deviceName]
	return s, ok
}

// MockActuator is a mock implementation of the Actuator interface.
type MockActuator struct {
	SetModeFunc    func(ctx context.Context, deviceID string, mode message.RadiatorMode) error
	LatestModeFunc func(ctx context.Context, deviceID string) (message.RadiatorMode, error)

	mu    sync.Mutex
	modes map[string]message.RadiatorMode
}

func (m *MockActuator) SetMode(ctx context.Context, deviceID string, mode message.RadiatorMode) error {
	if m.SetModeFunc != nil {
		if err := m.SetModeFunc(ctx, deviceID, mode); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.modes == nil {
		m.modes = map[string]message.RadiatorMode{}
	}
	m.modes[deviceID] = mode
	return nil
}

func (m *MockActuator) LatestMode(ctx context.Context, deviceID string) (message.RadiatorMode, error) {
	if m.LatestModeFunc != nil {
		return m.LatestModeFunc(ctx, deviceID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if mode, ok := m.modes[deviceID]; ok {
		return mode, nil
	}
	return message.ModeFRO, nil
}

func (m *MockActuator) Mode(deviceID string) (message.RadiatorMode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mode, ok := m.modes[deviceID]
	return mode, ok
}
