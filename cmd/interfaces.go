package cmd

import (
	"context"
	"time"

	"github.com/denis-papin/ava-home/internal/pkg/bus"
	"github.com/denis-papin/ava-home/internal/pkg/message"
)

// Bus defines what every service expects from the broker client.
type Bus interface {
	Connect() error
	Subscribe(topics []string) (<-chan bus.Event, error)
	Publish(ctx context.Context, topic string, payload []byte) error
	Disconnect()
}

// Store defines the history and plan queries the services run.
type Store interface {
	LatestTemperatures(ctx context.Context) (map[string]float64, error)
	LatestDeviceState(ctx context.Context, topic string) ([]byte, error)
	LatestDeviceStates(ctx context.Context) (map[string][]byte, error)
	CurrentPlan(ctx context.Context, now time.Time, boost bool) (message.RegulationMap, error)
	WriteTemperature(ctx context.Context, deviceName string, temperature float64) error
	WriteDeviceState(ctx context.Context, deviceName string, state []byte) error
	WritePlan(ctx context.Context, start, end time.Time, boost bool, regulationMap []byte) error
	Cleanup(ctx context.Context, retention time.Duration) error
}

// Actuator drives radiators through their vendor cloud.
type Actuator interface {
	SetMode(ctx context.Context, deviceID string, mode message.RadiatorMode) error
	LatestMode(ctx context.Context, deviceID string) (message.RadiatorMode, error)
}
