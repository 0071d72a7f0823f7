package publisher

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var errAlreadyRegistered = errors.New("publisher already registered")

var registeredPublishers = make(map[string]publisher)

type publisher interface {
	WriteTemperature(ctx context.Context, deviceName string, temperature float64) error
	WriteDeviceState(ctx context.Context, deviceName string, state []byte) error
}

// RegisterPublisher adds a history sink. Names are unique.
func RegisterPublisher(name string, p publisher) error {
	if _, ok := registeredPublishers[name]; ok {
		return errAlreadyRegistered
	}
	registeredPublishers[name] = p
	return nil
}

// RecordTemperature writes a temperature reading to every registered sink.
// A failing sink does not stop the others.
func RecordTemperature(ctx context.Context, deviceName string, temperature float64) error {
	for name, p := range registeredPublishers {
		if err := p.WriteTemperature(ctx, deviceName, temperature); err != nil {
			zap.L().Error("failed to record temperature", zap.Error(err), zap.String("publisher", name), zap.String("device", deviceName))
			continue
		}
		zap.L().Debug("recorded temperature", zap.String("device", deviceName), zap.Float64("temperature", temperature), zap.String("publisher", name))
	}
	return nil
}

// RecordState writes a device state to every registered sink.
func RecordState(ctx context.Context, deviceName string, state []byte) error {
	for name, p := range registeredPublishers {
		if err := p.WriteDeviceState(ctx, deviceName, state); err != nil {
			zap.L().Error("failed to record device state", zap.Error(err), zap.String("publisher", name), zap.String("device", deviceName))
			continue
		}
		zap.L().Debug("recorded device state", zap.String("device", deviceName), zap.ByteString("state", state), zap.String("publisher", name))
	}
	return nil
}
