package regulation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/denis-papin/ava-home/internal/pkg/device"
	"github.com/denis-papin/ava-home/internal/pkg/message"
)

var ErrNoReadings = errors.New("no temperature readings")

// TemperatureReader returns the latest temperature of every sensor, by topic.
type TemperatureReader interface {
	LatestTemperatures(ctx context.Context) (map[string]float64, error)
}

// ModeReader returns the mode a radiator actually runs in, as reported by its
// vendor cloud.
type ModeReader interface {
	LatestMode(ctx context.Context, deviceID string) (message.RadiatorMode, error)
}

// StateReader returns the last persisted state of a device.
type StateReader interface {
	LatestDeviceState(ctx context.Context, topic string) ([]byte, error)
}

type Config struct {
	// Margin is the half-width of the hysteresis band, in °C.
	Margin float64
	// CheckEvery makes every Nth cycle read radiator modes from the cloud.
	// Zero disables the check.
	CheckEvery int
	// Sensors maps temperature sensor topics to their zone.
	Sensors map[string]message.Zone
}

// Engine evaluates regulation maps. One cycle starts with every regulation
// map received on the bus.
type Engine struct {
	cfg    Config
	temps  TemperatureReader
	modes  ModeReader
	states StateReader

	tick     int
	checking bool
	// held keeps the hand-set modes found by check cycles, by radiator
	// topic, until a later check reports a mode we drive again.
	held map[string]message.RadiatorMode

	logger *zap.Logger
}

// NewEngine builds an engine. modes and states may be nil.
func NewEngine(cfg Config, temps TemperatureReader, modes ModeReader, states StateReader) *Engine {
	return &Engine{
		cfg:    cfg,
		temps:  temps,
		modes:  modes,
		states: states,
		held:   make(map[string]message.RadiatorMode),
		logger: zap.L(),
	}
}

// Checking reports whether the current cycle reconciles modes with the cloud.
func (e *Engine) Checking() bool {
	return e.checking
}

// Prepare starts a cycle for a regulation map and loads the readings every
// radiator decision of that cycle uses. Other messages get an empty context.
func (e *Engine) Prepare(ctx context.Context, msg message.Message) (device.Context, error) {
	if msg.Kind() != message.KindRegulationMap {
		return device.Context{}, nil
	}
	e.tick++
	e.checking = e.cfg.CheckEvery > 0 && e.tick%e.cfg.CheckEvery == 0

	latest, err := e.temps.LatestTemperatures(ctx)
	if err != nil {
		return device.Context{}, fmt.Errorf("read temperatures: %w", err)
	}
	readings := make(map[message.Zone]float64, len(e.cfg.Sensors))
	for topic, t := range latest {
		zone, ok := e.cfg.Sensors[topic]
		if !ok {
			continue
		}
		readings[zone] = t
		e.logger.Debug("temperature", zap.String("sensor", topic), zap.String("zone", string(zone)), zap.Float64("t", t))
	}
	if len(readings) == 0 {
		return device.Context{}, ErrNoReadings
	}
	e.logger.Info("regulation cycle", zap.Int("tick", e.tick), zap.Bool("check_mode", e.checking))
	return device.Context{Readings: readings}, nil
}

// LastState refreshes a radiator before it is evaluated: from the cloud on
// check cycles, otherwise from the hand-set mode the last check found, or
// from the persisted device state.
func (e *Engine) LastState(ctx context.Context, d *device.Device) (message.Message, error) {
	if e.checking && e.modes != nil && d.ExternalID() != "" {
		mode, err := e.modes.LatestMode(ctx, d.ExternalID())
		if err != nil {
			return nil, fmt.Errorf("read mode of %s: %w", d.Topic(), err)
		}
		if ActionOf(mode) == NoAction {
			e.held[d.Topic()] = mode
		} else {
			delete(e.held, d.Topic())
		}
		e.logger.Info("reconciled radiator", zap.String("device", d.Topic()), zap.String("mode", string(mode)), zap.Stringer("action", ActionOf(mode)))
		return message.Radiator{Mode: mode}, nil
	}
	if mode, ok := e.held[d.Topic()]; ok {
		return message.Radiator{Mode: mode}, nil
	}
	if e.states == nil {
		return nil, nil
	}
	raw, err := e.states.LatestDeviceState(ctx, d.Topic())
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return message.Parse(d.Kind(), raw)
}

// Overridden reports whether the radiator at topic runs a mode set by hand:
// eco wherever it was seen, frost guard when a check cycle read it from the
// cloud.
func (e *Engine) Overridden(topic string, mode message.RadiatorMode) bool {
	if IsOverride(mode) {
		return true
	}
	held, ok := e.held[topic]
	return ok && held == mode
}

// Transform returns the conversion installed on radiator d.
func (e *Engine) Transform(d *device.Device) device.Transform {
	zone := d.Zone()
	return func(original, last message.Message, c device.Context) message.Message {
		rm, ok := original.(message.RegulationMap)
		if !ok {
			return message.Convert(original, message.KindRadiator, last)
		}
		rad := last.(message.Radiator)
		if e.Overridden(d.Topic(), rad.Mode) {
			e.logger.Info("radiator under manual override", zap.String("zone", string(zone)), zap.String("mode", string(rad.Mode)))
			return last
		}
		tc, ok := rm.Target(zone)
		if !ok {
			e.logger.Warn("no set-point for zone", zap.String("zone", string(zone)))
			return last
		}
		t, ok := c.Readings[zone]
		if !ok {
			e.logger.Warn("no temperature for zone", zap.String("zone", string(zone)))
			return last
		}
		action := Decide(t, tc, e.cfg.Margin)
		e.logger.Info("radiator decision",
			zap.String("zone", string(zone)),
			zap.Float64("t", t),
			zap.Float64("tc", tc),
			zap.String("mode", string(rad.Mode)),
			zap.Stringer("action", action),
		)
		return Command(action, rad)
	}
}

// Install wires the engine into the radiators of a regulator service.
func (e *Engine) Install(radiators ...*device.Device) {
	for _, d := range radiators {
		d.Apply(device.WithTransform(e.Transform(d)), device.WithStateSource(e))
	}
}
