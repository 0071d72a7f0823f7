// Package device implements the per-topic state machine that tells genuine
// changes apart from the echoes of commands the controller published itself.
//
// A Device is not safe for concurrent use. All devices of a service are owned
// by its single dispatch goroutine.
package device

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/denis-papin/ava-home/internal/pkg/message"
)

var ErrKindMismatch = errors.New("message kind does not match device")

// Context carries data computed once per bus event and shared by every
// device consuming it.
type Context struct {
	Readings map[message.Zone]float64
}

// Publisher sends a payload on the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Transform turns the event's original message into the device's own kind.
// The default is message.Convert.
type Transform func(original, last message.Message, c Context) message.Message

// SideEffect runs on every genuine change of a device, before propagation.
// On a commanded device it runs once the command is published.
type SideEffect func(ctx context.Context, d *Device, msg message.Message) error

// StateSource returns a fresher view of the device's last state than the one
// held in memory. A nil message keeps the in-memory one.
type StateSource interface {
	LastState(ctx context.Context, d *Device) (message.Message, error)
}

type Option func(*Device)

// WithZone attaches the heating zone a sensor or radiator belongs to.
func WithZone(z message.Zone) Option {
	return func(d *Device) { d.zone = z }
}

// WithExternalID attaches the identifier of the device in a vendor cloud.
func WithExternalID(id string) Option {
	return func(d *Device) { d.externalID = id }
}

func WithTransform(t Transform) Option {
	return func(d *Device) { d.transform = t }
}

func WithSideEffect(s SideEffect) Option {
	return func(d *Device) { d.sideEffect = s }
}

func WithStateSource(s StateSource) Option {
	return func(d *Device) { d.stateSource = s }
}

// WithRepeats makes a repeated message on the device's own topic propagate
// like a change. Periodic publishers such as the regulation heartbeat rely on
// it.
func WithRepeats() Option {
	return func(d *Device) { d.repeats = true }
}

type Device struct {
	family      string
	name        string
	kind        message.Kind
	zone        message.Zone
	externalID  string
	last        message.Message
	lock        LockCounter
	initialized bool

	transform   Transform
	sideEffect  SideEffect
	stateSource StateSource
	repeats     bool

	logger *zap.Logger
}

func New(family, name string, kind message.Kind, opts ...Option) *Device {
	d := &Device{
		family: family,
		name:   name,
		kind:   kind,
		last:   message.Default(kind),
		logger: zap.L(),
	}
	d.Apply(opts...)
	return d
}

// Apply installs options after construction. It must happen before the
// device is handed to a dispatcher.
func (d *Device) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(d)
	}
}

func (d *Device) Topic() string {
	return d.family + "/" + d.name
}

func (d *Device) Family() string { return d.family }
func (d *Device) Name() string { return d.name }
func (d *Device) Kind() message.Kind { return d.kind }
func (d *Device) Zone() message.Zone { return d.zone }
func (d *Device) ExternalID() string { return d.externalID }
func (d *Device) Last() message.Message { return d.last }
func (d *Device) Initialized() bool { return d.initialized }
func (d *Device) Locks() int { return d.lock.Count() }
func (d *Device) TriggerInfoPayload() []byte { return message.StateQueryPayload(d.kind) }

// Replace overwrites the remembered message. It is used to resync a device
// from an outside source of truth.
func (d *Device) Replace(m message.Message) error {
	if m.Kind() != d.kind {
		return fmt.Errorf("%w: %s is %s, got %s", ErrKindMismatch, d.Topic(), d.kind, m.Kind())
	}
	d.last = m
	return nil
}

// Initialize stores the state reported on topic if it belongs to the device.
// It returns true once the device holds a reported state.
func (d *Device) Initialize(topic string, raw []byte) bool {
	if topic != d.Topic() {
		return d.initialized
	}
	m, err := message.Parse(d.kind, raw)
	if err != nil {
		d.logger.Warn("cannot parse initial state", zap.String("topic", topic), zap.ByteString("payload", raw), zap.Error(err))
		return d.initialized
	}
	d.last = m
	d.initialized = true
	d.logger.Info("device initialised", zap.String("topic", topic))
	return true
}

// AllowedToProcess reports whether an echo is pending and whether candidate
// repeats the remembered message.
func (d *Device) AllowedToProcess(candidate message.Message) (locked, duplicate bool) {
	return d.lock.Locked(), message.Equal(candidate, d.last)
}

type outcome int

const (
	outcomeEcho outcome = iota
	outcomeDuplicate
	outcomeChange
)

func (o outcome) String() string {
	switch o {
	case outcomeEcho:
		return "echo"
	case outcomeDuplicate:
		return "duplicate"
	default:
		return "change"
	}
}

// decide applies the decision table and remembers candidate in every case.
func (d *Device) decide(candidate message.Message) outcome {
	locked, duplicate := d.AllowedToProcess(candidate)
	d.last = candidate
	switch {
	case locked:
		if !d.lock.Release() {
			d.logger.Warn("lock released while free", zap.String("topic", d.Topic()))
		}
		return outcomeEcho
	case duplicate:
		return outcomeDuplicate
	default:
		return outcomeChange
	}
}

// ProcessAndContinue handles a message received on the device's own topic and
// reports whether it must be propagated to the device's loops.
func (d *Device) ProcessAndContinue(ctx context.Context, msg message.Message) bool {
	o := d.decide(msg)
	d.logger.Debug("incoming message", zap.String("topic", d.Topic()), zap.Stringer("outcome", o), zap.Int("locks", d.lock.Count()))
	switch {
	case o == outcomeChange:
		d.runSideEffect(ctx, msg)
		return true
	case o == outcomeDuplicate && d.repeats:
		return true
	default:
		return false
	}
}

// Consume converts a sibling's message to the device's own kind and, on a
// genuine change, publishes it as a command. Each publish takes one lock.
// Sensors never consume.
func (d *Device) Consume(ctx context.Context, original message.Message, c Context, pub Publisher) error {
	if !message.Commandable(d.kind) {
		return nil
	}
	if d.stateSource != nil {
		fresh, err := d.stateSource.LastState(ctx, d)
		if err != nil {
			return fmt.Errorf("refresh %s: %w", d.Topic(), err)
		}
		if fresh != nil {
			if err := d.Replace(fresh); err != nil {
				return err
			}
		}
	}

	previous := d.last
	converted := d.convert(original, c)
	o := d.decide(converted)
	d.logger.Debug("consume", zap.String("topic", d.Topic()), zap.String("from", string(original.Kind())), zap.Stringer("outcome", o))
	if o != outcomeChange {
		return nil
	}

	d.lock.Add(1)
	topic := message.SetTopic(d.kind, d.Topic())
	if err := pub.Publish(ctx, topic, message.Serialize(converted)); err != nil {
		d.lock.Release()
		d.last = previous
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	d.logger.Info("command published", zap.String("topic", topic), zap.ByteString("payload", message.Serialize(converted)))
	// Side effects of a commanded device only follow a command that left.
	d.runSideEffect(ctx, converted)
	return nil
}

func (d *Device) convert(original message.Message, c Context) message.Message {
	if d.transform != nil {
		return d.transform(original, d.last, c)
	}
	return message.Convert(original, d.kind, d.last)
}

func (d *Device) runSideEffect(ctx context.Context, msg message.Message) {
	if d.sideEffect == nil {
		return
	}
	if err := d.sideEffect(ctx, d, msg); err != nil {
		d.logger.Error("side effect failed", zap.String("topic", d.Topic()), zap.Error(err))
	}
}
