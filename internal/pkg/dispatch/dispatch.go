// Package dispatch runs the per-service event loop: one bus event at a time,
// resolved to its device and loops, processed to completion before the next.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/denis-papin/ava-home/internal/pkg/bus"
	"github.com/denis-papin/ava-home/internal/pkg/device"
	"github.com/denis-papin/ava-home/internal/pkg/loop"
	"github.com/denis-papin/ava-home/internal/pkg/message"
)

var (
	ErrInitTimeout  = errors.New("devices did not report their state in time")
	ErrEventsClosed = errors.New("event stream closed")
)

// ContextFunc computes the data a propagation needs, once per event.
type ContextFunc func(ctx context.Context, msg message.Message) (device.Context, error)

// NoContext is the ContextFunc of services that need no outside data.
func NoContext(context.Context, message.Message) (device.Context, error) {
	return device.Context{}, nil
}

type Dispatcher struct {
	repo      *device.Repository
	loops     []*loop.Loop
	pub       device.Publisher
	contextFn ContextFunc
	logger    *zap.Logger
}

func New(repo *device.Repository, loops []*loop.Loop, pub device.Publisher, contextFn ContextFunc) *Dispatcher {
	if contextFn == nil {
		contextFn = NoContext
	}
	return &Dispatcher{
		repo:      repo,
		loops:     loops,
		pub:       pub,
		contextFn: contextFn,
		logger:    zap.L(),
	}
}

// Run handles events until ctx is done or events is closed.
func (d *Dispatcher) Run(ctx context.Context, events <-chan bus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return ErrEventsClosed
			}
			d.Handle(ctx, ev)
		}
	}
}

// Handle processes one event and every publish it triggers.
func (d *Dispatcher) Handle(ctx context.Context, ev bus.Event) {
	origin, err := d.repo.Get(ev.Topic)
	if err != nil {
		d.logger.Debug("event for unknown device", zap.String("topic", ev.Topic))
		return
	}
	msg, err := message.Parse(origin.Kind(), ev.Payload)
	if err != nil {
		d.logger.Warn("dropping malformed message", zap.String("topic", ev.Topic), zap.ByteString("payload", ev.Payload), zap.Error(err))
		return
	}
	if !origin.ProcessAndContinue(ctx, msg) {
		return
	}

	loops, _ := loop.FindLoops(ev.Topic, d.loops)
	if len(loops) == 0 {
		return
	}
	c, err := d.contextFn(ctx, msg)
	if err != nil {
		d.logger.Error("cannot prepare propagation, event abandoned", zap.String("topic", ev.Topic), zap.Error(err))
		return
	}
	visited := loop.Visited{origin: {}}
	for _, l := range loops {
		l.Propagate(ctx, ev.Topic, msg, c, d.pub, visited)
	}
}

// Initialize asks every device for its state on "{topic}/get" and feeds
// events to them until all have reported. Events for other topics are
// dropped.
func Initialize(ctx context.Context, devices []*device.Device, events <-chan bus.Event, pub device.Publisher, timeout time.Duration) error {
	logger := zap.L()
	pending := make(map[string]*device.Device, len(devices))
	for _, dev := range devices {
		if dev.Initialized() {
			continue
		}
		pending[dev.Topic()] = dev
	}
	if len(pending) == 0 {
		return nil
	}

	for _, dev := range devices {
		if _, ok := pending[dev.Topic()]; !ok {
			continue
		}
		topic := dev.Topic() + "/get"
		if err := pub.Publish(ctx, topic, dev.TriggerInfoPayload()); err != nil {
			return fmt.Errorf("request state on %s: %w", topic, err)
		}
		logger.Info("state requested", zap.String("topic", topic))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: %s", ErrInitTimeout, strings.Join(missing(pending), ", "))
		case ev, ok := <-events:
			if !ok {
				return ErrEventsClosed
			}
			dev, found := pending[ev.Topic]
			if !found {
				continue
			}
			if dev.Initialize(ev.Topic, ev.Payload) {
				delete(pending, ev.Topic)
			}
		}
	}
	logger.Info("all devices initialised", zap.Int("devices", len(devices)))
	return nil
}

func missing(pending map[string]*device.Device) []string {
	topics := lo.Keys(pending)
	slices.Sort(topics)
	return topics
}
