package device

import (
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/denis-papin/ava-home/internal/pkg/message"
)

var (
	ErrDuplicateTopic = errors.New("duplicate device topic")
	ErrUnknownDevice  = errors.New("unknown device")
)

// Repository holds the one authoritative Device per topic, in declaration
// order. It is built once at startup.
type Repository struct {
	byTopic map[string]*Device
	devices []*Device
}

func NewRepository(devices ...*Device) (*Repository, error) {
	r := &Repository{byTopic: make(map[string]*Device, len(devices))}
	for _, d := range devices {
		if _, ok := r.byTopic[d.Topic()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTopic, d.Topic())
		}
		r.byTopic[d.Topic()] = d
		r.devices = append(r.devices, d)
	}
	return r, nil
}

func (r *Repository) Get(topic string) (*Device, error) {
	d, ok := r.byTopic[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, topic)
	}
	return d, nil
}

func (r *Repository) Devices() []*Device {
	return r.devices
}

func (r *Repository) Topics() []string {
	return lo.Map(r.devices, func(d *Device, _ int) string { return d.Topic() })
}

// OfKind returns the devices speaking kind, in declaration order.
func (r *Repository) OfKind(kind message.Kind) []*Device {
	return lo.Filter(r.devices, func(d *Device, _ int) bool { return d.Kind() == kind })
}

// Pending returns the devices of list that have not reported their state yet.
func Pending(list []*Device) []*Device {
	return lo.Reject(list, func(d *Device, _ int) bool { return d.Initialized() })
}
