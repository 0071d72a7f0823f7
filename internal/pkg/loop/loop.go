// Package loop groups devices that must mirror each other's state.
package loop

import (
	"context"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/denis-papin/ava-home/internal/pkg/device"
	"github.com/denis-papin/ava-home/internal/pkg/message"
)

// Loop is a static, ordered group of devices kept in sync.
type Loop struct {
	Name    string
	Devices []*device.Device
}

func New(name string, devices ...*device.Device) *Loop {
	return &Loop{Name: name, Devices: devices}
}

func (l *Loop) Contains(topic string) bool {
	return lo.ContainsBy(l.Devices, func(d *device.Device) bool { return d.Topic() == topic })
}

// FindLoops returns every loop containing topic, together with the device
// owning it. The device is nil when no loop knows the topic.
func FindLoops(topic string, loops []*Loop) ([]*Loop, *device.Device) {
	var (
		matched []*Loop
		origin  *device.Device
	)
	for _, l := range loops {
		d, ok := lo.Find(l.Devices, func(d *device.Device) bool { return d.Topic() == topic })
		if !ok {
			continue
		}
		matched = append(matched, l)
		origin = d
	}
	return matched, origin
}

// Visited remembers the devices already reached while propagating a single
// bus event through several loops.
type Visited map[*device.Device]struct{}

// Propagate hands the original message to every member except the one that
// owns originTopic, in declaration order. Members found in visited are
// skipped; reached members are added to it. A failing member is logged and
// does not stop the others.
func (l *Loop) Propagate(ctx context.Context, originTopic string, original message.Message, c device.Context, pub device.Publisher, visited Visited) {
	for _, d := range l.Devices {
		if d.Topic() == originTopic {
			continue
		}
		if visited != nil {
			if _, done := visited[d]; done {
				continue
			}
			visited[d] = struct{}{}
		}
		if err := d.Consume(ctx, original, c, pub); err != nil {
			zap.L().Error("device failed to consume", zap.String("loop", l.Name), zap.String("device", d.Topic()), zap.String("origin", originTopic), zap.Error(err))
		}
	}
}
