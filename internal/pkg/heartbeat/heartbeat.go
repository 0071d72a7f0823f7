// Package heartbeat periodically publishes the regulation map in effect, which
// drives every regulator cycle.
package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/denis-papin/ava-home/internal/pkg/device"
	"github.com/denis-papin/ava-home/internal/pkg/message"
	"github.com/denis-papin/ava-home/internal/pkg/regulation"
)

type Heartbeat struct {
	topic  string
	plans  regulation.PlanSource
	pub    device.Publisher
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

func New(topic string, plans regulation.PlanSource, pub device.Publisher, loc *time.Location) *Heartbeat {
	if loc == nil {
		loc = time.Local
	}
	return &Heartbeat{
		topic:  topic,
		plans:  plans,
		pub:    pub,
		loc:    loc,
		now:    time.Now,
		logger: zap.L(),
	}
}

// Beat publishes the current regulation map once.
func (h *Heartbeat) Beat(ctx context.Context) error {
	now := h.now().In(h.loc)
	rm, err := h.plans.Current(ctx, now)
	if err != nil {
		return fmt.Errorf("current plan: %w", err)
	}
	if err := h.pub.Publish(ctx, h.topic, message.Serialize(rm)); err != nil {
		return err
	}
	h.logger.Info("regulation map published", zap.String("topic", h.topic), zap.String("mode", string(rm.Mode)), zap.Time("at", now))
	return nil
}

// Run beats immediately, then every interval until ctx is done. A failed beat
// is logged and retried on the next tick.
func (h *Heartbeat) Run(ctx context.Context, interval time.Duration) error {
	if err := h.Beat(ctx); err != nil {
		h.logger.Error("heartbeat failed", zap.Error(err))
	}

	c := cron.New(cron.WithLocation(h.loc))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if err := h.Beat(ctx); err != nil {
			h.logger.Error("heartbeat failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}
