package regulation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/denis-papin/ava-home/internal/pkg/message"
)

var ErrNoPlan = errors.New("no heating plan in effect")

// PlanSource returns the regulation map in effect at a given time.
type PlanSource interface {
	Current(ctx context.Context, now time.Time) (message.RegulationMap, error)
}

// StaticSchedule switches between three fixed maps by time of day: day after
// 07:00 up to 22:00, evening up to 23:59, night otherwise.
type StaticSchedule struct {
	Day     message.RegulationMap
	Evening message.RegulationMap
	Night   message.RegulationMap
}

var (
	dayStart   = clock(7, 0)
	dayEnd     = clock(22, 0)
	eveningEnd = clock(23, 59)
)

func clock(h, m int) time.Duration {
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
}

func sinceMidnight(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return clock(h, m) + time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}

func (s StaticSchedule) At(now time.Time) message.RegulationMap {
	tod := sinceMidnight(now)
	switch {
	case tod > dayStart && tod <= dayEnd:
		return s.Day
	case tod > dayEnd && tod <= eveningEnd:
		return s.Evening
	default:
		return s.Night
	}
}

func (s StaticSchedule) Current(_ context.Context, now time.Time) (message.RegulationMap, error) {
	return s.At(now), nil
}

// PlanStore looks up the stored heating plan active at a time of day.
type PlanStore interface {
	CurrentPlan(ctx context.Context, now time.Time, boost bool) (message.RegulationMap, error)
}

// StoredPlans reads plans from the store and falls back to a static schedule
// when none applies.
type StoredPlans struct {
	Store    PlanStore
	Fallback StaticSchedule
	Boost    bool
}

func (p StoredPlans) Current(ctx context.Context, now time.Time) (message.RegulationMap, error) {
	rm, err := p.Store.CurrentPlan(ctx, now, p.Boost)
	if errors.Is(err, ErrNoPlan) {
		zap.L().Info("no stored heating plan, using the static schedule", zap.Time("now", now))
		return p.Fallback.At(now), nil
	}
	if err != nil {
		return message.RegulationMap{}, err
	}
	return rm, nil
}
