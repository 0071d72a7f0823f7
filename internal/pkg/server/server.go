package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/denis-papin/ava-home/internal/pkg/message"
	"github.com/denis-papin/ava-home/internal/pkg/regulation"
)

var errBadClock = errors.New("times must be HH:MM")

type store interface {
	LatestTemperatures(ctx context.Context) (map[string]float64, error)
	LatestDeviceStates(ctx context.Context) (map[string][]byte, error)
	WritePlan(ctx context.Context, start, end time.Time, boost bool, regulationMap []byte) error
}

type server struct {
	hub    http.Handler
	db     store
	plans  regulation.PlanSource
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

// New serves the dashboard: the websocket relay and a small JSON API over the
// history store. db and plans may be nil, which disables the API.
func New(hub http.Handler, db store, plans regulation.PlanSource, loc *time.Location) *server {
	if loc == nil {
		loc = time.Local
	}
	return &server{hub: hub, db: db, plans: plans, loc: loc, now: time.Now, logger: zap.L()}
}

func (s *server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", s.hub)
	if s.db != nil {
		mux.HandleFunc("GET /api/overview", s.GetOverview)
		mux.HandleFunc("POST /api/plans", s.PostPlan)
	}
	return LoggingMiddleware(mux)
}

type Overview struct {
	At           time.Time                  `json:"at"`
	Temperatures map[string]float64         `json:"temperatures"`
	States       map[string]json.RawMessage `json:"states"`
	Plan         *message.RegulationMap     `json:"plan,omitempty"`
}

func (s *server) GetOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	temps, err := s.db.LatestTemperatures(ctx)
	if err != nil {
		handleError(w, err)
		return
	}
	raw, err := s.db.LatestDeviceStates(ctx)
	if err != nil {
		handleError(w, err)
		return
	}
	states := make(map[string]json.RawMessage, len(raw))
	for name, state := range raw {
		if json.Valid(state) {
			states[name] = state
		}
	}

	out := Overview{At: s.now().In(s.loc), Temperatures: temps, States: states}
	if s.plans != nil {
		rm, err := s.plans.Current(ctx, out.At)
		if err != nil {
			s.logger.Warn("no current plan for overview", zap.Error(err))
		} else {
			out.Plan = &rm
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type PlanPayload struct {
	StartingTime  string          `json:"starting_time"`
	EndingTime    string          `json:"ending_time"`
	Boost         bool            `json:"boost"`
	RegulationMap json.RawMessage `json:"regulation_map"`
}

func (s *server) PostPlan(w http.ResponseWriter, r *http.Request) {
	req, err := unmarshalPayload[PlanPayload](r)
	if err != nil {
		badRequest(w, err)
		return
	}
	start, errStart := time.Parse("15:04", req.StartingTime)
	end, errEnd := time.Parse("15:04", req.EndingTime)
	if errStart != nil || errEnd != nil {
		badRequest(w, errBadClock)
		return
	}
	rm, err := message.Parse(message.KindRegulationMap, req.RegulationMap)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := s.db.WritePlan(r.Context(), start, end, req.Boost, message.Serialize(rm)); err != nil {
		handleError(w, err)
		return
	}
	s.logger.Info("heating plan stored", zap.String("from", req.StartingTime), zap.String("to", req.EndingTime), zap.Bool("boost", req.Boost))
	w.WriteHeader(http.StatusCreated)
	w.Write([]byte("success"))
}

func handleError(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte(err.Error()))
}

func badRequest(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusBadRequest)
	w.Write([]byte(err.Error()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("cannot encode response", zap.Error(err))
	}
}

func unmarshalPayload[T any](r *http.Request) (*T, error) {
	var out T
	if err := json.NewDecoder(r.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}
