// Package heatzy talks to the Gizwits cloud API behind Heatzy pilot-wire
// radiator controllers.
package heatzy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/denis-papin/ava-home/internal/pkg/config"
	"github.com/denis-papin/ava-home/internal/pkg/message"
)

var ErrUnexpectedStatus = errors.New("unexpected status from heatzy")

const (
	headerApplicationID = "X-Gizwits-Application-Id"
	headerUserToken     = "X-Gizwits-User-token"
)

type controlRequest struct {
	Attrs struct {
		Mode int `json:"mode"`
	} `json:"attrs"`
}

type devData struct {
	Did       string `json:"did"`
	UpdatedAt int64  `json:"updated_at"`
	Attr      struct {
		Mode string `json:"mode"`
	} `json:"attr"`
}

type service struct {
	cfg     *config.HeatzyConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New returns a client for the configured account. Calls are spread out by a
// token bucket so a burst of decisions cannot flood the vendor API.
func New(cfg *config.HeatzyConfig) *service {
	return &service{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		logger:  zap.L(),
	}
}

// SetMode commands a radiator.
func (s *service) SetMode(ctx context.Context, deviceID string, mode message.RadiatorMode) error {
	var body controlRequest
	body.Attrs.Mode = mode.Code()
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	if _, err := s.do(ctx, http.MethodPost, "/control/"+deviceID, payload); err != nil {
		return err
	}
	s.logger.Info("radiator mode set", zap.String("did", deviceID), zap.String("mode", string(mode)))
	return nil
}

// LatestMode reads the mode the radiator last reported to the cloud.
func (s *service) LatestMode(ctx context.Context, deviceID string) (message.RadiatorMode, error) {
	data, err := s.do(ctx, http.MethodGet, "/devdata/"+deviceID+"/latest", nil)
	if err != nil {
		return "", err
	}
	var dd devData
	if err := json.Unmarshal(data, &dd); err != nil {
		return "", fmt.Errorf("decode devdata: %w", err)
	}
	mode := message.ModeFromReported(dd.Attr.Mode)
	s.logger.Debug("radiator mode read", zap.String("did", deviceID), zap.String("reported", dd.Attr.Mode), zap.Time("updated_at", time.Unix(dd.UpdatedAt, 0)))
	return mode, nil
}

func (s *service) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerApplicationID, s.cfg.ApplicationID)
	req.Header.Set(headerUserToken, s.cfg.Token)

	res, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s: %d %s", ErrUnexpectedStatus, method, path, res.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}
