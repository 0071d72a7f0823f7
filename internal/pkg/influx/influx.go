package influx

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/denis-papin/ava-home/internal/pkg/config"
)

var ErrConnectionFailed = errors.New("influxdb connection failed")

const pingTimeout = 5 * time.Second

// Sink writes sensor history to InfluxDB. Writes are batched and sent in the
// background; failures surface in the log.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *zap.Logger
}

func Connect(ctx context.Context, cfg *config.InfluxConfig) (*Sink, error) {
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(cfg.BatchSize).
			SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())),
	)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	s := &Sink{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   zap.L(),
	}
	go s.logErrors()
	return s, nil
}

func (s *Sink) logErrors() {
	for err := range s.writeAPI.Errors() {
		s.logger.Error("influxdb write failed", zap.Error(err))
	}
}

func (s *Sink) WriteTemperature(_ context.Context, deviceName string, temperature float64) error {
	s.writeAPI.WritePoint(write.NewPoint(
		"temperature",
		map[string]string{"device": deviceName},
		map[string]interface{}{"value": temperature},
		time.Now(),
	))
	return nil
}

func (s *Sink) WriteDeviceState(_ context.Context, deviceName string, state []byte) error {
	s.writeAPI.WritePoint(write.NewPoint(
		"device_state",
		map[string]string{"device": deviceName},
		map[string]interface{}{"state": string(state)},
		time.Now(),
	))
	return nil
}

// Flush sends every buffered point.
func (s *Sink) Flush() {
	s.writeAPI.Flush()
}

func (s *Sink) Close() error {
	s.writeAPI.Flush()
	s.client.Close()
	return nil
}
