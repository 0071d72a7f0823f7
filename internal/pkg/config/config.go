// Package config holds the settings of every ava-home service. A Config is
// built once at startup and only read afterwards.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Mqtt       MqttConfig       `envPrefix:"MQTT_"`
	Database   DatabaseConfig   `envPrefix:"DATABASE_"`
	Heatzy     HeatzyConfig     `envPrefix:"HEATZY_"`
	Influx     InfluxConfig     `envPrefix:"INFLUX_"`
	Regulation RegulationConfig `envPrefix:"REGULATION_"`
	Bridge     BridgeConfig     `envPrefix:"BRIDGE_"`

	LogLevel     string        `env:"LOG_LEVEL" envDefault:"INFO"`
	TopologyFile string        `env:"TOPOLOGY_FILE"`
	InitTimeout  time.Duration `env:"INIT_TIMEOUT" envDefault:"30s"`
	Timezone     string        `env:"TZ" envDefault:"Europe/Paris"`
}

type MqttConfig struct {
	Host           string        `env:"HOST" envDefault:"localhost"`
	Port           int           `env:"PORT" envDefault:"1883"`
	Username       string        `env:"USER"`
	Password       string        `env:"PASS"`
	ClientID       string        `env:"CLIENT_ID"`
	KeepAlive      time.Duration `env:"KEEP_ALIVE" envDefault:"30s"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s"`
	PublishTimeout time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"10s"`
	QoS            byte          `env:"QOS" envDefault:"1"`
}

// Broker returns the paho broker URL.
func (m MqttConfig) Broker() string {
	return fmt.Sprintf("tcp://%s:%d", m.Host, m.Port)
}

type DatabaseConfig struct {
	URL             string        `env:"URL"`
	Retention       time.Duration `env:"RETENTION" envDefault:"8760h"`
	CleanupSchedule string        `env:"CLEANUP_SCHEDULE" envDefault:"0 3 * * *"`
	MigrateOnStart  bool          `env:"MIGRATE_ON_START" envDefault:"true"`
}

type HeatzyConfig struct {
	BaseURL       string        `env:"BASE_URL" envDefault:"https://euapi.gizwits.com/app"`
	ApplicationID string        `env:"APPLICATION_ID"`
	Token         string        `env:"TOKEN"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"10s"`
	MinInterval   time.Duration `env:"MIN_INTERVAL" envDefault:"500ms"`
}

// InfluxConfig configures the optional time-series sink. It is disabled when
// URL is empty.
type InfluxConfig struct {
	URL           string        `env:"URL"`
	Token         string        `env:"TOKEN"`
	Org           string        `env:"ORG" envDefault:"avahome"`
	Bucket        string        `env:"BUCKET" envDefault:"sensors"`
	BatchSize     uint          `env:"BATCH_SIZE" envDefault:"100"`
	FlushInterval time.Duration `env:"FLUSH_INTERVAL" envDefault:"10s"`
}

func (i InfluxConfig) Enabled() bool {
	return i.URL != ""
}

type RegulationConfig struct {
	Margin            float64       `env:"MARGIN" envDefault:"0.3"`
	CheckEvery        int           `env:"CHECK_EVERY" envDefault:"10"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"5m"`
	StoredPlans       bool          `env:"STORED_PLANS" envDefault:"false"`
	Boost             bool          `env:"BOOST" envDefault:"false"`
}

type BridgeConfig struct {
	Listen string `env:"LISTEN" envDefault:"0.0.0.0:8000"`
	// TokenHash is the bcrypt hash of the token websocket clients must send.
	// Empty leaves the relay open.
	TokenHash string `env:"TOKEN_HASH"`
}

// Load reads the environment into a Config with its defaults applied.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFrom is Load over an explicit environment, for tests.
func LoadFrom(environment map[string]string) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: environment})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Requirement names a setting a service cannot run without.
type Requirement int

const (
	NeedsDatabase Requirement = iota
	NeedsHeatzy
)

// Validate checks the settings every service needs plus the given ones.
func (c *Config) Validate(reqs ...Requirement) error {
	var errs []error
	if c.Mqtt.Host == "" {
		errs = append(errs, errors.New("mqtt host is required"))
	}
	if c.InitTimeout <= 0 {
		errs = append(errs, errors.New("init timeout must be positive"))
	}
	for _, r := range reqs {
		switch r {
		case NeedsDatabase:
			if c.Database.URL == "" {
				errs = append(errs, errors.New("database url is required"))
			}
		case NeedsHeatzy:
			if c.Heatzy.ApplicationID == "" || c.Heatzy.Token == "" {
				errs = append(errs, errors.New("heatzy application id and token are required"))
			}
		}
	}
	if c.Regulation.Margin < 0 {
		errs = append(errs, errors.New("regulation margin must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Location returns the time zone schedules are evaluated in.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
