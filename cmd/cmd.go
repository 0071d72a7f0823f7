package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/denis-papin/ava-home/internal/pkg/bridge"
	"github.com/denis-papin/ava-home/internal/pkg/bus"
	"github.com/denis-papin/ava-home/internal/pkg/config"
	"github.com/denis-papin/ava-home/internal/pkg/database"
	"github.com/denis-papin/ava-home/internal/pkg/database/migration"
	"github.com/denis-papin/ava-home/internal/pkg/device"
	"github.com/denis-papin/ava-home/internal/pkg/dispatch"
	"github.com/denis-papin/ava-home/internal/pkg/heartbeat"
	"github.com/denis-papin/ava-home/internal/pkg/heatzy"
	"github.com/denis-papin/ava-home/internal/pkg/influx"
	"github.com/denis-papin/ava-home/internal/pkg/message"
	"github.com/denis-papin/ava-home/internal/pkg/mqtt"
	"github.com/denis-papin/ava-home/internal/pkg/publisher"
	"github.com/denis-papin/ava-home/internal/pkg/regulation"
	"github.com/denis-papin/ava-home/internal/pkg/server"
	"github.com/denis-papin/ava-home/internal/pkg/topology"
	"github.com/denis-papin/ava-home/pkg/hasher"
)

// Service names, as used on the command line and in the topology document.
const (
	LightSync    = "light-sync"
	EventStorage = "event-storage"
	RadiatorCtrl = "radiator-ctrl"
	Regulator    = "regulator"
	Heartbeat    = "heartbeat"
	Bridge       = "bridge"
)

var (
	errUnknownService = errors.New("unknown service")
	errNoPublishTopic = errors.New("heartbeat service has no publish topic")
	errNoActuator     = errors.New("radiator control needs heatzy credentials")
)

type app struct {
	cfg      *config.Config
	doc      *topology.Document
	svc      *topology.Service
	bus      Bus
	store    Store
	actuator Actuator
	loc      *time.Location
	logger   *zap.Logger
}

// ServiceCommand returns the cli action running the named service until it
// fails or the process is interrupted.
func ServiceCommand(service string) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		return run(c.Context, service, cfg)
	}
}

// MigrateCommand applies the database migrations and exits.
func MigrateCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	if err := cfg.Validate(config.NeedsDatabase); err != nil {
		return err
	}
	return migration.Migrate(cfg.Database.URL)
}

// TokenCommand prints a new bridge token and the hash to configure.
func TokenCommand(c *cli.Context) error {
	token, err := hasher.GenerateToken(c.Int("length"))
	if err != nil {
		return err
	}
	hash, err := hasher.HashToken([]byte(token))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "token: %s\nBRIDGE_TOKEN_HASH=%s\n", token, hash)
	return err
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if c.IsSet("mqtt-host") {
		cfg.Mqtt.Host = c.String("mqtt-host")
	}
	if c.IsSet("mqtt-user") {
		cfg.Mqtt.Username = c.String("mqtt-user")
	}
	if c.IsSet("mqtt-pass") {
		cfg.Mqtt.Password = c.String("mqtt-pass")
	}
	if c.IsSet("database-url") {
		cfg.Database.URL = c.String("database-url")
	}
	if c.IsSet("heatzy-app-id") {
		cfg.Heatzy.ApplicationID = c.String("heatzy-app-id")
	}
	if c.IsSet("heatzy-token") {
		cfg.Heatzy.Token = c.String("heatzy-token")
	}
	if c.IsSet("listen") {
		cfg.Bridge.Listen = c.String("listen")
	}
	if c.IsSet("topology") {
		cfg.TopologyFile = c.String("topology")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	var err error
	logCfg := zap.NewProductionConfig()
	logCfg.Level, err = zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	return logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

func requirements(service string, cfg *config.Config) []config.Requirement {
	switch service {
	case EventStorage, Regulator:
		return []config.Requirement{config.NeedsDatabase}
	case RadiatorCtrl:
		return []config.Requirement{config.NeedsDatabase, config.NeedsHeatzy}
	case Heartbeat:
		if cfg.Regulation.StoredPlans {
			return []config.Requirement{config.NeedsDatabase}
		}
	}
	return nil
}

func run(ctx context.Context, service string, cfg *config.Config) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	if err := cfg.Validate(requirements(service, cfg)...); err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	doc, err := topology.Load(cfg.TopologyFile)
	if err != nil {
		return err
	}
	svc, err := doc.Build(service)
	if err != nil {
		return err
	}

	a := &app{cfg: cfg, doc: doc, svc: svc, loc: loc, logger: logger}

	if cfg.Database.URL != "" {
		if cfg.Database.MigrateOnStart {
			if err := migration.Migrate(cfg.Database.URL); err != nil {
				return err
			}
		}
		db, err := database.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer db.Close()
		a.store = db

		if err := publisher.RegisterPublisher("postgres", db); err != nil {
			return err
		}
	}

	if cfg.Influx.Enabled() && (service == EventStorage || service == RadiatorCtrl) {
		sink, err := influx.Connect(ctx, &cfg.Influx)
		if err != nil {
			return err
		}
		defer sink.Close()
		if err := publisher.RegisterPublisher("influx", sink); err != nil {
			return err
		}
	}

	if cfg.Heatzy.ApplicationID != "" && cfg.Heatzy.Token != "" {
		a.actuator = heatzy.New(&cfg.Heatzy)
	}

	a.bus = mqtt.Dial(&cfg.Mqtt, mqtt.ClientID(&cfg.Mqtt, service))

	if err := a.start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("service stopped", zap.String("service", service))
	return nil
}

// start connects to the broker and runs the service until one of its
// routines fails or ctx is done.
func (a *app) start(ctx context.Context) error {
	if err := a.bus.Connect(); err != nil {
		return err
	}
	defer a.bus.Disconnect()

	events, err := a.bus.Subscribe(a.svc.Topics)
	if err != nil {
		return err
	}
	a.logger.Info("service started", zap.String("service", a.svc.Name), zap.Strings("topics", a.svc.Topics))

	eg, ctx := errgroup.WithContext(ctx)
	switch a.svc.Name {
	case LightSync:
		eg.Go(func() error {
			return a.dispatch(ctx, events, dispatch.NoContext)
		})
	case EventStorage:
		a.storeTemperatures()
		eg.Go(func() error {
			return cronDbCleanup(ctx, a.store, a.cfg)
		})
		eg.Go(func() error {
			return a.dispatch(ctx, events, dispatch.NoContext)
		})
	case RadiatorCtrl:
		if a.actuator == nil {
			return errNoActuator
		}
		a.controlRadiators()
		eg.Go(func() error {
			return a.dispatch(ctx, events, dispatch.NoContext)
		})
	case Regulator:
		engine := a.regulate()
		eg.Go(func() error {
			return a.dispatch(ctx, events, engine.Prepare)
		})
	case Heartbeat:
		if a.svc.Publish == "" {
			return errNoPublishTopic
		}
		hb := heartbeat.New(a.svc.Publish, a.plans(), a.bus, a.loc)
		eg.Go(func() error {
			return hb.Run(ctx, a.cfg.Regulation.HeartbeatInterval)
		})
	case Bridge:
		hub := bridge.NewHub(a.bus, a.cfg.Bridge.TokenHash)
		eg.Go(func() error {
			return hub.Run(ctx, events)
		})
		eg.Go(func() error {
			return a.serve(ctx, hub)
		})
	default:
		return fmt.Errorf("%w: %s", errUnknownService, a.svc.Name)
	}

	return eg.Wait()
}

func (a *app) dispatch(ctx context.Context, events <-chan bus.Event, contextFn dispatch.ContextFunc) error {
	if err := dispatch.Initialize(ctx, a.svc.Init, events, a.bus, a.cfg.InitTimeout); err != nil {
		return err
	}
	return dispatch.New(a.svc.Repo, a.svc.Loops, a.bus, contextFn).Run(ctx, events)
}

func (a *app) storeTemperatures() {
	for _, d := range a.svc.Repo.OfKind(message.KindTempSensor) {
		d.Apply(device.WithSideEffect(recordTemperature))
	}
}

func recordTemperature(ctx context.Context, d *device.Device, msg message.Message) error {
	ts, ok := msg.(message.TempSensor)
	if !ok {
		return fmt.Errorf("%s: unexpected %s message", d.Topic(), msg.Kind())
	}
	return publisher.RecordTemperature(ctx, d.Topic(), ts.Temperature)
}

func (a *app) controlRadiators() {
	for _, d := range a.svc.Repo.OfKind(message.KindRadiator) {
		d.Apply(device.WithSideEffect(a.setRadiatorMode))
	}
}

func (a *app) setRadiatorMode(ctx context.Context, d *device.Device, msg message.Message) error {
	rad, ok := msg.(message.Radiator)
	if !ok {
		return fmt.Errorf("%s: unexpected %s message", d.Topic(), msg.Kind())
	}
	if d.ExternalID() == "" {
		return fmt.Errorf("%s has no heatzy id", d.Topic())
	}
	if err := a.actuator.SetMode(ctx, d.ExternalID(), rad.Mode); err != nil {
		return err
	}
	return publisher.RecordState(ctx, d.Topic(), message.Serialize(rad))
}

func (a *app) regulate() *regulation.Engine {
	var modes regulation.ModeReader
	if a.actuator != nil {
		modes = a.actuator
	}
	engine := regulation.NewEngine(regulation.Config{
		Margin:     a.cfg.Regulation.Margin,
		CheckEvery: a.cfg.Regulation.CheckEvery,
		Sensors:    a.doc.SensorZones(),
	}, a.store, modes, a.store)
	engine.Install(a.svc.Repo.OfKind(message.KindRadiator)...)

	// the heartbeat repeats the same map until the schedule moves on
	for _, d := range a.svc.Repo.OfKind(message.KindRegulationMap) {
		d.Apply(device.WithRepeats())
	}
	return engine
}

func (a *app) plans() regulation.PlanSource {
	schedule := a.doc.StaticSchedule()
	if a.cfg.Regulation.StoredPlans && a.store != nil {
		return regulation.StoredPlans{Store: a.store, Fallback: schedule, Boost: a.cfg.Regulation.Boost}
	}
	return schedule
}

func (a *app) serve(ctx context.Context, hub http.Handler) error {
	srv := &http.Server{
		Handler:      server.New(hub, a.store, a.plans(), a.loc).Handler(),
		Addr:         a.cfg.Bridge.Listen,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("http shutdown", zap.Error(err))
		}
	}()

	a.logger.Info("http listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func cronDbCleanup(ctx context.Context, db Store, cfg *config.Config) error {
	if err := db.Cleanup(ctx, cfg.Database.Retention); err != nil {
		return err
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("CRON_TZ=%s %s", cfg.Timezone, cfg.Database.CleanupSchedule), func() {
		if err := db.Cleanup(ctx, cfg.Database.Retention); err != nil {
			zap.L().Error("error cleaning up database", zap.Error(err))
			return
		}
		zap.L().Info("history cleaned up")
	}); err != nil {
		return err
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}
