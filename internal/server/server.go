package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"backend-helmwatch/internal/alert"
	"backend-helmwatch/internal/auth"
	"backend-helmwatch/internal/config"
	"backend-helmwatch/internal/db"
	"backend-helmwatch/internal/hazard"
	"backend-helmwatch/internal/logging"
	"backend-helmwatch/internal/outbox"
	"backend-helmwatch/internal/position"
	"backend-helmwatch/internal/power"
	"backend-helmwatch/internal/storage"
	"backend-helmwatch/internal/stream"
	"backend-helmwatch/internal/timeutil"
	"backend-helmwatch/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	syncTimeout = 10 * time.Second
	loadTimeout = 10 * time.Second
)

var (
	errUnknownStore    = errors.New("unknown store driver")
	errUnknownLocation = errors.New("unknown location source")

	migratePostgresFn = db.MigratePostgres
)

// Server wires the navigation components together and exposes them over HTTP.
type Server struct {
	App    *fiber.App
	Cfg    config.Config
	Logger *slog.Logger
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Stream *stream.Hub
	Store  storage.Store
	Auth   *auth.Service

	Provider position.Provider
	Push     *position.PushProvider
	Battery  *power.Settable
	Pipeline *position.Pipeline
	Tracking *tracking.Engine
	Hazards  *hazard.Monitor
	Outbox   *outbox.Queue

	trackingUpdates <-chan position.Update
	hazardUpdates   <-chan position.Update
	closeStore      func()

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(cfg config.Config, pool *pgxpool.Pool, redisClient *redis.Client, log *slog.Logger) (*Server, error) {
	log = logging.OrDiscard(log)
	clock := timeutil.RealClock{}

	store, closeStore, err := openStore(cfg, pool, redisClient)
	if err != nil {
		return nil, err
	}

	provider, push, err := newProvider(cfg, clock, log)
	if err != nil {
		closeStore()
		return nil, err
	}

	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:        app,
		Cfg:        cfg,
		Logger:     log,
		DB:         pool,
		Redis:      redisClient,
		Stream:     stream.NewHub(redisClient, log),
		Store:      store,
		Auth:       auth.NewService(cfg.JWTSecret),
		Provider:   provider,
		Push:       push,
		closeStore: closeStore,
	}

	var remote outbox.Remote
	var fetcher hazard.Fetcher
	if cfg.SyncEndpoint != "" {
		client := outbox.NewClient(cfg.SyncEndpoint, syncTimeout)
		remote = client
		fetcher = client
	}

	s.Outbox = outbox.NewQueue(outboxConfig(cfg), outbox.Deps{
		Store:  store,
		Remote: remote,
		Tokens: s.Auth.DeviceTokens(cfg.DeviceID),
		Clock:  clock,
		Logger: log.With("component", "outbox"),
		OnDelivered: func(ctx context.Context, in outbox.Intent) {
			if in.Kind == outbox.KindHazard {
				s.Hazards.MarkSynced(ctx, in.ID)
			}
		},
	})

	dispatcher := alert.NewDispatcher(log.With("component", "alerts"),
		alert.NewVisualChannel(s.Stream),
		alert.NewAudioChannel(s.Stream),
		alert.NewHapticChannel(s.Stream),
	)
	s.Hazards = hazard.NewMonitor(hazardConfig(cfg), hazard.Deps{
		Dispatcher: dispatcher,
		Store:      store,
		Sync:       s.Outbox,
		Fetcher:    fetcher,
		Clock:      clock,
		Logger:     log.With("component", "hazards"),
	})

	s.Tracking = tracking.NewEngine(trackingConfig(cfg), tracking.Deps{
		Store:    store,
		Provider: provider,
		Power:    s.newPowerSource(cfg),
		Sync:     s.Outbox,
		Clock:    clock,
		Logger:   log.With("component", "tracking"),
	})

	s.Pipeline = position.NewPipeline(position.NewFilter(position.FilterConfig{
		AccuracyThresholdM:  cfg.AccuracyThresholdM,
		MovementThresholdKm: cfg.MovementThresholdKm,
	}), log.With("component", "position"))
	s.trackingUpdates = s.Pipeline.Subscribe()
	s.hazardUpdates = s.Pipeline.Subscribe()

	registerRoutes(s)
	return s, nil
}

// Start restores persisted state and launches the background loops. They
// stop on Close or when ctx ends.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	loadCtx, cancel := context.WithTimeout(ctx, loadTimeout)
	if err := s.Hazards.LoadCache(loadCtx); err != nil {
		s.Logger.Warn("hazard cache not loaded", "error", err)
	}
	if err := s.Outbox.Load(loadCtx); err != nil {
		s.Logger.Warn("sync outbox not loaded", "error", err)
	}
	cancel()

	updates, err := s.Provider.Subscribe(ctx, s.Cfg.MovingInterval)
	if err != nil {
		s.Logger.Error("location provider unavailable", "error", err)
		s.Tracking.ReportProviderError(err)
		s.Hazards.Suspend(err)
		closed := make(chan position.Update)
		close(closed)
		updates = closed
	}

	s.goRun(func() { s.Pipeline.Run(ctx, updates) })
	s.goRun(func() { s.Tracking.Run(ctx, s.trackingUpdates) })
	s.goRun(func() { s.Hazards.Run(ctx, s.hazardUpdates) })
	s.goRun(func() { s.Outbox.Run(ctx) })
	s.goRun(func() { stream.Forward(ctx, s.Stream, stream.TopicTracking, s.Tracking.Events()) })
	s.goRun(func() { stream.Forward(ctx, s.Stream, stream.TopicHazards, s.Hazards.Events()) })
}

func (s *Server) goRun(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Close stops the background loops, flushes pending track writes and
// releases the store.
func (s *Server) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.Tracking.Close()
	s.Stream.Close()
	s.closeStore()
}

func openStore(cfg config.Config, pool *pgxpool.Pool, redisClient *redis.Client) (storage.Store, func(), error) {
	noop := func() {}
	switch cfg.StoreDriver {
	case "memory":
		return storage.NewMemory(), noop, nil
	case "", "sqlite":
		conn, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewSQLite(conn), func() { _ = conn.Close() }, nil
	case "postgres":
		if pool == nil {
			return nil, nil, errors.New("postgres store selected but no connection")
		}
		if err := migratePostgresFn(cfg.PostgresURL); err != nil {
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return storage.NewPostgres(pool), noop, nil
	case "redis":
		if redisClient == nil {
			return nil, nil, errors.New("redis store selected but REDIS_ADDR is empty")
		}
		return storage.NewRedis(redisClient), noop, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", errUnknownStore, cfg.StoreDriver)
}

func newProvider(cfg config.Config, clock timeutil.Clock, log *slog.Logger) (position.Provider, *position.PushProvider, error) {
	switch cfg.LocationSource {
	case "", "push":
		push := position.NewPushProvider(clock, cfg.FixTimeout)
		return push, push, nil
	case "nmea":
		return position.NewNMEAProvider(position.SerialConfig{
			Port:             cfg.NMEAPort,
			BaudRate:         cfg.NMEABaud,
			FixTimeout:       cfg.FixTimeout,
			SendRateCommands: cfg.NMEARateCommands,
		}, clock, log.With("component", "nmea")), nil, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", errUnknownLocation, cfg.LocationSource)
}

func (s *Server) newPowerSource(cfg config.Config) power.Source {
	switch cfg.BatterySource {
	case "sysfs":
		return power.NewSysfs(cfg.BatteryDevice)
	case "push":
		s.Battery = power.NewSettable(cfg.BatteryStatic)
		return s.Battery
	}
	return power.Static(cfg.BatteryStatic)
}

func trackingConfig(cfg config.Config) tracking.Config {
	return tracking.Config{
		MovementThresholdKm: cfg.MovementThresholdKm,
		PauseThreshold:      cfg.PauseThreshold,
		CheckpointEvery:     cfg.CheckpointEvery,
		CheckpointInterval:  cfg.CheckpointInterval,
		MaxPoints:           cfg.MaxPoints,
		Sampling: tracking.SamplingPolicy{
			MovingInterval:        cfg.MovingInterval,
			StationaryInterval:    cfg.StationaryInterval,
			BatterySaverInterval:  cfg.BatterySaverInterval,
			BatterySaverThreshold: cfg.BatterySaverThreshold,
			SpeedThresholdKmh:     cfg.SpeedThresholdKmh,
			LongSession:           cfg.LongSession,
		},
	}
}

func hazardConfig(cfg config.Config) hazard.Config {
	return hazard.Config{
		VerifiedOnly:          cfg.HazardVerifiedOnly,
		MinConfidence:         cfg.HazardMinConfidence,
		CriticalKm:            cfg.HazardCriticalKm,
		WarningKm:             cfg.HazardWarningKm,
		AdvisoryKm:            cfg.HazardAdvisoryKm,
		SpeedAdjustmentFactor: cfg.HazardSpeedFactor,
		HeadingToleranceDeg:   cfg.HazardHeadingTolDeg,
		AlertCooldown:         cfg.HazardAlertCooldown,
		CheckInterval:         cfg.HazardCheckInterval,
		RefreshInterval:       cfg.HazardRefreshInterval,
	}
}

func outboxConfig(cfg config.Config) outbox.Config {
	c := outbox.DefaultConfig()
	c.Capacity = cfg.SyncQueueSize
	if cfg.SyncBaseBackoff > 0 {
		c.BaseBackoff = cfg.SyncBaseBackoff
	}
	if cfg.SyncMaxBackoff > 0 {
		c.MaxBackoff = cfg.SyncMaxBackoff
	}
	return c
}
