package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"vitals-station/internal/cleaner"
	"vitals-station/internal/config"
	"vitals-station/internal/consumer"
	"vitals-station/internal/database"
	"vitals-station/internal/health"
	"vitals-station/internal/notify"
	"vitals-station/internal/registry"
	"vitals-station/internal/replay"
	"vitals-station/internal/repository"
	"vitals-station/internal/router"
	"vitals-station/internal/session"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// StationService wires the local session cache, the remote visit store, the
// transport consumer and the background loops into one process.
type StationService struct {
	config      *config.Config
	logger      *zap.Logger
	localDB     *sql.DB
	remoteDB    *sql.DB
	redisClient *redis.Client

	sessions *repository.SessionRepository
	pending  *repository.PendingRepository
	history  *repository.HistoryRepository
	visits   *repository.RemoteVisitRepository

	manager  *session.Manager
	checker  *health.Checker
	router   *router.Router
	engine   *replay.Engine
	cleaner  *cleaner.Cleaner
	consumer *consumer.Consumer
	registry *registry.Client
}

// NewStationService builds the full dependency graph. The remote store may be
// unreachable at construction time; only the local store and Redis are hard
// requirements.
func NewStationService(cfg *config.Config, logger *zap.Logger) (*StationService, error) {
	localDB, caps, err := database.OpenLocal(cfg.LocalDB.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	remoteDB, err := database.OpenRemote(&cfg.RemoteDB)
	if err != nil {
		localDB.Close()
		return nil, fmt.Errorf("failed to configure remote store: %w", err)
	}

	redisClient := notify.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		localDB.Close()
		remoteDB.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	sessions := repository.NewSessionRepository(localDB, caps, logger)
	pending := repository.NewPendingRepository(localDB, cfg.Replay.MaxAttempts, logger)
	history := repository.NewHistoryRepository(localDB, logger)
	visits := repository.NewRemoteVisitRepository(remoteDB, logger)

	manager := session.NewManager(sessions, visits, logger)
	checker := health.NewChecker(remoteDB, time.Duration(cfg.Health.Interval)*time.Second, logger)
	notifier := notify.NewRedisNotifier(redisClient, logger)

	rt := router.NewRouter(sessions, pending, history, visits, manager, checker, notifier, logger)
	engine := replay.NewEngine(sessions, pending, history, visits, manager, checker, notifier, logger)
	rt.SetReplayer(engine)

	sweeper := cleaner.NewCleaner(sessions, history, logger)

	devices := consumer.NewDeviceRegistry()
	dispatcher := consumer.NewDispatcher(rt, history, devices, logger)
	mqttConsumer := consumer.NewConsumer(cfg, dispatcher, logger)

	var registryClient *registry.Client
	if cfg.Registry.Enabled {
		registryClient = registry.NewClient(cfg.Registry.BaseURL, cfg.Station.ID, Version, logger)
	}

	return &StationService{
		config:      cfg,
		logger:      logger,
		localDB:     localDB,
		remoteDB:    remoteDB,
		redisClient: redisClient,
		sessions:    sessions,
		pending:     pending,
		history:     history,
		visits:      visits,
		manager:     manager,
		checker:     checker,
		router:      rt,
		engine:      engine,
		cleaner:     sweeper,
		consumer:    mqttConsumer,
		registry:    registryClient,
	}, nil
}

// Start launches the consumer and background loops, then blocks until the
// context ends.
func (s *StationService) Start(ctx context.Context) error {
	s.logger.Info("Starting vitals station",
		zap.String("station_id", s.config.Station.ID),
		zap.String("local_db", s.config.LocalDB.Path),
		zap.String("broker", s.config.MQTT.Broker),
	)

	if err := s.ensureSession(); err != nil {
		return err
	}

	go s.checker.Run(ctx)

	if s.registry != nil {
		go func() {
			if err := s.registry.Register(ctx); err != nil {
				s.logger.Warn("Station registration failed", zap.Error(err))
			}
		}()
	}

	if err := s.consumer.Start(ctx); err != nil {
		return err
	}

	go s.runReplayLoop(ctx)
	go s.runCleanerLoop(ctx)

	<-ctx.Done()
	return nil
}

// ensureSession seeds one placeholder session on a cold start so the UI has
// something to render before the first card scan.
func (s *StationService) ensureSession() error {
	count, err := s.sessions.Count()
	if err != nil {
		return fmt.Errorf("failed to count sessions: %w", err)
	}
	if count == 0 {
		if _, err := s.sessions.InsertPlaceholder(); err != nil {
			return fmt.Errorf("failed to seed placeholder session: %w", err)
		}
		s.logger.Info("Seeded placeholder session")
	}
	return nil
}

func (s *StationService) runReplayLoop(ctx context.Context) {
	interval := time.Duration(s.config.Replay.Interval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.engine.ReplayAll(ctx); err != nil {
				s.logger.Error("Replay pass failed", zap.Error(err))
			}
		}
	}
}

func (s *StationService) runCleanerLoop(ctx context.Context) {
	interval := time.Duration(s.config.Cleaner.Interval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.cleaner.Sweep(s.config.Cleaner.IdleTimeoutMinutes); err != nil {
				s.logger.Error("Cleaner sweep failed", zap.Error(err))
			}
		}
	}
}

// Stop shuts the transport and storage layers down.
func (s *StationService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping vitals station")

	s.consumer.Stop()

	if err := s.redisClient.Close(); err != nil {
		s.logger.Warn("Failed to close redis client", zap.Error(err))
	}
	if err := database.Close(s.remoteDB); err != nil {
		s.logger.Warn("Failed to close remote store", zap.Error(err))
	}
	if err := database.Close(s.localDB); err != nil {
		s.logger.Warn("Failed to close local store", zap.Error(err))
	}

	return nil
}
