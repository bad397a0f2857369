package daemon

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/live"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/scheduler"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional; nil = config.toml + environment
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideHub,
			provideRemote,
			provideSyncEngine,
			provideScheduler,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg := p.Config
	if cfg == nil {
		if err := config.LoadDotEnv(session.EnvPath()); err != nil {
			return nil, err
		}
		var err error
		if cfg, err = config.LoadOrDefault(session.ConfigPath()); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if err := cfg.ApplyEnv(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so the store is never opened by a second
// daemon of the same session.
func provideStore(p Params, _ *lock.Lock, b *bus.Bus, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath, store.WithBus(b))
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideHub(db *store.DB, b *bus.Bus, logger *zap.Logger) *live.Hub {
	return live.NewHub(db, b, logger)
}

func provideRemote(cfg *config.Config, logger *zap.Logger) (*remote.Client, error) {
	return remote.New(cfg.ServerURL, cfg.HTTPTimeout.Duration, logger)
}

func provideSyncEngine(db *store.DB, rc *remote.Client, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, rc, b, logger)
}

func provideScheduler(cfg *config.Config, db *store.DB, rc *remote.Client, engine *intsync.Engine, machine *status.Machine, logger *zap.Logger) (*scheduler.Scheduler, error) {
	job := &syncJob{db: db, engine: engine, machine: machine, logger: logger}
	policy := scheduler.DefaultPolicy()
	policy.Base = cfg.BackoffBase.Duration
	policy.Multiplier = cfg.BackoffMultiplier
	policy.Max = cfg.BackoffMax.Duration

	s := scheduler.New(policy, logger,
		scheduler.WithConstraint(rc.Reachable),
		scheduler.WithPrecondition(job.signedIn),
		scheduler.WithHooks(scheduler.Hooks{
			OnWaiting: func(string) { job.transition(status.Offline) },
		}),
	)
	if err := s.Register(SyncJob, job.run); err != nil {
		return nil, err
	}
	return s, nil
}

func provideService(p Params, db *store.DB, engine *intsync.Engine, hub *live.Hub, machine *status.Machine, sched *scheduler.Scheduler, logger *zap.Logger) *api.Service {
	trigger := func() error { return sched.Trigger(SyncJob) }
	return api.NewService(p.SessionName, db, engine, hub, machine, trigger, logger)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, srv *Server, lk *lock.Lock, db *store.DB, sched *scheduler.Scheduler, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			uid, err := db.CurrentUser()
			if err != nil {
				return fmt.Errorf("read current user: %w", err)
			}

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if err := sched.SchedulePeriodic(SyncJob, cfg.SyncInterval.Duration); err != nil {
				return err
			}
			if uid != "" {
				logger.Info("resuming sync", zap.String("user", uid))
				if err := machine.Transition(status.Idle); err != nil {
					logger.Warn("state transition failed", zap.Error(err))
				}
				return sched.Trigger(SyncJob)
			}
			logger.Info("no signed-in user, waiting for sign in")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sched.Stop()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
