// Package daemon composes the engine into a running process.
package daemon

import (
	"context"
	"time"

	"github.com/chatdeskhq/chatdesk/internal/backend"
	"github.com/chatdeskhq/chatdesk/internal/bus"
	"github.com/chatdeskhq/chatdesk/internal/config"
	"github.com/chatdeskhq/chatdesk/internal/coordinator"
	"github.com/chatdeskhq/chatdesk/internal/dispatch"
	"github.com/chatdeskhq/chatdesk/internal/expiry"
	"github.com/chatdeskhq/chatdesk/internal/grouping"
	"github.com/chatdeskhq/chatdesk/internal/history"
	"github.com/chatdeskhq/chatdesk/internal/lock"
	"github.com/chatdeskhq/chatdesk/internal/logging"
	"github.com/chatdeskhq/chatdesk/internal/store"
	intsync "github.com/chatdeskhq/chatdesk/internal/sync"
	"github.com/chatdeskhq/chatdesk/internal/workspace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved workspace configuration passed to the fx module.
type Params struct {
	WorkspaceName string
	ArchivePath   string // optional override for testing; empty = use default
	// Backend delivers queued outgoing messages. Nil means no delivery
	// channel is configured; messages stay in Sending until one is.
	Backend backend.MessageSender
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
// The hosting shell pulls the operator-facing surface (the coordinator,
// the store, the archive) out of the graph with fx.Populate.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideArchive,
			provideStore,
			provideSweeper,
			provideCoordinator,
			provideReconciler,
			provideDispatcher,
			providePersister,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(workspace.LogPath(p.WorkspaceName), p.WorkspaceName)
}

func provideConfig() (*config.Config, error) {
	return config.LoadOrDefault(workspace.ConfigPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := workspace.EnsureDir(p.WorkspaceName); err != nil {
		return nil, err
	}
	logger.Info("acquiring workspace lock", zap.String("workspace", p.WorkspaceName))
	l, err := lock.Acquire(workspace.Dir(p.WorkspaceName))
	if err != nil {
		return nil, err
	}
	logger.Info("workspace lock acquired")
	return l, nil
}

func provideArchive(p Params, logger *zap.Logger) (*history.DB, error) {
	dbPath := p.ArchivePath
	if dbPath == "" {
		dbPath = workspace.ArchivePath(p.WorkspaceName)
	}
	db, err := history.Open(dbPath)
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
	logger.Info("archive initialized", zap.String("path", dbPath))
	return db, nil
}

func provideStore(db *history.DB, logger *zap.Logger) (*store.Store, error) {
	s := store.New()
	if err := db.Hydrate(context.Background(), s); err != nil {
		return nil, err
	}
	logger.Info("store hydrated from archive")
	return s, nil
}

func provideSweeper(cfg *config.Config, s *store.Store, b *bus.Bus, logger *zap.Logger) *expiry.Sweeper {
	fallback := expiry.Policy{
		Enabled: cfg.Disappearing.Enabled,
		Timeout: cfg.Disappearing.Timeout(),
	}
	return expiry.NewSweeper(s, b, fallback, cfg.Disappearing.Grace(), cfg.Disappearing.Interval(), logger)
}

func provideCoordinator(cfg *config.Config, s *store.Store, sw *expiry.Sweeper, b *bus.Bus, logger *zap.Logger) *coordinator.Coordinator {
	view := grouping.Options{
		Gap:      cfg.Grouping.Gap(),
		TZOffset: cfg.Grouping.TimezoneOffset(),
	}
	return coordinator.New(s, sw, b, cfg.Operator.ID, cfg.Operator.Name, view, logger)
}

func provideReconciler(s *store.Store, sw *expiry.Sweeper, b *bus.Bus, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(s, sw, b, logger)
}

func provideDispatcher(p Params, b *bus.Bus, logger *zap.Logger) *dispatch.Dispatcher {
	if p.Backend == nil {
		return nil
	}
	return dispatch.New(p.Backend, b, 0, logger)
}

// archiveResyncInterval is the period of the persister's background
// reconciliation pass. The bus drops derived events under backpressure;
// the resync pass bounds how long the archive can stay divergent.
const archiveResyncInterval = 5 * time.Minute

func providePersister(db *history.DB, s *store.Store, b *bus.Bus, logger *zap.Logger) *history.Persister {
	return history.NewPersister(db, s, b, archiveResyncInterval, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *history.DB, reconciler *intsync.Reconciler, sweeper *expiry.Sweeper, dispatcher *dispatch.Dispatcher, persister *history.Persister, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Persister first so it observes every derived event.
			persister.Start(context.Background())
			reconciler.Start(context.Background())
			sweeper.Start(context.Background())

			if dispatcher != nil {
				dispatcher.Start(context.Background())
			} else {
				logger.Info("no message backend configured, outgoing messages stay queued")
			}

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			if dispatcher != nil {
				dispatcher.Stop()
			}
			sweeper.Stop()
			reconciler.Stop()
			persister.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing archive", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
