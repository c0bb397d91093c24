// Package app composes the chat engine with fx: providers for every
// component and the lifecycle hook that brings the connection up and down.
package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/FYLA-Organization/fylachat/internal/bus"
	"github.com/FYLA-Organization/fylachat/internal/config"
	"github.com/FYLA-Organization/fylachat/internal/conn"
	"github.com/FYLA-Organization/fylachat/internal/engine"
	"github.com/FYLA-Organization/fylachat/internal/hub"
	"github.com/FYLA-Organization/fylachat/internal/lock"
	"github.com/FYLA-Organization/fylachat/internal/logging"
	"github.com/FYLA-Organization/fylachat/internal/paths"
	"github.com/FYLA-Organization/fylachat/internal/rest"
	"github.com/FYLA-Organization/fylachat/internal/rooms"
	"github.com/FYLA-Organization/fylachat/internal/status"
	"github.com/FYLA-Organization/fylachat/internal/store"
	chatsync "github.com/FYLA-Organization/fylachat/internal/sync"
	"github.com/FYLA-Organization/fylachat/internal/typing"
)

// Params holds the resolved runtime identity passed to the fx module.
type Params struct {
	Profile     string
	Token       string
	LocalUserID string
}

// Module returns the fx module composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("fylachat",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideChannel,
			provideRESTClient,
			provideStateMachine,
			provideBridge,
			provideAggregator,
			provideManager,
			provideSyncEngine,
			provideTracker,
			provideCoordinator,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := paths.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	return logging.New(paths.LogPath(p.Profile), p.Profile)
}

func provideConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(paths.ConfigPath())
	if err != nil {
		logger.Info("no config file, using defaults", zap.Error(err))
		return config.Default(), nil
	}
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(paths.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(store.MemoryPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("session store initialized", zap.Uint("schema_version", result.Version))
	return db, nil
}

func provideChannel(cfg *config.Config, logger *zap.Logger) hub.Channel {
	return hub.NewWSChannel(cfg.HubURL, logger)
}

func provideRESTClient(cfg *config.Config, logger *zap.Logger) rest.Client {
	return rest.NewHTTPClient(cfg.APIURL, logger)
}

func provideStateMachine(b *bus.Bus) *conn.Machine {
	return conn.NewMachine(b)
}

func provideBridge(b *bus.Bus, logger *zap.Logger) *hub.Bridge {
	return hub.NewBridge(b, logger)
}

func provideAggregator(p Params, db *store.DB, restClient rest.Client, b *bus.Bus, logger *zap.Logger) *rooms.Aggregator {
	return rooms.NewAggregator(db, restClient, b, p.LocalUserID, logger)
}

func provideManager(ch hub.Channel, machine *conn.Machine, bridge *hub.Bridge, db *store.DB, aggregator *rooms.Aggregator, cfg *config.Config, logger *zap.Logger) *conn.Manager {
	hooks := conn.Hooks{
		Seed: func(ctx context.Context) error {
			if err := aggregator.LoadRooms(ctx); err != nil {
				return err
			}
			return aggregator.SeedUnread(ctx)
		},
		Clear: func() {
			if err := db.Clear(); err != nil {
				logger.Warn("session store clear failed", zap.Error(err))
			}
			aggregator.Reset()
		},
	}
	return conn.NewManager(ch, machine, bridge.Register, hooks, cfg.ReconnectDelay(), logger)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, aggregator *rooms.Aggregator, tracker *status.Tracker, cfg *config.Config, logger *zap.Logger) *chatsync.Engine {
	return chatsync.NewEngine(db, b, aggregator, tracker, int64(cfg.EchoWindowMS), logger)
}

func provideTracker(db *store.DB, b *bus.Bus, logger *zap.Logger) *status.Tracker {
	return status.NewTracker(db, b, logger)
}

func provideCoordinator(manager *conn.Manager, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *typing.Coordinator {
	return typing.NewCoordinator(manager, b, cfg.TypingIdle(), logger)
}

func provideEngine(p Params, db *store.DB, b *bus.Bus, manager *conn.Manager, restClient rest.Client, syncEngine *chatsync.Engine, aggregator *rooms.Aggregator, coordinator *typing.Coordinator, logger *zap.Logger) *engine.Engine {
	return engine.New(db, b, manager, restClient, syncEngine, aggregator, coordinator, p.LocalUserID, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, eng *engine.Engine, syncEngine *chatsync.Engine, coordinator *typing.Coordinator, lk *lock.Lock, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Subscribers first, so nothing pushed during connect is missed.
			// The sync engine is the single ordered consumer of hub events;
			// it feeds receipts to the status tracker itself.
			syncEngine.Start(context.Background())
			coordinator.Start(context.Background())

			// Connect failures degrade to background retry.
			go func() {
				if err := eng.Connect(context.Background(), p.Token); err != nil {
					logger.Error("connect failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := eng.Disconnect(ctx); err != nil {
				logger.Warn("disconnect failed", zap.Error(err))
			}
			coordinator.Stop()
			syncEngine.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("store close failed", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("lock release failed", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
