package daemon

import (
	"context"
	"errors"

	"github.com/gmcamargo/koinonia/internal/api"
	"github.com/gmcamargo/koinonia/internal/bus"
	"github.com/gmcamargo/koinonia/internal/cache"
	"github.com/gmcamargo/koinonia/internal/config"
	"github.com/gmcamargo/koinonia/internal/feed"
	"github.com/gmcamargo/koinonia/internal/lock"
	"github.com/gmcamargo/koinonia/internal/logging"
	"github.com/gmcamargo/koinonia/internal/push"
	"github.com/gmcamargo/koinonia/internal/remote"
	"github.com/gmcamargo/koinonia/internal/room"
	"github.com/gmcamargo/koinonia/internal/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideCache,
			provideIdentity,
			provideClient,
			provideRealtime,
			provideFeedBackend,
			provideRoomBackend,
			provideNotifier,
			provideFeedEngine,
			provideRoomEngine,
			provideSession,
			provideEventStream,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return nil, err
	}
	if cfg.Backend.URL == "" || cfg.Backend.AnonKey == "" {
		return nil, errors.New("backend url and anon key must be configured")
	}
	logger.Info("config loaded", zap.String("backend", cfg.Backend.URL))
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
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

func provideCache(p Params, logger *zap.Logger) (*cache.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := cache.Open(dbPath)
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
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideIdentity(p Params, logger *zap.Logger) (*session.Identity, error) {
	id, err := session.LoadIdentity(p.SessionName)
	if err != nil {
		return nil, err
	}
	logger.Info("identity loaded", zap.String("user", id.UserID))
	return id, nil
}

func provideClient(cfg *config.Config, id *session.Identity) *remote.Client {
	return remote.NewClient(cfg.Backend.URL, cfg.Backend.AnonKey, id.Token)
}

func provideRealtime(cfg *config.Config, id *session.Identity, b *bus.Bus, logger *zap.Logger) *remote.Realtime {
	return remote.NewRealtime(cfg.Backend.URL, cfg.Backend.AnonKey, id.Token, b, logger)
}

func provideFeedBackend(client *remote.Client, logger *zap.Logger) *feed.TableBackend {
	return feed.NewTableBackend(client, logger)
}

func provideRoomBackend(client *remote.Client) *room.TableBackend {
	return room.NewTableBackend(client)
}

func provideNotifier(cfg *config.Config, id *session.Identity, logger *zap.Logger) *push.Notifier {
	return push.New(cfg.Backend.URL, cfg.Backend.AnonKey, id.Token, logger)
}

func provideFeedEngine(backend *feed.TableBackend, db *cache.DB, b *bus.Bus, notifier *push.Notifier, id *session.Identity, cfg *config.Config, logger *zap.Logger) *feed.Engine {
	return feed.NewEngine(backend, db, b, notifier, id.UserID, cfg.Feed, logger)
}

func provideRoomEngine(backend *room.TableBackend, db *cache.DB, b *bus.Bus, logger *zap.Logger, id *session.Identity) *room.Engine {
	return room.NewEngine(backend, db, b, logger, id.UserID)
}

func provideSession(f *feed.Engine, r *room.Engine, rt *remote.Realtime, backend *feed.TableBackend, logger *zap.Logger) *Session {
	return NewSession(f, r, rt, backend, logger)
}

func provideEventStream(b *bus.Bus, logger *zap.Logger) *api.EventStream {
	return api.NewEventStream(b, logger)
}

func provideServer(p Params, sess *Session, events *api.EventStream, logger *zap.Logger) (*api.Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}
	router := api.NewRouter(sess, events, logger)
	return api.NewServer(socketPath, router, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *api.Server, lk *lock.Lock, rt *remote.Realtime, db *cache.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Change feed connection outlives the start hook.
			rt.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control API error", zap.Error(err))
				}
			}()

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			rt.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
