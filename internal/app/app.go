// Package app is the fx composition root, grounded on the teacher's
// cmd/fx.go and its per-package fx.Module wiring (internal/domain/registry,
// internal/service, internal/handler/amqp). Each SPEC_FULL.md component
// gets its own fx.Provide, wired together with fx.Lifecycle hooks so the
// broker connection, HTTP listener, and dispatcher shard pool all start
// and stop in dependency order.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/webitel/chat-delivery-service/config"
	"github.com/webitel/chat-delivery-service/internal/ack"
	"github.com/webitel/chat-delivery-service/internal/cache"
	"github.com/webitel/chat-delivery-service/internal/dispatcher"
	"github.com/webitel/chat-delivery-service/internal/gateway"
	"github.com/webitel/chat-delivery-service/internal/httpapi"
	"github.com/webitel/chat-delivery-service/internal/ingress"
	"github.com/webitel/chat-delivery-service/internal/queue"
	"github.com/webitel/chat-delivery-service/internal/registry"
	"github.com/webitel/chat-delivery-service/internal/store"
	"github.com/webitel/chat-delivery-service/internal/telemetry"
)

const (
	dispatcherShards  = 16
	retentionInterval = 24 * time.Hour
	retentionDays     = 30
)

// New assembles the fx.App wiring every SPEC_FULL.md component together.
// cfg and tel are supplied by the caller (cmd) since both require I/O
// (env/file read, exporter dial) that shouldn't happen inside fx.Provide
// constructors the teacher keeps side-effect-light.
func New(cfg *config.Config, tel *telemetry.Telemetry) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			func() *slog.Logger { return tel.Logger },
			func() *telemetry.Telemetry { return tel },
			provideGormDB,
			provideStore,
			provideRedisClient,
			provideCache,
			provideQueue,
			provideRegistry,
			provideIngress,
			provideAck,
			provideDispatcherGateway,
			provideDispatcher,
			provideGateway,
			provideHTTPRouter,
			provideRetentionSweeper,
		),
		fx.Invoke(
			registerDispatcher,
			registerHTTPServer,
			registerWebsocketServer,
			registerRetentionSweeper,
		),
	)
}

// provideGormDB opens the Message Store's backing database. The DSN is a
// fixed local default rather than config-driven: the enumerated
// configuration surface (spec.md §6) covers cache, queue, and server
// identity only, not storage.
func provideGormDB(*config.Config) (*gorm.DB, error) {
	dsn := "host=localhost user=chat password=chat dbname=chat sslmode=disable"
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("app: failed to open database: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		return nil, fmt.Errorf("app: failed to migrate database: %w", err)
	}
	return db, nil
}

func provideStore(db *gorm.DB) (store.Store, error) {
	return store.New(db, 4096)
}

func provideRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.Cache.Addr()})
}

func provideCache(client *redis.Client) cache.InboxCache {
	return cache.New(client, 5, 30*time.Second)
}

func provideQueue(cfg *config.Config, logger *slog.Logger) (queue.Queue, error) {
	return queue.New(cfg.Queue.URL, cfg.Queue.Name, logger)
}

func provideRegistry() registry.Registry {
	return registry.New()
}

func provideIngress(s store.Store, q queue.Queue, logger *slog.Logger) ingress.Ingress {
	return ingress.New(s, q, logger)
}

func provideAck(s store.Store, c cache.InboxCache, logger *slog.Logger) ack.Ack {
	return ack.New(s, c, logger)
}

// provideDispatcherGateway breaks the natural Dispatcher<->Gateway import
// cycle: the Dispatcher only needs the narrow SendToUser contract, which
// *gateway.Gateway satisfies structurally without either package importing
// the other's concrete type.
func provideDispatcherGateway(gw *gateway.Gateway) dispatcher.Gateway {
	return gw
}

func provideGateway(cfg *config.Config, reg registry.Registry, c cache.InboxCache, s store.Store, in ingress.Ingress, ak ack.Ack, logger *slog.Logger) *gateway.Gateway {
	return gateway.New(gateway.NewQueryParamAuthenticator("userId"), reg, c, s, in, ak, logger, cfg.Server.InstanceID)
}

func provideHTTPRouter(s store.Store, logger *slog.Logger) http.Handler {
	return httpapi.NewRouter(s, logger)
}

func provideDispatcher(c cache.InboxCache, gw dispatcher.Gateway, logger *slog.Logger) *dispatcher.Dispatcher {
	return dispatcher.New(c, gw, logger, dispatcherShards)
}

func provideRetentionSweeper(s store.Store, logger *slog.Logger) *store.RetentionSweeper {
	return store.NewRetentionSweeper(s, logger, retentionInterval, retentionDays)
}

func registerRetentionSweeper(lc fx.Lifecycle, r *store.RetentionSweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			r.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			r.Stop()
			return nil
		},
	})
}

// registerDispatcher starts the shard worker pool and, once it's running,
// hands the same Dispatcher's Handle method to the queue as its consumer
// callback — the shard goroutines must be up before Consume can start
// feeding them or Handle's per-item send would block forever.
func registerDispatcher(lc fx.Lifecycle, d *dispatcher.Dispatcher, q queue.Queue) {
	ctx, cancel := context.WithCancel(context.Background())
	var g errgroup.Group

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			g.Go(func() error { return d.Run(ctx) })
			g.Go(func() error { return q.Consume(ctx, d.Handle) })
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			_ = q.Close()
			return g.Wait()
		},
	})
}

func registerHTTPServer(lc fx.Lifecycle, cfg *config.Config, router http.Handler, logger *slog.Logger) {
	srv := &http.Server{Handler: router}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port+1))
			if err != nil {
				return fmt.Errorf("app: failed to bind http listener: %w", err)
			}
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("httpapi: server exited", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func registerWebsocketServer(lc fx.Lifecycle, cfg *config.Config, gw *gateway.Gateway, logger *slog.Logger) {
	srv := &http.Server{Handler: gw}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
			if err != nil {
				return fmt.Errorf("app: failed to bind gateway listener: %w", err)
			}
			logger.Info("gateway: listening", "addr", ln.Addr().String())
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("gateway: server exited", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
