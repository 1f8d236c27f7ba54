package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomrelay/internal/cluster"
	"github.com/vovakirdan/roomrelay/internal/config"
	"github.com/vovakirdan/roomrelay/internal/core"
	transporthttp "github.com/vovakirdan/roomrelay/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	bridge          *cluster.Bridge
	redis           *redis.Client
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}

	registry := core.NewRegistry()
	opts := []core.RouterOption{core.WithOverflowPolicy(core.OverflowPolicy(cfg.OverflowPolicy))}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.bridge = cluster.NewBridge(a.redis, cfg.RedisChannel, logger)
		opts = append(opts, core.WithRelay(a.bridge))
		logger.Info().Str("redis_addr", cfg.RedisAddr).Str("channel", cfg.RedisChannel).Msg("cluster bridge enabled")
	}

	router := core.NewRouter(registry, logger, opts...)
	a.hub = core.NewHub(registry, router, logger)
	a.server = transporthttp.NewServer(a.hub, cfg, logger)

	return a, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
// Shutdown order: stop accepting, close sessions, release redis.
func (a *App) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	if a.bridge != nil {
		go func() {
			deliver := func(room string, payload []byte) {
				a.hub.Router().Broadcast(room, payload, nil)
			}
			if err := a.bridge.Run(hubCtx, deliver); err != nil {
				a.log.Error().Err(err).Msg("cluster bridge stopped")
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.stop(stopHub)
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		err := a.server.Shutdown(shutdownCtx)
		a.stop(stopHub)
		if err != nil {
			return err
		}
		return <-serverErr
	}
}

// stop closes live sessions and waits for the hub before releasing redis.
func (a *App) stop(stopHub context.CancelFunc) {
	stopHub()

	select {
	case <-a.hub.Done():
	case <-time.After(a.shutdownTimeout):
		a.log.Warn().Msg("hub did not stop in time")
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		} else {
			a.log.Info().Msg("redis client closed")
		}
	}
}
