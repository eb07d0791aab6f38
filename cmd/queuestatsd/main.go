// queuestatsd keeps one authenticated session to the Asterisk manager
// interface and serves the call-center picture built from its event
// stream: REST manager commands, a JSON snapshot, a websocket feed,
// an optional PostgreSQL member mirror and an optional Redis stream
// relay.
// Usage: go run ./cmd/queuestatsd --config configs/queuestatsd.yaml
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bekhzad-khamidullaev/queue-stats/internal/ami"
	"github.com/bekhzad-khamidullaev/queue-stats/internal/bus"
	"github.com/bekhzad-khamidullaev/queue-stats/internal/config"
	"github.com/bekhzad-khamidullaev/queue-stats/internal/database"
	"github.com/bekhzad-khamidullaev/queue-stats/internal/httpapi"
	"github.com/bekhzad-khamidullaev/queue-stats/internal/live"
	"github.com/bekhzad-khamidullaev/queue-stats/internal/mirror"
	"github.com/bekhzad-khamidullaev/queue-stats/internal/relay"
	"github.com/bekhzad-khamidullaev/queue-stats/internal/state"
	"github.com/bekhzad-khamidullaev/queue-stats/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/queuestatsd.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting queuestatsd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"manager", cfg.Manager.Address(),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Manager session and command client
	session := ami.NewSession(ami.SessionConfig{
		Address:           cfg.Manager.Address(),
		Username:          cfg.Manager.Username,
		Secret:            cfg.Manager.Secret,
		DialTimeout:       cfg.Manager.DialTimeout,
		WriteTimeout:      cfg.Manager.WriteTimeout,
		BannerTimeout:     cfg.Manager.BannerTimeout,
		ActionTimeout:     cfg.Manager.ActionTimeout,
		ReconnectBaseWait: cfg.Manager.Reconnect.BaseDelay,
		ReconnectMaxWait:  cfg.Manager.Reconnect.MaxDelay,
		HaltOnAuthFailure: cfg.Manager.HaltOnAuth(),
		EventBuffer:       cfg.Manager.EventBuffer,
	}, logger)
	client := ami.NewClient(session, logger)

	// Watch channels must exist before the session starts so nobody
	// misses the first ready transition.
	reconcilerStates := session.Watch()
	hubStates := session.Watch()

	events := bus.New(bus.Config{
		Backlog:     cfg.Bus.Backlog,
		RetryBudget: cfg.Bus.RetryBudget,
	}, logger)

	registry := state.NewRegistry(logger)
	reconciler := state.NewReconciler(state.ReconcilerConfig{
		Interval: cfg.State.ReconcileInterval,
		Timeout:  cfg.State.ReconcileTimeout,
	}, client, registry, reconcilerStates, logger)

	hub := live.NewHub(live.Config{
		MaxClients:     cfg.Server.MaxClients,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, registry, events, hubStates, logger)

	server := httpapi.New(
		httpapi.Config{Host: cfg.Server.Host, Port: cfg.Server.Port},
		registry,
		httpapi.NewManagerHandler(client, logger),
		httpapi.NewRealtimeHandler(registry, hub),
		logger,
	)

	// Optional PostgreSQL member mirror
	var memberMirror *mirror.Mirror
	var pool *pgxpool.Pool
	if cfg.Database.Enabled() {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)

		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		logger.Info("database connected")

		memberMirror = mirror.New(mirror.Config{
			BatchSize:     cfg.Mirror.BatchSize,
			FlushInterval: cfg.Mirror.FlushInterval,
		}, pool, events, client, session.Watch(), logger)

		if err := memberMirror.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
	}

	// Optional Redis stream relay
	var streamRelay *relay.Relay
	if cfg.Redis.Enabled() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()

		logger.Info("redis connected", "addr", cfg.Redis.Addr, "stream", cfg.Redis.Stream)

		streamRelay = relay.New(relay.Config{
			Stream: cfg.Redis.Stream,
			MaxLen: cfg.Redis.MaxLen,
		}, redisClient, events, logger)
	}

	// Start the HTTP server first so health checks see the sync happen
	if err := server.Start(ctx); err != nil {
		logger.Error("failed to start http server", "error", err)
		os.Exit(1)
	}

	if err := reconciler.Start(ctx); err != nil {
		logger.Error("failed to start reconciler", "error", err)
		os.Exit(1)
	}
	if err := hub.Start(ctx); err != nil {
		logger.Error("failed to start hub", "error", err)
		os.Exit(1)
	}
	if memberMirror != nil {
		if err := memberMirror.Start(ctx); err != nil {
			logger.Error("failed to start mirror", "error", err)
			os.Exit(1)
		}
	}
	if streamRelay != nil {
		if err := streamRelay.Start(ctx); err != nil {
			logger.Error("failed to start relay", "error", err)
			os.Exit(1)
		}
	}

	// Event pump: registry first, then fan-out. A client that snapshots
	// between the two sees the event in the snapshot or in the stream,
	// never in neither.
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for ev := range session.Events() {
			registry.Apply(ev)
			events.Publish(ev)
		}
	}()

	// Connect to the manager last, with every consumer already wired
	if err := session.Start(ctx); err != nil {
		logger.Error("failed to start manager session", "error", err)
		os.Exit(1)
	}

	// Periodic stats
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sessStats := session.Stats()
				busStats := events.Stats()
				args := []any{
					"session", sessStats.State,
					"events", sessStats.Events,
					"events_dropped", sessStats.EventsDropped,
					"reconnects", sessStats.Reconnects,
					"published", busStats.Published,
					"subscribers", len(busStats.Subscribers),
					"ws_clients", hub.ClientCount(),
				}
				if memberMirror != nil {
					ms := memberMirror.Stats()
					args = append(args, "mirror_upserts", ms.Upserts, "mirror_errors", ms.Errors)
				}
				if streamRelay != nil {
					rs := streamRelay.Stats()
					args = append(args, "relay_published", rs.Published, "relay_errors", rs.Errors)
				}
				logger.Info("stats", args...)
			}
		}
	}()

	logger.Info("queuestatsd running",
		"instance_id", cfg.Instance.ID,
		"http", server.Addr(),
		"manager", cfg.Manager.Address(),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Inbound surfaces first, then the session, then the consumers so
	// buffered events still land before the process exits.
	server.Stop(shutdownCtx)
	hub.Stop(shutdownCtx)
	reconciler.Stop(shutdownCtx)
	session.Stop(shutdownCtx)
	<-pumpDone
	events.Close()
	if memberMirror != nil {
		memberMirror.Stop(shutdownCtx)
	}
	if streamRelay != nil {
		streamRelay.Stop(shutdownCtx)
	}

	logger.Info("queuestatsd stopped")
}
