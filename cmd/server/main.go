package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/coneflip-overlay/server/internal/chat"
	"github.com/coneflip-overlay/server/internal/config"
	"github.com/coneflip-overlay/server/internal/domain"
	"github.com/coneflip-overlay/server/internal/eventsub"
	"github.com/coneflip-overlay/server/internal/handler"
	"github.com/coneflip-overlay/server/internal/kafka"
	"github.com/coneflip-overlay/server/internal/leaderboard"
	"github.com/coneflip-overlay/server/internal/postgres"
	"github.com/coneflip-overlay/server/internal/redis"
	"github.com/coneflip-overlay/server/internal/service"
	"github.com/coneflip-overlay/server/internal/seventv"
	"github.com/coneflip-overlay/server/internal/skins"
	"github.com/coneflip-overlay/server/internal/twitch"
	"github.com/coneflip-overlay/server/internal/websocket"
	"github.com/coneflip-overlay/server/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load .env before the config file so ${VAR} expansion sees it
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "failed to load .env:", err)
	}

	// Load configuration. A missing or broken file falls back to defaults,
	// but the reason is printed so a typo is not mistaken for an absent file.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config %s not loaded (%v), using defaults\n", *configPath, err)
		cfg = config.DefaultConfig()
	}

	// Setup structured logging
	logger := newLogger(&cfg.Logging)
	slog.SetDefault(logger)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	// Run database migrations
	if err := repo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize Redis (Helix lookup cache). The game runs without it.
	var cache *redis.Cache
	if c, err := redis.NewCache(&cfg.Redis, logger); err != nil {
		logger.Warn("redis unavailable, helix lookups uncached", "error", err)
	} else {
		cache = c
		defer cache.Close()
		logger.Info("connected to Redis", "addr", cfg.Redis.Addr)
	}

	// Twitch Helix client
	helix := twitch.NewClient(&cfg.Twitch, cache, logger)

	// Initialize WebSocket hub
	hub := websocket.NewHub(logger)
	go hub.Run()
	logger.Info("overlay hub initialized")

	// Leaderboard engine
	lbEngine := leaderboard.NewEngine(repo, cfg.Leaderboard.CacheTTL, logger)

	// Skins engine with the catalog loaded from disk
	skinEngine := skins.NewEngine(
		repo,
		repo,
		nil,
		skins.DefaultEntitlements(),
		lbEngine,
		helix,
		helix,
		logger,
	)
	if err := skinEngine.Reload(ctx, cfg.Skins.ConfigPath); err != nil {
		logger.Error("failed to load skin catalog", "path", cfg.Skins.ConfigPath, "error", err)
		os.Exit(1)
	}

	// Kafka audit producer
	var audit *kafka.Producer
	if cfg.Kafka.Enabled {
		audit, err = kafka.NewProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka producer, continuing without audit stream", "error", err)
			audit = nil
		} else {
			logger.Info("Kafka audit producer started", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
		}
	}

	// Chat client, wired to the command router after the service exists
	var irc *twitch.IRCClient
	var router *chat.Router
	if cfg.Twitch.ChatEnabled {
		irc = twitch.NewIRCClient(&cfg.Twitch, func(ctx context.Context, msg twitch.ChatMessage) {
			if router != nil {
				router.Handle(ctx, msg)
			}
		}, logger)
	}

	// Game orchestration service
	var sayer service.Sayer
	if irc != nil {
		sayer = irc
	}
	var publisher service.EventPublisher
	if audit != nil {
		publisher = audit
	}
	game := service.NewGameService(
		lbEngine,
		skinEngine,
		repo,
		helix,
		hub,
		sayer,
		publisher,
		cfg.Twitch.Rewards,
		logger,
	)
	hub.SetGameHandler(game)

	// Push current state to each overlay as it connects
	hub.SetConnectHook(func(client *websocket.Client) {
		snapshot, err := lbEngine.GetLeaderboard(ctx)
		if err != nil {
			logger.Error("failed to load leaderboard for new overlay", "error", err)
			return
		}
		client.Send(domain.EventRefreshLeaderboard, snapshot)
		if len(snapshot) > 0 {
			client.Send(domain.EventGoldSkin, snapshot[0].Name)
		}
	})

	if irc != nil {
		router = chat.NewRouter(game, lbEngine, skinEngine, irc, hub, cfg.Twitch.Admins, logger)
		irc.Start()
		defer irc.Stop()
	}

	// EventSub listener for channel point redemptions
	var listener *eventsub.Listener
	if cfg.Twitch.EventSubEnabled {
		listener = eventsub.NewListener(helix, &cfg.Twitch, game, logger)
		listener.Start()
	}

	// Catalog reload worker
	catalogWorker := worker.NewCatalogWorker(skinEngine, hub, &cfg.Skins, logger)
	if cfg.Skins.ReloadEnabled {
		if err := catalogWorker.Start(ctx); err != nil {
			logger.Error("failed to start catalog worker", "error", err)
			os.Exit(1)
		}
	}

	// 7TV cosmetics client
	sevenTV := seventv.NewClient(&cfg.SevenTV, cfg.Twitch.Channel, logger)

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(
		game,
		lbEngine,
		skinEngine,
		repo,
		sevenTV,
		hub,
		cfg.Server.PublicDir,
		logger,
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Nudge overlays opened before the server came up
	go func() {
		select {
		case <-time.After(2 * time.Second):
			hub.Broadcast(domain.EventRestart, nil)
		case <-ctx.Done():
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if listener != nil {
		listener.Stop()
	}
	if cfg.Skins.ReloadEnabled {
		if err := catalogWorker.Stop(); err != nil {
			logger.Error("failed to stop catalog worker", "error", err)
		}
	}
	hub.Stop()
	if audit != nil {
		if err := audit.Close(); err != nil {
			logger.Error("failed to close Kafka producer", "error", err)
		}
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}

// newLogger builds the slog handler from config: tinted text for local runs,
// JSON for anything that ships logs.
func newLogger(cfg *config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var h slog.Handler
	if cfg.Format == "text" {
		h = tint.NewHandler(os.Stdout, &tint.Options{Level: level})
	} else {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(h)
}
