package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/fushengyk/spreadscan/internal/api"
	"github.com/fushengyk/spreadscan/internal/collector"
	"github.com/fushengyk/spreadscan/internal/config"
	"github.com/fushengyk/spreadscan/internal/domain"
	"github.com/fushengyk/spreadscan/internal/natsutil"
	"github.com/fushengyk/spreadscan/internal/storage/pgstore"
	"github.com/fushengyk/spreadscan/internal/storage/redisstore"
	"github.com/fushengyk/spreadscan/internal/tracker"
	"github.com/gofiber/fiber/v3"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	// Logger
	zcfg := zap.NewProductionConfig()
	logger, _ := zcfg.Build()
	defer logger.Sync()
	sugar := logger.Sugar()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		sugar.Fatalf("❌ Failed to load config: %v", err)
	}
	if strings.EqualFold(cfg.LogLevel, "debug") {
		zcfg.Level.SetLevel(zap.DebugLevel)
	}

	sugar.Info("🛡️ Starting Spreadscan...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	deps := tracker.Deps{Alerter: tracker.NewNotifier(cfg, sugar)}
	pingers := make(map[string]api.Pinger)

	// NATS
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("Spreadscan"),
			nats.ReconnectWait(cfg.NATS.ReconnectWait),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
		)
		if err != nil {
			sugar.Fatalf("❌ Failed to connect to NATS: %v", err)
		}
		defer nc.Close()

		js, err := nc.JetStream()
		if err != nil {
			sugar.Fatalf("❌ Failed to create JetStream context: %v", err)
		}
		sugar.Info("✅ Connected to NATS JetStream")

		if err := natsutil.EnsureStream(js, domain.StreamArbitrage, domain.StreamArbitrageSubjects, cfg.NATS.MaxAge, sugar); err != nil {
			sugar.Fatalf("❌ Failed to ensure stream %s: %v", domain.StreamArbitrage, err)
		}
		deps.Publisher = natsutil.NewPublisher(js, cfg.Publish.PerOpportunity, sugar)
	}

	// Redis snapshot
	var snapshots interface {
		tracker.SnapshotStore
		api.SnapshotReader
	}
	if cfg.Redis.Enabled {
		rdb, err := redisstore.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			sugar.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
		store := redisstore.NewSnapshotStore(rdb, cfg.Redis.SnapshotKey, cfg.Redis.SnapshotTTL, sugar)
		snapshots = store
		pingers["redis"] = store
		sugar.Info("✅ Connected to Redis")
	} else {
		sugar.Warn("⚠️ Redis disabled, rolling maximum is kept in memory only")
		snapshots = &tracker.MemorySnapshots{}
	}
	deps.Snapshots = snapshots

	// Postgres history
	var averager api.SpreadAverager
	if cfg.Postgres.Enabled && cfg.History.Enabled {
		pool, err := pgstore.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			sugar.Fatalf("❌ Failed to connect to Postgres: %v", err)
		}
		defer pool.Close()
		history := pgstore.NewHistoryStore(pool, sugar)
		if err := history.EnsureSchema(ctx); err != nil {
			sugar.Fatalf("❌ Failed to prepare schema: %v", err)
		}
		deps.History = history
		averager = history
		pingers["postgres"] = history
		sugar.Info("✅ Connected to Postgres")
	}

	// Collector
	col, err := collector.NewService(cfg, sugar)
	if err != nil {
		sugar.Fatalf("❌ Failed to create collector: %v", err)
	}
	if err := col.Start(); err != nil {
		sugar.Fatalf("❌ Failed to start collector: %v", err)
	}

	markets := make(map[string]domain.Market)
	for _, m := range col.Markets() {
		markets[string(m.ID)] = m
	}
	for _, p := range cfg.Pairs {
		deps.Pairs = append(deps.Pairs, tracker.Pair{
			A:         markets[p.A],
			B:         markets[p.B],
			Threshold: cfg.PairThreshold(p),
		})
	}
	deps.Sources = col.Sources()
	deps.Symbols = col.Symbols

	// Tracker
	trk, err := tracker.NewService(cfg.Tracker, cfg.History, deps, sugar)
	if err != nil {
		sugar.Fatalf("❌ Failed to create tracker: %v", err)
	}
	if err := trk.Start(); err != nil {
		sugar.Fatalf("❌ Failed to start tracker: %v", err)
	}

	// HTTP
	var app *fiber.App
	if cfg.HTTP.Enabled {
		app = fiber.New(fiber.Config{
			AppName:      "Spreadscan",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: cfg.Tracker.CycleTimeout + 10*time.Second,
		})
		api.SetupRoutes(app, api.NewHandler(api.Deps{
			Tracker:   trk,
			Snapshots: snapshots,
			History:   averager,
			States:    col.States,
			Pingers:   pingers,

			DefaultLimit: cfg.Tracker.TopN,
		}, sugar))

		go func() {
			sugar.Infof("🌐 HTTP listening on %s", cfg.HTTP.Addr)
			if err := app.Listen(cfg.HTTP.Addr); err != nil {
				sugar.Errorf("HTTP server stopped: %v", err)
			}
		}()
	}

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	sugar.Info("🛑 Shutting down Spreadscan...")
	if app != nil {
		if err := app.Shutdown(); err != nil {
			sugar.Errorf("Error during HTTP shutdown: %v", err)
		}
	}
	trk.Stop()
	col.Stop()
}
