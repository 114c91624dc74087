package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/agent-studio/internal/api"
	"github.com/nidhogg/agent-studio/internal/catalog"
	"github.com/nidhogg/agent-studio/internal/config"
	"github.com/nidhogg/agent-studio/internal/events"
	"github.com/nidhogg/agent-studio/internal/history"
	"github.com/nidhogg/agent-studio/internal/jobs"
	"github.com/nidhogg/agent-studio/internal/notify"
	"github.com/nidhogg/agent-studio/internal/orchestrator"
	pgstore "github.com/nidhogg/agent-studio/internal/store"
	"github.com/nidhogg/agent-studio/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Agent Studio...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/studio.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Catalog of models, agents, and teams
	cat, err := catalog.NewStore(cfg.Catalog.Path, logger)
	if err != nil {
		logger.Fatal("failed to open catalog", zap.String("path", cfg.Catalog.Path), zap.Error(err))
	}

	// Worker invoker and strategy engine
	runner := worker.NewRunner(logger)
	engine := orchestrator.NewEngine(runner, logger)

	// Trace history: in-memory ring, mirrored to PostgreSQL when configured
	var hist history.Sink = history.NewMemory(history.DefaultLimit)
	var pg *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		pg, err = pgstore.New(context.Background(), cfg.Database.Postgres.DSN, logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, traces stay in memory", zap.Error(err))
		} else {
			hist = history.Tee{hist, pg}
		}
	}

	// Job event bus
	var bus *events.Bus
	if cfg.Database.Redis.URL != "" {
		bus, err = events.NewBus(cfg.Database.Redis.URL, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without job events", zap.Error(err))
			bus = nil
		} else {
			logger.Info("Job event bus initialized")
		}
	}

	// Terminal-job notifiers
	notifier := notify.NewNotifier(logger)
	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.BotToken != "" {
		notifier.Register(notify.NewSlackAnnouncer(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.Channel, logger))
	}
	if cfg.Notify.Discord.Enabled && cfg.Notify.Discord.BotToken != "" {
		discord, derr := notify.NewDiscordAnnouncer(cfg.Notify.Discord.BotToken, cfg.Notify.Discord.ChannelID, logger)
		if derr != nil {
			logger.Warn("Discord notifier unavailable", zap.Error(derr))
		} else {
			notifier.Register(discord)
		}
	}

	// Job registry
	registry := jobs.NewRegistry(engine, logger)
	registry.OnTransition(func(job jobs.Job, event string) {
		ctx := context.Background()
		if bus != nil {
			ev := &events.Event{
				JobID:   job.ID,
				TeamID:  job.TeamID,
				Event:   event,
				Status:  string(job.Status),
				Phase:   job.Phase,
				Current: job.Progress.Current,
				Total:   job.Progress.Total,
			}
			if err := bus.Publish(ctx, ev); err != nil {
				logger.Warn("job event publish failed", zap.Error(err))
			}
		}
		switch event {
		case "completed", "failed", "cancelled":
			if job.Trace != nil {
				if err := hist.Append(ctx, job.Trace); err != nil {
					logger.Warn("trace append failed", zap.Error(err))
				}
			}
			if notifier.Enabled() {
				notifier.Announce(ctx, job)
			}
		}
	})

	// Build HTTP handler
	handler := api.NewHandler(cat, engine, runner, registry, hist, logger)

	// Start server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Agent Studio listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Agent Studio...")
	srv.Shutdown(context.Background())
	if bus != nil {
		bus.Close()
	}
	if pg != nil {
		pg.Close()
	}
	notifier.Close()
}
