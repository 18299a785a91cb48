// Command coachd is the live-set coaching daemon: it ingests sensor samples,
// tracks fatigue phases per set and delivers insights.
//
// Usage:
//
//	coachd
//	API_PORT=8080 TUNING_PATH=tuning.yaml coachd
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/lib/pq"

	"setcoach/clients/ai"
	"setcoach/internal/api"
	"setcoach/internal/api/handler"
	"setcoach/internal/coach"
	"setcoach/internal/config"
	"setcoach/internal/ingest"
	"setcoach/internal/insight"
	"setcoach/internal/notify"
	"setcoach/internal/report"
	"setcoach/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("coachd stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	watcher, err := config.NewTuningWatcher(cfg.TuningPath, logger, func(t *config.Tuning) {
		logger.Info("tuning reloaded", "max_messages_per_set", t.Limits.MaxMessagesPerSet, "response_timeout", t.ResponseTimeout())
	})
	if err != nil {
		return fmt.Errorf("tuning: %w", err)
	}

	opts := coach.Options{
		Tuning:       watcher.Current,
		NewGenerator: newGenerator(cfg, logger),
		Logger:       logger,
		Archive:      archiveReport(cfg.ReportDir),
	}

	// База необязательна: без неё журнал пишется только в slog
	var archive handler.Archive
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		pingCancel()
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}

		repo := repository.New(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		opts.Events = func(setID string) insight.Logger { return repo.Events.Logger(setID, logger) }
		opts.Outcomes = repo.Outcomes
		opts.Sinks = append(opts.Sinks, repo.Insights)
		archive = repo
		logger.Info("Database connected")
	} else {
		logger.Info("Database disabled (no DATABASE_URL)")
	}

	var bot *tgbotapi.BotAPI
	if cfg.BotToken != "" {
		bot, err = notify.NewBotAPI(cfg.BotToken)
		if err != nil {
			return err
		}
		opts.Sinks = append(opts.Sinks, notify.NewTelegramSink(bot, cfg.TelegramChatID))
		logger.Info("Telegram notifications enabled", "bot", bot.Self.UserName)
	} else {
		opts.Sinks = append(opts.Sinks, notify.LogSink{L: logger})
	}

	hub := coach.NewHub(opts)
	defer hub.Close()

	// Кнопки под инсайтами: end_set завершает подход
	if bot != nil {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 30
		updates := bot.GetUpdatesChan(u)
		defer bot.StopReceivingUpdates()
		go notify.NewCallbacks(bot, hub, logger).Run(ctx, updates)
	}

	sched, err := coach.NewScheduler(hub, cfg.CheckpointSchedule, logger)
	if err != nil {
		return err
	}
	go sched.Run(ctx)

	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Error("tuning watcher stopped", "error", err)
		}
	}()

	if cfg.MQTTBroker != "" {
		sub := ingest.NewSubscriber(ingest.Config{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
			Codec:    cfg.MQTTCodec,
		}, hub, logger)
		go func() {
			if err := sub.Run(ctx); err != nil {
				logger.Error("mqtt ingest stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(hub, archive, cfg, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting coachd", "addr", srv.Addr, "ai_provider", cfg.AIProvider)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
	return nil
}

// newGenerator откладывает создание клиента до первого вызова модели
func newGenerator(cfg *config.Config, logger *slog.Logger) func() (insight.Generator, error) {
	return func() (insight.Generator, error) {
		provider, err := ai.ParseProvider(cfg.AIProvider)
		if err != nil {
			return nil, err
		}
		client, err := ai.NewClientForProvider(ai.ProviderConfig{
			Provider:          provider,
			GroqAPIKey:        cfg.GroqAPIKey,
			OpenRouterAPIKey:  cfg.OpenRouterAPIKey,
			OllamaURL:         cfg.OllamaURL,
			Model:             cfg.AIModel,
			RequestsPerMinute: cfg.AIRequestsPerMinute,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("AI client ready", "model", client.Model())
		return ai.NewInsightGenerator(client), nil
	}
}

func archiveReport(dir string) func(report.SetReport) error {
	if dir == "" {
		return nil
	}
	return func(r report.SetReport) error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		return report.SaveSetReport(filepath.Join(dir, "set-"+r.SetID+".xlsx"), r)
	}
}
