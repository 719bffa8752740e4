package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paperlens/internal/bot"
	"paperlens/internal/chat"
	"paperlens/internal/config"
	"paperlens/internal/database"
	"paperlens/internal/document"
	"paperlens/internal/llm"
	"paperlens/internal/scheduler"
	"paperlens/internal/summarizer"
)

func main() {
	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).ErrorContext(ctx, "Failed to load config",
			"error", err)

		return
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	db, err := database.New(ctx, cfg.DBPath, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize db",
			"error", err,
			"dbPath", cfg.DBPath)

		return
	}
	defer func() {
		if err = db.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close db",
				"error", err,
				"dbPath", cfg.DBPath)
		}
	}()
	log.InfoContext(ctx, "DB is initialized",
		"dbPath", cfg.DBPath)

	client, closeClient, err := initModelClient(ctx, cfg, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize model client",
			"error", err,
			"provider", cfg.Provider)

		return
	}
	defer func() {
		if err = closeClient(); err != nil {
			log.ErrorContext(ctx, "Failed to close model client",
				"error", err,
				"provider", cfg.Provider)
		}
	}()

	httpClient := &http.Client{Timeout: cfg.FetchTimeout}

	botInst, err := bot.New(cfg.Token, bot.Services{
		Normalizer: document.NewNormalizer(httpClient, log),
		Summarizer: summarizer.New(client, cfg.SummaryModel, log),
		Sessions:   chat.NewManager(client, cfg.ChatModel, log),
		Journal:    db,
		HTTPClient: httpClient,
	}, cfg.UpdateTimeout, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize bot",
			"error", err)

		return
	}
	log.InfoContext(ctx, "Bot is initialized",
		"provider", cfg.Provider,
		"summaryModel", cfg.SummaryModel,
		"chatModel", cfg.ChatModel)

	sched := scheduler.New(ctx, botInst, db, cfg.SessionIdleTTL, cfg.JournalRetention, log)

	if err = sched.Start(); err != nil {
		log.ErrorContext(ctx, "Failed to start scheduler",
			"error", err,
			"evictIdleSpec", scheduler.EvictIdleSpec,
			"pruneJournalSpec", scheduler.PruneJournalSpec)

		return
	}
	defer sched.Stop()
	log.InfoContext(ctx, "Scheduler is started",
		"evictIdleSpec", scheduler.EvictIdleSpec,
		"pruneJournalSpec", scheduler.PruneJournalSpec,
		"timezone", time.FixedZone(scheduler.Timezone, scheduler.TimezoneOffsetSeconds).String())

	go func() {
		botInst.Start(ctx)
	}()
	log.InfoContext(ctx, "Bot is started",
		"updateTimeoutSeconds", bot.BotUpdateTimeout)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	log.InfoContext(ctx, "Shutdown signal is received",
		"signal", sig.String())
	cancel()

	log.InfoContext(ctx, "Exiting...",
		"signal", sig.String(),
		"uptimeSeconds", time.Since(start).Seconds())

	botInst.Stop()
	log.InfoContext(ctx, "Bot is stopped",
		"uptimeSeconds", time.Since(start).Seconds())
}

func initModelClient(
	ctx context.Context,
	cfg config.Config,
	log *slog.Logger,
) (llm.Client, func() error, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		log.WarnContext(ctx, "API key is missing so model requests will be rejected",
			"provider", cfg.Provider)
	}

	switch cfg.Provider {
	case config.ProviderGemini:
		client, err := llm.NewGeminiClient(ctx, apiKey)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	case config.ProviderOpenAI:
		return llm.NewOpenAIClient(apiKey, log), func() error { return nil }, nil
	default:
		return nil, nil, errors.New("unknown model provider")
	}
}
