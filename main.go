package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/korjavin/quizbot/ai"
	"github.com/korjavin/quizbot/bot"
	"github.com/korjavin/quizbot/config"
	"github.com/korjavin/quizbot/database"
	"github.com/korjavin/quizbot/extract"
	"github.com/korjavin/quizbot/logger"
	"github.com/korjavin/quizbot/quiz"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg := logger.New(cfg.Debug, cfg.LogFile)
	defer logg.Sync()

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logg.Fatalw("failed to initialize database", "error", err)
	}
	defer db.Close()

	registry := quiz.NewRegistry(quiz.Options{
		DispatchPause: cfg.DispatchPause,
		RetryAttempts: cfg.RetryAttempts,
		RetryBackoff:  cfg.RetryBackoff,
		AwaitTimeout:  cfg.AwaitTimeout,
	}, cfg.EvictionGrace, logg)

	var explainer ai.Explainer = ai.NotConfigured{}
	if cfg.DeepseekAPIKey != "" {
		explainer = ai.NewDeepseekClient(cfg.DeepseekAPIKey, logg)
	}
	explainer = ai.NewCached(explainer, db, logg)

	// PDF rendering and OCR are deployment concerns behind the extract
	// interfaces; .txt uploads work out of the box.
	extractor := extract.Composite{Primary: extract.NotConfigured{}, OCR: extract.NoOCR{}}

	b, err := bot.New(cfg, db, registry, explainer, extractor, logg)
	if err != nil {
		logg.Fatalw("failed to initialize bot", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logg.Infow("bot initialized")
	if err := b.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Fatalw("bot stopped", "error", err)
	}
}
