package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spendlens/core/pkg/config"
)

// runServe starts the engine daemon: schema init, seeded reference
// data, wired resolvers, and the embedding retention sweep. It blocks
// until SIGINT or SIGTERM.
func runServe(stdout, stderr io.Writer) int {
	fmt.Fprintf(stdout, "%sSpendLens engine starting...%s\n", ColorBold+ColorBlue, ColorReset)

	cfg := config.Load()
	logger := newLogger(stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.LiteMode() {
		fmt.Fprintf(stdout, "DATABASE_URL not set. Falling back to %sLite Mode%s (SQLite, no tier 2).\n", ColorBold+ColorCyan, ColorReset)
	}

	app, err := newApplication(ctx, cfg, logger.With("component", "daemon"))
	if err != nil {
		fmt.Fprintf(stderr, "startup failed: %v\n", err)
		return 1
	}
	defer app.Close(context.Background())

	app.log.Info("engine ready",
		"driver", app.driver,
		"tier2", app.embeddings != nil,
		"limiter", limiterKind(cfg),
		"blob_backend", cfg.BlobBackend,
		"sweep_interval", cfg.SweepInterval,
	)
	if stats, err := app.resolver.CacheStats(ctx); err == nil {
		app.log.Info("cache state",
			"text_entries", stats.TextEntries,
			"text_uses", stats.TextUses,
			"verified_embeddings", stats.VerifiedEmbeddings,
			"unverified_embeddings", stats.UnverifiedEmbeddings,
		)
	}

	go app.sweepLoop(ctx)

	fmt.Fprintf(stdout, "%sready%s press ctrl+c to stop\n", ColorGreen, ColorReset)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	app.log.Info("shutting down")
	cancel()
	return 0
}

func limiterKind(cfg *config.Config) string {
	if cfg.RedisAddr != "" {
		return "redis"
	}
	return "local"
}

// newLogger builds the process logger at the configured level.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
