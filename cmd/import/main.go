// Command import runs a batch ingestion pass over one or more Telegram
// channels using the live, export, or scrape source.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"

	"svoi_ingest/internal/adapter"
	"svoi_ingest/internal/config"
	"svoi_ingest/internal/dedup"
	"svoi_ingest/internal/images"
	"svoi_ingest/internal/ingest"
	"svoi_ingest/internal/storage"
	"svoi_ingest/internal/trust"
)

func main() {
	source := flag.String("source", "", "source adapter: live, export, or scrape")
	channel := flag.String("channel", "", "import a single channel instead of the configured list")
	limit := flag.Int("limit", 200, "maximum posts to fetch per channel")
	months := flag.Int("months", 3, "export only: skip posts older than this many months")
	dir := flag.String("dir", "", "export only: directory with Telegram export HTML files")
	dryRun := flag.Bool("dry-run", false, "parse and report without writing anything")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	log := newLogger(cfg.LogLevel)

	channels := cfg.Channels
	if *channel != "" {
		channels = []string{strings.TrimPrefix(*channel, "@")}
	}

	opts := ingest.Options{
		DryRun: *dryRun,
		Fetch:  adapter.FetchOptions{Limit: *limit},
	}

	var src adapter.SourceAdapter
	switch *source {
	case "export":
		if *dir == "" {
			log.Error("export source requires -dir")
			os.Exit(1)
		}
		if _, err := os.Stat(*dir); err != nil {
			log.Error("export directory not readable", "dir", *dir, "error", err)
			os.Exit(1)
		}
		src = adapter.NewExport(*dir, log)
		opts.Mode = ingest.ModeUpsert
		opts.MinTextLen = 10
		opts.Cutoff = time.Now().AddDate(0, -*months, 0)
		if *channel == "" {
			channels, err = adapter.DiscoverChannels(*dir)
			if err != nil {
				log.Error("discover export channels", "dir", *dir, "error", err)
				os.Exit(1)
			}
		}
	case "scrape":
		src = adapter.NewScrape(&http.Client{Timeout: 30 * time.Second}, log)
	case "live":
		if err := cfg.RequireMTProto(); err != nil {
			log.Error("live source unavailable", "error", err)
			os.Exit(1)
		}
		opts.MinTextLen = 1
	case "":
		log.Error("-source is required (live, export, or scrape)")
		os.Exit(1)
	default:
		log.Error("unknown source", "source", *source)
		os.Exit(1)
	}

	if dbDir := filepath.Dir(cfg.DatabasePath); dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			log.Error("create data directory", "path", dbDir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pipe := ingest.New(store, images.NewDir(cfg.ImagesDir, cfg.ImagesBaseURL), dedup.NewIndex(), log)

	var report *ingest.Report
	if *source == "live" {
		report, err = runLive(ctx, cfg, pipe, channels, opts, log)
	} else {
		report, err = pipe.Run(ctx, src, channels, opts)
	}
	if report != nil {
		fmt.Print(report.String())
	}
	if err != nil {
		log.Error("import run failed", "error", err)
		os.Exit(1)
	}

	if !*dryRun {
		scorer := trust.NewScorer(store, log)
		for _, ch := range channels {
			if err := scorer.Score(ctx, ch); err != nil {
				log.Error("trust scoring", "channel", ch, "error", err)
			}
		}
	}
}

// runLive connects the MTProto client for the duration of the run. The
// session must exist already (see cmd/session).
func runLive(ctx context.Context, cfg *config.Config, pipe *ingest.Pipeline, channels []string, opts ingest.Options, log *slog.Logger) (*ingest.Report, error) {
	client := telegram.NewClient(cfg.TelegramAPIID, cfg.TelegramAPIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: cfg.SessionFile},
	})

	var report *ingest.Report
	err := client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}
		if !status.Authorized {
			return fmt.Errorf("session %s is not authorized, run cmd/session first", cfg.SessionFile)
		}

		live := adapter.NewLive(client.API(), log)
		report, err = pipe.Run(ctx, live, channels, opts)
		return err
	})
	return report, err
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
