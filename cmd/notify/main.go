// Command notify replies to the origin posts of imported listings with a
// link to the mini-app, so authors can find and claim them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"svoi_ingest/internal/config"
	"svoi_ingest/internal/model"
	"svoi_ingest/internal/storage"
)

// sendPause spaces replies to stay under the Bot API flood limits.
const sendPause = 3 * time.Second

func main() {
	channel := flag.String("channel", "", "notify a single channel instead of the configured list")
	limit := flag.Int("limit", 30, "maximum replies to send per channel")
	dryRun := flag.Bool("dry-run", false, "list pending notifications without sending")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := newLogger(cfg.LogLevel)

	if err := cfg.RequireBot(); err != nil {
		log.Error("notify unavailable", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Error("create bot api", "error", err)
		os.Exit(1)
	}

	channels := cfg.Channels
	if *channel != "" {
		channels = []string{strings.TrimPrefix(*channel, "@")}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var sent, failed int
	for _, ch := range channels {
		listings, err := store.ListUnnotified(ctx, ch)
		if err != nil {
			log.Error("list unnotified", "channel", ch, "error", err)
			continue
		}
		if len(listings) > *limit {
			listings = listings[:*limit]
		}
		log.Info("pending notifications", "channel", ch, "count", len(listings))

		for _, l := range listings {
			if ctx.Err() != nil {
				return
			}
			if *dryRun {
				fmt.Printf("@%s #%d [%s] %s\n", l.Channel, l.MessageID, l.ID, l.Title)
				continue
			}
			if err := notify(api, cfg.AppURL, l); err != nil {
				log.Error("send notification", "channel", l.Channel, "message_id", l.MessageID, "error", err)
				failed++
				continue
			}
			if err := store.MarkNotified(ctx, l.ID); err != nil {
				log.Error("mark notified", "id", l.ID, "error", err)
				failed++
				continue
			}
			sent++
			time.Sleep(sendPause)
		}
	}

	log.Info("notify done", "sent", sent, "failed", failed)
}

func notify(api *tgbotapi.BotAPI, appURL string, l model.Listing) error {
	msg := tgbotapi.NewMessageToChannel("@"+l.Channel,
		"Это объявление добавлено на доску «Свои». Если вы автор, откройте приложение, чтобы управлять им.")
	msg.ReplyToMessageID = int(l.MessageID)
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Открыть объявление",
				fmt.Sprintf("%s/listing/%s", appURL, l.ID)),
		),
	)
	_, err := api.Send(msg)
	return err
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
