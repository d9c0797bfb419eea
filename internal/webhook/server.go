// Package webhook receives Telegram bot updates over HTTP and feeds
// channel posts into the ingestion pipeline in real time.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"svoi_ingest/internal/config"
	"svoi_ingest/internal/ingest"
	"svoi_ingest/internal/model"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// HTTPClient is the subset of http.Client used to download bot photos.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Server handles Telegram webhook callbacks for monitored channels and
// the /start command in private chats.
type Server struct {
	api    telegramAPI
	client HTTPClient
	pipe   *ingest.Pipeline
	cfg    *config.Config
	log    *slog.Logger
	srv    *http.Server
}

// New creates a webhook Server listening on cfg.ListenAddr.
func New(api telegramAPI, client HTTPClient, pipe *ingest.Pipeline, cfg *config.Config, log *slog.Logger) *Server {
	s := &Server{api: api, client: client, pipe: pipe, cfg: cfg, log: log}

	mux := http.NewServeMux()
	// Method-prefixed ServeMux patterns need Go 1.22; guard manually on 1.21.
	mux.HandleFunc("/webhook", requireMethod(http.MethodPost, s.handleUpdate))
	mux.HandleFunc("/healthz", requireMethod(http.MethodGet, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// requireMethod rejects other HTTP methods with 405, matching the
// behavior of Go 1.22+ method-prefixed ServeMux patterns.
func requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// Start runs the HTTP server, blocking until it stops.
func (s *Server) Start() error {
	s.log.Info("webhook server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("webhook server: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleUpdate always answers 200 with {"ok":true}: Telegram retries
// non-2xx responses, and a retried update would just be a duplicate.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	defer s.respondOK(w)

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.log.Warn("decode update", "error", err)
		return
	}

	switch {
	case update.ChannelPost != nil:
		s.handleChannelPost(r.Context(), update.ChannelPost)
	case update.Message != nil && update.Message.IsCommand():
		s.handleCommand(update.Message)
	}
}

func (s *Server) respondOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (s *Server) handleChannelPost(ctx context.Context, post *tgbotapi.Message) {
	channel := post.Chat.UserName
	if !s.cfg.IsMonitored(channel) {
		s.log.Debug("ignoring post from unmonitored channel", "channel", channel)
		return
	}

	text := post.Text
	if text == "" {
		text = post.Caption
	}
	if strings.TrimSpace(text) == "" {
		s.log.Debug("skipping post without text", "channel", channel, "message_id", post.MessageID)
		return
	}

	raw := model.RawPost{
		Channel:    channel,
		MessageID:  int64(post.MessageID),
		Text:       text,
		PhotoRef:   largestPhotoID(post.Photo),
		PostedAt:   time.Unix(int64(post.Date), 0),
		AuthorName: post.AuthorSignature,
	}

	opts := ingest.Options{Mode: ingest.ModeInsert}
	if err := s.pipe.IngestOne(ctx, raw, s, opts); err != nil {
		s.log.Error("ingest channel post", "channel", channel, "message_id", post.MessageID, "error", err)
		return
	}
	s.log.Info("channel post ingested", "channel", channel, "message_id", post.MessageID)
}

func (s *Server) handleCommand(msg *tgbotapi.Message) {
	if msg.Command() != "start" || !msg.Chat.IsPrivate() {
		return
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID,
		"Привет! Это доска объявлений «Свои». Открывайте приложение и смотрите свежие объявления.")
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Открыть приложение", s.cfg.AppURL),
		),
	)
	if _, err := s.api.Send(reply); err != nil {
		s.log.Error("send greeting", "chat_id", msg.Chat.ID, "error", err)
	}
}

// OpenPhoto downloads a bot-API photo by file ID. PhotoRef for webhook
// posts is the Telegram file ID of the largest size.
func (s *Server) OpenPhoto(ctx context.Context, post model.RawPost) (io.ReadCloser, error) {
	url, err := s.api.GetFileDirectURL(post.PhotoRef)
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", post.PhotoRef, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download photo: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download photo: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func largestPhotoID(sizes []tgbotapi.PhotoSize) string {
	var best tgbotapi.PhotoSize
	for _, ps := range sizes {
		if ps.Width*ps.Height > best.Width*best.Height {
			best = ps
		}
	}
	return best.FileID
}
