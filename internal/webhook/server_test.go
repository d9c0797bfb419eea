package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"svoi_ingest/internal/config"
	"svoi_ingest/internal/dedup"
	"svoi_ingest/internal/images"
	"svoi_ingest/internal/ingest"
	"svoi_ingest/internal/storage"
)

type fakeBotAPI struct {
	sent    []tgbotapi.Chattable
	fileURL string
}

func (f *fakeBotAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeBotAPI) GetFileDirectURL(string) (string, error) {
	return f.fileURL, nil
}

type fakeHTTPClient struct {
	body string
}

func (f *fakeHTTPClient) Do(*http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

func newTestServer(t *testing.T) (*Server, *fakeBotAPI, storage.Store) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipe := ingest.New(store, images.NewDir(t.TempDir(), "/images"), dedup.NewIndex(), log)
	cfg := &config.Config{
		Channels:   []string{"belgrad_serbia"},
		AppURL:     "https://svoi-lac.vercel.app",
		ListenAddr: ":0",
	}
	api := &fakeBotAPI{fileURL: "https://api.telegram.org/file/bot123/photo.jpg"}
	return New(api, &fakeHTTPClient{body: "jpeg-bytes"}, pipe, cfg, log), api, store
}

func postUpdate(t *testing.T, s *Server, update tgbotapi.Update) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func channelPost(channel, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 321,
		Date:      1767225600,
		Text:      text,
		Chat:      &tgbotapi.Chat{ID: -100123, Type: "channel", UserName: channel},
	}
}

func TestWebhookIngestsChannelPost(t *testing.T) {
	s, _, store := newTestServer(t)

	rec := postUpdate(t, s, tgbotapi.Update{
		ChannelPost: channelPost("belgrad_serbia", "Продам диван IKEA, 150 EUR, почти новый"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != `{"ok":true}` {
		t.Errorf("body = %q", got)
	}

	n, err := store.ActiveListingCount(context.Background(), "belgrad_serbia")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("listing count = %d, want 1", n)
	}
}

func TestWebhookIngestsPhotoCaption(t *testing.T) {
	s, _, store := newTestServer(t)

	post := channelPost("belgrad_serbia", "")
	post.Caption = "Продам велосипед, 100 евро"
	post.Photo = []tgbotapi.PhotoSize{
		{FileID: "small", Width: 90, Height: 60},
		{FileID: "big", Width: 800, Height: 600},
	}

	rec := postUpdate(t, s, tgbotapi.Update{ChannelPost: post})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	listings, err := store.ListUnnotified(context.Background(), "belgrad_serbia")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("listing count = %d, want 1", len(listings))
	}
	l := listings[0]
	if l.Title != "Продам велосипед, 100 евро" {
		t.Errorf("title = %q", l.Title)
	}
	if len(l.Images) != 1 || l.Images[0].URL != "/images/tg-import/belgrad_serbia/321.jpg" {
		t.Errorf("images = %v", l.Images)
	}
}

func TestWebhookIgnoresUnmonitoredChannel(t *testing.T) {
	s, _, store := newTestServer(t)

	rec := postUpdate(t, s, tgbotapi.Update{
		ChannelPost: channelPost("somewhere_else", "Продам диван"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	n, _ := store.ActiveListingCount(context.Background(), "somewhere_else")
	if n != 0 {
		t.Errorf("unmonitored channel produced %d listings", n)
	}
}

func TestWebhookSkipsTextlessPost(t *testing.T) {
	s, _, store := newTestServer(t)

	postUpdate(t, s, tgbotapi.Update{
		ChannelPost: channelPost("belgrad_serbia", "   "),
	})

	n, _ := store.ActiveListingCount(context.Background(), "belgrad_serbia")
	if n != 0 {
		t.Errorf("textless post produced %d listings", n)
	}
}

func TestWebhookStartCommand(t *testing.T) {
	s, api, _ := newTestServer(t)

	rec := postUpdate(t, s, tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 1,
			Text:      "/start",
			Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
			Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	if len(api.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(api.sent))
	}
	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent %T, want MessageConfig", api.sent[0])
	}
	if msg.ChatID != 42 {
		t.Errorf("chat id = %d, want 42", msg.ChatID)
	}
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(kb.InlineKeyboard) != 1 || len(kb.InlineKeyboard[0]) != 1 {
		t.Fatalf("unexpected reply markup %v", msg.ReplyMarkup)
	}
	btn := kb.InlineKeyboard[0][0]
	if btn.Text != "Открыть приложение" {
		t.Errorf("button text = %q", btn.Text)
	}
	if btn.URL == nil || *btn.URL != "https://svoi-lac.vercel.app" {
		t.Errorf("button url = %v, want app url", btn.URL)
	}
}

func TestWebhookMalformedJSON(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != `{"ok":true}` {
		t.Errorf("body = %q", got)
	}
}
