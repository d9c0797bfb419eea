// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultChannels are the public channels monitored when CHANNELS is unset.
var DefaultChannels = []string{
	"belgrad_serbia",
	"avito_serbia",
	"Beograd_oglasi",
	"vizitkars",
}

// Config holds the application configuration.
type Config struct {
	TelegramAPIID   int
	TelegramAPIHash string
	SessionFile     string
	BotToken        string
	DatabasePath    string
	AppURL          string
	Channels        []string
	ImagesDir       string
	ImagesBaseURL   string
	ListenAddr      string
	LogLevel        string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional

	cfg := &Config{
		TelegramAPIHash: os.Getenv("TELEGRAM_API_HASH"),
		SessionFile:     envOrDefault("TELEGRAM_SESSION_FILE", "./data/tg.session"),
		BotToken:        os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabasePath:    envOrDefault("DATABASE_PATH", "./data/listings.db"),
		AppURL:          envOrDefault("APP_URL", "https://svoi-lac.vercel.app"),
		ImagesDir:       envOrDefault("IMAGES_DIR", "./data/images"),
		ImagesBaseURL:   envOrDefault("IMAGES_BASE_URL", "/images"),
		ListenAddr:      envOrDefault("LISTEN_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
	}

	if raw := os.Getenv("TELEGRAM_API_ID"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_API_ID %q: %w", raw, err)
		}
		cfg.TelegramAPIID = id
	}

	if raw := os.Getenv("CHANNELS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Channels = append(cfg.Channels, s)
			}
		}
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = append([]string(nil), DefaultChannels...)
	}

	return cfg, nil
}

// RequireMTProto validates the credentials needed by the authenticated
// adapter and the session bootstrap.
func (c *Config) RequireMTProto() error {
	if c.TelegramAPIID == 0 || c.TelegramAPIHash == "" {
		return fmt.Errorf("TELEGRAM_API_ID and TELEGRAM_API_HASH are required")
	}
	return nil
}

// RequireBot validates the Bot API token needed by the webhook server and
// the notifier.
func (c *Config) RequireBot() error {
	if c.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	return nil
}

// IsMonitored reports whether a channel username is on the allow-list.
// Matching is case-insensitive.
func (c *Config) IsMonitored(channel string) bool {
	for _, ch := range c.Channels {
		if strings.EqualFold(ch, channel) {
			return true
		}
	}
	return false
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
