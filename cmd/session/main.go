// Command session performs the interactive Telegram login and writes the
// session file that cmd/import -source live reuses.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	"svoi_ingest/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.RequireMTProto(); err != nil {
		slog.Error("session bootstrap unavailable", "error", err)
		os.Exit(1)
	}

	if dir := filepath.Dir(cfg.SessionFile); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			slog.Error("create session directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := telegram.NewClient(cfg.TelegramAPIID, cfg.TelegramAPIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: cfg.SessionFile},
	})

	err = client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}
		if status.Authorized {
			fmt.Printf("Already authorized as %s, session at %s\n",
				displayName(status.User), cfg.SessionFile)
			return nil
		}

		flow := auth.NewFlow(terminalAuth{in: bufio.NewReader(os.Stdin)}, auth.SendCodeOptions{})
		if err := client.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("login: %w", err)
		}

		status, err = client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("auth status after login: %w", err)
		}
		fmt.Printf("Authorized as %s, session written to %s\n",
			displayName(status.User), cfg.SessionFile)
		return nil
	})
	if err != nil {
		slog.Error("session bootstrap failed", "error", err)
		os.Exit(1)
	}
}

func displayName(u *tg.User) string {
	if u == nil {
		return "unknown user"
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// terminalAuth prompts for login details on stdin.
type terminalAuth struct {
	in *bufio.Reader
}

func (a terminalAuth) Phone(_ context.Context) (string, error) {
	return a.prompt("Phone number (international format): ")
}

func (a terminalAuth) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return a.prompt("Code from Telegram: ")
}

func (a terminalAuth) Password(_ context.Context) (string, error) {
	return a.prompt("Two-factor password: ")
}

func (a terminalAuth) AcceptTermsOfService(_ context.Context, _ tg.HelpTermsOfService) error {
	return nil
}

func (a terminalAuth) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("sign-up is not supported, use an existing account")
}

func (a terminalAuth) prompt(label string) (string, error) {
	fmt.Print(label)
	line, err := a.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
