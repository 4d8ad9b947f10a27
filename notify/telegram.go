// Package notify delivers operator notifications to Telegram chats.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nerkean/gnizde.4ko/circuitbreaker"
	"github.com/nerkean/gnizde.4ko/middleware"
	"github.com/nerkean/gnizde.4ko/models"
	"github.com/nerkean/gnizde.4ko/settings"

	"go.uber.org/zap"
)

const DefaultAPIBase = "https://api.telegram.org"

var (
	ErrNotConfigured = errors.New("telegram bot token is not set")
	ErrNoRecipients  = errors.New("no telegram chat ids configured")
)

// SettingsLoader returns the runtime settings override, or nil.
type SettingsLoader interface {
	Load(ctx context.Context) *models.AdminSettings
}

type TelegramConfig struct {
	Token       string
	StaticChats string
	APIBase     string
	Timeout     time.Duration
}

type Telegram struct {
	cfg      TelegramConfig
	settings SettingsLoader
	client   *http.Client
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.Logger
}

func NewTelegram(cfg TelegramConfig, loader SettingsLoader, logger *zap.Logger) *Telegram {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Telegram{
		cfg:      cfg,
		settings: loader,
		client:   &http.Client{Timeout: cfg.Timeout},
		breaker:  circuitbreaker.NewCircuitBreaker(5, 30*time.Second),
		logger:   logger,
	}
}

// Recipients merges the static chat list with the admin.settings list.
func (t *Telegram) Recipients(ctx context.Context) []string {
	var s *models.AdminSettings
	if t.settings != nil {
		s = t.settings.Load(ctx)
	}
	return settings.ResolveRecipients(t.cfg.StaticChats, s)
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Send posts an HTML message to every recipient. It returns an error only
// when no recipient received the message.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if t.cfg.Token == "" {
		return ErrNotConfigured
	}
	targets := t.Recipients(ctx)
	if len(targets) == 0 {
		return ErrNoRecipients
	}

	var errs []error
	for _, chatID := range targets {
		err := t.breaker.Execute(ctx, func() error {
			return t.sendOne(ctx, chatID, text)
		})
		if err != nil {
			middleware.RecordNotification("failed")
			t.logger.Warn("Failed to send Telegram message",
				zap.String("trace_id", middleware.GetTraceID(ctx)),
				zap.String("chat_id", chatID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("chat %s: %w", chatID, err))
			continue
		}
		middleware.RecordNotification("sent")
	}

	if len(errs) == len(targets) {
		return errors.Join(errs...)
	}
	t.logger.Info("Telegram notification sent",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("recipients", len(targets)-len(errs)),
	)
	return nil
}

func (t *Telegram) sendOne(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.APIBase, t.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram responded %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
