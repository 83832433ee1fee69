// Package telegram sends backup notifications through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/fgeck/rsync-system-backup/internal/models"
)

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements notify.Notifier for Telegram.
type Impl struct {
	cfg        models.TelegramConfig
	host       string
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram notifier.
func New(logger zerolog.Logger, cfg models.TelegramConfig) *Impl {
	host, _ := os.Hostname()
	return &Impl{
		cfg:  cfg,
		host: host,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewWithClient creates a new Telegram notifier with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, cfg models.TelegramConfig, host string, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		cfg:        cfg,
		host:       host,
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

// sendMessageRequest is the request body for Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Notify sends n to the configured chat.
func (s *Impl) Notify(ctx context.Context, n models.Notification) error {
	s.logger.Debug().
		Str("chat_id", s.cfg.ChatID).
		Str("urgency", string(n.Urgency)).
		Msg("sending Telegram notification")

	jsonBody, err := json.Marshal(sendMessageRequest{
		ChatID:    s.cfg.ChatID,
		Text:      s.formatMessage(n),
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.cfg.BotToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	s.logger.Debug().Msg("Telegram notification sent")
	return nil
}

// Name returns "telegram".
func (s *Impl) Name() string { return "telegram" }

func (s *Impl) formatMessage(n models.Notification) string {
	var b bytes.Buffer

	icon := "💾"
	if n.Urgency == models.UrgencyCritical {
		icon = "❌"
	}
	b.WriteString(fmt.Sprintf("%s <b>%s</b>\n\n", icon, escapeHTML(n.Summary)))
	b.WriteString(escapeHTML(n.Body))
	b.WriteString("\n")

	if s.host != "" {
		b.WriteString(fmt.Sprintf("\n🖥 <b>Host:</b> %s\n", escapeHTML(s.host)))
	}

	return b.String()
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
