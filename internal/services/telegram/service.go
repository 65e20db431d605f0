// Package telegram sends run notifications to a Telegram chat.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gosnap-homelab/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
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

// SendNotification sends a run notification via Telegram.
func (s *Impl) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Bool("success", msg.Success()).
		Msg("sending Telegram notification")

	reqBody := sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      FormatMessage(msg),
		ParseMode: "HTML",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Msg("Telegram notification sent successfully")

	return result, nil
}

// FormatMessage renders msg as Telegram HTML.
func FormatMessage(msg models.TelegramMessage) string {
	var b strings.Builder

	if msg.Success() {
		b.WriteString("✅ <b>Snapshot Successful</b>\n\n")
	} else {
		b.WriteString("❌ <b>Snapshot Failed</b>\n\n")
	}

	fmt.Fprintf(&b, "🖥 <b>Host:</b> %s\n", html.EscapeString(msg.Host))
	fmt.Fprintf(&b, "📁 <b>Storage:</b> %s\n", html.EscapeString(msg.StorageRoot))

	if !msg.Success() {
		b.WriteString("\n<b>⚠️ Error Details:</b>\n")
		fmt.Fprintf(&b, "  • Failed stage: %s\n", html.EscapeString(msg.FailedStage))
		if msg.Err != nil {
			fmt.Fprintf(&b, "  • Error: <code>%s</code>\n", html.EscapeString(msg.Err.Error()))
		}
		return b.String()
	}

	sum := msg.Summary
	fmt.Fprintf(&b, "⏰ <b>Started:</b> %s\n", sum.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "⏱ <b>Duration:</b> %s\n", sum.Duration.Round(time.Second))

	b.WriteString("\n<b>📊 Snapshot:</b>\n")
	fmt.Fprintf(&b, "  • ID: <code>%d</code>\n", sum.SnapshotID)
	if sum.Previous != 0 {
		fmt.Fprintf(&b, "  • Cloned from: <code>%d</code>\n", sum.Previous)
	}
	fmt.Fprintf(&b, "  • Sources: %d\n", len(sum.Sources))
	if u := msg.Usage; u != nil {
		fmt.Fprintf(&b, "  • Files: %d (%d shared)\n", u.Files, u.SharedFiles)
		fmt.Fprintf(&b, "  • Size: %s\n", humanize.IBytes(uint64(u.Bytes)))
		fmt.Fprintf(&b, "  • New data: %s\n", humanize.IBytes(uint64(u.UniqueBytes)))
	}

	if sum.OutdatedCount() > 0 || sum.UnparseableCount() > 0 || len(sum.Failures) > 0 {
		b.WriteString("\n<b>🗑 Retention:</b>\n")
		fmt.Fprintf(&b, "  • Removed: %d\n", sum.OutdatedCount())
		if sum.UnparseableCount() > 0 {
			fmt.Fprintf(&b, "  • Unparseable: %s\n", html.EscapeString(strings.Join(sum.Unparseable, ", ")))
		}
		for _, f := range sum.Failures {
			fmt.Fprintf(&b, "  • Not removed: %s (<code>%s</code>)\n", html.EscapeString(f.Name), html.EscapeString(f.Err.Error()))
		}
	}

	return b.String()
}
