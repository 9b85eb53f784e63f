// Package notify delivers run reports to the operator's Telegram chat.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// maxMessageLen is the Telegram API ceiling for a single message.
const maxMessageLen = 4096

// Telegram posts report text via the Bot API. When no token or chat is
// configured it logs and drops the message instead of failing the run;
// the report is a convenience, the journal is the record.
type Telegram struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
	log     zerolog.Logger
}

// NewTelegram creates a Telegram notifier. Empty token or chatID
// disables delivery.
func NewTelegram(token, chatID string, log zerolog.Logger) *Telegram {
	return &Telegram{
		baseURL: "https://api.telegram.org",
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "telegram").Logger(),
	}
}

// Enabled reports whether delivery is configured.
func (t *Telegram) Enabled() bool {
	return t.token != "" && t.chatID != ""
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendReport posts the text to the configured chat as plain text.
func (t *Telegram) SendReport(text string) error {
	if !t.Enabled() {
		t.log.Warn().Msg("Telegram not configured; report not sent")
		return nil
	}
	if len(text) > maxMessageLen {
		t.log.Warn().Int("length", len(text)).Msg("Report exceeds Telegram message limit; truncating")
		text = text[:maxMessageLen]
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: t.chatID, Text: text})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	resp, err := t.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, string(detail))
	}

	var payload sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to parse telegram response: %w", err)
	}
	if !payload.OK {
		return fmt.Errorf("telegram rejected message: %s", payload.Description)
	}

	t.log.Debug().Int("length", len(text)).Msg("Report delivered")
	return nil
}
