package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TelegramChannel sends HTML-formatted messages through the Bot API.
type TelegramChannel struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewTelegramChannel creates a channel for the given bot token.
// baseURL is overridable for tests; empty means the public API.
func NewTelegramChannel(token, baseURL string) *TelegramChannel {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &TelegramChannel{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts one message. The recipient is the chat ID.
func (t *TelegramChannel) Send(ctx context.Context, recipient, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                recipient,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
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

	var out sendMessageResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&out); err != nil {
		return fmt.Errorf("telegram: bad response: %w", err)
	}
	if !out.OK {
		return fmt.Errorf("telegram: api error: %s", out.Description)
	}
	return nil
}
