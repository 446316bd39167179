package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"contractor-status-relay/internal/config"
	"contractor-status-relay/internal/metrics"
)

const (
	DefaultAPIURL  = "https://api.telegram.org"
	DefaultTimeout = 10 * time.Second
)

// TelegramClient posts chat messages through the Telegram Bot API.
type TelegramClient struct {
	cfg        config.TelegramConfig
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// NewTelegramClient creates a client. m may be nil.
func NewTelegramClient(cfg config.TelegramConfig, m *metrics.Metrics) *TelegramClient {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &TelegramClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    m,
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          *bool  `json:"ok"`
	Description string `json:"description"`
}

// SendMessage makes at most one delivery attempt. Without a token and chat id
// the text is only logged. It reports whether the message was delivered.
func (c *TelegramClient) SendMessage(ctx context.Context, text string) bool {
	if !c.cfg.Configured() {
		logrus.Infof("[FAKE TELEGRAM] %s", text)
		c.metrics.ObserveNotification(metrics.NotificationSimulated)
		return false
	}

	if err := c.post(ctx, text); err != nil {
		logrus.WithField("chat_id", c.cfg.ChatID).Errorf("Failed to send Telegram message: %v", err)
		c.metrics.ObserveNotification(metrics.NotificationFailed)
		return false
	}

	logrus.WithField("chat_id", c.cfg.ChatID).Info("Telegram message sent")
	c.metrics.ObserveNotification(metrics.NotificationSent)
	return true
}

func (c *TelegramClient) post(ctx context.Context, text string) error {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                c.cfg.ChatID,
		Text:                  text,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := strings.TrimRight(c.cfg.APIURL, "/") + "/bot" + c.cfg.Token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.New("failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error carries the request URL, which embeds the bot token.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// An empty body carries no verdict and counts as delivered.
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var decoded sendMessageResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if decoded.OK != nil && !*decoded.OK {
		return fmt.Errorf("api rejected message: %s", decoded.Description)
	}
	return nil
}
