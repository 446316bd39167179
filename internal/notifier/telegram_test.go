package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractor-status-relay/internal/config"
	"contractor-status-relay/internal/metrics"
)

func telegramServer(t *testing.T, status int, body string, calls *int32, captured *sendMessageRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func configured(url string) config.TelegramConfig {
	return config.TelegramConfig{Token: "TOKEN", ChatID: "42", APIURL: url, Timeout: time.Second}
}

func TestSendMessageDelivered(t *testing.T) {
	var calls int32
	var got sendMessageRequest
	srv := telegramServer(t, http.StatusOK, `{"ok":true,"result":{}}`, &calls, &got)

	m := metrics.NewMetrics(prometheus.NewRegistry())
	client := NewTelegramClient(configured(srv.URL), m)

	assert.True(t, client.SendMessage(context.Background(), "hello"))
	assert.Equal(t, int32(1), calls)
	assert.Equal(t, "42", got.ChatID)
	assert.Equal(t, "hello", got.Text)
	assert.True(t, got.DisableWebPagePreview)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues(metrics.NotificationSent)))
}

func TestSendMessageResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"missing ok field counts as success", http.StatusOK, `{}`, true},
		{"ok false", http.StatusOK, `{"ok":false,"description":"chat not found"}`, false},
		{"server error", http.StatusInternalServerError, `{"ok":false}`, false},
		{"invalid json", http.StatusOK, `not json`, false},
		{"empty body counts as success", http.StatusOK, ``, true},
		{"blank body counts as success", http.StatusOK, " \n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := telegramServer(t, tt.status, tt.body, &calls, nil)
			client := NewTelegramClient(configured(srv.URL), nil)

			assert.Equal(t, tt.want, client.SendMessage(context.Background(), "text"))
			assert.Equal(t, int32(1), calls, "exactly one attempt")
		})
	}
}

func TestSendMessageTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewTelegramClient(configured(url), nil)
	assert.False(t, client.SendMessage(context.Background(), "text"))
}

func TestSendMessageUnconfigured(t *testing.T) {
	var calls int32
	srv := telegramServer(t, http.StatusOK, `{"ok":true}`, &calls, nil)

	m := metrics.NewMetrics(prometheus.NewRegistry())
	client := NewTelegramClient(config.TelegramConfig{APIURL: srv.URL, ChatID: "42"}, m)

	assert.False(t, client.SendMessage(context.Background(), "text"))
	assert.Equal(t, int32(0), calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues(metrics.NotificationSimulated)))
}

func TestNewTelegramClientDefaults(t *testing.T) {
	client := NewTelegramClient(config.TelegramConfig{}, nil)
	assert.Equal(t, DefaultAPIURL, client.cfg.APIURL)
	assert.Equal(t, DefaultTimeout, client.httpClient.Timeout)
}
