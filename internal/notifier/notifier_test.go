package notifier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractor-status-relay/internal/config"
	"contractor-status-relay/internal/model"
	"contractor-status-relay/internal/repository"
)

type stubStore struct {
	records   []model.Request
	err       error
	threshold int
}

func (s *stubStore) GetDelayedRequests(_ context.Context, thresholdMinutes int) ([]model.Request, error) {
	s.threshold = thresholdMinutes
	return s.records, s.err
}

func delayed() []model.Request {
	at := time.Date(2025, 9, 27, 8, 5, 0, 0, time.UTC)
	return []model.Request{
		{RequestNumber: "101", PositionNumber: "12", Status: "подрядчик в пути", StatusUpdatedAt: at},
		{RequestNumber: "102", Status: "", StatusUpdatedAt: at.Add(time.Hour)},
	}
}

func TestFormatDelayMessage(t *testing.T) {
	records := delayed()

	assert.Equal(t,
		"⚠ Заявка №101 (позиция 12) давно без обновлений.\nТекущий статус: подрядчик в пути.\nПоследнее обновление: 2025.09.27 08:05.",
		FormatDelayMessage(records[0]))
	assert.Equal(t,
		"⚠ Заявка №102 (позиция -) давно без обновлений.\nТекущий статус: неизвестно.\nПоследнее обновление: 2025.09.27 09:05.",
		FormatDelayMessage(records[1]))
}

func TestNotifyDelaysDryRunMakesNoCalls(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	store := &stubStore{records: delayed()}
	n := New(store, NewTelegramClient(configured(srv.URL), nil), nil)

	sent, err := n.NotifyDelays(context.Background(), 60, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	hook := test.NewGlobal()
	defer hook.Reset()

	dry, err := n.NotifyDelays(context.Background(), 60, false)
	require.NoError(t, err)
	assert.Equal(t, sent, dry)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "dry run must not reach the API")
	assert.Equal(t, 60, store.threshold)

	var dryRunLines int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.InfoLevel && strings.HasPrefix(e.Message, "[DRY RUN]") {
			dryRunLines++
		}
	}
	assert.Equal(t, 2, dryRunLines)
}

func TestNotifyDelaysNothingToDo(t *testing.T) {
	n := New(&stubStore{}, NewTelegramClient(configured("http://127.0.0.1:1"), nil), nil)

	texts, err := n.NotifyDelays(context.Background(), 30, true)
	require.NoError(t, err)
	assert.Empty(t, texts)
}

func TestNotifyDelaysStorageError(t *testing.T) {
	storageErr := &repository.StorageError{Op: "get delayed requests", Err: errors.New("disk I/O error")}
	n := New(&stubStore{err: storageErr}, nil, nil)

	_, err := n.NotifyDelays(context.Background(), 30, false)
	assert.True(t, repository.IsStorageError(err))
}

func TestNotifyDelaysUnconfiguredStillReturnsTexts(t *testing.T) {
	n := New(&stubStore{records: delayed()}, NewTelegramClient(config.TelegramConfig{}, nil), nil)

	texts, err := n.NotifyDelays(context.Background(), 60, true)
	require.NoError(t, err)
	assert.Len(t, texts, 2)
}
