package scenario

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractor-status-relay/internal/config"
	"contractor-status-relay/internal/db"
	"contractor-status-relay/internal/model"
	"contractor-status-relay/internal/notifier"
	"contractor-status-relay/internal/repository"
	"contractor-status-relay/internal/service"
	"contractor-status-relay/internal/source"
)

const scenarioFile = `{
  "stale_request": [
    {"action": "add_request", "params": {"request_number": 101, "position_number": "12", "status": "подрядчик в пути", "backdate_minutes": 120}},
    {"action": "add_request", "params": {"request_number": "101", "position_number": "12"}},
    {"action": "notify", "params": {"minutes": 60, "dry_run": true}},
    {"action": "mail_fake"},
    {"action": "notify", "params": {"minutes": 60, "dry_run": true}},
    {"action": "runner", "params": {"skip_mail": true, "dry_run": true, "minutes": 30}}
  ],
  "empty": []
}`

type emptySource struct{}

func (emptySource) Name() string { return "local" }

func (emptySource) Fetch(context.Context, source.FilterSettings) ([]model.ContractorMessage, error) {
	return nil, nil
}

func newExecutor(t *testing.T) (*Executor, *repository.Store) {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	store := repository.New(conn)
	reg := source.Registry{Fixture: source.NewFixtureSource()}
	pipeline := service.NewPipeline(store, reg, source.FilterSettings{}, nil)
	n := notifier.New(store, notifier.NewTelegramClient(config.TelegramConfig{}, nil), nil)
	return NewExecutor(store, pipeline, n), store
}

func writeScenarios(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenarios.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAndRun(t *testing.T) {
	scenarios, err := Load(writeScenarios(t, scenarioFile))
	require.NoError(t, err)
	assert.Equal(t, []string{"empty", "stale_request"}, scenarios.Names())

	exec, _ := newExecutor(t)
	outputs, err := exec.Run(context.Background(), scenarios["stale_request"])
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Step 1: Added request 101/12",
		"Step 2: Request 101/12 already existed",
		"Step 3: Notifier prepared 1 message(s)",
		"Step 4: Mail checker processed 3 message(s)",
		"Step 5: Notifier: no delays (threshold 60 minutes)",
		"Step 6: Runner completed",
	}, outputs)
}

func TestAddRequestConflictWhenExistingNotAllowed(t *testing.T) {
	exec, _ := newExecutor(t)
	ctx := context.Background()
	params := json.RawMessage(`{"request_number": "7", "position_number": "1", "allow_existing": false}`)

	_, err := exec.Execute(ctx, Step{Action: ActionAddRequest, Params: params})
	require.NoError(t, err)

	_, err = exec.Execute(ctx, Step{Action: ActionAddRequest, Params: params})
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestAddRequestDefaultsAuthor(t *testing.T) {
	exec, store := newExecutor(t)
	_, err := exec.Execute(context.Background(), Step{Action: ActionAddRequest, Params: json.RawMessage(`{"request_number": "8", "position_number": "2", "comment": "c"}`)})
	require.NoError(t, err)

	requests, err := store.GetRequests(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	require.NotNil(t, requests[0].CommentAuthor)
	assert.Equal(t, "Tester", *requests[0].CommentAuthor)
}

func TestMailStepWithoutMessages(t *testing.T) {
	exec, _ := newExecutor(t)
	exec.pipeline = service.NewPipeline(nil, source.Registry{Local: emptySource{}}, source.FilterSettings{}, nil)

	out, err := exec.Execute(context.Background(), Step{Action: ActionMailFake, Params: json.RawMessage(`{"use_fake": false, "backend": "local"}`)})
	require.NoError(t, err)
	assert.Equal(t, "Mail checker: no messages processed (backend=local)", out)
}

func TestFakeMailStepWithoutMessages(t *testing.T) {
	exec, _ := newExecutor(t)
	exec.pipeline = service.NewPipeline(nil, source.Registry{Fixture: emptySource{}}, source.FilterSettings{}, nil)

	out, err := exec.Execute(context.Background(), Step{Action: ActionMailFake})
	require.NoError(t, err)
	assert.Equal(t, "Mail checker: no messages processed (backend=fake)", out)
}

func TestNotifyStepLogsEachMessage(t *testing.T) {
	exec, store := newExecutor(t)
	ctx := context.Background()
	_, err := exec.Execute(ctx, Step{Action: ActionAddRequest, Params: json.RawMessage(`{"request_number": "55", "position_number": "3", "backdate_minutes": 120}`)})
	require.NoError(t, err)

	delayed, err := store.GetDelayedRequests(ctx, 60)
	require.NoError(t, err)
	require.Len(t, delayed, 1)

	hook := test.NewGlobal()
	defer hook.Reset()

	out, err := exec.Execute(ctx, Step{Action: ActionNotify, Params: json.RawMessage(`{"minutes": 60, "dry_run": true}`)})
	require.NoError(t, err)
	assert.Equal(t, "Notifier prepared 1 message(s)", out)

	want := "NOTIFY: " + strings.ReplaceAll(notifier.FormatDelayMessage(delayed[0]), "\n", " | ")
	var notifyLines []string
	for _, entry := range hook.AllEntries() {
		if strings.HasPrefix(entry.Message, "NOTIFY: ") {
			assert.Equal(t, logrus.InfoLevel, entry.Level)
			notifyLines = append(notifyLines, entry.Message)
		}
	}
	assert.Equal(t, []string{want}, notifyLines)
	assert.NotContains(t, want, "\n")
}

func TestInvalidSteps(t *testing.T) {
	exec, _ := newExecutor(t)
	ctx := context.Background()

	tests := []Step{
		{Action: ""},
		{Action: "delete_everything"},
		{Action: ActionNotify, Params: json.RawMessage(`[1, 2]`)},
		{Action: ActionNotify, Params: json.RawMessage(`{"minutes": "soon"}`)},
		{Action: ActionAddRequest, Params: json.RawMessage(`{"request_number": "1"}`)},
	}
	for _, step := range tests {
		_, err := exec.Execute(ctx, step)
		assert.ErrorIs(t, err, ErrInvalidStep, step.Action)
	}

	outputs, err := exec.Run(ctx, []Step{{Action: ActionNotify, Params: json.RawMessage(`{"dry_run": true}`)}, {Action: "bogus"}})
	assert.ErrorIs(t, err, ErrInvalidStep)
	assert.Equal(t, []string{"Step 1: Notifier: no delays (threshold 60 minutes)"}, outputs)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = Load(writeScenarios(t, `["not", "an", "object"]`))
	assert.Error(t, err)

	_, err = Load(writeScenarios(t, `{"broken": {"action": "notify"}}`))
	assert.Error(t, err)
}
