package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractor-status-relay/internal/config"
	"contractor-status-relay/internal/runner"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		LogLevel:  "info",
		Server:    config.ServerConfig{Port: "8080"},
		Database:  config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "db", "requests.sqlite3")},
		Mail:      config.MailConfig{Backend: config.BackendAuto, UseFixtures: true},
		Scheduler: config.SchedulerConfig{IntervalMinutes: 5, DelayMinutes: 60, DryRun: true, NotifyEnabled: true},
	}
}

func TestBuildAndRunPass(t *testing.T) {
	components, err := Build(testConfig(t), prometheus.NewRegistry())
	require.NoError(t, err)
	defer components.Close()

	ctx := context.Background()
	_, err = components.Store.AddRequest(ctx, "101", "12", "", "")
	require.NoError(t, err)
	_, err = components.Store.AddRequest(ctx, "300", "1", "", "")
	require.NoError(t, err)
	_, err = components.Store.BackdateRequest(ctx, "300", 90, "1")
	require.NoError(t, err)

	opts := components.PassOptions()
	assert.Equal(t, runner.Options{FakeMail: true, MailBackend: "auto", Minutes: 60, DryRun: true}, opts)

	report, err := components.Runner.Run(ctx, opts)
	require.NoError(t, err)
	assert.Len(t, report.MailOutcomes, 3)
	require.Len(t, report.Notifications, 1)
	assert.Contains(t, report.Notifications[0], "Заявка №300")
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "oracle"
	cfg.Mail.Backend = "pigeon"

	_, err := Build(cfg, prometheus.NewRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")
	assert.Contains(t, err.Error(), "pigeon")
}

func TestConfigureLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)

	require.NoError(t, ConfigureLogging("DEBUG", false))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	require.NoError(t, ConfigureLogging("warning", true))
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())

	require.NoError(t, ConfigureLogging("CRITICAL", false))
	assert.Equal(t, logrus.FatalLevel, logrus.GetLevel())

	assert.Error(t, ConfigureLogging("loud", false))
}
