package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gorm.io/gorm"

	"contractor-status-relay/internal/config"
	"contractor-status-relay/internal/db"
	"contractor-status-relay/internal/handler"
	"contractor-status-relay/internal/metrics"
	"contractor-status-relay/internal/notifier"
	"contractor-status-relay/internal/repository"
	"contractor-status-relay/internal/router"
	"contractor-status-relay/internal/runner"
	"contractor-status-relay/internal/scheduler"
	"contractor-status-relay/internal/service"
	"contractor-status-relay/internal/source"
)

// Components holds the wired services shared by every entry point.
type Components struct {
	Config   *config.Config
	DB       *gorm.DB
	Store    *repository.Store
	Metrics  *metrics.Metrics
	Pipeline *service.Pipeline
	Notifier *notifier.Notifier
	Runner   *runner.Runner
}

// ConfigureLogging sets the logrus level and formatter. Services log JSON,
// command line tools log text.
func ConfigureLogging(level string, jsonFormat bool) error {
	if jsonFormat {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level = strings.ToLower(strings.TrimSpace(level))
	if level == "critical" {
		level = "fatal"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(lvl)
	return nil
}

// Build opens the database and wires the pipeline, notifier and runner. A
// nil reg registers metrics with the default registry.
func Build(cfg *config.Config, reg prometheus.Registerer) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	m := metrics.NewMetrics(reg)
	store := repository.New(dbConn)
	pipeline := service.NewPipeline(store, source.NewRegistry(cfg), source.FiltersFromConfig(cfg.Mail), m)
	n := notifier.New(store, notifier.NewTelegramClient(cfg.Telegram, m), m)

	return &Components{
		Config:   cfg,
		DB:       dbConn,
		Store:    store,
		Metrics:  m,
		Pipeline: pipeline,
		Notifier: n,
		Runner:   runner.New(pipeline, n),
	}, nil
}

// Close releases the database connection.
func (c *Components) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PassOptions returns the default pass options derived from configuration.
func (c *Components) PassOptions() runner.Options {
	return runner.Options{
		FakeMail:    c.Config.Mail.UseFixtures,
		MailBackend: c.Config.Mail.Backend,
		Minutes:     c.Config.Scheduler.DelayMinutes,
		DryRun:      c.Config.Scheduler.DryRun,
	}
}

// Run initializes and starts the long running service
func Run(flags *pflag.FlagSet) error {
	cfg, err := config.LoadConfig(flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := ConfigureLogging(cfg.LogLevel, true); err != nil {
		return err
	}

	logrus.Info("Starting Contractor Status Relay")

	components, err := Build(cfg, nil)
	if err != nil {
		return err
	}
	defer components.Close()

	sched := scheduler.New(cfg.Scheduler, components.Runner, components.PassOptions())

	h := handler.NewHandlers(components.Store, components.Pipeline, components.Notifier, sched, nil)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.SetupRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case err := <-serverErr:
		runErr = fmt.Errorf("HTTP server error: %w", err)
	}

	logrus.Info("Shutting down server...")
	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}

	// The shutdown deadline starts once the scheduler has stopped.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}
	sched.Wait()

	logrus.Info("Server stopped gracefully")
	return runErr
}
