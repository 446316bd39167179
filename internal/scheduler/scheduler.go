package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"contractor-status-relay/internal/config"
	"contractor-status-relay/internal/runner"
)

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("scheduler is already running")

// PassRunner performs one mail and delay pass.
type PassRunner interface {
	Run(ctx context.Context, opts runner.Options) (runner.Report, error)
}

// Status describes the scheduler for the API.
type Status struct {
	Running         bool           `json:"running"`
	IntervalMinutes int            `json:"interval_minutes"`
	NextRun         time.Time      `json:"next_run"`
	LastRun         time.Time      `json:"last_run"`
	LastError       string         `json:"last_error,omitempty"`
	LastReport      *runner.Report `json:"last_report,omitempty"`
}

// Scheduler runs the pass every IntervalMinutes
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	config    config.SchedulerConfig
	runner    PassRunner
	options   runner.Options
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex

	passMu sync.Mutex

	// resultMu guards the last pass fields. Passes never take mu.
	resultMu   sync.Mutex
	lastRun    time.Time
	lastErr    error
	lastReport *runner.Report
}

// New creates a scheduler. options is the pass configuration used for every
// scheduled run; its DryRun and SkipNotifier follow the scheduler config.
func New(cfg config.SchedulerConfig, passRunner PassRunner, options runner.Options) *Scheduler {
	options.DryRun = options.DryRun || cfg.DryRun
	options.SkipNotifier = options.SkipNotifier || !cfg.NotifyEnabled
	if cfg.DelayMinutes > 0 {
		options.Minutes = cfg.DelayMinutes
	}

	return &Scheduler{
		config:  cfg,
		runner:  passRunner,
		options: options,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return ErrAlreadyRunning
	}
	if s.config.IntervalMinutes < 1 {
		return fmt.Errorf("invalid interval: %d minutes", s.config.IntervalMinutes)
	}

	// Every Start gets a fresh cron and context.
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(logrus.StandardLogger())),
		cron.SkipIfStillRunning(cron.PrintfLogger(logrus.StandardLogger())),
	))

	ctx := s.ctx
	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %dm", s.config.IntervalMinutes), func() {
		s.scheduledRun(ctx)
	})
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with interval: %d minutes", s.config.IntervalMinutes)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()
	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) scheduledRun(ctx context.Context) {
	if ctx.Err() != nil {
		logrus.Info("Scheduler not running, skipping pass")
		return
	}

	if _, err := s.run(ctx); err != nil {
		logrus.Errorf("Scheduled pass failed: %v", err)
	}
}

func (s *Scheduler) run(ctx context.Context) (runner.Report, error) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.passMu.Lock()
	defer s.passMu.Unlock()

	logrus.Info("Starting scheduled pass")
	report, err := s.runner.Run(ctx, s.options)

	s.resultMu.Lock()
	s.lastRun = time.Now().UTC()
	s.lastErr = err
	s.lastReport = &report
	s.resultMu.Unlock()

	return report, err
}

// RunOnce runs one pass immediately, whether or not the scheduler is started.
func (s *Scheduler) RunOnce(ctx context.Context) (runner.Report, error) {
	logrus.Info("Running pass once")
	return s.run(ctx)
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns when the last pass finished
func (s *Scheduler) GetLastRun() time.Time {
	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	return s.lastRun
}

// Status returns a snapshot for reporting.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	st := Status{
		Running:         s.isRunning,
		IntervalMinutes: s.config.IntervalMinutes,
	}
	if s.isRunning {
		st.NextRun = s.cron.Entry(s.entryID).Next
	}
	s.mu.RUnlock()

	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	st.LastRun = s.lastRun
	st.LastReport = s.lastReport
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Wait waits for in-flight passes to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
