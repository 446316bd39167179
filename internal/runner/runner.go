// Package runner performs a single mail processing and delay notification
// pass, as used by the command line tool, the scheduler and scenarios.
package runner

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"contractor-status-relay/internal/service"
)

// DefaultDelayMinutes is the delay threshold used when none is given.
const DefaultDelayMinutes = 60

// MailboxProcessor runs the mail pipeline.
type MailboxProcessor interface {
	ProcessMailbox(ctx context.Context, opts service.MailboxOptions) ([]string, error)
}

// DelayNotifier reports stale requests.
type DelayNotifier interface {
	NotifyDelays(ctx context.Context, thresholdMinutes int, send bool) ([]string, error)
}

// Options controls one pass.
type Options struct {
	SkipMail     bool
	SkipNotifier bool
	FakeMail     bool
	MailBackend  string
	Minutes      int
	DryRun       bool
}

// BindFlags registers the pass options on fs.
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.SkipMail, "skip-mail", false, "do not process contractor mail")
	fs.BoolVar(&o.SkipNotifier, "skip-notifier", false, "do not check for delayed requests")
	fs.BoolVar(&o.FakeMail, "fake-mail", false, "use the built-in sample messages instead of a mail backend")
	fs.StringVar(&o.MailBackend, "mail-backend", "", "mail backend: auto, oauth, local or fixture")
	fs.IntVar(&o.Minutes, "minutes", DefaultDelayMinutes, "delay threshold in minutes")
	fs.BoolVar(&o.DryRun, "dry-run", false, "log notifications instead of sending them")
}

// Report collects what a pass produced.
type Report struct {
	MailOutcomes  []string `json:"mail_outcomes"`
	Notifications []string `json:"notifications"`
}

type Runner struct {
	pipeline MailboxProcessor
	notifier DelayNotifier
}

func New(pipeline MailboxProcessor, notifier DelayNotifier) *Runner {
	return &Runner{pipeline: pipeline, notifier: notifier}
}

// Run processes mail first and then checks for delays. Either step can be
// skipped. Finding nothing is not an error.
func (r *Runner) Run(ctx context.Context, opts Options) (Report, error) {
	var report Report

	if opts.SkipMail {
		logrus.Info("Mail processing skipped")
	} else {
		logrus.Info("Processing contractor mail")
		results, err := r.pipeline.ProcessMailbox(ctx, service.MailboxOptions{
			Backend:     opts.MailBackend,
			UseFixtures: opts.FakeMail,
		})
		if err != nil {
			return report, err
		}
		if len(results) == 0 {
			logrus.Info("MAIL: no new messages found")
		}
		for _, line := range results {
			logrus.Infof("MAIL: %s", line)
		}
		report.MailOutcomes = results
	}

	if opts.SkipNotifier {
		logrus.Info("Delay check skipped")
		return report, nil
	}

	minutes := opts.Minutes
	if minutes <= 0 {
		minutes = DefaultDelayMinutes
	}
	logrus.Infof("Checking for delays (%d minutes)", minutes)
	messages, err := r.notifier.NotifyDelays(ctx, minutes, !opts.DryRun)
	if err != nil {
		return report, err
	}
	if len(messages) == 0 {
		logrus.Infof("NOTIFY: no delays found (threshold %d minutes)", minutes)
	}
	for _, m := range messages {
		logrus.Infof("NOTIFY: %s", strings.ReplaceAll(m, "\n", " | "))
	}
	report.Notifications = messages
	return report, nil
}
