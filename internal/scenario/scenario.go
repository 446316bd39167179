// Package scenario runs scripted sequences of store, mail and notifier steps
// against a live configuration.
package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"contractor-status-relay/internal/repository"
	"contractor-status-relay/internal/runner"
	"contractor-status-relay/internal/service"
)

// DefaultFile is where scenarios are looked up when no file is given.
const DefaultFile = "ops/testing/scenarios.json"

const (
	ActionAddRequest = "add_request"
	ActionMailFake   = "mail_fake"
	ActionNotify     = "notify"
	ActionRunner     = "runner"
)

// ErrInvalidStep is returned for an unknown action or malformed parameters.
var ErrInvalidStep = errors.New("invalid scenario step")

// Step is one scripted action.
type Step struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Scenarios maps scenario names to their steps.
type Scenarios map[string][]Step

// Names returns the scenario names in sorted order.
func (s Scenarios) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads a scenario file.
func Load(path string) (Scenarios, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenarios Scenarios
	if err := json.Unmarshal(data, &scenarios); err != nil {
		return nil, fmt.Errorf("failed to parse scenario file %s: %w", path, err)
	}
	if scenarios == nil {
		return nil, fmt.Errorf("scenario file %s must contain a JSON object", path)
	}
	return scenarios, nil
}

// text accepts either a JSON string or a JSON number.
type text string

func (t *text) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*t = text(n.String())
	return nil
}

type addRequestParams struct {
	RequestNumber   *text `json:"request_number"`
	PositionNumber  *text `json:"position_number"`
	Comment         text  `json:"comment"`
	CommentAuthor   *text `json:"comment_author"`
	AllowExisting   *bool `json:"allow_existing"`
	Status          text  `json:"status"`
	BackdateMinutes int   `json:"backdate_minutes"`
}

type mailParams struct {
	UseFake *bool `json:"use_fake"`
	Backend *text `json:"backend"`
}

type notifyParams struct {
	Minutes *int `json:"minutes"`
	DryRun  bool `json:"dry_run"`
}

type runnerParams struct {
	FakeMail     bool `json:"fake_mail"`
	DryRun       bool `json:"dry_run"`
	Minutes      *int `json:"minutes"`
	MailBackend  text `json:"mail_backend"`
	SkipMail     bool `json:"skip_mail"`
	SkipNotifier bool `json:"skip_notifier"`
}

// Store is the part of the request store scenarios drive directly.
type Store interface {
	AddRequest(ctx context.Context, requestNumber, positionNumber, comment, author string) (uint, error)
	UpdateStatus(ctx context.Context, requestNumber, newStatus, positionNumber string) (bool, error)
	BackdateRequest(ctx context.Context, requestNumber string, minutes int, positionNumber string) (bool, error)
}

// Executor runs scenario steps.
type Executor struct {
	store    Store
	pipeline runner.MailboxProcessor
	notifier runner.DelayNotifier
}

func NewExecutor(store Store, pipeline runner.MailboxProcessor, notifier runner.DelayNotifier) *Executor {
	return &Executor{store: store, pipeline: pipeline, notifier: notifier}
}

// Run executes steps in order and returns one "Step N: ..." line per step.
// It stops at the first failing step.
func (e *Executor) Run(ctx context.Context, steps []Step) ([]string, error) {
	outputs := make([]string, 0, len(steps))
	for i, step := range steps {
		message, err := e.Execute(ctx, step)
		if err != nil {
			logrus.WithField("step", i+1).Errorf("Scenario step failed: %v", err)
			return outputs, fmt.Errorf("step %d: %w", i+1, err)
		}
		outputs = append(outputs, fmt.Sprintf("Step %d: %s", i+1, message))
	}
	return outputs, nil
}

// Execute runs a single step and returns its summary.
func (e *Executor) Execute(ctx context.Context, step Step) (string, error) {
	logrus.WithField("action", step.Action).Info("Executing scenario step")

	switch step.Action {
	case ActionAddRequest:
		var p addRequestParams
		if err := decodeParams(step, &p); err != nil {
			return "", err
		}
		return e.addRequest(ctx, p)
	case ActionMailFake:
		var p mailParams
		if err := decodeParams(step, &p); err != nil {
			return "", err
		}
		return e.processMail(ctx, p)
	case ActionNotify:
		var p notifyParams
		if err := decodeParams(step, &p); err != nil {
			return "", err
		}
		return e.notify(ctx, p)
	case ActionRunner:
		var p runnerParams
		if err := decodeParams(step, &p); err != nil {
			return "", err
		}
		return e.runPass(ctx, p)
	case "":
		return "", fmt.Errorf("%w: missing action", ErrInvalidStep)
	default:
		return "", fmt.Errorf("%w: unsupported action %q", ErrInvalidStep, step.Action)
	}
}

func decodeParams(step Step, target any) error {
	raw := bytes.TrimSpace(step.Params)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] != '{' {
		return fmt.Errorf("%w: parameters for %q must be an object", ErrInvalidStep, step.Action)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: parameters for %q: %v", ErrInvalidStep, step.Action, err)
	}
	return nil
}

func (e *Executor) addRequest(ctx context.Context, p addRequestParams) (string, error) {
	if p.RequestNumber == nil || p.PositionNumber == nil {
		return "", fmt.Errorf("%w: add_request needs request_number and position_number", ErrInvalidStep)
	}
	req, pos := string(*p.RequestNumber), string(*p.PositionNumber)
	author := "Tester"
	if p.CommentAuthor != nil {
		author = string(*p.CommentAuthor)
	}

	created := true
	if _, err := e.store.AddRequest(ctx, req, pos, string(p.Comment), author); err != nil {
		allowExisting := p.AllowExisting == nil || *p.AllowExisting
		if !errors.Is(err, repository.ErrConflict) || !allowExisting {
			return "", err
		}
		logrus.Infof("Request %s/%s already exists, skipping creation", req, pos)
		created = false
	}

	if p.Status != "" {
		if _, err := e.store.UpdateStatus(ctx, req, string(p.Status), pos); err != nil {
			return "", err
		}
	}
	if p.BackdateMinutes != 0 {
		if _, err := e.store.BackdateRequest(ctx, req, p.BackdateMinutes, pos); err != nil {
			return "", err
		}
	}

	if !created {
		return fmt.Sprintf("Request %s/%s already existed", req, pos), nil
	}
	return fmt.Sprintf("Added request %s/%s", req, pos), nil
}

func (e *Executor) processMail(ctx context.Context, p mailParams) (string, error) {
	opts := service.MailboxOptions{UseFixtures: p.UseFake == nil || *p.UseFake}
	if p.Backend != nil {
		opts.Backend = string(*p.Backend)
	}

	results, err := e.pipeline.ProcessMailbox(ctx, opts)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		label := opts.Backend
		if label == "" {
			label = "auto"
			if opts.UseFixtures {
				label = "fake"
			}
		}
		return fmt.Sprintf("Mail checker: no messages processed (backend=%s)", label), nil
	}
	for _, line := range results {
		logrus.Infof("MAIL: %s", line)
	}
	return fmt.Sprintf("Mail checker processed %d message(s)", len(results)), nil
}

func (e *Executor) notify(ctx context.Context, p notifyParams) (string, error) {
	minutes := runner.DefaultDelayMinutes
	if p.Minutes != nil {
		minutes = *p.Minutes
	}

	messages, err := e.notifier.NotifyDelays(ctx, minutes, !p.DryRun)
	if err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return fmt.Sprintf("Notifier: no delays (threshold %d minutes)", minutes), nil
	}
	for _, text := range messages {
		logrus.Infof("NOTIFY: %s", strings.ReplaceAll(text, "\n", " | "))
	}
	return fmt.Sprintf("Notifier prepared %d message(s)", len(messages)), nil
}

func (e *Executor) runPass(ctx context.Context, p runnerParams) (string, error) {
	opts := runner.Options{
		SkipMail:     p.SkipMail,
		SkipNotifier: p.SkipNotifier,
		FakeMail:     p.FakeMail,
		MailBackend:  string(p.MailBackend),
		Minutes:      runner.DefaultDelayMinutes,
		DryRun:       p.DryRun,
	}
	if p.Minutes != nil {
		opts.Minutes = *p.Minutes
	}

	if _, err := runner.New(e.pipeline, e.notifier).Run(ctx, opts); err != nil {
		return "", err
	}
	return "Runner completed", nil
}
