// Package source retrieves contractor email from interchangeable mail
// backends and normalizes it into model.ContractorMessage records.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"contractor-status-relay/internal/classifier"
	"contractor-status-relay/internal/config"
	"contractor-status-relay/internal/model"
)

// UnknownSender is used when no sender address can be resolved.
const UnknownSender = "unknown@example.com"

var (
	// ErrConfigurationIncomplete marks a backend whose required settings are missing.
	ErrConfigurationIncomplete = errors.New("configuration incomplete")
	// ErrBackendUnavailable marks authentication, folder or query failures.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrUnknownBackend is returned for a backend name that is not recognised.
	ErrUnknownBackend = errors.New("unknown mail backend")
)

// IncompleteError lists every missing setting of a backend.
type IncompleteError struct {
	Backend string
	Missing []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%s backend: missing %s", e.Backend, strings.Join(e.Missing, ", "))
}

// Is makes errors.Is(err, ErrConfigurationIncomplete) hold.
func (e *IncompleteError) Is(target error) bool {
	return target == ErrConfigurationIncomplete
}

func unavailable(backend, stage string, err error) error {
	return fmt.Errorf("%w: %s backend could not %s: %w", ErrBackendUnavailable, backend, stage, err)
}

// FilterSettings restricts what a backend returns in one pass.
type FilterSettings struct {
	LookbackMinutes int
	Folder          []string
	MaxMessages     int
}

// FiltersFromConfig builds the per-run filter settings.
func FiltersFromConfig(cfg config.MailConfig) FilterSettings {
	return FilterSettings{
		LookbackMinutes: cfg.LookbackWindow(),
		Folder:          cfg.FolderPath(),
		MaxMessages:     cfg.MessageLimit(),
	}
}

func (f FilterSettings) normalized() FilterSettings {
	if f.LookbackMinutes < 1 {
		f.LookbackMinutes = config.DefaultLookbackMinutes
	}
	if f.MaxMessages < 1 {
		f.MaxMessages = config.DefaultMaxMessages
	}
	return f
}

// Cutoff returns the oldest receive time still inside the lookback window.
func (f FilterSettings) Cutoff(now time.Time) time.Time {
	return now.UTC().Add(-time.Duration(f.LookbackMinutes) * time.Minute)
}

// MessageSource is implemented by every mail backend. Each call re-queries
// the backend.
type MessageSource interface {
	Name() string
	Fetch(ctx context.Context, filters FilterSettings) ([]model.ContractorMessage, error)
}

// newMessage classifies raw email text into a contractor message.
func newMessage(subject, body, sender string, received time.Time) model.ContractorMessage {
	facts := classifier.Classify(subject, body)
	if sender == "" {
		sender = UnknownSender
	}
	return model.ContractorMessage{
		RequestNumber:  facts.RequestNumber,
		PositionNumber: facts.PositionNumber,
		DetectedStatus: facts.Status,
		Comment:        facts.Comment,
		ReceivedAt:     received.UTC(),
		Sender:         sender,
		Subject:        subject,
	}
}
