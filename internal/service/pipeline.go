// Package service applies contractor email to the request store.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"contractor-status-relay/internal/metrics"
	"contractor-status-relay/internal/model"
	"contractor-status-relay/internal/source"
)

// StatusStore is the part of the request store the pipeline writes to.
type StatusStore interface {
	UpdateStatus(ctx context.Context, requestNumber, newStatus, positionNumber string) (bool, error)
	UpdateComment(ctx context.Context, requestNumber, comment, positionNumber, author string) (bool, error)
}

// ChainResolver builds the backend chain for a run.
type ChainResolver interface {
	Resolve(backend string, useFixtures bool) (*source.Chain, error)
}

// MailboxOptions selects the mail backend for one pass.
type MailboxOptions struct {
	Backend     string
	UseFixtures bool
}

// Pipeline pulls contractor messages and applies them to the store.
type Pipeline struct {
	store    StatusStore
	resolver ChainResolver
	filters  source.FilterSettings
	metrics  *metrics.Metrics
}

// NewPipeline creates a pipeline. m may be nil.
func NewPipeline(store StatusStore, resolver ChainResolver, filters source.FilterSettings, m *metrics.Metrics) *Pipeline {
	return &Pipeline{store: store, resolver: resolver, filters: filters, metrics: m}
}

// ProcessMailbox runs one pass and returns one outcome line per message. An
// empty result means no mail was available. Only an unknown backend name or
// a storage failure is returned as an error.
func (p *Pipeline) ProcessMailbox(ctx context.Context, opts MailboxOptions) ([]string, error) {
	chain, err := p.resolver.Resolve(opts.Backend, opts.UseFixtures)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := logrus.WithFields(logrus.Fields{"run_id": runID, "chain": chain.Descriptor()})
	log.Info("Starting mailbox processing pass")

	startTime := time.Now()
	if p.metrics != nil {
		p.metrics.PassCount.Inc()
		defer func() { p.metrics.ProcessingTime.Observe(time.Since(startTime).Seconds()) }()
	}

	messages, backend := chain.Fetch(ctx, p.filters)
	p.metrics.ObserveFetched(backend, len(messages))

	results := make([]string, 0, len(messages))
	for _, msg := range messages {
		outcome, err := p.apply(ctx, log.WithField("backend", backend), msg)
		if err != nil {
			return results, fmt.Errorf("failed to apply message %q: %w", msg.Subject, err)
		}
		results = append(results, outcome)
	}

	log.Infof("Mailbox processing pass completed in %v with %d outcome(s)", time.Since(startTime), len(results))
	return results, nil
}

func (p *Pipeline) apply(ctx context.Context, log *logrus.Entry, msg model.ContractorMessage) (string, error) {
	if !msg.HasRequestNumber() {
		log.WithField("subject", msg.Subject).Warn("Could not determine request number")
		if p.metrics != nil {
			p.metrics.SkippedMessages.Inc()
		}
		return fmt.Sprintf("Пропуск письма от %s: не найден номер заявки", msg.Sender), nil
	}

	log = log.WithFields(logrus.Fields{
		"request_number":  msg.RequestNumber,
		"position_number": msg.PositionNumber,
	})

	var statusApplied, commentSaved bool
	var err error

	if msg.DetectedStatus != "" {
		statusApplied, err = p.store.UpdateStatus(ctx, msg.RequestNumber, msg.DetectedStatus, msg.PositionNumber)
		if err != nil {
			return "", err
		}
		if statusApplied && p.metrics != nil {
			p.metrics.StatusUpdates.Inc()
		}
	}

	if msg.Comment != "" {
		commentSaved, err = p.store.UpdateComment(ctx, msg.RequestNumber, msg.Comment, msg.PositionNumber, msg.Sender)
		if err != nil {
			return "", err
		}
		if commentSaved && p.metrics != nil {
			p.metrics.CommentUpdates.Inc()
		}
	}

	if !statusApplied && !commentSaved {
		log.Info("Message did not match any request")
		return fmt.Sprintf("Данные из письма не применены (subject=%s, request=%s)", msg.Subject, msg.RequestNumber), nil
	}

	parts := []string{"Заявка " + msg.RequestNumber}
	if msg.PositionNumber != "" {
		parts = append(parts, "позиция "+msg.PositionNumber)
	}
	if statusApplied {
		parts = append(parts, "статус -> "+msg.DetectedStatus)
	}
	if commentSaved {
		parts = append(parts, "комментарий обновлён")
	}
	log.Debug("Message applied")
	return strings.Join(parts, "; "), nil
}
