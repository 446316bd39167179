// Package notifier escalates requests whose status has not changed for too
// long.
package notifier

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"contractor-status-relay/internal/metrics"
	"contractor-status-relay/internal/model"
)

const (
	PositionPlaceholder = "-"
	StatusPlaceholder   = "неизвестно"
	TimestampLayout     = "2006.01.02 15:04"
)

// DelayStore finds stale requests.
type DelayStore interface {
	GetDelayedRequests(ctx context.Context, thresholdMinutes int) ([]model.Request, error)
}

// Sender delivers one chat message.
type Sender interface {
	SendMessage(ctx context.Context, text string) bool
}

type Notifier struct {
	store   DelayStore
	sender  Sender
	metrics *metrics.Metrics
}

// New creates a Notifier. m may be nil.
func New(store DelayStore, sender Sender, m *metrics.Metrics) *Notifier {
	return &Notifier{store: store, sender: sender, metrics: m}
}

// NotifyDelays formats one message per delayed request and sends it when send
// is true, otherwise only logs it. The texts are returned either way. Only a
// storage failure is returned as an error.
func (n *Notifier) NotifyDelays(ctx context.Context, thresholdMinutes int, send bool) ([]string, error) {
	records, err := n.store.GetDelayedRequests(ctx, thresholdMinutes)
	if err != nil {
		return nil, err
	}
	if n.metrics != nil {
		n.metrics.DelayedRequests.Set(float64(len(records)))
	}
	if len(records) == 0 {
		logrus.WithField("threshold_minutes", thresholdMinutes).Info("No delayed requests")
		return []string{}, nil
	}

	texts := make([]string, 0, len(records))
	for _, r := range records {
		text := FormatDelayMessage(r)
		texts = append(texts, text)

		if !send {
			logrus.Infof("[DRY RUN] %s", text)
			n.metrics.ObserveNotification(metrics.NotificationDryRun)
			continue
		}
		if !n.sender.SendMessage(ctx, text) {
			logrus.WithFields(logrus.Fields{
				"request_number":  r.RequestNumber,
				"position_number": r.PositionNumber,
			}).Info("Delay notification was not delivered")
		}
	}
	return texts, nil
}

// FormatDelayMessage renders the escalation text for one request.
func FormatDelayMessage(r model.Request) string {
	position := r.PositionNumber
	if position == "" {
		position = PositionPlaceholder
	}
	status := r.Status
	if status == "" {
		status = StatusPlaceholder
	}
	return fmt.Sprintf(
		"⚠ Заявка №%s (позиция %s) давно без обновлений.\nТекущий статус: %s.\nПоследнее обновление: %s.",
		r.RequestNumber, position, status, r.StatusUpdatedAt.UTC().Format(TimestampLayout),
	)
}
