package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Notification outcomes.
const (
	NotificationSent      = "sent"
	NotificationFailed    = "failed"
	NotificationSimulated = "simulated"
	NotificationDryRun    = "dry_run"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	PassCount       prometheus.Counter
	FetchedMessages *prometheus.CounterVec
	SkippedMessages prometheus.Counter
	StatusUpdates   prometheus.Counter
	CommentUpdates  prometheus.Counter
	Notifications   *prometheus.CounterVec
	DelayedRequests prometheus.Gauge
	ProcessingTime  prometheus.Histogram
}

// NewMetrics registers the metrics with reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PassCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "contractor_relay_mailbox_passes_total",
			Help: "Total number of mailbox processing passes",
		}),
		FetchedMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contractor_relay_fetched_messages_total",
			Help: "Contractor messages fetched, by mail backend",
		}, []string{"backend"}),
		SkippedMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "contractor_relay_skipped_messages_total",
			Help: "Messages skipped because no request number was found",
		}),
		StatusUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "contractor_relay_status_updates_total",
			Help: "Status writes that matched at least one request",
		}),
		CommentUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "contractor_relay_comment_updates_total",
			Help: "Comment writes that matched at least one request",
		}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contractor_relay_delay_notifications_total",
			Help: "Delay notifications, by outcome",
		}, []string{"outcome"}),
		DelayedRequests: factory.NewGauge(prometheus.GaugeOpts{
			Name: "contractor_relay_delayed_requests",
			Help: "Requests found stale by the last delay check",
		}),
		ProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "contractor_relay_pass_duration_seconds",
			Help:    "Time spent processing the mailbox",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveNotification counts one notification outcome. Safe on a nil receiver.
func (m *Metrics) ObserveNotification(outcome string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(outcome).Inc()
}

// ObserveFetched counts messages returned by a backend. Safe on a nil receiver.
func (m *Metrics) ObserveFetched(backend string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.FetchedMessages.WithLabelValues(backend).Add(float64(n))
}
