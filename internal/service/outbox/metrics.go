package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Значения label result.
const (
	resultSent      = "sent"
	resultRetry     = "retry_error"
	resultFailed    = "failed"
	resultDLQFailed = "dlq_failed"
)

type workerMetrics struct {
	publishes     *prometheus.CounterVec
	pending       prometheus.Gauge
	oldestPending prometheus.Gauge
}

func newWorkerMetrics(factory promauto.Factory) *workerMetrics {
	return &workerMetrics{
		publishes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_outbox_publish_attempts_total",
			Help: "Outbox publish attempts by result and order event type.",
		}, []string{"result", "event_type"}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shop_outbox_pending_records",
			Help: "Order events waiting in the transactional outbox.",
		}),
		oldestPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shop_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending outbox record.",
		}),
	}
}

// defaultMetrics регистрируются в глобальном registry один раз на процесс.
var defaultMetrics = newWorkerMetrics(promauto.With(prometheus.DefaultRegisterer))

func (m *workerMetrics) publish(result string, event domain.OutboxMessage) {
	m.publishes.WithLabelValues(result, event.EventType).Inc()
}

func (m *workerMetrics) backlog(stats domain.OutboxStats, now time.Time) {
	m.pending.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		m.oldestPending.Set(0)
		return
	}
	m.oldestPending.Set(max(now.Sub(stats.OldestPendingAt).Seconds(), 0))
}
