package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 指标管理器
type Metrics struct {
	// HTTP请求指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 业务指标
	alertsCreated     *prometheus.CounterVec
	escalationsTotal  *prometheus.CounterVec
	respondersTotal   prometheus.Counter
	pushBatchesTotal  *prometheus.CounterVec
	pushTokensPruned  prometheus.Counter
	notificationsSent prometheus.Counter
	revenueEntries    prometheus.Counter
	transitionsTotal  *prometheus.CounterVec
}

// NewMetrics 创建指标管理器
func NewMetrics() *Metrics {
	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		alertsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerts_created_total",
				Help: "Alerts created, by severity",
			},
			[]string{"severity"},
		),
		escalationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alert_escalations_total",
				Help: "Tier advances performed by the escalation job",
			},
			[]string{"tier"},
		),
		respondersTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "alert_responders_total",
				Help: "First-time responder claims",
			},
		),
		pushBatchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "push_batches_total",
				Help: "Push channel batch calls, by outcome",
			},
			[]string{"outcome"},
		),
		pushTokensPruned: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "push_tokens_pruned_total",
				Help: "Push tokens removed after the channel flagged them dead",
			},
		),
		notificationsSent: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "notifications_persisted_total",
				Help: "In-app notification records written",
			},
		),
		revenueEntries: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "revenue_ledger_entries_total",
				Help: "Revenue ledger entries actually inserted (conflicts excluded)",
			},
		),
		transitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_transitions_total",
				Help: "Applied service transaction transitions",
			},
			[]string{"from", "to"},
		),
	}
}

func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) AlertCreated(severity string) { m.alertsCreated.WithLabelValues(severity).Inc() }
func (m *Metrics) Escalated(tier string)        { m.escalationsTotal.WithLabelValues(tier).Inc() }
func (m *Metrics) ResponderClaimed()            { m.respondersTotal.Inc() }
func (m *Metrics) PushBatch(outcome string)     { m.pushBatchesTotal.WithLabelValues(outcome).Inc() }
func (m *Metrics) TokensPruned(n int)           { m.pushTokensPruned.Add(float64(n)) }
func (m *Metrics) NotificationsPersisted(n int) { m.notificationsSent.Add(float64(n)) }
func (m *Metrics) RevenueRecorded()             { m.revenueEntries.Inc() }
func (m *Metrics) Transitioned(from, to string) { m.transitionsTotal.WithLabelValues(from, to).Inc() }
