// Package obs provides Prometheus metrics for listener containers and the
// HTTP endpoint exposing them.
package obs

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/miladsoleymani/ackmux/core"
)

// Metrics holds the container metrics. It implements
// middleware.MetricsCollector and core.Observer.
type Metrics struct {
	Deliveries              *prometheus.CounterVec
	RecordsHandled          *prometheus.CounterVec
	DeliveryDuration        *prometheus.HistogramVec
	Commits                 *prometheus.CounterVec
	CommittedOffsets        *prometheus.CounterVec
	Rollbacks               prometheus.Counter
	FencingFaults           *prometheus.CounterVec
	SecondaryCommitFailures prometheus.Counter
}

// NewMetrics registers the metrics with reg. labels become constant labels of
// every metric, typically the container's metrics tags.
func NewMetrics(reg prometheus.Registerer, labels map[string]string) *Metrics {
	factory := promauto.With(reg)
	constLabels := prometheus.Labels{}
	for k, v := range labels {
		constLabels[k] = v
	}

	return &Metrics{
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ackmux",
			Name:        "deliveries_total",
			Help:        "Total number of delivery units handled, by topic and outcome",
			ConstLabels: constLabels,
		}, []string{"topic", "outcome"}),
		RecordsHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ackmux",
			Name:        "records_handled_total",
			Help:        "Total number of records passed to handlers",
			ConstLabels: constLabels,
		}, []string{"topic"}),
		DeliveryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "ackmux",
			Name:        "delivery_duration_seconds",
			Help:        "Handler duration per delivery unit",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"topic"}),
		Commits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ackmux",
			Name:        "commits_total",
			Help:        "Total number of offset commits, consumer or transactional",
			ConstLabels: constLabels,
		}, []string{"transactional"}),
		CommittedOffsets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ackmux",
			Name:        "committed_offsets_total",
			Help:        "Total number of partition offsets committed",
			ConstLabels: constLabels,
		}, []string{"transactional"}),
		Rollbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "ackmux",
			Name:        "transaction_rollbacks_total",
			Help:        "Total number of rolled back transactions",
			ConstLabels: constLabels,
		}),
		FencingFaults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ackmux",
			Name:        "fenced_total",
			Help:        "Total number of fencing faults, by container response",
			ConstLabels: constLabels,
		}, []string{"action"}),
		SecondaryCommitFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "ackmux",
			Name:        "secondary_commit_failures_total",
			Help:        "Total number of participant commits that failed after the broker commit",
			ConstLabels: constLabels,
		}),
	}
}

// DeliveryHandled records one handled delivery unit.
func (m *Metrics) DeliveryHandled(topic string, records int, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.Deliveries.WithLabelValues(topic, outcome).Inc()
	m.RecordsHandled.WithLabelValues(topic).Add(float64(records))
	m.DeliveryDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

func (m *Metrics) Committed(offsets int, transactional bool) {
	label := strconv.FormatBool(transactional)
	m.Commits.WithLabelValues(label).Inc()
	m.CommittedOffsets.WithLabelValues(label).Add(float64(offsets))
}

func (m *Metrics) RolledBack(error) { m.Rollbacks.Inc() }

func (m *Metrics) Fenced(action core.FencingAction) {
	m.FencingFaults.WithLabelValues(action.String()).Inc()
}

func (m *Metrics) SecondaryCommitFailed(error) { m.SecondaryCommitFailures.Inc() }
