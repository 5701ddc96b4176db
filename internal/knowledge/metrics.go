package knowledge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records Prometheus metrics for service operations. A nil *Metrics
// records nothing.
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	retriesTotal      *prometheus.CounterVec
}

// NewMetrics registers the service metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knowledge_operations_total",
				Help: "Total number of knowledge service operations by operation and outcome kind",
			},
			[]string{"operation", "kind"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "knowledge_operation_duration_seconds",
				Help:    "Duration of knowledge service operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knowledge_storage_retries_total",
				Help: "Total number of storage calls retried after a transient failure",
			},
			[]string{"operation"},
		),
	}
}

// ObserveOperation records one finished operation. Successful operations
// are labelled with kind "OK".
func (m *Metrics) ObserveOperation(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	kind := "OK"
	if err != nil {
		kind = string(KindOf(err))
	}
	m.operationsTotal.WithLabelValues(op, kind).Inc()
	m.operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// IncRetry counts one retried storage call.
func (m *Metrics) IncRetry(op string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(op).Inc()
}
