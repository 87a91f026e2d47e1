// Package metrics holds the Prometheus instruments of the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"comprobantes/internal/core"
)

const namespace = "comprobantes"

// Failure reasons.
const (
	ReasonInput   = "input"
	ReasonOCR     = "ocr"
	ReasonStorage = "storage"
	ReasonNotify  = "notify"
	ReasonArchive = "archive"
)

// Metrics is safe to use as a nil pointer; every method becomes a no-op.
type Metrics struct {
	documents *prometheus.CounterVec
	amount    *prometheus.CounterVec
	failures  *prometheus.CounterVec
	lastBatch prometheus.Gauge
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Documents processed by outcome category",
		}, []string{"category"}),
		amount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "amount_cop_total",
			Help:      "Accumulated amount in COP by category",
		}, []string{"category"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Processing failures by reason",
		}, []string{"reason"}),
		lastBatch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_batch_timestamp_seconds",
			Help:      "Unix timestamp of the last completed inbox batch",
		}),
	}
	reg.MustRegister(m.documents, m.amount, m.failures, m.lastBatch)
	return m
}

// ObserveDocument counts one outcome and, for tracked categories, its amount.
func (m *Metrics) ObserveDocument(c core.Category, amount core.Money) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(c.String()).Inc()
	if c.Tracked() && amount.Known() {
		m.amount.WithLabelValues(c.String()).Add(float64(amount.Pesos))
	}
}

func (m *Metrics) ObserveFailure(reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(reason).Inc()
}

// BatchCompleted stamps the batch gauge with unix seconds.
func (m *Metrics) BatchCompleted(unix float64) {
	if m == nil {
		return
	}
	m.lastBatch.Set(unix)
}
