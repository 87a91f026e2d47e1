package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"comprobantes/internal/core"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveDocument(core.Factura, core.Money{Pesos: 45000})
	m.ObserveDocument(core.Factura, core.Money{Pesos: 5000})
	m.ObserveDocument(core.Unknown, core.Money{})
	m.ObserveFailure(ReasonOCR)
	m.BatchCompleted(1700000000)

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"documents factura", m.documents.WithLabelValues("FACTURA"), 2},
		{"amount factura", m.amount.WithLabelValues("FACTURA"), 50000},
		{"documents unknown", m.documents.WithLabelValues("UNKNOWN"), 1},
		{"failures ocr", m.failures.WithLabelValues(ReasonOCR), 1},
		{"last batch", m.lastBatch, 1700000000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	// Unknown outcomes never add to the amount counter.
	if n := testutil.CollectAndCount(m.amount); n != 1 {
		t.Errorf("amount series = %d, want 1", n)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveDocument(core.Factura, core.Money{Pesos: 1})
	m.ObserveFailure(ReasonInput)
	m.BatchCompleted(1)
}
