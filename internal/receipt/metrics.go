package receipt

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zombor/receipt-ledger/internal/scanning"
)

// Capture outcomes
const (
	OutcomeRecorded          = "recorded"
	OutcomeNoTotal           = "no_total"
	OutcomeCancelled         = "cancelled"
	OutcomeAcquisitionFailed = "acquisition_failed"
	OutcomeError             = "error"
)

// Ledger write operations
const (
	opInsert         = "insert"
	opUpdateTotal    = "update_total"
	opUpdateCategory = "update_category"
	opDelete         = "delete"
)

// Metrics counts capture attempts and ledger writes. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	captures    *prometheus.CounterVec
	extractions *prometheus.CounterVec
	writes      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with registerer
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "receipt_ledger_captures_total",
			Help: "Capture attempts by outcome.",
		}, []string{"outcome"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "receipt_ledger_extractions_total",
			Help: "Successful total extractions by the phase that produced them.",
		}, []string{"phase"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "receipt_ledger_ledger_writes_total",
			Help: "Ledger mutations by operation.",
		}, []string{"op"}),
	}
	registerer.MustRegister(m.captures, m.extractions, m.writes)
	return m
}

func (m *Metrics) capture(outcome string) {
	if m == nil {
		return
	}
	m.captures.WithLabelValues(outcome).Inc()
}

func (m *Metrics) extraction(phase scanning.Phase) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(string(phase)).Inc()
}

func (m *Metrics) write(op string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(op).Inc()
}
