// Package telemetry exposes the operator-readable counters the engine
// keeps so an operator surface can read them at any time: prometheus
// histograms/counters via promauto, atomic counters for the
// hot-path-adjacent tallies.
package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the engine's complete operator-facing counter set.
type Metrics struct {
	DecisionLatencyNs prometheus.Histogram
	OrderBookOpLatencyNs prometheus.Histogram
	QuoteLatencyNs     prometheus.Histogram

	DecisionsTotal       prometheus.Counter
	UpdateQuotesTotal    prometheus.Counter
	CancelQuotesTotal    prometheus.Counter
	EmergencyFlattenTotal prometheus.Counter
	NoActionTotal        prometheus.Counter

	ValidationFailuresTotal prometheus.Counter
	QuoteSuccessTotal       prometheus.Counter
	QuoteFailureTotal       prometheus.Counter
	RingBufferDroppedTotal  prometheus.Counter
	PoolExhaustedTotal      prometheus.Counter

	// Internal tallies, atomic because readers (an operator surface) run
	// on a different goroutine than the decision-engine hot path.
	decisionsMade      uint64
	latencySumNs       uint64
	validationFailures uint64
	quoteSuccesses     uint64
	quoteFailures      uint64
	ringBufferDropped  uint64
	poolExhausted      uint64

	perInstrumentUpdates [6]uint64
}

// New constructs the metrics set, registering every series with the
// default prometheus registry via promauto.
func New() *Metrics {
	return &Metrics{
		DecisionLatencyNs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ustmm_decision_latency_ns",
			Help:    "Decision engine end-to-end latency in nanoseconds",
			Buckets: []float64{100, 200, 400, 600, 800, 1000, 1200, 1500, 2000, 5000},
		}),
		OrderBookOpLatencyNs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ustmm_orderbook_op_latency_ns",
			Help:    "Order book mutating-operation latency in nanoseconds",
			Buckets: []float64{50, 100, 200, 300, 500, 1000, 2000},
		}),
		QuoteLatencyNs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ustmm_quote_update_latency_ns",
			Help:    "Quote manager process_quote_update latency in nanoseconds",
			Buckets: []float64{200, 500, 1000, 2000, 5000, 10000},
		}),
		DecisionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ustmm_decisions_total",
			Help: "Total decisions produced by the decision engine",
		}),
		UpdateQuotesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ustmm_decisions_update_quotes_total",
			Help: "Total UPDATE_QUOTES decisions",
		}),
		CancelQuotesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ustmm_decisions_cancel_quotes_total",
			Help: "Total CANCEL_QUOTES decisions",
		}),
		EmergencyFlattenTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ustmm_decisions_emergency_flatten_total",
			Help: "Total EMERGENCY_FLATTEN decisions",
		}),
		NoActionTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ustmm_decisions_no_action_total",
			Help: "Total NO_ACTION decisions",
		}),
		ValidationFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ustmm_validation_failures_total",
			Help: "Total quote/order validation failures",
		}),
		QuoteSuccessTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ustmm_quote_update_success_total",
			Help: "Total successful process_quote_update calls",
		}),
		QuoteFailureTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ustmm_quote_update_failure_total",
			Help: "Total failed process_quote_update calls",
		}),
		RingBufferDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ustmm_ring_buffer_dropped_total",
			Help: "Total OrderBookUpdate events dropped due to a full ring buffer",
		}),
		PoolExhaustedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ustmm_pool_exhausted_total",
			Help: "Total acquire() calls that found the pool exhausted",
		}),
	}
}

// RecordDecision records a finalised decision's latency and tallies it
// under its action kind plus the instrument's per-instrument counter.
func (m *Metrics) RecordDecision(instrument int, action string, latency time.Duration) {
	ns := latency.Nanoseconds()
	m.DecisionLatencyNs.Observe(float64(ns))
	atomic.AddUint64(&m.decisionsMade, 1)
	atomic.AddUint64(&m.latencySumNs, uint64(ns))
	m.DecisionsTotal.Inc()

	switch action {
	case "UPDATE_QUOTES":
		m.UpdateQuotesTotal.Inc()
	case "CANCEL_QUOTES":
		m.CancelQuotesTotal.Inc()
	case "EMERGENCY_FLATTEN":
		m.EmergencyFlattenTotal.Inc()
	default:
		m.NoActionTotal.Inc()
	}

	if instrument >= 0 && instrument < len(m.perInstrumentUpdates) {
		atomic.AddUint64(&m.perInstrumentUpdates[instrument], 1)
	}
}

// RecordValidationFailure tallies a hot-path validation rejection.
func (m *Metrics) RecordValidationFailure() {
	atomic.AddUint64(&m.validationFailures, 1)
	m.ValidationFailuresTotal.Inc()
}

// RecordQuoteOutcome tallies a process_quote_update outcome.
func (m *Metrics) RecordQuoteOutcome(success bool) {
	if success {
		atomic.AddUint64(&m.quoteSuccesses, 1)
		m.QuoteSuccessTotal.Inc()
		return
	}
	atomic.AddUint64(&m.quoteFailures, 1)
	m.QuoteFailureTotal.Inc()
}

// RecordRingBufferDropped tallies an OrderBookUpdate dropped because the
// outbound ring buffer was full.
func (m *Metrics) RecordRingBufferDropped() {
	atomic.AddUint64(&m.ringBufferDropped, 1)
	m.RingBufferDroppedTotal.Inc()
}

// RecordPoolExhausted tallies an Acquire() call that found its pool
// exhausted.
func (m *Metrics) RecordPoolExhausted() {
	atomic.AddUint64(&m.poolExhausted, 1)
	m.PoolExhaustedTotal.Inc()
}

// Snapshot is a point-in-time read of the operator-facing counters.
type Snapshot struct {
	DecisionsMade        uint64
	LatencySumNs         uint64
	ValidationFailures   uint64
	QuoteSuccesses       uint64
	QuoteFailures         uint64
	RingBufferDropped    uint64
	PoolExhausted        uint64
	PerInstrumentUpdates [6]uint64
}

// Snapshot returns the current counter values, lock-free.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		DecisionsMade:      atomic.LoadUint64(&m.decisionsMade),
		LatencySumNs:       atomic.LoadUint64(&m.latencySumNs),
		ValidationFailures: atomic.LoadUint64(&m.validationFailures),
		QuoteSuccesses:     atomic.LoadUint64(&m.quoteSuccesses),
		QuoteFailures:      atomic.LoadUint64(&m.quoteFailures),
		RingBufferDropped:  atomic.LoadUint64(&m.ringBufferDropped),
		PoolExhausted:      atomic.LoadUint64(&m.poolExhausted),
	}
	for i := range m.perInstrumentUpdates {
		s.PerInstrumentUpdates[i] = atomic.LoadUint64(&m.perInstrumentUpdates[i])
	}
	return s
}

// QuoteSuccessRate returns successes / (successes + failures), or 0 if
// neither has happened yet.
func (s Snapshot) QuoteSuccessRate() float64 {
	total := s.QuoteSuccesses + s.QuoteFailures
	if total == 0 {
		return 0
	}
	return float64(s.QuoteSuccesses) / float64(total)
}
