// Package quotemanager implements the per-instrument live-quote state
// machine: validates a proposed two-sided quote, cancels and replaces
// the resting bid/ask pair on the book, and publishes the new quote
// state atomically so a reader never observes a half-updated pair.
//
// The Empty -> Pending -> Live -> Pending -> Empty transition only ever
// has an externally visible Empty or Live state: the Pending phase is
// the body of ProcessQuoteUpdate between cancelling the old orders and
// committing the new QuoteState, and nothing reads the published state
// during it, so it never needs its own externally observable value.
package quotemanager

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/abdoElHodaky/ust-mm/internal/instrument"
	"github.com/abdoElHodaky/ust-mm/internal/orderbook"
	"github.com/abdoElHodaky/ust-mm/internal/price"
	"github.com/abdoElHodaky/ust-mm/internal/telemetry"
)

// ValidationResult is validate_quote's verdict.
type ValidationResult uint8

const (
	Valid ValidationResult = iota
	InvalidPriceIncrement
	InvalidPriceOrder
	InvalidSpread
	InvalidSize
	UpdateNotNeeded
	RateLimited
)

func (r ValidationResult) String() string {
	switch r {
	case Valid:
		return "VALID"
	case InvalidPriceIncrement:
		return "INVALID_PRICE_INCREMENT"
	case InvalidPriceOrder:
		return "INVALID_PRICE_ORDER"
	case InvalidSpread:
		return "INVALID_SPREAD"
	case InvalidSize:
		return "INVALID_SIZE"
	case UpdateNotNeeded:
		return "UPDATE_NOT_NEEDED"
	case RateLimited:
		return "RATE_LIMITED"
	default:
		return "UNKNOWN"
	}
}

// QuoteRequest is a proposed two-sided quote for one instrument.
type QuoteRequest struct {
	Instrument instrument.Instrument
	BidPrice   price.Price32nd
	AskPrice   price.Price32nd
	BidSize    uint64
	AskSize    uint64
}

// QuoteState is the published state of an instrument's live quote.
type QuoteState struct {
	BidOrderID uint64
	AskOrderID uint64
	BidPrice   price.Price32nd
	AskPrice   price.Price32nd
	BidSize    uint64
	AskSize    uint64
	Timestamp  int64
}

// IsActive reports whether both legs of the quote are resting on the
// book.
func (q QuoteState) IsActive() bool {
	return q.BidOrderID != 0 && q.AskOrderID != 0
}

// Config bounds the validation thresholds and rate limit every
// instrument's quote slot enforces.
type Config struct {
	MinSize                  uint64
	MaxSize                  uint64
	MinSpread32nd            float64 // minimum ask-bid spread, in 1/32nds
	PriceChangeThreshold32nd float64 // in 1/32nds
	SizeChangeThreshold      float64 // fraction, e.g. 0.10 for 10%
	RateLimitInterval        time.Duration
}

type quoteSlot struct {
	state        atomic.Value // holds QuoteState
	limiter      *rate.Limiter
	updatesToday uint64
}

// Manager owns one quoteSlot and one order book handle per instrument.
type Manager struct {
	cfg   Config
	books [instrument.Count]*orderbook.OrderBook
	slots [instrument.Count]quoteSlot

	nextOrderID uint64 // atomic, monotonic, non-zero

	successCount uint64
	failureCount uint64

	metrics *telemetry.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// New constructs a Manager. books must have one non-nil entry per
// instrument the manager is responsible for. now defaults to time.Now
// if nil, overridable so tests can drive the rate limiter deterministically.
func New(cfg Config, books [instrument.Count]*orderbook.OrderBook, metrics *telemetry.Metrics, logger *zap.Logger, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	m := &Manager{cfg: cfg, books: books, metrics: metrics, logger: logger, now: now}
	for i := range m.slots {
		m.slots[i].limiter = rate.NewLimiter(rate.Every(cfg.RateLimitInterval), 1)
		m.slots[i].state.Store(QuoteState{})
	}
	return m
}

func thresholdIn64ths(thirtySeconds float64) int64 {
	return int64(thirtySeconds * 2)
}

func sizeDeltaFraction(newSize, oldSize uint64) float64 {
	if oldSize == 0 {
		return 1
	}
	delta := float64(newSize) - float64(oldSize)
	if delta < 0 {
		delta = -delta
	}
	return delta / float64(oldSize)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// ValidateQuote runs the six ordered checks against req, consuming a
// rate-limit token only once checks 1-4 pass (so an invalid request
// never costs the instrument its next legitimate update).
func (m *Manager) ValidateQuote(req QuoteRequest) ValidationResult {
	if !req.Instrument.Valid() {
		return InvalidSize
	}
	if !req.BidPrice.IsAligned() || !req.AskPrice.IsAligned() {
		return InvalidPriceIncrement
	}
	if !req.BidPrice.Less(req.AskPrice) {
		return InvalidPriceOrder
	}
	if price.Sub64ths(req.AskPrice, req.BidPrice) < thresholdIn64ths(m.cfg.MinSpread32nd) {
		return InvalidSpread
	}
	if req.BidSize < m.cfg.MinSize || req.BidSize > m.cfg.MaxSize ||
		req.AskSize < m.cfg.MinSize || req.AskSize > m.cfg.MaxSize {
		return InvalidSize
	}

	slot := &m.slots[req.Instrument]
	if !slot.limiter.AllowN(m.now(), 1) {
		return RateLimited
	}

	prior := slot.state.Load().(QuoteState)
	if prior.IsActive() {
		deltaBid := absInt64(price.Sub64ths(req.BidPrice, prior.BidPrice))
		deltaAsk := absInt64(price.Sub64ths(req.AskPrice, prior.AskPrice))
		threshold := thresholdIn64ths(m.cfg.PriceChangeThreshold32nd)
		priceChanged := deltaBid >= threshold || deltaAsk >= threshold
		sizeChanged := sizeDeltaFraction(req.BidSize, prior.BidSize) >= m.cfg.SizeChangeThreshold ||
			sizeDeltaFraction(req.AskSize, prior.AskSize) >= m.cfg.SizeChangeThreshold
		if !priceChanged && !sizeChanged {
			return UpdateNotNeeded
		}
	}

	return Valid
}

// ProcessQuoteUpdate validates req, cancels any existing resting orders
// for its instrument, places a fresh bid/ask pair, and publishes the
// new QuoteState. Returns false on any validation failure, leaving the
// quote state unchanged. Returns false on a placement failure too; by
// then the prior orders have been cancelled, so the quote state is reset
// to empty rather than left pointing at them.
func (m *Manager) ProcessQuoteUpdate(req QuoteRequest) bool {
	start := time.Now()
	defer func() {
		if m.metrics != nil {
			m.metrics.QuoteLatencyNs.Observe(float64(time.Since(start).Nanoseconds()))
		}
	}()

	if result := m.ValidateQuote(req); result != Valid {
		atomic.AddUint64(&m.failureCount, 1)
		if m.metrics != nil {
			m.metrics.RecordValidationFailure()
		}
		return false
	}

	book := m.books[req.Instrument]
	slot := &m.slots[req.Instrument]
	prior := slot.state.Load().(QuoteState)

	if prior.BidOrderID != 0 {
		book.CancelOrder(prior.BidOrderID)
	}
	if prior.AskOrderID != 0 {
		book.CancelOrder(prior.AskOrderID)
	}

	bidID := atomic.AddUint64(&m.nextOrderID, 1)
	askID := atomic.AddUint64(&m.nextOrderID, 1)

	if !book.AddOrder(bidID, orderbook.Bid, req.BidPrice, req.BidSize) {
		slot.state.Store(QuoteState{})
		m.recordFailure()
		return false
	}
	if !book.AddOrder(askID, orderbook.Ask, req.AskPrice, req.AskSize) {
		book.CancelOrder(bidID)
		slot.state.Store(QuoteState{})
		m.recordFailure()
		return false
	}

	slot.state.Store(QuoteState{
		BidOrderID: bidID,
		AskOrderID: askID,
		BidPrice:   req.BidPrice,
		AskPrice:   req.AskPrice,
		BidSize:    req.BidSize,
		AskSize:    req.AskSize,
		Timestamp:  m.now().UnixNano(),
	})
	atomic.AddUint64(&slot.updatesToday, 1)
	atomic.AddUint64(&m.successCount, 1)
	if m.metrics != nil {
		m.metrics.RecordQuoteOutcome(true)
	}
	return true
}

func (m *Manager) recordFailure() {
	atomic.AddUint64(&m.failureCount, 1)
	if m.metrics != nil {
		m.metrics.RecordQuoteOutcome(false)
	}
}

// CancelQuotes cancels any live resting orders for instrument and
// zeroes its published quote state.
func (m *Manager) CancelQuotes(instr instrument.Instrument) {
	if !instr.Valid() {
		return
	}
	slot := &m.slots[instr]
	prior := slot.state.Load().(QuoteState)
	book := m.books[instr]
	if prior.BidOrderID != 0 {
		book.CancelOrder(prior.BidOrderID)
	}
	if prior.AskOrderID != 0 {
		book.CancelOrder(prior.AskOrderID)
	}
	slot.state.Store(QuoteState{})
}

// CancelAllQuotes cancels every instrument's live quote.
func (m *Manager) CancelAllQuotes() {
	for i := 0; i < instrument.Count; i++ {
		m.CancelQuotes(instrument.Instrument(i))
	}
}

// GetCurrentQuote returns a snapshot of instrument's published quote
// state.
func (m *Manager) GetCurrentQuote(instr instrument.Instrument) QuoteState {
	if !instr.Valid() {
		return QuoteState{}
	}
	return m.slots[instr].state.Load().(QuoteState)
}

// PerformanceStats aggregates the manager's lifetime counters.
type PerformanceStats struct {
	SuccessCount         uint64
	FailureCount         uint64
	UpdatesPerInstrument [instrument.Count]uint64
}

// GetPerformanceStats returns the manager's aggregate counters.
func (m *Manager) GetPerformanceStats() PerformanceStats {
	stats := PerformanceStats{
		SuccessCount: atomic.LoadUint64(&m.successCount),
		FailureCount: atomic.LoadUint64(&m.failureCount),
	}
	for i := range m.slots {
		stats.UpdatesPerInstrument[i] = atomic.LoadUint64(&m.slots[i].updatesToday)
	}
	return stats
}
