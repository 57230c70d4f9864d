// Package decision implements the market-making decision engine: a
// three-phase budgeted pipeline that turns a MarketUpdate into a
// TradingDecision, adjusting for inventory, book imbalance, trade-flow
// momentum, and fair-value reversion, gated by the risk state's hard
// limits and a DV01 cap.
//
// The three phases (compute a signal, adjust a preliminary quote, gate
// on risk) are one fixed pipeline with budget checks between phases
// rather than a polymorphic strategy hierarchy, since the budget
// constraint forces a single deterministic code path instead of
// pluggable strategies.
package decision

import (
	"time"

	"github.com/markcheno/go-talib"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/ust-mm/internal/fairvalue"
	"github.com/abdoElHodaky/ust-mm/internal/instrument"
	"github.com/abdoElHodaky/ust-mm/internal/price"
	"github.com/abdoElHodaky/ust-mm/internal/riskstate"
	"github.com/abdoElHodaky/ust-mm/internal/telemetry"
)

// Action is the decision engine's output verdict.
type Action uint8

const (
	NoAction Action = iota
	UpdateQuotes
	CancelQuotes
	EmergencyFlatten
)

func (a Action) String() string {
	switch a {
	case UpdateQuotes:
		return "UPDATE_QUOTES"
	case CancelQuotes:
		return "CANCEL_QUOTES"
	case EmergencyFlatten:
		return "EMERGENCY_FLATTEN"
	default:
		return "NO_ACTION"
	}
}

// MarketUpdate is the decision engine's sole input.
type MarketUpdate struct {
	Instrument     instrument.Instrument
	BestBid        price.Price32nd
	BestAsk        price.Price32nd
	BidSize        uint64
	AskSize        uint64
	LastTradePrice price.Price32nd
	LastTradeSize  uint64
	Timestamp      int64
	Sequence       uint64
}

// TradingDecision is the decision engine's sole output.
type TradingDecision struct {
	Instrument     instrument.Instrument
	Action         Action
	BidPrice       price.Price32nd
	AskPrice       price.Price32nd
	BidSize        uint64
	AskSize        uint64
	DecisionLatencyNs int64
}

// Config holds every tunable the three-phase pipeline consults.
type Config struct {
	BaseSpreadBps            float64
	InventoryPenaltyBps      float64
	InventoryScale           float64
	BaseSizeUSD              float64
	MinQuoteSize             float64
	ImbalanceCoefficient     float64
	MomentumCoefficient      float64
	FairValueCoefficient     float64
	SessionLength            time.Duration
	PriceChangeThreshold32nd float64 // expressed in 1/32nds, e.g. 0.5

	PositionCap    float64
	DailyLossCap   float64
	OrderRateCap   int64
	DV01Cap        float64
	PerMillionDV01 [instrument.Count]float64

	Phase1BudgetNs int64
	Phase2BudgetNs int64
	Phase3BudgetNs int64
}

const momentumWindow = 20
const momentumEMAPeriod = 8

type lastQuote struct {
	bid, ask price.Price32nd
	hasQuote bool
}

type momentumTracker struct {
	prices [momentumWindow]float64
	idx    int
	count  int
}

func (m *momentumTracker) push(p float64) {
	m.prices[m.idx] = p
	m.idx = (m.idx + 1) % momentumWindow
	if m.count < momentumWindow {
		m.count++
	}
}

// ema returns the most recent EMA value over the buffered window, or
// the last pushed price if not enough history exists yet.
func (m *momentumTracker) ema(period int) float64 {
	if m.count == 0 {
		return 0
	}
	series := make([]float64, m.count)
	// Oldest sample first: walk back count steps from idx.
	for i := 0; i < m.count; i++ {
		pos := (m.idx - m.count + i + momentumWindow) % momentumWindow
		series[i] = m.prices[pos]
	}
	if m.count < period {
		return series[len(series)-1]
	}
	values := talib.Ema(series, period)
	return values[len(values)-1]
}

// Engine runs the budgeted pipeline for every instrument it is
// constructed to cover.
type Engine struct {
	cfg   Config
	risk  *riskstate.State
	curve *fairvalue.Curve

	lastQuotes [instrument.Count]lastQuote
	momentum   [instrument.Count]momentumTracker

	sessionStart time.Time
	now          func() time.Time

	metrics *telemetry.Metrics
	logger  *zap.Logger
}

// New constructs a decision Engine. now defaults to time.Now if nil,
// overridable so tests can hold the clock fixed for determinism checks.
func New(cfg Config, risk *riskstate.State, curve *fairvalue.Curve, metrics *telemetry.Metrics, logger *zap.Logger, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:          cfg,
		risk:         risk,
		curve:        curve,
		sessionStart: now(),
		now:          now,
		metrics:      metrics,
		logger:       logger,
	}
}

// Decide runs the three-phase pipeline for a single MarketUpdate.
func (e *Engine) Decide(u MarketUpdate) TradingDecision {
	start := e.now()
	instr := u.Instrument

	decision, finalized := e.phase1(u)
	if finalized {
		return e.finalize(decision, start)
	}

	elapsed := e.now().Sub(start).Nanoseconds()
	bid, ask := decision.BidPrice.ToDecimal(), decision.AskPrice.ToDecimal()
	size := float64(decision.BidSize)

	if elapsed < e.cfg.Phase1BudgetNs+e.cfg.Phase2BudgetNs {
		bid, ask = e.phase2(u, bid, ask)
	}

	final, finalized := e.phase3(instr, bid, ask, size)
	return e.finalize(final, start)
}

// phase1 runs the always-executed essential analysis: hard risk limits,
// base spread, base size, and preliminary prices. The second return
// value is true if the pipeline must stop here.
func (e *Engine) phase1(u MarketUpdate) (TradingDecision, bool) {
	instr := u.Instrument
	position := float64(e.risk.GetPosition(instr))
	dailyPnL := e.risk.GetDailyPnL()
	ordersToday := e.risk.GetDailyOrderCount()

	if abs(position) >= e.cfg.PositionCap || dailyPnL <= -e.cfg.DailyLossCap || ordersToday >= e.cfg.OrderRateCap {
		return TradingDecision{Instrument: instr, Action: CancelQuotes}, true
	}

	mid := (u.BestBid.ToDecimal() + u.BestAsk.ToDecimal()) / 2

	skewBps := (position / e.cfg.InventoryScale) * e.cfg.InventoryPenaltyBps
	spreadBps := e.cfg.BaseSpreadBps + abs(skewBps)
	spreadFrac := spreadBps / 10_000
	skewPrice := mid * skewBps / 10_000

	quoteSize := e.cfg.BaseSizeUSD * (1 - abs(position)/e.cfg.PositionCap)
	if quoteSize < e.cfg.MinQuoteSize {
		return TradingDecision{Instrument: instr, Action: CancelQuotes}, true
	}

	bid := mid - mid*spreadFrac/2 - skewPrice
	ask := mid + mid*spreadFrac/2 + skewPrice

	bidP := price.RoundBidDown(price.FromDecimal(bid))
	askP := price.RoundAskUp(price.FromDecimal(ask))

	return TradingDecision{
		Instrument: instr,
		BidPrice:   bidP,
		AskPrice:   askP,
		BidSize:    uint64(quoteSize),
		AskSize:    uint64(quoteSize),
	}, false
}

// phase2 applies the additive book-imbalance, momentum, fair-value, and
// time-decayed inventory adjustments to bid/ask. Only the imbalance term
// is bounded (by construction, to ±0.5 times its coefficient); the
// momentum, fair-value, and inventory terms are not clamped.
func (e *Engine) phase2(u MarketUpdate, bid, ask float64) (float64, float64) {
	instr := u.Instrument
	mid := (u.BestBid.ToDecimal() + u.BestAsk.ToDecimal()) / 2

	totalSize := float64(u.BidSize + u.AskSize)
	if totalSize > 0 {
		imbalance := float64(u.BidSize)/totalSize - 0.5 // naturally bounded to [-0.5, 0.5]
		adj := imbalance * e.cfg.ImbalanceCoefficient
		bid += adj
		ask += adj
	}

	if u.LastTradeSize > 0 {
		tracker := &e.momentum[instr]
		tracker.push(u.LastTradePrice.ToDecimal())
		ema := tracker.ema(momentumEMAPeriod)
		adj := (ema - mid) * e.cfg.MomentumCoefficient
		bid += adj
		ask += adj
	}

	if curve := e.curve.Get(); curve.Entries[instr].Valid {
		fairPrice := curve.Entries[instr].FairPrice
		adj := (mid - fairPrice) * e.cfg.FairValueCoefficient
		bid += adj
		ask += adj
	}

	position := float64(e.risk.GetPosition(instr))
	skewBps := (position / e.cfg.InventoryScale) * e.cfg.InventoryPenaltyBps
	skewPrice := mid * skewBps / 10_000

	timeToClose := e.cfg.SessionLength - e.now().Sub(e.sessionStart)
	if timeToClose < 0 {
		timeToClose = 0
	}
	const epsilon = 1e-6
	ratio := timeToClose.Seconds() / e.cfg.SessionLength.Seconds()
	if ratio < epsilon {
		ratio = epsilon
	}
	scale := 1 / ratio
	extraSkew := skewPrice * (scale - 1)
	bid -= extraSkew
	ask += extraSkew

	return bid, ask
}

// phase3 re-snaps to the 32nd grid, enforces the DV01 cap, validates
// the quote, and applies the change threshold against the last posted
// prices.
func (e *Engine) phase3(instr instrument.Instrument, bid, ask, size float64) (TradingDecision, bool) {
	bidP := price.RoundBidDown(price.FromDecimal(bid))
	askP := price.RoundAskUp(price.FromDecimal(ask))

	proposedDV01 := e.cfg.PerMillionDV01[instr] * (size / 1_000_000)
	portfolioDV01 := e.risk.GetPortfolioDV01()
	if proposedDV01 > 0 && portfolioDV01+proposedDV01 > e.cfg.DV01Cap {
		factor := (e.cfg.DV01Cap - portfolioDV01) / proposedDV01
		if factor < 0 {
			factor = 0
		}
		if factor < 0.1 {
			return TradingDecision{Instrument: instr, Action: CancelQuotes}, true
		}
		size *= factor
	}

	if !bidP.Less(askP) || size < e.cfg.MinQuoteSize {
		return TradingDecision{Instrument: instr, Action: CancelQuotes}, true
	}

	last := e.lastQuotes[instr]
	thresholdIn64ths := int64(e.cfg.PriceChangeThreshold32nd * 2)
	if last.hasQuote {
		deltaBid := absInt64(price.Sub64ths(bidP, last.bid))
		deltaAsk := absInt64(price.Sub64ths(askP, last.ask))
		if deltaBid < thresholdIn64ths && deltaAsk < thresholdIn64ths {
			return TradingDecision{Instrument: instr, Action: NoAction}, true
		}
	}

	e.lastQuotes[instr] = lastQuote{bid: bidP, ask: askP, hasQuote: true}

	return TradingDecision{
		Instrument: instr,
		Action:     UpdateQuotes,
		BidPrice:   bidP,
		AskPrice:   askP,
		BidSize:    uint64(size),
		AskSize:    uint64(size),
	}, true
}

func (e *Engine) finalize(d TradingDecision, start time.Time) TradingDecision {
	d.DecisionLatencyNs = e.now().Sub(start).Nanoseconds()
	if e.metrics != nil {
		e.metrics.RecordDecision(int(d.Instrument), d.Action.String(), time.Duration(d.DecisionLatencyNs))
	}
	return d
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
