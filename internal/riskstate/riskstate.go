// Package riskstate implements the lock-free per-instrument risk and
// inventory state: atomic positions and P&L with CAS loops for the
// floating-point fields, a version counter per instrument so snapshot
// readers can detect and retry a torn read, and a gonum/stat-based
// volatility estimate feeding a simple parametric VaR.
package riskstate

import (
	"math"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/abdoElHodaky/ust-mm/internal/instrument"
)

const volWindowSize = 64

// zForVaRConfidence approximates the standard-normal inverse CDF for the
// handful of confidence levels an operator is likely to configure,
// avoiding a dependency on a general inverse-CDF routine for a value
// that only ever takes a few discrete settings in practice.
func zForVaRConfidence(confidence float64) float64 {
	switch {
	case confidence >= 0.99:
		return 2.326
	case confidence >= 0.975:
		return 1.960
	case confidence >= 0.95:
		return 1.645
	case confidence >= 0.90:
		return 1.282
	default:
		return 1.645
	}
}

type position struct {
	qty               int64 // atomic, signed notional
	avgEntryBits      uint64
	realizedPnLBits   uint64
	unrealizedPnLBits uint64
	varBits           uint64
	riskScoreBits     uint64
	version           uint64

	priceHistory [volWindowSize]float64
	histIdx      int
	histCount    int
}

// Config bounds the risk gates and per-instrument DV01 table the state
// consults; these mirror the configurable parameters named in the
// external-interfaces contract.
type Config struct {
	PositionCap         float64
	DailyLossCap        float64
	OrderRateCap        int64
	DV01Cap             float64
	PerMillionDV01      [instrument.Count]float64
	RiskRefreshInterval time.Duration
	VaRConfidence       float64
}

// State holds the complete per-instrument risk and inventory state plus
// the portfolio-level aggregates the decision engine's Phase 1 hard
// limits and Phase 3 DV01 check read.
type State struct {
	cfg       Config
	positions [instrument.Count]position

	portfolioDV01Bits uint64
	dailyPnLBits      uint64
	dailyOrderCount   int64
	portfolioVaRBits  uint64
	lastRiskRefreshNs int64
}

// New constructs a State with every counter zeroed.
func New(cfg Config) *State {
	return &State{cfg: cfg}
}

func casAddFloat64(addr *uint64, delta float64) float64 {
	for {
		old := atomic.LoadUint64(addr)
		newF := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newF)) {
			return newF
		}
	}
}

func casStoreFloat64(addr *uint64, v float64) {
	atomic.StoreUint64(addr, math.Float64bits(v))
}

func loadFloat64(addr *uint64) float64 {
	return math.Float64frombits(atomic.LoadUint64(addr))
}

// UpdatePosition adds signedQty to instrument's position at fillPrice:
// volume-weighted average price is updated when the position grows in
// the same direction; crossing zero or reducing realises P&L on the
// portion closed. Portfolio DV01 is updated by CAS; the position's risk
// score and VaR estimate are recomputed; the version counter is bumped
// last so a concurrent reader either sees the whole update or none of
// it.
func (s *State) UpdatePosition(instrument instrument.Instrument, signedQty int64, fillPrice float64) {
	if !instrument.Valid() || signedQty == 0 {
		return
	}
	pos := &s.positions[instrument]

	oldQty := atomic.LoadInt64(&pos.qty)
	oldAvg := loadFloat64(&pos.avgEntryBits)
	newQty := oldQty + signedQty

	sameDirection := oldQty == 0 || sign(oldQty) == sign(signedQty)

	switch {
	case sameDirection:
		oldAbs := math.Abs(float64(oldQty))
		addAbs := math.Abs(float64(signedQty))
		newAvg := oldAvg
		if oldAbs+addAbs > 0 {
			newAvg = (oldAvg*oldAbs + fillPrice*addAbs) / (oldAbs + addAbs)
		}
		casStoreFloat64(&pos.avgEntryBits, newAvg)

	case math.Abs(float64(signedQty)) <= math.Abs(float64(oldQty)):
		// Pure reduction: realise P&L on the closed portion.
		closedQty := math.Abs(float64(signedQty))
		pnl := closedQty * (fillPrice - oldAvg) * float64(sign(oldQty))
		casAddFloat64(&pos.realizedPnLBits, pnl)
		casAddFloat64(&s.dailyPnLBits, pnl)

	default:
		// Crossed zero: realise P&L on the old position, then open the
		// remainder fresh in the new direction at fillPrice.
		closedQty := math.Abs(float64(oldQty))
		pnl := closedQty * (fillPrice - oldAvg) * float64(sign(oldQty))
		casAddFloat64(&pos.realizedPnLBits, pnl)
		casAddFloat64(&s.dailyPnLBits, pnl)
		casStoreFloat64(&pos.avgEntryBits, fillPrice)
	}

	atomic.StoreInt64(&pos.qty, newQty)

	dv01Delta := s.cfg.PerMillionDV01[instrument] * (float64(signedQty) / 1_000_000)
	casAddFloat64(&s.portfolioDV01Bits, dv01Delta)

	atomic.AddInt64(&s.dailyOrderCount, 1)

	s.recomputePositionRisk(pos, newQty, fillPrice)
	atomic.AddUint64(&pos.version, 1)
}

// UpdateMarketPrice recomputes unrealised P&L and the position's VaR
// estimate from a fresh mark, without changing the position itself.
func (s *State) UpdateMarketPrice(instrument instrument.Instrument, p float64) {
	if !instrument.Valid() {
		return
	}
	pos := &s.positions[instrument]
	qty := atomic.LoadInt64(&pos.qty)
	s.recomputePositionRisk(pos, qty, p)
	atomic.AddUint64(&pos.version, 1)
}

func (s *State) recomputePositionRisk(pos *position, qty int64, lastPrice float64) {
	avg := loadFloat64(&pos.avgEntryBits)
	unrealized := float64(qty) * (lastPrice - avg)
	casStoreFloat64(&pos.unrealizedPnLBits, unrealized)

	pos.priceHistory[pos.histIdx] = lastPrice
	pos.histIdx = (pos.histIdx + 1) % volWindowSize
	if pos.histCount < volWindowSize {
		pos.histCount++
	}

	vol := 0.0
	if pos.histCount >= 2 {
		_, stdDev := stat.MeanStdDev(pos.priceHistory[:pos.histCount], nil)
		vol = stdDev
	}

	notional := math.Abs(float64(qty))
	z := zForVaRConfidence(s.cfg.VaRConfidence)
	varEstimate := z * vol * notional
	casStoreFloat64(&pos.varBits, varEstimate)

	positionRatio := 0.0
	if s.cfg.PositionCap > 0 {
		positionRatio = math.Min(1.0, notional/s.cfg.PositionCap)
	}
	normalizedVol := math.Min(1.0, vol/lastPriceOrOne(lastPrice))
	concentration := positionRatio * positionRatio

	score := 600*positionRatio + 300*normalizedVol + 100*concentration
	if score > 1000 {
		score = 1000
	}
	if score < 0 {
		score = 0
	}
	casStoreFloat64(&pos.riskScoreBits, score)
}

func lastPriceOrOne(p float64) float64 {
	if p == 0 {
		return 1
	}
	return p
}

// UpdatePortfolioRisk recomputes the aggregate portfolio VaR at most
// once per configured refresh interval, combining per-instrument VaR
// estimates by root-sum-of-squares (an independence approximation;
// cross-instrument correlation is out of scope for this estimate).
func (s *State) UpdatePortfolioRisk(now time.Time) {
	nowNs := now.UnixNano()
	last := atomic.LoadInt64(&s.lastRiskRefreshNs)
	if nowNs-last < s.cfg.RiskRefreshInterval.Nanoseconds() {
		return
	}
	if !atomic.CompareAndSwapInt64(&s.lastRiskRefreshNs, last, nowNs) {
		return // another goroutine won the refresh race
	}

	sumSquares := 0.0
	for i := range s.positions {
		v := loadFloat64(&s.positions[i].varBits)
		sumSquares += v * v
	}
	casStoreFloat64(&s.portfolioVaRBits, math.Sqrt(sumSquares))
}

// GetPosition returns the instrument's current signed position.
func (s *State) GetPosition(instrument instrument.Instrument) int64 {
	if !instrument.Valid() {
		return 0
	}
	return atomic.LoadInt64(&s.positions[instrument].qty)
}

// GetUnrealizedPnL returns the instrument's most recently computed
// unrealised P&L.
func (s *State) GetUnrealizedPnL(instrument instrument.Instrument) float64 {
	if !instrument.Valid() {
		return 0
	}
	return loadFloat64(&s.positions[instrument].unrealizedPnLBits)
}

// GetDailyPnL returns the aggregate realised daily P&L across all
// instruments.
func (s *State) GetDailyPnL() float64 {
	return loadFloat64(&s.dailyPnLBits)
}

// GetDailyOrderCount returns the number of position updates committed
// today (used as a proxy for order rate in the hard-limits gate).
func (s *State) GetDailyOrderCount() int64 {
	return atomic.LoadInt64(&s.dailyOrderCount)
}

// GetPortfolioDV01 returns the current aggregate portfolio DV01
// exposure.
func (s *State) GetPortfolioDV01() float64 {
	return loadFloat64(&s.portfolioDV01Bits)
}

// GetRiskScore returns the instrument's advisory risk score in [0,1000].
func (s *State) GetRiskScore(instrument instrument.Instrument) float64 {
	if !instrument.Valid() {
		return 0
	}
	return loadFloat64(&s.positions[instrument].riskScoreBits)
}

// GetPositionVaR returns the instrument's most recently computed VaR
// estimate.
func (s *State) GetPositionVaR(instrument instrument.Instrument) float64 {
	if !instrument.Valid() {
		return 0
	}
	return loadFloat64(&s.positions[instrument].varBits)
}

// GetPortfolioVaR returns the aggregate portfolio VaR as of the last
// refresh.
func (s *State) GetPortfolioVaR() float64 {
	return loadFloat64(&s.portfolioVaRBits)
}

// Version returns the instrument's version counter. A reader that needs
// several fields to be mutually consistent should read Version before
// and after reading those fields and retry on mismatch.
func (s *State) Version(instrument instrument.Instrument) uint64 {
	if !instrument.Valid() {
		return 0
	}
	return atomic.LoadUint64(&s.positions[instrument].version)
}

func sign(v int64) int64 {
	if v < 0 {
		return -1
	}
	return 1
}
