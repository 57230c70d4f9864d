// Package aux runs the three auxiliary threads the concurrency model
// calls for alongside the decision-engine hot path: fill-driven position
// updates, fair-curve refresh, and background portfolio-risk
// recomputation. Each runs as a recurring task submitted to an
// ants.Pool; panics inside a task are caught by ants' PanicHandler
// rather than taking down the loop. An EmergencyStop flag, escalated
// through a sony/gobreaker circuit breaker when fill processing or risk
// refresh errors repeatedly, gates every task so none of the three ever
// touches the book or risk state once tripped.
package aux

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/ust-mm/internal/fairvalue"
	"github.com/abdoElHodaky/ust-mm/internal/instrument"
	"github.com/abdoElHodaky/ust-mm/internal/riskstate"
)

// Fill is one execution report driving a position update.
type Fill struct {
	Instrument int
	SignedQty  int64
	Price      float64
}

// Config bounds the auxiliary loops' scheduling and breaker behaviour.
type Config struct {
	PoolSize               int
	FillQueueCapacity      int
	RiskRefreshInterval    time.Duration
	FairCurveFlushInterval time.Duration
	BreakerMaxRequests     uint32
	BreakerInterval        time.Duration
	BreakerTimeout         time.Duration
}

// Runner owns the ants.Pool and the three recurring loops.
type Runner struct {
	cfg Config

	pool    *ants.Pool
	breaker *gobreaker.CircuitBreaker

	risk *riskstate.State
	feed *fairvalue.Feed

	fills chan Fill

	emergencyStop int32 // atomic bool

	logger *zap.Logger
}

// New constructs a Runner. The ants.Pool is pre-allocated at
// cfg.PoolSize; panics inside a submitted task are caught and logged
// rather than propagated.
func New(cfg Config, risk *riskstate.State, feed *fairvalue.Feed, logger *zap.Logger) (*Runner, error) {
	r := &Runner{
		cfg:    cfg,
		risk:   risk,
		feed:   feed,
		fills:  make(chan Fill, cfg.FillQueueCapacity),
		logger: logger,
	}

	pool, err := ants.NewPool(cfg.PoolSize, ants.WithOptions(ants.Options{
		ExpiryDuration: 10 * time.Minute,
		PreAlloc:       true,
		PanicHandler: func(i interface{}) {
			if logger != nil {
				logger.Error("auxiliary task panicked", zap.Any("panic", i))
			}
		},
	}))
	if err != nil {
		return nil, err
	}
	r.pool = pool

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "aux-loops",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				r.TripEmergencyStop()
			}
			if logger != nil {
				logger.Warn("auxiliary circuit breaker state change",
					zap.String("from", from.String()), zap.String("to", to.String()))
			}
		},
	})

	return r, nil
}

// SubmitFill enqueues a fill for asynchronous position-update
// processing. Returns false if the queue is full; the caller is
// expected to retry or log.
func (r *Runner) SubmitFill(f Fill) bool {
	select {
	case r.fills <- f:
		return true
	default:
		return false
	}
}

// TripEmergencyStop raises the flag every auxiliary task checks before
// touching risk or fair-curve state. It latches: only ResetEmergencyStop
// clears it.
func (r *Runner) TripEmergencyStop() {
	atomic.StoreInt32(&r.emergencyStop, 1)
}

// ResetEmergencyStop clears the flag, e.g. once an operator has
// confirmed it is safe to resume.
func (r *Runner) ResetEmergencyStop() {
	atomic.StoreInt32(&r.emergencyStop, 0)
}

// EmergencyStopped reports the current flag value.
func (r *Runner) EmergencyStopped() bool {
	return atomic.LoadInt32(&r.emergencyStop) == 1
}

// Run starts the three auxiliary loops and blocks until ctx is
// cancelled, then releases the pool.
func (r *Runner) Run(ctx context.Context) {
	riskTicker := time.NewTicker(r.cfg.RiskRefreshInterval)
	curveTicker := time.NewTicker(r.cfg.FairCurveFlushInterval)
	defer riskTicker.Stop()
	defer curveTicker.Stop()
	defer r.pool.Release()

	for {
		select {
		case <-ctx.Done():
			return

		case fill := <-r.fills:
			f := fill
			_ = r.pool.Submit(func() { r.processFill(f) })

		case now := <-riskTicker.C:
			n := now
			_ = r.pool.Submit(func() { r.refreshRisk(n) })

		case <-curveTicker.C:
			_ = r.pool.Submit(r.flushFairCurve)
		}
	}
}

func (r *Runner) processFill(f Fill) {
	if r.EmergencyStopped() {
		return
	}
	instr := instrument.Instrument(f.Instrument)
	if !instr.Valid() {
		return
	}
	_, err := r.breaker.Execute(func() (interface{}, error) {
		r.risk.UpdatePosition(instr, f.SignedQty, f.Price)
		return nil, nil
	})
	if err != nil && r.logger != nil {
		r.logger.Warn("fill processing rejected by circuit breaker", zap.Error(err))
	}
}

func (r *Runner) refreshRisk(now time.Time) {
	if r.EmergencyStopped() {
		return
	}
	_, err := r.breaker.Execute(func() (interface{}, error) {
		r.risk.UpdatePortfolioRisk(now)
		return nil, nil
	})
	if err != nil && r.logger != nil {
		r.logger.Warn("risk refresh rejected by circuit breaker", zap.Error(err))
	}
}

func (r *Runner) flushFairCurve() {
	if r.EmergencyStopped() || r.feed == nil {
		return
	}
	r.feed.Flush()
}
