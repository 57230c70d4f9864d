// Package fairvalue holds the fair-curve snapshot the decision engine's
// Phase 2 mean-reversion adjustment reads, plus a minimal ingestion Feed
// that publishes into it.
//
// The fair-value / yield-curve computation itself is an external
// collaborator, out of scope here. Feed is a stub/test-double quality
// implementation only: it derives a fair price from a yield via a
// first-order linear approximation over a coarse per-instrument duration
// table, good enough to exercise the
// snapshot's publish/read contract and to drive tests, not a production
// curve model.
package fairvalue

import (
	"sync/atomic"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/abdoElHodaky/ust-mm/internal/instrument"
)

// Entry is one instrument's fair-curve data.
type Entry struct {
	Yield     float64
	Vol       float64
	FairPrice float64
	Valid     bool
}

// Snapshot is the full per-instrument fair-curve table, published and
// read atomically as one unit so the decision engine never observes a
// half-updated curve.
type Snapshot struct {
	Entries [instrument.Count]Entry
}

// Curve holds the currently-published Snapshot behind an atomic.Value,
// giving the hot path a lock-free read.
type Curve struct {
	current atomic.Value // holds *Snapshot
}

// NewCurve constructs a Curve with every entry marked invalid.
func NewCurve() *Curve {
	c := &Curve{}
	c.current.Store(&Snapshot{})
	return c
}

// Get returns the currently published snapshot. Never blocks, never
// allocates.
func (c *Curve) Get() *Snapshot {
	return c.current.Load().(*Snapshot)
}

// Publish atomically replaces the snapshot with a fresh one holding
// exactly the given entries, so the hot path's Get either sees the whole
// new curve or the whole previous one. Merging with the previous
// snapshot is left to the caller (Feed.Flush does it).
func (c *Curve) Publish(entries [instrument.Count]Entry) {
	c.current.Store(&Snapshot{Entries: entries})
}

// Feed ingests (yields, vols) batches and publishes derived fair prices
// into a Curve. Arrivals are buffered in a short-TTL cache keyed by
// instrument before being folded into the next published snapshot.
type Feed struct {
	curve   *Curve
	buffer  *cache.Cache
	lastPub int64 // unix nanos, atomic
}

// NewFeed constructs a Feed publishing into curve, buffering incoming
// samples for up to ttl before they are eligible to be folded in.
func NewFeed(curve *Curve, ttl time.Duration) *Feed {
	return &Feed{
		curve:  curve,
		buffer: cache.New(ttl, 2*ttl),
	}
}

// Ingest records a (yields, vols) batch with a validity flag per
// instrument, buffering it for the next Flush.
func (f *Feed) Ingest(yields, vols [instrument.Count]float64, valid [instrument.Count]bool) {
	for i := 0; i < instrument.Count; i++ {
		if !valid[i] {
			continue
		}
		f.buffer.Set(bufferKey(instrument.Instrument(i)), sample{yield: yields[i], vol: vols[i]}, cache.DefaultExpiration)
	}
}

type sample struct {
	yield float64
	vol   float64
}

func bufferKey(i instrument.Instrument) string {
	return i.String()
}

// Flush folds everything currently buffered into a fresh snapshot and
// publishes it. Instruments with no buffered sample keep the prior
// snapshot's entry unchanged; fully stale entries age out of the
// buffer on their own via its TTL and then simply stop being refreshed.
func (f *Feed) Flush() {
	prev := f.curve.Get()
	next := prev.Entries

	for i := 0; i < instrument.Count; i++ {
		instr := instrument.Instrument(i)
		if v, ok := f.buffer.Get(bufferKey(instr)); ok {
			s := v.(sample)
			next[i] = Entry{
				Yield:     s.yield,
				Vol:       s.vol,
				FairPrice: fairPriceFromYield(instr, s.yield),
				Valid:     true,
			}
		}
	}

	f.curve.Publish(next)
	atomic.StoreInt64(&f.lastPub, time.Now().UnixNano())
}

// approxDurationYears is a coarse effective-duration table for the
// linear yield-to-price approximation; a real fair-value engine would
// use full cash-flow discounting.
var approxDurationYears = [instrument.Count]float64{
	0.25, 0.5, 1.9, 4.6, 8.8, 19.0,
}

// fairPriceFromYield approximates fair price as par minus duration times
// yield-change-from-par, a first-order linearisation adequate only for
// exercising the snapshot contract.
func fairPriceFromYield(instr instrument.Instrument, yield float64) float64 {
	const parYield = 0.04 // 4% reference yield for the linear approximation
	duration := approxDurationYears[instr]
	return 100.0 - duration*(yield-parYield)*100.0
}
