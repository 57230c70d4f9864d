// Package orderbook implements the per-instrument price-time-priority
// limit order book: two linked price ladders (bids descending, asks
// ascending) with cached best-of-side heads and O(1) cancel via an
// order-id index. No atomics or unsafe.Pointer are needed here because
// the book is only ever touched by the decision-engine thread that owns
// it.
package orderbook

import (
	"time"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/ust-mm/internal/instrument"
	"github.com/abdoElHodaky/ust-mm/internal/pool"
	"github.com/abdoElHodaky/ust-mm/internal/price"
	"github.com/abdoElHodaky/ust-mm/internal/ringbuffer"
	"github.com/abdoElHodaky/ust-mm/internal/telemetry"
)

// Side identifies which side of the book an order or level sits on.
type Side uint8

const (
	Bid Side = iota
	Ask
)

// Order is a single resting order, held in a fixed-capacity pool slot
// and linked into its price level's FIFO. OrderID must be non-zero;
// Remaining must stay in (0, Quantity].
type Order struct {
	OrderID    uint64
	Instrument instrument.Instrument
	Side       Side
	Price      price.Price32nd
	Quantity   uint64
	Remaining  uint64
	Sequence   uint64
	Timestamp  int64

	next, prev *Order
	level      *PriceLevel
	poolIdx    int32
}

// PriceLevel aggregates all orders resting at one price, in arrival
// order. OrderCount == 0 iff head == tail == nil, at which point the
// level is unlinked and released.
type PriceLevel struct {
	Price         price.Price32nd
	TotalQuantity uint64
	OrderCount    int

	head, tail *Order
	next, prev *PriceLevel
	poolIdx    int32
}

// UpdateType identifies the kind of mutation an OrderBookUpdate reports.
type UpdateType uint8

const (
	OrderAdded UpdateType = iota
	OrderCancelled
	OrderModified
	TradeExecuted
	LevelUpdated
)

// OrderBookUpdate is published to the outbound ring buffer after every
// successful mutation; its wire form is defined in internal/wire.
type OrderBookUpdate struct {
	Type       UpdateType
	OrderID    uint64
	Instrument instrument.Instrument
	Side       Side
	Price      price.Price32nd
	Quantity   uint64
	Timestamp  int64
}

// Stats is a point-in-time snapshot of book-level counters.
type Stats struct {
	TotalOrders      int
	TotalBidLevels   int
	TotalAskLevels   int
	TradesProcessed  uint64
	UpdatesPublished uint64
	UpdatesDropped   uint64
}

// Config bounds an OrderBook's fixed-capacity resources.
type Config struct {
	Instrument      instrument.Instrument
	OrderCapacity   int
	LevelCapacity   int
	RingCapacity    int
	PublishEveryK   int // publish every k-th update; 1 publishes every update
}

// OrderBook is a single instrument's price-time-priority book. All
// mutating methods are total functions that report success as a bool
// and never allocate once constructed.
type OrderBook struct {
	instrument instrument.Instrument

	orderPool *pool.Pool[Order]
	levelPool *pool.Pool[PriceLevel]
	index     *idIndex

	bidHead *PriceLevel
	askHead *PriceLevel

	sequence      uint64
	publishEveryK int
	publishSkip   int

	ring *ringbuffer.RingBuffer[OrderBookUpdate]

	bidLevels int
	askLevels int
	trades    uint64
	published uint64
	dropped   uint64

	metrics *telemetry.Metrics
	logger  *zap.Logger
}

// New constructs an OrderBook with all pools and the ring buffer
// pre-allocated at cfg's capacities; nothing it does afterward grows
// them. metrics may be nil (e.g. in benchmarks and unit tests), in
// which case no series are observed.
func New(cfg Config, metrics *telemetry.Metrics, logger *zap.Logger) *OrderBook {
	k := cfg.PublishEveryK
	if k < 1 {
		k = 1
	}
	return &OrderBook{
		instrument:    cfg.Instrument,
		orderPool:     pool.New[Order](cfg.OrderCapacity),
		levelPool:     pool.New[PriceLevel](cfg.LevelCapacity),
		index:         newIDIndex(cfg.OrderCapacity),
		publishEveryK: k,
		ring:          ringbuffer.New[OrderBookUpdate](cfg.RingCapacity),
		metrics:       metrics,
		logger:        logger,
	}
}

// observeOpLatency records a mutating operation's latency, if metrics
// are configured.
func (b *OrderBook) observeOpLatency(start time.Time) {
	if b.metrics != nil {
		b.metrics.OrderBookOpLatencyNs.Observe(float64(time.Since(start).Nanoseconds()))
	}
}

// recordPoolExhausted tallies an Acquire() call that found its pool
// exhausted.
func (b *OrderBook) recordPoolExhausted() {
	if b.metrics != nil {
		b.metrics.RecordPoolExhausted()
	}
}

// GetBestBid returns the best bid price and its aggregate quantity, or
// (zero, 0, false) if the bid side is empty.
func (b *OrderBook) GetBestBid() (price.Price32nd, uint64, bool) {
	if b.bidHead == nil {
		return price.Zero, 0, false
	}
	return b.bidHead.Price, b.bidHead.TotalQuantity, true
}

// GetBestAsk returns the best ask price and its aggregate quantity, or
// (zero, 0, false) if the ask side is empty.
func (b *OrderBook) GetBestAsk() (price.Price32nd, uint64, bool) {
	if b.askHead == nil {
		return price.Zero, 0, false
	}
	return b.askHead.Price, b.askHead.TotalQuantity, true
}

// DepthEntry is one rung of a get_market_depth ladder.
type DepthEntry struct {
	Price         price.Price32nd
	TotalQuantity uint64
	OrderCount    int
}

// GetMarketDepth returns up to k ladder entries on side, best price
// first.
func (b *OrderBook) GetMarketDepth(side Side, k int) []DepthEntry {
	var head *PriceLevel
	if side == Bid {
		head = b.bidHead
	} else {
		head = b.askHead
	}

	out := make([]DepthEntry, 0, k)
	for lvl := head; lvl != nil && len(out) < k; lvl = lvl.next {
		out = append(out, DepthEntry{
			Price:         lvl.Price,
			TotalQuantity: lvl.TotalQuantity,
			OrderCount:    lvl.OrderCount,
		})
	}
	return out
}

// AddOrder inserts a new resting order. Rejects order_id == 0,
// quantity == 0, an order_id already present, or the pool being
// exhausted.
func (b *OrderBook) AddOrder(orderID uint64, side Side, p price.Price32nd, qty uint64) bool {
	start := time.Now()
	defer b.observeOpLatency(start)

	if orderID == 0 || qty == 0 {
		return false
	}
	if _, exists := b.index.Get(orderID); exists {
		return false
	}

	slot, slotIdx, ok := b.orderPool.Acquire()
	if !ok {
		b.recordPoolExhausted()
		return false
	}

	b.sequence++
	slot.OrderID = orderID
	slot.Instrument = b.instrument
	slot.Side = side
	slot.Price = p
	slot.Quantity = qty
	slot.Remaining = qty
	slot.Sequence = b.sequence
	slot.Timestamp = time.Now().UnixNano()
	slot.next, slot.prev, slot.level = nil, nil, nil
	slot.poolIdx = slotIdx

	level := b.findOrCreateLevel(side, p)
	if level == nil {
		b.orderPool.Release(slotIdx)
		return false
	}
	appendOrderToLevel(level, slot)
	b.index.Put(orderID, slot)

	b.publish(OrderBookUpdate{
		Type: OrderAdded, OrderID: orderID, Instrument: b.instrument,
		Side: side, Price: p, Quantity: qty, Timestamp: slot.Timestamp,
	})
	return true
}

// findOrCreateLevel locates the level for (side, p), creating one if
// necessary and splicing it into the ladder so bids remain strictly
// descending and asks strictly ascending.
func (b *OrderBook) findOrCreateLevel(side Side, p price.Price32nd) *PriceLevel {
	var head **PriceLevel
	if side == Bid {
		head = &b.bidHead
	} else {
		head = &b.askHead
	}

	better := func(a, c price.Price32nd) bool {
		if side == Bid {
			return a.Compare(c) > 0
		}
		return a.Compare(c) < 0
	}

	var prev *PriceLevel
	cur := *head
	for cur != nil {
		if cur.Price.Equal(p) {
			return cur
		}
		if better(p, cur.Price) {
			break
		}
		prev = cur
		cur = cur.next
	}

	lvl, lvlIdx, ok := b.levelPool.Acquire()
	if !ok {
		b.recordPoolExhausted()
		return nil
	}
	lvl.Price = p
	lvl.TotalQuantity = 0
	lvl.OrderCount = 0
	lvl.head, lvl.tail = nil, nil
	lvl.next, lvl.prev = cur, prev
	lvl.poolIdx = lvlIdx

	if prev == nil {
		*head = lvl
	} else {
		prev.next = lvl
	}
	if cur != nil {
		cur.prev = lvl
	}

	if side == Bid {
		b.bidLevels++
	} else {
		b.askLevels++
	}
	return lvl
}

func appendOrderToLevel(lvl *PriceLevel, o *Order) {
	o.level = lvl
	o.prev = lvl.tail
	o.next = nil
	if lvl.tail != nil {
		lvl.tail.next = o
	} else {
		lvl.head = o
	}
	lvl.tail = o
	lvl.TotalQuantity += o.Remaining
	lvl.OrderCount++
}

func unlinkOrderFromLevel(lvl *PriceLevel, o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		lvl.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		lvl.tail = o.prev
	}
	lvl.TotalQuantity -= o.Remaining
	lvl.OrderCount--
	o.next, o.prev, o.level = nil, nil, nil
}

// unlinkLevel removes lvl from its ladder and, if it was the cached
// head of its side, advances the head to its successor.
func (b *OrderBook) unlinkLevel(side Side, lvl *PriceLevel) {
	if lvl.prev != nil {
		lvl.prev.next = lvl.next
	}
	if lvl.next != nil {
		lvl.next.prev = lvl.prev
	}

	if side == Bid {
		if b.bidHead == lvl {
			b.bidHead = lvl.next
		}
		b.bidLevels--
	} else {
		if b.askHead == lvl {
			b.askHead = lvl.next
		}
		b.askLevels--
	}
	lvl.next, lvl.prev = nil, nil
}

// CancelOrder removes the order with the given id. Returns false if the
// id is unknown.
func (b *OrderBook) CancelOrder(orderID uint64) bool {
	start := time.Now()
	defer b.observeOpLatency(start)

	o, ok := b.index.Get(orderID)
	if !ok {
		return false
	}
	lvl := o.level
	side := o.Side
	unlinkOrderFromLevel(lvl, o)
	b.index.Delete(orderID)
	b.releaseOrder(o)

	if lvl.OrderCount == 0 {
		b.unlinkLevel(side, lvl)
		b.releaseLevel(lvl)
	}

	b.publish(OrderBookUpdate{
		Type: OrderCancelled, OrderID: orderID, Instrument: b.instrument,
		Side: side, Timestamp: time.Now().UnixNano(),
	})
	return true
}

// ModifyOrder is semantically cancel-then-add with a fresh arrival
// sequence: time priority at the new price is always lost, even if the
// price is unchanged, per the documented contract.
func (b *OrderBook) ModifyOrder(orderID uint64, newPrice price.Price32nd, newQty uint64) bool {
	start := time.Now()
	defer b.observeOpLatency(start)

	if newQty == 0 {
		return false
	}
	o, ok := b.index.Get(orderID)
	if !ok {
		return false
	}
	side := o.Side
	if !b.CancelOrder(orderID) {
		return false
	}
	if !b.AddOrder(orderID, side, newPrice, newQty) {
		return false
	}
	b.publish(OrderBookUpdate{
		Type: OrderModified, OrderID: orderID, Instrument: b.instrument,
		Side: side, Price: newPrice, Quantity: newQty, Timestamp: time.Now().UnixNano(),
	})
	return true
}

// ProcessTrade consumes resting orders on side at levels that match at
// exactly price, in time priority, up to qty. Returns the number of
// distinct orders touched (fully or partially filled). A trade that
// exceeds a level's liquidity stops there; it never walks past levels
// at a different price.
func (b *OrderBook) ProcessTrade(p price.Price32nd, qty uint64, side Side) int {
	start := time.Now()
	defer b.observeOpLatency(start)

	var head **PriceLevel
	if side == Bid {
		head = &b.bidHead
	} else {
		head = &b.askHead
	}

	lvl := *head
	for lvl != nil && !lvl.Price.Equal(p) {
		lvl = lvl.next
	}
	if lvl == nil {
		return 0
	}

	touched := 0
	remaining := qty
	o := lvl.head
	for o != nil && remaining > 0 {
		next := o.next
		fill := remaining
		if o.Remaining < fill {
			fill = o.Remaining
		}
		o.Remaining -= fill
		lvl.TotalQuantity -= fill
		remaining -= fill
		touched++

		if o.Remaining == 0 {
			unlinkOrderFromLevel(lvl, o)
			b.index.Delete(o.OrderID)
			b.releaseOrder(o)
		}
		o = next
	}
	b.trades++

	if lvl.OrderCount == 0 {
		b.unlinkLevel(side, lvl)
		b.releaseLevel(lvl)
	}

	b.publish(OrderBookUpdate{
		Type: TradeExecuted, Instrument: b.instrument, Side: side,
		Price: p, Quantity: qty - remaining, Timestamp: time.Now().UnixNano(),
	})
	return touched
}

func (b *OrderBook) releaseOrder(o *Order) {
	b.orderPool.Release(o.poolIdx)
}

func (b *OrderBook) releaseLevel(lvl *PriceLevel) {
	b.levelPool.Release(lvl.poolIdx)
}

func (b *OrderBook) publish(u OrderBookUpdate) {
	b.publishSkip++
	if b.publishSkip < b.publishEveryK {
		return
	}
	b.publishSkip = 0
	if b.ring.TryPush(u) {
		b.published++
	} else {
		b.dropped++
		if b.metrics != nil {
			b.metrics.RecordRingBufferDropped()
		}
		if b.logger != nil {
			b.logger.Debug("order book update dropped: ring buffer full",
				zap.Uint8("instrument", uint8(b.instrument)))
		}
	}
}

// Ring exposes the outbound update stream for a downstream consumer.
func (b *OrderBook) Ring() *ringbuffer.RingBuffer[OrderBookUpdate] {
	return b.ring
}

// Reset returns all outstanding orders and levels to their pools and
// clears both ladders. Statistics counters are not reset.
func (b *OrderBook) Reset() {
	b.orderPool.Reset()
	b.levelPool.Reset()
	b.index.Reset()
	b.bidHead, b.askHead = nil, nil
	b.bidLevels, b.askLevels = 0, 0
}

// GetStats returns book-level counters.
func (b *OrderBook) GetStats() Stats {
	return Stats{
		TotalOrders:      b.index.Count(),
		TotalBidLevels:   b.bidLevels,
		TotalAskLevels:   b.askLevels,
		TradesProcessed:  b.trades,
		UpdatesPublished: b.published,
		UpdatesDropped:   b.dropped,
	}
}
