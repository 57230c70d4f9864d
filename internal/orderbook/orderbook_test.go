package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/abdoElHodaky/ust-mm/internal/instrument"
	"github.com/abdoElHodaky/ust-mm/internal/price"
	"github.com/abdoElHodaky/ust-mm/internal/telemetry"
)

func newTestBook(t *testing.T) *OrderBook {
	return New(Config{
		Instrument:    instrument.Note10Y,
		OrderCapacity: 64,
		LevelCapacity: 16,
		RingCapacity:  64,
		PublishEveryK: 1,
	}, nil, zaptest.NewLogger(t))
}

func TestOrderBook_EmptyBookSingleBid(t *testing.T) {
	b := newTestBook(t)
	p := price.FromDecimal(99.5)

	require.True(t, b.AddOrder(1, Bid, p, 1_000_000))

	bidPrice, bidQty, ok := b.GetBestBid()
	require.True(t, ok)
	assert.True(t, bidPrice.Equal(p))
	assert.Equal(t, uint64(1_000_000), bidQty)

	_, _, askOk := b.GetBestAsk()
	assert.False(t, askOk)

	stats := b.GetStats()
	assert.Equal(t, 1, stats.TotalBidLevels)
	assert.Equal(t, 1, stats.TotalOrders)
}

func TestOrderBook_SamePriceFIFOAggregation(t *testing.T) {
	b := newTestBook(t)
	p := price.FromDecimal(99.5)

	require.True(t, b.AddOrder(1, Bid, p, 500_000))
	require.True(t, b.AddOrder(2, Bid, p, 300_000))
	require.True(t, b.AddOrder(3, Bid, p, 200_000))

	_, qty, _ := b.GetBestBid()
	assert.Equal(t, uint64(1_000_000), qty)

	depth := b.GetMarketDepth(Bid, 1)
	require.Len(t, depth, 1)
	assert.Equal(t, 3, depth[0].OrderCount)

	require.True(t, b.CancelOrder(2))
	_, qty, _ = b.GetBestBid()
	assert.Equal(t, uint64(700_000), qty)

	depth = b.GetMarketDepth(Bid, 1)
	assert.Equal(t, 2, depth[0].OrderCount)

	// FIFO order within the level is now [1, 3].
	head := b.bidHead.head
	require.NotNil(t, head)
	assert.Equal(t, uint64(1), head.OrderID)
	require.NotNil(t, head.next)
	assert.Equal(t, uint64(3), head.next.OrderID)
}

func TestOrderBook_TimePriorityTradeSweep(t *testing.T) {
	b := newTestBook(t)
	p := price.FromDecimal(100.0)

	require.True(t, b.AddOrder(1, Ask, p, 300_000))
	require.True(t, b.AddOrder(2, Ask, p, 500_000))
	require.True(t, b.AddOrder(3, Ask, p, 200_000))

	touched := b.ProcessTrade(p, 600_000, Ask)
	assert.Equal(t, 2, touched)

	_, ok := b.index.Get(1)
	assert.False(t, ok, "order 1 should be fully consumed and removed")

	o2, ok := b.index.Get(2)
	require.True(t, ok)
	assert.Equal(t, uint64(200_000), o2.Remaining)

	o3, ok := b.index.Get(3)
	require.True(t, ok)
	assert.Equal(t, uint64(200_000), o3.Remaining)

	_, askQty, _ := b.GetBestAsk()
	assert.Equal(t, uint64(400_000), askQty)
}

func TestOrderBook_RejectsDuplicateZeroAndUnknownCancel(t *testing.T) {
	b := newTestBook(t)
	p := price.FromDecimal(99.5)

	assert.False(t, b.AddOrder(0, Bid, p, 1000), "order id 0 must be rejected")
	assert.False(t, b.AddOrder(1, Bid, p, 0), "zero quantity must be rejected")

	require.True(t, b.AddOrder(1, Bid, p, 1000))
	assert.False(t, b.AddOrder(1, Bid, p, 1000), "duplicate id must be rejected")

	assert.False(t, b.CancelOrder(999), "cancelling an unknown id must fail")
}

func TestOrderBook_NeverCrossed(t *testing.T) {
	b := newTestBook(t)
	require.True(t, b.AddOrder(1, Bid, price.FromDecimal(99.5), 1_000_000))
	require.True(t, b.AddOrder(2, Ask, price.FromDecimal(100.0), 1_000_000))

	bidPrice, _, _ := b.GetBestBid()
	askPrice, _, _ := b.GetBestAsk()
	assert.True(t, bidPrice.Less(askPrice))
}

func TestOrderBook_ModifyLosesTimePriority(t *testing.T) {
	b := newTestBook(t)
	p := price.FromDecimal(99.5)

	require.True(t, b.AddOrder(1, Bid, p, 500_000))
	require.True(t, b.AddOrder(2, Bid, p, 500_000))

	require.True(t, b.ModifyOrder(1, p, 700_000))

	depth := b.GetMarketDepth(Bid, 1)
	require.Len(t, depth, 1)
	assert.Equal(t, uint64(1_200_000), depth[0].TotalQuantity)

	o1, ok := b.index.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint64(700_000), o1.Remaining)

	// The modified order now queues behind order 2.
	head := b.bidHead.head
	require.NotNil(t, head)
	assert.Equal(t, uint64(2), head.OrderID)
	assert.Equal(t, uint64(1), head.next.OrderID)
}

func TestOrderBook_AddCancelRoundTripRestoresPoolAvailability(t *testing.T) {
	b := newTestBook(t)
	p := price.FromDecimal(99.5)
	startAvail := b.orderPool.Available()

	require.True(t, b.AddOrder(1, Bid, p, 1000))
	require.True(t, b.CancelOrder(1))

	assert.Equal(t, startAvail, b.orderPool.Available())
	assert.True(t, b.orderPool.ValidateMemory())
}

func TestOrderBook_ResetClearsBook(t *testing.T) {
	b := newTestBook(t)
	p := price.FromDecimal(99.5)
	require.True(t, b.AddOrder(1, Bid, p, 1000))
	require.True(t, b.AddOrder(2, Ask, price.FromDecimal(100.0), 1000))

	b.Reset()

	_, _, bidOk := b.GetBestBid()
	_, _, askOk := b.GetBestAsk()
	assert.False(t, bidOk)
	assert.False(t, askOk)
	assert.Equal(t, 0, b.GetStats().TotalOrders)
}

func TestOrderBook_PoolExhaustionRejectsAdd(t *testing.T) {
	metrics := telemetry.New()
	b := New(Config{
		Instrument:    instrument.Note10Y,
		OrderCapacity: 2,
		LevelCapacity: 16,
		RingCapacity:  64,
		PublishEveryK: 1,
	}, metrics, zaptest.NewLogger(t))

	require.True(t, b.AddOrder(1, Bid, price.FromDecimal(99.5), 1000))
	require.True(t, b.AddOrder(2, Bid, price.FromDecimal(99.0), 1000))
	assert.False(t, b.AddOrder(3, Bid, price.FromDecimal(98.5), 1000))

	assert.Equal(t, uint64(1), metrics.Snapshot().PoolExhausted)
}
