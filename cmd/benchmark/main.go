// Command benchmark microbenchmarks the hot path: order book mutation,
// the decision engine's Decide call, and a full quote-manager
// validate+place cycle, reporting ops/sec and latency percentiles.
package main

import (
	"fmt"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/ust-mm/internal/decision"
	"github.com/abdoElHodaky/ust-mm/internal/fairvalue"
	"github.com/abdoElHodaky/ust-mm/internal/instrument"
	"github.com/abdoElHodaky/ust-mm/internal/orderbook"
	"github.com/abdoElHodaky/ust-mm/internal/price"
	"github.com/abdoElHodaky/ust-mm/internal/quotemanager"
	"github.com/abdoElHodaky/ust-mm/internal/riskstate"
)

// Result is one benchmark's summary statistics.
type Result struct {
	Name         string
	Operations   int
	Duration     time.Duration
	OpsPerSecond float64
	AvgLatency   time.Duration
	MinLatency   time.Duration
	MaxLatency   time.Duration
	P95Latency   time.Duration
	P99Latency   time.Duration
	AllocsPerOp  int64
}

func run(name string, iterations int, op func()) Result {
	for i := 0; i < 100; i++ {
		op()
	}
	runtime.GC()

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)

	latencies := make([]time.Duration, iterations)
	start := time.Now()
	for i := 0; i < iterations; i++ {
		opStart := time.Now()
		op()
		latencies[i] = time.Since(opStart)
	}
	duration := time.Since(start)

	runtime.ReadMemStats(&after)

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	return Result{
		Name:         name,
		Operations:   iterations,
		Duration:     duration,
		OpsPerSecond: float64(iterations) / duration.Seconds(),
		AvgLatency:   duration / time.Duration(iterations),
		MinLatency:   latencies[0],
		MaxLatency:   latencies[len(latencies)-1],
		P95Latency:   latencies[int(float64(len(latencies))*0.95)],
		P99Latency:   latencies[int(float64(len(latencies))*0.99)],
		AllocsPerOp:  int64(after.Mallocs-before.Mallocs) / int64(iterations),
	}
}

func report(logger *zap.Logger, r Result) {
	logger.Info("benchmark completed",
		zap.String("name", r.Name),
		zap.Float64("ops_per_second", r.OpsPerSecond),
		zap.Duration("avg_latency", r.AvgLatency),
		zap.Duration("p95_latency", r.P95Latency),
		zap.Duration("p99_latency", r.P99Latency),
		zap.Int64("allocs_per_op", r.AllocsPerOp))
}

func benchmarkOrderBookAddCancel(logger *zap.Logger) {
	book := orderbook.New(orderbook.Config{
		Instrument: instrument.Note10Y, OrderCapacity: 1 << 16, LevelCapacity: 1 << 12,
		RingCapacity: 1 << 16, PublishEveryK: 1,
	}, nil, logger)

	var id uint64
	p := price.FromDecimal(99.5)
	r := run("orderbook.AddOrder+CancelOrder", 200_000, func() {
		id++
		book.AddOrder(id, orderbook.Bid, p, 1_000_000)
		book.CancelOrder(id)
	})
	report(logger, r)
}

func benchmarkDecisionEngine(logger *zap.Logger) {
	var dv01 [instrument.Count]float64
	dv01[instrument.Note10Y] = 90
	risk := riskstate.New(riskstate.Config{
		PositionCap: 50_000_000, DailyLossCap: 500_000, OrderRateCap: 1_000_000,
		DV01Cap: 250_000, PerMillionDV01: dv01, RiskRefreshInterval: time.Millisecond, VaRConfidence: 0.95,
	})
	curve := fairvalue.NewCurve()
	engine := decision.New(decision.Config{
		BaseSpreadBps: 2, InventoryPenaltyBps: 0.5, InventoryScale: 10_000_000,
		BaseSizeUSD: 5_000_000, MinQuoteSize: 100_000, ImbalanceCoefficient: 0.01,
		MomentumCoefficient: 0.05, FairValueCoefficient: -0.1, SessionLength: 6 * time.Hour,
		PriceChangeThreshold32nd: 0.5, PositionCap: 50_000_000, DailyLossCap: 500_000,
		OrderRateCap: 1_000_000, DV01Cap: 250_000, PerMillionDV01: dv01,
		Phase1BudgetNs: 400, Phase2BudgetNs: 600, Phase3BudgetNs: 200,
	}, risk, curve, nil, nil, nil)

	update := decision.MarketUpdate{
		Instrument: instrument.Note10Y,
		BestBid:    price.FromDecimal(99.5),
		BestAsk:    price.FromDecimal(99.53125),
		BidSize:    1_000_000,
		AskSize:    1_100_000,
	}

	r := run("decision.Engine.Decide", 200_000, func() {
		engine.Decide(update)
	})
	report(logger, r)
}

func benchmarkQuoteManager(logger *zap.Logger) {
	book := orderbook.New(orderbook.Config{
		Instrument: instrument.Note10Y, OrderCapacity: 1 << 12, LevelCapacity: 1 << 8,
		RingCapacity: 1 << 12, PublishEveryK: 1,
	}, nil, logger)
	var books [instrument.Count]*orderbook.OrderBook
	books[instrument.Note10Y] = book

	mgr := quotemanager.New(quotemanager.Config{
		MinSize: 100_000, MaxSize: 50_000_000, MinSpread32nd: 1,
		PriceChangeThreshold32nd: 0.5, SizeChangeThreshold: 0.10,
		RateLimitInterval: time.Nanosecond, // effectively unthrottled, for pure throughput measurement
	}, books, nil, logger, nil)

	bid, ask := price.FromDecimal(99.5), price.FromDecimal(99.53125)
	toggle := false
	r := run("quotemanager.ProcessQuoteUpdate", 50_000, func() {
		toggle = !toggle
		req := quotemanager.QuoteRequest{Instrument: instrument.Note10Y, BidPrice: bid, AskPrice: ask, BidSize: 1_000_000, AskSize: 1_000_000}
		if toggle {
			req.BidSize, req.AskSize = 1_200_000, 1_200_000
		}
		mgr.ProcessQuoteUpdate(req)
	})
	report(logger, r)
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("starting hot-path microbenchmarks")
	benchmarkOrderBookAddCancel(logger)
	benchmarkDecisionEngine(logger)
	benchmarkQuoteManager(logger)
	fmt.Println("benchmarks complete; see structured log output above")
}
