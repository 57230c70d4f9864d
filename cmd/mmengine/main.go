// Command mmengine is the composition root for the market-making
// engine: it wires configuration, the per-instrument order books, the
// risk state, the fair-curve feed, the decision engine, the quote
// manager, and the auxiliary loops together using go.uber.org/fx.
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/ust-mm/internal/aux"
	"github.com/abdoElHodaky/ust-mm/internal/config"
	"github.com/abdoElHodaky/ust-mm/internal/decision"
	"github.com/abdoElHodaky/ust-mm/internal/fairvalue"
	"github.com/abdoElHodaky/ust-mm/internal/instrument"
	"github.com/abdoElHodaky/ust-mm/internal/orderbook"
	"github.com/abdoElHodaky/ust-mm/internal/quotemanager"
	"github.com/abdoElHodaky/ust-mm/internal/riskstate"
	"github.com/abdoElHodaky/ust-mm/internal/telemetry"
)

func main() {
	runID := uuid.New().String()

	app := fx.New(
		fx.Supply(runID),
		fx.Provide(loadConfig),
		fx.Provide(newLogger),
		fx.Provide(telemetry.New),
		fx.Provide(newRiskState),
		fx.Provide(fairvalue.NewCurve),
		fx.Provide(newFairValueFeed),
		fx.Provide(newOrderBooks),
		fx.Provide(newDecisionEngine),
		fx.Provide(newQuoteManager),
		fx.Provide(newAuxRunner),
		fx.Invoke(registerMetricsServer),
		fx.Invoke(startAuxRunner),
		fx.Invoke(logStartup),
	)

	app.Run()
}

func loadConfig() (*config.Config, error) {
	return config.Load("")
}

func newLogger(c *config.Config) (*zap.Logger, error) {
	return config.InitLogger(c)
}

func newRiskState(c *config.Config) *riskstate.State {
	return riskstate.New(riskstate.Config{
		PositionCap:         c.Risk.PositionCap,
		DailyLossCap:        c.Risk.DailyLossCap,
		OrderRateCap:        c.Risk.OrderRateCap,
		DV01Cap:             c.Risk.DV01Cap,
		PerMillionDV01:      c.Risk.PerMillionDV01,
		RiskRefreshInterval: c.Risk.RiskRefresh,
		VaRConfidence:       c.Risk.VaRConfidence,
	})
}

func newFairValueFeed(curve *fairvalue.Curve) *fairvalue.Feed {
	return fairvalue.NewFeed(curve, 5*time.Minute)
}

func newOrderBooks(c *config.Config, metrics *telemetry.Metrics, logger *zap.Logger) [instrument.Count]*orderbook.OrderBook {
	var books [instrument.Count]*orderbook.OrderBook
	for i := 0; i < instrument.Count; i++ {
		books[i] = orderbook.New(orderbook.Config{
			Instrument:    instrument.Instrument(i),
			OrderCapacity: c.Pools.OrderCapacity,
			LevelCapacity: c.Pools.LevelCapacity,
			RingCapacity:  c.RingBuffer.Capacity,
			PublishEveryK: c.RingBuffer.PublishEveryK,
		}, metrics, logger)
	}
	return books
}

func newDecisionEngine(c *config.Config, risk *riskstate.State, curve *fairvalue.Curve, metrics *telemetry.Metrics, logger *zap.Logger) *decision.Engine {
	return decision.New(decision.Config{
		BaseSpreadBps:            c.Decision.BaseSpreadBps,
		InventoryPenaltyBps:      c.Decision.InventoryPenaltyBps,
		InventoryScale:           c.Decision.InventoryScale,
		BaseSizeUSD:              c.Decision.BaseSizeUSD,
		MinQuoteSize:             c.Quote.MinQuoteSize,
		ImbalanceCoefficient:     c.Decision.ImbalanceCoefficient,
		MomentumCoefficient:      c.Decision.MomentumCoefficient,
		FairValueCoefficient:     c.Decision.FairValueCoefficient,
		SessionLength:            c.Decision.SessionLength,
		PriceChangeThreshold32nd: c.Decision.PriceChangeThreshold32nd,
		PositionCap:              c.Risk.PositionCap,
		DailyLossCap:             c.Risk.DailyLossCap,
		OrderRateCap:             c.Risk.OrderRateCap,
		DV01Cap:                  c.Risk.DV01Cap,
		PerMillionDV01:           c.Risk.PerMillionDV01,
		Phase1BudgetNs:           c.Decision.Phase1BudgetNs,
		Phase2BudgetNs:           c.Decision.Phase2BudgetNs,
		Phase3BudgetNs:           c.Decision.Phase3BudgetNs,
	}, risk, curve, metrics, logger, nil)
}

func newQuoteManager(c *config.Config, books [instrument.Count]*orderbook.OrderBook, metrics *telemetry.Metrics, logger *zap.Logger) *quotemanager.Manager {
	return quotemanager.New(quotemanager.Config{
		MinSize:                  uint64(c.Quote.MinQuoteSize),
		MaxSize:                  uint64(c.Quote.MaxQuoteSize),
		MinSpread32nd:            c.Quote.MinSpread32nds,
		PriceChangeThreshold32nd: c.Decision.PriceChangeThreshold32nd,
		SizeChangeThreshold:      c.Decision.SizeChangeThreshold,
		RateLimitInterval:        c.Quote.RateLimitInterval,
	}, books, metrics, logger, nil)
}

func newAuxRunner(c *config.Config, risk *riskstate.State, feed *fairvalue.Feed, logger *zap.Logger) (*aux.Runner, error) {
	return aux.New(aux.Config{
		PoolSize:               c.Aux.PoolSize,
		FillQueueCapacity:      c.Aux.FillQueueCapacity,
		RiskRefreshInterval:    c.Risk.RiskRefresh,
		FairCurveFlushInterval: c.Aux.FairCurveFlushInterval,
		BreakerMaxRequests:     c.Aux.BreakerMaxRequests,
		BreakerInterval:        c.Aux.BreakerInterval,
		BreakerTimeout:         c.Aux.BreakerTimeout,
	}, risk, feed, logger)
}

func registerMetricsServer(lc fx.Lifecycle, c *config.Config, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", c.Monitoring.PrometheusPort),
		Handler: mux,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting metrics server", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping metrics server")
			return srv.Shutdown(ctx)
		},
	})
}

func startAuxRunner(lc fx.Lifecycle, runner *aux.Runner, logger *zap.Logger) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go runner.Run(ctx)
			logger.Info("auxiliary loops started")
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}

func logStartup(runID string, logger *zap.Logger, books [instrument.Count]*orderbook.OrderBook) {
	logger.Info("market-making engine initialized",
		zap.String("run_id", runID),
		zap.Int("instruments", len(books)))
}
