package aux

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/abdoElHodaky/ust-mm/internal/fairvalue"
	"github.com/abdoElHodaky/ust-mm/internal/instrument"
	"github.com/abdoElHodaky/ust-mm/internal/riskstate"
)

func testConfig() Config {
	return Config{
		PoolSize:               4,
		FillQueueCapacity:      16,
		RiskRefreshInterval:    5 * time.Millisecond,
		FairCurveFlushInterval: 5 * time.Millisecond,
		BreakerMaxRequests:     5,
		BreakerInterval:        time.Second,
		BreakerTimeout:         time.Second,
	}
}

func riskConfig() riskstate.Config {
	var dv01 [instrument.Count]float64
	dv01[instrument.Note10Y] = 90
	return riskstate.Config{
		PositionCap:         50_000_000,
		DailyLossCap:        500_000,
		OrderRateCap:        10_000,
		DV01Cap:             250_000,
		PerMillionDV01:      dv01,
		RiskRefreshInterval: time.Millisecond,
		VaRConfidence:       0.95,
	}
}

func TestSubmitFill_ProcessesPositionUpdate(t *testing.T) {
	risk := riskstate.New(riskConfig())
	curve := fairvalue.NewCurve()
	feed := fairvalue.NewFeed(curve, time.Minute)
	r, err := New(testConfig(), risk, feed, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.True(t, r.SubmitFill(Fill{Instrument: int(instrument.Note10Y), SignedQty: 1_000_000, Price: 100.0}))

	require.Eventually(t, func() bool {
		return risk.GetPosition(instrument.Note10Y) == 1_000_000
	}, time.Second, time.Millisecond)
}

func TestEmergencyStop_SuppressesFillProcessing(t *testing.T) {
	risk := riskstate.New(riskConfig())
	curve := fairvalue.NewCurve()
	feed := fairvalue.NewFeed(curve, time.Minute)
	r, err := New(testConfig(), risk, feed, zaptest.NewLogger(t))
	require.NoError(t, err)
	r.TripEmergencyStop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.True(t, r.SubmitFill(Fill{Instrument: int(instrument.Note10Y), SignedQty: 1_000_000, Price: 100.0}))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int64(0), risk.GetPosition(instrument.Note10Y))
}

func TestResetEmergencyStop_ResumesProcessing(t *testing.T) {
	risk := riskstate.New(riskConfig())
	curve := fairvalue.NewCurve()
	feed := fairvalue.NewFeed(curve, time.Minute)
	r, err := New(testConfig(), risk, feed, zaptest.NewLogger(t))
	require.NoError(t, err)
	r.TripEmergencyStop()
	r.ResetEmergencyStop()
	assert.False(t, r.EmergencyStopped())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.True(t, r.SubmitFill(Fill{Instrument: int(instrument.Note10Y), SignedQty: 1_000_000, Price: 100.0}))
	require.Eventually(t, func() bool {
		return risk.GetPosition(instrument.Note10Y) == 1_000_000
	}, time.Second, time.Millisecond)
}

func TestSubmitFill_RejectsWhenQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.FillQueueCapacity = 1
	risk := riskstate.New(riskConfig())
	curve := fairvalue.NewCurve()
	feed := fairvalue.NewFeed(curve, time.Minute)
	r, err := New(cfg, risk, feed, zaptest.NewLogger(t))
	require.NoError(t, err)
	// No Run loop draining the channel: fill it, then overflow it.
	require.True(t, r.SubmitFill(Fill{Instrument: int(instrument.Note10Y)}))
	assert.False(t, r.SubmitFill(Fill{Instrument: int(instrument.Note10Y)}))
}
