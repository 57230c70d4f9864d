package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/ust-mm/internal/fairvalue"
	"github.com/abdoElHodaky/ust-mm/internal/instrument"
	"github.com/abdoElHodaky/ust-mm/internal/price"
	"github.com/abdoElHodaky/ust-mm/internal/riskstate"
)

func testConfig() Config {
	var dv01 [instrument.Count]float64
	dv01[instrument.Note10Y] = 90
	return Config{
		BaseSpreadBps:            4,
		InventoryPenaltyBps:      2,
		InventoryScale:           10_000_000,
		BaseSizeUSD:              5_000_000,
		MinQuoteSize:             100_000,
		ImbalanceCoefficient:     0.01,
		MomentumCoefficient:      0.05,
		FairValueCoefficient:     -0.1,
		SessionLength:            8 * time.Hour,
		PriceChangeThreshold32nd: 0.5,
		PositionCap:              50_000_000,
		DailyLossCap:             500_000,
		OrderRateCap:             10_000,
		DV01Cap:                  250_000,
		PerMillionDV01:           dv01,
		Phase1BudgetNs:           400,
		Phase2BudgetNs:           600,
		Phase3BudgetNs:           200,
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

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func baseUpdate() MarketUpdate {
	return MarketUpdate{
		Instrument: instrument.Note10Y,
		BestBid:    price.FromDecimal(99.5),
		BestAsk:    price.FromDecimal(99.53125),
		BidSize:    1_000_000,
		AskSize:    1_000_000,
	}
}

func TestDecide_DeterministicForIdenticalInputsAndState(t *testing.T) {
	risk := riskstate.New(riskConfig())
	curve := fairvalue.NewCurve()
	clock := fixedClock(time.Unix(0, 0))
	e := New(testConfig(), risk, curve, nil, nil, clock)

	u := baseUpdate()
	d1 := e.Decide(u)

	e2 := New(testConfig(), risk, curve, nil, nil, clock)
	e2.lastQuotes = e.lastQuotes // same prior-quote state
	d2 := e2.Decide(u)

	assert.Equal(t, d1.Action, d2.Action)
	assert.Equal(t, d1.BidPrice, d2.BidPrice)
	assert.Equal(t, d1.AskPrice, d2.AskPrice)
	assert.Equal(t, d1.BidSize, d2.BidSize)
	assert.Equal(t, d1.AskSize, d2.AskSize)
}

func TestDecide_PositionCapBreachForcesCancelRegardlessOfMarketData(t *testing.T) {
	risk := riskstate.New(riskConfig())
	risk.UpdatePosition(instrument.Note10Y, 50_000_000, 99.5) // at the cap
	curve := fairvalue.NewCurve()
	e := New(testConfig(), risk, curve, nil, nil, fixedClock(time.Unix(0, 0)))

	d := e.Decide(baseUpdate())
	require.Equal(t, CancelQuotes, d.Action)
}

func TestDecide_DailyLossCapForcesCancel(t *testing.T) {
	risk := riskstate.New(riskConfig())
	risk.UpdatePosition(instrument.Note10Y, 1_000_000, 100.0)
	risk.UpdatePosition(instrument.Note10Y, -1_000_000, 99.4) // realizes a large loss
	curve := fairvalue.NewCurve()
	e := New(testConfig(), risk, curve, nil, nil, fixedClock(time.Unix(0, 0)))

	d := e.Decide(baseUpdate())
	require.Equal(t, CancelQuotes, d.Action)
}

func TestDecide_FirstQuoteAlwaysUpdates(t *testing.T) {
	risk := riskstate.New(riskConfig())
	curve := fairvalue.NewCurve()
	e := New(testConfig(), risk, curve, nil, nil, fixedClock(time.Unix(0, 0)))

	d := e.Decide(baseUpdate())
	require.Equal(t, UpdateQuotes, d.Action)
	assert.True(t, d.BidPrice.Less(d.AskPrice))
	assert.True(t, d.BidPrice.IsAligned())
	assert.True(t, d.AskPrice.IsAligned())
}

func TestDecide_UnchangedMarketProducesNoActionOnSecondCall(t *testing.T) {
	risk := riskstate.New(riskConfig())
	curve := fairvalue.NewCurve()
	e := New(testConfig(), risk, curve, nil, nil, fixedClock(time.Unix(0, 0)))

	u := baseUpdate()
	first := e.Decide(u)
	require.Equal(t, UpdateQuotes, first.Action)

	second := e.Decide(u)
	assert.Equal(t, NoAction, second.Action)
}

func TestDecide_DV01BreachCancels(t *testing.T) {
	risk := riskstate.New(riskConfig())
	curve := fairvalue.NewCurve()
	cfg := testConfig()
	cfg.DV01Cap = 1 // any nonzero quote size now breaches the cap
	e := New(cfg, risk, curve, nil, nil, fixedClock(time.Unix(0, 0)))

	d := e.Decide(baseUpdate())
	assert.Equal(t, CancelQuotes, d.Action)
}

func TestDecide_FairValueReversionPullsQuoteTowardFairPrice(t *testing.T) {
	risk := riskstate.New(riskConfig())
	curve := fairvalue.NewCurve()
	var entries [instrument.Count]fairvalue.Entry
	entries[instrument.Note10Y] = fairvalue.Entry{FairPrice: 99.0, Valid: true}
	curve.Publish(entries)

	e := New(testConfig(), risk, curve, nil, nil, fixedClock(time.Unix(0, 0)))
	withFair := e.Decide(baseUpdate())

	e2 := New(testConfig(), risk, fairvalue.NewCurve(), nil, nil, fixedClock(time.Unix(0, 0)))
	withoutFair := e2.Decide(baseUpdate())

	require.Equal(t, UpdateQuotes, withFair.Action)
	require.Equal(t, UpdateQuotes, withoutFair.Action)
	assert.NotEqual(t, withFair.BidPrice, withoutFair.BidPrice, "a valid fair-value entry below mid should pull the quote down")
}
