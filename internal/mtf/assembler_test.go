package mtf

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stratcore/internal/candle"
	"stratcore/internal/indicator"
	"stratcore/internal/model"
)

func completedAt(symbol string, tf model.Timeframe, start time.Time, close float64) model.Candle {
	d := decimal.NewFromFloat(close)
	return model.Candle{
		Symbol: symbol, Exchange: "NSE", Timeframe: tf, Start: start,
		Open: d, High: d, Low: d, Close: d, Volume: 1,
	}
}

func newFixture() (*Assembler, *candle.Buffer, *candle.Aggregator) {
	buffer := candle.NewBuffer(100, nil)
	agg := candle.New(time.UTC, nil)
	engine := indicator.NewEngine(buffer.Last, nil, time.Minute)
	a := New(buffer, agg, engine, 50, 60*time.Second)
	return a, buffer, agg
}

func TestGetData_AssemblesHistoryFormingAndIndicators(t *testing.T) {
	a, buffer, agg := newFixture()
	ctx := context.Background()
	base := time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		buffer.Append(completedAt("RELIANCE", model.TF1m, base.Add(time.Duration(i)*time.Minute), 2880+float64(i)))
	}
	// A forming candle for minute 10:05.
	agg.ProcessTick(ctx, model.Tick{
		Symbol: "RELIANCE", Exchange: "NSE",
		Price: decimal.NewFromInt(2890), Volume: 1, TS: base.Add(5 * time.Minute),
	})

	data := a.GetData(ctx, "RELIANCE", []model.Timeframe{model.TF1m},
		[]IndicatorReq{{Name: "sma_fast", Type: "SMA", Params: map[string]float64{"period": 3}}})

	td := data.Timeframes[model.TF1m]
	if td == nil {
		t.Fatal("1m timeframe missing")
	}
	if len(td.Historical) != 5 {
		t.Errorf("historical: got %d, want 5", len(td.Historical))
	}
	if td.Forming == nil {
		t.Fatal("forming candle missing")
	}
	if !data.CurrentPrice.Equal(decimal.NewFromInt(2890)) {
		t.Errorf("current price: got %s, want 2890 (forming close)", data.CurrentPrice)
	}

	// SMA(3) over closes 2882, 2883, 2884.
	v := td.Indicators["sma_fast"]
	if v == nil {
		t.Fatal("indicator missing")
	}
	if v.Value != 2883.0 {
		t.Errorf("sma_fast: got %g, want 2883", v.Value)
	}
}

func TestGetData_CurrentPriceFromSmallestPopulatedTimeframe(t *testing.T) {
	a, buffer, _ := newFixture()
	ctx := context.Background()
	base := time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)

	// Only 5m has data; 1m is requested first but empty.
	buffer.Append(completedAt("TCS", model.TF5m, base, 4100))

	data := a.GetData(ctx, "TCS", []model.Timeframe{model.TF5m, model.TF1m}, nil)
	if !data.CurrentPrice.Equal(decimal.NewFromInt(4100)) {
		t.Errorf("current price: got %s, want 4100", data.CurrentPrice)
	}
}

func TestGetData_IndicatorFailureOmitsEntry(t *testing.T) {
	a, buffer, _ := newFixture()
	ctx := context.Background()
	base := time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)
	buffer.Append(completedAt("TCS", model.TF1m, base, 4100))

	// Period 50 with one bar of history cannot compute; the view still
	// assembles.
	data := a.GetData(ctx, "TCS", []model.Timeframe{model.TF1m},
		[]IndicatorReq{{Name: "slow", Type: "SMA", Params: map[string]float64{"period": 50}}})

	td := data.Timeframes[model.TF1m]
	if _, ok := td.Indicators["slow"]; ok {
		t.Error("failed indicator should be omitted")
	}
	if len(td.Historical) != 1 {
		t.Errorf("historical: got %d, want 1", len(td.Historical))
	}
}

func TestEnsureConsistency_RejectsEmptyView(t *testing.T) {
	a, _, _ := newFixture()
	data := a.GetData(context.Background(), "GHOST", []model.Timeframe{model.TF1m}, nil)
	if err := a.EnsureConsistency(data); err == nil {
		t.Error("expected error for empty view")
	}
}

func TestEnsureConsistency_FreshnessWindow(t *testing.T) {
	a, buffer, _ := newFixture()
	base := time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)
	buffer.Append(completedAt("TCS", model.TF1m, base, 4100))

	// Coverage ends at 10:01 (bucket end). 30s later is fresh.
	a.now = func() time.Time { return base.Add(time.Minute + 30*time.Second) }
	data := a.GetData(context.Background(), "TCS", []model.Timeframe{model.TF1m}, nil)
	if err := a.EnsureConsistency(data); err != nil {
		t.Errorf("fresh view rejected: %v", err)
	}

	// 2 minutes past coverage exceeds the 60s window.
	a.now = func() time.Time { return base.Add(3 * time.Minute) }
	if err := a.EnsureConsistency(data); err == nil {
		t.Error("stale view accepted")
	}
}

func TestEnsureConsistency_RejectsEmptyRequestedTimeframe(t *testing.T) {
	a, buffer, _ := newFixture()
	ctx := context.Background()
	base := time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)

	// 1m is fresh, but the requested 1h series has no candles at all.
	buffer.Append(completedAt("TCS", model.TF1m, base, 4100))
	a.now = func() time.Time { return base.Add(time.Minute + 10*time.Second) }

	data := a.GetData(ctx, "TCS", []model.Timeframe{model.TF1m, model.TF1h}, nil)
	if err := a.EnsureConsistency(data); err == nil {
		t.Error("view with an empty requested timeframe accepted")
	}
}

func TestEnsureConsistency_EveryTimeframeMustBeFresh(t *testing.T) {
	a, buffer, _ := newFixture()
	ctx := context.Background()
	base := time.Date(2026, 1, 6, 8, 0, 0, 0, time.UTC)

	// The last 1h bar completed hours ago; 1m data is current.
	buffer.Append(completedAt("TCS", model.TF1h, base, 4100))
	later := base.Add(4 * time.Hour)
	buffer.Append(completedAt("TCS", model.TF1m, later, 4105))
	a.now = func() time.Time { return later.Add(time.Minute + 10*time.Second) }

	data := a.GetData(ctx, "TCS", []model.Timeframe{model.TF1m, model.TF1h}, nil)
	if err := a.EnsureConsistency(data); err == nil {
		t.Error("view with a stale requested timeframe accepted")
	}
}

func TestEnsureConsistency_MidBucketFormingIsFresh(t *testing.T) {
	a, _, agg := newFixture()
	ctx := context.Background()
	base := time.Date(2026, 1, 6, 10, 0, 30, 0, time.UTC)

	agg.ProcessTick(ctx, model.Tick{
		Symbol: "TCS", Exchange: "NSE",
		Price: decimal.NewFromInt(4100), Volume: 1, TS: base,
	})

	// 40 minutes into the hour bucket: the forming 1h candle still covers now.
	a.now = func() time.Time { return base.Add(40 * time.Minute) }
	data := a.GetData(ctx, "TCS", []model.Timeframe{model.TF1h}, nil)
	if err := a.EnsureConsistency(data); err != nil {
		t.Errorf("mid-bucket forming candle rejected: %v", err)
	}
}

func TestEnsureConsistency_FormingCandleCountsAsCoverage(t *testing.T) {
	a, _, agg := newFixture()
	ctx := context.Background()
	base := time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)

	agg.ProcessTick(ctx, model.Tick{
		Symbol: "TCS", Exchange: "NSE",
		Price: decimal.NewFromInt(4100), Volume: 1, TS: base,
	})

	a.now = func() time.Time { return base.Add(30 * time.Second) }
	data := a.GetData(ctx, "TCS", []model.Timeframe{model.TF1m}, nil)
	if err := a.EnsureConsistency(data); err != nil {
		t.Errorf("forming-only view rejected: %v", err)
	}
}
