package candle

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stratcore/internal/model"
	memstore "stratcore/internal/store/memory"
)

func tick(symbol string, price float64, vol int64, ts time.Time) model.Tick {
	return model.Tick{
		Symbol:   symbol,
		Exchange: "NSE",
		Price:    decimal.NewFromFloat(price),
		Volume:   vol,
		TS:       ts,
	}
}

func TestAggregator_CompletesOnBucketRollover(t *testing.T) {
	agg := New(time.UTC, nil)

	var completes []model.Candle
	agg.OnComplete(func(c model.Candle) {
		if c.Timeframe == model.TF1m {
			completes = append(completes, c)
		}
	})

	ctx := context.Background()
	base := time.Date(2026, 1, 6, 10, 1, 0, 0, time.UTC)

	// Three ticks inside minute 10:01, then one in 10:02 to roll the bucket.
	agg.ProcessTick(ctx, tick("RELIANCE", 100.0, 10, base))
	agg.ProcessTick(ctx, tick("RELIANCE", 105.5, 20, base.Add(15*time.Second)))
	agg.ProcessTick(ctx, tick("RELIANCE", 95.25, 5, base.Add(45*time.Second)))

	if len(completes) != 0 {
		t.Fatalf("candle completed before bucket rollover: %d", len(completes))
	}

	agg.ProcessTick(ctx, tick("RELIANCE", 101.0, 7, base.Add(time.Minute)))

	if len(completes) != 1 {
		t.Fatalf("expected 1 completed 1m candle, got %d", len(completes))
	}
	c := completes[0]
	if !c.Start.Equal(base) {
		t.Errorf("start: got %v, want %v", c.Start, base)
	}
	if !c.Open.Equal(decimal.NewFromFloat(100.0)) {
		t.Errorf("open: got %s, want 100", c.Open)
	}
	if !c.High.Equal(decimal.NewFromFloat(105.5)) {
		t.Errorf("high: got %s, want 105.5", c.High)
	}
	if !c.Low.Equal(decimal.NewFromFloat(95.25)) {
		t.Errorf("low: got %s, want 95.25", c.Low)
	}
	if !c.Close.Equal(decimal.NewFromFloat(95.25)) {
		t.Errorf("close: got %s, want 95.25", c.Close)
	}
	if c.Volume != 35 {
		t.Errorf("volume: got %d, want 35", c.Volume)
	}
	if c.Forming {
		t.Error("completed candle still marked forming")
	}

	// The rollover tick opened the next bar.
	forming := agg.Forming("RELIANCE", model.TF1m)
	if forming == nil {
		t.Fatal("no forming candle after rollover")
	}
	if !forming.Start.Equal(base.Add(time.Minute)) {
		t.Errorf("next bar start: got %v, want %v", forming.Start, base.Add(time.Minute))
	}
	if !forming.Open.Equal(decimal.NewFromFloat(101.0)) {
		t.Errorf("next bar open: got %s, want 101", forming.Open)
	}
}

func TestAggregator_CompletionFiresBeforeNextBarEvents(t *testing.T) {
	agg := New(time.UTC, nil)

	var order []string
	agg.OnUpdate(func(c model.Candle) {
		if c.Timeframe == model.TF1m {
			order = append(order, "update:"+c.Start.Format("15:04"))
		}
	})
	agg.OnComplete(func(c model.Candle) {
		if c.Timeframe == model.TF1m {
			order = append(order, "complete:"+c.Start.Format("15:04"))
		}
	})

	ctx := context.Background()
	base := time.Date(2026, 1, 6, 10, 1, 0, 0, time.UTC)
	agg.ProcessTick(ctx, tick("TCS", 4100, 1, base))
	agg.ProcessTick(ctx, tick("TCS", 4101, 1, base.Add(time.Minute)))

	want := []string{"update:10:01", "complete:10:01", "update:10:02"}
	if len(order) != len(want) {
		t.Fatalf("event order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("event order %v, want %v", order, want)
		}
	}
}

func TestAggregator_DropsLateTicks(t *testing.T) {
	agg := New(time.UTC, nil)

	dropped := 0
	agg.OnDroppedTick = func() { dropped++ }

	ctx := context.Background()
	base := time.Date(2026, 1, 6, 10, 1, 0, 0, time.UTC)
	agg.ProcessTick(ctx, tick("INFY", 1590, 1, base.Add(time.Minute)))

	// A tick from the previous minute is behind the 1m forming bucket but
	// still inside every coarser bucket, so exactly one drop is counted.
	agg.ProcessTick(ctx, tick("INFY", 1600, 100, base))

	if dropped != 1 {
		t.Errorf("dropped count: got %d, want 1", dropped)
	}
	forming := agg.Forming("INFY", model.TF1m)
	if forming == nil {
		t.Fatal("forming candle missing")
	}
	if !forming.High.Equal(decimal.NewFromInt(1590)) {
		t.Errorf("late tick leaked into 1m bar: high=%s", forming.High)
	}
	// The 5m bar did absorb it.
	fiveMin := agg.Forming("INFY", model.TF5m)
	if !fiveMin.High.Equal(decimal.NewFromInt(1600)) {
		t.Errorf("5m bar should include the tick: high=%s", fiveMin.High)
	}
}

func TestAggregator_RejectsInvalidTicks(t *testing.T) {
	agg := New(time.UTC, nil)
	dropped := 0
	agg.OnDroppedTick = func() { dropped++ }

	ctx := context.Background()
	now := time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)

	agg.ProcessTick(ctx, model.Tick{Symbol: "X", Price: decimal.Zero, TS: now})
	agg.ProcessTick(ctx, model.Tick{Symbol: "", Price: decimal.NewFromInt(1), TS: now})
	agg.ProcessTick(ctx, model.Tick{Symbol: "X", Price: decimal.NewFromInt(1), Volume: -1, TS: now})

	if dropped != 3 {
		t.Errorf("dropped count: got %d, want 3", dropped)
	}
	if agg.Forming("X", model.TF1m) != nil {
		t.Error("invalid tick opened a candle")
	}
}

func TestAggregator_Deterministic(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)
	ticks := []model.Tick{
		tick("NIFTY50", 25660.00, 3, base),
		tick("NIFTY50", 25672.40, 9, base.Add(10*time.Second)),
		tick("NIFTY50", 25655.15, 2, base.Add(40*time.Second)),
		tick("NIFTY50", 25661.00, 5, base.Add(time.Minute)),
		tick("NIFTY50", 25664.00, 1, base.Add(2*time.Minute)),
	}

	run := func() []model.Candle {
		agg := New(time.UTC, nil)
		var out []model.Candle
		agg.OnComplete(func(c model.Candle) {
			if c.Timeframe == model.TF1m {
				out = append(out, c)
			}
		})
		for _, tk := range ticks {
			agg.ProcessTick(ctx, tk)
		}
		return out
	}

	a, b := run(), run()
	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("expected 2 completed candles per run, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if string(a[i].JSON()) != string(b[i].JSON()) {
			t.Errorf("run divergence at candle %d:\n%s\n%s", i, a[i].JSON(), b[i].JSON())
		}
	}
}

func TestAggregator_DailyBucketsAtExchangeMidnight(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	agg := New(ist, nil)

	ctx := context.Background()
	// 20:00 UTC = 01:30 IST next day.
	ts := time.Date(2026, 1, 6, 20, 0, 0, 0, time.UTC)
	agg.ProcessTick(ctx, tick("NIFTY50", 25660, 1, ts))

	forming := agg.Forming("NIFTY50", model.TF1d)
	if forming == nil {
		t.Fatal("no forming daily candle")
	}
	want := time.Date(2026, 1, 7, 0, 0, 0, 0, ist)
	if !forming.Start.Equal(want) {
		t.Errorf("daily start: got %v, want %v", forming.Start, want)
	}
}

func TestAggregator_ForceComplete(t *testing.T) {
	agg := New(time.UTC, nil)
	var completes []model.Candle
	agg.OnComplete(func(c model.Candle) {
		if c.Timeframe == model.TF1m {
			completes = append(completes, c)
		}
	})

	ctx := context.Background()
	base := time.Date(2026, 1, 6, 15, 29, 0, 0, time.UTC)
	agg.ProcessTick(ctx, tick("RELIANCE", 2885.50, 10, base))

	agg.ForceComplete("RELIANCE", model.TF1m)

	if len(completes) != 1 {
		t.Fatalf("expected 1 forced completion, got %d", len(completes))
	}
	if completes[0].Forming {
		t.Error("forced candle still marked forming")
	}
	if agg.Forming("RELIANCE", model.TF1m) != nil {
		t.Error("forming state survived ForceComplete")
	}

	// No forming candle means nothing to do.
	agg.ForceComplete("RELIANCE", model.TF1m)
	if len(completes) != 1 {
		t.Errorf("duplicate completion after second ForceComplete: %d", len(completes))
	}
}

func TestAggregator_RehydratesFormingFromStore(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	base := time.Date(2026, 1, 6, 10, 1, 0, 0, time.UTC)

	// A previous process left a mid-bar forming candle behind.
	prev := model.NewForming(tick("RELIANCE", 2880, 50, base), model.TF1m, base)
	if err := store.SetForming(ctx, prev); err != nil {
		t.Fatal(err)
	}

	agg := New(time.UTC, store)
	agg.ProcessTick(ctx, tick("RELIANCE", 2890, 10, base.Add(30*time.Second)))

	forming := agg.Forming("RELIANCE", model.TF1m)
	if forming == nil {
		t.Fatal("no forming candle after rehydration")
	}
	// The persisted open survives; the new tick extends the bar.
	if !forming.Open.Equal(decimal.NewFromInt(2880)) {
		t.Errorf("open: got %s, want 2880 (persisted)", forming.Open)
	}
	if !forming.High.Equal(decimal.NewFromInt(2890)) {
		t.Errorf("high: got %s, want 2890", forming.High)
	}
	if forming.Volume != 60 {
		t.Errorf("volume: got %d, want 60", forming.Volume)
	}
}
