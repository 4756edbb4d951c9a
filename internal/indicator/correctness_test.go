package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stratcore/internal/model"
)

func series(closes ...float64) []model.Candle {
	base := time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)
	out := make([]model.Candle, len(closes))
	for i, cl := range closes {
		d := decimal.NewFromFloat(cl)
		out[i] = model.Candle{
			Symbol: "TEST", Exchange: "NSE", Timeframe: model.TF1m,
			Start: base.Add(time.Duration(i) * time.Minute),
			Open:  d, High: d, Low: d, Close: d, Volume: 1,
		}
	}
	return out
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (diff=%.6f)", label, got, want, math.Abs(got-want))
	}
}

func compute(t *testing.T, typ string, candles []model.Candle, params map[string]float64) *model.IndicatorValue {
	t.Helper()
	algo, err := Lookup(typ)
	if err != nil {
		t.Fatal(err)
	}
	v, err := algo.Compute(candles, params)
	if err != nil {
		t.Fatalf("%s compute: %v", typ, err)
	}
	return v
}

func TestSMA_HandCalculated(t *testing.T) {
	// SMA(3) over closes 100, 102, 104, 103, 105 uses the last three:
	// (104 + 103 + 105) / 3 = 104.
	v := compute(t, "SMA", series(100, 102, 104, 103, 105), map[string]float64{"period": 3})
	assertClose(t, "SMA(3)", v.Value, 104.0, 1e-9)
}

func TestEMA_HandCalculated(t *testing.T) {
	// EMA(3), alpha = 0.5, seeded with the first close:
	// 100 → 101 → 102.5 → 102.75 → 103.875
	v := compute(t, "EMA", series(100, 102, 104, 103, 105), map[string]float64{"period": 3})
	assertClose(t, "EMA(3)", v.Value, 103.875, 1e-9)
}

func TestRSI_HandCalculated(t *testing.T) {
	// RSI(3) over 10, 11, 12, 11, 13.
	// Seed deltas +1, +1, -1: avgGain = 2/3, avgLoss = 1/3.
	// Wilder step on +2: avgGain = 10/9, avgLoss = 2/9.
	// RS = 5 → RSI = 100 - 100/6 = 83.3333.
	v := compute(t, "RSI", series(10, 11, 12, 11, 13), map[string]float64{"period": 3})
	assertClose(t, "RSI(3)", v.Value, 83.333333, 1e-4)
}

func TestRSI_AllGainsIs100(t *testing.T) {
	v := compute(t, "RSI", series(1, 2, 3, 4), map[string]float64{"period": 3})
	assertClose(t, "RSI all gains", v.Value, 100.0, 1e-9)
}

func TestMACD_HandCalculated(t *testing.T) {
	// MACD(2, 3, 2) over 10, 11, 12, 11, 13, 14; EMAs seeded with the first
	// close. Worked through by hand:
	//   fast EMA(2) final  = 13.465021
	//   slow EMA(3) final  = 13.031250
	//   macd               = 0.433770
	//   signal EMA(2)      = 0.376457
	v := compute(t, "MACD", series(10, 11, 12, 11, 13, 14),
		map[string]float64{"fast": 2, "slow": 3, "signal": 2})

	assertClose(t, "macd", v.Values["macd"], 0.433770, 1e-4)
	assertClose(t, "signal", v.Values["signal"], 0.376457, 1e-4)
	assertClose(t, "histogram", v.Values["histogram"], v.Values["macd"]-v.Values["signal"], 1e-9)
}

func TestMACD_RejectsFastNotBelowSlow(t *testing.T) {
	algo, _ := Lookup("MACD")
	err := algo.ValidateParams(map[string]float64{"fast": 26, "slow": 12, "signal": 9})
	if err == nil {
		t.Error("expected error for fast >= slow")
	}
}

func TestBollinger_HandCalculated(t *testing.T) {
	// BBANDS(3, k=2) over 10, 12, 14: mean 12, population sigma = sqrt(8/3).
	v := compute(t, "BBANDS", series(10, 12, 14), map[string]float64{"period": 3, "k": 2})

	sigma := math.Sqrt(8.0 / 3.0)
	assertClose(t, "middle", v.Values["middle"], 12.0, 1e-9)
	assertClose(t, "upper", v.Values["upper"], 12.0+2*sigma, 1e-9)
	assertClose(t, "lower", v.Values["lower"], 12.0-2*sigma, 1e-9)
}

func TestValidateParams_RejectsBadPeriods(t *testing.T) {
	for _, typ := range []string{"SMA", "EMA", "RSI"} {
		algo, err := Lookup(typ)
		if err != nil {
			t.Fatal(err)
		}
		if err := algo.ValidateParams(map[string]float64{}); err == nil {
			t.Errorf("%s: expected error for missing period", typ)
		}
		if err := algo.ValidateParams(map[string]float64{"period": 0}); err == nil {
			t.Errorf("%s: expected error for period=0", typ)
		}
		if err := algo.ValidateParams(map[string]float64{"period": 2.5}); err == nil {
			t.Errorf("%s: expected error for fractional period", typ)
		}
	}
}

func TestLookup_CaseInsensitive(t *testing.T) {
	for _, typ := range []string{"sma", "SMA", "Sma"} {
		if _, err := Lookup(typ); err != nil {
			t.Errorf("Lookup(%q): %v", typ, err)
		}
	}
	if _, err := Lookup("VWAP"); err == nil {
		t.Error("expected error for unregistered type")
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("macd", map[string]float64{"fast": 12, "slow": 26, "signal": 9})
	b := Fingerprint("MACD", map[string]float64{"signal": 9, "fast": 12, "slow": 26})
	if a != b {
		t.Errorf("fingerprints differ: %q vs %q", a, b)
	}
	if a != "MACD(fast=12,signal=9,slow=26)" {
		t.Errorf("fingerprint format: %q", a)
	}

	if got := Fingerprint("sma", map[string]float64{"period": 14}); got != "SMA(period=14)" {
		t.Errorf("fingerprint: %q", got)
	}
}
