// Package mtf assembles aligned multi-timeframe market views: completed
// history, the forming candle, and requested indicators per timeframe, plus a
// consistent current price.
package mtf

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"stratcore/internal/candle"
	"stratcore/internal/indicator"
	"stratcore/internal/model"
)

// IndicatorReq names one indicator to attach per timeframe, keyed in the
// output by Name.
type IndicatorReq struct {
	Name   string
	Type   string
	Params map[string]float64
}

// Assembler builds MultiTimeframeData snapshots from the candle buffer, the
// aggregator's forming state, and the indicator engine.
type Assembler struct {
	buffer  *candle.Buffer
	agg     *candle.Aggregator
	engine  *indicator.Engine
	history int // completed candles per timeframe

	// freshness is the maximum age of the newest data before EnsureConsistency
	// rejects the view.
	freshness time.Duration

	// now is swappable in tests.
	now func() time.Time
}

// New creates an assembler. history defaults to 100 candles per timeframe,
// freshness to 60s.
func New(buffer *candle.Buffer, agg *candle.Aggregator, engine *indicator.Engine, history int, freshness time.Duration) *Assembler {
	if history <= 0 {
		history = 100
	}
	if freshness <= 0 {
		freshness = 60 * time.Second
	}
	return &Assembler{
		buffer:    buffer,
		agg:       agg,
		engine:    engine,
		history:   history,
		freshness: freshness,
		now:       time.Now,
	}
}

// GetData assembles the view for symbol over tfs with the requested
// indicators attached to every timeframe. Timeframes with no data yet appear
// with empty history; indicator computation failures are logged and the entry
// omitted rather than failing the whole view.
func (a *Assembler) GetData(ctx context.Context, symbol string, tfs []model.Timeframe, reqs []IndicatorReq) *model.MultiTimeframeData {
	out := &model.MultiTimeframeData{
		Symbol:     symbol,
		Timeframes: make(map[model.Timeframe]*model.TimeframeData, len(tfs)),
	}

	sorted := make([]model.Timeframe, len(tfs))
	copy(sorted, tfs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for _, tf := range sorted {
		td := &model.TimeframeData{
			Historical: a.buffer.Last(ctx, symbol, tf, a.history),
			Forming:    a.agg.Forming(symbol, tf),
		}
		if len(reqs) > 0 && a.engine != nil {
			td.Indicators = make(map[string]*model.IndicatorValue, len(reqs))
			for _, req := range reqs {
				v, err := a.engine.Compute(ctx, symbol, tf, req.Type, req.Params)
				if err != nil {
					log.Printf("[mtf] indicator %s for %s:%s: %v", req.Name, symbol, tf, err)
					continue
				}
				td.Indicators[req.Name] = v
			}
		}
		out.Timeframes[tf] = td
	}

	// Current price from the smallest timeframe: forming close first, else
	// last completed close.
	for _, tf := range sorted {
		td := out.Timeframes[tf]
		if latest := td.Latest(); latest != nil {
			out.CurrentPrice = latest.Close
			out.TS = latestTS(td)
			break
		}
	}
	if out.TS.IsZero() {
		out.TS = a.now()
	}
	return out
}

// EnsureConsistency rejects views that are incomplete or stale. Every
// requested timeframe must hold at least one candle, and each timeframe's
// coverage (its newest candle's bucket end) must reach to within the
// freshness window of now. A forming candle mid-bucket is always fresh.
func (a *Assembler) EnsureConsistency(data *model.MultiTimeframeData) error {
	if len(data.Timeframes) == 0 {
		return fmt.Errorf("mtf: no data for %s", data.Symbol)
	}
	now := a.now()
	for tf, td := range data.Timeframes {
		latest := td.Latest()
		if latest == nil {
			return fmt.Errorf("mtf: no %s data for %s", tf, data.Symbol)
		}
		end := latest.Start.Add(tf.Duration())
		if age := now.Sub(end); age > a.freshness {
			return fmt.Errorf("mtf: %s data for %s is stale (%s past coverage, max %s)",
				tf, data.Symbol, age.Round(time.Second), a.freshness)
		}
	}
	return nil
}

// latestTS is the end-of-coverage time of the newest candle in td: the
// forming candle's bucket start, else the completed candle's bucket end.
func latestTS(td *model.TimeframeData) time.Time {
	if td.Forming != nil {
		return td.Forming.Start
	}
	if n := len(td.Historical); n > 0 {
		c := td.Historical[n-1]
		return c.Start.Add(c.Timeframe.Duration())
	}
	return time.Time{}
}
