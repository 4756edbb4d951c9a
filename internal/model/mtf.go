package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TimeframeData is the per-timeframe slice of a strategy's market view:
// completed history, the forming candle (if any), and requested indicators
// keyed by request name.
type TimeframeData struct {
	Historical []Candle                   `json:"historical"`
	Forming    *Candle                    `json:"forming,omitempty"`
	Indicators map[string]*IndicatorValue `json:"indicators,omitempty"`
}

// Latest returns the newest candle in this timeframe, preferring the forming
// one. Returns nil when the timeframe is empty.
func (d *TimeframeData) Latest() *Candle {
	if d.Forming != nil {
		return d.Forming
	}
	if n := len(d.Historical); n > 0 {
		return &d.Historical[n-1]
	}
	return nil
}

// MultiTimeframeData is the assembled view handed to strategy callbacks.
// CurrentPrice is taken from the smallest requested timeframe.
type MultiTimeframeData struct {
	Symbol       string                       `json:"symbol"`
	CurrentPrice decimal.Decimal              `json:"current_price"`
	TS           time.Time                    `json:"ts"`
	Timeframes   map[Timeframe]*TimeframeData `json:"timeframes"`
}
