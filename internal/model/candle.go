package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents an OHLCV bar for a (symbol, timeframe).
// A candle is forming from its first tick until a tick arrives whose bucket
// differs, at which point it completes exactly once.
type Candle struct {
	Symbol    string          `json:"symbol"`
	Exchange  string          `json:"exchange"`
	Timeframe Timeframe       `json:"timeframe"`
	Start     time.Time       `json:"start"` // bucket start, timeframe-aligned
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
	Forming   bool            `json:"forming"`
}

// Key returns the state-machine key "symbol:timeframe".
func (c *Candle) Key() string {
	return c.Symbol + ":" + c.Timeframe.String()
}

// FormingKey returns the forming-candle store key.
func (c *Candle) FormingKey() string {
	return "forming_candle:" + c.Symbol + ":" + c.Timeframe.String()
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Apply folds a tick into the forming candle. The caller guarantees the tick
// belongs to this candle's bucket.
func (c *Candle) Apply(t Tick) {
	if t.Price.GreaterThan(c.High) {
		c.High = t.Price
	}
	if t.Price.LessThan(c.Low) {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Volume += t.Volume
}

// NewForming opens a fresh forming candle from the first tick of a bucket.
func NewForming(t Tick, tf Timeframe, start time.Time) Candle {
	return Candle{
		Symbol:    t.Symbol,
		Exchange:  t.Exchange,
		Timeframe: tf,
		Start:     start,
		Open:      t.Price,
		High:      t.Price,
		Low:       t.Price,
		Close:     t.Price,
		Volume:    t.Volume,
		Forming:   true,
	}
}
