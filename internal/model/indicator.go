package model

import (
	"encoding/json"
	"time"
)

// IndicatorValue holds one computed indicator result for a (symbol, timeframe).
// Scalar indicators populate Value; multi-line indicators (MACD, Bollinger
// Bands) populate Values instead.
type IndicatorValue struct {
	Symbol    string             `json:"symbol"`
	Timeframe Timeframe          `json:"timeframe"`
	Type      string             `json:"type"` // "SMA", "EMA", "RSI", "MACD", "BBANDS"
	Params    map[string]float64 `json:"params"`
	Value     float64            `json:"value,omitempty"`
	Values    map[string]float64 `json:"values,omitempty"`
	TS        time.Time          `json:"ts"` // timestamp of the newest candle used
}

// JSON returns the JSON-encoded indicator value.
func (v *IndicatorValue) JSON() []byte {
	b, _ := json.Marshal(v)
	return b
}
