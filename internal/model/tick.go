package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick represents a single price update from the upstream market feed.
// Prices are decimals to avoid float drift across venues with different
// tick sizes.
type Tick struct {
	Symbol   string          `json:"symbol"`
	Exchange string          `json:"exchange"`
	Price    decimal.Decimal `json:"price"`
	Volume   int64           `json:"volume"`
	TS       time.Time       `json:"ts"` // UTC timestamp
}

// Valid reports whether the tick carries usable data. Invalid ticks are
// dropped at ingest and counted, never propagated.
func (t *Tick) Valid() bool {
	return t.Symbol != "" && t.Price.IsPositive() && t.Volume >= 0 && !t.TS.IsZero()
}
