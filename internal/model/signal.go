package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SignalType distinguishes position entries from exits.
type SignalType string

const (
	SignalEntry SignalType = "entry"
	SignalExit  SignalType = "exit"
)

// Direction is the side of a signal.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// OrderType is how the order processor should work the intent.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// Signal is a strategy's order intent, handed off to the external order
// processor after validation. ID is the idempotency key for at-least-once
// delivery over the signals channel.
type Signal struct {
	ID              string           `json:"id"`
	StrategyID      string           `json:"strategy_id"`
	Type            SignalType       `json:"type"`
	Direction       Direction        `json:"direction"`
	Symbol          string           `json:"symbol"`
	Quantity        decimal.Decimal  `json:"quantity"`
	OrderType       OrderType        `json:"order_type"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	StopLoss        *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit      *decimal.Decimal `json:"take_profit,omitempty"`
	TrailingStopPct *float64         `json:"trailing_stop_pct,omitempty"`
	Reason          string           `json:"reason"`
	TS              time.Time        `json:"ts"`
}

// JSON returns the JSON-encoded signal.
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
