package model

import (
	"encoding/json"
	"time"
)

// TradingMode selects paper or live execution for an account's strategies.
type TradingMode string

const (
	ModePaper TradingMode = "paper"
	ModeLive  TradingMode = "live"
)

// StrategyStatus is the lifecycle state of a strategy instance.
// Valid transitions: running↔paused, any→error, any→stopped.
type StrategyStatus string

const (
	StatusRunning StrategyStatus = "running"
	StatusPaused  StrategyStatus = "paused"
	StatusError   StrategyStatus = "error"
	StatusStopped StrategyStatus = "stopped"
)

// StrategyConfig is the immutable load-time configuration of a strategy
// instance. Parameters are validated against the plugin's manifest schema.
type StrategyConfig struct {
	StrategyID string         `json:"strategy_id"`
	AccountID  string         `json:"account_id"`
	PluginName string         `json:"plugin_name"`
	Mode       TradingMode    `json:"trading_mode"`
	Symbols    []string       `json:"symbols"`
	Timeframes []Timeframe    `json:"timeframes"`
	Parameters map[string]any `json:"parameters"`
}

// HasSymbol reports whether the strategy trades symbol.
func (c *StrategyConfig) HasSymbol(symbol string) bool {
	for _, s := range c.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// HasTimeframe reports whether the strategy subscribes to tf.
func (c *StrategyConfig) HasTimeframe(tf Timeframe) bool {
	for _, t := range c.Timeframes {
		if t == tf {
			return true
		}
	}
	return false
}

// StrategyRecord is the persisted view of a strategy instance. CustomState is
// opaque to the scheduler and round-tripped through the plugin's
// GetState/SetState.
type StrategyRecord struct {
	Config      StrategyConfig `json:"config"`
	Status      StrategyStatus `json:"status"`
	CustomState map[string]any `json:"custom_state,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	LastUpdate  time.Time      `json:"last_update"`
	LastError   string         `json:"last_error,omitempty"`
}

// StateKey returns the state-store key for this record.
func (r *StrategyRecord) StateKey() string {
	return "strategy_state:" + r.Config.StrategyID
}

// JSON returns the JSON-encoded record.
func (r *StrategyRecord) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
