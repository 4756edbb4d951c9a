package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLimit tracks realized loss against a cap for one (account, trading mode)
// pair. Breach is latched until acknowledged.
type RiskLimit struct {
	AccountID    string          `json:"account_id"`
	Mode         TradingMode     `json:"trading_mode"`
	MaxLoss      decimal.Decimal `json:"max_loss"`
	CurrentLoss  decimal.Decimal `json:"current_loss"`
	Breached     bool            `json:"breached"`
	BreachedAt   *time.Time      `json:"breached_at,omitempty"`
	Acknowledged bool            `json:"acknowledged"`
}

// LimitKey returns the map key for an (account, mode) pair.
func LimitKey(accountID string, mode TradingMode) string {
	return accountID + ":" + string(mode)
}
