// Package risk enforces account-level guardrails: realized loss limits with a
// latched breach that pauses the fleet, and a concurrency cap on running
// strategies. Limits are tracked per (account, trading mode) so paper losses
// never pause live strategies.
package risk

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stratcore/internal/model"
)

// Pauser pauses every running strategy of an (account, mode) pair.
// Satisfied by the strategy scheduler.
type Pauser interface {
	PauseFleet(accountID string, mode model.TradingMode, reason string) int
}

// Gate is the risk admission and loss-limit engine.
type Gate struct {
	mu     sync.Mutex
	limits map[string]*model.RiskLimit // key = account:mode

	pauser       Pauser
	countRunning func(accountID string, mode model.TradingMode) int
	defaultCap   int
	caps         map[model.TradingMode]int

	// OnBreach is an optional metric hook, fired once per latch.
	OnBreach func()
}

// New creates a gate. defaultCap caps running strategies per (account, mode)
// for any mode without an explicit cap; it defaults to 5.
func New(defaultCap int) *Gate {
	if defaultCap <= 0 {
		defaultCap = 5
	}
	return &Gate{
		limits:     make(map[string]*model.RiskLimit),
		defaultCap: defaultCap,
		caps:       make(map[model.TradingMode]int),
	}
}

// SetMaxConcurrent overrides the running-strategy cap for one trading mode.
// Non-positive values fall back to the default cap.
func (g *Gate) SetMaxConcurrent(mode model.TradingMode, n int) {
	g.mu.Lock()
	if n > 0 {
		g.caps[mode] = n
	} else {
		delete(g.caps, mode)
	}
	g.mu.Unlock()
}

// Wire injects the scheduler-side dependencies. Called once at startup,
// before any strategies load.
func (g *Gate) Wire(pauser Pauser, countRunning func(string, model.TradingMode) int) {
	g.pauser = pauser
	g.countRunning = countRunning
}

// SetMaxLoss sets or replaces the loss cap for (account, mode). A zero cap
// disables the limit.
func (g *Gate) SetMaxLoss(accountID string, mode model.TradingMode, maxLoss decimal.Decimal) {
	g.mu.Lock()
	lim := g.limit(accountID, mode)
	lim.MaxLoss = maxLoss
	g.mu.Unlock()
}

// RecordLossDelta folds one realized P&L event into the running loss (losses
// positive, profits negative) and latches a breach when the cap is crossed.
// The fleet pause fires exactly once per latch, outside the lock.
func (g *Gate) RecordLossDelta(accountID string, mode model.TradingMode, delta decimal.Decimal) {
	g.mu.Lock()
	lim := g.limit(accountID, mode)
	lim.CurrentLoss = lim.CurrentLoss.Add(delta)
	breachedNow := latchIfOver(lim)
	current, max := lim.CurrentLoss, lim.MaxLoss
	g.mu.Unlock()

	if breachedNow {
		g.fireBreach(accountID, mode, current, max)
	}
}

// CheckAndBreach re-evaluates the loss cap for (account, mode), latching a
// breach when the cap is crossed, and reports whether the pair is breached.
// RecordLossDelta runs the same check after every update; this is for callers
// that lower MaxLoss out of band.
func (g *Gate) CheckAndBreach(accountID string, mode model.TradingMode) bool {
	g.mu.Lock()
	lim, ok := g.limits[model.LimitKey(accountID, mode)]
	if !ok {
		g.mu.Unlock()
		return false
	}
	breachedNow := latchIfOver(lim)
	breached := lim.Breached
	current, max := lim.CurrentLoss, lim.MaxLoss
	g.mu.Unlock()

	if breachedNow {
		g.fireBreach(accountID, mode, current, max)
	}
	return breached
}

// latchIfOver flips the breach flags when the cap is crossed. Caller holds mu.
// Returns true only on the transition.
func latchIfOver(lim *model.RiskLimit) bool {
	if lim.Breached || !lim.MaxLoss.IsPositive() || lim.CurrentLoss.LessThan(lim.MaxLoss) {
		return false
	}
	now := time.Now()
	lim.Breached = true
	lim.BreachedAt = &now
	lim.Acknowledged = false
	return true
}

func (g *Gate) fireBreach(accountID string, mode model.TradingMode, current, max decimal.Decimal) {
	if g.OnBreach != nil {
		g.OnBreach()
	}
	reason := fmt.Sprintf("loss limit breached: %s >= %s", current, max)
	log.Printf("[risk] account=%s mode=%s %s", accountID, mode, reason)
	if g.pauser != nil {
		g.pauser.PauseFleet(accountID, mode, reason)
	}
}

// Acknowledge clears a latched breach, optionally installing a new cap, and
// resets the running loss. Strategies stay paused until resumed explicitly.
func (g *Gate) Acknowledge(accountID string, mode model.TradingMode, newMaxLoss *decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	lim, ok := g.limits[model.LimitKey(accountID, mode)]
	if !ok || !lim.Breached {
		return fmt.Errorf("risk: no breach to acknowledge for %s/%s", accountID, mode)
	}
	lim.Breached = false
	lim.BreachedAt = nil
	lim.Acknowledged = true
	lim.CurrentLoss = decimal.Zero
	if newMaxLoss != nil {
		lim.MaxLoss = *newMaxLoss
	}
	log.Printf("[risk] breach acknowledged: account=%s mode=%s max_loss=%s", accountID, mode, lim.MaxLoss)
	return nil
}

// CanActivate is the admission check for starting or resuming a strategy: an
// unacknowledged breach blocks, as does the concurrency cap.
func (g *Gate) CanActivate(accountID string, mode model.TradingMode) error {
	g.mu.Lock()
	lim, ok := g.limits[model.LimitKey(accountID, mode)]
	breached := ok && lim.Breached
	maxN, ok := g.caps[mode]
	if !ok {
		maxN = g.defaultCap
	}
	g.mu.Unlock()

	if breached {
		return fmt.Errorf("risk: loss limit breached for %s/%s, acknowledge before activating", accountID, mode)
	}
	if g.countRunning != nil {
		if n := g.countRunning(accountID, mode); n >= maxN {
			return fmt.Errorf("risk: %d strategies already running for %s/%s (max %d)",
				n, accountID, mode, maxN)
		}
	}
	return nil
}

// Limit returns a copy of the tracked limit, or nil if none exists.
func (g *Gate) Limit(accountID string, mode model.TradingMode) *model.RiskLimit {
	g.mu.Lock()
	defer g.mu.Unlock()
	lim, ok := g.limits[model.LimitKey(accountID, mode)]
	if !ok {
		return nil
	}
	cp := *lim
	if lim.BreachedAt != nil {
		t := *lim.BreachedAt
		cp.BreachedAt = &t
	}
	return &cp
}

// limit returns the tracked limit, creating it when absent. Caller holds mu.
func (g *Gate) limit(accountID string, mode model.TradingMode) *model.RiskLimit {
	key := model.LimitKey(accountID, mode)
	lim, ok := g.limits[key]
	if !ok {
		lim = &model.RiskLimit{AccountID: accountID, Mode: mode}
		g.limits[key] = lim
	}
	return lim
}
