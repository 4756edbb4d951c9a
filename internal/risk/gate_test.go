package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"stratcore/internal/model"
)

// fakePauser records fleet pauses.
type fakePauser struct {
	calls []string
}

func (p *fakePauser) PauseFleet(accountID string, mode model.TradingMode, reason string) int {
	p.calls = append(p.calls, accountID+":"+string(mode))
	return 1
}

func TestGate_BreachLatchesAndPausesOnce(t *testing.T) {
	g := New(5)
	p := &fakePauser{}
	g.Wire(p, nil)

	breaches := 0
	g.OnBreach = func() { breaches++ }

	g.SetMaxLoss("acct-1", model.ModePaper, decimal.NewFromInt(1000))

	// Losses accumulate below the cap: no breach.
	g.RecordLossDelta("acct-1", model.ModePaper, decimal.NewFromInt(400))
	g.RecordLossDelta("acct-1", model.ModePaper, decimal.NewFromInt(500))
	if breaches != 0 || len(p.calls) != 0 {
		t.Fatalf("premature breach: breaches=%d pauses=%v", breaches, p.calls)
	}

	// Crossing the cap latches and pauses exactly once.
	g.RecordLossDelta("acct-1", model.ModePaper, decimal.NewFromInt(100))
	if breaches != 1 || len(p.calls) != 1 {
		t.Fatalf("breach not fired once: breaches=%d pauses=%v", breaches, p.calls)
	}

	// Further losses while latched do not re-fire.
	g.RecordLossDelta("acct-1", model.ModePaper, decimal.NewFromInt(9999))
	if breaches != 1 || len(p.calls) != 1 {
		t.Errorf("latched breach re-fired: breaches=%d pauses=%v", breaches, p.calls)
	}

	lim := g.Limit("acct-1", model.ModePaper)
	if lim == nil || !lim.Breached || lim.BreachedAt == nil {
		t.Errorf("limit not latched: %+v", lim)
	}
}

func TestGate_CheckAndBreachLatchesOnLoweredCap(t *testing.T) {
	g := New(5)
	p := &fakePauser{}
	g.Wire(p, nil)

	g.SetMaxLoss("acct-1", model.ModePaper, decimal.NewFromInt(1000))
	g.RecordLossDelta("acct-1", model.ModePaper, decimal.NewFromInt(600))
	if g.CheckAndBreach("acct-1", model.ModePaper) {
		t.Fatal("breached below cap")
	}

	// Lowering the cap below the running loss breaches on the next check.
	g.SetMaxLoss("acct-1", model.ModePaper, decimal.NewFromInt(500))
	if !g.CheckAndBreach("acct-1", model.ModePaper) {
		t.Fatal("lowered cap not breached")
	}
	if len(p.calls) != 1 {
		t.Fatalf("pauses: %v", p.calls)
	}

	// Repeated checks report the latch without re-pausing.
	if !g.CheckAndBreach("acct-1", model.ModePaper) {
		t.Error("latched breach not reported")
	}
	if len(p.calls) != 1 {
		t.Errorf("latched breach re-paused: %v", p.calls)
	}

	// Unknown pair is not breached.
	if g.CheckAndBreach("acct-2", model.ModeLive) {
		t.Error("untracked pair reported breached")
	}
}

func TestGate_ProfitsOffsetLosses(t *testing.T) {
	g := New(5)
	g.SetMaxLoss("acct-1", model.ModeLive, decimal.NewFromInt(100))

	g.RecordLossDelta("acct-1", model.ModeLive, decimal.NewFromInt(80))
	g.RecordLossDelta("acct-1", model.ModeLive, decimal.NewFromInt(-50)) // profit
	g.RecordLossDelta("acct-1", model.ModeLive, decimal.NewFromInt(60))

	lim := g.Limit("acct-1", model.ModeLive)
	if lim.Breached {
		t.Errorf("breached at net loss %s with cap 100", lim.CurrentLoss)
	}
	if !lim.CurrentLoss.Equal(decimal.NewFromInt(90)) {
		t.Errorf("current loss: got %s, want 90", lim.CurrentLoss)
	}
}

func TestGate_ModesAreIsolated(t *testing.T) {
	g := New(5)
	p := &fakePauser{}
	g.Wire(p, nil)

	g.SetMaxLoss("acct-1", model.ModePaper, decimal.NewFromInt(100))
	g.SetMaxLoss("acct-1", model.ModeLive, decimal.NewFromInt(100))

	g.RecordLossDelta("acct-1", model.ModePaper, decimal.NewFromInt(150))

	if len(p.calls) != 1 || p.calls[0] != "acct-1:paper" {
		t.Fatalf("pauses: %v", p.calls)
	}
	if err := g.CanActivate("acct-1", model.ModeLive); err != nil {
		t.Errorf("live mode blocked by paper breach: %v", err)
	}
	if err := g.CanActivate("acct-1", model.ModePaper); err == nil {
		t.Error("paper mode should be blocked while breached")
	}
}

func TestGate_AcknowledgeClearsLatch(t *testing.T) {
	g := New(5)
	g.SetMaxLoss("acct-1", model.ModePaper, decimal.NewFromInt(100))
	g.RecordLossDelta("acct-1", model.ModePaper, decimal.NewFromInt(150))

	// Nothing to acknowledge without a breach.
	if err := g.Acknowledge("acct-2", model.ModePaper, nil); err == nil {
		t.Error("expected error acknowledging a non-breach")
	}

	newCap := decimal.NewFromInt(500)
	if err := g.Acknowledge("acct-1", model.ModePaper, &newCap); err != nil {
		t.Fatal(err)
	}

	lim := g.Limit("acct-1", model.ModePaper)
	if lim.Breached || lim.BreachedAt != nil {
		t.Errorf("latch not cleared: %+v", lim)
	}
	if !lim.CurrentLoss.IsZero() {
		t.Errorf("current loss not reset: %s", lim.CurrentLoss)
	}
	if !lim.MaxLoss.Equal(newCap) {
		t.Errorf("new cap not installed: %s", lim.MaxLoss)
	}
	if err := g.CanActivate("acct-1", model.ModePaper); err != nil {
		t.Errorf("activation blocked after acknowledge: %v", err)
	}
}

func TestGate_ConcurrencyCap(t *testing.T) {
	running := 0
	g := New(2)
	g.Wire(nil, func(string, model.TradingMode) int { return running })

	if err := g.CanActivate("acct-1", model.ModePaper); err != nil {
		t.Errorf("activation blocked below cap: %v", err)
	}
	running = 2
	if err := g.CanActivate("acct-1", model.ModePaper); err == nil {
		t.Error("activation allowed at cap")
	}
}

func TestGate_PerModeConcurrencyCap(t *testing.T) {
	running := 3
	g := New(5)
	g.SetMaxConcurrent(model.ModeLive, 2)
	g.Wire(nil, func(string, model.TradingMode) int { return running })

	// Paper uses the default cap of 5; live is tightened to 2.
	if err := g.CanActivate("acct-1", model.ModePaper); err != nil {
		t.Errorf("paper blocked below default cap: %v", err)
	}
	if err := g.CanActivate("acct-1", model.ModeLive); err == nil {
		t.Error("live allowed above its cap")
	}

	// Clearing the override falls back to the default.
	g.SetMaxConcurrent(model.ModeLive, 0)
	if err := g.CanActivate("acct-1", model.ModeLive); err != nil {
		t.Errorf("live blocked after override cleared: %v", err)
	}
}

func TestGate_ZeroCapDisablesLimit(t *testing.T) {
	g := New(5)
	p := &fakePauser{}
	g.Wire(p, nil)

	// No cap configured: losses accumulate without breaching.
	g.RecordLossDelta("acct-1", model.ModePaper, decimal.NewFromInt(1000000))
	if len(p.calls) != 0 {
		t.Errorf("breach fired with no cap: %v", p.calls)
	}
}
