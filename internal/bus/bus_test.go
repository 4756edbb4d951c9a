package bus

import (
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stratcore/internal/model"
)

func TestBus_SubscribeIsIdempotent(t *testing.T) {
	b := New(nil, 16)

	b.Subscribe("strat-1", "RELIANCE", []model.Timeframe{model.TF1m}, "NSE")
	b.Subscribe("strat-1", "RELIANCE", []model.Timeframe{model.TF1m, model.TF5m}, "NSE")

	sub := b.Subscription("strat-1", "RELIANCE")
	if sub == nil {
		t.Fatal("subscription missing")
	}
	if len(sub.Timeframes) != 2 {
		t.Errorf("timeframes merged to %d entries, want 2", len(sub.Timeframes))
	}
	if !sub.HasTimeframe(model.TF1m) || !sub.HasTimeframe(model.TF5m) {
		t.Error("merged subscription missing a timeframe")
	}
	if got := b.Subscribers("RELIANCE"); len(got) != 1 {
		t.Errorf("subscribers: got %v, want exactly one", got)
	}
}

func TestBus_ActiveIdleHooks(t *testing.T) {
	b := New(nil, 16)

	var activated, idled []string
	b.OnSymbolActive = func(symbol, exchange string) { activated = append(activated, symbol) }
	b.OnSymbolIdle = func(symbol string) { idled = append(idled, symbol) }

	b.Subscribe("strat-1", "TCS", []model.Timeframe{model.TF1m}, "NSE")
	b.Subscribe("strat-2", "TCS", []model.Timeframe{model.TF5m}, "NSE")

	if len(activated) != 1 || activated[0] != "TCS" {
		t.Errorf("activated: got %v, want [TCS] once", activated)
	}

	b.Unsubscribe("strat-1", "TCS", nil)
	if len(idled) != 0 {
		t.Errorf("idled too early: %v", idled)
	}
	b.Unsubscribe("strat-2", "TCS", nil)
	if len(idled) != 1 || idled[0] != "TCS" {
		t.Errorf("idled: got %v, want [TCS]", idled)
	}
}

func TestBus_UnsubscribeVariants(t *testing.T) {
	newBus := func() *Bus {
		b := New(nil, 16)
		b.Subscribe("s1", "A", []model.Timeframe{model.TF1m, model.TF5m}, "NSE")
		b.Subscribe("s1", "B", []model.Timeframe{model.TF1m}, "NSE")
		return b
	}

	// Specific symbol, specific timeframes: subscription survives while
	// timeframes remain.
	b := newBus()
	b.Unsubscribe("s1", "A", []model.Timeframe{model.TF1m})
	if sub := b.Subscription("s1", "A"); sub == nil || !sub.HasTimeframe(model.TF5m) {
		t.Error("partial unsubscribe removed too much")
	}
	b.Unsubscribe("s1", "A", []model.Timeframe{model.TF5m})
	if b.Subscription("s1", "A") != nil {
		t.Error("emptied subscription not deleted")
	}

	// Specific symbol, all timeframes.
	b = newBus()
	b.Unsubscribe("s1", "A", nil)
	if b.Subscription("s1", "A") != nil {
		t.Error("symbol-wide unsubscribe left subscription")
	}
	if b.Subscription("s1", "B") == nil {
		t.Error("symbol-wide unsubscribe removed other symbol")
	}

	// All symbols, all timeframes.
	b = newBus()
	b.Unsubscribe("s1", "", nil)
	if b.Subscription("s1", "A") != nil || b.Subscription("s1", "B") != nil {
		t.Error("full unsubscribe left subscriptions")
	}
	if got := b.ActiveSymbols(); len(got) != 0 {
		t.Errorf("active symbols after full unsubscribe: %v", got)
	}

	// Repeated unsubscribe is a no-op.
	b.Unsubscribe("s1", "", nil)
	b.Unsubscribe("s1", "A", []model.Timeframe{model.TF1m})
}

func TestBus_ActiveSymbols(t *testing.T) {
	b := New(nil, 16)
	b.Subscribe("s1", "A", []model.Timeframe{model.TF1m}, "NSE")
	b.Subscribe("s2", "B", []model.Timeframe{model.TF1m}, "NSE")
	b.Subscribe("s2", "A", []model.Timeframe{model.TF5m}, "NSE")

	got := b.ActiveSymbols()
	sort.Strings(got)
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("active symbols: got %v, want [A B]", got)
	}
}

func TestBus_LocalDeliveryAndDrop(t *testing.T) {
	b := New(nil, 2)

	dropped := 0
	b.OnDrop = func(int) { dropped++ }

	ch := b.SubscribeLocal()

	mkTick := func(p int64) model.Tick {
		return model.Tick{
			Symbol: "X", Exchange: "NSE",
			Price: decimal.NewFromInt(p), Volume: 1, TS: time.Now(),
		}
	}

	// Buffer of 2: third publish drops without blocking.
	b.PublishTick(mkTick(1))
	b.PublishTick(mkTick(2))
	b.PublishTick(mkTick(3))

	if dropped != 1 {
		t.Errorf("dropped: got %d, want 1", dropped)
	}

	ev := <-ch
	if ev.Tick == nil || !ev.Tick.Price.Equal(decimal.NewFromInt(1)) {
		t.Errorf("first event: %+v", ev)
	}
	ev = <-ch
	if ev.Tick == nil || !ev.Tick.Price.Equal(decimal.NewFromInt(2)) {
		t.Errorf("second event: %+v", ev)
	}
	select {
	case ev = <-ch:
		t.Errorf("unexpected third event: %+v", ev)
	default:
	}
}

func TestBus_EventKinds(t *testing.T) {
	b := New(nil, 8)
	ch := b.SubscribeLocal()

	c := model.Candle{Symbol: "X", Timeframe: model.TF1m}
	b.PublishCandleUpdate(c)
	b.PublishCandleComplete(c)

	ev := <-ch
	if ev.Candle == nil || ev.Complete {
		t.Errorf("first event should be a forming update: %+v", ev)
	}
	ev = <-ch
	if ev.Candle == nil || !ev.Complete {
		t.Errorf("second event should be a completion: %+v", ev)
	}
}
