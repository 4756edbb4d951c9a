// Package candle builds multi-timeframe OHLCV candles from a stream of ticks.
// The aggregator maintains one forming candle per (symbol, timeframe) and
// completes it exactly once when a tick arrives in a later bucket. Completion
// is edge-triggered: a bar with no follow-up tick stays forming until the next
// tick or an explicit ForceComplete.
package candle

import (
	"context"
	"log"
	"sync"
	"time"

	"stratcore/internal/model"
)

const persistRetries = 3

// Aggregator is the tick → candle state machine over the seven supported
// timeframes. The in-memory forming map is the working copy; the forming
// store is written behind it so restarts resume mid-bar.
type Aggregator struct {
	mu      sync.Mutex
	loc     *time.Location
	tfs     []model.Timeframe
	forming map[string]*model.Candle // key = "symbol:tf"
	seeded  map[string]bool          // keys already checked against the store

	store     model.FormingStore // optional
	persistCh chan persistOp

	onUpdate   []func(model.Candle)
	onComplete []func(model.Candle)

	// Metrics hooks (optional, set externally)
	OnDroppedTick func()
	OnStoreError  func(error)
}

type persistOp struct {
	candle model.Candle
	delete bool
}

// New creates an aggregator bucketing in the given exchange timezone.
// store may be nil (in-memory only, used in tests and replay).
func New(loc *time.Location, store model.FormingStore) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{
		loc:       loc,
		tfs:       model.AllTimeframes(),
		forming:   make(map[string]*model.Candle),
		seeded:    make(map[string]bool),
		store:     store,
		persistCh: make(chan persistOp, 4096),
	}
}

// OnUpdate registers a callback fired on every tick that touches a forming
// candle. Callbacks run synchronously in tick order per (symbol, timeframe).
func (a *Aggregator) OnUpdate(fn func(model.Candle)) {
	a.onUpdate = append(a.onUpdate, fn)
}

// OnComplete registers a callback fired exactly once per completed bar,
// before any callback for the next bar of the same (symbol, timeframe).
func (a *Aggregator) OnComplete(fn func(model.Candle)) {
	a.onComplete = append(a.onComplete, fn)
}

// Run consumes ticks from tickCh until ctx is cancelled or the channel closes.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-tickCh:
			if !ok {
				return
			}
			a.ProcessTick(ctx, tick)
		}
	}
}

// ProcessTick folds one tick into all seven timeframes.
func (a *Aggregator) ProcessTick(ctx context.Context, tick model.Tick) {
	if !tick.Valid() {
		if a.OnDroppedTick != nil {
			a.OnDroppedTick()
		}
		return
	}

	a.mu.Lock()
	type fired struct {
		candle   model.Candle
		complete bool
	}
	var events []fired

	for _, tf := range a.tfs {
		start := tf.Bucket(tick.TS, a.loc)
		key := tick.Symbol + ":" + tf.String()

		st, exists := a.forming[key]
		if !exists && !a.seeded[key] {
			// First touch since startup: adopt any persisted forming candle.
			a.seeded[key] = true
			if rehydrated := a.rehydrate(ctx, tick.Symbol, tf); rehydrated != nil {
				a.forming[key] = rehydrated
				st, exists = rehydrated, true
			}
		}

		if exists && start.Before(st.Start) {
			// Late tick behind the forming bucket.
			if a.OnDroppedTick != nil {
				a.OnDroppedTick()
			}
			continue
		}

		if exists && start.After(st.Start) {
			// New bucket: complete the forming candle first.
			done := *st
			done.Forming = false
			events = append(events, fired{candle: done, complete: true})
			a.enqueue(persistOp{candle: done, delete: true})
			delete(a.forming, key)
			exists = false
		}

		if !exists {
			fresh := model.NewForming(tick, tf, start)
			a.forming[key] = &fresh
			a.enqueue(persistOp{candle: fresh})
			events = append(events, fired{candle: fresh})
			continue
		}

		st.Apply(tick)
		a.enqueue(persistOp{candle: *st})
		events = append(events, fired{candle: *st})
	}
	a.mu.Unlock()

	// Dispatch outside the lock; per-key order is preserved because
	// ProcessTick itself is serialized per symbol by the feed contract.
	for _, ev := range events {
		if ev.complete {
			for _, fn := range a.onComplete {
				fn(ev.candle)
			}
		} else {
			for _, fn := range a.onUpdate {
				fn(ev.candle)
			}
		}
	}
}

// ForceComplete finalizes the forming candle for (symbol, tf), if any.
// Used for end-of-session flushes.
func (a *Aggregator) ForceComplete(symbol string, tf model.Timeframe) {
	key := symbol + ":" + tf.String()

	a.mu.Lock()
	st, ok := a.forming[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	done := *st
	done.Forming = false
	delete(a.forming, key)
	a.enqueue(persistOp{candle: done, delete: true})
	a.mu.Unlock()

	for _, fn := range a.onComplete {
		fn(done)
	}
}

// Forming returns a copy of the forming candle for (symbol, tf), or nil.
func (a *Aggregator) Forming(symbol string, tf model.Timeframe) *model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.forming[symbol+":"+tf.String()]; ok {
		c := *st
		return &c
	}
	return nil
}

// RunPersister drains forming-candle writes to the store off the hot path.
// Blocks until ctx is cancelled.
func (a *Aggregator) RunPersister(ctx context.Context) {
	if a.store == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-a.persistCh:
			a.persist(ctx, op)
		}
	}
}

func (a *Aggregator) persist(ctx context.Context, op persistOp) {
	var err error
	for attempt := 0; attempt < persistRetries; attempt++ {
		if op.delete {
			err = a.store.DeleteForming(ctx, op.candle.Symbol, op.candle.Timeframe)
		} else {
			err = a.store.SetForming(ctx, op.candle)
		}
		if err == nil || ctx.Err() != nil {
			return
		}
	}
	log.Printf("[candle] forming store write failed for %s after %d attempts: %v",
		op.candle.Key(), persistRetries, err)
	if a.OnStoreError != nil {
		a.OnStoreError(err)
	}
}

// rehydrate loads a persisted forming candle during the first touch of a key.
// Called with the mutex held; the read is synchronous but happens at most
// once per (symbol, tf).
func (a *Aggregator) rehydrate(ctx context.Context, symbol string, tf model.Timeframe) *model.Candle {
	if a.store == nil {
		return nil
	}
	c, err := a.store.GetForming(ctx, symbol, tf)
	if err != nil {
		log.Printf("[candle] forming store read failed for %s:%s: %v", symbol, tf, err)
		return nil
	}
	return c
}

func (a *Aggregator) enqueue(op persistOp) {
	if a.store == nil {
		return
	}
	select {
	case a.persistCh <- op:
	default:
		// Persistence lagging; the in-memory copy stays authoritative.
	}
}
