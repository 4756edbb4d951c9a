// Package bus is the distribution layer between the candle pipeline and its
// consumers: a subscription registry plus fan-out over logical channels.
// External subscribers receive through the Publisher (Redis pub/sub);
// in-process consumers (the strategy scheduler) receive through bounded local
// channels with drop-on-full backpressure.
package bus

import (
	"context"
	"log"
	"sync"

	"stratcore/internal/model"
)

// Event is one routed pipeline event. Exactly one of Tick or Candle is set;
// Complete distinguishes candle completions from forming updates.
type Event struct {
	Tick     *model.Tick
	Candle   *model.Candle
	Complete bool
}

type pubOp struct {
	event Event
}

// Bus maintains the subscriber registry and fans events out. The registry is
// read-mostly: publishes take the read lock, subscribe/unsubscribe take the
// write lock only for the mutation.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]map[string]*model.Subscription // subscriberID → symbol → sub
	symbolIdx map[string]map[string]struct{}            // symbol → subscriberIDs

	pub   model.Publisher // optional external fan-out
	pubCh chan pubOp

	localMu  sync.RWMutex
	locals   []chan Event
	localBuf int

	// OnSymbolActive fires when a symbol gains its first subscriber; the
	// feed connector should subscribe upstream.
	OnSymbolActive func(symbol, exchange string)

	// OnSymbolIdle fires when a symbol loses its last subscriber; the feed
	// connector should drop it upstream.
	OnSymbolIdle func(symbol string)

	// OnDrop is called when a local consumer's channel is full and an event
	// is dropped for it.
	OnDrop func(consumerIdx int)
}

// New creates a Bus. pub may be nil (in-process delivery only).
// localBuf is the buffer size of local consumer channels.
func New(pub model.Publisher, localBuf int) *Bus {
	if localBuf <= 0 {
		localBuf = 1024
	}
	return &Bus{
		subs:      make(map[string]map[string]*model.Subscription),
		symbolIdx: make(map[string]map[string]struct{}),
		pub:       pub,
		pubCh:     make(chan pubOp, 4096),
		localBuf:  localBuf,
	}
}

// ── Registry ──

// Subscribe registers interest in (symbol, timeframes). Idempotent: repeated
// calls merge timeframes into the existing subscription.
func (b *Bus) Subscribe(subscriberID, symbol string, tfs []model.Timeframe, exchange string) {
	var activated bool

	b.mu.Lock()
	bySym, ok := b.subs[subscriberID]
	if !ok {
		bySym = make(map[string]*model.Subscription)
		b.subs[subscriberID] = bySym
	}
	sub, ok := bySym[symbol]
	if !ok {
		sub = &model.Subscription{
			SubscriberID: subscriberID,
			Symbol:       symbol,
			Exchange:     exchange,
			Timeframes:   make(map[model.Timeframe]struct{}),
		}
		bySym[symbol] = sub
	}
	for _, tf := range tfs {
		sub.Timeframes[tf] = struct{}{}
	}

	idx, ok := b.symbolIdx[symbol]
	if !ok {
		idx = make(map[string]struct{})
		b.symbolIdx[symbol] = idx
	}
	if len(idx) == 0 {
		activated = true
	}
	idx[subscriberID] = struct{}{}
	b.mu.Unlock()

	if activated && b.OnSymbolActive != nil {
		b.OnSymbolActive(symbol, exchange)
	}
}

// Unsubscribe removes interest. All four combinations are supported:
// symbol=="" drops every symbol for the subscriber; tfs==nil drops all
// timeframes of the targeted subscriptions. Subscriptions whose timeframe
// set empties are deleted; symbols whose subscriber set empties are reported
// idle. Safe to call repeatedly.
func (b *Bus) Unsubscribe(subscriberID, symbol string, tfs []model.Timeframe) {
	var idled []string

	b.mu.Lock()
	bySym, ok := b.subs[subscriberID]
	if ok {
		targets := make([]string, 0, len(bySym))
		if symbol == "" {
			for s := range bySym {
				targets = append(targets, s)
			}
		} else if _, ok := bySym[symbol]; ok {
			targets = append(targets, symbol)
		}

		for _, s := range targets {
			sub := bySym[s]
			if tfs == nil {
				sub.Timeframes = map[model.Timeframe]struct{}{}
			} else {
				for _, tf := range tfs {
					delete(sub.Timeframes, tf)
				}
			}
			if len(sub.Timeframes) == 0 {
				delete(bySym, s)
				if idx, ok := b.symbolIdx[s]; ok {
					delete(idx, subscriberID)
					if len(idx) == 0 {
						delete(b.symbolIdx, s)
						idled = append(idled, s)
					}
				}
			}
		}
		if len(bySym) == 0 {
			delete(b.subs, subscriberID)
		}
	}
	b.mu.Unlock()

	if b.OnSymbolIdle != nil {
		for _, s := range idled {
			b.OnSymbolIdle(s)
		}
	}
}

// Subscribers returns the subscriber IDs currently registered for symbol.
func (b *Bus) Subscribers(symbol string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	idx := b.symbolIdx[symbol]
	out := make([]string, 0, len(idx))
	for id := range idx {
		out = append(out, id)
	}
	return out
}

// ActiveSymbols returns every symbol with at least one subscriber.
func (b *Bus) ActiveSymbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.symbolIdx))
	for sym := range b.symbolIdx {
		out = append(out, sym)
	}
	return out
}

// Subscription returns a copy of the (subscriberID, symbol) subscription, or
// nil if none exists.
func (b *Bus) Subscription(subscriberID, symbol string) *model.Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sub, ok := b.subs[subscriberID][symbol]
	if !ok {
		return nil
	}
	cp := model.Subscription{
		SubscriberID: sub.SubscriberID,
		Symbol:       sub.Symbol,
		Exchange:     sub.Exchange,
		Timeframes:   make(map[model.Timeframe]struct{}, len(sub.Timeframes)),
	}
	for tf := range sub.Timeframes {
		cp.Timeframes[tf] = struct{}{}
	}
	return &cp
}

// ── Fan-out ──

// SubscribeLocal returns a bounded channel receiving every published event.
// Slow consumers have events dropped, never block the pipeline.
func (b *Bus) SubscribeLocal() <-chan Event {
	ch := make(chan Event, b.localBuf)
	b.localMu.Lock()
	b.locals = append(b.locals, ch)
	b.localMu.Unlock()
	return ch
}

// PublishTick fans a tick out on channel "tick:<symbol>".
func (b *Bus) PublishTick(t model.Tick) {
	b.emit(Event{Tick: &t})
}

// PublishCandleUpdate fans a forming-candle update out on
// "candle_update:<symbol>:<tf>".
func (b *Bus) PublishCandleUpdate(c model.Candle) {
	b.emit(Event{Candle: &c})
}

// PublishCandleComplete fans a completed candle out on
// "candle_complete:<symbol>:<tf>".
func (b *Bus) PublishCandleComplete(c model.Candle) {
	b.emit(Event{Candle: &c, Complete: true})
}

func (b *Bus) emit(ev Event) {
	// Local consumers: non-blocking per-channel delivery.
	b.localMu.RLock()
	for i, ch := range b.locals {
		select {
		case ch <- ev:
		default:
			if b.OnDrop != nil {
				b.OnDrop(i)
			}
		}
	}
	b.localMu.RUnlock()

	// External publisher: queued, drained by RunPublisher.
	if b.pub != nil {
		select {
		case b.pubCh <- pubOp{event: ev}:
		default:
			log.Printf("[bus] publish queue full, dropping external event")
		}
	}
}

// RunPublisher drains the external publish queue. Publish failures are
// logged; at-least-once delivery is the Publisher's concern.
// Blocks until ctx is cancelled.
func (b *Bus) RunPublisher(ctx context.Context) {
	if b.pub == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-b.pubCh:
			var err error
			switch {
			case op.event.Tick != nil:
				err = b.pub.PublishTick(ctx, *op.event.Tick)
			case op.event.Complete:
				err = b.pub.PublishCandleComplete(ctx, *op.event.Candle)
			default:
				err = b.pub.PublishCandleUpdate(ctx, *op.event.Candle)
			}
			if err != nil {
				log.Printf("[bus] external publish error: %v", err)
			}
		}
	}
}
