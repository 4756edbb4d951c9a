// Package feed adapts upstream tick sources to the pipeline. Two connectors
// exist: a live WebSocket adapter and a replay adapter that drives the same
// pipeline from historical candles with a synthetic clock.
package feed

import (
	"context"
	"log"
	"sync"

	"stratcore/internal/model"
)

// Connector is the polymorphic tick source. Implementations fan ticks out to
// every registered listener synchronously in arrival order per symbol;
// cross-symbol order is not guaranteed.
type Connector interface {
	// Connect establishes the upstream session. Permanent failures (bad
	// credentials, unreachable host) return an error; transient failures are
	// retried internally after a successful first connect.
	Connect(ctx context.Context) error

	// Disconnect tears the session down and stops reconnection.
	Disconnect()

	// Subscribe requests ticks for symbols on an exchange. The set is
	// replayed upstream after every reconnect.
	Subscribe(symbols []string, exchange string) error

	// Unsubscribe drops symbols from the upstream request set.
	Unsubscribe(symbols []string) error

	// OnTick registers a tick listener.
	OnTick(fn func(model.Tick))

	// OnConnectionLost registers a listener invoked when the upstream
	// session drops.
	OnConnectionLost(fn func())
}

// dispatcher is the shared listener fan-out. A panicking listener is isolated
// here so one consumer can never take down the feed read loop.
type dispatcher struct {
	mu   sync.RWMutex
	tick []func(model.Tick)
	lost []func()
}

func (d *dispatcher) OnTick(fn func(model.Tick)) {
	d.mu.Lock()
	d.tick = append(d.tick, fn)
	d.mu.Unlock()
}

func (d *dispatcher) OnConnectionLost(fn func()) {
	d.mu.Lock()
	d.lost = append(d.lost, fn)
	d.mu.Unlock()
}

func (d *dispatcher) dispatchTick(t model.Tick) {
	d.mu.RLock()
	listeners := d.tick
	d.mu.RUnlock()
	for _, fn := range listeners {
		safeCall(func() { fn(t) })
	}
}

func (d *dispatcher) dispatchLost() {
	d.mu.RLock()
	listeners := d.lost
	d.mu.RUnlock()
	for _, fn := range listeners {
		safeCall(fn)
	}
}

func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[feed] listener panic recovered: %v", r)
		}
	}()
	fn()
}
