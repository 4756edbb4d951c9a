// Package memory provides process-local implementations of the storage ports
// for replay runs without a Redis and for tests. Semantics match the Redis
// store, including TTL expiry on reads.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"stratcore/internal/model"
)

type entry struct {
	value     any
	expiresAt time.Time // zero = no expiry
}

// Store is an in-memory FormingStore, IndicatorCache, and StateStore.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	active  map[string]struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries: make(map[string]entry),
		active:  make(map[string]struct{}),
	}
}

func (s *Store) get(key string) (any, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e.value, true
}

func (s *Store) set(key string, v any, ttl time.Duration) {
	e := entry{value: v}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = e
}

// ── FormingStore ──

func (s *Store) GetForming(ctx context.Context, symbol string, tf model.Timeframe) (*model.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.get("forming_candle:" + symbol + ":" + tf.String()); ok {
		c := v.(model.Candle)
		return &c, nil
	}
	return nil, nil
}

func (s *Store) SetForming(ctx context.Context, c model.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set("forming_candle:"+c.Symbol+":"+c.Timeframe.String(), c, time.Hour)
	return nil
}

func (s *Store) DeleteForming(ctx context.Context, symbol string, tf model.Timeframe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, "forming_candle:"+symbol+":"+tf.String())
	return nil
}

// ── IndicatorCache ──

func (s *Store) GetIndicator(ctx context.Context, key string) (*model.IndicatorValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.get(key); ok {
		iv := v.(model.IndicatorValue)
		return &iv, nil
	}
	return nil, nil
}

func (s *Store) SetIndicator(ctx context.Context, key string, v *model.IndicatorValue, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key, *v, ttl)
	return nil
}

func (s *Store) InvalidateIndicators(ctx context.Context, symbol string, tf model.Timeframe) error {
	prefix := "indicator:" + symbol + ":" + tf.String() + ":"
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
		}
	}
	return nil
}

// ── StateStore ──

func (s *Store) SaveStrategyState(ctx context.Context, rec *model.StrategyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(rec.StateKey(), *rec, 24*time.Hour)
	s.active[rec.Config.StrategyID] = struct{}{}
	return nil
}

func (s *Store) LoadStrategyState(ctx context.Context, strategyID string) (*model.StrategyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.get("strategy_state:" + strategyID); ok {
		rec := v.(model.StrategyRecord)
		return &rec, nil
	}
	return nil, nil
}

func (s *Store) ActiveStrategies(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) RemoveStrategy(ctx context.Context, strategyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, "strategy_state:"+strategyID)
	delete(s.active, strategyID)
	return nil
}
