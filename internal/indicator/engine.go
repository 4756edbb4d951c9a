package indicator

import (
	"context"
	"fmt"
	"log"
	"time"

	"stratcore/internal/model"
)

// History supplies up to n completed candles for (symbol, tf), oldest first.
// Wired to the candle buffer at startup.
type History func(ctx context.Context, symbol string, tf model.Timeframe, n int) []model.Candle

// Engine computes indicators on demand, consulting a fingerprint-keyed cache
// first. The cache is advisory: errors degrade to recomputation, never to
// request failure.
type Engine struct {
	history History
	cache   model.IndicatorCache
	ttl     time.Duration

	// OnCacheHit and OnCacheMiss are optional metric hooks.
	OnCacheHit  func()
	OnCacheMiss func()
}

// NewEngine creates an engine. cache may be nil (always recompute). ttl
// defaults to 5m.
func NewEngine(history History, cache model.IndicatorCache, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Engine{history: history, cache: cache, ttl: ttl}
}

// CacheKey builds the full cache key for an indicator request.
func CacheKey(symbol string, tf model.Timeframe, typ string, params map[string]float64) string {
	return fmt.Sprintf("indicator:%s:%s:%s", symbol, tf, Fingerprint(typ, params))
}

// Compute returns the indicator value for (symbol, tf, typ, params),
// served from cache when possible. Insufficient history is an error; callers
// decide whether to skip or wait for more bars.
func (e *Engine) Compute(ctx context.Context, symbol string, tf model.Timeframe, typ string, params map[string]float64) (*model.IndicatorValue, error) {
	algo, err := Lookup(typ)
	if err != nil {
		return nil, err
	}
	if err := algo.ValidateParams(params); err != nil {
		return nil, err
	}

	key := CacheKey(symbol, tf, typ, params)
	if e.cache != nil {
		cached, err := e.cache.GetIndicator(ctx, key)
		if err != nil {
			log.Printf("[indicator] cache get %s: %v", key, err)
		} else if cached != nil {
			if e.OnCacheHit != nil {
				e.OnCacheHit()
			}
			return cached, nil
		}
	}
	if e.OnCacheMiss != nil {
		e.OnCacheMiss()
	}

	need := algo.RequiredHistory(params)
	candles := e.history(ctx, symbol, tf, need)
	if len(candles) < need {
		return nil, fmt.Errorf("indicator: %s needs %d candles for %s:%s, have %d",
			algo.Name(), need, symbol, tf, len(candles))
	}

	v, err := algo.Compute(candles, params)
	if err != nil {
		return nil, err
	}
	v.Symbol = symbol
	v.Timeframe = tf
	v.TS = candles[len(candles)-1].Start

	if e.cache != nil {
		if err := e.cache.SetIndicator(ctx, key, v, e.ttl); err != nil {
			log.Printf("[indicator] cache set %s: %v", key, err)
		}
	}
	return v, nil
}

// Invalidate drops every cached value for (symbol, tf). Called on candle
// completion so the next read reflects the new bar.
func (e *Engine) Invalidate(ctx context.Context, symbol string, tf model.Timeframe) {
	if e.cache == nil {
		return
	}
	if err := e.cache.InvalidateIndicators(ctx, symbol, tf); err != nil {
		log.Printf("[indicator] cache invalidate %s:%s: %v", symbol, tf, err)
	}
}
