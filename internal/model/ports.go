package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple pipeline logic from concrete storage
// implementations (Redis, SQLite). Each implementation satisfies one or more
// of these interfaces.

// FormingStore persists forming candles so restarts resume mid-bar.
// Keys are "forming_candle:<symbol>:<timeframe>" with a TTL ≥ 1h.
type FormingStore interface {
	// GetForming returns the forming candle, or nil if none is stored.
	GetForming(ctx context.Context, symbol string, tf Timeframe) (*Candle, error)

	// SetForming upserts the forming candle, refreshing its TTL.
	SetForming(ctx context.Context, c Candle) error

	// DeleteForming removes the forming candle after completion.
	DeleteForming(ctx context.Context, symbol string, tf Timeframe) error
}

// SeriesWriter is the append-only sink for completed candles. Write failures
// are logged by callers and never stall the pipeline.
type SeriesWriter interface {
	// Run reads completed candles from candleCh and writes them.
	// Blocks until ctx is cancelled or candleCh is closed.
	Run(ctx context.Context, candleCh <-chan Candle)

	// Close releases underlying resources.
	Close() error
}

// SeriesReader reads completed candles for buffer rehydration and replay.
type SeriesReader interface {
	// ReadCompleted returns up to limit completed candles for (symbol, tf),
	// oldest first.
	ReadCompleted(ctx context.Context, symbol string, tf Timeframe, limit int) ([]Candle, error)

	// ReadAll returns all completed candles for tf after fromTS, oldest first.
	ReadAll(ctx context.Context, tf Timeframe, fromTS int64) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}

// IndicatorCache caches computed indicator values by fingerprint with a TTL.
// The cache is advisory: a miss or an error means recompute.
type IndicatorCache interface {
	// GetIndicator returns the cached value, or nil on miss.
	GetIndicator(ctx context.Context, key string) (*IndicatorValue, error)

	// SetIndicator stores the value under key with the given TTL.
	SetIndicator(ctx context.Context, key string, v *IndicatorValue, ttl time.Duration) error

	// InvalidateIndicators drops all cached values for (symbol, tf).
	InvalidateIndicators(ctx context.Context, symbol string, tf Timeframe) error
}

// StateStore persists strategy records with a TTL and tracks the set of
// active strategy IDs for restart rehydration.
type StateStore interface {
	// SaveStrategyState upserts the record and refreshes its TTL.
	SaveStrategyState(ctx context.Context, rec *StrategyRecord) error

	// LoadStrategyState returns the record, or nil if absent/expired.
	LoadStrategyState(ctx context.Context, strategyID string) (*StrategyRecord, error)

	// ActiveStrategies returns the IDs in the active set.
	ActiveStrategies(ctx context.Context) ([]string, error)

	// RemoveStrategy deletes the record and drops the ID from the active set.
	RemoveStrategy(ctx context.Context, strategyID string) error
}

// Publisher fans events out to external subscribers over logical channels.
// Delivery is asynchronous and at-least-once; zero listeners is not an error.
type Publisher interface {
	PublishTick(ctx context.Context, t Tick) error
	PublishCandleUpdate(ctx context.Context, c Candle) error
	PublishCandleComplete(ctx context.Context, c Candle) error

	// PublishSignal hands a validated signal to the external order processor
	// via the "signals" channel.
	PublishSignal(ctx context.Context, s Signal) error
}
