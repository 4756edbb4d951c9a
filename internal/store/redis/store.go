// Package redis backs the hot-path state with Redis: forming candles, the
// indicator cache, strategy state, and the external pub/sub fan-out. All
// calls run through a circuit breaker so a Redis outage degrades the
// pipeline instead of stalling it.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"stratcore/internal/model"
)

const (
	defaultFormingTTL = time.Hour
	defaultStateTTL   = 24 * time.Hour

	// signalsStream is the durable handoff to the order processor; the
	// matching pub/sub channel carries the live notification.
	signalsStream  = "signals"
	signalsMaxLen  = 100000
	activeSetKey   = "active_strategies"
	breakerLimit   = 5
	breakerTimeout = 10 * time.Second
)

// Config configures the Redis store.
type Config struct {
	Addr     string
	Password string
	DB       int

	// FormingTTL is the expiry on forming-candle keys. Defaults to 1h.
	FormingTTL time.Duration

	// StateTTL is the expiry on strategy state keys. Defaults to 24h.
	StateTTL time.Duration
}

// Store implements the forming-candle, indicator-cache, strategy-state, and
// publisher ports on one Redis client.
type Store struct {
	client     *goredis.Client
	breaker    *CircuitBreaker
	formingTTL time.Duration
	stateTTL   time.Duration
}

// New connects and pings Redis.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if cfg.FormingTTL <= 0 {
		cfg.FormingTTL = defaultFormingTTL
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = defaultStateTTL
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Store{
		client:     client,
		breaker:    NewCircuitBreaker(breakerLimit, breakerTimeout),
		formingTTL: cfg.FormingTTL,
		stateTTL:   cfg.StateTTL,
	}, nil
}

// Client exposes the underlying client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// Breaker exposes the circuit breaker for metrics wiring.
func (s *Store) Breaker() *CircuitBreaker { return s.breaker }

// Close closes the client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) exec(fn func() error) error {
	return s.breaker.Execute(fn)
}

// ── FormingStore ──

func formingKey(symbol string, tf model.Timeframe) string {
	return "forming_candle:" + symbol + ":" + tf.String()
}

// GetForming returns the persisted forming candle, or nil when absent.
func (s *Store) GetForming(ctx context.Context, symbol string, tf model.Timeframe) (*model.Candle, error) {
	var raw string
	err := s.exec(func() error {
		var err error
		raw, err = s.client.Get(ctx, formingKey(symbol, tf)).Result()
		if err == goredis.Nil {
			raw = ""
			return nil
		}
		return err
	})
	if err != nil || raw == "" {
		return nil, err
	}
	var c model.Candle
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("redis: decode forming %s:%s: %w", symbol, tf, err)
	}
	return &c, nil
}

// SetForming upserts the forming candle, refreshing its TTL.
func (s *Store) SetForming(ctx context.Context, c model.Candle) error {
	return s.exec(func() error {
		return s.client.Set(ctx, formingKey(c.Symbol, c.Timeframe), c.JSON(), s.formingTTL).Err()
	})
}

// DeleteForming drops the forming candle after completion.
func (s *Store) DeleteForming(ctx context.Context, symbol string, tf model.Timeframe) error {
	return s.exec(func() error {
		return s.client.Del(ctx, formingKey(symbol, tf)).Err()
	})
}

// ── IndicatorCache ──

// GetIndicator returns the cached value, or nil on miss.
func (s *Store) GetIndicator(ctx context.Context, key string) (*model.IndicatorValue, error) {
	var raw string
	err := s.exec(func() error {
		var err error
		raw, err = s.client.Get(ctx, key).Result()
		if err == goredis.Nil {
			raw = ""
			return nil
		}
		return err
	})
	if err != nil || raw == "" {
		return nil, err
	}
	var v model.IndicatorValue
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("redis: decode indicator %s: %w", key, err)
	}
	return &v, nil
}

// SetIndicator caches the value with a TTL.
func (s *Store) SetIndicator(ctx context.Context, key string, v *model.IndicatorValue, ttl time.Duration) error {
	return s.exec(func() error {
		return s.client.Set(ctx, key, v.JSON(), ttl).Err()
	})
}

// InvalidateIndicators drops all cached values for (symbol, tf) by scanning
// the key prefix. Key counts per pair are small (one per distinct request).
func (s *Store) InvalidateIndicators(ctx context.Context, symbol string, tf model.Timeframe) error {
	pattern := "indicator:" + symbol + ":" + tf.String() + ":*"
	return s.exec(func() error {
		iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		return s.client.Del(ctx, keys...).Err()
	})
}

// ── StateStore ──

// SaveStrategyState upserts the record, refreshes its TTL, and keeps the
// active set in sync.
func (s *Store) SaveStrategyState(ctx context.Context, rec *model.StrategyRecord) error {
	return s.exec(func() error {
		pipe := s.client.Pipeline()
		pipe.Set(ctx, rec.StateKey(), rec.JSON(), s.stateTTL)
		pipe.SAdd(ctx, activeSetKey, rec.Config.StrategyID)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// LoadStrategyState returns the record, or nil when absent or expired.
func (s *Store) LoadStrategyState(ctx context.Context, strategyID string) (*model.StrategyRecord, error) {
	var raw string
	err := s.exec(func() error {
		var err error
		raw, err = s.client.Get(ctx, "strategy_state:"+strategyID).Result()
		if err == goredis.Nil {
			raw = ""
			return nil
		}
		return err
	})
	if err != nil || raw == "" {
		return nil, err
	}
	var rec model.StrategyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("redis: decode strategy state %s: %w", strategyID, err)
	}
	return &rec, nil
}

// ActiveStrategies returns the IDs in the active set.
func (s *Store) ActiveStrategies(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.exec(func() error {
		var err error
		ids, err = s.client.SMembers(ctx, activeSetKey).Result()
		if err == goredis.Nil {
			ids = nil
			return nil
		}
		return err
	})
	return ids, err
}

// RemoveStrategy deletes the record and drops the ID from the active set.
func (s *Store) RemoveStrategy(ctx context.Context, strategyID string) error {
	return s.exec(func() error {
		pipe := s.client.Pipeline()
		pipe.Del(ctx, "strategy_state:"+strategyID)
		pipe.SRem(ctx, activeSetKey, strategyID)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// ── Publisher ──

// PublishTick publishes on "tick:<symbol>".
func (s *Store) PublishTick(ctx context.Context, t model.Tick) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.exec(func() error {
		return s.client.Publish(ctx, "tick:"+t.Symbol, raw).Err()
	})
}

// PublishCandleUpdate publishes on "candle_update:<symbol>:<tf>".
func (s *Store) PublishCandleUpdate(ctx context.Context, c model.Candle) error {
	return s.exec(func() error {
		return s.client.Publish(ctx, "candle_update:"+c.Symbol+":"+c.Timeframe.String(), c.JSON()).Err()
	})
}

// PublishCandleComplete publishes on "candle_complete:<symbol>:<tf>".
func (s *Store) PublishCandleComplete(ctx context.Context, c model.Candle) error {
	return s.exec(func() error {
		return s.client.Publish(ctx, "candle_complete:"+c.Symbol+":"+c.Timeframe.String(), c.JSON()).Err()
	})
}

// PublishSignal appends the signal to the durable signals stream and notifies
// live listeners. The stream entry keyed by the signal ID gives the order
// processor at-least-once delivery with idempotent dedup.
func (s *Store) PublishSignal(ctx context.Context, sig model.Signal) error {
	data := sig.JSON()
	return s.exec(func() error {
		pipe := s.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: signalsStream,
			MaxLen: signalsMaxLen,
			Approx: true,
			Values: map[string]interface{}{"id": sig.ID, "data": string(data)},
		})
		pipe.Publish(ctx, signalsStream, data)
		_, err := pipe.Exec(ctx)
		return err
	})
}
