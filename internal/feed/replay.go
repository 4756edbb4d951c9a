package feed

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"stratcore/internal/model"
)

// ReplayConfig configures the historical replay connector.
type ReplayConfig struct {
	// Timeframe of the stored candles to replay from. 1m gives the finest
	// reconstruction.
	Timeframe model.Timeframe

	// FromTS filters candles to those starting after this Unix timestamp
	// (0 = all).
	FromTS int64

	// Speed controls the synthetic clock: 1.0 = real-time, 10.0 = 10x,
	// 0 = as fast as possible.
	Speed float64
}

// Replay drives the pipeline from historical candles in the time-series
// store. Each stored candle is decomposed into its open/high/low/close ticks
// so the aggregator rebuilds byte-identical bars; gaps between buckets are
// simulated by a synthetic clock scaled by Speed.
//
// Replay implements Connector so the rest of the pipeline cannot tell it
// apart from the live feed.
type Replay struct {
	dispatcher

	cfg    ReplayConfig
	reader model.SeriesReader

	mu      sync.Mutex
	symbols map[string]struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewReplay creates a replay connector backed by the given reader.
func NewReplay(cfg ReplayConfig, reader model.SeriesReader) (*Replay, error) {
	if reader == nil {
		return nil, fmt.Errorf("feed: replay requires a series reader")
	}
	if cfg.Timeframe == 0 {
		cfg.Timeframe = model.TF1m
	}
	return &Replay{
		cfg:     cfg,
		reader:  reader,
		symbols: make(map[string]struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Connect loads the candle history and starts emitting ticks.
func (r *Replay) Connect(ctx context.Context) error {
	candles, err := r.reader.ReadAll(ctx, r.cfg.Timeframe, r.cfg.FromTS)
	if err != nil {
		return fmt.Errorf("feed: replay load: %w", err)
	}
	candles = r.filter(candles)
	if len(candles) == 0 {
		return fmt.Errorf("feed: replay found no candles for tf=%s", r.cfg.Timeframe)
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Start.Before(candles[j].Start)
	})

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	go r.run(runCtx, candles)
	log.Printf("[feed] replay started: %d candles, tf=%s, speed=%.1fx",
		len(candles), r.cfg.Timeframe, r.cfg.Speed)
	return nil
}

// Disconnect stops the replay.
func (r *Replay) Disconnect() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()
}

// Subscribe restricts replay to the given symbols. An empty set replays
// everything in the store.
func (r *Replay) Subscribe(symbols []string, exchange string) error {
	r.mu.Lock()
	for _, s := range symbols {
		r.symbols[s] = struct{}{}
	}
	r.mu.Unlock()
	return nil
}

// Unsubscribe drops symbols from the replay set.
func (r *Replay) Unsubscribe(symbols []string) error {
	r.mu.Lock()
	for _, s := range symbols {
		delete(r.symbols, s)
	}
	r.mu.Unlock()
	return nil
}

// Done is closed when the replay has emitted every tick.
func (r *Replay) Done() <-chan struct{} {
	return r.done
}

func (r *Replay) filter(candles []model.Candle) []model.Candle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.symbols) == 0 {
		return candles
	}
	out := candles[:0]
	for _, c := range candles {
		if _, ok := r.symbols[c.Symbol]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *Replay) run(ctx context.Context, candles []model.Candle) {
	defer close(r.done)

	var prevStart time.Time
	emitted := 0

	for _, c := range candles {
		if ctx.Err() != nil {
			log.Printf("[feed] replay cancelled after %d candles", emitted)
			return
		}

		// Synthetic clock: scale the gap between buckets.
		if r.cfg.Speed > 0 && !prevStart.IsZero() {
			gap := c.Start.Sub(prevStart)
			if gap > 0 {
				scaled := time.Duration(float64(gap) / r.cfg.Speed)
				if scaled > 5*time.Second {
					scaled = 5 * time.Second
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(scaled):
				}
			}
		}
		prevStart = c.Start

		for _, tick := range TicksFromCandle(c) {
			r.dispatchTick(tick)
		}
		emitted++
	}

	log.Printf("[feed] replay completed: %d candles emitted", emitted)
}

// TicksFromCandle decomposes a completed candle into the four ticks that
// reproduce its OHLCV exactly: open, high, low, close, spread across the
// bucket with the residual volume on the close.
func TicksFromCandle(c model.Candle) []model.Tick {
	quarter := c.Timeframe.Duration() / 4
	per := c.Volume / 4
	last := c.Volume - 3*per

	return []model.Tick{
		{Symbol: c.Symbol, Exchange: c.Exchange, Price: c.Open, Volume: per, TS: c.Start},
		{Symbol: c.Symbol, Exchange: c.Exchange, Price: c.High, Volume: per, TS: c.Start.Add(quarter)},
		{Symbol: c.Symbol, Exchange: c.Exchange, Price: c.Low, Volume: per, TS: c.Start.Add(2 * quarter)},
		{Symbol: c.Symbol, Exchange: c.Exchange, Price: c.Close, Volume: last, TS: c.Start.Add(3 * quarter)},
	}
}
