package candle

import (
	"context"
	"log"
	"sync"

	"stratcore/internal/model"
)

// Buffer holds the most recent completed candles per (symbol, timeframe) in a
// fixed-size ring. Misses are rehydrated from the time-series reader, so a
// fresh process can serve history before it has completed any bars itself.
type Buffer struct {
	mu     sync.RWMutex
	size   int
	rings  map[string]*ring // key = "symbol:tf"
	reader model.SeriesReader
}

type ring struct {
	buf   []model.Candle
	head  int // next write position
	count int
}

// NewBuffer creates a buffer keeping size candles per key. reader may be nil
// (no rehydration).
func NewBuffer(size int, reader model.SeriesReader) *Buffer {
	if size <= 0 {
		size = 500
	}
	return &Buffer{
		size:   size,
		rings:  make(map[string]*ring),
		reader: reader,
	}
}

// Append records a completed candle. Oldest entries are overwritten once the
// ring is full.
func (b *Buffer) Append(c model.Candle) {
	key := c.Key()
	b.mu.Lock()
	r, ok := b.rings[key]
	if !ok {
		r = &ring{buf: make([]model.Candle, b.size)}
		b.rings[key] = r
	}
	r.push(c)
	b.mu.Unlock()
}

// Last returns up to n completed candles for (symbol, tf), oldest first.
// On a cold key it rehydrates from the time-series reader first.
func (b *Buffer) Last(ctx context.Context, symbol string, tf model.Timeframe, n int) []model.Candle {
	key := symbol + ":" + tf.String()

	b.mu.RLock()
	r, ok := b.rings[key]
	b.mu.RUnlock()

	if !ok {
		r = b.hydrate(ctx, symbol, tf)
	}
	if r == nil {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return r.last(n)
}

// Latest returns the newest completed candle for (symbol, tf), or nil.
func (b *Buffer) Latest(symbol string, tf model.Timeframe) *model.Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.rings[symbol+":"+tf.String()]
	if !ok || r.count == 0 {
		return nil
	}
	c := r.buf[(r.head-1+len(r.buf))%len(r.buf)]
	return &c
}

func (b *Buffer) hydrate(ctx context.Context, symbol string, tf model.Timeframe) *ring {
	key := symbol + ":" + tf.String()

	var seed []model.Candle
	if b.reader != nil {
		var err error
		seed, err = b.reader.ReadCompleted(ctx, symbol, tf, b.size)
		if err != nil {
			log.Printf("[candle] buffer rehydrate failed for %s: %v", key, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// Another goroutine may have hydrated while we read.
	if r, ok := b.rings[key]; ok {
		return r
	}
	r := &ring{buf: make([]model.Candle, b.size)}
	for _, c := range seed {
		r.push(c)
	}
	b.rings[key] = r
	return r
}

func (r *ring) push(c model.Candle) {
	r.buf[r.head] = c
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *ring) last(n int) []model.Candle {
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]model.Candle, n)
	start := (r.head - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}
