// cmd/replay drives the full strategy pipeline from stored candles.
//
// The replay connector implements the same interface as the live feed, so
// aggregation, distribution, and strategy execution run unmodified. A
// synthetic clock scales inter-candle gaps by REPLAY_SPEED (0 = as fast as
// possible). Redis is optional; without it state lives in memory.
package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"stratcore/config"
	"stratcore/internal/bus"
	"stratcore/internal/candle"
	"stratcore/internal/feed"
	"stratcore/internal/indicator"
	"stratcore/internal/logger"
	"stratcore/internal/model"
	"stratcore/internal/mtf"
	"stratcore/internal/risk"
	memstore "stratcore/internal/store/memory"
	redisstore "stratcore/internal/store/redis"
	sqlitestore "stratcore/internal/store/sqlite"
	"stratcore/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("replay", slog.LevelInfo)

	cfg := config.Load()
	loc := cfg.Location()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Series reader (replay source) ----
	reader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[replay] sqlite reader init failed: %v", err)
	}
	defer reader.Close()

	// ---- State: Redis when reachable, in-memory otherwise ----
	var (
		forming model.FormingStore
		cache   model.IndicatorCache
		state   model.StateStore
		pub     model.Publisher
	)
	if rstore, err := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}); err != nil {
		log.Printf("[replay] redis unavailable (%v), using in-memory state", err)
		mem := memstore.New()
		forming, cache, state = mem, mem, mem
	} else {
		defer rstore.Close()
		forming, cache, state, pub = rstore, rstore, rstore, rstore
	}

	// ---- Pipeline ----
	tickCh := make(chan model.Tick, cfg.TickChanSize)

	buffer := candle.NewBuffer(cfg.CandleBufferSize, reader)
	agg := candle.New(loc, forming)
	b := bus.New(pub, 4096)
	engine := indicator.NewEngine(buffer.Last, cache, cfg.IndicatorCacheTTL)
	assembler := mtf.New(buffer, agg, engine, cfg.HistoryDepth, cfg.FreshnessWindow)

	gate := risk.New(cfg.MaxConcurrent)
	sched := strategy.NewScheduler(state, signalSink{pub}, assembler, b, gate, cfg.Exchange)
	gate.Wire(sched, sched.CountRunning)

	agg.OnUpdate(func(c model.Candle) { b.PublishCandleUpdate(c) })
	agg.OnComplete(func(c model.Candle) {
		buffer.Append(c)
		engine.Invalidate(ctx, c.Symbol, c.Timeframe)
		b.PublishCandleComplete(c)
	})

	// ---- Replay connector ----
	replay, err := feed.NewReplay(feed.ReplayConfig{
		Timeframe: model.TF1m,
		FromTS:    cfg.ReplayFrom,
		Speed:     cfg.ReplaySpeed,
	}, reader)
	if err != nil {
		log.Fatalf("[replay] init failed: %v", err)
	}
	replay.OnTick(func(t model.Tick) {
		select {
		case tickCh <- t:
		default:
			log.Printf("[replay] tick channel full, dropping %s", t.Symbol)
		}
		b.PublishTick(t)
	})

	go agg.Run(ctx, tickCh)
	go agg.RunPersister(ctx)
	go b.RunPublisher(ctx)
	go sched.Run(ctx)

	// ---- Strategies ----
	loadStrategies(ctx, sched, replay)

	if err := replay.Connect(ctx); err != nil {
		log.Fatalf("[replay] connect: %v", err)
	}

	select {
	case <-replay.Done():
		log.Println("[replay] finished")
	case <-sigCh:
		log.Println("[replay] interrupted")
		replay.Disconnect()
	}
	cancel()
}

// signalSink routes signals to the publisher when present, else logs them so
// a Redis-free replay still shows what the strategies would have ordered.
type signalSink struct {
	pub model.Publisher
}

func (s signalSink) PublishTick(ctx context.Context, t model.Tick) error {
	if s.pub != nil {
		return s.pub.PublishTick(ctx, t)
	}
	return nil
}

func (s signalSink) PublishCandleUpdate(ctx context.Context, c model.Candle) error {
	if s.pub != nil {
		return s.pub.PublishCandleUpdate(ctx, c)
	}
	return nil
}

func (s signalSink) PublishCandleComplete(ctx context.Context, c model.Candle) error {
	if s.pub != nil {
		return s.pub.PublishCandleComplete(ctx, c)
	}
	return nil
}

func (s signalSink) PublishSignal(ctx context.Context, sig model.Signal) error {
	if s.pub != nil {
		return s.pub.PublishSignal(ctx, sig)
	}
	log.Printf("[replay] signal: %s", sig.JSON())
	return nil
}

// loadStrategies reads STRATEGIES_FILE and restricts the replay to the union
// of the configured symbols.
func loadStrategies(ctx context.Context, sched *strategy.Scheduler, replay *feed.Replay) {
	path := os.Getenv("STRATEGIES_FILE")
	if path == "" {
		log.Println("[replay] no STRATEGIES_FILE set, replaying candles only")
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("[replay] strategies file: %v", err)
	}
	var configs []model.StrategyConfig
	if err := json.Unmarshal(raw, &configs); err != nil {
		log.Fatalf("[replay] strategies file parse: %v", err)
	}
	for _, sc := range configs {
		if err := sched.Load(ctx, sc); err != nil {
			log.Printf("[replay] load strategy %s: %v", sc.StrategyID, err)
			continue
		}
		replay.Subscribe(sc.Symbols, "")
	}
}
