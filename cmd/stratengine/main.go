// cmd/stratengine is the strategy execution engine.
//
// Pipeline: [Feed WS] → [Candle Aggregator] → [Distribution Bus] →
// [Strategy Scheduler] → [signals stream], with Redis for hot state and
// SQLite for the completed-candle series.
package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"stratcore/config"
	"stratcore/internal/bus"
	"stratcore/internal/candle"
	"stratcore/internal/feed"
	"stratcore/internal/indicator"
	"stratcore/internal/logger"
	"stratcore/internal/markethours"
	"stratcore/internal/metrics"
	"stratcore/internal/model"
	"stratcore/internal/mtf"
	"stratcore/internal/notification"
	"stratcore/internal/risk"
	redisstore "stratcore/internal/store/redis"
	sqlitestore "stratcore/internal/store/sqlite"
	"stratcore/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("stratengine", slog.LevelInfo)
	log.Println("[stratengine] starting...")

	cfg := config.Load()
	loc := cfg.Location()

	// ---- Metrics & health ----
	prom := metrics.New()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// ---- SQLite series store ----
	os.MkdirAll("data", 0o755)
	seriesWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[stratengine] sqlite init failed: %v", err)
	}
	defer seriesWriter.Close()

	seriesReader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[stratengine] sqlite reader init failed: %v", err)
	}
	defer seriesReader.Close()

	// ---- Redis hot state ----
	rstore, err := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		StateTTL: cfg.StrategyStateTTL,
	})
	if err != nil {
		log.Fatalf("[stratengine] redis init failed: %v", err)
	}
	defer rstore.Close()

	rstore.Breaker().OnStateChange = func(from, to redisstore.State) {
		prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			prom.RedisCircuitBreakerTrips.Inc()
		}
		log.Printf("[stratengine] redis circuit breaker: %s -> %s", from, to)
	}
	health.StartLivenessChecker(ctx, rstore.Client(), seriesWriter.DB(), 10*time.Second)

	// ---- Pipeline channels ----
	tickCh := make(chan model.Tick, cfg.TickChanSize)
	seriesCh := make(chan model.Candle, 5000)

	// ---- Candle buffer + aggregator ----
	buffer := candle.NewBuffer(cfg.CandleBufferSize, seriesReader)

	agg := candle.New(loc, rstore)
	agg.OnDroppedTick = func() { prom.DroppedTicks.Inc() }
	agg.OnStoreError = func(error) { prom.PersistFailures.Inc() }

	// ---- Distribution bus ----
	b := bus.New(rstore, 4096)
	b.OnDrop = func(consumerIdx int) {
		prom.BusDropsTotal.WithLabelValues(strconv.Itoa(consumerIdx)).Inc()
	}

	// ---- Indicator engine ----
	engine := indicator.NewEngine(buffer.Last, rstore, cfg.IndicatorCacheTTL)
	engine.OnCacheHit = func() { prom.IndicatorCacheHits.Inc() }
	engine.OnCacheMiss = func() { prom.IndicatorCacheMisses.Inc() }

	// ---- Alerting ----
	var backends []notification.Notifier
	if cfg.AlertWebhookURL != "" {
		backends = append(backends, notification.NewWebhook(cfg.AlertWebhookURL, "stratengine"))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	alerter := notification.NewAlerter(backends...)

	// ---- Assembler, risk gate, scheduler ----
	assembler := mtf.New(buffer, agg, engine, cfg.HistoryDepth, cfg.FreshnessWindow)

	gate := risk.New(cfg.MaxConcurrent)
	gate.SetMaxConcurrent(model.ModePaper, cfg.MaxConcurrentPaper)
	gate.SetMaxConcurrent(model.ModeLive, cfg.MaxConcurrentLive)
	gate.OnBreach = func() {
		prom.RiskBreaches.Inc()
		alerter.Post(notification.Alert{
			Level:   notification.LevelCritical,
			Title:   "Risk limit breached",
			Message: "max loss exceeded; running strategies paused pending acknowledgement",
		})
	}

	sched := strategy.NewScheduler(rstore, rstore, assembler, b, gate, cfg.Exchange)
	sched.OnStrategyError = func() {
		prom.StrategyErrors.Inc()
		alerter.Post(notification.Alert{
			Level:   notification.LevelWarning,
			Title:   "Strategy error",
			Message: "a strategy callback failed and the instance moved to error status",
		})
	}
	sched.OnSignal = func() { prom.SignalsTotal.Inc() }
	sched.OnFleetPause = func() { prom.FleetPauses.Inc() }
	gate.Wire(sched, sched.CountRunning)

	// ---- Aggregator event wiring ----
	agg.OnUpdate(func(c model.Candle) {
		b.PublishCandleUpdate(c)
	})
	agg.OnComplete(func(c model.Candle) {
		prom.CandlesCompleted.WithLabelValues(c.Timeframe.String()).Inc()
		buffer.Append(c)
		engine.Invalidate(ctx, c.Symbol, c.Timeframe)
		b.PublishCandleComplete(c)
		select {
		case seriesCh <- c:
		default:
			log.Printf("[stratengine] series channel full, dropping %s", c.Key())
		}
	})

	// ---- Feed connector ----
	conn, err := feed.NewLive(feed.LiveConfig{
		URL:               cfg.FeedURL,
		TOTPSecret:        cfg.FeedTOTPSecret,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectInterval: cfg.ReconnectInterval,
	})
	if err != nil {
		log.Fatalf("[stratengine] feed init failed: %v", err)
	}
	conn.OnReconnect = func() { prom.FeedReconnects.Inc() }
	conn.OnInvalidTick = func() { prom.InvalidTicks.Inc() }

	conn.OnTick(func(t model.Tick) {
		prom.TicksTotal.Inc()
		health.SetLastTickTime(t.TS)
		select {
		case tickCh <- t:
		default:
			prom.DroppedTicks.Inc()
		}
		b.PublishTick(t)
	})
	conn.OnConnectionLost(func() {
		health.SetFeedConnected(false)
		alerter.Post(notification.Alert{
			Level:   notification.LevelWarning,
			Title:   "Feed connection lost",
			Message: "websocket feed dropped; reconnect in progress",
		})
	})

	// Registry drives the upstream subscription set.
	b.OnSymbolActive = func(symbol, exchange string) {
		if err := conn.Subscribe([]string{symbol}, exchange); err != nil {
			log.Printf("[stratengine] feed subscribe %s: %v", symbol, err)
		}
	}
	b.OnSymbolIdle = func(symbol string) {
		if err := conn.Unsubscribe([]string{symbol}); err != nil {
			log.Printf("[stratengine] feed unsubscribe %s: %v", symbol, err)
		}
	}

	// ---- Start pipeline goroutines ----
	go agg.Run(ctx, tickCh)
	go agg.RunPersister(ctx)
	go b.RunPublisher(ctx)
	go seriesWriter.Run(ctx, seriesCh)
	go sched.Run(ctx)
	go alerter.Run(ctx)

	// Session close watcher: flush forming candles at the exchange close so
	// the last bar of the day completes without waiting for tomorrow's first
	// tick.
	session := markethours.NSE(loc)
	go runCloseWatcher(ctx, session, b, agg)

	// Channel saturation gauge.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prom.ChannelSaturationPct.WithLabelValues("ticks").
					Set(float64(len(tickCh)) / float64(cap(tickCh)) * 100)
				prom.ChannelSaturationPct.WithLabelValues("series").
					Set(float64(len(seriesCh)) / float64(cap(seriesCh)) * 100)
				health.SetStrategiesLoaded(len(sched.List()))
			}
		}
	}()

	// ---- Plugin manifests + strategies ----
	if n, err := strategy.LoadManifests(cfg.ManifestDir); err != nil {
		log.Printf("[stratengine] manifest load skipped: %v", err)
	} else {
		log.Printf("[stratengine] applied %d plugin manifests", n)
	}

	if err := sched.Rehydrate(ctx); err != nil {
		log.Printf("[stratengine] rehydrate: %v", err)
	}
	loadStrategiesFile(ctx, sched)

	// ---- Connect feed ----
	if err := conn.Connect(ctx); err != nil {
		log.Printf("[stratengine] initial feed connect failed: %v", err)
	} else {
		health.SetFeedConnected(true)
	}

	log.Printf("[stratengine] ready: feed=%s exchange=%s tz=%s plugins=%v",
		cfg.FeedURL, cfg.Exchange, cfg.ExchangeTZ, strategy.Plugins())

	// ---- Wait for shutdown; SIGHUP reloads plugin manifests ----
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			if n, err := strategy.ReloadPlugins(cfg.ManifestDir); err != nil {
				log.Printf("[stratengine] plugin reload: %v", err)
			} else {
				log.Printf("[stratengine] reloaded %d plugin manifests", n)
			}
			continue
		}
		break
	}
	log.Println("[stratengine] shutdown signal received, cleaning up...")
	conn.Disconnect()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[stratengine] shutdown complete.")
}

// runCloseWatcher sleeps until each session close and force-completes every
// forming candle for the active symbol set.
func runCloseWatcher(ctx context.Context, session *markethours.Session, b *bus.Bus, agg *candle.Aggregator) {
	for {
		now := time.Now()
		next := session.NextClose(now)
		log.Printf("[stratengine] %s; next close flush at %s",
			session.StatusString(now), next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		symbols := b.ActiveSymbols()
		for _, sym := range symbols {
			for _, tf := range model.AllTimeframes() {
				agg.ForceComplete(sym, tf)
			}
		}
		log.Printf("[stratengine] session close: flushed forming candles for %d symbols", len(symbols))

		// Step past the close so NextClose advances to the next session.
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Minute):
		}
	}
}

// loadStrategiesFile loads strategy configs from the optional STRATEGIES_FILE
// JSON array. Missing file is not an error; a bad entry is skipped.
func loadStrategiesFile(ctx context.Context, sched *strategy.Scheduler) {
	path := os.Getenv("STRATEGIES_FILE")
	if path == "" {
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[stratengine] strategies file: %v", err)
		return
	}
	var configs []model.StrategyConfig
	if err := json.Unmarshal(raw, &configs); err != nil {
		log.Printf("[stratengine] strategies file parse: %v", err)
		return
	}
	for _, sc := range configs {
		if err := sched.Load(ctx, sc); err != nil {
			log.Printf("[stratengine] load strategy %s: %v", sc.StrategyID, err)
		}
	}
}
