package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the strategy engine.
type Metrics struct {
	TicksTotal     prometheus.Counter
	DroppedTicks   prometheus.Counter
	InvalidTicks   prometheus.Counter
	FeedReconnects prometheus.Counter

	CandlesCompleted *prometheus.CounterVec // labels: tf
	PersistFailures  prometheus.Counter

	IndicatorCacheHits   prometheus.Counter
	IndicatorCacheMisses prometheus.Counter

	StrategyErrors prometheus.Counter
	SignalsTotal   prometheus.Counter
	FleetPauses    prometheus.Counter
	RiskBreaches   prometheus.Counter

	BusDropsTotal        *prometheus.CounterVec // labels: consumer
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// New registers and returns all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratengine_ticks_total",
			Help: "Total ticks received from the feed connector",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratengine_dropped_ticks_total",
			Help: "Ticks dropped (late arrival or channel full)",
		}),
		InvalidTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratengine_invalid_ticks_total",
			Help: "Upstream messages that failed tick validation",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratengine_feed_reconnects_total",
			Help: "Feed reconnection attempts",
		}),

		CandlesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stratengine_candles_completed_total",
			Help: "Completed candles emitted (by timeframe)",
		}, []string{"tf"}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratengine_persist_failures_total",
			Help: "Forming-candle persistence operations abandoned after retries",
		}),

		IndicatorCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratengine_indicator_cache_hits_total",
			Help: "Indicator requests served from cache",
		}),
		IndicatorCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratengine_indicator_cache_misses_total",
			Help: "Indicator requests recomputed on cache miss",
		}),

		StrategyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratengine_strategy_errors_total",
			Help: "Strategy callbacks that panicked into error state",
		}),
		SignalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratengine_signals_total",
			Help: "Validated signals published to the order processor",
		}),
		FleetPauses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratengine_fleet_pauses_total",
			Help: "Fleet-wide pauses triggered by the risk gate",
		}),
		RiskBreaches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratengine_risk_breaches_total",
			Help: "Loss limit breaches latched",
		}),

		BusDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stratengine_bus_drops_total",
			Help: "Events dropped by the distribution bus per consumer",
		}, []string{"consumer"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stratengine_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stratengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stratengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.DroppedTicks,
		m.InvalidTicks,
		m.FeedReconnects,
		m.CandlesCompleted,
		m.PersistFailures,
		m.IndicatorCacheHits,
		m.IndicatorCacheMisses,
		m.StrategyErrors,
		m.SignalsTotal,
		m.FleetPauses,
		m.RiskBreaches,
		m.BusDropsTotal,
		m.ChannelSaturationPct,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected    bool      `json:"feed_connected"`
	LastTickTime     time.Time `json:"last_tick_time"`
	RedisConnected   bool      `json:"redis_connected"`
	SQLiteOK         bool      `json:"sqlite_ok"`
	StrategiesLoaded int       `json:"strategies_loaded"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetStrategiesLoaded(n int) {
	h.mu.Lock()
	h.StrategiesLoaded = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.FeedConnected || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status           string  `json:"status"`
		Uptime           string  `json:"uptime"`
		FeedConnected    bool    `json:"feed_connected"`
		LastTickTime     string  `json:"last_tick_time"`
		TickAge          string  `json:"tick_age"`
		RedisConnected   bool    `json:"redis_connected"`
		RedisLatencyMs   float64 `json:"redis_latency_ms"`
		SQLiteOK         bool    `json:"sqlite_ok"`
		SQLiteLatencyMs  float64 `json:"sqlite_latency_ms"`
		StrategiesLoaded int     `json:"strategies_loaded"`
		LastCheckAt      string  `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:    h.FeedConnected,
		LastTickTime:     h.LastTickTime.Format(time.RFC3339),
		TickAge:          tickAge,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		SQLiteOK:         h.SQLiteOK,
		SQLiteLatencyMs:  h.SQLiteLatencyMs,
		StrategiesLoaded: h.StrategiesLoaded,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
