package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"stratcore/internal/model"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Feed
	FeedURL           string
	FeedTOTPSecret    string
	ReconnectAttempts int
	ReconnectInterval time.Duration

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	MetricsAddr   string

	// Exchange session, e.g. "Asia/Kolkata". Daily candles bucket at this
	// zone's midnight.
	Exchange   string
	ExchangeTZ string

	// Pipeline
	CandleBufferSize int
	TickChanSize     int

	// Indicators
	IndicatorCacheTTL time.Duration

	// Strategies
	StrategyStateTTL   time.Duration
	ManifestDir        string
	MaxConcurrent      int
	MaxConcurrentPaper int
	MaxConcurrentLive  int

	// Assembler
	FreshnessWindow time.Duration
	HistoryDepth    int

	// Replay
	ReplaySpeed float64
	ReplayFrom  int64

	// Alerting (optional; unset channels are skipped)
	AlertWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		FeedURL:           getEnv("FEED_URL", "ws://localhost:8081/ws"),
		FeedTOTPSecret:    getEnv("FEED_TOTP_SECRET", ""),
		ReconnectAttempts: getEnvInt("RECONNECT_ATTEMPTS", 10),
		ReconnectInterval: getEnvDuration("RECONNECT_INTERVAL", 30*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		Exchange:   getEnv("EXCHANGE", "NSE"),
		ExchangeTZ: getEnv("EXCHANGE_TZ", "Asia/Kolkata"),

		CandleBufferSize: getEnvInt("CANDLE_BUFFER_SIZE", 500),
		TickChanSize:     getEnvInt("TICK_CHAN_SIZE", 10000),

		IndicatorCacheTTL: getEnvDuration("INDICATOR_CACHE_TTL", 300*time.Second),

		StrategyStateTTL:   getEnvDuration("STRATEGY_STATE_TTL", 86400*time.Second),
		ManifestDir:        getEnv("MANIFEST_DIR", "plugins"),
		MaxConcurrent:      getEnvInt("MAX_CONCURRENT_STRATEGIES", 5),
		MaxConcurrentPaper: getEnvInt("MAX_CONCURRENT_PAPER", 0),
		MaxConcurrentLive:  getEnvInt("MAX_CONCURRENT_LIVE", 0),

		FreshnessWindow: getEnvDuration("FRESHNESS_WINDOW", 60*time.Second),
		HistoryDepth:    getEnvInt("HISTORY_DEPTH", 100),

		ReplaySpeed: getEnvFloat("REPLAY_SPEED", 0),
		ReplayFrom:  int64(getEnvInt("REPLAY_FROM_TS", 0)),

		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

// Location resolves the exchange time zone, falling back to UTC on error.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ExchangeTZ)
	if err != nil {
		log.Printf("[config] invalid EXCHANGE_TZ %q, using UTC: %v", c.ExchangeTZ, err)
		return time.UTC
	}
	return loc
}

// Timeframes parses ENABLED_TIMEFRAMES (comma-separated, e.g. "1m,5m,1h") or
// returns the full supported set when unset.
func (c *Config) Timeframes() []model.Timeframe {
	raw := getEnv("ENABLED_TIMEFRAMES", "")
	if raw == "" {
		return model.AllTimeframes()
	}
	var tfs []model.Timeframe
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		tf, err := model.ParseTimeframe(p)
		if err != nil {
			log.Printf("[config] skipping invalid timeframe %q", p)
			continue
		}
		tfs = append(tfs, tf)
	}
	if len(tfs) == 0 {
		return model.AllTimeframes()
	}
	return tfs
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	// Accept both "30s" style and bare seconds.
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
	return fallback
}
