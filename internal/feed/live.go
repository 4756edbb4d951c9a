package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"

	"stratcore/internal/model"
)

// LiveConfig holds configuration for the live WebSocket connector.
type LiveConfig struct {
	// URL of the upstream tick stream, e.g. "wss://feed.example.com/ws".
	URL string

	// TOTPSecret, when set, authenticates the session with a fresh
	// time-based code in the X-Feed-Token header.
	TOTPSecret string

	// ReconnectAttempts bounds automatic reconnection. Defaults to 10.
	ReconnectAttempts int

	// ReconnectInterval is the fixed delay between attempts after the first
	// (which is immediate). Defaults to 30s.
	ReconnectInterval time.Duration
}

func (c *LiveConfig) defaults() {
	if c.ReconnectAttempts == 0 {
		c.ReconnectAttempts = 10
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = 30 * time.Second
	}
}

// wsConn is the subset of *websocket.Conn the connector uses; tests inject a
// fake through the dial hook.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// controlMsg is the upstream subscribe/unsubscribe frame.
type controlMsg struct {
	Action   string   `json:"action"` // "subscribe" | "unsubscribe"
	Symbols  []string `json:"symbols"`
	Exchange string   `json:"exchange,omitempty"`
}

// Live connects to an upstream WebSocket tick stream. The wire format is a
// JSON model.Tick per message. Reconnection is bounded: the first attempt is
// immediate, later ones wait a fixed interval; after exhaustion the connector
// stays disconnected until Connect is called again.
type Live struct {
	dispatcher

	cfg LiveConfig

	mu        sync.Mutex
	conn      wsConn
	symbols   map[string]struct{}
	exchange  string
	cancelRun context.CancelFunc

	// dial is swappable in tests.
	dial func(ctx context.Context, url string, header http.Header) (wsConn, error)

	// OnReconnect is an optional metrics hook, called per reconnect attempt.
	OnReconnect func()

	// OnInvalidTick is called when an upstream message fails to parse.
	OnInvalidTick func()
}

// NewLive creates a live connector. Returns an error if the URL is empty.
func NewLive(cfg LiveConfig) (*Live, error) {
	cfg.defaults()
	if cfg.URL == "" {
		return nil, fmt.Errorf("feed: empty URL")
	}
	return &Live{
		cfg:     cfg,
		symbols: make(map[string]struct{}),
		dial: func(ctx context.Context, url string, header http.Header) (wsConn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
			return conn, err
		},
	}, nil
}

// Connect dials upstream, replays the subscription set, and starts the read
// loop. A dial failure here is permanent (no retry) and returned to the
// caller.
func (l *Live) Connect(ctx context.Context) error {
	conn, err := l.dialOnce(ctx)
	if err != nil {
		return fmt.Errorf("feed: connect %s: %w", l.cfg.URL, err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	l.conn = conn
	l.cancelRun = cancel
	l.mu.Unlock()

	if err := l.resubscribe(); err != nil {
		log.Printf("[feed] resubscribe after connect: %v", err)
	}

	go l.readLoop(runCtx)
	log.Printf("[feed] connected to %s", l.cfg.URL)
	return nil
}

// Disconnect closes the session and stops the read loop and any in-progress
// reconnection.
func (l *Live) Disconnect() {
	l.mu.Lock()
	if l.cancelRun != nil {
		l.cancelRun()
		l.cancelRun = nil
	}
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.mu.Unlock()
}

// Subscribe adds symbols to the request set and pushes the change upstream.
func (l *Live) Subscribe(symbols []string, exchange string) error {
	l.mu.Lock()
	for _, s := range symbols {
		l.symbols[s] = struct{}{}
	}
	l.exchange = exchange
	conn := l.conn
	l.mu.Unlock()

	if conn == nil {
		return nil // applied on next connect
	}
	return conn.WriteJSON(controlMsg{Action: "subscribe", Symbols: symbols, Exchange: exchange})
}

// Unsubscribe drops symbols from the request set and pushes the change
// upstream.
func (l *Live) Unsubscribe(symbols []string) error {
	l.mu.Lock()
	for _, s := range symbols {
		delete(l.symbols, s)
	}
	conn := l.conn
	l.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.WriteJSON(controlMsg{Action: "unsubscribe", Symbols: symbols})
}

func (l *Live) dialOnce(ctx context.Context) (wsConn, error) {
	header := http.Header{}
	if l.cfg.TOTPSecret != "" {
		code, err := totp.GenerateCode(l.cfg.TOTPSecret, time.Now())
		if err != nil {
			return nil, fmt.Errorf("totp: %w", err)
		}
		header.Set("X-Feed-Token", code)
	}
	return l.dial(ctx, l.cfg.URL, header)
}

// resubscribe replays the full symbol set upstream. Called after every
// successful (re)connect.
func (l *Live) resubscribe() error {
	l.mu.Lock()
	conn := l.conn
	symbols := make([]string, 0, len(l.symbols))
	for s := range l.symbols {
		symbols = append(symbols, s)
	}
	exchange := l.exchange
	l.mu.Unlock()

	if conn == nil || len(symbols) == 0 {
		return nil
	}
	return conn.WriteJSON(controlMsg{Action: "subscribe", Symbols: symbols, Exchange: exchange})
}

// readLoop reads ticks until the session drops, then runs the bounded
// reconnect protocol. Exits when ctx is cancelled or attempts are exhausted.
func (l *Live) readLoop(ctx context.Context) {
	for {
		err := l.readOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Printf("[feed] connection lost: %v", err)
		l.dispatchLost()

		if !l.reconnect(ctx) {
			log.Printf("[feed] reconnect attempts exhausted (%d), staying disconnected",
				l.cfg.ReconnectAttempts)
			l.mu.Lock()
			l.conn = nil
			l.mu.Unlock()
			return
		}
	}
}

// readOnce pumps messages from the current connection until it errors.
func (l *Live) readOnce(ctx context.Context) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("feed: no connection")
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var tick model.Tick
		if err := json.Unmarshal(raw, &tick); err != nil || !tick.Valid() {
			if l.OnInvalidTick != nil {
				l.OnInvalidTick()
			}
			continue
		}
		l.dispatchTick(tick)
	}
}

// reconnect runs bounded attempts: the first immediate, later ones at a fixed
// interval. Returns true once reconnected and resubscribed.
func (l *Live) reconnect(ctx context.Context) bool {
	for attempt := 1; attempt <= l.cfg.ReconnectAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(l.cfg.ReconnectInterval):
			}
		}
		if l.OnReconnect != nil {
			l.OnReconnect()
		}

		conn, err := l.dialOnce(ctx)
		if err != nil {
			log.Printf("[feed] reconnect attempt %d/%d failed: %v",
				attempt, l.cfg.ReconnectAttempts, err)
			continue
		}

		l.mu.Lock()
		l.conn = conn
		l.mu.Unlock()

		if err := l.resubscribe(); err != nil {
			log.Printf("[feed] resubscribe after reconnect: %v", err)
		}
		log.Printf("[feed] reconnected on attempt %d", attempt)
		return true
	}
	return false
}
