package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stratcore/internal/model"
)

func TestDispatcher_IsolatesPanickingListener(t *testing.T) {
	var d dispatcher

	received := 0
	d.OnTick(func(model.Tick) { panic("bad listener") })
	d.OnTick(func(model.Tick) { received++ })

	d.dispatchTick(model.Tick{Symbol: "X"})
	d.dispatchTick(model.Tick{Symbol: "X"})

	if received != 2 {
		t.Errorf("healthy listener received %d ticks, want 2", received)
	}
}

func TestTicksFromCandle_ReproducesOHLCV(t *testing.T) {
	start := time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)
	c := model.Candle{
		Symbol: "RELIANCE", Exchange: "NSE", Timeframe: model.TF1m, Start: start,
		Open:  decimal.NewFromFloat(100.0),
		High:  decimal.NewFromFloat(105.0),
		Low:   decimal.NewFromFloat(98.0),
		Close: decimal.NewFromFloat(102.0),
		// 10 does not divide by 4: the residual lands on the close tick.
		Volume: 10,
	}

	ticks := TicksFromCandle(c)
	if len(ticks) != 4 {
		t.Fatalf("got %d ticks, want 4", len(ticks))
	}

	prices := []decimal.Decimal{c.Open, c.High, c.Low, c.Close}
	var volume int64
	for i, tk := range ticks {
		if !tk.Price.Equal(prices[i]) {
			t.Errorf("tick %d price: got %s, want %s", i, tk.Price, prices[i])
		}
		if tk.Symbol != "RELIANCE" || tk.Exchange != "NSE" {
			t.Errorf("tick %d identity: %+v", i, tk)
		}
		volume += tk.Volume
	}
	if volume != 10 {
		t.Errorf("total volume: got %d, want 10", volume)
	}

	// All four ticks land inside the source bucket, in order.
	end := start.Add(model.TF1m.Duration())
	for i, tk := range ticks {
		if tk.TS.Before(start) || !tk.TS.Before(end) {
			t.Errorf("tick %d TS %v outside bucket [%v, %v)", i, tk.TS, start, end)
		}
		if i > 0 && !ticks[i-1].TS.Before(tk.TS) {
			t.Errorf("tick %d TS not after tick %d", i, i-1)
		}
	}
}

// fakeConn scripts a WebSocket session: canned inbound frames, then an error.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	wrote  []controlMsg
	closed bool
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return 0, nil, context.Canceled
	}
	frame := c.frames[0]
	c.frames = c.frames[1:]
	return 1, frame, nil
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg, ok := v.(controlMsg); ok {
		c.wrote = append(c.wrote, msg)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) written() []controlMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]controlMsg(nil), c.wrote...)
}

func frame(t *testing.T, tick model.Tick) []byte {
	t.Helper()
	b, err := json.Marshal(tick)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestLive_DispatchesValidTicksAndCountsInvalid(t *testing.T) {
	valid := model.Tick{
		Symbol: "RELIANCE", Exchange: "NSE",
		Price: decimal.NewFromFloat(2885.50), Volume: 10, TS: time.Now().UTC(),
	}
	conn := &fakeConn{frames: [][]byte{
		frame(t, valid),
		[]byte("not json"),
		[]byte(`{"symbol":"","price":"0"}`),
	}}

	l, err := NewLive(LiveConfig{URL: "ws://test", ReconnectAttempts: 1, ReconnectInterval: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	dialed := 0
	l.dial = func(context.Context, string, http.Header) (wsConn, error) {
		dialed++
		if dialed == 1 {
			return conn, nil
		}
		return nil, context.Canceled
	}

	invalid := 0
	l.OnInvalidTick = func() { invalid++ }

	var mu sync.Mutex
	var got []model.Tick
	l.OnTick(func(tk model.Tick) {
		mu.Lock()
		got = append(got, tk)
		mu.Unlock()
	})

	lost := make(chan struct{}, 1)
	l.OnConnectionLost(func() { lost <- struct{}{} })

	if err := l.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("connection-lost never fired")
	}
	l.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("dispatched ticks: got %d, want 1", len(got))
	}
	if !got[0].Price.Equal(valid.Price) {
		t.Errorf("tick price: got %s, want %s", got[0].Price, valid.Price)
	}
	if invalid != 2 {
		t.Errorf("invalid count: got %d, want 2", invalid)
	}
}

func TestLive_ResubscribesAfterReconnect(t *testing.T) {
	first := &fakeConn{}  // dies immediately
	second := &fakeConn{} // reconnect target

	l, err := NewLive(LiveConfig{URL: "ws://test", ReconnectAttempts: 3, ReconnectInterval: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	conns := []*fakeConn{first, second}
	dialed := 0
	l.dial = func(context.Context, string, http.Header) (wsConn, error) {
		c := conns[dialed%len(conns)]
		dialed++
		return c, nil
	}

	reconnects := 0
	l.OnReconnect = func() { reconnects++ }

	if err := l.Subscribe([]string{"RELIANCE", "TCS"}, "NSE"); err != nil {
		t.Fatal(err)
	}
	if err := l.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for len(second.written()) == 0 {
		select {
		case <-deadline:
			t.Fatal("no resubscribe on the new connection")
		case <-time.After(5 * time.Millisecond):
		}
	}
	l.Disconnect()

	if reconnects == 0 {
		t.Error("reconnect hook never fired")
	}

	// Both connections saw the full subscription set replayed.
	for i, c := range []*fakeConn{first, second} {
		msgs := c.written()
		if len(msgs) == 0 {
			t.Fatalf("conn %d: no control frames", i)
		}
		sub := msgs[0]
		if sub.Action != "subscribe" || len(sub.Symbols) != 2 || sub.Exchange != "NSE" {
			t.Errorf("conn %d subscribe frame: %+v", i, sub)
		}
	}
}
