package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"stratcore/internal/model"
)

// Reader provides read-only access for buffer rehydration and replay.
type Reader struct {
	db *sql.DB
}

// NewReader opens a read connection to the candle database.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadCompleted returns up to limit completed candles for (symbol, tf),
// oldest first.
func (r *Reader) ReadCompleted(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, exchange, tf, start_ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND tf = ?
		ORDER BY start_ts DESC
		LIMIT ?
	`, symbol, int(tf), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	// Query is newest-first for the LIMIT; flip to oldest-first.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// ReadAll returns every completed candle for tf with start_ts > fromTS,
// oldest first. Drives replay.
func (r *Reader) ReadAll(ctx context.Context, tf model.Timeframe, fromTS int64) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, exchange, tf, start_ts, open, high, low, close, volume
		FROM candles
		WHERE tf = ? AND start_ts > ?
		ORDER BY start_ts ASC
	`, int(tf), fromTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query all candles: %w", err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

func scanCandles(rows *sql.Rows) ([]model.Candle, error) {
	var candles []model.Candle
	for rows.Next() {
		var (
			c            model.Candle
			tf           int
			startTS      int64
			o, h, lo, cl string
		)
		if err := rows.Scan(&c.Symbol, &c.Exchange, &tf, &startTS, &o, &h, &lo, &cl, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		c.Timeframe = model.Timeframe(tf)
		c.Start = time.Unix(startTS, 0).UTC()

		var err error
		if c.Open, err = decimal.NewFromString(o); err != nil {
			return nil, fmt.Errorf("sqlite decode open %q: %w", o, err)
		}
		if c.High, err = decimal.NewFromString(h); err != nil {
			return nil, fmt.Errorf("sqlite decode high %q: %w", h, err)
		}
		if c.Low, err = decimal.NewFromString(lo); err != nil {
			return nil, fmt.Errorf("sqlite decode low %q: %w", lo, err)
		}
		if c.Close, err = decimal.NewFromString(cl); err != nil {
			return nil, fmt.Errorf("sqlite decode close %q: %w", cl, err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
