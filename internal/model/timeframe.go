package model

import (
	"fmt"
	"time"
)

// Timeframe is a candle width in minutes. The daily timeframe is 1440.
type Timeframe int

const (
	TF1m  Timeframe = 1
	TF3m  Timeframe = 3
	TF5m  Timeframe = 5
	TF15m Timeframe = 15
	TF30m Timeframe = 30
	TF1h  Timeframe = 60
	TF1d  Timeframe = 1440
)

// AllTimeframes returns the seven supported timeframes in ascending order.
func AllTimeframes() []Timeframe {
	return []Timeframe{TF1m, TF3m, TF5m, TF15m, TF30m, TF1h, TF1d}
}

func (tf Timeframe) String() string {
	switch tf {
	case TF1m:
		return "1m"
	case TF3m:
		return "3m"
	case TF5m:
		return "5m"
	case TF15m:
		return "15m"
	case TF30m:
		return "30m"
	case TF1h:
		return "1h"
	case TF1d:
		return "1d"
	default:
		return fmt.Sprintf("%dm", int(tf))
	}
}

// ParseTimeframe parses "1m", "3m", "5m", "15m", "30m", "1h" or "1d".
func ParseTimeframe(s string) (Timeframe, error) {
	for _, tf := range AllTimeframes() {
		if tf.String() == s {
			return tf, nil
		}
	}
	return 0, fmt.Errorf("unknown timeframe %q", s)
}

// Duration returns the timeframe width as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf) * time.Minute
}

// Bucket returns the bar start for a tick at time t. Sub-day timeframes floor
// minutes-since-midnight to the timeframe width; the daily timeframe returns
// midnight. Midnight is local to the exchange session, so loc must be the
// exchange timezone (nil means UTC).
func (tf Timeframe) Bucket(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	if tf == TF1d {
		return midnight
	}
	mins := int(lt.Sub(midnight) / time.Minute)
	return midnight.Add(time.Duration(mins-mins%int(tf)) * time.Minute)
}
