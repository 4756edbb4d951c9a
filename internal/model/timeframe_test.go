package model

import (
	"testing"
	"time"
)

func TestBucket_SubDayAlignment(t *testing.T) {
	// 10:07:30 UTC floors to 10:07 (1m), 10:06 (3m), 10:05 (5m),
	// 10:00 (15m, 30m, 1h).
	ts := time.Date(2026, 1, 6, 10, 7, 30, 0, time.UTC)

	cases := []struct {
		tf   Timeframe
		want time.Time
	}{
		{TF1m, time.Date(2026, 1, 6, 10, 7, 0, 0, time.UTC)},
		{TF3m, time.Date(2026, 1, 6, 10, 6, 0, 0, time.UTC)},
		{TF5m, time.Date(2026, 1, 6, 10, 5, 0, 0, time.UTC)},
		{TF15m, time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)},
		{TF30m, time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)},
		{TF1h, time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		if got := c.tf.Bucket(ts, time.UTC); !got.Equal(c.want) {
			t.Errorf("%s bucket: got %v, want %v", c.tf, got, c.want)
		}
	}
}

func TestBucket_DailyUsesExchangeMidnight(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)

	// 20:00 UTC on Jan 6 is 01:30 IST on Jan 7, so the daily bucket starts
	// at Jan 7 midnight IST, not Jan 6 midnight UTC.
	ts := time.Date(2026, 1, 6, 20, 0, 0, 0, time.UTC)
	want := time.Date(2026, 1, 7, 0, 0, 0, 0, ist)
	if got := TF1d.Bucket(ts, ist); !got.Equal(want) {
		t.Errorf("1d bucket: got %v, want %v", got, want)
	}

	// 05:00 UTC on Jan 6 is 10:30 IST the same day.
	ts = time.Date(2026, 1, 6, 5, 0, 0, 0, time.UTC)
	want = time.Date(2026, 1, 6, 0, 0, 0, 0, ist)
	if got := TF1d.Bucket(ts, ist); !got.Equal(want) {
		t.Errorf("1d bucket same day: got %v, want %v", got, want)
	}
}

func TestBucket_HourlyRespectsTimezoneOffset(t *testing.T) {
	// IST is UTC+5:30; hourly buckets align to IST half-hours when seen
	// from UTC. 10:45 UTC = 16:15 IST → bucket 16:00 IST = 10:30 UTC.
	ist := time.FixedZone("IST", 5*3600+1800)
	ts := time.Date(2026, 1, 6, 10, 45, 0, 0, time.UTC)
	want := time.Date(2026, 1, 6, 16, 0, 0, 0, ist)
	if got := TF1h.Bucket(ts, ist); !got.Equal(want) {
		t.Errorf("1h bucket in IST: got %v, want %v", got, want)
	}
}

func TestParseTimeframe(t *testing.T) {
	for _, tf := range AllTimeframes() {
		got, err := ParseTimeframe(tf.String())
		if err != nil || got != tf {
			t.Errorf("ParseTimeframe(%q) = %v, %v", tf.String(), got, err)
		}
	}
	if _, err := ParseTimeframe("2m"); err == nil {
		t.Error("expected error for unsupported timeframe")
	}
}
