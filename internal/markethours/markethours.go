// Package markethours models an exchange trading session: open/close times in
// the exchange zone, weekends, and a holiday calendar. The engine uses it to
// flush forming candles at the close instead of leaving the last bar of the
// day open until the next session's first tick.
package markethours

import (
	"fmt"
	"time"
)

// Session describes one exchange's trading hours.
type Session struct {
	Loc         *time.Location
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int

	holidays map[string]bool // "2006-01-02" in Loc
}

// NSE returns the default session: 9:15 AM to 3:30 PM, Mon to Fri, in the
// given zone (typically Asia/Kolkata), with the exchange holiday calendar.
func NSE(loc *time.Location) *Session {
	s := &Session{
		Loc:         loc,
		OpenHour:    9,
		OpenMinute:  15,
		CloseHour:   15,
		CloseMinute: 30,
		holidays:    make(map[string]bool),
	}
	for _, h := range nseHolidays2026 {
		s.AddHoliday(time.Date(2026, h.month, h.day, 0, 0, 0, 0, loc))
	}
	return s
}

// AddHoliday marks a date (in the session zone) as closed.
func (s *Session) AddHoliday(d time.Time) {
	s.holidays[d.In(s.Loc).Format("2006-01-02")] = true
}

// IsHoliday reports whether t falls on a holiday.
func (s *Session) IsHoliday(t time.Time) bool {
	return s.holidays[t.In(s.Loc).Format("2006-01-02")]
}

// IsTradingDay reports whether t is a weekday and not a holiday.
func (s *Session) IsTradingDay(t time.Time) bool {
	lt := t.In(s.Loc)
	wd := lt.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !s.IsHoliday(lt)
}

// IsOpen reports whether t falls within trading hours.
func (s *Session) IsOpen(t time.Time) bool {
	if !s.IsTradingDay(t) {
		return false
	}
	lt := t.In(s.Loc)
	hm := lt.Hour()*60 + lt.Minute()
	return hm >= s.OpenHour*60+s.OpenMinute && hm < s.CloseHour*60+s.CloseMinute
}

// TodayClose returns the close time on t's date.
func (s *Session) TodayClose(t time.Time) time.Time {
	lt := t.In(s.Loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), s.CloseHour, s.CloseMinute, 0, 0, s.Loc)
}

// NextOpen returns the next session open at or after t.
func (s *Session) NextOpen(t time.Time) time.Time {
	lt := t.In(s.Loc)

	todayOpen := time.Date(lt.Year(), lt.Month(), lt.Day(), s.OpenHour, s.OpenMinute, 0, 0, s.Loc)
	if lt.Before(todayOpen) && s.IsTradingDay(lt) {
		return todayOpen
	}

	d := lt.AddDate(0, 0, 1)
	for i := 0; i < 14; i++ {
		if s.IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), s.OpenHour, s.OpenMinute, 0, 0, s.Loc)
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(lt.Year(), lt.Month(), lt.Day()+1, s.OpenHour, s.OpenMinute, 0, 0, s.Loc)
}

// NextClose returns the next session close at or after t: today's close when
// the session is open or not yet open, else the close after the next open.
func (s *Session) NextClose(t time.Time) time.Time {
	lt := t.In(s.Loc)
	today := s.TodayClose(lt)
	if s.IsTradingDay(lt) && lt.Before(today) {
		return today
	}
	return s.TodayClose(s.NextOpen(lt))
}

// StatusString returns a human-readable session status.
func (s *Session) StatusString(t time.Time) string {
	if s.IsOpen(t) {
		return fmt.Sprintf("market open, closes in %s", fmtDur(s.TodayClose(t).Sub(t)))
	}
	next := s.NextOpen(t)
	lt := next.In(s.Loc)
	return fmt.Sprintf("market closed, opens %s %s (%s)",
		lt.Weekday().String()[:3], lt.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
