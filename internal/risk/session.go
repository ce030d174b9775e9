package risk

import (
	"time"
)

// NYSE regular hours in minutes from midnight, America/New_York.
const (
	marketOpenMinute  = 9*60 + 30  // 09:30
	marketCloseMinute = 16 * 60    // 16:00
	earlyCloseMinute  = 13 * 60    // 13:00
)

// NYSE full-closure days for 2026.
var holidays = map[string]bool{
	"2026-01-01": true, // New Year's Day
	"2026-01-19": true, // MLK Day
	"2026-02-16": true, // Presidents' Day
	"2026-04-03": true, // Good Friday
	"2026-05-25": true, // Memorial Day
	"2026-07-03": true, // Independence Day (observed)
	"2026-09-07": true, // Labor Day
	"2026-11-26": true, // Thanksgiving
	"2026-12-25": true, // Christmas
}

// 13:00 ET close days for 2026.
var earlyCloses = map[string]bool{
	"2026-11-27": true, // Day after Thanksgiving
	"2026-12-24": true, // Christmas Eve
}

// SessionFilter gates trading to NYSE regular hours. Strategies carry
// their own tighter session windows; this is the engine-level net.
type SessionFilter struct {
	loc *time.Location
	now func() time.Time
}

// NewSessionFilter builds a filter for the US equity session.
func NewSessionFilter() *SessionFilter {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// Minimal containers without tzdata; EST without DST is the
		// conservative fallback.
		loc = time.FixedZone("ET", -5*60*60)
	}
	return &SessionFilter{loc: loc, now: time.Now}
}

// WithClock returns a copy of the filter using the given time source.
func (s *SessionFilter) WithClock(now func() time.Time) *SessionFilter {
	return &SessionFilter{loc: s.loc, now: now}
}

func (s *SessionFilter) local(t time.Time) time.Time {
	return t.In(s.loc)
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// IsMarketHours reports whether t falls inside regular trading hours:
// a weekday, not a holiday, between 09:30 and the day's close.
func (s *SessionFilter) IsMarketHours(t time.Time) bool {
	et := s.local(t)
	if wd := et.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	key := dateKey(et)
	if holidays[key] {
		return false
	}
	closeMin := marketCloseMinute
	if earlyCloses[key] {
		closeMin = earlyCloseMinute
	}
	minute := et.Hour()*60 + et.Minute()
	return minute >= marketOpenMinute && minute <= closeMin
}

// IsMarketHoursNow applies IsMarketHours to the current time.
func (s *SessionFilter) IsMarketHoursNow() bool {
	return s.IsMarketHours(s.now())
}

// IsHoliday reports whether the date (in market local time) is a full
// closure day.
func (s *SessionFilter) IsHoliday(t time.Time) bool {
	return holidays[dateKey(s.local(t))]
}

// IsEarlyClose reports whether the date is a 13:00 close day.
func (s *SessionFilter) IsEarlyClose(t time.Time) bool {
	return earlyCloses[dateKey(s.local(t))]
}

// MinutesToOpen returns minutes until the next regular-session open,
// or 0 if the market is currently open.
func (s *SessionFilter) MinutesToOpen(t time.Time) float64 {
	et := s.local(t)
	if s.IsMarketHours(et) {
		return 0
	}

	open := time.Date(et.Year(), et.Month(), et.Day(), 9, 30, 0, 0, s.loc)
	minute := et.Hour()*60 + et.Minute()
	tradable := et.Weekday() != time.Saturday && et.Weekday() != time.Sunday && !holidays[dateKey(et)]
	if !tradable || minute >= marketOpenMinute {
		open = s.nextTradingDayOpen(et)
	}
	diff := open.Sub(et).Minutes()
	if diff < 0 {
		return 0
	}
	return diff
}

func (s *SessionFilter) nextTradingDayOpen(from time.Time) time.Time {
	d := from.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ {
		wd := d.Weekday()
		if wd != time.Saturday && wd != time.Sunday && !holidays[dateKey(d)] {
			break
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 9, 30, 0, 0, s.loc)
}

// CurrentDate returns today's date key in market local time.
func (s *SessionFilter) CurrentDate() string {
	return dateKey(s.local(s.now()))
}
