package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func etTime(t *testing.T, year int, month time.Month, day, hour, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return time.Date(year, month, day, hour, min, 0, 0, loc)
}

func TestIsMarketHours(t *testing.T) {
	s := NewSessionFilter()

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"monday mid-session", etTime(t, 2026, 3, 2, 10, 0), true},
		{"at the open", etTime(t, 2026, 3, 2, 9, 30), true},
		{"at the close", etTime(t, 2026, 3, 2, 16, 0), true},
		{"before open", etTime(t, 2026, 3, 2, 9, 29), false},
		{"after close", etTime(t, 2026, 3, 2, 16, 1), false},
		{"saturday", etTime(t, 2026, 3, 7, 11, 0), false},
		{"sunday", etTime(t, 2026, 3, 8, 11, 0), false},
		{"memorial day", etTime(t, 2026, 5, 25, 11, 0), false},
		{"early close before 1pm", etTime(t, 2026, 11, 27, 12, 30), true},
		{"early close after 1pm", etTime(t, 2026, 11, 27, 13, 30), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.IsMarketHours(tt.at))
		})
	}
}

func TestIsMarketHoursConvertsUTC(t *testing.T) {
	s := NewSessionFilter()
	// 15:00 UTC on an EST Monday is 10:00 ET.
	assert.True(t, s.IsMarketHours(time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)))
	// 03:00 UTC is overnight.
	assert.False(t, s.IsMarketHours(time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)))
}

func TestHolidayAndEarlyCloseLookups(t *testing.T) {
	s := NewSessionFilter()
	assert.True(t, s.IsHoliday(etTime(t, 2026, 12, 25, 10, 0)))
	assert.False(t, s.IsHoliday(etTime(t, 2026, 12, 23, 10, 0)))
	assert.True(t, s.IsEarlyClose(etTime(t, 2026, 12, 24, 10, 0)))
	assert.False(t, s.IsEarlyClose(etTime(t, 2026, 12, 23, 10, 0)))
}

func TestMinutesToOpen(t *testing.T) {
	s := NewSessionFilter()

	assert.Equal(t, 0.0, s.MinutesToOpen(etTime(t, 2026, 3, 2, 11, 0)))

	// Same morning, half an hour before the bell.
	assert.InDelta(t, 30.0, s.MinutesToOpen(etTime(t, 2026, 3, 2, 9, 0)), 0.01)

	// Friday evening rolls to Monday 09:30.
	gap := s.MinutesToOpen(etTime(t, 2026, 2, 20, 17, 0))
	assert.InDelta(t, (64*60)+30, gap, 0.01)

	// Thursday before the July 3rd holiday rolls over the long weekend.
	gap = s.MinutesToOpen(etTime(t, 2026, 7, 2, 17, 0))
	assert.InDelta(t, (88*60)+30, gap, 0.01)
}
