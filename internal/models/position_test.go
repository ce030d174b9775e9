package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLongPosition(entry, stop, target, trail float64) *Position {
	t := &Trade{
		Ticker:     "MSTR",
		Direction:  Long,
		Quantity:   10,
		EntryTime:  time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
		EntryPrice: entry,
	}
	return NewPosition(t, stop, target, trail)
}

func TestDirectionKinds(t *testing.T) {
	assert.True(t, Long.IsEntry())
	assert.True(t, Short.IsEntry())
	assert.False(t, Flat.IsEntry())

	assert.True(t, CloseLong.IsClose())
	assert.True(t, CloseShort.IsClose())
	assert.True(t, Flat.IsClose())
	assert.False(t, Long.IsClose())
}

func TestTrailingStopOnlyTightens(t *testing.T) {
	p := newLongPosition(100, 95, 120, 5)

	p.UpdateTrailingStop(104)
	assert.Equal(t, 99.0, p.TrailingStop)

	// Price retreats: the stop must not loosen.
	p.UpdateTrailingStop(101)
	assert.Equal(t, 99.0, p.TrailingStop)

	p.UpdateTrailingStop(110)
	assert.Equal(t, 105.0, p.TrailingStop)
}

func TestTrailingStopShortSide(t *testing.T) {
	tr := &Trade{Ticker: "PLTR", Direction: Short, Quantity: 5, EntryPrice: 50}
	p := NewPosition(tr, 53, 40, 2)

	p.UpdateTrailingStop(48)
	assert.Equal(t, 50.0, p.TrailingStop)

	p.UpdateTrailingStop(49)
	assert.Equal(t, 50.0, p.TrailingStop)

	p.UpdateTrailingStop(45)
	assert.Equal(t, 47.0, p.TrailingStop)
}

func TestEffectiveStopPicksTighterLevel(t *testing.T) {
	p := newLongPosition(100, 95, 120, 5)
	assert.Equal(t, 95.0, p.EffectiveStop())

	p.UpdateTrailingStop(104) // trailing 99, above fixed 95
	assert.Equal(t, 99.0, p.EffectiveStop())

	short := NewPosition(&Trade{Direction: Short, EntryPrice: 50, Quantity: 1}, 53, 0, 2)
	short.UpdateTrailingStop(49) // trailing 51, below fixed 53
	assert.Equal(t, 51.0, short.EffectiveStop())
}

func TestResolveExitStopBeforeTargetWhenCloserToOpen(t *testing.T) {
	// Both levels are inside the bar's range. The stop sits closer to
	// the open, so it is deemed to have filled first.
	p := newLongPosition(100, 98, 103, 0)
	bar := Bar{Open: 100, High: 104, Low: 97, Close: 101}

	level, reason, ok := p.ResolveExit(bar)
	require.True(t, ok)
	assert.Equal(t, ExitStopLoss, reason)
	assert.Equal(t, 98.0, level)
}

func TestResolveExitTieGoesToStop(t *testing.T) {
	p := newLongPosition(100, 98, 102, 0)
	bar := Bar{Open: 100, High: 102.5, Low: 97.5, Close: 100}

	_, reason, ok := p.ResolveExit(bar)
	require.True(t, ok)
	assert.Equal(t, ExitStopLoss, reason)
}

func TestResolveExitTargetOnly(t *testing.T) {
	p := newLongPosition(100, 95, 103, 0)
	bar := Bar{Open: 101, High: 104, Low: 100, Close: 103.5}

	level, reason, ok := p.ResolveExit(bar)
	require.True(t, ok)
	assert.Equal(t, ExitTakeProfit, reason)
	assert.Equal(t, 103.0, level)
}

func TestResolveExitNoLevels(t *testing.T) {
	p := newLongPosition(100, 0, 0, 0)
	_, _, ok := p.ResolveExit(Bar{Open: 100, High: 101, Low: 99, Close: 100})
	assert.False(t, ok)
}

func TestUnrealizedPnL(t *testing.T) {
	p := newLongPosition(100, 0, 0, 0)
	assert.Equal(t, 50.0, p.UnrealizedPnL(105))

	short := NewPosition(&Trade{Direction: Short, EntryPrice: 50, Quantity: 4}, 0, 0, 0)
	assert.Equal(t, 8.0, short.UnrealizedPnL(48))
}

func TestWindowStartAlignment(t *testing.T) {
	tf := Timeframe(5)
	ts := time.Date(2026, 3, 2, 14, 33, 12, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC), tf.WindowStart(ts))

	ts = time.Date(2026, 3, 2, 14, 35, 0, 0, time.UTC)
	assert.Equal(t, ts, tf.WindowStart(ts))
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("5m")
	require.NoError(t, err)
	assert.Equal(t, Timeframe(5), tf)

	tf, err = ParseTimeframe("10")
	require.NoError(t, err)
	assert.Equal(t, Timeframe(10), tf)

	_, err = ParseTimeframe("0m")
	assert.Error(t, err)
	_, err = ParseTimeframe("abc")
	assert.Error(t, err)
}

func TestTradeClose(t *testing.T) {
	tr := &Trade{Direction: Long, Quantity: 10, EntryPrice: 100}
	tr.Close(time.Now(), 104, ExitTakeProfit)
	assert.True(t, tr.IsClosed())
	assert.Equal(t, 40.0, tr.PnL)
	assert.InDelta(t, 4.0, tr.PnLPct(), 1e-9)

	sh := &Trade{Direction: Short, Quantity: 10, EntryPrice: 100}
	sh.Close(time.Now(), 104, ExitStopLoss)
	assert.Equal(t, -40.0, sh.PnL)
}
