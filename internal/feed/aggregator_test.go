package feed

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvandam/mtfbot/internal/models"
)

type emitted struct {
	symbol string
	tf     models.Timeframe
	bar    models.Bar
}

func collector() (*[]emitted, BarHandler) {
	out := &[]emitted{}
	return out, func(symbol string, tf models.Timeframe, bar models.Bar) {
		*out = append(*out, emitted{symbol, tf, bar})
	}
}

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func minuteBar(hh, mm int, o, h, l, c, v float64) models.Bar {
	return models.Bar{
		Timestamp: time.Date(2026, 3, 2, hh, mm, 0, 0, time.UTC),
		Open:      o, High: h, Low: l, Close: c, Volume: v,
	}
}

func TestAggregationBoundary(t *testing.T) {
	out, handler := collector()
	agg := NewAggregator(5, handler, quietLog())

	agg.OnMinuteBar("MSTR", minuteBar(14, 32, 10, 11, 9, 10, 100))
	agg.OnMinuteBar("MSTR", minuteBar(14, 33, 10, 12, 10, 11, 200))
	require.Empty(t, *out)

	// :34 is the terminal minute of the 14:30 window and completes it.
	agg.OnMinuteBar("MSTR", minuteBar(14, 34, 11, 11.5, 10.5, 11, 300))

	require.Len(t, *out, 1)
	got := (*out)[0]
	assert.Equal(t, "MSTR", got.symbol)
	assert.Equal(t, time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC), got.bar.Timestamp)
	assert.Equal(t, 10.0, got.bar.Open)
	assert.Equal(t, 12.0, got.bar.High)
	assert.Equal(t, 9.0, got.bar.Low)
	assert.Equal(t, 11.0, got.bar.Close)
	assert.Equal(t, 600.0, got.bar.Volume)

	// The next window's first bar triggers nothing further.
	agg.OnMinuteBar("MSTR", minuteBar(14, 40, 11, 11, 11, 11, 50))
	assert.Len(t, *out, 1)
}

func TestTerminalMinuteEmitsImmediately(t *testing.T) {
	out, handler := collector()
	agg := NewAggregator(5, handler, quietLog())

	agg.OnMinuteBar("MSTR", minuteBar(14, 30, 1, 1, 1, 1, 1))
	agg.OnMinuteBar("MSTR", minuteBar(14, 34, 2, 2, 2, 2, 1))

	require.Len(t, *out, 1)
	assert.Equal(t, time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC), (*out)[0].bar.Timestamp)
	assert.Equal(t, 2.0, (*out)[0].bar.Close)
}

func TestMissingMinuteDoesNotRebase(t *testing.T) {
	out, handler := collector()
	agg := NewAggregator(5, handler, quietLog())

	agg.OnMinuteBar("MSTR", minuteBar(14, 30, 1, 3, 1, 2, 1))
	// :31 and :32 never arrive.
	agg.OnMinuteBar("MSTR", minuteBar(14, 33, 2, 4, 2, 3, 1))
	agg.OnMinuteBar("MSTR", minuteBar(14, 34, 3, 5, 3, 4, 1))

	require.Len(t, *out, 1)
	b := (*out)[0].bar
	assert.Equal(t, time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC), b.Timestamp)
	assert.Equal(t, 1.0, b.Open)
	assert.Equal(t, 5.0, b.High)
	assert.Equal(t, 3.0, b.Volume)
}

func TestLateBarForCompletedWindowDropped(t *testing.T) {
	out, handler := collector()
	agg := NewAggregator(5, handler, quietLog())

	agg.OnMinuteBar("MSTR", minuteBar(14, 33, 1, 1, 1, 1, 1))
	agg.OnMinuteBar("MSTR", minuteBar(14, 34, 2, 2, 2, 2, 1))
	require.Len(t, *out, 1)

	// A straggler for the emitted window must not re-emit.
	agg.OnMinuteBar("MSTR", minuteBar(14, 32, 9, 9, 9, 9, 9))
	assert.Len(t, *out, 1)

	// And the next window still works.
	agg.OnMinuteBar("MSTR", minuteBar(14, 39, 3, 3, 3, 3, 1))
	require.Len(t, *out, 2)
	assert.Equal(t, time.Date(2026, 3, 2, 14, 35, 0, 0, time.UTC), (*out)[1].bar.Timestamp)
}

func TestGapEmitsPartialWindow(t *testing.T) {
	out, handler := collector()
	agg := NewAggregator(5, handler, quietLog())

	agg.OnMinuteBar("MSTR", minuteBar(14, 31, 1, 1, 1, 1, 1))
	// Jump straight into the next window.
	agg.OnMinuteBar("MSTR", minuteBar(14, 36, 2, 2, 2, 2, 1))

	require.Len(t, *out, 1)
	assert.Equal(t, time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC), (*out)[0].bar.Timestamp)
	assert.Equal(t, 1.0, (*out)[0].bar.Close)
}

func TestPassthroughForOneMinute(t *testing.T) {
	out, handler := collector()
	agg := NewAggregator(1, handler, quietLog())

	in := minuteBar(14, 33, 1, 2, 0.5, 1.5, 42)
	agg.OnMinuteBar("MSTR", in)

	require.Len(t, *out, 1)
	assert.Equal(t, in, (*out)[0].bar)
}

func TestBuffersAreIndependentPerSymbol(t *testing.T) {
	out, handler := collector()
	agg := NewAggregator(5, handler, quietLog())

	agg.OnMinuteBar("MSTR", minuteBar(14, 33, 1, 1, 1, 1, 1))
	agg.OnMinuteBar("PLTR", minuteBar(14, 34, 2, 2, 2, 2, 1))

	require.Len(t, *out, 1)
	assert.Equal(t, "PLTR", (*out)[0].symbol)

	agg.Flush("MSTR")
	require.Len(t, *out, 2)
	assert.Equal(t, "MSTR", (*out)[1].symbol)
}

func TestFlushAll(t *testing.T) {
	out, handler := collector()
	agg := NewAggregator(10, handler, quietLog())

	agg.OnMinuteBar("MSTR", minuteBar(15, 1, 1, 1, 1, 1, 1))
	agg.OnMinuteBar("PLTR", minuteBar(15, 2, 2, 2, 2, 2, 2))
	require.Empty(t, *out)

	agg.FlushAll()
	assert.Len(t, *out, 2)

	// Flushing twice does not double-emit.
	agg.FlushAll()
	assert.Len(t, *out, 2)
}
