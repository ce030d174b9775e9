package frame

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pvandam/mtfbot/internal/models"
)

func mkBar(i int, close float64) models.Bar {
	return models.Bar{
		Timestamp: time.Date(2026, 3, 2, 14, 30+i, 0, 0, time.UTC),
		Open:      close, High: close, Low: close, Close: close,
	}
}

func TestAppendEvictsBeyondCap(t *testing.T) {
	f := New(3)
	for i := 0; i < 5; i++ {
		f.Append(mkBar(i, float64(100+i)))
	}
	assert.Equal(t, 3, f.Len())
	assert.Equal(t, 102.0, f.Bar(0).Close)
	assert.Equal(t, 104.0, f.Last().Close)
}

func TestEvictionKeepsColumnsParallel(t *testing.T) {
	f := New(3)
	for i := 0; i < 3; i++ {
		f.Append(mkBar(i, float64(i)))
	}
	f.SetColumn("EMA_2", []float64{math.NaN(), 0.5, 1.5})

	f.Append(mkBar(3, 3))
	col := f.Column("EMA_2")
	assert.Len(t, col, 2) // oldest row dropped; Setup re-extends it
	assert.Equal(t, 0.5, col[0])
}

func TestValueHandlesNaNAndMissing(t *testing.T) {
	f := New(10)
	f.Append(mkBar(0, 1))
	f.Append(mkBar(1, 2))
	f.SetColumn("RSI_9", []float64{math.NaN(), 55})

	_, ok := f.Value("RSI_9", 0)
	assert.False(t, ok)

	v, ok := f.Value("RSI_9", 1)
	assert.True(t, ok)
	assert.Equal(t, 55.0, v)

	_, ok = f.Value("ADX_14", 1)
	assert.False(t, ok)

	_, ok = f.Value("RSI_9", 7)
	assert.False(t, ok)
}

func TestFirstValueColumnPreference(t *testing.T) {
	f := New(10)
	f.Append(mkBar(0, 1))
	f.SetColumn("RSI_14", []float64{42})

	v, ok := f.FirstValue(0, "RSI_9", "RSI_14", "RSI_7")
	assert.True(t, ok)
	assert.Equal(t, 42.0, v)

	_, ok = f.FirstValue(0, "ADX_14", "ADX_10")
	assert.False(t, ok)
}
