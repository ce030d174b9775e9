package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvandam/mtfbot/internal/frame"
	"github.com/pvandam/mtfbot/internal/models"
)

func barsFromCloses(closes []float64) []models.Bar {
	out := make([]models.Bar, len(closes))
	for i, c := range closes {
		out[i] = models.Bar{
			Timestamp: time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
			Open:      c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 100,
		}
	}
	return out
}

func TestSMASeries(t *testing.T) {
	out := SMASeries([]float64{1, 2, 3, 4, 5}, 3)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.Equal(t, 2.0, out[2])
	assert.Equal(t, 3.0, out[3])
	assert.Equal(t, 4.0, out[4])
}

func TestEMASeriesSeedsWithSMA(t *testing.T) {
	out := EMASeries([]float64{1, 2, 3, 4, 5}, 3)
	require.Equal(t, 2.0, out[2])
	// k = 0.5: ema = 2 + (4-2)*0.5 = 3, then 3 + (5-3)*0.5 = 4
	assert.InDelta(t, 3.0, out[3], 1e-9)
	assert.InDelta(t, 4.0, out[4], 1e-9)
}

func TestRSISeriesExtremes(t *testing.T) {
	up := make([]float64, 20)
	for i := range up {
		up[i] = float64(100 + i)
	}
	out := RSISeries(up, 9)
	assert.True(t, math.IsNaN(out[8]))
	assert.Equal(t, 100.0, out[9])
	assert.Equal(t, 100.0, out[19])

	down := make([]float64, 20)
	for i := range down {
		down[i] = float64(100 - i)
	}
	out = RSISeries(down, 9)
	assert.InDelta(t, 0.0, out[19], 1e-9)
}

func TestRSISeriesMidpoint(t *testing.T) {
	// Alternating equal-sized moves should settle near 50.
	vals := make([]float64, 60)
	for i := range vals {
		if i%2 == 0 {
			vals[i] = 100
		} else {
			vals[i] = 101
		}
	}
	out := RSISeries(vals, 14)
	assert.InDelta(t, 50.0, out[59], 2.0)
}

func TestATRSeriesConstantRange(t *testing.T) {
	bars := barsFromCloses([]float64{10, 10, 10, 10, 10, 10, 10, 10})
	out := ATRSeries(bars, 3)
	assert.True(t, math.IsNaN(out[2]))
	// Every true range is High-Low = 1.0.
	assert.InDelta(t, 1.0, out[3], 1e-9)
	assert.InDelta(t, 1.0, out[7], 1e-9)
}

func TestADXSeriesWarmupAndTrend(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.8
	}
	bars := barsFromCloses(closes)
	adx, pdi, mdi := ADXSeries(bars, 14)

	for i := 0; i < 27; i++ {
		assert.True(t, math.IsNaN(adx[i]), "adx should be NaN at %d", i)
	}
	last := len(bars) - 1
	require.False(t, math.IsNaN(adx[last]))
	assert.Greater(t, adx[last], 25.0)
	assert.Greater(t, pdi[last], mdi[last])
}

func TestSuperTrendFlips(t *testing.T) {
	closes := make([]float64, 0, 60)
	for i := 0; i < 30; i++ {
		closes = append(closes, 100+float64(i))
	}
	for i := 0; i < 30; i++ {
		closes = append(closes, 129-float64(i)*2)
	}
	bars := barsFromCloses(closes)
	line, dir := SuperTrendSeries(bars, 7, 2.5)

	assert.Equal(t, 1.0, dir[29])
	assert.Less(t, line[29], bars[29].Close)

	last := len(bars) - 1
	assert.Equal(t, -1.0, dir[last])
	assert.Greater(t, line[last], bars[last].Close)
}

func TestVWAPResetsOnDateChange(t *testing.T) {
	bars := barsFromCloses([]float64{10, 20})
	bars[1].Timestamp = bars[0].Timestamp.Add(24 * time.Hour)
	out := VWAPSeries(bars)
	assert.InDelta(t, 10.0, out[0], 1e-9)
	// Second bar starts a fresh session, so prior volume is discarded.
	assert.InDelta(t, 20.0, out[1], 1e-9)
}

func TestAddFunctionsNameColumns(t *testing.T) {
	f := frame.New(100)
	for _, b := range barsFromCloses([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}) {
		f.Append(b)
	}
	AddEMA(f, 3)
	AddRSI(f, 3)
	AddADX(f, 3)
	AddSuperTrend(f, 3, 2.5)
	AddVWAP(f)

	assert.True(t, f.HasColumn("EMA_3"))
	assert.True(t, f.HasColumn("RSI_3"))
	assert.True(t, f.HasColumn("ADX_3"))
	assert.True(t, f.HasColumn("DMP_3"))
	assert.True(t, f.HasColumn("SUPERT_3_2.5"))
	assert.True(t, f.HasColumn("SUPERTd_3_2.5"))
	assert.True(t, f.HasColumn("VWAP_D"))
}
