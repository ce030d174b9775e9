// Package indicators computes technical indicator columns over a bar
// frame. Each Add function attaches one or more named columns; rows
// before an indicator's warmup hold NaN. Column names follow the
// LENGTH-suffixed convention strategies look up (RSI_9, ADX_14,
// SUPERT_7_2.5).
package indicators

import (
	"fmt"
	"math"
	"strconv"

	"github.com/pvandam/mtfbot/internal/frame"
	"github.com/pvandam/mtfbot/internal/models"
)

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMASeries returns the simple moving average of values.
func SMASeries(values []float64, length int) []float64 {
	out := nanSlice(len(values))
	if length <= 0 || len(values) < length {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= length {
			sum -= values[i-length]
		}
		if i >= length-1 {
			out[i] = sum / float64(length)
		}
	}
	return out
}

// EMASeries returns the exponential moving average, seeded with the
// SMA of the first length values.
func EMASeries(values []float64, length int) []float64 {
	out := nanSlice(len(values))
	if length <= 0 || len(values) < length {
		return out
	}
	sum := 0.0
	for i := 0; i < length; i++ {
		sum += values[i]
	}
	ema := sum / float64(length)
	out[length-1] = ema
	k := 2.0 / float64(length+1)
	for i := length; i < len(values); i++ {
		ema = (values[i]-ema)*k + ema
		out[i] = ema
	}
	return out
}

// RSISeries returns Wilder's relative strength index.
func RSISeries(values []float64, length int) []float64 {
	out := nanSlice(len(values))
	if length <= 0 || len(values) <= length {
		return out
	}
	var avgGain, avgLoss float64
	for i := 1; i <= length; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(length)
	avgLoss /= float64(length)
	out[length] = rsiFrom(avgGain, avgLoss)
	for i := length + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(length-1) + gain) / float64(length)
		avgLoss = (avgLoss*float64(length-1) + loss) / float64(length)
		out[i] = rsiFrom(avgGain, avgLoss)
	}
	return out
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func trueRange(cur, prev models.Bar) float64 {
	tr := cur.High - cur.Low
	if hc := math.Abs(cur.High - prev.Close); hc > tr {
		tr = hc
	}
	if lc := math.Abs(cur.Low - prev.Close); lc > tr {
		tr = lc
	}
	return tr
}

// ATRSeries returns Wilder's average true range.
func ATRSeries(bars []models.Bar, length int) []float64 {
	out := nanSlice(len(bars))
	if length <= 0 || len(bars) <= length {
		return out
	}
	sum := 0.0
	for i := 1; i <= length; i++ {
		sum += trueRange(bars[i], bars[i-1])
	}
	atr := sum / float64(length)
	out[length] = atr
	for i := length + 1; i < len(bars); i++ {
		atr = (atr*float64(length-1) + trueRange(bars[i], bars[i-1])) / float64(length)
		out[i] = atr
	}
	return out
}

// ADXSeries returns (adx, plusDI, minusDI) using Wilder smoothing. ADX
// values appear after 2*length bars.
func ADXSeries(bars []models.Bar, length int) (adx, plusDI, minusDI []float64) {
	n := len(bars)
	adx, plusDI, minusDI = nanSlice(n), nanSlice(n), nanSlice(n)
	if length <= 0 || n <= 2*length {
		return
	}
	var trS, pdmS, mdmS float64
	dx := nanSlice(n)
	for i := 1; i < n; i++ {
		upMove := bars[i].High - bars[i-1].High
		downMove := bars[i-1].Low - bars[i].Low
		pdm, mdm := 0.0, 0.0
		if upMove > downMove && upMove > 0 {
			pdm = upMove
		}
		if downMove > upMove && downMove > 0 {
			mdm = downMove
		}
		tr := trueRange(bars[i], bars[i-1])

		if i <= length {
			trS += tr
			pdmS += pdm
			mdmS += mdm
			if i < length {
				continue
			}
		} else {
			trS = trS - trS/float64(length) + tr
			pdmS = pdmS - pdmS/float64(length) + pdm
			mdmS = mdmS - mdmS/float64(length) + mdm
		}
		if trS == 0 {
			continue
		}
		pdi := 100 * pdmS / trS
		mdi := 100 * mdmS / trS
		plusDI[i] = pdi
		minusDI[i] = mdi
		if pdi+mdi > 0 {
			dx[i] = 100 * math.Abs(pdi-mdi) / (pdi + mdi)
		}
	}
	// Seed ADX with the average of the first length DX values.
	sum, count := 0.0, 0
	for i := length; i < n; i++ {
		if math.IsNaN(dx[i]) {
			continue
		}
		if count < length {
			sum += dx[i]
			count++
			if count == length {
				adx[i] = sum / float64(length)
			}
			continue
		}
		adx[i] = (adx[i-1]*float64(length-1) + dx[i]) / float64(length)
	}
	return
}

// SuperTrendSeries returns the supertrend line and its direction
// (+1 long regime, -1 short regime).
func SuperTrendSeries(bars []models.Bar, length int, mult float64) (line, dir []float64) {
	n := len(bars)
	line, dir = nanSlice(n), nanSlice(n)
	atr := ATRSeries(bars, length)
	if n == 0 {
		return
	}
	upper, lower := nanSlice(n), nanSlice(n)
	for i := range bars {
		if math.IsNaN(atr[i]) {
			continue
		}
		hl2 := (bars[i].High + bars[i].Low) / 2
		ub := hl2 + mult*atr[i]
		lb := hl2 - mult*atr[i]
		// Carry bands forward so they only ratchet with the trend.
		if i > 0 && !math.IsNaN(upper[i-1]) {
			if ub < upper[i-1] || bars[i-1].Close > upper[i-1] {
				upper[i] = ub
			} else {
				upper[i] = upper[i-1]
			}
			if lb > lower[i-1] || bars[i-1].Close < lower[i-1] {
				lower[i] = lb
			} else {
				lower[i] = lower[i-1]
			}
		} else {
			upper[i] = ub
			lower[i] = lb
		}

		d := 1.0
		if i > 0 && !math.IsNaN(dir[i-1]) {
			d = dir[i-1]
			if d > 0 && bars[i].Close < lower[i-1] {
				d = -1
			} else if d < 0 && bars[i].Close > upper[i-1] {
				d = 1
			}
		} else if bars[i].Close < lower[i] {
			d = -1
		}
		dir[i] = d
		if d > 0 {
			line[i] = lower[i]
		} else {
			line[i] = upper[i]
		}
	}
	return
}

// VWAPSeries returns the volume-weighted average price, resetting the
// accumulation at each UTC date change.
func VWAPSeries(bars []models.Bar) []float64 {
	out := nanSlice(len(bars))
	var pv, vol float64
	var day int
	for i, b := range bars {
		d := b.Timestamp.YearDay() + b.Timestamp.Year()*1000
		if i == 0 || d != day {
			pv, vol = 0, 0
			day = d
		}
		typical := (b.High + b.Low + b.Close) / 3
		pv += typical * b.Volume
		vol += b.Volume
		if vol > 0 {
			out[i] = pv / vol
		}
	}
	return out
}

func formatMult(m float64) string {
	return strconv.FormatFloat(m, 'f', -1, 64)
}

// AddSMA attaches SMA_<length> computed over closes.
func AddSMA(f *frame.Frame, length int) {
	f.SetColumn(fmt.Sprintf("SMA_%d", length), SMASeries(f.Closes(), length))
}

// AddEMA attaches EMA_<length> computed over closes.
func AddEMA(f *frame.Frame, length int) {
	f.SetColumn(fmt.Sprintf("EMA_%d", length), EMASeries(f.Closes(), length))
}

// AddRSI attaches RSI_<length>.
func AddRSI(f *frame.Frame, length int) {
	f.SetColumn(fmt.Sprintf("RSI_%d", length), RSISeries(f.Closes(), length))
}

// AddATR attaches ATR_<length>.
func AddATR(f *frame.Frame, length int) {
	f.SetColumn(fmt.Sprintf("ATR_%d", length), ATRSeries(f.Bars(), length))
}

// AddADX attaches ADX_<length>, DMP_<length>, DMN_<length>.
func AddADX(f *frame.Frame, length int) {
	adx, pdi, mdi := ADXSeries(f.Bars(), length)
	f.SetColumn(fmt.Sprintf("ADX_%d", length), adx)
	f.SetColumn(fmt.Sprintf("DMP_%d", length), pdi)
	f.SetColumn(fmt.Sprintf("DMN_%d", length), mdi)
}

// AddSuperTrend attaches SUPERT_<length>_<mult> (the line) and
// SUPERTd_<length>_<mult> (+1/-1 regime direction).
func AddSuperTrend(f *frame.Frame, length int, mult float64) {
	line, dir := SuperTrendSeries(f.Bars(), length, mult)
	suffix := fmt.Sprintf("%d_%s", length, formatMult(mult))
	f.SetColumn("SUPERT_"+suffix, line)
	f.SetColumn("SUPERTd_"+suffix, dir)
}

// AddVWAP attaches the daily-reset VWAP column.
func AddVWAP(f *frame.Frame) {
	f.SetColumn("VWAP_D", VWAPSeries(f.Bars()))
}
