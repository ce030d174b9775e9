package strategy

import (
	"fmt"
	"math"

	"github.com/pvandam/mtfbot/internal/frame"
	"github.com/pvandam/mtfbot/internal/indicators"
	"github.com/pvandam/mtfbot/internal/models"
)

func init() {
	Register("supertrend_momentum", NewSuperTrendMomentum)
}

// SuperTrendMomentum trades SuperTrend regime flips confirmed by ADX
// and RSI, plus continuation entries on RSI pullback recovery inside
// an established trend. Exits when the regime flips against the
// position; protective stop and target come from ATR multiples.
type SuperTrendMomentum struct {
	stLength      int
	stMult        float64
	adxLength     int
	adxMin        float64
	rsiLength     int
	atrLength     int
	trendEMA      int
	atrStopMult   float64
	atrTargetMult float64
	rsiLongMin    float64
	rsiShortMax   float64
	sessionStart  int // minutes of day, UTC
	sessionEnd    int
	contHoldMin   int
	contRSIDip    float64

	prevSTDir    float64
	stDirCount   int
	rsiRecentExt float64
	haveRSIExt   bool
}

func NewSuperTrendMomentum(params map[string]float64) Strategy {
	startHour := param(params, "session_start_hour", 14)
	startMin := param(params, "session_start_minute", 35)
	endHour := param(params, "session_end_hour", 19)
	endMin := param(params, "session_end_minute", 0)

	return &SuperTrendMomentum{
		stLength:      int(param(params, "st_length", 7)),
		stMult:        param(params, "st_mult", 2.5),
		adxLength:     int(param(params, "adx_length", 14)),
		adxMin:        param(params, "adx_min", 22),
		rsiLength:     int(param(params, "rsi_length", 9)),
		atrLength:     int(param(params, "atr_length", 10)),
		trendEMA:      int(param(params, "trend_ema", 50)),
		atrStopMult:   param(params, "atr_stop_mult", 1.5),
		atrTargetMult: param(params, "atr_target_mult", 3.5),
		rsiLongMin:    param(params, "rsi_long_min", 53),
		rsiShortMax:   param(params, "rsi_short_max", 47),
		sessionStart:  int(startHour)*60 + int(startMin),
		sessionEnd:    int(endHour)*60 + int(endMin),
		contHoldMin:   int(param(params, "cont_hold_min", 5)),
		contRSIDip:    param(params, "cont_rsi_dip", 5),
	}
}

func (s *SuperTrendMomentum) Name() string { return "supertrend_momentum" }

func (s *SuperTrendMomentum) Setup(f *frame.Frame) error {
	indicators.AddSuperTrend(f, s.stLength, s.stMult)
	indicators.AddADX(f, s.adxLength)
	indicators.AddRSI(f, s.rsiLength)
	indicators.AddATR(f, s.atrLength)
	indicators.AddEMA(f, s.trendEMA)
	return nil
}

func (s *SuperTrendMomentum) OnTradeClosed(t *models.Trade) {
	s.haveRSIExt = false
}

func (s *SuperTrendMomentum) inSession(minuteOfDay int) bool {
	return minuteOfDay >= s.sessionStart && minuteOfDay <= s.sessionEnd
}

func (s *SuperTrendMomentum) OnBar(idx int, f *frame.Frame, pos *models.Position) (*models.Signal, error) {
	dirCol := fmt.Sprintf("SUPERTd_%d_%s", s.stLength, formatMult(s.stMult))
	stDir, ok1 := f.Value(dirCol, idx)
	adx, ok2 := f.Value(fmt.Sprintf("ADX_%d", s.adxLength), idx)
	atr, ok3 := f.Value(fmt.Sprintf("ATR_%d", s.atrLength), idx)
	if !ok1 || !ok2 || !ok3 || atr <= 0 {
		return nil, nil
	}
	rsi, haveRSI := f.Value(fmt.Sprintf("RSI_%d", s.rsiLength), idx)
	emaTrend, haveEMA := f.Value(fmt.Sprintf("EMA_%d", s.trendEMA), idx)

	bar := f.Bar(idx)
	ts := bar.Timestamp.UTC()

	if !s.inSession(ts.Hour()*60 + ts.Minute()) {
		if pos != nil {
			return &models.Signal{
				Direction: models.CloseFor(pos.Direction),
				Reason:    "end of session",
			}, nil
		}
		return nil, nil
	}

	// Track how long the regime has held and the RSI extreme inside
	// it, for continuation entries.
	if s.stDirCount > 0 && stDir == s.prevSTDir {
		s.stDirCount++
	} else {
		s.stDirCount = 1
		s.rsiRecentExt = rsi
		s.haveRSIExt = haveRSI
	}
	flippedBull := s.prevSTDir < 0 && stDir > 0
	flippedBear := s.prevSTDir > 0 && stDir < 0
	s.prevSTDir = stDir

	if haveRSI {
		if !s.haveRSIExt {
			s.rsiRecentExt = rsi
			s.haveRSIExt = true
		} else if stDir > 0 && rsi < s.rsiRecentExt {
			s.rsiRecentExt = rsi
		} else if stDir < 0 && rsi > s.rsiRecentExt {
			s.rsiRecentExt = rsi
		}
	}

	if pos != nil {
		if pos.Direction == models.Long && stDir < 0 {
			return &models.Signal{Direction: models.CloseLong, Reason: "supertrend flipped bearish"}, nil
		}
		if pos.Direction == models.Short && stDir > 0 {
			return &models.Signal{Direction: models.CloseShort, Reason: "supertrend flipped bullish"}, nil
		}
		return nil, nil
	}

	if adx <= s.adxMin || !haveRSI {
		return nil, nil
	}

	close := bar.Close
	stopDist := atr * s.atrStopMult
	targetDist := atr * s.atrTargetMult
	trendUp := haveEMA && close > emaTrend
	trendDown := haveEMA && close < emaTrend
	bullBar := close > bar.Open
	bearBar := close < bar.Open

	// Flip entries: regime change with momentum confirmation.
	if stDir > 0 && rsi > s.rsiLongMin && (bullBar || flippedBull) && (trendUp || flippedBull) {
		s.rsiRecentExt = rsi
		return &models.Signal{
			Direction:  models.Long,
			Price:      close,
			StopLoss:   close - stopDist,
			TakeProfit: close + targetDist,
			Reason:     fmt.Sprintf("flip long: adx %.0f rsi %.0f", adx, rsi),
		}, nil
	}
	if stDir < 0 && rsi < s.rsiShortMax && (bearBar || flippedBear) && (trendDown || flippedBear) {
		s.rsiRecentExt = rsi
		return &models.Signal{
			Direction:  models.Short,
			Price:      close,
			StopLoss:   close + stopDist,
			TakeProfit: close - targetDist,
			Reason:     fmt.Sprintf("flip short: adx %.0f rsi %.0f", adx, rsi),
		}, nil
	}

	// Continuation entries: the regime has held and RSI pulled back
	// then recovered.
	if s.stDirCount >= s.contHoldMin && s.haveRSIExt {
		if stDir > 0 && trendUp && bullBar &&
			rsi-s.rsiRecentExt >= s.contRSIDip && rsi > s.rsiLongMin {
			ext := s.rsiRecentExt
			s.rsiRecentExt = rsi
			return &models.Signal{
				Direction:  models.Long,
				Price:      close,
				StopLoss:   close - stopDist,
				TakeProfit: close + targetDist,
				Reason:     fmt.Sprintf("continuation long: rsi %.0f from %.0f", rsi, ext),
			}, nil
		}
		if stDir < 0 && trendDown && bearBar &&
			s.rsiRecentExt-rsi >= s.contRSIDip && rsi < s.rsiShortMax {
			ext := s.rsiRecentExt
			s.rsiRecentExt = rsi
			return &models.Signal{
				Direction:  models.Short,
				Price:      close,
				StopLoss:   close + stopDist,
				TakeProfit: close - targetDist,
				Reason:     fmt.Sprintf("continuation short: rsi %.0f from %.0f", rsi, ext),
			}, nil
		}
	}

	return nil, nil
}

func formatMult(m float64) string {
	if m == math.Trunc(m) {
		return fmt.Sprintf("%d", int(m))
	}
	return fmt.Sprintf("%g", m)
}
