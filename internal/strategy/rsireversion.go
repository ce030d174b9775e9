package strategy

import (
	"fmt"

	"github.com/pvandam/mtfbot/internal/frame"
	"github.com/pvandam/mtfbot/internal/indicators"
	"github.com/pvandam/mtfbot/internal/models"
)

func init() {
	Register("rsi_reversion", NewRSIReversion)
}

// RSIReversion buys oversold dips above a trend EMA and exits when RSI
// recovers into overbought territory. Long only.
type RSIReversion struct {
	rsiLength     int
	oversold      float64
	overbought    float64
	trendEMA      int
	stopLossPct   float64
	takeProfitPct float64
}

func NewRSIReversion(params map[string]float64) Strategy {
	return &RSIReversion{
		rsiLength:     int(param(params, "rsi_length", 14)),
		oversold:      param(params, "oversold", 30),
		overbought:    param(params, "overbought", 70),
		trendEMA:      int(param(params, "trend_ema", 200)),
		stopLossPct:   param(params, "stop_loss_pct", 0.05),
		takeProfitPct: param(params, "take_profit_pct", 0.10),
	}
}

func (s *RSIReversion) Name() string { return "rsi_reversion" }

func (s *RSIReversion) Setup(f *frame.Frame) error {
	indicators.AddRSI(f, s.rsiLength)
	indicators.AddEMA(f, s.trendEMA)
	return nil
}

func (s *RSIReversion) OnTradeClosed(t *models.Trade) {}

func (s *RSIReversion) OnBar(idx int, f *frame.Frame, pos *models.Position) (*models.Signal, error) {
	rsi, ok1 := f.Value(fmt.Sprintf("RSI_%d", s.rsiLength), idx)
	ema, ok2 := f.Value(fmt.Sprintf("EMA_%d", s.trendEMA), idx)
	if !ok1 || !ok2 {
		return nil, nil
	}

	close := f.Bar(idx).Close

	if pos != nil {
		if pos.Direction == models.Long && rsi > s.overbought {
			return &models.Signal{
				Direction: models.CloseLong,
				Reason:    fmt.Sprintf("rsi overbought %.1f", rsi),
			}, nil
		}
		return nil, nil
	}

	if rsi < s.oversold && close > ema {
		return &models.Signal{
			Direction:  models.Long,
			Price:      close,
			StopLoss:   close * (1 - s.stopLossPct),
			TakeProfit: close * (1 + s.takeProfitPct),
			Reason:     fmt.Sprintf("rsi oversold %.1f above trend ema", rsi),
		}, nil
	}
	return nil, nil
}
