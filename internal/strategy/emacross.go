package strategy

import (
	"fmt"

	"github.com/pvandam/mtfbot/internal/frame"
	"github.com/pvandam/mtfbot/internal/indicators"
	"github.com/pvandam/mtfbot/internal/models"
)

func init() {
	Register("ema_cross", NewEMACross)
}

// EMACross goes long when the fast EMA crosses above the slow EMA and
// short on the cross below, gated by an ADX trend filter. Crosses are
// detected from the previous row so no per-bar state is needed.
type EMACross struct {
	fast          int
	slow          int
	adxLength     int
	adxMin        float64
	stopLossPct   float64
	takeProfitPct float64
}

func NewEMACross(params map[string]float64) Strategy {
	return &EMACross{
		fast:          int(param(params, "fast_period", 9)),
		slow:          int(param(params, "slow_period", 21)),
		adxLength:     int(param(params, "adx_length", 14)),
		adxMin:        param(params, "adx_min", 20),
		stopLossPct:   param(params, "stop_loss_pct", 0.03),
		takeProfitPct: param(params, "take_profit_pct", 0.06),
	}
}

func (s *EMACross) Name() string { return "ema_cross" }

func (s *EMACross) Setup(f *frame.Frame) error {
	if s.fast >= s.slow {
		return fmt.Errorf("fast_period %d must be below slow_period %d", s.fast, s.slow)
	}
	indicators.AddEMA(f, s.fast)
	indicators.AddEMA(f, s.slow)
	indicators.AddADX(f, s.adxLength)
	return nil
}

func (s *EMACross) OnTradeClosed(t *models.Trade) {}

func (s *EMACross) OnBar(idx int, f *frame.Frame, pos *models.Position) (*models.Signal, error) {
	if idx < 1 {
		return nil, nil
	}
	fastCol := fmt.Sprintf("EMA_%d", s.fast)
	slowCol := fmt.Sprintf("EMA_%d", s.slow)

	fast, ok1 := f.Value(fastCol, idx)
	slow, ok2 := f.Value(slowCol, idx)
	prevFast, ok3 := f.Value(fastCol, idx-1)
	prevSlow, ok4 := f.Value(slowCol, idx-1)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, nil
	}

	crossAbove := prevFast <= prevSlow && fast > slow
	crossBelow := prevFast >= prevSlow && fast < slow

	if pos != nil {
		if pos.Direction == models.Long && crossBelow {
			return &models.Signal{Direction: models.CloseLong, Reason: "ema crossunder"}, nil
		}
		if pos.Direction == models.Short && crossAbove {
			return &models.Signal{Direction: models.CloseShort, Reason: "ema crossover"}, nil
		}
		return nil, nil
	}

	if !crossAbove && !crossBelow {
		return nil, nil
	}

	adx, haveADX := f.Value(fmt.Sprintf("ADX_%d", s.adxLength), idx)
	if haveADX && adx < s.adxMin {
		return nil, nil
	}

	close := f.Bar(idx).Close
	if crossAbove {
		return &models.Signal{
			Direction:  models.Long,
			Price:      close,
			StopLoss:   close * (1 - s.stopLossPct),
			TakeProfit: close * (1 + s.takeProfitPct),
			Reason:     fmt.Sprintf("ema %d/%d crossover", s.fast, s.slow),
		}, nil
	}
	return &models.Signal{
		Direction:  models.Short,
		Price:      close,
		StopLoss:   close * (1 + s.stopLossPct),
		TakeProfit: close * (1 - s.takeProfitPct),
		Reason:     fmt.Sprintf("ema %d/%d crossunder", s.fast, s.slow),
	}, nil
}
