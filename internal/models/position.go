package models

import (
	"math"
	"time"
)

// Exit reasons attached to locally detected exits.
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
	ExitSignal     = "signal"
)

// Position is the engine's local view of an open position, including
// the protective levels it monitors on every bar of the active
// timeframe. Price fields use 0 to mean "not set".
type Position struct {
	Ticker               string
	Direction            Direction
	Quantity             float64
	EntryPrice           float64
	EntryTime            time.Time
	StopLoss             float64
	TakeProfit           float64
	TrailingStopDistance float64
	TrailingStop         float64
	Trade                *Trade
}

// NewPosition builds a Position from an entry fill.
func NewPosition(t *Trade, stopLoss, takeProfit, trailingDistance float64) *Position {
	return &Position{
		Ticker:               t.Ticker,
		Direction:            t.Direction,
		Quantity:             t.Quantity,
		EntryPrice:           t.EntryPrice,
		EntryTime:            t.EntryTime,
		StopLoss:             stopLoss,
		TakeProfit:           takeProfit,
		TrailingStopDistance: trailingDistance,
		Trade:                t,
	}
}

// UpdateTrailingStop ratchets the trailing stop toward price. The stop
// only ever tightens: it rises for longs and falls for shorts, never
// the other way.
func (p *Position) UpdateTrailingStop(price float64) {
	if p.TrailingStopDistance <= 0 {
		return
	}
	if p.Direction == Short {
		candidate := price + p.TrailingStopDistance
		if p.TrailingStop == 0 || candidate < p.TrailingStop {
			p.TrailingStop = candidate
		}
		return
	}
	candidate := price - p.TrailingStopDistance
	if candidate > p.TrailingStop {
		p.TrailingStop = candidate
	}
}

// EffectiveStop returns the binding stop level: the tighter of the
// fixed stop and the trailing stop, or 0 if neither is set.
func (p *Position) EffectiveStop() float64 {
	if p.StopLoss == 0 && p.TrailingStop == 0 {
		return 0
	}
	if p.StopLoss == 0 {
		return p.TrailingStop
	}
	if p.TrailingStop == 0 {
		return p.StopLoss
	}
	if p.Direction == Short {
		return math.Min(p.StopLoss, p.TrailingStop)
	}
	return math.Max(p.StopLoss, p.TrailingStop)
}

// StopHit reports whether the bar's range crossed the effective stop.
func (p *Position) StopHit(bar Bar) bool {
	stop := p.EffectiveStop()
	if stop == 0 {
		return false
	}
	if p.Direction == Short {
		return bar.High >= stop
	}
	return bar.Low <= stop
}

// TargetHit reports whether the bar's range crossed the take-profit.
func (p *Position) TargetHit(bar Bar) bool {
	if p.TakeProfit == 0 {
		return false
	}
	if p.Direction == Short {
		return bar.Low <= p.TakeProfit
	}
	return bar.High >= p.TakeProfit
}

// ResolveExit decides which protective level fired within the bar. If
// both the stop and the target were crossed, the level closer to the
// bar's open is deemed to have filled first; an exact tie goes to the
// stop. Returns ok=false when no level fired.
func (p *Position) ResolveExit(bar Bar) (level float64, reason string, ok bool) {
	stopHit := p.StopHit(bar)
	targetHit := p.TargetHit(bar)
	switch {
	case stopHit && targetHit:
		stopDist := math.Abs(bar.Open - p.EffectiveStop())
		targetDist := math.Abs(bar.Open - p.TakeProfit)
		if stopDist <= targetDist {
			return p.EffectiveStop(), ExitStopLoss, true
		}
		return p.TakeProfit, ExitTakeProfit, true
	case stopHit:
		return p.EffectiveStop(), ExitStopLoss, true
	case targetHit:
		return p.TakeProfit, ExitTakeProfit, true
	}
	return 0, "", false
}

// UnrealizedPnL returns the open P&L at the given price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p.Direction == Short {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}

// Value returns the position's notional value at the given price.
func (p *Position) Value(price float64) float64 {
	return price * p.Quantity
}
