package models

import "time"

// Trade records a single round trip (or the open half of one). A trade
// with a zero ExitTime is still open. When a trade represents a broker
// fill, EntryPrice is the actual fill price.
type Trade struct {
	ID           string
	Ticker       string
	Direction    Direction
	Quantity     float64
	EntryTime    time.Time
	EntryPrice   float64
	ExitTime     time.Time
	ExitPrice    float64
	StopLoss     float64
	TakeProfit   float64
	Commission   float64
	Slippage     float64
	PnL          float64
	ExitReason   string
	SignalReason string
	OrderID      string
}

// IsClosed reports whether the trade has been exited.
func (t *Trade) IsClosed() bool { return !t.ExitTime.IsZero() }

// Close marks the trade exited and computes realized P&L.
func (t *Trade) Close(exitTime time.Time, exitPrice float64, reason string) {
	t.ExitTime = exitTime
	t.ExitPrice = exitPrice
	t.ExitReason = reason
	if t.Direction == Short {
		t.PnL = (t.EntryPrice - exitPrice) * t.Quantity
	} else {
		t.PnL = (exitPrice - t.EntryPrice) * t.Quantity
	}
}

// PnLPct returns the realized return as a percentage of entry value.
func (t *Trade) PnLPct() float64 {
	if t.EntryPrice == 0 || t.Quantity == 0 {
		return 0
	}
	return t.PnL / (t.EntryPrice * t.Quantity) * 100
}
