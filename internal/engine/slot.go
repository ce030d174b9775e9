package engine

import (
	"strings"
	"time"

	"github.com/pvandam/mtfbot/internal/frame"
	"github.com/pvandam/mtfbot/internal/models"
	"github.com/pvandam/mtfbot/internal/strategy"
)

// signalTTL bounds how long a buffered entry signal stays eligible for
// arbitration.
const signalTTL = 120 * time.Second

// Row is a snapshot of the indicator values arbitration needs from the
// bar that produced a signal. Captured at signal time so a later
// eviction cannot shift it.
type Row struct {
	Close  float64
	ADX    float64
	HasADX bool
	RSI    float64
	HasRSI bool
}

// Slot is one timeframe's state for a symbol: the strategy instance,
// its rolling frame, and the most recent unconsumed entry signal.
type Slot struct {
	TF       models.Timeframe
	Strategy strategy.Strategy
	Frame    *frame.Frame
	BarCount int

	lastSignal *models.Signal
	lastRow    Row
	signalTime time.Time
}

// NewSlot binds a warmed-up frame to a strategy for one timeframe.
func NewSlot(tf models.Timeframe, strat strategy.Strategy, f *frame.Frame) *Slot {
	return &Slot{TF: tf, Strategy: strat, Frame: f}
}

// bufferSignal stores an entry signal together with the indicator
// snapshot of its originating row.
func (s *Slot) bufferSignal(sig *models.Signal, now time.Time) {
	s.lastSignal = sig
	s.signalTime = now
	s.lastRow = s.captureRow()
}

func (s *Slot) clearSignal() {
	s.lastSignal = nil
}

// fresh reports whether the buffered signal is still within its TTL.
func (s *Slot) fresh(now time.Time) bool {
	return s.lastSignal != nil && now.Sub(s.signalTime) < signalTTL
}

// captureRow reads the last row's close plus whichever ADX and RSI
// columns the strategy attached, whatever lengths it configured.
func (s *Slot) captureRow() Row {
	row := Row{}
	if s.Frame.Len() == 0 {
		return row
	}
	idx := s.Frame.Len() - 1
	row.Close = s.Frame.Bar(idx).Close
	row.ADX, row.HasADX = s.columnValue(idx, "ADX_")
	row.RSI, row.HasRSI = s.columnValue(idx, "RSI_")
	return row
}

// columnValue returns the value at idx of the first attached column
// whose name carries the prefix. Names are scanned in sorted order so
// the lookup is deterministic.
func (s *Slot) columnValue(idx int, prefix string) (float64, bool) {
	for _, name := range s.Frame.ColumnNames() {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if v, ok := s.Frame.Value(name, idx); ok {
			return v, true
		}
	}
	return 0, false
}
