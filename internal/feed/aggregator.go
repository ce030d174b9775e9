// Package feed delivers 1-minute bars from the market data stream and
// aggregates them into the clock-aligned timeframes engines consume.
package feed

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pvandam/mtfbot/internal/models"
)

// BarHandler receives completed aggregated bars.
type BarHandler func(symbol string, tf models.Timeframe, bar models.Bar)

type aggBuffer struct {
	windowStart int64        // unix seconds of current window start
	bars        []models.Bar // 1m bars accumulated for the window
	lastEmitted int64        // unix seconds of last emitted window start
}

// Aggregator combines 1-minute bars into N-minute bars whose windows
// align to the clock, with one buffer per symbol. With a 1-minute
// timeframe it is a passthrough.
type Aggregator struct {
	tf      models.Timeframe
	handler BarHandler
	log     *logrus.Logger

	mu      sync.Mutex
	buffers map[string]*aggBuffer
}

// NewAggregator creates an aggregator for one timeframe. The handler
// is invoked synchronously as windows complete.
func NewAggregator(tf models.Timeframe, handler BarHandler, log *logrus.Logger) *Aggregator {
	return &Aggregator{
		tf:      tf,
		handler: handler,
		log:     log,
		buffers: make(map[string]*aggBuffer),
	}
}

// OnMinuteBar processes one incoming 1-minute bar. Bars that arrive
// late for an already-emitted window are dropped.
func (a *Aggregator) OnMinuteBar(symbol string, bar models.Bar) {
	if a.tf.Minutes() == 1 {
		a.handler(symbol, a.tf, bar)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.tf.WindowStart(bar.Timestamp)
	ws := w.Unix()

	buf, ok := a.buffers[symbol]
	if !ok {
		buf = &aggBuffer{windowStart: ws}
		a.buffers[symbol] = buf
	}

	if buf.lastEmitted != 0 && ws <= buf.lastEmitted {
		a.log.WithFields(logrus.Fields{
			"symbol": symbol,
			"tf":     a.tf.String(),
			"ts":     bar.Timestamp,
		}).Debug("feed: dropping late bar for completed window")
		return
	}

	if ws != buf.windowStart {
		if ws < buf.windowStart {
			a.log.WithFields(logrus.Fields{
				"symbol": symbol,
				"tf":     a.tf.String(),
				"ts":     bar.Timestamp,
			}).Debug("feed: dropping out-of-order bar")
			return
		}
		// A gap does not rebase the window; the old partial window is
		// emitted as-is and the new one starts on its own boundary.
		if len(buf.bars) > 0 {
			a.emitLocked(symbol, buf)
		}
		buf.windowStart = ws
	}

	buf.bars = append(buf.bars, bar)

	if bar.Timestamp.Minute()%a.tf.Minutes() == a.tf.Minutes()-1 {
		a.emitLocked(symbol, buf)
		buf.windowStart = ws + int64(a.tf.Duration().Seconds())
	}
}

// Flush emits the partial buffer for one symbol (market close or
// shutdown).
func (a *Aggregator) Flush(symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if buf, ok := a.buffers[symbol]; ok && len(buf.bars) > 0 {
		a.emitLocked(symbol, buf)
	}
}

// FlushAll emits every partial buffer.
func (a *Aggregator) FlushAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for symbol, buf := range a.buffers {
		if len(buf.bars) > 0 {
			a.emitLocked(symbol, buf)
		}
	}
}

func (a *Aggregator) emitLocked(symbol string, buf *aggBuffer) {
	bars := buf.bars
	agg := models.Bar{
		Timestamp: a.tf.WindowStart(bars[0].Timestamp),
		Open:      bars[0].Open,
		High:      bars[0].High,
		Low:       bars[0].Low,
		Close:     bars[len(bars)-1].Close,
	}
	for _, b := range bars {
		if b.High > agg.High {
			agg.High = b.High
		}
		if b.Low < agg.Low {
			agg.Low = b.Low
		}
		agg.Volume += b.Volume
	}
	buf.lastEmitted = buf.windowStart
	buf.bars = nil
	a.handler(symbol, a.tf, agg)
}
