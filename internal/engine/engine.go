// Package engine runs one symbol's strategies across multiple
// timeframes, arbitrates their entry signals, and owns the symbol's
// single position.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pvandam/mtfbot/internal/broker"
	"github.com/pvandam/mtfbot/internal/config"
	"github.com/pvandam/mtfbot/internal/models"
	"github.com/pvandam/mtfbot/internal/report"
	"github.com/pvandam/mtfbot/internal/retry"
	"github.com/pvandam/mtfbot/internal/risk"
	"github.com/pvandam/mtfbot/internal/storage"
)

// hardReject marks a candidate categorically excluded from
// arbitration.
var hardReject = math.Inf(-1)

const defaultHeartbeatBars = 20
const defaultMailboxSize = 256

// Options wires an engine's collaborators.
type Options struct {
	Symbol        string
	Slots         []*Slot // config order; order breaks score ties
	Broker        broker.Broker
	Risk          *risk.Manager
	Storage       storage.Interface
	Report        *report.Daily
	Log           *logrus.Logger
	Sizing        config.SizingConfig
	LongOnly      bool
	HeartbeatBars int
	MailboxSize   int
}

// Engine serializes all state mutation for one symbol through a
// mailbox consumed by Run. Bar handling, reconciliation, and shutdown
// commands are linearized; engines for different symbols run
// concurrently.
type Engine struct {
	symbol        string
	slots         []*Slot
	broker        broker.Broker
	risk          *risk.Manager
	store         storage.Interface
	report        *report.Daily
	closer        *retry.Client
	log           *logrus.Entry
	sizing        config.SizingConfig
	longOnly      bool
	heartbeatBars int

	tasks chan func(context.Context)
	now   func() time.Time

	// mu guards the snapshot-visible state; the mailbox consumer is
	// the only writer.
	mu        sync.Mutex
	position  *models.Position
	activeTF  models.Timeframe
	active    bool
	totalBars int
}

// New builds an engine. Run must be started before bars are delivered.
func New(opts Options) *Engine {
	hb := opts.HeartbeatBars
	if hb <= 0 {
		hb = defaultHeartbeatBars
	}
	size := opts.MailboxSize
	if size <= 0 {
		size = defaultMailboxSize
	}
	return &Engine{
		symbol:        opts.Symbol,
		slots:         opts.Slots,
		broker:        opts.Broker,
		risk:          opts.Risk,
		store:         opts.Storage,
		report:        opts.Report,
		closer:        retry.NewClient(opts.Broker, opts.Log),
		log:           opts.Log.WithField("symbol", opts.Symbol),
		sizing:        opts.Sizing,
		longOnly:      opts.LongOnly,
		heartbeatBars: hb,
		tasks:         make(chan func(context.Context), size),
		now:           time.Now,
		active:        true,
	}
}

// Run consumes the mailbox until ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-e.tasks:
			task(ctx)
		}
	}
}

// enqueue posts a task without blocking the caller. A full mailbox
// drops the task; at minute cadence that only happens when the
// consumer is gone.
func (e *Engine) enqueue(task func(context.Context)) {
	select {
	case e.tasks <- task:
	default:
		e.log.Warn("engine: mailbox full, dropping task")
	}
}

// OnBar delivers an aggregated bar. Safe to call from the feed
// goroutine; handling happens on the engine's own task.
func (e *Engine) OnBar(symbol string, tf models.Timeframe, bar models.Bar) {
	e.enqueue(func(ctx context.Context) {
		e.handleBar(ctx, symbol, tf, bar)
	})
}

// Reconcile compares local and broker state through the mailbox, so
// it cannot interleave with bar handling, and waits for the outcome.
func (e *Engine) Reconcile(ctx context.Context) (ReconcileOutcome, error) {
	type result struct {
		outcome ReconcileOutcome
		err     error
	}
	done := make(chan result, 1)
	select {
	case e.tasks <- func(taskCtx context.Context) {
		outcome, err := e.runReconcile(taskCtx)
		done <- result{outcome, err}
	}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-done:
		return r.outcome, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Pause stops entries and bar handling. Close-kind admission stays
// available at the risk manager for other engines.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.active = false
	e.mu.Unlock()
	e.log.Warn("engine: trading paused")
}

// Resume re-enables bar handling.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.active = true
	e.mu.Unlock()
	e.log.Info("engine: trading resumed")
}

// Symbol returns the engine's symbol.
func (e *Engine) Symbol() string { return e.symbol }

// Active reports whether the engine is handling bars.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// PositionStatus is the dashboard view of an open position.
type PositionStatus struct {
	Direction    models.Direction `json:"direction"`
	Quantity     float64          `json:"quantity"`
	EntryPrice   float64          `json:"entry_price"`
	StopLoss     float64          `json:"stop_loss,omitempty"`
	TakeProfit   float64          `json:"take_profit,omitempty"`
	TrailingStop float64          `json:"trailing_stop,omitempty"`
}

// Status is a point-in-time engine snapshot.
type Status struct {
	Symbol          string          `json:"symbol"`
	Active          bool            `json:"active"`
	TotalBars       int             `json:"total_bars"`
	ActiveTimeframe string          `json:"active_timeframe,omitempty"`
	Position        *PositionStatus `json:"position,omitempty"`
}

// Snapshot returns the current engine state for status surfaces.
func (e *Engine) Snapshot() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		Symbol:    e.symbol,
		Active:    e.active,
		TotalBars: e.totalBars,
	}
	if e.activeTF != 0 {
		st.ActiveTimeframe = e.activeTF.String()
	}
	if e.position != nil {
		st.Position = &PositionStatus{
			Direction:    e.position.Direction,
			Quantity:     e.position.Quantity,
			EntryPrice:   e.position.EntryPrice,
			StopLoss:     e.position.StopLoss,
			TakeProfit:   e.position.TakeProfit,
			TrailingStop: e.position.TrailingStop,
		}
	}
	return st
}

func (e *Engine) slotFor(tf models.Timeframe) *Slot {
	for _, s := range e.slots {
		if s.TF == tf {
			return s
		}
	}
	return nil
}

func (e *Engine) setPosition(pos *models.Position, tf models.Timeframe) {
	e.mu.Lock()
	e.position = pos
	e.activeTF = tf
	e.mu.Unlock()
}

// handleBar is the per-bar protocol. Only ever called from the mailbox
// consumer.
func (e *Engine) handleBar(ctx context.Context, symbol string, tf models.Timeframe, bar models.Bar) {
	if !e.Active() || symbol != e.symbol {
		return
	}
	slot := e.slotFor(tf)
	if slot == nil {
		return
	}

	slot.BarCount++
	e.mu.Lock()
	e.totalBars++
	totalBars := e.totalBars
	e.mu.Unlock()

	slot.Frame.Append(bar)

	if err := slot.Strategy.Setup(slot.Frame); err != nil {
		e.log.WithError(err).WithField("timeframe", tf.String()).Error("engine: indicator refresh failed")
		return
	}

	// Local stop/target safety net, active timeframe only.
	if e.position != nil && e.activeTF == tf {
		if level, reason, ok := e.position.ResolveExit(bar); ok {
			e.log.WithFields(logrus.Fields{
				"timeframe": tf.String(),
				"level":     level,
				"reason":    reason,
			}).Info("engine: protective level hit")
			e.closePosition(ctx, reason, tf)
		} else {
			// Snapshot reads the trailing stop from other goroutines.
			e.mu.Lock()
			e.position.UpdateTrailingStop(bar.Close)
			e.mu.Unlock()
		}
	}

	idx := slot.Frame.Len() - 1
	sig, err := slot.Strategy.OnBar(idx, slot.Frame, e.position)
	if err != nil {
		e.log.WithError(err).WithField("timeframe", tf.String()).Error("engine: strategy error")
		return
	}

	if sig != nil {
		sig.Ticker = e.symbol
		if e.longOnly && (sig.Direction == models.Short || sig.Direction == models.CloseShort) {
			return
		}
		if sig.Direction.IsClose() {
			if e.position != nil {
				reason := sig.Reason
				if reason == "" {
					reason = models.ExitSignal
				}
				e.closePosition(ctx, reason, tf)
			}
		} else if sig.Direction.IsEntry() {
			slot.bufferSignal(sig, e.now())
			e.evaluateEntries(ctx)
		}
	}

	if totalBars%e.heartbeatBars == 0 {
		posStr := "flat"
		if e.position != nil {
			posStr = fmt.Sprintf("%s @ $%.2f (via %s)", e.position.Direction, e.position.EntryPrice, e.activeTF)
		}
		e.log.WithFields(logrus.Fields{
			"bars":     totalBars,
			"close":    bar.Close,
			"position": posStr,
		}).Info("engine: heartbeat")
	}
}

// evaluateEntries arbitrates buffered signals across timeframes and
// opens at most one position.
func (e *Engine) evaluateEntries(ctx context.Context) {
	if e.position != nil {
		for _, s := range e.slots {
			s.clearSignal()
		}
		return
	}

	now := e.now()
	var candidates []*Slot
	for _, s := range e.slots {
		if s.fresh(now) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return
	}

	// The agreement floor counts every fresh same-direction signal,
	// including ones the RSI gate will exclude; the bonus later counts
	// only surviving candidates.
	freshByDir := map[models.Direction]int{}
	for _, s := range candidates {
		freshByDir[s.lastSignal.Direction]++
	}

	surviving := make([]*Slot, 0, len(candidates))
	survivingByDir := map[models.Direction]int{}
	for _, s := range candidates {
		if reason, rejected := e.hardGate(s, freshByDir); rejected {
			e.log.WithFields(logrus.Fields{
				"timeframe": s.TF.String(),
				"direction": s.lastSignal.Direction,
			}).Info("engine: signal blocked: " + reason)
			continue
		}
		surviving = append(surviving, s)
		survivingByDir[s.lastSignal.Direction]++
	}

	var best *Slot
	bestScore := hardReject
	for _, s := range surviving {
		score := e.scoreSlot(s, survivingByDir[s.lastSignal.Direction])
		e.log.WithFields(logrus.Fields{
			"timeframe": s.TF.String(),
			"direction": s.lastSignal.Direction,
			"score":     score,
			"reason":    s.lastSignal.Reason,
		}).Info("engine: signal scored")
		if score > bestScore {
			bestScore = score
			best = s
		}
	}

	if len(surviving) == 0 {
		// Every candidate was hard-rejected. Leave the buffered
		// signals in place so a later timeframe can still pair with
		// them inside the TTL.
		return
	}

	if best != nil && bestScore > 0 {
		e.log.WithFields(logrus.Fields{
			"timeframe": best.TF.String(),
			"score":     bestScore,
		}).Info("engine: best timeframe selected")
		e.openPosition(ctx, best)
	} else {
		e.log.WithField("best_score", bestScore).Info("engine: all signals below threshold")
	}

	for _, s := range e.slots {
		s.clearSignal()
	}
}

// hardGate applies the pre-score exclusions: RSI extremes and the
// two-timeframe agreement floor.
func (e *Engine) hardGate(s *Slot, freshByDir map[models.Direction]int) (string, bool) {
	sig := s.lastSignal
	if s.lastRow.HasRSI {
		if sig.Direction == models.Long && s.lastRow.RSI > 80 {
			return fmt.Sprintf("rsi %.0f > 80, overbought chase", s.lastRow.RSI), true
		}
		if sig.Direction == models.Short && s.lastRow.RSI < 20 {
			return fmt.Sprintf("rsi %.0f < 20, oversold chase", s.lastRow.RSI), true
		}
	}
	if freshByDir[sig.Direction] < 2 {
		return fmt.Sprintf("only %d timeframe agrees on %s, need 2", freshByDir[sig.Direction], sig.Direction), true
	}
	return "", false
}

// scoreSlot scores a surviving candidate. agreeCount is the number of
// surviving same-direction candidates including this one.
func (e *Engine) scoreSlot(s *Slot, agreeCount int) float64 {
	sig := s.lastSignal
	row := s.lastRow
	score := 0.0

	adx := 15.0 // weak-trend default when the strategy attaches no ADX
	if row.HasADX {
		adx = row.ADX
	}
	switch {
	case adx > 25:
		score += math.Min(adx, 40)
	case adx > 20:
		score += adx * 0.5
	default:
		score += adx * 0.2
	}

	if sig.StopLoss != 0 && sig.TakeProfit != 0 && row.Close != 0 {
		riskDist := math.Abs(row.Close - sig.StopLoss)
		reward := math.Abs(sig.TakeProfit - row.Close)
		if riskDist > 0 {
			score += math.Min(reward/riskDist*10, 30)
		}
	}

	score += math.Max(0, 20-float64(s.TF.Minutes())*1.5)
	score += float64(agreeCount-1) * 15

	if row.HasRSI {
		switch sig.Direction {
		case models.Long:
			switch {
			case row.RSI < 70:
				score += 10
			case row.RSI < 75:
				score += 5
			default:
				score -= 5
			}
		case models.Short:
			switch {
			case row.RSI > 30:
				score += 10
			case row.RSI > 25:
				score += 5
			default:
				score -= 5
			}
		}
	}

	return score
}

// openPosition runs the entry path for the winning slot's signal.
func (e *Engine) openPosition(ctx context.Context, slot *Slot) {
	if e.position != nil {
		return
	}
	sig := slot.lastSignal
	price := slot.lastRow.Close

	account, err := e.broker.GetAccount(ctx)
	if err != nil {
		e.log.WithError(err).Error("engine: account fetch failed, skipping entry")
		e.report.LogError(fmt.Sprintf("%s: account fetch failed — %v", e.symbol, err))
		return
	}

	allowed, reason := e.risk.CheckNewOrder(*sig, e.symbol, price, account.Equity, account.BuyingPower, account)
	if !allowed {
		e.log.WithField("reason", reason).Warn("engine: order blocked by risk manager")
		e.report.LogRiskEvent(fmt.Sprintf("%s: Order blocked — %s", e.symbol, reason))
		return
	}

	quantity := e.calculateQuantity(price, sig, account)
	if quantity <= 0 {
		e.log.Warn("engine: calculated quantity is zero, skipping")
		return
	}

	order := broker.Order{
		Ticker:     e.symbol,
		Direction:  sig.Direction,
		Quantity:   quantity,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Reason:     sig.Reason,
	}
	trade, err := e.broker.SubmitOrder(ctx, order)
	if err != nil {
		if broker.IsRejection(err) {
			e.log.WithError(err).Error("engine: order rejected")
			e.report.LogError(fmt.Sprintf("%s: Order rejected — %v", e.symbol, err))
		} else {
			e.log.WithError(err).Error("engine: order submission failed")
			e.report.LogError(fmt.Sprintf("%s: Order error — %v", e.symbol, err))
		}
		return
	}

	e.setPosition(models.NewPosition(trade, sig.StopLoss, sig.TakeProfit, sig.TrailingStopDistance), slot.TF)
	e.risk.RecordTradeOpened(e.symbol, trade.Quantity*trade.EntryPrice)

	trade.SignalReason = fmt.Sprintf("[%s] %s", slot.TF, sig.Reason)
	if err := e.store.SaveTradeEntry(trade); err != nil {
		e.log.WithError(err).Error("engine: trade entry persist failed")
	}

	e.log.WithFields(logrus.Fields{
		"timeframe": slot.TF.String(),
		"direction": sig.Direction,
		"quantity":  trade.Quantity,
		"price":     trade.EntryPrice,
		"stop":      sig.StopLoss,
		"target":    sig.TakeProfit,
	}).Info("engine: position opened")
	e.report.LogTradeEntry(trade, sig.StopLoss, sig.TakeProfit, trade.SignalReason)
}

// closePosition flattens through the broker and settles local state.
// The position survives a failed close attempt; the reconciler will
// converge state once connectivity returns.
func (e *Engine) closePosition(ctx context.Context, reason string, tf models.Timeframe) {
	if e.position == nil {
		return
	}

	closing, err := e.closer.ClosePositionWithRetry(ctx, e.symbol)
	if err != nil {
		e.log.WithError(err).Error("engine: failed to close position")
		e.report.LogError(fmt.Sprintf("%s: close failed — %v", e.symbol, err))
		return
	}
	if closing == nil {
		// Broker already flat.
		e.setPosition(nil, 0)
		return
	}

	exitPrice := closing.EntryPrice // fill price of the flattening order
	pos := e.position
	trade := pos.Trade
	if trade == nil {
		trade = &models.Trade{
			Ticker:     e.symbol,
			Direction:  pos.Direction,
			Quantity:   pos.Quantity,
			EntryTime:  pos.EntryTime,
			EntryPrice: pos.EntryPrice,
		}
	}
	trade.Close(e.now(), exitPrice, reason)

	e.risk.RecordTradeClosed(e.symbol, trade.PnL)
	if paused, pauseReason := e.risk.Paused(); paused {
		e.Pause()
		e.report.LogRiskEvent("Trading paused: " + pauseReason)
	}

	if trade.ID == "" {
		// Adopted positions never went through the entry path.
		if err := e.store.SaveTradeEntry(trade); err != nil {
			e.log.WithError(err).Error("engine: trade entry persist failed")
		}
	}
	if err := e.store.SaveTradeExit(trade); err != nil {
		e.log.WithError(err).Error("engine: trade exit persist failed")
	}

	result := "WIN"
	if trade.PnL < 0 {
		result = "LOSS"
	}
	e.log.WithFields(logrus.Fields{
		"timeframe": tf.String(),
		"direction": pos.Direction,
		"quantity":  pos.Quantity,
		"entry":     pos.EntryPrice,
		"exit":      exitPrice,
		"pnl":       trade.PnL,
		"result":    result,
		"reason":    reason,
	}).Info("engine: position closed")
	e.report.LogTradeExit(trade)

	for _, s := range e.slots {
		s.Strategy.OnTradeClosed(trade)
	}
	e.setPosition(nil, 0)
}

// calculateQuantity sizes the order, capped by the exposure headroom
// and available Reg-T buying power.
func (e *Engine) calculateQuantity(price float64, sig *models.Signal, account *models.Account) float64 {
	equity := account.Equity

	var desired float64
	switch e.sizing.Method {
	case "fixed":
		desired = e.sizing.FixedSize
	case "risk_based":
		desired = equity * e.sizing.RiskPct
		if sig.StopLoss != 0 {
			if stopDist := math.Abs(price - sig.StopLoss); stopDist > 0 {
				desired = equity * e.sizing.RiskPct / stopDist * price
			}
		}
	default: // percent
		desired = equity * e.sizing.PctEquity
	}

	if remaining := e.risk.RemainingCapacity(equity); desired > remaining {
		e.log.WithFields(logrus.Fields{
			"desired":   desired,
			"remaining": remaining,
		}).Info("engine: position sized down by exposure cap")
		desired = remaining
	}

	regtBP := account.RegTBuyingPower
	if regtBP == 0 {
		regtBP = equity * 2
	}
	availableBP := regtBP - e.risk.TotalExposure()
	if desired > availableBP && availableBP > 0 {
		e.log.WithFields(logrus.Fields{
			"desired":   desired,
			"available": availableBP,
		}).Info("engine: position sized down by buying power cap")
		desired = availableBP
	}

	return math.Max(1, math.Floor(desired/price))
}

// runReconcile fetches the broker's view and applies the outcome.
func (e *Engine) runReconcile(ctx context.Context) (ReconcileOutcome, error) {
	brokerPos, err := e.broker.GetPosition(ctx, e.symbol)
	if err != nil {
		return "", fmt.Errorf("fetching broker position for %s: %w", e.symbol, err)
	}

	outcome, details := CompareReconcile(e.symbol, e.position, brokerPos)
	switch outcome {
	case ReconcileAgreeFlat, ReconcileAgreeMatch:
		e.log.WithField("outcome", string(outcome)).Debug("engine: reconcile agreed")

	case ReconcileAdoptBroker:
		e.log.Warn("engine: reconcile: " + details)
		e.setPosition(adoptBrokerPosition(e.symbol, brokerPos, e.now()), 0)

	case ReconcileClearLocal:
		e.log.Warn("engine: reconcile: " + details)
		e.setPosition(nil, 0)

	case ReconcileMismatch:
		// Never auto-corrected; operators resolve.
		e.log.Error("engine: reconcile: " + details)
		e.report.LogRiskEvent(details)
	}
	return outcome, nil
}
