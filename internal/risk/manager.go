// Package risk implements the account-level risk layer: order
// admission checks, daily accounting, and the trading pause switch.
package risk

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pvandam/mtfbot/internal/models"
)

const dailyLossPausePrefix = "Daily loss limit hit"

// Config holds the risk limits. Zero MaxDailyLoss or MaxDrawdownPct
// disables the corresponding check.
type Config struct {
	MaxDailyLoss        float64
	MaxDrawdownPct      float64
	MaxPositionValuePct float64
	MaxTotalPositions   int
	MaxTotalExposurePct float64
	MinEquityForTrading float64
	EnforceBuyingPower  bool
}

// DailyStats is a snapshot of the day's accounting.
type DailyStats struct {
	Date        string  `json:"date"`
	DailyPnL    float64 `json:"daily_pnl"`
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	Paused      bool    `json:"paused"`
	PauseReason string  `json:"pause_reason"`
}

// Manager validates every new entry before submission and tracks open
// exposure and daily P&L. All methods are single short critical
// sections; callers never see intermediate state.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	session *SessionFilter
	log     *logrus.Logger

	initialEquity float64
	peakEquity    float64

	dailyPnL    float64
	dailyTrades int
	dailyWins   int
	dailyLosses int
	currentDay  string

	paused      bool
	pauseReason string

	// symbol -> estimated position value
	open map[string]float64
}

// NewManager creates a risk manager seeded with the account's current
// equity as the drawdown peak.
func NewManager(cfg Config, initialEquity float64, session *SessionFilter, log *logrus.Logger) *Manager {
	if session == nil {
		session = NewSessionFilter()
	}
	return &Manager{
		cfg:           cfg,
		session:       session,
		log:           log,
		initialEquity: initialEquity,
		peakEquity:    initialEquity,
		currentDay:    session.CurrentDate(),
		open:          make(map[string]float64),
	}
}

// CheckNewOrder validates an entry against every limit, first failure
// wins. Close-kind signals are always admitted.
func (m *Manager) CheckNewOrder(sig models.Signal, symbol string, price, equity, buyingPower float64, account *models.Account) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()

	if sig.Direction.IsClose() {
		return true, "exit_allowed"
	}

	if m.paused {
		return false, "Trading paused: " + m.pauseReason
	}

	if account != nil && account.TradingBlocked {
		m.pauseLocked("Trading blocked by broker")
		return false, m.pauseReason
	}

	if m.cfg.MinEquityForTrading > 0 && equity < m.cfg.MinEquityForTrading {
		m.pauseLocked(fmt.Sprintf("Equity $%.2f below minimum $%.2f (PDT threshold)",
			equity, m.cfg.MinEquityForTrading))
		return false, m.pauseReason
	}

	if m.cfg.MaxDailyLoss > 0 && m.dailyPnL <= -m.cfg.MaxDailyLoss {
		m.pauseLocked(fmt.Sprintf("%s: $%.2f", dailyLossPausePrefix, m.dailyPnL))
		return false, m.pauseReason
	}

	if equity > m.peakEquity {
		m.peakEquity = equity
	}
	if m.cfg.MaxDrawdownPct > 0 && m.peakEquity > 0 {
		drawdownPct := (m.peakEquity - equity) / m.peakEquity * 100
		if drawdownPct >= m.cfg.MaxDrawdownPct {
			m.pauseLocked(fmt.Sprintf("Drawdown circuit breaker: %.1f%% (limit: %.1f%%)",
				drawdownPct, m.cfg.MaxDrawdownPct))
			return false, m.pauseReason
		}
	}

	if _, exists := m.open[symbol]; exists {
		return false, "Already in position for " + symbol
	}

	if len(m.open) >= m.cfg.MaxTotalPositions {
		names := make([]string, 0, len(m.open))
		for s := range m.open {
			names = append(names, s)
		}
		return false, fmt.Sprintf("Max total positions reached: %d/%d (%s)",
			len(m.open), m.cfg.MaxTotalPositions, strings.Join(names, ", "))
	}

	exposure := m.exposureLocked()
	maxExposure := equity * m.cfg.MaxTotalExposurePct
	if maxExposure-exposure <= 0 {
		return false, fmt.Sprintf("Max total exposure reached: $%.0f / $%.0f",
			exposure, maxExposure)
	}

	maxValue := equity * m.cfg.MaxPositionValuePct
	if price > maxValue {
		return false, fmt.Sprintf("Single share ($%.2f) exceeds max position value ($%.2f)",
			price, maxValue)
	}

	if m.cfg.EnforceBuyingPower && account != nil {
		regtBP := account.RegTBuyingPower
		if regtBP == 0 {
			regtBP = buyingPower
		}
		if available := regtBP - exposure; available <= 0 {
			return false, fmt.Sprintf("Insufficient buying power: Reg-T BP $%.0f, exposure $%.0f",
				regtBP, exposure)
		}
	}

	if !m.session.IsMarketHoursNow() {
		return false, "Outside market hours"
	}

	return true, "approved"
}

// RecordTradeOpened tracks a newly opened position's exposure.
func (m *Manager) RecordTradeOpened(symbol string, positionValue float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open[symbol] = positionValue
	m.dailyTrades++
	m.log.WithFields(logrus.Fields{
		"symbol":    symbol,
		"value":     positionValue,
		"positions": len(m.open),
		"exposure":  m.exposureLocked(),
	}).Info("risk: position opened")
}

// RecordTradeClosed updates daily P&L after a close; pauses when the
// daily loss limit is newly breached.
func (m *Manager) RecordTradeClosed(symbol string, pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()
	delete(m.open, symbol)
	m.dailyPnL += pnl
	if pnl >= 0 {
		m.dailyWins++
	} else {
		m.dailyLosses++
	}
	m.log.WithFields(logrus.Fields{
		"symbol":    symbol,
		"pnl":       pnl,
		"daily_pnl": m.dailyPnL,
		"wins":      m.dailyWins,
		"losses":    m.dailyLosses,
	}).Info("risk: trade closed")

	if m.cfg.MaxDailyLoss > 0 && m.dailyPnL <= -m.cfg.MaxDailyLoss {
		m.pauseLocked(fmt.Sprintf("%s: $%.2f (limit: -$%.2f)",
			dailyLossPausePrefix, m.dailyPnL, m.cfg.MaxDailyLoss))
	}
}

// RemainingCapacity returns the dollar headroom under the total
// exposure cap, never negative. Engines scale position sizes by this
// instead of reading exposure state directly.
func (m *Manager) RemainingCapacity(equity float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	remaining := equity*m.cfg.MaxTotalExposurePct - m.exposureLocked()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TotalExposure returns the summed notional of tracked open positions.
func (m *Manager) TotalExposure() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exposureLocked()
}

// OpenPositionCount returns the number of tracked open positions.
func (m *Manager) OpenPositionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// Paused returns the pause flag and reason.
func (m *Manager) Paused() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused, m.pauseReason
}

// Resume manually clears a pause.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumeLocked()
}

// GetDailyStats returns today's accounting snapshot.
func (m *Manager) GetDailyStats() DailyStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()
	return DailyStats{
		Date:        m.currentDay,
		DailyPnL:    m.dailyPnL,
		Trades:      m.dailyTrades,
		Wins:        m.dailyWins,
		Losses:      m.dailyLosses,
		Paused:      m.paused,
		PauseReason: m.pauseReason,
	}
}

func (m *Manager) exposureLocked() float64 {
	total := 0.0
	for _, v := range m.open {
		total += v
	}
	return total
}

func (m *Manager) pauseLocked(reason string) {
	if m.paused {
		return
	}
	m.paused = true
	m.pauseReason = reason
	m.log.WithField("reason", reason).Warn("risk: trading paused")
}

func (m *Manager) resumeLocked() {
	if !m.paused {
		return
	}
	m.log.WithField("was", m.pauseReason).Info("risk: trading resumed")
	m.paused = false
	m.pauseReason = ""
}

// rolloverLocked resets daily counters when the broker-local date
// advances; a daily-loss pause auto-clears with the new day.
func (m *Manager) rolloverLocked() {
	today := m.session.CurrentDate()
	if today == m.currentDay {
		return
	}
	m.log.WithFields(logrus.Fields{
		"day":          today,
		"previous_pnl": m.dailyPnL,
	}).Info("risk: new trading day")
	m.dailyPnL = 0
	m.dailyTrades = 0
	m.dailyWins = 0
	m.dailyLosses = 0
	m.currentDay = today

	if m.paused && strings.HasPrefix(m.pauseReason, dailyLossPausePrefix) {
		m.resumeLocked()
	}
}

// setNow overrides the session clock for tests.
func (m *Manager) setNow(now func() time.Time) {
	m.session.now = now
}
