// Package report accumulates the day's trading activity and writes a
// markdown report artifact, one file per trading day.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pvandam/mtfbot/internal/models"
)

// Daily collects entries, exits, risk events, and errors as they
// happen and renders them to markdown at shutdown. Safe for concurrent
// use from multiple engines.
type Daily struct {
	mu   sync.Mutex
	date string
	now  func() time.Time

	entries      []entryEvent
	exits        []exitEvent
	riskEvents   []string
	errors       []string
	statusLines  []string
	accountStart *models.Account
	accountEnd   *models.Account
	positionsEnd []models.BrokerPosition
}

type entryEvent struct {
	Time       string
	Ticker     string
	Direction  models.Direction
	Quantity   float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Reason     string
}

type exitEvent struct {
	Time       string
	Ticker     string
	Direction  models.Direction
	Quantity   float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	PnLPct     float64
	Reason     string
}

// NewDaily starts a report for the given date (YYYY-MM-DD). An empty
// date means today.
func NewDaily(date string) *Daily {
	d := &Daily{now: time.Now}
	if date == "" {
		date = d.now().Format("2006-01-02")
	}
	d.date = date
	return d
}

// Date returns the report's trading date.
func (d *Daily) Date() string { return d.date }

func (d *Daily) stamp() string {
	return d.now().Format("15:04:05")
}

// SetAccountStart records the opening account snapshot.
func (d *Daily) SetAccountStart(a *models.Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accountStart = a
}

// SetAccountEnd records the closing account snapshot and positions.
func (d *Daily) SetAccountEnd(a *models.Account, positions []models.BrokerPosition) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accountEnd = a
	d.positionsEnd = positions
}

// LogTradeEntry records a filled entry.
func (d *Daily) LogTradeEntry(t *models.Trade, stopLoss, takeProfit float64, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entryEvent{
		Time:       d.stamp(),
		Ticker:     t.Ticker,
		Direction:  t.Direction,
		Quantity:   t.Quantity,
		Price:      t.EntryPrice,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Reason:     reason,
	})
}

// LogTradeExit records a completed round trip.
func (d *Daily) LogTradeExit(t *models.Trade) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exits = append(d.exits, exitEvent{
		Time:       d.stamp(),
		Ticker:     t.Ticker,
		Direction:  t.Direction,
		Quantity:   t.Quantity,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		PnL:        t.PnL,
		PnLPct:     t.PnLPct(),
		Reason:     t.ExitReason,
	})
}

// LogRiskEvent records a risk manager action (block, pause, resume).
func (d *Daily) LogRiskEvent(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.riskEvents = append(d.riskEvents, d.stamp()+" — "+msg)
}

// LogError records a recoverable error worth operator attention.
func (d *Daily) LogError(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errors = append(d.errors, d.stamp()+" — "+msg)
}

// LogStatus records a lifecycle message (startup, shutdown, pauses).
func (d *Daily) LogStatus(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusLines = append(d.statusLines, d.stamp()+" — "+msg)
}

// Write renders the report and saves it as <dir>/<date>.md.
func (d *Daily) Write(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating report dir: %w", err)
	}
	path := filepath.Join(dir, d.date+".md")
	if err := os.WriteFile(path, []byte(d.Render()), 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

// Render produces the markdown document.
func (d *Daily) Render() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "# Daily Trading Report — %s\n\n", d.date)

	b.WriteString("## Account\n\n")
	if d.accountStart != nil || d.accountEnd != nil {
		b.WriteString("| Metric | Start of Day | End of Day |\n")
		b.WriteString("|--------|-------------|------------|\n")
		fmt.Fprintf(&b, "| Equity | %s | %s |\n", money(d.accountStart, func(a *models.Account) float64 { return a.Equity }), money(d.accountEnd, func(a *models.Account) float64 { return a.Equity }))
		fmt.Fprintf(&b, "| Cash | %s | %s |\n", money(d.accountStart, func(a *models.Account) float64 { return a.Cash }), money(d.accountEnd, func(a *models.Account) float64 { return a.Cash }))
		fmt.Fprintf(&b, "| Buying Power | %s | %s |\n", money(d.accountStart, func(a *models.Account) float64 { return a.BuyingPower }), money(d.accountEnd, func(a *models.Account) float64 { return a.BuyingPower }))
		if d.accountStart != nil && d.accountEnd != nil {
			dayPnL := d.accountEnd.Equity - d.accountStart.Equity
			fmt.Fprintf(&b, "| **Day P&L** | | **%s** |\n", signedMoney(dayPnL))
		}
		b.WriteString("\n")
	} else {
		b.WriteString("*No account data recorded.*\n\n")
	}

	b.WriteString("## Trades\n\n")
	if len(d.entries) == 0 && len(d.exits) == 0 {
		b.WriteString("*No trades today.*\n\n")
	} else {
		totalPnL := 0.0
		wins, losses := 0, 0
		for _, e := range d.exits {
			totalPnL += e.PnL
			if e.PnL >= 0 {
				wins++
			} else {
				losses++
			}
		}
		winRate := 0.0
		if len(d.exits) > 0 {
			winRate = float64(wins) / float64(len(d.exits)) * 100
		}
		fmt.Fprintf(&b, "**%d entries, %d exits** — P&L: %s — Win Rate: %.0f%% (%dW / %dL)\n\n",
			len(d.entries), len(d.exits), signedMoney(totalPnL), winRate, wins, losses)

		if len(d.entries) > 0 {
			b.WriteString("### Entries\n\n")
			b.WriteString("| Time | Ticker | Dir | Qty | Price | Stop | Target | Reason |\n")
			b.WriteString("|------|--------|-----|-----|-------|------|--------|--------|\n")
			for _, e := range d.entries {
				fmt.Fprintf(&b, "| %s | %s | %s | %.0f | $%.2f | %s | %s | %s |\n",
					e.Time, e.Ticker, strings.ToUpper(string(e.Direction)), e.Quantity,
					e.Price, level(e.StopLoss), level(e.TakeProfit), e.Reason)
			}
			b.WriteString("\n")
		}

		if len(d.exits) > 0 {
			b.WriteString("### Exits\n\n")
			b.WriteString("| Time | Ticker | Dir | Qty | Entry | Exit | P&L | P&L % | Reason |\n")
			b.WriteString("|------|--------|-----|-----|-------|------|-----|-------|--------|\n")
			for _, e := range d.exits {
				result := "W"
				if e.PnL < 0 {
					result = "L"
				}
				fmt.Fprintf(&b, "| %s | %s | %s | %.0f | $%.2f | $%.2f | %s (%s) | %+.1f%% | %s |\n",
					e.Time, e.Ticker, strings.ToUpper(string(e.Direction)), e.Quantity,
					e.EntryPrice, e.ExitPrice, signedMoney(e.PnL), result, e.PnLPct, e.Reason)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("## Open Positions\n\n")
	if len(d.positionsEnd) > 0 {
		b.WriteString("| Ticker | Side | Qty | Avg Price | Current | Unrealized P&L |\n")
		b.WriteString("|--------|------|-----|-----------|---------|----------------|\n")
		for _, p := range d.positionsEnd {
			fmt.Fprintf(&b, "| %s | %s | %.0f | $%.2f | $%.2f | %s |\n",
				p.Ticker, strings.ToUpper(string(p.Direction)), p.Quantity,
				p.AvgEntryPrice, p.CurrentPrice, signedMoney(p.UnrealizedPnL))
		}
		b.WriteString("\n")
	} else {
		b.WriteString("*Flat — no open positions.*\n\n")
	}

	if len(d.riskEvents) > 0 {
		b.WriteString("## Risk Events\n\n")
		for _, e := range d.riskEvents {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteString("\n")
	}

	if len(d.errors) > 0 {
		b.WriteString("## Errors\n\n")
		for _, e := range d.errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteString("\n")
	}

	if len(d.statusLines) > 0 {
		b.WriteString("## Status Log\n\n")
		for _, e := range d.statusLines {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func money(a *models.Account, get func(*models.Account) float64) string {
	if a == nil {
		return "—"
	}
	return fmt.Sprintf("$%.2f", get(a))
}

func signedMoney(v float64) string {
	if v >= 0 {
		return fmt.Sprintf("+$%.2f", v)
	}
	return fmt.Sprintf("-$%.2f", -v)
}

func level(v float64) string {
	if v == 0 {
		return "—"
	}
	return fmt.Sprintf("$%.2f", v)
}
