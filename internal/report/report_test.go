package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvandam/mtfbot/internal/models"
)

func TestRenderEmptyDay(t *testing.T) {
	d := NewDaily("2026-03-02")
	out := d.Render()
	assert.Contains(t, out, "# Daily Trading Report — 2026-03-02")
	assert.Contains(t, out, "*No trades today.*")
	assert.Contains(t, out, "*Flat — no open positions.*")
	assert.NotContains(t, out, "## Risk Events")
}

func TestRenderFullDay(t *testing.T) {
	d := NewDaily("2026-03-02")
	d.now = func() time.Time { return time.Date(2026, 3, 2, 10, 31, 5, 0, time.UTC) }

	d.SetAccountStart(&models.Account{Equity: 60000, Cash: 30000, BuyingPower: 120000})

	entry := &models.Trade{Ticker: "MSTR", Direction: models.Long, Quantity: 10, EntryPrice: 250}
	d.LogTradeEntry(entry, 245, 260, "flip long")

	exit := &models.Trade{Ticker: "MSTR", Direction: models.Long, Quantity: 10, EntryPrice: 250}
	exit.Close(time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), 258, models.ExitTakeProfit)
	d.LogTradeExit(exit)

	d.LogRiskEvent("MSTR: Order blocked — outside market hours")
	d.SetAccountEnd(&models.Account{Equity: 60080, Cash: 30080, BuyingPower: 120160}, nil)

	out := d.Render()
	assert.Contains(t, out, "**1 entries, 1 exits**")
	assert.Contains(t, out, "+$80.00")
	assert.Contains(t, out, "Win Rate: 100%")
	assert.Contains(t, out, "| 10:31:05 | MSTR | LONG |")
	assert.Contains(t, out, "take_profit")
	assert.Contains(t, out, "## Risk Events")
	assert.Contains(t, out, "**Day P&L** | | **+$80.00**")
}

func TestWriteCreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "daily")
	d := NewDaily("2026-03-02")
	d.LogStatus("bot started")

	path, err := d.Write(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2026-03-02.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "bot started")
}
