package engine

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvandam/mtfbot/internal/broker"
	"github.com/pvandam/mtfbot/internal/config"
	"github.com/pvandam/mtfbot/internal/frame"
	"github.com/pvandam/mtfbot/internal/models"
	"github.com/pvandam/mtfbot/internal/report"
	"github.com/pvandam/mtfbot/internal/risk"
	"github.com/pvandam/mtfbot/internal/storage"
)

// Monday 2026-03-02 10:30 ET, mid-session.
var testNow = time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// scripted is a strategy stub that returns a queued signal once and
// optionally writes indicator columns in Setup.
type scripted struct {
	name     string
	columns  map[string]float64
	setupErr error
	next     *models.Signal
	closed   []*models.Trade
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) Setup(f *frame.Frame) error {
	if s.setupErr != nil {
		return s.setupErr
	}
	for name, v := range s.columns {
		vals := make([]float64, f.Len())
		for i := range vals {
			vals[i] = v
		}
		f.SetColumn(name, vals)
	}
	return nil
}

func (s *scripted) OnBar(idx int, f *frame.Frame, pos *models.Position) (*models.Signal, error) {
	sig := s.next
	s.next = nil
	return sig, nil
}

func (s *scripted) OnTradeClosed(t *models.Trade) {
	s.closed = append(s.closed, t)
}

type testRig struct {
	engine *Engine
	mock   *broker.MockBroker
	store  *storage.MockStorage
	report *report.Daily
	risk   *risk.Manager
	slot2m *Slot
	slot5m *Slot
	strat2 *scripted
	strat5 *scripted
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	mock := &broker.MockBroker{
		SubmitOrderFunc: func(ctx context.Context, order broker.Order) (*models.Trade, error) {
			return &models.Trade{
				Ticker:     order.Ticker,
				Direction:  order.Direction,
				Quantity:   order.Quantity,
				EntryTime:  testNow,
				EntryPrice: 100,
				StopLoss:   order.StopLoss,
				TakeProfit: order.TakeProfit,
			}, nil
		},
	}

	session := risk.NewSessionFilter().WithClock(func() time.Time { return testNow })
	riskMgr := risk.NewManager(risk.Config{
		MaxDailyLoss:        3000,
		MaxDrawdownPct:      15,
		MaxPositionValuePct: 0.9,
		MaxTotalPositions:   3,
		MaxTotalExposurePct: 2.0,
		MinEquityForTrading: 25000,
		EnforceBuyingPower:  true,
	}, 60000, session, quietLog())

	strat2 := &scripted{name: "stub2m"}
	strat5 := &scripted{name: "stub5m"}
	slot2m := NewSlot(models.Timeframe(2), strat2, frame.New(100))
	slot5m := NewSlot(models.Timeframe(5), strat5, frame.New(100))

	store := storage.NewMockStorage()
	daily := report.NewDaily("2026-03-02")

	e := New(Options{
		Symbol:  "MSTR",
		Slots:   []*Slot{slot2m, slot5m},
		Broker:  mock,
		Risk:    riskMgr,
		Storage: store,
		Report:  daily,
		Log:     quietLog(),
		Sizing:  config.SizingConfig{Method: "percent", PctEquity: 0.9},
	})
	e.now = func() time.Time { return testNow }

	return &testRig{
		engine: e, mock: mock, store: store, report: daily, risk: riskMgr,
		slot2m: slot2m, slot5m: slot5m, strat2: strat2, strat5: strat5,
	}
}

func bar(close float64) models.Bar {
	return models.Bar{
		Timestamp: testNow.Add(-time.Minute),
		Open:      close - 0.5,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
		Volume:    1000,
	}
}

func longSignal(sl, tp float64) *models.Signal {
	return &models.Signal{
		Direction:  models.Long,
		StopLoss:   sl,
		TakeProfit: tp,
		Reason:     "test entry",
	}
}

func TestLoneSignalBlockedByAgreementFloor(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.strat2.columns = map[string]float64{"RSI_9": 60, "ADX_14": 30}
	rig.strat2.next = longSignal(98, 104)
	rig.engine.handleBar(ctx, "MSTR", 2, bar(100))

	assert.Empty(t, rig.mock.SubmittedOrders)
	assert.Nil(t, rig.engine.Snapshot().Position)
	// The blocked signal stays buffered for a later pairing.
	assert.NotNil(t, rig.slot2m.lastSignal)
}

func TestOverboughtHardBlockAndArbitration(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// 2m fires first: RSI 83 will be hard-rejected at arbitration.
	rig.strat2.columns = map[string]float64{"RSI_9": 83, "ADX_14": 30}
	rig.strat2.next = longSignal(99, 102) // R:R 2 relative to close 100
	rig.engine.handleBar(ctx, "MSTR", 2, bar(100))
	require.Empty(t, rig.mock.SubmittedOrders)

	// 5m fires within the TTL: pair passes the floor, 2m is excluded,
	// 5m wins and opens.
	rig.strat5.columns = map[string]float64{"RSI_9": 60, "ADX_14": 22}
	rig.strat5.next = longSignal(98, 103) // R:R 1.5
	rig.engine.handleBar(ctx, "MSTR", 5, bar(100))

	require.Len(t, rig.mock.SubmittedOrders, 1)
	assert.Equal(t, models.Long, rig.mock.SubmittedOrders[0].Direction)

	st := rig.engine.Snapshot()
	require.NotNil(t, st.Position)
	assert.Equal(t, "5m", st.ActiveTimeframe)

	// All buffered signals consumed.
	assert.Nil(t, rig.slot2m.lastSignal)
	assert.Nil(t, rig.slot5m.lastSignal)

	// Entry persisted.
	open, err := rig.store.OpenTrades()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Contains(t, open[0].SignalReason, "[5m]")
}

func TestScoreMatchesWorkedExample(t *testing.T) {
	rig := newTestRig(t)

	slot := rig.slot5m
	slot.lastSignal = longSignal(98, 103)
	slot.lastRow = Row{Close: 100, ADX: 22, HasADX: true, RSI: 60, HasRSI: true}

	// adx 11 + rr 15 + tf 12.5 + agreement 0 + rsi band 10
	score := rig.engine.scoreSlot(slot, 1)
	assert.InDelta(t, 48.5, score, 1e-9)
}

func TestScoreADXTiersAndCaps(t *testing.T) {
	rig := newTestRig(t)
	slot := rig.slot2m

	slot.lastSignal = &models.Signal{Direction: models.Long}
	slot.lastRow = Row{Close: 100, ADX: 50, HasADX: true}
	// adx capped at 40, tf 2m bonus 17, no rr, no rsi
	assert.InDelta(t, 57, rig.engine.scoreSlot(slot, 1), 1e-9)

	slot.lastRow = Row{Close: 100, HasADX: false}
	// missing adx defaults to 15 -> 15*0.2 = 3
	assert.InDelta(t, 20, rig.engine.scoreSlot(slot, 1), 1e-9)
}

func TestArbitrationOpensAtMostOne(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	cols := map[string]float64{"RSI_9": 60, "ADX_14": 30}
	rig.strat2.columns = cols
	rig.strat5.columns = cols
	rig.strat2.next = longSignal(98, 104)
	rig.engine.handleBar(ctx, "MSTR", 2, bar(100))
	rig.strat5.next = longSignal(98, 104)
	rig.engine.handleBar(ctx, "MSTR", 5, bar(100))

	require.Len(t, rig.mock.SubmittedOrders, 1)

	// Further signals while positioned are cleared, not traded.
	rig.strat2.next = longSignal(98, 104)
	rig.engine.handleBar(ctx, "MSTR", 2, bar(100))
	assert.Len(t, rig.mock.SubmittedOrders, 1)
	assert.Nil(t, rig.slot2m.lastSignal)
}

func TestStaleSignalIgnored(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	cols := map[string]float64{"RSI_9": 60, "ADX_14": 30}
	rig.strat2.columns = cols
	rig.strat5.columns = cols

	rig.strat2.next = longSignal(98, 104)
	rig.engine.handleBar(ctx, "MSTR", 2, bar(100))

	// 5m signal arrives after the 2m one expired.
	rig.engine.now = func() time.Time { return testNow.Add(3 * time.Minute) }
	rig.strat5.next = longSignal(98, 104)
	rig.engine.handleBar(ctx, "MSTR", 5, bar(100))

	assert.Empty(t, rig.mock.SubmittedOrders)
}

func TestCloseSignalFlattens(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	openPosition(t, rig)

	rig.mock.ClosePositionFunc = func(ctx context.Context, symbol string) (*models.Trade, error) {
		return &models.Trade{Ticker: symbol, EntryPrice: 103, EntryTime: testNow}, nil
	}

	rig.strat5.next = &models.Signal{Direction: models.CloseLong, Reason: "supertrend flipped bearish"}
	rig.engine.handleBar(ctx, "MSTR", 5, bar(103))

	st := rig.engine.Snapshot()
	assert.Nil(t, st.Position)
	assert.Empty(t, st.ActiveTimeframe)
	require.Len(t, rig.mock.ClosedSymbols, 1)

	// Every slot's strategy heard about the close.
	require.Len(t, rig.strat2.closed, 1)
	require.Len(t, rig.strat5.closed, 1)
	assert.InDelta(t, 3*float64(quantityOf(rig)), rig.strat5.closed[0].PnL, 1e-9)

	// Exit persisted.
	openTrades, err := rig.store.OpenTrades()
	require.NoError(t, err)
	assert.Empty(t, openTrades)
}

func TestFlatSignalFlattens(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	openPosition(t, rig)

	rig.mock.ClosePositionFunc = func(ctx context.Context, symbol string) (*models.Trade, error) {
		return &models.Trade{Ticker: symbol, EntryPrice: 102, EntryTime: testNow}, nil
	}

	rig.strat5.next = &models.Signal{Direction: models.Flat, Reason: "risk off"}
	rig.engine.handleBar(ctx, "MSTR", 5, bar(102))

	assert.Nil(t, rig.engine.Snapshot().Position)
	require.Len(t, rig.mock.ClosedSymbols, 1)
	hist, err := rig.store.TradeHistory(10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "risk off", hist[0].ExitReason)
}

// openPosition drives the rig through a standard two-timeframe entry.
// With identical signals the 2m slot outscores the 5m one, so 2m
// becomes the active timeframe.
func openPosition(t *testing.T, rig *testRig) {
	t.Helper()
	ctx := context.Background()
	cols := map[string]float64{"RSI_9": 60, "ADX_14": 30}
	rig.strat2.columns = cols
	rig.strat5.columns = cols
	rig.strat2.next = longSignal(98, 104)
	rig.engine.handleBar(ctx, "MSTR", 2, bar(100))
	rig.strat5.next = longSignal(98, 104)
	rig.engine.handleBar(ctx, "MSTR", 5, bar(100))
	require.NotNil(t, rig.engine.Snapshot().Position)
}

func quantityOf(rig *testRig) float64 {
	return rig.mock.SubmittedOrders[0].Quantity
}

func TestLocalStopFiresOnActiveTimeframe(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	openPosition(t, rig)

	rig.mock.ClosePositionFunc = func(ctx context.Context, symbol string) (*models.Trade, error) {
		return &models.Trade{Ticker: symbol, EntryPrice: 97.9, EntryTime: testNow}, nil
	}

	// Bar on the 5m (inactive) timeframe crossing the stop: no exit.
	rig.engine.handleBar(ctx, "MSTR", 5, models.Bar{
		Timestamp: testNow, Open: 99, High: 100, Low: 97, Close: 99, Volume: 100,
	})
	assert.NotNil(t, rig.engine.Snapshot().Position)

	// Same bar on the active 2m timeframe: stop fires.
	rig.engine.handleBar(ctx, "MSTR", 2, models.Bar{
		Timestamp: testNow, Open: 99, High: 100, Low: 97, Close: 99, Volume: 100,
	})
	assert.Nil(t, rig.engine.Snapshot().Position)

	hist, err := rig.store.TradeHistory(10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, models.ExitStopLoss, hist[0].ExitReason)
}

func TestBothLevelsHitStopWinsWhenCloser(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	openPosition(t, rig)

	rig.mock.ClosePositionFunc = func(ctx context.Context, symbol string) (*models.Trade, error) {
		return &models.Trade{Ticker: symbol, EntryPrice: 98, EntryTime: testNow}, nil
	}

	// Stop 98 and target 104 both inside the range; open 99 is closer
	// to the stop.
	rig.engine.handleBar(ctx, "MSTR", 2, models.Bar{
		Timestamp: testNow, Open: 99, High: 105, Low: 97, Close: 103, Volume: 100,
	})

	hist, err := rig.store.TradeHistory(10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, models.ExitStopLoss, hist[0].ExitReason)
}

func TestLongOnlyDropsShortSignals(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.longOnly = true
	ctx := context.Background()

	cols := map[string]float64{"RSI_9": 40, "ADX_14": 30}
	rig.strat2.columns = cols
	rig.strat5.columns = cols
	rig.strat2.next = &models.Signal{Direction: models.Short, StopLoss: 102, TakeProfit: 96}
	rig.engine.handleBar(ctx, "MSTR", 2, bar(100))
	rig.strat5.next = &models.Signal{Direction: models.Short, StopLoss: 102, TakeProfit: 96}
	rig.engine.handleBar(ctx, "MSTR", 5, bar(100))

	assert.Empty(t, rig.mock.SubmittedOrders)
	assert.Nil(t, rig.slot2m.lastSignal)
	assert.Nil(t, rig.slot5m.lastSignal)
}

func TestRiskRejectionBlocksEntry(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// Equity below the PDT floor pauses instead of opening.
	rig.mock.GetAccountFunc = func(ctx context.Context) (*models.Account, error) {
		return &models.Account{Equity: 20000, BuyingPower: 40000, RegTBuyingPower: 40000}, nil
	}

	cols := map[string]float64{"RSI_9": 60, "ADX_14": 30}
	rig.strat2.columns = cols
	rig.strat5.columns = cols
	rig.strat2.next = longSignal(98, 104)
	rig.engine.handleBar(ctx, "MSTR", 2, bar(100))
	rig.strat5.next = longSignal(98, 104)
	rig.engine.handleBar(ctx, "MSTR", 5, bar(100))

	assert.Empty(t, rig.mock.SubmittedOrders)
	paused, reason := rig.risk.Paused()
	assert.True(t, paused)
	assert.Contains(t, reason, "PDT")
}

func TestAccountFetchFailureSkipsEntry(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.mock.GetAccountFunc = func(ctx context.Context) (*models.Account, error) {
		return nil, context.DeadlineExceeded
	}

	cols := map[string]float64{"RSI_9": 60, "ADX_14": 30}
	rig.strat2.columns = cols
	rig.strat5.columns = cols
	rig.strat2.next = longSignal(98, 104)
	rig.engine.handleBar(ctx, "MSTR", 2, bar(100))
	rig.strat5.next = longSignal(98, 104)
	rig.engine.handleBar(ctx, "MSTR", 5, bar(100))

	assert.Empty(t, rig.mock.SubmittedOrders)
	assert.Nil(t, rig.engine.Snapshot().Position)
}

func TestPausedEngineIgnoresBars(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	rig.engine.Pause()
	rig.strat2.columns = map[string]float64{"RSI_9": 60, "ADX_14": 30}
	rig.strat2.next = longSignal(98, 104)
	rig.engine.handleBar(ctx, "MSTR", 2, bar(100))

	assert.Zero(t, rig.engine.Snapshot().TotalBars)
	assert.Empty(t, rig.mock.SubmittedOrders)
}

func TestSnapshotSeesTrailingStopUnderConcurrency(t *testing.T) {
	rig := newTestRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cols := map[string]float64{"RSI_9": 60, "ADX_14": 30}
	rig.strat2.columns = cols
	rig.strat5.columns = cols
	entry := longSignal(98, 200)
	entry.TrailingStopDistance = 1
	rig.strat2.next = entry
	rig.engine.handleBar(ctx, "MSTR", 2, bar(100))
	second := longSignal(98, 200)
	second.TrailingStopDistance = 1
	rig.strat5.next = second
	rig.engine.handleBar(ctx, "MSTR", 5, bar(100))
	require.NotNil(t, rig.engine.Snapshot().Position)

	go rig.engine.Run(ctx)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = rig.engine.Snapshot()
			}
		}
	}()

	const extra = 50
	for i := 1; i <= extra; i++ {
		rig.engine.OnBar("MSTR", 2, bar(100+float64(i)*0.1))
	}
	require.Eventually(t, func() bool {
		return rig.engine.Snapshot().TotalBars == 2+extra
	}, 5*time.Second, 5*time.Millisecond)
	close(stop)
	wg.Wait()

	st := rig.engine.Snapshot()
	require.NotNil(t, st.Position)
	assert.InDelta(t, 100+float64(extra)*0.1-1, st.Position.TrailingStop, 1e-9)
}

func TestSizingModes(t *testing.T) {
	rig := newTestRig(t)
	account := &models.Account{Equity: 60000, BuyingPower: 120000, RegTBuyingPower: 120000}
	sig := longSignal(98, 104)

	rig.engine.sizing = config.SizingConfig{Method: "fixed", FixedSize: 10000}
	assert.InDelta(t, 100, rig.engine.calculateQuantity(100, sig, account), 1e-9)

	rig.engine.sizing = config.SizingConfig{Method: "percent", PctEquity: 0.5}
	assert.InDelta(t, 300, rig.engine.calculateQuantity(100, sig, account), 1e-9)

	// risk_based: 60000*0.02/2*100 = 60000 desired, capped by
	// remaining capacity (equity*2) and BP, floor(60000/100)=600.
	rig.engine.sizing = config.SizingConfig{Method: "risk_based", RiskPct: 0.02}
	assert.InDelta(t, 600, rig.engine.calculateQuantity(100, sig, account), 1e-9)

	// Quantity never drops below one share.
	rig.engine.sizing = config.SizingConfig{Method: "fixed", FixedSize: 50}
	assert.InDelta(t, 1, rig.engine.calculateQuantity(100, sig, account), 1e-9)
}
