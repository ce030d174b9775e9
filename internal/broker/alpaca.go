package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/pvandam/mtfbot/internal/models"
)

const (
	paperBaseURL = "https://paper-api.alpaca.markets"
	liveBaseURL  = "https://api.alpaca.markets"

	// Fill polling: 30 * 500ms keeps the submit path under ~15s.
	fillPollInterval = 500 * time.Millisecond
	fillPollAttempts = 30
)

// AlpacaBroker implements Broker against the Alpaca trading and
// market-data APIs. Orders are plain market orders; protective levels
// are monitored locally by the engine, not resting at the brokerage.
type AlpacaBroker struct {
	trading *alpaca.Client
	data    *marketdata.Client
	log     *logrus.Logger
	paper   bool

	mu        sync.Mutex
	connected bool
}

var _ Broker = (*AlpacaBroker)(nil)

// NewAlpacaBroker creates a broker client for the paper or live API.
func NewAlpacaBroker(key, secret string, paper bool, log *logrus.Logger) *AlpacaBroker {
	baseURL := liveBaseURL
	if paper {
		baseURL = paperBaseURL
	}
	return &AlpacaBroker{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    key,
			APISecret: secret,
			BaseURL:   baseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    key,
			APISecret: secret,
		}),
		log:   log,
		paper: paper,
	}
}

// Connect verifies credentials with an account fetch.
func (a *AlpacaBroker) Connect(ctx context.Context) error {
	acct, err := a.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	a.log.WithFields(logrus.Fields{
		"paper":  a.paper,
		"status": acct.Status,
		"equity": acct.Equity,
	}).Info("broker: connected")
	return nil
}

// Disconnect marks the client disconnected. The REST client itself is
// stateless.
func (a *AlpacaBroker) Disconnect() error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return nil
}

// IsConnected reports whether Connect has succeeded.
func (a *AlpacaBroker) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// IsPaper reports whether this client targets the paper API.
func (a *AlpacaBroker) IsPaper() bool { return a.paper }

// SubmitOrder places a market order and polls until it fills. Close
// directions route to ClosePosition: flattening through the dedicated
// endpoint can never overshoot into an opposite position.
func (a *AlpacaBroker) SubmitOrder(ctx context.Context, order Order) (*models.Trade, error) {
	if order.Direction.IsClose() {
		return a.ClosePosition(ctx, order.Ticker)
	}

	side := alpaca.Buy
	if order.Direction == models.Short {
		side = alpaca.Sell
	}
	qty := decimal.NewFromFloat(order.Quantity)
	req := alpaca.PlaceOrderRequest{
		Symbol:        order.Ticker,
		Qty:           &qty,
		Side:          side,
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: "mtf-" + uuid.NewString(),
	}

	placed, err := a.trading.PlaceOrder(req)
	if err != nil {
		return nil, classifyOrderError(order.Ticker, err)
	}
	a.log.WithFields(logrus.Fields{
		"symbol": order.Ticker,
		"side":   side,
		"qty":    order.Quantity,
		"id":     placed.ID,
	}).Info("broker: order submitted")

	filled, err := a.awaitFill(ctx, placed.ID)
	if err != nil {
		return nil, err
	}
	trade := a.tradeFromOrder(filled, order.Direction)
	trade.SignalReason = order.Reason
	trade.StopLoss = order.StopLoss
	trade.TakeProfit = order.TakeProfit
	return trade, nil
}

// awaitFill polls the order until a terminal status or the poll budget
// runs out; an unfilled order is cancelled and reported as a
// rejection.
func (a *AlpacaBroker) awaitFill(ctx context.Context, orderID string) (*alpaca.Order, error) {
	for i := 0; i < fillPollAttempts; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(fillPollInterval):
		}

		ord, err := a.trading.GetOrder(orderID)
		if err != nil {
			a.log.WithError(err).Debug("broker: fill poll failed")
			continue
		}
		switch ord.Status {
		case "filled":
			return ord, nil
		case "rejected", "canceled", "expired":
			return nil, &OrderRejectedError{Ticker: ord.Symbol, Reason: "order " + ord.Status}
		}
	}

	if err := a.trading.CancelOrder(orderID); err != nil {
		a.log.WithError(err).Warn("broker: cancel of unfilled order failed")
	}
	return nil, &OrderRejectedError{Ticker: orderID, Reason: "fill timeout"}
}

func (a *AlpacaBroker) tradeFromOrder(ord *alpaca.Order, direction models.Direction) *models.Trade {
	trade := &models.Trade{
		ID:        uuid.NewString(),
		Ticker:    ord.Symbol,
		Direction: direction,
		OrderID:   ord.ID,
		EntryTime: time.Now().UTC(),
	}
	trade.Quantity = ord.FilledQty.InexactFloat64()
	if ord.FilledAvgPrice != nil {
		trade.EntryPrice = ord.FilledAvgPrice.InexactFloat64()
	}
	if ord.FilledAt != nil {
		trade.EntryTime = ord.FilledAt.UTC()
	}
	return trade
}

// CancelOrder cancels one pending order; false when the order was
// already terminal.
func (a *AlpacaBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if err := a.trading.CancelOrder(orderID); err != nil {
		if apiStatus(err) == 422 {
			return false, nil
		}
		return false, fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return true, nil
}

// CancelAll cancels pending orders, optionally only for one symbol.
func (a *AlpacaBroker) CancelAll(ctx context.Context, symbol string) (int, error) {
	req := alpaca.GetOrdersRequest{Status: "open", Limit: 500}
	if symbol != "" {
		req.Symbols = []string{symbol}
	}
	orders, err := a.trading.GetOrders(req)
	if err != nil {
		return 0, fmt.Errorf("list open orders: %w", err)
	}
	count := 0
	for _, ord := range orders {
		if err := a.trading.CancelOrder(ord.ID); err != nil {
			a.log.WithError(err).WithField("id", ord.ID).Warn("broker: cancel failed")
			continue
		}
		count++
	}
	return count, nil
}

// ClosePosition flattens the symbol. Returns (nil, nil) when the
// brokerage reports no position. The returned Trade carries the
// closing fill in its entry fields.
func (a *AlpacaBroker) ClosePosition(ctx context.Context, symbol string) (*models.Trade, error) {
	pos, err := a.GetPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, nil
	}

	ord, err := a.trading.ClosePosition(symbol, alpaca.ClosePositionRequest{})
	if err != nil {
		return nil, classifyOrderError(symbol, err)
	}
	filled, err := a.awaitFill(ctx, ord.ID)
	if err != nil {
		return nil, err
	}
	closeDirection := models.CloseFor(pos.Direction)
	trade := a.tradeFromOrder(filled, closeDirection)
	a.log.WithFields(logrus.Fields{
		"symbol": symbol,
		"qty":    trade.Quantity,
		"price":  trade.EntryPrice,
	}).Info("broker: position closed")
	return trade, nil
}

// GetPosition returns the broker's view of one symbol, or nil when
// flat.
func (a *AlpacaBroker) GetPosition(ctx context.Context, symbol string) (*models.BrokerPosition, error) {
	pos, err := a.trading.GetPosition(symbol)
	if err != nil {
		if apiStatus(err) == 404 {
			return nil, nil
		}
		return nil, fmt.Errorf("get position %s: %w", symbol, err)
	}
	bp := convertPosition(pos)
	return &bp, nil
}

// GetPositions returns all open positions.
func (a *AlpacaBroker) GetPositions(ctx context.Context) ([]models.BrokerPosition, error) {
	positions, err := a.trading.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	out := make([]models.BrokerPosition, 0, len(positions))
	for i := range positions {
		out = append(out, convertPosition(&positions[i]))
	}
	return out, nil
}

func convertPosition(pos *alpaca.Position) models.BrokerPosition {
	direction := models.Long
	if pos.Side == "short" {
		direction = models.Short
	}
	bp := models.BrokerPosition{
		Ticker:        pos.Symbol,
		Direction:     direction,
		Quantity:      pos.Qty.Abs().InexactFloat64(),
		AvgEntryPrice: pos.AvgEntryPrice.InexactFloat64(),
	}
	if pos.CurrentPrice != nil {
		bp.CurrentPrice = pos.CurrentPrice.InexactFloat64()
	}
	if pos.MarketValue != nil {
		bp.MarketValue = pos.MarketValue.InexactFloat64()
	}
	if pos.UnrealizedPL != nil {
		bp.UnrealizedPnL = pos.UnrealizedPL.InexactFloat64()
	}
	return bp
}

// GetAccount returns the account snapshot with decimals flattened to
// float64 at this boundary.
func (a *AlpacaBroker) GetAccount(ctx context.Context) (*models.Account, error) {
	acct, err := a.trading.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &models.Account{
		Cash:                     acct.Cash.InexactFloat64(),
		Equity:                   acct.Equity.InexactFloat64(),
		LastEquity:               acct.LastEquity.InexactFloat64(),
		BuyingPower:              acct.BuyingPower.InexactFloat64(),
		RegTBuyingPower:          acct.RegTBuyingPower.InexactFloat64(),
		DaytradingBuyingPower:    acct.DaytradingBuyingPower.InexactFloat64(),
		NonMarginableBuyingPower: acct.NonMarginBuyingPower.InexactFloat64(),
		Multiplier:               int(acct.Multiplier.IntPart()),
		DaytradeCount:            int(acct.DaytradeCount),
		PatternDayTrader:         acct.PatternDayTrader,
		TradingBlocked:           acct.TradingBlocked,
		Currency:                 acct.Currency,
		Status:                   acct.Status,
	}, nil
}

// GetBars fetches historical bars, ascending by UTC timestamp. Empty
// on no data.
func (a *AlpacaBroker) GetBars(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Bar, error) {
	// Pad the lookback for weekends, holidays, and overnight gaps.
	sessionMinutes := 390
	days := (limit*tf.Minutes())/sessionMinutes + 1
	start := time.Now().UTC().AddDate(0, 0, -(days*7/5 + 5))

	bars, err := a.data.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.NewTimeFrame(tf.Minutes(), marketdata.Min),
		Start:      start,
		TotalLimit: limit,
		Feed:       marketdata.IEX,
	})
	if err != nil {
		return nil, fmt.Errorf("get bars %s %s: %w", symbol, tf, err)
	}
	out := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		out = append(out, models.Bar{
			Timestamp: b.Timestamp.UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    float64(b.Volume),
		})
	}
	return out, nil
}

// GetClock returns the market clock.
func (a *AlpacaBroker) GetClock(ctx context.Context) (*models.Clock, error) {
	clock, err := a.trading.GetClock()
	if err != nil {
		return nil, fmt.Errorf("get clock: %w", err)
	}
	return &models.Clock{
		Timestamp: clock.Timestamp,
		IsOpen:    clock.IsOpen,
		NextOpen:  clock.NextOpen,
		NextClose: clock.NextClose,
	}, nil
}

// IsMarketOpen reports whether the market is currently open.
func (a *AlpacaBroker) IsMarketOpen(ctx context.Context) (bool, error) {
	clock, err := a.GetClock(ctx)
	if err != nil {
		return false, err
	}
	return clock.IsOpen, nil
}

// apiStatus extracts the HTTP status from an Alpaca API error, 0 when
// unavailable.
func apiStatus(err error) int {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// classifyOrderError maps brokerage 4xx responses to rejections;
// everything else stays transient.
func classifyOrderError(symbol string, err error) error {
	status := apiStatus(err)
	if status == 403 || status == 422 {
		return &OrderRejectedError{Ticker: symbol, Reason: err.Error()}
	}
	return fmt.Errorf("submit order %s: %w", symbol, err)
}
