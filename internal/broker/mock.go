package broker

import (
	"context"
	"sync"

	"github.com/pvandam/mtfbot/internal/models"
)

// MockBroker is a configurable in-memory Broker for tests. Unset
// function fields return zero values.
type MockBroker struct {
	mu sync.Mutex

	SubmitOrderFunc   func(ctx context.Context, order Order) (*models.Trade, error)
	ClosePositionFunc func(ctx context.Context, symbol string) (*models.Trade, error)
	GetPositionFunc   func(ctx context.Context, symbol string) (*models.BrokerPosition, error)
	GetPositionsFunc  func(ctx context.Context) ([]models.BrokerPosition, error)
	GetAccountFunc    func(ctx context.Context) (*models.Account, error)
	GetBarsFunc       func(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Bar, error)
	CancelAllFunc     func(ctx context.Context, symbol string) (int, error)

	SubmittedOrders []Order
	ClosedSymbols   []string
	Paper           bool
	MarketOpen      bool
	connected       bool
}

var _ Broker = (*MockBroker)(nil)

func (m *MockBroker) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MockBroker) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MockBroker) SubmitOrder(ctx context.Context, order Order) (*models.Trade, error) {
	m.mu.Lock()
	m.SubmittedOrders = append(m.SubmittedOrders, order)
	m.mu.Unlock()
	if m.SubmitOrderFunc != nil {
		return m.SubmitOrderFunc(ctx, order)
	}
	return nil, nil
}

func (m *MockBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return true, nil
}

func (m *MockBroker) CancelAll(ctx context.Context, symbol string) (int, error) {
	if m.CancelAllFunc != nil {
		return m.CancelAllFunc(ctx, symbol)
	}
	return 0, nil
}

func (m *MockBroker) ClosePosition(ctx context.Context, symbol string) (*models.Trade, error) {
	m.mu.Lock()
	m.ClosedSymbols = append(m.ClosedSymbols, symbol)
	m.mu.Unlock()
	if m.ClosePositionFunc != nil {
		return m.ClosePositionFunc(ctx, symbol)
	}
	return nil, nil
}

func (m *MockBroker) GetPosition(ctx context.Context, symbol string) (*models.BrokerPosition, error) {
	if m.GetPositionFunc != nil {
		return m.GetPositionFunc(ctx, symbol)
	}
	return nil, nil
}

func (m *MockBroker) GetPositions(ctx context.Context) ([]models.BrokerPosition, error) {
	if m.GetPositionsFunc != nil {
		return m.GetPositionsFunc(ctx)
	}
	return nil, nil
}

func (m *MockBroker) GetAccount(ctx context.Context) (*models.Account, error) {
	if m.GetAccountFunc != nil {
		return m.GetAccountFunc(ctx)
	}
	return &models.Account{Equity: 60000, BuyingPower: 120000, RegTBuyingPower: 120000}, nil
}

func (m *MockBroker) GetBars(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Bar, error) {
	if m.GetBarsFunc != nil {
		return m.GetBarsFunc(ctx, symbol, tf, limit)
	}
	return nil, nil
}

func (m *MockBroker) GetClock(ctx context.Context) (*models.Clock, error) {
	return &models.Clock{IsOpen: m.MarketOpen}, nil
}

func (m *MockBroker) IsMarketOpen(ctx context.Context) (bool, error) {
	return m.MarketOpen, nil
}

func (m *MockBroker) IsPaper() bool { return m.Paper }

func (m *MockBroker) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}
