package storage

import (
	"sync"

	"github.com/google/uuid"

	"github.com/pvandam/mtfbot/internal/models"
)

// MockStorage is an in-memory Interface implementation for tests.
type MockStorage struct {
	mu      sync.Mutex
	Trades  []models.Trade
	Daily   map[string]DailyPnL
	State   map[string]string
	SaveErr error
}

var _ Interface = (*MockStorage)(nil)

func NewMockStorage() *MockStorage {
	return &MockStorage{
		Daily: make(map[string]DailyPnL),
		State: make(map[string]string),
	}
}

func (m *MockStorage) SaveTradeEntry(t *models.Trade) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	m.Trades = append(m.Trades, *t)
	return nil
}

func (m *MockStorage) SaveTradeExit(t *models.Trade) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Trades {
		if m.Trades[i].ID == t.ID {
			m.Trades[i] = *t
			return nil
		}
	}
	m.Trades = append(m.Trades, *t)
	return nil
}

func (m *MockStorage) OpenTrades() ([]models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Trade
	for _, t := range m.Trades {
		if !t.IsClosed() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MockStorage) TradesToday(date string) ([]models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Trade
	for _, t := range m.Trades {
		if t.EntryTime.UTC().Format("2006-01-02") == date {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MockStorage) TradeHistory(limit int) ([]models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Trade
	for i := len(m.Trades) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.Trades[i].IsClosed() {
			out = append(out, m.Trades[i])
		}
	}
	return out, nil
}

func (m *MockStorage) TradeStats() (*TradeStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &TradeStats{}
	for _, t := range m.Trades {
		if !t.IsClosed() {
			continue
		}
		stats.TotalTrades++
		stats.TotalPnL += t.PnL
		if t.PnL > 0 {
			stats.Wins++
		} else if t.PnL < 0 {
			stats.Losses++
		}
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.TotalTrades) * 100
	}
	return stats, nil
}

func (m *MockStorage) SaveDailyPnL(rec DailyPnL) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Daily[rec.Date] = rec
	return nil
}

func (m *MockStorage) DailyPnLHistory(limit int) ([]DailyPnL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DailyPnL
	for _, rec := range m.Daily {
		out = append(out, rec)
	}
	return out, nil
}

func (m *MockStorage) SaveState(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.State[key] = value
	return nil
}

func (m *MockStorage) LoadState(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.State[key]
	return v, ok, nil
}

func (m *MockStorage) ClearState(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.State, key)
	return nil
}

func (m *MockStorage) Close() error { return nil }
