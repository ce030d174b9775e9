package retry

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvandam/mtfbot/internal/broker"
	"github.com/pvandam/mtfbot/internal/models"
)

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        time.Second,
	}
}

func TestClosePositionSucceedsFirstTry(t *testing.T) {
	mock := &broker.MockBroker{
		ClosePositionFunc: func(ctx context.Context, symbol string) (*models.Trade, error) {
			return &models.Trade{Ticker: symbol, EntryPrice: 101.5, Quantity: 10}, nil
		},
	}
	c := NewClient(mock, quietLog(), fastConfig())

	trade, err := c.ClosePositionWithRetry(context.Background(), "MSTR")
	require.NoError(t, err)
	assert.Equal(t, 101.5, trade.EntryPrice)
	assert.Len(t, mock.ClosedSymbols, 1)
}

func TestClosePositionRetriesTransient(t *testing.T) {
	calls := 0
	mock := &broker.MockBroker{
		ClosePositionFunc: func(ctx context.Context, symbol string) (*models.Trade, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("connection reset by peer")
			}
			return &models.Trade{Ticker: symbol}, nil
		},
	}
	c := NewClient(mock, quietLog(), fastConfig())

	trade, err := c.ClosePositionWithRetry(context.Background(), "MSTR")
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, 3, calls)
}

func TestClosePositionStopsOnPermanentError(t *testing.T) {
	calls := 0
	mock := &broker.MockBroker{
		ClosePositionFunc: func(ctx context.Context, symbol string) (*models.Trade, error) {
			calls++
			return nil, &broker.OrderRejectedError{Ticker: symbol, Reason: "halted"}
		},
	}
	c := NewClient(mock, quietLog(), fastConfig())

	_, err := c.ClosePositionWithRetry(context.Background(), "MSTR")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, broker.IsRejection(err))
}

func TestClosePositionExhaustsRetries(t *testing.T) {
	calls := 0
	mock := &broker.MockBroker{
		ClosePositionFunc: func(ctx context.Context, symbol string) (*models.Trade, error) {
			calls++
			return nil, errors.New("504 gateway timeout")
		},
	}
	c := NewClient(mock, quietLog(), fastConfig())

	_, err := c.ClosePositionWithRetry(context.Background(), "MSTR")
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestClosePositionNilWhenFlat(t *testing.T) {
	mock := &broker.MockBroker{}
	c := NewClient(mock, quietLog(), fastConfig())

	trade, err := c.ClosePositionWithRetry(context.Background(), "MSTR")
	require.NoError(t, err)
	assert.Nil(t, trade)
}

func TestClosePositionHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := &broker.MockBroker{}
	c := NewClient(mock, quietLog(), fastConfig())

	_, err := c.ClosePositionWithRetry(ctx, "MSTR")
	require.Error(t, err)
}
