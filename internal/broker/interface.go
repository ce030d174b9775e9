// Package broker defines the brokerage contract the engine trades
// through, plus the Alpaca implementation and its resilience wrappers.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pvandam/mtfbot/internal/models"
)

// ErrNoPosition is returned by position lookups when the brokerage
// reports the symbol flat.
var ErrNoPosition = errors.New("no open position")

// OrderRejectedError means the brokerage declined the order (risk,
// buying power, halted symbol, malformed request). It is terminal for
// the attempt: log and move on, never retry blindly.
type OrderRejectedError struct {
	Ticker string
	Reason string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected for %s: %s", e.Ticker, e.Reason)
}

// IsRejection reports whether err is an order rejection.
func IsRejection(err error) bool {
	var ore *OrderRejectedError
	return errors.As(err, &ore)
}

// IsTransient reports whether err looks like a recoverable transport
// or availability failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsRejection(err) {
		return false
	}
	msg := strings.ToLower(err.Error())
	patterns := []string{
		"timeout",
		"connection reset",
		"connection refused",
		"temporary failure",
		"network is unreachable",
		"no such host",
		"502",
		"503",
		"504",
		"too many requests",
		"rate limit",
		"eof",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Order is a market order request. Close-kind directions are routed to
// the flatten capability rather than submitted as opposite-side
// orders.
type Order struct {
	Ticker     string
	Direction  models.Direction
	Quantity   float64
	StopLoss   float64
	TakeProfit float64
	Reason     string
}

// Broker is the brokerage surface the engine consumes. Implementations
// must be safe for concurrent use; every blocking call takes a
// context.
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect() error

	SubmitOrder(ctx context.Context, order Order) (*models.Trade, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	CancelAll(ctx context.Context, symbol string) (int, error)
	ClosePosition(ctx context.Context, symbol string) (*models.Trade, error)

	GetPosition(ctx context.Context, symbol string) (*models.BrokerPosition, error)
	GetPositions(ctx context.Context) ([]models.BrokerPosition, error)
	GetAccount(ctx context.Context) (*models.Account, error)
	GetBars(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Bar, error)

	GetClock(ctx context.Context) (*models.Clock, error)
	IsMarketOpen(ctx context.Context) (bool, error)

	IsPaper() bool
	IsConnected() bool
}
