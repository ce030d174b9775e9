package broker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/pvandam/mtfbot/internal/models"
)

// CircuitBreakerBroker wraps a Broker with circuit breaker
// functionality so a flapping brokerage API fails fast instead of
// stalling every bar handler behind timeouts.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

var _ Broker = (*CircuitBreakerBroker)(nil)

// execCircuitBreaker is a generic helper for the wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a wrapper with sensible defaults.
func NewCircuitBreakerBroker(broker Broker, log *logrus.Logger) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	}, log)
}

// NewCircuitBreakerBrokerWithSettings creates a wrapper with custom
// settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings, log *logrus.Logger) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// Rejections are the brokerage answering; only transport
			// failures should trip the circuit.
			return err == nil || IsRejection(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"from": from.String(),
				"to":   to.String(),
			}).Warn("broker: circuit breaker state changed")
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

func (c *CircuitBreakerBroker) Connect(ctx context.Context) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.Connect(ctx)
	})
	return err
}

func (c *CircuitBreakerBroker) Disconnect() error {
	return c.broker.Disconnect()
}

func (c *CircuitBreakerBroker) SubmitOrder(ctx context.Context, order Order) (*models.Trade, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.Trade, error) {
		return b.SubmitOrder(ctx, order)
	})
}

func (c *CircuitBreakerBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (bool, error) {
		return b.CancelOrder(ctx, orderID)
	})
}

func (c *CircuitBreakerBroker) CancelAll(ctx context.Context, symbol string) (int, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (int, error) {
		return b.CancelAll(ctx, symbol)
	})
}

func (c *CircuitBreakerBroker) ClosePosition(ctx context.Context, symbol string) (*models.Trade, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.Trade, error) {
		return b.ClosePosition(ctx, symbol)
	})
}

func (c *CircuitBreakerBroker) GetPosition(ctx context.Context, symbol string) (*models.BrokerPosition, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.BrokerPosition, error) {
		return b.GetPosition(ctx, symbol)
	})
}

func (c *CircuitBreakerBroker) GetPositions(ctx context.Context) ([]models.BrokerPosition, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]models.BrokerPosition, error) {
		return b.GetPositions(ctx)
	})
}

func (c *CircuitBreakerBroker) GetAccount(ctx context.Context) (*models.Account, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.Account, error) {
		return b.GetAccount(ctx)
	})
}

func (c *CircuitBreakerBroker) GetBars(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Bar, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]models.Bar, error) {
		return b.GetBars(ctx, symbol, tf, limit)
	})
}

func (c *CircuitBreakerBroker) GetClock(ctx context.Context) (*models.Clock, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.Clock, error) {
		return b.GetClock(ctx)
	})
}

func (c *CircuitBreakerBroker) IsMarketOpen(ctx context.Context) (bool, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (bool, error) {
		return b.IsMarketOpen(ctx)
	})
}

func (c *CircuitBreakerBroker) IsPaper() bool     { return c.broker.IsPaper() }
func (c *CircuitBreakerBroker) IsConnected() bool { return c.broker.IsConnected() }
