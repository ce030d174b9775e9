// Package retry wraps the flatten path with bounded retries. Closing
// a position is the one broker call the engine must not give up on
// after a single transport blip.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pvandam/mtfbot/internal/broker"
	"github.com/pvandam/mtfbot/internal/models"
)

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client retries transient close-position failures with jittered
// backoff. Rejections and other permanent errors fail immediately.
type Client struct {
	broker broker.Broker
	logger *logrus.Logger
	config Config
}

func NewClient(b broker.Broker, logger *logrus.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	return &Client{
		broker: b,
		logger: logger,
		config: cfg,
	}
}

// ClosePositionWithRetry flattens the symbol, retrying transient
// failures. A (nil, nil) result means the brokerage reports no
// position to close.
func (c *Client) ClosePositionWithRetry(ctx context.Context, symbol string) (*models.Trade, error) {
	closeCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		select {
		case <-closeCtx.Done():
			return nil, fmt.Errorf("close operation timed out after %v: %w", c.config.Timeout, closeCtx.Err())
		default:
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("operation canceled: %w", ctx.Err())
		}

		c.logger.WithFields(logrus.Fields{
			"symbol":  symbol,
			"attempt": attempt + 1,
			"max":     c.config.MaxRetries + 1,
		}).Info("retry: close attempt")

		trade, err := c.broker.ClosePosition(closeCtx, symbol)
		if err == nil {
			return trade, nil
		}

		lastErr = err
		c.logger.WithError(err).WithField("attempt", attempt+1).Warn("retry: close attempt failed")

		if broker.IsTransient(err) && attempt < c.config.MaxRetries {
			c.logger.WithField("backoff", backoff.String()).Info("retry: transient error, backing off")
			select {
			case <-time.After(backoff):
				backoff = c.calculateNextBackoff(backoff)
			case <-closeCtx.Done():
				return nil, fmt.Errorf("close operation timed out during backoff: %w", closeCtx.Err())
			case <-ctx.Done():
				return nil, fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
			}
		} else {
			break
		}
	}

	return nil, fmt.Errorf("failed to close position after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.WithError(err).Warn("retry: jitter generation failed")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}
