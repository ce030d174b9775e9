package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
	"github.com/sirupsen/logrus"

	"github.com/pvandam/mtfbot/internal/models"
)

// Feed streams 1-minute bars and fans them out to the registered
// per-timeframe aggregators.
type Feed interface {
	AddAggregator(symbol string, tf models.Timeframe)
	OnBar(handler BarHandler)
	Subscribe(symbols []string) error
	Run(ctx context.Context) error
	FlushAll()
}

// ReconnectConfig controls the manual reconnect loop around the
// websocket connection.
type ReconnectConfig struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultReconnect matches the historical backoff: 3s doubling to a
// 60s ceiling, ten attempts before giving up.
func DefaultReconnect() ReconnectConfig {
	return ReconnectConfig{Initial: 3 * time.Second, Max: 60 * time.Second, MaxAttempts: 10}
}

// AlpacaFeed subscribes to the IEX 1-minute bar stream and routes each
// bar through the aggregators registered for its symbol.
type AlpacaFeed struct {
	key       string
	secret    string
	reconnect ReconnectConfig
	log       *logrus.Logger

	mu      sync.Mutex
	client  *stream.StocksClient
	aggs    map[string]map[models.Timeframe]*Aggregator
	handler BarHandler
	symbols []string
}

var _ Feed = (*AlpacaFeed)(nil)

// NewAlpacaFeed creates a feed using the given credentials.
func NewAlpacaFeed(key, secret string, rc ReconnectConfig, log *logrus.Logger) *AlpacaFeed {
	return &AlpacaFeed{
		key:       key,
		secret:    secret,
		reconnect: rc,
		log:       log,
		aggs:      make(map[string]map[models.Timeframe]*Aggregator),
	}
}

// OnBar sets the handler invoked with every completed aggregated bar.
// Must be called before Run.
func (f *AlpacaFeed) OnBar(handler BarHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

// AddAggregator registers a (symbol, timeframe) aggregation target.
func (f *AlpacaFeed) AddAggregator(symbol string, tf models.Timeframe) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byTF, ok := f.aggs[symbol]
	if !ok {
		byTF = make(map[models.Timeframe]*Aggregator)
		f.aggs[symbol] = byTF
	}
	if _, exists := byTF[tf]; exists {
		return
	}
	byTF[tf] = NewAggregator(tf, f.dispatch, f.log)
	f.log.WithFields(logrus.Fields{"symbol": symbol, "tf": tf.String()}).Info("feed: aggregator added")
}

func (f *AlpacaFeed) dispatch(symbol string, tf models.Timeframe, bar models.Bar) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(symbol, tf, bar)
	}
}

// Subscribe records the symbol set to stream. The actual websocket
// subscription happens inside Run, where the client is created.
func (f *AlpacaFeed) Subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to subscribe")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbols = append([]string(nil), symbols...)
	return nil
}

// onStreamBar converts an incoming 1m bar and feeds every aggregator
// registered for its symbol. Timestamps are normalized to UTC here so
// everything downstream sees one zone.
func (f *AlpacaFeed) onStreamBar(b stream.Bar) {
	bar := models.Bar{
		Timestamp: b.Timestamp.UTC(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    float64(b.Volume),
	}
	f.mu.Lock()
	byTF := f.aggs[b.Symbol]
	targets := make([]*Aggregator, 0, len(byTF))
	for _, agg := range byTF {
		targets = append(targets, agg)
	}
	f.mu.Unlock()

	for _, agg := range targets {
		agg.OnMinuteBar(b.Symbol, bar)
	}
}

// Run connects and blocks until ctx is cancelled or the reconnect
// budget is exhausted. Each connection failure doubles the delay up to
// the cap; a session that stays up long enough resets the budget.
func (f *AlpacaFeed) Run(ctx context.Context) error {
	f.mu.Lock()
	symbols := append([]string(nil), f.symbols...)
	f.mu.Unlock()
	if len(symbols) == 0 {
		return fmt.Errorf("feed: Run called before Subscribe")
	}

	delay := f.reconnect.Initial
	attempts := 0
	for {
		client := stream.NewStocksClient(
			marketdata.IEX,
			stream.WithCredentials(f.key, f.secret),
		)
		f.mu.Lock()
		f.client = client
		f.mu.Unlock()

		if err := client.SubscribeToBars(f.onStreamBar, symbols...); err != nil {
			f.log.WithError(err).Error("feed: bar subscription failed")
		} else {
			f.log.WithField("symbols", symbols).Info("feed: connected, streaming 1m bars")
		}

		started := time.Now()
		err := client.Connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > 5*time.Minute {
			// Healthy session that dropped; start the budget over.
			attempts = 0
			delay = f.reconnect.Initial
		}

		attempts++
		if attempts >= f.reconnect.MaxAttempts {
			return fmt.Errorf("feed: giving up after %d reconnect attempts: %w", attempts, err)
		}
		f.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempts,
			"delay":   delay.String(),
		}).Warn("feed: stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.reconnect.Max {
			delay = f.reconnect.Max
		}
	}
}

// FlushAll emits every partial aggregation buffer (shutdown or market
// close).
func (f *AlpacaFeed) FlushAll() {
	f.mu.Lock()
	targets := make([]*Aggregator, 0)
	for _, byTF := range f.aggs {
		for _, agg := range byTF {
			targets = append(targets, agg)
		}
	}
	f.mu.Unlock()
	for _, agg := range targets {
		agg.FlushAll()
	}
}
