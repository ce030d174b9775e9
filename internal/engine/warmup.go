package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pvandam/mtfbot/internal/broker"
	"github.com/pvandam/mtfbot/internal/frame"
	"github.com/pvandam/mtfbot/internal/models"
	"github.com/pvandam/mtfbot/internal/strategy"
)

// DefaultWarmupBars exceeds the longest indicator lookback the built-in
// strategies use, with margin for Wilder smoothing to stabilize.
const DefaultWarmupBars = 200

// Warmup bootstraps a strategy with historical bars: fetch, attach
// indicators, then replay every bar through OnBar with no position so
// the strategy's internal state matches a continuously-running
// instance. Returned signals are discarded; per-bar errors (usually
// NaN rows near the head) are swallowed.
func Warmup(
	ctx context.Context,
	b broker.Broker,
	strat strategy.Strategy,
	ticker string,
	tf models.Timeframe,
	warmupBars, maxBars int,
	log *logrus.Logger,
) (*frame.Frame, error) {
	if warmupBars <= 0 {
		warmupBars = DefaultWarmupBars
	}
	if maxBars < warmupBars {
		maxBars = warmupBars
	}

	log.WithFields(logrus.Fields{
		"strategy":  strat.Name(),
		"ticker":    ticker,
		"timeframe": tf.String(),
		"bars":      warmupBars,
	}).Info("warmup: fetching history")

	bars, err := b.GetBars(ctx, ticker, tf, warmupBars)
	if err != nil {
		return nil, fmt.Errorf("fetching warmup bars for %s %s: %w", ticker, tf, err)
	}

	f := frame.New(maxBars)
	for _, bar := range bars {
		f.Append(bar)
	}

	if len(bars) == 0 {
		log.WithField("ticker", ticker).Warn("warmup: no historical bars returned")
		return f, nil
	}

	if err := strat.Setup(f); err != nil {
		return nil, fmt.Errorf("computing warmup indicators for %s %s: %w", ticker, tf, err)
	}

	primed := 0
	for i := 0; i < f.Len(); i++ {
		if _, err := strat.OnBar(i, f, nil); err == nil {
			primed++
		}
	}

	log.WithFields(logrus.Fields{
		"ticker":    ticker,
		"timeframe": tf.String(),
		"primed":    primed,
		"total":     f.Len(),
	}).Info("warmup: strategy state primed")

	return f, nil
}
