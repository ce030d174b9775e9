// Package supervisor wires the bot together: broker, feed, engines,
// risk, storage, and the dashboard, with one lifecycle for all of them.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pvandam/mtfbot/internal/broker"
	"github.com/pvandam/mtfbot/internal/config"
	"github.com/pvandam/mtfbot/internal/dashboard"
	"github.com/pvandam/mtfbot/internal/engine"
	"github.com/pvandam/mtfbot/internal/feed"
	"github.com/pvandam/mtfbot/internal/models"
	"github.com/pvandam/mtfbot/internal/report"
	"github.com/pvandam/mtfbot/internal/risk"
	"github.com/pvandam/mtfbot/internal/storage"
	"github.com/pvandam/mtfbot/internal/strategy"
)

const shutdownGrace = 10 * time.Second

// Supervisor owns every long-lived component and runs them under one
// errgroup. Dependencies left nil in Deps are built from the config.
type Supervisor struct {
	cfg     *config.Config
	log     *logrus.Logger
	broker  broker.Broker
	feed    feed.Feed
	store   storage.Interface
	riskMgr *risk.Manager
	daily   *report.Daily
	engines []*engine.Engine
	symbols []string

	startEquity float64
}

// Deps lets tests (and the CLI's one-shot commands) substitute
// components. Zero value means "build the real thing".
type Deps struct {
	Broker  broker.Broker
	Feed    feed.Feed
	Storage storage.Interface
}

// New builds a supervisor from config. Nothing connects until Run.
func New(cfg *config.Config, log *logrus.Logger, deps Deps) (*Supervisor, error) {
	b := deps.Broker
	if b == nil {
		alpaca := broker.NewAlpacaBroker(cfg.Broker.APIKey, cfg.Broker.SecretKey, cfg.IsPaperTrading(), log)
		b = broker.NewCircuitBreakerBroker(alpaca, log)
	}

	f := deps.Feed
	if f == nil {
		f = feed.NewAlpacaFeed(cfg.Broker.APIKey, cfg.Broker.SecretKey, feed.ReconnectConfig{
			Initial:     cfg.Operational.FeedReconnectInitial.Std(),
			Max:         cfg.Operational.FeedReconnectMax.Std(),
			MaxAttempts: cfg.Operational.FeedReconnectTries,
		}, log)
	}

	store := deps.Storage
	if store == nil {
		var err error
		store, err = storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
	}

	return &Supervisor{
		cfg:    cfg,
		log:    log,
		broker: b,
		feed:   f,
		store:  store,
		daily:  report.NewDaily(""),
	}, nil
}

// Run connects, warms up, and blocks until ctx is canceled or a fatal
// component error occurs. Shutdown is orderly either way.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.broker.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	defer func() {
		if err := s.broker.Disconnect(); err != nil {
			s.log.WithError(err).Warn("supervisor: broker disconnect failed")
		}
	}()
	defer func() {
		if err := s.store.Close(); err != nil {
			s.log.WithError(err).Warn("supervisor: storage close failed")
		}
	}()

	account, err := s.broker.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("fetching account: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"equity":       account.Equity,
		"buying_power": account.BuyingPower,
		"paper":        s.broker.IsPaper(),
	}).Info("supervisor: connected")

	s.daily.SetAccountStart(account)
	s.startEquity = account.Equity

	s.riskMgr = risk.NewManager(risk.Config{
		MaxDailyLoss:        s.cfg.Risk.MaxDailyLoss,
		MaxDrawdownPct:      s.cfg.Risk.MaxDrawdownPct,
		MaxPositionValuePct: s.cfg.Risk.MaxPositionValuePct,
		MaxTotalPositions:   s.cfg.Risk.MaxTotalPositions,
		MaxTotalExposurePct: s.cfg.Risk.MaxTotalExposurePct,
		MinEquityForTrading: s.cfg.Risk.MinEquityForTrading,
		EnforceBuyingPower:  s.cfg.Risk.BuyingPowerEnforced(),
	}, account.Equity, risk.NewSessionFilter(), s.log)

	if err := s.buildEngines(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	for _, e := range s.engines {
		eng := e
		g.Go(func() error {
			err := eng.Run(gctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}

	// Initial reconcile before any live bar reaches the engines.
	for _, e := range s.engines {
		outcome, err := e.Reconcile(gctx)
		if err != nil {
			s.log.WithError(err).WithField("symbol", e.Symbol()).Warn("supervisor: initial reconcile failed")
			continue
		}
		s.log.WithFields(logrus.Fields{
			"symbol":  e.Symbol(),
			"outcome": string(outcome),
		}).Info("supervisor: initial reconcile")
	}

	s.feed.OnBar(func(symbol string, tf models.Timeframe, bar models.Bar) {
		for _, e := range s.engines {
			if e.Symbol() == symbol {
				e.OnBar(symbol, tf, bar)
			}
		}
	})
	if err := s.feed.Subscribe(s.symbols); err != nil {
		return fmt.Errorf("subscribing feed: %w", err)
	}

	g.Go(func() error {
		err := s.feed.Run(gctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	g.Go(func() error { return s.reconcileLoop(gctx) })

	var dash *dashboard.Server
	if s.cfg.Dashboard.Enabled {
		dash = dashboard.NewServer(dashboard.Config{
			ListenAddr: s.cfg.Dashboard.ListenAddr,
			AuthToken:  s.cfg.Dashboard.AuthToken,
		}, s.engines, s.riskMgr, s.store, s.broker, s.log)
		g.Go(func() error {
			if err := dash.Start(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return dash.Shutdown(shutdownCtx)
		})
	}

	s.log.WithField("symbols", s.symbols).Info("supervisor: running")
	err = g.Wait()

	s.shutdown()

	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// buildEngines constructs one engine per enabled symbol, with one
// warmed-up slot per configured timeframe.
func (s *Supervisor) buildEngines(ctx context.Context) error {
	for symbol, sc := range s.cfg.Strategies {
		if !sc.IsEnabled() {
			continue
		}
		tfs, err := sc.ParsedTimeframes()
		if err != nil {
			return fmt.Errorf("strategies.%s: %w", symbol, err)
		}

		slots := make([]*engine.Slot, 0, len(tfs))
		for _, tf := range tfs {
			strat, err := strategy.New(sc.Name, sc.Params)
			if err != nil {
				return fmt.Errorf("strategies.%s: %w", symbol, err)
			}
			f, err := engine.Warmup(ctx, s.broker, strat, symbol, tf,
				s.cfg.Operational.WarmupBars, s.cfg.Operational.MaxBars, s.log)
			if err != nil {
				return fmt.Errorf("warming up %s %s: %w", symbol, tf, err)
			}
			slots = append(slots, engine.NewSlot(tf, strat, f))
			s.feed.AddAggregator(symbol, tf)
		}

		eng := engine.New(engine.Options{
			Symbol:        symbol,
			Slots:         slots,
			Broker:        s.broker,
			Risk:          s.riskMgr,
			Storage:       s.store,
			Report:        s.daily,
			Log:           s.log,
			Sizing:        s.cfg.Sizing,
			LongOnly:      sc.LongOnly,
			HeartbeatBars: s.cfg.Operational.HeartbeatBars,
		})
		s.engines = append(s.engines, eng)
		s.symbols = append(s.symbols, symbol)
	}

	if len(s.engines) == 0 {
		return fmt.Errorf("no enabled strategies configured")
	}
	return nil
}

// reconcileLoop periodically converges local and broker state.
func (s *Supervisor) reconcileLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Operational.ReconcileInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, e := range s.engines {
				tctx, cancel := context.WithTimeout(ctx, 30*time.Second)
				outcome, err := e.Reconcile(tctx)
				cancel()
				if err != nil {
					s.log.WithError(err).WithField("symbol", e.Symbol()).Warn("supervisor: reconcile failed")
					continue
				}
				if outcome != engine.ReconcileAgreeFlat && outcome != engine.ReconcileAgreeMatch {
					s.log.WithFields(logrus.Fields{
						"symbol":  e.Symbol(),
						"outcome": string(outcome),
					}).Warn("supervisor: reconcile diverged")
				}
			}
		}
	}
}

// shutdown settles the day: cancel working orders, snapshot the
// account, persist the daily row, and write the report. Open positions
// are left open; the next boot's reconcile readopts them.
func (s *Supervisor) shutdown() {
	s.log.Info("supervisor: shutting down")
	for _, e := range s.engines {
		e.Pause()
	}
	s.feed.FlushAll()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	for _, symbol := range s.symbols {
		if n, err := s.broker.CancelAll(ctx, symbol); err != nil {
			s.log.WithError(err).WithField("symbol", symbol).Warn("supervisor: cancel-all failed")
		} else if n > 0 {
			s.log.WithFields(logrus.Fields{"symbol": symbol, "canceled": n}).Info("supervisor: working orders canceled")
		}
	}

	account, err := s.broker.GetAccount(ctx)
	if err != nil {
		s.log.WithError(err).Warn("supervisor: final account fetch failed")
	}
	positions, err := s.broker.GetPositions(ctx)
	if err != nil {
		s.log.WithError(err).Warn("supervisor: final positions fetch failed")
	}
	s.daily.SetAccountEnd(account, positions)

	stats := s.riskMgr.GetDailyStats()
	row := storage.DailyPnL{
		Date:        stats.Date,
		EquityStart: s.startEquity,
		RealizedPnL: stats.DailyPnL,
		TradesTaken: stats.Trades,
		Wins:        stats.Wins,
		Losses:      stats.Losses,
	}
	if account != nil {
		row.EquityEnd = account.Equity
	}
	if err := s.store.SaveDailyPnL(row); err != nil {
		s.log.WithError(err).Warn("supervisor: daily pnl persist failed")
	}

	if path, err := s.daily.Write(s.cfg.Report.Dir); err != nil {
		s.log.WithError(err).Warn("supervisor: daily report write failed")
	} else {
		s.log.WithField("path", path).Info("supervisor: daily report written")
	}
}
