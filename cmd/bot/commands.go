package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pvandam/mtfbot/internal/broker"
	"github.com/pvandam/mtfbot/internal/config"
	"github.com/pvandam/mtfbot/internal/models"
	"github.com/pvandam/mtfbot/internal/storage"
	"github.com/pvandam/mtfbot/internal/supervisor"
)

func startCmd() *cobra.Command {
	var live bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the trading bot until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if live {
				cfg.ForceLive()
			}
			setupLogging(cfg)

			if !cfg.IsPaperTrading() {
				log.Warn("LIVE trading mode: real orders will be submitted")
			}

			sup, err := supervisor.New(cfg, log, supervisor.Deps{})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return sup.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&live, "live", false, "trade against the live API instead of paper")
	return cmd
}

// connectBroker builds and connects the configured broker for one-shot
// commands.
func connectBroker(ctx context.Context, cfg *config.Config) (broker.Broker, error) {
	alpaca := broker.NewAlpacaBroker(cfg.Broker.APIKey, cfg.Broker.SecretKey, cfg.IsPaperTrading(), log)
	b := broker.NewCircuitBreakerBroker(alpaca, log)
	if err := b.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}
	return b, nil
}

func accountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Show account equity and buying power",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			setupLogging(cfg)

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			b, err := connectBroker(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Disconnect()

			account, err := b.GetAccount(ctx)
			if err != nil {
				return fmt.Errorf("fetching account: %w", err)
			}

			mode := "paper"
			if !cfg.IsPaperTrading() {
				mode = "live"
			}
			fmt.Printf("Mode:             %s\n", mode)
			fmt.Printf("Equity:           $%.2f\n", account.Equity)
			fmt.Printf("Cash:             $%.2f\n", account.Cash)
			fmt.Printf("Buying power:     $%.2f\n", account.BuyingPower)
			fmt.Printf("Reg-T BP:         $%.2f\n", account.RegTBuyingPower)
			fmt.Printf("Day trades used:  %d\n", account.DaytradeCount)

			positions, err := b.GetPositions(ctx)
			if err != nil {
				return fmt.Errorf("fetching positions: %w", err)
			}
			if len(positions) == 0 {
				fmt.Println("\nNo open positions.")
				return nil
			}
			fmt.Println("\nOpen positions:")
			for _, p := range positions {
				fmt.Printf("  %-6s %-5s %8.2f @ $%.2f  (unrealized $%.2f)\n",
					p.Ticker, p.Direction, p.Quantity, p.AvgEntryPrice, p.UnrealizedPnL)
			}
			return nil
		},
	}
}

func openStorage(cfg *config.Config) (storage.Interface, error) {
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

func tradesCmd() *cobra.Command {
	var today bool
	var limit int
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List journaled trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			setupLogging(cfg)

			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var trades []models.Trade
			if today {
				trades, err = store.TradesToday(time.Now().Format("2006-01-02"))
			} else {
				trades, err = store.TradeHistory(limit)
			}
			if err != nil {
				return fmt.Errorf("querying trades: %w", err)
			}
			if len(trades) == 0 {
				fmt.Println("No trades recorded.")
				return nil
			}

			for _, t := range trades {
				status := "open"
				pnl := ""
				if t.IsClosed() {
					status = t.ExitReason
					pnl = fmt.Sprintf("  pnl $%.2f", t.PnL)
				}
				fmt.Printf("%s  %-6s %-5s %6.0f @ $%.2f  %-12s%s  %s\n",
					t.EntryTime.Format("2006-01-02 15:04"),
					t.Ticker, t.Direction, t.Quantity, t.EntryPrice,
					status, pnl, t.SignalReason)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&today, "today", false, "only today's trades")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum trades to show")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate trade statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			setupLogging(cfg)

			store, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.TradeStats()
			if err != nil {
				return fmt.Errorf("querying stats: %w", err)
			}
			if stats.TotalTrades == 0 {
				fmt.Println("No closed trades yet.")
				return nil
			}

			fmt.Printf("Closed trades:  %d\n", stats.TotalTrades)
			fmt.Printf("Wins / losses:  %d / %d (%.1f%%)\n", stats.Wins, stats.Losses, stats.WinRate)
			fmt.Printf("Total P&L:      $%.2f\n", stats.TotalPnL)
			fmt.Printf("Average win:    $%.2f\n", stats.AverageWin)
			fmt.Printf("Average loss:   $%.2f\n", stats.AverageLoss)
			fmt.Printf("Largest win:    $%.2f\n", stats.LargestWin)
			fmt.Printf("Largest loss:   $%.2f\n", stats.LargestLoss)
			if stats.ProfitFactor > 0 {
				fmt.Printf("Profit factor:  %.2f\n", stats.ProfitFactor)
			}
			return nil
		},
	}
}

func barsCmd() *cobra.Command {
	var timeframe string
	var limit int
	cmd := &cobra.Command{
		Use:   "bars SYMBOL",
		Short: "Fetch recent historical bars for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			setupLogging(cfg)

			tf, err := models.ParseTimeframe(timeframe)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			b, err := connectBroker(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Disconnect()

			bars, err := b.GetBars(ctx, args[0], tf, limit)
			if err != nil {
				return fmt.Errorf("fetching bars: %w", err)
			}
			if len(bars) == 0 {
				fmt.Println("No bars returned.")
				return nil
			}

			fmt.Printf("%-20s %10s %10s %10s %10s %12s\n", "time", "open", "high", "low", "close", "volume")
			for _, bar := range bars {
				fmt.Printf("%-20s %10.2f %10.2f %10.2f %10.2f %12.0f\n",
					bar.Timestamp.Format("2006-01-02 15:04"),
					bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&timeframe, "timeframe", "5m", "bar timeframe, e.g. 2m or 5m")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of bars")
	return cmd
}

func testOrderCmd() *cobra.Command {
	var ticker string
	var qty float64
	cmd := &cobra.Command{
		Use:   "test-order",
		Short: "Submit and immediately flatten a tiny paper order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			setupLogging(cfg)

			if !cfg.IsPaperTrading() {
				return fmt.Errorf("test-order only runs in paper mode")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			b, err := connectBroker(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Disconnect()

			open, err := b.IsMarketOpen(ctx)
			if err != nil {
				return fmt.Errorf("checking market clock: %w", err)
			}
			if !open {
				return fmt.Errorf("market is closed, cannot test order flow")
			}

			fmt.Printf("Submitting test order: buy %.0f %s\n", qty, ticker)
			trade, err := b.SubmitOrder(ctx, broker.Order{
				Ticker:    ticker,
				Direction: models.Long,
				Quantity:  qty,
				Reason:    "order path test",
			})
			if err != nil {
				return fmt.Errorf("submitting order: %w", err)
			}
			fmt.Printf("Filled %.0f @ $%.2f (order %s)\n", trade.Quantity, trade.EntryPrice, trade.OrderID)

			closing, err := b.ClosePosition(ctx, ticker)
			if err != nil {
				return fmt.Errorf("closing test position: %w", err)
			}
			if closing != nil {
				fmt.Printf("Closed @ $%.2f\n", closing.EntryPrice)
			}
			fmt.Println("Order path OK.")
			return nil
		},
	}
	cmd.Flags().StringVar(&ticker, "ticker", "AAPL", "symbol to test with")
	cmd.Flags().Float64Var(&qty, "qty", 1, "share quantity")
	return cmd
}
