// Package models defines the core domain types shared across the bot:
// bars, timeframes, signals, positions, trades, and broker snapshots.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Direction classifies a signal or position. Entry directions open
// positions; close directions request a flatten of the matching side.
type Direction string

const (
	Long       Direction = "long"
	Short      Direction = "short"
	CloseLong  Direction = "close_long"
	CloseShort Direction = "close_short"
	Flat       Direction = "flat"
)

// IsEntry reports whether the direction opens a position.
func (d Direction) IsEntry() bool {
	return d == Long || d == Short
}

// IsClose reports whether the direction requests an exit. Flat closes
// whichever side is open.
func (d Direction) IsClose() bool {
	return d == CloseLong || d == CloseShort || d == Flat
}

// CloseFor returns the close direction matching an entry direction.
func CloseFor(entry Direction) Direction {
	if entry == Short {
		return CloseShort
	}
	return CloseLong
}

// Bar is a single OHLCV bar. Timestamp marks the start of the bar's
// window and is always UTC.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Timeframe is a bar interval expressed in whole minutes.
type Timeframe int

// Minutes returns the interval length in minutes.
func (tf Timeframe) Minutes() int { return int(tf) }

// Duration returns the interval as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf) * time.Minute
}

// WindowStart returns the start of the clock-aligned window containing
// ts: the minute-of-hour is floored to a multiple of the timeframe.
func (tf Timeframe) WindowStart(ts time.Time) time.Time {
	n := tf.Minutes()
	if n <= 0 {
		n = 1
	}
	minute := (ts.Minute() / n) * n
	return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), minute, 0, 0, ts.Location())
}

func (tf Timeframe) String() string {
	return fmt.Sprintf("%dm", int(tf))
}

// ParseTimeframe parses strings like "5m" or "5" into a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimSuffix(s, "m")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeframe %q: %w", s, err)
	}
	if n <= 0 || n > 60 {
		return 0, fmt.Errorf("timeframe must be 1..60 minutes, got %d", n)
	}
	return Timeframe(n), nil
}

// Signal is a strategy's request to open or close a position. Price
// fields use 0 to mean "not set".
type Signal struct {
	Direction            Direction
	Ticker               string
	Price                float64
	StopLoss             float64
	TakeProfit           float64
	TrailingStopDistance float64
	Reason               string
	Timestamp            time.Time
}

// Account is a broker account snapshot. Values are converted from the
// broker's decimal representation at the adapter boundary.
type Account struct {
	Cash                     float64
	Equity                   float64
	LastEquity               float64
	BuyingPower              float64
	RegTBuyingPower          float64
	DaytradingBuyingPower    float64
	NonMarginableBuyingPower float64
	Multiplier               int
	DaytradeCount            int
	PatternDayTrader         bool
	TradingBlocked           bool
	Currency                 string
	Status                   string
}

// BrokerPosition is the broker's view of an open position.
type BrokerPosition struct {
	Ticker        string
	Direction     Direction
	Quantity      float64
	AvgEntryPrice float64
	CurrentPrice  float64
	MarketValue   float64
	UnrealizedPnL float64
}

// Clock is the broker's market clock.
type Clock struct {
	Timestamp time.Time
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}
