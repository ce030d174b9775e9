// Package config provides configuration management for the trading bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/pvandam/mtfbot/internal/models"
)

// Defaults applied when fields are unset.
const (
	defaultReconcileInterval    = 300 * time.Second
	defaultWarmupBars           = 200
	defaultHeartbeatBars        = 20
	defaultFeedReconnectInitial = 3 * time.Second
	defaultFeedReconnectMax     = 60 * time.Second
	defaultFeedReconnectTries   = 10
	defaultMaxBars              = 500
	defaultStoragePath          = "data/trading.db"
	defaultReportDir            = "reports/daily"
)

// Duration wraps time.Duration with YAML string parsing ("5m", "30s").
type Duration time.Duration

// UnmarshalYAML parses a duration string or a plain number of seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		dur, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(dur)
		return nil
	}
	var secs float64
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig         `yaml:"environment"`
	Broker      BrokerConfig              `yaml:"broker"`
	Strategies  map[string]StrategyConfig `yaml:"strategies"`
	Sizing      SizingConfig              `yaml:"sizing"`
	Risk        RiskConfig                `yaml:"risk"`
	Storage     StorageConfig             `yaml:"storage"`
	Operational OperationalConfig         `yaml:"operational"`
	Dashboard   DashboardConfig           `yaml:"dashboard"`
	Report      ReportConfig              `yaml:"report"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
	LogFile  string `yaml:"log_file"`
}

// BrokerConfig defines broker API settings. Keys are usually supplied
// via ${ALPACA_API_KEY} expansion or env override rather than inline.
type BrokerConfig struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
}

// StrategyConfig configures one symbol's strategy across its
// timeframes. Timeframes keep config order; that order breaks exact
// score ties during arbitration.
type StrategyConfig struct {
	Name       string             `yaml:"name"`
	Timeframes []string           `yaml:"timeframes"`
	Params     map[string]float64 `yaml:"params"`
	Enabled    *bool              `yaml:"enabled"`
	LongOnly   bool               `yaml:"long_only"`
}

// IsEnabled reports whether the symbol should be traded (default true).
func (s StrategyConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ParsedTimeframes returns the timeframes in config order.
func (s StrategyConfig) ParsedTimeframes() ([]models.Timeframe, error) {
	out := make([]models.Timeframe, 0, len(s.Timeframes))
	for _, raw := range s.Timeframes {
		tf, err := models.ParseTimeframe(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, nil
}

// SizingConfig defines how order quantities are derived.
type SizingConfig struct {
	Method    string  `yaml:"position_sizing"` // fixed | percent | risk_based
	PctEquity float64 `yaml:"pct_equity"`
	FixedSize float64 `yaml:"fixed_size"` // dollars
	RiskPct   float64 `yaml:"risk_pct"`
}

// RiskConfig defines account-level risk limits.
type RiskConfig struct {
	MaxDailyLoss        float64 `yaml:"max_daily_loss"`
	MaxDrawdownPct      float64 `yaml:"max_drawdown_pct"`
	MaxPositionValuePct float64 `yaml:"max_position_value_pct"`
	MaxTotalPositions   int     `yaml:"max_total_positions"`
	MaxTotalExposurePct float64 `yaml:"max_total_exposure_pct"`
	MinEquityForTrading float64 `yaml:"min_equity_for_trading"`
	EnforceBuyingPower  *bool   `yaml:"enforce_buying_power"`
}

// BuyingPowerEnforced reports whether the Reg-T check is active
// (default true).
func (r RiskConfig) BuyingPowerEnforced() bool {
	return r.EnforceBuyingPower == nil || *r.EnforceBuyingPower
}

// StorageConfig defines the SQLite database location.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// OperationalConfig defines runtime plumbing knobs.
type OperationalConfig struct {
	ReconcileInterval    Duration `yaml:"reconcile_interval"`
	WarmupBars           int      `yaml:"warmup_bars"`
	HeartbeatBars        int      `yaml:"heartbeat_bars"`
	MaxBars              int      `yaml:"max_bars"`
	FeedReconnectInitial Duration `yaml:"feed_reconnect_initial"`
	FeedReconnectMax     Duration `yaml:"feed_reconnect_max"`
	FeedReconnectTries   int      `yaml:"feed_reconnect_attempts"`
}

// DashboardConfig defines the optional JSON status server.
type DashboardConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	AuthToken  string `yaml:"auth_token"`
}

// ReportConfig defines daily report emission.
type ReportConfig struct {
	Dir string `yaml:"dir"`
}

// Load reads, expands, parses, defaults, and validates the config file.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.applyDefaults()
	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Environment.Mode == "" {
		c.Environment.Mode = "paper"
	}
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Sizing.Method == "" {
		c.Sizing.Method = "percent"
	}
	if c.Sizing.PctEquity == 0 {
		c.Sizing.PctEquity = 0.9
	}
	if c.Risk.MaxDailyLoss == 0 {
		c.Risk.MaxDailyLoss = 3000
	}
	if c.Risk.MaxDrawdownPct == 0 {
		c.Risk.MaxDrawdownPct = 15
	}
	if c.Risk.MinEquityForTrading == 0 {
		c.Risk.MinEquityForTrading = 25000
	}
	if c.Risk.MaxTotalPositions == 0 {
		c.Risk.MaxTotalPositions = 3
	}
	if c.Risk.MaxPositionValuePct == 0 {
		c.Risk.MaxPositionValuePct = 0.9
	}
	if c.Risk.MaxTotalExposurePct == 0 {
		c.Risk.MaxTotalExposurePct = 1.5
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
	if c.Operational.ReconcileInterval == 0 {
		c.Operational.ReconcileInterval = Duration(defaultReconcileInterval)
	}
	if c.Operational.WarmupBars == 0 {
		c.Operational.WarmupBars = defaultWarmupBars
	}
	if c.Operational.HeartbeatBars == 0 {
		c.Operational.HeartbeatBars = defaultHeartbeatBars
	}
	if c.Operational.MaxBars == 0 {
		c.Operational.MaxBars = defaultMaxBars
	}
	if c.Operational.FeedReconnectInitial == 0 {
		c.Operational.FeedReconnectInitial = Duration(defaultFeedReconnectInitial)
	}
	if c.Operational.FeedReconnectMax == 0 {
		c.Operational.FeedReconnectMax = Duration(defaultFeedReconnectMax)
	}
	if c.Operational.FeedReconnectTries == 0 {
		c.Operational.FeedReconnectTries = defaultFeedReconnectTries
	}
	if c.Dashboard.ListenAddr == "" {
		c.Dashboard.ListenAddr = "127.0.0.1:9090"
	}
	if c.Report.Dir == "" {
		c.Report.Dir = defaultReportDir
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		c.Broker.APIKey = v
	}
	if v := os.Getenv("ALPACA_SECRET_KEY"); v != "" {
		c.Broker.SecretKey = v
	}
	if v := os.Getenv("BOT_MODE"); v != "" {
		c.Environment.Mode = v
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be debug|info|warn|error")
	}

	if c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required (or set ALPACA_API_KEY)")
	}
	if c.Broker.SecretKey == "" {
		return fmt.Errorf("broker.secret_key is required (or set ALPACA_SECRET_KEY)")
	}

	enabled := 0
	for symbol, sc := range c.Strategies {
		if !sc.IsEnabled() {
			continue
		}
		enabled++
		if sc.Name == "" {
			return fmt.Errorf("strategies.%s.name is required", symbol)
		}
		if len(sc.Timeframes) == 0 {
			return fmt.Errorf("strategies.%s.timeframes must not be empty", symbol)
		}
		if _, err := sc.ParsedTimeframes(); err != nil {
			return fmt.Errorf("strategies.%s: %w", symbol, err)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("no enabled strategies configured")
	}

	switch c.Sizing.Method {
	case "fixed":
		if c.Sizing.FixedSize <= 0 {
			return fmt.Errorf("sizing.fixed_size must be > 0 for fixed sizing")
		}
	case "percent":
		if c.Sizing.PctEquity <= 0 || c.Sizing.PctEquity > 1 {
			return fmt.Errorf("sizing.pct_equity must be in (0,1]")
		}
	case "risk_based":
		if c.Sizing.RiskPct <= 0 || c.Sizing.RiskPct > 0.1 {
			return fmt.Errorf("sizing.risk_pct must be in (0,0.1]")
		}
	default:
		return fmt.Errorf("sizing.position_sizing must be fixed|percent|risk_based")
	}

	if c.Risk.MaxDailyLoss < 0 {
		return fmt.Errorf("risk.max_daily_loss must be >= 0")
	}
	if c.Risk.MaxDrawdownPct < 0 || c.Risk.MaxDrawdownPct > 100 {
		return fmt.Errorf("risk.max_drawdown_pct must be in [0,100]")
	}
	if c.Risk.MaxPositionValuePct <= 0 || c.Risk.MaxPositionValuePct > 1 {
		return fmt.Errorf("risk.max_position_value_pct must be in (0,1]")
	}
	if c.Risk.MaxTotalPositions <= 0 {
		return fmt.Errorf("risk.max_total_positions must be > 0")
	}
	if c.Risk.MaxTotalExposurePct <= 0 {
		return fmt.Errorf("risk.max_total_exposure_pct must be > 0")
	}

	if c.Operational.ReconcileInterval.Std() < 10*time.Second {
		return fmt.Errorf("operational.reconcile_interval must be >= 10s")
	}
	if c.Operational.WarmupBars < 0 {
		return fmt.Errorf("operational.warmup_bars must be >= 0")
	}

	return nil
}

// IsPaperTrading returns true if the bot trades against the paper API.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// ForceLive switches the config to live mode (CLI --live flag).
func (c *Config) ForceLive() {
	c.Environment.Mode = "live"
}

// ParseLogLevel maps the configured level to a logrus-compatible
// string; unknown values fall back to info.
func (c *Config) ParseLogLevel() string {
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
		return c.Environment.LogLevel
	}
	return "info"
}
