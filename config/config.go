// Package config loads and validates the bot's configuration. Files may be
// YAML or JSON; API credentials come from the environment only and never
// appear in a config file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/krwbot/strategy"
)

// Environment variables holding the Coinone API credentials.
const (
	EnvAccessToken = "COINONE_ACCESS_TOKEN"
	EnvSecretKey   = "COINONE_SECRET_KEY"
)

// Config represents the complete bot configuration.
type Config struct {
	Exchange ExchangeConfig `json:"exchange" yaml:"exchange"`
	Strategy StrategyConfig `json:"strategy" yaml:"strategy"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	Backtest BacktestConfig `json:"backtest" yaml:"backtest"`
}

// ExchangeConfig contains exchange connectivity parameters.
type ExchangeConfig struct {
	// BaseURL overrides the production API endpoint, used in tests.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// DryRun routes orders to the in-process paper gateway instead of the
	// exchange. Market data still comes from the live public API.
	DryRun bool `json:"dry_run" yaml:"dry_run"`

	// PaperBalance is the starting KRW balance of the paper gateway.
	PaperBalance float64 `json:"paper_balance,omitempty" yaml:"paper_balance,omitempty"`
}

// Credentials reads the API keys from the environment.
func (e ExchangeConfig) Credentials() (accessToken, secretKey string, err error) {
	accessToken = os.Getenv(EnvAccessToken)
	secretKey = os.Getenv(EnvSecretKey)
	if accessToken == "" || secretKey == "" {
		return "", "", fmt.Errorf("credentials: %s and %s must be set", EnvAccessToken, EnvSecretKey)
	}
	return accessToken, secretKey, nil
}

// TrancheConfig mirrors strategy.TrancheSpec for serialization.
type TrancheConfig struct {
	Ratio       float64 `json:"ratio" yaml:"ratio"`
	PriceOffset float64 `json:"price_offset" yaml:"price_offset"`
}

// StrategyConfig contains the trading rule parameters. Zero-valued fields
// fall back to the variant's defaults; durations are strings like "24h".
type StrategyConfig struct {
	// Variant selects the entry style: "single" or "split_buy".
	Variant string `json:"variant" yaml:"variant"`

	Symbol   string `json:"symbol" yaml:"symbol"`
	Interval string `json:"interval" yaml:"interval"`

	RSIPeriod   int `json:"rsi_period,omitempty" yaml:"rsi_period,omitempty"`
	EMAPeriod   int `json:"ema_period,omitempty" yaml:"ema_period,omitempty"`
	CandleLimit int `json:"candle_limit,omitempty" yaml:"candle_limit,omitempty"`

	EMASlope3Min float64 `json:"ema_slope_3_min,omitempty" yaml:"ema_slope_3_min,omitempty"`
	EMASlope5Min float64 `json:"ema_slope_5_min,omitempty" yaml:"ema_slope_5_min,omitempty"`

	ProfitTarget  float64 `json:"profit_target,omitempty" yaml:"profit_target,omitempty"`
	RSIOverbought float64 `json:"rsi_overbought,omitempty" yaml:"rsi_overbought,omitempty"`

	MaxHold       string `json:"max_hold,omitempty" yaml:"max_hold,omitempty"`
	Cooldown      string `json:"cooldown,omitempty" yaml:"cooldown,omitempty"`
	FillWait      string `json:"fill_wait,omitempty" yaml:"fill_wait,omitempty"`
	PollInterval  string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	CycleInterval string `json:"cycle_interval,omitempty" yaml:"cycle_interval,omitempty"`

	MinOrderKRW float64 `json:"min_order_krw,omitempty" yaml:"min_order_krw,omitempty"`
	MaxOrderKRW float64 `json:"max_order_krw,omitempty" yaml:"max_order_krw,omitempty"`

	Tranches []TrancheConfig `json:"tranches,omitempty" yaml:"tranches,omitempty"`
}

// Params resolves the config into a validated strategy parameter set,
// starting from the variant's defaults and overriding what is set.
func (sc StrategyConfig) Params() (strategy.Params, error) {
	var p strategy.Params
	switch sc.Variant {
	case "", "single":
		p = strategy.DefaultParams()
	case "split_buy":
		p = strategy.SplitBuyParams()
	default:
		return strategy.Params{}, fmt.Errorf("unknown strategy variant %q", sc.Variant)
	}

	if sc.Symbol != "" {
		p.Symbol = sc.Symbol
	}
	if sc.Interval != "" {
		p.Interval = sc.Interval
	}
	if sc.RSIPeriod != 0 {
		p.RSIPeriod = sc.RSIPeriod
	}
	if sc.EMAPeriod != 0 {
		p.EMAPeriod = sc.EMAPeriod
	}
	if sc.CandleLimit != 0 {
		p.CandleLimit = sc.CandleLimit
	}
	if sc.EMASlope3Min != 0 {
		p.EMASlope3Min = sc.EMASlope3Min
	}
	if sc.EMASlope5Min != 0 {
		p.EMASlope5Min = sc.EMASlope5Min
	}
	if sc.ProfitTarget != 0 {
		p.ProfitTarget = sc.ProfitTarget
	}
	if sc.RSIOverbought != 0 {
		p.RSIOverbought = sc.RSIOverbought
	}
	if sc.MinOrderKRW != 0 {
		p.MinOrderKRW = sc.MinOrderKRW
	}
	if sc.MaxOrderKRW != 0 {
		p.MaxOrderKRW = sc.MaxOrderKRW
	}

	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{sc.MaxHold, &p.MaxHold},
		{sc.Cooldown, &p.Cooldown},
		{sc.FillWait, &p.FillWait},
		{sc.PollInterval, &p.PollInterval},
		{sc.CycleInterval, &p.CycleInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return strategy.Params{}, fmt.Errorf("parse duration %q: %w", d.raw, err)
		}
		*d.dst = v
	}

	if len(sc.Tranches) > 0 {
		p.Tranches = make([]strategy.TrancheSpec, len(sc.Tranches))
		for i, tr := range sc.Tranches {
			p.Tranches[i] = strategy.TrancheSpec{Ratio: tr.Ratio, PriceOffset: tr.PriceOffset}
		}
	}

	if err := p.Validate(); err != nil {
		return strategy.Params{}, err
	}
	return p, nil
}

// LoggingConfig contains log output parameters.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level"` // debug, info, warn, error

	// File enables rotating file output alongside the console when set.
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
}

// JournalConfig contains journaling parameters.
type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "csv", "sqlite" or "none"
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	EquityFile string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// BacktestConfig contains replay parameters.
type BacktestConfig struct {
	Dataset        string  `json:"dataset,omitempty" yaml:"dataset,omitempty"`
	InitialBalance float64 `json:"initial_balance,omitempty" yaml:"initial_balance,omitempty"`
	SlippageRate   float64 `json:"slippage_rate,omitempty" yaml:"slippage_rate,omitempty"`
	ReportPath     string  `json:"report_path,omitempty" yaml:"report_path,omitempty"`
}

// LoadFromFile loads configuration from a file (YAML or JSON).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (format chosen by extension).
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if _, err := c.Strategy.Params(); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error")
	}

	switch c.Journal.Type {
	case "", "none":
	case "csv":
		if c.Journal.TradesFile == "" || c.Journal.EquityFile == "" {
			return fmt.Errorf("journal trades_file and equity_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite' or 'none'")
	}

	if c.Backtest.InitialBalance < 0 {
		return fmt.Errorf("backtest.initial_balance must not be negative")
	}
	if c.Backtest.SlippageRate < 0 || c.Backtest.SlippageRate > 0.01 {
		return fmt.Errorf("backtest.slippage_rate must be within [0, 0.01]")
	}
	if c.Exchange.PaperBalance < 0 {
		return fmt.Errorf("exchange.paper_balance must not be negative")
	}
	return nil
}

// Default returns a configuration with sensible defaults: the single-shot
// variant on USDT/KRW, paper trading, SQLite journaling.
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			DryRun:       true,
			PaperBalance: 1_000_000,
		},
		Strategy: StrategyConfig{
			Variant:  "single",
			Symbol:   "USDT",
			Interval: "1h",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./krwbot.db",
		},
		Backtest: BacktestConfig{
			InitialBalance: 1_000_000,
			SlippageRate:   0.0001,
		},
	}
}
