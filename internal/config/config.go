// Package config loads backtest and server settings from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/backtest-engine/internal/risk"
	"github.com/atmx/backtest-engine/internal/strategy"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the top-level configuration.
type Config struct {
	Run        RunConfig       `yaml:"run" json:"run"`
	Risk       RiskConfig      `yaml:"risk" json:"risk"`
	Strategies []strategy.Spec `yaml:"strategies" json:"strategies"`
	Feed       FeedConfig      `yaml:"feed" json:"feed"`
	Server     ServerConfig    `yaml:"server" json:"-"`
	Logging    LoggingConfig   `yaml:"logging" json:"-"`
}

// RunConfig holds account parameters.
type RunConfig struct {
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital"`
	FeeRate        float64 `yaml:"fee_rate" json:"fee_rate"`
}

// RiskConfig mirrors risk.Limits in configuration units.
type RiskConfig struct {
	MaxPositionSize         float64 `yaml:"max_position_size" json:"max_position_size"`
	MaxPositions            int     `yaml:"max_positions" json:"max_positions"`
	MaxSingleMarketExposure float64 `yaml:"max_single_market_exposure" json:"max_single_market_exposure"`
	DailyLossLimit          float64 `yaml:"daily_loss_limit" json:"daily_loss_limit"`
	MaxDrawdown             float64 `yaml:"max_drawdown" json:"max_drawdown"`
}

// SyntheticConfig parameterizes the generated feed.
type SyntheticConfig struct {
	Seed          int64     `yaml:"seed" json:"seed"`
	Days          int       `yaml:"days" json:"days"`
	MarketsPerDay int       `yaml:"markets_per_day" json:"markets_per_day"`
	Start         time.Time `yaml:"start" json:"start"`
	LMSRB         float64   `yaml:"lmsr_b" json:"lmsr_b"`
	FlowStd       float64   `yaml:"flow_std" json:"flow_std"`
	MispricingStd float64   `yaml:"mispricing_std" json:"mispricing_std"`
	Bias          float64   `yaml:"bias" json:"bias"`
}

// FeedConfig selects and configures the event source.
type FeedConfig struct {
	Source      string          `yaml:"source" json:"source"`
	Synthetic   SyntheticConfig `yaml:"synthetic" json:"synthetic"`
	PostgresURL string          `yaml:"postgres_url" json:"-"`
	RedisURL    string          `yaml:"redis_url" json:"-"`
	CacheTTL    time.Duration   `yaml:"cache_ttl" json:"-"`
	From        time.Time       `yaml:"from" json:"from,omitempty"`
	To          time.Time       `yaml:"to" json:"to,omitempty"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Port    string `yaml:"port"`
	MaxRuns int    `yaml:"max_runs"` // runs kept in memory; 0 keeps all
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Default returns the built-in configuration.
func Default() *Config {
	lim := risk.DefaultLimits()
	return &Config{
		Run: RunConfig{InitialCapital: 10000, FeeRate: 0.01},
		Risk: RiskConfig{
			MaxPositionSize:         lim.MaxPositionSize.InexactFloat64(),
			MaxPositions:            lim.MaxPositions,
			MaxSingleMarketExposure: lim.MaxSingleMarketExposure.InexactFloat64(),
			DailyLossLimit:          lim.DailyLossLimit.InexactFloat64(),
			MaxDrawdown:             lim.MaxDrawdown.InexactFloat64(),
		},
		Strategies: strategy.DefaultSpecs(),
		Feed: FeedConfig{
			Source: "synthetic",
			Synthetic: SyntheticConfig{
				Seed:          42,
				Days:          90,
				MarketsPerDay: 5,
				Start:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				LMSRB:         100,
				FlowStd:       4,
				MispricingStd: 0.01,
				Bias:          0.5,
			},
			CacheTTL: 10 * time.Minute,
		},
		Server:  ServerConfig{Port: "8080", MaxRuns: 100},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads the YAML file at path on top of Default, then applies
// environment overrides. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override file settings.
func applyEnvOverrides(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Feed.PostgresURL = getEnv("DATABASE_URL", cfg.Feed.PostgresURL)
	cfg.Feed.RedisURL = getEnv("REDIS_URL", cfg.Feed.RedisURL)
	cfg.Feed.Source = getEnv("FEED_SOURCE", cfg.Feed.Source)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	cfg.Run.InitialCapital = getEnvFloat("BACKTEST_INITIAL_CAPITAL", cfg.Run.InitialCapital)
	cfg.Run.FeeRate = getEnvFloat("BACKTEST_FEE_RATE", cfg.Run.FeeRate)
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	switch {
	case c.Run.InitialCapital <= 0:
		return fmt.Errorf("%w: run.initial_capital must be positive", ErrInvalidConfig)
	case c.Run.FeeRate < 0 || c.Run.FeeRate >= 1:
		return fmt.Errorf("%w: run.fee_rate must be in [0,1)", ErrInvalidConfig)
	case c.Risk.MaxPositionSize <= 0:
		return fmt.Errorf("%w: risk.max_position_size must be positive", ErrInvalidConfig)
	case c.Risk.MaxPositions <= 0:
		return fmt.Errorf("%w: risk.max_positions must be positive", ErrInvalidConfig)
	}
	ratios := []struct {
		name  string
		value float64
	}{
		{"max_single_market_exposure", c.Risk.MaxSingleMarketExposure},
		{"daily_loss_limit", c.Risk.DailyLossLimit},
		{"max_drawdown", c.Risk.MaxDrawdown},
	}
	for _, r := range ratios {
		if r.value <= 0 || r.value > 1 {
			return fmt.Errorf("%w: risk.%s must be in (0,1], got %v", ErrInvalidConfig, r.name, r.value)
		}
	}

	if len(c.Strategies) == 0 {
		return fmt.Errorf("%w: at least one strategy is required", ErrInvalidConfig)
	}
	if _, err := strategy.BuildAll(c.Strategies); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	switch c.Feed.Source {
	case "synthetic":
		s := c.Feed.Synthetic
		if s.Days < 0 || s.MarketsPerDay < 0 || s.LMSRB <= 0 || s.FlowStd < 0 || s.MispricingStd < 0 || s.Bias < 0 || s.Bias > 1 {
			return fmt.Errorf("%w: feed.synthetic has out-of-range parameters", ErrInvalidConfig)
		}
	case "postgres":
		if c.Feed.PostgresURL == "" {
			return fmt.Errorf("%w: feed.postgres_url (or DATABASE_URL) is required for the postgres source", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown feed.source %q", ErrInvalidConfig, c.Feed.Source)
	}
	return nil
}

// Limits converts the risk section.
func (c *Config) Limits() risk.Limits {
	return risk.Limits{
		MaxPositionSize:         decimal.NewFromFloat(c.Risk.MaxPositionSize),
		MaxPositions:            c.Risk.MaxPositions,
		MaxSingleMarketExposure: decimal.NewFromFloat(c.Risk.MaxSingleMarketExposure),
		DailyLossLimit:          decimal.NewFromFloat(c.Risk.DailyLossLimit),
		MaxDrawdown:             decimal.NewFromFloat(c.Risk.MaxDrawdown),
	}
}

// InitialCapital returns run.initial_capital as a decimal.
func (c *Config) InitialCapital() decimal.Decimal {
	return decimal.NewFromFloat(c.Run.InitialCapital)
}

// FeeRate returns run.fee_rate as a decimal.
func (c *Config) FeeRate() decimal.Decimal {
	return decimal.NewFromFloat(c.Run.FeeRate)
}

// Clone returns a deep copy, so per-request overrides never touch the
// server's base configuration.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Strategies = make([]strategy.Spec, len(c.Strategies))
	for i, s := range c.Strategies {
		cp.Strategies[i] = strategy.Spec{Kind: s.Kind}
		if s.Params != nil {
			cp.Strategies[i].Params = make(map[string]float64, len(s.Params))
			for k, v := range s.Params {
				cp.Strategies[i].Params[k] = v
			}
		}
	}
	return &cp
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}
