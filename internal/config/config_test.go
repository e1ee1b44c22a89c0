package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/strategy"
)

var envKeys = []string{
	"PORT", "DATABASE_URL", "REDIS_URL", "FEED_SOURCE", "LOG_LEVEL", "LOG_FORMAT",
	"BACKTEST_INITIAL_CAPITAL", "BACKTEST_FEE_RATE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backtest.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Run.InitialCapital != 10000 || cfg.Run.FeeRate != 0.01 {
		t.Errorf("unexpected run defaults %+v", cfg.Run)
	}
	if cfg.Risk.MaxPositions != 10 || cfg.Risk.MaxDrawdown != 0.20 {
		t.Errorf("unexpected risk defaults %+v", cfg.Risk)
	}
	if len(cfg.Strategies) != 6 {
		t.Errorf("expected six default strategies, got %d", len(cfg.Strategies))
	}
	if cfg.Server.Port != "8080" || cfg.Feed.Source != "synthetic" {
		t.Errorf("unexpected server/feed defaults port=%s source=%s", cfg.Server.Port, cfg.Feed.Source)
	}
}

func TestLoad_ShippedConfigMatchesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join("..", "..", "configs", "backtest.yaml"))
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	def := Default()
	if cfg.Run != def.Run || cfg.Risk != def.Risk || cfg.Server != def.Server || cfg.Logging != def.Logging {
		t.Errorf("shipped config drifted from defaults")
	}
	syn, dsyn := cfg.Feed.Synthetic, def.Feed.Synthetic
	if !syn.Start.Equal(dsyn.Start) {
		t.Errorf("start %v, want %v", syn.Start, dsyn.Start)
	}
	syn.Start = dsyn.Start
	if syn != dsyn || cfg.Feed.CacheTTL != def.Feed.CacheTTL {
		t.Errorf("synthetic section drifted: %+v", syn)
	}
	if len(cfg.Strategies) != len(def.Strategies) {
		t.Fatalf("expected %d strategies, got %d", len(def.Strategies), len(cfg.Strategies))
	}
	for i, s := range cfg.Strategies {
		if s.Kind != def.Strategies[i].Kind {
			t.Errorf("strategy %d: %s, want %s", i, s.Kind, def.Strategies[i].Kind)
		}
	}
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
run:
  initial_capital: 5000
risk:
  max_positions: 3
strategies:
  - kind: arbitrage
    params:
      min_profit_threshold: 0.01
feed:
  source: synthetic
  cache_ttl: 5m
  synthetic:
    seed: 7
    days: 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Run.InitialCapital != 5000 {
		t.Errorf("expected initial capital 5000, got %v", cfg.Run.InitialCapital)
	}
	if cfg.Run.FeeRate != 0.01 {
		t.Errorf("unset fee rate should keep its default, got %v", cfg.Run.FeeRate)
	}
	if cfg.Risk.MaxPositions != 3 || cfg.Risk.MaxPositionSize != 2000 {
		t.Errorf("unexpected risk %+v", cfg.Risk)
	}
	if len(cfg.Strategies) != 1 || cfg.Strategies[0].Kind != strategy.KindArbitrage {
		t.Fatalf("expected the file's strategy list, got %+v", cfg.Strategies)
	}
	if cfg.Strategies[0].Params["min_profit_threshold"] != 0.01 {
		t.Errorf("unexpected params %v", cfg.Strategies[0].Params)
	}
	if cfg.Feed.CacheTTL != 5*time.Minute {
		t.Errorf("expected cache ttl 5m, got %s", cfg.Feed.CacheTTL)
	}
	if cfg.Feed.Synthetic.Seed != 7 || cfg.Feed.Synthetic.Days != 3 || cfg.Feed.Synthetic.MarketsPerDay != 5 {
		t.Errorf("unexpected synthetic section %+v", cfg.Feed.Synthetic)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("BACKTEST_INITIAL_CAPITAL", "2500")
	t.Setenv("BACKTEST_FEE_RATE", "not-a-number")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Run.InitialCapital != 2500 {
		t.Errorf("expected initial capital 2500, got %v", cfg.Run.InitialCapital)
	}
	if cfg.Run.FeeRate != 0.01 {
		t.Errorf("unparseable override should be ignored, got %v", cfg.Run.FeeRate)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeFile(t, "run: [1, 2")); err == nil {
		t.Error("expected error for malformed YAML")
	}
	if _, err := Load(writeFile(t, "run:\n  fee_rate: 1.5\n")); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capital", func(c *Config) { c.Run.InitialCapital = 0 }},
		{"negative fee", func(c *Config) { c.Run.FeeRate = -0.01 }},
		{"zero position size", func(c *Config) { c.Risk.MaxPositionSize = 0 }},
		{"zero positions", func(c *Config) { c.Risk.MaxPositions = 0 }},
		{"exposure above one", func(c *Config) { c.Risk.MaxSingleMarketExposure = 1.5 }},
		{"zero drawdown", func(c *Config) { c.Risk.MaxDrawdown = 0 }},
		{"no strategies", func(c *Config) { c.Strategies = nil }},
		{"unknown strategy", func(c *Config) { c.Strategies = []strategy.Spec{{Kind: "martingale"}} }},
		{"bad bias", func(c *Config) { c.Feed.Synthetic.Bias = 2 }},
		{"postgres without url", func(c *Config) { c.Feed.Source = "postgres" }},
		{"unknown source", func(c *Config) { c.Feed.Source = "kafka" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	l := cfg.Limits()
	if !l.MaxPositionSize.Equal(decimal.NewFromInt(2000)) || l.MaxPositions != 10 {
		t.Errorf("unexpected limits %+v", l)
	}
	if !l.MaxSingleMarketExposure.Equal(decimal.NewFromFloat(0.15)) {
		t.Errorf("unexpected exposure %s", l.MaxSingleMarketExposure)
	}
	if !cfg.InitialCapital().Equal(decimal.NewFromInt(10000)) || !cfg.FeeRate().Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("unexpected run values %s %s", cfg.InitialCapital(), cfg.FeeRate())
	}
}

func TestClone_IsDeep(t *testing.T) {
	base := Default()
	base.Strategies[0].Params = map[string]float64{"spread_target": 0.03}

	cp := base.Clone()
	cp.Run.InitialCapital = 1
	cp.Strategies[0].Params["spread_target"] = 0.5
	cp.Strategies[1].Kind = "changed"

	if base.Run.InitialCapital != 10000 {
		t.Error("clone shares run section")
	}
	if base.Strategies[0].Params["spread_target"] != 0.03 || base.Strategies[1].Kind != strategy.KindArbitrage {
		t.Error("clone shares strategy specs")
	}
}
