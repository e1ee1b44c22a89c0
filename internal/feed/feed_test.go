package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/config"
	"github.com/atmx/backtest-engine/internal/engine"
	"github.com/atmx/backtest-engine/internal/instrument"
)

func smallConfig(seed int64) SyntheticConfig {
	cfg := DefaultSyntheticConfig()
	cfg.Seed = seed
	cfg.Days = 3
	cfg.MarketsPerDay = 2
	return cfg
}

func generate(t *testing.T, cfg SyntheticConfig) *Synthetic {
	t.Helper()
	s, err := NewSynthetic(cfg)
	if err != nil {
		t.Fatalf("new synthetic: %v", err)
	}
	return s
}

func TestSynthetic_DeterministicPerSeed(t *testing.T) {
	a, err := generate(t, smallConfig(7)).Events(context.Background())
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	b, _ := generate(t, smallConfig(7)).Events(context.Background())
	c, _ := generate(t, smallConfig(8)).Events(context.Background())

	if len(a) != len(b) {
		t.Fatalf("same seed gave %d and %d events", len(a), len(b))
	}
	for i := range a {
		if a[i].InstrumentID != b[i].InstrumentID || !a[i].YesPrice.Equal(b[i].YesPrice) || !a[i].Timestamp.Equal(b[i].Timestamp) {
			t.Fatalf("event %d differs between identical seeds", i)
		}
	}

	same := len(a) == len(c)
	for i := 0; same && i < len(a); i++ {
		same = a[i].YesPrice.Equal(c[i].YesPrice)
	}
	if same {
		t.Error("different seeds should give different streams")
	}
}

func TestSynthetic_StreamIsValid(t *testing.T) {
	events, err := generate(t, smallConfig(1)).Events(context.Background())
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if err := engine.ValidateFeed(events); err != nil {
		t.Fatalf("generated feed should validate: %v", err)
	}

	perMarket := make(map[string]int)
	resolved := make(map[string]bool)
	for _, ev := range events {
		perMarket[ev.InstrumentID]++
		if ev.Resolved() {
			resolved[ev.InstrumentID] = true
			continue
		}
		if ev.YesPrice.LessThan(decimal.NewFromFloat(0.01)) || ev.YesPrice.GreaterThan(decimal.NewFromFloat(0.99)) {
			t.Errorf("%s: yes price %s outside [0.01,0.99]", ev.InstrumentID, ev.YesPrice)
		}
		if ev.YesPrice.Add(ev.NoPrice).GreaterThan(decimal.NewFromInt(1)) {
			t.Errorf("%s: yes+no above 1", ev.InstrumentID)
		}
		if _, err := instrument.Parse(ev.InstrumentID); err != nil {
			t.Errorf("bad id: %v", err)
		}
	}

	if len(perMarket) != 6 {
		t.Errorf("expected 6 markets, got %d", len(perMarket))
	}
	for id, n := range perMarket {
		if n < minLifecycleHours || n >= maxLifecycleHours {
			t.Errorf("%s: lifecycle of %d events out of range", id, n)
		}
		if !resolved[id] {
			t.Errorf("%s never resolved", id)
		}
	}
}

func TestSynthetic_ExactComplementWithoutMispricing(t *testing.T) {
	cfg := smallConfig(3)
	cfg.MispricingStd = 0
	events, _ := generate(t, cfg).Events(context.Background())
	one := decimal.NewFromInt(1)
	for _, ev := range events {
		if !ev.YesPrice.Add(ev.NoPrice).Equal(one) {
			t.Fatalf("%s: yes %s + no %s != 1", ev.InstrumentID, ev.YesPrice, ev.NoPrice)
		}
	}
}

func TestSynthetic_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := generate(t, smallConfig(1)).Events(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSyntheticConfig_Validate(t *testing.T) {
	tests := []func(*SyntheticConfig){
		func(c *SyntheticConfig) { c.Days = -1 },
		func(c *SyntheticConfig) { c.LMSRB = 0 },
		func(c *SyntheticConfig) { c.FlowStd = -1 },
		func(c *SyntheticConfig) { c.Bias = 1.1 },
	}
	for i, mutate := range tests {
		cfg := DefaultSyntheticConfig()
		mutate(&cfg)
		if _, err := NewSynthetic(cfg); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestSources_Feed(t *testing.T) {
	s, err := Connect(context.Background(), config.FeedConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("connect without urls: %v", err)
	}
	defer s.Close()

	base := config.Default().Feed
	f, err := s.Feed(base)
	if err != nil {
		t.Fatalf("synthetic feed: %v", err)
	}
	if _, ok := f.(*Synthetic); !ok {
		t.Errorf("expected *Synthetic, got %T", f)
	}

	base.Source = SourcePostgres
	if _, err := s.Feed(base); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}

	base.Source = "kafka"
	if _, err := s.Feed(base); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("expected ErrUnknownSource, got %v", err)
	}
}

func TestSyntheticFromConfig(t *testing.T) {
	c := config.Default().Feed.Synthetic
	got := SyntheticFromConfig(c)
	if got.Seed != c.Seed || got.LMSRB != c.LMSRB || got.MarketsPerDay != c.MarketsPerDay || !got.Start.Equal(c.Start) {
		t.Errorf("conversion lost fields: %+v", got)
	}
}

func TestCacheKeys(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := PostgresKey(from, time.Time{}); got != "postgres:2026-01-01T00:00:00Z:open" {
		t.Errorf("unexpected key %s", got)
	}
	if got := eventsKey("x"); got != "events:x" {
		t.Errorf("unexpected key %s", got)
	}
}

func TestParseDecimals(t *testing.T) {
	var a, b decimal.Decimal
	if err := parseDecimals(decimalField{"a", "0.125", &a}, decimalField{"b", "42", &b}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Equal(decimal.NewFromFloat(0.125)) || !b.Equal(decimal.NewFromInt(42)) {
		t.Errorf("unexpected values %s %s", a, b)
	}
	if err := parseDecimals(decimalField{"a", "abc", &a}); err == nil {
		t.Error("expected parse error")
	}
}
