// Command backtest runs a single backtest from a config file and prints a
// JSON report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/atmx/backtest-engine/internal/api"
	"github.com/atmx/backtest-engine/internal/config"
	"github.com/atmx/backtest-engine/internal/feed"
	"github.com/atmx/backtest-engine/internal/store"
)

// report is the CLI output. Trades and the equity curve are included only
// with -full.
type report struct {
	api.RunResponse
	TradeLog    any `json:"trade_log,omitempty"`
	EquityCurve any `json:"equity_curve,omitempty"`
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG"), "path to YAML config file")
	seedDB := flag.Bool("seed-db", false, "write the synthetic stream to PostgreSQL and exit")
	full := flag.Bool("full", false, "include trades and the equity curve in the report")
	out := flag.String("out", "", "write the report to this file instead of stdout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	// Logs go to stderr so the report can be piped.
	logger := cfg.Logging.Logger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sources, err := feed.Connect(ctx, cfg.Feed, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect feed sources")
	}
	defer sources.Close()

	if *seedDB {
		if err := seed(ctx, cfg, sources); err != nil {
			logger.Fatal().Err(err).Msg("seed failed")
		}
		logger.Info().Msg("synthetic stream saved")
		return
	}

	runner := api.NewRunner(sources.Feed, store.NewMemoryStore(1), nil, logger)
	start := time.Now()
	run, err := runner.Run(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("backtest failed")
	}
	logger.Info().
		Str("run_id", run.ID).
		Dur("elapsed", time.Since(start)).
		Str("status", string(run.Result.Status)).
		Msg("backtest complete")
	for _, name := range run.Result.Summary.StrategyNames() {
		st := run.Result.Summary.ByStrategy[name]
		logger.Info().
			Str("strategy", name).
			Int("opened", st.Opened).
			Int("closed", st.Closed).
			Float64("win_rate", st.WinRate).
			Str("total_pnl", st.TotalPnL.StringFixed(2)).
			Msg("strategy stats")
	}

	rep := report{RunResponse: api.NewRunResponse(run)}
	if *full {
		rep.TradeLog = run.Result.Trades
		rep.EquityCurve = run.Result.EquityCurve
	}

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create report file")
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		logger.Fatal().Err(err).Msg("failed to write report")
	}
}

// seed generates the configured synthetic stream and stores it for replay
// with the postgres source.
func seed(ctx context.Context, cfg *config.Config, sources *feed.Sources) error {
	pg := sources.Postgres(cfg.Feed)
	if pg == nil {
		return feed.ErrNotConnected
	}
	gen, err := feed.NewSynthetic(feed.SyntheticFromConfig(cfg.Feed.Synthetic))
	if err != nil {
		return err
	}
	events, err := gen.Events(ctx)
	if err != nil {
		return err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := pg.Save(ctx, events); err != nil {
		return err
	}

	// Drop any cached replay of the range so the next postgres run sees
	// the new rows.
	replay := cfg.Feed
	replay.Source = feed.SourcePostgres
	f, err := sources.Feed(replay)
	if err != nil {
		return err
	}
	if cached, ok := f.(*feed.Cached); ok {
		return cached.Invalidate(ctx)
	}
	return nil
}
