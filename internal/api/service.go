package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/atmx/backtest-engine/internal/config"
	"github.com/atmx/backtest-engine/internal/engine"
	"github.com/atmx/backtest-engine/internal/feed"
	"github.com/atmx/backtest-engine/internal/performance"
	"github.com/atmx/backtest-engine/internal/store"
	"github.com/atmx/backtest-engine/internal/strategy"
)

// Service handles the run endpoints.
type Service struct {
	runner *Runner
	store  store.Store
	base   *config.Config
	log    zerolog.Logger
}

// NewService creates a service. base is cloned for every request and never
// modified.
func NewService(runner *Runner, st store.Store, base *config.Config, log zerolog.Logger) *Service {
	return &Service{runner: runner, store: st, base: base, log: log}
}

// Routes mounts the endpoints on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/config", s.GetConfig)
	r.Post("/runs", s.CreateRun)
	r.Get("/runs", s.ListRuns)
	r.Get("/runs/{runID}", s.GetRun)
	r.Get("/runs/{runID}/trades", s.GetTrades)
	r.Get("/runs/{runID}/equity", s.GetEquity)
}

// --- Request/Response types ---

// RunRequest is the JSON body for POST /runs. Every field is optional and
// overrides the server configuration for this run only.
type RunRequest struct {
	InitialCapital *float64            `json:"initial_capital,omitempty"`
	FeeRate        *float64            `json:"fee_rate,omitempty"`
	Risk           *RiskOverrides      `json:"risk,omitempty"`
	Strategies     []strategy.Spec     `json:"strategies,omitempty"`
	Source         *string             `json:"source,omitempty"`
	Synthetic      *SyntheticOverrides `json:"synthetic,omitempty"`
}

// RiskOverrides adjusts individual risk limits; omitted fields keep the
// server's values.
type RiskOverrides struct {
	MaxPositionSize         *float64 `json:"max_position_size,omitempty"`
	MaxPositions            *int     `json:"max_positions,omitempty"`
	MaxSingleMarketExposure *float64 `json:"max_single_market_exposure,omitempty"`
	DailyLossLimit          *float64 `json:"daily_loss_limit,omitempty"`
	MaxDrawdown             *float64 `json:"max_drawdown,omitempty"`
}

// SyntheticOverrides adjusts the generated feed.
type SyntheticOverrides struct {
	Seed          *int64   `json:"seed,omitempty"`
	Days          *int     `json:"days,omitempty"`
	MarketsPerDay *int     `json:"markets_per_day,omitempty"`
	MispricingStd *float64 `json:"mispricing_std,omitempty"`
	Bias          *float64 `json:"bias,omitempty"`
}

// Apply returns a copy of base with the request's overrides.
func (req RunRequest) Apply(base *config.Config) *config.Config {
	cfg := base.Clone()
	if req.InitialCapital != nil {
		cfg.Run.InitialCapital = *req.InitialCapital
	}
	if req.FeeRate != nil {
		cfg.Run.FeeRate = *req.FeeRate
	}
	if o := req.Risk; o != nil {
		risk := &cfg.Risk
		if o.MaxPositionSize != nil {
			risk.MaxPositionSize = *o.MaxPositionSize
		}
		if o.MaxPositions != nil {
			risk.MaxPositions = *o.MaxPositions
		}
		if o.MaxSingleMarketExposure != nil {
			risk.MaxSingleMarketExposure = *o.MaxSingleMarketExposure
		}
		if o.DailyLossLimit != nil {
			risk.DailyLossLimit = *o.DailyLossLimit
		}
		if o.MaxDrawdown != nil {
			risk.MaxDrawdown = *o.MaxDrawdown
		}
	}
	if len(req.Strategies) > 0 {
		cfg.Strategies = req.Strategies
	}
	if req.Source != nil {
		cfg.Feed.Source = *req.Source
	}
	if o := req.Synthetic; o != nil {
		syn := &cfg.Feed.Synthetic
		if o.Seed != nil {
			syn.Seed = *o.Seed
		}
		if o.Days != nil {
			syn.Days = *o.Days
		}
		if o.MarketsPerDay != nil {
			syn.MarketsPerDay = *o.MarketsPerDay
		}
		if o.MispricingStd != nil {
			syn.MispricingStd = *o.MispricingStd
		}
		if o.Bias != nil {
			syn.Bias = *o.Bias
		}
	}
	return cfg
}

// RunResponse is the detail view of a run, without the trade ledger and
// equity curve which have their own endpoints.
type RunResponse struct {
	store.Info
	Summary    performance.Summary `json:"summary"`
	Rejections map[string]int      `json:"rejections"`
	FinalCash  string              `json:"final_cash"`
	PeakEquity string              `json:"peak_equity"`
	FeesPaid   string              `json:"fees_paid"`
	Config     *config.Config      `json:"config"`
}

// NewRunResponse builds the detail view of run.
func NewRunResponse(run *store.Run) RunResponse {
	res := run.Result
	return RunResponse{
		Info:       run.Info(),
		Summary:    res.Summary,
		Rejections: res.Rejections,
		FinalCash:  res.FinalCash.String(),
		PeakEquity: res.PeakEquity.String(),
		FeesPaid:   res.FeesPaid.String(),
		Config:     run.Config,
	}
}

// --- HTTP Handlers ---

// GetConfig handles GET /api/v1/config
func (s *Service) GetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.base)
}

// CreateRun handles POST /api/v1/runs
func (s *Service) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	run, err := s.runner.Run(r.Context(), req.Apply(s.base))
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.log.Error().Err(err).Msg("backtest run failed")
			writeError(w, "backtest run failed", status)
			return
		}
		writeError(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusCreated, NewRunResponse(run))
}

// ListRuns handles GET /api/v1/runs
func (s *Service) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		writeError(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	infos := make([]store.Info, 0, len(runs))
	for _, run := range runs {
		infos = append(infos, run.Info())
	}
	writeJSON(w, http.StatusOK, infos)
}

// GetRun handles GET /api/v1/runs/{runID}
func (s *Service) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, NewRunResponse(run))
}

// GetTrades handles GET /api/v1/runs/{runID}/trades
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run.Result.Trades)
}

// GetEquity handles GET /api/v1/runs/{runID}/equity
func (s *Service) GetEquity(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run.Result.EquityCurve)
}

func (s *Service) lookup(w http.ResponseWriter, r *http.Request) (*store.Run, bool) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "run not found", http.StatusNotFound)
		} else {
			writeError(w, "failed to get run", http.StatusInternalServerError)
		}
		return nil, false
	}
	return run, true
}

// statusFor maps run errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, engine.ErrInvalidConfig),
		errors.Is(err, strategy.ErrUnknownKind),
		errors.Is(err, strategy.ErrInvalidParam),
		errors.Is(err, feed.ErrUnknownSource),
		errors.Is(err, feed.ErrNotConnected):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrMalformedFeed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
