package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/api"
	"github.com/atmx/backtest-engine/internal/config"
	"github.com/atmx/backtest-engine/internal/feed"
	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/store"
	"github.com/atmx/backtest-engine/internal/strategy"
)

type staticFeed []model.MarketEvent

func (f staticFeed) Events(context.Context) ([]model.MarketEvent, error) { return f, nil }

func TestRouter_WebSocketThroughMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	yes := model.OutcomeYes
	script := staticFeed{
		{InstrumentID: "PM-CRYPTO-0001", YesPrice: decimal.NewFromFloat(0.45), NoPrice: decimal.NewFromFloat(0.50), Timestamp: t0},
		{InstrumentID: "PM-CRYPTO-0001", YesPrice: decimal.NewFromInt(1), NoPrice: decimal.Zero, Timestamp: t0.Add(time.Hour), Resolution: &yes},
	}

	cfg := config.Default()
	cfg.Strategies = []strategy.Spec{{Kind: strategy.KindArbitrage}}
	runs := store.NewMemoryStore(0)
	hub := api.NewWSHub(zerolog.Nop())
	go hub.Run(ctx)
	runner := api.NewRunner(func(config.FeedConfig) (feed.Feed, error) { return script, nil }, runs, hub, zerolog.Nop())
	svc := api.NewService(runner, runs, cfg, zerolog.Nop())

	srv := httptest.NewServer(newRouter(svc, hub))
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/ws", nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial through router: %v (status %d)", err, status)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	post, err := http.Post(srv.URL+"/api/v1/runs", "application/json", bytes.NewBufferString("{}"))
	if err != nil {
		t.Fatalf("post run: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", post.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var types []string
	for {
		var msg api.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v (got %v so far)", err, types)
		}
		types = append(types, msg.Type)
		if msg.Type == api.MessageRunCompleted {
			break
		}
	}
	if got := strings.Join(types, ","); got != "trade,trade,run_completed" {
		t.Errorf("unexpected message sequence %s", got)
	}
}

func TestRouter_Health(t *testing.T) {
	runs := store.NewMemoryStore(0)
	runner := api.NewRunner(nil, runs, nil, zerolog.Nop())
	svc := api.NewService(runner, runs, config.Default(), zerolog.Nop())
	r := newRouter(svc, api.NewWSHub(zerolog.Nop()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected health response %d %s", w.Code, w.Body.String())
	}
}
