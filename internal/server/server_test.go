package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cexdex-arb/internal/engine"
	"cexdex-arb/internal/market"
	"cexdex-arb/internal/optimizer"
	"cexdex-arb/internal/storage"
)

type fakeEngine struct {
	ready bool
	opps  []market.Opportunity
}

func (f *fakeEngine) Status() engine.Status {
	return engine.Status{Ready: f.ready, Events: 3, Candidates: len(f.opps)}
}

func (f *fakeEngine) Chart(tf string) ([]market.ChartPoint, error) {
	if _, err := optimizer.ParseTimeframe(tf); err != nil {
		return nil, err
	}
	return []market.ChartPoint{{Timestamp: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), OnchainPrice: 3000, OffchainPrice: 3030, SpreadPct: 1}}, nil
}

func (f *fakeEngine) Opportunities(minProfit float64) []market.Opportunity {
	return optimizer.Filter(f.opps, minProfit)
}

func (f *fakeEngine) Summary(minProfit float64) market.Summary {
	return market.Summarize(f.Opportunities(minProfit))
}

type fakeRuns struct {
	runs []storage.Run
	err  error
}

func (f *fakeRuns) ListRecentRuns(context.Context, int) ([]storage.Run, error) {
	return f.runs, f.err
}

func (f *fakeRuns) ListOpportunities(_ context.Context, id uuid.UUID, _ int) ([]storage.OpportunityRecord, error) {
	return []storage.OpportunityRecord{{RunID: id, Rank: 1, BlockNumber: 100, NetProfit: decimal.NewFromFloat(12.345)}}, f.err
}

func newTestServer(runs RunLister, hub *Hub) (*Server, *fakeEngine) {
	eng := &fakeEngine{
		ready: true,
		opps: []market.Opportunity{
			{BlockNumber: 100, Direction: market.BuyOnchainSellOffchain, NetProfit: 50, ROIPct: 1},
			{BlockNumber: 101, Direction: market.BuyOffchainSellOnchain, NetProfit: 5, ROIPct: 0.5},
		},
	}
	return New(Config{DefaultMinProfit: 10, CORSOrigins: []string{"*"}}, eng, runs, hub, zerolog.Nop()), eng
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestOpportunitiesEndpoint(t *testing.T) {
	srv, _ := newTestServer(nil, nil)
	h := srv.Handler()

	rec := get(t, h, "/api/opportunities")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var opps []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &opps); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(opps) != 1 || opps[0]["block_number"].(float64) != 100 {
		t.Fatalf("default min_profit 10 should keep one opportunity: %v", opps)
	}
	if _, ok := opps[0]["net_profit_usd"]; !ok {
		t.Fatalf("missing net_profit_usd field: %v", opps[0])
	}

	rec = get(t, h, "/api/opportunities?min_profit=1")
	if err := json.Unmarshal(rec.Body.Bytes(), &opps); err != nil || len(opps) != 2 {
		t.Fatalf("min_profit=1 should keep both: %v %v", err, opps)
	}

	rec = get(t, h, "/api/opportunities?min_profit=1000")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("empty result should be [], got %q", rec.Body.String())
	}

	if rec := get(t, h, "/api/opportunities?min_profit=abc"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad min_profit should be 400, got %d", rec.Code)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	srv, _ := newTestServer(nil, nil)
	rec := get(t, srv.Handler(), "/api/summary?min_profit=1")
	var sum market.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if sum.Count != 2 || sum.TotalProfit != 55 || sum.MaxProfit != 50 || sum.MeanROI != 0.75 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if !strings.Contains(rec.Body.String(), "total_opportunities") {
		t.Fatalf("summary should use wire names: %s", rec.Body.String())
	}
}

func TestChartEndpoint(t *testing.T) {
	srv, _ := newTestServer(nil, nil)
	h := srv.Handler()
	rec := get(t, h, "/api/chart?timeframe=15T")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "3030") {
		t.Fatalf("unexpected chart response %d %s", rec.Code, rec.Body.String())
	}
	if rec := get(t, h, "/api/chart"); rec.Code != http.StatusOK {
		t.Fatalf("default timeframe should work, got %d", rec.Code)
	}
	if rec := get(t, h, "/api/chart?timeframe=nope"); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid timeframe should be 400, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, eng := newTestServer(nil, nil)
	eng.ready = false
	rec := get(t, srv.Handler(), "/api/health")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"loading"`) {
		t.Fatalf("unexpected health %d %s", rec.Code, rec.Body.String())
	}
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(nil, nil)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/summary", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight should be 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("missing allow origin header: %v", rec.Header())
	}

	if originAllowed([]string{"https://a.example"}, "https://b.example") {
		t.Fatal("unlisted origin should be rejected")
	}
}

func TestRunsEndpoints(t *testing.T) {
	id := uuid.New()
	runs := &fakeRuns{runs: []storage.Run{{ID: id, TotalProfit: decimal.NewFromInt(55), MaxProfit: decimal.NewFromInt(50), MinProfit: decimal.NewFromInt(10), Opportunities: 2}}}
	srv, _ := newTestServer(runs, nil)
	h := srv.Handler()

	rec := get(t, h, "/api/runs")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), id.String()) || !strings.Contains(rec.Body.String(), `"55.00"`) {
		t.Fatalf("unexpected runs response %d %s", rec.Code, rec.Body.String())
	}

	rec = get(t, h, "/api/runs/"+id.String()+"/opportunities")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"12.35"`) {
		t.Fatalf("unexpected run opportunities %d %s", rec.Code, rec.Body.String())
	}

	if rec := get(t, h, "/api/runs/not-a-uuid/opportunities"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad run id should be 400, got %d", rec.Code)
	}

	runs.err = errors.New("db down")
	if rec := get(t, h, "/api/runs"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("repository failure should be 500, got %d", rec.Code)
	}
}

func TestRunsEndpointAbsentWithoutStore(t *testing.T) {
	srv, _ := newTestServer(nil, nil)
	if rec := get(t, srv.Handler(), "/api/runs"); rec.Code != http.StatusNotFound {
		t.Fatalf("runs route should not exist without storage, got %d", rec.Code)
	}
}

func TestWebsocketPushesSummary(t *testing.T) {
	var srv *Server
	hub := NewHub(func() Envelope { return srv.SummaryEnvelope() }, zerolog.Nop())
	srv, _ = newTestServer(nil, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first Envelope
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Type != "summary" {
		t.Fatalf("first frame should be the summary snapshot, got %q", first.Type)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish(Envelope{Type: "refresh", Payload: map[string]int{"events": 3}})

	var next Envelope
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read push: %v", err)
	}
	if next.Type != "refresh" {
		t.Fatalf("expected refresh push, got %q", next.Type)
	}
}
