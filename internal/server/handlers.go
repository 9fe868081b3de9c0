package server

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sugawarayuuta/sonnet"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonnet.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// minProfitParam reads min_profit, falling back to def when absent.
func minProfitParam(r *http.Request, def float64) (float64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("min_profit"))
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func limitParam(r *http.Request, def, max int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

// GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.query.Status()
	status := "ok"
	if !st.Ready {
		status = "loading"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"dataset":   st,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GET /api/chart?timeframe=1H
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	tf := r.URL.Query().Get("timeframe")
	if tf == "" {
		tf = s.cfg.DefaultTimeframe
	}
	points, err := s.query.Chart(tf)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// GET /api/opportunities?min_profit=10
func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	minProfit, ok := minProfitParam(r, s.cfg.DefaultMinProfit)
	if !ok {
		writeError(w, http.StatusBadRequest, "min_profit must be a number")
		return
	}
	writeJSON(w, http.StatusOK, s.query.Opportunities(minProfit))
}

// GET /api/summary?min_profit=10
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	minProfit, ok := minProfitParam(r, s.cfg.DefaultMinProfit)
	if !ok {
		writeError(w, http.StatusBadRequest, "min_profit must be a number")
		return
	}
	writeJSON(w, http.StatusOK, s.query.Summary(minProfit))
}

type runView struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Fingerprint   string    `json:"fingerprint"`
	Events        int       `json:"events"`
	MinProfit     string    `json:"min_profit"`
	Opportunities int       `json:"opportunities"`
	TotalProfit   string    `json:"total_profit"`
	MaxProfit     string    `json:"max_profit"`
	FromCache     bool      `json:"from_cache"`
}

// GET /api/runs?limit=20
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.ListRecentRuns(r.Context(), limitParam(r, 20, 500))
	if err != nil {
		s.logger.Error().Err(err).Msg("list runs")
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]runView, 0, len(runs))
	for _, run := range runs {
		out = append(out, runView{
			ID:            run.ID.String(),
			StartedAt:     run.StartedAt,
			FinishedAt:    run.FinishedAt,
			Fingerprint:   run.Fingerprint,
			Events:        run.Events,
			MinProfit:     run.MinProfit.String(),
			Opportunities: run.Opportunities,
			TotalProfit:   run.TotalProfit.StringFixed(2),
			MaxProfit:     run.MaxProfit.StringFixed(2),
			FromCache:     run.FromCache,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type recordView struct {
	Rank          int       `json:"rank"`
	Timestamp     time.Time `json:"timestamp"`
	BlockNumber   int64     `json:"block_number"`
	Direction     string    `json:"direction"`
	OnchainPrice  string    `json:"price_onchain"`
	OffchainPrice string    `json:"price_offchain"`
	SpreadPct     string    `json:"spread_pct"`
	TradeSize     string    `json:"optimal_trade_size"`
	NetProfit     string    `json:"net_profit_usd"`
	ROIPct        string    `json:"roi_pct"`
}

// GET /api/runs/{id}/opportunities?limit=100
func (s *Server) handleRunOpportunities(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	recs, err := s.runs.ListOpportunities(r.Context(), id, limitParam(r, 100, 5000))
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", id.String()).Msg("list run opportunities")
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	out := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordView{
			Rank:          rec.Rank,
			Timestamp:     rec.Timestamp,
			BlockNumber:   rec.BlockNumber,
			Direction:     rec.Direction,
			OnchainPrice:  rec.OnchainPrice.String(),
			OffchainPrice: rec.OffchainPrice.String(),
			SpreadPct:     rec.SpreadPct.String(),
			TradeSize:     rec.TradeSize.String(),
			NetProfit:     rec.NetProfit.StringFixed(2),
			ROIPct:        rec.ROIPct.String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
