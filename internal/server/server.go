// Package server exposes the engine's chart, opportunity and summary queries
// over HTTP, plus a websocket that pushes the summary after each refresh.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cexdex-arb/internal/engine"
	"cexdex-arb/internal/market"
	"cexdex-arb/internal/storage"
)

// Queryer is the read surface of the engine.
type Queryer interface {
	Status() engine.Status
	Chart(timeframe string) ([]market.ChartPoint, error)
	Opportunities(minProfit float64) []market.Opportunity
	Summary(minProfit float64) market.Summary
}

// RunLister exposes persisted detection runs.
type RunLister interface {
	ListRecentRuns(ctx context.Context, limit int) ([]storage.Run, error)
	ListOpportunities(ctx context.Context, runID uuid.UUID, limit int) ([]storage.OpportunityRecord, error)
}

// Config holds the HTTP server configuration.
type Config struct {
	Addr             string
	CORSOrigins      []string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	DefaultMinProfit float64
	DefaultTimeframe string
}

// Server is the HTTP + websocket query API.
type Server struct {
	cfg    Config
	query  Queryer
	runs   RunLister
	hub    *Hub
	logger zerolog.Logger
}

// New wires the server. runs and hub may be nil.
func New(cfg Config, query Queryer, runs RunLister, hub *Hub, logger zerolog.Logger) *Server {
	if cfg.DefaultTimeframe == "" {
		cfg.DefaultTimeframe = "1H"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	return &Server{
		cfg:    cfg,
		query:  query,
		runs:   runs,
		hub:    hub,
		logger: logger.With().Str("component", "http").Logger(),
	}
}

// Handler builds the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/chart", s.handleChart)
	mux.HandleFunc("GET /api/opportunities", s.handleOpportunities)
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	if s.runs != nil {
		mux.HandleFunc("GET /api/runs", s.handleRuns)
		mux.HandleFunc("GET /api/runs/{id}/opportunities", s.handleRunOpportunities)
	}
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.HandleWS)
	}

	var h http.Handler = mux
	h = requestLogger(s.logger)(h)
	h = cors(s.cfg.CORSOrigins)(h)
	return h
}

// SummaryEnvelope is the websocket frame describing the current dataset.
func (s *Server) SummaryEnvelope() Envelope {
	return Envelope{
		Type: "summary",
		Payload: map[string]any{
			"status":     s.query.Status(),
			"min_profit": s.cfg.DefaultMinProfit,
			"summary":    s.query.Summary(s.cfg.DefaultMinProfit),
		},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  2 * s.cfg.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", srv.Addr).Msg("HTTP 服务启动")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info().Msg("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
