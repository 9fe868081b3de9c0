// Package engine owns the aligned dataset and answers chart, opportunity and
// summary queries over it.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cexdex-arb/internal/cache"
	"cexdex-arb/internal/market"
	"cexdex-arb/internal/optimizer"
)

// Status describes the loaded dataset.
type Status struct {
	Ready       bool      `json:"ready"`
	Events      int       `json:"events"`
	Candidates  int       `json:"candidates"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	FromCache   bool      `json:"from_cache"`
	LoadedAt    time.Time `json:"loaded_at"`
}

// RefreshFunc observes a dataset swap.
type RefreshFunc func(ctx context.Context, e *Engine)

type dataset struct {
	events      []market.AlignedEvent
	candidates  []market.Opportunity
	fingerprint string
	fromCache   bool
	loadedAt    time.Time
}

// Engine is safe for concurrent queries; refreshes swap the dataset
// atomically.
type Engine struct {
	pipeline  *Pipeline
	optimizer *optimizer.Optimizer
	gate      *cache.Gate
	params    cache.Params
	logger    zerolog.Logger

	buildMu sync.Mutex
	mu      sync.RWMutex
	ds      *dataset
	hooks   []RefreshFunc
}

// New wires an engine. gate may be nil to disable the artifact cache.
func New(pipeline *Pipeline, opt *optimizer.Optimizer, gate *cache.Gate, params cache.Params, logger zerolog.Logger) *Engine {
	return &Engine{
		pipeline:  pipeline,
		optimizer: opt,
		gate:      gate,
		params:    params,
		logger:    logger.With().Str("component", "engine").Logger(),
	}
}

// OnRefresh registers a hook invoked after every dataset swap.
func (e *Engine) OnRefresh(fn RefreshFunc) {
	e.mu.Lock()
	e.hooks = append(e.hooks, fn)
	e.mu.Unlock()
}

// Initialize loads the dataset, from cache when the fingerprint matches.
func (e *Engine) Initialize(ctx context.Context) error {
	_, err := e.load(ctx, true)
	return err
}

// Refresh reloads only when the input fingerprint changed. It reports
// whether a new dataset was installed.
func (e *Engine) Refresh(ctx context.Context) (bool, error) {
	return e.load(ctx, false)
}

func (e *Engine) load(ctx context.Context, force bool) (bool, error) {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	fp, newest, err := cache.Fingerprint(e.pipeline.Inputs.Paths(), e.params)
	if err != nil {
		return false, fmt.Errorf("fingerprint inputs: %w", err)
	}
	if !force {
		e.mu.RLock()
		same := e.ds != nil && e.ds.fingerprint == fp
		e.mu.RUnlock()
		if same {
			e.logger.Debug().Str("fingerprint", fp).Msg("inputs unchanged")
			return false, nil
		}
	}

	build := func(ctx context.Context) ([]market.AlignedEvent, error) {
		events, _, err := e.pipeline.Run(ctx)
		return events, err
	}

	var (
		events    []market.AlignedEvent
		fromCache bool
	)
	if e.gate != nil {
		res, err := e.gate.Resolve(ctx, fp, newest, build)
		if err != nil {
			return false, err
		}
		events, fromCache = res.Events, res.Hit
	} else {
		if events, err = build(ctx); err != nil {
			return false, err
		}
	}

	candidates, err := e.optimizer.Candidates(ctx, events)
	if err != nil {
		return false, fmt.Errorf("evaluate events: %w", err)
	}

	ds := &dataset{
		events:      events,
		candidates:  candidates,
		fingerprint: fp,
		fromCache:   fromCache,
		loadedAt:    time.Now().UTC(),
	}
	e.mu.Lock()
	e.ds = ds
	hooks := append([]RefreshFunc(nil), e.hooks...)
	e.mu.Unlock()

	e.logger.Info().
		Int("events", len(events)).
		Int("candidates", len(candidates)).
		Bool("from_cache", fromCache).
		Msg("数据加载完毕")

	for _, h := range hooks {
		h(ctx, e)
	}
	return true, nil
}

func (e *Engine) snapshot() *dataset {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ds
}

// Status reports what is loaded.
func (e *Engine) Status() Status {
	ds := e.snapshot()
	if ds == nil {
		return Status{}
	}
	return Status{
		Ready:       true,
		Events:      len(ds.events),
		Candidates:  len(ds.candidates),
		Fingerprint: ds.fingerprint,
		FromCache:   ds.fromCache,
		LoadedAt:    ds.loadedAt,
	}
}

// Events returns the aligned events. The slice must not be modified.
func (e *Engine) Events() []market.AlignedEvent {
	ds := e.snapshot()
	if ds == nil {
		return []market.AlignedEvent{}
	}
	return ds.events
}

// Chart resamples the dataset by a timeframe such as "1h" or "15T".
func (e *Engine) Chart(timeframe string) ([]market.ChartPoint, error) {
	d, err := optimizer.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	ds := e.snapshot()
	if ds == nil {
		return []market.ChartPoint{}, nil
	}
	return optimizer.Chart(ds.events, d), nil
}

// Opportunities returns ranked opportunities above minProfit. An unloaded
// engine yields an empty list.
func (e *Engine) Opportunities(minProfit float64) []market.Opportunity {
	ds := e.snapshot()
	if ds == nil {
		return []market.Opportunity{}
	}
	return optimizer.Filter(ds.candidates, minProfit)
}

// Summary aggregates Opportunities(minProfit).
func (e *Engine) Summary(minProfit float64) market.Summary {
	return market.Summarize(e.Opportunities(minProfit))
}
