package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cexdex-arb/internal/market"
)

// BuildFunc recomputes the aligned events from raw inputs.
type BuildFunc func(ctx context.Context) ([]market.AlignedEvent, error)

// Gate serves the artifact when its fingerprint matches and otherwise
// rebuilds it under the writer lock.
type Gate struct {
	store   Store
	locker  Locker
	lockKey string
	ttl     time.Duration
	poll    time.Duration
	logger  zerolog.Logger
}

// NewGate wires a store and locker. A nil locker means NopLocker.
func NewGate(store Store, locker Locker, lockKey string, ttl time.Duration, logger zerolog.Logger) *Gate {
	if locker == nil {
		locker = NopLocker{}
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if lockKey == "" {
		lockKey = "cexdexarb:aligned"
	}
	return &Gate{
		store:   store,
		locker:  locker,
		lockKey: lockKey,
		ttl:     ttl,
		poll:    250 * time.Millisecond,
		logger:  logger,
	}
}

// Result reports where the events came from.
type Result struct {
	Events []market.AlignedEvent
	Header Header
	Hit    bool
}

// Load returns the stored events when the artifact exists, decodes and
// carries fingerprint. Anything else is a miss.
func (g *Gate) Load(ctx context.Context, fingerprint string) (Result, bool) {
	data, err := g.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			g.logger.Warn().Err(err).Str("location", g.store.Location()).Msg("cache load failed")
		}
		return Result{}, false
	}
	header, events, err := Decode(data)
	if err != nil {
		g.logger.Warn().Err(err).Str("location", g.store.Location()).Msg("cache artifact corrupt, recomputing")
		return Result{}, false
	}
	if header.Version != FormatVersion || header.Fingerprint != fingerprint {
		g.logger.Info().
			Str("cached", header.Fingerprint).
			Str("current", fingerprint).
			Msg("cache fingerprint mismatch")
		return Result{}, false
	}
	return Result{Events: events, Header: header, Hit: true}, true
}

// Resolve returns cached events or builds and publishes them. Concurrent
// callers serialise on the lock; a waiter re-checks the store after
// acquiring so a finished rebuild is reused.
func (g *Gate) Resolve(ctx context.Context, fingerprint string, createdAt time.Time, build BuildFunc) (Result, error) {
	if res, ok := g.Load(ctx, fingerprint); ok {
		g.logger.Debug().Int("events", len(res.Events)).Msg("cache hit")
		return res, nil
	}

	unlock, err := acquireWait(ctx, g.locker, g.lockKey, g.ttl, g.ttl, g.poll)
	if err != nil {
		return Result{}, fmt.Errorf("acquire cache lock: %w", err)
	}
	defer unlock()

	if res, ok := g.Load(ctx, fingerprint); ok {
		g.logger.Debug().Msg("cache populated by another writer")
		return res, nil
	}

	start := time.Now()
	events, err := build(ctx)
	if err != nil {
		return Result{}, err
	}
	header := Header{Version: FormatVersion, Fingerprint: fingerprint, CreatedAt: createdAt.UTC(), Count: len(events)}
	data, err := Encode(header, events)
	if err != nil {
		return Result{}, err
	}
	if err := g.store.Save(ctx, data); err != nil {
		// The build is still valid; serve it uncached.
		g.logger.Error().Err(err).Str("location", g.store.Location()).Msg("cache save failed")
	} else {
		g.logger.Info().
			Int("events", len(events)).
			Int("bytes", len(data)).
			Dur("elapsed", time.Since(start)).
			Str("location", g.store.Location()).
			Msg("cache artifact written")
	}
	return Result{Events: events, Header: header}, nil
}
