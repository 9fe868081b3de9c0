package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cexdex-arb/internal/alerting"
	"cexdex-arb/internal/engine"
	"cexdex-arb/internal/market"
	"cexdex-arb/internal/scheduler"
	"cexdex-arb/internal/storage"
)

// Dataset is the engine surface the service drives.
type Dataset interface {
	Status() engine.Status
	Opportunities(minProfit float64) []market.Opportunity
	Refresh(ctx context.Context) (bool, error)
}

// AdvisoryLocker guards scheduled runs across replicas.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Options configure detection runs and alert routing.
type Options struct {
	MinProfit      float64
	AlertsOn       bool
	AlertMinProfit float64
	TopN           int
	Channels       []string
	LockKey        int64
}

// Result is the outcome of one detection run.
type Result struct {
	Run           storage.Run
	Opportunities []market.Opportunity
	Persisted     bool
	Alerted       bool
}

// Service orchestrates detection, persistence, and alerting.
type Service struct {
	dataset   Dataset
	scheduler *scheduler.Scheduler
	repo      storage.Repository
	notifier  alerting.Notifier
	locker    AdvisoryLocker
	opts      Options
	logger    zerolog.Logger
}

// New constructs the detection service. repo, notifier and sched may be nil.
func New(dataset Dataset, sched *scheduler.Scheduler, repo storage.Repository, notifier alerting.Notifier, opts Options, logger zerolog.Logger) *Service {
	var locker AdvisoryLocker
	if l, ok := repo.(AdvisoryLocker); ok {
		locker = l
	}
	return &Service{
		dataset:   dataset,
		scheduler: sched,
		repo:      repo,
		notifier:  notifier,
		locker:    locker,
		opts:      opts,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the refresh loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.Tick)
}

// Tick 刷新数据集, 输入变化时执行一次检测。
func (s *Service) Tick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip refresh because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	changed, err := s.dataset.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh dataset: %w", err)
	}
	if !changed {
		return nil
	}
	_, err = s.Detect(ctx, s.opts.MinProfit)
	return err
}

// Detect records the opportunities above minProfit as a run and raises
// alerts. Persistence and delivery failures are logged, not returned.
func (s *Service) Detect(ctx context.Context, minProfit float64) (Result, error) {
	started := time.Now()
	status := s.dataset.Status()
	if !status.Ready {
		return Result{}, fmt.Errorf("dataset not loaded")
	}

	opps := s.dataset.Opportunities(minProfit)
	run := storage.NewRun(started, status.Fingerprint, status.Events, status.Candidates, minProfit, opps, status.FromCache)
	res := Result{Run: run, Opportunities: opps}

	if s.repo != nil {
		if err := s.repo.SaveRun(ctx, run, storage.RecordsFor(run.ID, opps)); err != nil {
			s.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to persist run")
		} else {
			res.Persisted = true
		}
	}

	s.logger.Info().Str("run_id", run.ID.String()).
		Int("opportunities", run.Opportunities).
		Str("total_profit", run.TotalProfit.StringFixed(2)).
		Float64("min_profit", minProfit).
		Msg("detection recorded")

	if s.opts.AlertsOn && s.notifier != nil {
		note, ok := alerting.Build(opps, s.opts.AlertMinProfit, s.opts.TopN)
		if ok {
			note.RunID = run.ID.String()
			note.Channels = s.opts.Channels
			if err := s.notifier.Notify(ctx, note); err != nil {
				s.logger.Error().Err(err).Str("run_id", note.RunID).Msg("failed to dispatch alert")
			} else {
				res.Alerted = true
			}
		}
	}

	return res, nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
