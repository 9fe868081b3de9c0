package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"cexdex-arb/internal/engine"
	"cexdex-arb/internal/scheduler"
	"cexdex-arb/internal/server"
	"cexdex-arb/internal/service"
	"cexdex-arb/internal/version"
)

// Serve loads the dataset, then runs the query API, the websocket hub and
// the refresh loop until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if repo == nil {
		a.Logger.Warn().Msg("database not configured; run persistence disabled")
	}
	defer closeStore()

	eng, closeEngine, err := a.newEngine(ctx, repo)
	if err != nil {
		return err
	}
	defer closeEngine()

	minProfit := a.Config.ResolveMinProfit(nil)
	var runs server.RunLister
	if repo != nil {
		runs = repo
	}

	var srv *server.Server
	hub := server.NewHub(func() server.Envelope { return srv.SummaryEnvelope() }, a.Logger)
	srv = server.New(server.Config{
		Addr:             a.Config.Server.Addr,
		CORSOrigins:      a.Config.Server.CORSOrigins,
		ReadTimeout:      a.Config.Server.ReadTimeout,
		WriteTimeout:     a.Config.Server.WriteTimeout,
		DefaultMinProfit: minProfit,
		DefaultTimeframe: a.Config.Export.ChartTimeframe,
	}, eng, runs, hub, a.Logger)

	eng.OnRefresh(func(_ context.Context, _ *engine.Engine) {
		hub.Publish(srv.SummaryEnvelope())
	})

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	if err != nil {
		return err
	}
	svc := service.New(eng, sched, repo, a.newNotifier(), a.serviceOptions(minProfit, true), a.Logger)

	// record the startup dataset once so /api/runs is never empty
	if _, err := svc.Detect(ctx, minProfit); err != nil {
		a.Logger.Warn().Err(err).Msg("initial detection failed")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return svc.Run(gctx) })

	a.Logger.Info().Str("version", version.Version).Str("addr", a.Config.Server.Addr).Dur("interval", a.Config.Scheduler.Interval).Msg("starting detection service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("detection service stopped")
	return nil
}

// Prune removes persisted runs started before the cutoff.
func (a *App) Prune(ctx context.Context, opts PruneOptions) error {
	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if repo == nil {
		return errors.New("database not configured; nothing to prune")
	}
	defer closeStore()

	cutoff := opts.Now.Add(-opts.OlderThan)
	if err := repo.DeleteRunsBefore(ctx, cutoff); err != nil {
		return err
	}
	a.Logger.Info().Time("cutoff", cutoff).Msg("pruned detection runs")
	return nil
}
