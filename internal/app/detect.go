package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"cexdex-arb/internal/market"
	"cexdex-arb/internal/service"
)

// Detect runs one detection pass: rank, persist, alert, print.
func (a *App) Detect(ctx context.Context, opts DetectOptions) error {
	minProfit := a.Config.ResolveMinProfit(opts.MinProfit)

	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	eng, closeEngine, err := a.newEngine(ctx, repo)
	if err != nil {
		return err
	}
	defer closeEngine()

	svc := service.New(eng, nil, repo, a.newNotifier(), a.serviceOptions(minProfit, !opts.NoAlert), a.Logger)
	res, err := svc.Detect(ctx, minProfit)
	if err != nil {
		return err
	}

	summary := market.Summarize(res.Opportunities)
	fmt.Fprintf(os.Stdout, "run %s: %d opportunities above $%.2f, total $%.2f, max $%.2f, avg ROI %.3f%%\n",
		res.Run.ID, summary.Count, minProfit, summary.TotalProfit, summary.MaxProfit, summary.MeanROI)
	if res.Persisted {
		fmt.Fprintln(os.Stdout, "run persisted")
	}

	top := res.Opportunities
	if opts.Top > 0 && len(top) > opts.Top {
		top = top[:opts.Top]
	}
	if len(top) > 0 {
		fmt.Fprintln(os.Stdout)
		printOpportunities(os.Stdout, top)
	}

	if opts.CSVPath != "" {
		if err := writeOpportunitiesCSV(opts.CSVPath, res.Opportunities); err != nil {
			return err
		}
		a.Logger.Info().Int("rows", len(res.Opportunities)).Str("path", opts.CSVPath).Msg("exported opportunities")
	}
	return nil
}

func (a *App) serviceOptions(minProfit float64, alerts bool) service.Options {
	ac := a.Config.Alerting
	return service.Options{
		MinProfit:      minProfit,
		AlertsOn:       alerts && ac.Enabled,
		AlertMinProfit: ac.MinProfit,
		TopN:           ac.TopN,
		Channels:       ac.Channels,
		LockKey:        a.Config.Scheduler.AdvisoryLockKey,
	}
}

func printOpportunities(out io.Writer, opps []market.Opportunity) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tTime (UTC)\tBlock\tDirection\tSpread%\tSize\tNet\tROI%\tRisk\tModel")
	for i, o := range opps {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1,
			o.Timestamp.UTC().Format(time.RFC3339),
			o.BlockNumber,
			o.Direction,
			formatFloat(o.SpreadPct, 4),
			formatFloat(o.OptimalTradeSize, 2),
			formatFloat(o.NetProfit, 2),
			formatFloat(o.ROIPct, 3),
			formatFloat(o.RiskScore, 2),
			o.Slippage.Model,
		)
	}
	writer.Flush()
}
