package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"cexdex-arb/internal/storage"
)

// Show prints recent detection runs, or the opportunities of one run.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show runs")
	}
	defer closeStore()

	if opts.RunID != "" {
		id, err := uuid.Parse(strings.TrimSpace(opts.RunID))
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", opts.RunID, err)
		}
		return a.showRun(ctx, os.Stdout, store, id, opts.Limit)
	}

	runs, err := store.ListRecentRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stdout, "no runs found")
		return nil
	}
	printRuns(os.Stdout, runs)
	return nil
}

func (a *App) showRun(ctx context.Context, out io.Writer, store storage.Repository, id uuid.UUID, limit int) error {
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	records, err := store.ListOpportunities(ctx, id, limit)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "run %s  started %s  threshold %s  opportunities %d  total %s\n\n",
		run.ID, run.StartedAt.UTC().Format(time.RFC3339), formatDecimal(run.MinProfit, 2),
		run.Opportunities, formatDecimal(run.TotalProfit, 2))
	if len(records) == 0 {
		fmt.Fprintln(out, "no opportunities recorded")
		return nil
	}
	printRecords(out, records)
	return nil
}

func printRuns(out io.Writer, runs []storage.Run) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Run\tStarted (UTC)\tEvents\tCandidates\tMin Profit\tOpps\tTotal\tMax\tCache")
	for _, run := range runs {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%d\t%s\t%d\t%s\t%s\t%t\n",
			run.ID,
			run.StartedAt.UTC().Format(time.RFC3339),
			run.Events,
			run.Candidates,
			formatDecimal(run.MinProfit, 2),
			run.Opportunities,
			formatDecimal(run.TotalProfit, 2),
			formatDecimal(run.MaxProfit, 2),
			run.FromCache,
		)
	}
	writer.Flush()
}

func printRecords(out io.Writer, records []storage.OpportunityRecord) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tTime (UTC)\tBlock\tDirection\tSpread%\tSize\tNet\tROI%\tRisk\tModel")
	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Rank,
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.BlockNumber,
			sanitizeInline(rec.Direction),
			formatDecimal(rec.SpreadPct, 4),
			formatDecimal(rec.TradeSize, 2),
			formatDecimal(rec.NetProfit, 2),
			formatDecimal(rec.ROIPct, 3),
			formatDecimal(rec.RiskScore, 2),
			sanitizeInline(rec.Model),
		)
	}
	writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
