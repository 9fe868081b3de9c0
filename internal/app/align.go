package app

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"cexdex-arb/internal/market"
)

// Align builds (or loads) the aligned event set and optionally writes it out.
func (a *App) Align(ctx context.Context, opts AlignOptions) error {
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

	st := eng.Status()
	fmt.Fprintf(os.Stdout, "aligned events: %d\ncandidates:     %d\nfingerprint:    %s\nfrom cache:     %t\n",
		st.Events, st.Candidates, st.Fingerprint, st.FromCache)

	if opts.CSVPath == "" {
		return nil
	}
	events := eng.Events()
	if err := writeEventsCSV(opts.CSVPath, events); err != nil {
		return err
	}
	a.Logger.Info().Int("rows", len(events)).Str("path", opts.CSVPath).Msg("exported aligned events")
	return nil
}

func writeEventsCSV(path string, events []market.AlignedEvent) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"timestamp", "block_number", "price_onchain", "price_offchain", "bar_start", "volatility", "base_fee_wei", "lag_ms"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, ev := range events {
		record := []string{
			ev.Tick.Timestamp.UTC().Format(time.RFC3339Nano),
			strconv.FormatUint(ev.Tick.BlockNumber, 10),
			formatFloat(ev.OnchainPrice(), 6),
			formatFloat(ev.OffchainPrice(), 6),
			ev.Bar.Start.UTC().Format(time.RFC3339),
			formatFloat(ev.Bar.Volatility, 6),
			strconv.FormatFloat(ev.BaseFee, 'f', 0, 64),
			strconv.FormatInt(ev.Lag.Milliseconds(), 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
