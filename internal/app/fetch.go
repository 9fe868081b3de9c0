package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cexdex-arb/internal/source"
)

// Fetch downloads raw inputs into the configured data paths: pool Swap logs
// and base fees over JSON-RPC, and exchange trades as one shard per UTC day.
func (a *App) Fetch(ctx context.Context, opts FetchOptions) error {
	if !opts.Chain && !opts.Trades {
		return errors.New("nothing to fetch; pass --chain and/or --trades")
	}
	if opts.DryRun {
		a.Logger.Warn().Msg("fetch dry-run：不会写入数据文件")
	}

	if opts.Chain {
		if err := a.fetchChain(ctx, opts); err != nil {
			return err
		}
	}
	if opts.Trades {
		if err := a.fetchTrades(ctx, opts); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) fetchChain(ctx context.Context, opts FetchOptions) error {
	ec := a.Config.Ethereum
	chain := source.NewChain(source.ChainOptions{
		RPCURL:        ec.RPCURL,
		PoolAddress:   ec.PoolAddress,
		Timeout:       ec.RequestTimeout,
		BlockChunk:    ec.BlockChunk,
		HeaderWorkers: ec.HeaderWorkers,
	}, a.Logger)
	defer chain.Close()

	to := opts.ToBlock
	if to == 0 {
		head, err := chain.LatestBlock(ctx)
		if err != nil {
			return err
		}
		to = head
	}
	if opts.FromBlock == 0 || opts.FromBlock > to {
		return fmt.Errorf("区块范围为空: %d..%d", opts.FromBlock, to)
	}

	logs, fees, err := chain.FetchSwaps(ctx, opts.FromBlock, to)
	if err != nil {
		return err
	}
	a.Logger.Info().Uint64("from", opts.FromBlock).Uint64("to", to).
		Int("logs", len(logs)).Int("fee_rows", len(fees)).Msg("fetched pool swaps")
	if opts.DryRun {
		return nil
	}

	if err := writeFile(a.Config.Data.OnchainLogs, func(w io.Writer) error {
		return source.WriteLogs(w, logs)
	}); err != nil {
		return err
	}
	return writeFile(a.Config.Data.GasCSV, func(w io.Writer) error {
		return source.WriteGas(w, fees)
	})
}

func (a *App) fetchTrades(ctx context.Context, opts FetchOptions) error {
	from, to := opts.From.UTC(), opts.To.UTC()
	if !from.Before(to) {
		return errors.New("成交回填范围为空，请检查 --from/--to")
	}

	bc := a.Config.Binance
	binance := source.NewBinance(source.BinanceOptions{
		BaseURL:   bc.BaseURL,
		Symbol:    bc.Symbol,
		Timeout:   bc.RequestTimeout,
		UserAgent: bc.UserAgent,
		PageLimit: bc.PageLimit,
	}, a.Logger)

	symbol := strings.ToUpper(bc.Symbol)
	written, failed := 0, 0
	for day := from.Truncate(24 * time.Hour); day.Before(to); day = day.Add(24 * time.Hour) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		start, end := laterOf(day, from), earlierOf(day.Add(24*time.Hour), to)
		trades, err := binance.FetchTrades(ctx, start, end)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Time("day", day).Msg("成交下载失败")
			continue
		}
		a.Logger.Info().Time("day", day).Int("trades", len(trades)).Msg("fetched trades")
		if opts.DryRun || len(trades) == 0 {
			continue
		}

		path := filepath.Join(a.Config.Data.TradesDir, ShardName(symbol, day))
		if err := writeFile(path, func(w io.Writer) error {
			return source.WriteTrades(w, trades)
		}); err != nil {
			return err
		}
		written++
	}

	a.Logger.Info().Int("shards", written).Int("failed", failed).Msg("成交回填完成")
	if failed > 0 {
		return errors.New("部分日期下载失败，请检查日志")
	}
	return nil
}

// ShardName is the file name of one day of trades.
func ShardName(symbol string, day time.Time) string {
	return fmt.Sprintf("%s-trades-%s.csv", symbol, day.UTC().Format("2006-01-02"))
}

// writeFile writes through a temporary sibling so readers never observe a
// partial file.
func writeFile(path string, fill func(io.Writer) error) error {
	if path == "" {
		return errors.New("output path not configured")
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
