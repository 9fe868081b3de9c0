package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cexdex-arb/internal/aggregator"
	"cexdex-arb/internal/align"
	"cexdex-arb/internal/decoder"
	"cexdex-arb/internal/gas"
	"cexdex-arb/internal/market"
	"cexdex-arb/internal/source"
)

// Inputs locates the raw data files.
type Inputs struct {
	OnchainLogs string
	TradesDir   string
	GasCSV      string
}

// Paths lists every input for fingerprinting.
func (in Inputs) Paths() []string {
	return []string{in.OnchainLogs, in.TradesDir, in.GasCSV}
}

// BuildReport summarises one pipeline run.
type BuildReport struct {
	Logs       source.LogStats
	Decode     decoder.Stats
	Shards     int
	ShardFails int
	Trades     int
	Bars       int
	FeeRows    int
	FeeSkipped int
	Align      align.Stats
	Elapsed    time.Duration
}

// Pipeline runs decode, aggregate, fee join and alignment.
type Pipeline struct {
	Inputs      Inputs
	Decoder     *decoder.Decoder
	Aggregator  aggregator.Options
	Aligner     *align.Aligner
	FallbackFee float64
	ReadWorkers int
	Logger      zerolog.Logger
}

// Run builds the aligned event set. A missing on-chain or trade source
// yields an empty result with a warning; a missing gas file falls back to
// the default base fee.
func (p *Pipeline) Run(ctx context.Context) ([]market.AlignedEvent, BuildReport, error) {
	start := time.Now()
	var report BuildReport

	ticks, err := p.ticks(&report)
	if err != nil {
		return nil, report, err
	}
	if err := ctx.Err(); err != nil {
		return nil, report, err
	}
	bars, err := p.bars(ctx, &report)
	if err != nil {
		return nil, report, err
	}
	fees, err := p.fees(&report)
	if err != nil {
		return nil, report, err
	}

	events, stats := p.Aligner.Align(ticks, bars, fees)
	report.Align = stats
	report.Elapsed = time.Since(start)

	p.Logger.Info().
		Int("ticks", stats.Ticks).
		Int("matched", stats.Matched).
		Int("dropped", stats.Dropped).
		Int("bars", report.Bars).
		Int("decode_rejected", report.Decode.Rejected()).
		Dur("elapsed", report.Elapsed).
		Msg("对齐完成")
	return events, report, nil
}

func (p *Pipeline) ticks(report *BuildReport) ([]market.OnchainTick, error) {
	raws, stats, err := source.ReadLogs(p.Inputs.OnchainLogs)
	report.Logs = stats
	if errors.Is(err, market.ErrDataUnavailable) {
		p.Logger.Warn().Err(err).Msg("on-chain source unavailable, continuing with no ticks")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read onchain logs: %w", err)
	}
	ticks, dstats := p.Decoder.DecodeAll(raws)
	report.Decode = dstats
	if dstats.Rejected() > 0 {
		p.Logger.Warn().
			Int("malformed", dstats.Malformed).
			Int("out_of_band", dstats.OutOfBand).
			Msg("skipped undecodable logs")
	}
	return ticks, nil
}

func (p *Pipeline) bars(ctx context.Context, report *BuildReport) ([]market.OffchainBar, error) {
	agg := aggregator.New(p.Aggregator)
	shards, err := source.ReadTradesDir(ctx, p.Inputs.TradesDir, p.ReadWorkers, func(trades []market.Trade) {
		agg.Add(trades...)
	})
	if errors.Is(err, market.ErrDataUnavailable) {
		p.Logger.Warn().Err(err).Msg("off-chain source unavailable, continuing with no bars")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read trades: %w", err)
	}
	report.Shards = len(shards)
	for _, s := range shards {
		report.Trades += s.Trades
		if s.Err != nil {
			report.ShardFails++
			p.Logger.Warn().Err(s.Err).Str("file", s.File).Msg("读取失败, skipping shard")
		}
	}
	bars := agg.Bars()
	report.Bars = len(bars)
	return bars, nil
}

func (p *Pipeline) fees(report *BuildReport) (*gas.Table, error) {
	records, skipped, err := source.ReadGas(p.Inputs.GasCSV)
	if errors.Is(err, market.ErrDataUnavailable) {
		p.Logger.Warn().Float64("fallback", p.FallbackFee).Msg("未找到 Gas 文件, using fallback base fee")
		return gas.NewTable(nil, p.FallbackFee), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read gas: %w", err)
	}
	report.FeeRows = len(records)
	report.FeeSkipped = skipped
	return gas.NewTable(records, p.FallbackFee), nil
}
