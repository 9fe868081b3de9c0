package engine

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cexdex-arb/internal/aggregator"
	"cexdex-arb/internal/align"
	"cexdex-arb/internal/cache"
	"cexdex-arb/internal/decoder"
	"cexdex-arb/internal/market"
	"cexdex-arb/internal/optimizer"
	"cexdex-arb/internal/slippage"
)

const liquidity = "1000000000000000000000000" // 1e24

func swapData(price float64) string {
	s := new(big.Float).SetPrec(256).SetFloat64(price * 1e-12)
	s.Sqrt(s)
	s.Mul(s, new(big.Float).SetPrec(256).SetMantExp(big.NewFloat(1), 96))
	sqrt, _ := s.Int(nil)
	liq, _ := new(big.Int).SetString(liquidity, 10)
	return fmt.Sprintf("0x%064x%064x%064x%064x", 1, 2, sqrt, liq)
}

type fixture struct {
	dir    string
	inputs Inputs
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	in := Inputs{
		OnchainLogs: filepath.Join(dir, "logs.json"),
		TradesDir:   filepath.Join(dir, "trades"),
		GasCSV:      filepath.Join(dir, "gas.csv"),
	}
	logs := fmt.Sprintf(`[
{"block_timestamp":"2025-09-01 00:00:01 UTC","block_number":"100","data":"%s"},
{"block_timestamp":"2025-09-01 00:00:02 UTC","block_number":101,"data":"%s"},
{"block_timestamp":"garbage","block_number":102,"data":"0x00"}
]`, swapData(3000), swapData(3010))
	mustWrite(t, in.OnchainLogs, logs)

	sec := time.Date(2025, 9, 1, 0, 0, 1, 0, time.UTC).UnixMicro()
	trades := fmt.Sprintf("time,price,qty\n%d,3050,1\n%d,3055,2\n", sec+1000, sec+1_000_000+1000)
	mustWrite(t, filepath.Join(in.TradesDir, "ETHUSDT-trades-2025-09-01.csv"), trades)
	mustWrite(t, in.GasCSV, "block_number,base_fee_per_gas\n100,20000000000\n")
	return fixture{dir: dir, inputs: in}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newEngine(t *testing.T, in Inputs, gate *cache.Gate) *Engine {
	t.Helper()
	opt, err := optimizer.New(optimizer.DefaultOptions(), slippage.NewSet(18, 0.0001, 0.5e18, 0.1))
	if err != nil {
		t.Fatalf("optimizer: %v", err)
	}
	p := &Pipeline{
		Inputs:      in,
		Decoder:     decoder.New(decoder.DefaultOptions()),
		Aggregator:  aggregator.DefaultOptions(),
		Aligner:     align.New(align.DefaultTolerance),
		FallbackFee: 20e9,
		Logger:      zerolog.Nop(),
	}
	return New(p, opt, gate, cache.Params{Tolerance: align.DefaultTolerance, Interval: time.Second, DecoderMode: "heuristic"}, zerolog.Nop())
}

// netAt recomputes the net profit of a size-100 buy-on-chain trade with the
// floor volatility of single-trade bars.
func netAt(pOn, pOff float64) float64 {
	opts := optimizer.DefaultOptions()
	size := 100.0
	q := size * 1e18 * math.Sqrt(pOn*1e-12)
	slipOn := q / (1e24 - q)
	slipOff := 0.0001 * 5.0 * math.Sqrt(size)
	spread := (pOff - pOn) / pOn
	gas := opts.GasLimit * (20e9 + opts.PriorityFeeWei) / 1e18 * pOn
	return size*pOn*(spread-slipOn-slipOff-opts.FeeRate()) - gas - opts.TransferCost
}

func TestEngineEndToEnd(t *testing.T) {
	fx := newFixture(t)
	e := newEngine(t, fx.inputs, nil)
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	events := e.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 aligned events, got %d", len(events))
	}
	if events[0].BaseFee != 20e9 || events[1].BaseFee != 20e9 {
		t.Fatalf("base fee should forward fill: %v %v", events[0].BaseFee, events[1].BaseFee)
	}

	p1, p2 := netAt(3000, 3050), netAt(3010, 3055)
	opps := e.Opportunities((p1 + p2) / 2)
	if len(opps) != 1 {
		t.Fatalf("expected exactly one opportunity, got %d", len(opps))
	}
	got := opps[0]
	if got.BlockNumber != 100 || got.Direction != market.BuyOnchainSellOffchain {
		t.Fatalf("unexpected opportunity %+v", got)
	}
	if math.Abs(got.SpreadPct-1.6667) > 1e-3 {
		t.Fatalf("unexpected spread %f", got.SpreadPct)
	}
	if math.Abs(got.NetProfit-p1) > 1e-6*p1 {
		t.Fatalf("net profit %f, want %f", got.NetProfit, p1)
	}

	all := e.Opportunities(10)
	if len(all) != 2 || all[0].NetProfit < all[1].NetProfit {
		t.Fatalf("both events should clear 10 and be ranked: %+v", all)
	}
	sum := e.Summary(10)
	if sum.Count != 2 || math.Abs(sum.TotalProfit-(all[0].NetProfit+all[1].NetProfit)) > 1e-9 || sum.MaxProfit != all[0].NetProfit {
		t.Fatalf("unexpected summary %+v", sum)
	}

	chart, err := e.Chart("1H")
	if err != nil {
		t.Fatalf("chart: %v", err)
	}
	if len(chart) != 1 || chart[0].OnchainPrice < 3004 || chart[0].OnchainPrice > 3006 {
		t.Fatalf("unexpected chart %+v", chart)
	}
	if _, err := e.Chart("bogus"); err == nil {
		t.Fatal("invalid timeframe should fail")
	}
}

func TestEngineNotLoaded(t *testing.T) {
	e := newEngine(t, Inputs{}, nil)
	if len(e.Opportunities(0)) != 0 || e.Summary(0) != (market.Summary{}) || e.Status().Ready {
		t.Fatal("unloaded engine should answer empty")
	}
	chart, err := e.Chart("1h")
	if err != nil || len(chart) != 0 {
		t.Fatalf("unloaded chart should be empty: %v %v", chart, err)
	}
}

func TestEngineMissingSourcesYieldEmpty(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, Inputs{
		OnchainLogs: filepath.Join(dir, "none.json"),
		TradesDir:   filepath.Join(dir, "none"),
		GasCSV:      filepath.Join(dir, "none.csv"),
	}, nil)
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("missing sources should not fail: %v", err)
	}
	if st := e.Status(); !st.Ready || st.Events != 0 {
		t.Fatalf("unexpected status %+v", st)
	}
	if s := e.Summary(10); s != (market.Summary{}) {
		t.Fatalf("empty dataset should give zero summary, got %+v", s)
	}
}

func TestEngineCacheAndRefresh(t *testing.T) {
	fx := newFixture(t)
	newGate := func() *cache.Gate {
		store := cache.NewFileStore(filepath.Join(fx.dir, "cache", "aligned.json"))
		return cache.NewGate(store, cache.FileLocker{Dir: filepath.Join(fx.dir, "cache")}, "aligned", time.Minute, zerolog.Nop())
	}

	first := newEngine(t, fx.inputs, newGate())
	if err := first.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if first.Status().FromCache {
		t.Fatal("first build cannot come from cache")
	}

	second := newEngine(t, fx.inputs, newGate())
	if err := second.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !second.Status().FromCache {
		t.Fatal("unchanged inputs should load from cache")
	}
	if len(second.Opportunities(10)) != len(first.Opportunities(10)) {
		t.Fatal("cached dataset should give the same answers")
	}

	refreshed := 0
	second.OnRefresh(func(context.Context, *Engine) { refreshed++ })
	changed, err := second.Refresh(context.Background())
	if err != nil || changed {
		t.Fatalf("refresh without changes should be a no-op: %v %v", changed, err)
	}

	later := time.Now().Add(time.Minute)
	shard := filepath.Join(fx.inputs.TradesDir, "ETHUSDT-trades-2025-09-01.csv")
	if err := os.Chtimes(shard, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	changed, err = second.Refresh(context.Background())
	if err != nil || !changed {
		t.Fatalf("touched input should trigger a rebuild: %v %v", changed, err)
	}
	if refreshed != 1 || second.Status().FromCache {
		t.Fatalf("rebuild should notify once and not come from cache: %d %+v", refreshed, second.Status())
	}
	if second.Status().Fingerprint == first.Status().Fingerprint {
		t.Fatal("fingerprint should change with inputs")
	}
}

func TestPipelineRebuildIsByteIdentical(t *testing.T) {
	fx := newFixture(t)
	// many shards feed the same one-second buckets so the fold order matters
	sec := time.Date(2025, 9, 1, 0, 0, 1, 0, time.UTC).UnixMicro()
	for i := 0; i < 8; i++ {
		var rows string
		for j := 0; j < 50; j++ {
			price := 3040.1 + float64(i)*0.37 + float64(j)*0.013
			qty := 0.3 + float64(i)*0.11 + float64(j)*0.007
			rows += fmt.Sprintf("%d,%.4f,%.4f\n", sec+int64(j*19_000), price, qty)
			rows += fmt.Sprintf("%d,%.4f,%.4f\n", sec+1_000_000+int64(j*17_000), price+5, qty)
		}
		mustWrite(t, filepath.Join(fx.inputs.TradesDir, fmt.Sprintf("shard-%d.csv", i)), "time,price,qty\n"+rows)
	}

	build := func() []byte {
		p := &Pipeline{
			Inputs:      fx.inputs,
			Decoder:     decoder.New(decoder.DefaultOptions()),
			Aggregator:  aggregator.DefaultOptions(),
			Aligner:     align.New(align.DefaultTolerance),
			FallbackFee: 20e9,
			ReadWorkers: 8,
			Logger:      zerolog.Nop(),
		}
		events, _, err := p.Run(context.Background())
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("expected 2 aligned events, got %d", len(events))
		}
		data, err := cache.Encode(cache.Header{Fingerprint: "fixed", CreatedAt: time.Unix(0, 0)}, events)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		return data
	}

	want := build()
	for run := 0; run < 50; run++ {
		if got := build(); !bytes.Equal(got, want) {
			t.Fatalf("run %d: 相同输入的重建结果不一致", run)
		}
	}
}
