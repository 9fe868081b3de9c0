package aggregator

import (
	"math"
	"testing"
	"time"

	"cexdex-arb/internal/market"
)

const base = int64(1_756_684_800_000_000) // 2025-09-01T00:00:00Z in µs

func us(sec float64) int64 { return base + int64(sec*1e6) }

func TestBarsComputeMeanVWAPAndStd(t *testing.T) {
	bars := Aggregate([]market.Trade{
		{Time: us(0.1), Price: 100, Quantity: 1},
		{Time: us(0.5), Price: 102, Quantity: 3},
	}, DefaultOptions())

	if len(bars) != 1 {
		t.Fatalf("expected one bar, got %d", len(bars))
	}
	bar := bars[0]
	if bar.Close != 101 {
		t.Fatalf("close should be mean price 101, got %f", bar.Close)
	}
	if math.Abs(bar.VWAP-(100+306)/4.0) > 1e-12 {
		t.Fatalf("unexpected vwap %f", bar.VWAP)
	}
	if math.Abs(bar.Volatility-math.Sqrt(2)) > 1e-12 {
		t.Fatalf("sample std of {100,102} is sqrt(2), got %f", bar.Volatility)
	}
	if bar.Volume != 4 || bar.QuoteVolume != 406 || bar.Trades != 2 {
		t.Fatalf("unexpected totals %+v", bar)
	}
	if !bar.Start.Equal(time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected bucket start %s", bar.Start)
	}
}

func TestGapCarriesForwardPriceAndVolatility(t *testing.T) {
	bars := Aggregate([]market.Trade{
		{Time: us(0.1), Price: 100, Quantity: 1},
		{Time: us(0.2), Price: 104, Quantity: 1},
		{Time: us(3.5), Price: 110, Quantity: 2},
	}, DefaultOptions())

	if len(bars) != 4 {
		t.Fatalf("expected contiguous bars 0..3, got %d", len(bars))
	}
	v := bars[0].Volatility
	if v <= 0 {
		t.Fatalf("first bar should have positive volatility, got %f", v)
	}
	for _, gap := range bars[1:3] {
		if !gap.Filled {
			t.Fatalf("bar %s should be gap-filled", gap.Start)
		}
		if gap.Volatility != v {
			t.Fatalf("gap volatility should carry forward %f, got %f", v, gap.Volatility)
		}
		if gap.Close != bars[0].Close || gap.VWAP != bars[0].VWAP {
			t.Fatalf("gap prices should carry forward: %+v", gap)
		}
		if !gap.Origin().Equal(bars[0].Start) {
			t.Fatalf("gap origin should point at the source bar")
		}
	}
	// single trade: zero std, inherits last nonzero
	if bars[3].Volatility != v {
		t.Fatalf("single-trade bar should inherit %f, got %f", v, bars[3].Volatility)
	}
	if bars[3].VWAP != 110 {
		t.Fatalf("unexpected vwap %f", bars[3].VWAP)
	}
}

func TestVolatilityFloorBeforeFirstNonzero(t *testing.T) {
	opts := DefaultOptions()
	opts.VolatilityFloor = 0.25
	bars := Aggregate([]market.Trade{
		{Time: us(0), Price: 100, Quantity: 1},
		{Time: us(0.5), Price: 100, Quantity: 1},
		{Time: us(1), Price: 101, Quantity: 1},
		{Time: us(1.5), Price: 103, Quantity: 1},
		{Time: us(2), Price: 105, Quantity: 1},
	}, opts)

	if len(bars) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(bars))
	}
	if bars[0].Volatility != 0.25 {
		t.Fatalf("constant-price leading bar should use floor, got %f", bars[0].Volatility)
	}
	if math.Abs(bars[1].Volatility-math.Sqrt(2)) > 1e-12 {
		t.Fatalf("unexpected volatility %f", bars[1].Volatility)
	}
	if bars[2].Volatility != bars[1].Volatility {
		t.Fatalf("constant bar after spike must not drop to zero")
	}
}

func TestShardsInAnyOrder(t *testing.T) {
	trades := []market.Trade{
		{Time: us(2.1), Price: 103, Quantity: 1},
		{Time: us(0.1), Price: 100, Quantity: 1},
		{Time: us(1.1), Price: 101, Quantity: 1},
	}
	a := New(DefaultOptions())
	a.Add(trades[0])
	a.Add(trades[1:]...)
	a.Add(market.Trade{Time: us(1.2), Price: -1, Quantity: 1}, market.Trade{Time: us(1.2), Price: 1, Quantity: math.NaN()})

	bars := a.Bars()
	if len(bars) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Start.After(bars[i-1].Start) {
			t.Fatal("bars must be strictly increasing by start")
		}
	}
	if a.Skipped() != 2 {
		t.Fatalf("expected 2 skipped trades, got %d", a.Skipped())
	}
}

func TestLongGapIsNotFilled(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxFill = 10 * time.Second
	bars := Aggregate([]market.Trade{
		{Time: us(0), Price: 100, Quantity: 1},
		{Time: us(60), Price: 101, Quantity: 1},
	}, opts)
	if len(bars) != 2 {
		t.Fatalf("gap longer than MaxFill should stay open, got %d bars", len(bars))
	}
}

func TestEpochToTime(t *testing.T) {
	want := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	for _, v := range []int64{1_756_684_800, 1_756_684_800_000, 1_756_684_800_000_000} {
		if got := EpochToTime(v, UnitAuto); !got.Equal(want) {
			t.Fatalf("auto unit for %d gave %s", v, got)
		}
	}
	if got := EpochToTime(1_756_684_800_000, UnitMilliseconds); !got.Equal(want) {
		t.Fatalf("explicit ms gave %s", got)
	}
}

func TestEmpty(t *testing.T) {
	if bars := Aggregate(nil, DefaultOptions()); bars != nil {
		t.Fatalf("no trades should produce no bars, got %v", bars)
	}
}
