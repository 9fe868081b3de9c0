package slippage

import (
	"errors"
	"math"
	"math/big"
	"testing"

	"cexdex-arb/internal/market"
)

// poolTick builds a tick for an 18-decimal base against a 6-decimal quote.
// With baseIsToken0 the pool is WETH/USDT, otherwise USDT/WETH.
func poolTick(price float64, liq *big.Int, baseIsToken0 bool) market.OnchainTick {
	ratio := price * 1e-12
	if !baseIsToken0 {
		ratio = 1e12 / price
	}
	s := new(big.Float).SetPrec(256).SetFloat64(ratio)
	s.Sqrt(s)
	s.Mul(s, new(big.Float).SetPrec(256).SetMantExp(big.NewFloat(1), 96))
	sqrt, _ := s.Int(nil)
	return market.OnchainTick{Price: price, SqrtPriceX96: sqrt, Liquidity: liq, BaseIsToken0: baseIsToken0}
}

func deepLiquidity() *big.Int {
	l, _ := new(big.Int).SetString("1000000000000000000000000", 10)
	return l
}

func TestAMMSellMatchesClosedForm(t *testing.T) {
	m := NewAMM(18)
	tick := poolTick(3000, deepLiquidity(), true)

	got, err := m.Estimate(Quote{Tick: tick, Size: 10, Side: Sell})
	if err != nil {
		t.Fatalf("estimate failed: %v", err)
	}
	// q = a·s with a = 10e18, s = sqrt(3000e-12); slippage = q/(L+q).
	q := 10e18 * math.Sqrt(3000e-12)
	want := q / (1e24 + q)
	if math.Abs(got-want) > want*1e-6 {
		t.Fatalf("sell slippage %g, want %g", got, want)
	}
}

func TestAMMBuyMatchesClosedForm(t *testing.T) {
	m := NewAMM(18)
	tick := poolTick(3000, deepLiquidity(), true)

	got, err := m.Estimate(Quote{Tick: tick, Size: 10, Side: Buy})
	if err != nil {
		t.Fatalf("estimate failed: %v", err)
	}
	q := 10e18 * math.Sqrt(3000e-12)
	want := q / (1e24 - q)
	if math.Abs(got-want) > want*1e-6 {
		t.Fatalf("buy slippage %g, want %g", got, want)
	}
}

func TestAMMToken1Base(t *testing.T) {
	m := NewAMM(18)
	tick := poolTick(3000, deepLiquidity(), false)

	sell, err := m.Estimate(Quote{Tick: tick, Size: 10, Side: Sell})
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	buy, err := m.Estimate(Quote{Tick: tick, Size: 10, Side: Buy})
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if sell <= 0 || buy <= 0 || sell >= 1 || buy >= 1 {
		t.Fatalf("slippage out of range: sell=%g buy=%g", sell, buy)
	}
	if buy <= sell {
		t.Fatalf("buying against the curve should cost more than selling: buy=%g sell=%g", buy, sell)
	}
}

func TestAMMStrictlyIncreasingInSize(t *testing.T) {
	m := NewAMM(18)
	liq := big.NewInt(0).Mul(big.NewInt(1_000_000), big.NewInt(1e15)) // 1e21, shallow
	for _, base0 := range []bool{true, false} {
		tick := poolTick(3000, liq, base0)
		for _, side := range []Side{Buy, Sell} {
			prev := -1.0
			for _, size := range []float64{0.1, 0.5, 1, 2, 5, 10} {
				v, err := m.Estimate(Quote{Tick: tick, Size: size, Side: side})
				if err != nil {
					t.Fatalf("base0=%v %s size %g: %v", base0, side, size, err)
				}
				if v < 0 || v > 1 {
					t.Fatalf("slippage %g outside [0,1]", v)
				}
				if v <= prev {
					t.Fatalf("base0=%v %s: slippage not increasing at size %g (%g <= %g)", base0, side, size, v, prev)
				}
				prev = v
			}
		}
	}
}

func TestAMMInsufficientLiquidity(t *testing.T) {
	m := NewAMM(18)

	v, err := m.Estimate(Quote{Tick: poolTick(3000, big.NewInt(0), true), Size: 1, Side: Sell})
	if !errors.Is(err, market.ErrInsufficientLiquidity) || v != Worst {
		t.Fatalf("zero liquidity should be worst case, got %g %v", v, err)
	}

	// a·s ≈ 5.5e19 exceeds L = 1e18.
	v, err = m.Estimate(Quote{Tick: poolTick(3000, big.NewInt(1e18), true), Size: 1e6, Side: Buy})
	if !errors.Is(err, market.ErrInsufficientLiquidity) || v != Worst {
		t.Fatalf("draining buy should be worst case, got %g %v", v, err)
	}
}

func TestAMMRejectsBadSize(t *testing.T) {
	m := NewAMM(18)
	tick := poolTick(3000, deepLiquidity(), true)
	for _, size := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := m.Estimate(Quote{Tick: tick, Size: size, Side: Sell}); !errors.Is(err, ErrInvalidSize) {
			t.Fatalf("size %g should be rejected, got %v", size, err)
		}
	}
}

func TestImpactModel(t *testing.T) {
	m := Impact{Factor: 0.0001}
	v, err := m.Estimate(Quote{Volatility: 5, Size: 4})
	if err != nil {
		t.Fatalf("estimate failed: %v", err)
	}
	if math.Abs(v-0.0001*5*2) > 1e-15 {
		t.Fatalf("unexpected impact %g", v)
	}
	prev := v
	for _, size := range []float64{5, 10, 50} {
		next, _ := m.Estimate(Quote{Volatility: 5, Size: size})
		if next <= prev {
			t.Fatalf("impact must grow with size")
		}
		prev = next
	}
	if v, _ := m.Estimate(Quote{Volatility: 1e9, Size: 100}); v != 1 {
		t.Fatalf("impact should clamp at 1, got %g", v)
	}
}

func TestLinearFallback(t *testing.T) {
	m := Linear{Scale: 0.5e18, ZeroLiquidityPenalty: 0.1}

	v, err := m.Estimate(Quote{Tick: market.OnchainTick{Liquidity: big.NewInt(1e18)}, Size: 0.5})
	if err != nil {
		t.Fatalf("estimate failed: %v", err)
	}
	if math.Abs(v-0.25) > 1e-12 {
		t.Fatalf("expected 0.25, got %g", v)
	}
	if v, _ := m.Estimate(Quote{Tick: market.OnchainTick{}, Size: 1}); v != 0.1 {
		t.Fatalf("missing liquidity should use penalty, got %g", v)
	}
}

func TestSelectByPoolState(t *testing.T) {
	set := NewSet(18, 0.0001, 0.5e18, 0.1)
	if got := set.Select(poolTick(3000, deepLiquidity(), true)).Name(); got != "amm" {
		t.Fatalf("full pool state should select amm, got %s", got)
	}
	if got := set.Select(market.OnchainTick{Price: 3000, Liquidity: deepLiquidity()}).Name(); got != "linear" {
		t.Fatalf("missing sqrt price should select linear, got %s", got)
	}
	if set.Offchain().Name() != "impact" {
		t.Fatal("offchain model should be impact")
	}
}
