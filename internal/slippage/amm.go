package slippage

import (
	"fmt"
	"math/big"

	"cexdex-arb/internal/market"
)

const prec = 256

// AMM prices a single-step, constant-liquidity swap against the pool's
// current sqrt price. Tick crossings are not simulated.
type AMM struct {
	// BaseDecimals converts human trade sizes into raw base token units.
	BaseDecimals int

	q96  *big.Float
	unit *big.Float
}

// NewAMM constructs the closed-form pool model.
func NewAMM(baseDecimals int) *AMM {
	unit := new(big.Float).SetPrec(prec).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(baseDecimals)), nil))
	return &AMM{
		BaseDecimals: baseDecimals,
		q96:          new(big.Float).SetPrec(prec).SetMantExp(big.NewFloat(1), 96),
		unit:         unit,
	}
}

// Name implements Estimator.
func (m *AMM) Name() string { return "amm" }

// Estimate implements Estimator.
func (m *AMM) Estimate(q Quote) (float64, error) {
	if !validSize(q.Size) {
		return Worst, ErrInvalidSize
	}
	if !q.Tick.HasPoolState() {
		return Worst, fmt.Errorf("slippage: amm model needs sqrt price and liquidity")
	}
	return m.Slippage(q.Tick.SqrtPriceX96, q.Tick.Liquidity, q.Tick.BaseIsToken0, q.Size, q.Side)
}

// Slippage computes the relative deviation of the execution price from the
// spot price for trading size base units. Zero liquidity or a buy that would
// drain the range yields Worst with market.ErrInsufficientLiquidity.
func (m *AMM) Slippage(sqrtPriceX96, liquidity *big.Int, baseIsToken0 bool, size float64, side Side) (float64, error) {
	if liquidity == nil || liquidity.Sign() <= 0 {
		return Worst, market.ErrInsufficientLiquidity
	}

	L := newFloat().SetInt(liquidity)
	s := newFloat().SetInt(sqrtPriceX96)
	s.Quo(s, m.q96)
	a := newFloat().SetFloat64(size)
	a.Mul(a, m.unit)

	var slip *big.Float
	var err error
	if baseIsToken0 {
		slip, err = token0Base(L, s, a, side)
	} else {
		slip, err = token1Base(L, s, a, side)
	}
	if err != nil {
		return Worst, err
	}
	v, _ := slip.Float64()
	return clamp(v), nil
}

// token0Base: the base asset is token0, spot = s² (token1 per token0).
func token0Base(L, s, a *big.Float, side Side) (*big.Float, error) {
	spot := newFloat().Mul(s, s)
	as := newFloat().Mul(a, s)
	ls := newFloat().Mul(L, s)

	if side == Sell {
		// s' = L·s / (L + a·s); Δquote = L·(s − s')
		next := newFloat().Quo(ls, newFloat().Add(L, as))
		dq := newFloat().Mul(L, newFloat().Sub(s, next))
		exec := newFloat().Quo(dq, a)
		return relative(spot, exec, spot), nil
	}

	if L.Cmp(as) <= 0 {
		return nil, market.ErrInsufficientLiquidity
	}
	// s' = L·s / (L − a·s); Δquote = L·(s' − s)
	next := newFloat().Quo(ls, newFloat().Sub(L, as))
	dq := newFloat().Mul(L, newFloat().Sub(next, s))
	exec := newFloat().Quo(dq, a)
	return relative(exec, spot, spot), nil
}

// token1Base mirrors token0Base for pools where the base asset is token1,
// spot = 1/s² (token0 per token1).
func token1Base(L, s, a *big.Float, side Side) (*big.Float, error) {
	one := newFloat().SetInt64(1)
	spot := newFloat().Quo(one, newFloat().Mul(s, s))
	shift := newFloat().Quo(a, L)
	inv := newFloat().Quo(one, s)

	if side == Sell {
		// token1 in: s' = s + a/L; Δquote = L·(1/s − 1/s')
		next := newFloat().Add(s, shift)
		dq := newFloat().Mul(L, newFloat().Sub(inv, newFloat().Quo(one, next)))
		exec := newFloat().Quo(dq, a)
		return relative(spot, exec, spot), nil
	}

	if s.Cmp(shift) <= 0 {
		return nil, market.ErrInsufficientLiquidity
	}
	// token1 out: s' = s − a/L; Δquote = L·(1/s' − 1/s)
	next := newFloat().Sub(s, shift)
	dq := newFloat().Mul(L, newFloat().Sub(newFloat().Quo(one, next), inv))
	exec := newFloat().Quo(dq, a)
	return relative(exec, spot, spot), nil
}

// relative returns max(0, (hi − lo) / ref).
func relative(hi, lo, ref *big.Float) *big.Float {
	d := newFloat().Sub(hi, lo)
	if d.Sign() < 0 {
		return newFloat()
	}
	return d.Quo(d, ref)
}

func newFloat() *big.Float { return new(big.Float).SetPrec(prec) }
