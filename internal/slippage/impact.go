package slippage

import (
	"math"
	"math/big"
)

// Impact is the square-root market impact model used for the exchange leg,
// where no order book depth is available.
type Impact struct {
	Factor float64
}

// Name implements Estimator.
func (Impact) Name() string { return "impact" }

// Estimate implements Estimator: Factor × volatility × sqrt(size).
func (m Impact) Estimate(q Quote) (float64, error) {
	if !validSize(q.Size) {
		return Worst, ErrInvalidSize
	}
	vol := q.Volatility
	if vol < 0 || math.IsNaN(vol) {
		vol = 0
	}
	return clamp(m.Factor * vol * math.Sqrt(q.Size)), nil
}

// Linear approximates pool impact as size × Scale / liquidity. It is only
// used when the fixed-point price is missing from the decoded tick.
type Linear struct {
	Scale                float64
	ZeroLiquidityPenalty float64
}

// Name implements Estimator.
func (Linear) Name() string { return "linear" }

// Estimate implements Estimator.
func (m Linear) Estimate(q Quote) (float64, error) {
	if !validSize(q.Size) {
		return Worst, ErrInvalidSize
	}
	if q.Tick.Liquidity == nil || q.Tick.Liquidity.Sign() <= 0 {
		return clamp(m.ZeroLiquidityPenalty), nil
	}
	liq, _ := new(big.Float).SetInt(q.Tick.Liquidity).Float64()
	return clamp(q.Size * m.Scale / liq), nil
}
