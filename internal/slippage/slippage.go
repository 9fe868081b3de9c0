// Package slippage estimates the relative price impact of a trade on each venue.
package slippage

import (
	"errors"
	"math"

	"cexdex-arb/internal/market"
)

// Side is the action taken on the base asset.
type Side int

const (
	// Buy acquires the base asset.
	Buy Side = iota
	// Sell disposes of the base asset.
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Worst is the slippage assigned to infeasible or failed estimates.
const Worst = 1.0

// Quote is everything an estimator may need for one trade size.
type Quote struct {
	Tick       market.OnchainTick
	Volatility float64
	Size       float64
	Side       Side
}

// Estimator returns slippage as a fraction in [0, 1].
type Estimator interface {
	Name() string
	Estimate(q Quote) (float64, error)
}

// ErrInvalidSize rejects non-positive or non-finite trade sizes.
var ErrInvalidSize = errors.New("slippage: trade size must be positive")

// Set bundles the venue models and picks the on-chain one per tick.
type Set struct {
	AMM    Estimator
	Linear Estimator
	Impact Estimator
}

// NewSet wires the default models.
func NewSet(baseDecimals int, impactFactor, linearScale, zeroLiquidityPenalty float64) Set {
	return Set{
		AMM:    NewAMM(baseDecimals),
		Linear: Linear{Scale: linearScale, ZeroLiquidityPenalty: zeroLiquidityPenalty},
		Impact: Impact{Factor: impactFactor},
	}
}

// Select picks the closed-form AMM model when the raw fixed-point price
// and liquidity were decoded, otherwise the linear fallback.
func (s Set) Select(tick market.OnchainTick) Estimator {
	if tick.HasPoolState() {
		return s.AMM
	}
	return s.Linear
}

// Offchain returns the statistical impact model.
func (s Set) Offchain() Estimator { return s.Impact }

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return Worst
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func validSize(size float64) bool {
	return size > 0 && !math.IsInf(size, 0) && !math.IsNaN(size)
}
