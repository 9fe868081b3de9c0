package optimizer

import "math"

// RiskScore is the max of three 0-100 component scores: volatility relative
// to price, slippage consumed relative to spread, and gas relative to profit.
func RiskScore(volatility, offchainPrice, spread, totalSlippage, gasCost, netProfit float64) float64 {
	score := math.Max(volatilityScore(volatility, offchainPrice), depthScore(totalSlippage, spread))
	score = math.Max(score, robustnessScore(gasCost, netProfit))
	if math.IsNaN(score) {
		return 100
	}
	return score
}

func volatilityScore(vol, price float64) float64 {
	if !(price > 0) {
		return 100
	}
	bps := vol / price * 1e4
	return math.Min(100, math.Max(0, bps*10))
}

func depthScore(totalSlippage, spread float64) float64 {
	if !(spread > 0) {
		return 100
	}
	return math.Min(100, math.Max(0, totalSlippage/spread*100))
}

func robustnessScore(gasCost, netProfit float64) float64 {
	if netProfit <= gasCost {
		return 100
	}
	return math.Min(100, math.Max(0, 100*gasCost/netProfit))
}
