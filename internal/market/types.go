// Package market holds the value types shared by every stage of the
// detection pipeline.
package market

import (
	"math/big"
	"time"
)

// OnchainTick is a decoded pool state observation.
type OnchainTick struct {
	Timestamp    time.Time
	BlockNumber  uint64
	Price        float64
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	// BaseIsToken0 records the pool orientation chosen while rescaling the
	// raw ratio; the AMM slippage model needs it to pick the swap formula.
	BaseIsToken0 bool
}

// HasPoolState reports whether the raw fixed-point price and liquidity are
// available for the closed-form AMM model.
func (t OnchainTick) HasPoolState() bool {
	return t.SqrtPriceX96 != nil && t.SqrtPriceX96.Sign() > 0 && t.Liquidity != nil
}

// OffchainBar summarises trades within [Start, Start+interval).
type OffchainBar struct {
	Start       time.Time
	Close       float64
	VWAP        float64
	Volatility  float64
	Volume      float64
	QuoteVolume float64
	Trades      int
	// Filled bars had no trades; prices were carried forward from the bar
	// that started at Source.
	Filled bool
	Source time.Time
}

// Origin is the start of the bar whose trades produced this bar's prices.
func (b OffchainBar) Origin() time.Time {
	if b.Filled && !b.Source.IsZero() {
		return b.Source
	}
	return b.Start
}

// FeeRecord is a sparse block base fee sample, in wei.
type FeeRecord struct {
	BlockNumber uint64
	BaseFee     float64
}

// AlignedEvent joins one tick with the latest bar at or before it.
type AlignedEvent struct {
	Tick    OnchainTick
	Bar     OffchainBar
	BaseFee float64
	Lag     time.Duration
}

// OnchainPrice is the pool price of the event.
func (e AlignedEvent) OnchainPrice() float64 { return e.Tick.Price }

// OffchainPrice is the exchange VWAP of the matched bar.
func (e AlignedEvent) OffchainPrice() float64 { return e.Bar.VWAP }

// Direction describes which venue is bought and which is sold.
type Direction string

const (
	// BuyOnchainSellOffchain buys the base asset in the pool and sells on the exchange.
	BuyOnchainSellOffchain Direction = "BuyOnchainSellOffchain"
	// BuyOffchainSellOnchain buys the base asset on the exchange and sells in the pool.
	BuyOffchainSellOnchain Direction = "BuyOffchainSellOnchain"
)

// SlippageBreakdown itemises the costs of the chosen trade size. Slippage is
// a fraction of notional (0.01 is one percent).
type SlippageBreakdown struct {
	Onchain      float64 `json:"onchain_slippage"`
	Offchain     float64 `json:"offchain_slippage"`
	GasCostQuote float64 `json:"gas_cost_usd"`
	Model        string  `json:"onchain_model"`
}

// Opportunity is a scored, net-profitable trade for one aligned event.
type Opportunity struct {
	Timestamp        time.Time         `json:"timestamp"`
	BlockNumber      uint64            `json:"block_number"`
	Direction        Direction         `json:"direction"`
	OnchainPrice     float64           `json:"price_onchain"`
	OffchainPrice    float64           `json:"price_offchain"`
	SpreadPct        float64           `json:"spread_pct"`
	Volatility       float64           `json:"volatility"`
	OptimalTradeSize float64           `json:"optimal_trade_size"`
	NetProfit        float64           `json:"net_profit_usd"`
	ROIPct           float64           `json:"roi_pct"`
	RiskScore        float64           `json:"risk_score"`
	Slippage         SlippageBreakdown `json:"details"`
}

// ChartPoint is one resampled row of the price comparison chart.
type ChartPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	OnchainPrice  float64   `json:"onchain_price"`
	OffchainPrice float64   `json:"offchain_price"`
	SpreadPct     float64   `json:"spread_pct"`
}

// Summary aggregates a ranked opportunity list.
type Summary struct {
	Count       int     `json:"total_opportunities"`
	TotalProfit float64 `json:"total_potential_profit"`
	MaxProfit   float64 `json:"max_single_profit"`
	MeanROI     float64 `json:"avg_roi"`
}

// Summarize reduces opportunities into a Summary; empty input yields zeros.
func Summarize(opps []Opportunity) Summary {
	if len(opps) == 0 {
		return Summary{}
	}
	s := Summary{Count: len(opps), MaxProfit: opps[0].NetProfit}
	var roi float64
	for _, o := range opps {
		s.TotalProfit += o.NetProfit
		if o.NetProfit > s.MaxProfit {
			s.MaxProfit = o.NetProfit
		}
		roi += o.ROIPct
	}
	s.MeanROI = roi / float64(len(opps))
	return s
}
