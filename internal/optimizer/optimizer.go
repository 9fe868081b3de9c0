// Package optimizer searches each aligned event for the most profitable
// trade size after slippage, fees, gas and transfer costs.
package optimizer

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"cexdex-arb/internal/market"
	"cexdex-arb/internal/slippage"
)

// Options is the cost model and search grid.
type Options struct {
	TradeSizes     []float64
	CEXTakerFee    float64
	DEXFeeTier     float64
	GasLimit       float64
	PriorityFeeWei float64
	TransferCost   float64
	MinSpread      float64
	// VolatilityFloor replaces a zero bar volatility in the impact model.
	VolatilityFloor float64
	Workers         int
}

// DefaultOptions returns the production cost model.
func DefaultOptions() Options {
	return Options{
		TradeSizes:      []float64{0.1, 0.5, 1, 2, 5, 10, 20, 50, 100},
		CEXTakerFee:     0.001,
		DEXFeeTier:      0.0005,
		GasLimit:        150000,
		PriorityFeeWei:  2e9,
		TransferCost:    5.0,
		MinSpread:       0.0015,
		VolatilityFloor: 5.0,
	}
}

// FeeRate is the combined proportional venue fee.
func (o Options) FeeRate() float64 { return o.CEXTakerFee + o.DEXFeeTier }

// Optimizer evaluates aligned events. It holds no mutable state and is safe
// for concurrent use.
type Optimizer struct {
	opts   Options
	models slippage.Set
}

// New constructs an Optimizer.
func New(opts Options, models slippage.Set) (*Optimizer, error) {
	if len(opts.TradeSizes) == 0 {
		return nil, errors.New("optimizer: trade sizes must not be empty")
	}
	for _, s := range opts.TradeSizes {
		if !(s > 0) || math.IsInf(s, 0) {
			return nil, errors.New("optimizer: trade sizes must be positive")
		}
	}
	if models.AMM == nil || models.Linear == nil || models.Impact == nil {
		return nil, errors.New("optimizer: slippage models are required")
	}
	sizes := append([]float64(nil), opts.TradeSizes...)
	sort.Float64s(sizes)
	opts.TradeSizes = sizes
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Optimizer{opts: opts, models: models}, nil
}

// Options returns the normalised options.
func (o *Optimizer) Options() Options { return o.opts }

// Evaluate returns the best trade for one event. ok is false when the raw
// price gap is below MinSpread or either price is unusable.
func (o *Optimizer) Evaluate(ev market.AlignedEvent) (market.Opportunity, bool) {
	pOn, pOff := ev.OnchainPrice(), ev.OffchainPrice()
	if !(pOn > 0) || !(pOff > 0) || math.IsInf(pOn, 0) || math.IsInf(pOff, 0) {
		return market.Opportunity{}, false
	}
	if math.Abs(pOn-pOff)/pOn < o.opts.MinSpread {
		return market.Opportunity{}, false
	}

	var (
		direction market.Direction
		spread    float64
		onSide    slippage.Side
	)
	if pOff > pOn {
		direction = market.BuyOnchainSellOffchain
		spread = (pOff - pOn) / pOn
		onSide = slippage.Buy
	} else {
		direction = market.BuyOffchainSellOnchain
		spread = (pOn - pOff) / pOff
		onSide = slippage.Sell
	}
	offSide := slippage.Sell
	if onSide == slippage.Sell {
		offSide = slippage.Buy
	}

	vol := ev.Bar.Volatility
	if !(vol > 0) {
		vol = o.opts.VolatilityFloor
	}
	gasCost := o.GasCost(ev.BaseFee, pOn)
	feeRate := o.opts.FeeRate()
	onModel := o.models.Select(ev.Tick)
	offModel := o.models.Offchain()

	best := market.Opportunity{NetProfit: math.Inf(-1)}
	var bestSlipOn, bestSlipOff float64
	for _, size := range o.opts.TradeSizes {
		slipOn := estimate(onModel, slippage.Quote{Tick: ev.Tick, Volatility: vol, Size: size, Side: onSide})
		slipOff := estimate(offModel, slippage.Quote{Tick: ev.Tick, Volatility: vol, Size: size, Side: offSide})

		notional := size * pOn
		net := notional*(spread-slipOn-slipOff-feeRate) - gasCost - o.opts.TransferCost
		if net > best.NetProfit {
			best.NetProfit = net
			best.OptimalTradeSize = size
			best.ROIPct = net / notional * 100
			bestSlipOn, bestSlipOff = slipOn, slipOff
		}
	}

	best.Timestamp = ev.Tick.Timestamp
	best.BlockNumber = ev.Tick.BlockNumber
	best.Direction = direction
	best.OnchainPrice = pOn
	best.OffchainPrice = pOff
	best.SpreadPct = spread * 100
	best.Volatility = vol
	best.RiskScore = RiskScore(vol, pOff, spread, bestSlipOn+bestSlipOff, gasCost, best.NetProfit)
	best.Slippage = market.SlippageBreakdown{
		Onchain:      bestSlipOn,
		Offchain:     bestSlipOff,
		GasCostQuote: gasCost,
		Model:        onModel.Name(),
	}
	return best, true
}

// GasCost converts the swap gas into quote currency.
func (o *Optimizer) GasCost(baseFeeWei, price float64) float64 {
	return o.opts.GasLimit * (baseFeeWei + o.opts.PriorityFeeWei) / 1e18 * price
}

// estimate degrades any model failure to the worst-case slippage.
func estimate(m slippage.Estimator, q slippage.Quote) float64 {
	v, err := m.Estimate(q)
	if err != nil {
		return slippage.Worst
	}
	return v
}

// Candidates evaluates every event in parallel and returns the best trade of
// each event that passed the spread prefilter, ranked.
func (o *Optimizer) Candidates(ctx context.Context, events []market.AlignedEvent) ([]market.Opportunity, error) {
	if len(events) == 0 {
		return []market.Opportunity{}, nil
	}
	workers := o.opts.Workers
	if workers > len(events) {
		workers = len(events)
	}
	chunk := (len(events) + workers - 1) / workers
	parts := make([][]market.Opportunity, workers)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > len(events) {
			hi = len(events)
		}
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			out := make([]market.Opportunity, 0, (hi-lo)/8+1)
			for i := lo; i < hi; i++ {
				if i%4096 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				if opp, ok := o.Evaluate(events[i]); ok {
					out = append(out, opp)
				}
			}
			parts[w] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}
	merged := make([]market.Opportunity, 0, total)
	for _, p := range parts {
		merged = append(merged, p...)
	}
	Rank(merged)
	return merged, nil
}

// Detect returns the ranked opportunities whose net profit exceeds minProfit.
func (o *Optimizer) Detect(ctx context.Context, events []market.AlignedEvent, minProfit float64) ([]market.Opportunity, error) {
	all, err := o.Candidates(ctx, events)
	if err != nil {
		return nil, err
	}
	return Filter(all, minProfit), nil
}

// Filter keeps opportunities with net profit strictly above minProfit,
// preserving order.
func Filter(ranked []market.Opportunity, minProfit float64) []market.Opportunity {
	out := make([]market.Opportunity, 0, len(ranked))
	for _, opp := range ranked {
		if opp.NetProfit > minProfit {
			out = append(out, opp)
		}
	}
	return out
}

// Rank sorts by net profit descending, then timestamp and block ascending.
func Rank(opps []market.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.NetProfit != b.NetProfit {
			return a.NetProfit > b.NetProfit
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.BlockNumber < b.BlockNumber
	})
}
