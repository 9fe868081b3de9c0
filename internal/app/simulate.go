package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"cexdex-arb/internal/alerting"
	"cexdex-arb/internal/market"
)

// SimulateOptions describe the synthetic opportunity pushed through alerting.
type SimulateOptions struct {
	NetProfit float64
	SpreadPct float64
	TradeSize float64
	Direction string
}

// SimulateAlert 通过一条合成的套利机会模拟一次告警流程。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	dir := market.Direction(opts.Direction)
	if dir != market.BuyOnchainSellOffchain && dir != market.BuyOffchainSellOnchain {
		return errors.New("direction must be BuyOnchainSellOffchain or BuyOffchainSellOnchain")
	}
	if opts.TradeSize <= 0 {
		opts.TradeSize = 10
	}

	opp := syntheticOpportunity(time.Now().UTC(), dir, opts)
	note, ok := alerting.Build([]market.Opportunity{opp}, a.Config.Alerting.MinProfit, a.Config.Alerting.TopN)
	if !ok {
		return errors.New("模拟收益未超过 alerting.min_profit，不会触发告警")
	}
	note.RunID = "simulated-" + uuid.NewString()
	note.Channels = a.Config.Alerting.Channels
	note.AdditionalMsg = "模拟告警"
	return notifier.Notify(ctx, note)
}

func syntheticOpportunity(at time.Time, dir market.Direction, opts SimulateOptions) market.Opportunity {
	offchain := 3000.0
	onchain := offchain * (1 - opts.SpreadPct/100)
	if dir == market.BuyOffchainSellOnchain {
		onchain = offchain * (1 + opts.SpreadPct/100)
	}
	capital := opts.TradeSize * (onchain + offchain) / 2
	return market.Opportunity{
		Timestamp:        at,
		Direction:        dir,
		OnchainPrice:     onchain,
		OffchainPrice:    offchain,
		SpreadPct:        opts.SpreadPct,
		OptimalTradeSize: opts.TradeSize,
		NetProfit:        opts.NetProfit,
		ROIPct:           opts.NetProfit / capital * 100,
		Slippage:         market.SlippageBreakdown{Model: "simulated"},
	}
}
