package storage

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cexdex-arb/internal/market"
)

// Run represents one persisted detection pass.
type Run struct {
	ID            uuid.UUID
	StartedAt     time.Time
	FinishedAt    time.Time
	Fingerprint   string
	Events        int
	Candidates    int
	MinProfit     decimal.Decimal
	Opportunities int
	TotalProfit   decimal.Decimal
	MaxProfit     decimal.Decimal
	FromCache     bool
}

// OpportunityRecord is the persisted form of an opportunity. Money and price
// columns are stored as decimal text.
type OpportunityRecord struct {
	RunID         uuid.UUID
	Rank          int
	Timestamp     time.Time
	BlockNumber   int64
	Direction     string
	OnchainPrice  decimal.Decimal
	OffchainPrice decimal.Decimal
	SpreadPct     decimal.Decimal
	TradeSize     decimal.Decimal
	NetProfit     decimal.Decimal
	ROIPct        decimal.Decimal
	RiskScore     decimal.Decimal
	SlipOnchain   decimal.Decimal
	SlipOffchain  decimal.Decimal
	GasCost       decimal.Decimal
	Model         string
}

// NewRun summarises a detection result for persistence.
func NewRun(started time.Time, fingerprint string, events, candidates int, minProfit float64, opps []market.Opportunity, fromCache bool) Run {
	sum := market.Summarize(opps)
	return Run{
		ID:            uuid.New(),
		StartedAt:     started.UTC(),
		FinishedAt:    time.Now().UTC(),
		Fingerprint:   fingerprint,
		Events:        events,
		Candidates:    candidates,
		MinProfit:     decimal.NewFromFloat(minProfit),
		Opportunities: sum.Count,
		TotalProfit:   money(sum.TotalProfit),
		MaxProfit:     money(sum.MaxProfit),
		FromCache:     fromCache,
	}
}

// RecordsFor converts ranked opportunities into rows of the given run.
func RecordsFor(runID uuid.UUID, opps []market.Opportunity) []OpportunityRecord {
	out := make([]OpportunityRecord, 0, len(opps))
	for i, o := range opps {
		out = append(out, OpportunityRecord{
			RunID:         runID,
			Rank:          i + 1,
			Timestamp:     o.Timestamp.UTC(),
			BlockNumber:   int64(o.BlockNumber),
			Direction:     string(o.Direction),
			OnchainPrice:  decimal.NewFromFloat(o.OnchainPrice),
			OffchainPrice: decimal.NewFromFloat(o.OffchainPrice),
			SpreadPct:     decimal.NewFromFloat(o.SpreadPct).Round(6),
			TradeSize:     decimal.NewFromFloat(o.OptimalTradeSize),
			NetProfit:     money(o.NetProfit),
			ROIPct:        decimal.NewFromFloat(o.ROIPct).Round(6),
			RiskScore:     decimal.NewFromFloat(o.RiskScore).Round(4),
			SlipOnchain:   decimal.NewFromFloat(o.Slippage.Onchain),
			SlipOffchain:  decimal.NewFromFloat(o.Slippage.Offchain),
			GasCost:       money(o.Slippage.GasCostQuote),
			Model:         o.Slippage.Model,
		})
	}
	return out
}

// money rounds quote-currency amounts to cents; non-finite values become zero.
func money(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v).Round(2)
}
