// Package gas maps block numbers to base fees with forward fill.
package gas

import (
	"sort"

	"cexdex-arb/internal/market"
)

// DefaultFallback is used when no fee sample precedes a block (20 gwei).
const DefaultFallback = 20e9

// Table is an immutable, sorted block → base fee index.
type Table struct {
	blocks   []uint64
	fees     []float64
	fallback float64
}

// NewTable builds a lookup table. Duplicate blocks keep the last record.
func NewTable(records []market.FeeRecord, fallback float64) *Table {
	if fallback <= 0 {
		fallback = DefaultFallback
	}
	sorted := make([]market.FeeRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].BlockNumber < sorted[j].BlockNumber })

	t := &Table{
		blocks:   make([]uint64, 0, len(sorted)),
		fees:     make([]float64, 0, len(sorted)),
		fallback: fallback,
	}
	for _, rec := range sorted {
		if n := len(t.blocks); n > 0 && t.blocks[n-1] == rec.BlockNumber {
			t.fees[n-1] = rec.BaseFee
			continue
		}
		t.blocks = append(t.blocks, rec.BlockNumber)
		t.fees = append(t.fees, rec.BaseFee)
	}
	return t
}

// Lookup returns the exact fee, else the nearest prior sample, else the fallback.
func (t *Table) Lookup(block uint64) float64 {
	if t == nil {
		return DefaultFallback
	}
	// first index with blocks[i] > block
	i := sort.Search(len(t.blocks), func(i int) bool { return t.blocks[i] > block })
	if i == 0 {
		return t.fallback
	}
	return t.fees[i-1]
}

// Len is the number of distinct sampled blocks.
func (t *Table) Len() int { return len(t.blocks) }

// Fallback returns the configured default fee.
func (t *Table) Fallback() float64 { return t.fallback }
