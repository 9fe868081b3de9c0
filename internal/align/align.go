// Package align performs the backward as-of join between pool ticks and
// exchange bars.
package align

import (
	"sort"
	"time"

	"cexdex-arb/internal/gas"
	"cexdex-arb/internal/market"
)

// DefaultTolerance is the maximum staleness of a matched bar.
const DefaultTolerance = 5 * time.Minute

// Stats reports join coverage.
type Stats struct {
	Ticks   int
	Matched int
	Dropped int
}

// Aligner joins ticks to bars. The zero value uses an exact-match tolerance.
type Aligner struct {
	Tolerance time.Duration
}

// New returns an Aligner with the given tolerance; negative means default.
func New(tolerance time.Duration) *Aligner {
	if tolerance < 0 {
		tolerance = DefaultTolerance
	}
	return &Aligner{Tolerance: tolerance}
}

// Align matches every tick with the latest bar whose start is at or before
// the tick. Lag is measured from the bar's origin rather than its bucket
// start: for a gap-filled bar that is the start of the last bucket that saw
// trades, so a tick right after a long trading gap is dropped even though a
// filled bucket begins just before it. Ticks with lag > Tolerance are dropped;
// lag == Tolerance is kept. Runs in linear time over sorted inputs.
func (a *Aligner) Align(ticks []market.OnchainTick, bars []market.OffchainBar, fees *gas.Table) ([]market.AlignedEvent, Stats) {
	stats := Stats{Ticks: len(ticks)}
	if len(ticks) == 0 || len(bars) == 0 {
		stats.Dropped = len(ticks)
		return []market.AlignedEvent{}, stats
	}

	ticks = sortedTicks(ticks)
	bars = sortedBars(bars)

	events := make([]market.AlignedEvent, 0, len(ticks))
	j := -1
	for _, tick := range ticks {
		for j+1 < len(bars) && !bars[j+1].Start.After(tick.Timestamp) {
			j++
		}
		if j < 0 {
			stats.Dropped++
			continue
		}
		bar := bars[j]
		lag := tick.Timestamp.Sub(bar.Origin())
		if lag > a.Tolerance {
			stats.Dropped++
			continue
		}
		events = append(events, market.AlignedEvent{
			Tick:    tick,
			Bar:     bar,
			BaseFee: fees.Lookup(tick.BlockNumber),
			Lag:     lag,
		})
	}
	stats.Matched = len(events)
	return events, stats
}

// Match reports the bar a single tick would join, or market.ErrAlignmentGap.
func (a *Aligner) Match(tick market.OnchainTick, bars []market.OffchainBar) (market.OffchainBar, error) {
	bars = sortedBars(bars)
	i := sort.Search(len(bars), func(i int) bool { return bars[i].Start.After(tick.Timestamp) })
	if i == 0 {
		return market.OffchainBar{}, market.ErrAlignmentGap
	}
	bar := bars[i-1]
	if tick.Timestamp.Sub(bar.Origin()) > a.Tolerance {
		return market.OffchainBar{}, market.ErrAlignmentGap
	}
	return bar, nil
}

func sortedTicks(ticks []market.OnchainTick) []market.OnchainTick {
	if sort.SliceIsSorted(ticks, func(i, j int) bool { return ticks[i].Timestamp.Before(ticks[j].Timestamp) }) {
		return ticks
	}
	out := make([]market.OnchainTick, len(ticks))
	copy(out, ticks)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func sortedBars(bars []market.OffchainBar) []market.OffchainBar {
	if sort.SliceIsSorted(bars, func(i, j int) bool { return bars[i].Start.Before(bars[j].Start) }) {
		return bars
	}
	out := make([]market.OffchainBar, len(bars))
	copy(out, bars)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}
