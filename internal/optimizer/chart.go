package optimizer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"cexdex-arb/internal/market"
)

// ParseTimeframe accepts Go durations ("90s", "1h30m") and the short pandas
// style offsets used by the dashboard ("1H", "15T", "5min", "1D").
func ParseTimeframe(tf string) (time.Duration, error) {
	tf = strings.TrimSpace(tf)
	if tf == "" {
		return 0, fmt.Errorf("empty timeframe")
	}
	if d, err := time.ParseDuration(strings.ToLower(tf)); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("timeframe must be positive: %q", tf)
		}
		return d, nil
	}

	i := 0
	for i < len(tf) && tf[i] >= '0' && tf[i] <= '9' {
		i++
	}
	n := 1
	if i > 0 {
		v, err := strconv.Atoi(tf[:i])
		if err != nil {
			return 0, fmt.Errorf("invalid timeframe %q: %w", tf, err)
		}
		n = v
	}
	if n <= 0 {
		return 0, fmt.Errorf("timeframe must be positive: %q", tf)
	}

	var unit time.Duration
	switch strings.ToLower(tf[i:]) {
	case "s", "sec":
		unit = time.Second
	case "t", "min":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("unsupported timeframe %q", tf)
	}
	return time.Duration(n) * unit, nil
}

// Chart resamples events into fixed buckets of the mean on-chain price and
// mean off-chain VWAP. The output spans the first to the last bucket; empty
// buckets and non-finite values are reported as zero.
func Chart(events []market.AlignedEvent, interval time.Duration) []market.ChartPoint {
	if len(events) == 0 || interval <= 0 {
		return []market.ChartPoint{}
	}

	type acc struct {
		on, off float64
		n       int
	}
	step := int64(interval)
	buckets := make(map[int64]*acc)
	first, last := int64(math.MaxInt64), int64(math.MinInt64)
	for _, ev := range events {
		key := floorTo(ev.Tick.Timestamp.UnixNano(), step)
		a, ok := buckets[key]
		if !ok {
			a = &acc{}
			buckets[key] = a
		}
		a.on += ev.OnchainPrice()
		a.off += ev.OffchainPrice()
		a.n++
		if key < first {
			first = key
		}
		if key > last {
			last = key
		}
	}

	points := make([]market.ChartPoint, 0, (last-first)/step+1)
	for key := first; key <= last; key += step {
		p := market.ChartPoint{Timestamp: time.Unix(0, key).UTC()}
		if a, ok := buckets[key]; ok {
			p.OnchainPrice = finite(a.on / float64(a.n))
			p.OffchainPrice = finite(a.off / float64(a.n))
			if p.OnchainPrice != 0 {
				p.SpreadPct = finite((p.OffchainPrice - p.OnchainPrice) / p.OnchainPrice * 100)
			}
		}
		points = append(points, p)
	}
	return points
}

func floorTo(v, step int64) int64 {
	q := v / step
	if v%step != 0 && v < 0 {
		q--
	}
	return q * step
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
