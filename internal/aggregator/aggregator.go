// Package aggregator reduces exchange trade prints into fixed-interval bars.
package aggregator

import (
	"math"
	"sort"
	"time"

	"cexdex-arb/internal/market"
)

// TimeUnit is the epoch resolution of trade timestamps.
type TimeUnit string

const (
	UnitAuto         TimeUnit = "auto"
	UnitSeconds      TimeUnit = "s"
	UnitMilliseconds TimeUnit = "ms"
	UnitMicroseconds TimeUnit = "us"
)

// Options configure bar construction.
type Options struct {
	Interval time.Duration
	// VolatilityFloor seeds volatility before any nonzero value was observed.
	VolatilityFloor float64
	// MaxFill bounds how long a run of empty buckets is materialised; longer
	// gaps are left open so the aligner sees them as missing data.
	MaxFill  time.Duration
	TimeUnit TimeUnit
}

// DefaultOptions match one-second bars over a Binance trade tape.
func DefaultOptions() Options {
	return Options{
		Interval:        time.Second,
		VolatilityFloor: 5.0,
		MaxFill:         time.Hour,
		TimeUnit:        UnitAuto,
	}
}

type bucket struct {
	n     int
	mean  float64
	m2    float64
	qty   float64
	quote float64
}

// add folds one price into the running mean/variance (Welford).
func (b *bucket) add(price, qty float64) {
	b.n++
	delta := price - b.mean
	b.mean += delta / float64(b.n)
	b.m2 += delta * (price - b.mean)
	b.qty += qty
	b.quote += price * qty
}

func (b *bucket) stddev() float64 {
	if b.n < 2 {
		return 0
	}
	v := b.m2 / float64(b.n-1)
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

// Aggregator accumulates trades from any number of shards in any order.
type Aggregator struct {
	opts    Options
	buckets map[int64]*bucket
	skipped int
}

// New constructs an Aggregator, filling zero options from DefaultOptions.
func New(opts Options) *Aggregator {
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.VolatilityFloor <= 0 {
		opts.VolatilityFloor = def.VolatilityFloor
	}
	if opts.MaxFill <= 0 {
		opts.MaxFill = def.MaxFill
	}
	if opts.TimeUnit == "" {
		opts.TimeUnit = def.TimeUnit
	}
	return &Aggregator{opts: opts, buckets: make(map[int64]*bucket)}
}

// Add ingests trades. Non-finite or non-positive prints are skipped.
func (a *Aggregator) Add(trades ...market.Trade) {
	step := int64(a.opts.Interval)
	for _, tr := range trades {
		if !valid(tr) {
			a.skipped++
			continue
		}
		ns := EpochToTime(tr.Time, a.opts.TimeUnit).UnixNano()
		key := floorDiv(ns, step) * step
		b, ok := a.buckets[key]
		if !ok {
			b = &bucket{}
			a.buckets[key] = b
		}
		b.add(tr.Price, tr.Quantity)
	}
}

// Skipped reports how many trades were rejected.
func (a *Aggregator) Skipped() int { return a.skipped }

// Bars materialises the sorted, gap-filled bar sequence.
func (a *Aggregator) Bars() []market.OffchainBar {
	if len(a.buckets) == 0 {
		return nil
	}
	keys := make([]int64, 0, len(a.buckets))
	for k := range a.buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	step := int64(a.opts.Interval)
	maxFill := int64(a.opts.MaxFill)
	bars := make([]market.OffchainBar, 0, len(keys))
	cf := carry{floor: a.opts.VolatilityFloor}

	for i, key := range keys {
		if i > 0 {
			prev := keys[i-1]
			if gap := key - prev - step; gap > 0 && gap <= maxFill {
				for fill := prev + step; fill < key; fill += step {
					bars = append(bars, cf.filled(time.Unix(0, fill).UTC()))
				}
			}
		}
		bars = append(bars, cf.observed(time.Unix(0, key).UTC(), a.buckets[key]))
	}
	return bars
}

// carry holds the carry-forward state while walking buckets in order.
type carry struct {
	floor        float64
	lastClose    float64
	lastVWAP     float64
	lastSource   time.Time
	lastNonzero  float64
	haveNonzeroV bool
}

func (c *carry) volatility(v float64) float64 {
	if v > 0 {
		c.lastNonzero = v
		c.haveNonzeroV = true
		return v
	}
	if c.haveNonzeroV {
		return c.lastNonzero
	}
	return c.floor
}

func (c *carry) observed(start time.Time, b *bucket) market.OffchainBar {
	bar := market.OffchainBar{
		Start:       start,
		Close:       b.mean,
		VWAP:        b.quote / b.qty,
		Volatility:  c.volatility(b.stddev()),
		Volume:      b.qty,
		QuoteVolume: b.quote,
		Trades:      b.n,
	}
	c.lastClose, c.lastVWAP, c.lastSource = bar.Close, bar.VWAP, start
	return bar
}

func (c *carry) filled(start time.Time) market.OffchainBar {
	return market.OffchainBar{
		Start:      start,
		Close:      c.lastClose,
		VWAP:       c.lastVWAP,
		Volatility: c.volatility(0),
		Filled:     true,
		Source:     c.lastSource,
	}
}

// Aggregate is a one-shot helper over a single trade slice.
func Aggregate(trades []market.Trade, opts Options) []market.OffchainBar {
	a := New(opts)
	a.Add(trades...)
	return a.Bars()
}

// EpochToTime converts an integer epoch in the given unit; UnitAuto infers
// the unit from magnitude (µs ≥ 1e15, ms ≥ 1e12, else s).
func EpochToTime(v int64, unit TimeUnit) time.Time {
	if unit == UnitAuto || unit == "" {
		switch {
		case v >= 1e15:
			unit = UnitMicroseconds
		case v >= 1e12:
			unit = UnitMilliseconds
		default:
			unit = UnitSeconds
		}
	}
	switch unit {
	case UnitMicroseconds:
		return time.UnixMicro(v).UTC()
	case UnitMilliseconds:
		return time.UnixMilli(v).UTC()
	default:
		return time.Unix(v, 0).UTC()
	}
}

func valid(tr market.Trade) bool {
	if tr.Time <= 0 {
		return false
	}
	if math.IsNaN(tr.Price) || math.IsInf(tr.Price, 0) || tr.Price <= 0 {
		return false
	}
	if math.IsNaN(tr.Quantity) || math.IsInf(tr.Quantity, 0) || tr.Quantity <= 0 {
		return false
	}
	return true
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
