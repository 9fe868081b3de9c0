// Package decoder turns raw pool Swap logs into typed on-chain ticks.
package decoder

import (
	"errors"
	"math"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"cexdex-arb/internal/market"
)

const (
	// wordHex is the width of one ABI word in hex characters.
	wordHex = 64
	// minPayloadHex covers amount0, amount1, sqrtPriceX96 and liquidity.
	minPayloadHex = 4 * wordHex

	floatPrec = 256
)

// Mode selects how the raw token ratio is rescaled into a quote-per-base price.
type Mode string

const (
	// ModeHeuristic tries the four 10^k rescalings against a plausibility band.
	ModeHeuristic Mode = "heuristic"
	// ModeExplicit derives the scale from configured token decimals.
	ModeExplicit Mode = "explicit"
)

// Options parameterise the decoder.
type Options struct {
	Mode           Mode
	ScaleExponent  int
	PlausibleMin   float64
	PlausibleMax   float64
	SanityMin      float64
	SanityMax      float64
	Token0Decimals int
	Token1Decimals int
	BaseIsToken0   bool
}

// DefaultOptions mirror the WETH(18)/USDT(6) 0.05% pool.
func DefaultOptions() Options {
	return Options{
		Mode:           ModeHeuristic,
		ScaleExponent:  12,
		PlausibleMin:   1000,
		PlausibleMax:   10000,
		SanityMin:      100,
		SanityMax:      20000,
		Token0Decimals: 18,
		Token1Decimals: 6,
		BaseIsToken0:   true,
	}
}

// Stats counts decode outcomes for one batch.
type Stats struct {
	Accepted  int
	Malformed int
	OutOfBand int
}

// Rejected is the total number of skipped records.
func (s Stats) Rejected() int { return s.Malformed + s.OutOfBand }

// Decoder is a pure, reusable log decoder.
type Decoder struct {
	opts  Options
	q96   *big.Float
	scale float64
}

// New constructs a Decoder, filling zero-valued options from DefaultOptions.
func New(opts Options) *Decoder {
	def := DefaultOptions()
	if opts.Mode == "" {
		opts.Mode = def.Mode
	}
	if opts.ScaleExponent == 0 {
		opts.ScaleExponent = def.ScaleExponent
	}
	if opts.PlausibleMin <= 0 || opts.PlausibleMax <= opts.PlausibleMin {
		opts.PlausibleMin, opts.PlausibleMax = def.PlausibleMin, def.PlausibleMax
	}
	if opts.SanityMin <= 0 || opts.SanityMax <= opts.SanityMin {
		opts.SanityMin, opts.SanityMax = def.SanityMin, def.SanityMax
	}

	q96 := new(big.Float).SetPrec(floatPrec).SetMantExp(big.NewFloat(1), 96)
	return &Decoder{
		opts:  opts,
		q96:   q96,
		scale: math.Pow10(opts.ScaleExponent),
	}
}

// Decode extracts one tick. Any failure is returned as a market decode error
// and the record must be skipped.
func (d *Decoder) Decode(rec market.RawLog) (market.OnchainTick, error) {
	ts, err := ParseTimestamp(rec.BlockTimestamp)
	if err != nil {
		return market.OnchainTick{}, &market.DecodeError{Block: rec.BlockNumber, Reason: "bad timestamp: " + err.Error()}
	}
	if rec.BlockNumber == 0 {
		return market.OnchainTick{}, &market.DecodeError{Reason: "missing block number"}
	}

	payload := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(rec.Data), "0x"), "0X")
	if len(payload) < minPayloadHex {
		return market.OnchainTick{}, &market.DecodeError{Block: rec.BlockNumber, Reason: "payload shorter than 256 hex chars"}
	}

	raw, err := hexutil.Decode("0x" + payload[:minPayloadHex])
	if err != nil {
		return market.OnchainTick{}, &market.DecodeError{Block: rec.BlockNumber, Reason: "invalid hex payload"}
	}

	sqrtPrice := new(uint256.Int).SetBytes(raw[64:96]).ToBig()
	liquidity := new(uint256.Int).SetBytes(raw[96:128]).ToBig()
	if sqrtPrice.Sign() == 0 {
		return market.OnchainTick{}, &market.DecodeError{Block: rec.BlockNumber, Reason: "zero sqrtPriceX96"}
	}

	ratio := d.rawRatio(sqrtPrice)
	price, baseIsToken0 := d.rescale(ratio)
	if math.IsNaN(price) || math.IsInf(price, 0) || price < d.opts.SanityMin || price > d.opts.SanityMax {
		return market.OnchainTick{}, &market.OutOfBandError{Block: rec.BlockNumber, Price: price}
	}

	return market.OnchainTick{
		Timestamp:    ts,
		BlockNumber:  rec.BlockNumber,
		Price:        price,
		SqrtPriceX96: sqrtPrice,
		Liquidity:    liquidity,
		BaseIsToken0: baseIsToken0,
	}, nil
}

// DecodeAll decodes a batch, skipping bad records, and returns ticks sorted
// by timestamp then block number.
func (d *Decoder) DecodeAll(records []market.RawLog) ([]market.OnchainTick, Stats) {
	var stats Stats
	ticks := make([]market.OnchainTick, 0, len(records))
	for _, rec := range records {
		tick, err := d.Decode(rec)
		if err != nil {
			var oob *market.OutOfBandError
			if errors.As(err, &oob) {
				stats.OutOfBand++
			} else {
				stats.Malformed++
			}
			continue
		}
		ticks = append(ticks, tick)
	}
	stats.Accepted = len(ticks)

	sort.SliceStable(ticks, func(i, j int) bool {
		if ticks[i].Timestamp.Equal(ticks[j].Timestamp) {
			return ticks[i].BlockNumber < ticks[j].BlockNumber
		}
		return ticks[i].Timestamp.Before(ticks[j].Timestamp)
	})
	return ticks, stats
}

// rawRatio computes (sqrtPriceX96 / 2^96)^2, i.e. token1 per token0 in raw units.
func (d *Decoder) rawRatio(sqrtPriceX96 *big.Int) float64 {
	s := new(big.Float).SetPrec(floatPrec).SetInt(sqrtPriceX96)
	s.Quo(s, d.q96)
	s.Mul(s, s)
	ratio, _ := s.Float64()
	return ratio
}

func (d *Decoder) rescale(ratio float64) (float64, bool) {
	if d.opts.Mode == ModeExplicit {
		p := ratio * math.Pow10(d.opts.Token0Decimals-d.opts.Token1Decimals)
		if d.opts.BaseIsToken0 {
			return p, true
		}
		return 1 / p, false
	}

	p1 := ratio * d.scale
	p2 := ratio / d.scale
	candidates := []struct {
		price        float64
		baseIsToken0 bool
	}{
		{p1, true},
		{1 / p1, false},
		{p2, true},
		{1 / p2, false},
	}
	for _, c := range candidates {
		if c.price > d.opts.PlausibleMin && c.price < d.opts.PlausibleMax {
			return c.price, c.baseIsToken0
		}
	}
	return d.scale / ratio, false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// ParseTimestamp accepts RFC3339 and the BigQuery "YYYY-MM-DD hh:mm:ss[.f] UTC"
// form. Zone-less values are read as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	v = strings.TrimSuffix(v, " UTC")
	if v == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.ParseInLocation(layout, v, time.UTC)
		if err == nil {
			return ts.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
