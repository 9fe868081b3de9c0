// Package cache persists the aligned event set behind an input fingerprint so
// that unchanged inputs skip decoding, aggregation and alignment.
package cache

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"cexdex-arb/internal/market"
)

// FormatVersion is bumped whenever the artifact layout changes.
const FormatVersion = 1

// ErrCorrupt marks an artifact that cannot be decoded.
var ErrCorrupt = errors.New("cache: corrupt artifact")

// Header describes an artifact.
type Header struct {
	Version     int       `json:"version"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
	Count       int       `json:"count"`
}

type artifact struct {
	Header Header        `json:"header"`
	Events []eventRecord `json:"events"`
}

type eventRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	BlockNumber  uint64    `json:"block_number"`
	Price        float64   `json:"price_onchain"`
	SqrtPriceX96 string    `json:"sqrt_price_x96,omitempty"`
	Liquidity    string    `json:"liquidity,omitempty"`
	BaseIsToken0 bool      `json:"base_is_token0"`
	BarStart     time.Time `json:"bar_start"`
	Close        float64   `json:"bar_close"`
	VWAP         float64   `json:"bar_vwap"`
	Volatility   float64   `json:"bar_volatility"`
	Volume       float64   `json:"bar_volume"`
	QuoteVolume  float64   `json:"bar_quote_volume"`
	Trades       int       `json:"bar_trades"`
	Filled       bool      `json:"bar_filled,omitempty"`
	Source       string    `json:"bar_source,omitempty"`
	BaseFee      float64   `json:"base_fee"`
	LagNanos     int64     `json:"lag_ns"`
}

// Encode renders events deterministically: identical inputs give identical
// bytes.
func Encode(h Header, events []market.AlignedEvent) ([]byte, error) {
	a := artifact{Header: h, Events: make([]eventRecord, len(events))}
	a.Header.Version = FormatVersion
	a.Header.Count = len(events)
	a.Header.CreatedAt = h.CreatedAt.UTC()
	for i, ev := range events {
		a.Events[i] = toRecord(ev)
	}
	data, err := sonnet.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return data, nil
}

// Decode parses an artifact; any structural problem is reported as ErrCorrupt.
func Decode(data []byte) (Header, []market.AlignedEvent, error) {
	var a artifact
	if err := sonnet.Unmarshal(data, &a); err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if a.Header.Version == 0 || a.Header.Fingerprint == "" {
		return Header{}, nil, fmt.Errorf("%w: missing header", ErrCorrupt)
	}
	if a.Header.Count != len(a.Events) {
		return Header{}, nil, fmt.Errorf("%w: header count %d, found %d events", ErrCorrupt, a.Header.Count, len(a.Events))
	}
	events := make([]market.AlignedEvent, len(a.Events))
	for i, rec := range a.Events {
		ev, err := fromRecord(rec)
		if err != nil {
			return Header{}, nil, fmt.Errorf("%w: event %d: %v", ErrCorrupt, i, err)
		}
		events[i] = ev
	}
	return a.Header, events, nil
}

func toRecord(ev market.AlignedEvent) eventRecord {
	rec := eventRecord{
		Timestamp:    ev.Tick.Timestamp.UTC(),
		BlockNumber:  ev.Tick.BlockNumber,
		Price:        ev.Tick.Price,
		BaseIsToken0: ev.Tick.BaseIsToken0,
		BarStart:     ev.Bar.Start.UTC(),
		Close:        ev.Bar.Close,
		VWAP:         ev.Bar.VWAP,
		Volatility:   ev.Bar.Volatility,
		Volume:       ev.Bar.Volume,
		QuoteVolume:  ev.Bar.QuoteVolume,
		Trades:       ev.Bar.Trades,
		Filled:       ev.Bar.Filled,
		BaseFee:      ev.BaseFee,
		LagNanos:     int64(ev.Lag),
	}
	if ev.Tick.SqrtPriceX96 != nil {
		rec.SqrtPriceX96 = ev.Tick.SqrtPriceX96.String()
	}
	if ev.Tick.Liquidity != nil {
		rec.Liquidity = ev.Tick.Liquidity.String()
	}
	if !ev.Bar.Source.IsZero() {
		rec.Source = ev.Bar.Source.UTC().Format(time.RFC3339Nano)
	}
	return rec
}

func fromRecord(rec eventRecord) (market.AlignedEvent, error) {
	if rec.BlockNumber == 0 || !(rec.Price > 0) || !(rec.VWAP > 0) {
		return market.AlignedEvent{}, errors.New("missing block or price")
	}
	ev := market.AlignedEvent{
		Tick: market.OnchainTick{
			Timestamp:    rec.Timestamp.UTC(),
			BlockNumber:  rec.BlockNumber,
			Price:        rec.Price,
			BaseIsToken0: rec.BaseIsToken0,
		},
		Bar: market.OffchainBar{
			Start:       rec.BarStart.UTC(),
			Close:       rec.Close,
			VWAP:        rec.VWAP,
			Volatility:  rec.Volatility,
			Volume:      rec.Volume,
			QuoteVolume: rec.QuoteVolume,
			Trades:      rec.Trades,
			Filled:      rec.Filled,
		},
		BaseFee: rec.BaseFee,
		Lag:     time.Duration(rec.LagNanos),
	}
	var err error
	if ev.Tick.SqrtPriceX96, err = parseBig(rec.SqrtPriceX96); err != nil {
		return market.AlignedEvent{}, fmt.Errorf("sqrt price: %w", err)
	}
	if ev.Tick.Liquidity, err = parseBig(rec.Liquidity); err != nil {
		return market.AlignedEvent{}, fmt.Errorf("liquidity: %w", err)
	}
	if rec.Source != "" {
		src, err := time.Parse(time.RFC3339Nano, rec.Source)
		if err != nil {
			return market.AlignedEvent{}, fmt.Errorf("bar source: %w", err)
		}
		ev.Bar.Source = src.UTC()
	}
	return ev, nil
}

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}
