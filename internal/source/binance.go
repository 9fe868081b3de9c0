package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sugawarayuuta/sonnet"

	"cexdex-arb/internal/market"
)

const (
	aggTradesPath = "/api/v3/aggTrades"
	aggTradesMax  = 1000
)

// BinanceOptions parameterise the exchange trade fetcher.
type BinanceOptions struct {
	BaseURL   string
	Symbol    string
	Timeout   time.Duration
	UserAgent string
	// PageLimit bounds the number of requests per call; zero means no bound.
	PageLimit int
}

// Binance downloads aggregated trades from the public REST API.
type Binance struct {
	opts    BinanceOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewBinance constructs a trade fetcher.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &Binance{
		opts:    opts,
		logger:  logger.With().Str("component", "binance_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type aggTrade struct {
	ID       int64  `json:"a"`
	Price    string `json:"p"`
	Quantity string `json:"q"`
	Time     int64  `json:"T"`
}

// FetchTrades returns trades in [from, to) with microsecond timestamps, the
// unit the trade shard reader expects.
func (b *Binance) FetchTrades(ctx context.Context, from, to time.Time) ([]market.Trade, error) {
	if b.opts.Symbol == "" {
		return nil, errors.New("binance symbol not configured")
	}
	if !to.After(from) {
		return nil, fmt.Errorf("invalid time range %s..%s", from, to)
	}

	endMs := to.UnixMilli()
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(b.opts.Symbol))
	params.Set("startTime", strconv.FormatInt(from.UnixMilli(), 10))
	// The API caps startTime/endTime windows at one hour.
	params.Set("endTime", strconv.FormatInt(min(endMs-1, from.Add(time.Hour).UnixMilli()-1), 10))
	params.Set("limit", strconv.Itoa(aggTradesMax))

	var out []market.Trade
	for page := 0; b.opts.PageLimit == 0 || page < b.opts.PageLimit; page++ {
		batch, err := b.fetchPage(ctx, params)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			if params.Has("fromId") {
				break
			}
			// Empty first window; move to the next hour.
			start, _ := strconv.ParseInt(params.Get("startTime"), 10, 64)
			next := start + time.Hour.Milliseconds()
			if next >= endMs {
				break
			}
			params.Set("startTime", strconv.FormatInt(next, 10))
			params.Set("endTime", strconv.FormatInt(min(endMs-1, next+time.Hour.Milliseconds()-1), 10))
			continue
		}

		done := false
		for _, tr := range batch {
			if tr.Time >= endMs {
				done = true
				break
			}
			price, err1 := strconv.ParseFloat(tr.Price, 64)
			qty, err2 := strconv.ParseFloat(tr.Quantity, 64)
			if err1 != nil || err2 != nil {
				continue
			}
			out = append(out, market.Trade{Time: tr.Time * 1000, Price: price, Quantity: qty})
		}
		if done {
			break
		}
		params.Del("startTime")
		params.Del("endTime")
		params.Set("fromId", strconv.FormatInt(batch[len(batch)-1].ID+1, 10))
	}

	b.logger.Info().Str("symbol", b.opts.Symbol).Int("trades", len(out)).Msg("trade fetch complete")
	if out == nil {
		out = []market.Trade{}
	}
	return out, nil
}

func (b *Binance) fetchPage(ctx context.Context, params url.Values) ([]aggTrade, error) {
	endpoint := b.baseURL + aggTradesPath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "cexdexarb/1.0")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseBinanceError(resp.StatusCode, payload)
	}

	var batch []aggTrade
	if err := sonnet.Unmarshal(payload, &batch); err != nil {
		return nil, fmt.Errorf("decode aggTrades: %w", err)
	}
	return batch, nil
}

type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func parseBinanceError(status int, payload []byte) error {
	var apiErr binanceError
	if err := sonnet.Unmarshal(payload, &apiErr); err == nil && apiErr.Msg != "" {
		return fmt.Errorf("binance api error (%d/%d): %s", status, apiErr.Code, apiErr.Msg)
	}
	if len(payload) > 0 {
		return fmt.Errorf("binance api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("binance api error (%d)", status)
}
