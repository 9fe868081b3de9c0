package source

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"cexdex-arb/internal/market"
)

const poolSwapABIJSON = `[{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"sender","type":"address"},{"indexed":true,"internalType":"address","name":"recipient","type":"address"},{"indexed":false,"internalType":"int256","name":"amount0","type":"int256"},{"indexed":false,"internalType":"int256","name":"amount1","type":"int256"},{"indexed":false,"internalType":"uint160","name":"sqrtPriceX96","type":"uint160"},{"indexed":false,"internalType":"uint128","name":"liquidity","type":"uint128"},{"indexed":false,"internalType":"int24","name":"tick","type":"int24"}],"name":"Swap","type":"event"}]`

// SwapTopic is the topic0 of the pool Swap event.
var SwapTopic common.Hash

func init() {
	parsed, err := abi.JSON(strings.NewReader(poolSwapABIJSON))
	if err != nil {
		panic("failed to parse pool Swap ABI: " + err.Error())
	}
	SwapTopic = parsed.Events["Swap"].ID
}

// ChainOptions parameterise the RPC log fetcher.
type ChainOptions struct {
	RPCURL        string
	PoolAddress   string
	Timeout       time.Duration
	BlockChunk    uint64
	HeaderWorkers int
}

// Chain fetches pool Swap logs and block base fees over JSON-RPC.
type Chain struct {
	opts      ChainOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewChain builds a fetcher; the connection is dialled lazily.
func NewChain(opts ChainOptions, logger zerolog.Logger) *Chain {
	if opts.BlockChunk == 0 {
		opts.BlockChunk = 2000
	}
	if opts.HeaderWorkers <= 0 {
		opts.HeaderWorkers = 8
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Chain{opts: opts, logger: logger.With().Str("component", "chain_fetcher").Logger()}
}

// LatestBlock returns the current head.
func (c *Chain) LatestBlock(ctx context.Context) (uint64, error) {
	if err := c.validate(); err != nil {
		return 0, err
	}
	client, err := c.getClient(ctx)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	return client.BlockNumber(ctx)
}

// FetchSwaps returns the pool's Swap logs in [from, to] as raw records plus
// the base fee of every block that contained one.
func (c *Chain) FetchSwaps(ctx context.Context, from, to uint64) ([]market.RawLog, []market.FeeRecord, error) {
	if err := c.validate(); err != nil {
		return nil, nil, err
	}
	if to < from {
		return nil, nil, fmt.Errorf("invalid block range %d..%d", from, to)
	}
	client, err := c.getClient(ctx)
	if err != nil {
		return nil, nil, err
	}

	pool := common.HexToAddress(c.opts.PoolAddress)
	var logs []types.Log
	for _, r := range BlockRanges(from, to, c.opts.BlockChunk) {
		q := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(r[0]),
			ToBlock:   new(big.Int).SetUint64(r[1]),
			Addresses: []common.Address{pool},
			Topics:    [][]common.Hash{{SwapTopic}},
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		chunk, err := client.FilterLogs(reqCtx, q)
		cancel()
		if err != nil {
			return nil, nil, fmt.Errorf("filter logs %d..%d: %w", r[0], r[1], err)
		}
		logs = append(logs, chunk...)
		c.logger.Debug().Uint64("from", r[0]).Uint64("to", r[1]).Int("logs", len(chunk)).Msg("fetched swap logs")
	}

	headers, err := c.headers(ctx, client, logs)
	if err != nil {
		return nil, nil, err
	}

	raws := make([]market.RawLog, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		h, ok := headers[lg.BlockNumber]
		if !ok {
			continue
		}
		raws = append(raws, ToRawLog(lg, h.Time))
	}
	fees := make([]market.FeeRecord, 0, len(headers))
	for num, h := range headers {
		if h.BaseFee == nil {
			continue
		}
		fee, _ := new(big.Float).SetInt(h.BaseFee).Float64()
		fees = append(fees, market.FeeRecord{BlockNumber: num, BaseFee: fee})
	}
	sort.Slice(fees, func(i, j int) bool { return fees[i].BlockNumber < fees[j].BlockNumber })

	c.logger.Info().Uint64("from", from).Uint64("to", to).Int("swaps", len(raws)).Int("blocks", len(fees)).Msg("swap fetch complete")
	return raws, fees, nil
}

func (c *Chain) headers(ctx context.Context, client *ethclient.Client, logs []types.Log) (map[uint64]*types.Header, error) {
	blocks := make(map[uint64]struct{})
	for _, lg := range logs {
		blocks[lg.BlockNumber] = struct{}{}
	}

	out := make(map[uint64]*types.Header, len(blocks))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.HeaderWorkers)
	for num := range blocks {
		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(gctx, c.opts.Timeout)
			defer cancel()
			h, err := client.HeaderByNumber(reqCtx, new(big.Int).SetUint64(num))
			if err != nil {
				return fmt.Errorf("header %d: %w", num, err)
			}
			mu.Lock()
			out[num] = h
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Chain) validate() error {
	if c.opts.RPCURL == "" {
		return errors.New("ethereum rpc url not configured")
	}
	if !common.IsHexAddress(c.opts.PoolAddress) {
		return errors.New("pool address not configured")
	}
	return nil
}

func (c *Chain) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum rpc: %w", err)
	}
	c.client = client
	return client, nil
}

// Close releases the RPC connection.
func (c *Chain) Close() {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// ToRawLog renders a log the way the BigQuery export does.
func ToRawLog(lg types.Log, blockTime uint64) market.RawLog {
	ts := time.Unix(int64(blockTime), 0).UTC().Format("2006-01-02 15:04:05") + " UTC"
	return market.RawLog{
		BlockTimestamp: ts,
		BlockNumber:    lg.BlockNumber,
		Data:           hexutil.Encode(lg.Data),
	}
}

// BlockRanges splits [from, to] into inclusive chunks of at most size blocks.
func BlockRanges(from, to, size uint64) [][2]uint64 {
	if size == 0 || to < from {
		return nil
	}
	var out [][2]uint64
	for start := from; ; start += size {
		end := start + size - 1
		if end > to || end < start {
			end = to
		}
		out = append(out, [2]uint64{start, end})
		if end == to {
			break
		}
	}
	return out
}
