package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"cexdex-arb/internal/market"
)

// ShardStats summarises one trade shard.
type ShardStats struct {
	File    string
	Trades  int
	Skipped int
	Err     error
}

// TradeSink receives the parsed trades of a shard. Calls are serialised and
// follow shard name order regardless of which shard finishes first.
type TradeSink func(trades []market.Trade)

// ListShards returns the CSV files of a trade directory in name order.
func ListShards(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: trades dir %s", market.ErrDataUnavailable, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("list trade shards: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no csv shards in %s", market.ErrDataUnavailable, dir)
	}
	return files, nil
}

// ReadTradesDir parses every shard concurrently and hands each shard to sink
// in name order, so downstream folds see the same sequence on every run. A
// shard that fails to parse is reported in its stats and skipped.
func ReadTradesDir(ctx context.Context, dir string, workers int, sink TradeSink) ([]ShardStats, error) {
	files, err := ListShards(dir)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	stats := make([]ShardStats, len(files))
	var (
		mu      sync.Mutex
		pending = make([][]market.Trade, len(files))
		done    = make([]bool, len(files))
		next    int
	)
	// flush drains the finished prefix; mu must be held.
	flush := func() {
		for next < len(files) && done[next] {
			if pending[next] != nil {
				sink(pending[next])
				pending[next] = nil
			}
			next++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			trades, skipped, err := ReadTradesFile(file)
			stats[i] = ShardStats{File: file, Trades: len(trades), Skipped: skipped, Err: err}
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				pending[i] = trades
			}
			done[i] = true
			flush()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

// ReadTradesFile parses one shard.
func ReadTradesFile(path string) ([]market.Trade, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open trade shard: %w", err)
	}
	defer f.Close()
	return DecodeTrades(f)
}

// DecodeTrades reads a header-led CSV with a time (or ts) column in an epoch
// unit, a price column and a qty (or quantity) column. Extra columns are
// ignored; rows that fail to parse are skipped and counted.
func DecodeTrades(r io.Reader) ([]market.Trade, int, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []market.Trade{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read trade header: %w", err)
	}
	cols := indexColumns(header)
	timeIdx := firstColumn(cols, "time", "ts", "timestamp", "transact_time")
	priceIdx := firstColumn(cols, "price")
	qtyIdx := firstColumn(cols, "qty", "quantity", "amount")
	if timeIdx < 0 || priceIdx < 0 || qtyIdx < 0 {
		return nil, 0, fmt.Errorf("trade header must contain time|ts, price and qty columns, got %v", header)
	}

	var (
		trades  []market.Trade
		skipped int
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				skipped++
				continue
			}
			return nil, skipped, fmt.Errorf("read trade row: %w", err)
		}
		maxIdx := max(timeIdx, priceIdx, qtyIdx)
		if len(rec) <= maxIdx {
			skipped++
			continue
		}
		ts, err := parseEpoch(rec[timeIdx])
		if err != nil {
			skipped++
			continue
		}
		price, err1 := strconv.ParseFloat(strings.TrimSpace(rec[priceIdx]), 64)
		qty, err2 := strconv.ParseFloat(strings.TrimSpace(rec[qtyIdx]), 64)
		if err1 != nil || err2 != nil {
			skipped++
			continue
		}
		trades = append(trades, market.Trade{Time: ts, Price: price, Quantity: qty})
	}
	if trades == nil {
		trades = []market.Trade{}
	}
	return trades, skipped, nil
}

// WriteTrades writes trades with a time column in microseconds.
func WriteTrades(w io.Writer, trades []market.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "price", "qty"}); err != nil {
		return err
	}
	for _, tr := range trades {
		row := []string{
			strconv.FormatInt(tr.Time, 10),
			strconv.FormatFloat(tr.Price, 'f', -1, 64),
			strconv.FormatFloat(tr.Quantity, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseEpoch(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	return cols
}

func firstColumn(cols map[string]int, names ...string) int {
	for _, n := range names {
		if i, ok := cols[n]; ok {
			return i
		}
	}
	return -1
}
