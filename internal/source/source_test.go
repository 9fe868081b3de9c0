package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"cexdex-arb/internal/market"
)

func TestDecodeLogsArray(t *testing.T) {
	in := ` [
	  {"block_timestamp":"2025-09-01 00:00:11 UTC","block_number":"23263482","data":"0xaa","topics":["0x1"]},
	  {"block_timestamp":"2025-09-01 00:00:23 UTC","block_number":23263483,"data":"0xbb"}
	]`
	logs, stats, err := DecodeLogs(strings.NewReader(in))
	if err != nil {
		t.Fatalf("数组格式应解析成功: %v", err)
	}
	if len(logs) != 2 || stats.Records != 2 || stats.Skipped != 0 {
		t.Fatalf("unexpected result %v %+v", logs, stats)
	}
	if logs[0].BlockNumber != 23263482 || logs[1].BlockNumber != 23263483 {
		t.Fatalf("string and numeric block numbers should both parse: %+v", logs)
	}
	if logs[0].Data != "0xaa" || logs[0].BlockTimestamp != "2025-09-01 00:00:11 UTC" {
		t.Fatalf("unexpected record %+v", logs[0])
	}
}

func TestDecodeLogsArraySkipsBadRecords(t *testing.T) {
	in := `[
	  {"block_timestamp":"2025-09-01 00:00:11 UTC","block_number":100,"data":"0xaa"},
	  {"block_timestamp":"2025-09-01 00:00:12 UTC","block_number":"abc","data":"0xbb"},
	  {"block_timestamp":"2025-09-01 00:00:13 UTC","block_number":102,"data":42},
	  {"block_timestamp":"2025-09-01 00:00:14 UTC","block_number":103,"data":"0xdd"}
	]`
	logs, stats, err := DecodeLogs(strings.NewReader(in))
	if err != nil {
		t.Fatalf("单条坏记录不应导致整体失败: %v", err)
	}
	if stats.Records != 4 || stats.Skipped != 2 {
		t.Fatalf("expected 4 records with 2 skipped, got %+v", stats)
	}
	if len(logs) != 2 || logs[0].BlockNumber != 100 || logs[1].BlockNumber != 103 {
		t.Fatalf("good records should survive in order: %+v", logs)
	}
}

func TestDecodeLogsTruncatedArray(t *testing.T) {
	if _, _, err := DecodeLogs(strings.NewReader(`[{"block_number":1,"data":"0xaa"}`)); err == nil {
		t.Fatal("truncated array should fail")
	}
}

func TestDecodeLogsJSONLines(t *testing.T) {
	in := "\ufeff" + `{"block_timestamp":"2025-09-01 00:00:11 UTC","block_number":"1","data":"0xaa"}
not json at all

{"block_timestamp":"2025-09-01 00:00:12 UTC","block_number":2,"data":"0xbb"}
`
	logs, stats, err := DecodeLogs(strings.NewReader(in))
	if err != nil {
		t.Fatalf("JSON Lines 应解析成功: %v", err)
	}
	if len(logs) != 2 || stats.Records != 3 || stats.Skipped != 1 {
		t.Fatalf("bad line should be skipped: %v %+v", logs, stats)
	}
}

func TestDecodeLogsEmpty(t *testing.T) {
	logs, _, err := DecodeLogs(strings.NewReader("  \n"))
	if err != nil || len(logs) != 0 {
		t.Fatalf("empty input should give no logs: %v %v", logs, err)
	}
}

func TestReadLogsMissing(t *testing.T) {
	_, _, err := ReadLogs(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, market.ErrDataUnavailable) {
		t.Fatalf("缺失文件应返回 ErrDataUnavailable, got %v", err)
	}
}

func TestWriteLogsIsReadable(t *testing.T) {
	var buf bytes.Buffer
	in := []market.RawLog{{BlockTimestamp: "2025-09-01 00:00:11 UTC", BlockNumber: 7, Data: "0x01"}}
	if err := WriteLogs(&buf, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, _, err := DecodeLogs(&buf)
	if err != nil || len(out) != 1 || out[0] != in[0] {
		t.Fatalf("written logs should read back: %v %v", out, err)
	}
}

func TestDecodeTradesHeaderVariants(t *testing.T) {
	in := "id,price,qty,quote_qty,ts,is_buyer_maker\n" +
		"1,3000.5,0.1,300.05,1756684800000000,true\n" +
		"2,bad,0.1,0,1756684800100000,false\n" +
		"3,3001,0.2,600.2,1756684800200000\n"
	trades, skipped, err := DecodeTrades(strings.NewReader(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(trades) != 2 || skipped != 1 {
		t.Fatalf("expected 2 trades and 1 skipped, got %d/%d", len(trades), skipped)
	}
	if trades[0].Time != 1756684800000000 || trades[0].Price != 3000.5 || trades[0].Quantity != 0.1 {
		t.Fatalf("unexpected trade %+v", trades[0])
	}
}

func TestDecodeTradesRejectsMissingColumns(t *testing.T) {
	if _, _, err := DecodeTrades(strings.NewReader("price,qty\n1,2\n")); err == nil {
		t.Fatal("缺少时间列应报错")
	}
}

func TestReadTradesDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("b.csv", "time,price,qty\n1756684801000000,3001,1\n")
	write("a.csv", "time,price,qty\n1756684800000000,3000,1\n1756684800500000,3002,1\n")
	write("broken.csv", "price,qty\n1,2\n")
	write("notes.txt", "ignored")

	var (
		mu    sync.Mutex
		total int
	)
	stats, err := ReadTradesDir(context.Background(), dir, 2, func(trades []market.Trade) {
		mu.Lock()
		total += len(trades)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 trades across shards, got %d", total)
	}
	if len(stats) != 3 {
		t.Fatalf("expected 3 csv shards, got %d", len(stats))
	}
	var failed int
	for _, s := range stats {
		if s.Err != nil {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("the broken shard should be reported, got %d failures", failed)
	}
}

func TestReadTradesDirDeliversInNameOrder(t *testing.T) {
	dir := t.TempDir()
	const shards = 12
	for i := 0; i < shards; i++ {
		name := filepath.Join(dir, fmt.Sprintf("part-%02d.csv", i))
		// later shards are smaller so they tend to finish first
		var sb strings.Builder
		sb.WriteString("time,price,qty\n")
		for j := 0; j < (shards-i)*200; j++ {
			fmt.Fprintf(&sb, "%d,3000,1\n", 1756684800000000+int64(i))
		}
		if err := os.WriteFile(name, []byte(sb.String()), 0o644); err != nil {
			t.Fatalf("write shard: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "part-05.csv"), []byte("price,qty\n1,2\n"), 0o644); err != nil {
		t.Fatalf("write broken shard: %v", err)
	}

	for run := 0; run < 20; run++ {
		var order []int64
		_, err := ReadTradesDir(context.Background(), dir, 8, func(trades []market.Trade) {
			order = append(order, trades[0].Time-1756684800000000)
		})
		if err != nil {
			t.Fatalf("read dir: %v", err)
		}
		if len(order) != shards-1 {
			t.Fatalf("run %d: expected %d shards delivered, got %v", run, shards-1, order)
		}
		for k := 1; k < len(order); k++ {
			if order[k] <= order[k-1] {
				t.Fatalf("run %d: 分片顺序不稳定 %v", run, order)
			}
		}
	}
}

func TestListShardsMissing(t *testing.T) {
	if _, err := ListShards(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, market.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if _, err := ListShards(t.TempDir()); !errors.Is(err, market.ErrDataUnavailable) {
		t.Fatalf("empty dir should be unavailable, got %v", err)
	}
}

func TestDecodeGas(t *testing.T) {
	in := "number,base_fee_per_gas,gas_used\n100,15000000000,1\nx,1,1\n101,16000000000,1\n"
	fees, skipped, err := DecodeGas(strings.NewReader(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fees) != 2 || skipped != 1 {
		t.Fatalf("unexpected %v skipped=%d", fees, skipped)
	}
	if fees[1].BlockNumber != 101 || fees[1].BaseFee != 16e9 {
		t.Fatalf("unexpected fee %+v", fees[1])
	}

	var buf bytes.Buffer
	if err := WriteGas(&buf, fees); err != nil {
		t.Fatalf("write: %v", err)
	}
	again, _, err := DecodeGas(&buf)
	if err != nil || len(again) != 2 || again[0] != fees[0] {
		t.Fatalf("written gas should read back: %v %v", again, err)
	}
}

func TestReadGasMissing(t *testing.T) {
	if _, _, err := ReadGas(filepath.Join(t.TempDir(), "gas.csv")); !errors.Is(err, market.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestBlockRanges(t *testing.T) {
	got := BlockRanges(10, 25, 5)
	want := [][2]uint64{{10, 14}, {15, 19}, {20, 24}, {25, 25}}
	if len(got) != len(want) {
		t.Fatalf("unexpected ranges %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("range %d: got %v want %v", i, got[i], want[i])
		}
	}
	if BlockRanges(5, 4, 10) != nil {
		t.Fatal("inverted range should be empty")
	}
	if r := BlockRanges(7, 7, 100); len(r) != 1 || r[0] != [2]uint64{7, 7} {
		t.Fatalf("single block range: %v", r)
	}
}

func TestToRawLogMatchesExportFormat(t *testing.T) {
	lg := types.Log{BlockNumber: 23263482, Data: []byte{0xab, 0xcd}}
	raw := ToRawLog(lg, 1756684811)
	if raw.BlockTimestamp != "2025-09-01 00:00:11 UTC" {
		t.Fatalf("unexpected timestamp %q", raw.BlockTimestamp)
	}
	if raw.Data != "0xabcd" || raw.BlockNumber != 23263482 {
		t.Fatalf("unexpected raw log %+v", raw)
	}
}

func TestChainMissingConfig(t *testing.T) {
	c := NewChain(ChainOptions{}, zerolog.Nop())
	if _, _, err := c.FetchSwaps(context.Background(), 1, 2); err == nil {
		t.Fatal("未配置 RPC 时应报错")
	}
	c = NewChain(ChainOptions{RPCURL: "http://localhost"}, zerolog.Nop())
	if _, err := c.LatestBlock(context.Background()); err == nil {
		t.Fatal("缺少池地址应报错")
	}
}

func TestSwapTopic(t *testing.T) {
	want := "0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67"
	if SwapTopic.Hex() != want {
		t.Fatalf("unexpected Swap topic %s", SwapTopic.Hex())
	}
}
