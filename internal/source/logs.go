// Package source reads and fetches the raw inputs of the pipeline: pool
// Swap logs, exchange trade shards and block base fees.
package source

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/sugawarayuuta/sonnet"

	"cexdex-arb/internal/market"
)

// LogStats counts records seen while reading a log file.
type LogStats struct {
	Records int
	Skipped int
}

// uintField accepts a JSON number or a numeric string; BigQuery exports the
// block number either way.
type uintField uint64

func (u *uintField) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*u = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f < 0 {
			return fmt.Errorf("invalid block number %q", s)
		}
		v = uint64(f)
	}
	*u = uintField(v)
	return nil
}

type logRecord struct {
	BlockTimestamp string    `json:"block_timestamp"`
	BlockNumber    uintField `json:"block_number"`
	Data           string    `json:"data"`
}

func (r logRecord) raw() market.RawLog {
	return market.RawLog{BlockTimestamp: r.BlockTimestamp, BlockNumber: uint64(r.BlockNumber), Data: r.Data}
}

// ReadLogs loads a JSON array or JSON Lines export of pool logs. A missing
// file is reported as market.ErrDataUnavailable. Records that fail to parse
// are skipped and counted in either format.
func ReadLogs(path string) ([]market.RawLog, LogStats, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, LogStats{}, fmt.Errorf("%w: onchain logs %s", market.ErrDataUnavailable, path)
	}
	if err != nil {
		return nil, LogStats{}, fmt.Errorf("open onchain logs: %w", err)
	}
	defer f.Close()
	return DecodeLogs(f)
}

// DecodeLogs sniffs the first non-space byte to choose between array and
// line-delimited input.
func DecodeLogs(r io.Reader) ([]market.RawLog, LogStats, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return []market.RawLog{}, LogStats{}, nil
	}
	if err != nil {
		return nil, LogStats{}, fmt.Errorf("read onchain logs: %w", err)
	}

	if first == '[' {
		data, err := io.ReadAll(br)
		if err != nil {
			return nil, LogStats{}, fmt.Errorf("read onchain logs: %w", err)
		}
		var elems []sonnet.RawMessage
		if err := sonnet.Unmarshal(data, &elems); err != nil {
			return nil, LogStats{}, fmt.Errorf("parse onchain log array: %w", err)
		}
		out := make([]market.RawLog, 0, len(elems))
		stats := LogStats{Records: len(elems)}
		for _, elem := range elems {
			var rec logRecord
			if err := sonnet.Unmarshal(elem, &rec); err != nil {
				stats.Skipped++
				continue
			}
			out = append(out, rec.raw())
		}
		return out, stats, nil
	}

	var (
		out   []market.RawLog
		stats LogStats
	)
	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.Records++
		var rec logRecord
		if err := sonnet.Unmarshal(line, &rec); err != nil {
			stats.Skipped++
			continue
		}
		out = append(out, rec.raw())
	}
	if err := sc.Err(); err != nil {
		return nil, stats, fmt.Errorf("scan onchain logs: %w", err)
	}
	if out == nil {
		out = []market.RawLog{}
	}
	return out, stats, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case 0xEF:
			// UTF-8 BOM
			_, _ = br.Discard(2)
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}

// WriteLogs writes records as JSON Lines in the same shape ReadLogs accepts.
func WriteLogs(w io.Writer, records []market.RawLog) error {
	bw := bufio.NewWriter(w)
	for _, rec := range records {
		line, err := sonnet.Marshal(struct {
			BlockTimestamp string `json:"block_timestamp"`
			BlockNumber    uint64 `json:"block_number"`
			Data           string `json:"data"`
		}{rec.BlockTimestamp, rec.BlockNumber, rec.Data})
		if err != nil {
			return fmt.Errorf("encode log: %w", err)
		}
		if _, err := bw.Write(line); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
