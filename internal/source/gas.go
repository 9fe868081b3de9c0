package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"cexdex-arb/internal/market"
)

// ReadGas loads block base fees. The block column may be named block_number
// or number.
func ReadGas(path string) ([]market.FeeRecord, int, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, fmt.Errorf("%w: gas csv %s", market.ErrDataUnavailable, path)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open gas csv: %w", err)
	}
	defer f.Close()
	return DecodeGas(f)
}

// DecodeGas parses a base fee CSV, skipping and counting bad rows.
func DecodeGas(r io.Reader) ([]market.FeeRecord, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []market.FeeRecord{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read gas header: %w", err)
	}
	cols := indexColumns(header)
	blockIdx := firstColumn(cols, "block_number", "number")
	feeIdx := firstColumn(cols, "base_fee_per_gas")
	if blockIdx < 0 || feeIdx < 0 {
		return nil, 0, fmt.Errorf("gas header must contain block_number|number and base_fee_per_gas, got %v", header)
	}

	records := []market.FeeRecord{}
	skipped := 0
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
			return nil, skipped, fmt.Errorf("read gas row: %w", err)
		}
		if len(rec) <= max(blockIdx, feeIdx) {
			skipped++
			continue
		}
		block, err := parseEpoch(rec[blockIdx])
		if err != nil || block <= 0 {
			skipped++
			continue
		}
		fee, err := strconv.ParseFloat(strings.TrimSpace(rec[feeIdx]), 64)
		if err != nil || fee < 0 {
			skipped++
			continue
		}
		records = append(records, market.FeeRecord{BlockNumber: uint64(block), BaseFee: fee})
	}
	return records, skipped, nil
}

// WriteGas writes base fees in the shape DecodeGas reads.
func WriteGas(w io.Writer, records []market.FeeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"block_number", "base_fee_per_gas"}); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write([]string{
			strconv.FormatUint(r.BlockNumber, 10),
			strconv.FormatFloat(r.BaseFee, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
