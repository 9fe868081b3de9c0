package market

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode marks a malformed single record; callers skip and count it.
	ErrDecode = errors.New("decode failed")
	// ErrDataUnavailable marks a missing or empty required source.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrAlignmentGap marks a tick with no off-chain bar within tolerance.
	ErrAlignmentGap = errors.New("no off-chain match within tolerance")
	// ErrInsufficientLiquidity marks a swap the pool cannot fill; it is
	// priced as maximal slippage rather than surfaced to users.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
)

// DecodeError describes why a raw record was rejected.
type DecodeError struct {
	Block  uint64
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode block %d: %s", e.Block, e.Reason)
}

// Unwrap lets errors.Is match ErrDecode.
func (e *DecodeError) Unwrap() error { return ErrDecode }

// OutOfBandError is a DecodeError variant for implausible prices.
type OutOfBandError struct {
	Block uint64
	Price float64
}

func (e *OutOfBandError) Error() string {
	return fmt.Sprintf("decode block %d: price %.4f outside sanity band", e.Block, e.Price)
}

// Unwrap lets errors.Is match ErrDecode.
func (e *OutOfBandError) Unwrap() error { return ErrDecode }
