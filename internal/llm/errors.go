package llm

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrTokenization     = errors.New("tokenization failed")
	ErrDecode           = errors.New("decode failed")
	ErrNoKVSlot         = errors.New("no KV cache slot available")
	ErrAllocation       = errors.New("allocation failed")
	ErrUnsupported      = errors.New("unsupported operation")

	ErrBatchFull      = errors.New("batch is full")
	ErrInvalidModel   = errors.New("invalid model")
	ErrInvalidContext = errors.New("invalid context")
	ErrInvalidState   = errors.New("invalid state data")
)

// DecodeError reports a non-zero forward pass result. Code 1 means the engine
// found no cache capacity; the batch may be retried after freeing memory.
type DecodeError struct {
	Op   string
	Code int32
}

func (e *DecodeError) Error() string {
	if e.Code == 1 {
		return fmt.Sprintf("%s: %v", e.Op, ErrNoKVSlot)
	}
	return fmt.Sprintf("%s failed with code %d", e.Op, e.Code)
}

// Retryable reports whether freeing cache space could make a retry succeed.
func (e *DecodeError) Retryable() bool { return e.Code == 1 }

func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrNoKVSlot:
		return e.Code == 1
	case ErrDecode:
		return true
	}
	return false
}

// GenerationError carries the state of the completion loop at the point a
// failure or recovered panic occurred.
type GenerationError struct {
	Stage        Stage
	LastToken    int32
	PieceLen     int32
	Needed       int64
	GeneratedLen int
	Cause        error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed at stage %s (token=%d piece_len=%d needed=%d generated_len=%d): %v",
		e.Stage, e.LastToken, e.PieceLen, e.Needed, e.GeneratedLen, e.Cause)
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// IsRetryable reports whether err is a decode failure caused by missing
// cache capacity.
func IsRetryable(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Retryable()
}

// IsCapacityExceeded reports whether the prompt did not fit the batch or context.
func IsCapacityExceeded(err error) bool { return errors.Is(err, ErrCapacityExceeded) }

// IsInvalidArgument reports whether err stems from caller input.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrBatchFull)
}

// IsTokenization reports whether tokenization or detokenization failed.
func IsTokenization(err error) bool { return errors.Is(err, ErrTokenization) }

// IsUnsupported reports whether the memory layout forbids the operation.
func IsUnsupported(err error) bool { return errors.Is(err, ErrUnsupported) }
