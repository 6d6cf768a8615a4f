package kv

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies the error taxonomy from the specification. NotFound is
// never wrapped into an *Error; it is reported as a plain bool/ok return
// wherever the API allows it, so control flow need not branch on errors
// for the common "absent key" case.
type Kind int

const (
	KindLengthMismatch Kind = iota + 1
	KindDecodeError
	KindNestingConflict
	KindFlagMismatch
	KindMapFull
	KindReadersFull
	KindInvalidated
	KindStoreError
)

func (k Kind) String() string {
	switch k {
	case KindLengthMismatch:
		return "LengthMismatch"
	case KindDecodeError:
		return "DecodeError"
	case KindNestingConflict:
		return "NestingConflict"
	case KindFlagMismatch:
		return "FlagMismatch"
	case KindMapFull:
		return "MapFull"
	case KindReadersFull:
		return "ReadersFull"
	case KindInvalidated:
		return "Invalidated"
	case KindStoreError:
		return "StoreError"
	default:
		return "Unknown"
	}
}

// Error is the single error type every non-NotFound failure in this module
// takes the shape of. Op names the operation that failed (e.g. "mdbx_get"),
// mirroring the C strerror-style messages the original wrapper produced.
type Error struct {
	Kind Kind
	Op   string
	err  error
}

func newError(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, err: cause}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("mdbxkv: %s: %s: %v", e.Op, e.Kind, e.err)
	}
	return fmt.Sprintf("mdbxkv: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.err }

// Is allows errors.Is(err, kv.ErrInvalidated) style comparisons against the
// *Error sentinels below, by kind rather than identity, so a wrapped *Error
// still compares equal to the bare sentinel. ErrNotFound is not an *Error
// and is matched by identity only.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Sentinels for errors.Is comparisons. NotFound is its own distinct type
// (see ErrNotFound below) since it is never constructed with newError.
var (
	ErrLengthMismatch = &Error{Kind: KindLengthMismatch}
	ErrDecodeError    = &Error{Kind: KindDecodeError}
	ErrNestingConflict = &Error{Kind: KindNestingConflict}
	ErrFlagMismatch    = &Error{Kind: KindFlagMismatch}
	ErrMapFull         = &Error{Kind: KindMapFull}
	ErrReadersFull     = &Error{Kind: KindReadersFull}
	ErrInvalidated     = &Error{Kind: KindInvalidated}
	ErrStoreError      = &Error{Kind: KindStoreError}
)

// ErrNotFound is returned by operations that choose to surface "absent"
// as an error value rather than a boolean (Tx.Delete, Cursor positioning,
// Table.Modify). Most of this module's Get-shaped operations use a plain
// bool instead; see kv/txn.go and table/table.go.
var ErrNotFound = errors.New("mdbxkv: not found")

func storeError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return newError(KindStoreError, op, errors.Wrap(cause, op))
}
