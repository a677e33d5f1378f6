// Package xerrors is the conversion engine's error taxonomy (spec §7).
package xerrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for retry and propagation purposes.
type Kind string

const (
	KindTransientSource Kind = "TRANSIENT_SOURCE"
	KindSource          Kind = "SOURCE"
	KindParse           Kind = "PARSE"
	KindTarget          Kind = "TARGET"
	KindInvariant       Kind = "INVARIANT"
)

// Error wraps an underlying cause with the operator-visible context
// spec §7 requires: the transaction id, stream id and operation name.
type Error struct {
	Kind      Kind
	Op        string
	Depot     string
	StreamID  int // 0 when not applicable
	Tx        int // 0 when not applicable
	Err       error
}

func (e *Error) Error() string {
	switch {
	case e.StreamID != 0 && e.Tx != 0:
		return fmt.Sprintf("%s: %s (depot=%s stream=%d tx=%d): %v", e.Kind, e.Op, e.Depot, e.StreamID, e.Tx, e.Err)
	case e.Tx != 0:
		return fmt.Sprintf("%s: %s (depot=%s tx=%d): %v", e.Kind, e.Op, e.Depot, e.Tx, e.Err)
	default:
		return fmt.Sprintf("%s: %s (depot=%s): %v", e.Kind, e.Op, e.Depot, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller should retry the operation
// that produced this error (spec §7: transient classes get one retry
// with backoff).
func (e *Error) Retryable() bool { return e.Kind == KindTransientSource }

// Fatal reports whether the error should abort the run rather than
// being contained to a single stream/transaction.
func (e *Error) Fatal() bool {
	return e.Kind == KindTarget || e.Kind == KindInvariant
}

func newErr(kind Kind, op, depot string, streamID, tx int, err error) *Error {
	return &Error{Kind: kind, Op: op, Depot: depot, StreamID: streamID, Tx: tx, Err: err}
}

func TransientSource(op, depot string, tx int, err error) *Error {
	return newErr(KindTransientSource, op, depot, 0, tx, err)
}

func Source(op, depot string, tx int, err error) *Error {
	return newErr(KindSource, op, depot, 0, tx, err)
}

// Parse produces the sentinel error for malformed source XML (spec §7:
// the retrieval pipeline records an empty payload and continues rather
// than aborting the stream).
func Parse(op, depot string, streamID, tx int, err error) *Error {
	return newErr(KindParse, op, depot, streamID, tx, err)
}

func Target(op, depot string, err error) *Error {
	return newErr(KindTarget, op, depot, 0, 0, err)
}

func Invariant(op, depot string, streamID, tx int, err error) *Error {
	return newErr(KindInvariant, op, depot, streamID, tx, err)
}

// As is a thin wrapper over errors.As for the common case of
// extracting an *Error from an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
