// Package sourcevcs defines the source VCS contract (spec §4.1) and an
// AccuRev-CLI-backed implementation. One exported method per
// operation, each returning a typed result, follows the teacher's
// client.Client shape; the transport is os/exec rather than net/http
// because the real collaborator here is a subprocess, not a service.
package sourcevcs

import (
	"context"

	"github.com/NavicoOS/ac2git/internal/model"
)

// PopOptions controls how Pop materializes a stream's contents.
type PopOptions struct {
	Recursive bool
	Overwrite bool
}

// Client is everything the retrieval pipeline consumes from the
// source VCS (spec §4.1). Implementations may over-approximate
// DeepHist but must never under-approximate it.
type Client interface {
	// Hist returns one transaction's metadata.
	Hist(ctx context.Context, depot string, tx int) (model.Transaction, error)

	// ShowStreams returns every stream known to the depot as of tx.
	ShowStreams(ctx context.Context, depot string, tx int) (model.StreamsSnapshot, error)

	// Diff returns the element paths that changed between two
	// transactions of the same stream. Undefined for mkstream.
	Diff(ctx context.Context, streamName string, fromTx, toTx int) ([]string, error)

	// Pop materializes streamName's contents at tx into destDir.
	Pop(ctx context.Context, streamName string, tx int, destDir string, opts PopOptions) error

	// DeepHist returns the minimal superset of transactions that could
	// have affected stream within [fromTx, toTx].
	DeepHist(ctx context.Context, depot string, streamID int, fromTx, toTx int) ([]int, error)

	// Login authenticates against the source server, used by the
	// retry policy after a TransientSourceError signals an expired session.
	Login(ctx context.Context) error

	// HighestTransaction resolves the depot's current transaction
	// number, used to turn the config's "highest"/"now" tx keywords
	// into a concrete end-tx once at startup.
	HighestTransaction(ctx context.Context, depot string) (int, error)

	// MkstreamTransaction resolves the transaction that created
	// streamName. ok is false for a depot's root stream, which has no
	// mkstream transaction of its own.
	MkstreamTransaction(ctx context.Context, streamName string) (tx int, ok bool, err error)
}
