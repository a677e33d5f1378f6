// Package model defines the AccuRev domain entities the conversion
// engine operates on: depots, streams, transactions and the element
// changes they carry.
package model

import "time"

// StreamKind enumerates the AccuRev stream kinds relevant to conversion.
type StreamKind string

const (
	KindNormal    StreamKind = "normal"
	KindWorkspace StreamKind = "workspace"
	KindGated     StreamKind = "gated"
	KindUnknown   StreamKind = "unknown"
)

// Depot is a named, stably-identified container of streams and transactions.
type Depot struct {
	ID   int
	Name string
}

// Stream is a versioned view of a depot's elements, parented by an
// optional basis stream. Basis and Timelock reflect the most recent
// "show streams" snapshot at or before the transaction in question;
// they are not live pointers.
type Stream struct {
	ID       int
	Name     string
	Basis    *int // nil means no basis (a root stream)
	Kind     StreamKind
	Timelock *int // nil means unset
}

// HasBasis reports whether s has a parent stream.
func (s Stream) HasBasis() bool {
	return s.Basis != nil
}

// TxKind enumerates the transaction kinds the engine dispatches on.
type TxKind string

const (
	KindMkstream TxKind = "mkstream"
	KindChstream TxKind = "chstream"
	KindPromote  TxKind = "promote"
	KindKeep     TxKind = "keep"
	KindDefunct  TxKind = "defunct"
	KindPurge    TxKind = "purge"
	KindMove     TxKind = "move"
	KindOther    TxKind = "other"
)

// ElementChange names one file touched by a transaction.
type ElementChange struct {
	Path string
	// ChangeType is the source's own verb for this change (add, modify,
	// delete, move, ...), kept for diagnostics; the engine does not
	// branch on it beyond Non-goals (no per-element rename reconstruction).
	ChangeType string
}

// Transaction is one immutable, monotonically-numbered unit of change
// in a depot's history.
type Transaction struct {
	ID          int
	Depot       string
	Kind        TxKind
	Author      string
	Timestamp   time.Time
	Message     string
	FromStream  *int // promote source, if known
	ToStream    *int // promote destination, if present
	Elements    []ElementChange
	// WorkspaceOrigin is set when the transaction originated in a
	// workspace rather than directly in a stream (spec §4.5).
	WorkspaceOrigin bool
	// RawHistXML is the normalized (TaskId-zeroed) hist.xml payload for
	// this single transaction, stored verbatim on the info ref.
	RawHistXML []byte
}

// StreamsSnapshot is the result of a "show streams" query at one
// transaction: every stream known to the depot at that point.
type StreamsSnapshot struct {
	Tx      int
	Streams map[int]Stream
	// RawXML is the normalized streams.xml payload, stored verbatim on
	// the info ref.
	RawXML []byte
}

// Clone returns a deep-enough copy of the snapshot's stream map so
// callers may safely retain it.
func (s StreamsSnapshot) Clone() StreamsSnapshot {
	streams := make(map[int]Stream, len(s.Streams))
	for id, st := range s.Streams {
		streams[id] = st
	}
	return StreamsSnapshot{Tx: s.Tx, Streams: streams, RawXML: s.RawXML}
}
