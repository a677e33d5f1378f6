// Package engine is the processing engine (spec §4.5): for every
// planner-ordered transaction it classifies the transaction and
// dispatches mkstream/chstream/promote/workspace-origin handling,
// recursing depth-first into children, then hands the resulting
// commit moves to internal/state for the audit chain.
//
// Classification is kept pure (classify.go): given a transaction, the
// stream-basis graph at tx-1/tx and the current tip map, it returns a
// Decision describing what commit to make without touching the
// target store. engine.go holds everything that calls into
// targetvcs.Store (Engine.apply and the tree/ancestry/ref-index
// helpers it and propagate use), grounded in internal/change/factory.go's
// interface-builds-a-tree/apply-executes-it split.
package engine

// Kind enumerates the shapes a Decision's commit can take.
type Kind string

const (
	KindNoop       Kind = "noop"
	KindOrphan     Kind = "orphan"
	KindMerge      Kind = "merge"
	KindCherryPick Kind = "cherrypick"
)

// Decision is a pure description of one commit to create on one
// stream's visible branch (or the absence of one).
type Decision struct {
	Stream  int
	Kind    Kind
	Message string

	// Parents names the tracked streams whose CURRENT tip (at apply
	// time) becomes a parent, in order. Ignored for KindNoop/KindOrphan.
	Parents []int

	// TreeFromStream names the stream whose data tree at Tx supplies the
	// new commit's tree. Zero means use TreeFromStreamTip instead.
	TreeFromStream int
	Tx             int

	// TreeFromStreamTip names a tracked stream whose CURRENT visible tip
	// (at apply time) supplies the tree, used when a commit must borrow
	// a sibling's just-created tree rather than a data commit (the
	// empty-child-propagation cases, which reuse the basis stream's
	// brand new commit tree verbatim).
	TreeFromStreamTip int

	// FastForwardStream, if nonzero, is advanced to the same new commit
	// once it exists (source-stream-fast-forward=true on a promote).
	FastForwardStream int
}

// Result is what ProcessTransaction reports for one stream whose
// visible branch it touched (or deliberately left untouched).
type Result struct {
	Stream   int
	Tx       int
	PriorTip string
	NewTip   string
	Moved    bool
}
