// Package targetvcs is the target VCS adapter (spec §4.2): thin,
// atomic operations against a git repository, shelled through the
// git(1) binary. Every operation here is a single atomic unit with
// respect to one ref update, per spec §5's shared-resource policy.
package targetvcs

import (
	"context"
	"time"
)

// Signature is a commit's author/committer identity.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// ZeroOID is git's "ref must not currently exist" sentinel for
// update-ref's expected-old-value compare-and-swap.
const ZeroOID = "0000000000000000000000000000000000000000"

// Store is everything the engine consumes from the target VCS.
type Store interface {
	// CommitTree stages workdir's full contents into a new tree and
	// commits it with the given parents, recording message, author and
	// committer (always equal, per spec §4.5), and returns the new
	// commit id; it moves no ref (use UpdateRef). There is no allowEmpty
	// option: commit-tree never refuses an empty diff against its parents.
	CommitTree(ctx context.Context, workdir, message string, parents []string, sig Signature) (commit string, err error)

	// CommitFromTree creates a commit directly from an existing tree id
	// (typically borrowed from another commit), without touching any
	// working directory. The processing engine uses this exclusively:
	// it combines trees that retrieval already materialized rather than
	// re-populating a work tree itself (spec §4.5).
	CommitFromTree(ctx context.Context, tree, message string, parents []string, sig Signature) (commit string, err error)

	// UpdateRef atomically sets ref to newCommit, failing if ref's
	// current value is not expectedOld (use ZeroOID to require absence).
	UpdateRef(ctx context.Context, ref, newCommit, expectedOld string) error

	// ReadRef returns ref's current commit, or "" if it does not exist.
	ReadRef(ctx context.Context, ref string) (string, error)

	// Show returns the content of path as of commit/tree ref.
	Show(ctx context.Context, ref, path string) ([]byte, error)

	// DiffTree reports whether a and b's trees differ.
	DiffTree(ctx context.Context, a, b string) (nonEmpty bool, err error)

	// IsAncestor reports whether ancestor is reachable from descendant.
	IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error)

	// HashObject stores data as a git blob and returns its hash,
	// without requiring it to live in any tree or commit.
	HashObject(ctx context.Context, data []byte) (string, error)

	// CommitMessage returns a commit's message, used to recover the
	// "transaction <T>" marker (spec's data model).
	CommitMessage(ctx context.Context, commit string) (string, error)

	// Commits returns every commit on ref, oldest first.
	Commits(ctx context.Context, ref string) ([]string, error)

	// Parents returns a commit's parent commit ids, in order.
	Parents(ctx context.Context, commit string) ([]string, error)

	// Tree returns a commit's tree id.
	Tree(ctx context.Context, commit string) (string, error)
}
