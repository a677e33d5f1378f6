// Package state is the resume/audit layer (spec §4.6): state/last
// records the authoritative tip of every tracked stream's visible
// branch, and each stream's commit_history ref is an orphan-rooted
// audit chain recording every transaction that moved it, so any past
// position can be reconstructed without replaying the whole convert.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/NavicoOS/ac2git/internal/refs"
	"github.com/NavicoOS/ac2git/internal/targetvcs"
)

// EmptyTreeOID is git's well-known hash for the empty tree object,
// used as commit_history's tree (spec: "Its tree is always the empty
// tree").
const EmptyTreeOID = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

type Manager struct {
	Target  targetvcs.Store
	Layout  refs.Layout
	DepotID int
}

func New(target targetvcs.Store, layout refs.Layout, depotID int) *Manager {
	return &Manager{Target: target, Layout: layout, DepotID: depotID}
}

func auditSignature() targetvcs.Signature {
	return targetvcs.Signature{Name: "ac2git", Email: "ac2git@localhost"}
}

// LoadLast reads the current state/last tips, restoring the set of
// tracked streams and their visible-branch positions as of the last
// successful run.
func (m *Manager) LoadLast(ctx context.Context) (map[int]string, error) {
	ref := m.Layout.StateLast(m.DepotID)
	cur, err := m.Target.ReadRef(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("reading state/last ref: %w", err)
	}
	if cur == "" {
		return map[int]string{}, nil
	}
	raw, err := m.Target.Show(ctx, cur, "last.json")
	if err != nil {
		return nil, fmt.Errorf("reading state/last contents: %w", err)
	}
	var encoded map[string]string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("decoding state/last: %w", err)
	}
	out := make(map[int]string, len(encoded))
	for k, v := range encoded {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("decoding state/last stream id %q: %w", k, err)
		}
		out[id] = v
	}
	return out, nil
}

// SaveLast atomically rewrites state/last to tips. Per spec §4.6 this
// ref is the sole authority: on next startup a visible branch ref that
// disagrees with it is corrected, never the reverse.
func (m *Manager) SaveLast(ctx context.Context, tips map[int]string) error {
	ref := m.Layout.StateLast(m.DepotID)
	cur, err := m.Target.ReadRef(ctx, ref)
	if err != nil {
		return fmt.Errorf("reading state/last ref: %w", err)
	}

	encoded := make(map[string]string, len(tips))
	for id, oid := range tips {
		encoded[strconv.Itoa(id)] = oid
	}
	raw, err := json.MarshalIndent(encoded, "", "  ")
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "ac2git-state-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	if err := os.WriteFile(filepath.Join(dir, "last.json"), raw, 0o644); err != nil {
		return err
	}

	var parents []string
	if cur != "" {
		parents = []string{cur}
	}
	commit, err := m.Target.CommitTree(ctx, dir, "state/last update", parents, auditSignature())
	if err != nil {
		return fmt.Errorf("committing state/last: %w", err)
	}
	return m.Target.UpdateRef(ctx, ref, commit, cur)
}

// AppendAudit appends one entry to a stream's commit_history chain:
// the stream's new visible-branch tip at tx, chained onto any prior
// audit commit.
func (m *Manager) AppendAudit(ctx context.Context, streamID, tx int, visibleTip string) error {
	ref := m.Layout.CommitHistory(m.DepotID, streamID)
	cur, err := m.Target.ReadRef(ctx, ref)
	if err != nil {
		return fmt.Errorf("reading commit_history ref: %w", err)
	}
	var parents []string
	if cur != "" {
		parents = []string{cur, visibleTip}
	} else {
		parents = []string{visibleTip}
	}
	commit, err := m.Target.CommitFromTree(ctx, EmptyTreeOID, refs.TxMessage(tx), parents, auditSignature())
	if err != nil {
		return fmt.Errorf("appending commit_history for stream %d: %w", streamID, err)
	}
	return m.Target.UpdateRef(ctx, ref, commit, cur)
}

// Reconcile implements spec §4.6's startup authority rules: state/last
// wins over a disagreeing visible branch ref, and a commit_history ref
// whose most recent second parent disagrees with state/last gets one
// corrective audit commit before processing resumes.
func (m *Manager) Reconcile(ctx context.Context, tips map[int]string, nameOf func(streamID int) (string, error)) error {
	ids := make([]int, 0, len(tips))
	for id := range tips {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		authoritative := tips[id]
		name, err := nameOf(id)
		if err != nil {
			return fmt.Errorf("resolving name for stream %d: %w", id, err)
		}
		branch := refs.VisibleBranch(name)
		cur, err := m.Target.ReadRef(ctx, branch)
		if err != nil {
			return fmt.Errorf("reading visible branch for stream %d: %w", id, err)
		}
		if cur != authoritative {
			if err := m.Target.UpdateRef(ctx, branch, authoritative, cur); err != nil {
				return fmt.Errorf("realigning visible branch for stream %d to state/last: %w", id, err)
			}
		}

		if err := m.reconcileAuditChain(ctx, id, authoritative); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) reconcileAuditChain(ctx context.Context, streamID int, authoritative string) error {
	ref := m.Layout.CommitHistory(m.DepotID, streamID)
	cur, err := m.Target.ReadRef(ctx, ref)
	if err != nil {
		return fmt.Errorf("reading commit_history ref: %w", err)
	}
	if cur == "" {
		return nil
	}
	parents, err := m.Target.Parents(ctx, cur)
	if err != nil {
		return fmt.Errorf("reading commit_history tip parents: %w", err)
	}
	secondParent := ""
	if len(parents) > 0 {
		secondParent = parents[len(parents)-1]
	}
	if secondParent == authoritative {
		return nil
	}
	corrective, err := m.Target.CommitFromTree(ctx, EmptyTreeOID, "state/last repair", []string{cur, authoritative}, auditSignature())
	if err != nil {
		return fmt.Errorf("appending corrective audit commit for stream %d: %w", streamID, err)
	}
	return m.Target.UpdateRef(ctx, ref, corrective, cur)
}
