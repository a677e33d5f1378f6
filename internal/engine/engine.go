package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/NavicoOS/ac2git/internal/cache"
	"github.com/NavicoOS/ac2git/internal/config"
	"github.com/NavicoOS/ac2git/internal/logging"
	"github.com/NavicoOS/ac2git/internal/model"
	"github.com/NavicoOS/ac2git/internal/refs"
	"github.com/NavicoOS/ac2git/internal/sourcevcs"
	"github.com/NavicoOS/ac2git/internal/targetvcs"
	"github.com/NavicoOS/ac2git/internal/usermap"
	"github.com/NavicoOS/ac2git/internal/xerrors"
	"go.uber.org/zap"
)

// NameResolver looks up a tracked stream's current display name, used
// only to name its visible branch ref.
type NameResolver interface {
	NameOf(ctx context.Context, depotID, streamID int) (string, error)
}

// Engine applies the transaction planner's output to user-visible
// branches, one depot at a time.
type Engine struct {
	Target      targetvcs.Store
	Basis       *cache.BasisIndex
	Layout      refs.Layout
	Users       *usermap.Resolver
	Names       NameResolver
	Logger      *logging.Logger
	FastForward bool
	EmptyPolicy config.EmptyChildStreamAction
	DepotID     int
	DepotName   string

	dataCommitIdx map[int]map[int]string
	infoCommitIdx map[int]map[int]string
}

func New(target targetvcs.Store, basis *cache.BasisIndex, layout refs.Layout, users *usermap.Resolver,
	names NameResolver, logger *logging.Logger, cfg *config.Config, depotID int) *Engine {
	return &Engine{
		Target:        target,
		Basis:         basis,
		Layout:        layout,
		Users:         users,
		Names:         names,
		Logger:        logger,
		FastForward:   cfg.SourceStreamFastForward,
		EmptyPolicy:   cfg.EmptyChildStreamAction,
		DepotID:       depotID,
		DepotName:     cfg.Depot,
		dataCommitIdx: make(map[int]map[int]string),
		infoCommitIdx: make(map[int]map[int]string),
	}
}

// ProcessTransaction classifies and applies one planner batch,
// mutating tips in place and returning every stream it touched (moved
// or deliberately left in place), in application order.
func (e *Engine) ProcessTransaction(ctx context.Context, tx int, affected []int, tips map[int]string) ([]Result, error) {
	if len(affected) == 0 {
		return nil, nil
	}
	sort.Ints(affected)

	t, err := e.readTransaction(ctx, affected[0], tx)
	if err != nil {
		return nil, err
	}

	sig, found := e.Users.Resolve(t.Author, t.Timestamp)
	if !found && e.Logger != nil {
		e.Logger.Warn("no user-map entry, falling back to raw accurev identity",
			zap.String("author", t.Author), zap.Int("tx", tx))
	}
	message := t.Message
	if message == "" {
		message = fmt.Sprintf("accurev transaction %d", tx)
	}

	var results []Result

	switch {
	case t.Kind == model.KindMkstream:
		stream := ownStream(t, affected)
		if stream == 0 {
			return results, nil
		}
		d := classifyMkstream(stream, tx, message)
		r, err := e.apply(ctx, d, tips, sig)
		if err != nil {
			return results, err
		}
		results = append(results, r)
		return results, nil

	case t.Kind == model.KindChstream:
		stream := ownStream(t, affected)
		if stream == 0 {
			return results, nil
		}
		basisPrev, _, err := e.Basis.BasisAt(e.DepotName, stream, tx-1)
		if err != nil {
			return results, fmt.Errorf("resolving basis at tx %d: %w", tx-1, err)
		}
		basisCur, _, err := e.Basis.BasisAt(e.DepotName, stream, tx)
		if err != nil {
			return results, fmt.Errorf("resolving basis at tx %d: %w", tx, err)
		}
		d := classifyChstream(stream, tx, message, basisPrev, basisCur)
		r, err := e.apply(ctx, d, tips, sig)
		if err != nil {
			return results, err
		}
		results = append(results, r)
		if r.Moved {
			children, err := e.propagate(ctx, stream, tx, message, sig, tips)
			if err != nil {
				return results, err
			}
			results = append(results, children...)
		}
		return results, nil

	case t.ToStream != nil:
		dst := *t.ToStream
		if !contains(affected, dst) {
			return results, nil
		}
		srcTracked := false
		src := 0
		if t.FromStream != nil {
			if _, ok := tips[*t.FromStream]; ok {
				srcTracked = true
				src = *t.FromStream
			}
		}
		d := classifyPromote(dst, tx, message, srcTracked, src, e.FastForward)
		r, err := e.apply(ctx, d, tips, sig)
		if err != nil {
			return results, err
		}
		results = append(results, r)
		if r.Moved {
			children, err := e.propagate(ctx, dst, tx, message, sig, tips)
			if err != nil {
				return results, err
			}
			results = append(results, children...)
		}
		return results, nil

	case t.WorkspaceOrigin:
		owner := ownStream(t, affected)
		if owner == 0 {
			return results, nil
		}
		d := Decision{Stream: owner, Kind: KindCherryPick, Message: message,
			Parents: []int{owner}, TreeFromStream: owner, Tx: tx}
		r, err := e.apply(ctx, d, tips, sig)
		if err != nil {
			return results, err
		}
		results = append(results, r)
		return results, nil
	}

	return results, nil
}

// propagate walks dst's children depth-first, in ascending stream id
// order, applying the empty/non-empty propagation rule at each level.
func (e *Engine) propagate(ctx context.Context, basisStream, tx int, message string, sig targetvcs.Signature, tips map[int]string) ([]Result, error) {
	var results []Result
	children, err := e.trackedChildrenOf(basisStream, tx, tips)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		childDataTree, err := e.dataTreeAt(ctx, child, tx)
		if err != nil {
			// No data commit for this child at this tx (possible under
			// deep-hist sparsity): nothing to compare against yet, skip.
			continue
		}
		basisTree, err := e.Target.Tree(ctx, tips[basisStream])
		if err != nil {
			return results, fmt.Errorf("reading basis tree for stream %d: %w", basisStream, err)
		}
		diffEmpty := childDataTree == basisTree
		isAncestor := false
		if childTip, ok := tips[child]; ok && childTip != "" {
			isAncestor, err = e.Target.IsAncestor(ctx, tips[basisStream], childTip)
			if err != nil {
				return results, fmt.Errorf("checking ancestry for stream %d: %w", child, err)
			}
		}
		d := classifyChildPropagation(child, basisStream, tx, message, diffEmpty, isAncestor, e.EmptyPolicy)
		r, err := e.apply(ctx, d, tips, sig)
		if err != nil {
			return results, err
		}
		results = append(results, r)
		if r.Moved {
			grandchildren, err := e.propagate(ctx, child, tx, message, sig, tips)
			if err != nil {
				return results, err
			}
			results = append(results, grandchildren...)
		}
	}
	return results, nil
}

// trackedChildrenOf returns every tracked stream (present in tips)
// whose basis at tx is basisStream, ascending by id.
func (e *Engine) trackedChildrenOf(basisStream, tx int, tips map[int]string) ([]int, error) {
	var out []int
	for candidate := range tips {
		if candidate == basisStream {
			continue
		}
		st, ok, err := e.Basis.BasisAt(e.DepotName, candidate, tx)
		if err != nil {
			return nil, err
		}
		if !ok || st.Basis == nil || *st.Basis != basisStream {
			continue
		}
		out = append(out, candidate)
	}
	sort.Ints(out)
	return out, nil
}

// ownStream returns the single stream among affected that the
// transaction's own <stream> tag names (FromStream, per the source
// client's XML shape for mkstream/chstream/workspace-origin records).
func ownStream(t model.Transaction, affected []int) int {
	if t.FromStream != nil && contains(affected, *t.FromStream) {
		return *t.FromStream
	}
	if len(affected) == 1 {
		return affected[0]
	}
	return 0
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func (e *Engine) readTransaction(ctx context.Context, anyAffectedStream, tx int) (model.Transaction, error) {
	commit, err := e.infoCommitAt(ctx, anyAffectedStream, tx)
	if err != nil {
		return model.Transaction{}, err
	}
	raw, err := e.Target.Show(ctx, commit, "hist.xml")
	if err != nil {
		return model.Transaction{}, fmt.Errorf("reading hist.xml at tx %d: %w", tx, err)
	}
	t, err := sourcevcs.ParseHistXML(raw, e.DepotName, tx)
	if err != nil && xerrorsFatal(err) {
		return model.Transaction{}, err
	}
	return t, nil
}

func xerrorsFatal(err error) bool {
	xe, ok := xerrors.As(err)
	if !ok {
		return true
	}
	return xe.Kind != xerrors.KindParse
}

func (e *Engine) infoCommitAt(ctx context.Context, stream, tx int) (string, error) {
	return e.commitAt(ctx, e.infoCommitIdx, e.Layout.Info(e.DepotID, stream), stream, tx)
}

func (e *Engine) dataCommitAt(ctx context.Context, stream, tx int) (string, error) {
	return e.commitAt(ctx, e.dataCommitIdx, e.Layout.Data(e.DepotID, stream), stream, tx)
}

func (e *Engine) dataTreeAt(ctx context.Context, stream, tx int) (string, error) {
	commit, err := e.dataCommitAt(ctx, stream, tx)
	if err != nil {
		return "", err
	}
	return e.Target.Tree(ctx, commit)
}

// commitAt resolves the commit whose message is "transaction <tx>" on
// ref, building and caching the full tx->commit index for that ref on
// first use.
func (e *Engine) commitAt(ctx context.Context, idx map[int]map[int]string, ref string, stream, tx int) (string, error) {
	byTx, ok := idx[stream]
	if !ok {
		commits, err := e.Target.Commits(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("reading commits on %s: %w", ref, err)
		}
		byTx = make(map[int]string, len(commits))
		for _, c := range commits {
			msg, err := e.Target.CommitMessage(ctx, c)
			if err != nil {
				return "", fmt.Errorf("reading commit message on %s: %w", ref, err)
			}
			var n int
			if _, err := fmt.Sscanf(msg, "transaction %d", &n); err == nil {
				byTx[n] = c
			}
		}
		idx[stream] = byTx
	}
	commit, ok := byTx[tx]
	if !ok {
		return "", fmt.Errorf("no commit for tx %d on %s", tx, ref)
	}
	return commit, nil
}

func (e *Engine) apply(ctx context.Context, d Decision, tips map[int]string, sig targetvcs.Signature) (Result, error) {
	prior := tips[d.Stream]
	if d.Kind == KindNoop {
		return Result{Stream: d.Stream, Tx: d.Tx, PriorTip: prior, NewTip: prior, Moved: false}, nil
	}

	var tree string
	var err error
	if d.TreeFromStream != 0 {
		tree, err = e.dataTreeAt(ctx, d.TreeFromStream, d.Tx)
	} else if d.TreeFromStreamTip != 0 {
		tipOID, ok := tips[d.TreeFromStreamTip]
		if !ok || tipOID == "" {
			return Result{}, xerrors.Invariant("apply", e.DepotName, d.TreeFromStreamTip, d.Tx,
				fmt.Errorf("stream has no visible tip yet"))
		}
		tree, err = e.Target.Tree(ctx, tipOID)
	} else {
		return Result{}, xerrors.Invariant("apply", e.DepotName, d.Stream, d.Tx, fmt.Errorf("decision names no tree source"))
	}
	if err != nil {
		return Result{}, err
	}

	var parentOIDs []string
	for _, p := range d.Parents {
		oid, ok := tips[p]
		if !ok || oid == "" {
			if d.Kind == KindOrphan {
				continue
			}
			return Result{}, xerrors.Invariant("apply", e.DepotName, p, d.Tx, fmt.Errorf("parent stream has no visible tip yet"))
		}
		parentOIDs = append(parentOIDs, oid)
	}

	commit, err := e.Target.CommitFromTree(ctx, tree, d.Message, parentOIDs, sig)
	if err != nil {
		return Result{}, err
	}

	name, err := e.Names.NameOf(ctx, e.DepotID, d.Stream)
	if err != nil {
		return Result{}, fmt.Errorf("resolving name for stream %d: %w", d.Stream, err)
	}
	branch := refs.VisibleBranch(name)
	expectedOld := prior
	if expectedOld == "" {
		expectedOld = targetvcs.ZeroOID
	}
	if err := e.Target.UpdateRef(ctx, branch, commit, expectedOld); err != nil {
		return Result{}, fmt.Errorf("advancing visible branch for stream %d: %w", d.Stream, err)
	}
	tips[d.Stream] = commit

	if d.FastForwardStream != 0 {
		srcName, err := e.Names.NameOf(ctx, e.DepotID, d.FastForwardStream)
		if err != nil {
			return Result{}, fmt.Errorf("resolving name for stream %d: %w", d.FastForwardStream, err)
		}
		srcPrior := tips[d.FastForwardStream]
		srcExpected := srcPrior
		if srcExpected == "" {
			srcExpected = targetvcs.ZeroOID
		}
		if err := e.Target.UpdateRef(ctx, refs.VisibleBranch(srcName), commit, srcExpected); err != nil {
			return Result{}, fmt.Errorf("fast-forwarding stream %d: %w", d.FastForwardStream, err)
		}
		tips[d.FastForwardStream] = commit
	}

	if e.Logger != nil {
		e.Logger.Debug("applied visible branch commit",
			zap.Int("stream", d.Stream), zap.Int("tx", d.Tx), zap.String("kind", string(d.Kind)))
	}

	return Result{Stream: d.Stream, Tx: d.Tx, PriorTip: prior, NewTip: commit, Moved: true}, nil
}
