// Package retrieval implements the per-stream retrieval pipeline
// (spec §4.3): advancing a stream's info/data/hwm refs one
// transaction at a time under the pop/diff/deep-hist strategies,
// grounded in the teacher's change/auto_tracker.go and
// workspace/local.go (wipe-and-walk-and-hash working tree shape) and
// original_source/ac2git.py's two-pass per-transaction loop.
package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/NavicoOS/ac2git/internal/cache"
	"github.com/NavicoOS/ac2git/internal/config"
	"github.com/NavicoOS/ac2git/internal/logging"
	"github.com/NavicoOS/ac2git/internal/model"
	"github.com/NavicoOS/ac2git/internal/refs"
	"github.com/NavicoOS/ac2git/internal/sourcevcs"
	"github.com/NavicoOS/ac2git/internal/targetvcs"
	"github.com/NavicoOS/ac2git/internal/xerrors"
	"go.uber.org/zap"
)

// Pipeline advances one stream's hidden refs to a target transaction.
type Pipeline struct {
	Source sourcevcs.Client
	Target targetvcs.Store
	Cache  *cache.Cache
	Basis  *cache.BasisIndex
	Logger *logging.Logger
	Layout refs.Layout
}

// diffCacheKey keys the diff paths the info pass caches for a single
// transaction. The data pass does not read them: it always pops the
// stream's full contents, whatever the diff reported.
func diffCacheKey(depotID, streamID, tx int) string {
	return fmt.Sprintf("retrieval:diffpaths:%d:%d:%d", depotID, streamID, tx)
}

// Advance brings stream's info/data/hwm refs up to endTx, discovering
// mkstreamTx's transaction as the stream's creation point if the refs
// do not exist yet.
func (p *Pipeline) Advance(ctx context.Context, depotID int, depotName string, stream model.Stream, mkstreamTx, endTx int, method config.Method) error {
	infoRef := p.Layout.Info(depotID, stream.ID)
	dataRef := p.Layout.Data(depotID, stream.ID)
	hwmRef := p.Layout.HWM(depotID, stream.ID)

	if err := p.repairCrash(ctx, depotName, infoRef, dataRef); err != nil {
		return err
	}

	hwm, err := p.readHWM(ctx, depotName, hwmRef)
	if err != nil {
		return err
	}

	if hwm == 0 {
		if err := p.populateMkstream(ctx, depotID, depotName, stream, mkstreamTx, infoRef, dataRef); err != nil {
			return err
		}
		hwm = mkstreamTx
		if err := p.writeHWM(ctx, hwmRef, hwm); err != nil {
			return err
		}
	}

	if hwm >= endTx {
		return nil
	}

	candidates, err := p.candidates(ctx, depotName, stream, hwm+1, endTx, method)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	if err := p.advanceInfo(ctx, depotID, depotName, stream, infoRef, candidates); err != nil {
		return err
	}
	if err := p.advanceData(ctx, depotID, depotName, stream, dataRef, candidates, method); err != nil {
		return err
	}

	return p.writeHWM(ctx, hwmRef, candidates[len(candidates)-1])
}

// repairCrash implements the one sanctioned rewind (spec §4.3): if a
// crash left info one commit ahead of data, roll info back to data's
// tip before continuing.
func (p *Pipeline) repairCrash(ctx context.Context, depotName, infoRef, dataRef string) error {
	infoCommits, err := p.Target.Commits(ctx, infoRef)
	if err != nil {
		return fmt.Errorf("reading info commits: %w", err)
	}
	dataCommits, err := p.Target.Commits(ctx, dataRef)
	if err != nil {
		return fmt.Errorf("reading data commits: %w", err)
	}
	if len(infoCommits) == len(dataCommits) {
		return nil
	}
	if len(infoCommits) != len(dataCommits)+1 {
		return xerrors.Invariant("repair-crash", depotName, 0, 0,
			fmt.Errorf("info has %d commits, data has %d: diverged by more than one", len(infoCommits), len(dataCommits)))
	}
	if len(dataCommits) == 0 {
		return p.Target.UpdateRef(ctx, infoRef, targetvcs.ZeroOID, infoCommits[len(infoCommits)-1])
	}
	rewound := dataCommits[len(dataCommits)-1]
	cur := infoCommits[len(infoCommits)-1]
	if p.Logger != nil {
		p.Logger.Warn("repairing info-ahead-of-data crash", zap.String("ref", infoRef))
	}
	return p.Target.UpdateRef(ctx, infoRef, rewound, cur)
}

func (p *Pipeline) readHWM(ctx context.Context, depotName, hwmRef string) (int, error) {
	cur, err := p.Target.ReadRef(ctx, hwmRef)
	if err != nil {
		return 0, fmt.Errorf("reading hwm ref: %w", err)
	}
	if cur == "" {
		return 0, nil
	}
	raw, err := p.Target.Show(ctx, cur, "hwm")
	if err != nil {
		return 0, fmt.Errorf("reading hwm contents: %w", err)
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, xerrors.Invariant("read-hwm", depotName, 0, 0, err)
	}
	return n, nil
}

func (p *Pipeline) writeHWM(ctx context.Context, hwmRef string, tx int) error {
	dir, err := os.MkdirTemp("", "ac2git-hwm-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	if err := os.WriteFile(filepath.Join(dir, "hwm"), []byte(strconv.Itoa(tx)), 0o644); err != nil {
		return err
	}
	cur, err := p.Target.ReadRef(ctx, hwmRef)
	if err != nil {
		return err
	}
	var parents []string
	if cur != "" {
		parents = []string{cur}
	}
	commit, err := p.Target.CommitTree(ctx, dir, refs.TxMessage(tx), parents, engineSignature())
	if err != nil {
		return err
	}
	return p.Target.UpdateRef(ctx, hwmRef, commit, cur)
}

func engineSignature() targetvcs.Signature {
	return targetvcs.Signature{Name: "ac2git", Email: "ac2git@localhost"}
}

// candidates computes the sequence of transaction ids to visit after
// the mkstream populate, per the three strategies in spec §4.3.
func (p *Pipeline) candidates(ctx context.Context, depotName string, stream model.Stream, from, to int, method config.Method) ([]int, error) {
	switch method {
	case config.MethodPop, config.MethodDiff:
		out := make([]int, 0, to-from+1)
		for tx := from; tx <= to; tx++ {
			out = append(out, tx)
		}
		return out, nil
	case config.MethodDeepHist:
		if txs, ok, err := p.Cache.GetDeepHist(depotName, stream.ID, from, to); err != nil {
			return nil, err
		} else if ok {
			return txs, nil
		}
		txs, err := p.Source.DeepHist(ctx, depotName, stream.ID, from, to)
		if err != nil {
			return nil, err
		}
		sort.Ints(txs)
		if err := p.Cache.PutDeepHist(depotName, stream.ID, from, to, txs); err != nil {
			return nil, err
		}
		return txs, nil
	default:
		return nil, fmt.Errorf("unrecognized retrieval method %q", method)
	}
}

