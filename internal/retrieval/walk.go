package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/NavicoOS/ac2git/internal/config"
	"github.com/NavicoOS/ac2git/internal/model"
	"github.com/NavicoOS/ac2git/internal/refs"
	"github.com/NavicoOS/ac2git/internal/sourcevcs"
)

// advanceInfo is the pipeline's first pass: for every candidate
// transaction it commits hist.xml, streams.xml and diff.xml onto
// infoRef before any content is popped (spec §4.3). Because every info
// commit of the run is written before the first data commit, a crash
// during the data pass can leave info several commits ahead of data;
// repairCrash rewinds a one-commit gap and reports a larger one as an
// invariant violation.
func (p *Pipeline) advanceInfo(ctx context.Context, depotID int, depotName string, stream model.Stream, infoRef string, candidates []int) error {
	cur, err := p.Target.ReadRef(ctx, infoRef)
	if err != nil {
		return fmt.Errorf("reading info ref: %w", err)
	}

	prev := candidates[0] - 1
	for _, tx := range candidates {
		hist, err := p.Source.Hist(ctx, depotName, tx)
		if err != nil {
			return fmt.Errorf("fetching hist for tx %d: %w", tx, err)
		}
		snap, err := p.Source.ShowStreams(ctx, depotName, tx)
		if err != nil {
			return fmt.Errorf("fetching streams.xml for tx %d: %w", tx, err)
		}
		if p.Basis != nil {
			if err := p.Basis.Record(depotName, snap); err != nil {
				return fmt.Errorf("recording basis snapshot for tx %d: %w", tx, err)
			}
		}
		diffPaths, err := p.Source.Diff(ctx, stream.Name, prev, tx)
		if err != nil {
			return fmt.Errorf("fetching diff for tx %d: %w", tx, err)
		}
		if err := p.Cache.PutJSON(diffCacheKey(depotID, stream.ID, tx), diffPaths); err != nil {
			return fmt.Errorf("caching diff paths for tx %d: %w", tx, err)
		}

		dir, err := os.MkdirTemp("", "ac2git-info-*")
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, "hist.xml"), hist.RawHistXML, 0o644); err != nil {
			os.RemoveAll(dir)
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, "streams.xml"), snap.RawXML, 0o644); err != nil {
			os.RemoveAll(dir)
			return err
		}
		diffJSON, err := json.Marshal(diffPaths)
		if err != nil {
			os.RemoveAll(dir)
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, "diff.xml"), diffJSON, 0o644); err != nil {
			os.RemoveAll(dir)
			return err
		}

		var parents []string
		if cur != "" {
			parents = []string{cur}
		}
		commit, err := p.Target.CommitTree(ctx, dir, refs.TxMessage(tx), parents, engineSignature())
		os.RemoveAll(dir)
		if err != nil {
			return fmt.Errorf("committing info for tx %d: %w", tx, err)
		}
		if err := p.Target.UpdateRef(ctx, infoRef, commit, cur); err != nil {
			return fmt.Errorf("advancing info ref to tx %d: %w", tx, err)
		}
		cur = commit
		prev = tx
	}
	return nil
}

// advanceData is the pipeline's second pass: it materializes content
// for every candidate already described on infoRef. Regardless of
// method, content is fetched with a full recursive pop; method only
// changes which transactions are visited (see DESIGN.md on deep-hist
// sparsity vs incremental diff application).
func (p *Pipeline) advanceData(ctx context.Context, depotID int, depotName string, stream model.Stream, dataRef string, candidates []int, method config.Method) error {
	cur, err := p.Target.ReadRef(ctx, dataRef)
	if err != nil {
		return fmt.Errorf("reading data ref: %w", err)
	}

	for _, tx := range candidates {
		dir, err := os.MkdirTemp("", "ac2git-data-*")
		if err != nil {
			return err
		}
		if err := p.Source.Pop(ctx, stream.Name, tx, dir, sourcevcs.PopOptions{Recursive: true, Overwrite: true}); err != nil {
			os.RemoveAll(dir)
			return fmt.Errorf("popping contents for tx %d: %w", tx, err)
		}

		var parents []string
		if cur != "" {
			parents = []string{cur}
		}
		commit, err := p.Target.CommitTree(ctx, dir, refs.TxMessage(tx), parents, engineSignature())
		os.RemoveAll(dir)
		if err != nil {
			return fmt.Errorf("committing data for tx %d: %w", tx, err)
		}
		if err := p.Target.UpdateRef(ctx, dataRef, commit, cur); err != nil {
			return fmt.Errorf("advancing data ref to tx %d: %w", tx, err)
		}
		cur = commit
	}
	return nil
}
