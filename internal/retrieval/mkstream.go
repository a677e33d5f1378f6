package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/NavicoOS/ac2git/internal/model"
	"github.com/NavicoOS/ac2git/internal/refs"
	"github.com/NavicoOS/ac2git/internal/sourcevcs"
	"github.com/NavicoOS/ac2git/internal/targetvcs"
)

// populateMkstream seeds a stream's info and data refs with the single
// orphan commit that represents its mkstream transaction: the one
// point where there is no prior revision to diff or diff against.
func (p *Pipeline) populateMkstream(ctx context.Context, depotID int, depotName string, stream model.Stream, mkstreamTx int, infoRef, dataRef string) error {
	hist, err := p.Source.Hist(ctx, depotName, mkstreamTx)
	if err != nil {
		return fmt.Errorf("fetching mkstream hist for stream %d: %w", stream.ID, err)
	}
	snap, err := p.Source.ShowStreams(ctx, depotName, mkstreamTx)
	if err != nil {
		return fmt.Errorf("fetching mkstream streams.xml for stream %d: %w", stream.ID, err)
	}
	if p.Basis != nil {
		if err := p.Basis.Record(depotName, snap); err != nil {
			return fmt.Errorf("recording basis snapshot for stream %d at tx %d: %w", stream.ID, mkstreamTx, err)
		}
	}

	infoDir, err := os.MkdirTemp("", "ac2git-info-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(infoDir)
	if err := os.WriteFile(filepath.Join(infoDir, "hist.xml"), hist.RawHistXML, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(infoDir, "streams.xml"), snap.RawXML, 0o644); err != nil {
		return err
	}

	infoCommit, err := p.Target.CommitTree(ctx, infoDir, refs.TxMessage(mkstreamTx), nil, engineSignature())
	if err != nil {
		return fmt.Errorf("committing mkstream info for stream %d: %w", stream.ID, err)
	}
	if err := p.Target.UpdateRef(ctx, infoRef, infoCommit, targetvcs.ZeroOID); err != nil {
		return fmt.Errorf("advancing info ref for stream %d: %w", stream.ID, err)
	}

	dataDir, err := os.MkdirTemp("", "ac2git-data-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dataDir)
	if err := p.Source.Pop(ctx, stream.Name, mkstreamTx, dataDir, sourcevcs.PopOptions{Recursive: true, Overwrite: true}); err != nil {
		return fmt.Errorf("popping mkstream contents for stream %d: %w", stream.ID, err)
	}

	dataCommit, err := p.Target.CommitTree(ctx, dataDir, refs.TxMessage(mkstreamTx), nil, engineSignature())
	if err != nil {
		return fmt.Errorf("committing mkstream data for stream %d: %w", stream.ID, err)
	}
	if err := p.Target.UpdateRef(ctx, dataRef, dataCommit, targetvcs.ZeroOID); err != nil {
		return fmt.Errorf("advancing data ref for stream %d: %w", stream.ID, err)
	}
	return nil
}
