package convert

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/NavicoOS/ac2git/internal/config"
	"github.com/NavicoOS/ac2git/internal/namecache"
	"github.com/NavicoOS/ac2git/internal/refs"
	"github.com/NavicoOS/ac2git/internal/state"
	"github.com/NavicoOS/ac2git/internal/targetvcs"
)

// StreamStatus summarizes one tracked stream's resume position,
// without mutating anything (status must be safe to run concurrently
// with a live convert, per spec §6).
type StreamStatus struct {
	Name       string
	ID         int
	HWM        int
	VisibleTip string
}

// Status reports every tracked stream's high-water-mark and visible
// branch tip as last recorded, reading state/last and each stream's
// hwm ref directly rather than re-deriving them from a fresh
// conversion pass.
func Status(ctx context.Context, cfg *config.Config) ([]StreamStatus, error) {
	target := targetvcs.NewGitStore(cfg.RepoPath, cfg.GitBin)
	layout := refs.Layout{NS: cfg.RefNamespace}
	depotID := depotIDFor(cfg.Depot)

	names, err := namecache.New(target, cfg.RefNamespace)
	if err != nil {
		return nil, fmt.Errorf("building name cache: %w", err)
	}

	mgr := state.New(target, layout, depotID)
	tips, err := mgr.LoadLast(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading last known tips: %w", err)
	}

	ids := make([]int, 0, len(tips))
	for id := range tips {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]StreamStatus, 0, len(ids))
	for _, id := range ids {
		name, err := names.NameOf(ctx, depotID, id)
		if err != nil {
			name = fmt.Sprintf("<stream %d>", id)
		}
		hwm, _ := readHWMRef(ctx, target, layout.HWM(depotID, id))
		out = append(out, StreamStatus{Name: name, ID: id, HWM: hwm, VisibleTip: tips[id]})
	}
	return out, nil
}

func readHWMRef(ctx context.Context, target targetvcs.Store, ref string) (int, error) {
	cur, err := target.ReadRef(ctx, ref)
	if err != nil || cur == "" {
		return 0, err
	}
	raw, err := target.Show(ctx, cur, "hwm")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(raw)))
}
