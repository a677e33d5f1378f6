package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NavicoOS/ac2git/internal/config"
	"github.com/NavicoOS/ac2git/internal/model"
)

func intp(n int) *int { return &n }

func TestClassifyMkstream(t *testing.T) {
	d := classifyMkstream(7, 10, "created stream")
	require.Equal(t, KindOrphan, d.Kind)
	require.Equal(t, 7, d.TreeFromStream)
	require.Equal(t, 10, d.Tx)
}

func TestClassifyChstream_UnchangedBasisIsNoop(t *testing.T) {
	prev := model.Stream{ID: 5, Basis: intp(1)}
	cur := model.Stream{ID: 5, Basis: intp(1), Timelock: intp(99)}
	d := classifyChstream(5, 20, "chstream", prev, cur)
	require.Equal(t, KindNoop, d.Kind)
}

func TestClassifyChstream_ChangedBasisMerges(t *testing.T) {
	prev := model.Stream{ID: 5, Basis: intp(1)}
	cur := model.Stream{ID: 5, Basis: intp(2)}
	d := classifyChstream(5, 20, "rebase", prev, cur)
	require.Equal(t, KindMerge, d.Kind)
	require.Equal(t, []int{5, 2}, d.Parents)
	require.Equal(t, 5, d.TreeFromStream)
}

func TestClassifyPromote_UntrackedSourceCherryPicks(t *testing.T) {
	d := classifyPromote(3, 30, "promote", false, 0, false)
	require.Equal(t, KindCherryPick, d.Kind)
	require.Equal(t, []int{3}, d.Parents)
	require.Zero(t, d.FastForwardStream)
}

func TestClassifyPromote_TrackedSourceMergesAndFastForwards(t *testing.T) {
	d := classifyPromote(3, 30, "promote", true, 9, true)
	require.Equal(t, KindMerge, d.Kind)
	require.Equal(t, []int{3, 9}, d.Parents)
	require.Equal(t, 9, d.FastForwardStream)
}

func TestClassifyChildPropagation_EmptyDiffAlreadyAncestorIsNoop(t *testing.T) {
	d := classifyChildPropagation(4, 1, 40, "propagate", true, true, config.EmptyChildMerge)
	require.Equal(t, KindNoop, d.Kind)
}

func TestClassifyChildPropagation_EmptyDiffMergePolicy(t *testing.T) {
	d := classifyChildPropagation(4, 1, 40, "propagate", true, false, config.EmptyChildMerge)
	require.Equal(t, KindMerge, d.Kind)
	require.Equal(t, []int{4, 1}, d.Parents)
	require.Equal(t, 1, d.TreeFromStreamTip)
}

func TestClassifyChildPropagation_EmptyDiffCherryPickPolicy(t *testing.T) {
	d := classifyChildPropagation(4, 1, 40, "propagate", true, false, config.EmptyChildCherryPick)
	require.Equal(t, KindCherryPick, d.Kind)
	require.Equal(t, []int{4}, d.Parents)
}

func TestClassifyChildPropagation_NonEmptyDiffAlwaysCherryPicks(t *testing.T) {
	d := classifyChildPropagation(4, 1, 40, "propagate", false, true, config.EmptyChildMerge)
	require.Equal(t, KindCherryPick, d.Kind)
	require.Equal(t, 4, d.TreeFromStream)
}
