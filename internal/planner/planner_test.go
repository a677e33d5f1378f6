package planner

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NavicoOS/ac2git/internal/targetvcs"
)

// fakeStore backs each ref with a slice of "transaction N" commit
// messages; only the methods Plan actually needs are implemented.
type fakeStore struct {
	targetvcs.Store
	commits map[string][]string // ref -> commit ids, oldest first
	msgs    map[string]string   // commit id -> message
}

func newFakeStore() *fakeStore {
	return &fakeStore{commits: map[string][]string{}, msgs: map[string]string{}}
}

func (f *fakeStore) seed(ref string, txs ...int) {
	for _, tx := range txs {
		id := fmt.Sprintf("%s#%d", ref, tx)
		f.commits[ref] = append(f.commits[ref], id)
		f.msgs[id] = fmt.Sprintf("transaction %d", tx)
	}
}

func (f *fakeStore) Commits(ctx context.Context, ref string) ([]string, error) {
	return f.commits[ref], nil
}

func (f *fakeStore) CommitMessage(ctx context.Context, commit string) (string, error) {
	return f.msgs[commit], nil
}

func TestPlan_MergesStreamsByTransaction(t *testing.T) {
	store := newFakeStore()
	store.seed("info/1", 1, 2, 4)
	store.seed("info/2", 1, 3, 4)

	batches, err := Plan(context.Background(), store, []TrackedStream{
		{ID: 1, InfoRef: "info/1", HWM: 4},
		{ID: 2, InfoRef: "info/2", HWM: 4},
	})
	require.NoError(t, err)
	require.Equal(t, []Batch{
		{Tx: 1, StreamIDs: []int{1, 2}},
		{Tx: 2, StreamIDs: []int{1}},
		{Tx: 3, StreamIDs: []int{2}},
		{Tx: 4, StreamIDs: []int{1, 2}},
	}, batches)
}

func TestPlan_StopsAtLowestHWM(t *testing.T) {
	store := newFakeStore()
	store.seed("info/1", 1, 2, 3)
	store.seed("info/2", 1, 2, 3, 4, 5)

	batches, err := Plan(context.Background(), store, []TrackedStream{
		{ID: 1, InfoRef: "info/1", HWM: 3},
		{ID: 2, InfoRef: "info/2", HWM: 5},
	})
	require.NoError(t, err)
	require.Len(t, batches, 3)
	require.Equal(t, 3, batches[len(batches)-1].Tx)
}

func TestPlan_EmptyStreamSet(t *testing.T) {
	batches, err := Plan(context.Background(), newFakeStore(), nil)
	require.NoError(t, err)
	require.Nil(t, batches)
}

func TestParseTxMessage(t *testing.T) {
	tx, err := parseTxMessage("transaction 42")
	require.NoError(t, err)
	require.Equal(t, 42, tx)

	_, err = parseTxMessage("not a transaction at all")
	require.Error(t, err)
}
