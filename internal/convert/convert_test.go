package convert

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NavicoOS/ac2git/internal/config"
	"github.com/NavicoOS/ac2git/internal/model"
)

type fakeHighestClient struct {
	highest int
	err     error
}

func (f *fakeHighestClient) HighestTransaction(ctx context.Context, depot string) (int, error) {
	return f.highest, f.err
}

type fakeMkstreamClient struct {
	tx  int
	ok  bool
	err error
}

func (f *fakeMkstreamClient) MkstreamTransaction(ctx context.Context, streamName string) (int, bool, error) {
	return f.tx, f.ok, f.err
}

func TestResolveTx_ExplicitValueWins(t *testing.T) {
	tx, err := resolveTx(context.Background(), nil, "d", config.TxSpec{IsValue: true, Value: 12}, 0)
	require.NoError(t, err)
	require.Equal(t, 12, tx)
}

func TestResolveTx_FirstKeyword(t *testing.T) {
	tx, err := resolveTx(context.Background(), nil, "d", config.TxSpec{Keyword: "first"}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, tx)
}

func TestResolveTx_HighestKeywordAsksSource(t *testing.T) {
	tx, err := resolveTx(context.Background(), clientWithHighest(77), "d", config.TxSpec{Keyword: "highest"}, 0)
	require.NoError(t, err)
	require.Equal(t, 77, tx)
}

func TestResolveTx_UnsetUsesFallback(t *testing.T) {
	tx, err := resolveTx(context.Background(), nil, "d", config.TxSpec{}, 5)
	require.NoError(t, err)
	require.Equal(t, 5, tx)
}

func TestResolveTx_UnknownKeywordErrors(t *testing.T) {
	_, err := resolveTx(context.Background(), nil, "d", config.TxSpec{Keyword: "yesterday"}, 0)
	require.Error(t, err)
}

func TestResolveTrackedStreams_SortsByID(t *testing.T) {
	snap := model.StreamsSnapshot{Tx: 10, Streams: map[int]model.Stream{
		2: {ID: 2, Name: "dev"},
		1: {ID: 1, Name: "main"},
	}}
	out, err := resolveTrackedStreams([]string{"dev", "main"}, snap)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, 1, out[0].ID)
	require.Equal(t, 2, out[1].ID)
}

func TestResolveTrackedStreams_UnknownNameErrors(t *testing.T) {
	snap := model.StreamsSnapshot{Tx: 10, Streams: map[int]model.Stream{1: {ID: 1, Name: "main"}}}
	_, err := resolveTrackedStreams([]string{"missing"}, snap)
	require.Error(t, err)
}

func TestDepotIDFor_StableAndDeterministic(t *testing.T) {
	a := depotIDFor("MyDepot")
	b := depotIDFor("MyDepot")
	c := depotIDFor("OtherDepot")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestStreamMkstreamTx_UsesDiscoveredTxWhenAfterFloor(t *testing.T) {
	tx, err := streamMkstreamTx(context.Background(), &fakeMkstreamClient{tx: 42, ok: true}, model.Stream{Name: "dev"}, 10)
	require.NoError(t, err)
	require.Equal(t, 42, tx)
}

func TestStreamMkstreamTx_FloorsAtConfiguredStart(t *testing.T) {
	tx, err := streamMkstreamTx(context.Background(), &fakeMkstreamClient{tx: 3, ok: true}, model.Stream{Name: "dev"}, 10)
	require.NoError(t, err)
	require.Equal(t, 10, tx)
}

func TestStreamMkstreamTx_RootStreamHasNoMkstreamTx(t *testing.T) {
	tx, err := streamMkstreamTx(context.Background(), &fakeMkstreamClient{ok: false}, model.Stream{Name: "Main"}, 7)
	require.NoError(t, err)
	require.Equal(t, 7, tx)
}

// clientWithHighest builds a fakeHighestClient, which satisfies the
// narrowed highestTransactionSource interface resolveTx calls through.
func clientWithHighest(n int) *fakeHighestClient {
	return &fakeHighestClient{highest: n}
}
