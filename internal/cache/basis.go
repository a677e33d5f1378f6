package cache

import (
	"fmt"
	"sort"

	"github.com/NavicoOS/ac2git/internal/model"
)

// BasisIndex answers "what was stream s's basis at transaction T" by
// binary search over cached "show streams" snapshots, avoiding the
// mutable-adjacency-list trap spec §9 warns against.
type BasisIndex struct {
	cache *Cache
}

func NewBasisIndex(c *Cache) *BasisIndex {
	return &BasisIndex{cache: c}
}

func snapshotListKey(depot string) string {
	return fmt.Sprintf("basis:%s:txlist", depot)
}

func snapshotKey(depot string, tx int) string {
	return fmt.Sprintf("basis:%s:snap:%d", depot, tx)
}

// Record adds snapshot to the index, keeping the per-depot tx list sorted.
func (b *BasisIndex) Record(depot string, snap model.StreamsSnapshot) error {
	var txs []int
	if _, err := b.cache.GetJSON(snapshotListKey(depot), &txs); err != nil {
		return err
	}
	i := sort.SearchInts(txs, snap.Tx)
	if i == len(txs) || txs[i] != snap.Tx {
		txs = append(txs, 0)
		copy(txs[i+1:], txs[i:])
		txs[i] = snap.Tx
		if err := b.cache.PutJSON(snapshotListKey(depot), txs); err != nil {
			return err
		}
	}
	return b.cache.PutJSON(snapshotKey(depot, snap.Tx), snap)
}

// BasisAt returns streamID's recorded state as of the latest snapshot
// at or before tx. ok is false if no snapshot at or before tx exists.
func (b *BasisIndex) BasisAt(depot string, streamID, tx int) (model.Stream, bool, error) {
	var txs []int
	if _, err := b.cache.GetJSON(snapshotListKey(depot), &txs); err != nil {
		return model.Stream{}, false, err
	}
	// largest tx in txs that is <= the requested tx
	i := sort.Search(len(txs), func(i int) bool { return txs[i] > tx })
	if i == 0 {
		return model.Stream{}, false, nil
	}
	at := txs[i-1]
	var snap model.StreamsSnapshot
	found, err := b.cache.GetJSON(snapshotKey(depot, at), &snap)
	if err != nil || !found {
		return model.Stream{}, false, err
	}
	st, ok := snap.Streams[streamID]
	return st, ok, nil
}
