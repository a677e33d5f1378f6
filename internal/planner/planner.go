// Package planner merges each tracked stream's independently advanced
// info sequence into one globally ordered transaction walk, stopping
// at the lowest high-water mark among the streams being merged (spec
// §4.4/§9): no stream is ever asked to process a transaction that a
// sibling stream hasn't yet retrieved.
package planner

import (
	"container/heap"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"context"

	"github.com/NavicoOS/ac2git/internal/targetvcs"
)

// TrackedStream is one stream's retrieval state as input to Plan.
type TrackedStream struct {
	ID      int
	InfoRef string
	HWM     int
}

// Batch is every stream touched by one source transaction, ordered by
// stream id ascending for determinism.
type Batch struct {
	Tx        int
	StreamIDs []int
}

type streamCursor struct {
	streamID int
	txs      []int
	pos      int
}

// a min-heap over (next tx, stream id) pairs, tie-broken by stream id
// so the merge is deterministic regardless of map iteration order.
type cursorHeap []*streamCursor

func (h cursorHeap) Len() int { return len(h) }
func (h cursorHeap) Less(i, j int) bool {
	ti, tj := h[i].txs[h[i].pos], h[j].txs[h[j].pos]
	if ti != tj {
		return ti < tj
	}
	return h[i].streamID < h[j].streamID
}
func (h cursorHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x any)        { *h = append(*h, x.(*streamCursor)) }
func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Plan builds the global (tx, affected streams) walk for the given
// tracked streams.
func Plan(ctx context.Context, target targetvcs.Store, streams []TrackedStream) ([]Batch, error) {
	if len(streams) == 0 {
		return nil, nil
	}

	minHWM := streams[0].HWM
	h := &cursorHeap{}
	for _, s := range streams {
		if s.HWM < minHWM {
			minHWM = s.HWM
		}
		txs, err := streamTxs(ctx, target, s.InfoRef)
		if err != nil {
			return nil, fmt.Errorf("reading info sequence for stream %d: %w", s.ID, err)
		}
		if len(txs) == 0 {
			continue
		}
		heap.Push(h, &streamCursor{streamID: s.ID, txs: txs, pos: 0})
	}

	var batches []Batch
	for h.Len() > 0 {
		tx := (*h)[0].txs[(*h)[0].pos]
		if tx > minHWM {
			break
		}
		var ids []int
		for h.Len() > 0 && (*h)[0].txs[(*h)[0].pos] == tx {
			c := heap.Pop(h).(*streamCursor)
			ids = append(ids, c.streamID)
			c.pos++
			if c.pos < len(c.txs) {
				heap.Push(h, c)
			}
		}
		sort.Ints(ids)
		batches = append(batches, Batch{Tx: tx, StreamIDs: ids})
	}
	return batches, nil
}

// streamTxs reads the ordered sequence of transaction ids recorded on
// a stream's info ref, parsed back out of each commit's "transaction
// N" message.
func streamTxs(ctx context.Context, target targetvcs.Store, infoRef string) ([]int, error) {
	commits, err := target.Commits(ctx, infoRef)
	if err != nil {
		return nil, err
	}
	txs := make([]int, 0, len(commits))
	for _, c := range commits {
		msg, err := target.CommitMessage(ctx, c)
		if err != nil {
			return nil, err
		}
		tx, err := parseTxMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("parsing commit message %q: %w", msg, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func parseTxMessage(msg string) (int, error) {
	const prefix = "transaction "
	if !strings.HasPrefix(msg, prefix) {
		return 0, fmt.Errorf("not a transaction commit")
	}
	return strconv.Atoi(strings.TrimSpace(msg[len(prefix):]))
}
