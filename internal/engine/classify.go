package engine

import (
	"github.com/NavicoOS/ac2git/internal/config"
	"github.com/NavicoOS/ac2git/internal/model"
)

// classifyMkstream builds the orphan-root decision for a stream's
// creation transaction (spec §4.5: default policy anchors nothing).
func classifyMkstream(stream int, tx int, message string) Decision {
	return Decision{
		Stream:         stream,
		Kind:           KindOrphan,
		Message:        message,
		TreeFromStream: stream,
		Tx:             tx,
	}
}

// classifyChstream compares a stream's basis immediately before and
// at tx. An unchanged basis (only timelock/name changed) is a no-op
// on the visible branch; a changed basis re-anchors the child with a
// merge onto the new basis's tip.
func classifyChstream(stream int, tx int, message string, basisPrev, basisCur model.Stream) Decision {
	if sameBasis(basisPrev, basisCur) {
		return Decision{Stream: stream, Kind: KindNoop, Tx: tx}
	}
	return Decision{
		Stream:         stream,
		Kind:           KindMerge,
		Message:        message,
		Parents:        []int{stream, *basisCur.Basis},
		TreeFromStream: stream,
		Tx:             tx,
	}
}

func sameBasis(a, b model.Stream) bool {
	if a.Basis == nil && b.Basis == nil {
		return true
	}
	if a.Basis == nil || b.Basis == nil {
		return false
	}
	return *a.Basis == *b.Basis
}

// classifyPromote builds the destination commit decision per spec
// §4.5's policy table. srcTracked is false when fromStream is absent
// or not among the tracked streams.
func classifyPromote(dst, tx int, message string, srcTracked bool, src int, fastForward bool) Decision {
	if !srcTracked {
		return Decision{
			Stream:         dst,
			Kind:           KindCherryPick,
			Message:        message,
			Parents:        []int{dst},
			TreeFromStream: dst,
			Tx:             tx,
		}
	}
	d := Decision{
		Stream:         dst,
		Kind:           KindMerge,
		Message:        message,
		Parents:        []int{dst, src},
		TreeFromStream: dst,
		Tx:             tx,
	}
	if fastForward {
		d.FastForwardStream = src
	}
	return d
}

// classifyChildPropagation decides what, if anything, happens on one
// child stream after its basis stream (basisStream) just committed at
// tx, per spec §4.5's recursive propagation rules. basisStream's tip
// is assumed already updated to the new commit when this runs.
func classifyChildPropagation(child, basisStream, tx int, message string, diffEmpty, dstIsAncestorOfChildTip bool,
	emptyPolicy config.EmptyChildStreamAction) Decision {

	if diffEmpty && dstIsAncestorOfChildTip {
		return Decision{Stream: child, Kind: KindNoop, Tx: tx}
	}
	if diffEmpty {
		kind := KindMerge
		parents := []int{child, basisStream}
		if emptyPolicy == config.EmptyChildCherryPick {
			kind = KindCherryPick
			parents = []int{child}
		}
		return Decision{
			Stream:            child,
			Kind:              kind,
			Message:           message,
			Parents:           parents,
			TreeFromStreamTip: basisStream,
			Tx:                tx,
		}
	}
	return Decision{
		Stream:         child,
		Kind:           KindCherryPick,
		Message:        message,
		Parents:        []int{child},
		TreeFromStream: child,
		Tx:             tx,
	}
}
