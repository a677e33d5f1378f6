// Package refs centralizes the ref-namespace layout spec §6 defines,
// so every package that touches a hidden ref agrees on its path.
package refs

import "fmt"

// Layout builds ref paths rooted at one namespace (config's
// ref-namespace, default "refs/ac2git").
type Layout struct {
	NS string
}

func (l Layout) Info(depotID, streamID int) string {
	return fmt.Sprintf("%s/depots/%d/streams/%d/info", l.NS, depotID, streamID)
}

func (l Layout) Data(depotID, streamID int) string {
	return fmt.Sprintf("%s/depots/%d/streams/%d/data", l.NS, depotID, streamID)
}

func (l Layout) HWM(depotID, streamID int) string {
	return fmt.Sprintf("%s/depots/%d/streams/%d/hwm", l.NS, depotID, streamID)
}

func (l Layout) CommitHistory(depotID, streamID int) string {
	return fmt.Sprintf("%s/depots/%d/streams/%d/commit_history", l.NS, depotID, streamID)
}

func (l Layout) StateLast(depotID int) string {
	return fmt.Sprintf("%s/state/depots/%d/last", l.NS, depotID)
}

func (l Layout) StreamNames(depotID int) string {
	return fmt.Sprintf("%s/cache/depots/%d/stream_names", l.NS, depotID)
}

// TxMessage is the literal commit message format for info/data commits.
func TxMessage(tx int) string {
	return fmt.Sprintf("transaction %d", tx)
}

// VisibleBranch is the user-visible branch ref for a stream, named
// after its current (name-cache resolved) AccuRev stream name.
func VisibleBranch(streamName string) string {
	return "refs/heads/" + streamName
}
