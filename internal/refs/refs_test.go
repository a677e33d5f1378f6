package refs

import "testing"

func TestLayoutPaths(t *testing.T) {
	l := Layout{NS: "refs/ac2git"}
	cases := map[string]string{
		l.Info(1, 2):          "refs/ac2git/depots/1/streams/2/info",
		l.Data(1, 2):          "refs/ac2git/depots/1/streams/2/data",
		l.HWM(1, 2):           "refs/ac2git/depots/1/streams/2/hwm",
		l.CommitHistory(1, 2): "refs/ac2git/depots/1/streams/2/commit_history",
		l.StateLast(1):        "refs/ac2git/state/depots/1/last",
		l.StreamNames(1):      "refs/ac2git/cache/depots/1/stream_names",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestTxMessage(t *testing.T) {
	if got := TxMessage(42); got != "transaction 42" {
		t.Errorf("TxMessage(42) = %q", got)
	}
}

func TestVisibleBranch(t *testing.T) {
	if got := VisibleBranch("dev-stream"); got != "refs/heads/dev-stream" {
		t.Errorf("VisibleBranch() = %q", got)
	}
}
