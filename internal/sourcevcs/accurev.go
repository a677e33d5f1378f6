package sourcevcs

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/NavicoOS/ac2git/internal/logging"
	"github.com/NavicoOS/ac2git/internal/model"
	"github.com/NavicoOS/ac2git/internal/xerrors"
	"go.uber.org/zap"
)

// AccuRevClient shells the accurev(1) binary and parses its XML
// output, grounded in original_source/accurev.py's raw.* command
// shapes (hist -fx, pop, diff, show streams).
type AccuRevClient struct {
	bin     string
	logger  *logging.Logger
	timeout time.Duration
}

func NewAccuRevClient(bin string, timeout time.Duration, logger *logging.Logger) *AccuRevClient {
	if bin == "" {
		bin = "accurev"
	}
	return &AccuRevClient{bin: bin, logger: logger, timeout: timeout}
}

var taskIDPattern = regexp.MustCompile(`TaskId="[0-9]+"`)

// normalizeTaskID zeroes the TaskId attribute so identical command
// outputs across runs hash identically (spec's data-model invariant).
func normalizeTaskID(xml []byte) []byte {
	return taskIDPattern.ReplaceAll(xml, []byte(`TaskId="0"`))
}

func (c *AccuRevClient) run(ctx context.Context, op, depot string, tx int, args ...string) ([]byte, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer

	var lastErr error
	for attempt := 0; attempt <= 1; attempt++ {
		stdout.Reset()
		stderr.Reset()
		cmd := exec.CommandContext(runCtx, c.bin, args...)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		err := cmd.Run()
		if err == nil {
			return normalizeTaskID(stdout.Bytes()), nil
		}
		lastErr = err
		if !isTransient(stderr.String()) {
			return nil, xerrors.Source(op, depot, tx, fmt.Errorf("%s: %w: %s", op, err, stderr.String()))
		}
		if c.logger != nil {
			c.logger.Warn("retrying transient accurev error",
				zap.String("op", op), zap.Int("attempt", attempt), zap.String("stderr", stderr.String()))
		}
		backoff := time.Duration(attempt+1) * 500 * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, xerrors.TransientSource(op, depot, tx, ctx.Err())
		}
		if err := c.Login(ctx); err != nil && c.logger != nil {
			c.logger.Warn("re-login after transient failure did not succeed", zap.Error(err))
		}
	}
	return nil, xerrors.TransientSource(op, depot, tx, lastErr)
}

// isTransient classifies AccuRev's own error text for the retry
// classes spec §7 names: login expiry and network hiccups.
func isTransient(stderr string) bool {
	switch {
	case bytes.Contains([]byte(stderr), []byte("Not authorized")):
		return true
	case bytes.Contains([]byte(stderr), []byte("connect to server")):
		return true
	case bytes.Contains([]byte(stderr), []byte("timed out")):
		return true
	}
	return false
}

func (c *AccuRevClient) Login(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.bin, "login")
	return cmd.Run()
}

// HighestTransaction asks AccuRev for the depot's most recent
// transaction via the "now.1" time-spec keyword (original_source's
// raw.History passes timeSpec straight through to -t), rather than
// requiring the operator to know the number in advance.
func (c *AccuRevClient) HighestTransaction(ctx context.Context, depot string) (int, error) {
	raw, err := c.run(ctx, "hist", depot, 0, "hist", "-p", depot, "-t", "now.1", "-fx")
	if err != nil {
		return 0, err
	}
	var parsed histXML
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		return 0, xerrors.Parse("hist", depot, 0, 0, err)
	}
	if len(parsed.Transactions) == 0 {
		return 0, xerrors.Invariant("highest-transaction", depot, 0, 0, fmt.Errorf("depot has no transactions"))
	}
	return parsed.Transactions[0].ID, nil
}

// MkstreamTransaction finds the transaction that created streamName,
// grounded in original_source/ac2git.py's GetFirstTransaction, which
// resolves each stream's own start point via "hist -k mkstream -t now"
// rather than assuming a single conversion-wide start transaction.
func (c *AccuRevClient) MkstreamTransaction(ctx context.Context, streamName string) (int, bool, error) {
	raw, err := c.run(ctx, "mkstream_tx", streamName, 0, "hist", "-s", streamName, "-k", "mkstream", "-t", "now", "-fx")
	if err != nil {
		return 0, false, err
	}
	var parsed histXML
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		return 0, false, xerrors.Parse("mkstream_tx", streamName, 0, 0, err)
	}
	if len(parsed.Transactions) == 0 {
		// The depot's root stream has no mkstream transaction of its own.
		return 0, false, nil
	}
	return parsed.Transactions[0].ID, true, nil
}

// --- hist ---

type histXML struct {
	XMLName      xml.Name          `xml:"AcResponse"`
	Transactions []transactionXML `xml:"stream>transaction"`
}

type transactionXML struct {
	ID      int          `xml:"id,attr"`
	Kind    string       `xml:"type,attr"`
	Time    int64        `xml:"time,attr"`
	User    string       `xml:"user,attr"`
	Comment string       `xml:"comment"`
	Stream  *refXML      `xml:"stream"`
	ToStream *refXML     `xml:"toStream"`
	Versions []versionXML `xml:"version"`
}

type refXML struct {
	Name   string `xml:"name,attr"`
	Number int    `xml:"streamNumber,attr"`
}

type versionXML struct {
	Path string `xml:"path,attr"`
	Type string `xml:"virtualNamedVersion,attr"`
}

func parseTxKind(s string) model.TxKind {
	switch s {
	case "mkstream":
		return model.KindMkstream
	case "chstream":
		return model.KindChstream
	case "promote":
		return model.KindPromote
	case "keep":
		return model.KindKeep
	case "defunct":
		return model.KindDefunct
	case "purge":
		return model.KindPurge
	case "move":
		return model.KindMove
	default:
		return model.KindOther
	}
}

func (c *AccuRevClient) Hist(ctx context.Context, depot string, tx int) (model.Transaction, error) {
	raw, err := c.run(ctx, "hist", depot, tx, "hist", "-p", depot, "-t", strconv.Itoa(tx), "-fx")
	if err != nil {
		return model.Transaction{}, err
	}
	t, err := ParseHistXML(raw, depot, tx)
	if xe, ok := xerrors.As(err); ok && xe.Kind == xerrors.KindParse {
		// Hand the sentinel back so retrieval records it and moves on.
		if c.logger != nil {
			c.logger.Warn("malformed hist.xml, recording sentinel", zap.Int("tx", tx), zap.Error(err))
		}
		return t, nil
	}
	return t, err
}

// ParseHistXML parses one transaction's normalized hist.xml payload.
// It is exported so the processing engine can reconstruct a
// model.Transaction straight from an info ref's committed bytes
// without re-invoking the source client.
func ParseHistXML(raw []byte, depot string, tx int) (model.Transaction, error) {
	var parsed histXML
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		// Malformed XML from very old transactions is expected (spec §7):
		// record a sentinel rather than failing the stream.
		return model.Transaction{
			ID:         tx,
			Depot:      depot,
			Kind:       model.KindOther,
			RawHistXML: []byte("<AcResponse/>"),
		}, xerrors.Parse("hist", depot, 0, tx, err)
	}
	if len(parsed.Transactions) == 0 {
		return model.Transaction{ID: tx, Depot: depot, Kind: model.KindOther, RawHistXML: raw}, nil
	}

	t := parsed.Transactions[0]
	out := model.Transaction{
		ID:         tx,
		Depot:      depot,
		Kind:       parseTxKind(t.Kind),
		Author:     t.User,
		Timestamp:  time.Unix(t.Time, 0).UTC(),
		Message:    t.Comment,
		RawHistXML: raw,
	}
	if t.Stream != nil {
		out.FromStream = &t.Stream.Number
	}
	if t.ToStream != nil {
		out.ToStream = &t.ToStream.Number
	}
	for _, v := range t.Versions {
		out.Elements = append(out.Elements, model.ElementChange{Path: v.Path, ChangeType: v.Type})
	}
	return out, nil
}

// --- show streams ---

type streamsXML struct {
	XMLName xml.Name    `xml:"AcResponse"`
	Streams []streamXML `xml:"stream"`
}

type streamXML struct {
	Name        string `xml:"name,attr"`
	Number      int    `xml:"streamNumber,attr"`
	BasisName   string `xml:"basis,attr"`
	BasisNumber int    `xml:"basisStreamNumber,attr"`
	Kind        string `xml:"type,attr"`
	Timelock    int    `xml:"time,attr"`
}

func (c *AccuRevClient) ShowStreams(ctx context.Context, depot string, tx int) (model.StreamsSnapshot, error) {
	raw, err := c.run(ctx, "show_streams", depot, tx, "show", "-p", depot, "-t", strconv.Itoa(tx), "-fx", "streams")
	if err != nil {
		return model.StreamsSnapshot{}, err
	}
	return ParseStreamsXML(raw, depot, tx)
}

// ParseStreamsXML parses one "show streams" payload, exported for the
// same reconstruction-from-committed-bytes reason as ParseHistXML.
func ParseStreamsXML(raw []byte, depot string, tx int) (model.StreamsSnapshot, error) {
	var parsed streamsXML
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		return model.StreamsSnapshot{}, xerrors.Parse("show_streams", depot, 0, tx, err)
	}

	snap := model.StreamsSnapshot{Tx: tx, Streams: make(map[int]model.Stream, len(parsed.Streams)), RawXML: raw}
	for _, s := range parsed.Streams {
		st := model.Stream{ID: s.Number, Name: s.Name, Kind: streamKind(s.Kind)}
		if s.BasisNumber != 0 {
			basis := s.BasisNumber
			st.Basis = &basis
		}
		if s.Timelock != 0 {
			tl := s.Timelock
			st.Timelock = &tl
		}
		snap.Streams[s.Number] = st
	}
	return snap, nil
}

func streamKind(s string) model.StreamKind {
	switch s {
	case "normal":
		return model.KindNormal
	case "workspace":
		return model.KindWorkspace
	case "gated":
		return model.KindGated
	default:
		return model.KindUnknown
	}
}

// --- diff ---

type diffXML struct {
	XMLName xml.Name      `xml:"AcResponse"`
	Elements []diffElemXML `xml:"element"`
}

type diffElemXML struct {
	Path string `xml:"name,attr"`
}

func (c *AccuRevClient) Diff(ctx context.Context, streamName string, fromTx, toTx int) ([]string, error) {
	raw, err := c.run(ctx, "diff", streamName, toTx, "diff", "-a", "-i", "-v", streamName,
		"-V", strconv.Itoa(fromTx), "-fx")
	if err != nil {
		return nil, err
	}
	var parsed diffXML
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		return nil, xerrors.Parse("diff", streamName, 0, toTx, err)
	}
	paths := make([]string, 0, len(parsed.Elements))
	for _, e := range parsed.Elements {
		paths = append(paths, e.Path)
	}
	return paths, nil
}

// --- pop ---

func (c *AccuRevClient) Pop(ctx context.Context, streamName string, tx int, destDir string, opts PopOptions) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating pop destination: %w", err)
	}
	args := []string{"pop", "-v", streamName, "-V", strconv.Itoa(tx), "-L", destDir}
	if opts.Recursive {
		args = append(args, "-R")
	}
	if opts.Overwrite {
		args = append(args, "-O")
	}
	_, err := c.run(ctx, "pop", streamName, tx, args...)
	return err
}

// --- deep_hist ---

type deepHistXML struct {
	XMLName      xml.Name `xml:"AcResponse"`
	Transactions []struct {
		ID int `xml:"id,attr"`
	} `xml:"transaction"`
}

func (c *AccuRevClient) DeepHist(ctx context.Context, depot string, streamID int, fromTx, toTx int) ([]int, error) {
	raw, err := c.run(ctx, "deep_hist", depot, toTx, "hist", "-p", depot,
		"-s", strconv.Itoa(streamID), "-t", fmt.Sprintf("%d-%d", fromTx, toTx), "-k", "deep", "-fx")
	if err != nil {
		return nil, err
	}
	var parsed deepHistXML
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		return nil, xerrors.Parse("deep_hist", depot, streamID, toTx, err)
	}
	txs := make([]int, 0, len(parsed.Transactions))
	for _, t := range parsed.Transactions {
		txs = append(txs, t.ID)
	}
	return txs, nil
}
