// Package convert is the top-level orchestrator: one Run call wires
// every layer (retrieval, planner, engine, state) together for one
// depot, the way original_source/accurev2git.py's main loop drives its
// own History/Populate/commit steps, generalized from that script's
// procedural loop into the teacher's config→logger→stores→work
// bring-up shape (main.go).
package convert

import (
	"context"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/NavicoOS/ac2git/internal/cache"
	"github.com/NavicoOS/ac2git/internal/config"
	"github.com/NavicoOS/ac2git/internal/engine"
	"github.com/NavicoOS/ac2git/internal/logging"
	"github.com/NavicoOS/ac2git/internal/model"
	"github.com/NavicoOS/ac2git/internal/namecache"
	"github.com/NavicoOS/ac2git/internal/planner"
	"github.com/NavicoOS/ac2git/internal/refs"
	"github.com/NavicoOS/ac2git/internal/retrieval"
	"github.com/NavicoOS/ac2git/internal/sourcevcs"
	"github.com/NavicoOS/ac2git/internal/state"
	"github.com/NavicoOS/ac2git/internal/targetvcs"
	"github.com/NavicoOS/ac2git/internal/usermap"
	"go.uber.org/zap"
)

// Run executes one conversion pass for cfg: resolve the tracked
// streams, retrieve every tracked stream's info/data history, plan a
// single global transaction sequence, and apply it to the target
// repository's visible branches. If cfg.Watch is set, Run blocks,
// re-polling after every trigger until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.LogLevel, false)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	runID := uuid.New().String()
	ctx = logging.WithRunID(ctx, runID)
	log := logger.FromContext(ctx)
	log.Info("starting conversion run", zap.String("depot", cfg.Depot), zap.Strings("streams", cfg.Streams))

	c, err := cache.Open(filepath.Join(cfg.RepoPath, ".ac2git-cache"))
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer c.Close()

	target := targetvcs.NewGitStore(cfg.RepoPath, cfg.GitBin)
	source := sourcevcs.NewAccuRevClient(cfg.AccurevBin, cfg.CommandTimeout, logger)
	if err := source.Login(ctx); err != nil {
		return fmt.Errorf("logging into source: %w", err)
	}

	names, err := namecache.New(target, cfg.RefNamespace)
	if err != nil {
		return fmt.Errorf("building name cache: %w", err)
	}
	basis := cache.NewBasisIndex(c)
	layout := refs.Layout{NS: cfg.RefNamespace}
	users := usermap.NewResolver(cfg.Depot, cfg.UserMap)
	depotID := depotIDFor(cfg.Depot)

	if cfg.Watch {
		return watchLoop(ctx, cfg, func(ctx context.Context) error {
			return runOnce(ctx, cfg, logger, log, source, target, c, basis, layout, users, names, depotID)
		}, log)
	}
	return runOnce(ctx, cfg, logger, log, source, target, c, basis, layout, users, names, depotID)
}

// depotIDFor derives a stable small integer id for a depot name, so
// the ref layout's depots/<id> segment never needs a round trip to
// AccuRev just to learn a depot's numeric id.
func depotIDFor(depot string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(depot))
	return int(h.Sum32() & 0x7fffffff)
}

func runOnce(ctx context.Context, cfg *config.Config, logger *logging.Logger, log *zap.Logger, source sourcevcs.Client, target targetvcs.Store,
	c *cache.Cache, basis *cache.BasisIndex, layout refs.Layout, users *usermap.Resolver, names *namecache.Cache, depotID int) error {

	startTx, err := resolveTx(ctx, source, cfg.Depot, cfg.StartTx, 1)
	if err != nil {
		return fmt.Errorf("resolving start-tx: %w", err)
	}
	endTx, err := resolveTx(ctx, source, cfg.Depot, cfg.EndTx, 0)
	if err != nil {
		return fmt.Errorf("resolving end-tx: %w", err)
	}
	if endTx == 0 {
		endTx, err = source.HighestTransaction(ctx, cfg.Depot)
		if err != nil {
			return fmt.Errorf("resolving depot's highest transaction: %w", err)
		}
	}
	if endTx < startTx {
		return fmt.Errorf("end-tx %d precedes start-tx %d", endTx, startTx)
	}

	snap, err := source.ShowStreams(ctx, cfg.Depot, endTx)
	if err != nil {
		return fmt.Errorf("loading streams snapshot: %w", err)
	}
	if err := names.Refresh(ctx, depotID, snap); err != nil {
		return fmt.Errorf("refreshing name cache: %w", err)
	}
	if err := basis.Record(cfg.Depot, snap); err != nil {
		return fmt.Errorf("recording basis snapshot: %w", err)
	}

	tracked, err := resolveTrackedStreams(cfg.Streams, snap)
	if err != nil {
		return err
	}

	pipeline := &retrieval.Pipeline{Source: source, Target: target, Cache: c, Basis: basis, Logger: logger, Layout: layout}
	if err := retrieveAll(ctx, cfg, pipeline, tracked, depotID, startTx, endTx, log); err != nil {
		return err
	}

	plannerStreams := make([]planner.TrackedStream, 0, len(tracked))
	for _, st := range tracked {
		plannerStreams = append(plannerStreams, planner.TrackedStream{
			ID:      st.ID,
			InfoRef: layout.Info(depotID, st.ID),
			HWM:     endTx,
		})
	}
	batches, err := planner.Plan(ctx, target, plannerStreams)
	if err != nil {
		return fmt.Errorf("planning transaction sequence: %w", err)
	}
	log.Info("planned transaction sequence", zap.Int("batches", len(batches)))

	mgr := state.New(target, layout, depotID)
	tips, err := mgr.LoadLast(ctx)
	if err != nil {
		return fmt.Errorf("loading last known tips: %w", err)
	}
	if err := mgr.Reconcile(ctx, tips, func(id int) (string, error) { return names.NameOf(ctx, depotID, id) }); err != nil {
		return fmt.Errorf("reconciling resumed state: %w", err)
	}

	eng := engine.New(target, basis, layout, users, names, logger, cfg, depotID)

	for _, batch := range batches {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := eng.ProcessTransaction(ctx, batch.Tx, batch.StreamIDs, tips)
		if err != nil {
			return fmt.Errorf("processing transaction %d: %w", batch.Tx, err)
		}
		for _, r := range results {
			if !r.Moved {
				continue
			}
			if err := mgr.AppendAudit(ctx, r.Stream, batch.Tx, r.NewTip); err != nil {
				return fmt.Errorf("appending audit entry for stream %d at tx %d: %w", r.Stream, batch.Tx, err)
			}
		}
		if err := mgr.SaveLast(ctx, tips); err != nil {
			return fmt.Errorf("saving state after tx %d: %w", batch.Tx, err)
		}
	}

	log.Info("conversion run complete", zap.Int("start_tx", startTx), zap.Int("end_tx", endTx))
	return nil
}

func retrieveAll(ctx context.Context, cfg *config.Config, pipeline *retrieval.Pipeline, tracked []model.Stream,
	depotID, startTx, endTx int, log *zap.Logger) error {

	if !cfg.ParallelRetrieval {
		for _, st := range tracked {
			mkTx, err := streamMkstreamTx(ctx, pipeline.Source, st, startTx)
			if err != nil {
				return fmt.Errorf("resolving mkstream transaction for stream %s: %w", st.Name, err)
			}
			log.Info("retrieving stream", zap.String("stream", st.Name), zap.Int("id", st.ID), zap.Int("mkstream_tx", mkTx))
			if err := pipeline.Advance(ctx, depotID, cfg.Depot, st, mkTx, endTx, cfg.Method); err != nil {
				return fmt.Errorf("retrieving stream %s: %w", st.Name, err)
			}
		}
		return nil
	}

	errs := make(chan error, len(tracked))
	for _, st := range tracked {
		st := st
		go func() {
			mkTx, err := streamMkstreamTx(ctx, pipeline.Source, st, startTx)
			if err != nil {
				errs <- fmt.Errorf("resolving mkstream transaction for stream %s: %w", st.Name, err)
				return
			}
			log.Info("retrieving stream", zap.String("stream", st.Name), zap.Int("id", st.ID), zap.Int("mkstream_tx", mkTx))
			errs <- pipeline.Advance(ctx, depotID, cfg.Depot, st, mkTx, endTx, cfg.Method)
		}()
	}
	var firstErr error
	for range tracked {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// resolveTrackedStreams matches cfg.Streams' names against snap,
// failing fast if any named stream is unknown to the depot as of the
// snapshot's transaction.
func resolveTrackedStreams(names []string, snap model.StreamsSnapshot) ([]model.Stream, error) {
	byName := make(map[string]model.Stream, len(snap.Streams))
	for _, st := range snap.Streams {
		byName[st.Name] = st
	}
	out := make([]model.Stream, 0, len(names))
	for _, name := range names {
		st, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("stream %q not found in depot as of transaction %d", name, snap.Tx)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// highestTransactionSource is the one sourcevcs.Client method
// resolveTx needs, narrowed so it can be exercised with a minimal fake.
type highestTransactionSource interface {
	HighestTransaction(ctx context.Context, depot string) (int, error)
}

// mkstreamSource is the one sourcevcs.Client method streamMkstreamTx
// needs, narrowed so it can be exercised with a minimal fake.
type mkstreamSource interface {
	MkstreamTransaction(ctx context.Context, streamName string) (int, bool, error)
}

// streamMkstreamTx resolves st's own creation transaction, floored at
// floor (the configured start-tx): each tracked stream starts its
// retrieval at max(floor, mkstream(s)) (spec §4.3), not at a single
// conversion-wide start transaction, since sibling streams are very
// often created at different points in the depot's history.
func streamMkstreamTx(ctx context.Context, source mkstreamSource, st model.Stream, floor int) (int, error) {
	tx, ok, err := source.MkstreamTransaction(ctx, st.Name)
	if err != nil {
		return 0, err
	}
	if !ok || tx < floor {
		return floor, nil
	}
	return tx, nil
}

// resolveTx turns a TxSpec into a concrete transaction number.
// fallback is used for EndTx's zero value, signalling "ask the source
// for its highest transaction" to the caller.
func resolveTx(ctx context.Context, source highestTransactionSource, depot string, spec config.TxSpec, fallback int) (int, error) {
	if spec.IsValue {
		return spec.Value, nil
	}
	switch spec.Keyword {
	case "first":
		return 1, nil
	case "highest", "now":
		return source.HighestTransaction(ctx, depot)
	case "":
		return fallback, nil
	default:
		return 0, fmt.Errorf("unrecognized tx keyword %q", spec.Keyword)
	}
}

// watchLoop re-runs fn every time the trigger directory under
// RepoPath/.ac2git-watch receives a filesystem event, falling back to
// a fixed poll interval so a missed or coalesced event never stalls
// the run indefinitely. Grounded in internal/change/auto_tracker.go's
// fsnotify event-loop shape, generalized from tracking local edits to
// triggering a re-poll of a remote depot.
func watchLoop(ctx context.Context, cfg *config.Config, fn func(context.Context) error, log *zap.Logger) error {
	trigger := filepath.Join(cfg.RepoPath, ".ac2git-watch")
	watcher, err := newTriggerWatcher(trigger)
	if err != nil {
		return fmt.Errorf("starting watch trigger: %w", err)
	}
	defer watcher.Close()

	const pollInterval = 5 * time.Minute
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if err := fn(ctx); err != nil {
			log.Error("conversion pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-watcher.Events():
			log.Info("watch trigger fired, re-polling")
		case <-ticker.C:
			log.Info("watch poll interval elapsed, re-polling")
		}
	}
}
