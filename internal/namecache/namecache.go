// Package namecache implements the stream-name cache (spec §4.7): a
// depot-keyed id↔name binding, persisted as a single commit on
// <ns>/cache/depots/<id>/stream_names with one file per stream id, and
// fronted by an LRU so a planner pass doesn't round-trip through git
// for every lookup.
package namecache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/NavicoOS/ac2git/internal/model"
	"github.com/NavicoOS/ac2git/internal/targetvcs"
)

type Cache struct {
	target targetvcs.Store
	ns     string
	lru    *lru.Cache[string, string]
}

func New(target targetvcs.Store, ns string) (*Cache, error) {
	l, err := lru.New[string, string](2048)
	if err != nil {
		return nil, fmt.Errorf("creating name cache lru: %w", err)
	}
	return &Cache{target: target, ns: ns, lru: l}, nil
}

func (c *Cache) ref(depotID int) string {
	return fmt.Sprintf("%s/cache/depots/%d/stream_names", c.ns, depotID)
}

func (c *Cache) lruKey(depotID, streamID int) string {
	return fmt.Sprintf("%d:%d", depotID, streamID)
}

// Refresh invalidates and rebuilds the cache if snap reveals a new
// stream id or a rename, per the invariant in spec §3/§4.7.
func (c *Cache) Refresh(ctx context.Context, depotID int, snap model.StreamsSnapshot) error {
	ref := c.ref(depotID)
	cur, err := c.target.ReadRef(ctx, ref)
	if err != nil {
		return fmt.Errorf("reading name cache ref: %w", err)
	}

	changed := false
	for id, st := range snap.Streams {
		if name, ok := c.lru.Get(c.lruKey(depotID, id)); !ok || name != st.Name {
			changed = true
			break
		}
	}
	if cur != "" && !changed {
		return nil
	}

	dir, err := os.MkdirTemp("", "ac2git-namecache-*")
	if err != nil {
		return fmt.Errorf("creating name cache workdir: %w", err)
	}
	defer os.RemoveAll(dir)

	for id, st := range snap.Streams {
		if err := os.WriteFile(filepath.Join(dir, strconv.Itoa(id)), []byte(st.Name), 0o644); err != nil {
			return fmt.Errorf("writing name cache entry: %w", err)
		}
	}

	var parents []string
	if cur != "" {
		parents = []string{cur}
	}
	commit, err := c.target.CommitTree(ctx, dir, fmt.Sprintf("stream names at tx %d", snap.Tx), parents,
		targetvcs.Signature{Name: "ac2git", Email: "ac2git@localhost"})
	if err != nil {
		return fmt.Errorf("committing name cache: %w", err)
	}
	if err := c.target.UpdateRef(ctx, ref, commit, cur); err != nil {
		return fmt.Errorf("updating name cache ref: %w", err)
	}

	for id, st := range snap.Streams {
		c.lru.Add(c.lruKey(depotID, id), st.Name)
	}
	return nil
}

// NameOf returns the cached name for streamID, reading through to the
// ref if the LRU doesn't have it.
func (c *Cache) NameOf(ctx context.Context, depotID, streamID int) (string, error) {
	if name, ok := c.lru.Get(c.lruKey(depotID, streamID)); ok {
		return name, nil
	}
	ref := c.ref(depotID)
	cur, err := c.target.ReadRef(ctx, ref)
	if err != nil || cur == "" {
		return "", fmt.Errorf("stream name cache empty for depot %d", depotID)
	}
	raw, err := c.target.Show(ctx, cur, strconv.Itoa(streamID))
	if err != nil {
		return "", fmt.Errorf("stream %d not found in name cache: %w", streamID, err)
	}
	name := string(raw)
	c.lru.Add(c.lruKey(depotID, streamID), name)
	return name, nil
}
