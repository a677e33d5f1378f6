// Package cache is the conversion engine's volatile performance cache:
// parsed source XML, deep-hist results and basis-at-T snapshot
// indices. Nothing here is authoritative — every value is
// reconstructible from the target VCS refs (spec §9) — so the cache
// may be wiped and rebuilt at any time without losing state.
package cache

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"
)

// compressThreshold is the size above which a value is zstd-compressed
// before it is persisted to badger, grounded in the teacher's unused
// safe.Options.CompressAfter field — exercised here for the large
// streams.xml snapshot payloads a wide depot can produce.
const compressThreshold = 8 << 10

// compressedPrefix marks a badger value as zstd-compressed so GetBytes
// knows to decode it.
var compressedPrefix = []byte("zstd:")

// Cache fronts a badger store with an LRU of decoded values, mirroring
// the teacher's safe.Safe shape (LRU cache over a badger-backed blob
// store) without its refcounting/compression-scheduling, which this
// volatile cache has no use for.
type Cache struct {
	db  *badger.DB
	lru *lru.Cache[string, []byte]
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open opens (creating if absent) a badger database rooted at path.
func Open(path string) (*Cache, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	l, err := lru.New[string, []byte](4096)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache lru: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache compressor: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache decompressor: %w", err)
	}
	return &Cache{db: db, lru: l, enc: enc, dec: dec}, nil
}

func (c *Cache) Close() error {
	c.enc.Close()
	c.dec.Close()
	return c.db.Close()
}

// GetBytes returns a cached blob, checking the LRU before badger.
func (c *Cache) GetBytes(key string) ([]byte, bool) {
	if v, ok := c.lru.Get(key); ok {
		return v, true
	}
	var out []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, false
	}
	if hasPrefix(out, compressedPrefix) {
		decoded, err := c.dec.DecodeAll(out[len(compressedPrefix):], nil)
		if err != nil {
			return nil, false
		}
		out = decoded
	}
	c.lru.Add(key, out)
	return out, true
}

// PutBytes stores a blob in both the LRU and badger, compressing the
// badger copy when it is large enough to be worth it.
func (c *Cache) PutBytes(key string, value []byte) error {
	c.lru.Add(key, value)
	stored := value
	if len(value) >= compressThreshold {
		stored = append(append([]byte(nil), compressedPrefix...), c.enc.EncodeAll(value, nil)...)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), stored)
	})
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}

// GetJSON decodes a cached JSON value into v, reporting whether it was present.
func (c *Cache) GetJSON(key string, v any) (bool, error) {
	raw, ok := c.GetBytes(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decoding cached value for %s: %w", key, err)
	}
	return true, nil
}

// PutJSON encodes v as JSON and stores it under key.
func (c *Cache) PutJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding cache value for %s: %w", key, err)
	}
	return c.PutBytes(key, raw)
}
