// Package blockdb implements the BlockDB contract (§4.5): a transactional
// columnar store over bbolt, organized into the BLOCK, HEADER, BLOCK_SUMS,
// OUTPUT_POS, and SPENT_OUTPUTS column families. The core only ever uses
// the abstract put/get/delete/delete_range + commit/rollback + prefix
// iteration surface exposed here, never bbolt directly.
package blockdb

import (
	"bytes"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"wimble.dev/node/internal/corerr"
)

// Column names the five column families (§4.5).
type Column string

const (
	ColBlock        Column = "BLOCK"
	ColHeader       Column = "HEADER"
	ColBlockSums    Column = "BLOCK_SUMS"
	ColOutputPos    Column = "OUTPUT_POS"
	ColSpentOutputs Column = "SPENT_OUTPUTS"
)

var allColumns = []Column{ColBlock, ColHeader, ColBlockSums, ColOutputPos, ColSpentOutputs}

// DB wraps a bbolt database, exposing only the columnar contract the rest
// of the chain depends on. An in-memory header cache mirrors HEADER writes
// so header lookups on the hot sync path never touch disk (§4.5: "In-memory
// header cache is write-through on commit").
type DB struct {
	bolt *bolt.DB
	log  *zap.Logger

	headerCache map[string][]byte // hash -> encoded header, committed entries only
}

// Open opens (creating if absent) a bbolt-backed BlockDB at path, grounded
// on the teacher's node/store/db.go Open.
func Open(path string, log *zap.Logger) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, corerr.New(corerr.Storage, "OpenFailed", err)
	}
	if err := bdb.Update(func(tx *bolt.Tx) error {
		for _, c := range allColumns {
			if _, err := tx.CreateBucketIfNotExists([]byte(c)); err != nil {
				return fmt.Errorf("create bucket %s: %w", c, err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, corerr.New(corerr.Storage, "SchemaInitFailed", err)
	}
	return &DB{bolt: bdb, log: log, headerCache: make(map[string][]byte)}, nil
}

func (d *DB) Close() error {
	if d == nil || d.bolt == nil {
		return nil
	}
	return d.bolt.Close()
}

// GetHeaderCached serves HEADER lookups from the write-through cache,
// falling back to the underlying store on a miss (e.g. right after Open,
// before anything has been committed in this process).
func (d *DB) GetHeaderCached(hash []byte) ([]byte, bool, error) {
	if v, ok := d.headerCache[string(hash)]; ok {
		return v, true, nil
	}
	return d.Get(ColHeader, hash)
}

// Get reads a single key from a column family outside any explicit
// transaction.
func (d *DB) Get(col Column, key []byte) ([]byte, bool, error) {
	var out []byte
	err := d.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(col)).Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, corerr.New(corerr.Storage, "ReadFailed", err)
	}
	return out, out != nil, nil
}

// IterPrefix calls fn for every key in col with the given prefix, in
// ascending key order, stopping early if fn returns false.
func (d *DB) IterPrefix(col Column, prefix []byte, fn func(key, value []byte) bool) error {
	return d.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(col)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if !fn(k, v) {
				break
			}
		}
		return nil
	})
}

// Tx is a write transaction spanning all five column families, committed
// or rolled back as a unit (§4.5: "put/get/delete/delete_range scoped to a
// transaction; commit/rollback").
type Tx struct {
	db       *DB
	bolt     *bolt.Tx
	headerPuts map[string][]byte // staged HEADER writes, applied to the cache only on Commit
}

// Begin opens a write transaction.
func (d *DB) Begin() (*Tx, error) {
	btx, err := d.bolt.Begin(true)
	if err != nil {
		return nil, corerr.New(corerr.Storage, "BeginFailed", err)
	}
	return &Tx{db: d, bolt: btx, headerPuts: make(map[string][]byte)}, nil
}

func (t *Tx) Put(col Column, key, value []byte) error {
	if err := t.bolt.Bucket([]byte(col)).Put(key, value); err != nil {
		return corerr.New(corerr.Storage, "WriteFailed", err)
	}
	if col == ColHeader {
		t.headerPuts[string(key)] = append([]byte(nil), value...)
	}
	return nil
}

func (t *Tx) Get(col Column, key []byte) ([]byte, bool, error) {
	v := t.bolt.Bucket([]byte(col)).Get(key)
	if v == nil {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (t *Tx) Delete(col Column, key []byte) error {
	if err := t.bolt.Bucket([]byte(col)).Delete(key); err != nil {
		return corerr.New(corerr.Storage, "DeleteFailed", err)
	}
	return nil
}

// DeleteRange deletes every key in col with the given prefix.
func (t *Tx) DeleteRange(col Column, prefix []byte) error {
	b := t.bolt.Bucket([]byte(col))
	c := b.Cursor()
	var keys [][]byte
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return corerr.New(corerr.Storage, "DeleteRangeFailed", err)
		}
	}
	return nil
}

// IterPrefix iterates a column family within this transaction's snapshot.
func (t *Tx) IterPrefix(col Column, prefix []byte, fn func(key, value []byte) bool) {
	c := t.bolt.Bucket([]byte(col)).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if !fn(k, v) {
			break
		}
	}
}

// Commit finalizes the transaction and write-through-updates the header
// cache with every HEADER key this transaction put.
func (t *Tx) Commit() error {
	if err := t.bolt.Commit(); err != nil {
		return corerr.New(corerr.Storage, "CommitFailed", err)
	}
	for k, v := range t.headerPuts {
		t.db.headerCache[k] = v
	}
	return nil
}

// Rollback discards every write staged in this transaction. Cached
// headers were never applied (only Commit touches headerCache), so there
// is nothing additional to undo there (§4.5: "on rollback, cached-but-
// uncommitted headers are discarded").
func (t *Tx) Rollback() error {
	if err := t.bolt.Rollback(); err != nil {
		return corerr.New(corerr.Storage, "RollbackFailed", err)
	}
	return nil
}
