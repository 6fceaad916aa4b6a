package blockdb

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestPutGetCommitVisible(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "bdb"), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.Put(ColHeader, []byte("h1"), []byte("header-bytes")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	v, ok, err := db.GetHeaderCached([]byte("h1"))
	if err != nil || !ok {
		t.Fatalf("GetHeaderCached: %v, ok=%v", err, ok)
	}
	if string(v) != "header-bytes" {
		t.Fatalf("got %q", v)
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "bdb"), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.Put(ColBlockSums, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	_, ok, err := db.Get(ColBlockSums, []byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("rolled-back write should not be visible")
	}
}

func TestDeleteRangePrefix(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "bdb"), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for _, k := range []string{"p:1", "p:2", "q:1"} {
		if err := tx.Put(ColOutputPos, []byte(k), []byte("v")); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	if err := tx.DeleteRange(ColOutputPos, []byte("p:")); err != nil {
		t.Fatalf("delete range: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	remaining := 0
	if err := db.IterPrefix(ColOutputPos, nil, func(k, v []byte) bool {
		remaining++
		return true
	}); err != nil {
		t.Fatalf("iter: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("remaining = %d, want 1", remaining)
	}
}
