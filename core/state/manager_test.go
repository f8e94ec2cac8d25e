package state

import (
	"math/big"
	"testing"

	"optionclear/storage"
)

func TestManagerOverlayCommit(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	if err := mgr.KVPut([]byte("k"), uint64(7)); err != nil {
		t.Fatalf("put: %v", err)
	}
	var got uint64
	ok, err := mgr.KVGet([]byte("k"), &got)
	if err != nil || !ok || got != 7 {
		t.Fatalf("pending read: ok=%v got=%d err=%v", ok, got, err)
	}
	if db.Len() != 0 {
		t.Fatalf("write reached database before commit")
	}
	if mgr.Pending() != 1 {
		t.Fatalf("expected one pending write, got %d", mgr.Pending())
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if db.Len() != 1 || mgr.Pending() != 0 {
		t.Fatalf("commit did not flush: db=%d pending=%d", db.Len(), mgr.Pending())
	}

	fresh := NewManager(db)
	ok, err = fresh.KVGet([]byte("k"), &got)
	if err != nil || !ok || got != 7 {
		t.Fatalf("committed read: ok=%v got=%d err=%v", ok, got, err)
	}
}

func TestManagerDiscard(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	if err := mgr.KVPut([]byte("keep"), big.NewInt(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := mgr.KVDelete([]byte("keep")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mgr.KVPut([]byte("drop"), big.NewInt(2)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ok, _ := mgr.KVGet([]byte("keep"), nil); ok {
		t.Fatalf("pending delete not visible")
	}
	mgr.Discard()

	if ok, _ := mgr.KVGet([]byte("keep"), nil); !ok {
		t.Fatalf("discard lost committed value")
	}
	if ok, _ := mgr.KVGet([]byte("drop"), nil); ok {
		t.Fatalf("discarded write still visible")
	}
}

func TestManagerCommitLevelDB(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mgr := NewManager(db)
	asset := [20]byte{0x01}
	holder := [20]byte{0x02}
	if err := mgr.CreditAsset(asset, holder, big.NewInt(500)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	db.Close()

	reopened, err := storage.NewLevelDB(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	balance, err := NewManager(reopened).AssetBalance(asset, holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Int64() != 500 {
		t.Fatalf("unexpected balance %s", balance)
	}
}
