package eventstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"optionclear/core/types"
)

type payloadEvent struct {
	evt *types.Event
}

func (p payloadEvent) EventType() string   { return p.evt.Type }
func (p payloadEvent) Event() *types.Event { return p.evt }

type bareEvent struct{}

func (bareEvent) EventType() string { return "bare" }

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	store, err := New(db)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.Append(ctx, []*types.Event{
		{Type: "clearing.options.written", Attributes: map[string]string{"optionId": "0xaa", "claimId": "0xab"}},
		{Type: "clearing.options.exercised", Attributes: map[string]string{"optionId": "0xaa"}},
		nil,
		{Type: "clearing.options.written", Attributes: map[string]string{"optionId": "0xbb", "claimId": "0xbc"}},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	all, err := store.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	for i, record := range all {
		if record.Sequence != uint64(i+1) {
			t.Fatalf("unexpected sequence %d at %d", record.Sequence, i)
		}
	}

	written, err := store.List(ctx, Filter{Type: "clearing.options.written"})
	if err != nil || len(written) != 2 {
		t.Fatalf("type filter: %d records, err %v", len(written), err)
	}
	byOption, err := store.List(ctx, Filter{OptionID: "0xAA"})
	if err != nil || len(byOption) != 2 {
		t.Fatalf("option filter: %d records, err %v", len(byOption), err)
	}
	page, err := store.List(ctx, Filter{After: 1, Limit: 1})
	if err != nil || len(page) != 1 || page[0].Sequence != 2 {
		t.Fatalf("paging: %+v err %v", page, err)
	}

	evt, err := byOption[0].Event()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Attributes["claimId"] != "0xab" {
		t.Fatalf("unexpected attributes %v", evt.Attributes)
	}
}

func TestEmitPersistsPayloads(t *testing.T) {
	store := setupTestStore(t)
	store.Emit(payloadEvent{evt: &types.Event{Type: "clearing.fee.swept", Attributes: map[string]string{"asset": "0x01"}}})
	store.Emit(bareEvent{})

	records, err := store.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].Type != "clearing.fee.swept" {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestSequenceResumesAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Append(context.Background(), []*types.Event{{Type: "a"}, {Type: "b"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = store.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if err := reopened.Append(context.Background(), []*types.Event{{Type: "c"}}); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	records, err := reopened.List(context.Background(), Filter{Type: "c"})
	if err != nil || len(records) != 1 || records[0].Sequence != 3 {
		t.Fatalf("sequence did not resume: %+v err %v", records, err)
	}
}
