package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/cuemby/theater/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("test", t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStoreGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ref, err := s.Store(ctx, []byte("hello"))
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	got, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("Get() = %q, want %q", got, "hello")
	}
}

func TestStoreIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ref1, err := s.Store(ctx, []byte("same content"))
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	ref2, err := s.Store(ctx, []byte("same content"))
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if ref1 != ref2 {
		t.Errorf("Store() produced different refs for identical content: %v != %v", ref1, ref2)
	}

	refs, err := s.ListAllContent(ctx)
	if err != nil {
		t.Fatalf("ListAllContent() error = %v", err)
	}
	if len(refs) != 1 {
		t.Errorf("ListAllContent() = %d entries, want 1 (no duplicate blob)", len(refs))
	}
}

func TestGetMissingContentFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, types.ContentRef{Hash: "deadbeef"}); err == nil {
		t.Error("Get() of missing content = nil error, want error")
	}
}

func TestLabelRequiresExistingContent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Label(ctx, "conf", types.ContentRef{Hash: "deadbeef"}); err == nil {
		t.Error("Label() of nonexistent ref = nil error, want error")
	}
}

func TestLabelRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ref, err := s.StoreAtLabel(ctx, "conf/app", []byte("v1"))
	if err != nil {
		t.Fatalf("StoreAtLabel() error = %v", err)
	}

	got, found, err := s.GetByLabel(ctx, "conf/app")
	if err != nil {
		t.Fatalf("GetByLabel() error = %v", err)
	}
	if !found || got != ref {
		t.Errorf("GetByLabel() = (%v, %v), want (%v, true)", got, found, ref)
	}
}

func TestRemoveLabelThenGetByLabelIsAbsent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.StoreAtLabel(ctx, "conf/app", []byte("v1")); err != nil {
		t.Fatalf("StoreAtLabel() error = %v", err)
	}
	if err := s.RemoveLabel(ctx, "conf/app"); err != nil {
		t.Fatalf("RemoveLabel() error = %v", err)
	}

	_, found, err := s.GetByLabel(ctx, "conf/app")
	if err != nil {
		t.Fatalf("GetByLabel() error = %v", err)
	}
	if found {
		t.Error("GetByLabel() found a removed label")
	}
}

// TestReplaceContentAtLabelKeepsOldBlobImmutable exercises scenario S5:
// overwriting a label never mutates the blob the old ref still points to.
func TestReplaceContentAtLabelKeepsOldBlobImmutable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ref1, err := s.StoreAtLabel(ctx, "conf", []byte("v1"))
	if err != nil {
		t.Fatalf("StoreAtLabel() error = %v", err)
	}
	ref2, err := s.ReplaceContentAtLabel(ctx, "conf", []byte("v2"))
	if err != nil {
		t.Fatalf("ReplaceContentAtLabel() error = %v", err)
	}

	got, found, err := s.GetByLabel(ctx, "conf")
	if err != nil || !found || got != ref2 {
		t.Fatalf("GetByLabel() = (%v, %v, %v), want (%v, true, nil)", got, found, err, ref2)
	}

	old, err := s.Get(ctx, ref1)
	if err != nil {
		t.Fatalf("Get(ref1) error = %v", err)
	}
	if !bytes.Equal(old, []byte("v1")) {
		t.Errorf("Get(ref1) = %q, want %q (blobs must be immutable)", old, "v1")
	}
}

func TestListLabelsAndCalculateTotalSize(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.StoreAtLabel(ctx, "a", []byte("xx")); err != nil {
		t.Fatalf("StoreAtLabel() error = %v", err)
	}
	if _, err := s.StoreAtLabel(ctx, "b/c", []byte("yyy")); err != nil {
		t.Fatalf("StoreAtLabel() error = %v", err)
	}

	labels, err := s.ListLabels(ctx)
	if err != nil {
		t.Fatalf("ListLabels() error = %v", err)
	}
	if len(labels) != 2 {
		t.Fatalf("ListLabels() = %v, want 2 entries", labels)
	}

	total, err := s.CalculateTotalSize(ctx)
	if err != nil {
		t.Fatalf("CalculateTotalSize() error = %v", err)
	}
	if total != 5 {
		t.Errorf("CalculateTotalSize() = %d, want 5", total)
	}
}
