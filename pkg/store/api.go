package store

import (
	"context"

	"github.com/cuemby/theater/pkg/types"
)

// Store hashes content and writes it if not already present, returning its
// ContentRef. Idempotent: repeated calls with identical bytes return an
// equal ContentRef and never produce a duplicate blob file.
func (s *Store) Store(ctx context.Context, content []byte) (types.ContentRef, error) {
	res, err := s.submit(ctx, storeOp{kind: opStore, bytes: content})
	return res.ref, err
}

// Get retrieves content by reference. Returns a theatererr.ErrStore-wrapped
// error if the content is absent.
func (s *Store) Get(ctx context.Context, ref types.ContentRef) ([]byte, error) {
	res, err := s.submit(ctx, storeOp{kind: opGet, ref: ref})
	return res.bytes, err
}

// Exists reports whether ref is present in the store.
func (s *Store) Exists(ctx context.Context, ref types.ContentRef) (bool, error) {
	res, err := s.submit(ctx, storeOp{kind: opExists, ref: ref})
	return res.exists, err
}

// Label atomically points label at ref. ref must already exist.
func (s *Store) Label(ctx context.Context, label types.Label, ref types.ContentRef) error {
	_, err := s.submit(ctx, storeOp{kind: opLabel, label: label, ref: ref})
	return err
}

// StoreAtLabel stores content and labels it in one logical operation.
func (s *Store) StoreAtLabel(ctx context.Context, label types.Label, content []byte) (types.ContentRef, error) {
	res, err := s.submit(ctx, storeOp{kind: opStoreAtLabel, label: label, bytes: content})
	return res.ref, err
}

// ReplaceContentAtLabel stores new content and unconditionally overwrites
// label to point at it, regardless of what it previously referenced.
func (s *Store) ReplaceContentAtLabel(ctx context.Context, label types.Label, content []byte) (types.ContentRef, error) {
	res, err := s.submit(ctx, storeOp{kind: opReplaceContentAtLabel, label: label, bytes: content})
	return res.ref, err
}

// GetByLabel resolves label to its ContentRef, if any. The bool result
// reports whether the label exists.
func (s *Store) GetByLabel(ctx context.Context, label types.Label) (types.ContentRef, bool, error) {
	res, err := s.submit(ctx, storeOp{kind: opGetByLabel, label: label})
	return res.ref, res.found, err
}

// RemoveLabel deletes label if present; removing an absent label is a no-op.
func (s *Store) RemoveLabel(ctx context.Context, label types.Label) error {
	_, err := s.submit(ctx, storeOp{kind: opRemoveLabel, label: label})
	return err
}

// ListLabels returns every label currently set, in lexical order.
func (s *Store) ListLabels(ctx context.Context) ([]string, error) {
	res, err := s.submit(ctx, storeOp{kind: opListLabels})
	return res.labels, err
}

// ListAllContent returns every blob currently stored.
func (s *Store) ListAllContent(ctx context.Context) ([]types.ContentRef, error) {
	res, err := s.submit(ctx, storeOp{kind: opListAllContent})
	return res.refs, err
}

// CalculateTotalSize sums the size in bytes of every stored blob.
func (s *Store) CalculateTotalSize(ctx context.Context) (uint64, error) {
	res, err := s.submit(ctx, storeOp{kind: opCalculateTotalSize})
	return res.totalSize, err
}
