// Package store implements the Content Store: a content-addressed blob
// store with mutable labels. Every Store instance owns exactly one
// goroutine that serializes all mutation of its directory tree; callers
// never touch the filesystem directly and there are no locks on the
// directory layout itself (spec.md §4.1).
//
// The owning-goroutine-plus-command-channel shape is ported from
// original_source/src/store/mod.rs's run_store loop (Rust mpsc + oneshot)
// onto Go channels, following the single-owner-task style the teacher
// repo already uses for its event broker.
package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cuemby/theater/pkg/metrics"
	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

// Store is a single content-addressed blob store instance, backed by a
// directory under Root. All mutation is serialized through run.
type Store struct {
	name string
	root string

	ops  chan storeOp
	done chan struct{}

	// cache memoizes label -> ContentRef lookups. It is read-mostly
	// metadata already fully serialized by run (every write to it happens
	// inside run's loop); per SPEC_FULL.md §1 this is the one place a
	// sync.RWMutex is permitted instead of a single-owner goroutine, since
	// it only memoizes state the owning goroutine already guards.
	cacheMu sync.RWMutex
	cache   map[types.Label]types.ContentRef
}

// storeOp is one request sent to the owning goroutine; each carries its own
// one-shot reply channel.
type storeOp struct {
	kind    opKind
	bytes   []byte
	ref     types.ContentRef
	label   types.Label
	replyC  chan opResult
}

type opKind int

const (
	opStore opKind = iota
	opGet
	opExists
	opLabel
	opStoreAtLabel
	opReplaceContentAtLabel
	opGetByLabel
	opRemoveLabel
	opListLabels
	opListAllContent
	opCalculateTotalSize
)

type opResult struct {
	ref       types.ContentRef
	bytes     []byte
	exists    bool
	found     bool
	refs      []types.ContentRef
	labels    []string
	totalSize uint64
	err       error
}

// Open creates (if necessary) the data/ and labels/ directories under root
// and starts the store's owning goroutine. Callers must call Close when
// done.
func Open(name, root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "data"), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", theatererr.ErrStore, err)
	}
	if err := os.MkdirAll(filepath.Join(root, "labels"), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create labels dir: %v", theatererr.ErrStore, err)
	}

	s := &Store{
		name:  name,
		root:  root,
		ops:   make(chan storeOp),
		done:  make(chan struct{}),
		cache: make(map[types.Label]types.ContentRef),
	}
	go s.run()
	return s, nil
}

// Close stops the owning goroutine. Pending operations already sent will
// still complete; no new operations may be submitted afterward.
func (s *Store) Close() {
	close(s.done)
}

func (s *Store) submit(ctx context.Context, op storeOp) (opResult, error) {
	op.replyC = make(chan opResult, 1)
	select {
	case s.ops <- op:
	case <-s.done:
		return opResult{}, fmt.Errorf("%w: store %q is closed", theatererr.ErrStore, s.name)
	case <-ctx.Done():
		return opResult{}, ctx.Err()
	}
	select {
	case res := <-op.replyC:
		return res, res.err
	case <-ctx.Done():
		return opResult{}, ctx.Err()
	}
}

func (s *Store) run() {
	for {
		select {
		case op := <-s.ops:
			op.replyC <- s.handle(op)
		case <-s.done:
			return
		}
	}
}

func (s *Store) handle(op storeOp) opResult {
	switch op.kind {
	case opStore:
		ref, err := s.doStore(op.bytes)
		return opResult{ref: ref, err: err}
	case opGet:
		b, err := s.doGet(op.ref)
		return opResult{bytes: b, err: err}
	case opExists:
		return opResult{exists: s.doExists(op.ref)}
	case opLabel:
		err := s.doLabel(op.label, op.ref)
		return opResult{err: err}
	case opStoreAtLabel:
		ref, err := s.doStore(op.bytes)
		if err == nil {
			err = s.doLabel(op.label, ref)
		}
		return opResult{ref: ref, err: err}
	case opReplaceContentAtLabel:
		ref, err := s.doStore(op.bytes)
		if err == nil {
			err = s.writeLabel(op.label, ref)
		}
		return opResult{ref: ref, err: err}
	case opGetByLabel:
		ref, found, err := s.doGetByLabel(op.label)
		return opResult{ref: ref, found: found, err: err}
	case opRemoveLabel:
		return opResult{err: s.doRemoveLabel(op.label)}
	case opListLabels:
		labels, err := s.doListLabels()
		return opResult{labels: labels, err: err}
	case opListAllContent:
		refs, err := s.doListAllContent()
		return opResult{refs: refs, err: err}
	case opCalculateTotalSize:
		n, err := s.doCalculateTotalSize()
		return opResult{totalSize: n, err: err}
	default:
		return opResult{err: fmt.Errorf("%w: unknown store operation", theatererr.ErrInternal)}
	}
}

func (s *Store) blobPath(ref types.ContentRef) string {
	return filepath.Join(s.root, "data", ref.Hash)
}

func (s *Store) labelPath(label types.Label) string {
	return filepath.Join(s.root, "labels", filepath.FromSlash(string(label)))
}

// hashOf computes the store's pinned content hash (SHA-1, SPEC_FULL.md §4.1).
func hashOf(content []byte) types.ContentRef {
	sum := sha1.Sum(content)
	return types.ContentRef{Hash: hex.EncodeToString(sum[:])}
}

// doStore writes content atomically (write-to-temp-then-rename) if the blob
// is not already present. Write-once: an existing blob is never reopened for
// writing (spec.md §4.1 invariant).
func (s *Store) doStore(content []byte) (types.ContentRef, error) {
	ref := hashOf(content)
	path := s.blobPath(ref)

	if _, err := os.Stat(path); err == nil {
		return ref, nil // identical content already stored: no-op, same ref
	}

	if err := atomicWrite(path, content); err != nil {
		return types.ContentRef{}, fmt.Errorf("%w: store blob %s: %v", theatererr.ErrStore, ref.Hash, err)
	}
	metrics.StorePutsTotal.Inc()
	return ref, nil
}

func (s *Store) doGet(ref types.ContentRef) ([]byte, error) {
	timer := metrics.NewTimer()
	b, err := os.ReadFile(s.blobPath(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: content %s not found", theatererr.ErrStore, ref.Hash)
		}
		return nil, fmt.Errorf("%w: read blob %s: %v", theatererr.ErrStore, ref.Hash, err)
	}
	timer.ObserveDuration(metrics.StoreGetDuration)
	return b, nil
}

func (s *Store) doExists(ref types.ContentRef) bool {
	_, err := os.Stat(s.blobPath(ref))
	return err == nil
}

// doLabel writes label -> ref, requiring ref to already exist (spec.md
// §4.1's "ref must exist"). It is equivalent to writeLabel but enforces the
// existence precondition used by the plain `label` operation.
func (s *Store) doLabel(label types.Label, ref types.ContentRef) error {
	if !s.doExists(ref) {
		return fmt.Errorf("%w: content %s does not exist", theatererr.ErrStore, ref.Hash)
	}
	return s.writeLabel(label, ref)
}

// writeLabel atomically overwrites (or creates) the label file. A label file
// either names exactly one ContentRef or does not exist at all (spec.md
// §4.1's atomic label update invariant) — unlike original_source's
// append-only label lists, this expansion follows spec.md's one-ref-per-
// label contract (see DESIGN.md's Open Question decision).
func (s *Store) writeLabel(label types.Label, ref types.ContentRef) error {
	path := s.labelPath(label)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: create label dir: %v", theatererr.ErrStore, err)
	}
	if err := atomicWrite(path, []byte(ref.Hash)); err != nil {
		return fmt.Errorf("%w: write label %q: %v", theatererr.ErrStore, label, err)
	}
	s.cacheMu.Lock()
	s.cache[label] = ref
	s.cacheMu.Unlock()
	return nil
}

func (s *Store) doGetByLabel(label types.Label) (types.ContentRef, bool, error) {
	s.cacheMu.RLock()
	if ref, ok := s.cache[label]; ok {
		s.cacheMu.RUnlock()
		return ref, true, nil
	}
	s.cacheMu.RUnlock()

	b, err := os.ReadFile(s.labelPath(label))
	if err != nil {
		if os.IsNotExist(err) {
			return types.ContentRef{}, false, nil
		}
		return types.ContentRef{}, false, fmt.Errorf("%w: read label %q: %v", theatererr.ErrStore, label, err)
	}
	ref := types.ContentRef{Hash: string(b)}

	s.cacheMu.Lock()
	s.cache[label] = ref
	s.cacheMu.Unlock()
	return ref, true, nil
}

func (s *Store) doRemoveLabel(label types.Label) error {
	path := s.labelPath(label)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove label %q: %v", theatererr.ErrStore, label, err)
	}
	s.cacheMu.Lock()
	delete(s.cache, label)
	s.cacheMu.Unlock()
	return nil
}

func (s *Store) doListLabels() ([]string, error) {
	root := filepath.Join(s.root, "labels")
	var labels []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		labels = append(labels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list labels: %v", theatererr.ErrStore, err)
	}
	sort.Strings(labels)
	return labels, nil
}

func (s *Store) doListAllContent() ([]types.ContentRef, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "data"))
	if err != nil {
		return nil, fmt.Errorf("%w: list content: %v", theatererr.ErrStore, err)
	}
	refs := make([]types.ContentRef, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		refs = append(refs, types.ContentRef{Hash: e.Name()})
	}
	return refs, nil
}

func (s *Store) doCalculateTotalSize() (uint64, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "data"))
	if err != nil {
		return 0, fmt.Errorf("%w: calculate total size: %v", theatererr.ErrStore, err)
	}
	var total uint64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += uint64(info.Size())
	}
	return total, nil
}

// atomicWrite writes data to path via a temp file in the same directory
// followed by rename, so a crash mid-write never leaves a partially written
// blob visible under its final name (spec.md §4.1: "a failed operation
// leaves no partial blob visible").
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
