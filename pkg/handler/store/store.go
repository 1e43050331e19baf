// Package store implements the `store` capability handler: scoped actor
// access to a content-store label namespace, delegating to pkg/store
// (SPEC_FULL.md §4.6). Grounded on pkg/store's own Store.GetByLabel/
// StoreAtLabel API and the teacher's small-interface handler style.
package store

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cuemby/theater/pkg/handler"
	thstore "github.com/cuemby/theater/pkg/store"
	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

const (
	importGetByLabel   = "theater:store/get-by-label"
	importStoreAtLabel = "theater:store/store-at-label"
)

// Handler is the store capability, namespacing every label an actor uses
// under a fixed prefix so unrelated actors sharing a Store cannot collide.
type Handler struct {
	backend   *thstore.Store
	namespace string
}

// New constructs the template instance; backend is the shared Store the
// runtime opened. CreateInstance supplies the per-actor namespace.
func New(backend *thstore.Store) *Handler {
	return &Handler{backend: backend}
}

func (h *Handler) Name() string      { return "store" }
func (h *Handler) Imports() []string { return []string{importGetByLabel, importStoreAtLabel} }
func (h *Handler) Exports() []string { return nil }

func (h *Handler) CreateInstance(cfg types.HandlerConfig, perms types.Permissions) (handler.Handler, error) {
	ns, ok := cfg.Config["namespace"]
	if !ok || ns == "" {
		return nil, fmt.Errorf("%w: store handler requires a \"namespace\" config value", theatererr.ErrInvalidRequest)
	}
	return &Handler{backend: h.backend, namespace: ns}, nil
}

func (h *Handler) SetupHostFunctions(linker handler.Linker) error {
	if err := linker.Install(importGetByLabel, h.getByLabel); err != nil {
		return err
	}
	return linker.Install(importStoreAtLabel, h.storeAtLabel)
}

func (h *Handler) AddExportFunctions(reg handler.ExportRegistrar) error {
	return nil
}

func (h *Handler) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (h *Handler) label(suffix string) types.Label {
	return types.Label(h.namespace + "/" + suffix)
}

// getByLabel implements theater:store/get-by-label(label) -> content. args
// is the label suffix as UTF-8 bytes.
func (h *Handler) getByLabel(ctx context.Context, args []byte) ([]byte, error) {
	label := h.label(string(args))
	ref, found, err := h.backend.GetByLabel(ctx, label)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: label %s not set", theatererr.ErrStore, label)
	}
	return h.backend.Get(ctx, ref)
}

// storeAtLabel implements theater:store/store-at-label(label, content) ->
// content-ref. args is a 2-byte big-endian label length, the label suffix,
// then the content bytes.
func (h *Handler) storeAtLabel(ctx context.Context, args []byte) ([]byte, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("%w: store-at-label() payload too short", theatererr.ErrInvalidRequest)
	}
	labelLen := int(binary.BigEndian.Uint16(args[:2]))
	if len(args) < 2+labelLen {
		return nil, fmt.Errorf("%w: store-at-label() payload shorter than declared label length", theatererr.ErrInvalidRequest)
	}
	label := h.label(string(args[2 : 2+labelLen]))
	content := args[2+labelLen:]

	ref, err := h.backend.StoreAtLabel(ctx, label, content)
	if err != nil {
		return nil, err
	}
	return []byte(ref.Hash), nil
}
