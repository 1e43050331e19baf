// Package timer implements the `timer` capability handler: a host function
// that schedules a one-shot callback into the actor's `handle-timeout`
// export after a requested delay. Grounded on the teacher's ticker-loop
// idiom (pkg/worker.HealthMonitor.monitorLoop, pkg/worker healthCheckLoop)
// narrowed from a repeating ticker to a single timer per call.
package timer

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cuemby/theater/pkg/handler"
	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

const (
	importAfter   = "theater:timer/after"
	exportTimeout = "handle-timeout"

	// invokeTimeout bounds how long a single handle-timeout callback may
	// run before the timer handler gives up waiting on it.
	invokeTimeout = 30 * time.Second
)

// Handler is the timer capability. A fresh instance is created per actor
// (CreateInstance); each tracks its own monotonically increasing ticket
// counter.
type Handler struct {
	invoker handler.ExportInvoker
	runCtx  context.Context
	nextID  uint64
}

// New constructs the template instance registered with a handler.Registry.
func New() *Handler {
	return &Handler{}
}

func (h *Handler) Name() string      { return "timer" }
func (h *Handler) Imports() []string { return []string{importAfter} }
func (h *Handler) Exports() []string { return []string{exportTimeout} }

func (h *Handler) CreateInstance(cfg types.HandlerConfig, perms types.Permissions) (handler.Handler, error) {
	return &Handler{}, nil
}

func (h *Handler) SetupHostFunctions(linker handler.Linker) error {
	return linker.Install(importAfter, h.after)
}

func (h *Handler) AddExportFunctions(reg handler.ExportRegistrar) error {
	reg.RegisterExport(exportTimeout)
	return nil
}

// BindInvoker implements handler.InvokerAware.
func (h *Handler) BindInvoker(inv handler.ExportInvoker) {
	h.invoker = inv
}

// Start simply holds the handler's background-task slot open for the
// actor's lifetime; scheduled timers run in their own goroutines bounded
// by ctx, not by this one.
func (h *Handler) Start(ctx context.Context) error {
	h.runCtx = ctx
	<-ctx.Done()
	return nil
}

// after implements theater:timer/after(ms) -> ticket. args is an 8-byte
// big-endian millisecond duration; the returned ticket is an 8-byte
// big-endian id the eventual handle-timeout call carries as its payload.
func (h *Handler) after(ctx context.Context, args []byte) ([]byte, error) {
	if len(args) != 8 {
		return nil, fmt.Errorf("%w: after() expects an 8-byte millisecond duration", theatererr.ErrInvalidRequest)
	}
	ms := binary.BigEndian.Uint64(args)

	h.nextID++
	ticket := h.nextID

	runCtx := h.runCtx
	if runCtx == nil {
		runCtx = context.Background()
	}

	go func() {
		t := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer t.Stop()
		select {
		case <-t.C:
			var payload [8]byte
			binary.BigEndian.PutUint64(payload[:], ticket)
			invokeCtx, cancel := context.WithTimeout(context.Background(), invokeTimeout)
			defer cancel()
			if h.invoker != nil {
				_, _ = h.invoker.InvokeExport(invokeCtx, exportTimeout, payload[:])
			}
		case <-runCtx.Done():
		}
	}()

	var ticketBytes [8]byte
	binary.BigEndian.PutUint64(ticketBytes[:], ticket)
	return ticketBytes[:], nil
}
