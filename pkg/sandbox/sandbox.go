// Package sandbox defines the component execution engine as an external
// collaborator (spec.md §9): "component loading, import-table
// instantiation, typed export invocation... The core only consumes these
// operations; it does not specify them." This package is that consumed
// contract; concrete backings live in sandbox/containerd (a real adapter)
// and sandbox/inmemory (a test double).
package sandbox

import (
	"context"

	"github.com/cuemby/theater/pkg/types"
)

// Sandbox loads components into running Instances.
type Sandbox interface {
	// Load fetches and prepares the component referenced by ref, returning
	// a running Instance ready to be queried for imports/exports and
	// invoked.
	Load(ctx context.Context, ref types.ContentRef) (Instance, error)
}

// HostFunction is the host-side implementation an import resolves to. Its
// shape matches handler.HostFunction exactly; this package does not import
// handler to avoid a needless dependency, since any func of this shape
// satisfies it structurally.
type HostFunction func(ctx context.Context, args []byte) ([]byte, error)

// Instance is one running component instance bound to a single actor.
type Instance interface {
	// Imports lists the interface names this component's import table
	// declares; the Handler Framework matches these against configured
	// handlers (spec.md §4.6 step 2).
	Imports() []string

	// Exports lists the interface names this component declares, for the
	// Handler Framework to bind callbacks against (spec.md §4.6 step 4).
	Exports() []string

	// Bind installs fn as the host-side implementation of importName. The
	// actor task binds every name a handler's Registry.Activate installed
	// before the component can observe a working import; a component that
	// calls an unbound import sees a runtime error surfaced from Invoke or
	// from the adapter's own error channel.
	Bind(importName string, fn HostFunction) error

	// Invoke calls the named export with args (the neutral value model's
	// encoded bytes) and returns its result. The actor task guarantees at
	// most one Invoke in flight at a time per Instance (spec.md §4.5:
	// "sandbox instances are not re-entrant").
	Invoke(ctx context.Context, export string, args []byte) ([]byte, error)

	// Close tears the instance down, releasing any engine-side resources.
	Close(ctx context.Context) error
}
