// Package inmemory provides an in-process sandbox.Sandbox test double:
// components are registered as plain Go closures standing in for their
// exports, so pkg/actor and pkg/handler integration tests can exercise the
// full activation/invocation path without a container runtime
// (SPEC_FULL.md §4.8).
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/theater/pkg/sandbox"
	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

// ExportFunc is a component export's implementation.
type ExportFunc func(ctx context.Context, args []byte) ([]byte, error)

// Component is a fake component definition: the imports it needs satisfied
// and the exports it offers, by name.
type Component struct {
	ImportNames []string
	Exports     map[string]ExportFunc
}

func (c Component) exportNames() []string {
	names := make([]string, 0, len(c.Exports))
	for name := range c.Exports {
		names = append(names, name)
	}
	return names
}

// Sandbox is a sandbox.Sandbox backed by a registry of Components keyed by
// content ref hash.
type Sandbox struct {
	mu         sync.RWMutex
	components map[string]Component
}

// New returns an empty Sandbox. Register components with Register before
// Load-ing them.
func New() *Sandbox {
	return &Sandbox{components: make(map[string]Component)}
}

// Register associates ref.Hash with a fake Component. Tests typically call
// this once per fixture before spawning an actor against ref.
func (s *Sandbox) Register(ref types.ContentRef, c Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components[ref.Hash] = c
}

// Load implements sandbox.Sandbox.
func (s *Sandbox) Load(ctx context.Context, ref types.ContentRef) (sandbox.Instance, error) {
	s.mu.RLock()
	c, ok := s.components[ref.Hash]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no component registered for ref %s", theatererr.ErrActorNotFound, ref.Hash)
	}
	return &Instance{component: c}, nil
}

// Instance is the inmemory sandbox.Instance; exported so test fixtures can
// type-assert to it and call CallImport.
type Instance struct {
	component Component

	mu    sync.Mutex
	bound map[string]sandbox.HostFunction
}

func (i *Instance) Imports() []string { return i.component.ImportNames }
func (i *Instance) Exports() []string { return i.component.exportNames() }

func (i *Instance) Bind(importName string, fn sandbox.HostFunction) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.bound == nil {
		i.bound = make(map[string]sandbox.HostFunction)
	}
	i.bound[importName] = fn
	return nil
}

// CallImport lets a test fixture's export closure simulate the component
// calling back into a bound import, the same way a real component would
// invoke it through the sandbox's import table.
func (i *Instance) CallImport(ctx context.Context, importName string, args []byte) ([]byte, error) {
	i.mu.Lock()
	fn, ok := i.bound[importName]
	i.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: import %q not bound", theatererr.ErrInvalidRequest, importName)
	}
	return fn(ctx, args)
}

func (i *Instance) Invoke(ctx context.Context, export string, args []byte) ([]byte, error) {
	fn, ok := i.component.Exports[export]
	if !ok {
		return nil, fmt.Errorf("%w: component has no export %q", theatererr.ErrInvalidRequest, export)
	}
	return fn(ctx, args)
}

func (i *Instance) Close(ctx context.Context) error { return nil }
