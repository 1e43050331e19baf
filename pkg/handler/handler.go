// Package handler implements the Handler Composition Model (spec.md §4.6):
// the contract by which capability providers — filesystem, HTTP, TCP,
// process, timer, random, store — attach to an actor, install host
// functions into its sandbox instance, and record every call into the
// actor's chain. Grounded on the teacher's small-interface style
// (pkg/health.Checker: one interface, one Config, one factory) scaled up to
// a multi-method capability contract.
package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/theater/pkg/chain"
	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

// HostFunction is a single callable installed into the sandbox's import
// table. args/result are the neutral-value-model bytes the sandbox
// exchanges with the component; the framework never interprets them.
type HostFunction func(ctx context.Context, args []byte) ([]byte, error)

// Linker is the sandbox's import table as seen by a handler during setup.
// It lives in this package, not pkg/sandbox, so handler has no import-time
// dependency on a concrete sandbox implementation (spec.md §9: the sandbox
// is an external collaborator the core only consumes).
type Linker interface {
	// Satisfied reports whether importName has already been installed by
	// an earlier-activated handler.
	Satisfied(importName string) bool
	// Install registers fn under importName. A handler must still call
	// this even when Satisfied already reports true for an import it
	// shares with another handler — Install is expected to no-op in that
	// case, never double-install.
	Install(importName string, fn HostFunction) error
}

// ExportRegistrar lets a handler declare which of the actor's exported
// functions it will invoke (spec.md §4.6 step 4).
type ExportRegistrar interface {
	RegisterExport(name string)
}

// Handler is a capability provider (spec.md §4.6).
type Handler interface {
	// Name identifies the handler type; it matches types.HandlerConfig.Type.
	Name() string

	// Imports lists the interface names this handler provides to the
	// actor's import table.
	Imports() []string

	// Exports lists the interface names this handler expects the actor to
	// export as callbacks.
	Exports() []string

	// CreateInstance clones a per-actor instance of this handler, bound to
	// cfg's configuration and permission record.
	CreateInstance(cfg types.HandlerConfig, perms types.Permissions) (Handler, error)

	// SetupHostFunctions installs this instance's host functions through
	// linker. Implementations must call linker.Install for every import
	// they provide, even ones linker.Satisfied already reports true for.
	SetupHostFunctions(linker Linker) error

	// AddExportFunctions registers the exports this instance will invoke.
	AddExportFunctions(reg ExportRegistrar) error

	// Start runs the handler's long-lived side task, if it has one (e.g.
	// tcpcap's listener accept loop). It must return promptly once ctx is
	// canceled (spec.md §5's bounded shutdown deadline). Handlers with no
	// background work block until ctx is canceled and then return nil.
	Start(ctx context.Context) error
}

// ExportInvoker lets a handler call back into the actor it's attached to
// (e.g. timer's "after" firing "handle-timeout", process's stdout chunks
// firing "handle-send"). It is supplied per actor instance, not per
// template, so it isn't part of the core Handler interface; a handler that
// needs it implements InvokerAware and the actor task binds one after
// activation and before Start.
type ExportInvoker interface {
	InvokeExport(ctx context.Context, export string, args []byte) ([]byte, error)
}

// InvokerAware is implemented by handlers that call back into the actor's
// exports from their Start task.
type InvokerAware interface {
	BindInvoker(inv ExportInvoker)
}

// satisfactionLinker is the framework's Linker implementation: it tracks,
// per activation, which import names have already been installed, and
// skips a second install silently (spec.md §4.6 step 3: "later handlers see
// the context marked and skip").
type satisfactionLinker struct {
	install   func(name string, fn HostFunction) error
	satisfied map[string]bool
}

func newSatisfactionLinker(install func(string, HostFunction) error) *satisfactionLinker {
	return &satisfactionLinker{install: install, satisfied: make(map[string]bool)}
}

func (l *satisfactionLinker) Satisfied(name string) bool {
	return l.satisfied[name]
}

func (l *satisfactionLinker) Install(name string, fn HostFunction) error {
	if l.satisfied[name] {
		return nil
	}
	if err := l.install(name, fn); err != nil {
		return err
	}
	l.satisfied[name] = true
	return nil
}

// RecordingInstall wraps a sandbox's raw import-install callback so every
// host function it installs appends a pre-call and post-call event to ch
// before/after running (spec.md §4.6: "every host function must, as an
// inseparable part of its body, append a pre-call event and a post-call
// event"). This is the framework half of that contract; each handler
// supplies the call's meaning by how it encodes args and results, the
// framework supplies the hashing/linking/timestamps via chain.Append.
func RecordingInstall(ch *chain.Chain, install func(name string, fn HostFunction) error) func(string, HostFunction) error {
	return func(name string, fn HostFunction) error {
		wrapped := func(ctx context.Context, args []byte) ([]byte, error) {
			if _, err := ch.Append(name+".call", args, ""); err != nil {
				return nil, err
			}
			result, callErr := fn(ctx, args)
			desc := ""
			if callErr != nil {
				desc = callErr.Error()
			}
			if _, err := ch.Append(name+".result", result, desc); err != nil && callErr == nil {
				return result, err
			}
			if errors.Is(callErr, theatererr.ErrPermissionDenied) {
				// spec.md §4.6/§7: a denial is both a typed chain event and a
				// result-level error, not folded into the generic .result
				// event's free-text description alone.
				if _, err := ch.Append(string(theatererr.KindPermissionDenied), args, callErr.Error()); err != nil {
					return result, callErr
				}
			}
			return result, callErr
		}
		return install(name, wrapped)
	}
}

// Registry holds the set of handler templates (types.HandlerConfig.Type ->
// Handler) a runtime knows how to activate.
type Registry struct {
	templates []Handler
}

// NewRegistry builds a Registry from a fixed set of handler templates.
func NewRegistry(templates ...Handler) *Registry {
	return &Registry{templates: templates}
}

// Activate implements spec.md §4.6 steps 1-4: for each handler configured
// on the manifest, create a per-actor instance bound to that handler's own
// permission grant (cfg.Permissions — spec.md §9: "capability permissions
// are part of the manifest, not the handler"), skip it if none of its
// imports are needed by the component, otherwise install its host
// functions (through a shared satisfaction-tracking Linker) and register
// its exports. It returns the activated instances in configuration order,
// each of which the caller must also start via Handler.Start.
func (r *Registry) Activate(
	configs []types.HandlerConfig,
	componentImports []string,
	install func(name string, fn HostFunction) error,
	exportReg ExportRegistrar,
) ([]Handler, error) {
	linker := newSatisfactionLinker(install)
	needed := make(map[string]bool, len(componentImports))
	for _, imp := range componentImports {
		needed[imp] = true
	}

	var activated []Handler
	for _, cfg := range configs {
		tmpl := r.find(cfg.Type)
		if tmpl == nil {
			return nil, fmt.Errorf("%w: unknown handler type %q", theatererr.ErrInvalidRequest, cfg.Type)
		}

		inst, err := tmpl.CreateInstance(cfg, cfg.Permissions)
		if err != nil {
			return nil, fmt.Errorf("%w: create %s instance: %v", theatererr.ErrRuntime, cfg.Type, err)
		}

		if !anyNeeded(inst.Imports(), needed) {
			continue
		}

		if err := inst.SetupHostFunctions(linker); err != nil {
			return nil, fmt.Errorf("%w: setup host functions for %s: %v", theatererr.ErrRuntime, cfg.Type, err)
		}
		if err := inst.AddExportFunctions(exportReg); err != nil {
			return nil, fmt.Errorf("%w: register exports for %s: %v", theatererr.ErrRuntime, cfg.Type, err)
		}
		activated = append(activated, inst)
	}
	return activated, nil
}

func (r *Registry) find(name string) Handler {
	for _, h := range r.templates {
		if h.Name() == name {
			return h
		}
	}
	return nil
}

func anyNeeded(imports []string, needed map[string]bool) bool {
	for _, imp := range imports {
		if needed[imp] {
			return true
		}
	}
	return false
}
