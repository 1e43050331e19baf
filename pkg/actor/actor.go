// Package actor implements the Actor Instance (spec.md §4.5): the single
// long-running task that owns one sandbox instance, its event chain, and
// its mailbox. Every actor task is a single-owner goroutine in the sense
// of SPEC_FULL.md §5 — the actor struct's state, chain head, and
// subscriber list are touched only from run's loop; every other method
// on Instance communicates with it by sending on a channel and waiting
// for a reply, the same shape router.Router and store.Store use.
//
// Restart and UpdateComponent (spec.md §4.7) are implemented entirely by
// package supervisor as Stop-then-Spawn, not as operations this package
// performs on a live instance: a restarted actor gets a new ActorId and a
// freshly parsed manifest, which is naturally the supervisor's job since
// it already holds the manifest and owns the actor table. This package
// only implements the primitives a live instance actually supports:
// Stop, Terminate, GetState, GetStatus, GetEvents, CallExport.
package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/theater/pkg/chain"
	"github.com/cuemby/theater/pkg/handler"
	"github.com/cuemby/theater/pkg/log"
	"github.com/cuemby/theater/pkg/metrics"
	"github.com/cuemby/theater/pkg/router"
	"github.com/cuemby/theater/pkg/sandbox"
	"github.com/cuemby/theater/pkg/store"
	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

const (
	defaultMailboxCapacity = 64

	// handlerStopDeadline bounds how long Stop waits for handler Start
	// tasks to observe shutdown and return (spec.md §5's "bounded global
	// deadline").
	handlerStopDeadline = 5 * time.Second
)

// EventKind identifies the kind of SupervisorEvent an actor emits toward
// its parent.
type EventKind string

const (
	EventChildFailed    EventKind = "ChildFailed"
	EventChildStopped   EventKind = "ChildStopped"
	EventChildTerminated EventKind = "ChildTerminated"
	EventChildRestarted EventKind = "ChildRestarted"
)

// SupervisorEvent is delivered to a parent actor's supervisor channel
// when a child fails (spec.md §4.7, §7). Package supervisor is the
// typical consumer; it forwards these onto the parent's own mailbox or
// subscriber set as it sees fit.
type SupervisorEvent struct {
	Kind    EventKind
	ActorID types.ActorID
	Reason  string

	// NewActorID is populated only for EventChildRestarted: the freshly
	// allocated id the child now runs under (spec.md §4.5/§4.7).
	NewActorID types.ActorID
}

// Config describes how to spawn one actor instance.
type Config struct {
	// ID is the actor's identity. If zero, a fresh one is generated —
	// callers performing a restart must set this explicitly to the newly
	// allocated id, never the old one (spec.md §4.5).
	ID types.ActorID

	Manifest types.Manifest

	// InitParams is passed to the component's init export alongside
	// Manifest.InitState. The component contract (spec.md §6) permits
	// arbitrary extra init-time parameters; this expansion carries them
	// as opaque bytes the component interprets itself.
	InitParams []byte

	Sandbox         sandbox.Sandbox
	HandlerRegistry *handler.Registry
	Router          *router.Router
	Store           *store.Store

	// ChainDir is the root directory under which chain events/heads are
	// persisted when Manifest.SaveChain is true (spec.md §6).
	ChainDir string

	MailboxCapacity int

	// SupervisorEvents receives this actor's SupervisorEvents, if it has
	// a parent. Sends are best-effort (non-blocking): a parent that
	// isn't reading promptly never stalls this actor's task loop.
	SupervisorEvents chan<- SupervisorEvent
}

// ctrlKind enumerates the control-channel operations spec.md §4.5 lists,
// minus Restart/UpdateComponent (see package doc) and Terminate (handled
// out-of-band, see Instance.Terminate).
type ctrlKind int

const (
	ctrlStop ctrlKind = iota
	ctrlGetState
	ctrlGetStatus
	ctrlGetEvents
	ctrlCallExport
	ctrlSubscribe
	ctrlUnsubscribe
)

type ctrlRequest struct {
	kind     ctrlKind
	export   string
	args     []byte
	capacity int
	subID    uint64
	replyC   chan ctrlReply
}

type ctrlReply struct {
	state     []byte
	status    types.ActorStatus
	events    []types.ChainEvent
	result    []byte
	subID     uint64
	delivery  <-chan chain.Delivery
	err       error
}

// invokeRequest is how a handler's ExportInvoker call reaches the task
// loop, so every export invocation — whether mailbox-driven or triggered
// by a handler's background task — is serialized through the same
// single-flight point (spec.md §4.5: "at most one export invocation at a
// time per actor").
type invokeRequest struct {
	export string
	args   []byte
	replyC chan invokeReply
}

type invokeReply struct {
	result []byte
	err    error
}

// Instance is one spawned actor's task. Construct with Spawn.
type Instance struct {
	id       types.ActorID
	manifest types.Manifest

	inst  sandbox.Instance
	rtr   *router.Router
	store *store.Store
	chain *chain.Chain

	handlers  []handler.Handler
	handlerWG *sync.WaitGroup

	mailbox    chan router.ActorMessage
	ctrl       chan ctrlRequest
	invokeReqC chan invokeRequest
	failC      chan error
	done       chan struct{}

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	status types.ActorStatus
	state  []byte

	events chan<- SupervisorEvent
}

// Spawn loads the manifest's component, activates its configured
// handlers, invokes init, and — on success — starts the actor's task
// loop. On failure (component load, handler activation, or init itself)
// no task is started and every resource already acquired is released
// before returning (spec.md §4.5: "Spawning --init fail--> Failed").
func Spawn(ctx context.Context, cfg Config) (*Instance, error) {
	if cfg.ID.IsZero() {
		cfg.ID = types.NewActorID()
	}
	if cfg.MailboxCapacity <= 0 {
		cfg.MailboxCapacity = defaultMailboxCapacity
	}

	lg := log.WithActorID(cfg.ID.String()).With().Str("component", "actor").Logger()
	spawnTimer := metrics.NewTimer()

	sbInst, err := cfg.Sandbox.Load(ctx, cfg.Manifest.ComponentRef)
	if err != nil {
		return nil, fmt.Errorf("%w: load component %s: %v", theatererr.ErrRuntime, cfg.Manifest.ComponentRef, err)
	}

	ch, err := chain.New(cfg.ID, cfg.ChainDir, cfg.Manifest.SaveChain)
	if err != nil {
		_ = sbInst.Close(ctx)
		return nil, err
	}

	lifeCtx, lifeCancel := context.WithCancel(context.Background())

	a := &Instance{
		id:         cfg.ID,
		manifest:   cfg.Manifest,
		inst:       sbInst,
		rtr:        cfg.Router,
		store:      cfg.Store,
		chain:      ch,
		mailbox:    make(chan router.ActorMessage, cfg.MailboxCapacity),
		ctrl:       make(chan ctrlRequest),
		invokeReqC: make(chan invokeRequest),
		failC:      make(chan error, 1),
		done:       make(chan struct{}),
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
		status:     types.ActorStatus{Phase: types.ActorPhaseSpawning},
		events:     cfg.SupervisorEvents,
	}

	rawInstall := func(name string, fn handler.HostFunction) error {
		return sbInst.Bind(name, sandbox.HostFunction(fn))
	}
	install := handler.RecordingInstall(ch, rawInstall)

	exportReg := &exportRegistrar{}
	activated, err := cfg.HandlerRegistry.Activate(cfg.Manifest.Handlers, sbInst.Imports(), install, exportReg)
	if err != nil {
		lifeCancel()
		_ = sbInst.Close(ctx)
		return nil, err
	}
	a.handlers = activated

	var wg sync.WaitGroup
	invoker := &actorInvoker{a: a}
	for _, h := range activated {
		if aware, ok := h.(handler.InvokerAware); ok {
			aware.BindInvoker(invoker)
		}
		wg.Add(1)
		go func(h handler.Handler) {
			defer wg.Done()
			if err := h.Start(lifeCtx); err != nil && lifeCtx.Err() == nil {
				a.reportHandlerFailure(h.Name(), err)
			}
		}(h)
	}
	a.handlerWG = &wg

	state, err := a.callInit(ctx, cfg.Manifest.InitState, cfg.InitParams)
	if err != nil {
		a.status = types.ActorStatus{Phase: types.ActorPhaseFailed, Reason: err.Error()}
		lifeCancel()
		wg.Wait()
		ch.Terminate()
		_ = sbInst.Close(ctx)
		metrics.ActorsFailedTotal.Inc()
		lg.Error().Err(err).Msg("actor init failed")
		return nil, err
	}
	a.state = state
	a.status = types.ActorStatus{Phase: types.ActorPhaseRunning}

	if err := cfg.Router.RegisterActor(ctx, cfg.ID, a.mailbox); err != nil {
		lifeCancel()
		wg.Wait()
		ch.Terminate()
		_ = sbInst.Close(ctx)
		metrics.ActorsFailedTotal.Inc()
		return nil, err
	}

	go a.run()
	spawnTimer.ObserveDuration(metrics.ActorSpawnDuration)
	metrics.ActorsSpawnedTotal.Inc()
	lg.Info().Msg("actor spawned")
	return a, nil
}

// ID returns the actor's identity.
func (a *Instance) ID() types.ActorID { return a.id }

// Manifest returns the manifest this instance was spawned from, so a
// supervisor record can answer GetActorManifest without its own copy.
func (a *Instance) Manifest() types.Manifest { return a.manifest }

func (a *Instance) reportHandlerFailure(name string, err error) {
	wrapped := fmt.Errorf("handler %s start task: %w", name, err)
	select {
	case a.failC <- wrapped:
	case <-a.done:
	}
}

// run is the task loop (spec.md §4.5): it is the sole reader of ctrl,
// mailbox, invokeReqC, and failC, and the sole mutator of a.state,
// a.status, and a.chain's head/subscriber list from this point on.
func (a *Instance) run() {
	for {
		select {
		case <-a.lifeCtx.Done():
			// Terminate: abort immediately. No drain, no further chain
			// writes here — Instance.Terminate appends the synthesized
			// Terminated event itself once this goroutine has exited.
			close(a.done)
			return

		case reason := <-a.failC:
			a.fail(reason)
			return

		case req := <-a.ctrl:
			if done := a.handleCtrl(req); done {
				return
			}

		case msg := <-a.mailbox:
			if !a.handleMailbox(msg) {
				return
			}

		case req := <-a.invokeReqC:
			result, err := a.callMessage(a.lifeCtx, req.export, req.args)
			req.replyC <- invokeReply{result: result, err: err}
			if err != nil {
				a.fail(err)
				return
			}
		}
	}
}

// fail transitions the actor into Failed, records it on the chain,
// notifies the parent, and tears the actor down (spec.md §7: export
// invocation failures and handler start-task failures are both fatal to
// the actor that observed them).
func (a *Instance) fail(reason error) {
	a.status = types.ActorStatus{Phase: types.ActorPhaseFailed, Reason: reason.Error()}
	_, _ = a.chain.Append("ActorError", nil, reason.Error())
	a.notifyParentFailed(reason)

	a.lifeCancel()
	waitHandlers(a.handlerWG, handlerStopDeadline)

	a.chain.Terminate()
	_ = a.rtr.UnregisterActor(context.Background(), a.id)
	_ = a.inst.Close(context.Background())
	close(a.done)

	log.WithActorID(a.id.String()).Error().Err(reason).Msg("actor failed")
}

func (a *Instance) notifyParentFailed(reason error) {
	if a.events == nil {
		return
	}
	select {
	case a.events <- SupervisorEvent{Kind: EventChildFailed, ActorID: a.id, Reason: reason.Error()}:
	default:
	}
}

// waitHandlers waits for wg with a bound, so a handler Start task that
// ignores cancellation never blocks shutdown forever.
func waitHandlers(wg *sync.WaitGroup, deadline time.Duration) {
	doneC := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneC)
	}()
	select {
	case <-doneC:
	case <-time.After(deadline):
	}
}

// exportRegistrar collects the export names activated handlers declare;
// the actor doesn't currently need to validate calls against it, but
// keeping the registered set lets future callers (e.g. management
// surface tooling) introspect what an actor accepts.
type exportRegistrar struct {
	names []string
}

func (r *exportRegistrar) RegisterExport(name string) {
	r.names = append(r.names, name)
}

// actorInvoker implements handler.ExportInvoker by routing the call
// through the task loop's invokeReqC, so it is serialized with every
// other export invocation on this actor.
type actorInvoker struct {
	a *Instance
}

func (inv *actorInvoker) InvokeExport(ctx context.Context, export string, args []byte) ([]byte, error) {
	replyC := make(chan invokeReply, 1)
	select {
	case inv.a.invokeReqC <- invokeRequest{export: export, args: args, replyC: replyC}:
	case <-inv.a.done:
		return nil, fmt.Errorf("%w: actor %s is no longer running", theatererr.ErrActorNotRunning, inv.a.id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-replyC:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
