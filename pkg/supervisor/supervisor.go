// Package supervisor implements the Supervision Runtime (spec.md §4.7): a
// single owning goroutine holding the actor table (id -> record, with
// parent/child links resolved by id, never by direct reference, per
// spec.md §9). Every table mutation is a command run inside that
// goroutine, the same submit-a-closure shape pkg/router and pkg/store use
// for their own owned maps.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/theater/pkg/actor"
	"github.com/cuemby/theater/pkg/handler"
	"github.com/cuemby/theater/pkg/router"
	"github.com/cuemby/theater/pkg/sandbox"
	"github.com/cuemby/theater/pkg/store"
	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

// record is one actor table entry. Only the supervisor's owning goroutine
// ever reads or writes one.
type record struct {
	id        types.ActorID
	inst      *actor.Instance
	manifest  types.Manifest
	initArgs  []byte
	spawnedAt time.Time

	hasParent bool
	parent    types.ActorID
	children  []types.ActorID

	// events is the channel the original Spawn caller supplied to observe
	// this actor's ChildFailed/ChildStopped/ChildTerminated/ChildRestarted
	// notifications (spec.md §4.7: "wires supervisor events from the
	// child to p.supervisor_tx"). Nil if nobody asked to be notified.
	events chan<- actor.SupervisorEvent

	// childEvents is the internal channel handed to actor.Spawn as
	// Config.SupervisorEvents; forward reads it and reports ChildFailed
	// up through the supervisor's command queue.
	childEvents chan actor.SupervisorEvent
	cancelFwd   context.CancelFunc
}

// Deps are the collaborators every spawned actor needs; shared across the
// whole supervisor instance.
type Deps struct {
	Sandbox         sandbox.Sandbox
	HandlerRegistry *handler.Registry
	Router          *router.Router
	Store           *store.Store
	ChainDir        string
	MailboxCapacity int
}

// Supervisor owns the actor table.
type Supervisor struct {
	cmds chan func(*state)
	done chan struct{}
	deps Deps
}

type state struct {
	records map[types.ActorID]*record

	// terminated remembers every id that was once a live record and was
	// removed (stopped, terminated, or superseded by a restart), so
	// SubscribeToActor can tell "this actor is gone" from "this id never
	// existed" (spec.md §8: subscribing to a terminated actor must yield
	// an immediate terminal signal, not an error).
	terminated map[types.ActorID]struct{}
}

// New constructs a Supervisor. Call Run in its own goroutine before
// issuing any commands.
func New(deps Deps) *Supervisor {
	return &Supervisor{
		cmds: make(chan func(*state)),
		done: make(chan struct{}),
		deps: deps,
	}
}

// Run is the supervisor's owning goroutine.
func (s *Supervisor) Run() {
	st := &state{
		records:    make(map[types.ActorID]*record),
		terminated: make(map[types.ActorID]struct{}),
	}
	for {
		select {
		case cmd := <-s.cmds:
			cmd(st)
		case <-s.done:
			return
		}
	}
}

// Close stops the supervisor's goroutine. It does not stop any actor
// still in the table; callers should Stop everything first.
func (s *Supervisor) Close() {
	close(s.done)
}

func (s *Supervisor) submit(ctx context.Context, fn func(*state)) error {
	doneC := make(chan struct{})
	wrapped := func(st *state) {
		fn(st)
		close(doneC)
	}
	select {
	case s.cmds <- wrapped:
	case <-s.done:
		return fmt.Errorf("%w: supervisor is closed", theatererr.ErrInternal)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-doneC:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
