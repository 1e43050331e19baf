package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/theater/pkg/actor"
	"github.com/cuemby/theater/pkg/chain"
	"github.com/cuemby/theater/pkg/metrics"
	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

// SpawnRequest describes a spawn command (spec.md §4.7's
// `Spawn(manifest, init_state?, parent?, supervisor_tx?, sub_tx?)`).
// InitState travels as part of Manifest; InitParams carries the
// component's extra init-time bytes (spec.md §6).
type SpawnRequest struct {
	Manifest   types.Manifest
	InitParams []byte

	// Parent, if set, must already be a spawned actor. The child's id is
	// appended to the parent's children list, and ChildFailed/
	// ChildRestarted notifications about the child are sent to
	// SupervisorEvents (spec.md §4.7's parent/child rules).
	Parent *types.ActorID

	// SupervisorEvents receives this actor's lifecycle notifications
	// (ChildFailed, ChildStopped, ChildTerminated, ChildRestarted). Sends
	// happen off the supervisor's own goroutine so a slow or abandoned
	// reader never stalls table processing; nil disables notification.
	SupervisorEvents chan<- actor.SupervisorEvent
}

// Metrics is the read-only telemetry GetActorMetrics answers with.
// Spec.md §4.7 lists metrics as a query but leaves its shape open; this
// expansion fixes a minimal one (event count, uptime, status) computed
// from the record and the actor's own chain rather than inventing a
// separate metrics pipeline.
type Metrics struct {
	EventCount int
	Uptime     time.Duration
	Status     types.ActorStatus
}

// Spawn loads and starts a new actor, inserting its record into the
// table. If Parent is set and does not name a currently-tracked actor,
// Spawn fails with ErrActorNotFound before any resource is acquired.
func (s *Supervisor) Spawn(ctx context.Context, req SpawnRequest) (types.ActorID, error) {
	if req.Parent != nil {
		if err := s.requireRecord(ctx, *req.Parent); err != nil {
			return types.ActorID{}, err
		}
	}

	childEvents := make(chan actor.SupervisorEvent, 1)
	inst, err := actor.Spawn(ctx, actor.Config{
		Manifest:         req.Manifest,
		InitParams:       req.InitParams,
		Sandbox:          s.deps.Sandbox,
		HandlerRegistry:  s.deps.HandlerRegistry,
		Router:           s.deps.Router,
		Store:            s.deps.Store,
		ChainDir:         s.deps.ChainDir,
		MailboxCapacity:  s.deps.MailboxCapacity,
		SupervisorEvents: childEvents,
	})
	if err != nil {
		return types.ActorID{}, err
	}

	fwdCtx, cancel := context.WithCancel(context.Background())
	rec := &record{
		id:          inst.ID(),
		inst:        inst,
		manifest:    req.Manifest,
		initArgs:    req.InitParams,
		spawnedAt:   time.Now(),
		events:      req.SupervisorEvents,
		childEvents: childEvents,
		cancelFwd:   cancel,
	}
	if req.Parent != nil {
		rec.hasParent = true
		rec.parent = *req.Parent
	}

	if err := s.submit(ctx, func(st *state) {
		st.records[rec.id] = rec
		if rec.hasParent {
			if p, ok := st.records[rec.parent]; ok {
				p.children = append(p.children, rec.id)
			}
		}
	}); err != nil {
		cancel()
		_ = inst.Terminate(context.Background())
		return types.ActorID{}, err
	}

	go s.forward(fwdCtx, rec.id, childEvents)
	return rec.id, nil
}

// forward reads the single ChildFailed event actor.Instance.fail ever
// sends (the actor task exits right after, so at most one send happens)
// and routes it through the command queue. It exits without forwarding
// anything if the actor was cleanly stopped/terminated/restarted first
// (cancelFwd cancels fwdCtx in that case).
func (s *Supervisor) forward(ctx context.Context, id types.ActorID, events <-chan actor.SupervisorEvent) {
	select {
	case ev := <-events:
		s.handleChildFailed(id, ev)
	case <-ctx.Done():
	}
}

func (s *Supervisor) handleChildFailed(id types.ActorID, ev actor.SupervisorEvent) {
	_ = s.removeRecordNotifying(context.Background(), id, ev)
}

// recordView is a point-in-time, race-free copy of a record's fields for
// use outside the supervisor's owning goroutine.
type recordView struct {
	id        types.ActorID
	inst      *actor.Instance
	manifest  types.Manifest
	hasParent bool
	parent    types.ActorID
	children  []types.ActorID
	events    chan<- actor.SupervisorEvent
	cancelFwd context.CancelFunc
	spawnedAt time.Time
}

func (s *Supervisor) lookup(ctx context.Context, id types.ActorID) (recordView, error) {
	var rv recordView
	var found bool
	if err := s.submit(ctx, func(st *state) {
		rec, ok := st.records[id]
		if !ok {
			return
		}
		found = true
		rv = recordView{
			id:        rec.id,
			inst:      rec.inst,
			manifest:  rec.manifest,
			hasParent: rec.hasParent,
			parent:    rec.parent,
			children:  append([]types.ActorID(nil), rec.children...),
			events:    rec.events,
			cancelFwd: rec.cancelFwd,
			spawnedAt: rec.spawnedAt,
		}
	}); err != nil {
		return recordView{}, err
	}
	if !found {
		return recordView{}, fmt.Errorf("%w: %s", theatererr.ErrActorNotFound, id)
	}
	return rv, nil
}

func (s *Supervisor) requireRecord(ctx context.Context, id types.ActorID) error {
	_, err := s.lookup(ctx, id)
	return err
}

// removeRecord deletes id's record, detaches it from its parent's
// children list, and — if kind is non-empty — notifies rec.events.
func (s *Supervisor) removeRecord(ctx context.Context, id types.ActorID, kind actor.EventKind, reason string) error {
	return s.submit(ctx, func(st *state) {
		rec, ok := st.records[id]
		if !ok {
			return
		}
		delete(st.records, id)
		st.terminated[id] = struct{}{}
		if rec.hasParent {
			if p, ok := st.records[rec.parent]; ok {
				p.children = removeID(p.children, id)
			}
		}
		if rec.events != nil && kind != "" {
			notify := rec.events
			ev := actor.SupervisorEvent{Kind: kind, ActorID: id, Reason: reason}
			go func() { notify <- ev }()
		}
	})
}

// removeRecordNotifying is removeRecord specialized for the ChildFailed
// path, where the event (already carrying id/reason) comes from the actor
// task itself rather than being constructed here.
func (s *Supervisor) removeRecordNotifying(ctx context.Context, id types.ActorID, ev actor.SupervisorEvent) error {
	return s.submit(ctx, func(st *state) {
		rec, ok := st.records[id]
		if !ok {
			return
		}
		delete(st.records, id)
		st.terminated[id] = struct{}{}
		if rec.hasParent {
			if p, ok := st.records[rec.parent]; ok {
				p.children = removeID(p.children, id)
			}
		}
		if rec.events != nil {
			notify := rec.events
			go func() { notify <- ev }()
		}
	})
}

func removeID(ids []types.ActorID, target types.ActorID) []types.ActorID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// Stop gracefully drains and stops id, first recursively stopping its
// children depth-first in reverse spawn order (spec.md §4.7's parent/
// child rules), then removes its record and notifies its parent.
func (s *Supervisor) Stop(ctx context.Context, id types.ActorID) error {
	rv, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	for i := len(rv.children) - 1; i >= 0; i-- {
		if err := s.Stop(ctx, rv.children[i]); err != nil {
			return err
		}
	}
	if err := rv.inst.Stop(ctx); err != nil {
		return err
	}
	rv.cancelFwd()
	return s.removeRecord(ctx, id, actor.EventChildStopped, "")
}

// Terminate aborts id immediately, cascading to its children the same
// way Stop does (an actor whose parent is gone has no business still
// running), then removes its record and notifies its parent.
func (s *Supervisor) Terminate(ctx context.Context, id types.ActorID) error {
	rv, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	for i := len(rv.children) - 1; i >= 0; i-- {
		if err := s.Terminate(ctx, rv.children[i]); err != nil {
			return err
		}
	}
	if err := rv.inst.Terminate(ctx); err != nil {
		return err
	}
	rv.cancelFwd()
	return s.removeRecord(ctx, id, actor.EventChildTerminated, "")
}

// restartWith tears id's instance down and spawns a fresh one from
// manifest under a brand-new ActorID, reporting ChildRestarted{old, new}
// to the original spawn caller's events channel exactly once (spec.md
// §4.5, §4.7, §8 property 7).
func (s *Supervisor) restartWith(ctx context.Context, id types.ActorID, manifest types.Manifest) (types.ActorID, error) {
	rv, err := s.lookup(ctx, id)
	if err != nil {
		return types.ActorID{}, err
	}
	if err := rv.inst.Terminate(ctx); err != nil {
		metrics.RestartsTotal.WithLabelValues("failed").Inc()
		return types.ActorID{}, err
	}
	rv.cancelFwd()
	if err := s.removeRecord(ctx, id, "", ""); err != nil {
		metrics.RestartsTotal.WithLabelValues("failed").Inc()
		return types.ActorID{}, err
	}

	var parent *types.ActorID
	if rv.hasParent {
		p := rv.parent
		parent = &p
	}
	newID, err := s.Spawn(ctx, SpawnRequest{
		Manifest:         manifest,
		Parent:           parent,
		SupervisorEvents: rv.events,
	})
	if err != nil {
		metrics.RestartsTotal.WithLabelValues("failed").Inc()
		return types.ActorID{}, err
	}
	metrics.RestartsTotal.WithLabelValues("restarted").Inc()
	if rv.events != nil {
		notify := rv.events
		go func() {
			notify <- actor.SupervisorEvent{Kind: actor.EventChildRestarted, ActorID: id, NewActorID: newID}
		}()
	}
	return newID, nil
}

// Restart implements spec.md §4.7's Restart: stop + spawn from the
// stored manifest, always under a new id (spec.md §9's resolved Open
// Question — see DESIGN.md).
func (s *Supervisor) Restart(ctx context.Context, id types.ActorID) (types.ActorID, error) {
	rv, err := s.lookup(ctx, id)
	if err != nil {
		return types.ActorID{}, err
	}
	return s.restartWith(ctx, id, rv.manifest)
}

// UpdateComponent implements spec.md §4.7's UpdateComponent: a Restart
// whose manifest has its ComponentRef replaced.
func (s *Supervisor) UpdateComponent(ctx context.Context, id types.ActorID, newComponent types.ContentRef) (types.ActorID, error) {
	rv, err := s.lookup(ctx, id)
	if err != nil {
		return types.ActorID{}, err
	}
	manifest := rv.manifest
	manifest.ComponentRef = newComponent
	return s.restartWith(ctx, id, manifest)
}

// GetActorStatus answers the read-only status query by delegating to the
// actor task itself.
func (s *Supervisor) GetActorStatus(ctx context.Context, id types.ActorID) (types.ActorStatus, error) {
	rv, err := s.lookup(ctx, id)
	if err != nil {
		return types.ActorStatus{}, err
	}
	return rv.inst.GetStatus(ctx)
}

// GetActorState answers the read-only state query.
func (s *Supervisor) GetActorState(ctx context.Context, id types.ActorID) ([]byte, error) {
	rv, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return rv.inst.GetState(ctx)
}

// GetActorEvents answers the read-only chain query.
func (s *Supervisor) GetActorEvents(ctx context.Context, id types.ActorID) ([]types.ChainEvent, error) {
	rv, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return rv.inst.GetEvents(ctx)
}

// GetActorManifest answers the read-only manifest query from the record,
// without involving the actor task.
func (s *Supervisor) GetActorManifest(ctx context.Context, id types.ActorID) (types.Manifest, error) {
	rv, err := s.lookup(ctx, id)
	if err != nil {
		return types.Manifest{}, err
	}
	return rv.manifest, nil
}

// GetActorMetrics answers the read-only metrics query.
func (s *Supervisor) GetActorMetrics(ctx context.Context, id types.ActorID) (Metrics, error) {
	rv, err := s.lookup(ctx, id)
	if err != nil {
		return Metrics{}, err
	}
	status, err := rv.inst.GetStatus(ctx)
	if err != nil {
		return Metrics{}, err
	}
	events, err := rv.inst.GetEvents(ctx)
	if err != nil {
		return Metrics{}, err
	}
	return Metrics{
		EventCount: len(events),
		Uptime:     time.Since(rv.spawnedAt),
		Status:     status,
	}, nil
}

// SubscribeToActor registers a subscription on id's record by delegating
// to the actor task's own chain subscription (spec.md §4.7
// SubscribeToActor). Subscribing to an id that was once live but has
// since been stopped/terminated/restarted away is not an error (spec.md
// §8's boundary behavior): it hands back a channel that immediately
// receives a single terminal delivery and closes, the same shape
// chain.Chain.Terminate leaves a live subscriber with. Subscribing to an
// id that was never spawned at all is still ErrActorNotFound.
func (s *Supervisor) SubscribeToActor(ctx context.Context, id types.ActorID, capacity int) (uint64, <-chan chain.Delivery, error) {
	rv, err := s.lookup(ctx, id)
	if err != nil {
		if errors.Is(err, theatererr.ErrActorNotFound) {
			var wasTerminated bool
			if subErr := s.submit(ctx, func(st *state) {
				_, wasTerminated = st.terminated[id]
			}); subErr != nil {
				return 0, nil, subErr
			}
			if wasTerminated {
				ch := make(chan chain.Delivery, 1)
				ch <- chain.Delivery{Closed: true}
				close(ch)
				return 0, ch, nil
			}
		}
		return 0, nil, err
	}
	return rv.inst.Subscribe(ctx, capacity)
}

// UnsubscribeFromActor removes a previously registered subscription.
func (s *Supervisor) UnsubscribeFromActor(ctx context.Context, id types.ActorID, subID uint64) error {
	rv, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	return rv.inst.Unsubscribe(ctx, subID)
}

// SendMessage implements spec.md §4.7's SendMessage by delegating
// straight to the router; the supervisor does not need to consult the
// actor table first since the router already tracks live mailboxes.
func (s *Supervisor) SendMessage(ctx context.Context, from types.Participant, target types.ActorID, payload []byte) error {
	return s.deps.Router.Send(ctx, from, target, payload)
}

// ListActors returns every currently-tracked actor id, for management
// surface introspection and tests.
func (s *Supervisor) ListActors(ctx context.Context) ([]types.ActorID, error) {
	var ids []types.ActorID
	err := s.submit(ctx, func(st *state) {
		ids = make([]types.ActorID, 0, len(st.records))
		for id := range st.records {
			ids = append(ids, id)
		}
	})
	return ids, err
}
