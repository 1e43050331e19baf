package supervisor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cuemby/theater/pkg/actor"
	"github.com/cuemby/theater/pkg/handler"
	"github.com/cuemby/theater/pkg/router"
	"github.com/cuemby/theater/pkg/sandbox/inmemory"
	"github.com/cuemby/theater/pkg/types"
)

// initResponse/messageResponse mirror pkg/actor's export envelope shapes
// closely enough for a fake component; supervisor tests don't need the
// full request shape, only a response the fake component can emit.
type initResponse struct {
	NewState []byte `json:"new_state,omitempty"`
}

type messageResponse struct {
	NewState []byte `json:"new_state,omitempty"`
	Reply    []byte `json:"reply,omitempty"`
}

func stableComponent() (types.ContentRef, inmemory.Component) {
	ref := types.ContentRef{Hash: "stable-component"}
	return ref, inmemory.Component{
		Exports: map[string]inmemory.ExportFunc{
			"init": func(ctx context.Context, args []byte) ([]byte, error) {
				return json.Marshal(initResponse{NewState: []byte{0}})
			},
			"handle-send": func(ctx context.Context, args []byte) ([]byte, error) {
				return json.Marshal(messageResponse{NewState: []byte{1}})
			},
			"handle-request": func(ctx context.Context, args []byte) ([]byte, error) {
				return json.Marshal(messageResponse{NewState: []byte{1}, Reply: []byte("ok")})
			},
		},
	}
}

// failingComponent's handle-send always errors, so its actor fails as
// soon as it receives a message, letting tests exercise ChildFailed.
func failingComponent() (types.ContentRef, inmemory.Component) {
	ref := types.ContentRef{Hash: "failing-component"}
	return ref, inmemory.Component{
		Exports: map[string]inmemory.ExportFunc{
			"init": func(ctx context.Context, args []byte) ([]byte, error) {
				return json.Marshal(initResponse{NewState: []byte{0}})
			},
			"handle-send": func(ctx context.Context, args []byte) ([]byte, error) {
				return nil, context.DeadlineExceeded
			},
		},
	}
}

type testFixture struct {
	sb  *inmemory.Sandbox
	rtr *router.Router
	sup *Supervisor
}

func newFixture(t *testing.T) testFixture {
	t.Helper()
	sb := inmemory.New()
	rtr := router.New()
	go rtr.Run()
	t.Cleanup(rtr.Close)

	sup := New(Deps{
		Sandbox:         sb,
		HandlerRegistry: handler.NewRegistry(),
		Router:          rtr,
		ChainDir:        t.TempDir(),
	})
	go sup.Run()
	t.Cleanup(sup.Close)

	return testFixture{sb: sb, rtr: rtr, sup: sup}
}

func TestSpawnInsertsRecordAndStatusIsRunning(t *testing.T) {
	f := newFixture(t)
	ref, comp := stableComponent()
	f.sb.Register(ref, comp)

	id, err := f.sup.Spawn(context.Background(), SpawnRequest{Manifest: types.Manifest{ComponentRef: ref}})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	status, err := f.sup.GetActorStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetActorStatus() error = %v", err)
	}
	if status.Phase != types.ActorPhaseRunning {
		t.Errorf("status.Phase = %v, want Running", status.Phase)
	}

	ids, err := f.sup.ListActors(context.Background())
	if err != nil {
		t.Fatalf("ListActors() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Errorf("ListActors() = %v, want [%v]", ids, id)
	}
}

func TestSpawnWithUnknownParentFails(t *testing.T) {
	f := newFixture(t)
	ref, comp := stableComponent()
	f.sb.Register(ref, comp)

	ghost := types.NewActorID()
	_, err := f.sup.Spawn(context.Background(), SpawnRequest{
		Manifest: types.Manifest{ComponentRef: ref},
		Parent:   &ghost,
	})
	if err == nil {
		t.Fatal("Spawn() with an unknown parent succeeded, want error")
	}
}

func TestStopRemovesRecordAndCascadesToChildren(t *testing.T) {
	f := newFixture(t)
	ref, comp := stableComponent()
	f.sb.Register(ref, comp)

	parentID, err := f.sup.Spawn(context.Background(), SpawnRequest{Manifest: types.Manifest{ComponentRef: ref}})
	if err != nil {
		t.Fatalf("Spawn(parent) error = %v", err)
	}
	childID, err := f.sup.Spawn(context.Background(), SpawnRequest{
		Manifest: types.Manifest{ComponentRef: ref},
		Parent:   &parentID,
	})
	if err != nil {
		t.Fatalf("Spawn(child) error = %v", err)
	}

	if err := f.sup.Stop(context.Background(), parentID); err != nil {
		t.Fatalf("Stop(parent) error = %v", err)
	}

	ids, err := f.sup.ListActors(context.Background())
	if err != nil {
		t.Fatalf("ListActors() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ListActors() after Stop(parent) = %v, want empty (child cascade)", ids)
	}

	if _, err := f.sup.GetActorStatus(context.Background(), childID); err == nil {
		t.Error("GetActorStatus(child) succeeded after cascade stop, want error")
	}
}

func TestChildFailureNotifiesParentExactlyOnce(t *testing.T) {
	f := newFixture(t)
	stableRef, stable := stableComponent()
	failRef, fail := failingComponent()
	f.sb.Register(stableRef, stable)
	f.sb.Register(failRef, fail)

	parentID, err := f.sup.Spawn(context.Background(), SpawnRequest{Manifest: types.Manifest{ComponentRef: stableRef}})
	if err != nil {
		t.Fatalf("Spawn(parent) error = %v", err)
	}
	events := make(chan actor.SupervisorEvent, 4)
	childID, err := f.sup.Spawn(context.Background(), SpawnRequest{
		Manifest:         types.Manifest{ComponentRef: failRef},
		Parent:           &parentID,
		SupervisorEvents: events,
	})
	if err != nil {
		t.Fatalf("Spawn(child) error = %v", err)
	}

	if err := f.rtr.Send(context.Background(), types.ExternalParticipant, childID, []byte("boom")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind != actor.EventChildFailed {
			t.Errorf("event.Kind = %v, want ChildFailed", ev.Kind)
		}
		if ev.ActorID != childID {
			t.Errorf("event.ActorID = %v, want %v", ev.ActorID, childID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ChildFailed")
	}

	select {
	case ev := <-events:
		t.Fatalf("received a second event %+v, want exactly one", ev)
	case <-time.After(100 * time.Millisecond):
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ids, err := f.sup.ListActors(context.Background())
		if err == nil && len(ids) == 1 && ids[0] == parentID {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("child record was never removed from the table")
}

func TestRestartAssignsNewIDAndNotifiesParent(t *testing.T) {
	f := newFixture(t)
	ref, comp := stableComponent()
	f.sb.Register(ref, comp)

	events := make(chan actor.SupervisorEvent, 1)
	id, err := f.sup.Spawn(context.Background(), SpawnRequest{
		Manifest:         types.Manifest{ComponentRef: ref},
		SupervisorEvents: events,
	})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	newID, err := f.sup.Restart(context.Background(), id)
	if err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if newID == id {
		t.Error("Restart() returned the same id, want a fresh ActorID")
	}

	select {
	case ev := <-events:
		if ev.Kind != actor.EventChildRestarted || ev.ActorID != id || ev.NewActorID != newID {
			t.Errorf("event = %+v, want ChildRestarted{%v, %v}", ev, id, newID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ChildRestarted")
	}

	if _, err := f.sup.GetActorStatus(context.Background(), id); err == nil {
		t.Error("GetActorStatus(old id) succeeded after Restart, want error")
	}
	status, err := f.sup.GetActorStatus(context.Background(), newID)
	if err != nil {
		t.Fatalf("GetActorStatus(new id) error = %v", err)
	}
	if status.Phase != types.ActorPhaseRunning {
		t.Errorf("status.Phase = %v, want Running", status.Phase)
	}
}

func TestUpdateComponentSwapsComponentRef(t *testing.T) {
	f := newFixture(t)
	oldRef, oldComp := stableComponent()
	newRef := types.ContentRef{Hash: "updated-component"}
	newComp := oldComp
	f.sb.Register(oldRef, oldComp)
	f.sb.Register(newRef, newComp)

	id, err := f.sup.Spawn(context.Background(), SpawnRequest{Manifest: types.Manifest{ComponentRef: oldRef}})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	newID, err := f.sup.UpdateComponent(context.Background(), id, newRef)
	if err != nil {
		t.Fatalf("UpdateComponent() error = %v", err)
	}

	manifest, err := f.sup.GetActorManifest(context.Background(), newID)
	if err != nil {
		t.Fatalf("GetActorManifest() error = %v", err)
	}
	if manifest.ComponentRef != newRef {
		t.Errorf("manifest.ComponentRef = %v, want %v", manifest.ComponentRef, newRef)
	}
}

func TestGetActorMetricsReflectsChainAndUptime(t *testing.T) {
	f := newFixture(t)
	ref, comp := stableComponent()
	f.sb.Register(ref, comp)

	id, err := f.sup.Spawn(context.Background(), SpawnRequest{Manifest: types.Manifest{ComponentRef: ref}})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	metrics, err := f.sup.GetActorMetrics(context.Background(), id)
	if err != nil {
		t.Fatalf("GetActorMetrics() error = %v", err)
	}
	if metrics.EventCount == 0 {
		t.Error("metrics.EventCount = 0, want at least the init events")
	}
	if metrics.Status.Phase != types.ActorPhaseRunning {
		t.Errorf("metrics.Status.Phase = %v, want Running", metrics.Status.Phase)
	}
	if metrics.Uptime <= 0 {
		t.Errorf("metrics.Uptime = %v, want > 0", metrics.Uptime)
	}
}

func TestSubscribeToActorDeliversChainEvents(t *testing.T) {
	f := newFixture(t)
	ref, comp := stableComponent()
	f.sb.Register(ref, comp)

	id, err := f.sup.Spawn(context.Background(), SpawnRequest{Manifest: types.Manifest{ComponentRef: ref}})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	subID, deliveries, err := f.sup.SubscribeToActor(context.Background(), id, 8)
	if err != nil {
		t.Fatalf("SubscribeToActor() error = %v", err)
	}

	if err := f.sup.SendMessage(context.Background(), types.ExternalParticipant, id, []byte("hi")); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	select {
	case d := <-deliveries:
		if d.Closed {
			t.Fatal("first delivery was terminal, want a chain event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a subscribed chain event")
	}

	if err := f.sup.UnsubscribeFromActor(context.Background(), id, subID); err != nil {
		t.Fatalf("UnsubscribeFromActor() error = %v", err)
	}
}
