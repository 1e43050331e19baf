package actor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cuemby/theater/pkg/handler"
	"github.com/cuemby/theater/pkg/router"
	"github.com/cuemby/theater/pkg/sandbox/inmemory"
	"github.com/cuemby/theater/pkg/store"
	"github.com/cuemby/theater/pkg/types"
)

// echoComponent registers an inmemory component implementing just enough
// of the export contract (spec.md §6) to exercise Spawn, mailbox
// delivery, and CallExport: init seeds state to an empty counter,
// handle-send/handle-request increment it by the payload's first byte.
func echoComponent() (types.ContentRef, inmemory.Component) {
	ref := types.ContentRef{Hash: "echo-component"}

	exports := map[string]inmemory.ExportFunc{
		exportInit: func(ctx context.Context, args []byte) ([]byte, error) {
			var req initRequest
			_ = json.Unmarshal(args, &req)
			state := req.State
			if state == nil {
				state = []byte{0}
			}
			return json.Marshal(initResponse{NewState: state})
		},
		exportHandleSend: func(ctx context.Context, args []byte) ([]byte, error) {
			var req messageRequest
			_ = json.Unmarshal(args, &req)
			newState := bump(req.State, req.Payload)
			return json.Marshal(messageResponse{NewState: newState})
		},
		exportHandleRequest: func(ctx context.Context, args []byte) ([]byte, error) {
			var req messageRequest
			_ = json.Unmarshal(args, &req)
			newState := bump(req.State, req.Payload)
			return json.Marshal(messageResponse{NewState: newState, Reply: newState})
		},
		exportHandleChannelOpen: func(ctx context.Context, args []byte) ([]byte, error) {
			var req channelRequest
			_ = json.Unmarshal(args, &req)
			return json.Marshal(channelResponse{NewState: req.State, Accepted: true, Reply: []byte("welcome")})
		},
		exportHandleChannelMessage: func(ctx context.Context, args []byte) ([]byte, error) {
			var req channelRequest
			_ = json.Unmarshal(args, &req)
			return json.Marshal(channelResponse{NewState: bump(req.State, req.Payload)})
		},
		exportHandleChannelClose: func(ctx context.Context, args []byte) ([]byte, error) {
			var req channelRequest
			_ = json.Unmarshal(args, &req)
			return json.Marshal(channelResponse{NewState: req.State})
		},
	}
	return ref, inmemory.Component{Exports: exports}
}

func bump(state, payload []byte) []byte {
	n := 0
	if len(state) > 0 {
		n = int(state[0])
	}
	if len(payload) > 0 {
		n += int(payload[0])
	}
	return []byte{byte(n)}
}

type testFixture struct {
	sb     *inmemory.Sandbox
	rtr    *router.Router
	reg    *handler.Registry
	chainDir string
}

func newFixture(t *testing.T) testFixture {
	t.Helper()
	sb := inmemory.New()
	rtr := router.New()
	go rtr.Run()
	t.Cleanup(rtr.Close)
	reg := handler.NewRegistry()
	return testFixture{sb: sb, rtr: rtr, reg: reg, chainDir: t.TempDir()}
}

func (f testFixture) spawn(t *testing.T, ref types.ContentRef) *Instance {
	t.Helper()
	a, err := Spawn(context.Background(), Config{
		Manifest: types.Manifest{ComponentRef: ref},
		Sandbox:  f.sb,
		HandlerRegistry: f.reg,
		Router:   f.rtr,
		ChainDir: f.chainDir,
	})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	return a
}

func TestSpawnRunsInitAndReachesRunning(t *testing.T) {
	f := newFixture(t)
	ref, comp := echoComponent()
	f.sb.Register(ref, comp)

	a := f.spawn(t, ref)
	defer a.Stop(context.Background())

	status, err := a.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.Phase != types.ActorPhaseRunning {
		t.Errorf("status.Phase = %v, want Running", status.Phase)
	}

	state, err := a.GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if len(state) != 1 || state[0] != 0 {
		t.Errorf("GetState() = %v, want [0]", state)
	}
}

func TestSendDeliveryUpdatesStateAndChain(t *testing.T) {
	f := newFixture(t)
	ref, comp := echoComponent()
	f.sb.Register(ref, comp)

	a := f.spawn(t, ref)
	defer a.Stop(context.Background())

	ctx := context.Background()
	if err := f.rtr.Send(ctx, types.ExternalParticipant, a.ID(), []byte{5}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	waitForState(t, a, []byte{5})

	events, err := a.GetEvents(ctx)
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	var sawReceived, sawCompleted bool
	for _, e := range events {
		if e.EventType == exportHandleSend+".received" {
			sawReceived = true
		}
		if e.EventType == exportHandleSend+".completed" {
			sawCompleted = true
		}
	}
	if !sawReceived || !sawCompleted {
		t.Errorf("events = %+v, want handle-send .received and .completed", events)
	}
}

func TestRequestReturnsReply(t *testing.T) {
	f := newFixture(t)
	ref, comp := echoComponent()
	f.sb.Register(ref, comp)

	a := f.spawn(t, ref)
	defer a.Stop(context.Background())

	reply, err := f.rtr.Request(context.Background(), types.ExternalParticipant, a.ID(), []byte{7})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if len(reply) != 1 || reply[0] != 7 {
		t.Errorf("Request() reply = %v, want [7]", reply)
	}
}

func TestChannelOpenMessageClose(t *testing.T) {
	f := newFixture(t)
	ref, comp := echoComponent()
	f.sb.Register(ref, comp)

	a := f.spawn(t, ref)
	defer a.Stop(context.Background())

	ctx := context.Background()
	cid, err := f.rtr.OpenChannel(ctx, types.ExternalParticipant, types.ActorParticipant(a.ID()), []byte("hi"))
	if err != nil {
		t.Fatalf("OpenChannel() error = %v", err)
	}
	if err := f.rtr.SendOnChannel(ctx, cid, types.ExternalParticipant, []byte{3}); err != nil {
		t.Fatalf("SendOnChannel() error = %v", err)
	}
	waitForState(t, a, []byte{3})
	if err := f.rtr.CloseChannel(ctx, cid, types.ExternalParticipant); err != nil {
		t.Fatalf("CloseChannel() error = %v", err)
	}
}

func TestCallExportInvokesArbitraryExport(t *testing.T) {
	f := newFixture(t)
	ref, comp := echoComponent()
	f.sb.Register(ref, comp)

	a := f.spawn(t, ref)
	defer a.Stop(context.Background())

	reply, err := a.CallExport(context.Background(), exportHandleRequest, []byte{2})
	if err != nil {
		t.Fatalf("CallExport() error = %v", err)
	}
	if len(reply) != 1 || reply[0] != 2 {
		t.Errorf("CallExport() reply = %v, want [2]", reply)
	}
}

func TestStopUnregistersFromRouter(t *testing.T) {
	f := newFixture(t)
	ref, comp := echoComponent()
	f.sb.Register(ref, comp)

	a := f.spawn(t, ref)
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if err := f.rtr.Send(context.Background(), types.ExternalParticipant, a.ID(), nil); err == nil {
		t.Error("Send() to a stopped actor succeeded, want ErrActorNotFound")
	}
}

func TestTerminateAppendsTerminatedEvent(t *testing.T) {
	f := newFixture(t)
	ref, comp := echoComponent()
	f.sb.Register(ref, comp)

	a := f.spawn(t, ref)
	if err := a.Terminate(context.Background()); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}

	events, err := a.chain.ReadFull()
	if err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if len(events) == 0 || events[len(events)-1].EventType != "Terminated" {
		t.Errorf("last chain event after Terminate is not Terminated: %+v", events)
	}
}

func TestSpawnFailsWhenComponentMissing(t *testing.T) {
	f := newFixture(t)
	_, err := Spawn(context.Background(), Config{
		Manifest:        types.Manifest{ComponentRef: types.ContentRef{Hash: "missing"}},
		Sandbox:         f.sb,
		HandlerRegistry: f.reg,
		Router:          f.rtr,
		ChainDir:        f.chainDir,
	})
	if err == nil {
		t.Fatal("Spawn() with an unregistered component succeeded, want error")
	}
}

func TestSpawnWithStorePersistsStateSnapshots(t *testing.T) {
	f := newFixture(t)
	ref, comp := echoComponent()
	f.sb.Register(ref, comp)

	st, err := store.Open("test", t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()

	a, err := Spawn(context.Background(), Config{
		Manifest:        types.Manifest{ComponentRef: ref},
		Sandbox:         f.sb,
		HandlerRegistry: f.reg,
		Router:          f.rtr,
		Store:           st,
		ChainDir:        f.chainDir,
	})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	defer a.Stop(context.Background())

	if err := f.rtr.Send(context.Background(), types.ExternalParticipant, a.ID(), []byte{9}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	waitForState(t, a, []byte{9})

	refs, err := st.ListAllContent(context.Background())
	if err != nil {
		t.Fatalf("ListAllContent() error = %v", err)
	}
	if len(refs) == 0 {
		t.Error("ListAllContent() = empty, want persisted state snapshots")
	}
}

func waitForState(t *testing.T, a *Instance, want []byte) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		state, err := a.GetState(context.Background())
		if err == nil && len(state) == len(want) && (len(want) == 0 || state[0] == want[0]) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("actor state never reached %v", want)
}
