package client_test

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/cuemby/theater/pkg/client"
	"github.com/cuemby/theater/pkg/handler"
	"github.com/cuemby/theater/pkg/management"
	"github.com/cuemby/theater/pkg/router"
	"github.com/cuemby/theater/pkg/sandbox/inmemory"
	"github.com/cuemby/theater/pkg/store"
	"github.com/cuemby/theater/pkg/supervisor"
	"github.com/cuemby/theater/pkg/types"
)

type initResponse struct {
	NewState []byte `json:"new_state,omitempty"`
}

type messageResponse struct {
	NewState []byte `json:"new_state,omitempty"`
	Reply    []byte `json:"reply,omitempty"`
}

func echoComponent() (types.ContentRef, inmemory.Component) {
	ref := types.ContentRef{Hash: "client-echo"}
	return ref, inmemory.Component{
		Exports: map[string]inmemory.ExportFunc{
			"init": func(ctx context.Context, args []byte) ([]byte, error) {
				return json.Marshal(initResponse{NewState: []byte{0}})
			},
			"handle-send": func(ctx context.Context, args []byte) ([]byte, error) {
				return json.Marshal(messageResponse{NewState: []byte{1}})
			},
			"handle-request": func(ctx context.Context, args []byte) ([]byte, error) {
				return json.Marshal(messageResponse{NewState: []byte{1}, Reply: []byte("pong")})
			},
		},
	}
}

// freeAddr grabs an ephemeral loopback port by binding and immediately
// releasing it, so management.Server.ListenAndServe (which owns its own
// net.Listener) has a concrete address to bind to.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

// newServerFixture starts a real management.Server listening on a loopback
// port, the way a deployed runtime would, so Client is exercised against
// the actual wire protocol rather than against Server's methods directly.
func newServerFixture(t *testing.T) (addr string, sb *inmemory.Sandbox) {
	t.Helper()
	sb = inmemory.New()
	rtr := router.New()
	go rtr.Run()
	t.Cleanup(rtr.Close)

	sup := supervisor.New(supervisor.Deps{
		Sandbox:         sb,
		HandlerRegistry: handler.NewRegistry(),
		Router:          rtr,
		ChainDir:        t.TempDir(),
	})
	go sup.Run()
	t.Cleanup(sup.Close)

	srv, err := management.NewServer(management.Config{Supervisor: sup, Router: rtr})
	if err != nil {
		t.Fatalf("management.NewServer() error = %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	addr = freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = srv.ListenAndServe(ctx, addr)
	}()
	<-ready
	waitForDial(t, addr)

	return addr, sb
}

// waitForDial blocks until addr accepts connections, since
// ListenAndServe's Listen happens asynchronously relative to the goroutine
// that starts it.
func waitForDial(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		nc, err := net.Dial("tcp", addr)
		if err == nil {
			_ = nc.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server at %s never became reachable", addr)
}

func TestClientSpawnAndGetActorStatus(t *testing.T) {
	addr, sb := newServerFixture(t)
	ref, comp := echoComponent()
	sb.Register(ref, comp)

	c, err := client.NewClient(addr)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	id, err := c.Spawn(ctx, types.Manifest{ComponentRef: ref}, nil, nil)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	status, err := c.GetActorStatus(ctx, id)
	if err != nil {
		t.Fatalf("GetActorStatus() error = %v", err)
	}
	if status.Phase != types.ActorPhaseRunning {
		t.Errorf("status.Phase = %v, want Running", status.Phase)
	}
}

func TestClientRequestRoundTrip(t *testing.T) {
	addr, sb := newServerFixture(t)
	ref, comp := echoComponent()
	sb.Register(ref, comp)

	c, err := client.NewClient(addr)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	id, err := c.Spawn(ctx, types.Manifest{ComponentRef: ref}, nil, nil)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	reply, err := c.Request(ctx, types.ExternalParticipant, id, []byte("ping"))
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if string(reply) != "pong" {
		t.Errorf("Request() reply = %q, want %q", reply, "pong")
	}
}

func TestClientGetActorStatusUnknownActorReturnsTypedError(t *testing.T) {
	addr, _ := newServerFixture(t)

	c, err := client.NewClient(addr)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer c.Close()

	_, err = c.GetActorStatus(context.Background(), types.NewActorID())
	if err == nil {
		t.Fatal("GetActorStatus(unknown id) succeeded, want a typed error")
	}
}

func TestClientStoreRoundTrip(t *testing.T) {
	// Exercises the store path against a Server built with a real Store,
	// mirroring TestStoreOpsRoundTripOverSurface in pkg/management.
	sb := inmemory.New()
	rtr := router.New()
	go rtr.Run()
	defer rtr.Close()

	sup := supervisor.New(supervisor.Deps{
		Sandbox:         sb,
		HandlerRegistry: handler.NewRegistry(),
		Router:          rtr,
		ChainDir:        t.TempDir(),
	})
	go sup.Run()
	defer sup.Close()

	st, err := store.Open("client-test", t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()

	srv, err := management.NewServer(management.Config{Supervisor: sup, Store: st, Router: rtr})
	if err != nil {
		t.Fatalf("management.NewServer() error = %v", err)
	}
	defer srv.Close()

	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.ListenAndServe(ctx, addr) }()
	waitForDial(t, addr)

	c, err := client.NewClient(addr)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer c.Close()

	bg := context.Background()
	ref, err := c.StorePut(bg, []byte("hello"))
	if err != nil {
		t.Fatalf("StorePut() error = %v", err)
	}
	content, err := c.StoreGet(bg, ref)
	if err != nil {
		t.Fatalf("StoreGet() error = %v", err)
	}
	if string(content) != "hello" {
		t.Errorf("StoreGet() = %q, want %q", content, "hello")
	}

	if err := c.StoreLabel(bg, types.Label("greeting"), ref); err != nil {
		t.Fatalf("StoreLabel() error = %v", err)
	}
	got, found, err := c.GetByLabel(bg, types.Label("greeting"))
	if err != nil {
		t.Fatalf("GetByLabel() error = %v", err)
	}
	if !found || got != ref {
		t.Errorf("GetByLabel() = (%v, %v), want (%v, true)", got, found, ref)
	}

	labels, err := c.ListLabels(bg)
	if err != nil {
		t.Fatalf("ListLabels() error = %v", err)
	}
	found = false
	for _, l := range labels {
		if l == "greeting" {
			found = true
		}
	}
	if !found {
		t.Errorf("ListLabels() = %v, want it to contain %q", labels, "greeting")
	}
}

func TestClientSubscribeToActorDeliversChainEvents(t *testing.T) {
	addr, sb := newServerFixture(t)
	ref, comp := echoComponent()
	sb.Register(ref, comp)

	c, err := client.NewClient(addr)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	id, err := c.Spawn(ctx, types.Manifest{ComponentRef: ref}, nil, nil)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	if _, err := c.SubscribeToActor(ctx, id, 8); err != nil {
		t.Fatalf("SubscribeToActor() error = %v", err)
	}

	if err := c.SendMessage(ctx, types.ExternalParticipant, id, []byte("hi")); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	select {
	case ev := <-c.Pushes:
		if ev.Kind != management.PushChainEvent {
			t.Errorf("push kind = %v, want PushChainEvent", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("never received a PushChainEvent for the subscribed actor")
	}
}
