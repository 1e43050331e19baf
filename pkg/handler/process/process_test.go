package process

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/theater/pkg/types"
)

type recordingInvoker struct {
	lines chan []byte
}

func (r *recordingInvoker) InvokeExport(ctx context.Context, export string, args []byte) ([]byte, error) {
	if export == exportSend {
		r.lines <- append([]byte(nil), args...)
	}
	return nil, nil
}

func TestStartWithoutPermissionFails(t *testing.T) {
	tmpl := New()
	inst, err := tmpl.CreateInstance(types.HandlerConfig{Config: map[string]string{"command": "echo"}}, types.Permissions{AllowSpawnProcess: false})
	if err != nil {
		t.Fatalf("CreateInstance() error = %v", err)
	}
	h := inst.(*Handler)
	h.BindInvoker(&recordingInvoker{lines: make(chan []byte, 1)})

	if err := h.Start(context.Background()); err == nil {
		t.Fatal("Start() without allow_spawn_process = nil error, want PermissionDenied")
	}
}

func TestStartStreamsStdoutToHandleSend(t *testing.T) {
	tmpl := New()
	inst, err := tmpl.CreateInstance(types.HandlerConfig{
		Config: map[string]string{"command": "printf", "args": "hello\\nworld\\n"},
	}, types.Permissions{AllowSpawnProcess: true})
	if err != nil {
		t.Fatalf("CreateInstance() error = %v", err)
	}
	h := inst.(*Handler)
	inv := &recordingInvoker{lines: make(chan []byte, 4)}
	h.BindInvoker(inv)

	done := make(chan error, 1)
	go func() { done <- h.Start(context.Background()) }()

	select {
	case line := <-inv.lines:
		if string(line) != "hello" {
			t.Errorf("first line = %q, want %q", line, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stdout line")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for process to exit")
	}
}

func TestCreateInstanceRequiresCommand(t *testing.T) {
	tmpl := New()
	if _, err := tmpl.CreateInstance(types.HandlerConfig{}, types.Permissions{}); err == nil {
		t.Fatal("CreateInstance() without command = nil error, want error")
	}
}
