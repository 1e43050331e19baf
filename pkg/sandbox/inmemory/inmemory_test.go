package inmemory

import (
	"context"
	"testing"

	"github.com/cuemby/theater/pkg/types"
)

func TestLoadReturnsRegisteredComponent(t *testing.T) {
	s := New()
	ref := types.ContentRef{Hash: "abc123"}
	s.Register(ref, Component{
		ImportNames: []string{"theater:timer/after"},
		Exports: map[string]ExportFunc{
			"handle-timeout": func(ctx context.Context, args []byte) ([]byte, error) {
				return append([]byte("got:"), args...), nil
			},
		},
	})

	inst, err := s.Load(context.Background(), ref)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got, want := inst.Imports(), []string{"theater:timer/after"}; len(got) != 1 || got[0] != want[0] {
		t.Errorf("Imports() = %v, want %v", got, want)
	}
	if got, want := inst.Exports(), "handle-timeout"; len(got) != 1 || got[0] != want {
		t.Errorf("Exports() = %v, want [%s]", got, want)
	}

	out, err := inst.Invoke(context.Background(), "handle-timeout", []byte("x"))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if string(out) != "got:x" {
		t.Errorf("Invoke() = %q, want %q", out, "got:x")
	}
}

func TestLoadUnknownRefFails(t *testing.T) {
	s := New()
	if _, err := s.Load(context.Background(), types.ContentRef{Hash: "missing"}); err == nil {
		t.Fatal("Load() of unregistered ref = nil error, want error")
	}
}

func TestInvokeUnknownExportFails(t *testing.T) {
	s := New()
	ref := types.ContentRef{Hash: "abc"}
	s.Register(ref, Component{Exports: map[string]ExportFunc{}})
	inst, err := s.Load(context.Background(), ref)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := inst.Invoke(context.Background(), "nope", nil); err == nil {
		t.Fatal("Invoke() of unknown export = nil error, want error")
	}
}
