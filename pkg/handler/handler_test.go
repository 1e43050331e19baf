package handler

import (
	"context"
	"testing"

	"github.com/cuemby/theater/pkg/chain"
	"github.com/cuemby/theater/pkg/types"
)

type stubExportRegistrar struct {
	registered []string
}

func (s *stubExportRegistrar) RegisterExport(name string) {
	s.registered = append(s.registered, name)
}

// stubHandler is a minimal Handler used to exercise Registry/Linker
// behavior without a real capability provider.
type stubHandler struct {
	name    string
	imports []string
	exports []string

	setupCalls int
}

func (h *stubHandler) Name() string      { return h.name }
func (h *stubHandler) Imports() []string { return h.imports }
func (h *stubHandler) Exports() []string { return h.exports }

func (h *stubHandler) CreateInstance(cfg types.HandlerConfig, perms types.Permissions) (Handler, error) {
	return &stubHandler{name: h.name, imports: h.imports, exports: h.exports}, nil
}

func (h *stubHandler) SetupHostFunctions(linker Linker) error {
	h.setupCalls++
	for _, imp := range h.imports {
		if err := linker.Install(imp, func(ctx context.Context, args []byte) ([]byte, error) {
			return args, nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *stubHandler) AddExportFunctions(reg ExportRegistrar) error {
	for _, e := range h.exports {
		reg.RegisterExport(e)
	}
	return nil
}

func (h *stubHandler) Start(ctx context.Context) error { return nil }

func TestActivateSkipsHandlerWithNoMatchingImport(t *testing.T) {
	reg := NewRegistry(&stubHandler{name: "random", imports: []string{"theater:random/source"}})
	configs := []types.HandlerConfig{{Type: "random"}}

	installCount := 0
	install := func(name string, fn HostFunction) error { installCount++; return nil }

	activated, err := reg.Activate(configs, []string{"theater:timer/after"}, install, &stubExportRegistrar{})
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if len(activated) != 0 {
		t.Errorf("Activate() activated %d handlers, want 0 (no matching import)", len(activated))
	}
	if installCount != 0 {
		t.Errorf("Install() called %d times, want 0", installCount)
	}
}

func TestActivateInstallsOncePerSharedImport(t *testing.T) {
	a := &stubHandler{name: "a", imports: []string{"theater:random/source"}}
	b := &stubHandler{name: "b", imports: []string{"theater:random/source"}}
	reg := NewRegistry(a, b)
	configs := []types.HandlerConfig{{Type: "a"}, {Type: "b"}}

	installCount := 0
	install := func(name string, fn HostFunction) error { installCount++; return nil }

	activated, err := reg.Activate(configs, []string{"theater:random/source"}, install, &stubExportRegistrar{})
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if len(activated) != 2 {
		t.Fatalf("Activate() activated %d handlers, want 2", len(activated))
	}
	if installCount != 1 {
		t.Errorf("Install() called %d times, want 1 (second handler must see it already satisfied)", installCount)
	}
}

func TestActivateUnknownHandlerTypeFails(t *testing.T) {
	reg := NewRegistry(&stubHandler{name: "timer"})
	configs := []types.HandlerConfig{{Type: "does-not-exist"}}

	_, err := reg.Activate(configs, nil, func(string, HostFunction) error { return nil }, &stubExportRegistrar{})
	if err == nil {
		t.Fatal("Activate() with unknown handler type = nil error, want error")
	}
}

func TestRecordingInstallAppendsCallAndResultEvents(t *testing.T) {
	ch, err := chain.New(types.NewActorID(), "", false)
	if err != nil {
		t.Fatalf("chain.New() error = %v", err)
	}

	var installedFn HostFunction
	install := func(name string, fn HostFunction) error {
		installedFn = fn
		return nil
	}

	recordingInstall := RecordingInstall(ch, install)
	if err := recordingInstall("theater:timer/after", func(ctx context.Context, args []byte) ([]byte, error) {
		return []byte("done"), nil
	}); err != nil {
		t.Fatalf("RecordingInstall() install error = %v", err)
	}

	result, err := installedFn(context.Background(), []byte("arg"))
	if err != nil {
		t.Fatalf("wrapped host function error = %v", err)
	}
	if string(result) != "done" {
		t.Errorf("wrapped host function result = %q, want %q", result, "done")
	}

	events, err := ch.ReadFull()
	if err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("ReadFull() returned %d events, want 2 (call + result)", len(events))
	}
	if events[0].EventType != "theater:timer/after.call" {
		t.Errorf("first event type = %q, want %q", events[0].EventType, "theater:timer/after.call")
	}
	if events[1].EventType != "theater:timer/after.result" {
		t.Errorf("second event type = %q, want %q", events[1].EventType, "theater:timer/after.result")
	}
}
