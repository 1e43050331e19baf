// Package process implements the `process` capability handler: spawn/
// signal/wait on a host OS process, gated by Permissions.allow_spawn_process,
// delivering stdout chunks as handle-send messages (SPEC_FULL.md §4.6).
// Grounded on the teacher's container-lifecycle shape
// (pkg/runtime.ContainerdRuntime.StartContainer/StopContainer: graceful
// SIGTERM with a timeout, SIGKILL on expiry) generalized from "containerd
// container" to "host OS process" via os/exec.
package process

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/theater/pkg/handler"
	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

const (
	importSignal   = "theater:process/signal"
	exportSend     = "handle-send"
	stopGraceDelay = 5 * time.Second
)

// Handler is the process capability.
type Handler struct {
	command string
	args    []string
	perms   types.Permissions
	invoker handler.ExportInvoker
	cmd     *exec.Cmd
}

// New constructs the template instance registered with a handler.Registry.
func New() *Handler {
	return &Handler{}
}

func (h *Handler) Name() string      { return "process" }
func (h *Handler) Imports() []string { return []string{importSignal} }
func (h *Handler) Exports() []string { return []string{exportSend} }

func (h *Handler) CreateInstance(cfg types.HandlerConfig, perms types.Permissions) (handler.Handler, error) {
	command := cfg.Config["command"]
	if command == "" {
		return nil, fmt.Errorf("%w: process handler requires a \"command\" config value", theatererr.ErrInvalidRequest)
	}
	var args []string
	if raw := cfg.Config["args"]; raw != "" {
		args = strings.Split(raw, ",")
	}
	return &Handler{command: command, args: args, perms: perms}, nil
}

func (h *Handler) SetupHostFunctions(linker handler.Linker) error {
	return linker.Install(importSignal, h.signal)
}

func (h *Handler) AddExportFunctions(reg handler.ExportRegistrar) error {
	reg.RegisterExport(exportSend)
	return nil
}

// BindInvoker implements handler.InvokerAware.
func (h *Handler) BindInvoker(inv handler.ExportInvoker) {
	h.invoker = inv
}

// Start spawns the configured command and streams its stdout to the
// actor's handle-send export one line at a time, until the process exits
// or ctx is canceled (in which case it is asked to terminate gracefully,
// then killed after stopGraceDelay).
func (h *Handler) Start(ctx context.Context) error {
	if !h.perms.AllowSpawnProcess {
		return fmt.Errorf("%w: process spawning not permitted", theatererr.ErrPermissionDenied)
	}

	cmd := exec.Command(h.command, h.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", theatererr.ErrRuntime, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", theatererr.ErrRuntime, err)
	}
	h.cmd = cmd

	done := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			_, _ = h.invoker.InvokeExport(ctx, exportSend, scanner.Bytes())
		}
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return h.stop(done)
	}
}

func (h *Handler) stop(done chan error) error {
	if h.cmd.Process == nil {
		return nil
	}
	_ = h.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
		return nil
	case <-time.After(stopGraceDelay):
		_ = h.cmd.Process.Signal(syscall.SIGKILL)
		<-done
		return nil
	}
}

// signal implements theater:process/signal(name), name being "TERM" or
// "KILL" as UTF-8 bytes.
func (h *Handler) signal(ctx context.Context, args []byte) ([]byte, error) {
	if h.cmd == nil || h.cmd.Process == nil {
		return nil, fmt.Errorf("%w: process not running", theatererr.ErrInvalidRequest)
	}
	var sig syscall.Signal
	switch strings.ToUpper(string(args)) {
	case "TERM":
		sig = syscall.SIGTERM
	case "KILL":
		sig = syscall.SIGKILL
	default:
		return nil, fmt.Errorf("%w: unknown signal %q", theatererr.ErrInvalidRequest, args)
	}
	if err := h.cmd.Process.Signal(sig); err != nil {
		return nil, fmt.Errorf("%w: %v", theatererr.ErrRuntime, err)
	}
	return nil, nil
}
