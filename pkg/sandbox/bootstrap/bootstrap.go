// Package bootstrap starts a local containerd daemon for dev/CI use, so
// pkg/sandbox/containerd has something to dial without the operator having
// to install and configure containerd by hand. Grounded on the teacher's
// pkg/embedded.ContainerdManager: this adapts that design from "extract an
// embedded binary" to "locate one already on PATH" (the pack carries no
// bundled containerd binaries to embed), keeping the same
// locate/start/wait-for-socket/graceful-stop shape and logging style.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/theater/pkg/log"
	"github.com/cuemby/theater/pkg/theatererr"
)

const (
	// DefaultDataDir is where the bootstrapped containerd stores its state.
	DefaultDataDir = "/var/lib/theater"

	// DefaultSocketPath is where the bootstrapped daemon listens.
	DefaultSocketPath = "/run/theater-containerd/containerd.sock"

	readyTimeout = 30 * time.Second
	stopTimeout  = 10 * time.Second
)

// Containerd manages a locally-started containerd daemon.
type Containerd struct {
	dataDir    string
	socketPath string
	cmd        *exec.Cmd
	logger     zerolog.Logger
}

// New locates containerd on PATH and prepares to start it under dataDir
// (DefaultDataDir if empty), listening on socketPath (DefaultSocketPath if
// empty).
func New(dataDir, socketPath string) (*Containerd, error) {
	if dataDir == "" {
		dataDir = DefaultDataDir
	}
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if _, err := exec.LookPath("containerd"); err != nil {
		return nil, fmt.Errorf("%w: containerd not found on PATH: %v", theatererr.ErrRuntime, err)
	}
	return &Containerd{
		dataDir:    dataDir,
		socketPath: socketPath,
		logger:     log.WithComponent("sandbox-bootstrap"),
	}, nil
}

// SocketPath returns the socket the daemon listens on once started.
func (c *Containerd) SocketPath() string { return c.socketPath }

// Start launches containerd and waits for its socket to appear.
func (c *Containerd) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(c.socketPath), 0o755); err != nil {
		return fmt.Errorf("%w: create socket directory: %v", theatererr.ErrRuntime, err)
	}
	root := filepath.Join(c.dataDir, "containerd")
	state := filepath.Join(c.dataDir, "containerd-state")

	c.cmd = exec.CommandContext(ctx, "containerd",
		"--address", c.socketPath,
		"--root", root,
		"--state", state,
	)
	c.cmd.Stdout = &logWriter{logger: c.logger, errLevel: false}
	c.cmd.Stderr = &logWriter{logger: c.logger, errLevel: true}

	c.logger.Info().Str("socket", c.socketPath).Msg("starting bootstrap containerd")
	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("%w: start containerd: %v", theatererr.ErrRuntime, err)
	}
	if err := c.waitForSocket(ctx); err != nil {
		_ = c.Stop()
		return err
	}
	c.logger.Info().Msg("bootstrap containerd ready")
	return nil
}

// Stop asks containerd to exit gracefully, forcing it after stopTimeout.
func (c *Containerd) Stop() error {
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	_ = c.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	select {
	case <-time.After(stopTimeout):
		c.logger.Warn().Msg("containerd did not stop gracefully, killing")
		_ = c.cmd.Process.Kill()
		<-done
	case <-done:
	}
	return nil
}

func (c *Containerd) waitForSocket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: timed out waiting for containerd socket at %s", theatererr.ErrRuntime, c.socketPath)
		case <-ticker.C:
			if _, err := os.Stat(c.socketPath); err == nil {
				return nil
			}
		}
	}
}

type logWriter struct {
	logger   zerolog.Logger
	errLevel bool
}

func (w *logWriter) Write(p []byte) (int, error) {
	if w.errLevel {
		w.logger.Error().Msg(string(p))
	} else {
		w.logger.Info().Msg(string(p))
	}
	return len(p), nil
}
