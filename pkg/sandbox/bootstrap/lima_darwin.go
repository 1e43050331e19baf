//go:build darwin

package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/lima-vm/lima/pkg/instance"
	"github.com/lima-vm/lima/pkg/limayaml"
	"github.com/lima-vm/lima/pkg/store"

	"github.com/cuemby/theater/pkg/log"
	"github.com/cuemby/theater/pkg/theatererr"
)

// LimaInstanceName is the Lima VM instance used to run containerd on
// macOS, where containerd itself cannot run natively.
const LimaInstanceName = "theater"

// Lima manages a Lima VM whose sole purpose is hosting containerd for
// pkg/sandbox/containerd, the macOS counterpart to Containerd on Linux.
// Grounded on the teacher's pkg/embedded.LimaManager.
type Lima struct {
	instance *store.Instance
	dataDir  string
}

// NewLima creates a Lima manager rooted at dataDir, which is mounted into
// the VM so the containerd it hosts can see actor component images staged
// on the host.
func NewLima(dataDir string) *Lima {
	return &Lima{dataDir: dataDir}
}

// Start boots the Lima VM (creating it on first use) and waits for its
// containerd socket to appear.
func (l *Lima) Start(ctx context.Context) error {
	logger := log.WithComponent("sandbox-bootstrap-lima")

	if _, err := exec.LookPath("limactl"); err != nil {
		return fmt.Errorf("%w: lima is not installed (brew install lima): %v", theatererr.ErrRuntime, err)
	}

	inst, err := store.Inspect(LimaInstanceName)
	if err != nil {
		logger.Info().Msg("creating lima instance for theater")
		if err := l.create(ctx); err != nil {
			return fmt.Errorf("%w: create lima instance: %v", theatererr.ErrRuntime, err)
		}
		inst, err = store.Inspect(LimaInstanceName)
		if err != nil {
			return fmt.Errorf("%w: inspect created lima instance: %v", theatererr.ErrRuntime, err)
		}
	}
	l.instance = inst

	if inst.Status != store.StatusRunning {
		logger.Info().Msg("starting lima instance")
		if err := instance.Start(ctx, inst, "", false); err != nil {
			return fmt.Errorf("%w: start lima instance: %v", theatererr.ErrRuntime, err)
		}
	}
	return l.waitForSocket(ctx)
}

// Stop stops the Lima VM, gracefully if possible.
func (l *Lima) Stop(ctx context.Context) error {
	if l.instance == nil {
		return nil
	}
	if err := instance.StopGracefully(ctx, l.instance, false); err != nil {
		instance.StopForcibly(l.instance)
	}
	return nil
}

// SocketPath returns the host-side path of the containerd socket Lima
// exposes.
func (l *Lima) SocketPath() string {
	limaHome := os.Getenv("LIMA_HOME")
	if limaHome == "" {
		home, _ := os.UserHomeDir()
		limaHome = filepath.Join(home, ".lima")
	}
	return filepath.Join(limaHome, LimaInstanceName, "sock", "containerd.sock")
}

func (l *Lima) create(ctx context.Context) error {
	arch := limayaml.AARCH64
	if runtime.GOARCH == "amd64" {
		arch = limayaml.X8664
	}
	cpus, memory, disk := 2, "2GiB", "20GiB"
	enable := true

	cfg := limayaml.LimaYAML{
		Arch:       &arch,
		CPUs:       &cpus,
		Memory:     &memory,
		Disk:       &disk,
		Containerd: limayaml.Containerd{System: &enable},
		Mounts: []limayaml.Mount{
			{Location: l.dataDir, Writable: &enable},
		},
		Provision: []limayaml.Provision{
			{
				Mode: limayaml.ProvisionModeSystem,
				Script: "#!/bin/sh\nset -eux -o pipefail\n" +
					"if ! command -v containerd > /dev/null; then apk add containerd; fi\n" +
					"rc-update add containerd default\nrc-service containerd start || true",
			},
		},
		Message: "theater lima VM - ready to run actor component containers",
	}

	configYAML, err := limayaml.Marshal(&cfg, false)
	if err != nil {
		return err
	}
	_, err = instance.Create(ctx, LimaInstanceName, configYAML, false)
	return err
}

func (l *Lima) waitForSocket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: timed out waiting for lima containerd socket", theatererr.ErrRuntime)
		case <-ticker.C:
			if _, err := os.Stat(l.SocketPath()); err == nil {
				return nil
			}
		}
	}
}
