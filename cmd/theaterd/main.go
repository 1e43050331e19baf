// Command theaterd boots a Theater runtime process: the Content Store,
// Router, Supervision Runtime, Handler Framework, and External Management
// Surface, plus the observability endpoints, wired together the way the
// teacher's cmd/warren main.go wires a manager node. Unlike the teacher's
// CLI, theaterd is deliberately thin (SPEC_FULL.md §2's "CLI entrypoint"
// row): it only boots the runtime and serves the management protocol.
// The rich multi-resource operator CLI and a manifest file format are out
// of scope per spec.md §1; operators and tests drive a running theaterd
// through pkg/client instead.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/theater/pkg/handler"
	"github.com/cuemby/theater/pkg/handler/httpcap"
	"github.com/cuemby/theater/pkg/handler/process"
	"github.com/cuemby/theater/pkg/handler/random"
	thstorehandler "github.com/cuemby/theater/pkg/handler/store"
	"github.com/cuemby/theater/pkg/handler/tcpcap"
	"github.com/cuemby/theater/pkg/handler/timer"
	"github.com/cuemby/theater/pkg/log"
	"github.com/cuemby/theater/pkg/management"
	"github.com/cuemby/theater/pkg/metrics"
	"github.com/cuemby/theater/pkg/router"
	"github.com/cuemby/theater/pkg/sandbox"
	"github.com/cuemby/theater/pkg/sandbox/bootstrap"
	"github.com/cuemby/theater/pkg/sandbox/containerd"
	"github.com/cuemby/theater/pkg/sandbox/inmemory"
	"github.com/cuemby/theater/pkg/security"
	"github.com/cuemby/theater/pkg/store"
	"github.com/cuemby/theater/pkg/supervisor"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "theaterd",
	Short:   "theaterd runs the Theater actor runtime",
	Long:    `theaterd hosts sandboxed actors, supervises their lifecycle, routes messages between them, and records every interaction into a tamper-evident event chain.`,
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("theaterd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.Flags().String("data-dir", "./theater-data", "Data directory for the content store, chains, and security database")
	rootCmd.Flags().String("listen-addr", "127.0.0.1:9876", "Address for the External Management Surface")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the metrics/health HTTP endpoints")
	rootCmd.Flags().Bool("enable-pprof", false, "Enable pprof profiling endpoints on the metrics server")
	rootCmd.Flags().String("sandbox", "inmemory", "Component sandbox backend: inmemory or containerd")
	rootCmd.Flags().String("containerd-socket", "", "containerd socket path (auto-detected if not specified)")
	rootCmd.Flags().Bool("bootstrap-containerd", false, "Start a local containerd daemon for the containerd sandbox backend instead of dialing an existing one (dev/CI convenience)")
	rootCmd.Flags().Bool("mtls", false, "Require mTLS on the External Management Surface, issuing node certs from a local CA")
	rootCmd.Flags().Int("mailbox-capacity", 64, "Per-actor mailbox channel capacity")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(func() {
		level, _ := rootCmd.Flags().GetString("log-level")
		jsonOut, _ := rootCmd.Flags().GetBool("log-json")
		log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
	})
}

func runDaemon(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	listenAddr, _ := cmd.Flags().GetString("listen-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof")
	sandboxKind, _ := cmd.Flags().GetString("sandbox")
	containerdSocket, _ := cmd.Flags().GetString("containerd-socket")
	bootstrapContainerd, _ := cmd.Flags().GetBool("bootstrap-containerd")
	useMTLS, _ := cmd.Flags().GetBool("mtls")
	mailboxCapacity, _ := cmd.Flags().GetInt("mailbox-capacity")

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	chainDir := dataDir + "/events"
	if err := os.MkdirAll(chainDir, 0o755); err != nil {
		return fmt.Errorf("create chain directory: %w", err)
	}

	fmt.Println("Starting theaterd...")
	fmt.Printf("  Data Directory: %s\n", dataDir)
	fmt.Printf("  Management Surface: %s\n", listenAddr)
	fmt.Printf("  Sandbox: %s\n", sandboxKind)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open("default", dataDir)
	if err != nil {
		return fmt.Errorf("open content store: %w", err)
	}
	defer st.Close()

	rtr := router.New()

	sb, sbCloser, err := buildSandbox(ctx, sandboxKind, containerdSocket, bootstrapContainerd, dataDir)
	if err != nil {
		return fmt.Errorf("build sandbox: %w", err)
	}
	if sbCloser != nil {
		defer sbCloser()
	}

	registry := handler.NewRegistry(
		httpcap.New(),
		tcpcap.New(),
		process.New(),
		timer.New(),
		random.New(),
		thstorehandler.New(st),
	)

	sup := supervisor.New(supervisor.Deps{
		Sandbox:         sb,
		HandlerRegistry: registry,
		Router:          rtr,
		Store:           st,
		ChainDir:        chainDir,
		MailboxCapacity: mailboxCapacity,
	})
	go sup.Run()
	defer sup.Close()

	certDir := ""
	if useMTLS {
		certDir, err = provisionServerCert(dataDir)
		if err != nil {
			return fmt.Errorf("provision mTLS material: %w", err)
		}
		fmt.Printf("  mTLS: enabled (certs under %s)\n", certDir)
	}

	mgmt, err := management.NewServer(management.Config{
		Supervisor: sup,
		Store:      st,
		Router:     rtr,
		CertDir:    certDir,
	})
	if err != nil {
		return fmt.Errorf("create management server: %w", err)
	}
	fmt.Println("✓ Supervision Runtime started")

	collector := metrics.NewCollector(sup)
	collector.Start()
	defer collector.Stop()
	fmt.Println("✓ Metrics collector started")

	metrics.SetVersion(Version)
	metrics.RegisterComponent("store", true, "ready")
	metrics.RegisterComponent("router", true, "ready")
	metrics.RegisterComponent("supervisor", true, "ready")
	metrics.RegisterComponent("management", false, "starting")

	go func() {
		http.Handle("/metrics", metrics.Handler())
		http.Handle("/health", metrics.HealthHandler())
		http.Handle("/ready", metrics.ReadyHandler())
		http.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()
	fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)
	fmt.Printf("✓ Health endpoints:\n")
	fmt.Printf("  - Health check: http://%s/health\n", metricsAddr)
	fmt.Printf("  - Readiness:    http://%s/ready\n", metricsAddr)
	fmt.Printf("  - Liveness:     http://%s/live\n", metricsAddr)
	if pprofEnabled {
		fmt.Printf("✓ Profiling endpoints enabled at http://%s/debug/pprof/\n", metricsAddr)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := mgmt.ListenAndServe(ctx, listenAddr); err != nil {
			errCh <- fmt.Errorf("management server error: %w", err)
		}
	}()
	time.Sleep(200 * time.Millisecond)
	metrics.RegisterComponent("management", true, "ready")
	fmt.Printf("✓ Management surface listening on %s\n", listenAddr)
	fmt.Println()
	fmt.Println("theaterd is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
	}

	cancel()
	if err := mgmt.Close(); err != nil {
		return fmt.Errorf("shutdown management server: %w", err)
	}
	fmt.Println("✓ Shutdown complete")
	return nil
}

// buildSandbox picks the sandbox.Sandbox backend. inmemory never returns a
// closer; containerd's client connection does (and, when bootstrapped, so
// does the daemon it started).
func buildSandbox(ctx context.Context, kind, socketPath string, bootstrapContainerd bool, dataDir string) (sandbox.Sandbox, func(), error) {
	switch kind {
	case "inmemory", "":
		return inmemory.New(), nil, nil
	case "containerd":
		var boot *bootstrap.Containerd
		if bootstrapContainerd {
			b, err := bootstrap.New(dataDir+"/containerd", socketPath)
			if err != nil {
				return nil, nil, fmt.Errorf("locate bootstrap containerd: %w", err)
			}
			if err := b.Start(ctx); err != nil {
				return nil, nil, fmt.Errorf("start bootstrap containerd: %w", err)
			}
			boot = b
			if socketPath == "" {
				socketPath = b.SocketPath()
			}
		}
		rt, err := containerd.New(socketPath, containerd.DefaultNamespace)
		if err != nil {
			if boot != nil {
				_ = boot.Stop()
			}
			return nil, nil, err
		}
		return rt, func() {
			_ = rt.Close()
			if boot != nil {
				_ = boot.Stop()
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown sandbox backend %q", kind)
	}
}

// provisionServerCert ensures a root CA and a node certificate exist under
// dataDir's security database, issuing them on first run, then saves the
// node cert/CA out to the on-disk cert directory management.Server reads
// from (security.LoadCertFromFile/LoadCACertFromFile), mirroring the
// teacher's first-boot CA bootstrap in cmd/warren's cluster init path.
func provisionServerCert(dataDir string) (string, error) {
	db, err := security.OpenDB(dataDir)
	if err != nil {
		return "", err
	}
	defer db.Close()

	ca := security.NewCertAuthority(db)
	if err := ca.LoadFromStore(); err != nil {
		if err := ca.Initialize(); err != nil {
			return "", fmt.Errorf("initialize CA: %w", err)
		}
		if err := ca.SaveToStore(); err != nil {
			return "", fmt.Errorf("save CA: %w", err)
		}
	}

	certDir, err := security.GetCertDir("server", "theaterd")
	if err != nil {
		return "", err
	}
	if security.CertExists(certDir) {
		return certDir, nil
	}

	cert, err := ca.IssueNodeCertificate("theaterd", "server", []string{"localhost"}, nil)
	if err != nil {
		return "", fmt.Errorf("issue node certificate: %w", err)
	}
	if err := security.SaveCertToFile(cert, certDir); err != nil {
		return "", err
	}
	if err := security.SaveCACertToFile(ca.GetRootCACert(), certDir); err != nil {
		return "", err
	}
	return certDir, nil
}
