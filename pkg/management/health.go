package management

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/theater/pkg/metrics"
	"github.com/cuemby/theater/pkg/store"
	"github.com/cuemby/theater/pkg/supervisor"
)

// HealthServer mirrors the teacher's pkg/api/health.go shape almost
// unchanged: a small http.ServeMux offering /health, /ready and /metrics,
// now answering about the Supervisor and Store instead of a raft manager.
type HealthServer struct {
	sup *supervisor.Supervisor
	st  *store.Store
	mux *http.ServeMux
}

// NewHealthServer builds the runtime's own health check HTTP server.
func NewHealthServer(sup *supervisor.Supervisor, st *store.Store) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{sup: sup, st: st, mux: mux}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start starts the health check HTTP server.
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// GetHandler returns the HTTP handler for embedding in other servers.
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

// HealthResponse is the /health liveness check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the /ready readiness check response.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler is a simple liveness check: 200 if the process is alive.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

// readyHandler checks whether the supervisor and store are reachable.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.sup != nil {
		if _, err := hs.sup.ListActors(r.Context()); err != nil {
			checks["supervisor"] = "error: " + err.Error()
			ready = false
			message = "Supervisor not accepting commands"
		} else {
			checks["supervisor"] = "ok"
		}
	} else {
		checks["supervisor"] = "not initialized"
		ready = false
	}

	if hs.st != nil {
		if _, err := hs.st.ListLabels(r.Context()); err != nil {
			checks["store"] = "error: " + err.Error()
			ready = false
			if message == "" {
				message = "Store not accessible"
			}
		} else {
			checks["store"] = "ok"
		}
	} else {
		checks["store"] = "not initialized"
		ready = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ReadyResponse{Status: status, Timestamp: time.Now(), Checks: checks, Message: message})
}
