// Package httpcap implements the `http` capability handler: inbound HTTP
// requests routed by host/path are dispatched to the actor's
// `handle-request` export, and outbound calls are subject to
// Permissions.allow_network (SPEC_FULL.md §4.6). The host/path matching
// rules are ported from the teacher's pkg/ingress.Router (exact host,
// "*.example.com" wildcard host, exact/prefix path) generalized from
// "route to a backend service" to "route to an actor export".
package httpcap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/cuemby/theater/pkg/handler"
	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

const (
	importOutboundRequest = "theater:http/outbound-request"
	exportHandleRequest   = "handle-request"

	requestTimeout = 30 * time.Second
)

// PathType mirrors the teacher's ingress path-match modes.
type PathType string

const (
	PathTypePrefix PathType = "prefix"
	PathTypeExact  PathType = "exact"
)

// wireRequest/wireResponse are the JSON shapes exchanged with the actor's
// handle-request export and returned from outbound-request.
type wireRequest struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

type wireResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

// Handler is the http capability. A configured instance either listens for
// inbound requests matching Host/Path (if Listen is set), grants outbound
// requests (always, subject to permissions), or both.
type Handler struct {
	listen   string
	host     string
	path     string
	pathType PathType

	perms   types.Permissions
	invoker handler.ExportInvoker
	client  *http.Client
	server  *http.Server
}

// New constructs the template instance registered with a handler.Registry.
func New() *Handler {
	return &Handler{client: &http.Client{Timeout: requestTimeout}}
}

func (h *Handler) Name() string      { return "http" }
func (h *Handler) Imports() []string { return []string{importOutboundRequest} }
func (h *Handler) Exports() []string { return []string{exportHandleRequest} }

func (h *Handler) CreateInstance(cfg types.HandlerConfig, perms types.Permissions) (handler.Handler, error) {
	pathType := PathType(cfg.Config["path_type"])
	if pathType == "" {
		pathType = PathTypePrefix
	}
	return &Handler{
		listen:   cfg.Config["listen"],
		host:     cfg.Config["host"],
		path:     cfg.Config["path"],
		pathType: pathType,
		perms:    perms,
		client:   &http.Client{Timeout: requestTimeout},
	}, nil
}

func (h *Handler) SetupHostFunctions(linker handler.Linker) error {
	return linker.Install(importOutboundRequest, h.outboundRequest)
}

func (h *Handler) AddExportFunctions(reg handler.ExportRegistrar) error {
	reg.RegisterExport(exportHandleRequest)
	return nil
}

// BindInvoker implements handler.InvokerAware.
func (h *Handler) BindInvoker(inv handler.ExportInvoker) {
	h.invoker = inv
}

// Start runs the inbound HTTP listener, if Listen is configured, until ctx
// is canceled.
func (h *Handler) Start(ctx context.Context) error {
	if h.listen == "" {
		<-ctx.Done()
		return nil
	}

	h.server = &http.Server{Addr: h.listen, Handler: http.HandlerFunc(h.serveHTTP)}
	errCh := make(chan error, 1)
	go func() { errCh <- h.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return h.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (h *Handler) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.matches(r.Host, r.URL.Path) {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadGateway)
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	wireReq, err := json.Marshal(wireRequest{Method: r.Method, Path: r.URL.Path, Headers: headers, Body: body})
	if err != nil {
		http.Error(w, "encoding request", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	result, err := h.invoker.InvokeExport(ctx, exportHandleRequest, wireReq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	var resp wireResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		http.Error(w, "decoding actor response", http.StatusBadGateway)
		return
	}
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// matches ports pkg/ingress.Router.matchHost/matchPath to a single
// configured route.
func (h *Handler) matches(host, path string) bool {
	if !matchHost(h.host, host) {
		return false
	}
	return matchPath(h.pathType, h.path, path)
}

func matchHost(pattern, host string) bool {
	if pattern == "" {
		return true
	}
	if idx := strings.IndexByte(host, ':'); idx != -1 {
		host = host[:idx]
	}
	if pattern == host {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	return false
}

func matchPath(pathType PathType, pattern, requestPath string) bool {
	switch pathType {
	case PathTypeExact:
		return pattern == requestPath
	case PathTypePrefix:
		if pattern == "" || pattern == "/" {
			return true
		}
		if !strings.HasPrefix(requestPath, pattern) {
			return false
		}
		if len(requestPath) == len(pattern) {
			return true
		}
		if pattern[len(pattern)-1] == '/' {
			return true
		}
		return requestPath[len(pattern)] == '/'
	default:
		return false
	}
}

// outboundRequest implements theater:http/outbound-request(request) ->
// response, gated by Permissions.allow_network. args/result are JSON
// wireRequest/wireResponse.
func (h *Handler) outboundRequest(ctx context.Context, args []byte) ([]byte, error) {
	var req wireRequest
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("%w: decode outbound request: %v", theatererr.ErrInvalidRequest, err)
	}

	target, err := neturl.Parse(req.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", theatererr.ErrInvalidRequest, err)
	}
	if !types.AllowsNetwork(h.perms.AllowNetwork, target.Host) {
		return nil, fmt.Errorf("%w: network access to %s not permitted", theatererr.ErrPermissionDenied, target.Host)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", theatererr.ErrInvalidRequest, err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", theatererr.ErrRuntime, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", theatererr.ErrRuntime, err)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	out, err := json.Marshal(wireResponse{Status: resp.StatusCode, Headers: respHeaders, Body: body})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", theatererr.ErrSerialization, err)
	}
	return out, nil
}

