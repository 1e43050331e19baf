// Package tcpcap implements the `tcp` capability handler: a raw TCP
// listen/accept capability that models each connection as a channel
// session, delivering bytes through the actor's handle-channel-open/
// message/close exports (SPEC_FULL.md §4.6, spec.md §4.4's channel model).
// Grounded on the teacher's pkg/network host-port publish/unpublish
// bookkeeping (a map of live resources tracked for cleanup), narrowed from
// iptables port forwarding to an in-process connection table.
package tcpcap

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cuemby/theater/pkg/handler"
	"github.com/cuemby/theater/pkg/types"
)

const (
	exportChannelOpen    = "handle-channel-open"
	exportChannelMessage = "handle-channel-message"
	exportChannelClose   = "handle-channel-close"

	readBufferSize = 4096
)

// Handler is the tcp capability. Unlike timer/random/http, it installs no
// host function — it only drives exports — so SetupHostFunctions is a
// no-op.
type Handler struct {
	listen  string
	invoker handler.ExportInvoker

	// mu guards conns, which is written from both the accept loop and each
	// connection's own goroutine. This is a deliberate departure from the
	// single-owner-goroutine default: unlike the core (store/chain/router),
	// this ambient capability has no natural single owner for "every live
	// connection," so a plain mutex over a bookkeeping map is the simplest
	// correct option, mirroring the teacher's own map-of-live-resources
	// bookkeeping in pkg/network.HostPortPublisher.
	mu     sync.Mutex
	conns  map[string]net.Conn
	nextID uint64
}

// New constructs the template instance registered with a handler.Registry.
func New() *Handler {
	return &Handler{conns: make(map[string]net.Conn)}
}

func (h *Handler) Name() string      { return "tcp" }
func (h *Handler) Imports() []string { return nil }
func (h *Handler) Exports() []string {
	return []string{exportChannelOpen, exportChannelMessage, exportChannelClose}
}

func (h *Handler) CreateInstance(cfg types.HandlerConfig, perms types.Permissions) (handler.Handler, error) {
	return &Handler{listen: cfg.Config["listen"], conns: make(map[string]net.Conn)}, nil
}

func (h *Handler) SetupHostFunctions(linker handler.Linker) error {
	return nil
}

func (h *Handler) AddExportFunctions(reg handler.ExportRegistrar) error {
	for _, e := range h.Exports() {
		reg.RegisterExport(e)
	}
	return nil
}

// BindInvoker implements handler.InvokerAware.
func (h *Handler) BindInvoker(inv handler.ExportInvoker) {
	h.invoker = inv
}

// Start listens on h.listen, if configured, accepting connections until ctx
// is canceled.
func (h *Handler) Start(ctx context.Context) error {
	if h.listen == "" {
		<-ctx.Done()
		return nil
	}

	ln, err := net.Listen("tcp", h.listen)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		ln.Close()
		h.closeAll()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil // listener closed on shutdown
		}
		go h.handleConn(ctx, conn)
	}
}

func (h *Handler) handleConn(ctx context.Context, conn net.Conn) {
	id := h.newChannelID()
	h.track(id, conn)
	defer func() {
		h.untrack(id)
		conn.Close()
	}()

	openPayload := encode(id, []byte(conn.RemoteAddr().String()))
	result, err := h.invoker.InvokeExport(ctx, exportChannelOpen, openPayload)
	if err != nil || len(result) == 0 || result[0] == 0 {
		return
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if _, invokeErr := h.invoker.InvokeExport(ctx, exportChannelMessage, encode(id, buf[:n])); invokeErr != nil {
				break
			}
		}
		if err != nil {
			break
		}
	}
	_, _ = h.invoker.InvokeExport(ctx, exportChannelClose, encode(id, nil))
}

func (h *Handler) newChannelID() string {
	n := atomic.AddUint64(&h.nextID, 1)
	return fmt.Sprintf("tcp-%d", n)
}

func (h *Handler) track(id string, conn net.Conn) {
	h.mu.Lock()
	h.conns[id] = conn
	h.mu.Unlock()
}

func (h *Handler) untrack(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
}

func (h *Handler) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.conns {
		conn.Close()
		delete(h.conns, id)
	}
}

// encode frames a channel id and payload as 2-byte-length-prefixed id
// followed by the raw payload, the same wire shape used by handler/store's
// host functions.
func encode(id string, payload []byte) []byte {
	var idLen [2]byte
	binary.BigEndian.PutUint16(idLen[:], uint16(len(id)))
	out := make([]byte, 0, 2+len(id)+len(payload))
	out = append(out, idLen[:]...)
	out = append(out, id...)
	out = append(out, payload...)
	return out
}
