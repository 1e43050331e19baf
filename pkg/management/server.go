package management

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/cuemby/theater/pkg/log"
	"github.com/cuemby/theater/pkg/metrics"
	"github.com/cuemby/theater/pkg/router"
	"github.com/cuemby/theater/pkg/security"
	"github.com/cuemby/theater/pkg/store"
	"github.com/cuemby/theater/pkg/supervisor"
	"github.com/cuemby/theater/pkg/theatererr"
)

// Config configures a Server. CertDir, if non-empty, is loaded with
// security.LoadCertFromFile/LoadCACertFromFile the way the teacher's node
// certificates are loaded, and turns ListenAndServe into a TLS listener
// requiring client certificates signed by the same CA (mirroring the
// teacher's mTLS posture in pkg/api/server.go, minus gRPC).
type Config struct {
	Supervisor *supervisor.Supervisor
	Store      *store.Store
	Router     *router.Router
	CertDir    string
}

// Server is the in-process implementation of Surface and the
// request-dispatch/channel-side-band endpoint for the External Management
// Surface. It wraps a Supervisor, a Store and the Router the whole runtime
// shares; it adds no state of its own beyond open connections and pending
// channel-open asks.
type Server struct {
	sup *supervisor.Supervisor
	st  *store.Store
	rtr *router.Router

	tlsConfig *tls.Config

	mu       sync.Mutex
	conns    map[uint64]*conn
	nextConn uint64
	listener uint64 // conn id registered to receive inbound ChannelOpenRequest pushes; 0 = none
	pending  map[string]chan openDecision

	ln net.Listener
}

type openDecision struct {
	accepted bool
	reply    []byte
}

// NewServer builds a Server around an already-running Supervisor/Store/
// Router. TLS, if CertDir is set, is configured eagerly so ListenAndServe
// fails fast on bad certificates rather than after Accept.
func NewServer(cfg Config) (*Server, error) {
	s := &Server{
		sup:     cfg.Supervisor,
		st:      cfg.Store,
		rtr:     cfg.Router,
		conns:   make(map[uint64]*conn),
		pending: make(map[string]chan openDecision),
	}
	if cfg.CertDir != "" {
		tlsCfg, err := loadServerTLSConfig(cfg.CertDir)
		if err != nil {
			return nil, fmt.Errorf("%w: loading TLS material: %v", theatererr.ErrInternal, err)
		}
		s.tlsConfig = tlsCfg
	}
	cfg.Router.SetExternalSink(s)
	return s, nil
}

func loadServerTLSConfig(certDir string) (*tls.Config, error) {
	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, err
	}
	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(caCert)
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ListenAndServe accepts connections on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var ln net.Listener
	var err error
	if s.tlsConfig != nil {
		ln, err = tls.Listen("tcp", addr, s.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("%w: listen on %s: %v", theatererr.ErrInternal, addr, err)
	}
	s.ln = ln
	log.WithComponent("management").Info().Str("addr", addr).Bool("tls", s.tlsConfig != nil).Msg("management surface listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: accept: %v", theatererr.ErrInternal, err)
		}
		go s.serveConn(ctx, nc)
	}
}

func (s *Server) registerConn(c *conn) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextConn++
	id := s.nextConn
	s.conns[id] = c
	if s.listener == 0 {
		s.listener = id
	}
	metrics.ManagementConnectionsTotal.Inc()
	return id
}

func (s *Server) unregisterConn(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
	metrics.ManagementConnectionsTotal.Dec()
	if s.listener == id {
		s.listener = 0
		for other := range s.conns {
			s.listener = other
			break
		}
	}
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	c := newConn(nc)
	id := s.registerConn(c)
	lg := log.WithConnID(id)
	defer func() {
		s.unregisterConn(id)
		_ = c.Close()
	}()

	for {
		f, err := c.readFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				lg.Debug().Err(err).Msg("connection read error")
			}
			return
		}
		if f.Type != FrameRequest || f.Envelope == nil {
			continue
		}
		resp := s.dispatch(ctx, id, *f.Envelope)
		_ = c.writeFrame(Frame{Type: FrameResponse, ID: f.ID, Response: &resp})
	}
}

// Close stops accepting connections and closes every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}
