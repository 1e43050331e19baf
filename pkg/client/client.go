// Package client is a typed Go SDK over the External Management Surface
// (pkg/management), grounded on the teacher's pkg/client/client.go: one
// wrapper method per remote operation, a shared dial+timeout pattern, and
// plain (result, error) returns instead of raw protocol frames. Where the
// teacher dials a grpc.ClientConn and calls generated proto stubs, Client
// dials a net.Conn and speaks pkg/management's streamed-JSON frame
// protocol directly, since no .proto stubs exist in the retrieved pack
// (see DESIGN.md).
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/theater/pkg/management"
	"github.com/cuemby/theater/pkg/security"
	"github.com/cuemby/theater/pkg/supervisor"
	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

// DefaultCallTimeout bounds every request/response round trip that doesn't
// receive an explicit context deadline, mirroring the teacher's per-call
// 10-second context.WithTimeout convention.
const DefaultCallTimeout = 10 * time.Second

// Client wraps one connection to a management.Server.
type Client struct {
	nc  net.Conn
	enc *json.Encoder
	dec *json.Decoder

	writeMu sync.Mutex
	nextID  atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan management.Response

	// Pushes delivers every asynchronous frame the server sends: channel
	// opens/messages/closes addressed to this client as the External
	// participant, watched supervisor events, and subscribed chain
	// events. Buffered; a slow reader drops pushes rather than stalling
	// the read loop (spec.md §9's side-band traffic is best-effort).
	Pushes chan management.PushEvent

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient dials addr with a plain TCP connection.
func NewClient(addr string) (*Client, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return newClient(nc), nil
}

// NewClientWithCert dials addr over mTLS, loading the client's own
// certificate and the cluster CA from certDir the same way the teacher's
// connectWithMTLS does for its CLI client.
func NewClientWithCert(addr, certDir string) (*Client, error) {
	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("loading client certificate: %w", err)
	}
	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("loading CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}
	nc, err := tls.Dial("tcp", addr, tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("dial %s over TLS: %w", addr, err)
	}
	return newClient(nc), nil
}

func newClient(nc net.Conn) *Client {
	c := &Client{
		nc:      nc,
		enc:     json.NewEncoder(nc),
		dec:     json.NewDecoder(nc),
		pending: make(map[uint64]chan management.Response),
		Pushes:  make(chan management.PushEvent, 64),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.nc.Close()
		close(c.closed)
	})
	return err
}

func (c *Client) readLoop() {
	for {
		var f management.Frame
		if err := c.dec.Decode(&f); err != nil {
			c.failAllPending()
			return
		}
		switch f.Type {
		case management.FrameResponse:
			if f.Response == nil {
				continue
			}
			c.pendingMu.Lock()
			ch, ok := c.pending[f.ID]
			if ok {
				delete(c.pending, f.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- *f.Response
			}
		case management.FramePush:
			if f.Push == nil {
				continue
			}
			select {
			case c.Pushes <- *f.Push:
			default:
			}
		}
	}
}

// failAllPending resolves every in-flight call to a connection-closed
// error once the read loop observes the connection dying.
func (c *Client) failAllPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	resp := management.Response{Err: &theatererr.ManagementError{
		Kind:    theatererr.KindInternalError,
		Message: "connection closed",
	}}
	for id, ch := range c.pending {
		ch <- resp
		delete(c.pending, id)
	}
}

func (c *Client) call(ctx context.Context, op management.Op, req, resp any) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	id := c.nextID.Add(1)
	ch := make(chan management.Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	env := management.Envelope{Op: op, Body: raw}
	c.writeMu.Lock()
	writeErr := c.enc.Encode(management.Frame{Type: management.FrameRequest, ID: id, Envelope: &env})
	c.writeMu.Unlock()
	if writeErr != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return fmt.Errorf("writing request: %w", writeErr)
	}

	select {
	case r := <-ch:
		if r.Err != nil {
			return r.Err
		}
		if resp == nil || len(r.Body) == 0 {
			return nil
		}
		if err := json.Unmarshal(r.Body, resp); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return fmt.Errorf("client connection closed")
	}
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultCallTimeout)
}

// Spawn starts a new actor.
func (c *Client) Spawn(ctx context.Context, manifest types.Manifest, initParams []byte, parent *types.ActorID) (types.ActorID, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var resp management.SpawnResponseBody
	err := c.call(ctx, management.OpSpawn, management.SpawnRequestBody{Manifest: manifest, InitParams: initParams, Parent: parent}, &resp)
	return resp.ActorID, err
}

// Stop gracefully stops an actor.
func (c *Client) Stop(ctx context.Context, id types.ActorID) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	return c.call(ctx, management.OpStop, management.ActorIDBody{ActorID: id}, nil)
}

// Terminate aborts an actor immediately.
func (c *Client) Terminate(ctx context.Context, id types.ActorID) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	return c.call(ctx, management.OpTerminate, management.ActorIDBody{ActorID: id}, nil)
}

// Restart stops and respawns an actor from its stored manifest, under a
// fresh ActorID.
func (c *Client) Restart(ctx context.Context, id types.ActorID) (types.ActorID, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var resp management.SpawnResponseBody
	err := c.call(ctx, management.OpRestart, management.ActorIDBody{ActorID: id}, &resp)
	return resp.ActorID, err
}

// UpdateComponent restarts an actor with a new component reference.
func (c *Client) UpdateComponent(ctx context.Context, id types.ActorID, newComponent types.ContentRef) (types.ActorID, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var resp management.SpawnResponseBody
	err := c.call(ctx, management.OpUpdateComponent, management.UpdateComponentRequestBody{ActorID: id, NewComponent: newComponent}, &resp)
	return resp.ActorID, err
}

// GetActorStatus fetches an actor's current status.
func (c *Client) GetActorStatus(ctx context.Context, id types.ActorID) (types.ActorStatus, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var resp management.ActorStatusResponseBody
	err := c.call(ctx, management.OpGetActorStatus, management.ActorIDBody{ActorID: id}, &resp)
	return resp.Status, err
}

// GetActorState fetches an actor's current serialized state.
func (c *Client) GetActorState(ctx context.Context, id types.ActorID) ([]byte, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var resp management.ActorStateResponseBody
	err := c.call(ctx, management.OpGetActorState, management.ActorIDBody{ActorID: id}, &resp)
	return resp.State, err
}

// GetActorEvents fetches an actor's full chain.
func (c *Client) GetActorEvents(ctx context.Context, id types.ActorID) ([]types.ChainEvent, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var resp management.ActorEventsResponseBody
	err := c.call(ctx, management.OpGetActorEvents, management.ActorIDBody{ActorID: id}, &resp)
	return resp.Events, err
}

// GetActorMetrics fetches an actor's telemetry summary.
func (c *Client) GetActorMetrics(ctx context.Context, id types.ActorID) (supervisor.Metrics, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var resp management.ActorMetricsResponseBody
	err := c.call(ctx, management.OpGetActorMetrics, management.ActorIDBody{ActorID: id}, &resp)
	if err != nil {
		return supervisor.Metrics{}, err
	}
	return supervisor.Metrics{
		EventCount: resp.EventCount,
		Uptime:     time.Duration(resp.UptimeMS) * time.Millisecond,
		Status:     resp.Status,
	}, nil
}

// GetActorManifest fetches an actor's manifest.
func (c *Client) GetActorManifest(ctx context.Context, id types.ActorID) (types.Manifest, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var resp management.ActorManifestResponseBody
	err := c.call(ctx, management.OpGetActorManifest, management.ActorIDBody{ActorID: id}, &resp)
	return resp.Manifest, err
}

// SubscribeToActor registers a subscription; chain events arrive
// asynchronously on c.Pushes as PushChainEvent entries carrying this
// subscription's actor.
func (c *Client) SubscribeToActor(ctx context.Context, id types.ActorID, capacity int) (uint64, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var resp management.SubscribeToActorResponseBody
	err := c.call(ctx, management.OpSubscribeToActor, management.SubscribeToActorRequestBody{ActorID: id, Capacity: capacity}, &resp)
	return resp.SubID, err
}

// UnsubscribeFromActor removes a subscription.
func (c *Client) UnsubscribeFromActor(ctx context.Context, id types.ActorID, subID uint64) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	return c.call(ctx, management.OpUnsubscribeFromActor, management.UnsubscribeFromActorRequestBody{ActorID: id, SubID: subID}, nil)
}

// SendMessage delivers a fire-and-forget message.
func (c *Client) SendMessage(ctx context.Context, from types.Participant, target types.ActorID, payload []byte) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	return c.call(ctx, management.OpSendMessage, management.SendMessageRequestBody{From: from, Target: target, Payload: payload}, nil)
}

// Request delivers a message and waits for the actor's reply.
func (c *Client) Request(ctx context.Context, from types.Participant, target types.ActorID, payload []byte) ([]byte, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var resp management.RequestResponseBody
	err := c.call(ctx, management.OpRequest, management.RequestRequestBody{From: from, Target: target, Payload: payload}, &resp)
	return resp.Payload, err
}

// OpenChannel opens a channel between two participants.
func (c *Client) OpenChannel(ctx context.Context, initiator, target types.Participant, firstMsg []byte) (types.ChannelID, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var resp management.OpenChannelResponseBody
	err := c.call(ctx, management.OpOpenChannel, management.OpenChannelRequestBody{Initiator: initiator, Target: target, FirstMsg: firstMsg}, &resp)
	return resp.ChannelID, err
}

// SendOnChannel sends on an already-open channel.
func (c *Client) SendOnChannel(ctx context.Context, cid types.ChannelID, sender types.Participant, payload []byte) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	return c.call(ctx, management.OpSendOnChannel, management.SendOnChannelRequestBody{ChannelID: cid, Sender: sender, Payload: payload}, nil)
}

// CloseChannel closes an open channel.
func (c *Client) CloseChannel(ctx context.Context, cid types.ChannelID, sender types.Participant) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	return c.call(ctx, management.OpCloseChannel, management.CloseChannelRequestBody{ChannelID: cid, Sender: sender}, nil)
}

// DecideChannelOpen answers a PushChannelOpenRequest received on c.Pushes.
func (c *Client) DecideChannelOpen(ctx context.Context, openID string, accepted bool, reply []byte) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	return c.call(ctx, management.OpDecideChannelOpen, management.DecideChannelOpenRequestBody{OpenID: openID, Accepted: accepted, Reply: reply}, nil)
}

// StorePut writes content-addressed bytes to the store.
func (c *Client) StorePut(ctx context.Context, content []byte) (types.ContentRef, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var resp management.ContentRefResponseBody
	err := c.call(ctx, management.OpStorePut, management.StorePutRequestBody{Content: content}, &resp)
	return resp.Ref, err
}

// StoreGet reads content by reference.
func (c *Client) StoreGet(ctx context.Context, ref types.ContentRef) ([]byte, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var resp management.StoreGetResponseBody
	err := c.call(ctx, management.OpStoreGet, management.StoreGetRequestBody{Ref: ref}, &resp)
	return resp.Content, err
}

// StoreExists checks whether content is present.
func (c *Client) StoreExists(ctx context.Context, ref types.ContentRef) (bool, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var resp management.StoreExistsResponseBody
	err := c.call(ctx, management.OpStoreExists, management.StoreExistsRequestBody{Ref: ref}, &resp)
	return resp.Exists, err
}

// StoreLabel points a label at already-stored content.
func (c *Client) StoreLabel(ctx context.Context, label types.Label, ref types.ContentRef) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	return c.call(ctx, management.OpStoreLabel, management.StoreLabelRequestBody{Label: label, Ref: ref}, nil)
}

// StoreAtLabel stores content and labels it in one call.
func (c *Client) StoreAtLabel(ctx context.Context, label types.Label, content []byte) (types.ContentRef, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var resp management.ContentRefResponseBody
	err := c.call(ctx, management.OpStoreAtLabel, management.StoreAtLabelRequestBody{Label: label, Content: content}, &resp)
	return resp.Ref, err
}

// ReplaceContentAtLabel stores new content and repoints an existing label
// at it, leaving the old content immutable under its own reference.
func (c *Client) ReplaceContentAtLabel(ctx context.Context, label types.Label, content []byte) (types.ContentRef, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var resp management.ContentRefResponseBody
	err := c.call(ctx, management.OpReplaceContentAtLabel, management.StoreAtLabelRequestBody{Label: label, Content: content}, &resp)
	return resp.Ref, err
}

// GetByLabel resolves a label to its current content reference.
func (c *Client) GetByLabel(ctx context.Context, label types.Label) (types.ContentRef, bool, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var resp management.GetByLabelResponseBody
	err := c.call(ctx, management.OpGetByLabel, management.LabelRequestBody{Label: label}, &resp)
	return resp.Ref, resp.Found, err
}

// RemoveLabel deletes a label without touching its underlying content.
func (c *Client) RemoveLabel(ctx context.Context, label types.Label) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	return c.call(ctx, management.OpRemoveLabel, management.LabelRequestBody{Label: label}, nil)
}

// ListLabels lists every label currently set.
func (c *Client) ListLabels(ctx context.Context) ([]string, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	var resp management.ListLabelsResponseBody
	err := c.call(ctx, management.OpListLabels, nil, &resp)
	return resp.Labels, err
}
