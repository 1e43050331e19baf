// Package router implements the Message Router (spec.md §4.4): a single
// owning goroutine holding two maps — ActorId -> mailbox and ChannelId ->
// ChannelState — through which every Send, Request, and channel operation
// passes. No package outside router ever touches these maps directly; all
// access is message passing, following the teacher's single-owner-goroutine
// style (pkg/events.Broker.run) generalized from a pub/sub broadcast loop to
// a full command router.
package router

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cuemby/theater/pkg/metrics"
	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

// MessageKind identifies the shape of an ActorMessage delivered into a
// mailbox.
type MessageKind int

const (
	KindSend MessageKind = iota
	KindRequest
	KindChannelOpen
	KindChannelMessage
	KindChannelClose
)

// Reply carries a Request's response back to the caller.
type Reply struct {
	Payload []byte
	Err     error
}

// OpenReply carries a target's accept/reject decision for an OpenChannel.
type OpenReply struct {
	Accepted bool
	Reply    []byte
}

// ActorMessage is one item delivered into an actor's mailbox.
type ActorMessage struct {
	Kind    MessageKind
	From    types.Participant
	Payload []byte
	Channel types.ChannelID

	// ReplyC is set only for KindRequest; the actor task must send exactly
	// once and close nothing (the router owns the channel).
	ReplyC chan<- Reply

	// OpenReplyC is set only for KindChannelOpen; the target's actor task
	// decides accept/reject by sending exactly once.
	OpenReplyC chan<- OpenReply
}

// ExternalSink is how the router reaches the side-band "External"
// participant (spec.md §9): the management surface implements this to
// receive channel traffic addressed to a client connection rather than an
// actor mailbox.
type ExternalSink interface {
	// OpenChannel asks the external side whether it accepts an inbound
	// channel open; it blocks until a decision is made or ctx is canceled.
	OpenChannel(ctx context.Context, cid types.ChannelID, from types.Participant, firstMsg []byte) (accepted bool, reply []byte, err error)
	ChannelMessage(cid types.ChannelID, payload []byte)
	ChannelClosed(cid types.ChannelID)
}

// Router owns all routing state. Create one with New and call Run in its
// own goroutine before issuing any commands.
type Router struct {
	cmds chan func(*state)
	done chan struct{}

	external ExternalSink
}

type state struct {
	mailboxes map[types.ActorID]chan<- ActorMessage
	channels  map[types.ChannelID]types.ChannelState
}

// New constructs a Router. Call Run to start its owning goroutine.
func New() *Router {
	return &Router{
		cmds: make(chan func(*state)),
		done: make(chan struct{}),
	}
}

// SetExternalSink attaches the management surface's delivery target. It
// must be called before any channel operation routes to an External
// participant.
func (r *Router) SetExternalSink(sink ExternalSink) {
	r.external = sink
}

// Run is the router's owning goroutine: every mutation of its maps happens
// here, serialized through cmds. Run blocks until Close is called.
func (r *Router) Run() {
	st := &state{
		mailboxes: make(map[types.ActorID]chan<- ActorMessage),
		channels:  make(map[types.ChannelID]types.ChannelState),
	}
	for {
		select {
		case cmd := <-r.cmds:
			cmd(st)
		case <-r.done:
			return
		}
	}
}

// Close stops the router's goroutine.
func (r *Router) Close() {
	close(r.done)
}

func (r *Router) submit(ctx context.Context, fn func(*state)) error {
	done := make(chan struct{})
	wrapped := func(st *state) {
		fn(st)
		close(done)
	}
	select {
	case r.cmds <- wrapped:
	case <-r.done:
		return fmt.Errorf("%w: router is closed", theatererr.ErrInternal)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterActor inserts id -> mailbox. Later registrations for the same id
// replace the previous mapping.
func (r *Router) RegisterActor(ctx context.Context, id types.ActorID, mailbox chan<- ActorMessage) error {
	return r.submit(ctx, func(st *state) {
		st.mailboxes[id] = mailbox
	})
}

// UnregisterActor removes id's mailbox mapping. Messages already in flight
// to it are unaffected; future Sends/Requests to id fail with
// ErrActorNotFound.
func (r *Router) UnregisterActor(ctx context.Context, id types.ActorID) error {
	return r.submit(ctx, func(st *state) {
		delete(st.mailboxes, id)
	})
}

// Send delivers a fire-and-forget message to target's mailbox. It suspends
// (per spec.md §5's backpressure contract) if the target mailbox is full,
// bounded by ctx.
func (r *Router) Send(ctx context.Context, from types.Participant, target types.ActorID, payload []byte) error {
	var mailbox chan<- ActorMessage
	var notFound bool
	if err := r.submit(ctx, func(st *state) {
		mailbox, notFound = lookup(st, target)
	}); err != nil {
		return err
	}
	if notFound {
		return fmt.Errorf("%w: %s", theatererr.ErrActorNotFound, target)
	}
	if err := deliver(ctx, mailbox, ActorMessage{Kind: KindSend, From: from, Payload: payload}); err != nil {
		return err
	}
	metrics.MessagesRoutedTotal.WithLabelValues("send").Inc()
	return nil
}

// Request delivers a message to target's mailbox and blocks for its reply,
// bounded by ctx. The reply oneshot is fulfilled by the target actor task
// whenever it chooses, independent of other mailbox traffic ordering.
func (r *Router) Request(ctx context.Context, from types.Participant, target types.ActorID, payload []byte) ([]byte, error) {
	var mailbox chan<- ActorMessage
	var notFound bool
	if err := r.submit(ctx, func(st *state) {
		mailbox, notFound = lookup(st, target)
	}); err != nil {
		return nil, err
	}
	if notFound {
		return nil, fmt.Errorf("%w: %s", theatererr.ErrActorNotFound, target)
	}

	replyC := make(chan Reply, 1)
	msg := ActorMessage{Kind: KindRequest, From: from, Payload: payload, ReplyC: replyC}
	if err := deliver(ctx, mailbox, msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyC:
		metrics.MessagesRoutedTotal.WithLabelValues("request").Inc()
		return reply.Payload, reply.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OpenChannel asks target to accept a new channel from initiator, blocking
// until target (or the external sink) decides, bounded by ctx. On
// acceptance the channel is recorded Open in the router's table under its
// newly minted ChannelID.
func (r *Router) OpenChannel(ctx context.Context, initiator, target types.Participant, firstMsg []byte) (types.ChannelID, error) {
	cid := newChannelID(initiator, target)
	timer := metrics.NewTimer()

	if target.IsExternal {
		if r.external == nil {
			return "", fmt.Errorf("%w: no external sink attached", theatererr.ErrInternal)
		}
		accepted, _, err := r.external.OpenChannel(ctx, cid, initiator, firstMsg)
		if err != nil {
			return "", err
		}
		timer.ObserveDuration(metrics.ChannelOpenDuration)
		if !accepted {
			metrics.ChannelsRejectedTotal.Inc()
			return "", fmt.Errorf("%w: %s", theatererr.ErrChannelRejected, cid)
		}
		if err := r.recordChannelOpen(ctx, cid, initiator, target); err != nil {
			return "", err
		}
		metrics.ChannelsTotal.WithLabelValues("open").Inc()
		return cid, nil
	}

	var mailbox chan<- ActorMessage
	var notFound bool
	if err := r.submit(ctx, func(st *state) {
		mailbox, notFound = lookup(st, target.ActorID)
	}); err != nil {
		return "", err
	}
	if notFound {
		return "", fmt.Errorf("%w: %s", theatererr.ErrActorNotFound, target.ActorID)
	}

	replyC := make(chan OpenReply, 1)
	msg := ActorMessage{Kind: KindChannelOpen, From: initiator, Channel: cid, Payload: firstMsg, OpenReplyC: replyC}
	if err := deliver(ctx, mailbox, msg); err != nil {
		return "", err
	}

	select {
	case reply := <-replyC:
		timer.ObserveDuration(metrics.ChannelOpenDuration)
		if !reply.Accepted {
			metrics.ChannelsRejectedTotal.Inc()
			return "", fmt.Errorf("%w: %s", theatererr.ErrChannelRejected, cid)
		}
		if err := r.recordChannelOpen(ctx, cid, initiator, target); err != nil {
			return "", err
		}
		metrics.ChannelsTotal.WithLabelValues("open").Inc()
		return cid, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Router) recordChannelOpen(ctx context.Context, cid types.ChannelID, initiator, target types.Participant) error {
	return r.submit(ctx, func(st *state) {
		st.channels[cid] = types.ChannelState{ID: cid, Initiator: initiator, Target: target, Open: true}
	})
}

// SendOnChannel delivers payload from sender to the other participant of
// cid. sender must be one of the channel's two participants.
func (r *Router) SendOnChannel(ctx context.Context, cid types.ChannelID, sender types.Participant, payload []byte) error {
	other, err := r.otherParticipant(ctx, cid, sender)
	if err != nil {
		return err
	}
	return r.deliverChannel(ctx, cid, sender, other, KindChannelMessage, payload)
}

// CloseChannel marks cid closed and notifies the other participant.
func (r *Router) CloseChannel(ctx context.Context, cid types.ChannelID, sender types.Participant) error {
	other, err := r.otherParticipant(ctx, cid, sender)
	if err != nil {
		return err
	}
	if err := r.submit(ctx, func(st *state) {
		cs := st.channels[cid]
		cs.Open = false
		st.channels[cid] = cs
	}); err != nil {
		return err
	}
	metrics.ChannelsTotal.WithLabelValues("open").Dec()
	metrics.ChannelsTotal.WithLabelValues("closed").Inc()
	return r.deliverChannel(ctx, cid, sender, other, KindChannelClose, nil)
}

func (r *Router) otherParticipant(ctx context.Context, cid types.ChannelID, sender types.Participant) (types.Participant, error) {
	var (
		cs    types.ChannelState
		found bool
	)
	if err := r.submit(ctx, func(st *state) {
		cs, found = st.channels[cid]
	}); err != nil {
		return types.Participant{}, err
	}
	if !found {
		return types.Participant{}, fmt.Errorf("%w: %s", theatererr.ErrChannelNotFound, cid)
	}
	if !cs.Open {
		return types.Participant{}, fmt.Errorf("%w: %s", theatererr.ErrChannelClosed, cid)
	}
	switch {
	case sender.Equal(cs.Initiator):
		return cs.Target, nil
	case sender.Equal(cs.Target):
		return cs.Initiator, nil
	default:
		return types.Participant{}, fmt.Errorf("%w: %s is not a participant of channel %s", theatererr.ErrInvalidRequest, sender, cid)
	}
}

func (r *Router) deliverChannel(ctx context.Context, cid types.ChannelID, from, to types.Participant, kind MessageKind, payload []byte) error {
	if to.IsExternal {
		if r.external == nil {
			return fmt.Errorf("%w: no external sink attached", theatererr.ErrInternal)
		}
		if kind == KindChannelClose {
			r.external.ChannelClosed(cid)
		} else {
			r.external.ChannelMessage(cid, payload)
		}
		return nil
	}

	var mailbox chan<- ActorMessage
	var notFound bool
	if err := r.submit(ctx, func(st *state) {
		mailbox, notFound = lookup(st, to.ActorID)
	}); err != nil {
		return err
	}
	if notFound {
		return fmt.Errorf("%w: %s", theatererr.ErrActorNotFound, to.ActorID)
	}
	return deliver(ctx, mailbox, ActorMessage{Kind: kind, From: from, Channel: cid, Payload: payload})
}

// newChannelID derives a ChannelID by hashing the ordered pair of
// participants together with a fresh random nonce, so repeated opens
// between the same two participants never collide.
func newChannelID(a, b types.Participant) types.ChannelID {
	nonce := uuid.New()
	data := append([]byte(a.String()+"|"+b.String()+"|"), nonce[:]...)
	return types.ChannelID(uuid.NewSHA1(uuid.NameSpaceOID, data).String())
}

func lookup(st *state, id types.ActorID) (chan<- ActorMessage, bool) {
	mailbox, ok := st.mailboxes[id]
	return mailbox, !ok
}

func deliver(ctx context.Context, mailbox chan<- ActorMessage, msg ActorMessage) error {
	select {
	case mailbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
