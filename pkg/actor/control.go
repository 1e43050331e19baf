package actor

import (
	"context"
	"fmt"

	"github.com/cuemby/theater/pkg/chain"
	"github.com/cuemby/theater/pkg/log"
	"github.com/cuemby/theater/pkg/router"
	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

// handleMailbox processes one router.ActorMessage (spec.md §4.5 step
// 1-5). It returns false if the actor failed while handling msg, in
// which case run has already torn the actor down and must stop looping.
func (a *Instance) handleMailbox(msg router.ActorMessage) bool {
	switch msg.Kind {
	case router.KindSend:
		if _, err := a.callMessage(a.lifeCtx, exportHandleSend, msg.Payload); err != nil {
			a.fail(err)
			return false
		}

	case router.KindRequest:
		reply, err := a.callMessage(a.lifeCtx, exportHandleRequest, msg.Payload)
		if msg.ReplyC != nil {
			msg.ReplyC <- router.Reply{Payload: reply, Err: err}
		}
		if err != nil {
			a.fail(err)
			return false
		}

	case router.KindChannelOpen:
		accepted, reply, err := a.callChannel(a.lifeCtx, exportHandleChannelOpen, msg.Channel, msg.Payload)
		if msg.OpenReplyC != nil {
			msg.OpenReplyC <- router.OpenReply{Accepted: accepted && err == nil, Reply: reply}
		}
		if err != nil {
			a.fail(err)
			return false
		}

	case router.KindChannelMessage:
		if _, _, err := a.callChannel(a.lifeCtx, exportHandleChannelMessage, msg.Channel, msg.Payload); err != nil {
			a.fail(err)
			return false
		}

	case router.KindChannelClose:
		if _, _, err := a.callChannel(a.lifeCtx, exportHandleChannelClose, msg.Channel, nil); err != nil {
			a.fail(err)
			return false
		}
	}
	return true
}

// handleCtrl processes one control request. It returns true once the
// actor has stopped and run must exit its loop.
func (a *Instance) handleCtrl(req ctrlRequest) bool {
	switch req.kind {
	case ctrlStop:
		a.doStop()
		req.replyC <- ctrlReply{}
		return true

	case ctrlGetState:
		req.replyC <- ctrlReply{state: a.state}

	case ctrlGetStatus:
		req.replyC <- ctrlReply{status: a.status}

	case ctrlGetEvents:
		events, err := a.chain.ReadFull()
		req.replyC <- ctrlReply{events: events, err: err}

	case ctrlCallExport:
		result, err := a.callMessage(a.lifeCtx, req.export, req.args)
		req.replyC <- ctrlReply{result: result, err: err}
		if err != nil {
			a.fail(err)
			return true
		}

	case ctrlSubscribe:
		id, deliveryC := a.chain.Subscribe(req.capacity)
		req.replyC <- ctrlReply{subID: id, delivery: deliveryC}

	case ctrlUnsubscribe:
		a.chain.Unsubscribe(req.subID)
		req.replyC <- ctrlReply{}
	}
	return false
}

// doStop implements the graceful Stopping -> Stopped transition (spec.md
// §4.5): stop handler Start tasks within the bounded deadline, unregister
// from the router, and close the chain's subscriber set.
func (a *Instance) doStop() {
	a.status = types.ActorStatus{Phase: types.ActorPhaseStopping}

	a.lifeCancel()
	waitHandlers(a.handlerWG, handlerStopDeadline)

	_ = a.rtr.UnregisterActor(context.Background(), a.id)
	a.status = types.ActorStatus{Phase: types.ActorPhaseStopped}
	a.chain.Terminate()
	_ = a.inst.Close(context.Background())
	close(a.done)

	log.WithActorID(a.id.String()).Info().Msg("actor stopped")
}

func (a *Instance) request(ctx context.Context, req ctrlRequest) (ctrlReply, error) {
	req.replyC = make(chan ctrlReply, 1)
	select {
	case a.ctrl <- req:
	case <-a.done:
		return ctrlReply{}, fmt.Errorf("%w: actor %s is no longer running", theatererr.ErrActorNotRunning, a.id)
	case <-ctx.Done():
		return ctrlReply{}, ctx.Err()
	}
	select {
	case r := <-req.replyC:
		return r, r.err
	case <-ctx.Done():
		return ctrlReply{}, ctx.Err()
	}
}

// Stop asks the actor to drain in-flight work and exit gracefully,
// blocking until it has (spec.md §4.5's Stopping -> Stopped path).
func (a *Instance) Stop(ctx context.Context) error {
	_, err := a.request(ctx, ctrlRequest{kind: ctrlStop})
	return err
}

// Terminate aborts the actor task immediately: no drain, no further
// mailbox or control processing. Once the task has exited, it appends
// the synthesized Terminated event itself (spec.md §4.5: "no final
// events beyond a synthesized Terminated event inserted by the
// supervisor") since the task that would normally own the chain is gone.
func (a *Instance) Terminate(ctx context.Context) error {
	a.lifeCancel()
	select {
	case <-a.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	_, err := a.chain.Append("Terminated", nil, "")
	a.chain.Terminate()
	_ = a.rtr.UnregisterActor(context.Background(), a.id)
	_ = a.inst.Close(context.Background())
	log.WithActorID(a.id.String()).Info().Msg("actor terminated")
	return err
}

// GetState returns the actor's current (decoded) state.
func (a *Instance) GetState(ctx context.Context) ([]byte, error) {
	r, err := a.request(ctx, ctrlRequest{kind: ctrlGetState})
	return r.state, err
}

// GetStatus returns the actor's current lifecycle phase.
func (a *Instance) GetStatus(ctx context.Context) (types.ActorStatus, error) {
	r, err := a.request(ctx, ctrlRequest{kind: ctrlGetStatus})
	return r.status, err
}

// GetEvents returns the actor's full event chain in append order.
func (a *Instance) GetEvents(ctx context.Context) ([]types.ChainEvent, error) {
	r, err := a.request(ctx, ctrlRequest{kind: ctrlGetEvents})
	return r.events, err
}

// CallExport invokes an arbitrary export by name with the actor's
// current state, for management-surface introspection and testing
// (spec.md §4.5 lists CallExport as a first-class control operation).
func (a *Instance) CallExport(ctx context.Context, export string, args []byte) ([]byte, error) {
	r, err := a.request(ctx, ctrlRequest{kind: ctrlCallExport, export: export, args: args})
	return r.result, err
}

// Subscribe registers a new best-effort subscriber on this actor's chain
// (spec.md §4.7 SubscribeToActor), returning a subscription id and its
// delivery channel. Registration happens inside the task loop because the
// chain's subscriber set is owned exclusively by that loop (spec.md §5).
func (a *Instance) Subscribe(ctx context.Context, capacity int) (uint64, <-chan chain.Delivery, error) {
	r, err := a.request(ctx, ctrlRequest{kind: ctrlSubscribe, capacity: capacity})
	return r.subID, r.delivery, err
}

// Unsubscribe removes a previously registered subscription.
func (a *Instance) Unsubscribe(ctx context.Context, id uint64) error {
	_, err := a.request(ctx, ctrlRequest{kind: ctrlUnsubscribe, subID: id})
	return err
}
