package management

import (
	"github.com/cuemby/theater/pkg/actor"
	"github.com/cuemby/theater/pkg/chain"
)

// pushTo writes a push frame to connID if it is still connected; a vanished
// connection silently drops the push; nothing is tracking delivery
// guarantees for best-effort side-band traffic (spec.md §9).
func (s *Server) pushTo(connID uint64, ev PushEvent) {
	s.mu.Lock()
	c, ok := s.conns[connID]
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = c.writeFrame(Frame{Type: FramePush, Push: &ev})
}

// forwardSupervisorEvents relays one Spawn call's watched lifecycle
// events to the connection that asked for them. The supervisor never
// closes the events channel, so this goroutine returns after relaying the
// first ChildFailed/ChildStopped/ChildTerminated event (terminal for that
// child). It keeps running across ChildRestarted: Restart and
// UpdateComponent hand the same events channel to the replacement actor,
// so the replacement's later events (under its new id) arrive here too.
func (s *Server) forwardSupervisorEvents(connID uint64, events <-chan actor.SupervisorEvent) {
	for ev := range events {
		kind := PushKind(ev.Kind)
		s.pushTo(connID, PushEvent{
			Kind:       kind,
			ActorID:    ev.ActorID,
			NewActorID: ev.NewActorID,
			Reason:     ev.Reason,
		})
		switch kind {
		case PushChildFailed, PushChildStopped, PushChildTerminated:
			return
		}
	}
}

// forwardChainDeliveries relays one SubscribeToActor call's chain events
// to the connection that asked for them until the delivery channel closes
// (chain.Chain closes it on actor teardown, per pkg/chain's contract).
func (s *Server) forwardChainDeliveries(connID uint64, deliveries <-chan chain.Delivery) {
	for d := range deliveries {
		if d.Closed {
			s.pushTo(connID, PushEvent{Kind: PushSubscriptionClosed})
			return
		}
		if d.Err != nil {
			continue
		}
		ev := d.Event
		s.pushTo(connID, PushEvent{Kind: PushChainEvent, ChainEvent: &ev})
	}
}
