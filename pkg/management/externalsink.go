package management

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/cuemby/theater/pkg/router"
	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

var _ router.ExternalSink = (*Server)(nil)

// Server implements router.ExternalSink, making it the side-band endpoint
// the router hands actor-initiated traffic to when a channel's other side
// is the External participant (spec.md §9). The single connection
// currently registered as s.listener — the first one to connect, absent
// a richer per-client-identity scheme the spec leaves unspecified — is
// treated as "the management client watching for inbound channels"; this
// is documented in DESIGN.md as a deliberate simplification.

func (s *Server) OpenChannel(ctx context.Context, cid types.ChannelID, from types.Participant, firstMsg []byte) (bool, []byte, error) {
	s.mu.Lock()
	listenerID := s.listener
	s.mu.Unlock()
	if listenerID == 0 {
		return false, nil, fmt.Errorf("%w: no management client connected to accept inbound channels", theatererr.ErrChannelRejected)
	}

	openID, err := randomID()
	if err != nil {
		return false, nil, fmt.Errorf("%w: %v", theatererr.ErrInternal, err)
	}
	decisionC := make(chan openDecision, 1)
	s.mu.Lock()
	s.pending[openID] = decisionC
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, openID)
		s.mu.Unlock()
	}()

	s.pushTo(listenerID, PushEvent{
		Kind:      PushChannelOpenRequest,
		ChannelID: cid,
		From:      from,
		Payload:   firstMsg,
		OpenID:    openID,
	})

	select {
	case d := <-decisionC:
		return d.accepted, d.reply, nil
	case <-ctx.Done():
		return false, nil, ctx.Err()
	}
}

func (s *Server) ChannelMessage(cid types.ChannelID, payload []byte) {
	s.mu.Lock()
	listenerID := s.listener
	s.mu.Unlock()
	if listenerID == 0 {
		return
	}
	s.pushTo(listenerID, PushEvent{Kind: PushChannelMessage, ChannelID: cid, Payload: payload})
}

func (s *Server) ChannelClosed(cid types.ChannelID) {
	s.mu.Lock()
	listenerID := s.listener
	s.mu.Unlock()
	if listenerID == 0 {
		return
	}
	s.pushTo(listenerID, PushEvent{Kind: PushChannelClosed, ChannelID: cid})
}

func (s *Server) resolveOpenDecision(openID string, d openDecision) {
	s.mu.Lock()
	c, ok := s.pending[openID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case c <- d:
	default:
	}
}

func randomID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
