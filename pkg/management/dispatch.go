package management

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/theater/pkg/actor"
	"github.com/cuemby/theater/pkg/chain"
	"github.com/cuemby/theater/pkg/metrics"
	"github.com/cuemby/theater/pkg/supervisor"
	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

// Surface methods. Server implements Surface directly so in-process
// callers (tests, cmd/theaterd) can skip the wire entirely; dispatch below
// is what remote connections actually go through.

func (s *Server) Spawn(ctx context.Context, req supervisor.SpawnRequest) (types.ActorID, error) {
	return s.sup.Spawn(ctx, req)
}

func (s *Server) Stop(ctx context.Context, id types.ActorID) error {
	return s.sup.Stop(ctx, id)
}

func (s *Server) Terminate(ctx context.Context, id types.ActorID) error {
	return s.sup.Terminate(ctx, id)
}

func (s *Server) Restart(ctx context.Context, id types.ActorID) (types.ActorID, error) {
	return s.sup.Restart(ctx, id)
}

func (s *Server) UpdateComponent(ctx context.Context, id types.ActorID, newComponent types.ContentRef) (types.ActorID, error) {
	return s.sup.UpdateComponent(ctx, id, newComponent)
}

func (s *Server) GetActorStatus(ctx context.Context, id types.ActorID) (types.ActorStatus, error) {
	return s.sup.GetActorStatus(ctx, id)
}

func (s *Server) GetActorState(ctx context.Context, id types.ActorID) ([]byte, error) {
	return s.sup.GetActorState(ctx, id)
}

func (s *Server) GetActorEvents(ctx context.Context, id types.ActorID) ([]types.ChainEvent, error) {
	return s.sup.GetActorEvents(ctx, id)
}

func (s *Server) GetActorMetrics(ctx context.Context, id types.ActorID) (supervisor.Metrics, error) {
	return s.sup.GetActorMetrics(ctx, id)
}

func (s *Server) GetActorManifest(ctx context.Context, id types.ActorID) (types.Manifest, error) {
	return s.sup.GetActorManifest(ctx, id)
}

func (s *Server) SubscribeToActor(ctx context.Context, id types.ActorID, capacity int) (uint64, <-chan chain.Delivery, error) {
	return s.sup.SubscribeToActor(ctx, id, capacity)
}

func (s *Server) UnsubscribeFromActor(ctx context.Context, id types.ActorID, subID uint64) error {
	return s.sup.UnsubscribeFromActor(ctx, id, subID)
}

func (s *Server) SendMessage(ctx context.Context, from types.Participant, target types.ActorID, payload []byte) error {
	return s.sup.SendMessage(ctx, from, target, payload)
}

func (s *Server) Request(ctx context.Context, from types.Participant, target types.ActorID, payload []byte) ([]byte, error) {
	return s.rtr.Request(ctx, from, target, payload)
}

func (s *Server) OpenChannel(ctx context.Context, initiator, target types.Participant, firstMsg []byte) (types.ChannelID, error) {
	return s.rtr.OpenChannel(ctx, initiator, target, firstMsg)
}

func (s *Server) SendOnChannel(ctx context.Context, cid types.ChannelID, sender types.Participant, payload []byte) error {
	return s.rtr.SendOnChannel(ctx, cid, sender, payload)
}

func (s *Server) CloseChannel(ctx context.Context, cid types.ChannelID, sender types.Participant) error {
	return s.rtr.CloseChannel(ctx, cid, sender)
}

func (s *Server) StorePut(ctx context.Context, content []byte) (types.ContentRef, error) {
	return s.st.Store(ctx, content)
}

func (s *Server) StoreGet(ctx context.Context, ref types.ContentRef) ([]byte, error) {
	return s.st.Get(ctx, ref)
}

func (s *Server) StoreExists(ctx context.Context, ref types.ContentRef) (bool, error) {
	return s.st.Exists(ctx, ref)
}

func (s *Server) StoreLabel(ctx context.Context, label types.Label, ref types.ContentRef) error {
	return s.st.Label(ctx, label, ref)
}

func (s *Server) StoreAtLabel(ctx context.Context, label types.Label, content []byte) (types.ContentRef, error) {
	return s.st.StoreAtLabel(ctx, label, content)
}

func (s *Server) ReplaceContentAtLabel(ctx context.Context, label types.Label, content []byte) (types.ContentRef, error) {
	return s.st.ReplaceContentAtLabel(ctx, label, content)
}

func (s *Server) GetByLabel(ctx context.Context, label types.Label) (types.ContentRef, bool, error) {
	return s.st.GetByLabel(ctx, label)
}

func (s *Server) RemoveLabel(ctx context.Context, label types.Label) error {
	return s.st.RemoveLabel(ctx, label)
}

func (s *Server) ListLabels(ctx context.Context) ([]string, error) {
	return s.st.ListLabels(ctx)
}

var _ Surface = (*Server)(nil)

// dispatch decodes one Envelope, calls the matching Surface method, and
// re-encodes the result as a Response. It is the wire-facing twin of the
// typed methods above; connID identifies the connection the request
// arrived on, used by OpSpawn's Watch flag and OpSubscribeToActor to
// attach asynchronous pushes to the right connection.
func (s *Server) dispatch(ctx context.Context, connID uint64, env Envelope) Response {
	timer := metrics.NewTimer()
	resp := s.dispatchAndMarshal(ctx, connID, env)
	status := "ok"
	if resp.Err != nil {
		status = "error"
	}
	metrics.ManagementRequestsTotal.WithLabelValues(string(env.Op), status).Inc()
	timer.ObserveDurationVec(metrics.ManagementRequestDuration, string(env.Op))
	return resp
}

func (s *Server) dispatchAndMarshal(ctx context.Context, connID uint64, env Envelope) Response {
	body, err := s.dispatchOp(ctx, connID, env)
	if err != nil {
		return Response{Err: theatererr.ToManagementError(err)}
	}
	if body == nil {
		return Response{}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Response{Err: theatererr.ToManagementError(fmt.Errorf("%w: %v", theatererr.ErrSerialization, err))}
	}
	return Response{Body: raw}
}

func unmarshalBody(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", theatererr.ErrInvalidRequest, err)
	}
	return nil
}

func (s *Server) dispatchOp(ctx context.Context, connID uint64, env Envelope) (any, error) {
	switch env.Op {
	case OpSpawn:
		var req SpawnRequestBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		spawnReq := supervisor.SpawnRequest{Manifest: req.Manifest, InitParams: req.InitParams, Parent: req.Parent}
		if req.Watch {
			events := make(chan actor.SupervisorEvent, 8)
			spawnReq.SupervisorEvents = events
			id, err := s.Spawn(ctx, spawnReq)
			if err != nil {
				return nil, err
			}
			go s.forwardSupervisorEvents(connID, events)
			return SpawnResponseBody{ActorID: id}, nil
		}
		id, err := s.Spawn(ctx, spawnReq)
		if err != nil {
			return nil, err
		}
		return SpawnResponseBody{ActorID: id}, nil

	case OpStop:
		var req ActorIDBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		return nil, s.Stop(ctx, req.ActorID)

	case OpTerminate:
		var req ActorIDBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		return nil, s.Terminate(ctx, req.ActorID)

	case OpRestart:
		var req ActorIDBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		newID, err := s.Restart(ctx, req.ActorID)
		if err != nil {
			return nil, err
		}
		return SpawnResponseBody{ActorID: newID}, nil

	case OpUpdateComponent:
		var req UpdateComponentRequestBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		newID, err := s.UpdateComponent(ctx, req.ActorID, req.NewComponent)
		if err != nil {
			return nil, err
		}
		return SpawnResponseBody{ActorID: newID}, nil

	case OpGetActorStatus:
		var req ActorIDBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		status, err := s.GetActorStatus(ctx, req.ActorID)
		if err != nil {
			return nil, err
		}
		return ActorStatusResponseBody{Status: status}, nil

	case OpGetActorState:
		var req ActorIDBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		state, err := s.GetActorState(ctx, req.ActorID)
		if err != nil {
			return nil, err
		}
		return ActorStateResponseBody{State: state}, nil

	case OpGetActorEvents:
		var req ActorIDBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		events, err := s.GetActorEvents(ctx, req.ActorID)
		if err != nil {
			return nil, err
		}
		return ActorEventsResponseBody{Events: events}, nil

	case OpGetActorMetrics:
		var req ActorIDBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		m, err := s.GetActorMetrics(ctx, req.ActorID)
		if err != nil {
			return nil, err
		}
		return ActorMetricsResponseBody{EventCount: m.EventCount, UptimeMS: m.Uptime.Milliseconds(), Status: m.Status}, nil

	case OpGetActorManifest:
		var req ActorIDBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		manifest, err := s.GetActorManifest(ctx, req.ActorID)
		if err != nil {
			return nil, err
		}
		return ActorManifestResponseBody{Manifest: manifest}, nil

	case OpSubscribeToActor:
		var req SubscribeToActorRequestBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		subID, deliveries, err := s.SubscribeToActor(ctx, req.ActorID, req.Capacity)
		if err != nil {
			return nil, err
		}
		go s.forwardChainDeliveries(connID, deliveries)
		return SubscribeToActorResponseBody{SubID: subID}, nil

	case OpUnsubscribeFromActor:
		var req UnsubscribeFromActorRequestBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		return nil, s.UnsubscribeFromActor(ctx, req.ActorID, req.SubID)

	case OpSendMessage:
		var req SendMessageRequestBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		return nil, s.SendMessage(ctx, req.From, req.Target, req.Payload)

	case OpRequest:
		var req RequestRequestBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		reply, err := s.Request(ctx, req.From, req.Target, req.Payload)
		if err != nil {
			return nil, err
		}
		return RequestResponseBody{Payload: reply}, nil

	case OpOpenChannel:
		var req OpenChannelRequestBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		cid, err := s.OpenChannel(ctx, req.Initiator, req.Target, req.FirstMsg)
		if err != nil {
			return nil, err
		}
		return OpenChannelResponseBody{ChannelID: cid}, nil

	case OpSendOnChannel:
		var req SendOnChannelRequestBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		return nil, s.SendOnChannel(ctx, req.ChannelID, req.Sender, req.Payload)

	case OpCloseChannel:
		var req CloseChannelRequestBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		return nil, s.CloseChannel(ctx, req.ChannelID, req.Sender)

	case OpStorePut:
		var req StorePutRequestBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		ref, err := s.StorePut(ctx, req.Content)
		if err != nil {
			return nil, err
		}
		return ContentRefResponseBody{Ref: ref}, nil

	case OpStoreGet:
		var req StoreGetRequestBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		content, err := s.StoreGet(ctx, req.Ref)
		if err != nil {
			return nil, err
		}
		return StoreGetResponseBody{Content: content}, nil

	case OpStoreExists:
		var req StoreExistsRequestBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		exists, err := s.StoreExists(ctx, req.Ref)
		if err != nil {
			return nil, err
		}
		return StoreExistsResponseBody{Exists: exists}, nil

	case OpStoreLabel:
		var req StoreLabelRequestBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		return nil, s.StoreLabel(ctx, req.Label, req.Ref)

	case OpStoreAtLabel:
		var req StoreAtLabelRequestBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		ref, err := s.StoreAtLabel(ctx, req.Label, req.Content)
		if err != nil {
			return nil, err
		}
		return ContentRefResponseBody{Ref: ref}, nil

	case OpReplaceContentAtLabel:
		var req StoreAtLabelRequestBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		ref, err := s.ReplaceContentAtLabel(ctx, req.Label, req.Content)
		if err != nil {
			return nil, err
		}
		return ContentRefResponseBody{Ref: ref}, nil

	case OpGetByLabel:
		var req LabelRequestBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		ref, found, err := s.GetByLabel(ctx, req.Label)
		if err != nil {
			return nil, err
		}
		return GetByLabelResponseBody{Ref: ref, Found: found}, nil

	case OpRemoveLabel:
		var req LabelRequestBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		return nil, s.RemoveLabel(ctx, req.Label)

	case OpListLabels:
		labels, err := s.ListLabels(ctx)
		if err != nil {
			return nil, err
		}
		return ListLabelsResponseBody{Labels: labels}, nil

	case OpDecideChannelOpen:
		var req DecideChannelOpenRequestBody
		if err := unmarshalBody(env.Body, &req); err != nil {
			return nil, err
		}
		s.resolveOpenDecision(req.OpenID, openDecision{accepted: req.Accepted, reply: req.Reply})
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: unknown op %q", theatererr.ErrInvalidRequest, env.Op)
	}
}
