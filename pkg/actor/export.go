package actor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

// Export names the component contract requires at minimum (spec.md §6).
const (
	exportInit                 = "init"
	exportHandleSend           = "handle-send"
	exportHandleRequest        = "handle-request"
	exportHandleChannelOpen    = "handle-channel-open"
	exportHandleChannelMessage = "handle-channel-message"
	exportHandleChannelClose   = "handle-channel-close"
)

// Envelope shapes. Spec.md §9 leaves the component wire encoding
// unspecified beyond "a neutral value model the framework never
// interprets"; this expansion fixes one concrete encoding (JSON) so the
// framework and every sandbox backing agree on it, the same way
// SPEC_FULL.md §4.9 fixes one concrete wire choice for the management
// surface without claiming it is the only valid one.
type initRequest struct {
	State  []byte `json:"state,omitempty"`
	Params []byte `json:"params,omitempty"`
}

type initResponse struct {
	NewState []byte `json:"new_state,omitempty"`
}

// messageRequest/messageResponse cover handle-send, handle-request, and
// every handler-declared callback export (handle-timeout, handle-process-
// output, ...): all share the same (state, payload) -> (new_state, reply)
// shape, differing only in whether the caller uses the reply.
type messageRequest struct {
	State   []byte `json:"state,omitempty"`
	Payload []byte `json:"payload"`
}

type messageResponse struct {
	NewState []byte `json:"new_state,omitempty"`
	Reply    []byte `json:"reply,omitempty"`
}

type channelRequest struct {
	State     []byte `json:"state,omitempty"`
	ChannelID string `json:"channel_id"`
	Payload   []byte `json:"payload,omitempty"`
}

type channelResponse struct {
	NewState []byte `json:"new_state,omitempty"`
	Accepted bool   `json:"accepted,omitempty"`
	Reply    []byte `json:"reply,omitempty"`
}

// invokeRaw appends the "received" event and calls Invoke, returning the
// raw result bytes for the caller to decode. It does not append the
// "completed" event itself: the caller must do that once it has also
// persisted the resulting state, so the completed event's description
// can carry the state's ContentRef hash (spec.md §4.5 step 4: "summarizing
// inputs, outputs, and resulting state hash").
func (a *Instance) invokeRaw(ctx context.Context, export string, args []byte) ([]byte, error) {
	if _, err := a.chain.Append(export+".received", args, ""); err != nil {
		return nil, err
	}
	result, err := a.inst.Invoke(ctx, export, args)
	if err != nil {
		return nil, fmt.Errorf("%w: invoke %s: %v", theatererr.ErrRuntime, export, err)
	}
	return result, nil
}

// persistState stores newState in the content store (spec.md §4.5: "State
// is persisted as a ContentRef, so rollback is cheap") and returns its
// hash for the completed event's description. A nil Store (tests using
// no content store) degrades to an empty hash.
func (a *Instance) persistState(ctx context.Context, newState []byte) string {
	if a.store == nil {
		return ""
	}
	ref, err := a.store.Store(ctx, newState)
	if err != nil {
		// Persisting the snapshot is best-effort bookkeeping for cheap
		// rollback, not a correctness requirement of the call itself —
		// a.state already holds the authoritative bytes in memory.
		return ""
	}
	return ref.Hash
}

func (a *Instance) completed(export string, result []byte, stateHash string) error {
	desc := ""
	if stateHash != "" {
		desc = "state=" + stateHash
	}
	_, err := a.chain.Append(export+".completed", result, desc)
	return err
}

func (a *Instance) callInit(ctx context.Context, state, params []byte) ([]byte, error) {
	args, err := json.Marshal(initRequest{State: state, Params: params})
	if err != nil {
		return nil, fmt.Errorf("%w: encode init request: %v", theatererr.ErrSerialization, err)
	}
	result, err := a.invokeRaw(ctx, exportInit, args)
	if err != nil {
		return nil, err
	}
	var resp initResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode init response: %v", theatererr.ErrSerialization, err)
	}
	hash := a.persistState(ctx, resp.NewState)
	if err := a.completed(exportInit, result, hash); err != nil {
		return nil, err
	}
	return resp.NewState, nil
}

// callMessage invokes export with the actor's current state and payload,
// updating a.state on success. It is used for handle-send, handle-
// request, handler-invoked callback exports, and CallExport.
func (a *Instance) callMessage(ctx context.Context, export string, payload []byte) (reply []byte, err error) {
	args, err := json.Marshal(messageRequest{State: a.state, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s request: %v", theatererr.ErrSerialization, export, err)
	}
	result, err := a.invokeRaw(ctx, export, args)
	if err != nil {
		return nil, err
	}
	var resp messageResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode %s response: %v", theatererr.ErrSerialization, export, err)
	}
	hash := a.persistState(ctx, resp.NewState)
	if err := a.completed(export, result, hash); err != nil {
		return nil, err
	}
	a.state = resp.NewState
	return resp.Reply, nil
}

// callChannel invokes one of the handle-channel-* exports.
func (a *Instance) callChannel(ctx context.Context, export string, cid types.ChannelID, payload []byte) (accepted bool, reply []byte, err error) {
	args, err := json.Marshal(channelRequest{State: a.state, ChannelID: string(cid), Payload: payload})
	if err != nil {
		return false, nil, fmt.Errorf("%w: encode %s request: %v", theatererr.ErrSerialization, export, err)
	}
	result, err := a.invokeRaw(ctx, export, args)
	if err != nil {
		return false, nil, err
	}
	var resp channelResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		return false, nil, fmt.Errorf("%w: decode %s response: %v", theatererr.ErrSerialization, export, err)
	}
	hash := a.persistState(ctx, resp.NewState)
	if err := a.completed(export, result, hash); err != nil {
		return false, nil, err
	}
	a.state = resp.NewState
	return resp.Accepted, resp.Reply, nil
}
