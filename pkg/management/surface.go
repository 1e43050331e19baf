// Package management implements the External Management Surface (spec.md
// §6): "a request/response protocol whose operations are exactly the
// supervisor commands... plus channel commands that delegate to the
// router, and store commands." Spec.md explicitly puts wire format out of
// scope; this package fixes one concrete choice — streamed JSON frames
// (encoding/json's Decoder reading consecutive values, the same technique
// the teacher's manager.go snapshot sink uses) over an optional TLS
// net.Listener — documented as swappable (see DESIGN.md's Open Question
// decisions), the same way pkg/actor fixes one concrete choice for
// component export encoding.
package management

import (
	"context"
	"encoding/json"

	"github.com/cuemby/theater/pkg/chain"
	"github.com/cuemby/theater/pkg/supervisor"
	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

// Surface is every operation the management protocol exposes: the
// Supervision Runtime's command table (spec.md §4.7), channel commands
// that delegate to the router, and content-store commands. A Server
// implements Surface directly; pkg/client is a typed Go caller of it.
type Surface interface {
	Spawn(ctx context.Context, req supervisor.SpawnRequest) (types.ActorID, error)
	Stop(ctx context.Context, id types.ActorID) error
	Terminate(ctx context.Context, id types.ActorID) error
	Restart(ctx context.Context, id types.ActorID) (types.ActorID, error)
	UpdateComponent(ctx context.Context, id types.ActorID, newComponent types.ContentRef) (types.ActorID, error)

	GetActorStatus(ctx context.Context, id types.ActorID) (types.ActorStatus, error)
	GetActorState(ctx context.Context, id types.ActorID) ([]byte, error)
	GetActorEvents(ctx context.Context, id types.ActorID) ([]types.ChainEvent, error)
	GetActorMetrics(ctx context.Context, id types.ActorID) (supervisor.Metrics, error)
	GetActorManifest(ctx context.Context, id types.ActorID) (types.Manifest, error)

	SubscribeToActor(ctx context.Context, id types.ActorID, capacity int) (uint64, <-chan chain.Delivery, error)
	UnsubscribeFromActor(ctx context.Context, id types.ActorID, subID uint64) error

	SendMessage(ctx context.Context, from types.Participant, target types.ActorID, payload []byte) error
	Request(ctx context.Context, from types.Participant, target types.ActorID, payload []byte) ([]byte, error)
	OpenChannel(ctx context.Context, initiator, target types.Participant, firstMsg []byte) (types.ChannelID, error)
	SendOnChannel(ctx context.Context, cid types.ChannelID, sender types.Participant, payload []byte) error
	CloseChannel(ctx context.Context, cid types.ChannelID, sender types.Participant) error

	StorePut(ctx context.Context, content []byte) (types.ContentRef, error)
	StoreGet(ctx context.Context, ref types.ContentRef) ([]byte, error)
	StoreExists(ctx context.Context, ref types.ContentRef) (bool, error)
	StoreLabel(ctx context.Context, label types.Label, ref types.ContentRef) error
	StoreAtLabel(ctx context.Context, label types.Label, content []byte) (types.ContentRef, error)
	ReplaceContentAtLabel(ctx context.Context, label types.Label, content []byte) (types.ContentRef, error)
	GetByLabel(ctx context.Context, label types.Label) (types.ContentRef, bool, error)
	RemoveLabel(ctx context.Context, label types.Label) error
	ListLabels(ctx context.Context) ([]string, error)
}

// Op names one request's operation, used both to dispatch on the server
// side and to select the response shape on the client side.
type Op string

const (
	OpSpawn                  Op = "Spawn"
	OpStop                   Op = "Stop"
	OpTerminate              Op = "Terminate"
	OpRestart                Op = "Restart"
	OpUpdateComponent        Op = "UpdateComponent"
	OpGetActorStatus         Op = "GetActorStatus"
	OpGetActorState          Op = "GetActorState"
	OpGetActorEvents         Op = "GetActorEvents"
	OpGetActorMetrics        Op = "GetActorMetrics"
	OpGetActorManifest       Op = "GetActorManifest"
	OpSubscribeToActor       Op = "SubscribeToActor"
	OpUnsubscribeFromActor   Op = "UnsubscribeFromActor"
	OpSendMessage            Op = "SendMessage"
	OpRequest                Op = "Request"
	OpOpenChannel            Op = "OpenChannel"
	OpSendOnChannel          Op = "SendOnChannel"
	OpCloseChannel           Op = "CloseChannel"
	OpStorePut               Op = "StorePut"
	OpStoreGet               Op = "StoreGet"
	OpStoreExists            Op = "StoreExists"
	OpStoreLabel             Op = "StoreLabel"
	OpStoreAtLabel           Op = "StoreAtLabel"
	OpReplaceContentAtLabel  Op = "ReplaceContentAtLabel"
	OpGetByLabel             Op = "GetByLabel"
	OpRemoveLabel            Op = "RemoveLabel"
	OpListLabels             Op = "ListLabels"

	// OpDecideChannelOpen is not part of Surface — it is the reply half of
	// a PushChannelOpenRequest, sent back by whichever connection is
	// currently registered to receive inbound channel opens (see
	// externalsink.go).
	OpDecideChannelOpen Op = "DecideChannelOpen"
)

// Envelope is one request frame on the wire: Op selects the operation,
// Body is that operation's request payload re-marshaled from its typed
// Go struct (defined in wire.go).
type Envelope struct {
	Op   Op              `json:"op"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Response is one reply frame: at most one of Body or Err is set, and
// neither is set for an operation that succeeds with no result. Err uses
// theatererr.ManagementError, the single typed-error shape shared by every
// internal-to-boundary error translation in this module.
type Response struct {
	Body json.RawMessage             `json:"body,omitempty"`
	Err  *theatererr.ManagementError `json:"err,omitempty"`
}
