package management

import "github.com/cuemby/theater/pkg/types"

// Request/response payload shapes for every Op. Each travels inside an
// Envelope/Response's Body as raw JSON; see conn.go for the frame codec.

type SpawnRequestBody struct {
	Manifest   types.Manifest   `json:"manifest"`
	InitParams []byte           `json:"init_params,omitempty"`
	Parent     *types.ActorID   `json:"parent,omitempty"`

	// Watch, if true, asks the server to push ChildFailed/ChildStopped/
	// ChildTerminated/ChildRestarted notifications about this actor back
	// over the same connection (see PushEvent in conn.go). A Go channel
	// can't cross the wire, so this replaces SpawnRequest.SupervisorEvents
	// for remote callers.
	Watch bool `json:"watch,omitempty"`
}

type SpawnResponseBody struct {
	ActorID types.ActorID `json:"actor_id"`
}

type ActorIDBody struct {
	ActorID types.ActorID `json:"actor_id"`
}

type UpdateComponentRequestBody struct {
	ActorID      types.ActorID   `json:"actor_id"`
	NewComponent types.ContentRef `json:"new_component"`
}

type ActorStatusResponseBody struct {
	Status types.ActorStatus `json:"status"`
}

type ActorStateResponseBody struct {
	State []byte `json:"state"`
}

type ActorEventsResponseBody struct {
	Events []types.ChainEvent `json:"events"`
}

type ActorMetricsResponseBody struct {
	EventCount int                `json:"event_count"`
	UptimeMS   int64              `json:"uptime_ms"`
	Status     types.ActorStatus `json:"status"`
}

type ActorManifestResponseBody struct {
	Manifest types.Manifest `json:"manifest"`
}

type SubscribeToActorRequestBody struct {
	ActorID  types.ActorID `json:"actor_id"`
	Capacity int           `json:"capacity"`
}

type SubscribeToActorResponseBody struct {
	SubID uint64 `json:"sub_id"`
}

type UnsubscribeFromActorRequestBody struct {
	ActorID types.ActorID `json:"actor_id"`
	SubID   uint64        `json:"sub_id"`
}

type SendMessageRequestBody struct {
	From    types.Participant `json:"from"`
	Target  types.ActorID     `json:"target"`
	Payload []byte            `json:"payload"`
}

type RequestRequestBody struct {
	From    types.Participant `json:"from"`
	Target  types.ActorID     `json:"target"`
	Payload []byte            `json:"payload"`
}

type RequestResponseBody struct {
	Payload []byte `json:"payload"`
}

type OpenChannelRequestBody struct {
	Initiator types.Participant `json:"initiator"`
	Target    types.Participant `json:"target"`
	FirstMsg  []byte            `json:"first_msg"`
}

type OpenChannelResponseBody struct {
	ChannelID types.ChannelID `json:"channel_id"`
}

type SendOnChannelRequestBody struct {
	ChannelID types.ChannelID   `json:"channel_id"`
	Sender    types.Participant `json:"sender"`
	Payload   []byte            `json:"payload"`
}

type CloseChannelRequestBody struct {
	ChannelID types.ChannelID   `json:"channel_id"`
	Sender    types.Participant `json:"sender"`
}

type StorePutRequestBody struct {
	Content []byte `json:"content"`
}

type ContentRefResponseBody struct {
	Ref types.ContentRef `json:"ref"`
}

type StoreGetRequestBody struct {
	Ref types.ContentRef `json:"ref"`
}

type StoreGetResponseBody struct {
	Content []byte `json:"content"`
}

type StoreExistsRequestBody struct {
	Ref types.ContentRef `json:"ref"`
}

type StoreExistsResponseBody struct {
	Exists bool `json:"exists"`
}

type StoreLabelRequestBody struct {
	Label types.Label      `json:"label"`
	Ref   types.ContentRef `json:"ref"`
}

type StoreAtLabelRequestBody struct {
	Label   types.Label `json:"label"`
	Content []byte      `json:"content"`
}

type LabelRequestBody struct {
	Label types.Label `json:"label"`
}

type GetByLabelResponseBody struct {
	Ref   types.ContentRef `json:"ref"`
	Found bool             `json:"found"`
}

type ListLabelsResponseBody struct {
	Labels []string `json:"labels"`
}

// DecideChannelOpenRequestBody answers a PushChannelOpenRequest push
// (see externalsink.go): the client accepts or rejects an actor-initiated
// channel open addressed to the External participant.
type DecideChannelOpenRequestBody struct {
	OpenID   string `json:"open_id"`
	Accepted bool   `json:"accepted"`
	Reply    []byte `json:"reply,omitempty"`
}
