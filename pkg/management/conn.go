package management

import (
	"encoding/json"
	"net"
	"sync"

	"github.com/cuemby/theater/pkg/types"
)

// FrameType discriminates the two kinds of frame a connection carries:
// request/response traffic, and asynchronous pushes for channel side-band
// traffic and watched supervisor events (spec.md §9: "Channel external
// participant is a side-band").
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FramePush     FrameType = "push"
)

// Frame is the one JSON value written per item on the stream; a conn's
// json.Decoder reads these back to back without any extra length prefix,
// the same way the teacher's raft FSM snapshot sink streams consecutive
// JSON values over an io.Writer.
type Frame struct {
	Type     FrameType `json:"type"`
	ID       uint64    `json:"id,omitempty"`
	Envelope *Envelope `json:"envelope,omitempty"`
	Response *Response `json:"response,omitempty"`
	Push     *PushEvent `json:"push,omitempty"`
}

// PushKind names the kind of asynchronous event a PushEvent carries.
type PushKind string

const (
	PushChannelOpenRequest PushKind = "ChannelOpenRequest"
	PushChannelMessage     PushKind = "ChannelMessage"
	PushChannelClosed      PushKind = "ChannelClosed"
	PushChildFailed        PushKind = "ChildFailed"
	PushChildStopped       PushKind = "ChildStopped"
	PushChildTerminated    PushKind = "ChildTerminated"
	PushChildRestarted     PushKind = "ChildRestarted"
	PushChainEvent         PushKind = "ChainEvent"
	PushSubscriptionClosed PushKind = "SubscriptionClosed"
)

// PushEvent is the payload of a FramePush frame.
type PushEvent struct {
	Kind      PushKind          `json:"kind"`
	ChannelID types.ChannelID   `json:"channel_id,omitempty"`
	From      types.Participant `json:"from,omitempty"`
	Payload   []byte            `json:"payload,omitempty"`

	// OpenID correlates a ChannelOpenRequest push with the client's
	// later DecideChannelOpen request.
	OpenID string `json:"open_id,omitempty"`

	ActorID    types.ActorID `json:"actor_id,omitempty"`
	NewActorID types.ActorID `json:"new_actor_id,omitempty"`
	Reason     string        `json:"reason,omitempty"`

	SubID      uint64           `json:"sub_id,omitempty"`
	ChainEvent *types.ChainEvent `json:"chain_event,omitempty"`
}

// conn wraps one accepted net.Conn with a serialized writer (encoding/json
// is safe to read concurrently from only one goroutine, and net.Conn
// writes must not interleave between goroutines).
type conn struct {
	nc  net.Conn
	dec *json.Decoder
	mu  sync.Mutex
	enc *json.Encoder
}

func newConn(nc net.Conn) *conn {
	return &conn{
		nc:  nc,
		dec: json.NewDecoder(nc),
		enc: json.NewEncoder(nc),
	}
}

func (c *conn) readFrame() (Frame, error) {
	var f Frame
	err := c.dec.Decode(&f)
	return f, err
}

func (c *conn) writeFrame(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(f)
}

func (c *conn) Close() error {
	return c.nc.Close()
}
