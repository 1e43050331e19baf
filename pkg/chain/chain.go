// Package chain implements the per-actor Event Chain and its Subscription
// Bus (spec.md §4.2, §4.3). A Chain is owned exclusively by the actor task
// that created it (spec.md §5: "each actor task... owns its chain head and
// subscriber list"); nothing in this package takes a lock, because nothing
// in this package is meant to be called from more than one goroutine. The
// actor task (package actor) is the sole caller.
package chain

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/theater/pkg/metrics"
	"github.com/cuemby/theater/pkg/theatererr"
	"github.com/cuemby/theater/pkg/types"
)

// Chain is one actor's append-only hash-linked event sequence.
type Chain struct {
	actorID types.ActorID
	persist bool   // spec.md §4.2 save_chain
	dir     string // <root>, holding events/ and chains/; only used when persist

	head   string // hex hash of the last appended event, "" if empty chain
	events map[string]types.ChainEvent

	subs   map[uint64]*subscription
	nextID uint64
}

// subscription is one subscriber's best-effort delivery queue.
type subscription struct {
	ch chan Delivery
}

// Delivery is what a subscriber receives: either an event or a terminal
// signal (Err != nil, or Closed == true for a clean end-of-chain).
type Delivery struct {
	Event  types.ChainEvent
	Err    error
	Closed bool
}

// New creates an empty chain for actorID. When persist is true, appended
// events are also written under dir/events/<hash> and the head hash under
// dir/chains/<actor-id>, per spec.md §6's persisted-state layout.
func New(actorID types.ActorID, dir string, persist bool) (*Chain, error) {
	c := &Chain{
		actorID: actorID,
		persist: persist,
		dir:     dir,
		events:  make(map[string]types.ChainEvent),
		subs:    make(map[uint64]*subscription),
	}
	if persist {
		if err := os.MkdirAll(filepath.Join(dir, "events"), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create events dir: %v", theatererr.ErrStore, err)
		}
		if err := os.MkdirAll(filepath.Join(dir, "chains"), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create chains dir: %v", theatererr.ErrStore, err)
		}
		if head, err := c.loadHead(); err == nil && head != "" {
			if err := c.reloadFromDisk(head); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// Head returns the hash of the most recently appended event, or "" if the
// chain is empty.
func (c *Chain) Head() string {
	return c.head
}

// canonicalBytes is the one place event hashes are computed (spec.md §9,
// "event hashing must be canonical"; SPEC_FULL.md §4.2 pins the encoding).
// Both Append and any integrity-checking read call this, so "hash is a pure
// function of the other fields" holds by construction.
func canonicalBytes(parentHash, eventType string, data []byte, timestampMS uint64) ([]byte, error) {
	var buf []byte

	if parentHash != "" {
		parentBytes, err := hex.DecodeString(parentHash)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed parent hash: %v", theatererr.ErrInternal, err)
		}
		buf = append(buf, parentBytes...)
	}

	var varint [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(varint[:], uint64(len(eventType)))
	buf = append(buf, varint[:n]...)
	buf = append(buf, eventType...)

	n = binary.PutUvarint(varint[:], uint64(len(data)))
	buf = append(buf, varint[:n]...)
	buf = append(buf, data...)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], timestampMS)
	buf = append(buf, ts[:]...)

	return buf, nil
}

func computeHash(parentHash, eventType string, data []byte, timestampMS uint64) (string, error) {
	b, err := canonicalBytes(parentHash, eventType, data, timestampMS)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:]), nil
}

// Append computes the next event's hash from the current head, persists it,
// advances the head, and fans it out to subscribers (best-effort; see
// publish). It is synchronous from the caller's perspective, per spec.md
// §4.2, though it may block briefly on disk I/O when persist is true.
func (c *Chain) Append(eventType string, data []byte, description string) (types.ChainEvent, error) {
	now := uint64(time.Now().UnixMilli())
	hash, err := computeHash(c.head, eventType, data, now)
	if err != nil {
		return types.ChainEvent{}, err
	}

	event := types.ChainEvent{
		ParentHash:  c.head,
		Hash:        hash,
		EventType:   eventType,
		Data:        data,
		TimestampMS: now,
		Description: description,
	}

	if c.persist {
		if err := c.writeEvent(event); err != nil {
			return types.ChainEvent{}, err
		}
		if err := c.writeHead(hash); err != nil {
			return types.ChainEvent{}, err
		}
	}

	c.events[hash] = event
	c.head = hash
	c.publish(event)
	metrics.ChainEventsAppendedTotal.Inc()
	return event, nil
}

// ReadFull walks the chain backward from head via ParentHash until it
// reaches a root event (ParentHash == ""), verifying parent-link integrity
// at each step, and returns the events in forward (append) order.
func (c *Chain) ReadFull() ([]types.ChainEvent, error) {
	var reversed []types.ChainEvent

	cursor := c.head
	for cursor != "" {
		event, ok := c.events[cursor]
		if !ok {
			return nil, fmt.Errorf("%w: chain corrupt: event %s not found", theatererr.ErrStore, cursor)
		}
		if event.Hash != cursor {
			return nil, fmt.Errorf("%w: chain corrupt: event at %s has mismatched hash %s", theatererr.ErrStore, cursor, event.Hash)
		}
		reversed = append(reversed, event)
		cursor = event.ParentHash
	}

	forward := make([]types.ChainEvent, len(reversed))
	for i, e := range reversed {
		forward[len(reversed)-1-i] = e
	}
	return forward, nil
}

// Subscribe registers a new subscriber with the given bounded capacity and
// returns its id and receive-only channel. Added subscribers do not receive
// historical events (spec.md §4.3); use ReadFull for that. The channel
// holds up to capacity events plus one reserved slot for a terminal
// delivery.
func (c *Chain) Subscribe(capacity int) (uint64, <-chan Delivery) {
	id := c.nextID
	c.nextID++
	sub := &subscription{ch: make(chan Delivery, capacity+1)}
	c.subs[id] = sub
	return id, sub.ch
}

// Unsubscribe removes and closes a subscriber's channel.
func (c *Chain) Unsubscribe(id uint64) {
	sub, ok := c.subs[id]
	if !ok {
		return
	}
	delete(c.subs, id)
	close(sub.ch)
}

// publish fans event out to every current subscriber without blocking the
// caller: a subscriber whose queue is full is dropped (sent a terminal
// error first, into the slot Subscribe reserves for it) rather than allowed
// to stall the chain writer (spec.md §4.3, §5 backpressure).
func (c *Chain) publish(event types.ChainEvent) {
	for id, sub := range c.subs {
		if len(sub.ch) < cap(sub.ch)-1 {
			sub.ch <- Delivery{Event: event}
			continue
		}
		sub.ch <- Delivery{Err: fmt.Errorf("%w: subscriber queue full, dropped", theatererr.ErrInternal)}
		close(sub.ch)
		delete(c.subs, id)
	}
}

// Terminate delivers a terminal ActorStopped signal to every subscriber and
// closes their channels (spec.md §4.3).
func (c *Chain) Terminate() {
	for id, sub := range c.subs {
		select {
		case sub.ch <- Delivery{Closed: true}:
		default:
		}
		close(sub.ch)
		delete(c.subs, id)
	}
}

func (c *Chain) eventPath(hash string) string {
	return filepath.Join(c.dir, "events", hash)
}

func (c *Chain) headPath() string {
	return filepath.Join(c.dir, "chains", c.actorID.String())
}

func (c *Chain) writeEvent(event types.ChainEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: marshal event: %v", theatererr.ErrSerialization, err)
	}
	path := c.eventPath(event.Hash)
	if _, err := os.Stat(path); err == nil {
		return nil // content-addressed: identical hash already written
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("%w: write event %s: %v", theatererr.ErrStore, event.Hash, err)
	}
	return nil
}

func (c *Chain) writeHead(hash string) error {
	if err := os.WriteFile(c.headPath(), []byte(hash), 0o644); err != nil {
		return fmt.Errorf("%w: write chain head: %v", theatererr.ErrStore, err)
	}
	return nil
}

func (c *Chain) loadHead() (string, error) {
	b, err := os.ReadFile(c.headPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("%w: read chain head: %v", theatererr.ErrStore, err)
	}
	return string(b), nil
}

// reloadFromDisk reads every event back from head to root so a restarted
// actor with save_chain=true can resume with read_full_chain available.
func (c *Chain) reloadFromDisk(head string) error {
	cursor := head
	for cursor != "" {
		b, err := os.ReadFile(c.eventPath(cursor))
		if err != nil {
			return fmt.Errorf("%w: chain corrupt: event %s not found on disk: %v", theatererr.ErrStore, cursor, err)
		}
		var event types.ChainEvent
		if err := json.Unmarshal(b, &event); err != nil {
			return fmt.Errorf("%w: unmarshal event %s: %v", theatererr.ErrSerialization, cursor, err)
		}
		c.events[cursor] = event
		cursor = event.ParentHash
	}
	c.head = head
	return nil
}
