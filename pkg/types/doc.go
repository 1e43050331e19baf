/*
Package types defines the core data structures shared across Theater:
actor identity, content addressing, the event chain, channel state, and
the manifest that describes how an actor should be spawned.

# Core Types

Actor identity and lifecycle:
  - ActorID: opaque 128-bit actor identifier
  - ActorStatus / ActorPhase: Spawning, Running, Stopping, Stopped, Failed

Content addressing:
  - ContentRef: immutable reference to a byte blob by content hash
  - Label: mutable name resolving to at most one ContentRef

Event chain:
  - ChainEvent: one hash-linked record in an actor's append-only chain

Routing:
  - Participant: either a live actor or the external management surface
  - ChannelID / ChannelState: a bidirectional session between two participants

Manifest and capabilities:
  - Manifest: component reference, initial state, requested handlers
  - HandlerConfig / Permissions: per-handler capability grants
  - Secret / SecretRef: encrypted, non-chain-addressed sensitive data
*/
package types
