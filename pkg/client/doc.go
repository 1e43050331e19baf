/*
Package client provides a Go client library for the Theater External
Management Surface.

The client package wraps pkg/management's streamed-JSON-frame protocol with
a convenient, idiomatic Go interface. It handles connection management, mTLS
authentication, error handling, and provides type-safe methods for every
actor, messaging, channel, and content-store operation the surface exposes.

# Architecture

	┌──────────────────── APPLICATION CODE ──────────────────────┐
	│                                                              │
	│  import "github.com/cuemby/theater/pkg/client"               │
	│                                                              │
	│  c, err := client.NewClient("runtime:9876")                 │
	│  id, err := c.Spawn(ctx, manifest, initParams, nil)          │
	│                                                              │
	└──────────────────┬───────────────────────────────────────┘
	                   │
	┌──────────────────▼──── pkg/client ─────────────────────────┐
	│                                                              │
	│  ┌──────────────────────────────────────────────┐          │
	│  │           Client Wrapper                      │          │
	│  │  - One method per Surface operation            │          │
	│  │  - Request/response correlation by frame ID     │          │
	│  │  - Typed errors (theatererr.ManagementError)    │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │         net.Conn / tls.Conn                    │          │
	│  │  - mTLS certificate authentication             │          │
	│  │  - Streamed JSON frames (no protobuf stubs)    │          │
	│  └──────────────────┬───────────────────────────┘          │
	└─────────────────────┼────────────────────────────────────┘
	                      │ TCP
	                      ▼
	              management.Server

# Core Features

Connection Management:
  - A single goroutine reads frames and demultiplexes responses from pushes
  - Graceful connection shutdown via Close
  - In-flight calls fail fast once the connection drops

Certificate Management:
  - Load an existing client certificate and CA from disk (NewClientWithCert)
  - Plain, unauthenticated dialing for local/dev use (NewClient)

Type Safety:
  - Go structs instead of raw JSON envelopes
  - Compile-time safety for every Surface operation
  - IDE autocomplete support

Error Handling:
  - Typed errors via theatererr.ManagementError
  - Kind-based switches instead of string matching

# Usage

Creating a Client (plain TCP, local development):

	import (
		"log"
		"github.com/cuemby/theater/pkg/client"
	)

	c, err := client.NewClient("127.0.0.1:9876")
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

Creating a Client (mTLS):

	c, err := client.NewClientWithCert("runtime.internal:9876", certDir)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

# Actor Operations

Spawning an actor:

	id, err := c.Spawn(ctx, manifest, initParams, nil)
	if err != nil {
		log.Fatal(err)
	}

Fetching status, state, events, metrics, manifest:

	status, err := c.GetActorStatus(ctx, id)
	state, err := c.GetActorState(ctx, id)
	events, err := c.GetActorEvents(ctx, id)
	metrics, err := c.GetActorMetrics(ctx, id)
	manifest, err := c.GetActorManifest(ctx, id)

Stopping, terminating, restarting, updating:

	err := c.Stop(ctx, id)
	err := c.Terminate(ctx, id)
	newID, err := c.Restart(ctx, id)
	newID, err := c.UpdateComponent(ctx, id, newComponent)

# Messaging and Channels

	err := c.SendMessage(ctx, types.ExternalParticipant, target, payload)
	reply, err := c.Request(ctx, types.ExternalParticipant, target, payload)

	cid, err := c.OpenChannel(ctx, types.ExternalParticipant, target, firstMsg)
	err = c.SendOnChannel(ctx, cid, types.ExternalParticipant, payload)
	err = c.CloseChannel(ctx, cid, types.ExternalParticipant)

Inbound channel opens, subscribed chain events, and watched supervisor
events all arrive asynchronously on Client.Pushes — drain that channel from
a dedicated goroutine:

	go func() {
		for ev := range c.Pushes {
			switch ev.Kind {
			case management.PushChannelOpenRequest:
				_ = c.DecideChannelOpen(ctx, ev.OpenID, true, nil)
			case management.PushChainEvent:
				// handle a subscribed chain event
			}
		}
	}()

# Content Store Operations

	ref, err := c.StorePut(ctx, content)
	content, err := c.StoreGet(ctx, ref)
	exists, err := c.StoreExists(ctx, ref)

	err = c.StoreLabel(ctx, label, ref)
	ref, err = c.StoreAtLabel(ctx, label, content)
	ref, err = c.ReplaceContentAtLabel(ctx, label, newContent)
	ref, found, err := c.GetByLabel(ctx, label)
	err = c.RemoveLabel(ctx, label)
	labels, err := c.ListLabels(ctx)

# Error Handling

Errors returned from Client methods are *theatererr.ManagementError when
they originate from the runtime, and plain errors for local/transport
failures (dial failures, context deadlines, connection loss):

	_, err := c.GetActorStatus(ctx, id)
	var mgmtErr *theatererr.ManagementError
	if errors.As(err, &mgmtErr) {
		switch mgmtErr.Kind {
		case theatererr.KindActorNotFound:
			// spawn it again
		case theatererr.KindPermissionDenied:
			// surface to the caller
		}
	}

# Timeouts

Every method applies DefaultCallTimeout (10s) unless the passed context
already carries a deadline, mirroring the one-call-one-timeout convention
used throughout the runtime's own internals.

# Thread Safety

Client is safe for concurrent use: writes are serialized internally, and
responses are correlated by frame ID so concurrent callers never see each
other's replies.

# See Also

  - pkg/management for the server-side Surface implementation
  - pkg/theatererr for the typed error vocabulary
  - pkg/security for certificate management
  - cmd/theaterd for server and CLI usage examples
*/
package client
