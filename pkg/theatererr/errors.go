// Package theatererr defines the sentinel error taxonomy used at the
// boundary between internal packages and the External Management Surface.
// Internal packages return plain wrapped errors (fmt.Errorf("...: %w", err));
// only the management surface's encoding layer needs to map an error back to
// one of these kinds to produce a typed ManagementError on the wire.
package theatererr

import "errors"

// Sentinel errors. Use errors.Is against these; wrap with fmt.Errorf("%w: ...")
// to add context without losing the kind.
var (
	ErrActorNotFound      = errors.New("actor not found")
	ErrActorAlreadyExists = errors.New("actor already exists")
	ErrActorNotRunning    = errors.New("actor not running")
	ErrActor              = errors.New("actor error")
	ErrChannelNotFound    = errors.New("channel not found")
	ErrChannelClosed      = errors.New("channel closed")
	ErrChannelRejected    = errors.New("channel rejected")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrStore              = errors.New("store error")
	ErrTimeout            = errors.New("timeout")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrRuntime            = errors.New("runtime error")
	ErrSerialization      = errors.New("serialization error")
	ErrInternal           = errors.New("internal error")
)

// Kind identifies which ManagementError variant (spec §6) an error maps to.
type Kind string

const (
	KindActorNotFound      Kind = "ActorNotFound"
	KindActorAlreadyExists Kind = "ActorAlreadyExists"
	KindActorNotRunning    Kind = "ActorNotRunning"
	KindActorError         Kind = "ActorError"
	KindChannelNotFound    Kind = "ChannelNotFound"
	KindChannelClosed      Kind = "ChannelClosed"
	KindChannelRejected    Kind = "ChannelRejected"
	KindPermissionDenied   Kind = "PermissionDenied"
	KindStoreError         Kind = "StoreError"
	KindTimeout            Kind = "Timeout"
	KindInvalidRequest     Kind = "InvalidRequest"
	KindRuntimeError       Kind = "RuntimeError"
	KindSerializationError Kind = "SerializationError"
	KindInternalError      Kind = "InternalError"
)

var sentinelKind = map[error]Kind{
	ErrActorNotFound:      KindActorNotFound,
	ErrActorAlreadyExists: KindActorAlreadyExists,
	ErrActorNotRunning:    KindActorNotRunning,
	ErrActor:              KindActorError,
	ErrChannelNotFound:    KindChannelNotFound,
	ErrChannelClosed:      KindChannelClosed,
	ErrChannelRejected:    KindChannelRejected,
	ErrPermissionDenied:   KindPermissionDenied,
	ErrStore:              KindStoreError,
	ErrTimeout:            KindTimeout,
	ErrInvalidRequest:     KindInvalidRequest,
	ErrRuntime:            KindRuntimeError,
	ErrSerialization:      KindSerializationError,
	ErrInternal:           KindInternalError,
}

// ClassifyKind maps an error to its ManagementError kind by walking the
// errors.Is chain against the known sentinels. Unrecognized errors classify
// as InternalError, matching spec.md §7's "stringified errors are permitted
// only at the outermost boundary."
func ClassifyKind(err error) Kind {
	if err == nil {
		return ""
	}
	for sentinel, kind := range sentinelKind {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternalError
}

// ManagementError is the typed error returned across the External Management
// Surface boundary (spec.md §6).
type ManagementError struct {
	Kind    Kind
	Message string
}

func (e *ManagementError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// ToManagementError classifies err and wraps it for wire transport.
func ToManagementError(err error) *ManagementError {
	if err == nil {
		return nil
	}
	return &ManagementError{Kind: ClassifyKind(err), Message: err.Error()}
}
