package chat

import "errors"

var (
	// ErrNetwork is returned when a backend call fails for a transient
	// reason. The operation left existing state intact and may be retried.
	ErrNetwork = errors.New("network failure")
	// ErrPermissionDenied is returned when the server rejects an operation
	// the user is not allowed to perform, such as delete-for-everyone on
	// someone else's message.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrValidation is returned when an input is rejected client-side
	// before any network call is made.
	ErrValidation = errors.New("invalid input")
	// ErrNotFound is returned when a message or room reference is stale.
	// Callers should treat it as a cue to force a full reload.
	ErrNotFound = errors.New("not found")
	// ErrSuperseded is returned by a load whose result was discarded
	// because the selection changed while the request was in flight.
	ErrSuperseded = errors.New("load superseded")
	// ErrUnknownMessage is returned when an operation references a local
	// message id that is not in the store.
	ErrUnknownMessage = errors.New("unknown message")
)
