package signaling

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound indicates no value exists at the requested path.
var ErrNotFound = errors.New("no value at path")

// ErrMalformedPayload indicates a payload at the boundary failed validation.
var ErrMalformedPayload = errors.New("malformed signaling payload")

// TransportError wraps a failure of the underlying store. Operations against
// the store never fail silently; every read, write, or subscribe failure is
// reported as a *TransportError so callers can classify it with errors.As.
type TransportError struct {
	Op   string // "write", "read", "subscribe", "decode"
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("signaling %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError builds a TransportError for the given operation and path.
func NewTransportError(op, path string, err error) *TransportError {
	return &TransportError{Op: op, Path: path, Err: err}
}

// ChildHandler receives child events under a subscribed path. The key is the
// child's final path segment; the payload is the child's raw value.
type ChildHandler func(key string, payload []byte)

// ValueHandler receives the raw value written at a subscribed path.
type ValueHandler func(payload []byte)

// Subscription is a handle to an active subscription. Unsubscribe is
// idempotent; after it returns, the handler receives no further events.
type Subscription interface {
	Unsubscribe()
}

// Channel is the transport abstraction over the remote tree-structured store.
//
// Required semantics:
//   - Write creates or replaces the value at path and registers the path as a
//     child of its parent on first write.
//   - Child-added events for a given parent are delivered in per-path
//     insertion order, and a new child-added subscription first replays the
//     children that already exist, in insertion order, before live events.
//   - Delivery is at-least-once; handlers must tolerate duplicates.
//   - Subscriptions that cannot be established fail at call time rather than
//     silently dropping events.
//
// Channel carries no call semantics; it is pure transport.
type Channel interface {
	// Write stores payload at path.
	Write(ctx context.Context, path string, payload []byte) error

	// Read returns the payload at path, or ErrNotFound (wrapped in a
	// *TransportError) if nothing has been written there.
	Read(ctx context.Context, path string) ([]byte, error)

	// SubscribeChildAdded delivers every existing child of path followed by
	// each newly created child.
	SubscribeChildAdded(path string, handler ChildHandler) (Subscription, error)

	// SubscribeChildChanged delivers rewrites of existing children of path.
	SubscribeChildChanged(path string, handler ChildHandler) (Subscription, error)

	// SubscribeValue delivers every write to path itself.
	SubscribeValue(path string, handler ValueHandler) (Subscription, error)
}
