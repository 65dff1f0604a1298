package call

import (
	"fmt"
	"time"

	"github.com/opd-ai/peercall/signaling"
)

// Defaults for watchdog timing and retry policy.
const (
	// DefaultNoAnswerTimeout is how long an outgoing call may ring before it
	// is marked missed.
	DefaultNoAnswerTimeout = 60 * time.Second

	// DefaultMaxConnectionRetries bounds ICE restart attempts after a
	// connectivity failure.
	DefaultMaxConnectionRetries = 3

	// DefaultDisconnectGrace is how long a disconnected state may persist
	// before it is treated as a failure candidate.
	DefaultDisconnectGrace = 5 * time.Second

	// DefaultEventQueueSize bounds the session's internal event queue.
	DefaultEventQueueSize = 64
)

// Config controls session timing and retry behavior. The zero value is
// usable; unset fields are normalized to the defaults above.
type Config struct {
	// NoAnswerTimeout is the ringing window before failed("timeout").
	NoAnswerTimeout time.Duration

	// MaxConnectionRetries is the ICE restart budget per call attempt.
	MaxConnectionRetries int

	// DisconnectGrace shields transient network blips from being treated as
	// terminal failures.
	DisconnectGrace time.Duration

	// EventQueueSize is the capacity of the serialized event queue.
	EventQueueSize int

	// Clock overrides time and timer creation, for deterministic tests.
	Clock Clock
}

func (c Config) withDefaults() Config {
	out := c
	if out.NoAnswerTimeout <= 0 {
		out.NoAnswerTimeout = DefaultNoAnswerTimeout
	}
	if out.MaxConnectionRetries <= 0 {
		out.MaxConnectionRetries = DefaultMaxConnectionRetries
	}
	if out.DisconnectGrace <= 0 {
		out.DisconnectGrace = DefaultDisconnectGrace
	}
	if out.EventQueueSize <= 0 {
		out.EventQueueSize = DefaultEventQueueSize
	}
	if out.Clock == nil {
		out.Clock = SystemClock{}
	}
	return out
}

// Identity is the local endpoint identity used to author signaling writes.
type Identity struct {
	// UserID is the opaque endpoint identifier; calls cannot be placed or
	// answered without it.
	UserID string

	// DisplayName is shown to the remote side as callerName.
	DisplayName string
}

// Resolver maps an endpoint identifier to its signaling inbox path. A lookup
// that fails must return an error; there is deliberately no fallback to a
// previously paired identity, which could route a call to a stale recipient.
type Resolver interface {
	Inbox(userID string) (string, error)
}

// StaticResolver resolves identifiers directly to the canonical store layout.
type StaticResolver struct{}

func (StaticResolver) Inbox(userID string) (string, error) {
	return inboxPathFor(userID)
}

func inboxPathFor(userID string) (string, error) {
	path, err := signaling.InboxPath(userID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUserUnreachable, err)
	}
	return path, nil
}
