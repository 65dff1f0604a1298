package call

import "errors"

// Sentinel errors for call operations. Classified with errors.Is; transport
// failures additionally carry path and operation context as
// *signaling.TransportError.

// Setup-phase errors, surfaced synchronously by the triggering operation.
var (
	// ErrNotAuthenticated indicates no local identity is configured.
	ErrNotAuthenticated = errors.New("no local identity")

	// ErrUserUnreachable indicates the callee could not be resolved to an
	// inbox path.
	ErrUserUnreachable = errors.New("user unreachable")

	// ErrCallNotFound indicates an answer or reject referenced a stale or
	// nonexistent call.
	ErrCallNotFound = errors.New("call not found")

	// ErrCallAlreadyActive indicates a call is already in progress on this
	// session; end it before starting another.
	ErrCallAlreadyActive = errors.New("call already active")

	// ErrNegotiation indicates the media engine could not produce or apply a
	// session description.
	ErrNegotiation = errors.New("media negotiation failed")
)

// Mid-call terminal conditions, surfaced through the failed state after
// local recovery is exhausted.
var (
	// ErrConnectionFailed indicates ICE connectivity failed and all restart
	// retries were exhausted.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrTimeout indicates the call was not answered within the configured
	// window.
	ErrTimeout = errors.New("timeout")
)

// Failure reasons recorded on the state machine when entering the failed
// state. These are observable strings, not errors.
const (
	FailureReasonTimeout          = "timeout"
	FailureReasonConnectionFailed = "connection failed"
	FailureReasonNegotiation      = "negotiation failed"
)
