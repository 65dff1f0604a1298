package media

import (
	"errors"

	"github.com/opd-ai/peercall/signaling"
)

// ICEConnectionState mirrors the media engine's connectivity state for the
// single peer connection owned by a call attempt.
type ICEConnectionState int

const (
	ICEStateNew ICEConnectionState = iota
	ICEStateChecking
	ICEStateConnected
	ICEStateCompleted
	ICEStateDisconnected
	ICEStateFailed
	ICEStateClosed
)

// String returns the lowercase state name.
func (s ICEConnectionState) String() string {
	switch s {
	case ICEStateNew:
		return "new"
	case ICEStateChecking:
		return "checking"
	case ICEStateConnected:
		return "connected"
	case ICEStateCompleted:
		return "completed"
	case ICEStateDisconnected:
		return "disconnected"
	case ICEStateFailed:
		return "failed"
	case ICEStateClosed:
		return "closed"
	}
	return "unknown"
}

// Live reports whether the state carries media (connected or completed).
func (s ICEConnectionState) Live() bool {
	return s == ICEStateConnected || s == ICEStateCompleted
}

// ErrEngineClosed indicates an operation on an engine that has been closed.
var ErrEngineClosed = errors.New("media engine closed")

// TURNServer configures one TURN relay.
type TURNServer struct {
	URL        string
	Username   string
	Credential string
}

// ICEConfig configures client-side use of existing STUN/TURN infrastructure.
type ICEConfig struct {
	STUNServers []string
	TURNServers []TURNServer
}

// Engine is the per-call media engine. Descriptions and candidates cross the
// boundary as signaling payloads; everything engine-internal stays behind it.
//
// Callback registration (OnICECandidate, OnConnectionStateChange) must happen
// before negotiation begins. Callbacks fire on engine-internal goroutines;
// the call core serializes them onto its own event queue.
type Engine interface {
	// CreateOffer produces a local offer. With iceRestart set the offer
	// renegotiates candidates while preserving the session.
	CreateOffer(iceRestart bool) (signaling.SessionDescription, error)

	// CreateAnswer produces a local answer to a previously applied remote
	// offer.
	CreateAnswer() (signaling.SessionDescription, error)

	SetLocalDescription(desc signaling.SessionDescription) error
	SetRemoteDescription(desc signaling.SessionDescription) error

	// AddICECandidate applies a remote candidate. Callers must not invoke it
	// before the remote description has been set.
	AddICECandidate(c signaling.IceCandidate) error

	// AttachLocalMedia acquires capture devices and attaches the resulting
	// tracks to the connection. The engine always negotiates reception of
	// both audio and video regardless of what is sent.
	AttachLocalMedia(audio, video bool) error

	// ReleaseLocalMedia detaches and releases all capture devices. Safe to
	// call repeatedly.
	ReleaseLocalMedia()

	// SetAudioEnabled and SetVideoEnabled gate outgoing media without
	// renegotiation.
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)

	// ConnectionState returns the current ICE connectivity state.
	ConnectionState() ICEConnectionState

	OnICECandidate(fn func(signaling.IceCandidate))
	OnConnectionStateChange(fn func(ICEConnectionState))

	// Close tears down the peer connection. Idempotent.
	Close() error
}

// EngineFactory creates a fresh engine for one call attempt.
type EngineFactory func() (Engine, error)
