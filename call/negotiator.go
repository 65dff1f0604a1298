package call

import (
	"fmt"
	"sync"

	"github.com/opd-ai/peercall/media"
	"github.com/opd-ai/peercall/signaling"
)

// Negotiator owns SDP negotiation against the media engine for one call
// attempt: it creates offers and answers, applies local and remote
// descriptions in the required order, and feeds remote candidates through
// the CandidateBuffer so none reach the engine before the remote description.
type Negotiator struct {
	mu        sync.Mutex
	engine    media.Engine
	buffer    *CandidateBuffer
	hasLocal  bool
	hasRemote bool
}

// NewNegotiator wraps engine. The returned negotiator and its buffer are
// discarded with the engine when the call attempt ends.
func NewNegotiator(engine media.Engine) *Negotiator {
	n := &Negotiator{engine: engine}
	n.buffer = NewCandidateBuffer(engine.AddICECandidate)
	return n
}

// Buffer exposes the candidate buffer for cleanup.
func (n *Negotiator) Buffer() *CandidateBuffer {
	return n.buffer
}

// CreateOffer produces a local offer and applies it as the local
// description.
func (n *Negotiator) CreateOffer() (signaling.SessionDescription, error) {
	return n.offer(false)
}

// RestartIce produces a renegotiated offer carrying the ICE restart flag and
// applies it locally. Used only by the watchdog after a connectivity
// failure; it must not reset connected media.
func (n *Negotiator) RestartIce() (signaling.SessionDescription, error) {
	return n.offer(true)
}

func (n *Negotiator) offer(iceRestart bool) (signaling.SessionDescription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	desc, err := n.engine.CreateOffer(iceRestart)
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	if err := n.engine.SetLocalDescription(desc); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	n.hasLocal = true
	return desc, nil
}

// CreateAnswer produces a local answer to the applied remote offer and sets
// it as the local description.
func (n *Negotiator) CreateAnswer() (signaling.SessionDescription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.hasRemote {
		return signaling.SessionDescription{}, fmt.Errorf("%w: no remote offer applied", ErrNegotiation)
	}
	desc, err := n.engine.CreateAnswer()
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	if err := n.engine.SetLocalDescription(desc); err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	n.hasLocal = true
	return desc, nil
}

// SetRemoteDescription applies the peer's description. The first successful
// application unlocks the candidate buffer and drains it. A second
// application is permitted only as part of an ICE restart renegotiation.
func (n *Negotiator) SetRemoteDescription(desc signaling.SessionDescription) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.engine.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	first := !n.hasRemote
	n.hasRemote = true
	if first {
		if err := n.buffer.RemoteDescriptionSet(); err != nil {
			return fmt.Errorf("%w: %v", ErrNegotiation, err)
		}
	}
	return nil
}

// AddRemoteCandidate routes a remote candidate through the buffer.
func (n *Negotiator) AddRemoteCandidate(c signaling.IceCandidate) error {
	return n.buffer.Offer(c)
}

// AttachLocalMedia acquires devices and attaches tracks on the engine.
func (n *Negotiator) AttachLocalMedia(audio, video bool) error {
	if err := n.engine.AttachLocalMedia(audio, video); err != nil {
		return fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	return nil
}

// HasRemoteDescription reports whether a remote description is applied.
func (n *Negotiator) HasRemoteDescription() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hasRemote
}
