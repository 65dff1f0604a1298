package media

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peercall/signaling"
)

// Compile-time interface check.
var _ Engine = (*WebRTCEngine)(nil)

// WebRTCEngine implements Engine on a pion PeerConnection. One engine wraps
// one PeerConnection and is discarded when the call attempt ends.
type WebRTCEngine struct {
	mu sync.Mutex
	pc *webrtc.PeerConnection

	devices DeviceSource

	micTrack    CaptureTrack
	cameraTrack CaptureTrack
	senders     []*webrtc.RTPSender

	audioEnabled bool
	videoEnabled bool
	closed       bool

	candidateFn func(signaling.IceCandidate)
	stateFn     func(ICEConnectionState)
}

// NewWebRTCEngine creates a PeerConnection configured with the given
// STUN/TURN servers. Devices supplies the capture tracks attached during
// negotiation; pass nil to use a StaticSource.
func NewWebRTCEngine(cfg ICEConfig, devices DeviceSource) (*WebRTCEngine, error) {
	if devices == nil {
		devices = NewStaticSource("")
	}

	servers := make([]webrtc.ICEServer, 0, len(cfg.STUNServers)+len(cfg.TURNServers))
	if len(cfg.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.STUNServers})
	}
	for _, turn := range cfg.TURNServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{turn.URL},
			Username:   turn.Username,
			Credential: turn.Credential,
		})
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	engine := &WebRTCEngine{
		pc:           pc,
		devices:      devices,
		audioEnabled: true,
		videoEnabled: true,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// End-of-candidates marker.
			return
		}
		engine.mu.Lock()
		fn := engine.candidateFn
		engine.mu.Unlock()
		if fn != nil {
			init := c.ToJSON()
			candidate := signaling.IceCandidate{
				Candidate: init.Candidate,
				SDPMid:    init.SDPMid,
			}
			if init.SDPMLineIndex != nil {
				candidate.SDPMLineIndex = *init.SDPMLineIndex
			}
			fn(candidate)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		mapped := mapICEState(state)
		logrus.WithFields(logrus.Fields{
			"function": "OnICEConnectionStateChange",
			"state":    mapped.String(),
		}).Debug("ICE connection state changed")
		engine.mu.Lock()
		fn := engine.stateFn
		engine.mu.Unlock()
		if fn != nil {
			fn(mapped)
		}
	})

	return engine, nil
}

// CreateOffer produces a local offer, renegotiating ICE when requested.
func (e *WebRTCEngine) CreateOffer(iceRestart bool) (signaling.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return signaling.SessionDescription{}, ErrEngineClosed
	}
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := e.pc.CreateOffer(opts)
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("creating offer: %w", err)
	}
	return signaling.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// CreateAnswer produces a local answer to the applied remote offer.
func (e *WebRTCEngine) CreateAnswer() (signaling.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return signaling.SessionDescription{}, ErrEngineClosed
	}
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return signaling.SessionDescription{}, fmt.Errorf("creating answer: %w", err)
	}
	return signaling.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// SetLocalDescription applies a locally created description.
func (e *WebRTCEngine) SetLocalDescription(desc signaling.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if err := e.pc.SetLocalDescription(toPionDescription(desc)); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	return nil
}

// SetRemoteDescription applies the peer's description.
func (e *WebRTCEngine) SetRemoteDescription(desc signaling.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if err := e.pc.SetRemoteDescription(toPionDescription(desc)); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	return nil
}

// AddICECandidate applies a remote candidate to the connection.
func (e *WebRTCEngine) AddICECandidate(c signaling.IceCandidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	lineIndex := c.SDPMLineIndex
	init := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: &lineIndex,
	}
	if err := e.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("adding ICE candidate: %w", err)
	}
	return nil
}

// AttachLocalMedia opens capture devices and attaches their tracks. The
// engine always adds receive capability for both kinds, so an audio-only
// caller still receives the peer's video if offered.
func (e *WebRTCEngine) AttachLocalMedia(audio, video bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	if audio {
		mic, err := e.devices.OpenMicrophone()
		if err != nil {
			return fmt.Errorf("opening microphone: %w", err)
		}
		sender, err := e.pc.AddTrack(mic.Track())
		if err != nil {
			mic.Close()
			return fmt.Errorf("attaching audio track: %w", err)
		}
		e.micTrack = mic
		e.senders = append(e.senders, sender)
	} else if err := e.addRecvOnly(webrtc.RTPCodecTypeAudio); err != nil {
		return err
	}

	if video {
		camera, err := e.devices.OpenCamera()
		if err != nil {
			e.releaseLocked()
			return fmt.Errorf("opening camera: %w", err)
		}
		sender, err := e.pc.AddTrack(camera.Track())
		if err != nil {
			camera.Close()
			e.releaseLocked()
			return fmt.Errorf("attaching video track: %w", err)
		}
		e.cameraTrack = camera
		e.senders = append(e.senders, sender)
	} else if err := e.addRecvOnly(webrtc.RTPCodecTypeVideo); err != nil {
		return err
	}

	return nil
}

func (e *WebRTCEngine) addRecvOnly(kind webrtc.RTPCodecType) error {
	_, err := e.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return fmt.Errorf("adding %s receiver: %w", kind, err)
	}
	return nil
}

// ReleaseLocalMedia detaches senders and releases capture devices.
func (e *WebRTCEngine) ReleaseLocalMedia() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releaseLocked()
}

func (e *WebRTCEngine) releaseLocked() {
	if !e.closed {
		for _, sender := range e.senders {
			if err := e.pc.RemoveTrack(sender); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "ReleaseLocalMedia",
					"error":    err.Error(),
				}).Debug("removing track failed")
			}
		}
	}
	e.senders = nil
	if e.micTrack != nil {
		e.micTrack.Close()
		e.micTrack = nil
	}
	if e.cameraTrack != nil {
		e.cameraTrack.Close()
		e.cameraTrack = nil
	}
}

// SetAudioEnabled gates outgoing audio. The capture pipeline consults this
// flag when feeding samples.
func (e *WebRTCEngine) SetAudioEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audioEnabled = enabled
}

// SetVideoEnabled gates outgoing video.
func (e *WebRTCEngine) SetVideoEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.videoEnabled = enabled
}

// AudioEnabled reports whether outgoing audio is enabled.
func (e *WebRTCEngine) AudioEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.audioEnabled
}

// VideoEnabled reports whether outgoing video is enabled.
func (e *WebRTCEngine) VideoEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.videoEnabled
}

// ConnectionState returns the mapped ICE connection state.
func (e *WebRTCEngine) ConnectionState() ICEConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ICEStateClosed
	}
	return mapICEState(e.pc.ICEConnectionState())
}

// OnICECandidate registers the local candidate callback.
func (e *WebRTCEngine) OnICECandidate(fn func(signaling.IceCandidate)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidateFn = fn
}

// OnConnectionStateChange registers the connectivity callback.
func (e *WebRTCEngine) OnConnectionStateChange(fn func(ICEConnectionState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stateFn = fn
}

// Close releases media and tears down the PeerConnection. Idempotent.
func (e *WebRTCEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.releaseLocked()
	e.closed = true
	return e.pc.Close()
}

func toPionDescription(desc signaling.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	}
}

func mapICEState(state webrtc.ICEConnectionState) ICEConnectionState {
	switch state {
	case webrtc.ICEConnectionStateNew:
		return ICEStateNew
	case webrtc.ICEConnectionStateChecking:
		return ICEStateChecking
	case webrtc.ICEConnectionStateConnected:
		return ICEStateConnected
	case webrtc.ICEConnectionStateCompleted:
		return ICEStateCompleted
	case webrtc.ICEConnectionStateDisconnected:
		return ICEStateDisconnected
	case webrtc.ICEConnectionStateFailed:
		return ICEStateFailed
	case webrtc.ICEConnectionStateClosed:
		return ICEStateClosed
	}
	return ICEStateNew
}
