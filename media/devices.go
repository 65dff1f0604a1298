package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// CaptureTrack is a local media track backed by a capture device. Closing it
// releases the device.
type CaptureTrack interface {
	// Track returns the engine-level track to attach to the connection.
	Track() webrtc.TrackLocal

	// Close stops capture and releases the underlying device.
	Close() error
}

// DeviceSource opens local capture devices. The microphone and camera are
// exclusive resources: a device opened for one call must be closed before
// another call can open it.
type DeviceSource interface {
	OpenMicrophone() (CaptureTrack, error)
	OpenCamera() (CaptureTrack, error)
}

// StaticSource is a DeviceSource producing sample-fed pion tracks. Frame
// producers (capture pipelines, file playback) push encoded samples into the
// returned tracks; the source itself performs no capture, which keeps the
// package free of platform capture dependencies.
type StaticSource struct {
	streamID string
}

// NewStaticSource creates a source whose tracks share the given stream id.
func NewStaticSource(streamID string) *StaticSource {
	if streamID == "" {
		streamID = "peercall"
	}
	return &StaticSource{streamID: streamID}
}

// OpenMicrophone creates an Opus audio track.
func (s *StaticSource) OpenMicrophone() (CaptureTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", s.streamID)
	if err != nil {
		return nil, err
	}
	return &staticTrack{track: track}, nil
}

// OpenCamera creates a VP8 video track.
func (s *StaticSource) OpenCamera() (CaptureTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}, "video", s.streamID)
	if err != nil {
		return nil, err
	}
	return &staticTrack{track: track}, nil
}

type staticTrack struct {
	track *webrtc.TrackLocalStaticSample

	mu     sync.Mutex
	closed bool
}

func (t *staticTrack) Track() webrtc.TrackLocal {
	return t.track
}

func (t *staticTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
