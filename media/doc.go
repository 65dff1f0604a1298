// Package media abstracts the media engine that performs the actual
// offer/answer negotiation and transports audio/video between peers.
//
// The call core talks to an [Engine]: one engine instance corresponds to one
// peer connection and lives for exactly one call attempt. The production
// implementation, [WebRTCEngine], is built on pion/webrtc; tests substitute
// lightweight fakes.
//
// Local capture devices (microphone, camera) are modeled by [DeviceSource].
// Opening a device acquires an exclusive external resource, so every open is
// paired with a release during call cleanup.
package media
