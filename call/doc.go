// Package call implements the peer-to-peer call signaling core: it
// establishes, maintains, and tears down audio/video calls between two
// endpoints by exchanging offers, answers, and ICE candidates through a
// remote store (the signaling.Channel).
//
// The package is organized around a few small components wired together by
// [Session], the per-call orchestrator:
//
//   - [StateMachine] holds the authoritative call state and transition table.
//   - [Negotiator] owns SDP offer/answer creation and description application
//     against the media engine.
//   - [CandidateBuffer] queues ICE candidates that arrive before the remote
//     description is applied and flushes them in arrival order.
//   - [Watchdog] runs the no-answer timer and the ICE health monitor with
//     bounded restart retries.
//
// A Session holds at most one active call. Signaling notifications and media
// engine callbacks arrive on foreign goroutines and are serialized through a
// single-consumer event queue; stale events from a finished call attempt are
// discarded by a generation counter that advances on every cleanup.
package call
