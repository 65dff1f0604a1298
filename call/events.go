package call

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peercall/media"
	"github.com/opd-ai/peercall/signaling"
)

// eventKind discriminates the typed events flowing through the session's
// single-consumer queue. Store notifications, media engine callbacks, and
// watchdog timer firings all arrive on foreign goroutines and are serialized
// here before touching session state.
type eventKind int

const (
	evRecordUpdate eventKind = iota
	evRemoteCandidate
	evLocalCandidate
	evICEState
	evNoAnswerTimer
	evGraceTimer
)

func (k eventKind) String() string {
	switch k {
	case evRecordUpdate:
		return "record_update"
	case evRemoteCandidate:
		return "remote_candidate"
	case evLocalCandidate:
		return "local_candidate"
	case evICEState:
		return "ice_state"
	case evNoAnswerTimer:
		return "no_answer_timer"
	case evGraceTimer:
		return "grace_timer"
	}
	return "unknown"
}

// sessionEvent carries one asynchronous input. The epoch pins the event to
// the call attempt it was produced for; events from a finished attempt are
// discarded by the pump.
type sessionEvent struct {
	kind  eventKind
	epoch uint64

	payload   []byte // evRecordUpdate: raw record payload
	childKey  string // evRemoteCandidate: store child key, used for dedupe
	candidate signaling.IceCandidate
	iceState  media.ICEConnectionState
	timerGen  uint64 // watchdog timer generation
}

// postEvent enqueues without blocking. The queue is sized so drops only
// occur under pathological load; a dropped event is logged rather than
// allowed to deadlock a caller that holds the session mutex.
func (s *Session) postEvent(ev sessionEvent) {
	select {
	case s.events <- ev:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "postEvent",
			"kind":     ev.kind.String(),
		}).Warn("session event queue full, dropping event")
	}
}

// pump is the session's serialized execution context. It owns the order in
// which asynchronous inputs are applied and exits when the session closes.
func (s *Session) pump() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

func (s *Session) handleEvent(ev sessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.epoch != s.epoch.Load() {
		return
	}
	if s.record == nil {
		return
	}

	switch ev.kind {
	case evRecordUpdate:
		s.handleRecordUpdateLocked(ev.payload)
	case evRemoteCandidate:
		s.handleRemoteCandidateLocked(ev.childKey, ev.candidate)
	case evLocalCandidate:
		s.handleLocalCandidateLocked(ev.candidate)
	case evICEState:
		s.watchdog.HandleICEState(ev.iceState)
	case evNoAnswerTimer:
		s.watchdog.HandleNoAnswerTimer(ev.timerGen)
	case evGraceTimer:
		s.watchdog.HandleGraceTimer(ev.timerGen)
	}
}
