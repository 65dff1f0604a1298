package call

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peercall/media"
)

// WatchdogHooks are the session actions the watchdog drives. Hooks are
// invoked on the session's serialized execution context; they must not block.
type WatchdogHooks struct {
	// OnNoAnswer fires when the ringing window elapses.
	OnNoAnswer func()

	// OnConnected fires when the media engine reports live connectivity.
	OnConnected func()

	// Restart requests an ICE restart renegotiation for the given attempt
	// number (1-based). Returning an error exhausts the budget immediately.
	Restart func(attempt int) error

	// OnGiveUp fires when the retry budget is exhausted.
	OnGiveUp func()

	// ConnectionState reports the engine's current connectivity, consulted
	// after the disconnect grace period.
	ConnectionState func() media.ICEConnectionState
}

// Watchdog monitors one call attempt: a no-answer timer for the ringing
// phase and an ICE health monitor with a bounded restart budget and a grace
// period for transient disconnects.
//
// The watchdog holds no lock of its own; the session serializes every method
// call. Timer callbacks do not act directly; they deliver their generation
// through the post function (onto the session's event queue), and the
// session routes them back into HandleNoAnswerTimer / HandleGraceTimer. A
// firing whose generation is stale is discarded, so a timer that outlives
// cleanup cannot revive terminal state.
type Watchdog struct {
	clock           Clock
	noAnswerTimeout time.Duration
	grace           time.Duration
	maxRetries      int
	hooks           WatchdogHooks
	postNoAnswer    func(gen uint64)
	postGrace       func(gen uint64)

	gen           uint64
	retries       int
	noAnswerTimer Timer
	graceTimer    Timer
}

// NewWatchdog creates a watchdog with the given timing policy. postNoAnswer
// and postGrace deliver timer firings back to the session's event queue.
func NewWatchdog(cfg Config, hooks WatchdogHooks, postNoAnswer, postGrace func(gen uint64)) *Watchdog {
	return &Watchdog{
		clock:           cfg.Clock,
		noAnswerTimeout: cfg.NoAnswerTimeout,
		grace:           cfg.DisconnectGrace,
		maxRetries:      cfg.MaxConnectionRetries,
		hooks:           hooks,
		postNoAnswer:    postNoAnswer,
		postGrace:       postGrace,
	}
}

// ArmNoAnswer starts the no-answer timer for the current generation.
func (w *Watchdog) ArmNoAnswer() {
	w.CancelNoAnswer()
	gen := w.gen
	w.noAnswerTimer = w.clock.AfterFunc(w.noAnswerTimeout, func() {
		w.postNoAnswer(gen)
	})
}

// CancelNoAnswer stops a pending no-answer timer.
func (w *Watchdog) CancelNoAnswer() {
	if w.noAnswerTimer != nil {
		w.noAnswerTimer.Stop()
		w.noAnswerTimer = nil
	}
}

// HandleNoAnswerTimer processes a delivered no-answer firing.
func (w *Watchdog) HandleNoAnswerTimer(gen uint64) {
	if gen != w.gen {
		return
	}
	w.noAnswerTimer = nil
	w.hooks.OnNoAnswer()
}

// HandleICEState reacts to a connectivity callback from the media engine.
func (w *Watchdog) HandleICEState(state media.ICEConnectionState) {
	switch {
	case state.Live():
		w.CancelNoAnswer()
		w.cancelGrace()
		w.retries = 0
		w.hooks.OnConnected()

	case state == media.ICEStateFailed:
		w.cancelGrace()
		w.attemptRestart()

	case state == media.ICEStateDisconnected:
		if w.graceTimer != nil {
			return
		}
		gen := w.gen
		w.graceTimer = w.clock.AfterFunc(w.grace, func() {
			w.postGrace(gen)
		})
	}
}

// HandleGraceTimer re-checks connectivity after the disconnect grace period
// and, if the connection has not recovered, enters the restart path.
func (w *Watchdog) HandleGraceTimer(gen uint64) {
	if gen != w.gen {
		return
	}
	w.graceTimer = nil
	if w.hooks.ConnectionState().Live() {
		return
	}
	w.attemptRestart()
}

func (w *Watchdog) attemptRestart() {
	if w.retries >= w.maxRetries {
		logrus.WithFields(logrus.Fields{
			"function": "attemptRestart",
			"retries":  w.retries,
		}).Warn("ICE restart budget exhausted")
		w.hooks.OnGiveUp()
		return
	}
	w.retries++
	attempt := w.retries
	logrus.WithFields(logrus.Fields{
		"function": "attemptRestart",
		"attempt":  attempt,
		"budget":   w.maxRetries,
	}).Info("attempting ICE restart")
	if err := w.hooks.Restart(attempt); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "attemptRestart",
			"attempt":  attempt,
			"error":    err.Error(),
		}).Error("ICE restart failed")
		w.hooks.OnGiveUp()
	}
}

// Retries returns the restart attempts consumed in this generation.
func (w *Watchdog) Retries() int {
	return w.retries
}

func (w *Watchdog) cancelGrace() {
	if w.graceTimer != nil {
		w.graceTimer.Stop()
		w.graceTimer = nil
	}
}

// Reset advances the generation (invalidating in-flight timer firings),
// cancels both timers, and zeroes the retry counter. Called on cleanup.
func (w *Watchdog) Reset() {
	w.gen++
	w.CancelNoAnswer()
	w.cancelGrace()
	w.retries = 0
}
