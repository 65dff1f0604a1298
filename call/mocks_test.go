package call

import (
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/peercall/media"
	"github.com/opd-ai/peercall/signaling"
)

// fakeClock drives watchdog timers deterministically. Advance fires due
// timers on the calling goroutine in scheduling order.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &fakeTimer{clock: c, at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, timer)
	return timer
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	deadline := c.now
	var due []*fakeTimer
	for _, timer := range c.timers {
		if !timer.stopped && !timer.fired && !timer.at.After(deadline) {
			timer.fired = true
			due = append(due, timer)
		}
	}
	c.mu.Unlock()

	for _, timer := range due {
		timer.fn()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// fakeEngine is a scriptable media.Engine. Emit helpers deliver callbacks the
// way a real engine would, from an arbitrary goroutine.
type fakeEngine struct {
	mu sync.Mutex

	sdpSeq      int
	offers      []signaling.SessionDescription
	answers     []signaling.SessionDescription
	restarts    int
	localDescs  []signaling.SessionDescription
	remoteDescs []signaling.SessionDescription
	candidates  []signaling.IceCandidate

	attachCalls  int
	attachAudio  bool
	attachVideo  bool
	releaseCount int
	closed       bool

	audioEnabled bool
	videoEnabled bool
	state        media.ICEConnectionState

	candidateFn func(signaling.IceCandidate)
	stateFn     func(media.ICEConnectionState)

	failCreateOffer  error
	failCreateAnswer error
	failSetRemote    error
	failAttach       error
	failAddCandidate error
}

var _ media.Engine = (*fakeEngine)(nil)

func newFakeEngine() *fakeEngine {
	return &fakeEngine{audioEnabled: true, videoEnabled: true}
}

func (e *fakeEngine) factory() media.EngineFactory {
	return func() (media.Engine, error) { return e, nil }
}

func (e *fakeEngine) CreateOffer(iceRestart bool) (signaling.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failCreateOffer != nil {
		return signaling.SessionDescription{}, e.failCreateOffer
	}
	e.sdpSeq++
	if iceRestart {
		e.restarts++
	}
	desc := signaling.SessionDescription{Type: "offer", SDP: fmt.Sprintf("offer-%d", e.sdpSeq)}
	e.offers = append(e.offers, desc)
	return desc, nil
}

func (e *fakeEngine) CreateAnswer() (signaling.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failCreateAnswer != nil {
		return signaling.SessionDescription{}, e.failCreateAnswer
	}
	e.sdpSeq++
	desc := signaling.SessionDescription{Type: "answer", SDP: fmt.Sprintf("answer-%d", e.sdpSeq)}
	e.answers = append(e.answers, desc)
	return desc, nil
}

func (e *fakeEngine) SetLocalDescription(desc signaling.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.localDescs = append(e.localDescs, desc)
	return nil
}

func (e *fakeEngine) SetRemoteDescription(desc signaling.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failSetRemote != nil {
		return e.failSetRemote
	}
	e.remoteDescs = append(e.remoteDescs, desc)
	return nil
}

func (e *fakeEngine) AddICECandidate(c signaling.IceCandidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failAddCandidate != nil {
		return e.failAddCandidate
	}
	e.candidates = append(e.candidates, c)
	return nil
}

func (e *fakeEngine) AttachLocalMedia(audio, video bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failAttach != nil {
		return e.failAttach
	}
	e.attachCalls++
	e.attachAudio = audio
	e.attachVideo = video
	return nil
}

func (e *fakeEngine) ReleaseLocalMedia() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releaseCount++
}

func (e *fakeEngine) SetAudioEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audioEnabled = enabled
}

func (e *fakeEngine) SetVideoEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.videoEnabled = enabled
}

func (e *fakeEngine) ConnectionState() media.ICEConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *fakeEngine) OnICECandidate(fn func(signaling.IceCandidate)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidateFn = fn
}

func (e *fakeEngine) OnConnectionStateChange(fn func(media.ICEConnectionState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stateFn = fn
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) emitCandidate(c signaling.IceCandidate) {
	e.mu.Lock()
	fn := e.candidateFn
	e.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (e *fakeEngine) emitState(state media.ICEConnectionState) {
	e.mu.Lock()
	e.state = state
	fn := e.stateFn
	e.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (e *fakeEngine) appliedCandidates() []signaling.IceCandidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]signaling.IceCandidate(nil), e.candidates...)
}

func (e *fakeEngine) remoteDescriptions() []signaling.SessionDescription {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]signaling.SessionDescription(nil), e.remoteDescs...)
}

func (e *fakeEngine) released() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.releaseCount
}

func (e *fakeEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *fakeEngine) restartCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restarts
}
