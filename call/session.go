package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peercall/media"
	"github.com/opd-ai/peercall/signaling"
)

type callRole int

const (
	roleNone callRole = iota
	roleCaller
	roleCallee
)

// Session orchestrates one call at a time: it wires the state machine,
// negotiator, candidate buffer, and watchdog together, exposes the public
// start/answer/reject/end surface, and guarantees resource cleanup on every
// terminal path.
//
// All mutations are serialized: public operations take the session mutex
// directly, and asynchronous inputs go through the event pump (events.go).
// The epoch counter advances on every cleanup so stale events and timers
// from a finished attempt cannot revive terminal state.
type Session struct {
	cfg           Config
	channel       signaling.Channel
	engineFactory media.EngineFactory
	identity      Identity
	resolver      Resolver
	log           *logrus.Entry

	epoch  atomic.Uint64
	events chan sessionEvent
	done   chan struct{}
	closed sync.Once

	mu         sync.Mutex
	machine    *StateMachine
	watchdog   *Watchdog
	negotiator *Negotiator
	engine     media.Engine
	record     *signaling.CallRecord
	role       callRole

	callPath            string
	localCandidatePath  string
	lastRemoteSDP       string
	seenCandidates      map[string]bool

	subs     []signaling.Subscription
	inboxSub signaling.Subscription

	muted       bool
	videoOn     bool
	lastFailure string

	stateCb func(state State, reason string)

	// incomingCb has its own lock: the inbox handler runs on store dispatch
	// goroutines and must not contend for the session mutex.
	cbMu       sync.Mutex
	incomingCb func(rec signaling.CallRecord)
}

// NewSession creates a session for the given identity. The engine factory is
// invoked once per call attempt; the resolver maps endpoint identifiers to
// inbox paths (StaticResolver when nil).
func NewSession(channel signaling.Channel, factory media.EngineFactory, identity Identity, resolver Resolver, cfg Config) (*Session, error) {
	if channel == nil {
		return nil, errors.New("signaling channel cannot be nil")
	}
	if factory == nil {
		return nil, errors.New("engine factory cannot be nil")
	}
	if resolver == nil {
		resolver = StaticResolver{}
	}
	cfg = cfg.withDefaults()

	s := &Session{
		cfg:      cfg,
		channel:  channel,
		identity: identity,
		resolver: resolver,
		log: logrus.WithFields(logrus.Fields{
			"component": "call.Session",
			"user_id":   identity.UserID,
		}),
		engineFactory: factory,
		events:        make(chan sessionEvent, cfg.EventQueueSize),
		done:          make(chan struct{}),
		machine:       NewStateMachine(),
	}
	s.watchdog = NewWatchdog(cfg, WatchdogHooks{
		OnNoAnswer:      s.onNoAnswerLocked,
		OnConnected:     s.onConnectedLocked,
		Restart:         s.onRestartLocked,
		OnGiveUp:        s.onGiveUpLocked,
		ConnectionState: s.engineStateLocked,
	}, s.postTimer(evNoAnswerTimer), s.postTimer(evGraceTimer))

	go s.pump()
	return s, nil
}

func (s *Session) postTimer(kind eventKind) func(gen uint64) {
	return func(gen uint64) {
		s.postEvent(sessionEvent{kind: kind, epoch: s.epoch.Load(), timerGen: gen})
	}
}

// StartCall constructs the call record, sends the offer to the callee's
// inbox, subscribes to the answer and candidate paths, and arms the
// no-answer timer. It returns the generated call id.
func (s *Session) StartCall(ctx context.Context, calleeID string, callType signaling.CallType) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identity.UserID == "" {
		return "", ErrNotAuthenticated
	}
	if s.record != nil {
		return "", ErrCallAlreadyActive
	}
	if !callType.Valid() {
		return "", fmt.Errorf("%w: unknown call type %q", ErrNegotiation, callType)
	}

	inbox, err := s.resolver.Inbox(calleeID)
	if err != nil {
		if errors.Is(err, ErrUserUnreachable) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrUserUnreachable, err)
	}

	if _, err := s.machine.Transition(EventStart); err != nil {
		return "", err
	}
	s.lastFailure = ""
	epoch := s.epoch.Add(1)

	if err := s.setupEngineLocked(epoch); err != nil {
		s.abortSetupLocked()
		return "", err
	}
	if err := s.negotiator.AttachLocalMedia(true, callType == signaling.CallTypeVideo); err != nil {
		s.abortSetupLocked()
		return "", err
	}

	offer, err := s.negotiator.CreateOffer()
	if err != nil {
		s.abortSetupLocked()
		return "", err
	}

	callID := uuid.NewString()
	callPath, err := signaling.CallPath(inbox, callID)
	if err != nil {
		s.abortSetupLocked()
		return "", fmt.Errorf("%w: %v", ErrUserUnreachable, err)
	}

	now := s.cfg.Clock.Now().UTC()
	record := &signaling.CallRecord{
		ID:         callID,
		CallerID:   s.identity.UserID,
		CallerName: s.identity.DisplayName,
		CalleeID:   calleeID,
		CallType:   callType,
		Status:     signaling.CallStatusRinging,
		StartedAt:  now,
		Offer:      &offer,
	}
	if err := s.writeRecordLocked(ctx, callPath, record); err != nil {
		s.abortSetupLocked()
		return "", err
	}

	if err := s.subscribeCallLocked(epoch, callPath, signaling.CalleeCandidatesPath(callPath)); err != nil {
		s.abortSetupLocked()
		return "", err
	}

	s.record = record
	s.role = roleCaller
	s.callPath = callPath
	s.localCandidatePath = signaling.CallerCandidatesPath(callPath)
	s.lastRemoteSDP = ""
	s.seenCandidates = make(map[string]bool)
	s.videoOn = callType == signaling.CallTypeVideo

	if _, err := s.machine.Transition(EventOfferSent); err != nil {
		s.abortSetupLocked()
		return "", err
	}
	s.watchdog.ArmNoAnswer()

	s.log.WithFields(logrus.Fields{
		"call_id":   callID,
		"callee_id": calleeID,
		"call_type": callType,
	}).Info("call started")
	s.notifyStateLocked()
	return callID, nil
}

// AnswerCall reads the pending call record from the local inbox, applies the
// remote offer, attaches media, publishes the answer, and marks the call
// active in the store.
func (s *Session) AnswerCall(ctx context.Context, callID string, withVideo bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identity.UserID == "" {
		return ErrNotAuthenticated
	}
	if s.record != nil {
		return ErrCallAlreadyActive
	}

	inbox, err := s.resolver.Inbox(s.identity.UserID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserUnreachable, err)
	}
	callPath, err := signaling.CallPath(inbox, callID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCallNotFound, err)
	}

	record, err := s.readRecordLocked(ctx, callPath)
	if err != nil {
		return err
	}
	if record.Status != signaling.CallStatusRinging || record.Offer == nil {
		return fmt.Errorf("%w: call %s is not ringing", ErrCallNotFound, callID)
	}

	if _, err := s.machine.Transition(EventStart); err != nil {
		return err
	}
	s.lastFailure = ""
	epoch := s.epoch.Add(1)

	if err := s.setupEngineLocked(epoch); err != nil {
		s.abortSetupLocked()
		return err
	}
	sendVideo := withVideo && record.CallType == signaling.CallTypeVideo
	if err := s.negotiator.AttachLocalMedia(true, sendVideo); err != nil {
		s.abortSetupLocked()
		return err
	}
	if err := s.negotiator.SetRemoteDescription(*record.Offer); err != nil {
		s.abortSetupLocked()
		return err
	}

	if err := s.subscribeCallLocked(epoch, callPath, signaling.CallerCandidatesPath(callPath)); err != nil {
		s.abortSetupLocked()
		return err
	}

	answer, err := s.negotiator.CreateAnswer()
	if err != nil {
		s.abortSetupLocked()
		return err
	}

	now := s.cfg.Clock.Now().UTC()
	record.Answer = &answer
	record.Status = signaling.CallStatusActive
	record.AnsweredAt = &now
	if err := s.writeRecordLocked(ctx, callPath, record); err != nil {
		s.abortSetupLocked()
		return err
	}

	s.record = record
	s.role = roleCallee
	s.callPath = callPath
	s.localCandidatePath = signaling.CalleeCandidatesPath(callPath)
	s.lastRemoteSDP = record.Offer.SDP
	s.seenCandidates = make(map[string]bool)
	s.videoOn = sendVideo

	if _, err := s.machine.Transition(EventAnswerSent); err != nil {
		s.abortSetupLocked()
		return err
	}

	s.log.WithFields(logrus.Fields{
		"call_id":   callID,
		"caller_id": record.CallerID,
	}).Info("call answered")
	s.notifyStateLocked()
	return nil
}

// RejectCall marks a pending incoming call rejected without ever creating
// media. The session's own state is untouched.
func (s *Session) RejectCall(ctx context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identity.UserID == "" {
		return ErrNotAuthenticated
	}
	inbox, err := s.resolver.Inbox(s.identity.UserID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserUnreachable, err)
	}
	callPath, err := signaling.CallPath(inbox, callID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCallNotFound, err)
	}

	record, err := s.readRecordLocked(ctx, callPath)
	if err != nil {
		return err
	}
	if record.Status.Terminal() {
		return fmt.Errorf("%w: call %s already %s", ErrCallNotFound, callID, record.Status)
	}

	now := s.cfg.Clock.Now().UTC()
	record.Status = signaling.CallStatusRejected
	record.EndedAt = &now
	if err := s.writeRecordLocked(ctx, callPath, record); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"call_id": callID}).Info("call rejected")
	return nil
}

// EndCall hangs up the active call. It is idempotent: with no active call it
// returns nil. The terminal status write is best-effort: a transport
// failure is logged and swallowed, since the remote side converges through
// its own observation.
func (s *Session) EndCall(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.record == nil {
		return nil
	}

	// Status never regresses: if the remote side already wrote a terminal
	// status, keep it instead of overwriting with ended.
	skipWrite := false
	if current, err := s.readRecordLocked(ctx, s.callPath); err == nil && current.Status.Terminal() {
		skipWrite = true
		s.record.Status = current.Status
		s.record.EndedAt = current.EndedAt
	}
	if !skipWrite {
		now := s.cfg.Clock.Now().UTC()
		s.record.Status = signaling.CallStatusEnded
		if s.record.EndedAt == nil {
			s.record.EndedAt = &now
		}
		if err := s.writeRecordLocked(ctx, s.callPath, s.record); err != nil {
			s.log.WithFields(logrus.Fields{
				"call_id": s.record.ID,
				"error":   err.Error(),
			}).Warn("writing ended status failed, proceeding with local teardown")
		}
	}

	s.terminateLocked(EventHangup, "")
	return nil
}

// Close ends any active call, stops incoming-call observation, and shuts
// down the event pump. The session cannot be reused afterwards.
func (s *Session) Close() error {
	s.EndCall(context.Background())
	s.mu.Lock()
	if s.inboxSub != nil {
		s.inboxSub.Unsubscribe()
		s.inboxSub = nil
	}
	s.mu.Unlock()
	s.closed.Do(func() { close(s.done) })
	return nil
}

// ListenIncoming subscribes to the local inbox and surfaces new ringing
// calls through the incoming-call callback. Existing pending calls are
// replayed on subscribe.
func (s *Session) ListenIncoming() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identity.UserID == "" {
		return ErrNotAuthenticated
	}
	if s.inboxSub != nil {
		return nil
	}
	inbox, err := s.resolver.Inbox(s.identity.UserID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserUnreachable, err)
	}

	sub, err := s.channel.SubscribeChildAdded(inbox, func(key string, payload []byte) {
		record, err := signaling.DecodeCallRecord(inbox+"/"+key, payload)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "ListenIncoming",
				"error":    err.Error(),
			}).Warn("ignoring malformed inbox record")
			return
		}
		if record.Status != signaling.CallStatusRinging {
			return
		}
		s.cbMu.Lock()
		cb := s.incomingCb
		s.cbMu.Unlock()
		if cb != nil {
			cb(*record)
		}
	})
	if err != nil {
		return err
	}
	s.inboxSub = sub
	return nil
}

// --- observables ---

// State returns the current call state.
func (s *Session) State() State {
	return s.machine.State()
}

// FailureReason returns the reason of the most recent terminal failure, or
// "" if the last call ended normally.
func (s *Session) FailureReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFailure
}

// ActiveCall returns a copy of the active call record, or nil.
func (s *Session) ActiveCall() *signaling.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRecord(s.record)
}

// Muted reports whether outgoing audio is muted.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// SetMuted gates outgoing audio on the active call.
func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
	if s.engine != nil {
		s.engine.SetAudioEnabled(!muted)
	}
}

// VideoEnabled reports whether outgoing video is enabled.
func (s *Session) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoOn
}

// SetVideoEnabled gates outgoing video on the active call.
func (s *Session) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoOn = enabled
	if s.engine != nil {
		s.engine.SetVideoEnabled(enabled)
	}
}

// SetStateCallback registers a callback for state transitions. The callback
// runs on the session's serialized context and must not call back into the
// session.
func (s *Session) SetStateCallback(fn func(state State, reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateCb = fn
}

// SetIncomingCallCallback registers a callback for new ringing calls
// observed by ListenIncoming. The callback runs on a store dispatch
// goroutine.
func (s *Session) SetIncomingCallCallback(fn func(rec signaling.CallRecord)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.incomingCb = fn
}

// --- setup helpers ---

func (s *Session) setupEngineLocked(epoch uint64) error {
	engine, err := s.engineFactory()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	engine.OnICECandidate(func(c signaling.IceCandidate) {
		s.postEvent(sessionEvent{kind: evLocalCandidate, epoch: epoch, candidate: c})
	})
	engine.OnConnectionStateChange(func(state media.ICEConnectionState) {
		s.postEvent(sessionEvent{kind: evICEState, epoch: epoch, iceState: state})
	})
	s.engine = engine
	s.negotiator = NewNegotiator(engine)
	return nil
}

func (s *Session) subscribeCallLocked(epoch uint64, callPath, remoteCandidates string) error {
	recordSub, err := s.channel.SubscribeValue(callPath, func(payload []byte) {
		s.postEvent(sessionEvent{kind: evRecordUpdate, epoch: epoch, payload: payload})
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, recordSub)

	candidateSub, err := s.channel.SubscribeChildAdded(remoteCandidates, func(key string, payload []byte) {
		candidate, err := signaling.DecodeCandidate(remoteCandidates+"/"+key, payload)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "subscribeCall",
				"error":    err.Error(),
			}).Warn("ignoring malformed ICE candidate")
			return
		}
		s.postEvent(sessionEvent{kind: evRemoteCandidate, epoch: epoch, childKey: key, candidate: candidate})
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, candidateSub)
	return nil
}

func (s *Session) writeRecordLocked(ctx context.Context, path string, record *signaling.CallRecord) error {
	payload, err := signaling.EncodeCallRecord(record)
	if err != nil {
		return signaling.NewTransportError("write", path, err)
	}
	return s.channel.Write(ctx, path, payload)
}

func (s *Session) readRecordLocked(ctx context.Context, path string) (*signaling.CallRecord, error) {
	payload, err := s.channel.Read(ctx, path)
	if err != nil {
		if errors.Is(err, signaling.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCallNotFound, path)
		}
		return nil, err
	}
	return signaling.DecodeCallRecord(path, payload)
}

// abortSetupLocked unwinds a partially constructed call attempt before the
// setup error is surfaced to the caller: no partial call is left dangling.
func (s *Session) abortSetupLocked() {
	if !s.machine.State().Terminal() && s.machine.State() != StateIdle {
		s.machine.Fail(FailureReasonNegotiation)
	}
	s.lastFailure = s.machine.FailureReason()
	s.cleanupLocked()
}

// --- event handlers (pump context, mutex held) ---

func (s *Session) handleRecordUpdateLocked(payload []byte) {
	record, err := signaling.DecodeCallRecord(s.callPath, payload)
	if err != nil {
		s.log.WithFields(logrus.Fields{"error": err.Error()}).Warn("ignoring malformed record update")
		return
	}

	switch record.Status {
	case signaling.CallStatusRejected:
		if s.role == roleCaller {
			s.record.Status = record.Status
			s.record.EndedAt = record.EndedAt
			s.terminateLocked(EventRemoteRejected, "")
		}
		return
	case signaling.CallStatusEnded:
		s.record.Status = record.Status
		s.record.EndedAt = record.EndedAt
		s.terminateLocked(EventHangup, "")
		return
	case signaling.CallStatusFailed:
		s.terminateLocked(EventConnectionFailed, FailureReasonConnectionFailed)
		return
	case signaling.CallStatusMissed:
		// The caller's no-answer timer won the race against our answer.
		s.record.Status = record.Status
		s.record.EndedAt = record.EndedAt
		s.terminateLocked(EventConnectionFailed, FailureReasonTimeout)
		return
	}

	switch s.role {
	case roleCaller:
		s.handleAnswerUpdateLocked(record)
	case roleCallee:
		s.handleOfferUpdateLocked(record)
	}
}

// handleAnswerUpdateLocked applies a new or renegotiated answer on the
// caller side.
func (s *Session) handleAnswerUpdateLocked(record *signaling.CallRecord) {
	if record.Answer == nil || record.Answer.SDP == s.lastRemoteSDP {
		return
	}

	if s.machine.State() == StateRinging {
		if _, err := s.machine.Transition(EventAnswerReceived); err != nil {
			return
		}
		s.watchdog.CancelNoAnswer()
		s.record.Answer = record.Answer
		s.record.AnsweredAt = record.AnsweredAt
		s.record.Status = record.Status
		if err := s.negotiator.SetRemoteDescription(*record.Answer); err != nil {
			s.log.WithFields(logrus.Fields{"error": err.Error()}).Error("applying remote answer failed")
			s.terminateLocked(EventConnectionFailed, FailureReasonNegotiation)
			return
		}
		s.lastRemoteSDP = record.Answer.SDP
		s.log.WithFields(logrus.Fields{"call_id": s.record.ID}).Info("answer received")
		s.notifyStateLocked()
		return
	}

	// Renegotiated answer after an ICE restart. Permitted second remote
	// description; must not reset connected media.
	if s.machine.State() == StateConnecting || s.machine.State() == StateConnected {
		if err := s.negotiator.SetRemoteDescription(*record.Answer); err != nil {
			s.log.WithFields(logrus.Fields{"error": err.Error()}).Warn("applying renegotiated answer failed")
			return
		}
		s.record.Answer = record.Answer
		s.lastRemoteSDP = record.Answer.SDP
	}
}

// handleOfferUpdateLocked applies a renegotiated (ICE restart) offer on the
// callee side and publishes the rewritten answer.
func (s *Session) handleOfferUpdateLocked(record *signaling.CallRecord) {
	if record.Offer == nil || record.Offer.SDP == s.lastRemoteSDP {
		return
	}
	state := s.machine.State()
	if state != StateConnecting && state != StateConnected {
		return
	}

	if err := s.negotiator.SetRemoteDescription(*record.Offer); err != nil {
		s.log.WithFields(logrus.Fields{"error": err.Error()}).Warn("applying restarted offer failed")
		return
	}
	s.lastRemoteSDP = record.Offer.SDP
	s.record.Offer = record.Offer

	answer, err := s.negotiator.CreateAnswer()
	if err != nil {
		s.log.WithFields(logrus.Fields{"error": err.Error()}).Warn("renegotiating answer failed")
		return
	}
	s.record.Answer = &answer
	if err := s.writeRecordLocked(context.Background(), s.callPath, s.record); err != nil {
		s.log.WithFields(logrus.Fields{"error": err.Error()}).Warn("publishing renegotiated answer failed")
	}
}

func (s *Session) handleRemoteCandidateLocked(key string, candidate signaling.IceCandidate) {
	// Delivery is at-least-once; apply each stored candidate exactly once.
	if s.seenCandidates[key] {
		return
	}
	s.seenCandidates[key] = true
	if err := s.negotiator.AddRemoteCandidate(candidate); err != nil {
		s.log.WithFields(logrus.Fields{"error": err.Error()}).Warn("applying remote ICE candidate failed")
	}
}

func (s *Session) handleLocalCandidateLocked(candidate signaling.IceCandidate) {
	payload, err := signaling.EncodeCandidate(candidate)
	if err != nil {
		s.log.WithFields(logrus.Fields{"error": err.Error()}).Warn("encoding local ICE candidate failed")
		return
	}
	path := signaling.ChildPath(s.localCandidatePath, uuid.NewString())
	if err := s.channel.Write(context.Background(), path, payload); err != nil {
		s.log.WithFields(logrus.Fields{"error": err.Error()}).Warn("publishing local ICE candidate failed")
	}
}

// --- watchdog hooks (serialized context, mutex held) ---

func (s *Session) onNoAnswerLocked() {
	if s.machine.State() != StateRinging {
		return
	}
	now := s.cfg.Clock.Now().UTC()
	s.record.Status = signaling.CallStatusMissed
	s.record.EndedAt = &now
	if err := s.writeRecordLocked(context.Background(), s.callPath, s.record); err != nil {
		s.log.WithFields(logrus.Fields{"error": err.Error()}).Warn("writing missed status failed")
	}
	s.log.WithFields(logrus.Fields{"call_id": s.record.ID}).Info("call not answered in time")
	s.terminateLocked(EventTimeout, FailureReasonTimeout)
}

func (s *Session) onConnectedLocked() {
	if s.machine.State() != StateConnecting {
		return
	}
	if _, err := s.machine.Transition(EventConnected); err != nil {
		return
	}
	s.log.WithFields(logrus.Fields{"call_id": s.record.ID}).Info("media connected")
	s.notifyStateLocked()
}

func (s *Session) onRestartLocked(attempt int) error {
	if s.role != roleCaller {
		// Only the caller owns the offer path; the callee waits for the
		// renegotiated offer while the same retry budget runs down.
		s.log.WithFields(logrus.Fields{"attempt": attempt}).Info("awaiting ICE restart offer from caller")
		return nil
	}
	offer, err := s.negotiator.RestartIce()
	if err != nil {
		return err
	}
	s.record.Offer = &offer
	if err := s.writeRecordLocked(context.Background(), s.callPath, s.record); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"call_id": s.record.ID,
		"attempt": attempt,
	}).Info("ICE restart offer published")
	return nil
}

func (s *Session) onGiveUpLocked() {
	now := s.cfg.Clock.Now().UTC()
	s.record.Status = signaling.CallStatusFailed
	if s.record.EndedAt == nil {
		s.record.EndedAt = &now
	}
	if err := s.writeRecordLocked(context.Background(), s.callPath, s.record); err != nil {
		s.log.WithFields(logrus.Fields{"error": err.Error()}).Warn("writing failed status failed")
	}
	s.terminateLocked(EventConnectionFailed, FailureReasonConnectionFailed)
}

func (s *Session) engineStateLocked() media.ICEConnectionState {
	if s.engine == nil {
		return media.ICEStateClosed
	}
	return s.engine.ConnectionState()
}

// --- teardown ---

// terminateLocked applies the terminal transition, notifies observers, and
// runs cleanup exactly once regardless of which trigger fired.
func (s *Session) terminateLocked(event Event, failureReason string) {
	if s.record == nil {
		return
	}
	if _, err := s.machine.Transition(event); err != nil {
		// Already terminal for this attempt; cleanup has run or is running.
		return
	}
	s.lastFailure = failureReason
	callID := s.record.ID
	s.notifyStateLocked()
	s.cleanupLocked()
	s.log.WithFields(logrus.Fields{
		"call_id": callID,
		"event":   event.String(),
	}).Info("call terminated")
	s.notifyStateLocked()
}

// cleanupLocked releases everything the call attempt owns: subscriptions,
// timers, capture devices, the engine connection, the candidate buffer, and
// retry counters. It advances the epoch so stale timers and handlers no-op,
// and returns the machine to idle. Safe to call multiple times.
func (s *Session) cleanupLocked() {
	s.epoch.Add(1)

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil

	s.watchdog.Reset()

	if s.negotiator != nil {
		s.negotiator.Buffer().Reset()
		s.negotiator = nil
	}
	if s.engine != nil {
		s.engine.ReleaseLocalMedia()
		if err := s.engine.Close(); err != nil {
			s.log.WithFields(logrus.Fields{"error": err.Error()}).Debug("closing media engine failed")
		}
		s.engine = nil
	}

	s.record = nil
	s.role = roleNone
	s.callPath = ""
	s.localCandidatePath = ""
	s.lastRemoteSDP = ""
	s.seenCandidates = nil
	s.muted = false
	s.videoOn = false

	if state := s.machine.State(); state != StateIdle {
		if !state.Terminal() {
			s.machine.Transition(EventHangup)
		}
		s.machine.Transition(EventReset)
	}
}

func (s *Session) notifyStateLocked() {
	if s.stateCb != nil {
		s.stateCb(s.machine.State(), s.machine.FailureReason())
	}
}

func cloneRecord(record *signaling.CallRecord) *signaling.CallRecord {
	if record == nil {
		return nil
	}
	out := *record
	if record.AnsweredAt != nil {
		t := *record.AnsweredAt
		out.AnsweredAt = &t
	}
	if record.EndedAt != nil {
		t := *record.EndedAt
		out.EndedAt = &t
	}
	if record.Offer != nil {
		desc := *record.Offer
		out.Offer = &desc
	}
	if record.Answer != nil {
		desc := *record.Answer
		out.Answer = &desc
	}
	return &out
}
