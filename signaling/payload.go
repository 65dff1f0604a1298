package signaling

import (
	"encoding/json"
	"fmt"
	"time"
)

// CallType identifies the media requested for a call.
type CallType string

const (
	// CallTypeAudio is a voice-only call.
	CallTypeAudio CallType = "audio"
	// CallTypeVideo is a call carrying camera video in addition to audio.
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a known call type.
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallStatus is the shared lifecycle status written to the signaling store.
// Status never regresses once a terminal value (ended, rejected, missed,
// failed) has been written.
type CallStatus string

const (
	// CallStatusRinging indicates the callee has not yet answered.
	CallStatusRinging CallStatus = "ringing"
	// CallStatusActive indicates the callee accepted and media is negotiating
	// or flowing.
	CallStatusActive CallStatus = "active"
	// CallStatusEnded indicates either side hung up.
	CallStatusEnded CallStatus = "ended"
	// CallStatusRejected indicates the callee declined without answering.
	CallStatusRejected CallStatus = "rejected"
	// CallStatusMissed indicates the no-answer timeout elapsed.
	CallStatusMissed CallStatus = "missed"
	// CallStatusFailed indicates negotiation or connectivity failed.
	CallStatusFailed CallStatus = "failed"
)

// Valid reports whether s is a known call status.
func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusRinging, CallStatusActive, CallStatusEnded,
		CallStatusRejected, CallStatusMissed, CallStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal status.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusEnded, CallStatusRejected, CallStatusMissed, CallStatusFailed:
		return true
	}
	return false
}

// SessionDescription is an opaque SDP blob plus its offer/answer type tag.
type SessionDescription struct {
	Type string `json:"type"` // "offer" or "answer"
	SDP  string `json:"sdp"`
}

// IceCandidate is one network path advertisement produced by the media
// engine. Candidates are ephemeral: transmitted once, never mutated.
type IceCandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16  `json:"sdpMLineIndex"`
}

// CallRecord is the negotiation envelope for one call attempt, stored at
// {calleeInbox}/{callId}. The caller owns offer and caller-side candidates,
// the callee owns answer and callee-side candidates, and either side may
// write a terminal status.
type CallRecord struct {
	ID         string              `json:"id"`
	CallerID   string              `json:"callerId"`
	CallerName string              `json:"callerName,omitempty"`
	CalleeID   string              `json:"calleeId"`
	CallType   CallType            `json:"callType"`
	Status     CallStatus          `json:"status"`
	StartedAt  time.Time           `json:"startedAt"`
	AnsweredAt *time.Time          `json:"answeredAt,omitempty"`
	EndedAt    *time.Time          `json:"endedAt,omitempty"`
	Offer      *SessionDescription `json:"offer,omitempty"`
	Answer     *SessionDescription `json:"answer,omitempty"`
}

// EncodeCallRecord serializes a call record for the store.
func EncodeCallRecord(rec *CallRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil call record", ErrMalformedPayload)
	}
	if err := validateRecord(rec); err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

// DecodeCallRecord parses and validates a call record payload. A payload that
// does not parse, or that is missing required fields, is rejected as a
// *TransportError wrapping ErrMalformedPayload.
func DecodeCallRecord(path string, payload []byte) (*CallRecord, error) {
	var rec CallRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, NewTransportError("decode", path,
			fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	if err := validateRecord(&rec); err != nil {
		return nil, NewTransportError("decode", path, err)
	}
	return &rec, nil
}

func validateRecord(rec *CallRecord) error {
	switch {
	case rec.ID == "":
		return fmt.Errorf("%w: missing call id", ErrMalformedPayload)
	case rec.CallerID == "":
		return fmt.Errorf("%w: missing caller id", ErrMalformedPayload)
	case rec.CalleeID == "":
		return fmt.Errorf("%w: missing callee id", ErrMalformedPayload)
	case !rec.CallType.Valid():
		return fmt.Errorf("%w: unknown call type %q", ErrMalformedPayload, rec.CallType)
	case !rec.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrMalformedPayload, rec.Status)
	}
	if rec.Offer != nil && rec.Offer.SDP == "" {
		return fmt.Errorf("%w: offer with empty sdp", ErrMalformedPayload)
	}
	if rec.Answer != nil && rec.Answer.SDP == "" {
		return fmt.Errorf("%w: answer with empty sdp", ErrMalformedPayload)
	}
	return nil
}

// EncodeCandidate serializes an ICE candidate for the store.
func EncodeCandidate(c IceCandidate) ([]byte, error) {
	if c.Candidate == "" {
		return nil, fmt.Errorf("%w: empty candidate", ErrMalformedPayload)
	}
	return json.Marshal(c)
}

// DecodeCandidate parses and validates an ICE candidate payload.
func DecodeCandidate(path string, payload []byte) (IceCandidate, error) {
	var c IceCandidate
	if err := json.Unmarshal(payload, &c); err != nil {
		return IceCandidate{}, NewTransportError("decode", path,
			fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	if c.Candidate == "" {
		return IceCandidate{}, NewTransportError("decode", path,
			fmt.Errorf("%w: empty candidate", ErrMalformedPayload))
	}
	return c, nil
}
