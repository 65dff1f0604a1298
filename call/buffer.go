package call

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peercall/signaling"
)

// CandidateBuffer holds ICE candidates that arrive before the remote session
// description has been applied. Candidates are never applied to the media
// engine early; they queue in arrival order and drain eagerly the moment the
// remote description is set.
type CandidateBuffer struct {
	mu      sync.Mutex
	apply   func(signaling.IceCandidate) error
	ready   bool
	pending []signaling.IceCandidate
}

// NewCandidateBuffer creates a buffer that applies candidates via apply.
func NewCandidateBuffer(apply func(signaling.IceCandidate) error) *CandidateBuffer {
	return &CandidateBuffer{apply: apply}
}

// Offer applies the candidate immediately if the remote description is set,
// otherwise queues it.
func (b *CandidateBuffer) Offer(c signaling.IceCandidate) error {
	b.mu.Lock()
	if !b.ready {
		b.pending = append(b.pending, c)
		queued := len(b.pending)
		b.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Offer",
			"queued":   queued,
		}).Debug("buffered ICE candidate before remote description")
		return nil
	}
	b.mu.Unlock()
	return b.apply(c)
}

// RemoteDescriptionSet unlocks the buffer and drains the queue in FIFO
// order, applying each candidate exactly once. Application errors are
// logged; draining continues and the first error is returned.
func (b *CandidateBuffer) RemoteDescriptionSet() error {
	b.mu.Lock()
	if b.ready {
		b.mu.Unlock()
		return nil
	}
	b.ready = true
	queued := b.pending
	b.pending = nil
	b.mu.Unlock()

	var firstErr error
	for _, c := range queued {
		if err := b.apply(c); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "RemoteDescriptionSet",
				"error":    err.Error(),
			}).Warn("applying buffered ICE candidate failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Ready reports whether the remote description has been set.
func (b *CandidateBuffer) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// Pending returns the number of queued candidates.
func (b *CandidateBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Reset clears the queue and the ready flag so a reused session cannot leak
// candidates into a subsequent call.
func (b *CandidateBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = nil
	b.ready = false
}
