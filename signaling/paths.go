package signaling

import (
	"fmt"
	"strings"
)

// Store layout, keyed by endpoint identifier and call id:
//
//	calls/{calleeId}/{callId}             call record
//	calls/{calleeId}/{callId}/ice_caller  caller-side candidate list
//	calls/{calleeId}/{callId}/ice_callee  callee-side candidate list
//
// Candidate lists are append-only; each child key is generated by the writer.
const (
	inboxRoot        = "calls"
	callerCandidates = "ice_caller"
	calleeCandidates = "ice_callee"
)

// InboxPath returns the path under which calls for userID are created.
func InboxPath(userID string) (string, error) {
	if err := validateSegment(userID); err != nil {
		return "", fmt.Errorf("user id: %w", err)
	}
	return inboxRoot + "/" + userID, nil
}

// CallPath returns the record path for callID in inbox.
func CallPath(inbox, callID string) (string, error) {
	if err := validateSegment(callID); err != nil {
		return "", fmt.Errorf("call id: %w", err)
	}
	return inbox + "/" + callID, nil
}

// CallerCandidatesPath returns the caller-side candidate list path.
func CallerCandidatesPath(callPath string) string {
	return callPath + "/" + callerCandidates
}

// CalleeCandidatesPath returns the callee-side candidate list path.
func CalleeCandidatesPath(callPath string) string {
	return callPath + "/" + calleeCandidates
}

// ChildPath joins a generated child key onto a list path.
func ChildPath(listPath, key string) string {
	return listPath + "/" + key
}

// ParentPath returns the parent of path, or "" for a root segment.
func ParentPath(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// LastSegment returns the final segment of path.
func LastSegment(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

func validateSegment(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty path segment", ErrMalformedPayload)
	}
	if strings.ContainsAny(s, "/ \t\n") {
		return fmt.Errorf("%w: invalid characters in %q", ErrMalformedPayload, s)
	}
	return nil
}
