// Package signaling defines the transport boundary between the call core and
// the remote real-time store used to relay offers, answers, and ICE
// candidates between two endpoints.
//
// The store is modeled as a tree of paths holding opaque payloads. The core
// needs only four capabilities from it: write a value at a path, read a value,
// subscribe to ordered child events under a path, and subscribe to value
// changes at a path. Any backend providing those semantics can carry calls;
// this package ships an in-memory implementation for tests and local use, and
// the redisstore subpackage provides the production backend.
//
// Payloads crossing the boundary are parsed into explicit tagged structures
// (CallRecord, SessionDescription, IceCandidate) and validated on decode.
// Malformed payloads are rejected as transport errors rather than silently
// defaulted.
package signaling
