package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: event or run-state row does not exist in the store
// - ErrInvalidState: event in wrong lifecycle status for the requested transition
// - ErrUnavailable: store or downstream service temporarily unreachable
//
// For validation errors (bad input, malformed payloads), use pkg/domain-errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
