package models

import (
	"strings"
	"time"

	dErrors "veriq/pkg/domain-errors"
)

// Status is the lifecycle state of an event in the queue.
type Status string

const (
	StatusNew        Status = "new"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

// Statuses lists every lifecycle state, in rough lifecycle order. Used by
// statistics aggregation so all states are always reported.
var Statuses = []Status{StatusNew, StatusProcessing, StatusProcessed, StatusFailed, StatusRetrying}

// IsValid reports whether s is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusProcessing, StatusProcessed, StatusFailed, StatusRetrying:
		return true
	}
	return false
}

// MaxRetryCount bounds how many times a failed event may be retried.
const MaxRetryCount = 3

// Event is the unit of work: one document awaiting verification. The store
// owns the canonical copy; the orchestrator mutates transient copies during a
// cycle and writes them back before releasing the cycle lock.
type Event struct {
	ID             int64
	UserID         string
	IdentityNumber IdentityNumber
	DocumentNumber DocumentNumber
	Type           EventType
	Payload        map[string]any

	Status       Status
	RetryCount   int
	ErrorMessage string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
}

// NewEvent constructs an event in status new. DocumentNumber may be zero when
// the inbound payload carries none; conversion to verifier input will then
// fail the event instead of the ingestion request.
func NewEvent(userID string, identity IdentityNumber, eventType EventType, payload map[string]any, document DocumentNumber) (*Event, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user id is required")
	}
	if identity.IsZero() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "identity number is required")
	}
	if !eventType.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "unknown event type %q", string(eventType))
	}
	if payload == nil {
		payload = map[string]any{}
	}
	now := time.Now().UTC()
	return &Event{
		UserID:         userID,
		IdentityNumber: identity,
		DocumentNumber: document,
		Type:           eventType,
		Payload:        payload,
		Status:         StatusNew,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// StartProcessing transitions the event to processing. Legal from new and
// retrying only.
func (e *Event) StartProcessing() error {
	if e.Status != StatusNew && e.Status != StatusRetrying {
		return dErrors.Newf(dErrors.CodeConflict, "cannot start processing event in %s status", e.Status)
	}
	e.Status = StatusProcessing
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkProcessed transitions the event to its terminal processed state and
// stamps ProcessedAt exactly once.
func (e *Event) MarkProcessed() error {
	if e.Status != StatusProcessing {
		return dErrors.Newf(dErrors.CodeConflict, "cannot mark event processed from %s status", e.Status)
	}
	now := time.Now().UTC()
	e.Status = StatusProcessed
	e.ProcessedAt = &now
	e.UpdatedAt = now
	e.ErrorMessage = ""
	return nil
}

// MarkFailed records a failure. Legal from processing and retrying; requires
// a non-empty error message.
func (e *Event) MarkFailed(message string) error {
	if e.Status != StatusProcessing && e.Status != StatusRetrying {
		return dErrors.Newf(dErrors.CodeConflict, "cannot mark event failed from %s status", e.Status)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return dErrors.New(dErrors.CodeBadRequest, "failure requires an error message")
	}
	e.Status = StatusFailed
	e.ErrorMessage = message
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFailedPermanently records a failure that retrying cannot fix, such as
// a payload that does not map to verifier input. Exhausts the retry budget so
// requeue sweeps skip the event.
func (e *Event) MarkFailedPermanently(message string) error {
	if err := e.MarkFailed(message); err != nil {
		return err
	}
	e.RetryCount = MaxRetryCount
	return nil
}

// MarkForRetry schedules a failed event for another attempt, incrementing the
// retry counter and clearing the previous error.
func (e *Event) MarkForRetry() error {
	if e.Status != StatusFailed {
		return dErrors.Newf(dErrors.CodeConflict, "cannot retry event in %s status", e.Status)
	}
	if e.RetryCount >= MaxRetryCount {
		return dErrors.Newf(dErrors.CodeConflict, "maximum retry count (%d) exceeded", MaxRetryCount)
	}
	e.Status = StatusRetrying
	e.RetryCount++
	e.ErrorMessage = ""
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// CanBeProcessed reports whether the event is eligible for claiming.
func (e *Event) CanBeProcessed() bool {
	return e.Status == StatusNew || e.Status == StatusRetrying
}

// CanBeRetried reports whether a failed event has retry budget left.
func (e *Event) CanBeRetried() bool {
	return e.Status == StatusFailed && e.RetryCount < MaxRetryCount
}

// IsTerminal reports whether no further transition is expected: processed, or
// failed with retries exhausted.
func (e *Event) IsTerminal() bool {
	return e.Status == StatusProcessed ||
		(e.Status == StatusFailed && e.RetryCount >= MaxRetryCount)
}

// Clone returns a deep-enough copy for handing over claim snapshots; the
// payload map is copied so callers cannot mutate the stored one.
func (e *Event) Clone() *Event {
	cp := *e
	cp.Payload = make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		cp.Payload[k] = v
	}
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}
