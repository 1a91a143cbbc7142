package handler

import (
	"strings"

	"github.com/google/uuid"

	"veriq/internal/event/models"
	dErrors "veriq/pkg/domain-errors"
)

// IngestRequest is the POST /api/events payload. Producers send either the
// enveloped form {"event": {...}} or the flat form; Normalize handles both.
type IngestRequest struct {
	Event *IngestEvent `json:"event"`
	IngestEvent
}

// IngestEvent is the notification body itself.
type IngestEvent struct {
	UserID         string          `json:"userId"`
	IdentityNumber string          `json:"identityNumber"`
	EventType      string          `json:"eventType"`
	EventData      IngestEventData `json:"eventData"`
}

// IngestEventData carries the document reference.
type IngestEventData struct {
	ID             string `json:"id"`
	DocumentNumber string `json:"documentNumber"`
}

// Normalize unwraps the optional envelope.
func (r *IngestRequest) Normalize() IngestEvent {
	if r.Event != nil {
		return *r.Event
	}
	return r.IngestEvent
}

// Validate applies the ingestion contract's field checks, then constructs the
// domain event. Nothing is persisted when any check fails.
func (e IngestEvent) Validate() (*models.Event, error) {
	userID := strings.TrimSpace(e.UserID)
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "userId is required")
	}
	if _, err := uuid.Parse(userID); err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "userId must be a UUID")
	}

	identity := strings.TrimSpace(e.IdentityNumber)
	if identity == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "identityNumber is required")
	}
	if len(identity) != 11 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "identityNumber must be 11 characters")
	}

	if strings.TrimSpace(e.EventType) == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "eventType is required")
	}

	document := strings.TrimSpace(e.EventData.DocumentNumber)
	if document == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "documentNumber is required")
	}
	if len(document) < 3 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "documentNumber must be at least 3 characters")
	}

	identityNumber, err := models.NewIdentityNumber(identity)
	if err != nil {
		return nil, err
	}
	eventType, err := models.ParseEventType(strings.TrimSpace(e.EventType))
	if err != nil {
		return nil, err
	}
	documentNumber, err := models.NewDocumentNumber(document)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"id":             e.EventData.ID,
		"documentNumber": document,
	}
	return models.NewEvent(userID, identityNumber, eventType, payload, documentNumber)
}
