package models

import (
	dErrors "veriq/pkg/domain-errors"
)

// VerificationInput is the shape the external verifier expects for one
// document check. Built from a claimed event's payload; a conversion failure
// is a data problem and fails the event without retry.
type VerificationInput struct {
	UserID         string
	IdentityNumber IdentityNumber
	DocumentNumber DocumentNumber
	DocumentID     string
	Category       DocumentCategory
}

// ToVerificationInput maps the event into the verifier's input shape.
//
// The document number comes from the structured column when ingestion could
// validate it, otherwise from the raw payload. The document id falls back to
// the user id when the payload carries none, matching what the backend
// accepts for legacy producers.
func (e *Event) ToVerificationInput() (VerificationInput, error) {
	if !e.Type.IsValid() {
		return VerificationInput{}, dErrors.Newf(dErrors.CodeBadRequest, "unknown event type %q", string(e.Type))
	}
	if e.IdentityNumber.IsZero() {
		return VerificationInput{}, dErrors.New(dErrors.CodeBadRequest, "event is missing an identity number")
	}

	document := e.DocumentNumber
	if document.IsZero() {
		raw, _ := payloadString(e.Payload, "documentNumber")
		if raw == "" {
			return VerificationInput{}, dErrors.New(dErrors.CodeBadRequest, "event is missing a document number")
		}
		parsed, err := NewDocumentNumber(raw)
		if err != nil {
			return VerificationInput{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "event carries an invalid document number")
		}
		document = parsed
	}

	documentID, _ := payloadString(e.Payload, "id")
	if documentID == "" {
		documentID = e.UserID
	}

	return VerificationInput{
		UserID:         e.UserID,
		IdentityNumber: e.IdentityNumber,
		DocumentNumber: document,
		DocumentID:     documentID,
		Category:       e.Type.Category(),
	}, nil
}

// payloadString reads a string field from the payload, looking both at the
// top level and under an eventData wrapper, since producers send either form.
func payloadString(payload map[string]any, key string) (string, bool) {
	if payload == nil {
		return "", false
	}
	if v, ok := payload[key].(string); ok && v != "" {
		return v, true
	}
	if nested, ok := payload["eventData"].(map[string]any); ok {
		if v, ok := nested[key].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
