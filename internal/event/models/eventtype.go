package models

import (
	dErrors "veriq/pkg/domain-errors"
)

// EventType is the closed set of notifications the queue accepts.
type EventType string

const (
	EventTypeEducationDocumentCreated EventType = "EducationDocumentCreated"
	EventTypeSecurityDocumentCreated  EventType = "SecurityDocumentCreated"
	EventTypeCvCreated                EventType = "CvCreated"
)

// DocumentCategory is the verification category an event type maps to.
type DocumentCategory string

const (
	CategoryEducation DocumentCategory = "education"
	CategorySecurity  DocumentCategory = "security"
	CategoryCv        DocumentCategory = "cv"
)

// documentCategories is the full type-to-category table. A lookup table keeps
// the mapping closed; unknown types fail at parse time, not mid-processing.
var documentCategories = map[EventType]DocumentCategory{
	EventTypeEducationDocumentCreated: CategoryEducation,
	EventTypeSecurityDocumentCreated:  CategorySecurity,
	EventTypeCvCreated:                CategoryCv,
}

// ParseEventType validates a wire value against the closed enumeration.
func ParseEventType(value string) (EventType, error) {
	et := EventType(value)
	if _, ok := documentCategories[et]; !ok {
		return "", dErrors.Newf(dErrors.CodeBadRequest, "unknown event type %q", value)
	}
	return et, nil
}

// Category returns the document category for the event type.
func (t EventType) Category() DocumentCategory {
	return documentCategories[t]
}

// IsValid reports whether the type belongs to the closed enumeration.
func (t EventType) IsValid() bool {
	_, ok := documentCategories[t]
	return ok
}
