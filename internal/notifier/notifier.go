// Package notifier reports verification outcomes back to the backend. The
// backend treats repeated notifications for the same event and outcome as
// idempotent, so callers may retry freely.
package notifier

import (
	"context"

	"veriq/internal/event/models"
	"veriq/internal/verifier"
)

// Notifier delivers a verification outcome to the backend.
type Notifier interface {
	// Notify reports the outcome for one event. Errors indicate delivery
	// failure only; the event's verification status is not affected.
	Notify(ctx context.Context, event *models.Event, result verifier.Result) error

	// Ping is a best-effort connectivity probe used before a processing
	// cycle. A failure is informational; verification proceeds regardless.
	Ping(ctx context.Context) error
}
