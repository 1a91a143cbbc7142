// Package store provides durable persistence for queue events and the
// orchestrator's run state. The PostgreSQL implementation is the production
// path; the in-memory one backs unit tests and local runs.
package store

import (
	"context"
	"time"

	"veriq/internal/event/models"
)

// Statistics is a point-in-time snapshot of queue composition. Every known
// status is present in ByStatus, zero-valued when empty.
type Statistics struct {
	ByStatus map[models.Status]int `json:"by_status"`
	Total    int                   `json:"total"`
}

// Store is the durable event table. All mutation of event rows goes through
// these primitives; no other component writes events directly.
type Store interface {
	// Save inserts the event when it has no id yet and returns the copy with
	// its assigned id. For known events it persists status, retry, error and
	// timestamp fields only; identity fields are never rewritten.
	Save(ctx context.Context, event *models.Event) (*models.Event, error)

	// FindByID returns the event or sentinel.ErrNotFound.
	FindByID(ctx context.Context, id int64) (*models.Event, error)

	// ClaimBatch atomically selects up to limit processable events (status
	// new or retrying, oldest first), transitions them to processing, and
	// returns the pre-transition snapshots. Two concurrent callers never
	// receive the same event.
	ClaimBatch(ctx context.Context, limit int) ([]*models.Event, error)

	// UpdateStatus persists status, retry, error and timestamp fields for an
	// already-known event.
	UpdateStatus(ctx context.Context, event *models.Event) error

	// CountByStatus returns the number of events in the given status.
	CountByStatus(ctx context.Context, status models.Status) (int, error)

	// CountProcessable returns the number of events eligible for claiming.
	CountProcessable(ctx context.Context) (int, error)

	// Statistics returns per-status counts and the total.
	Statistics(ctx context.Context) (Statistics, error)

	// CleanupOlderThan deletes terminal events created before the cutoff and
	// returns how many were removed.
	CleanupOlderThan(ctx context.Context, retention time.Duration) (int64, error)

	// RequeueStale reverts events stuck in processing longer than olderThan:
	// back to retrying while retry budget remains, otherwise to failed.
	// Returns how many events were touched.
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)

	// RequeueFailed moves up to limit failed events with retry budget left
	// back to retrying, incrementing their retry counter. Returns how many
	// events were requeued.
	RequeueFailed(ctx context.Context, limit int) (int64, error)
}

// RunState is the scheduler's own persisted record. It lives outside the
// event table because it describes the orchestrator, not any single event.
type RunState struct {
	LastSuccessfulRun *time.Time
	IsProcessing      bool
	LastBatchSize     int
	ProcessedToday    int
	CounterDay        time.Time
	LastCleanup       *time.Time
}

// RunStateStore persists the singleton run-state record.
type RunStateStore interface {
	// Load returns the current run state, defaults when never saved.
	Load(ctx context.Context) (RunState, error)

	// Save persists the full run state.
	Save(ctx context.Context, state RunState) error

	// SetProcessing flips only the exclusive lock flag, persisted immediately
	// so concurrent admission checks observe it before any batch work starts.
	SetProcessing(ctx context.Context, processing bool) error

	// ClearStaleLock unconditionally drops the lock flag. Called once at
	// process startup; a true result means a previous run died mid-cycle.
	ClearStaleLock(ctx context.Context) (bool, error)
}
