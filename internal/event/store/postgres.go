package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"veriq/internal/event/models"
	"veriq/pkg/platform/sentinel"
)

// schemaSQL is embedded so the service can bootstrap its own tables. Safe to
// apply repeatedly.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore persists events in PostgreSQL. Batch claiming runs inside one
// transaction with FOR UPDATE SKIP LOCKED, so concurrent claimers never
// receive overlapping batches.
type PostgresStore struct {
	db    *sql.DB
	clock Clock
}

// Clock abstracts time.Now for testability.
type Clock func() time.Time

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithClock sets the clock function.
func WithClock(clock Clock) PostgresOption {
	return func(s *PostgresStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewPostgres constructs a PostgreSQL-backed event store.
func NewPostgres(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// EnsureSchema applies the embedded schema.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Ping reports store connectivity; used by the health endpoint.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const eventColumns = `id, user_id, identity_number, document_number, event_type, payload,
		status, retry_count, error_message, created_at, updated_at, processed_at`

func (s *PostgresStore) Save(ctx context.Context, event *models.Event) (*models.Event, error) {
	if event.ID == 0 {
		return s.insert(ctx, event)
	}
	if err := s.UpdateStatus(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *PostgresStore) insert(ctx context.Context, event *models.Event) (*models.Event, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}

	query := `
		INSERT INTO events (user_id, identity_number, document_number, event_type, payload,
			status, retry_count, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	saved := event.Clone()
	err = s.db.QueryRowContext(ctx, query,
		event.UserID,
		event.IdentityNumber.String(),
		nullString(event.DocumentNumber.String()),
		string(event.Type),
		payload,
		string(event.Status),
		event.RetryCount,
		event.ErrorMessage,
		event.CreatedAt,
		event.UpdatedAt,
	).Scan(&saved.ID)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id int64) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	event, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find event %d: %w", id, err)
	}
	return event, nil
}

func (s *PostgresStore) ClaimBatch(ctx context.Context, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	selectQuery := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE status IN ('new', 'retrying')
		ORDER BY created_at, id
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`
	rows, err := tx.QueryContext(ctx, selectQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("select claimable events: %w", err)
	}
	claimed, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("scan claimable events: %w", err)
	}
	if len(claimed) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]int64, len(claimed))
	for i, event := range claimed {
		ids[i] = event.ID
	}
	updateQuery := `
		UPDATE events
		SET status = 'processing', updated_at = $2
		WHERE id = ANY($1)
	`
	if _, err := tx.ExecContext(ctx, updateQuery, pq.Array(ids), s.clock().UTC()); err != nil {
		return nil, fmt.Errorf("mark batch processing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return claimed, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, event *models.Event) error {
	query := `
		UPDATE events
		SET status = $2, retry_count = $3, error_message = $4, updated_at = $5, processed_at = $6
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		event.ID,
		string(event.Status),
		event.RetryCount,
		event.ErrorMessage,
		event.UpdatedAt,
		nullTime(event.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("update event %d: %w", event.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update event %d: %w", event.ID, err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountByStatus(ctx context.Context, status models.Status) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE status = $1`, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events by status: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountProcessable(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE status IN ('new', 'retrying')`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count processable events: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Statistics(ctx context.Context) (Statistics, error) {
	stats := Statistics{ByStatus: make(map[models.Status]int, len(models.Statuses))}
	for _, status := range models.Statuses {
		stats.ByStatus[status] = 0
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM events GROUP BY status`)
	if err != nil {
		return Statistics{}, fmt.Errorf("event statistics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Statistics{}, fmt.Errorf("scan statistics row: %w", err)
		}
		stats.ByStatus[models.Status(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return Statistics{}, fmt.Errorf("event statistics: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) CleanupOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.clock().UTC().Add(-retention)
	query := `
		DELETE FROM events
		WHERE created_at < $1
		  AND (status = 'processed' OR (status = 'failed' AND retry_count >= $2))
	`
	res, err := s.db.ExecContext(ctx, query, cutoff, models.MaxRetryCount)
	if err != nil {
		return 0, fmt.Errorf("cleanup old events: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup old events: %w", err)
	}
	return deleted, nil
}

func (s *PostgresStore) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.clock().UTC()
	cutoff := now.Add(-olderThan)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin requeue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	retryQuery := `
		UPDATE events
		SET status = 'retrying', retry_count = retry_count + 1, error_message = '', updated_at = $3
		WHERE status = 'processing' AND updated_at < $1 AND retry_count < $2
	`
	retried, err := tx.ExecContext(ctx, retryQuery, cutoff, models.MaxRetryCount, now)
	if err != nil {
		return 0, fmt.Errorf("requeue stale events: %w", err)
	}

	failQuery := `
		UPDATE events
		SET status = 'failed', error_message = 'processing timed out without an owner', updated_at = $3
		WHERE status = 'processing' AND updated_at < $1 AND retry_count >= $2
	`
	failed, err := tx.ExecContext(ctx, failQuery, cutoff, models.MaxRetryCount, now)
	if err != nil {
		return 0, fmt.Errorf("fail stale events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit requeue: %w", err)
	}

	retriedCount, _ := retried.RowsAffected()
	failedCount, _ := failed.RowsAffected()
	return retriedCount + failedCount, nil
}

func (s *PostgresStore) RequeueFailed(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}

	query := `
		UPDATE events
		SET status = 'retrying', retry_count = retry_count + 1, error_message = '', updated_at = $3
		WHERE id IN (
			SELECT id FROM events
			WHERE status = 'failed' AND retry_count < $1
			ORDER BY created_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
	`
	res, err := s.db.ExecContext(ctx, query, models.MaxRetryCount, limit, s.clock().UTC())
	if err != nil {
		return 0, fmt.Errorf("requeue failed events: %w", err)
	}
	requeued, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue failed events: %w", err)
	}
	return requeued, nil
}

func scanEvents(rows *sql.Rows) ([]*models.Event, error) {
	defer rows.Close()
	events := make([]*models.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		event       models.Event
		identity    string
		document    sql.NullString
		eventType   string
		status      string
		payload     []byte
		errMessage  string
		processedAt sql.NullTime
	)
	err := row.Scan(
		&event.ID,
		&event.UserID,
		&identity,
		&document,
		&eventType,
		&payload,
		&status,
		&event.RetryCount,
		&errMessage,
		&event.CreatedAt,
		&event.UpdatedAt,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	// Values were validated at ingestion; rehydrate without re-running the
	// checksum rules so reads never fail on historical rows.
	event.IdentityNumber = models.RehydrateIdentityNumber(identity)
	if document.Valid && document.String != "" {
		event.DocumentNumber = models.RehydrateDocumentNumber(document.String)
	}
	event.Type = models.EventType(eventType)
	event.Status = models.Status(status)
	event.ErrorMessage = errMessage
	if processedAt.Valid {
		t := processedAt.Time
		event.ProcessedAt = &t
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &event.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	return &event, nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
