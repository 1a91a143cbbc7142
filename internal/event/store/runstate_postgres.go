package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresRunStateStore persists the singleton scheduler record. The table is
// seeded with its single row by the schema, so updates never miss.
type PostgresRunStateStore struct {
	db *sql.DB
}

// NewPostgresRunState constructs a PostgreSQL-backed run-state store.
func NewPostgresRunState(db *sql.DB) *PostgresRunStateStore {
	return &PostgresRunStateStore{db: db}
}

func (s *PostgresRunStateStore) Load(ctx context.Context) (RunState, error) {
	query := `
		SELECT last_successful_run, is_processing, last_batch_size,
		       processed_today, counter_day, last_cleanup
		FROM orchestrator_state
		WHERE id = 1
	`
	var (
		state      RunState
		lastRun    sql.NullTime
		counterDay sql.NullTime
		cleanup    sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query).Scan(
		&lastRun, &state.IsProcessing, &state.LastBatchSize,
		&state.ProcessedToday, &counterDay, &cleanup,
	)
	if err == sql.ErrNoRows {
		// Schema seeds the row; tolerate a fresh database anyway.
		return RunState{}, nil
	}
	if err != nil {
		return RunState{}, fmt.Errorf("load run state: %w", err)
	}
	if lastRun.Valid {
		t := lastRun.Time
		state.LastSuccessfulRun = &t
	}
	if counterDay.Valid {
		state.CounterDay = counterDay.Time
	}
	if cleanup.Valid {
		t := cleanup.Time
		state.LastCleanup = &t
	}
	return state, nil
}

func (s *PostgresRunStateStore) Save(ctx context.Context, state RunState) error {
	query := `
		UPDATE orchestrator_state
		SET last_successful_run = $1, is_processing = $2, last_batch_size = $3,
		    processed_today = $4, counter_day = $5, last_cleanup = $6
		WHERE id = 1
	`
	_, err := s.db.ExecContext(ctx, query,
		nullTime(state.LastSuccessfulRun),
		state.IsProcessing,
		state.LastBatchSize,
		state.ProcessedToday,
		nullDay(state.CounterDay),
		nullTime(state.LastCleanup),
	)
	if err != nil {
		return fmt.Errorf("save run state: %w", err)
	}
	return nil
}

func (s *PostgresRunStateStore) SetProcessing(ctx context.Context, processing bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orchestrator_state SET is_processing = $1 WHERE id = 1`, processing)
	if err != nil {
		return fmt.Errorf("set processing flag: %w", err)
	}
	return nil
}

func (s *PostgresRunStateStore) ClearStaleLock(ctx context.Context) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orchestrator_state SET is_processing = FALSE WHERE id = 1 AND is_processing`)
	if err != nil {
		return false, fmt.Errorf("clear stale lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("clear stale lock: %w", err)
	}
	return affected > 0, nil
}

func nullDay(day time.Time) sql.NullTime {
	if day.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: day, Valid: true}
}
