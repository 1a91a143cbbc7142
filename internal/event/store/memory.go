package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"veriq/internal/event/models"
	"veriq/pkg/platform/sentinel"
)

// InMemoryStore implements Store with a mutex-guarded map. It mirrors the
// PostgreSQL semantics closely enough for unit tests, including atomic batch
// claiming under concurrent callers.
type InMemoryStore struct {
	mu     sync.Mutex
	nextID int64
	events map[int64]*models.Event
}

// NewInMemory constructs an empty in-memory event store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		nextID: 1,
		events: make(map[int64]*models.Event),
	}
}

func (s *InMemoryStore) Save(ctx context.Context, event *models.Event) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == 0 {
		cp := event.Clone()
		cp.ID = s.nextID
		s.nextID++
		s.events[cp.ID] = cp
		return cp.Clone(), nil
	}

	existing, ok := s.events[event.ID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	applyMutableFields(existing, event)
	return existing.Clone(), nil
}

func (s *InMemoryStore) FindByID(ctx context.Context, id int64) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return event.Clone(), nil
}

func (s *InMemoryStore) ClaimBatch(ctx context.Context, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*models.Event, 0)
	for _, event := range s.events {
		if event.CanBeProcessed() {
			candidates = append(candidates, event)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	claimed := make([]*models.Event, 0, len(candidates))
	for _, event := range candidates {
		snapshot := event.Clone()
		if err := event.StartProcessing(); err != nil {
			return nil, err
		}
		claimed = append(claimed, snapshot)
	}
	return claimed, nil
}

func (s *InMemoryStore) UpdateStatus(ctx context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.events[event.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	applyMutableFields(existing, event)
	return nil
}

func (s *InMemoryStore) CountByStatus(ctx context.Context, status models.Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, event := range s.events {
		if event.Status == status {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) CountProcessable(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, event := range s.events {
		if event.CanBeProcessed() {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) Statistics(ctx context.Context) (Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Statistics{ByStatus: make(map[models.Status]int, len(models.Statuses))}
	for _, status := range models.Statuses {
		stats.ByStatus[status] = 0
	}
	for _, event := range s.events {
		stats.ByStatus[event.Status]++
		stats.Total++
	}
	return stats, nil
}

func (s *InMemoryStore) CleanupOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-retention)
	var deleted int64
	for id, event := range s.events {
		if event.IsTerminal() && event.CreatedAt.Before(cutoff) {
			delete(s.events, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *InMemoryStore) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var touched int64
	for _, event := range s.events {
		if event.Status != models.StatusProcessing || !event.UpdatedAt.Before(cutoff) {
			continue
		}
		if event.RetryCount < models.MaxRetryCount {
			event.Status = models.StatusRetrying
			event.RetryCount++
			event.ErrorMessage = ""
		} else {
			event.Status = models.StatusFailed
			event.ErrorMessage = "processing timed out without an owner"
		}
		event.UpdatedAt = time.Now().UTC()
		touched++
	}
	return touched, nil
}

func (s *InMemoryStore) RequeueFailed(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*models.Event, 0)
	for _, event := range s.events {
		if event.CanBeRetried() {
			candidates = append(candidates, event)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	for _, event := range candidates {
		if err := event.MarkForRetry(); err != nil {
			return int64(len(candidates)), err
		}
	}
	return int64(len(candidates)), nil
}

// applyMutableFields copies only the fields UpdateStatus/Save are allowed to
// rewrite; identity fields stay untouched.
func applyMutableFields(dst, src *models.Event) {
	dst.Status = src.Status
	dst.RetryCount = src.RetryCount
	dst.ErrorMessage = src.ErrorMessage
	dst.UpdatedAt = src.UpdatedAt
	if src.ProcessedAt != nil {
		t := *src.ProcessedAt
		dst.ProcessedAt = &t
	}
}

// InMemoryRunStateStore keeps the scheduler record in memory. Useful for
// tests and single-process local runs.
type InMemoryRunStateStore struct {
	mu    sync.Mutex
	state RunState
}

// NewInMemoryRunState constructs an empty run-state store.
func NewInMemoryRunState() *InMemoryRunStateStore {
	return &InMemoryRunStateStore{}
}

func (s *InMemoryRunStateStore) Load(ctx context.Context) (RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *InMemoryRunStateStore) Save(ctx context.Context, state RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	return nil
}

func (s *InMemoryRunStateStore) SetProcessing(ctx context.Context, processing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.IsProcessing = processing
	return nil
}

func (s *InMemoryRunStateStore) ClearStaleLock(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasLocked := s.state.IsProcessing
	s.state.IsProcessing = false
	return wasLocked, nil
}
