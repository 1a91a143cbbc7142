package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veriq/internal/event/models"
	"veriq/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) newEvent(doc string) *models.Event {
	event, err := models.NewEvent(
		"5f6e7a12-9c1b-4f7e-bb6e-0a4c2d8f1e33",
		models.MustIdentityNumber("23227276102"),
		models.EventTypeEducationDocumentCreated,
		map[string]any{"id": "edu-1", "documentNumber": doc},
		models.MustDocumentNumber(doc),
	)
	s.Require().NoError(err)
	return event
}

func (s *MemoryStoreSuite) saveNew(doc string) *models.Event {
	saved, err := s.store.Save(s.ctx, s.newEvent(doc))
	s.Require().NoError(err)
	return saved
}

func (s *MemoryStoreSuite) TestSaveAndFind() {
	s.Run("assigns id on first insert", func() {
		saved := s.saveNew("AB123")
		s.Require().NotZero(saved.ID)

		found, err := s.store.FindByID(s.ctx, saved.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusNew, found.Status)
		s.Equal("AB123", found.DocumentNumber.String())
	})

	s.Run("returns ErrNotFound for unknown id", func() {
		_, err := s.store.FindByID(s.ctx, 9999)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("save on known id updates mutable fields only", func() {
		saved := s.saveNew("CD456")
		s.Require().NoError(saved.StartProcessing())
		s.Require().NoError(saved.MarkFailed("boom"))

		_, err := s.store.Save(s.ctx, saved)
		s.Require().NoError(err)

		found, err := s.store.FindByID(s.ctx, saved.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusFailed, found.Status)
		s.Equal("boom", found.ErrorMessage)
		s.Equal("CD456", found.DocumentNumber.String())
	})
}

func (s *MemoryStoreSuite) TestClaimBatch() {
	s.Run("claims oldest first and transitions to processing", func() {
		first := s.saveNew("AB123")
		second := s.saveNew("CD456")

		batch, err := s.store.ClaimBatch(s.ctx, 1)
		s.Require().NoError(err)
		s.Require().Len(batch, 1)
		s.Equal(first.ID, batch[0].ID)
		// Snapshot is pre-transition; the stored copy moved on.
		s.Equal(models.StatusNew, batch[0].Status)

		stored, err := s.store.FindByID(s.ctx, first.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusProcessing, stored.Status)

		remaining, err := s.store.CountProcessable(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, remaining)
		_ = second
	})

	s.Run("zero limit claims nothing", func() {
		s.saveNew("EF789")
		batch, err := s.store.ClaimBatch(s.ctx, 0)
		s.Require().NoError(err)
		s.Empty(batch)
	})
}

func (s *MemoryStoreSuite) TestConcurrentClaimsNeverOverlap() {
	const total = 40
	for i := 0; i < total; i++ {
		s.saveNew(fmt.Sprintf("DOC-%03d", i))
	}

	var mu sync.Mutex
	seen := make(map[int64]int)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := s.store.ClaimBatch(s.ctx, 5)
				if err != nil || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, event := range batch {
					seen[event.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Len(seen, total)
	for id, count := range seen {
		s.Equal(1, count, "event %d claimed more than once", id)
	}
}

func (s *MemoryStoreSuite) TestUpdateStatus() {
	saved := s.saveNew("AB123")

	claimed, err := s.store.ClaimBatch(s.ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(claimed, 1)

	event := claimed[0]
	s.Require().NoError(event.StartProcessing())
	s.Require().NoError(event.MarkProcessed())
	s.Require().NoError(s.store.UpdateStatus(s.ctx, event))

	found, err := s.store.FindByID(s.ctx, saved.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusProcessed, found.Status)
	s.Require().NotNil(found.ProcessedAt)

	missing := s.newEvent("ZZ999")
	missing.ID = 4242
	s.Require().ErrorIs(s.store.UpdateStatus(s.ctx, missing), sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestStatistics() {
	s.saveNew("AB123")
	s.saveNew("CD456")
	_, err := s.store.ClaimBatch(s.ctx, 1)
	s.Require().NoError(err)

	stats, err := s.store.Statistics(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, stats.Total)
	s.Equal(1, stats.ByStatus[models.StatusNew])
	s.Equal(1, stats.ByStatus[models.StatusProcessing])
	// Every status is reported, zero-valued when empty.
	s.Contains(stats.ByStatus, models.StatusFailed)
	s.Equal(0, stats.ByStatus[models.StatusFailed])

	count, err := s.store.CountByStatus(s.ctx, models.StatusProcessing)
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *MemoryStoreSuite) TestCleanupOlderThan() {
	old := s.saveNew("AB123")
	claimed, err := s.store.ClaimBatch(s.ctx, 1)
	s.Require().NoError(err)
	event := claimed[0]
	s.Require().NoError(event.StartProcessing())
	s.Require().NoError(event.MarkProcessed())
	s.Require().NoError(s.store.UpdateStatus(s.ctx, event))

	// Backdate the terminal event past the retention window.
	s.store.mu.Lock()
	s.store.events[old.ID].CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	s.store.mu.Unlock()

	fresh := s.saveNew("CD456")

	deleted, err := s.store.CleanupOlderThan(s.ctx, 24*time.Hour)
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)

	_, err = s.store.FindByID(s.ctx, old.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.FindByID(s.ctx, fresh.ID)
	s.Require().NoError(err)

	// Second sweep is a no-op.
	deleted, err = s.store.CleanupOlderThan(s.ctx, 24*time.Hour)
	s.Require().NoError(err)
	s.Zero(deleted)
}

func (s *MemoryStoreSuite) TestCleanupKeepsNonTerminal() {
	pending := s.saveNew("AB123")
	s.store.mu.Lock()
	s.store.events[pending.ID].CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	s.store.mu.Unlock()

	deleted, err := s.store.CleanupOlderThan(s.ctx, 24*time.Hour)
	s.Require().NoError(err)
	s.Zero(deleted)
}

func (s *MemoryStoreSuite) TestRequeueStale() {
	s.saveNew("AB123")
	claimed, err := s.store.ClaimBatch(s.ctx, 1)
	s.Require().NoError(err)
	id := claimed[0].ID

	s.store.mu.Lock()
	s.store.events[id].UpdatedAt = time.Now().UTC().Add(-time.Hour)
	s.store.mu.Unlock()

	touched, err := s.store.RequeueStale(s.ctx, 30*time.Minute)
	s.Require().NoError(err)
	s.Equal(int64(1), touched)

	found, err := s.store.FindByID(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StatusRetrying, found.Status)
	s.Equal(1, found.RetryCount)
}

func (s *MemoryStoreSuite) TestRequeueStaleFailsExhaustedEvents() {
	s.saveNew("AB123")
	claimed, err := s.store.ClaimBatch(s.ctx, 1)
	s.Require().NoError(err)
	id := claimed[0].ID

	s.store.mu.Lock()
	s.store.events[id].RetryCount = models.MaxRetryCount
	s.store.events[id].UpdatedAt = time.Now().UTC().Add(-time.Hour)
	s.store.mu.Unlock()

	touched, err := s.store.RequeueStale(s.ctx, 30*time.Minute)
	s.Require().NoError(err)
	s.Equal(int64(1), touched)

	found, err := s.store.FindByID(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, found.Status)
	s.NotEmpty(found.ErrorMessage)
	s.True(found.IsTerminal())
}

func (s *MemoryStoreSuite) TestRequeueFailed() {
	s.saveNew("AB123")
	claimed, err := s.store.ClaimBatch(s.ctx, 1)
	s.Require().NoError(err)
	event := claimed[0]
	s.Require().NoError(event.StartProcessing())
	s.Require().NoError(event.MarkFailed("verifier said no"))
	s.Require().NoError(s.store.UpdateStatus(s.ctx, event))

	requeued, err := s.store.RequeueFailed(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(int64(1), requeued)

	found, err := s.store.FindByID(s.ctx, event.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRetrying, found.Status)
	s.Equal(1, found.RetryCount)

	// Exhausted events stay failed.
	s.store.mu.Lock()
	s.store.events[event.ID].Status = models.StatusFailed
	s.store.events[event.ID].RetryCount = models.MaxRetryCount
	s.store.mu.Unlock()

	requeued, err = s.store.RequeueFailed(s.ctx, 10)
	s.Require().NoError(err)
	s.Zero(requeued)
}

type RunStateSuite struct {
	suite.Suite
	store *InMemoryRunStateStore
	ctx   context.Context
}

func (s *RunStateSuite) SetupTest() {
	s.store = NewInMemoryRunState()
	s.ctx = context.Background()
}

func TestRunStateSuite(t *testing.T) {
	suite.Run(t, new(RunStateSuite))
}

func (s *RunStateSuite) TestRoundTrip() {
	now := time.Now().UTC()
	state := RunState{
		LastSuccessfulRun: &now,
		LastBatchSize:     42,
		ProcessedToday:    7,
		CounterDay:        now.Truncate(24 * time.Hour),
	}
	s.Require().NoError(s.store.Save(s.ctx, state))

	loaded, err := s.store.Load(s.ctx)
	s.Require().NoError(err)
	s.Equal(42, loaded.LastBatchSize)
	s.Equal(7, loaded.ProcessedToday)
	s.Require().NotNil(loaded.LastSuccessfulRun)
}

func (s *RunStateSuite) TestProcessingLock() {
	s.Require().NoError(s.store.SetProcessing(s.ctx, true))
	loaded, err := s.store.Load(s.ctx)
	s.Require().NoError(err)
	s.True(loaded.IsProcessing)

	cleared, err := s.store.ClearStaleLock(s.ctx)
	s.Require().NoError(err)
	s.True(cleared)

	cleared, err = s.store.ClearStaleLock(s.ctx)
	s.Require().NoError(err)
	s.False(cleared)
}
