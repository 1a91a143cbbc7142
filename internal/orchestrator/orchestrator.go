// Package orchestrator decides when a processing cycle may run, runs it, and
// records the outcome. A single cooperative poll loop drives everything; the
// persisted run-state lock keeps cycles from ever overlapping, including
// across process restarts.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"veriq/internal/event/metrics"
	"veriq/internal/event/models"
	"veriq/internal/event/store"
	"veriq/internal/notifier"
	"veriq/internal/verifier"
)

// Config carries the scheduler's operational knobs.
type Config struct {
	// ProcessingInterval is the minimum gap between successful cycles.
	ProcessingInterval time.Duration
	// CheckInterval is the poll loop's sleep between admission checks.
	CheckInterval time.Duration
	// BatchSize bounds how many events one cycle claims.
	BatchSize int
	// Retention is how long terminal events are kept before cleanup.
	Retention time.Duration
	// CleanupInterval is the rolling window between retention sweeps.
	CleanupInterval time.Duration
	// StaleProcessingAfter is how long an event may sit in processing with
	// no owner before the maintenance sweep requeues it.
	StaleProcessingAfter time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ProcessingInterval:   2 * time.Hour,
		CheckInterval:        60 * time.Second,
		BatchSize:            100,
		Retention:            30 * 24 * time.Hour,
		CleanupInterval:      24 * time.Hour,
		StaleProcessingAfter: 30 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ProcessingInterval <= 0 {
		c.ProcessingInterval = d.ProcessingInterval
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.StaleProcessingAfter <= 0 {
		c.StaleProcessingAfter = d.StaleProcessingAfter
	}
	return c
}

// CycleStats summarizes one processing cycle.
type CycleStats struct {
	Claimed    int
	Processed  int
	Failed     int
	Notified   int
	NotifyFail int
}

// Orchestrator owns the poll loop and the cycle state machine.
type Orchestrator struct {
	cfg      Config
	events   store.Store
	runState store.RunStateStore
	verify   verifier.Verifier
	notify   notifier.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	clock    func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// New constructs an orchestrator. The store, run-state store, verifier and
// notifier are all required.
func New(cfg Config, events store.Store, runState store.RunStateStore, verify verifier.Verifier, notify notifier.Notifier, opts ...Option) (*Orchestrator, error) {
	if events == nil {
		return nil, fmt.Errorf("event store is required")
	}
	if runState == nil {
		return nil, fmt.Errorf("run-state store is required")
	}
	if verify == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	if notify == nil {
		return nil, fmt.Errorf("notifier is required")
	}

	o := &Orchestrator{
		cfg:      cfg.withDefaults(),
		events:   events,
		runState: runState,
		verify:   verify,
		notify:   notify,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// ShouldStartProcessing decides whether a cycle may begin, with a
// human-readable reason either way.
func (o *Orchestrator) ShouldStartProcessing(ctx context.Context) (bool, string, error) {
	state, err := o.runState.Load(ctx)
	if err != nil {
		return false, "", fmt.Errorf("load run state: %w", err)
	}
	if state.IsProcessing {
		return false, "a processing cycle is already running", nil
	}

	pending, err := o.events.CountProcessable(ctx)
	if err != nil {
		return false, "", fmt.Errorf("count pending events: %w", err)
	}
	o.metrics.SetQueueDepth(pending)
	if pending == 0 {
		return false, "no pending events in queue", nil
	}

	if state.LastSuccessfulRun != nil {
		elapsed := o.clock().Sub(*state.LastSuccessfulRun)
		if elapsed < o.cfg.ProcessingInterval {
			remaining := (o.cfg.ProcessingInterval - elapsed).Round(time.Minute)
			return false, fmt.Sprintf("interval not elapsed, %s remaining", remaining), nil
		}
	}

	return true, fmt.Sprintf("ready to process %d events", pending), nil
}

// RunProcessingCycle claims one batch and drives every claimed event through
// verification and notification, persisting each outcome before moving on.
// The run-state lock is taken before any work and released on every path.
func (o *Orchestrator) RunProcessingCycle(ctx context.Context) (CycleStats, error) {
	start := o.clock()
	var stats CycleStats

	// Persist the lock before any network or batch work, so a concurrent
	// admission check refuses immediately.
	if err := o.runState.SetProcessing(ctx, true); err != nil {
		return stats, fmt.Errorf("acquire processing lock: %w", err)
	}
	defer func() {
		// The lock must be released regardless of how the cycle ended. Use a
		// background context so cancellation cannot leave it held.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.runState.SetProcessing(releaseCtx, false); err != nil {
			o.logger.Error("failed to release processing lock", "error", err)
		}
	}()

	if err := o.notify.Ping(ctx); err != nil {
		o.logger.WarnContext(ctx, "backend unreachable, continuing with verification only", "error", err)
	}

	batch, err := o.events.ClaimBatch(ctx, o.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("claim batch: %w", err)
	}
	stats.Claimed = len(batch)
	if len(batch) == 0 {
		o.logger.InfoContext(ctx, "no events to process")
		return stats, nil
	}
	o.logger.InfoContext(ctx, "processing batch", "size", len(batch))

	for _, event := range batch {
		o.processEvent(ctx, event, &stats)
	}

	if err := o.recordCycleOutcome(ctx, stats); err != nil {
		return stats, err
	}

	o.metrics.ObserveCycle(o.clock().Sub(start).Seconds())
	o.logger.InfoContext(ctx, "processing cycle completed",
		"claimed", stats.Claimed,
		"processed", stats.Processed,
		"failed", stats.Failed,
		"notified", stats.Notified,
	)
	return stats, nil
}

// processEvent runs one claimed event to completion. Every outcome is
// persisted before returning, so a crash mid-batch loses at most the
// in-flight event's visibility.
func (o *Orchestrator) processEvent(ctx context.Context, event *models.Event, stats *CycleStats) {
	// The claim snapshot is pre-transition; replay the transition locally so
	// the entity's guards hold before mutating further.
	if err := event.StartProcessing(); err != nil {
		o.logger.ErrorContext(ctx, "claimed event in unexpected status",
			"event_id", event.ID, "status", string(event.Status), "error", err)
		return
	}

	in, err := event.ToVerificationInput()
	if err != nil {
		// Malformed payload: terminal failure, retrying cannot help.
		o.failEventPermanently(ctx, event, fmt.Sprintf("invalid event payload: %v", err), stats)
		return
	}

	result, err := o.verify.Verify(ctx, in)
	if err != nil {
		o.failEvent(ctx, event, fmt.Sprintf("verifier error: %v", err), stats)
		return
	}
	if !result.Success {
		message := result.Message
		if message == "" {
			message = "document verification failed"
		}
		o.failEvent(ctx, event, message, stats)
		return
	}

	if err := event.MarkProcessed(); err != nil {
		o.logger.ErrorContext(ctx, "illegal transition to processed", "event_id", event.ID, "error", err)
		return
	}
	if err := o.events.UpdateStatus(ctx, event); err != nil {
		o.logger.ErrorContext(ctx, "failed to persist processed event", "event_id", event.ID, "error", err)
		return
	}
	stats.Processed++
	o.metrics.IncrementProcessed()
	o.logger.InfoContext(ctx, "event verified",
		"event_id", event.ID,
		"identity", event.IdentityNumber.Masked(),
		"category", string(event.Type.Category()),
	)

	// Notification failure is a delivery concern; it never reverts the
	// verification outcome.
	if err := o.notify.Notify(ctx, event, result); err != nil {
		stats.NotifyFail++
		o.logger.WarnContext(ctx, "backend notification failed", "event_id", event.ID, "error", err)
		return
	}
	stats.Notified++
}

func (o *Orchestrator) failEvent(ctx context.Context, event *models.Event, message string, stats *CycleStats) {
	o.recordFailure(ctx, event, message, stats, event.MarkFailed)
}

func (o *Orchestrator) failEventPermanently(ctx context.Context, event *models.Event, message string, stats *CycleStats) {
	o.recordFailure(ctx, event, message, stats, event.MarkFailedPermanently)
}

func (o *Orchestrator) recordFailure(ctx context.Context, event *models.Event, message string, stats *CycleStats, mark func(string) error) {
	if err := mark(message); err != nil {
		o.logger.ErrorContext(ctx, "illegal transition to failed", "event_id", event.ID, "error", err)
		return
	}
	if err := o.events.UpdateStatus(ctx, event); err != nil {
		o.logger.ErrorContext(ctx, "failed to persist failed event", "event_id", event.ID, "error", err)
		return
	}
	stats.Failed++
	o.metrics.IncrementFailed()
	o.logger.WarnContext(ctx, "event failed", "event_id", event.ID, "reason", message)
}

func (o *Orchestrator) recordCycleOutcome(ctx context.Context, stats CycleStats) error {
	state, err := o.runState.Load(ctx)
	if err != nil {
		return fmt.Errorf("load run state after cycle: %w", err)
	}

	now := o.clock().UTC()
	state.LastSuccessfulRun = &now
	state.LastBatchSize = stats.Claimed

	day := now.Truncate(24 * time.Hour)
	if !state.CounterDay.Equal(day) {
		state.CounterDay = day
		state.ProcessedToday = 0
	}
	state.ProcessedToday += stats.Processed

	if err := o.runState.Save(ctx, state); err != nil {
		return fmt.Errorf("save run state after cycle: %w", err)
	}
	return nil
}

// PerformMaintenance requeues stale processing events on every pass and runs
// retention cleanup once per rolling cleanup window.
func (o *Orchestrator) PerformMaintenance(ctx context.Context) error {
	requeued, err := o.events.RequeueStale(ctx, o.cfg.StaleProcessingAfter)
	if err != nil {
		return fmt.Errorf("requeue stale events: %w", err)
	}
	if requeued > 0 {
		o.metrics.AddRequeued(requeued)
		o.logger.WarnContext(ctx, "requeued stale processing events", "count", requeued)
	}

	retried, err := o.events.RequeueFailed(ctx, o.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("requeue failed events: %w", err)
	}
	if retried > 0 {
		o.metrics.AddRequeued(retried)
		o.logger.InfoContext(ctx, "requeued failed events for retry", "count", retried)
	}

	state, err := o.runState.Load(ctx)
	if err != nil {
		return fmt.Errorf("load run state for maintenance: %w", err)
	}
	now := o.clock().UTC()
	if state.LastCleanup != nil && now.Sub(*state.LastCleanup) < o.cfg.CleanupInterval {
		return nil
	}

	deleted, err := o.events.CleanupOlderThan(ctx, o.cfg.Retention)
	if err != nil {
		return fmt.Errorf("cleanup old events: %w", err)
	}
	o.metrics.AddCleaned(deleted)
	if deleted > 0 {
		o.logger.InfoContext(ctx, "removed old terminal events", "count", deleted)
	}

	state.LastCleanup = &now
	if err := o.runState.Save(ctx, state); err != nil {
		return fmt.Errorf("save run state after maintenance: %w", err)
	}
	return nil
}

// Run executes the poll loop until ctx is cancelled. A stale lock left by a
// crashed process is cleared once before the loop starts. Cycle errors and
// panics are confined to the iteration; the loop itself never dies.
func (o *Orchestrator) Run(ctx context.Context) error {
	cleared, err := o.runState.ClearStaleLock(ctx)
	if err != nil {
		return fmt.Errorf("clear stale lock on boot: %w", err)
	}
	if cleared {
		o.logger.Warn("cleared stale processing lock from previous run")
	}

	o.logger.Info("orchestrator started",
		"processing_interval", o.cfg.ProcessingInterval.String(),
		"check_interval", o.cfg.CheckInterval.String(),
		"batch_size", o.cfg.BatchSize,
	)

	ticker := time.NewTicker(o.cfg.CheckInterval)
	defer ticker.Stop()

	// First admission check happens immediately; the ticker paces the rest.
	o.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// tick performs one maintenance pass, one admission check, and, when
// approved, one cycle. Maintenance runs even when admission refuses so that
// stuck events cannot wedge the queue. All failures are logged and swallowed
// here so the poll loop survives them.
func (o *Orchestrator) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("processing cycle panicked", "panic", r)
		}
	}()

	if err := o.PerformMaintenance(ctx); err != nil {
		o.logger.ErrorContext(ctx, "maintenance failed", "error", err)
	}

	ok, reason, err := o.ShouldStartProcessing(ctx)
	if err != nil {
		o.logger.ErrorContext(ctx, "admission check failed", "error", err)
		return
	}
	o.logger.DebugContext(ctx, "admission check", "start", ok, "reason", reason)
	if !ok {
		return
	}

	if _, err := o.RunProcessingCycle(ctx); err != nil {
		o.logger.ErrorContext(ctx, "processing cycle failed", "error", err)
	}
}
