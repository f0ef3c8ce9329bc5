// Package reaper purges rejected notes once their retention window has
// elapsed. The blob is always deleted before the record.
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"notehub/internal/config"
	"notehub/internal/domain/models"
	"notehub/internal/domain/repositories"
	"notehub/internal/domain/services"
)

// Config contains configurable values for the retention reaper.
type Config struct {
	Enabled         bool
	Interval        time.Duration
	RetentionWindow time.Duration
	BatchSize       int
	LeaseDuration   time.Duration

	// RetryBackoff is how long a note whose blob delete failed stays out of
	// the queue. Always longer than Interval so younger notes get their turn.
	RetryBackoff time.Duration
}

// FromConfig converts the process configuration
func FromConfig(cfg config.ReaperConfig) Config {
	return Config{
		Enabled:         cfg.Enabled,
		Interval:        cfg.Interval,
		RetentionWindow: cfg.RetentionWindow,
		BatchSize:       cfg.BatchSize,
		LeaseDuration:   cfg.LeaseDuration,
		RetryBackoff:    cfg.RetryBackoff,
	}
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = config.DefaultRetentionWindow
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 5 * time.Minute
	}
	if c.RetryBackoff <= c.Interval {
		c.RetryBackoff = 2 * c.Interval
	}
}

// Stats summarizes one reaper cycle
type Stats struct {
	Candidates     int
	Purged         int
	Skipped        int
	BlobFailures   int
	RecordFailures int
}

// Chore deletes rejected notes older than the retention window.
type Chore struct {
	log     *slog.Logger
	config  Config
	notes   repositories.NoteRepository
	blobs   services.BlobStore
	metrics *Metrics

	nowFn     func() time.Time
	closed    chan struct{}
	closeOnce sync.Once
}

// NewChore creates a new reaper chore. metrics may be nil.
func NewChore(log *slog.Logger, cfg Config, notes repositories.NoteRepository, blobs services.BlobStore, metrics *Metrics) *Chore {
	cfg.applyDefaults()
	return &Chore{
		log:     log,
		config:  cfg,
		notes:   notes,
		blobs:   blobs,
		metrics: metrics,

		nowFn:  time.Now,
		closed: make(chan struct{}),
	}
}

// TestingSetNow allows tests to have the chore act as if the current time is whatever they want.
func (chore *Chore) TestingSetNow(nowFn func() time.Time) {
	chore.nowFn = nowFn
}

// Run cycles until ctx is done or the chore is closed. A failed cycle is
// logged and retried on the next tick.
func (chore *Chore) Run(ctx context.Context) error {
	if !chore.config.Enabled {
		chore.log.Info("reaper disabled")
		return nil
	}

	ticker := time.NewTicker(chore.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := chore.RunOnce(ctx); err != nil && ctx.Err() == nil {
			chore.log.Error("reaper cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-chore.closed:
			return nil
		case <-ticker.C:
		}
	}
}

// Close stops the reaper loop.
func (chore *Chore) Close() error {
	chore.closeOnce.Do(func() { close(chore.closed) })
	return nil
}

// RunOnce processes one batch of expired notes.
func (chore *Chore) RunOnce(ctx context.Context) (stats Stats, err error) {
	start := time.Now()
	defer func() { chore.metrics.observeCycle(time.Since(start), stats) }()

	now := chore.nowFn()
	cutoff := now.Add(-chore.config.RetentionWindow)

	candidates, err := chore.notes.ListReapable(ctx, cutoff, now, chore.config.BatchSize)
	if err != nil {
		return stats, err
	}
	stats.Candidates = len(candidates)

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		chore.purge(ctx, &candidates[i], cutoff, now, &stats)
	}

	if stats.Candidates > 0 {
		chore.log.Info("reaper cycle finished",
			"candidates", stats.Candidates,
			"purged", stats.Purged,
			"skipped", stats.Skipped,
			"blob_failures", stats.BlobFailures,
			"record_failures", stats.RecordFailures,
		)
	}
	return stats, nil
}

func (chore *Chore) purge(ctx context.Context, note *models.Note, cutoff, now time.Time, stats *Stats) {
	claimed, err := chore.notes.ClaimForReap(ctx, note.ID, cutoff, now, now.Add(chore.config.LeaseDuration))
	if err != nil {
		stats.RecordFailures++
		chore.log.Warn("failed to claim note for reaping", "note_id", note.ID, "error", err)
		return
	}
	if !claimed {
		stats.Skipped++
		return
	}

	// The record stays until its blob is gone. The note sits out the next
	// cycle so a stuck blob cannot hold the head of the queue.
	if err := chore.blobs.Delete(ctx, note.BlobRef); err != nil {
		stats.BlobFailures++
		retryAt := now.Add(chore.config.RetryBackoff)
		chore.log.Warn("failed to delete rejected note blob",
			"note_id", note.ID,
			"blob_ref", note.BlobRef,
			"retry_at", retryAt,
			"error", err,
		)
		if err := chore.notes.DeferReap(context.WithoutCancel(ctx), note.ID, retryAt); err != nil {
			chore.log.Warn("failed to defer reap", "note_id", note.ID, "error", err)
		}
		return
	}

	deleted, err := chore.notes.DeleteRejected(ctx, note.ID)
	switch {
	case err != nil:
		stats.RecordFailures++
		chore.log.Warn("failed to delete rejected note record", "note_id", note.ID, "error", err)
	case !deleted:
		stats.Skipped++
	default:
		stats.Purged++
		chore.log.Info("rejected note purged",
			"note_id", note.ID,
			"blob_ref", note.BlobRef,
			"rejected_at", note.RejectedAt,
		)
	}
}
