package records

import (
	"context"
	"time"

	"github.com/groovehub/groove-charts-hub/internal/domain/chart"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORDS REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// StatsRepository persists the running per-entry aggregates.
type StatsRepository interface {
	// UpsertEntryStats writes the aggregates for a batch of entries,
	// keyed by (group, chartType, entryKey).
	UpsertEntryStats(ctx context.Context, stats []*EntryStats) error

	// GetEntryStats returns the stored aggregate, or shared.ErrNotFound.
	GetEntryStats(ctx context.Context, groupID string, chartType chart.Type, key chart.EntryKey) (*EntryStats, error)

	// ListEntryStats returns every stored aggregate for the group.
	ListEntryStats(ctx context.Context, groupID string) ([]*EntryStats, error)

	// CloseMissing flips CurrentlyCharting off for every entry whose latest
	// appearance predates the given week. Called once per generation run.
	CloseMissing(ctx context.Context, groupID string, latestWeek time.Time) (int, error)
}

// Repository persists the per-group records row.
type Repository interface {
	// Get returns the group's records row, or nil when none exists.
	Get(ctx context.Context, groupID string) (*GroupRecords, error)

	// Recreate deletes any existing row and inserts a fresh one in
	// "calculating" state. The delete-and-recreate is what makes a full
	// rerun observable as such.
	Recreate(ctx context.Context, groupID string, startedAt time.Time, chartsGeneratedAt time.Time) error

	// Complete stores the computed blob and flips the row to "completed".
	Complete(ctx context.Context, groupID string, blob *Blob) error

	// Fail flips the row to "failed" with the error message. A crashed
	// calculation must never be left in "calculating".
	Fail(ctx context.Context, groupID string, calcErr error) error
}

// ══════════════════════════════════════════════════════════════════════════════
// DURABLE CALCULATION QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// Job is a durable request for a records calculation. The orchestrator
// enqueues one at the end of a generation run; the worker's records consumer
// picks it up in its own execution context, so the calculation survives the
// orchestrator's lifetime.
type Job struct {
	ID      string
	GroupID string
	// Touched is nil for a full recalculation, otherwise the de-duplicated
	// set of entries the incremental pass has to re-evaluate.
	Touched    []chart.TouchedEntry
	EnqueuedAt time.Time
}

// JobQueue is the durable queue the worker consumes.
type JobQueue interface {
	// Enqueue appends a job. Enqueueing is best-effort from the
	// orchestrator's point of view; failures are logged, not fatal.
	Enqueue(ctx context.Context, job *Job) error

	// DequeueBatch claims up to limit pending jobs, oldest first. Claimed
	// jobs are removed; a crashed consumer loses at most one batch, which
	// the next generation run replaces anyway.
	DequeueBatch(ctx context.Context, limit int) ([]*Job, error)
}
