package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/groovehub/groove-charts-hub/internal/domain/chart"
	"github.com/groovehub/groove-charts-hub/internal/domain/records"
	"github.com/groovehub/groove-charts-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CALCULATE RECORDS JOB
// ══════════════════════════════════════════════════════════════════════════════

// CalculateRecordsJob consumes the durable records queue and computes each
// group's superlatives. It runs outside the generation lock: chart generation
// finishes the moment the queue entry is written, and the heavy record math
// happens here.
type CalculateRecordsJob struct {
	queue       records.JobQueue
	recordsRepo records.Repository
	statsRepo   records.StatsRepository
	charts      chart.Repository
	logger      *logger.Logger

	config CalculateRecordsConfig

	lastRunStats atomic.Value // *RecordsStats
}

// CalculateRecordsConfig contains configuration for the records consumer.
type CalculateRecordsConfig struct {
	// BatchSize is how many queued jobs one pass claims.
	BatchSize int
}

// DefaultCalculateRecordsConfig returns sensible defaults.
func DefaultCalculateRecordsConfig() CalculateRecordsConfig {
	return CalculateRecordsConfig{
		BatchSize: 10,
	}
}

// RecordsStats contains statistics from one consumer pass.
type RecordsStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	JobsClaimed int
	Calculated  int
	Skipped     int
	Failed      int
}

// NewCalculateRecordsJob creates a new records queue consumer.
func NewCalculateRecordsJob(
	queue records.JobQueue,
	recordsRepo records.Repository,
	statsRepo records.StatsRepository,
	charts chart.Repository,
	log *logger.Logger,
	config CalculateRecordsConfig,
) *CalculateRecordsJob {
	if log == nil {
		log = logger.Default()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}

	return &CalculateRecordsJob{
		queue:       queue,
		recordsRepo: recordsRepo,
		statsRepo:   statsRepo,
		charts:      charts,
		logger:      log.With(logger.Component("calculate_records")),
		config:      config,
	}
}

// Name returns the job name.
func (j *CalculateRecordsJob) Name() string {
	return "calculate_records"
}

// Description returns a human-readable description.
func (j *CalculateRecordsJob) Description() string {
	return "Consumes the records queue and recalculates group superlatives"
}

// Run executes one consumer pass.
func (j *CalculateRecordsJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &RecordsStats{StartedAt: startedAt}
	defer func() {
		stats.CompletedAt = time.Now()
		stats.Duration = stats.CompletedAt.Sub(startedAt)
		j.lastRunStats.Store(stats)
	}()

	jobs, err := j.queue.DequeueBatch(ctx, j.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to dequeue records jobs: %w", err)
	}
	stats.JobsClaimed = len(jobs)
	if len(jobs) == 0 {
		return nil
	}

	var firstErr error
	for _, job := range coalesceJobs(jobs) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch err := j.processJob(ctx, job); {
		case err == errCalculationSkipped:
			stats.Skipped++
		case err != nil:
			stats.Failed++
			if firstErr == nil {
				firstErr = err
			}
			j.logger.Error("records calculation failed",
				logger.GroupID(job.GroupID),
				logger.Err(err),
			)
		default:
			stats.Calculated++
		}
	}

	j.logger.Info("records pass completed",
		logger.Int("claimed", stats.JobsClaimed),
		logger.Int("calculated", stats.Calculated),
		logger.Int("skipped", stats.Skipped),
		logger.Int("failed", stats.Failed),
		logger.Duration("duration", time.Since(startedAt)),
	)

	return firstErr
}

// LastRunStats returns statistics from the last consumer pass.
func (j *CalculateRecordsJob) LastRunStats() *RecordsStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*RecordsStats)
}

// errCalculationSkipped signals a job dropped because a calculation is
// already in flight for the group. Internal to the consumer loop.
var errCalculationSkipped = fmt.Errorf("records calculation skipped")

// coalesceJobs merges queued jobs per group: a batch can hold several entries
// for the same group when the consumer lagged, and one calculation covers
// them all. A full-rebuild job (nil touched set) swallows incremental ones.
func coalesceJobs(jobs []*records.Job) []*records.Job {
	byGroup := make(map[string]*records.Job)
	order := make([]string, 0, len(jobs))

	for _, job := range jobs {
		existing, ok := byGroup[job.GroupID]
		if !ok {
			merged := *job
			byGroup[job.GroupID] = &merged
			order = append(order, job.GroupID)
			continue
		}
		if existing.Touched == nil || job.Touched == nil {
			existing.Touched = nil
		} else {
			existing.Touched = append(existing.Touched, job.Touched...)
		}
		if job.EnqueuedAt.After(existing.EnqueuedAt) {
			existing.EnqueuedAt = job.EnqueuedAt
		}
	}

	out := make([]*records.Job, 0, len(order))
	for _, id := range order {
		out = append(out, byGroup[id])
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// CALCULATION
// ══════════════════════════════════════════════════════════════════════════════

// processJob runs one group's calculation. Whatever happens, the row never
// stays in "calculating": it ends as "completed" or "failed".
func (j *CalculateRecordsJob) processJob(ctx context.Context, job *records.Job) error {
	now := time.Now().UTC()

	existing, err := j.recordsRepo.Get(ctx, job.GroupID)
	if err != nil {
		return fmt.Errorf("failed to read records row: %w", err)
	}
	if !existing.ShouldRun(now) {
		j.logger.Info("records calculation already in flight, skipping",
			logger.GroupID(job.GroupID),
		)
		return errCalculationSkipped
	}

	if err := j.recordsRepo.Recreate(ctx, job.GroupID, now, job.EnqueuedAt); err != nil {
		return fmt.Errorf("failed to recreate records row: %w", err)
	}

	blob, err := j.calculate(ctx, job)
	if err != nil {
		if failErr := j.recordsRepo.Fail(ctx, job.GroupID, err); failErr != nil {
			j.logger.Error("failed to mark records row failed",
				logger.GroupID(job.GroupID),
				logger.Err(failErr),
			)
		}
		return err
	}

	if err := j.recordsRepo.Complete(ctx, job.GroupID, blob); err != nil {
		return fmt.Errorf("failed to store records: %w", err)
	}

	j.logger.Info("records calculated",
		logger.GroupID(job.GroupID),
		logger.Bool("full_rebuild", job.Touched == nil),
	)
	return nil
}

// calculate builds the records blob. The incremental path relies on the
// generation run having already refreshed the per-entry aggregates for the
// touched set; the full path rebuilds every aggregate from chart history.
func (j *CalculateRecordsJob) calculate(ctx context.Context, job *records.Job) (*records.Blob, error) {
	if job.Touched == nil {
		if err := j.rebuildEntryStats(ctx, job.GroupID); err != nil {
			return nil, err
		}
	}

	stats, err := j.statsRepo.ListEntryStats(ctx, job.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entry stats: %w", err)
	}

	// User records have no incremental form: every award ranges over the
	// whole contribution history, so both paths read it in full.
	entries, err := j.charts.GetAllEntries(ctx, job.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to read chart history: %w", err)
	}
	contribs, err := j.charts.GetAllContributions(ctx, job.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to read contribution history: %w", err)
	}

	return &records.Blob{
		Entries:    records.BuildEntryRecords(stats),
		Users:      records.BuildUserRecords(entries, contribs),
		ComputedAt: time.Now().UTC(),
	}, nil
}

// rebuildEntryStats recomputes every entry aggregate from scratch. Only the
// full-rebuild path pays this cost.
func (j *CalculateRecordsJob) rebuildEntryStats(ctx context.Context, groupID string) error {
	latestWeek, err := j.charts.GetLatestWeekStart(ctx, groupID)
	if err != nil {
		return fmt.Errorf("failed to read latest week: %w", err)
	}
	if latestWeek == nil {
		return nil
	}

	entries, err := j.charts.GetAllEntries(ctx, groupID)
	if err != nil {
		return fmt.Errorf("failed to read chart history: %w", err)
	}

	type statsKey struct {
		chartType chart.Type
		key       chart.EntryKey
	}
	histories := make(map[statsKey][]chart.Entry)
	order := make([]statsKey, 0)
	for _, e := range entries {
		k := statsKey{chartType: e.ChartType, key: e.Key}
		if _, ok := histories[k]; !ok {
			order = append(order, k)
		}
		histories[k] = append(histories[k], e)
	}

	rebuilt := make([]*records.EntryStats, 0, len(order))
	for _, k := range order {
		if s := records.ComputeEntryStats(histories[k], *latestWeek); s != nil {
			rebuilt = append(rebuilt, s)
		}
	}

	if len(rebuilt) == 0 {
		return nil
	}
	if err := j.statsRepo.UpsertEntryStats(ctx, rebuilt); err != nil {
		return fmt.Errorf("failed to upsert rebuilt entry stats: %w", err)
	}
	return nil
}
