package chart

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHART REPOSITORY INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Repository defines the persistence contract for weekly charts. The
// implementation lives in the infrastructure layer (PostgreSQL).
type Repository interface {
	// ReplaceWeek atomically deletes any existing entries, contributions and
	// weekly stats for the window and inserts the new ones. Regenerating a
	// week therefore always yields a clean result, never a merge artifact.
	ReplaceWeek(ctx context.Context, groupID string, week Window, entries []Entry, contribs []UserContribution, stats *WeeklyStats) error

	// GetWeekPositions returns key -> position for one stored week and chart
	// type. An empty map means the week holds no chart for that type.
	GetWeekPositions(ctx context.Context, groupID string, weekStart time.Time, chartType Type) (PreviousPositions, error)

	// GetChartedKeys returns every key that has ever charted for the group
	// and chart type, used to tell "new" entries from "returning" ones.
	GetChartedKeys(ctx context.Context, groupID string, chartType Type) (map[EntryKey]bool, error)

	// GetWeekEntries returns all entries of one stored week, every chart
	// type, ordered by chart type then position.
	GetWeekEntries(ctx context.Context, groupID string, weekStart time.Time) ([]Entry, error)

	// GetEntryHistory returns every stored row for one entry, ordered by
	// week ascending. Used by the records engine in incremental mode.
	GetEntryHistory(ctx context.Context, groupID string, chartType Type, key EntryKey) ([]Entry, error)

	// GetAllEntries returns the group's full chart history ordered by week
	// ascending. Used by the records engine in full mode.
	GetAllEntries(ctx context.Context, groupID string) ([]Entry, error)

	// GetAllContributions returns the group's full contribution history.
	GetAllContributions(ctx context.Context, groupID string) ([]UserContribution, error)

	// GetLatestWeekStart returns the start of the most recently generated
	// week, or nil when the group has no charts yet.
	GetLatestWeekStart(ctx context.Context, groupID string) (*time.Time, error)

	// GetWeeklyStats returns the stored snapshot for one week.
	// Returns shared.ErrNotFound when the week has not been generated.
	GetWeeklyStats(ctx context.Context, groupID string, weekStart time.Time) (*WeeklyStats, error)

	// GetLatestWeeklyStats returns the most recent snapshot.
	GetLatestWeeklyStats(ctx context.Context, groupID string) (*WeeklyStats, error)

	// SaveTrends attaches trend data to an already stored weekly snapshot.
	SaveTrends(ctx context.Context, groupID string, weekStart time.Time, trends *Trends) error
}

// Cache is the read-side cache for hot chart data. Implemented on Redis;
// a nil-safe no-op implementation is acceptable in development.
type Cache interface {
	// SetLatest caches the latest weekly snapshot for fast reads.
	SetLatest(ctx context.Context, groupID string, stats *WeeklyStats, ttl time.Duration) error

	// GetLatest returns the cached latest snapshot, or ErrCacheMiss.
	GetLatest(ctx context.Context, groupID string) (*WeeklyStats, error)

	// InvalidateEntries removes cached per-entry statistics for every
	// touched entry in bulk. Called once per generation run, never per week.
	InvalidateEntries(ctx context.Context, groupID string, touched []TouchedEntry) error

	// InvalidateLatest drops the cached latest snapshot.
	InvalidateLatest(ctx context.Context, groupID string) error
}
