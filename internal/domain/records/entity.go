// Package records contains group-wide superlatives for Groove Charts Hub:
// running per-entry chart statistics and the computed "records" blob (longest
// streak at #1, most weeks charting, per-user awards and so on).
package records

import (
	"time"

	"github.com/groovehub/groove-charts-hub/internal/domain/chart"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHART ENTRY STATS
// ══════════════════════════════════════════════════════════════════════════════

// EntryStats is the running aggregate for one (group, chartType, entryKey).
// It is updated incrementally as weeks are generated and only rebuilt from
// scratch on an explicit full rebuild.
type EntryStats struct {
	GroupID   string
	ChartType chart.Type
	Key       chart.EntryKey
	Name      string
	Artist    string

	PeakPosition chart.Position
	WeeksAtPeak  int

	DebutPosition chart.Position
	DebutWeek     time.Time

	WeeksInTop10 int
	TotalWeeks   int
	WeeksAtOne   int

	TotalPlays int
	TotalScore float64

	LongestStreak      int
	LongestStreakStart time.Time
	LongestStreakEnd   time.Time

	CurrentlyCharting bool
	LatestWeek        time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORDS BLOB
// ══════════════════════════════════════════════════════════════════════════════

// EntryRecord is one per-entry superlative: the holder plus the value that
// won it. Values are float64 so counts and scores share one comparator.
type EntryRecord struct {
	Key    chart.EntryKey `json:"key"`
	Name   string         `json:"name"`
	Artist string         `json:"artist,omitempty"`
	Value  float64        `json:"value"`
}

// Dominates reports whether a candidate value beats the current record.
// Ties keep the existing holder, so replaying the same weeks is idempotent.
func (r *EntryRecord) Dominates(value float64) bool {
	return r == nil || value > r.Value
}

// StreakRecord is the longest-consecutive-weeks superlative.
type StreakRecord struct {
	Key    chart.EntryKey `json:"key"`
	Name   string         `json:"name"`
	Artist string         `json:"artist,omitempty"`
	Weeks  int            `json:"weeks"`
	Start  time.Time      `json:"start"`
	End    time.Time      `json:"end"`
}

// EntryRecords holds the per-entry superlatives for one chart type.
type EntryRecords struct {
	MostWeeksCharting *EntryRecord  `json:"most_weeks_charting,omitempty"`
	MostWeeksAtOne    *EntryRecord  `json:"most_weeks_at_one,omitempty"`
	MostWeeksInTop10  *EntryRecord  `json:"most_weeks_in_top10,omitempty"`
	LongestStreak     *StreakRecord `json:"longest_streak,omitempty"`
	MostPlays         *EntryRecord  `json:"most_plays,omitempty"`
	HighestScore      *EntryRecord  `json:"highest_score,omitempty"`
}

// UserRecord is one per-user superlative.
type UserRecord struct {
	UserID string  `json:"user_id"`
	Value  float64 `json:"value"`
}

// Dominates reports whether a candidate value beats the current record.
func (r *UserRecord) Dominates(value float64) bool {
	return r == nil || value > r.Value
}

// UserRecords holds the per-user superlatives for a group.
type UserRecords struct {
	MostTotalScore        *UserRecord `json:"most_total_score,omitempty"`
	MostPlays             *UserRecord `json:"most_plays,omitempty"`
	MostDistinctEntries   *UserRecord `json:"most_distinct_entries,omitempty"`
	FewestDistinctEntries *UserRecord `json:"fewest_distinct_entries,omitempty"`
	MostNumberOnes        *UserRecord `json:"most_number_ones,omitempty"`
	MostWeeksContributing *UserRecord `json:"most_weeks_contributing,omitempty"`

	// TasteMaker rewards quality over volume: the highest average
	// contribution score per charted entry.
	TasteMaker *UserRecord `json:"taste_maker,omitempty"`
	// PeakPerformer rewards picking winners: the most contributions to
	// entries that held #1 in the week they held it.
	PeakPerformer *UserRecord `json:"peak_performer,omitempty"`
}

// Blob is the full computed records payload stored on the group.
type Blob struct {
	Entries    map[chart.Type]*EntryRecords `json:"entries"`
	Users      *UserRecords                 `json:"users"`
	ComputedAt time.Time                    `json:"computed_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUP RECORDS ROW
// ══════════════════════════════════════════════════════════════════════════════

// Status is the lifecycle of a group's records calculation.
type Status string

const (
	// StatusNotStarted row exists but nothing has run yet.
	StatusNotStarted Status = "not_started"
	// StatusCalculating a calculation is in flight.
	StatusCalculating Status = "calculating"
	// StatusCompleted the blob is valid.
	StatusCompleted Status = "completed"
	// StatusFailed the last calculation errored; retriable.
	StatusFailed Status = "failed"
)

// StaleCalculationTimeout is how long a row may sit in "calculating" before
// a new trigger is allowed to take over. Mirrors the orchestrator's
// stale-lock rule at GroupRecords granularity.
const StaleCalculationTimeout = 30 * time.Minute

// GroupRecords is the one-per-group records row.
type GroupRecords struct {
	GroupID              string
	Status               Status
	Records              *Blob
	Error                string
	CalculationStartedAt *time.Time
	ChartsGeneratedAt    *time.Time
}

// ShouldRun decides whether a new calculation may start given the stored
// row. A completed row is recalculated (it will be deleted and recreated); a
// calculating row blocks unless stale.
func (g *GroupRecords) ShouldRun(now time.Time) bool {
	if g == nil {
		return true
	}
	if g.Status != StatusCalculating {
		return true
	}
	if g.CalculationStartedAt == nil {
		return true
	}
	return now.Sub(*g.CalculationStartedAt) > StaleCalculationTimeout
}
