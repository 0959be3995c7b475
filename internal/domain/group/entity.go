// Package group contains the group aggregate for Groove Charts Hub: the set
// of members whose combined listening history makes up the weekly charts,
// plus the generation-lock state the chart orchestrator runs under.
package group

import (
	"fmt"
	"time"

	"github.com/groovehub/groove-charts-hub/internal/domain/chart"
	"github.com/groovehub/groove-charts-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// ChartSize is the number of positions a group's charts hold.
type ChartSize int

// Allowed chart sizes.
const (
	Size10  ChartSize = 10
	Size20  ChartSize = 20
	Size50  ChartSize = 50
	Size100 ChartSize = 100
)

// IsValid reports whether the size is one of the allowed values.
func (s ChartSize) IsValid() bool {
	switch s {
	case Size10, Size20, Size50, Size100:
		return true
	}
	return false
}

// Stage identifies where a generation run currently is. Closed enum: the
// orchestrator only ever moves forward through these.
type Stage string

const (
	// StageInitializing lock acquired, backlog not yet computed.
	StageInitializing Stage = "initializing"
	// StageFetching member snapshot being loaded.
	StageFetching Stage = "fetching"
	// StageProcessing week-by-week aggregation in progress.
	StageProcessing Stage = "processing"
	// StageFinalizing all-time stats, caches and records kickoff.
	StageFinalizing Stage = "finalizing"
)

// Progress describes how far a generation run has come.
type Progress struct {
	CurrentWeek int   `json:"current_week"`
	TotalWeeks  int   `json:"total_weeks"`
	Stage       Stage `json:"stage"`
}

// String returns "processing 3/10".
func (p Progress) String() string {
	return fmt.Sprintf("%s %d/%d", p.Stage, p.CurrentWeek, p.TotalWeeks)
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUP ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// StaleLockTimeout is how old a generation lock may get before the next
// caller is allowed to force-reset it. A crashed worker must never wedge a
// group for longer than this.
const StaleLockTimeout = 30 * time.Minute

// Group is a set of members sharing weekly charts.
type Group struct {
	ID   string
	Name string

	// TrackingDay is the weekday the group's chart weeks start on.
	TrackingDay time.Weekday
	ChartSize   ChartSize
	ChartMode   chart.Mode

	// Generation lock state. Owned exclusively by the orchestrator for the
	// duration of a run; mutated only through conditional writes.
	GenerationInProgress bool
	GenerationStartedAt  *time.Time
	GenerationProgress   *Progress

	// Last-run diagnostics.
	LastFailedUsers []string
	LastAborted     bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the group's configuration.
func (g *Group) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("%w: group id", shared.ErrEmptyValue)
	}
	if g.TrackingDay < time.Sunday || g.TrackingDay > time.Saturday {
		return fmt.Errorf("%w: tracking day %d", shared.ErrValueOutOfRange, g.TrackingDay)
	}
	if !g.ChartSize.IsValid() {
		return fmt.Errorf("%w: chart size %d", shared.ErrValueOutOfRange, g.ChartSize)
	}
	if !g.ChartMode.IsValid() {
		return fmt.Errorf("%w: chart mode %q", shared.ErrInvalidInput, g.ChartMode)
	}
	return nil
}

// LockIsStale reports whether a held generation lock is older than the
// stale-lock timeout and may be force-reset.
func (g *Group) LockIsStale(now time.Time) bool {
	if !g.GenerationInProgress || g.GenerationStartedAt == nil {
		return false
	}
	return now.Sub(*g.GenerationStartedAt) > StaleLockTimeout
}

// ══════════════════════════════════════════════════════════════════════════════
// MEMBER ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Member is one (group, user) pair together with the credentials needed to
// read that user's listening history. The orchestrator snapshots members once
// per run and reuses the snapshot for every week of the run.
type Member struct {
	GroupID string
	UserID  string

	// Username on the listening service.
	Username string
	// SessionKey is the user's API session key, encrypted at rest.
	SessionKey string

	JoinedAt time.Time
}

// Validate checks the member's identity fields.
func (m *Member) Validate() error {
	if m.GroupID == "" || m.UserID == "" {
		return fmt.Errorf("%w: member identity", shared.ErrEmptyValue)
	}
	if m.Username == "" {
		return fmt.Errorf("%w: member username", shared.ErrEmptyValue)
	}
	return nil
}

// FailedSet is the set of members whose fetches have failed during a run.
// Failures propagate forward: once a member fails for week N they are skipped
// for every later week of the same run.
type FailedSet map[string]struct{}

// NewFailedSet builds a set from previously failed user IDs.
func NewFailedSet(userIDs []string) FailedSet {
	s := make(FailedSet, len(userIDs))
	for _, id := range userIDs {
		s[id] = struct{}{}
	}
	return s
}

// Add marks a member as failed.
func (s FailedSet) Add(userID string) { s[userID] = struct{}{} }

// Contains reports whether the member has already failed this run.
func (s FailedSet) Contains(userID string) bool {
	_, ok := s[userID]
	return ok
}

// UserIDs returns the failed members in sorted-insertion-free map order;
// callers needing stable output must sort.
func (s FailedSet) UserIDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}
