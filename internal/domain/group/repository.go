package group

import (
	"context"
	"errors"
	"time"
)

// ErrGenerationInProgress is the signal a caller gets when it loses the
// generation lock race. It is an expected outcome, not a retriable failure.
var ErrGenerationInProgress = errors.New("group: generation already in progress")

// ══════════════════════════════════════════════════════════════════════════════
// GROUP REPOSITORY INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Repository defines the persistence contract for groups and their members.
type Repository interface {
	// GetByID returns a group. Returns shared.ErrNotFound if missing.
	GetByID(ctx context.Context, groupID string) (*Group, error)

	// ListActive returns every group eligible for scheduled generation.
	ListActive(ctx context.Context) ([]*Group, error)

	// GetMembers returns the group's member snapshot.
	GetMembers(ctx context.Context, groupID string) ([]*Member, error)

	// TryAcquireGenerationLock performs the conditional update
	// "set in_progress = true where in_progress = false". Exactly one
	// concurrent caller wins; losers get ErrGenerationInProgress. The
	// winner's GenerationStartedAt is set to startedAt.
	TryAcquireGenerationLock(ctx context.Context, groupID string, startedAt time.Time) error

	// ForceResetLock clears a lock regardless of holder. Only called after
	// LockIsStale confirmed the holder is gone.
	ForceResetLock(ctx context.Context, groupID string) error

	// UpdateProgress stores the current run progress. Only the lock holder
	// calls this.
	UpdateProgress(ctx context.Context, groupID string, progress Progress) error

	// ReleaseGenerationLock clears the lock and persists the run
	// diagnostics. Called unconditionally at the end of every run.
	ReleaseGenerationLock(ctx context.Context, groupID string, failedUsers []string, aborted bool) error
}
