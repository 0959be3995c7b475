package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/groovehub/groove-charts-hub/internal/domain/chart"
	"github.com/groovehub/groove-charts-hub/internal/domain/group"
	"github.com/groovehub/groove-charts-hub/internal/domain/shared"
)

// GroupRepository implements group.Repository for PostgreSQL.
type GroupRepository struct {
	conn *Connection
}

// NewGroupRepository creates a new GroupRepository.
func NewGroupRepository(conn *Connection) *GroupRepository {
	return &GroupRepository{conn: conn}
}

const groupColumns = `id, name, tracking_day, chart_size, chart_mode,
	   generation_in_progress, generation_started_at, generation_progress,
	   last_failed_users, last_aborted, created_at, updated_at`

// GetByID returns a group by ID.
func (r *GroupRepository) GetByID(ctx context.Context, groupID string) (*group.Group, error) {
	query := fmt.Sprintf(`SELECT %s FROM groups WHERE id = $1`, groupColumns)

	g, err := r.scanGroup(r.conn.QueryRow(ctx, query, groupID))
	if err != nil {
		if IsNoRows(err) {
			return nil, fmt.Errorf("group %s: %w", groupID, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

// ListActive returns every group eligible for scheduled generation.
func (r *GroupRepository) ListActive(ctx context.Context) ([]*group.Group, error) {
	query := fmt.Sprintf(`SELECT %s FROM groups ORDER BY created_at`, groupColumns)

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*group.Group
	for rows.Next() {
		g, err := r.scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// GetMembers returns the group's member snapshot ordered by join time.
func (r *GroupRepository) GetMembers(ctx context.Context, groupID string) ([]*group.Member, error) {
	query := `
		SELECT group_id, user_id, username, session_key, joined_at
		FROM group_members
		WHERE group_id = $1
		ORDER BY joined_at, user_id
	`

	rows, err := r.conn.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []*group.Member
	for rows.Next() {
		var m group.Member
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Username, &m.SessionKey, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

// TryAcquireGenerationLock performs the compare-and-set lock acquisition.
// The WHERE clause makes PostgreSQL the arbiter: exactly one concurrent
// caller sees RowsAffected() == 1.
func (r *GroupRepository) TryAcquireGenerationLock(ctx context.Context, groupID string, startedAt time.Time) error {
	query := `
		UPDATE groups
		SET generation_in_progress = TRUE,
		    generation_started_at = $2,
		    generation_progress = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND generation_in_progress = FALSE
	`

	tag, err := r.conn.Exec(ctx, query, groupID, startedAt)
	if err != nil {
		return fmt.Errorf("failed to acquire generation lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the group does not exist or another run holds the lock.
		// Distinguish so callers do not mistake a missing group for a race.
		var exists bool
		if err := r.conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1)`, groupID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check group existence: %w", err)
		}
		if !exists {
			return fmt.Errorf("group %s: %w", groupID, shared.ErrNotFound)
		}
		return group.ErrGenerationInProgress
	}
	return nil
}

// ForceResetLock clears a lock regardless of holder.
func (r *GroupRepository) ForceResetLock(ctx context.Context, groupID string) error {
	query := `
		UPDATE groups
		SET generation_in_progress = FALSE,
		    generation_started_at = NULL,
		    generation_progress = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.conn.Exec(ctx, query, groupID); err != nil {
		return fmt.Errorf("failed to reset generation lock: %w", err)
	}
	return nil
}

// UpdateProgress stores the current run progress.
func (r *GroupRepository) UpdateProgress(ctx context.Context, groupID string, progress group.Progress) error {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	query := `
		UPDATE groups
		SET generation_progress = $2, updated_at = NOW()
		WHERE id = $1 AND generation_in_progress = TRUE
	`

	if _, err := r.conn.Exec(ctx, query, groupID, progressJSON); err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// ReleaseGenerationLock clears the lock and persists run diagnostics.
// Unconditional: release must succeed even after a partial failure, otherwise
// the group stays wedged until the stale-lock timeout.
func (r *GroupRepository) ReleaseGenerationLock(ctx context.Context, groupID string, failedUsers []string, aborted bool) error {
	if failedUsers == nil {
		failedUsers = []string{}
	}
	failedJSON, err := json.Marshal(failedUsers)
	if err != nil {
		return fmt.Errorf("failed to marshal failed users: %w", err)
	}

	query := `
		UPDATE groups
		SET generation_in_progress = FALSE,
		    generation_started_at = NULL,
		    generation_progress = NULL,
		    last_failed_users = $2,
		    last_aborted = $3,
		    updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.conn.Exec(ctx, query, groupID, failedJSON, aborted); err != nil {
		return fmt.Errorf("failed to release generation lock: %w", err)
	}
	return nil
}

// rowScanner abstracts pgx.Row and pgx.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanGroup maps one row to a group entity.
func (r *GroupRepository) scanGroup(row rowScanner) (*group.Group, error) {
	var g group.Group
	var trackingDay int
	var chartSize int
	var chartMode string
	var progressJSON []byte
	var failedJSON []byte

	err := row.Scan(
		&g.ID,
		&g.Name,
		&trackingDay,
		&chartSize,
		&chartMode,
		&g.GenerationInProgress,
		&g.GenerationStartedAt,
		&progressJSON,
		&failedJSON,
		&g.LastAborted,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	g.TrackingDay = time.Weekday(trackingDay)
	g.ChartSize = group.ChartSize(chartSize)
	g.ChartMode = chart.Mode(chartMode)

	if len(progressJSON) > 0 {
		var p group.Progress
		if err := json.Unmarshal(progressJSON, &p); err == nil {
			g.GenerationProgress = &p
		}
	}
	if len(failedJSON) > 0 {
		if err := json.Unmarshal(failedJSON, &g.LastFailedUsers); err != nil {
			g.LastFailedUsers = nil
		}
	}

	return &g, nil
}
