package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/groovehub/groove-charts-hub/internal/domain/records"
)

// RecordsRepository implements records.Repository for PostgreSQL.
type RecordsRepository struct {
	conn *Connection
}

// NewRecordsRepository creates a new RecordsRepository.
func NewRecordsRepository(conn *Connection) *RecordsRepository {
	return &RecordsRepository{conn: conn}
}

// Get returns the group's records row, or nil when none exists.
func (r *RecordsRepository) Get(ctx context.Context, groupID string) (*records.GroupRecords, error) {
	query := `
		SELECT group_id, status, records, started_at, charts_generated_at, last_error
		FROM group_records
		WHERE group_id = $1
	`

	var g records.GroupRecords
	var status string
	var blobJSON []byte
	var lastError *string

	err := r.conn.QueryRow(ctx, query, groupID).Scan(
		&g.GroupID, &status, &blobJSON, &g.CalculationStartedAt, &g.ChartsGeneratedAt, &lastError,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get group records: %w", err)
	}

	g.Status = records.Status(status)
	if lastError != nil {
		g.Error = *lastError
	}
	if len(blobJSON) > 0 {
		var blob records.Blob
		if err := json.Unmarshal(blobJSON, &blob); err != nil {
			return nil, fmt.Errorf("failed to unmarshal records blob: %w", err)
		}
		g.Records = &blob
	}
	return &g, nil
}

// Recreate deletes any existing row and inserts a fresh "calculating" one.
func (r *RecordsRepository) Recreate(ctx context.Context, groupID string, startedAt time.Time, chartsGeneratedAt time.Time) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM group_records WHERE group_id = $1`, groupID); err != nil {
			return fmt.Errorf("failed to delete group records: %w", err)
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO group_records (group_id, status, started_at, charts_generated_at)
			VALUES ($1, $2, $3, $4)`,
			groupID, string(records.StatusCalculating), startedAt, chartsGeneratedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert group records: %w", err)
		}
		return nil
	})
}

// Complete stores the computed blob and flips the row to "completed".
func (r *RecordsRepository) Complete(ctx context.Context, groupID string, blob *records.Blob) error {
	blobJSON, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("failed to marshal records blob: %w", err)
	}

	query := `
		UPDATE group_records
		SET status = $2, records = $3, last_error = NULL
		WHERE group_id = $1
	`

	if _, err := r.conn.Exec(ctx, query, groupID, string(records.StatusCompleted), blobJSON); err != nil {
		return fmt.Errorf("failed to complete group records: %w", err)
	}
	return nil
}

// Fail flips the row to "failed" with the error message.
func (r *RecordsRepository) Fail(ctx context.Context, groupID string, calcErr error) error {
	msg := ""
	if calcErr != nil {
		msg = calcErr.Error()
	}

	query := `
		UPDATE group_records
		SET status = $2, last_error = $3
		WHERE group_id = $1
	`

	if _, err := r.conn.Exec(ctx, query, groupID, string(records.StatusFailed), msg); err != nil {
		return fmt.Errorf("failed to mark group records failed: %w", err)
	}
	return nil
}
