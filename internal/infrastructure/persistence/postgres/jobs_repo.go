package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/groovehub/groove-charts-hub/internal/domain/chart"
	"github.com/groovehub/groove-charts-hub/internal/domain/records"
)

// JobsRepository implements records.JobQueue on a plain table. A table beats
// an in-process channel here because the calculation must survive worker
// restarts between generation and records runs.
type JobsRepository struct {
	conn *Connection
}

// NewJobsRepository creates a new JobsRepository.
func NewJobsRepository(conn *Connection) *JobsRepository {
	return &JobsRepository{conn: conn}
}

// Enqueue appends a job.
func (r *JobsRepository) Enqueue(ctx context.Context, job *records.Job) error {
	id := job.ID
	if id == "" {
		id = uuid.NewString()
	}

	var touchedJSON []byte
	if job.Touched != nil {
		var err error
		touchedJSON, err = json.Marshal(job.Touched)
		if err != nil {
			return fmt.Errorf("failed to marshal touched entries: %w", err)
		}
	}

	query := `INSERT INTO records_jobs (id, group_id, touched) VALUES ($1, $2, $3)`

	if _, err := r.conn.Exec(ctx, query, id, job.GroupID, touchedJSON); err != nil {
		return fmt.Errorf("failed to enqueue records job: %w", err)
	}
	return nil
}

// DequeueBatch claims up to limit pending jobs, oldest first. The
// DELETE ... RETURNING with SKIP LOCKED lets multiple consumers share the
// queue without double-claiming.
func (r *JobsRepository) DequeueBatch(ctx context.Context, limit int) ([]*records.Job, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		DELETE FROM records_jobs
		WHERE id IN (
			SELECT id FROM records_jobs
			ORDER BY enqueued_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, group_id, touched, enqueued_at
	`

	var jobs []*records.Job
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, limit)
		if err != nil {
			return fmt.Errorf("failed to dequeue records jobs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var job records.Job
			var touchedJSON []byte
			if err := rows.Scan(&job.ID, &job.GroupID, &touchedJSON, &job.EnqueuedAt); err != nil {
				return fmt.Errorf("failed to scan records job: %w", err)
			}
			if len(touchedJSON) > 0 {
				var touched []chart.TouchedEntry
				if err := json.Unmarshal(touchedJSON, &touched); err != nil {
					return fmt.Errorf("failed to unmarshal touched entries: %w", err)
				}
				job.Touched = touched
			}
			jobs = append(jobs, &job)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}
