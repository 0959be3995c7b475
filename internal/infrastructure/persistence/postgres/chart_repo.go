package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/groovehub/groove-charts-hub/internal/domain/chart"
	"github.com/groovehub/groove-charts-hub/internal/domain/shared"
)

// ChartRepository implements chart.Repository for PostgreSQL.
type ChartRepository struct {
	conn *Connection
}

// NewChartRepository creates a new ChartRepository.
func NewChartRepository(conn *Connection) *ChartRepository {
	return &ChartRepository{conn: conn}
}

// ReplaceWeek atomically replaces a generated week. Delete-then-insert inside
// one transaction keeps regeneration idempotent.
func (r *ChartRepository) ReplaceWeek(ctx context.Context, groupID string, week chart.Window, entries []chart.Entry, contribs []chart.UserContribution, stats *chart.WeeklyStats) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		deletes := []string{
			`DELETE FROM chart_entries WHERE group_id = $1 AND week_start = $2`,
			`DELETE FROM user_contributions WHERE group_id = $1 AND week_start = $2`,
			`DELETE FROM weekly_stats WHERE group_id = $1 AND week_start = $2`,
		}
		for _, q := range deletes {
			if _, err := tx.Exec(ctx, q, groupID, week.Start); err != nil {
				return fmt.Errorf("failed to clear week: %w", err)
			}
		}

		if len(entries) > 0 {
			batch := &pgx.Batch{}
			for _, e := range entries {
				batch.Queue(`
					INSERT INTO chart_entries
						(group_id, week_start, chart_type, entry_key, name, artist,
						 position, playcount, vibe_score, position_change, entry_type)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
					groupID, week.Start, string(e.ChartType), string(e.Key), e.Name, e.Artist,
					int(e.Position), e.Playcount, e.VibeScore, e.PositionChange, string(e.EntryType),
				)
			}
			br := tx.SendBatch(ctx, batch)
			for range entries {
				if _, err := br.Exec(); err != nil {
					br.Close()
					return fmt.Errorf("failed to insert chart entry: %w", err)
				}
			}
			if err := br.Close(); err != nil {
				return fmt.Errorf("failed to close entry batch: %w", err)
			}
		}

		if len(contribs) > 0 {
			batch := &pgx.Batch{}
			for _, c := range contribs {
				batch.Queue(`
					INSERT INTO user_contributions
						(group_id, week_start, chart_type, user_id, entry_key,
						 playcount, rank_in_own_top, score)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
					groupID, week.Start, string(c.ChartType), c.UserID, string(c.Key),
					c.Playcount, c.RankInOwnTop, c.Score,
				)
			}
			br := tx.SendBatch(ctx, batch)
			for range contribs {
				if _, err := br.Exec(); err != nil {
					br.Close()
					return fmt.Errorf("failed to insert contribution: %w", err)
				}
			}
			if err := br.Close(); err != nil {
				return fmt.Errorf("failed to close contribution batch: %w", err)
			}
		}

		if stats != nil {
			id := stats.ID
			if id == "" {
				id = uuid.NewString()
			}

			var trendsJSON []byte
			if stats.Trends != nil {
				var err error
				trendsJSON, err = json.Marshal(stats.Trends)
				if err != nil {
					return fmt.Errorf("failed to marshal trends: %w", err)
				}
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO weekly_stats (id, group_id, week_start, week_end, generated_at, trends)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				id, groupID, week.Start, week.End, stats.GeneratedAt, trendsJSON,
			)
			if err != nil {
				return fmt.Errorf("failed to insert weekly stats: %w", err)
			}
		}

		return nil
	})
}

// GetWeekPositions returns key -> position for one stored week and chart type.
func (r *ChartRepository) GetWeekPositions(ctx context.Context, groupID string, weekStart time.Time, chartType chart.Type) (chart.PreviousPositions, error) {
	query := `
		SELECT entry_key, position
		FROM chart_entries
		WHERE group_id = $1 AND week_start = $2 AND chart_type = $3
	`

	rows, err := r.conn.Query(ctx, query, groupID, weekStart, string(chartType))
	if err != nil {
		return nil, fmt.Errorf("failed to query week positions: %w", err)
	}
	defer rows.Close()

	positions := make(chart.PreviousPositions)
	for rows.Next() {
		var key string
		var pos int
		if err := rows.Scan(&key, &pos); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions[chart.EntryKey(key)] = chart.Position(pos)
	}
	return positions, rows.Err()
}

// GetChartedKeys returns every key that has ever charted for the group and type.
func (r *ChartRepository) GetChartedKeys(ctx context.Context, groupID string, chartType chart.Type) (map[chart.EntryKey]bool, error) {
	query := `
		SELECT DISTINCT entry_key
		FROM chart_entries
		WHERE group_id = $1 AND chart_type = $2
	`

	rows, err := r.conn.Query(ctx, query, groupID, string(chartType))
	if err != nil {
		return nil, fmt.Errorf("failed to query charted keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[chart.EntryKey]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys[chart.EntryKey(key)] = true
	}
	return keys, rows.Err()
}

const entryColumns = `group_id, week_start, chart_type, entry_key, name, artist,
	   position, playcount, vibe_score, position_change, entry_type`

// GetWeekEntries returns all entries of one stored week, every chart type.
func (r *ChartRepository) GetWeekEntries(ctx context.Context, groupID string, weekStart time.Time) ([]chart.Entry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM chart_entries
		WHERE group_id = $1 AND week_start = $2
		ORDER BY chart_type, position`, entryColumns)

	return r.queryEntries(ctx, query, groupID, weekStart)
}

// GetEntryHistory returns every stored row for one entry, week ascending.
func (r *ChartRepository) GetEntryHistory(ctx context.Context, groupID string, chartType chart.Type, key chart.EntryKey) ([]chart.Entry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM chart_entries
		WHERE group_id = $1 AND chart_type = $2 AND entry_key = $3
		ORDER BY week_start`, entryColumns)

	return r.queryEntries(ctx, query, groupID, string(chartType), string(key))
}

// GetAllEntries returns the group's full chart history, week ascending.
func (r *ChartRepository) GetAllEntries(ctx context.Context, groupID string) ([]chart.Entry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM chart_entries
		WHERE group_id = $1
		ORDER BY week_start, chart_type, position`, entryColumns)

	return r.queryEntries(ctx, query, groupID)
}

// GetAllContributions returns the group's full contribution history.
func (r *ChartRepository) GetAllContributions(ctx context.Context, groupID string) ([]chart.UserContribution, error) {
	query := `
		SELECT group_id, week_start, chart_type, user_id, entry_key,
		       playcount, rank_in_own_top, score
		FROM user_contributions
		WHERE group_id = $1
		ORDER BY week_start, chart_type, user_id, entry_key
	`

	rows, err := r.conn.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query contributions: %w", err)
	}
	defer rows.Close()

	var contribs []chart.UserContribution
	for rows.Next() {
		var c chart.UserContribution
		var chartType, key string
		err := rows.Scan(
			&c.GroupID, &c.WeekStart, &chartType, &c.UserID, &key,
			&c.Playcount, &c.RankInOwnTop, &c.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		c.ChartType = chart.Type(chartType)
		c.Key = chart.EntryKey(key)
		contribs = append(contribs, c)
	}
	return contribs, rows.Err()
}

// GetLatestWeekStart returns the start of the most recently generated week.
func (r *ChartRepository) GetLatestWeekStart(ctx context.Context, groupID string) (*time.Time, error) {
	query := `SELECT MAX(week_start) FROM weekly_stats WHERE group_id = $1`

	var latest *time.Time
	if err := r.conn.QueryRow(ctx, query, groupID).Scan(&latest); err != nil {
		return nil, fmt.Errorf("failed to query latest week: %w", err)
	}
	return latest, nil
}

// GetWeeklyStats returns the stored snapshot for one week.
func (r *ChartRepository) GetWeeklyStats(ctx context.Context, groupID string, weekStart time.Time) (*chart.WeeklyStats, error) {
	query := `
		SELECT id, group_id, week_start, week_end, generated_at, trends
		FROM weekly_stats
		WHERE group_id = $1 AND week_start = $2
	`

	stats, err := r.scanWeeklyStats(r.conn.QueryRow(ctx, query, groupID, weekStart))
	if err != nil {
		if IsNoRows(err) {
			return nil, fmt.Errorf("weekly stats %s/%s: %w", groupID, weekStart.Format("2006-01-02"), shared.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get weekly stats: %w", err)
	}

	if err := r.attachTop(ctx, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// GetLatestWeeklyStats returns the most recent snapshot.
func (r *ChartRepository) GetLatestWeeklyStats(ctx context.Context, groupID string) (*chart.WeeklyStats, error) {
	query := `
		SELECT id, group_id, week_start, week_end, generated_at, trends
		FROM weekly_stats
		WHERE group_id = $1
		ORDER BY week_start DESC
		LIMIT 1
	`

	stats, err := r.scanWeeklyStats(r.conn.QueryRow(ctx, query, groupID))
	if err != nil {
		if IsNoRows(err) {
			return nil, fmt.Errorf("weekly stats %s: %w", groupID, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get latest weekly stats: %w", err)
	}

	if err := r.attachTop(ctx, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// SaveTrends attaches trend data to an already stored weekly snapshot.
func (r *ChartRepository) SaveTrends(ctx context.Context, groupID string, weekStart time.Time, trends *chart.Trends) error {
	trendsJSON, err := json.Marshal(trends)
	if err != nil {
		return fmt.Errorf("failed to marshal trends: %w", err)
	}

	query := `UPDATE weekly_stats SET trends = $3 WHERE group_id = $1 AND week_start = $2`

	tag, err := r.conn.Exec(ctx, query, groupID, weekStart, trendsJSON)
	if err != nil {
		return fmt.Errorf("failed to save trends: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("weekly stats %s/%s: %w", groupID, weekStart.Format("2006-01-02"), shared.ErrNotFound)
	}
	return nil
}

// queryEntries runs an entry query and scans the result set.
func (r *ChartRepository) queryEntries(ctx context.Context, query string, args ...interface{}) ([]chart.Entry, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []chart.Entry
	for rows.Next() {
		var e chart.Entry
		var chartType, key, entryType string
		var position int
		err := rows.Scan(
			&e.GroupID, &e.WeekStart, &chartType, &key, &e.Name, &e.Artist,
			&position, &e.Playcount, &e.VibeScore, &e.PositionChange, &entryType,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.ChartType = chart.Type(chartType)
		e.Key = chart.EntryKey(key)
		e.Position = chart.Position(position)
		e.EntryType = chart.EntryType(entryType)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// scanWeeklyStats maps one weekly_stats row, without the Top map.
func (r *ChartRepository) scanWeeklyStats(row rowScanner) (*chart.WeeklyStats, error) {
	var stats chart.WeeklyStats
	var trendsJSON []byte

	err := row.Scan(&stats.ID, &stats.GroupID, &stats.WeekStart, &stats.WeekEnd, &stats.GeneratedAt, &trendsJSON)
	if err != nil {
		return nil, err
	}

	if len(trendsJSON) > 0 {
		var t chart.Trends
		if err := json.Unmarshal(trendsJSON, &t); err == nil {
			stats.Trends = &t
		}
	}
	return &stats, nil
}

// attachTop loads the week's entries and groups them by chart type.
func (r *ChartRepository) attachTop(ctx context.Context, stats *chart.WeeklyStats) error {
	entries, err := r.GetWeekEntries(ctx, stats.GroupID, stats.WeekStart)
	if err != nil {
		return err
	}

	stats.Top = make(map[chart.Type][]chart.Entry, len(chart.AllTypes()))
	for _, e := range entries {
		stats.Top[e.ChartType] = append(stats.Top[e.ChartType], e)
	}
	return nil
}
