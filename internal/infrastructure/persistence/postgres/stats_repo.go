package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/groovehub/groove-charts-hub/internal/domain/chart"
	"github.com/groovehub/groove-charts-hub/internal/domain/records"
	"github.com/groovehub/groove-charts-hub/internal/domain/shared"
)

// StatsRepository implements records.StatsRepository for PostgreSQL.
type StatsRepository struct {
	conn *Connection
}

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository(conn *Connection) *StatsRepository {
	return &StatsRepository{conn: conn}
}

const upsertEntryStatsSQL = `
	INSERT INTO chart_entry_stats
		(group_id, chart_type, entry_key, name, artist,
		 peak_position, weeks_at_peak, debut_position, debut_week,
		 weeks_in_top10, total_weeks, weeks_at_one,
		 total_plays, total_score,
		 longest_streak, streak_start, streak_end,
		 currently_charting, latest_week, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, NOW())
	ON CONFLICT (group_id, chart_type, entry_key) DO UPDATE SET
		name = EXCLUDED.name,
		artist = EXCLUDED.artist,
		peak_position = EXCLUDED.peak_position,
		weeks_at_peak = EXCLUDED.weeks_at_peak,
		debut_position = EXCLUDED.debut_position,
		debut_week = EXCLUDED.debut_week,
		weeks_in_top10 = EXCLUDED.weeks_in_top10,
		total_weeks = EXCLUDED.total_weeks,
		weeks_at_one = EXCLUDED.weeks_at_one,
		total_plays = EXCLUDED.total_plays,
		total_score = EXCLUDED.total_score,
		longest_streak = EXCLUDED.longest_streak,
		streak_start = EXCLUDED.streak_start,
		streak_end = EXCLUDED.streak_end,
		currently_charting = EXCLUDED.currently_charting,
		latest_week = EXCLUDED.latest_week,
		updated_at = NOW()
`

// UpsertEntryStats writes the aggregates for a batch of entries.
func (r *StatsRepository) UpsertEntryStats(ctx context.Context, stats []*records.EntryStats) error {
	if len(stats) == 0 {
		return nil
	}

	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, s := range stats {
			batch.Queue(upsertEntryStatsSQL,
				s.GroupID, string(s.ChartType), string(s.Key), s.Name, s.Artist,
				int(s.PeakPosition), s.WeeksAtPeak, int(s.DebutPosition), s.DebutWeek,
				s.WeeksInTop10, s.TotalWeeks, s.WeeksAtOne,
				s.TotalPlays, s.TotalScore,
				s.LongestStreak, nullableTime(s.LongestStreakStart), nullableTime(s.LongestStreakEnd),
				s.CurrentlyCharting, s.LatestWeek,
			)
		}

		br := tx.SendBatch(ctx, batch)
		for range stats {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("failed to upsert entry stats: %w", err)
			}
		}
		return br.Close()
	})
}

const entryStatsColumns = `group_id, chart_type, entry_key, name, artist,
	   peak_position, weeks_at_peak, debut_position, debut_week,
	   weeks_in_top10, total_weeks, weeks_at_one,
	   total_plays, total_score,
	   longest_streak, streak_start, streak_end,
	   currently_charting, latest_week`

// GetEntryStats returns the stored aggregate for one entry.
func (r *StatsRepository) GetEntryStats(ctx context.Context, groupID string, chartType chart.Type, key chart.EntryKey) (*records.EntryStats, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM chart_entry_stats
		WHERE group_id = $1 AND chart_type = $2 AND entry_key = $3`, entryStatsColumns)

	s, err := r.scanEntryStats(r.conn.QueryRow(ctx, query, groupID, string(chartType), string(key)))
	if err != nil {
		if IsNoRows(err) {
			return nil, fmt.Errorf("entry stats %s/%s: %w", chartType, key, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get entry stats: %w", err)
	}
	return s, nil
}

// ListEntryStats returns every stored aggregate for the group.
func (r *StatsRepository) ListEntryStats(ctx context.Context, groupID string) ([]*records.EntryStats, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM chart_entry_stats
		WHERE group_id = $1
		ORDER BY chart_type, entry_key`, entryStatsColumns)

	rows, err := r.conn.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entry stats: %w", err)
	}
	defer rows.Close()

	var all []*records.EntryStats
	for rows.Next() {
		s, err := r.scanEntryStats(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry stats: %w", err)
		}
		all = append(all, s)
	}
	return all, rows.Err()
}

// CloseMissing flips currently_charting off for entries that dropped out.
func (r *StatsRepository) CloseMissing(ctx context.Context, groupID string, latestWeek time.Time) (int, error) {
	query := `
		UPDATE chart_entry_stats
		SET currently_charting = FALSE, updated_at = NOW()
		WHERE group_id = $1 AND currently_charting AND latest_week < $2
	`

	tag, err := r.conn.Exec(ctx, query, groupID, latestWeek)
	if err != nil {
		return 0, fmt.Errorf("failed to close missing entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanEntryStats maps one row to the aggregate.
func (r *StatsRepository) scanEntryStats(row rowScanner) (*records.EntryStats, error) {
	var s records.EntryStats
	var chartType, key string
	var peak, debut int
	var streakStart, streakEnd *time.Time

	err := row.Scan(
		&s.GroupID, &chartType, &key, &s.Name, &s.Artist,
		&peak, &s.WeeksAtPeak, &debut, &s.DebutWeek,
		&s.WeeksInTop10, &s.TotalWeeks, &s.WeeksAtOne,
		&s.TotalPlays, &s.TotalScore,
		&s.LongestStreak, &streakStart, &streakEnd,
		&s.CurrentlyCharting, &s.LatestWeek,
	)
	if err != nil {
		return nil, err
	}

	s.ChartType = chart.Type(chartType)
	s.Key = chart.EntryKey(key)
	s.PeakPosition = chart.Position(peak)
	s.DebutPosition = chart.Position(debut)
	if streakStart != nil {
		s.LongestStreakStart = *streakStart
	}
	if streakEnd != nil {
		s.LongestStreakEnd = *streakEnd
	}
	return &s, nil
}

// nullableTime maps the zero time to NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
