package records

import (
	"testing"
	"time"

	"github.com/groovehub/groove-charts-hub/internal/domain/chart"
	"github.com/stretchr/testify/assert"
)

var week0 = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

func weekN(n int) time.Time { return week0.AddDate(0, 0, 7*n) }

func entry(key string, week int, pos int, playcount int) chart.Entry {
	return chart.Entry{
		GroupID:   "g1",
		WeekStart: weekN(week),
		ChartType: chart.TypeArtists,
		Key:       chart.EntryKey(key),
		Name:      key,
		Position:  chart.Position(pos),
		Playcount: playcount,
	}
}

func TestComputeEntryStats_Basics(t *testing.T) {
	history := []chart.Entry{
		entry("radiohead", 0, 3, 40),
		entry("radiohead", 1, 1, 55),
		entry("radiohead", 2, 1, 60),
	}
	s := ComputeEntryStats(history, weekN(2))

	assert.Equal(t, chart.Position(3), s.DebutPosition)
	assert.Equal(t, weekN(0), s.DebutWeek)
	assert.Equal(t, chart.Position(1), s.PeakPosition)
	assert.Equal(t, 2, s.WeeksAtPeak)
	assert.Equal(t, 2, s.WeeksAtOne)
	assert.Equal(t, 3, s.WeeksInTop10)
	assert.Equal(t, 3, s.TotalWeeks)
	assert.Equal(t, 155, s.TotalPlays)
	assert.Equal(t, 3, s.LongestStreak)
	assert.Equal(t, weekN(0), s.LongestStreakStart)
	assert.Equal(t, weekN(2), s.LongestStreakEnd)
	assert.True(t, s.CurrentlyCharting)
}

func TestComputeEntryStats_GapClosesStreak(t *testing.T) {
	// Charted weeks 0-2, missing week 3, back in week 4.
	history := []chart.Entry{
		entry("x", 0, 3, 10),
		entry("x", 1, 3, 10),
		entry("x", 2, 3, 10),
		entry("x", 4, 3, 10),
	}
	s := ComputeEntryStats(history, weekN(5))

	assert.Equal(t, 3, s.LongestStreak)
	assert.Equal(t, weekN(0), s.LongestStreakStart)
	assert.Equal(t, weekN(2), s.LongestStreakEnd)
	// Latest generated week is 5 and the entry last appeared in week 4.
	assert.False(t, s.CurrentlyCharting)
	assert.Equal(t, weekN(4), s.LatestWeek)
}

func TestComputeEntryStats_EmptyHistory(t *testing.T) {
	assert.Nil(t, ComputeEntryStats(nil, weekN(0)))
}

func TestBuildEntryRecords_Domination(t *testing.T) {
	a := ComputeEntryStats([]chart.Entry{
		entry("a", 0, 1, 50),
		entry("a", 1, 1, 50),
	}, weekN(1))
	b := ComputeEntryStats([]chart.Entry{
		entry("b", 1, 2, 200),
	}, weekN(1))

	recs := BuildEntryRecords([]*EntryStats{a, b})
	r := recs[chart.TypeArtists]

	assert.Equal(t, chart.EntryKey("a"), r.MostWeeksCharting.Key)
	assert.Equal(t, 2.0, r.MostWeeksCharting.Value)
	assert.Equal(t, chart.EntryKey("a"), r.MostWeeksAtOne.Key)
	assert.Equal(t, chart.EntryKey("b"), r.MostPlays.Key)
	assert.Equal(t, 200.0, r.MostPlays.Value)
	assert.Equal(t, chart.EntryKey("a"), r.LongestStreak.Key)
	assert.Equal(t, 2, r.LongestStreak.Weeks)
}

func TestIncrementalMatchesFullRecompute(t *testing.T) {
	// Full history of three entries.
	histories := map[string][]chart.Entry{
		"a": {entry("a", 0, 1, 30), entry("a", 1, 2, 20)},
		"b": {entry("b", 0, 2, 50), entry("b", 1, 1, 60)},
		"c": {entry("c", 1, 3, 10)},
	}
	latest := weekN(1)

	var all []*EntryStats
	for _, h := range histories {
		all = append(all, ComputeEntryStats(h, latest))
	}
	full := BuildEntryRecords(all)

	// Incremental: start from records built before week 1, then fold in the
	// recomputed aggregates of just the entries touched by week 1.
	prior := BuildEntryRecords([]*EntryStats{
		ComputeEntryStats(histories["a"][:1], weekN(0)),
		ComputeEntryStats(histories["b"][:1], weekN(0)),
	})
	incremental := prior[chart.TypeArtists]
	for _, key := range []string{"a", "b", "c"} {
		ApplyEntryStats(incremental, ComputeEntryStats(histories[key], latest))
	}

	assert.Equal(t, full[chart.TypeArtists].MostWeeksCharting, incremental.MostWeeksCharting)
	assert.Equal(t, full[chart.TypeArtists].MostWeeksAtOne, incremental.MostWeeksAtOne)
	assert.Equal(t, full[chart.TypeArtists].MostPlays, incremental.MostPlays)
	assert.Equal(t, full[chart.TypeArtists].HighestScore, incremental.HighestScore)
	assert.Equal(t, full[chart.TypeArtists].LongestStreak, incremental.LongestStreak)
}

func contrib(user, key string, week, rank, playcount int, score float64) chart.UserContribution {
	return chart.UserContribution{
		GroupID:      "g1",
		UserID:       user,
		WeekStart:    weekN(week),
		ChartType:    chart.TypeArtists,
		Key:          chart.EntryKey(key),
		Playcount:    playcount,
		RankInOwnTop: rank,
		Score:        score,
	}
}

func TestBuildUserRecords(t *testing.T) {
	entries := []chart.Entry{
		entry("a", 0, 1, 40),
		entry("b", 0, 2, 30),
		entry("a", 1, 1, 45),
	}
	contribs := []chart.UserContribution{
		contrib("alice", "a", 0, 1, 30, 1.0),
		contrib("alice", "a", 1, 1, 35, 1.0),
		contrib("alice", "b", 0, 2, 10, 0.71),
		contrib("bob", "b", 0, 1, 20, 1.0),
	}

	r := BuildUserRecords(entries, contribs)

	assert.Equal(t, "alice", r.MostTotalScore.UserID)
	assert.Equal(t, 2.71, r.MostTotalScore.Value)
	assert.Equal(t, "alice", r.MostPlays.UserID)
	assert.Equal(t, 75.0, r.MostPlays.Value)
	assert.Equal(t, "alice", r.MostDistinctEntries.UserID)
	assert.Equal(t, 2.0, r.MostDistinctEntries.Value)
	assert.Equal(t, "bob", r.FewestDistinctEntries.UserID)
	// Alice contributed to the #1 entry in both weeks.
	assert.Equal(t, "alice", r.MostNumberOnes.UserID)
	assert.Equal(t, 2.0, r.MostNumberOnes.Value)
	assert.Equal(t, "alice", r.MostWeeksContributing.UserID)
	assert.Equal(t, 2.0, r.MostWeeksContributing.Value)
	// Alice averages ~1.36 per distinct entry versus bob's 1.0.
	assert.Equal(t, "alice", r.TasteMaker.UserID)
	assert.Equal(t, "alice", r.PeakPerformer.UserID)
}

func TestBuildUserRecords_Empty(t *testing.T) {
	r := BuildUserRecords(nil, nil)
	assert.Nil(t, r.MostTotalScore)
	assert.Nil(t, r.PeakPerformer)
}
