package records

import (
	"sort"
	"time"

	"github.com/groovehub/groove-charts-hub/internal/domain/chart"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY STATS COMPUTATION
// ══════════════════════════════════════════════════════════════════════════════

// ComputeEntryStats derives the full running aggregate for one entry from its
// stored chart history, ordered by week ascending. latestWeek is the start of
// the group's most recently generated week and decides CurrentlyCharting.
//
// Pure function: recomputing from the same history always yields the same
// stats, which is what lets the incremental path replace the full one.
func ComputeEntryStats(history []chart.Entry, latestWeek time.Time) *EntryStats {
	if len(history) == 0 {
		return nil
	}

	first, last := history[0], history[len(history)-1]
	s := &EntryStats{
		GroupID:       first.GroupID,
		ChartType:     first.ChartType,
		Key:           first.Key,
		Name:          last.Name,
		Artist:        last.Artist,
		PeakPosition:  first.Position,
		DebutPosition: first.Position,
		DebutWeek:     first.WeekStart,
		LatestWeek:    last.WeekStart,
	}

	streak := 0
	var streakStart time.Time
	var prevWeek time.Time

	for i, e := range history {
		s.TotalWeeks++
		s.TotalPlays += e.Playcount
		s.TotalScore = chart.Round2(s.TotalScore + e.Score())

		if e.Position < s.PeakPosition {
			s.PeakPosition = e.Position
		}
		if e.Position.IsTop10() {
			s.WeeksInTop10++
		}
		if e.Position == 1 {
			s.WeeksAtOne++
		}

		// Consecutive means exactly one chart week apart.
		if i == 0 || !e.WeekStart.Equal(prevWeek.AddDate(0, 0, 7)) {
			streak = 1
			streakStart = e.WeekStart
		} else {
			streak++
		}
		if streak > s.LongestStreak {
			s.LongestStreak = streak
			s.LongestStreakStart = streakStart
			s.LongestStreakEnd = e.WeekStart
		}
		prevWeek = e.WeekStart
	}

	// Peak weeks counted after the final peak is known.
	for _, e := range history {
		if e.Position == s.PeakPosition {
			s.WeeksAtPeak++
		}
	}

	s.CurrentlyCharting = last.WeekStart.Equal(latestWeek)
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// ApplyEntryStats folds one entry's aggregate into the per-type records,
// replacing a record only when the entry strictly dominates the holder.
// Both the full and the incremental calculation go through this merge, so
// the incremental result matches a full recompute over the same entries.
func ApplyEntryStats(r *EntryRecords, s *EntryStats) {
	record := func(value float64) *EntryRecord {
		return &EntryRecord{Key: s.Key, Name: s.Name, Artist: s.Artist, Value: value}
	}

	if r.MostWeeksCharting.Dominates(float64(s.TotalWeeks)) {
		r.MostWeeksCharting = record(float64(s.TotalWeeks))
	}
	if r.MostWeeksAtOne.Dominates(float64(s.WeeksAtOne)) && s.WeeksAtOne > 0 {
		r.MostWeeksAtOne = record(float64(s.WeeksAtOne))
	}
	if r.MostWeeksInTop10.Dominates(float64(s.WeeksInTop10)) && s.WeeksInTop10 > 0 {
		r.MostWeeksInTop10 = record(float64(s.WeeksInTop10))
	}
	if r.MostPlays.Dominates(float64(s.TotalPlays)) {
		r.MostPlays = record(float64(s.TotalPlays))
	}
	if r.HighestScore.Dominates(s.TotalScore) {
		r.HighestScore = record(s.TotalScore)
	}
	if r.LongestStreak == nil || s.LongestStreak > r.LongestStreak.Weeks {
		r.LongestStreak = &StreakRecord{
			Key:    s.Key,
			Name:   s.Name,
			Artist: s.Artist,
			Weeks:  s.LongestStreak,
			Start:  s.LongestStreakStart,
			End:    s.LongestStreakEnd,
		}
	}
}

// BuildEntryRecords computes per-type records from a set of entry aggregates.
// Stats are folded in key order so equal values resolve the same way on
// every run.
func BuildEntryRecords(stats []*EntryStats) map[chart.Type]*EntryRecords {
	sorted := make([]*EntryStats, len(stats))
	copy(sorted, stats)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ChartType != sorted[j].ChartType {
			return sorted[i].ChartType < sorted[j].ChartType
		}
		return sorted[i].Key < sorted[j].Key
	})

	out := make(map[chart.Type]*EntryRecords)
	for _, s := range sorted {
		r, ok := out[s.ChartType]
		if !ok {
			r = &EntryRecords{}
			out[s.ChartType] = r
		}
		ApplyEntryStats(r, s)
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// USER RECORDS
// ══════════════════════════════════════════════════════════════════════════════

type weekKey struct {
	week      time.Time
	chartType chart.Type
}

// BuildUserRecords computes the per-user superlatives from the group's full
// contribution history. entries supply the weekly positions needed for the
// number-one and peak-performer awards.
func BuildUserRecords(entries []chart.Entry, contribs []chart.UserContribution) *UserRecords {
	// Position lookups: which key held #1, and each key's position, per
	// (week, chart type).
	numberOnes := make(map[weekKey]chart.EntryKey)
	positions := make(map[weekKey]map[chart.EntryKey]chart.Position)
	for _, e := range entries {
		wk := weekKey{week: e.WeekStart.UTC(), chartType: e.ChartType}
		if e.Position == 1 {
			numberOnes[wk] = e.Key
		}
		byKey, ok := positions[wk]
		if !ok {
			byKey = make(map[chart.EntryKey]chart.Position)
			positions[wk] = byKey
		}
		byKey[e.Key] = e.Position
	}

	type userAgg struct {
		totalScore    float64
		totalPlays    int
		entries       map[string]struct{}
		weeks         map[time.Time]struct{}
		numberOnes    int
		peakComposite float64
	}
	byUser := make(map[string]*userAgg)

	for _, c := range contribs {
		agg, ok := byUser[c.UserID]
		if !ok {
			agg = &userAgg{
				entries: make(map[string]struct{}),
				weeks:   make(map[time.Time]struct{}),
			}
			byUser[c.UserID] = agg
		}
		agg.totalScore = chart.Round2(agg.totalScore + c.Score)
		agg.totalPlays += c.Playcount
		agg.entries[string(c.ChartType)+"|"+string(c.Key)] = struct{}{}
		agg.weeks[c.WeekStart.UTC()] = struct{}{}

		wk := weekKey{week: c.WeekStart.UTC(), chartType: c.ChartType}
		if numberOnes[wk] == c.Key {
			agg.numberOnes++
		}
		if pos, ok := positions[wk][c.Key]; ok && pos.IsTop10() {
			// Weight top-10 placements by how high they landed.
			agg.peakComposite += float64(11 - int(pos))
		}
	}

	if len(byUser) == 0 {
		return &UserRecords{}
	}

	userIDs := make([]string, 0, len(byUser))
	for id := range byUser {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	r := &UserRecords{}
	for _, id := range userIDs {
		agg := byUser[id]
		record := func(value float64) *UserRecord {
			return &UserRecord{UserID: id, Value: value}
		}

		if r.MostTotalScore.Dominates(agg.totalScore) {
			r.MostTotalScore = record(agg.totalScore)
		}
		if r.MostPlays.Dominates(float64(agg.totalPlays)) {
			r.MostPlays = record(float64(agg.totalPlays))
		}
		distinct := float64(len(agg.entries))
		if r.MostDistinctEntries.Dominates(distinct) {
			r.MostDistinctEntries = record(distinct)
		}
		if r.FewestDistinctEntries == nil || distinct < r.FewestDistinctEntries.Value {
			r.FewestDistinctEntries = record(distinct)
		}
		if agg.numberOnes > 0 && r.MostNumberOnes.Dominates(float64(agg.numberOnes)) {
			r.MostNumberOnes = record(float64(agg.numberOnes))
		}
		if r.MostWeeksContributing.Dominates(float64(len(agg.weeks))) {
			r.MostWeeksContributing = record(float64(len(agg.weeks)))
		}
		if distinct > 0 {
			avg := chart.Round2(agg.totalScore / distinct)
			if r.TasteMaker.Dominates(avg) {
				r.TasteMaker = record(avg)
			}
		}
		if agg.peakComposite > 0 && r.PeakPerformer.Dominates(agg.peakComposite) {
			r.PeakPerformer = record(agg.peakComposite)
		}
	}
	return r
}
