package chart

import (
	"sort"
)

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY RANKING
// ══════════════════════════════════════════════════════════════════════════════
//
// Everything in this file is deterministic: identical inputs always produce
// byte-identical rankings, which is what makes week regeneration idempotent.

// PlayEntry is one entry of a member's raw weekly listening history, already
// mapped to a normalized key.
type PlayEntry struct {
	Key       EntryKey
	Name      string
	Artist    string
	Playcount int
}

// MemberPlays is one member's fetched playcounts for one week and chart type.
type MemberPlays struct {
	UserID  string
	Entries []PlayEntry
}

// BuildContributions ranks a member's own weekly list and scores every entry
// under the group's mode. The member's list is ordered by playcount
// descending with key ascending as the tie-break, so RankInOwnTop is stable.
//
// Raw listening histories can spell the same entry differently ("Song X" vs
// "SONG X"), which normalizes to one key. Such duplicates are merged here,
// summing their playcounts, so a member holds exactly one rank per entry.
func BuildContributions(mode Mode, groupID, userID string, week Window, chartType Type, plays []PlayEntry) []UserContribution {
	sorted := make([]PlayEntry, 0, len(plays))
	index := make(map[EntryKey]int, len(plays))
	for _, p := range plays {
		if i, ok := index[p.Key]; ok {
			sorted[i].Playcount += p.Playcount
			continue
		}
		index[p.Key] = len(sorted)
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Playcount != sorted[j].Playcount {
			return sorted[i].Playcount > sorted[j].Playcount
		}
		return sorted[i].Key < sorted[j].Key
	})

	contribs := make([]UserContribution, 0, len(sorted))
	for i, p := range sorted {
		rank := i + 1
		contribs = append(contribs, UserContribution{
			GroupID:      groupID,
			UserID:       userID,
			WeekStart:    week.Start,
			ChartType:    chartType,
			Key:          p.Key,
			Playcount:    p.Playcount,
			RankInOwnTop: rank,
			Score:        Score(mode, rank, p.Playcount),
		})
	}
	return contribs
}

// PreviousPositions maps entry keys to their position in the immediately
// preceding stored week for one chart type.
type PreviousPositions map[EntryKey]Position

// BuildWeekChart merges every member's plays into the ranked chart for one
// (group, week, chartType) and returns the entries together with the
// per-member contributions that produced them.
//
// prev holds last week's positions (nil when no prior week exists) and
// charted holds keys that have ever appeared in this group's charts, used
// only to tell "new" from "returning".
func BuildWeekChart(
	mode Mode,
	chartSize int,
	groupID string,
	week Window,
	chartType Type,
	members []MemberPlays,
	prev PreviousPositions,
	charted map[EntryKey]bool,
) ([]Entry, []UserContribution) {
	// Members are processed in UserID order so display names resolve the
	// same way on every run.
	sorted := make([]MemberPlays, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UserID < sorted[j].UserID })

	type aggregate struct {
		name      string
		artist    string
		playcount int
		score     float64
	}
	totals := make(map[EntryKey]*aggregate)
	var allContribs []UserContribution

	for _, m := range sorted {
		contribs := BuildContributions(mode, groupID, m.UserID, week, chartType, m.Entries)
		allContribs = append(allContribs, contribs...)

		// First spelling wins for display, matching the merged contribution.
		byKey := make(map[EntryKey]PlayEntry, len(m.Entries))
		for _, p := range m.Entries {
			if _, ok := byKey[p.Key]; !ok {
				byKey[p.Key] = p
			}
		}
		for _, c := range contribs {
			agg, ok := totals[c.Key]
			if !ok {
				p := byKey[c.Key]
				agg = &aggregate{name: p.Name, artist: p.Artist}
				totals[c.Key] = agg
			}
			agg.playcount += c.Playcount
			agg.score += c.Score
		}
	}

	// Rank all keys: score descending, key ascending as the deterministic
	// tie-break, then truncate to the chart size.
	keys := make([]EntryKey, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		si, sj := totals[keys[i]].score, totals[keys[j]].score
		if si != sj {
			return si > sj
		}
		return keys[i] < keys[j]
	})
	if len(keys) > chartSize {
		keys = keys[:chartSize]
	}

	entries := make([]Entry, 0, len(keys))
	for i, k := range keys {
		agg := totals[k]
		e := Entry{
			GroupID:   groupID,
			WeekStart: week.Start,
			ChartType: chartType,
			Key:       k,
			Name:      agg.name,
			Artist:    agg.artist,
			Position:  Position(i + 1),
			Playcount: agg.playcount,
		}
		if mode != ModePlaysOnly {
			score := Round2(agg.score)
			e.VibeScore = &score
		}
		if prevPos, ok := prev[k]; ok {
			change := int(prevPos) - int(e.Position)
			e.PositionChange = &change
		}
		e.EntryType = classify(e, charted)
		entries = append(entries, e)
	}
	return entries, allContribs
}

func classify(e Entry, charted map[EntryKey]bool) EntryType {
	if e.PositionChange == nil {
		if charted[e.Key] {
			return EntryReturning
		}
		return EntryNew
	}
	switch {
	case *e.PositionChange > 0:
		return EntryUp
	case *e.PositionChange < 0:
		return EntryDown
	default:
		return EntrySteady
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TRENDS
// ══════════════════════════════════════════════════════════════════════════════

// trendListSize caps every trend list.
const trendListSize = 5

// ComputeTrends extracts debuts and the biggest movers from one week's
// charts. It is only worth running for the latest generated week.
func ComputeTrends(top map[Type][]Entry) *Trends {
	t := &Trends{}
	for _, chartType := range AllTypes() {
		for _, e := range top[chartType] {
			te := TrendEntry{
				ChartType: chartType,
				Key:       e.Key,
				Name:      e.Name,
				Artist:    e.Artist,
				Position:  e.Position,
			}
			if e.PositionChange == nil {
				t.Debuts = append(t.Debuts, te)
				continue
			}
			te.Change = *e.PositionChange
			if te.Change > 0 {
				t.Climbers = append(t.Climbers, te)
			} else if te.Change < 0 {
				t.Fallers = append(t.Fallers, te)
			}
		}
	}
	sort.Slice(t.Climbers, func(i, j int) bool { return t.Climbers[i].Change > t.Climbers[j].Change })
	sort.Slice(t.Fallers, func(i, j int) bool { return t.Fallers[i].Change < t.Fallers[j].Change })
	t.Debuts = truncateTrends(t.Debuts)
	t.Climbers = truncateTrends(t.Climbers)
	t.Fallers = truncateTrends(t.Fallers)
	return t
}

func truncateTrends(list []TrendEntry) []TrendEntry {
	if len(list) > trendListSize {
		return list[:trendListSize]
	}
	return list
}

// MergeTouched folds one week's entries into the run-wide touched set,
// keeping the best position each entry reached across the run.
func MergeTouched(touched map[Type]map[EntryKey]TouchedEntry, entries []Entry) {
	for _, e := range entries {
		byKey, ok := touched[e.ChartType]
		if !ok {
			byKey = make(map[EntryKey]TouchedEntry)
			touched[e.ChartType] = byKey
		}
		existing, ok := byKey[e.Key]
		if !ok || e.Position < existing.BestPosition {
			byKey[e.Key] = TouchedEntry{
				ChartType:    e.ChartType,
				Key:          e.Key,
				Name:         e.Name,
				Artist:       e.Artist,
				BestPosition: e.Position,
			}
		}
	}
}
