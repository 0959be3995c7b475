package chart

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testWeek = NewWindow(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))

func plays(key, name, artist string, count int) PlayEntry {
	return PlayEntry{Key: EntryKey(key), Name: name, Artist: artist, Playcount: count}
}

func TestBuildContributions_RanksOwnList(t *testing.T) {
	contribs := BuildContributions(ModeVibeScore, "g1", "alice", testWeek, TypeTracks, []PlayEntry{
		plays("b|x", "B", "X", 10),
		plays("a|x", "A", "X", 30),
		plays("c|x", "C", "X", 10),
	})

	assert.Len(t, contribs, 3)
	assert.Equal(t, EntryKey("a|x"), contribs[0].Key)
	assert.Equal(t, 1, contribs[0].RankInOwnTop)
	assert.Equal(t, 1.0, contribs[0].Score)

	// Equal playcounts tie-break by key, deterministically.
	assert.Equal(t, EntryKey("b|x"), contribs[1].Key)
	assert.Equal(t, EntryKey("c|x"), contribs[2].Key)
	assert.Greater(t, contribs[1].Score, contribs[2].Score)
}

func TestBuildContributions_MergesDuplicateSpellings(t *testing.T) {
	// "Song X" and "SONG X" normalize to the same key; the member must hold a
	// single rank for the entry, not contribute twice.
	contribs := BuildContributions(ModeVibeScore, "g1", "alice", testWeek, TypeTracks, []PlayEntry{
		plays("song x|art", "Song X", "Art", 3),
		plays("song x|art", "SONG X", "Art", 2),
	})

	assert.Len(t, contribs, 1)
	assert.Equal(t, 5, contribs[0].Playcount)
	assert.Equal(t, 1, contribs[0].RankInOwnTop)
	assert.Equal(t, 1.0, contribs[0].Score)
}

func TestBuildWeekChart_DuplicateSpellingsProduceOneEntry(t *testing.T) {
	members := []MemberPlays{{UserID: "alice", Entries: []PlayEntry{
		plays("song x|art", "Song X", "Art", 3),
		plays("song x|art", "SONG X", "Art", 2),
	}}}
	entries, contribs := BuildWeekChart(ModeVibeScore, 10, "g1", testWeek, TypeTracks, members, nil, nil)

	assert.Len(t, entries, 1)
	assert.Len(t, contribs, 1)
	assert.Equal(t, 5, entries[0].Playcount)
	assert.Equal(t, 1.0, *entries[0].VibeScore)
	// The first spelling seen is the one displayed.
	assert.Equal(t, "Song X", entries[0].Name)
}

func TestBuildWeekChart_PlaysOnlySumsExactly(t *testing.T) {
	members := []MemberPlays{
		{UserID: "alice", Entries: []PlayEntry{plays("radiohead", "Radiohead", "", 30), plays("bjork", "Björk", "", 12)}},
		{UserID: "bob", Entries: []PlayEntry{plays("radiohead", "Radiohead", "", 20)}},
	}
	entries, contribs := BuildWeekChart(ModePlaysOnly, 10, "g1", testWeek, TypeArtists, members, nil, nil)

	assert.Len(t, entries, 2)
	assert.Equal(t, Position(1), entries[0].Position)
	assert.Equal(t, EntryKey("radiohead"), entries[0].Key)
	assert.Equal(t, 50, entries[0].Playcount)
	assert.Nil(t, entries[0].VibeScore)

	// Total playcount across the chart equals total member plays.
	total := 0
	for _, e := range entries {
		total += e.Playcount
	}
	memberTotal := 0
	for _, c := range contribs {
		memberTotal += c.Playcount
	}
	assert.Equal(t, memberTotal, total)
}

func TestBuildWeekChart_VibeScoreExamples(t *testing.T) {
	// Member A's #1 is Song X, member B never played it: group score 1.00.
	members := []MemberPlays{
		{UserID: "a", Entries: []PlayEntry{plays("song x|art", "Song X", "Art", 3)}},
		{UserID: "b", Entries: []PlayEntry{plays("other|art", "Other", "Art", 99)}},
	}
	entries, _ := BuildWeekChart(ModeVibeScore, 10, "g1", testWeek, TypeTracks, members, nil, nil)
	byKey := map[EntryKey]Entry{}
	for _, e := range entries {
		byKey[e.Key] = e
	}
	assert.Equal(t, 1.0, *byKey["song x|art"].VibeScore)

	// If B's #1 is also Song X the group score becomes 2.00.
	members[1].Entries = []PlayEntry{plays("song x|art", "Song X", "Art", 500)}
	entries, _ = BuildWeekChart(ModeVibeScore, 10, "g1", testWeek, TypeTracks, members, nil, nil)
	assert.Len(t, entries, 1)
	assert.Equal(t, 2.0, *entries[0].VibeScore)
}

func TestBuildWeekChart_TruncatesToChartSize(t *testing.T) {
	var list []PlayEntry
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		list = append(list, plays(k, k, "", len(list)+1))
	}
	entries, _ := BuildWeekChart(ModePlaysOnly, 3, "g1", testWeek, TypeArtists,
		[]MemberPlays{{UserID: "u", Entries: list}}, nil, nil)

	assert.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, Position(i+1), e.Position)
	}
}

func TestBuildWeekChart_PositionChange(t *testing.T) {
	members := []MemberPlays{{UserID: "u", Entries: []PlayEntry{
		plays("a", "A", "", 30),
		plays("b", "B", "", 20),
		plays("c", "C", "", 10),
	}}}
	prev := PreviousPositions{
		"a": 3, // climbs to 1
		"b": 2, // steady
	}
	charted := map[EntryKey]bool{"c": true}

	entries, _ := BuildWeekChart(ModePlaysOnly, 10, "g1", testWeek, TypeArtists, members, prev, charted)

	assert.Equal(t, 2, *entries[0].PositionChange)
	assert.Equal(t, EntryUp, entries[0].EntryType)
	assert.Equal(t, 0, *entries[1].PositionChange)
	assert.Equal(t, EntrySteady, entries[1].EntryType)
	// Absent last week: change is nil, classified returning because it has
	// charted before.
	assert.Nil(t, entries[2].PositionChange)
	assert.Equal(t, EntryReturning, entries[2].EntryType)
}

func TestBuildWeekChart_Deterministic(t *testing.T) {
	members := []MemberPlays{
		{UserID: "bob", Entries: []PlayEntry{plays("a", "A", "", 10), plays("b", "B", "", 10)}},
		{UserID: "alice", Entries: []PlayEntry{plays("b", "B", "", 10), plays("c", "C", "", 10)}},
	}
	first, _ := BuildWeekChart(ModePlaysOnly, 10, "g1", testWeek, TypeArtists, members, nil, nil)
	second, _ := BuildWeekChart(ModePlaysOnly, 10, "g1", testWeek, TypeArtists, members, nil, nil)
	assert.Equal(t, first, second)

	// Equal totals rank lexically by key.
	assert.Equal(t, EntryKey("b"), first[0].Key) // 20 plays
	assert.Equal(t, EntryKey("a"), first[1].Key) // 10 plays, "a" < "c"
	assert.Equal(t, EntryKey("c"), first[2].Key)
}

func TestComputeTrends(t *testing.T) {
	up, down := 4, -2
	top := map[Type][]Entry{
		TypeArtists: {
			{ChartType: TypeArtists, Key: "a", Position: 1, PositionChange: &up},
			{ChartType: TypeArtists, Key: "b", Position: 2, PositionChange: &down},
			{ChartType: TypeArtists, Key: "c", Position: 3},
		},
	}
	trends := ComputeTrends(top)
	assert.Len(t, trends.Debuts, 1)
	assert.Equal(t, EntryKey("c"), trends.Debuts[0].Key)
	assert.Len(t, trends.Climbers, 1)
	assert.Equal(t, 4, trends.Climbers[0].Change)
	assert.Len(t, trends.Fallers, 1)
	assert.Equal(t, -2, trends.Fallers[0].Change)
}

func TestMergeTouched_KeepsBestPosition(t *testing.T) {
	touched := map[Type]map[EntryKey]TouchedEntry{}
	MergeTouched(touched, []Entry{{ChartType: TypeArtists, Key: "a", Position: 5}})
	MergeTouched(touched, []Entry{{ChartType: TypeArtists, Key: "a", Position: 2}})
	MergeTouched(touched, []Entry{{ChartType: TypeArtists, Key: "a", Position: 7}})

	assert.Equal(t, Position(2), touched[TypeArtists]["a"].BestPosition)
}
