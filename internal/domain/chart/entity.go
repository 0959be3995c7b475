// Package chart contains the weekly chart domain model for Groove Charts Hub.
// A chart is a ranked list of artists, tracks or albums for one group and one
// week, built from the listening history of every member of the group.
package chart

import (
	"fmt"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Type identifies which kind of entries a chart ranks.
type Type string

const (
	// TypeArtists ranks artists.
	TypeArtists Type = "artists"
	// TypeTracks ranks tracks.
	TypeTracks Type = "tracks"
	// TypeAlbums ranks albums.
	TypeAlbums Type = "albums"
)

// AllTypes returns every chart type in stable order.
func AllTypes() []Type {
	return []Type{TypeArtists, TypeTracks, TypeAlbums}
}

// IsValid reports whether the chart type is known.
func (t Type) IsValid() bool {
	switch t {
	case TypeArtists, TypeTracks, TypeAlbums:
		return true
	}
	return false
}

// String returns the string representation of the chart type.
func (t Type) String() string {
	return string(t)
}

// Mode is the scoring policy that decides how member contributions combine
// into the group ranking.
type Mode string

const (
	// ModePlaysOnly sums raw playcounts across members.
	ModePlaysOnly Mode = "plays_only"
	// ModeVibeScore normalizes each member's contribution by their own
	// listening volume: a member's favorite entry always contributes 1.0.
	ModeVibeScore Mode = "vs"
	// ModeVibeScoreWeighted multiplies the vibe score by the playcount,
	// rewarding both taste ranking and volume.
	ModeVibeScoreWeighted Mode = "vs_weighted"
)

// IsValid reports whether the mode is known.
func (m Mode) IsValid() bool {
	switch m {
	case ModePlaysOnly, ModeVibeScore, ModeVibeScoreWeighted:
		return true
	}
	return false
}

// EntryKey is the normalized identity of a chart entry. Artists use the
// lowercased name; tracks and albums use "name|artist" so that the same title
// by different artists stays distinct.
type EntryKey string

// ArtistKey builds the normalized key for an artist.
func ArtistKey(name string) EntryKey {
	return EntryKey(normalize(name))
}

// ItemKey builds the normalized key for a track or album.
func ItemKey(name, artist string) EntryKey {
	return EntryKey(normalize(name) + "|" + normalize(artist))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Position is a 1-based rank inside one chart.
type Position int

// IsValid reports whether the position is positive.
func (p Position) IsValid() bool {
	return p > 0
}

// IsTop10 reports whether the position is inside the top 10.
func (p Position) IsTop10() bool {
	return p >= 1 && p <= 10
}

// String returns "#N".
func (p Position) String() string {
	return fmt.Sprintf("#%d", p)
}

// EntryType classifies how an entry arrived at its position. It is carried
// for presentation, the ranking itself never depends on it.
type EntryType string

const (
	// EntryNew first appearance ever in the group's charts.
	EntryNew EntryType = "new"
	// EntryReturning was absent last week but has charted before.
	EntryReturning EntryType = "returning"
	// EntryUp moved up compared to last week.
	EntryUp EntryType = "up"
	// EntryDown moved down compared to last week.
	EntryDown EntryType = "down"
	// EntrySteady kept its position.
	EntrySteady EntryType = "steady"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Entry is one ranked row of a weekly chart.
type Entry struct {
	GroupID   string
	WeekStart time.Time
	ChartType Type
	Key       EntryKey

	// Display identity as reported by the listening service.
	Name   string
	Artist string // empty for artist charts

	Position  Position
	Playcount int

	// VibeScore is the summed member contributions under vs / vs_weighted
	// modes. Nil under plays_only.
	VibeScore *float64

	// PositionChange is previousPosition - position (positive = moved up).
	// Nil means the entry was absent from the previous week ("NEW").
	PositionChange *int

	EntryType EntryType
}

// Score returns the value the entry was ranked by.
func (e *Entry) Score() float64 {
	if e.VibeScore != nil {
		return *e.VibeScore
	}
	return float64(e.Playcount)
}

// IsNew reports whether the entry was absent from the previous week.
func (e *Entry) IsNew() bool {
	return e.PositionChange == nil
}

// UserContribution is one member's share of one entry for one week. It feeds
// both the group aggregate and the per-user records.
type UserContribution struct {
	GroupID   string
	UserID    string
	WeekStart time.Time
	ChartType Type
	Key       EntryKey

	Playcount int
	// RankInOwnTop is the entry's 1-based rank inside this member's own
	// weekly list, ordered by playcount.
	RankInOwnTop int
	// Score is the member's contribution under the group's chart mode.
	Score float64
}

// WeeklyStats is the denormalized top-N snapshot for one (group, week). It
// exists so "latest week" reads never have to re-join chart entries.
type WeeklyStats struct {
	ID          string
	GroupID     string
	WeekStart   time.Time
	WeekEnd     time.Time
	GeneratedAt time.Time

	// Top holds the ranked entries per chart type, already truncated to the
	// group's chart size.
	Top map[Type][]Entry

	// Trends are computed for the latest generated week only.
	Trends *Trends
}

// Trends summarizes movement for the most recent week.
type Trends struct {
	// Debuts are entries that charted for the first time this week.
	Debuts []TrendEntry
	// Climbers are the biggest upward movers.
	Climbers []TrendEntry
	// Fallers are the biggest downward movers.
	Fallers []TrendEntry
}

// TrendEntry is one line of a trend list.
type TrendEntry struct {
	ChartType Type
	Key       EntryKey
	Name      string
	Artist    string
	Position  Position
	Change    int // 0 for debuts
}

// TouchedEntry identifies an entry that appeared in a freshly generated week,
// together with the best position it reached during the run. The set of
// touched entries drives cache invalidation and incremental record updates.
type TouchedEntry struct {
	ChartType    Type
	Key          EntryKey
	Name         string
	Artist       string
	BestPosition Position
}
