// Package lastfm implements the Last.fm web service client.
package lastfm

import (
	"strings"

	"github.com/groovehub/groove-charts-hub/internal/domain/chart"
)

// Mapper converts Last.fm DTOs into domain play entries.
type Mapper struct{}

// NewMapper creates a new Mapper.
func NewMapper() *Mapper {
	return &Mapper{}
}

// ArtistPlays maps a weekly artist chart into play entries. Rows with an
// empty name or a zero playcount are dropped.
func (m *Mapper) ArtistPlays(dto *WeeklyArtistChartDTO) []chart.PlayEntry {
	if dto == nil {
		return nil
	}

	entries := make([]chart.PlayEntry, 0, len(dto.Artists))
	for _, a := range dto.Artists {
		name := strings.TrimSpace(a.Name)
		if name == "" || a.Playcount <= 0 {
			continue
		}
		entries = append(entries, chart.PlayEntry{
			Key:       chart.ArtistKey(name),
			Name:      name,
			Playcount: int(a.Playcount),
		})
	}
	return entries
}

// TrackPlays maps a weekly track chart into play entries. The entry key is
// derived from both the track and artist names so that identically named
// tracks by different artists stay distinct.
func (m *Mapper) TrackPlays(dto *WeeklyTrackChartDTO) []chart.PlayEntry {
	if dto == nil {
		return nil
	}

	entries := make([]chart.PlayEntry, 0, len(dto.Tracks))
	for _, t := range dto.Tracks {
		name := strings.TrimSpace(t.Name)
		artist := strings.TrimSpace(t.Artist.Name)
		if name == "" || t.Playcount <= 0 {
			continue
		}
		entries = append(entries, chart.PlayEntry{
			Key:       chart.ItemKey(name, artist),
			Name:      name,
			Artist:    artist,
			Playcount: int(t.Playcount),
		})
	}
	return entries
}

// AlbumPlays maps a weekly album chart into play entries.
func (m *Mapper) AlbumPlays(dto *WeeklyAlbumChartDTO) []chart.PlayEntry {
	if dto == nil {
		return nil
	}

	entries := make([]chart.PlayEntry, 0, len(dto.Albums))
	for _, a := range dto.Albums {
		name := strings.TrimSpace(a.Name)
		artist := strings.TrimSpace(a.Artist.Name)
		if name == "" || a.Playcount <= 0 {
			continue
		}
		entries = append(entries, chart.PlayEntry{
			Key:       chart.ItemKey(name, artist),
			Name:      name,
			Artist:    artist,
			Playcount: int(a.Playcount),
		})
	}
	return entries
}
