// Package lastfm implements the Last.fm web service client.
package lastfm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// JSON QUIRKS
// ══════════════════════════════════════════════════════════════════════════════

// The Last.fm JSON responses are converted from XML, so numeric fields arrive
// as strings and single-element lists sometimes arrive as bare objects. The
// types below absorb both quirks at the decoding boundary.

// IntString decodes a JSON number that may be quoted.
type IntString int

// UnmarshalJSON implements json.Unmarshaler.
func (n *IntString) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("parse int %q: %w", s, err)
	}
	*n = IntString(v)
	return nil
}

// Int64String decodes a JSON unix timestamp that may be quoted.
type Int64String int64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Int64String) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parse int64 %q: %w", s, err)
	}
	*n = Int64String(v)
	return nil
}

// listOrSingle decodes either a JSON array of T or a single T object.
type listOrSingle[T any] []T

// UnmarshalJSON implements json.Unmarshaler.
func (l *listOrSingle[T]) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*l = nil
		return nil
	}
	if trimmed[0] == '[' {
		return json.Unmarshal(data, (*[]T)(l))
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*l = []T{one}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR RESPONSE
// ══════════════════════════════════════════════════════════════════════════════

// Last.fm error codes relevant to the weekly chart endpoints.
const (
	ErrCodeInvalidParameters = 6
	ErrCodeInvalidSessionKey = 9
	ErrCodeInvalidAPIKey     = 10
	ErrCodeServiceOffline    = 11
	ErrCodeTemporaryError    = 16
	ErrCodeSuspendedAPIKey   = 26
	ErrCodeRateLimitExceeded = 29
)

// APIErrorDTO is the error envelope returned on any failed call.
type APIErrorDTO struct {
	Code    int    `json:"error"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *APIErrorDTO) Error() string {
	return fmt.Sprintf("lastfm error %d: %s", e.Code, e.Message)
}

// Temporary reports whether the error is worth retrying.
func (e *APIErrorDTO) Temporary() bool {
	switch e.Code {
	case ErrCodeServiceOffline, ErrCodeTemporaryError, ErrCodeRateLimitExceeded:
		return true
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY CHART RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// chartAttrDTO carries the user and window echoed back by the service.
type chartAttrDTO struct {
	User string      `json:"user"`
	From Int64String `json:"from"`
	To   Int64String `json:"to"`
}

// rankAttrDTO carries the per-item rank attribute.
type rankAttrDTO struct {
	Rank IntString `json:"rank"`
}

// artistRefDTO is the nested artist reference on track and album items.
type artistRefDTO struct {
	Name string `json:"#text"`
	MBID string `json:"mbid"`
}

// WeeklyArtistDTO is one artist row in a weekly artist chart.
type WeeklyArtistDTO struct {
	Name      string      `json:"name"`
	MBID      string      `json:"mbid"`
	Playcount IntString   `json:"playcount"`
	Attr      rankAttrDTO `json:"@attr"`
}

// WeeklyTrackDTO is one track row in a weekly track chart.
type WeeklyTrackDTO struct {
	Name      string       `json:"name"`
	MBID      string       `json:"mbid"`
	Playcount IntString    `json:"playcount"`
	Artist    artistRefDTO `json:"artist"`
	Attr      rankAttrDTO  `json:"@attr"`
}

// WeeklyAlbumDTO is one album row in a weekly album chart.
type WeeklyAlbumDTO struct {
	Name      string       `json:"name"`
	MBID      string       `json:"mbid"`
	Playcount IntString    `json:"playcount"`
	Artist    artistRefDTO `json:"artist"`
	Attr      rankAttrDTO  `json:"@attr"`
}

// WeeklyArtistChartDTO is the user.getWeeklyArtistChart payload.
type WeeklyArtistChartDTO struct {
	Artists listOrSingle[WeeklyArtistDTO] `json:"artist"`
	Attr    chartAttrDTO                  `json:"@attr"`
}

// WeeklyTrackChartDTO is the user.getWeeklyTrackChart payload.
type WeeklyTrackChartDTO struct {
	Tracks listOrSingle[WeeklyTrackDTO] `json:"track"`
	Attr   chartAttrDTO                 `json:"@attr"`
}

// WeeklyAlbumChartDTO is the user.getWeeklyAlbumChart payload.
type WeeklyAlbumChartDTO struct {
	Albums listOrSingle[WeeklyAlbumDTO] `json:"album"`
	Attr   chartAttrDTO                 `json:"@attr"`
}

// Response envelopes. Each method wraps its payload in a single-key object.

type weeklyArtistChartResponse struct {
	Chart WeeklyArtistChartDTO `json:"weeklyartistchart"`
}

type weeklyTrackChartResponse struct {
	Chart WeeklyTrackChartDTO `json:"weeklytrackchart"`
}

type weeklyAlbumChartResponse struct {
	Chart WeeklyAlbumChartDTO `json:"weeklyalbumchart"`
}
