package lastfm

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groovehub/groove-charts-hub/internal/domain/chart"
)

func TestWeeklyArtistChartParsing(t *testing.T) {
	raw := `{
		"weeklyartistchart": {
			"artist": [
				{"name": "Radiohead", "mbid": "a74b1b7f", "playcount": "42", "@attr": {"rank": "1"}},
				{"name": "Portishead", "mbid": "", "playcount": "17", "@attr": {"rank": "2"}}
			],
			"@attr": {"user": "alice", "from": "1704067200", "to": "1704672000"}
		}
	}`

	var resp weeklyArtistChartResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))

	assert.Equal(t, "alice", resp.Chart.Attr.User)
	assert.Equal(t, Int64String(1704067200), resp.Chart.Attr.From)
	require.Len(t, resp.Chart.Artists, 2)
	assert.Equal(t, "Radiohead", resp.Chart.Artists[0].Name)
	assert.Equal(t, IntString(42), resp.Chart.Artists[0].Playcount)
	assert.Equal(t, IntString(1), resp.Chart.Artists[0].Attr.Rank)
}

func TestWeeklyTrackChartParsesNestedArtist(t *testing.T) {
	raw := `{
		"weeklytrackchart": {
			"track": [
				{"name": "Roads", "playcount": "9", "artist": {"#text": "Portishead", "mbid": ""}, "@attr": {"rank": "1"}}
			],
			"@attr": {"user": "bob", "from": "1704067200", "to": "1704672000"}
		}
	}`

	var resp weeklyTrackChartResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))

	require.Len(t, resp.Chart.Tracks, 1)
	assert.Equal(t, "Roads", resp.Chart.Tracks[0].Name)
	assert.Equal(t, "Portishead", resp.Chart.Tracks[0].Artist.Name)
}

func TestSingleItemArrivesAsObject(t *testing.T) {
	// The XML-to-JSON conversion collapses single-element lists into a bare
	// object. The decoder must accept both shapes.
	raw := `{
		"weeklyalbumchart": {
			"album": {"name": "Dummy", "playcount": "5", "artist": {"#text": "Portishead"}, "@attr": {"rank": "1"}},
			"@attr": {"user": "carol", "from": "1704067200", "to": "1704672000"}
		}
	}`

	var resp weeklyAlbumChartResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))

	require.Len(t, resp.Chart.Albums, 1)
	assert.Equal(t, "Dummy", resp.Chart.Albums[0].Name)
}

func TestAPIErrorEnvelope(t *testing.T) {
	raw := `{"error": 29, "message": "Rate limit exceeded"}`

	var apiErr APIErrorDTO
	require.NoError(t, json.Unmarshal([]byte(raw), &apiErr))

	assert.Equal(t, ErrCodeRateLimitExceeded, apiErr.Code)
	assert.True(t, apiErr.Temporary())

	apiErr.Code = ErrCodeInvalidSessionKey
	assert.False(t, apiErr.Temporary())
}

func TestMapperNormalizesKeysAndDropsEmptyRows(t *testing.T) {
	m := NewMapper()

	dto := &WeeklyTrackChartDTO{
		Tracks: []WeeklyTrackDTO{
			{Name: "Roads", Playcount: 9, Artist: artistRefDTO{Name: "Portishead"}},
			{Name: "ROADS", Playcount: 3, Artist: artistRefDTO{Name: "portishead"}},
			{Name: "", Playcount: 4, Artist: artistRefDTO{Name: "Nobody"}},
			{Name: "Silent", Playcount: 0, Artist: artistRefDTO{Name: "Nobody"}},
		},
	}

	entries := m.TrackPlays(dto)
	require.Len(t, entries, 2)

	// Same track in different casing normalizes to the same key.
	assert.Equal(t, entries[0].Key, entries[1].Key)
	assert.Equal(t, chart.ItemKey("Roads", "Portishead"), entries[0].Key)
	assert.Equal(t, "Roads", entries[0].Name)
}

func TestSignExcludesFormatAndSortsParams(t *testing.T) {
	c := NewClient(DefaultClientConfig("key", "secret"))

	params := url.Values{}
	params.Set("method", "user.getweeklyartistchart")
	params.Set("user", "alice")
	params.Set("api_key", "key")
	params.Set("sk", "session")
	params.Set("format", "json")

	sig := c.sign(params)
	assert.Len(t, sig, 32)

	// format must not influence the signature
	params.Del("format")
	assert.Equal(t, sig, c.sign(params))
}
