package chart

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// 2024-01-05 is a Friday.
var friday = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

func TestNewWindow_SevenDays(t *testing.T) {
	w := NewWindow(friday)
	assert.Equal(t, friday, w.Start)
	assert.Equal(t, friday.AddDate(0, 0, 7), w.End)
}

func TestWindow_IsFinished(t *testing.T) {
	w := NewWindow(friday)
	assert.False(t, w.IsFinished(w.End.Add(-time.Second)))
	// Exactly at weekEnd the week is not finished yet.
	assert.False(t, w.IsFinished(w.End))
	assert.True(t, w.IsFinished(w.End.Add(time.Second)))
}

func TestCurrentWindow_AlignedToTrackingDay(t *testing.T) {
	// Wednesday inside a week tracked from Friday.
	wednesday := time.Date(2024, 1, 10, 15, 30, 0, 0, time.UTC)
	w := CurrentWindow(wednesday, time.Friday)
	assert.Equal(t, friday, w.Start)
	assert.Equal(t, time.Friday, w.Start.Weekday())

	// On the tracking day itself a new week starts.
	w = CurrentWindow(friday.Add(5*time.Hour), time.Friday)
	assert.Equal(t, friday, w.Start)
}

func TestLatestFinishedWindow(t *testing.T) {
	now := time.Date(2024, 1, 17, 12, 0, 0, 0, time.UTC) // Wednesday
	w := LatestFinishedWindow(now, time.Friday)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), w.Start)
	assert.True(t, w.IsFinished(now))
	assert.False(t, w.Next().IsFinished(now))
}

func TestBacklog_EmptyGroupSeedsTenWeeks(t *testing.T) {
	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	backlog := Backlog(nil, now, time.Friday)

	assert.Len(t, backlog, MaxBacklogWeeks)
	// Oldest first, contiguous, all finished.
	for i, w := range backlog {
		assert.True(t, w.IsFinished(now))
		if i > 0 {
			assert.Equal(t, backlog[i-1].End, w.Start)
		}
	}
	latest := LatestFinishedWindow(now, time.Friday)
	assert.Equal(t, latest.Start, backlog[len(backlog)-1].Start)
}

func TestBacklog_ContinuesFromLastGenerated(t *testing.T) {
	now := time.Date(2024, 2, 7, 12, 0, 0, 0, time.UTC)
	last := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	backlog := Backlog(&last, now, time.Friday)

	assert.NotEmpty(t, backlog)
	assert.Equal(t, last.AddDate(0, 0, 7), backlog[0].Start)
	for _, w := range backlog {
		assert.True(t, w.IsFinished(now))
	}
}

func TestBacklog_CappedAtTenWeeks(t *testing.T) {
	now := time.Date(2024, 6, 20, 12, 0, 0, 0, time.UTC)
	last := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	backlog := Backlog(&last, now, time.Friday)

	assert.Len(t, backlog, MaxBacklogWeeks)
	assert.Equal(t, last.AddDate(0, 0, 7), backlog[0].Start)
}

func TestBacklog_UpToDateReturnsEmpty(t *testing.T) {
	now := time.Date(2024, 1, 17, 12, 0, 0, 0, time.UTC)
	last := LatestFinishedWindow(now, time.Friday).Start
	backlog := Backlog(&last, now, time.Friday)
	assert.Empty(t, backlog)
}
