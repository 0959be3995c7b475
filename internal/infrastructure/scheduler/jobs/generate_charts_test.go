package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groovehub/groove-charts-hub/internal/domain/chart"
	"github.com/groovehub/groove-charts-hub/internal/domain/group"
	"github.com/groovehub/groove-charts-hub/internal/domain/records"
	"github.com/groovehub/groove-charts-hub/pkg/logger"
	"github.com/groovehub/groove-charts-hub/pkg/secrets"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeGroupRepo struct {
	mu sync.Mutex

	group   *group.Group
	members []*group.Member

	locked          bool
	forceResets     int
	progress        []group.Progress
	released        bool
	releasedFailed  []string
	releasedAborted bool

	// onAcquire runs after a successful lock acquisition, letting tests
	// simulate work committed by a racing run.
	onAcquire func()
}

func (f *fakeGroupRepo) GetByID(_ context.Context, groupID string) (*group.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.group == nil || f.group.ID != groupID {
		return nil, errors.New("not found")
	}
	g := *f.group
	return &g, nil
}

func (f *fakeGroupRepo) ListActive(_ context.Context) ([]*group.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.group == nil {
		return nil, nil
	}
	return []*group.Group{f.group}, nil
}

func (f *fakeGroupRepo) GetMembers(_ context.Context, _ string) ([]*group.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members, nil
}

func (f *fakeGroupRepo) TryAcquireGenerationLock(_ context.Context, _ string, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked {
		return group.ErrGenerationInProgress
	}
	f.locked = true
	f.group.GenerationInProgress = true
	f.group.GenerationStartedAt = &startedAt
	if f.onAcquire != nil {
		f.onAcquire()
	}
	return nil
}

func (f *fakeGroupRepo) ForceResetLock(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forceResets++
	f.locked = false
	f.group.GenerationInProgress = false
	f.group.GenerationStartedAt = nil
	return nil
}

func (f *fakeGroupRepo) UpdateProgress(_ context.Context, _ string, p group.Progress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, p)
	return nil
}

func (f *fakeGroupRepo) ReleaseGenerationLock(_ context.Context, _ string, failedUsers []string, aborted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = false
	f.released = true
	f.releasedFailed = failedUsers
	f.releasedAborted = aborted
	return nil
}

type storedWeek struct {
	entries  []chart.Entry
	contribs []chart.UserContribution
	stats    *chart.WeeklyStats
}

type fakeChartRepo struct {
	mu sync.Mutex

	weeks       map[time.Time]*storedWeek
	savedTrends map[time.Time]*chart.Trends
}

func newFakeChartRepo() *fakeChartRepo {
	return &fakeChartRepo{
		weeks:       make(map[time.Time]*storedWeek),
		savedTrends: make(map[time.Time]*chart.Trends),
	}
}

func (f *fakeChartRepo) ReplaceWeek(_ context.Context, _ string, week chart.Window, entries []chart.Entry, contribs []chart.UserContribution, stats *chart.WeeklyStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weeks[week.Start] = &storedWeek{entries: entries, contribs: contribs, stats: stats}
	return nil
}

func (f *fakeChartRepo) GetWeekPositions(_ context.Context, _ string, weekStart time.Time, chartType chart.Type) (chart.PreviousPositions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(chart.PreviousPositions)
	if w, ok := f.weeks[weekStart]; ok {
		for _, e := range w.entries {
			if e.ChartType == chartType {
				out[e.Key] = e.Position
			}
		}
	}
	return out, nil
}

func (f *fakeChartRepo) GetChartedKeys(_ context.Context, _ string, chartType chart.Type) (map[chart.EntryKey]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[chart.EntryKey]bool)
	for _, w := range f.weeks {
		for _, e := range w.entries {
			if e.ChartType == chartType {
				out[e.Key] = true
			}
		}
	}
	return out, nil
}

func (f *fakeChartRepo) GetWeekEntries(_ context.Context, _ string, weekStart time.Time) ([]chart.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.weeks[weekStart]; ok {
		return w.entries, nil
	}
	return nil, nil
}

func (f *fakeChartRepo) GetEntryHistory(_ context.Context, _ string, chartType chart.Type, key chart.EntryKey) ([]chart.Entry, error) {
	all, _ := f.GetAllEntries(context.Background(), "")
	var out []chart.Entry
	for _, e := range all {
		if e.ChartType == chartType && e.Key == key {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeChartRepo) GetAllEntries(_ context.Context, _ string) ([]chart.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	starts := make([]time.Time, 0, len(f.weeks))
	for s := range f.weeks {
		starts = append(starts, s)
	}
	for i := 0; i < len(starts); i++ {
		for k := i + 1; k < len(starts); k++ {
			if starts[k].Before(starts[i]) {
				starts[i], starts[k] = starts[k], starts[i]
			}
		}
	}
	var out []chart.Entry
	for _, s := range starts {
		out = append(out, f.weeks[s].entries...)
	}
	return out, nil
}

func (f *fakeChartRepo) GetAllContributions(_ context.Context, _ string) ([]chart.UserContribution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chart.UserContribution
	for _, w := range f.weeks {
		out = append(out, w.contribs...)
	}
	return out, nil
}

func (f *fakeChartRepo) GetLatestWeekStart(_ context.Context, _ string) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *time.Time
	for s := range f.weeks {
		s := s
		if latest == nil || s.After(*latest) {
			latest = &s
		}
	}
	return latest, nil
}

func (f *fakeChartRepo) GetWeeklyStats(_ context.Context, _ string, weekStart time.Time) (*chart.WeeklyStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.weeks[weekStart]; ok {
		return w.stats, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeChartRepo) GetLatestWeeklyStats(ctx context.Context, groupID string) (*chart.WeeklyStats, error) {
	latest, _ := f.GetLatestWeekStart(ctx, groupID)
	if latest == nil {
		return nil, errors.New("not found")
	}
	return f.GetWeeklyStats(ctx, groupID, *latest)
}

func (f *fakeChartRepo) SaveTrends(_ context.Context, _ string, weekStart time.Time, trends *chart.Trends) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedTrends[weekStart] = trends
	return nil
}

type fakeStatsRepo struct {
	mu       sync.Mutex
	upserted []*records.EntryStats
	closed   int
}

func (f *fakeStatsRepo) UpsertEntryStats(_ context.Context, stats []*records.EntryStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, stats...)
	return nil
}

func (f *fakeStatsRepo) GetEntryStats(_ context.Context, _ string, _ chart.Type, _ chart.EntryKey) (*records.EntryStats, error) {
	return nil, errors.New("not found")
}

func (f *fakeStatsRepo) ListEntryStats(_ context.Context, _ string) ([]*records.EntryStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserted, nil
}

func (f *fakeStatsRepo) CloseMissing(_ context.Context, _ string, _ time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return 0, nil
}

type fakeCache struct {
	mu                 sync.Mutex
	invalidatedEntries [][]chart.TouchedEntry
	invalidatedLatest  int
	setLatest          int
}

func (f *fakeCache) SetLatest(_ context.Context, _ string, _ *chart.WeeklyStats, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setLatest++
	return nil
}

func (f *fakeCache) GetLatest(_ context.Context, _ string) (*chart.WeeklyStats, error) {
	return nil, errors.New("miss")
}

func (f *fakeCache) InvalidateEntries(_ context.Context, _ string, touched []chart.TouchedEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidatedEntries = append(f.invalidatedEntries, touched)
	return nil
}

func (f *fakeCache) InvalidateLatest(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidatedLatest++
	return nil
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []*records.Job
}

func (f *fakeQueue) Enqueue(_ context.Context, job *records.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeQueue) DequeueBatch(_ context.Context, limit int) ([]*records.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.jobs) {
		limit = len(f.jobs)
	}
	out := f.jobs[:limit]
	f.jobs = f.jobs[limit:]
	return out, nil
}

// fakeProvider serves the same plays for every week, and fails permanently
// for usernames in failing.
type fakeProvider struct {
	mu      sync.Mutex
	plays   map[string]map[chart.Type][]chart.PlayEntry
	failing map[string]bool
	calls   int
}

func (f *fakeProvider) WeeklyPlays(_ context.Context, username, _ string, chartType chart.Type, _ chart.Window) ([]chart.PlayEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing[username] {
		return nil, errors.New("fetch failed")
	}
	return f.plays[username][chartType], nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURE
// ══════════════════════════════════════════════════════════════════════════════

type fixture struct {
	job    *GenerateChartsJob
	groups *fakeGroupRepo
	charts *fakeChartRepo
	stats  *fakeStatsRepo
	cache  *fakeCache
	queue  *fakeQueue
	prov   *fakeProvider
	box    *secrets.Box
}

func newFixture(t *testing.T, backlogWeeks int) *fixture {
	t.Helper()

	key, err := secrets.GenerateKey()
	require.NoError(t, err)
	box, err := secrets.NewBox(key)
	require.NoError(t, err)

	sealed := func(s string) string {
		out, err := box.Seal(s)
		require.NoError(t, err)
		return out
	}

	now := time.Now().UTC()
	g := &group.Group{
		ID:          "g1",
		Name:        "Test Group",
		TrackingDay: time.Monday,
		ChartSize:   group.Size10,
		ChartMode:   chart.ModeVibeScore,
	}

	groups := &fakeGroupRepo{
		group: g,
		members: []*group.Member{
			{GroupID: "g1", UserID: "u1", Username: "alice", SessionKey: sealed("sk-alice")},
			{GroupID: "g1", UserID: "u2", Username: "bob", SessionKey: sealed("sk-bob")},
		},
	}

	charts := newFakeChartRepo()
	// Seed charts so that exactly backlogWeeks finished windows are pending.
	latest := chart.LatestFinishedWindow(now, g.TrackingDay)
	seed := latest
	for i := 0; i < backlogWeeks; i++ {
		seed = seed.Previous()
	}
	charts.weeks[seed.Start] = &storedWeek{
		stats: &chart.WeeklyStats{GroupID: "g1", WeekStart: seed.Start, WeekEnd: seed.End},
	}

	prov := &fakeProvider{
		failing: make(map[string]bool),
		plays: map[string]map[chart.Type][]chart.PlayEntry{
			"alice": {
				chart.TypeArtists: {
					{Key: chart.ArtistKey("Radiohead"), Name: "Radiohead", Playcount: 40},
					{Key: chart.ArtistKey("Portishead"), Name: "Portishead", Playcount: 10},
				},
				chart.TypeTracks: {
					{Key: chart.ItemKey("Let Down", "Radiohead"), Name: "Let Down", Artist: "Radiohead", Playcount: 12},
				},
				chart.TypeAlbums: {
					{Key: chart.ItemKey("OK Computer", "Radiohead"), Name: "OK Computer", Artist: "Radiohead", Playcount: 20},
				},
			},
			"bob": {
				chart.TypeArtists: {
					{Key: chart.ArtistKey("Portishead"), Name: "Portishead", Playcount: 30},
				},
				chart.TypeTracks: {
					{Key: chart.ItemKey("Glory Box", "Portishead"), Name: "Glory Box", Artist: "Portishead", Playcount: 8},
				},
				chart.TypeAlbums: {
					{Key: chart.ItemKey("Dummy", "Portishead"), Name: "Dummy", Artist: "Portishead", Playcount: 15},
				},
			},
		},
	}

	stats := &fakeStatsRepo{}
	cache := &fakeCache{}
	queue := &fakeQueue{}

	config := DefaultGenerateChartsConfig()
	config.InterWeekDelay = 0

	job := NewGenerateChartsJob(groups, charts, stats, cache, queue, prov, box,
		logger.New(logger.Options{Output: nullWriter{}}), config)

	return &fixture{
		job:    job,
		groups: groups,
		charts: charts,
		stats:  stats,
		cache:  cache,
		queue:  queue,
		prov:   prov,
		box:    box,
	}
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

// ══════════════════════════════════════════════════════════════════════════════
// GENERATION TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestGenerateGroupProducesBacklogWeeks(t *testing.T) {
	f := newFixture(t, 2)

	result, err := f.job.GenerateGroup(context.Background(), "g1")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 2, result.WeeksGenerated)
	assert.False(t, result.Aborted)
	assert.Empty(t, result.FailedUsers)

	// Seed week plus two generated weeks.
	assert.Len(t, f.charts.weeks, 3)

	// Lock released with clean diagnostics.
	assert.True(t, f.groups.released)
	assert.False(t, f.groups.locked)
	assert.False(t, f.groups.releasedAborted)
	assert.Empty(t, f.groups.releasedFailed)
}

func TestGenerateGroupRanksCombinedVibeScores(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.job.GenerateGroup(context.Background(), "g1")
	require.NoError(t, err)

	now := time.Now().UTC()
	week := chart.LatestFinishedWindow(now, time.Monday)
	stored := f.charts.weeks[week.Start]
	require.NotNil(t, stored)

	artists := stored.stats.Top[chart.TypeArtists]
	require.Len(t, artists, 2)

	// Portishead is alice's #2 (~0.71) and bob's #1 (1.0), Radiohead only
	// alice's #1 (1.0), so Portishead wins under vibe scoring.
	assert.Equal(t, chart.ArtistKey("Portishead"), artists[0].Key)
	assert.Equal(t, chart.Position(1), artists[0].Position)
	require.NotNil(t, artists[0].VibeScore)
	assert.InDelta(t, 1.71, *artists[0].VibeScore, 0.001)
	assert.Equal(t, chart.ArtistKey("Radiohead"), artists[1].Key)
}

func TestGenerateGroupFinalizesOnce(t *testing.T) {
	f := newFixture(t, 3)

	result, err := f.job.GenerateGroup(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 3, result.WeeksGenerated)

	// One batched invalidation for the whole run, not one per week.
	require.Len(t, f.cache.invalidatedEntries, 1)
	assert.NotEmpty(t, f.cache.invalidatedEntries[0])
	assert.Equal(t, 1, f.cache.invalidatedLatest)
	assert.Equal(t, 1, f.cache.setLatest)

	// Trends saved only for the newest week.
	now := time.Now().UTC()
	latest := chart.LatestFinishedWindow(now, time.Monday)
	assert.Len(t, f.charts.savedTrends, 1)
	assert.Contains(t, f.charts.savedTrends, latest.Start)

	// Aggregates refreshed and one records job enqueued.
	assert.NotEmpty(t, f.stats.upserted)
	assert.Equal(t, 1, f.stats.closed)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, "g1", f.queue.jobs[0].GroupID)
	assert.NotNil(t, f.queue.jobs[0].Touched)
}

func TestGenerateGroupProgressMovesThroughStages(t *testing.T) {
	f := newFixture(t, 2)

	_, err := f.job.GenerateGroup(context.Background(), "g1")
	require.NoError(t, err)

	var stages []group.Stage
	for _, p := range f.groups.progress {
		stages = append(stages, p.Stage)
	}
	assert.Equal(t, []group.Stage{
		group.StageInitializing,
		group.StageFetching,
		group.StageProcessing,
		group.StageProcessing,
		group.StageFinalizing,
	}, stages)

	last := f.groups.progress[len(f.groups.progress)-1]
	assert.Equal(t, 2, last.CurrentWeek)
	assert.Equal(t, 2, last.TotalWeeks)
}

func TestGenerateGroupSkipsWhenCurrent(t *testing.T) {
	f := newFixture(t, 0)

	result, err := f.job.GenerateGroup(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.WeeksGenerated)

	// No lock taken for a no-op.
	assert.False(t, f.groups.released)
	assert.Equal(t, 0, f.prov.calls)
}

func TestGenerateGroupLosesLockRace(t *testing.T) {
	f := newFixture(t, 1)
	f.groups.locked = true
	startedAt := time.Now().UTC()
	f.groups.group.GenerationInProgress = true
	f.groups.group.GenerationStartedAt = &startedAt

	_, err := f.job.GenerateGroup(context.Background(), "g1")
	require.ErrorIs(t, err, group.ErrGenerationInProgress)
	assert.Equal(t, 0, f.prov.calls)
}

func TestGenerateGroupResetsStaleLock(t *testing.T) {
	f := newFixture(t, 1)
	f.groups.locked = true
	stale := time.Now().UTC().Add(-group.StaleLockTimeout - time.Minute)
	f.groups.group.GenerationInProgress = true
	f.groups.group.GenerationStartedAt = &stale

	result, err := f.job.GenerateGroup(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.groups.forceResets)
	assert.Equal(t, 1, result.WeeksGenerated)
}

func TestGenerateGroupFailedMemberStaysExcluded(t *testing.T) {
	f := newFixture(t, 2)
	f.job.config.AbortFailureRatio = 0.9
	f.prov.failing["bob"] = true

	result, err := f.job.GenerateGroup(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.WeeksGenerated)
	assert.Equal(t, []string{"u2"}, result.FailedUsers)
	assert.Equal(t, []string{"u2"}, f.groups.releasedFailed)

	// Failure sticks: only week one attempts bob, every later fetch is for
	// alice alone (3 chart types per member per week).
	assert.Equal(t, 3+1+3, f.prov.calls)

	// Charts contain only alice's listening.
	now := time.Now().UTC()
	latest := chart.LatestFinishedWindow(now, time.Monday)
	for _, e := range f.charts.weeks[latest.Start].entries {
		assert.NotEqual(t, chart.ItemKey("Glory Box", "Portishead"), e.Key)
	}
	for _, c := range f.charts.weeks[latest.Start].contribs {
		assert.Equal(t, "u1", c.UserID)
	}
}

func TestGenerateGroupAbortsOverFailureThreshold(t *testing.T) {
	f := newFixture(t, 2)
	f.job.config.AbortFailureRatio = 0.4
	f.prov.failing["alice"] = true
	f.prov.failing["bob"] = true

	result, err := f.job.GenerateGroup(context.Background(), "g1")
	require.ErrorIs(t, err, ErrRunAborted)
	assert.True(t, result.Aborted)
	assert.Equal(t, 0, result.WeeksGenerated)

	// The abort trips on the first failure that crosses the threshold, so
	// only that member is recorded; the lock is still released.
	assert.True(t, f.groups.released)
	assert.True(t, f.groups.releasedAborted)
	assert.Equal(t, []string{"u1"}, f.groups.releasedFailed)
}

func TestGenerateGroupAbortRatioCountsFullRoster(t *testing.T) {
	f := newFixture(t, 1)
	f.job.config.AbortFailureRatio = 0.7

	// Three-member roster: one undecryptable key, one failing fetch. Two of
	// three failed is under 0.7, so the run must finish with alice alone,
	// even though both usable members are down to one.
	f.groups.members = append(f.groups.members,
		&group.Member{GroupID: "g1", UserID: "u3", Username: "carol", SessionKey: "not-a-sealed-key"})
	f.prov.failing["bob"] = true

	result, err := f.job.GenerateGroup(context.Background(), "g1")
	require.NoError(t, err)
	assert.False(t, result.Aborted)
	assert.Equal(t, 1, result.WeeksGenerated)
	assert.Equal(t, []string{"u2", "u3"}, result.FailedUsers)
}

func TestGenerateGroupRecheckBacklogUnderLock(t *testing.T) {
	f := newFixture(t, 1)

	// A racing run commits the pending week right as this run takes the
	// lock; the backlog must be re-read under the lock, not trusted from
	// the pre-check.
	now := time.Now().UTC()
	latest := chart.LatestFinishedWindow(now, time.Monday)
	f.groups.onAcquire = func() {
		f.charts.weeks[latest.Start] = &storedWeek{
			stats: &chart.WeeklyStats{GroupID: "g1", WeekStart: latest.Start, WeekEnd: latest.End},
		}
	}

	result, err := f.job.GenerateGroup(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.WeeksGenerated)
	assert.Equal(t, 0, f.prov.calls)
	assert.True(t, f.groups.released)
	assert.False(t, f.groups.locked)
}

func TestGenerateGroupPositionChangesAcrossWeeks(t *testing.T) {
	f := newFixture(t, 2)

	_, err := f.job.GenerateGroup(context.Background(), "g1")
	require.NoError(t, err)

	now := time.Now().UTC()
	latest := chart.LatestFinishedWindow(now, time.Monday)
	artists := f.charts.weeks[latest.Start].stats.Top[chart.TypeArtists]
	require.Len(t, artists, 2)

	// Identical plays both weeks, so the second week is all "steady".
	for _, e := range artists {
		require.NotNil(t, e.PositionChange)
		assert.Equal(t, 0, *e.PositionChange)
		assert.Equal(t, chart.EntrySteady, e.EntryType)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORDS CONSUMER TESTS
// ══════════════════════════════════════════════════════════════════════════════

type fakeRecordsRepo struct {
	mu sync.Mutex

	row       *records.GroupRecords
	recreated int
	completed *records.Blob
	failedMsg string
}

func (f *fakeRecordsRepo) Get(_ context.Context, _ string) (*records.GroupRecords, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.row, nil
}

func (f *fakeRecordsRepo) Recreate(_ context.Context, groupID string, startedAt, chartsGeneratedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recreated++
	f.row = &records.GroupRecords{
		GroupID:              groupID,
		Status:               records.StatusCalculating,
		CalculationStartedAt: &startedAt,
		ChartsGeneratedAt:    &chartsGeneratedAt,
	}
	return nil
}

func (f *fakeRecordsRepo) Complete(_ context.Context, _ string, blob *records.Blob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = blob
	f.row.Status = records.StatusCompleted
	f.row.Records = blob
	return nil
}

func (f *fakeRecordsRepo) Fail(_ context.Context, _ string, calcErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedMsg = calcErr.Error()
	f.row.Status = records.StatusFailed
	return nil
}

func TestCalculateRecordsConsumesQueue(t *testing.T) {
	f := newFixture(t, 2)
	_, err := f.job.GenerateGroup(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, f.queue.jobs, 1)

	recordsRepo := &fakeRecordsRepo{}
	consumer := NewCalculateRecordsJob(f.queue, recordsRepo, f.stats, f.charts,
		logger.New(logger.Options{Output: nullWriter{}}), DefaultCalculateRecordsConfig())

	require.NoError(t, consumer.Run(context.Background()))

	assert.Equal(t, 1, recordsRepo.recreated)
	require.NotNil(t, recordsRepo.completed)
	assert.Equal(t, records.StatusCompleted, recordsRepo.row.Status)

	blob := recordsRepo.completed
	require.Contains(t, blob.Entries, chart.TypeArtists)
	require.NotNil(t, blob.Entries[chart.TypeArtists].MostWeeksCharting)
	assert.Equal(t, float64(2), blob.Entries[chart.TypeArtists].MostWeeksCharting.Value)
	require.NotNil(t, blob.Users)
	require.NotNil(t, blob.Users.MostPlays)

	// Queue drained.
	remaining, err := f.queue.DequeueBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestCalculateRecordsSkipsInFlightCalculation(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.job.GenerateGroup(context.Background(), "g1")
	require.NoError(t, err)

	startedAt := time.Now().UTC().Add(-time.Minute)
	recordsRepo := &fakeRecordsRepo{
		row: &records.GroupRecords{
			GroupID:              "g1",
			Status:               records.StatusCalculating,
			CalculationStartedAt: &startedAt,
		},
	}
	consumer := NewCalculateRecordsJob(f.queue, recordsRepo, f.stats, f.charts,
		logger.New(logger.Options{Output: nullWriter{}}), DefaultCalculateRecordsConfig())

	require.NoError(t, consumer.Run(context.Background()))
	assert.Equal(t, 0, recordsRepo.recreated)

	stats := consumer.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.Skipped)
}

func TestCalculateRecordsFullRebuild(t *testing.T) {
	f := newFixture(t, 2)
	_, err := f.job.GenerateGroup(context.Background(), "g1")
	require.NoError(t, err)

	// Drop the incremental job, then request a full rebuild with an empty
	// stats repo: the rebuild must repopulate it from chart history.
	_, err = f.queue.DequeueBatch(context.Background(), 10)
	require.NoError(t, err)
	emptyStats := &fakeStatsRepo{}
	require.NoError(t, f.queue.Enqueue(context.Background(), &records.Job{
		GroupID:    "g1",
		Touched:    nil,
		EnqueuedAt: time.Now().UTC(),
	}))

	recordsRepo := &fakeRecordsRepo{}
	consumer := NewCalculateRecordsJob(f.queue, recordsRepo, emptyStats, f.charts,
		logger.New(logger.Options{Output: nullWriter{}}), DefaultCalculateRecordsConfig())

	require.NoError(t, consumer.Run(context.Background()))
	assert.NotEmpty(t, emptyStats.upserted)
	require.NotNil(t, recordsRepo.completed)
	assert.NotEmpty(t, recordsRepo.completed.Entries)
}

func TestCoalesceJobsMergesPerGroup(t *testing.T) {
	touched := []chart.TouchedEntry{{ChartType: chart.TypeArtists, Key: "radiohead"}}
	jobs := []*records.Job{
		{GroupID: "g1", Touched: touched, EnqueuedAt: time.Unix(100, 0)},
		{GroupID: "g2", Touched: touched, EnqueuedAt: time.Unix(100, 0)},
		{GroupID: "g1", Touched: nil, EnqueuedAt: time.Unix(200, 0)},
	}

	merged := coalesceJobs(jobs)
	require.Len(t, merged, 2)

	// The full rebuild swallows g1's incremental job.
	assert.Equal(t, "g1", merged[0].GroupID)
	assert.Nil(t, merged[0].Touched)
	assert.Equal(t, time.Unix(200, 0), merged[0].EnqueuedAt)
	assert.Equal(t, "g2", merged[1].GroupID)
	assert.NotNil(t, merged[1].Touched)
}
