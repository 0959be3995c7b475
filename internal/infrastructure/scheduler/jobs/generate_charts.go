// Package jobs contains implementations of scheduled jobs for Groove Charts
// Hub: the weekly chart generation orchestrator and the records calculation
// queue consumer.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/groovehub/groove-charts-hub/internal/domain/chart"
	"github.com/groovehub/groove-charts-hub/internal/domain/group"
	"github.com/groovehub/groove-charts-hub/internal/domain/records"
	"github.com/groovehub/groove-charts-hub/pkg/logger"
	"github.com/groovehub/groove-charts-hub/pkg/secrets"
)

// ══════════════════════════════════════════════════════════════════════════════
// GENERATE CHARTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ErrRunAborted is returned when a generation run stops early because too
// many member fetches failed.
var ErrRunAborted = errors.New("generation run aborted: too many member fetch failures")

// GenerateChartsJob is the weekly chart generation orchestrator. It walks
// every active group, finds finished chart weeks that have not been generated
// yet, and produces them oldest first under the group's generation lock.
type GenerateChartsJob struct {
	groups   group.Repository
	charts   chart.Repository
	stats    records.StatsRepository
	cache    chart.Cache
	queue    records.JobQueue
	provider chart.PlaysProvider
	box      *secrets.Box
	logger   *logger.Logger

	config GenerateChartsConfig

	lastRunStats atomic.Value // *GenerationStats
}

// GenerateChartsConfig contains configuration for the generation job.
type GenerateChartsConfig struct {
	// AbortFailureRatio aborts a group's run when the share of members whose
	// fetches failed exceeds this ratio. A chart built from a sliver of the
	// group is worse than no chart.
	AbortFailureRatio float64

	// InterWeekDelay is the pause between backlog weeks, giving the
	// listening service API room to breathe during long catch-ups.
	InterWeekDelay time.Duration

	// LatestChartTTL is the cache TTL for the latest weekly snapshot.
	LatestChartTTL time.Duration

	// GroupTimeout caps how long a single group's run may take.
	GroupTimeout time.Duration
}

// DefaultGenerateChartsConfig returns sensible defaults.
func DefaultGenerateChartsConfig() GenerateChartsConfig {
	return GenerateChartsConfig{
		AbortFailureRatio: 0.5,
		InterWeekDelay:    2 * time.Second,
		LatestChartTTL:    time.Hour,
		GroupTimeout:      20 * time.Minute,
	}
}

// GenerationStats contains statistics from one job run.
type GenerationStats struct {
	StartedAt       time.Time
	CompletedAt     time.Time
	Duration        time.Duration
	GroupsChecked   int
	GroupsGenerated int
	GroupsSkipped   int
	GroupsFailed    int
	WeeksGenerated  int
	FailedFetches   int
}

// NewGenerateChartsJob creates a new generation orchestrator.
func NewGenerateChartsJob(
	groups group.Repository,
	charts chart.Repository,
	stats records.StatsRepository,
	cache chart.Cache,
	queue records.JobQueue,
	provider chart.PlaysProvider,
	box *secrets.Box,
	log *logger.Logger,
	config GenerateChartsConfig,
) *GenerateChartsJob {
	if log == nil {
		log = logger.Default()
	}
	if config.AbortFailureRatio <= 0 || config.AbortFailureRatio > 1 {
		config.AbortFailureRatio = 0.5
	}

	return &GenerateChartsJob{
		groups:   groups,
		charts:   charts,
		stats:    stats,
		cache:    cache,
		queue:    queue,
		provider: provider,
		box:      box,
		logger:   log.With(logger.Component("generate_charts")),
		config:   config,
	}
}

// Name returns the job name.
func (j *GenerateChartsJob) Name() string {
	return "generate_charts"
}

// Description returns a human-readable description.
func (j *GenerateChartsJob) Description() string {
	return "Generates pending weekly charts for all active groups"
}

// Run executes the generation job. Groups are processed sequentially so one
// worker never competes with itself for the listening service's rate limit.
func (j *GenerateChartsJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &GenerationStats{StartedAt: startedAt}
	defer func() {
		stats.CompletedAt = time.Now()
		stats.Duration = stats.CompletedAt.Sub(startedAt)
		j.lastRunStats.Store(stats)
	}()

	active, err := j.groups.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active groups: %w", err)
	}
	stats.GroupsChecked = len(active)

	var firstErr error
	for _, g := range active {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := j.GenerateGroup(ctx, g.ID)
		switch {
		case errors.Is(err, group.ErrGenerationInProgress):
			stats.GroupsSkipped++
		case err != nil:
			stats.GroupsFailed++
			if firstErr == nil {
				firstErr = err
			}
			j.logger.Error("group generation failed", logger.GroupID(g.ID), logger.Err(err))
		case result == nil || result.WeeksGenerated == 0:
			stats.GroupsSkipped++
		default:
			stats.GroupsGenerated++
			stats.WeeksGenerated += result.WeeksGenerated
			stats.FailedFetches += len(result.FailedUsers)
		}
	}

	j.logger.Info("generation pass completed",
		logger.Int("checked", stats.GroupsChecked),
		logger.Int("generated", stats.GroupsGenerated),
		logger.Int("skipped", stats.GroupsSkipped),
		logger.Int("failed", stats.GroupsFailed),
		logger.Int("weeks", stats.WeeksGenerated),
		logger.Duration("duration", time.Since(startedAt)),
	)

	return firstErr
}

// LastRunStats returns statistics from the last job run.
func (j *GenerateChartsJob) LastRunStats() *GenerationStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*GenerationStats)
}

// ══════════════════════════════════════════════════════════════════════════════
// SINGLE GROUP RUN
// ══════════════════════════════════════════════════════════════════════════════

// GroupRunResult describes the outcome of one group's generation run.
type GroupRunResult struct {
	GroupID        string
	WeeksGenerated int
	FailedUsers    []string
	Aborted        bool
}

// GenerateGroup runs generation for a single group. It is also the entry
// point for on-demand triggers from the HTTP layer.
//
// Returns group.ErrGenerationInProgress when another run holds the lock.
// A nil error with WeeksGenerated == 0 means the group was already current.
func (j *GenerateChartsJob) GenerateGroup(ctx context.Context, groupID string) (*GroupRunResult, error) {
	if j.config.GroupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.GroupTimeout)
		defer cancel()
	}

	now := time.Now().UTC()
	g, err := j.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}

	// A crashed worker must not wedge the group forever.
	if g.LockIsStale(now) {
		j.logger.Warn("resetting stale generation lock",
			logger.GroupID(g.ID),
			logger.Time("locked_since", *g.GenerationStartedAt),
		)
		if err := j.groups.ForceResetLock(ctx, g.ID); err != nil {
			return nil, fmt.Errorf("failed to reset stale lock: %w", err)
		}
	}

	lastGenerated, err := j.charts.GetLatestWeekStart(ctx, g.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest generated week: %w", err)
	}
	backlog := chart.Backlog(lastGenerated, now, g.TrackingDay)
	if len(backlog) == 0 {
		return &GroupRunResult{GroupID: g.ID}, nil
	}

	if err := j.groups.TryAcquireGenerationLock(ctx, g.ID, now); err != nil {
		return nil, err
	}

	run := &groupRun{
		job:     j,
		group:   g,
		failed:  group.NewFailedSet(nil),
		touched: make(map[chart.Type]map[chart.EntryKey]chart.TouchedEntry),
		logger:  j.logger.With(logger.GroupID(g.ID)),
	}

	// The lock is released no matter how the run ends. Release uses a fresh
	// context so a cancelled run still leaves the group unlocked.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		failedIDs := run.failed.UserIDs()
		sort.Strings(failedIDs)
		if err := j.groups.ReleaseGenerationLock(releaseCtx, g.ID, failedIDs, run.aborted); err != nil {
			j.logger.Error("failed to release generation lock", logger.GroupID(g.ID), logger.Err(err))
		}
	}()

	// A racing run may have committed weeks between the pre-check and the
	// lock; the backlog this run acts on is the one visible under the lock.
	lastGenerated, err = j.charts.GetLatestWeekStart(ctx, g.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest generated week: %w", err)
	}
	run.backlog = chart.Backlog(lastGenerated, now, g.TrackingDay)
	if len(run.backlog) == 0 {
		return &GroupRunResult{GroupID: g.ID}, nil
	}

	runErr := run.execute(ctx)

	result := &GroupRunResult{
		GroupID:        g.ID,
		WeeksGenerated: run.weeksDone,
		FailedUsers:    run.failed.UserIDs(),
		Aborted:        run.aborted,
	}
	sort.Strings(result.FailedUsers)
	return result, runErr
}

// ══════════════════════════════════════════════════════════════════════════════
// RUN STATE
// ══════════════════════════════════════════════════════════════════════════════

// groupRun carries the mutable state of one group's generation run. The run
// is strictly sequential; nothing here needs locking.
type groupRun struct {
	job     *GenerateChartsJob
	group   *group.Group
	backlog []chart.Window
	logger  *logger.Logger

	members   []runMember
	roster    int
	failed    group.FailedSet
	touched   map[chart.Type]map[chart.EntryKey]chart.TouchedEntry
	latestTop map[chart.Type][]chart.Entry
	weeksDone int
	aborted   bool
}

// runMember is one member with its session key already decrypted. The
// snapshot is taken once; membership changes mid-run do not affect the run.
type runMember struct {
	userID     string
	username   string
	sessionKey string
}

func (r *groupRun) execute(ctx context.Context) error {
	total := len(r.backlog)
	r.setProgress(ctx, group.Progress{TotalWeeks: total, Stage: group.StageInitializing})

	r.logger.Info("generation run started",
		logger.Int("backlog_weeks", total),
		logger.String("mode", string(r.group.ChartMode)),
	)

	r.setProgress(ctx, group.Progress{TotalWeeks: total, Stage: group.StageFetching})
	if err := r.snapshotMembers(ctx); err != nil {
		return err
	}
	if len(r.members) == 0 {
		r.logger.Warn("group has no usable members, nothing to generate")
		return nil
	}

	for i, week := range r.backlog {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.setProgress(ctx, group.Progress{
			CurrentWeek: i + 1,
			TotalWeeks:  total,
			Stage:       group.StageProcessing,
		})

		if err := r.generateWeek(ctx, week); err != nil {
			// Weeks stored before an abort are real; their stats and caches
			// still have to be brought up to date.
			if errors.Is(err, ErrRunAborted) && r.weeksDone > 0 {
				if ferr := r.finalize(ctx); ferr != nil {
					r.logger.Error("finalization after abort failed", logger.Err(ferr))
				}
			}
			return err
		}
		r.weeksDone++

		if i < total-1 && r.job.config.InterWeekDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.job.config.InterWeekDelay):
			}
		}
	}

	r.setProgress(ctx, group.Progress{
		CurrentWeek: total,
		TotalWeeks:  total,
		Stage:       group.StageFinalizing,
	})
	return r.finalize(ctx)
}

// snapshotMembers loads the group's members and decrypts their session keys.
// A member whose key fails to decrypt counts as failed from week one.
func (r *groupRun) snapshotMembers(ctx context.Context) error {
	members, err := r.job.groups.GetMembers(ctx, r.group.ID)
	if err != nil {
		return fmt.Errorf("failed to load members: %w", err)
	}
	r.roster = len(members)

	r.members = make([]runMember, 0, len(members))
	for _, m := range members {
		sessionKey, err := r.job.box.Open(m.SessionKey)
		if err != nil {
			r.logger.Warn("failed to decrypt member session key",
				logger.UserID(m.UserID),
				logger.Err(err),
			)
			r.failed.Add(m.UserID)
			continue
		}
		r.members = append(r.members, runMember{
			userID:     m.UserID,
			username:   m.Username,
			sessionKey: sessionKey,
		})
	}

	if r.overFailureThreshold() {
		r.aborted = true
		return ErrRunAborted
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEK GENERATION
// ══════════════════════════════════════════════════════════════════════════════

// generateWeek fetches every surviving member's plays for one week, builds
// the three charts and stores the week atomically.
func (r *groupRun) generateWeek(ctx context.Context, week chart.Window) error {
	plays, err := r.fetchWeek(ctx, week)
	if err != nil {
		return err
	}

	weekStats := &chart.WeeklyStats{
		GroupID:     r.group.ID,
		WeekStart:   week.Start,
		WeekEnd:     week.End,
		GeneratedAt: time.Now().UTC(),
		Top:         make(map[chart.Type][]chart.Entry),
	}

	var allEntries []chart.Entry
	var allContribs []chart.UserContribution

	for _, chartType := range chart.AllTypes() {
		prev, err := r.job.charts.GetWeekPositions(ctx, r.group.ID, week.Previous().Start, chartType)
		if err != nil {
			return fmt.Errorf("failed to read previous week positions: %w", err)
		}
		charted, err := r.job.charts.GetChartedKeys(ctx, r.group.ID, chartType)
		if err != nil {
			return fmt.Errorf("failed to read charted keys: %w", err)
		}

		entries, contribs := chart.BuildWeekChart(
			r.group.ChartMode,
			int(r.group.ChartSize),
			r.group.ID,
			week,
			chartType,
			plays[chartType],
			prev,
			charted,
		)

		weekStats.Top[chartType] = entries
		allEntries = append(allEntries, entries...)
		allContribs = append(allContribs, contribs...)
		chart.MergeTouched(r.touched, entries)
	}

	if err := r.job.charts.ReplaceWeek(ctx, r.group.ID, week, allEntries, allContribs, weekStats); err != nil {
		return fmt.Errorf("failed to store week %s: %w", week, err)
	}
	r.latestTop = weekStats.Top

	r.logger.Info("week generated",
		logger.Week(week.Start),
		logger.Int("entries", len(allEntries)),
		logger.Int("contributions", len(allContribs)),
	)
	return nil
}

// fetchWeek pulls one week of plays for every member that has not failed yet.
// A member's plays only count if all three chart types fetched cleanly, so a
// half-fetched member never skews one chart against another.
func (r *groupRun) fetchWeek(ctx context.Context, week chart.Window) (map[chart.Type][]chart.MemberPlays, error) {
	plays := make(map[chart.Type][]chart.MemberPlays)

	for _, m := range r.members {
		if r.failed.Contains(m.userID) {
			continue
		}

		memberPlays := make(map[chart.Type][]chart.PlayEntry, 3)
		var fetchErr error
		for _, chartType := range chart.AllTypes() {
			entries, err := r.job.provider.WeeklyPlays(ctx, m.username, m.sessionKey, chartType, week)
			if err != nil {
				fetchErr = err
				break
			}
			memberPlays[chartType] = entries
		}

		if fetchErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Failures stick for the rest of the run: a member missing from
			// week N must also be missing from every later week, otherwise
			// position changes compare charts built from different lineups.
			r.failed.Add(m.userID)
			r.logger.Warn("member fetch failed, excluding for remainder of run",
				logger.UserID(m.userID),
				logger.Week(week.Start),
				logger.Err(fetchErr),
			)
			if r.overFailureThreshold() {
				r.aborted = true
				return nil, ErrRunAborted
			}
			continue
		}

		for chartType, entries := range memberPlays {
			plays[chartType] = append(plays[chartType], chart.MemberPlays{
				UserID:  m.userID,
				Entries: entries,
			})
		}
	}

	return plays, nil
}

// overFailureThreshold measures failures against the original roster size,
// whether a member failed at key decryption or at a week fetch.
func (r *groupRun) overFailureThreshold() bool {
	if r.roster == 0 {
		return false
	}
	return float64(len(r.failed))/float64(r.roster) > r.job.config.AbortFailureRatio
}

// ══════════════════════════════════════════════════════════════════════════════
// FINALIZATION
// ══════════════════════════════════════════════════════════════════════════════

// finalize runs once per run, after all backlog weeks are stored: it updates
// the running per-entry aggregates, computes trends for the newest week,
// invalidates caches in one batch and hands off to the records queue.
func (r *groupRun) finalize(ctx context.Context) error {
	// On a clean run this is the last backlog week; after an abort it is the
	// last week that actually got stored.
	latest := r.backlog[r.weeksDone-1]

	touched := r.flattenTouched()

	if err := r.updateEntryStats(ctx, latest, touched); err != nil {
		return err
	}

	// Trends only matter for the newest week; historical weeks keep none.
	if r.latestTop != nil {
		trends := chart.ComputeTrends(r.latestTop)
		if err := r.job.charts.SaveTrends(ctx, r.group.ID, latest.Start, trends); err != nil {
			return fmt.Errorf("failed to save trends: %w", err)
		}
	}

	r.invalidateCaches(ctx, latest, touched)

	// Records run out-of-band. Enqueueing is best-effort: the next
	// generation run enqueues again anyway.
	job := &records.Job{
		GroupID:    r.group.ID,
		Touched:    touched,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := r.job.queue.Enqueue(ctx, job); err != nil {
		r.logger.Error("failed to enqueue records calculation", logger.Err(err))
	}

	r.logger.Info("generation run finalized",
		logger.Int("weeks", r.weeksDone),
		logger.Int("touched_entries", len(touched)),
		logger.Int("failed_members", len(r.failed)),
	)
	return nil
}

// updateEntryStats recomputes the running aggregate for every touched entry
// from its stored history and closes out entries that fell off the charts.
func (r *groupRun) updateEntryStats(ctx context.Context, latest chart.Window, touched []chart.TouchedEntry) error {
	updated := make([]*records.EntryStats, 0, len(touched))
	for _, t := range touched {
		history, err := r.job.charts.GetEntryHistory(ctx, r.group.ID, t.ChartType, t.Key)
		if err != nil {
			return fmt.Errorf("failed to read entry history: %w", err)
		}
		if s := records.ComputeEntryStats(history, latest.Start); s != nil {
			updated = append(updated, s)
		}
	}

	if len(updated) > 0 {
		if err := r.job.stats.UpsertEntryStats(ctx, updated); err != nil {
			return fmt.Errorf("failed to upsert entry stats: %w", err)
		}
	}

	closed, err := r.job.stats.CloseMissing(ctx, r.group.ID, latest.Start)
	if err != nil {
		return fmt.Errorf("failed to close dropped entries: %w", err)
	}
	if closed > 0 {
		r.logger.Info("entries dropped off charts", logger.Int("count", closed))
	}
	return nil
}

// invalidateCaches drops stale cached reads in one batch and republishes the
// latest snapshot. Cache trouble never fails the run.
func (r *groupRun) invalidateCaches(ctx context.Context, latest chart.Window, touched []chart.TouchedEntry) {
	if err := r.job.cache.InvalidateEntries(ctx, r.group.ID, touched); err != nil {
		r.logger.Warn("failed to invalidate entry caches", logger.Err(err))
	}
	if err := r.job.cache.InvalidateLatest(ctx, r.group.ID); err != nil {
		r.logger.Warn("failed to invalidate latest chart cache", logger.Err(err))
	}

	stats, err := r.job.charts.GetWeeklyStats(ctx, r.group.ID, latest.Start)
	if err != nil {
		r.logger.Warn("failed to load latest snapshot for cache warmup", logger.Err(err))
		return
	}
	if err := r.job.cache.SetLatest(ctx, r.group.ID, stats, r.job.config.LatestChartTTL); err != nil {
		r.logger.Warn("failed to cache latest snapshot", logger.Err(err))
	}
}

// flattenTouched turns the per-type touched maps into one deterministic
// slice, ordered by chart type then key.
func (r *groupRun) flattenTouched() []chart.TouchedEntry {
	var out []chart.TouchedEntry
	for _, chartType := range chart.AllTypes() {
		byKey := r.touched[chartType]
		keys := make([]chart.EntryKey, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for _, k := range keys {
			out = append(out, byKey[k])
		}
	}
	return out
}

// setProgress persists run progress. Progress is advisory; a write failure
// is logged and the run continues.
func (r *groupRun) setProgress(ctx context.Context, p group.Progress) {
	if err := r.job.groups.UpdateProgress(ctx, r.group.ID, p); err != nil {
		r.logger.Warn("failed to update progress",
			logger.Stage(string(p.Stage)),
			logger.Err(err),
		)
	}
}
