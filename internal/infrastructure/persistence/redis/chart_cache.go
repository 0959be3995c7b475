package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/groovehub/groove-charts-hub/internal/domain/chart"
)

// invalidationChunkSize is how many keys one pipelined DEL covers.
const invalidationChunkSize = 100

// ChartCache implements chart.Cache on Redis. The write path always goes to
// PostgreSQL first; this cache only accelerates "latest week" reads and is
// dropped wholesale after each generation run.
type ChartCache struct {
	cache *Cache
}

// NewChartCache creates a new ChartCache.
func NewChartCache(cache *Cache) *ChartCache {
	return &ChartCache{cache: cache}
}

// latestKey is the key for a group's latest weekly snapshot.
func latestKey(groupID string) string {
	return PrefixChart + "latest:" + groupID
}

// entryKey is the key for one entry's cached statistics.
func entryKey(groupID string, chartType chart.Type, key chart.EntryKey) string {
	return fmt.Sprintf("%s%s:%s:%s", PrefixEntry, groupID, chartType, key)
}

// SetLatest caches the latest weekly snapshot.
func (c *ChartCache) SetLatest(ctx context.Context, groupID string, stats *chart.WeeklyStats, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = TTLLatestChart
	}
	return c.cache.Set(ctx, latestKey(groupID), stats, ttl)
}

// GetLatest returns the cached latest snapshot, or ErrCacheMiss.
func (c *ChartCache) GetLatest(ctx context.Context, groupID string) (*chart.WeeklyStats, error) {
	var stats chart.WeeklyStats
	if err := c.cache.Get(ctx, latestKey(groupID), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// InvalidateEntries removes cached per-entry statistics for every touched
// entry in one batched pass. Called once per generation run with the
// de-duplicated touched set, never per week.
func (c *ChartCache) InvalidateEntries(ctx context.Context, groupID string, touched []chart.TouchedEntry) error {
	if len(touched) == 0 {
		return nil
	}

	keys := make([]string, 0, len(touched))
	for _, t := range touched {
		keys = append(keys, entryKey(groupID, t.ChartType, t.Key))
	}

	if err := c.cache.DeleteBatch(ctx, keys, invalidationChunkSize); err != nil {
		return fmt.Errorf("invalidate %d entries for group %s: %w", len(touched), groupID, err)
	}
	return nil
}

// InvalidateLatest drops the cached latest snapshot and the records blob.
func (c *ChartCache) InvalidateLatest(ctx context.Context, groupID string) error {
	return c.cache.Delete(ctx, latestKey(groupID), PrefixRecords+groupID)
}
