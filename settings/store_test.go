package settings

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/naohq/queryguard/guardrails"
)

func setupTestStore(t *testing.T) *Store {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	store, err := NewStore(db, nil)
	require.NoError(t, err)
	return store
}

func TestStore_GetReturnsDefaultsForUnknownProject(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.Get(context.Background(), "never-saved")
	require.NoError(t, err)
	assert.Equal(t, Default(), got)
}

func TestStore_PutAndGetRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	in := Default()
	in.MaxQueryLength = 2000
	in.PromptInjectionStrictness = guardrails.StrictnessHigh
	in.CustomPatterns = []CustomPattern{
		{ID: "cp1", Name: "no ddl", Pattern: `\bDROP\b`, IsEnabled: true},
	}

	saved, err := store.Put(ctx, "p1", in)
	require.NoError(t, err)
	assert.Equal(t, 2000, saved.MaxQueryLength)

	got, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, saved, got)
}

func TestStore_PutClampsBeforeSaving(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	in := Default()
	in.MaxQueryLength = 1
	in.AuditLogRetentionDays = 9999

	saved, err := store.Put(ctx, "p1", in)
	require.NoError(t, err)
	assert.Equal(t, MinQueryLength, saved.MaxQueryLength)
	assert.Equal(t, MaxRetentionDays, saved.AuditLogRetentionDays)

	got, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, MinQueryLength, got.MaxQueryLength)
}

func TestStore_PutReplacesWholeObject(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := Default()
	first.BlockedKeywords = []string{"old"}
	first.EnableProfanityFilter = true
	_, err := store.Put(ctx, "p1", first)
	require.NoError(t, err)

	second := Default()
	_, err = store.Put(ctx, "p1", second)
	require.NoError(t, err)

	got, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, got.BlockedKeywords, "previous keywords must not survive a full replace")
	assert.False(t, got.EnableProfanityFilter)
}

func TestStore_CountProjects(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	count, err := store.CountProjects(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = store.Put(ctx, "p1", Default())
	require.NoError(t, err)
	_, err = store.Put(ctx, "p2", Default())
	require.NoError(t, err)
	_, err = store.Put(ctx, "p1", Default()) // 覆盖不新增
	require.NoError(t, err)

	count, err = store.CountProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestStore_RetentionByProject(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	retention, err := store.RetentionByProject(ctx)
	require.NoError(t, err)
	assert.Empty(t, retention)

	long := Default()
	long.AuditLogRetentionDays = MaxRetentionDays
	_, err = store.Put(ctx, "p-long", long)
	require.NoError(t, err)

	short := Default()
	short.AuditLogRetentionDays = MinRetentionDays
	_, err = store.Put(ctx, "p-short", short)
	require.NoError(t, err)

	retention, err = store.RetentionByProject(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"p-long":  MaxRetentionDays,
		"p-short": MinRetentionDays,
	}, retention)
}

func TestCache_ReadThroughAndExpiry(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	in := Default()
	in.MaxQueryLength = 2000
	_, err := store.Put(ctx, "p1", in)
	require.NoError(t, err)

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	cache := NewCache(store, time.Minute)
	cache.now = func() time.Time { return now }

	got, err := cache.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2000, got.MaxQueryLength)

	// 直接改库，TTL 内读到的仍是缓存值
	in.MaxQueryLength = 3000
	_, err = store.Put(ctx, "p1", in)
	require.NoError(t, err)

	got, err = cache.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2000, got.MaxQueryLength)

	// 过期后回源
	now = now.Add(2 * time.Minute)
	got, err = cache.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3000, got.MaxQueryLength)
}

func TestCache_PutReplacesCachedEntry(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	cache := NewCache(store, time.Minute)

	_, err := cache.Get(ctx, "p1")
	require.NoError(t, err)

	in := Default()
	in.MaxQueryLength = 2000
	_, err = cache.Put(ctx, "p1", in)
	require.NoError(t, err)

	got, err := cache.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2000, got.MaxQueryLength)
}

func TestCache_Invalidate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	cache := NewCache(store, 0) // TTL 关闭，只有 Invalidate 能让缓存回源

	got, err := cache.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, Default(), got)

	in := Default()
	in.MaxQueryLength = 2000
	_, err = store.Put(ctx, "p1", in)
	require.NoError(t, err)

	got, err = cache.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, Default().MaxQueryLength, got.MaxQueryLength)

	cache.Invalidate("p1")
	got, err = cache.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2000, got.MaxQueryLength)
}

type countingObserver struct {
	hits, misses int
}

func (o *countingObserver) RecordSettingsCacheHit()  { o.hits++ }
func (o *countingObserver) RecordSettingsCacheMiss() { o.misses++ }

func TestCache_ObserverCountsHitsAndMisses(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	obs := &countingObserver{}
	cache := NewCache(store, 0).WithObserver(obs)

	_, err := cache.Get(ctx, "p1")
	require.NoError(t, err)
	_, err = cache.Get(ctx, "p1")
	require.NoError(t, err)

	assert.Equal(t, 1, obs.misses)
	assert.Equal(t, 1, obs.hits)
}
