package audit

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestStore(t *testing.T) *Store {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	store, err := NewStore(db, nil)
	require.NoError(t, err)
	return store
}

func TestStore_AppendAssignsIDAndTimestamp(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entry := &Entry{
		UserID:    "u1",
		ProjectID: "p1",
		EventType: EventGuardrailBlocked,
		Severity:  "high",
		Message:   "prompt injection detected",
	}
	require.NoError(t, store.Append(ctx, entry))

	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())

	entries, err := store.List(ctx, ListFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
	assert.Equal(t, EventGuardrailBlocked, entries[0].EventType)
}

func TestStore_AppendNilEntry(t *testing.T) {
	store := setupTestStore(t)
	assert.Error(t, store.Append(context.Background(), nil))
}

func TestStore_ListFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	seed := []Entry{
		{UserID: "u1", ProjectID: "p1", EventType: EventGuardrailBlocked, CreatedAt: base},
		{UserID: "u1", ProjectID: "p1", EventType: EventPIIRedacted, CreatedAt: base.Add(time.Minute)},
		{UserID: "u2", ProjectID: "p1", EventType: EventGuardrailBlocked, CreatedAt: base.Add(2 * time.Minute)},
		{UserID: "u2", ProjectID: "p2", EventType: EventRateLimitExceeded, CreatedAt: base.Add(3 * time.Minute)},
	}
	for i := range seed {
		require.NoError(t, store.Append(ctx, &seed[i]))
	}

	t.Run("by user", func(t *testing.T) {
		entries, err := store.List(ctx, ListFilter{UserID: "u1"})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("by project and event type", func(t *testing.T) {
		entries, err := store.List(ctx, ListFilter{ProjectID: "p1", EventType: EventGuardrailBlocked})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("since cutoff", func(t *testing.T) {
		entries, err := store.List(ctx, ListFilter{Since: base.Add(2 * time.Minute)})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("newest first with limit and offset", func(t *testing.T) {
		entries, err := store.List(ctx, ListFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, EventRateLimitExceeded, entries[0].EventType)

		entries, err = store.List(ctx, ListFilter{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, EventPIIRedacted, entries[0].EventType)
	})
}

func TestStore_CountSince(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Append(ctx, &Entry{
			UserID: "u1", EventType: EventGuardrailBlocked,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, store.Append(ctx, &Entry{
		UserID: "u1", EventType: EventPIIRedacted, CreatedAt: base,
	}))

	count, err := store.CountSince(ctx, EventGuardrailBlocked, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = store.CountSince(ctx, "", base)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestStore_CleanupEnforcesRetention(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Append(ctx, &Entry{UserID: "u1", EventType: EventGuardrailBlocked, CreatedAt: now.AddDate(0, 0, -40)}))
	require.NoError(t, store.Append(ctx, &Entry{UserID: "u1", EventType: EventGuardrailBlocked, CreatedAt: now.AddDate(0, 0, -10)}))
	require.NoError(t, store.Append(ctx, &Entry{UserID: "u1", EventType: EventGuardrailBlocked, CreatedAt: now}))

	removed, err := store.Cleanup(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	entries, err := store.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestStore_CleanupProjectScopesDeletes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()
	old := now.AddDate(0, 0, -40)

	require.NoError(t, store.Append(ctx, &Entry{UserID: "u1", ProjectID: "p1", EventType: EventGuardrailBlocked, CreatedAt: old}))
	require.NoError(t, store.Append(ctx, &Entry{UserID: "u1", ProjectID: "p1", EventType: EventGuardrailBlocked, CreatedAt: now}))
	require.NoError(t, store.Append(ctx, &Entry{UserID: "u2", ProjectID: "p2", EventType: EventGuardrailBlocked, CreatedAt: old}))

	removed, err := store.CleanupProject(ctx, "p1", now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// 其他项目的过期记录不受影响
	entries, err := store.List(ctx, ListFilter{ProjectID: "p2"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = store.List(ctx, ListFilter{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_CleanupExceptSkipsListedProjects(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()
	old := now.AddDate(0, 0, -40)

	require.NoError(t, store.Append(ctx, &Entry{UserID: "u1", ProjectID: "p1", EventType: EventGuardrailBlocked, CreatedAt: old}))
	require.NoError(t, store.Append(ctx, &Entry{UserID: "u2", ProjectID: "p2", EventType: EventGuardrailBlocked, CreatedAt: old}))
	require.NoError(t, store.Append(ctx, &Entry{UserID: "u3", ProjectID: "p3", EventType: EventGuardrailBlocked, CreatedAt: old}))

	removed, err := store.CleanupExcept(ctx, []string{"p1", "p2"}, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	entries, err := store.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.NotEqual(t, "p3", e.ProjectID)
	}

	// 空清单等价于全局清理
	removed, err = store.CleanupExcept(ctx, nil, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}
