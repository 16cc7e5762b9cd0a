package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ListFilter narrows a List query. Zero values mean "no constraint".
type ListFilter struct {
	UserID    string
	ProjectID string
	EventType EventType
	Since     time.Time
	Limit     int
	Offset    int
}

// Store persists audit entries through GORM.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore wraps a GORM connection and migrates the audit table.
func NewStore(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate audit entries: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "audit_store")),
	}, nil
}

// Append writes one entry. ID and CreatedAt are filled in when empty.
func (s *Store) Append(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("audit entry is nil")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// List returns entries matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	q := s.db.WithContext(ctx).Model(&Entry{})

	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.ProjectID != "" {
		q = q.Where("project_id = ?", filter.ProjectID)
	}
	if filter.EventType != "" {
		q = q.Where("event_type = ?", filter.EventType)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var entries []Entry
	if err := q.Order("created_at DESC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

// CountSince counts entries of one event type created at or after since.
// Empty event type counts everything.
func (s *Store) CountSince(ctx context.Context, eventType EventType, since time.Time) (int64, error) {
	q := s.db.WithContext(ctx).Model(&Entry{}).Where("created_at >= ?", since)
	if eventType != "" {
		q = q.Where("event_type = ?", eventType)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

// Cleanup deletes entries created before the cutoff and returns how
// many rows were removed.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.cleanup(ctx, s.db.WithContext(ctx).Where("created_at < ?", olderThan), olderThan)
}

// CleanupProject deletes one project's entries created before the
// cutoff. Retention is a per-project setting, so each project gets its
// own cutoff.
func (s *Store) CleanupProject(ctx context.Context, projectID string, olderThan time.Time) (int64, error) {
	q := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Where("created_at < ?", olderThan)
	return s.cleanup(ctx, q, olderThan)
}

// CleanupExcept deletes entries created before the cutoff for every
// project NOT in projectIDs. Used to apply the default retention to
// projects that never saved settings.
func (s *Store) CleanupExcept(ctx context.Context, projectIDs []string, olderThan time.Time) (int64, error) {
	q := s.db.WithContext(ctx).Where("created_at < ?", olderThan)
	if len(projectIDs) > 0 {
		q = q.Where("project_id NOT IN ?", projectIDs)
	}
	return s.cleanup(ctx, q, olderThan)
}

func (s *Store) cleanup(_ context.Context, q *gorm.DB, olderThan time.Time) (int64, error) {
	res := q.Delete(&Entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clean up audit entries: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("cleaned up expired audit entries",
			zap.Int64("removed", res.RowsAffected),
			zap.Time("older_than", olderThan),
		)
	}
	return res.RowsAffected, nil
}
