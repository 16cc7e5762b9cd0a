package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProjectSettings is the persisted row: one JSON blob per project.
type ProjectSettings struct {
	ProjectID string    `gorm:"primaryKey;size:128" json:"project_id"`
	Settings  Settings  `gorm:"serializer:json" json:"settings"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName keeps the table name stable across gorm naming strategies.
func (ProjectSettings) TableName() string {
	return "project_settings"
}

// Store persists project settings through GORM.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore wraps a GORM connection and migrates the settings table.
func NewStore(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&ProjectSettings{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate project settings: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "settings_store")),
	}, nil
}

// Get loads a project's settings. Projects that never saved any get the
// defaults.
func (s *Store) Get(ctx context.Context, projectID string) (Settings, error) {
	var row ProjectSettings
	err := s.db.WithContext(ctx).First(&row, "project_id = ?", projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Default(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to load settings for project %s: %w", projectID, err)
	}
	return row.Settings, nil
}

// Put clamps and saves the whole settings object for a project,
// replacing whatever was there. Returns the clamped version.
func (s *Store) Put(ctx context.Context, projectID string, in Settings) (Settings, error) {
	clamped := in.Clamp()
	row := ProjectSettings{
		ProjectID: projectID,
		Settings:  clamped,
		UpdatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return Settings{}, fmt.Errorf("failed to save settings for project %s: %w", projectID, err)
	}
	s.logger.Info("project settings updated", zap.String("project_id", projectID))
	return clamped, nil
}

// RetentionByProject returns every configured project's audit log
// retention in days. Used by the retention sweep; projects without
// saved settings fall back to the default retention.
func (s *Store) RetentionByProject(ctx context.Context) (map[string]int, error) {
	var rows []ProjectSettings
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load project retention settings: %w", err)
	}
	retention := make(map[string]int, len(rows))
	for _, row := range rows {
		retention[row.ProjectID] = row.Settings.AuditLogRetentionDays
	}
	return retention, nil
}

// CountProjects reports how many projects have saved settings.
func (s *Store) CountProjects(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ProjectSettings{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count configured projects: %w", err)
	}
	return count, nil
}
