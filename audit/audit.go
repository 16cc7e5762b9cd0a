// Package audit 持久化守护规则相关的审计事件。
//
// 每次拦截、告警、脱敏或限流都会落一条 Entry，用于安全审查与排障。
// 存储走 GORM，生产环境用 PostgreSQL，测试用内存 SQLite。
package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventType classifies an audit entry.
type EventType string

const (
	EventGuardrailBlocked  EventType = "guardrail_blocked"
	EventGuardrailWarning  EventType = "guardrail_warning"
	EventRateLimitExceeded EventType = "rate_limit_exceeded"
	EventPIIRedacted       EventType = "pii_redacted"
)

// Entry is one audit log record.
type Entry struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	UserID         string    `gorm:"size:128;index" json:"user_id"`
	ProjectID      string    `gorm:"size:128;index" json:"project_id"`
	EventType      EventType `gorm:"size:64;index" json:"event_type"`
	ViolationType  string    `gorm:"size:64" json:"violation_type,omitempty"`
	Severity       string    `gorm:"size:16" json:"severity,omitempty"`
	Query          string    `gorm:"type:text" json:"query,omitempty"`
	SanitizedQuery string    `gorm:"type:text" json:"sanitized_query,omitempty"`
	Message        string    `gorm:"type:text" json:"message,omitempty"`
	DetailsJSON    string    `gorm:"type:text" json:"details_json,omitempty"`
	IPAddress      string    `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent      string    `gorm:"size:256" json:"user_agent,omitempty"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// TableName keeps the table name stable across gorm naming strategies.
func (Entry) TableName() string {
	return "audit_entries"
}

// BeforeCreate assigns the UUID primary key when the caller left it empty.
func (e *Entry) BeforeCreate(_ *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}
