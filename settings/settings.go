// Package settings 管理按项目维度的守护规则配置。
//
// 配置以 JSON 整体存入一行 project_settings 记录，更新时整体替换。
// 所有数值字段在写入前都会被收敛到允许区间，坏配置不会落库。
package settings

import (
	"time"

	"github.com/naohq/queryguard/guardrails"
	"github.com/naohq/queryguard/ratelimit"
)

// Clamp ranges. Values outside these bounds are pulled to the nearest
// edge rather than rejected.
const (
	MinQueryLength = 100
	MaxQueryLength = 50000

	MinQueryComplexity = 10
	MaxQueryComplexity = 1000

	MinRequestsPerMinute = 1
	MaxRequestsPerMinute = 100

	MinRequestsPerHour = 10
	MaxRequestsPerHour = 1000

	MinRateLimitBurst = 0
	MaxRateLimitBurst = 20

	MinRetentionDays = 1
	MaxRetentionDays = 365
)

// CustomPattern is a project-defined regex rule. Allow patterns are
// stored for future use but not evaluated; only block patterns affect
// validation.
type CustomPattern struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Pattern     string    `json:"pattern" yaml:"pattern"`
	IsAllowed   bool      `json:"is_allowed" yaml:"is_allowed"`
	IsEnabled   bool      `json:"is_enabled" yaml:"is_enabled"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// Settings holds every per-project guardrail knob.
type Settings struct {
	SanitizeInput                  bool                  `json:"sanitize_input" yaml:"sanitize_input"`
	MaxQueryLength                 int                   `json:"max_query_length" yaml:"max_query_length"`
	MaxQueryComplexity             int                   `json:"max_query_complexity" yaml:"max_query_complexity"`
	EnablePromptInjectionDetection bool                  `json:"enable_prompt_injection_detection" yaml:"enable_prompt_injection_detection"`
	PromptInjectionStrictness      guardrails.Strictness `json:"prompt_injection_strictness" yaml:"prompt_injection_strictness"`
	EnablePIIDetection             bool                  `json:"enable_pii_detection" yaml:"enable_pii_detection"`
	EnablePIIRedaction             bool                  `json:"enable_pii_redaction" yaml:"enable_pii_redaction"`
	PIITypes                       []guardrails.PIIType  `json:"pii_types" yaml:"pii_types"`
	EnableProfanityFilter          bool                  `json:"enable_profanity_filter" yaml:"enable_profanity_filter"`
	BlockedKeywords                []string              `json:"blocked_keywords" yaml:"blocked_keywords"`
	CustomPatterns                 []CustomPattern       `json:"custom_patterns" yaml:"custom_patterns"`

	RateLimitEnabled     bool `json:"rate_limit_enabled" yaml:"rate_limit_enabled"`
	MaxRequestsPerMinute int  `json:"max_requests_per_minute" yaml:"max_requests_per_minute"`
	MaxRequestsPerHour   int  `json:"max_requests_per_hour" yaml:"max_requests_per_hour"`
	RateLimitBurst       int  `json:"rate_limit_burst" yaml:"rate_limit_burst"`

	EnableAuditLog        bool `json:"enable_audit_log" yaml:"enable_audit_log"`
	AuditLogRetentionDays int  `json:"audit_log_retention_days" yaml:"audit_log_retention_days"`

	// BlockOnError 为 false 时违规只记录不拦截，查询继续下行
	BlockOnError bool `json:"block_on_error" yaml:"block_on_error"`
	// ShowErrorToUser 为 false 时对外只回通用文案，不按违规类型细分
	ShowErrorToUser bool `json:"show_error_to_user" yaml:"show_error_to_user"`
}

// Default returns the settings applied to projects that never saved any.
func Default() Settings {
	return Settings{
		SanitizeInput:                  true,
		MaxQueryLength:                 5000,
		MaxQueryComplexity:             100,
		EnablePromptInjectionDetection: true,
		PromptInjectionStrictness:      guardrails.StrictnessMedium,
		EnablePIIDetection:             true,
		EnablePIIRedaction:             true,
		PIITypes:                       nil, // nil 表示启用全部类型
		EnableProfanityFilter:          false,
		RateLimitEnabled:               true,
		MaxRequestsPerMinute:           10,
		MaxRequestsPerHour:             100,
		RateLimitBurst:                 2,
		EnableAuditLog:                 true,
		AuditLogRetentionDays:          30,
		BlockOnError:                   true,
		ShowErrorToUser:                true,
	}
}

// Clamp pulls every numeric field into its allowed range and normalizes
// the strictness level. Returns the clamped copy.
func (s Settings) Clamp() Settings {
	s.MaxQueryLength = clampInt(s.MaxQueryLength, MinQueryLength, MaxQueryLength)
	s.MaxQueryComplexity = clampInt(s.MaxQueryComplexity, MinQueryComplexity, MaxQueryComplexity)
	s.MaxRequestsPerMinute = clampInt(s.MaxRequestsPerMinute, MinRequestsPerMinute, MaxRequestsPerMinute)
	s.MaxRequestsPerHour = clampInt(s.MaxRequestsPerHour, MinRequestsPerHour, MaxRequestsPerHour)
	s.RateLimitBurst = clampInt(s.RateLimitBurst, MinRateLimitBurst, MaxRateLimitBurst)
	s.AuditLogRetentionDays = clampInt(s.AuditLogRetentionDays, MinRetentionDays, MaxRetentionDays)

	switch s.PromptInjectionStrictness {
	case guardrails.StrictnessLow, guardrails.StrictnessMedium, guardrails.StrictnessHigh:
	default:
		s.PromptInjectionStrictness = guardrails.StrictnessMedium
	}
	return s
}

// GuardrailOptions converts the settings into validation pipeline
// options. Profanity filtering rides on the blocked keyword stage.
func (s Settings) GuardrailOptions() guardrails.Options {
	opts := guardrails.Options{
		Sanitize:                       s.SanitizeInput,
		MaxLength:                      s.MaxQueryLength,
		MaxComplexity:                  s.MaxQueryComplexity,
		EnablePromptInjectionDetection: s.EnablePromptInjectionDetection,
		PromptInjectionStrictness:      s.PromptInjectionStrictness,
		EnablePIIDetection:             s.EnablePIIDetection,
		EnablePIIRedaction:             s.EnablePIIRedaction,
		PIITypes:                       s.PIITypes,
	}
	if s.EnableProfanityFilter {
		opts.BlockedKeywords = append(opts.BlockedKeywords, s.BlockedKeywords...)
	}
	for _, p := range s.CustomPatterns {
		opts.CustomPatterns = append(opts.CustomPatterns, guardrails.Pattern{
			ID:        p.ID,
			Name:      p.Name,
			Source:    p.Pattern,
			IsAllowed: p.IsAllowed,
			IsEnabled: p.IsEnabled,
		})
	}
	return opts
}

// RateLimitConfig converts the settings into the limiter's view.
func (s Settings) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		Enabled:      s.RateLimitEnabled,
		MaxPerMinute: s.MaxRequestsPerMinute,
		Burst:        s.RateLimitBurst,
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
