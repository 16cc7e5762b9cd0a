package guardrails

// Severity 常量定义
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// ViolationType 违规类型
type ViolationType string

const (
	// ViolationQueryTooLong 查询超长
	ViolationQueryTooLong ViolationType = "query_too_long"
	// ViolationQueryTooComplex 查询结构过于复杂
	ViolationQueryTooComplex ViolationType = "query_too_complex"
	// ViolationPromptInjection 提示注入
	ViolationPromptInjection ViolationType = "prompt_injection"
	// ViolationBlockedPattern 命中自定义拦截规则
	ViolationBlockedPattern ViolationType = "blocked_pattern"
	// ViolationBlockedKeyword 命中敏感词
	ViolationBlockedKeyword ViolationType = "blocked_keyword"
	// ViolationPIIDetected 检测到 PII 且未脱敏
	ViolationPIIDetected ViolationType = "pii_detected"
	// ViolationRateLimitExceeded 触发限流（由 ratelimit 包产生，复用同一类型空间）
	ViolationRateLimitExceeded ViolationType = "rate_limit_exceeded"
)

// Strictness 注入检测严格级别
type Strictness string

const (
	StrictnessLow    Strictness = "low"
	StrictnessMedium Strictness = "medium"
	StrictnessHigh   Strictness = "high"
)

// CheckResult 单个检查阶段的原子结果。
// 不变式: Passed=false 时 ViolationType 与 Severity 必定非空。
type CheckResult struct {
	Name           string         `json:"name"`
	Passed         bool           `json:"passed"`
	ViolationType  ViolationType  `json:"violation_type,omitempty"`
	Severity       string         `json:"severity,omitempty"`
	Message        string         `json:"message"`
	OriginalQuery  string         `json:"original_query"`
	SanitizedQuery string         `json:"sanitized_query,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// ValidationResult 一次完整验证运行的聚合结果。
// 不变式: Valid == (len(Violations) == 0)。
type ValidationResult struct {
	Valid          bool           `json:"valid"`
	Checks         []CheckResult  `json:"checks"`
	Violations     []CheckResult  `json:"violations"`
	SanitizedQuery string         `json:"sanitized_query,omitempty"`
	Warnings       []string       `json:"warnings"`
	RedactedPII    []PIIDetection `json:"redacted_pii,omitempty"`
}

// Pattern 自定义允许/拦截规则。
// IsAllowed=true 的规则当前仅存储不生效（已知限制，见 settings 包文档）；
// 求值只针对拦截子集。编译失败的规则按未命中处理，记录警告，不抛错。
type Pattern struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Source    string `json:"pattern"`
	IsAllowed bool   `json:"is_allowed"`
	IsEnabled bool   `json:"is_enabled"`
}

// Options 管道配置，由调用方（通常是 service 包）从项目设置装配。
type Options struct {
	// Sanitize 是否先执行输入清洗
	Sanitize bool
	// MaxLength 最大查询长度（字符数），0 表示不检查
	MaxLength int
	// MaxComplexity 最大复杂度分值，0 表示不检查
	MaxComplexity int
	// EnablePromptInjectionDetection 是否启用注入检测
	EnablePromptInjectionDetection bool
	// PromptInjectionStrictness 注入检测严格级别
	PromptInjectionStrictness Strictness
	// CustomPatterns 自定义规则列表
	CustomPatterns []Pattern
	// BlockedKeywords 敏感词列表（脏话过滤）
	BlockedKeywords []string
	// EnablePIIDetection 是否启用 PII 检测
	EnablePIIDetection bool
	// EnablePIIRedaction 检测到 PII 时是否脱敏（脱敏把违规降级为警告）
	EnablePIIRedaction bool
	// PIITypes 启用的 PII 类型，为空则启用所有类型
	PIITypes []PIIType
}

// passed 构造一个通过的检查结果
func passed(name, message, original string) CheckResult {
	return CheckResult{
		Name:          name,
		Passed:        true,
		Message:       message,
		OriginalQuery: original,
	}
}

// failed 构造一个违规的检查结果
func failed(name string, vt ViolationType, severity, message, original string, details map[string]any) CheckResult {
	return CheckResult{
		Name:          name,
		Passed:        false,
		ViolationType: vt,
		Severity:      severity,
		Message:       message,
		OriginalQuery: original,
		Details:       details,
	}
}

// UserMessage 返回按违规类型派生的面向用户的提示文案。
// 原始检测细节（命中的正则等）只进审计日志，不回给用户。
func UserMessage(vt ViolationType) string {
	switch vt {
	case ViolationQueryTooLong:
		return "Your query is too long. Please shorten it and try again."
	case ViolationQueryTooComplex:
		return "Your query is too complex. Please simplify it and try again."
	case ViolationPromptInjection:
		return "Your query appears to contain instructions that could interfere with normal operation. Please rephrase it."
	case ViolationBlockedPattern:
		return "Your query matches a pattern blocked by your organization's policy."
	case ViolationBlockedKeyword:
		return "Your query contains blocked language. Please rephrase it."
	case ViolationPIIDetected:
		return "Your query appears to contain personal information. Please remove it and try again."
	case ViolationRateLimitExceeded:
		return "Too many requests. Please wait a moment before trying again."
	default:
		return "Your query was blocked by a security policy."
	}
}
