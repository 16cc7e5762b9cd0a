package guardrails

import (
	"fmt"
	"regexp"
	"sort"
)

// PIIType PII 类型
type PIIType string

const (
	PIITypeEmail      PIIType = "email"
	PIITypePhone      PIIType = "phone"
	PIITypeSSN        PIIType = "ssn"
	PIITypeCreditCard PIIType = "credit_card"
	PIITypeAPIKey     PIIType = "api_key"
	PIITypeIPAddress  PIIType = "ip_address"
	PIITypeURL        PIIType = "url"
)

// RedactionPlaceholder 脱敏占位符
const RedactionPlaceholder = "[REDACTED]"

// PIIDetection 单个 PII 命中。
// 检测结果恒按 StartIndex 降序排序：脱敏从右往左改写字符串，
// 替换不会影响尚未处理（位置更靠前）命中的起始偏移。
type PIIDetection struct {
	Type       PIIType `json:"type"`
	Pattern    string  `json:"pattern"`
	Match      string  `json:"match"`
	StartIndex int     `json:"start_index"`
	EndIndex   int     `json:"end_index"`
}

// piiPatterns 各 PII 类型的固定正则。模式表是数据：新增类型无需改逻辑。
var piiPatterns = map[PIIType]*regexp.Regexp{
	PIITypeEmail:      regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
	PIITypePhone:      regexp.MustCompile(`(\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]?\d{4}\b`),
	PIITypeSSN:        regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	PIITypeCreditCard: regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
	PIITypeAPIKey:     regexp.MustCompile(`\b(?i:sk|pk|api[_-]?key|token|secret)[-_][A-Za-z0-9]{16,}\b`),
	PIITypeIPAddress:  regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
	PIITypeURL:        regexp.MustCompile(`https?://[^\s<>"]+`),
}

// AllPIITypes 返回所有受支持的 PII 类型（固定顺序）
func AllPIITypes() []PIIType {
	return []PIIType{
		PIITypeEmail,
		PIITypePhone,
		PIITypeSSN,
		PIITypeCreditCard,
		PIITypeAPIKey,
		PIITypeIPAddress,
		PIITypeURL,
	}
}

// DetectPII 对查询扫描所有启用类型的 PII，enabledTypes 为空表示全部启用。
// 返回的命中列表按 StartIndex 降序。
func DetectPII(query string, enabledTypes []PIIType) []PIIDetection {
	if len(enabledTypes) == 0 {
		enabledTypes = AllPIITypes()
	}

	var detections []PIIDetection
	for _, t := range enabledTypes {
		pattern, ok := piiPatterns[t]
		if !ok {
			continue
		}
		for _, loc := range pattern.FindAllStringIndex(query, -1) {
			detections = append(detections, PIIDetection{
				Type:       t,
				Pattern:    pattern.String(),
				Match:      query[loc[0]:loc[1]],
				StartIndex: loc[0],
				EndIndex:   loc[1],
			})
		}
	}

	sort.Slice(detections, func(i, j int) bool {
		if detections[i].StartIndex != detections[j].StartIndex {
			return detections[i].StartIndex > detections[j].StartIndex
		}
		return detections[i].EndIndex > detections[j].EndIndex
	})

	return detections
}

// RedactPII 把每个命中区间 [StartIndex, EndIndex) 替换为占位符。
// 按降序列表从右往左改写；偏移越界或跨类型重叠时收缩到安全边界，
// 任何输入都不会 panic。
func RedactPII(query string, detections []PIIDetection) string {
	out := query
	for _, d := range detections {
		start, end := d.StartIndex, d.EndIndex
		if start < 0 || start >= len(out) {
			continue
		}
		if end > len(out) {
			end = len(out)
		}
		if end <= start {
			continue
		}
		out = out[:start] + RedactionPlaceholder + out[end:]
	}
	return out
}

// CheckPII 把 PII 检测包装为检查结果。alreadyRedacted=true 表示调用方
// 已经脱敏，此时命中不再构成违规（脱敏把违规换成警告的策略在编排层）。
func CheckPII(query string, enabledTypes []PIIType, alreadyRedacted bool) CheckResult {
	const name = "pii"

	detections := DetectPII(query, enabledTypes)
	if len(detections) == 0 || alreadyRedacted {
		return passed(name, "no unredacted PII detected", query)
	}

	byType := make(map[string]int, len(detections))
	for _, d := range detections {
		byType[string(d.Type)]++
	}

	return failed(name, ViolationPIIDetected, SeverityHigh,
		fmt.Sprintf("detected %d instance(s) of personal information", len(detections)),
		query,
		map[string]any{
			"count":   len(detections),
			"by_type": byType,
		},
	)
}
