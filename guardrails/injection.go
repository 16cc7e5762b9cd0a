package guardrails

import (
	"regexp"
)

// InjectionPattern 注入检测模式
type InjectionPattern struct {
	Pattern     *regexp.Regexp
	Description string
}

// 注入模式按严格级别分三档，low ⊂ medium ⊂ high：
// 高档完整包含低档的所有模式，只增不减。顺序即求值顺序，首个命中即停。
var (
	lowTierPatterns = []InjectionPattern{
		{
			Pattern:     regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?|guidelines?)`),
			Description: "attempt to override previous instructions",
		},
		{
			Pattern:     regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above|earlier)\s*(instructions?|prompts?|rules?)?`),
			Description: "attempt to disregard instructions",
		},
		{
			Pattern:     regexp.MustCompile(`(?i)forget\s+(everything|all)\s*(above|before|previous|prior)?`),
			Description: "attempt to reset conversation context",
		},
		{
			Pattern:     regexp.MustCompile(`(?i)(reveal|show|print|output)\s+(the\s+|your\s+)?(system\s+prompt|hidden\s+instructions?|initial\s+prompt)`),
			Description: "attempt to exfiltrate the system prompt",
		},
		{
			Pattern:     regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)\b`),
			Description: "attempt to reassign the assistant role",
		},
	}

	mediumTierExtras = []InjectionPattern{
		{
			Pattern:     regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+are\s+)?(a|an|the)\b`),
			Description: "role-play coercion",
		},
		{
			Pattern:     regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)\b`),
			Description: "role-play coercion",
		},
		{
			Pattern:     regexp.MustCompile(`(?im)^\s*(system|assistant)\s*:`),
			Description: "chat role marker injection",
		},
		{
			Pattern:     regexp.MustCompile(`(?i)\b(do\s+anything\s+now|DAN\s+mode)\b`),
			Description: "DAN jailbreak attempt",
		},
		{
			Pattern:     regexp.MustCompile(`(?i)\bjailbreak\b`),
			Description: "explicit jailbreak mention",
		},
		{
			Pattern:     regexp.MustCompile(`(?i)\bnew\s+instructions?\s*:`),
			Description: "attempt to inject new instructions",
		},
	}

	highTierExtras = []InjectionPattern{
		{
			Pattern:     regexp.MustCompile(`(?m)^\s*(#{3,}|-{3,}|={3,})\s*$`),
			Description: "delimiter injection",
		},
		{
			Pattern:     regexp.MustCompile(`(?i)<\s*/?\s*system\s*>`),
			Description: "XML system tag injection",
		},
		{
			Pattern:     regexp.MustCompile(`(?i)\[\s*/?\s*INST\s*\]`),
			Description: "instruction tag injection",
		},
		{
			Pattern:     regexp.MustCompile(`(?i)\beval\s*\(`),
			Description: "code execution marker",
		},
		{
			Pattern:     regexp.MustCompile(`(?i)\bexec\s*\(`),
			Description: "code execution marker",
		},
		{
			Pattern:     regexp.MustCompile("(?i)```\\s*(system|instructions?)"),
			Description: "code block delimiter escape",
		},
	}
)

// InjectionPatterns 返回给定严格级别的完整模式表（含所有低档模式）。
// 返回的切片是共享的，调用方不得修改。
func InjectionPatterns(strictness Strictness) []InjectionPattern {
	switch strictness {
	case StrictnessHigh:
		out := make([]InjectionPattern, 0, len(lowTierPatterns)+len(mediumTierExtras)+len(highTierExtras))
		out = append(out, lowTierPatterns...)
		out = append(out, mediumTierExtras...)
		out = append(out, highTierExtras...)
		return out
	case StrictnessMedium:
		out := make([]InjectionPattern, 0, len(lowTierPatterns)+len(mediumTierExtras))
		out = append(out, lowTierPatterns...)
		out = append(out, mediumTierExtras...)
		return out
	default:
		return lowTierPatterns
	}
}

// DetectPromptInjection 按给定严格级别对查询做注入检测。
// 模式表内首个命中即短路返回违规（severity=high），details.pattern
// 携带命中的正则源码供审计排查。无命中则通过。
//
// 这是启发式防线：能拦住已知套路，拦不住所有变体。
func DetectPromptInjection(query string, strictness Strictness) CheckResult {
	const name = "prompt_injection"

	for _, p := range InjectionPatterns(strictness) {
		if loc := p.Pattern.FindStringIndex(query); loc != nil {
			return failed(name, ViolationPromptInjection, SeverityHigh,
				"potential prompt injection detected: "+p.Description,
				query,
				map[string]any{
					"pattern":     p.Pattern.String(),
					"description": p.Description,
					"matched":     query[loc[0]:loc[1]],
					"strictness":  string(strictness),
				},
			)
		}
	}

	return passed(name, "no injection patterns matched", query)
}
