package guardrails

import (
	"regexp"
	"strings"
)

// PatternWarnFunc 在自定义规则编译失败时被回调（规则按未命中跳过）。
// 管道用它把失败落到日志，引擎本身不依赖日志库。
type PatternWarnFunc func(pattern Pattern, err error)

// CheckCustomPatterns 用项目自定义规则求值查询。
// 只求值启用的拦截规则（IsEnabled && !IsAllowed），大小写不敏感，
// 首个命中即违规（severity=medium）。允许规则仅存储，不参与求值。
// 编译失败的规则跳过并回调 warn，绝不抛错。
func CheckCustomPatterns(query string, patterns []Pattern, warn PatternWarnFunc) CheckResult {
	const name = "custom_patterns"

	for _, p := range patterns {
		if !p.IsEnabled || p.IsAllowed {
			continue
		}

		re, err := regexp.Compile("(?i)" + p.Source)
		if err != nil {
			if warn != nil {
				warn(p, err)
			}
			continue
		}

		if re.MatchString(query) {
			return failed(name, ViolationBlockedPattern, SeverityMedium,
				"query matches blocked pattern: "+p.Name,
				query,
				map[string]any{
					"pattern_name": p.Name,
					"pattern_id":   p.ID,
				},
			)
		}
	}

	return passed(name, "no blocked patterns matched", query)
}

// CheckBlockedKeywords 敏感词过滤：大小写不敏感的子串匹配，
// 首个命中即违规（severity=medium）。空列表恒通过。
func CheckBlockedKeywords(query string, keywords []string) CheckResult {
	const name = "blocked_keywords"

	lowered := strings.ToLower(query)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return failed(name, ViolationBlockedKeyword, SeverityMedium,
				"query contains blocked keyword",
				query,
				map[string]any{
					"keyword": kw,
				},
			)
		}
	}

	return passed(name, "no blocked keywords matched", query)
}
