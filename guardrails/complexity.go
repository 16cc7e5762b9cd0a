package guardrails

import (
	"fmt"
	"strings"
)

// specialChars 参与复杂度评分的特殊字符集合
const specialChars = `!@#$%^&*()_+=[]{};:'"\|,<>/?`

// bracketChars 括号字符集合（在特殊字符之外再次计分，刻意双计：
// 括号嵌套是结构复杂度的主要来源）
const bracketChars = `()[]{}`

// repeatRunThreshold 连续重复字符串被计分的最小长度
const repeatRunThreshold = 5

// ComplexityScore 复杂度评分明细
type ComplexityScore struct {
	SpecialChars int `json:"special_chars"`
	RepeatedRuns int `json:"repeated_runs"`
	Brackets     int `json:"brackets"`
	Total        int `json:"total"`
}

// ScoreComplexity 计算查询的启发式复杂度:
//
//	score = specialChars + 2*repeatedRuns + brackets
//
// repeatedRuns 是长度 >= 5 的同字符连续串的个数。
func ScoreComplexity(query string) ComplexityScore {
	var s ComplexityScore

	for _, r := range query {
		if strings.ContainsRune(specialChars, r) {
			s.SpecialChars++
		}
		if strings.ContainsRune(bracketChars, r) {
			s.Brackets++
		}
	}
	s.RepeatedRuns = countRepeatedRuns(query, repeatRunThreshold)

	s.Total = s.SpecialChars + 2*s.RepeatedRuns + s.Brackets
	return s
}

// countRepeatedRuns 统计长度达到 threshold 的同字符连续串个数。
// RE2 不支持反向引用，手动扫描。
func countRepeatedRuns(s string, threshold int) int {
	var (
		count   int
		prev    rune
		runLen  int
		started bool
	)
	for _, r := range s {
		if started && r == prev {
			runLen++
			if runLen == threshold {
				count++
			}
			continue
		}
		prev = r
		runLen = 1
		started = true
	}
	return count
}

// ValidateQueryLength 校验查询长度（字符数）不超过 maxLength。
// 违规严重级别为 medium。
func ValidateQueryLength(query string, maxLength int) CheckResult {
	const name = "length"

	length := len([]rune(query))
	if length <= maxLength {
		return passed(name, "query length within limit", query)
	}

	return failed(name, ViolationQueryTooLong, SeverityMedium,
		fmt.Sprintf("query length %d exceeds maximum %d", length, maxLength),
		query,
		map[string]any{
			"length":     length,
			"max_length": maxLength,
		},
	)
}

// ValidateQueryComplexity 校验查询复杂度分值不超过 maxComplexity。
// 违规严重级别为 low，明细随 details 返回便于观测。
func ValidateQueryComplexity(query string, maxComplexity int) CheckResult {
	const name = "complexity"

	score := ScoreComplexity(query)
	if score.Total <= maxComplexity {
		return passed(name, "query complexity within limit", query)
	}

	return failed(name, ViolationQueryTooComplex, SeverityLow,
		fmt.Sprintf("query complexity %d exceeds maximum %d", score.Total, maxComplexity),
		query,
		map[string]any{
			"score":          score.Total,
			"max_complexity": maxComplexity,
			"special_chars":  score.SpecialChars,
			"repeated_runs":  score.RepeatedRuns,
			"brackets":       score.Brackets,
		},
	)
}
