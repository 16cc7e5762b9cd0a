package guardrails

import (
	"regexp"
	"strings"
)

// whitespaceRun 匹配连续空白（含换行、制表符）
var whitespaceRun = regexp.MustCompile(`\s+`)

// SanitizeResult 清洗结果
type SanitizeResult struct {
	// Sanitized 清洗后的文本
	Sanitized string
	// HadInvalidChars 输入是否包含被剔除的控制字符
	// （在空白归一化之前比较，归一化本身不算非法字符）
	HadInvalidChars bool
}

// SanitizeInput 清洗用户输入：
//  1. 剔除 ASCII 控制字符，保留 \t \n \r
//     （即 U+0000–U+0008、U+000B–U+000C、U+000E–U+001F、U+007F）
//  2. 把所有空白串压成单个空格并去掉首尾空白
//
// 幂等：SanitizeInput(SanitizeInput(x).Sanitized) 不再改变结果。
func SanitizeInput(query string) SanitizeResult {
	stripped := stripControlChars(query)
	hadInvalid := stripped != query

	normalized := strings.TrimSpace(whitespaceRun.ReplaceAllString(stripped, " "))

	return SanitizeResult{
		Sanitized:       normalized,
		HadInvalidChars: hadInvalid,
	}
}

// stripControlChars 剔除除 \t \n \r 之外的 ASCII 控制字符
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isStrippedControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isStrippedControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return (r >= 0x00 && r <= 0x1f) || r == 0x7f
}
