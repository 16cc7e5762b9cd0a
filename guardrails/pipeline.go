package guardrails

import (
	"fmt"

	"go.uber.org/zap"
)

// State 管道的显式工作状态。每个阶段读取 Working，可以替换它，
// 并向 Checks / Warnings / Detections 追加内容。
type State struct {
	// Original 原始输入，阶段不得修改
	Original string
	// Working 当前工作查询，逐阶段清洗/脱敏
	Working string
	// Checks 已执行检查的结果（含通过与违规）
	Checks []CheckResult
	// Warnings 非阻断性提醒
	Warnings []string
	// Detections 本次运行发现的全部 PII（无论是否脱敏）
	Detections []PIIDetection
}

// Stage 一个命名的管道阶段：纯函数式的 (state) → state' 变换。
type Stage struct {
	Name string
	Run  func(s *State)
}

// Pipeline 验证管道。阶段顺序在构造时固定：
//
//	sanitize → length → complexity → injection → custom patterns
//	        → blocked keywords → PII
//
// 顺序依据：先清洗再量长度/复杂度（不为将被剔除的字符扣分）；
// PII 脱敏放最后，让注入/规则检查看到原始敏感内容（夹带假邮箱的
// 注入尝试必须在脱敏掩盖之前被抓住）。
type Pipeline struct {
	opts   Options
	stages []Stage
	logger *zap.Logger
}

// NewPipeline 按选项装配管道。logger 可为 nil（降级为 Nop）。
func NewPipeline(opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pipeline{
		opts:   opts,
		logger: logger.With(zap.String("component", "guardrails_pipeline")),
	}
	p.stages = p.buildStages()
	return p
}

// Stages 返回阶段名列表（按执行顺序），用于观测与测试。
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Validate 对查询执行全部阶段并聚合结果。
// 恒有 Valid == (len(Violations) == 0)；SanitizedQuery 仅在与原始
// 输入不同时返回；RedactedPII 仅在发现 PII 时返回（即便未构成违规，
// 便于调用方记录）。
func (p *Pipeline) Validate(query string) *ValidationResult {
	state := &State{
		Original: query,
		Working:  query,
	}

	for _, stage := range p.stages {
		stage.Run(state)
	}

	result := &ValidationResult{
		Checks:      state.Checks,
		Warnings:    state.Warnings,
		RedactedPII: state.Detections,
	}
	for _, c := range state.Checks {
		if !c.Passed {
			result.Violations = append(result.Violations, c)
		}
	}
	result.Valid = len(result.Violations) == 0
	if result.Warnings == nil {
		result.Warnings = []string{}
	}
	if state.Working != state.Original {
		result.SanitizedQuery = state.Working
	}

	return result
}

// buildStages 按选项装配阶段列表
func (p *Pipeline) buildStages() []Stage {
	var stages []Stage

	if p.opts.Sanitize {
		stages = append(stages, Stage{Name: "sanitize", Run: p.runSanitize})
	}
	if p.opts.MaxLength > 0 {
		stages = append(stages, Stage{Name: "length", Run: p.runLength})
	}
	if p.opts.MaxComplexity > 0 {
		stages = append(stages, Stage{Name: "complexity", Run: p.runComplexity})
	}
	if p.opts.EnablePromptInjectionDetection {
		stages = append(stages, Stage{Name: "prompt_injection", Run: p.runInjection})
	}
	if len(p.opts.CustomPatterns) > 0 {
		stages = append(stages, Stage{Name: "custom_patterns", Run: p.runCustomPatterns})
	}
	if len(p.opts.BlockedKeywords) > 0 {
		stages = append(stages, Stage{Name: "blocked_keywords", Run: p.runBlockedKeywords})
	}
	if p.opts.EnablePIIDetection {
		stages = append(stages, Stage{Name: "pii", Run: p.runPII})
	}

	return stages
}

func (p *Pipeline) runSanitize(s *State) {
	res := SanitizeInput(s.Working)

	check := passed("sanitize", "input sanitized", s.Original)
	if res.Sanitized != s.Working {
		check.SanitizedQuery = res.Sanitized
		if res.HadInvalidChars {
			s.Warnings = append(s.Warnings, "query contained invalid control characters that were removed")
		} else {
			s.Warnings = append(s.Warnings, "query whitespace was normalized")
		}
	}
	s.Checks = append(s.Checks, check)
	s.Working = res.Sanitized
}

func (p *Pipeline) runLength(s *State) {
	s.Checks = append(s.Checks, ValidateQueryLength(s.Working, p.opts.MaxLength))
}

func (p *Pipeline) runComplexity(s *State) {
	s.Checks = append(s.Checks, ValidateQueryComplexity(s.Working, p.opts.MaxComplexity))
}

func (p *Pipeline) runInjection(s *State) {
	strictness := p.opts.PromptInjectionStrictness
	if strictness == "" {
		strictness = StrictnessMedium
	}
	s.Checks = append(s.Checks, DetectPromptInjection(s.Working, strictness))
}

func (p *Pipeline) runCustomPatterns(s *State) {
	warn := func(pattern Pattern, err error) {
		p.logger.Warn("skipping invalid custom pattern",
			zap.String("pattern_id", pattern.ID),
			zap.String("pattern_name", pattern.Name),
			zap.Error(err),
		)
	}
	s.Checks = append(s.Checks, CheckCustomPatterns(s.Working, p.opts.CustomPatterns, warn))
}

func (p *Pipeline) runBlockedKeywords(s *State) {
	s.Checks = append(s.Checks, CheckBlockedKeywords(s.Working, p.opts.BlockedKeywords))
}

// runPII PII 阶段：检测总是执行；启用脱敏时命中降级为警告并改写
// working query，未启用时命中构成违规。
func (p *Pipeline) runPII(s *State) {
	detections := DetectPII(s.Working, p.opts.PIITypes)
	s.Detections = append(s.Detections, detections...)

	if len(detections) == 0 {
		s.Checks = append(s.Checks, passed("pii", "no PII detected", s.Original))
		return
	}

	if p.opts.EnablePIIRedaction {
		s.Working = RedactPII(s.Working, detections)
		s.Warnings = append(s.Warnings,
			fmt.Sprintf("detected and redacted %d instance(s) of personal information", len(detections)))

		check := passed("pii", fmt.Sprintf("%d PII instance(s) redacted", len(detections)), s.Original)
		check.SanitizedQuery = s.Working
		check.Details = map[string]any{"count": len(detections), "redacted": true}
		s.Checks = append(s.Checks, check)
		return
	}

	s.Checks = append(s.Checks, CheckPII(s.Working, p.opts.PIITypes, false))
}
