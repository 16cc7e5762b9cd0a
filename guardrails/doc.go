// 包 guardrails 实现查询防护管道：在用户查询到达 LLM Agent 之前，
// 按固定顺序执行一组策略检查（清洗、长度、复杂度、提示注入、自定义
// 规则、敏感词、PII），并产出可审计的聚合验证结果。
//
// # 设计
//
// 管道是纯计算：每个阶段是一个 (state) → state' 的函数，读取当前
// working query，可以替换它，并向结果列表追加 CheckResult。策略违规
// 是数据而不是 error —— 只有在编排边界才会变成面向用户的错误。
//
// 检测基于正则启发式（模式表是数据，不是代码），刻意不依赖模型：
// 低延迟、可解释、无外部依赖。这是尽力而为的防线，不是安全保证。
package guardrails
