// 版权所有 2025 QueryGuard Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 handlers 提供 QueryGuard 的 HTTP 处理器。

# 概述

每个处理器是一个独立结构体，持有 service 层与日志器，
由 cmd/queryguard 在启动时装配并注册到路由。

# 处理器一览

  - ValidateHandler：查询校验入口，先限流后跑守护规则管道。
  - SettingsHandler：项目配置的读取与整体替换。
  - AuditHandler：审计日志查询。
  - StatsHandler：运行时统计快照。
  - HealthHandler：健康检查与版本信息。

# 错误约定

所有错误以统一的 Response 结构返回，error.code 为机器可读
错误码（RATE_LIMIT_EXCEEDED、GUARDRAIL_VIOLATION 等），
error.message 为面向用户的文案。守护规则的命中细节只进
审计日志，不回给调用方。
*/
package handlers
