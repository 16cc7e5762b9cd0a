// 版权所有 2025 QueryGuard Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、
查询校验、限流、审计与配置缓存五大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 主要能力

  - HTTP 指标：请求总数、请求耗时，按 method/path/status 分组，
    状态码归类为 2xx/3xx/4xx/5xx。
  - 校验指标：校验总数（通过/拦截）、校验耗时、违规计数
    （按类型与严重级别）、PII 脱敏计数（按类型）。
  - 限流指标：检查总数按放行/拒绝分组。
  - 审计指标：落库条数与写入失败计数。
  - 缓存指标：项目配置缓存的命中与未命中。
*/
package metrics
