// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，为 QueryGuard
// 配置 TracerProvider 与 W3C 上下文传播。指标走 Prometheus 抓取
// （internal/metrics），不经 OTLP 导出。当遥测功能禁用时保持全局
// noop provider，不连接任何外部服务。
package telemetry
