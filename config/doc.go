// Package config 提供 QueryGuard 的统一配置加载，
// 支持 YAML 文件与环境变量覆盖，优先级为 默认值 → YAML → 环境变量。
package config
