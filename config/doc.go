// Package config 提供 llamachat 的配置管理功能。
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量（前缀 LLAMACHAT）。
// Watcher 在配置文件变化时重新加载，目前只有日志级别支持运行时生效。
package config
