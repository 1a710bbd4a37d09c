// Package config 提供 matrixflow 运行器的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → MATRIXFLOW_* 环境变量 的顺序叠加，
// 环境变量通过反射 env 标签映射到每个字段。
package config
