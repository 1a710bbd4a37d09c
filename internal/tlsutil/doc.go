// Package tlsutil 提供集中式 TLS 客户端配置（TLS 1.2+，仅 AEAD 密码套件），
// 供 Redis 缓存索引与 OTLP 导出器使用。
package tlsutil
