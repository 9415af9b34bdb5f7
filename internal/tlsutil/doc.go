// Copyright (c) structconv Authors.
// Licensed under the MIT License.

// Package tlsutil 为模型 HTTP 客户端与 Redis 结果缓存连接提供统一的 TLS 加固配置
// （TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
