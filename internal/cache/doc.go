// Copyright (c) structconv Authors.
// Licensed under the MIT License.

/*
包 cache 提供基于 Redis 的转换结果缓存，实现 pipeline.ResultCache。

# 概述

Store 以 "Descriptor 指纹 + 种子提示摘要" 为键缓存成功转换的值，
相同请求再次到达时由编排器重新校验后直接返回，无需调用模型。
仅缓存 success / retried 结果；经默认值、类型修正或再请求得到的值依赖策略，不写入缓存。

# 核心类型

  - Store：持有 go-redis 客户端，提供 Get/Set/Invalidate/Ping/Close，
    以及命中/未命中计数与 GetStats。
  - Config：地址、密码、键前缀、TTL、连接池与可选 TLS。

# 主要能力

  - JSON 序列化：读取时整数还原为 int64，与转换器输出保持一致。
  - 损坏条目：无法解析的缓存值会被删除并视为未命中。
  - TLS：启用时使用 internal/tlsutil 的安全配置。
  - 错误语义：连接失败返回 CACHE_UNAVAILABLE；关闭后操作返回 ErrClosed。
*/
package cache
