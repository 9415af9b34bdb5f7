// Copyright (c) structconv Authors.
// Licensed under the MIT License.

/*
# 概述

包 providers 提供 HTTP 模型适配器共用的错误映射能力。
具体适配器（如 openaicompat）依赖本包把 HTTP 失败统一转换为
带 ErrorKind 的 *llm.ProviderError。

# 核心函数

  - MapHTTPError — 401/403 → Fatal，429 → RateLimited（解析 Retry-After），
    408/504 → Transient(upstream_timeout)，529 → Transient(model_overloaded)，
    5xx → Transient，其余 4xx → Fatal
  - ReadError — 解析 OpenAI 风格错误信封，失败时回退原始文本
  - ParseRetryAfter — 支持秒数与 HTTP-date 两种格式

厂商返回的结构化错误码（如 content_policy_violation、insufficient_quota）
会细化分类；错误消息文本不参与分类。
*/
package providers
