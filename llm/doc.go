// Copyright (c) structconv Authors.
// Licensed under the MIT License.

/*
# 概述

包 llm 定义转换管线与模型之间的唯一契约：Provider.Call(ctx, prompt)。

所有失败都必须以 *ProviderError 返回，并携带显式的 ErrorKind：

  - KindTransient — 网络错误、5xx、上游超时，可退避重试
  - KindRateLimited — 429 等限流，可重试，并尊重 RetryAfter 提示
  - KindContentFiltered — 内容安全拒绝，不可重试
  - KindFatal — 鉴权失败、请求非法等，不可重试

重试决策只依赖 ErrorKind，从不解析错误消息文本。
未分类的错误一律视为 Fatal。

# 子包

  - retry — 指数退避与抖动、可取消等待
  - ratelimit — 全局并发信号量与令牌桶
  - circuitbreaker — 熔断器包装的 Provider
  - providers/openaicompat — OpenAI 兼容 HTTP 适配器
  - observability — OpenTelemetry 指标与追踪观察者
*/
package llm
