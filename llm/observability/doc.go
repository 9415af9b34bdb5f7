// Copyright (c) structconv Authors.
// Licensed under the MIT License.

/*
包 observability 基于 OpenTelemetry 为模型调用提供指标与追踪。

# 概述

Instrument 把任意 llm.Provider 包装为带观测能力的 Provider：每次调用
创建一个 "llm.call" 客户端 Span，并记录以下指标：

  - llm.request.total — 调用总数（provider、status 维度）
  - llm.error.total — 按 ErrorKind 与错误码统计的失败数
  - llm.request.duration — 调用延迟直方图（秒）
  - llm.response.chars — 原始响应长度分布
  - llm.request.active — 在途调用数

默认使用全局 MeterProvider 与 TracerProvider，可通过
WithMeterProvider / WithTracerProvider 覆盖（测试中常配合
sdkmetric.NewManualReader 与 tracetest.SpanRecorder 使用）。
*/
package observability
