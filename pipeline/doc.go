// Copyright (c) structconv Authors.
// Licensed under the MIT License.

/*
# 概述

包 pipeline 实现结构化输出转换的重试编排器：向模型发送“种子提示 + 格式指令”，
把原始文本转换为类型化值，经过校验链与局部恢复后决定成功、重试或终止。

# 状态机

每个请求独立持有一个状态机：

	Attempting ──无 Hard 问题──▶ Succeeded
	Attempting ──Hard 问题且未达上限──▶ RetryingWithModifiedPrompt
	RetryingWithModifiedPrompt ──退避结束──▶ Attempting（切换提示变体）
	Attempting ──次数耗尽 / 不可重试错误 / 取消 / 截止──▶ Exhausted

所有转换都记录在 RecoveryResult.Transitions 中。

# 重试策略

  - 退避：initial * 2^n，封顶 MaxBackoff，±50% 均匀抖动
  - RateLimited 错误的 RetryAfter 大于计算延迟时以其为准
  - 提示变体按 Policy.VariantOrder 循环：original → add-examples → simplify → add-explicit-constraints
  - ContentFiltered / Fatal 直接进入 Exhausted，不消耗退避
  - 请求截止或调用方取消在任意阶段（限流等待、模型调用、退避）强制进入 Exhausted

# 局部恢复

每次尝试的校验结果先交给 recovery.Engine：可选字段缺失时填充默认值，
启用 AllowTypeCoercion 时修正数字/布尔字符串，然后重新校验。
启用 ReRequestFailingFields 时，次数耗尽后针对仍失败的字段发起一次精简请求并合并结果。

# 观测

每个请求在终态时向 Observer 发送一个 Event（success / retried / exhausted / recovered-partial），
并生成 "structconv.convert" 与 "structconv.attempt" 两级 OpenTelemetry Span。
*/
package pipeline
