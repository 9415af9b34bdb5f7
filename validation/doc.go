// Copyright (c) structconv Authors.
// Licensed under the MIT License.

/*
# 概述

包 validation 实现三阶段验证链：schema → business → semantic。

每个验证器都是纯函数 (value, context) -> []Issue，不返回 error，
问题本身就是结果。Issue 的 Severity 决定控制流：

  - Hard — 必须阻止成功，触发重试或恢复
  - Soft — 仅提示，随结果一起返回给调用方

# 阶段语义

  - schema 阶段：字段存在性与类型、枚举、范围、长度、正则、格式。全部为 Hard。
    该阶段出现任何 Hard 问题时不再运行后续阶段。
  - business 阶段：调用方提供的谓词（如 price >= cost），默认 Hard，
    Advisory 规则为 Soft。
  - semantic 阶段：启发式内容检查（长度阈值、禁用短语），默认 Soft。

同一阶段内的验证器总是全部执行，以便收集完整的诊断信息；
开启并行模式时使用 errgroup 并发执行，结果仍按注册顺序合并。
*/
package validation
