// Copyright (c) structconv Authors.
// Licensed under the MIT License.

/*
Package types 提供 structconv 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包。schema、convert、validation、
recovery、pipeline 等上层模块共享的错误码定义于此，以避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误，携带错误码、Retryable 标记与 Cause

# 主要能力

  - 错误工具链：NewError / WithCause / AsError / IsErrorCode / IsRetryable
  - 配置期错误：NewConfigError / NewSchemaError，只在构建阶段返回，不在请求阶段抛出
*/
package types
