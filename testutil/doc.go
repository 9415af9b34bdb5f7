// Copyright (c) structconv Authors.
// Licensed under the MIT License.

/*
Package testutil 提供结构化输出管道测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，避免重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertJSONEqual / AssertHardIssue / AssertNoHardIssues /
    AssertEventuallyTrue
  - 日志辅助: ObservedLogger 捕获 zap 日志条目以便断言
  - 数据工具: MustJSON / MustParseJSON / RequireJSONObject

# 子包

  - testutil/mocks: ScriptedProvider，按脚本依次返回响应、错误或阻塞，
    并记录提示词与并发峰值
  - testutil/fixtures: 预置 Descriptor（Person / Sentiment）、模型输出样例与
    Provider 错误

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewScriptedProvider("mock").
		Fail(fixtures.Overloaded()).
		Respond(fixtures.JaneDoe)
	orch, _ := pipeline.New(provider)
	res, err := orch.Convert(ctx, "Extract the person.", fixtures.PersonDescriptor(), nil, pipeline.DefaultPolicy())
*/
package testutil
