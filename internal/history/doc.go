// Copyright (c) structconv Authors.
// Licensed under the MIT License.

/*
包 history 基于 GORM 持久化转换终态与尝试历史，实现 pipeline.Observer。

# 概述

每个请求到达终态时，Store 在一个事务中写入一条 OutcomeRecord
及其全部 AttemptRecord（提示、原始输出、问题列表、提供方错误），
供事后审计与失败排查。写入失败只记录日志，不影响转换结果。

# 核心类型

  - Store：历史存储，提供 Record/ByRequestID/Recent/CountByOutcome/Prune。
  - OutcomeRecord / AttemptRecord：表 conversion_outcomes 与 conversion_attempts。
  - PoolConfig：连接池参数、写入重试次数与写入超时。
  - Open：按驱动名（postgres、mysql、sqlite）打开数据库。

# 主要能力

  - 自动迁移：NewStore 通过 AutoMigrate 建表。
  - 事务重试：死锁、序列化失败、SQLITE_BUSY 等错误按指数退避重试。
  - 取消无关：请求上下文被取消时仍记录终态。
*/
package history
