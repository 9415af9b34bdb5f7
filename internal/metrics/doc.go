// Copyright (c) structconv Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的转换指标采集，实现 pipeline.Observer。

# 概述

Collector 在每个请求到达终态时更新指标。指标注册到 Collector 自有的
Registry（附带 Go 运行时与进程指标），通过 Handler 暴露抓取端点，
同一进程内可创建多个互不干扰的 Collector。

# 主要指标

  - conversions_total / conversion_duration_seconds：按 schema、outcome 分组。
  - conversion_attempts：每次转换的尝试次数分布（缓存命中不计入）。
  - conversion_attempt_outcomes_total：按单次尝试结果分组。
  - validation_issues_total：最终问题数，按 hard/soft 分组。
  - recoveries_total：默认值、类型修正与再请求的次数。
  - provider_failures_total：以提供方错误结束的转换，按错误类别分组。
  - result_cache_hits_total：结果缓存命中。
  - db_connections_open / db_connections_idle：历史库连接池状态。
*/
package metrics
