// Copyright (c) structconv Authors.
// Licensed under the MIT License.

/*
Package main 提供 structconv 命令行程序入口。

# 概述

cmd/structconv 把结构化输出流水线包装成命令行工具：读取 Schema 文件与种子提示，
调用 OpenAI 兼容的模型接口，解析、校验并按策略重试，直到得到合法值或预算耗尽。
配置按 默认值 → YAML 文件 → STRUCTCONV_* 环境变量 的顺序加载。

# 子命令

  - convert       — 转换单个种子提示，输出值或完整结果（--full）
  - batch         — 逐行读取种子并发转换，每行输出一条 JSON，汇总写入 stderr
  - instructions  — 打印发送给模型的格式说明或 JSON Schema，不调用模型
  - history       — 查询、查看、清理数据库中记录的转换结果
  - version       — 打印构建信息

# 运行时组装

  - 日志：zap，可选 lumberjack 滚动文件
  - 提供方：openaicompat → observability 埋点 → 熔断器
  - 观察者：zap 日志、OTel 指标、Prometheus Collector、历史库
  - 可选组件：Redis 结果缓存、Prometheus /metrics 端点、OTLP 导出

# 退出码

  - 0 成功；1 其他错误；2 转换耗尽；3 配置或 Schema 错误
*/
package main
