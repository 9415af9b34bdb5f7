// Copyright (c) structconv Authors.
// Licensed under the MIT License.

// Package config 提供 structconv 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → STRUCTCONV_* 环境变量 的顺序叠加，
// 加载完成后统一校验；PipelineConfig.Policy 将配置转换为 pipeline.Policy。
package config
