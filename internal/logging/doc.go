// Copyright (c) structconv Authors.
// Licensed under the MIT License.

// Package logging 根据 config.LogConfig 构建 zap logger，
// 支持 json/console 编码、多输出路径，以及基于 lumberjack 的文件轮转。
package logging
