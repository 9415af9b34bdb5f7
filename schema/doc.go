// Copyright (c) structconv Authors.
// Licensed under the MIT License.

/*
# 概述

包 schema 描述模型输出应当满足的结构，并把该结构渲染为发送给模型的格式指令。

Descriptor 与宿主语言的反射无关：它是一个有序的 FieldSpec 列表，构建完成后不可变，
多个请求可以无锁并发读取。反射只在启动阶段通过 FromType / For 执行一次，
结果保存在由调用方持有的 Cache 中。

# 主要类型

  - Descriptor / FieldSpec — 有序字段、类型、必填、约束
  - Builder — 以链式调用构建 Descriptor，配置错误在 Build 时返回
  - Cache — 按 reflect.Type 的读穿透缓存，并发首次使用只生成一次
  - JSONSchema — 嵌入到提示中的 JSON Schema 模型
  - Variant / Instructions — 按提示变体生成确定性的格式指令

# 典型用法

	desc, err := schema.NewBuilder("Person").
		Field("name", schema.TypeString, schema.Required(), schema.Describe("Full name")).
		Field("age", schema.TypeInteger, schema.Required()).
		Build()

	text := schema.Instructions(desc, schema.VariantOriginal, nil)
*/
package schema
