// =============================================================================
// 📦 测试数据工厂 - Schema 与模型响应
// =============================================================================
// 提供预置的 Descriptor 与模拟模型输出，用于转换管道测试
// =============================================================================
package fixtures

import (
	"github.com/iWaraxe/L3StructuredOutput-sub000/llm"
	"github.com/iWaraxe/L3StructuredOutput-sub000/schema"
)

// =============================================================================
// 🎯 Descriptor 工厂
// =============================================================================

// Person mirrors PersonDescriptor for typed conversion tests.
type Person struct {
	Name  string `json:"name" jsonschema:"required,description=full name"`
	Age   int    `json:"age" jsonschema:"required,minimum=0,maximum=150"`
	Email string `json:"email,omitempty" jsonschema:"format=email"`
}

// PersonDescriptor returns {name: string required, age: integer required
// 0..150, email: string optional (email)}.
func PersonDescriptor() *schema.Descriptor {
	return schema.NewBuilder("Person").
		Field("name", schema.TypeString, schema.Required(), schema.Describe("full name")).
		Field("age", schema.TypeInteger, schema.Required(), schema.Min(0), schema.Max(150)).
		Field("email", schema.TypeString, schema.WithFormat(schema.FormatEmail)).
		MustBuild()
}

// SentimentDescriptor returns {sentiment: enum required, confidence: number
// optional 0..1}.
func SentimentDescriptor() *schema.Descriptor {
	return schema.NewBuilder("Sentiment").
		Field("sentiment", schema.TypeString, schema.Required(), schema.Enum("positive", "negative", "neutral")).
		Field("confidence", schema.TypeNumber, schema.Min(0), schema.Max(1)).
		MustBuild()
}

// =============================================================================
// 💬 模型输出
// =============================================================================

const (
	// JaneDoe is a valid Person answer.
	JaneDoe = `{"name":"Jane Doe","age":30,"email":"jane@example.com"}`
	// JaneDoeFenced wraps a valid answer in prose and a code fence.
	JaneDoeFenced = "Sure! Here is the data:\n```json\n{\"name\": \"Jane Doe\", \"age\": 30}\n```\nLet me know if you need more."
	// MissingAge omits a required field.
	MissingAge = `{"name":"Jane Doe"}`
	// MissingEmail omits only the optional field.
	MissingEmail = `{"name":"Jane Doe","age":30}`
	// AgeAsString carries a numeric string for an integer field.
	AgeAsString = `{"name":"Jane Doe","age":"30"}`
	// NotJSON cannot be parsed at all.
	NotJSON = "I'm sorry, I can't help with that."
)

// =============================================================================
// ⚠️ Provider 错误
// =============================================================================

// Overloaded returns a transient upstream error.
func Overloaded() error {
	return llm.Transient(llm.CodeOverloaded, "upstream overloaded")
}

// InvalidKey returns a fatal authentication error.
func InvalidKey() error {
	return llm.Fatal(llm.CodeUnauthorized, "invalid api key")
}
