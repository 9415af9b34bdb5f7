package history

import (
	"encoding/json"
	"time"

	"github.com/iWaraxe/L3StructuredOutput-sub000/pipeline"
	"github.com/iWaraxe/L3StructuredOutput-sub000/validation"
)

// =============================================================================
// 📦 数据模型
// =============================================================================

// OutcomeRecord 一次转换请求的终态记录
type OutcomeRecord struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	RequestID string `gorm:"size:64;uniqueIndex;not null" json:"request_id"`
	Schema    string `gorm:"column:schema_name;size:128;index" json:"schema"`
	Outcome   string `gorm:"size:32;index" json:"outcome"`
	State     string `gorm:"size:32" json:"state"`

	Attempts     int    `json:"attempts"`
	LatencyMS    int64  `json:"latency_ms"`
	Cached       bool   `json:"cached"`
	ErrorCode    string `gorm:"size:64" json:"error_code,omitempty"`
	ProviderKind string `gorm:"size:32" json:"provider_kind,omitempty"`
	HardIssues   int    `json:"hard_issues"`
	SoftIssues   int    `json:"soft_issues"`

	// JSON 编码的明细
	IssueSummary string `gorm:"type:text" json:"issue_summary,omitempty"`
	ValueJSON    string `gorm:"type:text" json:"value,omitempty"`
	IssuesJSON   string `gorm:"type:text" json:"issues,omitempty"`
	PendingJSON  string `gorm:"type:text" json:"pending,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`

	AttemptRows []AttemptRecord `gorm:"foreignKey:OutcomeID;constraint:OnDelete:CASCADE" json:"attempt_rows,omitempty"`
}

// TableName 表名
func (OutcomeRecord) TableName() string { return "conversion_outcomes" }

// AttemptRecord 单次尝试记录
type AttemptRecord struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	OutcomeID uint   `gorm:"index;not null" json:"outcome_id"`
	Number    int    `json:"number"`
	Variant   string `gorm:"size:32" json:"variant"`
	Outcome   string `gorm:"size:32" json:"outcome"`
	Prompt    string `gorm:"type:text" json:"prompt"`
	Raw       string `gorm:"type:text" json:"raw,omitempty"`

	IssuesJSON    string `gorm:"type:text" json:"issues,omitempty"`
	Fields        string `gorm:"size:512" json:"fields,omitempty"`
	ParseReason   string `gorm:"size:512" json:"parse_reason,omitempty"`
	ProviderKind  string `gorm:"size:32" json:"provider_kind,omitempty"`
	ProviderCode  string `gorm:"size:64" json:"provider_code,omitempty"`
	ProviderError string `gorm:"type:text" json:"provider_error,omitempty"`

	LatencyMS int64 `json:"latency_ms"`
}

// TableName 表名
func (AttemptRecord) TableName() string { return "conversion_attempts" }

// Value 解码存储的值
func (r *OutcomeRecord) Value() (map[string]any, error) {
	if r.ValueJSON == "" {
		return nil, nil
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(r.ValueJSON), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Issues 解码存储的问题列表
func (r *OutcomeRecord) Issues() ([]validation.Issue, error) {
	return decodeIssues(r.IssuesJSON)
}

// Pending 解码仍未通过的字段
func (r *OutcomeRecord) Pending() ([]string, error) {
	if r.PendingJSON == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(r.PendingJSON), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Issues 解码本次尝试的问题列表
func (a *AttemptRecord) Issues() ([]validation.Issue, error) {
	return decodeIssues(a.IssuesJSON)
}

func decodeIssues(s string) ([]validation.Issue, error) {
	if s == "" {
		return nil, nil
	}
	var out []validation.Issue
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// 🔄 事件转换
// =============================================================================

// newOutcomeRecord 将终态事件转换为持久化记录
func newOutcomeRecord(ev pipeline.Event, now time.Time) (*OutcomeRecord, error) {
	rec := &OutcomeRecord{
		RequestID:    ev.RequestID,
		Schema:       ev.Schema,
		Outcome:      string(ev.Outcome),
		Attempts:     ev.Attempts,
		LatencyMS:    ev.Latency.Milliseconds(),
		Cached:       ev.Cached,
		ErrorCode:    string(ev.ErrorCode),
		ProviderKind: string(ev.ProviderKind),
		HardIssues:   ev.HardIssues,
		SoftIssues:   ev.SoftIssues,
		IssueSummary: ev.IssueSummary,
		CreatedAt:    now,
	}

	res := ev.Result
	if res == nil {
		return rec, nil
	}
	rec.State = string(res.State)

	var err error
	if rec.ValueJSON, err = marshalOptional(res.Value, len(res.Value) > 0); err != nil {
		return nil, err
	}
	if rec.IssuesJSON, err = marshalOptional(res.Issues, len(res.Issues) > 0); err != nil {
		return nil, err
	}
	if rec.PendingJSON, err = marshalOptional(res.Pending, len(res.Pending) > 0); err != nil {
		return nil, err
	}

	rec.AttemptRows = make([]AttemptRecord, 0, len(res.Attempts))
	for _, a := range res.Attempts {
		row := AttemptRecord{
			Number:    a.Number,
			Variant:   string(a.Variant),
			Outcome:   string(a.Outcome),
			Prompt:    a.Prompt,
			Raw:       a.Raw,
			LatencyMS: a.Latency.Milliseconds(),
		}
		if row.IssuesJSON, err = marshalOptional(a.Issues, len(a.Issues) > 0); err != nil {
			return nil, err
		}
		if len(a.Fields) > 0 {
			row.Fields = joinFields(a.Fields)
		}
		if a.ParseFailure != nil {
			row.ParseReason = a.ParseFailure.Reason
		}
		if a.ProviderErr != nil {
			row.ProviderKind = string(a.ProviderErr.Kind)
			row.ProviderCode = a.ProviderErr.Code
			row.ProviderError = a.ProviderErr.Error()
		}
		rec.AttemptRows = append(rec.AttemptRows, row)
	}
	return rec, nil
}

func marshalOptional(v any, present bool) (string, error) {
	if !present {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func joinFields(fields []string) string {
	b, _ := json.Marshal(fields)
	return string(b)
}
