package repository

import (
	"time"

	"rulequery-go/internal/rules"
)

// BaseModel 基础字段：创建信息和更新信息
type BaseModel struct {
	ID         int64     `json:"id" db:"id"`                   // 规则ID，由维护方指定，不自增
	CreateBy   string    `json:"create_by" db:"create_by"`     // 创建人，导入时为空
	CreateTime time.Time `json:"create_time" db:"create_time"` // UTC
	UpdateBy   string    `json:"update_by" db:"update_by"`     // 最后修改人
	UpdateTime time.Time `json:"update_time" db:"update_time"` // UTC
}

// RuleRecord query_rules表的一行
type RuleRecord struct {
	BaseModel
	IntentName      string              `json:"intent_name" db:"intent_name"`
	Description     string              `json:"description" db:"description"`
	TriggerPhrases  []string            `json:"trigger_phrases" db:"trigger_phrases"` // text[]
	Synonyms        map[string][]string `json:"synonyms" db:"synonyms"`               // jsonb
	Scenario        string              `json:"scenario" db:"scenario"`
	ResultMode      string              `json:"result_mode" db:"result_mode"`
	RowLimit        int                 `json:"row_limit" db:"row_limit"`
	Action          string              `json:"action" db:"action"`
	Entity          string              `json:"entity" db:"entity"`
	ParameterSchema []rules.ParamSpec   `json:"parameter_schema" db:"parameter_schema"` // jsonb
	ActionTemplate  string              `json:"action_template" db:"action_template"`
	Priority        int                 `json:"priority" db:"priority"`
	Status          string              `json:"status" db:"status"`   // active/inactive
	Version         int                 `json:"version" db:"version"` // 每次模板修改或状态切换加1
}

// RuleRevision 规则修改前的快照，只追加不修改
type RuleRevision struct {
	ID              int64             `json:"id" db:"id"`
	RuleID          int64             `json:"rule_id" db:"rule_id"`
	Version         int               `json:"version" db:"version"`
	ActionTemplate  string            `json:"action_template" db:"action_template"`
	ParameterSchema []rules.ParamSpec `json:"parameter_schema" db:"parameter_schema"`
	Status          string            `json:"status" db:"status"`
	ChangeBy        string            `json:"change_by" db:"change_by"`
	ChangeTime      time.Time         `json:"change_time" db:"change_time"`
}

// ToRule 转换为规则模型，未编译
func (r *RuleRecord) ToRule() *rules.Rule {
	return &rules.Rule{
		ID:              r.ID,
		IntentName:      r.IntentName,
		Description:     r.Description,
		TriggerPhrases:  append([]string(nil), r.TriggerPhrases...),
		Synonyms:        r.Synonyms,
		Scenario:        rules.Scenario(r.Scenario),
		ResultMode:      rules.ResultMode(r.ResultMode),
		RowLimit:        r.RowLimit,
		Action:          r.Action,
		Entity:          r.Entity,
		ParameterSchema: r.ParameterSchema,
		ActionTemplate:  r.ActionTemplate,
		Priority:        r.Priority,
		Status:          rules.Status(r.Status),
		Version:         r.Version,
	}
}

// RecordFromRule 从规则模型构造记录，空集合统一成非nil以便写入非空列
func RecordFromRule(r *rules.Rule) *RuleRecord {
	rec := &RuleRecord{
		BaseModel:       BaseModel{ID: r.ID},
		IntentName:      r.IntentName,
		Description:     r.Description,
		TriggerPhrases:  append([]string{}, r.TriggerPhrases...),
		Synonyms:        r.Synonyms,
		Scenario:        string(r.Scenario),
		ResultMode:      string(r.ResultMode),
		RowLimit:        r.RowLimit,
		Action:          r.Action,
		Entity:          r.Entity,
		ParameterSchema: r.ParameterSchema,
		ActionTemplate:  r.ActionTemplate,
		Priority:        r.Priority,
		Status:          string(r.Status),
		Version:         r.Version,
	}
	if rec.Synonyms == nil {
		rec.Synonyms = map[string][]string{}
	}
	if rec.ParameterSchema == nil {
		rec.ParameterSchema = []rules.ParamSpec{}
	}
	if rec.ResultMode == "" {
		rec.ResultMode = string(rules.ModeList)
	}
	if rec.Status == "" {
		rec.Status = string(rules.StatusActive)
	}
	if rec.Version <= 0 {
		rec.Version = 1
	}
	return rec
}
