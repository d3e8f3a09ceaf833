// Package rules 定义查询规则模型，并提供带原子切换的规则仓库。
//
// 规则在加载时完成校验和编译（模板解析、正则编译），之后只读。
// 匹配阶段拿到的*Rule来自不可变快照，调用方不得修改。
package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// Scenario 展示场景，决定字段映射和统计卡片
type Scenario string

const (
	ScenarioInventory Scenario = "inventory"
	ScenarioOnline    Scenario = "online"
	ScenarioTesting   Scenario = "testing"
	ScenarioBatch     Scenario = "batch"
)

// Valid 是否为已知场景
func (s Scenario) Valid() bool {
	switch s {
	case ScenarioInventory, ScenarioOnline, ScenarioTesting, ScenarioBatch:
		return true
	}
	return false
}

// ResultMode 列表视图有行数上限，explore为聚合视图不截断
type ResultMode string

const (
	ModeList    ResultMode = "list"
	ModeExplore ResultMode = "explore"
)

// Status 规则状态，停用的规则保留历史但不参与匹配
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// ParamType 参数类型，决定绑定时的值转换
type ParamType string

const (
	TypeString ParamType = "string"
	TypeCode   ParamType = "code"
	TypeDate   ParamType = "date"
	TypeNumber ParamType = "number"
)

// MatchMode 字符串参数的比较方式
type MatchMode string

const (
	MatchExact    MatchMode = "exact"
	MatchContains MatchMode = "contains"
)

// ExtractionKind 参数值的提取方式
type ExtractionKind string

const (
	ExtractRegex    ExtractionKind = "regex"    // 正则，取第一个捕获组
	ExtractLexicon  ExtractionKind = "lexicon"  // 词典类别
	ExtractTemporal ExtractionKind = "temporal" // 时间区间的起点或终点
	ExtractFilter   ExtractionKind = "filter"   // 意图中已识别的过滤条件
)

// Extraction 一条提取规则
type Extraction struct {
	Kind     ExtractionKind `yaml:"kind" json:"kind"`
	Pattern  string         `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Category string         `yaml:"category,omitempty" json:"category,omitempty"`
	Bound    string         `yaml:"bound,omitempty" json:"bound,omitempty"` // start | end
	Key      string         `yaml:"key,omitempty" json:"key,omitempty"`

	re *regexp.Regexp
}

// Regexp 编译后的正则，仅regex类型有值
func (e *Extraction) Regexp() *regexp.Regexp {
	return e.re
}

func (e *Extraction) compile() error {
	switch e.Kind {
	case ExtractRegex:
		if e.Pattern == "" {
			return fmt.Errorf("regex提取缺少pattern")
		}
		re, err := regexp.Compile(e.Pattern)
		if err != nil {
			return fmt.Errorf("正则%q编译失败: %w", e.Pattern, err)
		}
		e.re = re
	case ExtractLexicon:
		if e.Category == "" {
			return fmt.Errorf("lexicon提取缺少category")
		}
	case ExtractTemporal:
		if e.Bound != "start" && e.Bound != "end" {
			return fmt.Errorf("temporal提取的bound必须是start或end: %q", e.Bound)
		}
	case ExtractFilter:
		if e.Key == "" {
			return fmt.Errorf("filter提取缺少key")
		}
	default:
		return fmt.Errorf("未知的提取方式: %q", e.Kind)
	}
	return nil
}

// ParamSpec 参数定义，顺序即绑定顺序
type ParamSpec struct {
	Name        string       `yaml:"name" json:"name"`
	Type        ParamType    `yaml:"type" json:"type"`
	Extractions []Extraction `yaml:"extract" json:"extract"`
	Required    bool         `yaml:"required,omitempty" json:"required,omitempty"`
	Default     *string      `yaml:"default,omitempty" json:"default,omitempty"`
	// Wildcard 未提取到值时绑定通配符，配合LIKE使用
	Wildcard bool      `yaml:"wildcard,omitempty" json:"wildcard,omitempty"`
	Match    MatchMode `yaml:"match,omitempty" json:"match,omitempty"`
}

// Rule 查询规则
type Rule struct {
	ID             int64               `yaml:"id" json:"id"`
	IntentName     string              `yaml:"intent" json:"intent_name"`
	Description    string              `yaml:"description,omitempty" json:"description,omitempty"`
	TriggerPhrases []string            `yaml:"triggers" json:"trigger_phrases"`
	Synonyms       map[string][]string `yaml:"synonyms,omitempty" json:"synonyms,omitempty"`
	Scenario       Scenario            `yaml:"scenario" json:"scenario"`
	ResultMode     ResultMode          `yaml:"mode,omitempty" json:"result_mode"`
	RowLimit       int                 `yaml:"row_limit,omitempty" json:"row_limit,omitempty"`
	// Action/Entity 为空时由匹配器根据关键词推断
	Action          string      `yaml:"action,omitempty" json:"action,omitempty"`
	Entity          string      `yaml:"entity,omitempty" json:"entity,omitempty"`
	ParameterSchema []ParamSpec `yaml:"parameters" json:"parameter_schema"`
	ActionTemplate  string      `yaml:"template" json:"action_template"`
	Priority        int         `yaml:"priority" json:"priority"`
	Status          Status      `yaml:"status" json:"status"`
	Version         int         `yaml:"version,omitempty" json:"version"`

	tmpl *Template
}

// Active 是否参与匹配
func (r *Rule) Active() bool {
	return r.Status == StatusActive
}

// Template 解析后的模板，规则未编译时现场解析
func (r *Rule) Template() *Template {
	if r.tmpl != nil {
		return r.tmpl
	}
	t, err := ParseTemplate(r.ActionTemplate)
	if err != nil {
		return &Template{source: r.ActionTemplate}
	}
	return t
}

// Param 按名称查找参数定义
func (r *Rule) Param(name string) (*ParamSpec, bool) {
	for i := range r.ParameterSchema {
		if r.ParameterSchema[i].Name == name {
			return &r.ParameterSchema[i], true
		}
	}
	return nil, false
}

// Clone 深拷贝，编辑规则时使用
func (r *Rule) Clone() *Rule {
	c := *r
	c.TriggerPhrases = append([]string(nil), r.TriggerPhrases...)
	if r.Synonyms != nil {
		c.Synonyms = make(map[string][]string, len(r.Synonyms))
		for k, v := range r.Synonyms {
			c.Synonyms[k] = append([]string(nil), v...)
		}
	}
	c.ParameterSchema = make([]ParamSpec, len(r.ParameterSchema))
	for i, p := range r.ParameterSchema {
		p.Extractions = append([]Extraction(nil), p.Extractions...)
		if p.Default != nil {
			d := *p.Default
			p.Default = &d
		}
		c.ParameterSchema[i] = p
	}
	return &c
}

// applyDefaults 填充可省略的字段
func (r *Rule) applyDefaults() {
	if r.Status == "" {
		r.Status = StatusActive
	}
	if r.ResultMode == "" {
		r.ResultMode = ModeList
	}
	for i := range r.ParameterSchema {
		p := &r.ParameterSchema[i]
		if p.Type == "" {
			p.Type = TypeString
		}
		if p.Match == "" {
			p.Match = MatchExact
		}
	}
	for i, phrase := range r.TriggerPhrases {
		r.TriggerPhrases[i] = strings.TrimSpace(phrase)
	}
}

// StringPtr 便于构造默认值
func StringPtr(s string) *string {
	return &s
}
