package rules

import (
	"fmt"
	"strings"
)

// Problem 单条规则的校验问题
type Problem struct {
	RuleID     int64  `json:"rule_id"`
	IntentName string `json:"intent_name"`
	Message    string `json:"message"`
}

// ValidationError 一批规则的校验结果，任何一条有问题整批拒绝
type ValidationError struct {
	Problems []Problem `json:"problems"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("规则%d(%s): %s", p.RuleID, p.IntentName, p.Message))
	}
	return fmt.Sprintf("规则校验失败，共%d个问题: %s", len(e.Problems), strings.Join(parts, "; "))
}

// Validator 规则校验器
type Validator struct {
	guard *TemplateGuard
}

// NewValidator 创建校验器，guard为nil时使用默认模板检查
func NewValidator(guard *TemplateGuard) *Validator {
	if guard == nil {
		guard = NewTemplateGuard(nil)
	}
	return &Validator{guard: guard}
}

// Compile 填充默认值、解析模板、编译正则并校验单条规则
func (v *Validator) Compile(r *Rule) error {
	r.applyDefaults()

	if r.ID <= 0 {
		return fmt.Errorf("规则ID必须为正数")
	}
	if strings.TrimSpace(r.IntentName) == "" {
		return fmt.Errorf("意图名称不能为空")
	}
	if !r.Scenario.Valid() {
		return fmt.Errorf("未知的场景: %q", r.Scenario)
	}
	if r.Status != StatusActive && r.Status != StatusInactive {
		return fmt.Errorf("未知的状态: %q", r.Status)
	}
	if r.ResultMode != ModeList && r.ResultMode != ModeExplore {
		return fmt.Errorf("未知的结果模式: %q", r.ResultMode)
	}
	if r.RowLimit < 0 {
		return fmt.Errorf("行数上限不能为负数")
	}

	if r.Active() && len(r.TriggerPhrases) == 0 {
		return fmt.Errorf("启用的规则至少需要一个触发词")
	}
	for _, phrase := range r.TriggerPhrases {
		if phrase == "" {
			return fmt.Errorf("触发词不能为空字符串")
		}
	}
	for key, syns := range r.Synonyms {
		for _, s := range syns {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("触发词%q的同义词不能为空", key)
			}
		}
	}

	tmpl, err := ParseTemplate(r.ActionTemplate)
	if err != nil {
		return err
	}
	placeholders := tmpl.Placeholders()
	if len(placeholders) != len(r.ParameterSchema) {
		return fmt.Errorf("参数定义数量(%d)与模板占位符数量(%d)不一致", len(r.ParameterSchema), len(placeholders))
	}

	declared := make(map[string]struct{}, len(r.ParameterSchema))
	for i := range r.ParameterSchema {
		p := &r.ParameterSchema[i]
		if _, dup := declared[p.Name]; dup {
			return fmt.Errorf("参数%q重复定义", p.Name)
		}
		declared[p.Name] = struct{}{}
		if err := compileParam(p); err != nil {
			return fmt.Errorf("参数%q: %w", p.Name, err)
		}
	}
	for _, name := range placeholders {
		if _, ok := declared[name]; !ok {
			return fmt.Errorf("模板占位符:%s没有对应的参数定义", name)
		}
	}

	if err := v.guard.Check(tmpl, r.Action == "update"); err != nil {
		return err
	}

	r.tmpl = tmpl
	return nil
}

func compileParam(p *ParamSpec) error {
	switch p.Type {
	case TypeString, TypeCode, TypeDate, TypeNumber:
	default:
		return fmt.Errorf("未知的参数类型: %q", p.Type)
	}
	if p.Match != MatchExact && p.Match != MatchContains {
		return fmt.Errorf("未知的匹配方式: %q", p.Match)
	}
	if p.Wildcard && p.Type != TypeString && p.Type != TypeCode {
		return fmt.Errorf("只有字符串参数可以使用通配符")
	}
	for i := range p.Extractions {
		if err := p.Extractions[i].compile(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAll 校验整批规则，包括ID唯一性
func (v *Validator) ValidateAll(batch []*Rule) error {
	var problems []Problem
	seen := make(map[int64]struct{}, len(batch))
	for _, r := range batch {
		if r == nil {
			problems = append(problems, Problem{Message: "空规则"})
			continue
		}
		if err := v.Compile(r); err != nil {
			problems = append(problems, Problem{RuleID: r.ID, IntentName: r.IntentName, Message: err.Error()})
			continue
		}
		if _, dup := seen[r.ID]; dup {
			problems = append(problems, Problem{RuleID: r.ID, IntentName: r.IntentName, Message: "规则ID重复"})
			continue
		}
		seen[r.ID] = struct{}{}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
