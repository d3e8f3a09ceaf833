package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"rulequery-go/internal/rules"
)

// Wildcard 未提取到值时绑定的通配符
const Wildcard = "%"

// ErrInvalidParameter 提取到的值无法转换为参数类型
var ErrInvalidParameter = errors.New("参数值无效")

// MissingRequiredParameterError 必填参数没有提取到值，也没有默认值
type MissingRequiredParameterError struct {
	RuleID     int64             `json:"rule_id"`
	IntentName string            `json:"intent_name"`
	Parameter  string            `json:"parameter"`
	Extracted  map[string]string `json:"extracted"`
}

func (e *MissingRequiredParameterError) Error() string {
	return fmt.Sprintf("规则%d(%s)缺少必填参数: %s", e.RuleID, e.IntentName, e.Parameter)
}

// InvalidParameterError 提取到的值不能转换为参数声明的类型
type InvalidParameterError struct {
	RuleID     int64             `json:"rule_id"`
	IntentName string            `json:"intent_name"`
	Parameter  string            `json:"parameter"`
	Type       rules.ParamType   `json:"type"`
	Raw        string            `json:"raw"`
	Extracted  map[string]string `json:"extracted"`
	Err        error             `json:"-"`
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("规则%d参数%s: %v", e.RuleID, e.Parameter, e.Err)
}

// Unwrap 保留ErrInvalidParameter判断
func (e *InvalidParameterError) Unwrap() error {
	return e.Err
}

// ValueSource 参数值的来源
type ValueSource string

const (
	SourceExtracted ValueSource = "extracted"
	SourceDefault   ValueSource = "default"
	SourceWildcard  ValueSource = "wildcard"
	SourceEmpty     ValueSource = "empty"
)

// BoundParam 一个已绑定的参数
type BoundParam struct {
	Name   string          `json:"name"`
	Raw    string          `json:"raw"`
	Value  any             `json:"value"`
	Source ValueSource     `json:"source"`
	Match  rules.MatchMode `json:"match,omitempty"`
}

// BoundQuery 模板和参数分离的可执行查询
type BoundQuery struct {
	RuleID     int64        `json:"rule_id"`
	IntentName string       `json:"intent_name"`
	Template   string       `json:"template"`
	Dialect    string       `json:"dialect"`
	SQL        string       `json:"sql"`
	Args       []any        `json:"args"`
	Params     []BoundParam `json:"params"`
}

// Values 从绑定后的值还原出提取结果，默认值和通配符不计入。
// 日期零点且为UTC时输出日期，否则输出RFC3339Nano；数字输出最短十进制形式；
// contains匹配去掉首尾的通配符
func (q *BoundQuery) Values() map[string]string {
	out := make(map[string]string)
	for _, p := range q.Params {
		if p.Source == SourceExtracted {
			out[p.Name] = formatValue(p.Value, p.Match)
		}
	}
	return out
}

func formatValue(v any, match rules.MatchMode) string {
	switch val := v.(type) {
	case time.Time:
		if val.Location() == time.UTC && val.Equal(val.Truncate(24*time.Hour)) {
			return val.Format("2006-01-02")
		}
		return val.Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case string:
		if match == rules.MatchContains {
			val = strings.TrimSuffix(strings.TrimPrefix(val, Wildcard), Wildcard)
		}
		return val
	}
	return fmt.Sprint(v)
}

// Binder 把提取结果绑定到规则模板
type Binder struct {
	dialect string
	logger  *zap.Logger
}

// NewBinder 创建绑定器，dialect决定占位符格式
func NewBinder(dialect string, logger *zap.Logger) *Binder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binder{dialect: dialect, logger: logger}
}

// Dialect 占位符方言
func (b *Binder) Dialect() string {
	return b.dialect
}

// Bind 按参数定义顺序取值：提取值、默认值、通配符、可选参数的空串。
// 值只进入参数列表，不拼接进SQL文本
func (b *Binder) Bind(rule *rules.Rule, intent *Intent, extracted map[string]string) (*BoundQuery, error) {
	if rule == nil {
		return nil, fmt.Errorf("绑定参数失败: 规则为空")
	}

	values := make(map[string]any, len(rule.ParameterSchema))
	params := make([]BoundParam, 0, len(rule.ParameterSchema))
	for i := range rule.ParameterSchema {
		spec := &rule.ParameterSchema[i]
		raw, source, ok := pick(spec, extracted)
		if !ok {
			return nil, &MissingRequiredParameterError{
				RuleID:     rule.ID,
				IntentName: rule.IntentName,
				Parameter:  spec.Name,
				Extracted:  copyMap(extracted),
			}
		}
		value, err := convert(spec, raw, source)
		if err != nil {
			return nil, &InvalidParameterError{
				RuleID:     rule.ID,
				IntentName: rule.IntentName,
				Parameter:  spec.Name,
				Type:       spec.Type,
				Raw:        raw,
				Extracted:  copyMap(extracted),
				Err:        err,
			}
		}
		values[spec.Name] = value
		params = append(params, BoundParam{Name: spec.Name, Raw: raw, Value: value, Source: source, Match: spec.Match})
	}

	sql, order := rule.Template().Render(b.dialect)
	args := make([]any, len(order))
	for i, name := range order {
		args[i] = values[name]
	}

	b.logger.Debug("Rule bound",
		zap.Int64("rule_id", rule.ID),
		zap.Int("args", len(args)),
		zap.Strings("params", paramNames(params)))

	return &BoundQuery{
		RuleID:     rule.ID,
		IntentName: rule.IntentName,
		Template:   rule.ActionTemplate,
		Dialect:    b.dialect,
		SQL:        sql,
		Args:       args,
		Params:     params,
	}, nil
}

func pick(spec *rules.ParamSpec, extracted map[string]string) (string, ValueSource, bool) {
	if v, ok := extracted[spec.Name]; ok && v != "" {
		return v, SourceExtracted, true
	}
	if spec.Default != nil {
		return *spec.Default, SourceDefault, true
	}
	if spec.Wildcard {
		return Wildcard, SourceWildcard, true
	}
	if !spec.Required {
		return "", SourceEmpty, true
	}
	return "", "", false
}

func convert(spec *rules.ParamSpec, raw string, source ValueSource) (any, error) {
	if source == SourceWildcard || source == SourceEmpty {
		return raw, nil
	}
	switch spec.Type {
	case rules.TypeDate:
		return parseDate(raw)
	case rules.TypeNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q不是数字", ErrInvalidParameter, raw)
		}
		return f, nil
	}
	if spec.Match == rules.MatchContains {
		return Wildcard + raw + Wildcard, nil
	}
	return raw, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q不是有效日期", ErrInvalidParameter, raw)
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func paramNames(params []BoundParam) []string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	return names
}
