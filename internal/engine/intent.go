// Package engine 规则匹配、参数提取与参数绑定
package engine

import (
	"strings"

	"rulequery-go/internal/lexicon"
	"rulequery-go/internal/rules"
)

// Action 意图动作
type Action string

const (
	ActionQuery     Action = "query"
	ActionUpdate    Action = "update"
	ActionAlert     Action = "alert"
	ActionAnalyze   Action = "analyze"
	ActionRecommend Action = "recommend"
)

// Entity 意图实体
type Entity string

const (
	EntityInventory Entity = "inventory"
	EntityAnomaly   Entity = "anomaly"
	EntityLabTest   Entity = "labTest"
	EntityRisk      Entity = "risk"
	EntityTrend     Entity = "trend"
)

// Aggregation 聚合方式
type Aggregation string

const (
	AggCount Aggregation = "count"
	AggSum   Aggregation = "sum"
	AggAvg   Aggregation = "avg"
	AggMax   Aggregation = "max"
	AggMin   Aggregation = "min"
)

// 过滤条件中编码类的键
const (
	FilterMaterialCode = "material_code"
	FilterBatchCode    = "batch_code"
)

// Intent 单次请求的意图，不落库
type Intent struct {
	Action      Action             `json:"action"`
	Entity      Entity             `json:"entity,omitempty"`
	Filters     map[string]string  `json:"filters"`
	TimeRange   *lexicon.TimeRange `json:"time_range,omitempty"`
	Aggregation *Aggregation       `json:"aggregation,omitempty"`
}

type keyword[T any] struct {
	words []string
	value T
}

// 按顺序匹配，先出现在表中的优先。
// update只来自规则上的action声明，关键词不会推断出写操作
var actionKeywords = []keyword[Action]{
	{[]string{"预警", "告警", "报警"}, ActionAlert},
	{[]string{"分析", "趋势"}, ActionAnalyze},
	{[]string{"推荐", "建议"}, ActionRecommend},
	{[]string{"查询", "查看", "查一下", "有哪些"}, ActionQuery},
}

var entityKeywords = []keyword[Entity]{
	{[]string{"趋势"}, EntityTrend},
	{[]string{"风险"}, EntityRisk},
	{[]string{"异常", "不良"}, EntityAnomaly},
	{[]string{"检验", "测试", "实验"}, EntityLabTest},
	{[]string{"库存", "存货", "在库"}, EntityInventory},
}

var aggregationKeywords = []keyword[Aggregation]{
	{[]string{"平均"}, AggAvg},
	{[]string{"合计", "总和", "总量", "汇总"}, AggSum},
	{[]string{"最大", "最多", "最高"}, AggMax},
	{[]string{"最小", "最少", "最低"}, AggMin},
	{[]string{"统计", "数量", "多少", "几个"}, AggCount},
}

var scenarioEntities = map[rules.Scenario]Entity{
	rules.ScenarioInventory: EntityInventory,
	rules.ScenarioOnline:    EntityAnomaly,
	rules.ScenarioTesting:   EntityLabTest,
	rules.ScenarioBatch:     EntityInventory,
}

func lookupKeyword[T any](table []keyword[T], text string) (T, bool) {
	for _, k := range table {
		for _, w := range k.words {
			if strings.Contains(text, w) {
				return k.value, true
			}
		}
	}
	var zero T
	return zero, false
}

// inferIntent 填充动作、实体和聚合方式；规则上的显式配置优先于关键词
func inferIntent(intent *Intent, rule *rules.Rule, text string) {
	if rule != nil && rule.Action != "" {
		intent.Action = Action(rule.Action)
	} else if a, ok := lookupKeyword(actionKeywords, text); ok {
		intent.Action = a
	} else {
		intent.Action = ActionQuery
	}

	switch {
	case rule != nil && rule.Entity != "":
		intent.Entity = Entity(rule.Entity)
	default:
		if e, ok := lookupKeyword(entityKeywords, text); ok {
			intent.Entity = e
		} else if rule != nil {
			intent.Entity = scenarioEntities[rule.Scenario]
		}
	}

	if agg, ok := lookupKeyword(aggregationKeywords, text); ok {
		intent.Aggregation = &agg
	}
}
