// Package shaper 把数据源返回的原始行整理成按场景固定的展示字段，并计算统计卡片
package shaper

import (
	"strings"

	"rulequery-go/internal/rules"
)

// Field 展示字段
type Field struct {
	Label   string // 展示名，同时是输出行的键
	Key     string // 规范列名
	Numeric bool   // 缺失时填0而不是空串
	Aliases []string
}

// Profile 一个场景的字段表、行数上限和风险判定
type Profile struct {
	Scenario  rules.Scenario
	Fields    []Field
	RowCap    int
	RiskLabel string
}

// 统计用到的规范列，不一定出现在展示字段中
const (
	keyMaterialCode = "material_code"
	keyBatchCode    = "batch_code"
	keySupplier     = "supplier"
	keyProject      = "project"
	keyStatus       = "status"
	keyDefectRate   = "defect_rate"
	keyTestResult   = "test_result"
)

// columnAliases 规范列名到原始列名的别名
var columnAliases = map[string][]string{
	"factory":       {"factory_name", "plant"},
	"warehouse":     {"storage_location", "location"},
	keyMaterialCode: {"item_code", "物料号"},
	"material_name": {"item_name"},
	keySupplier:     {"supplier_name", "vendor"},
	"quantity":      {"qty", "inventory_qty", "库存数量"},
	keyStatus:       {"state"},
	"inbound_time":  {"inbound_date", "入库日期"},
	"expiry_time":   {"expiry_date", "expire_time"},
	"remark":        {"notes", "comment"},
	"line":          {"production_line", "line_name"},
	keyProject:      {"project_code", "project_name"},
	keyBatchCode:    {"batch_no", "batch", "批次"},
	keyDefectRate:   {"ng_rate", "不良率(%)"},
	"anomaly_desc":  {"description", "exception_desc"},
	"occurred_at":   {"online_time", "上线日期"},
	"test_id":       {"inspection_id"},
	"test_date":     {"inspection_date", "检测日期"},
	keyTestResult:   {"result", "检验结果"},
	"defect_desc":   {"defect_phenomenon"},
}

func field(label, key string, numeric bool) Field {
	return Field{Label: label, Key: key, Numeric: numeric, Aliases: columnAliases[key]}
}

// DefaultProfiles 四个场景的字段表
func DefaultProfiles() map[rules.Scenario]*Profile {
	return map[rules.Scenario]*Profile{
		rules.ScenarioInventory: {
			Scenario: rules.ScenarioInventory,
			Fields: []Field{
				field("工厂", "factory", false),
				field("仓库", "warehouse", false),
				field("物料编码", keyMaterialCode, false),
				field("物料名称", "material_name", false),
				field("供应商", keySupplier, false),
				field("数量", "quantity", true),
				field("状态", keyStatus, false),
				field("入库时间", "inbound_time", false),
				field("到期时间", "expiry_time", false),
				field("备注", "remark", false),
			},
			RowCap:    50,
			RiskLabel: "风险库存",
		},
		rules.ScenarioOnline: {
			Scenario: rules.ScenarioOnline,
			Fields: []Field{
				field("工厂", "factory", false),
				field("产线", "line", false),
				field("项目", keyProject, false),
				field("物料编码", keyMaterialCode, false),
				field("物料名称", "material_name", false),
				field("供应商", keySupplier, false),
				field("批次", keyBatchCode, false),
				field("不良率", keyDefectRate, true),
				field("异常描述", "anomaly_desc", false),
				field("状态", keyStatus, false),
				field("发生时间", "occurred_at", false),
			},
			RowCap:    20,
			RiskLabel: "高不良",
		},
		rules.ScenarioTesting: {
			Scenario: rules.ScenarioTesting,
			Fields: []Field{
				field("测试编号", "test_id", false),
				field("日期", "test_date", false),
				field("项目", keyProject, false),
				field("物料编码", keyMaterialCode, false),
				field("物料名称", "material_name", false),
				field("供应商", keySupplier, false),
				field("批次", keyBatchCode, false),
				field("测试结果", keyTestResult, false),
				field("不良现象", "defect_desc", false),
				field("备注", "remark", false),
			},
			RowCap:    20,
			RiskLabel: "不合格",
		},
		rules.ScenarioBatch: {
			Scenario: rules.ScenarioBatch,
			Fields: []Field{
				field("批次号", keyBatchCode, false),
				field("物料编码", keyMaterialCode, false),
				field("物料名称", "material_name", false),
				field("供应商", keySupplier, false),
				field("项目", keyProject, false),
				field("入库时间", "inbound_time", false),
				field("数量", "quantity", true),
				field("状态", keyStatus, false),
				field("不良率", keyDefectRate, true),
			},
			RowCap:    10,
			RiskLabel: "风险批次",
		},
	}
}

// Labels 输出字段顺序
func (p *Profile) Labels() []string {
	labels := make([]string, len(p.Fields))
	for i, f := range p.Fields {
		labels[i] = f.Label
	}
	return labels
}

// columnKey 列名比较时忽略大小写和下划线，materialCode与material_code视为同一列
func columnKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", ""))
}

// indexRow 建立规范化列名到原始值的索引
func indexRow(row map[string]any) map[string]any {
	idx := make(map[string]any, len(row))
	for k, v := range row {
		idx[columnKey(k)] = v
	}
	return idx
}

// lookup 依次尝试规范列名、展示名和别名
func lookup(idx map[string]any, key, label string, aliases []string) (any, bool) {
	if v, ok := idx[columnKey(key)]; ok {
		return v, true
	}
	if label != "" {
		if v, ok := idx[columnKey(label)]; ok {
			return v, true
		}
	}
	for _, a := range aliases {
		if v, ok := idx[columnKey(a)]; ok {
			return v, true
		}
	}
	return nil, false
}
