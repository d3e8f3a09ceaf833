package shaper

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"rulequery-go/internal/rules"
)

// ErrUnknownScenario 没有对应字段表的场景
var ErrUnknownScenario = errors.New("未知的展示场景")

// DefectRateThreshold 不良率超过该百分比计入风险
const DefectRateThreshold = 3.0

// 统计卡片的严重程度
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeveritySuccess = "success"
)

var (
	riskStatuses = map[string]struct{}{"risk": {}, "frozen": {}, "风险": {}, "冻结": {}}
	failResults  = map[string]struct{}{"ng": {}, "fail": {}, "不合格": {}}
)

// Statistic 统计卡片
type Statistic struct {
	Label    string `json:"label"`
	Value    int    `json:"value"`
	Subtitle string `json:"subtitle"`
	Severity string `json:"severity"`
}

// ShapedResult 整理后的结果
type ShapedResult struct {
	Scenario   rules.Scenario   `json:"scenario"`
	Fields     []string         `json:"fields"`
	Rows       []map[string]any `json:"rows"`
	Statistics []Statistic      `json:"statistics"`
	Total      int              `json:"total"`
	Truncated  bool             `json:"truncated"`
}

// Options 单次整理的参数
type Options struct {
	Mode  rules.ResultMode
	Limit int // 大于0时覆盖场景默认上限
}

// OptionsFor 从规则上读取结果模式和行数上限
func OptionsFor(r *rules.Rule) Options {
	if r == nil {
		return Options{}
	}
	return Options{Mode: r.ResultMode, Limit: r.RowLimit}
}

// Shaper 结果整理器，按场景选择字段表
type Shaper struct {
	profiles map[rules.Scenario]*Profile
	logger   *zap.Logger
}

// New 使用默认字段表创建整理器
func New(logger *zap.Logger) *Shaper {
	return NewWithProfiles(DefaultProfiles(), logger)
}

// NewWithProfiles 使用自定义字段表
func NewWithProfiles(profiles map[rules.Scenario]*Profile, logger *zap.Logger) *Shaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shaper{profiles: profiles, logger: logger}
}

// Profile 返回场景的字段表
func (s *Shaper) Profile(scenario rules.Scenario) (*Profile, bool) {
	p, ok := s.profiles[scenario]
	return p, ok
}

// Shape 重命名列、补齐缺失字段、截断并计算统计。统计基于截断前的全部行
func (s *Shaper) Shape(scenario rules.Scenario, rawRows []map[string]any, opts Options) (*ShapedResult, error) {
	profile, ok := s.profiles[scenario]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, scenario)
	}

	indexed := make([]map[string]any, len(rawRows))
	for i, row := range rawRows {
		indexed[i] = indexRow(row)
	}

	limit := profile.RowCap
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	if opts.Mode == rules.ModeExplore {
		limit = 0
	}

	visible := indexed
	truncated := false
	if limit > 0 && len(visible) > limit {
		visible = visible[:limit]
		truncated = true
	}

	rows := make([]map[string]any, len(visible))
	for i, idx := range visible {
		rows[i] = shapeRow(profile, idx)
	}

	result := &ShapedResult{
		Scenario:   scenario,
		Fields:     profile.Labels(),
		Rows:       rows,
		Statistics: computeStatistics(profile, indexed),
		Total:      len(rawRows),
		Truncated:  truncated,
	}

	if truncated {
		s.logger.Debug("Result truncated",
			zap.String("scenario", string(scenario)),
			zap.Int("total", result.Total),
			zap.Int("limit", limit))
	}
	return result, nil
}

func shapeRow(profile *Profile, idx map[string]any) map[string]any {
	out := make(map[string]any, len(profile.Fields))
	for _, f := range profile.Fields {
		v, ok := lookup(idx, f.Key, f.Label, f.Aliases)
		if !ok || v == nil {
			if f.Numeric {
				out[f.Label] = 0
			} else {
				out[f.Label] = ""
			}
			continue
		}
		out[f.Label] = displayValue(v, f.Numeric)
	}
	return out
}

func displayValue(v any, numeric bool) any {
	switch val := v.(type) {
	case time.Time:
		return val.Format("2006-01-02 15:04:05")
	case []byte:
		v = string(val)
	}
	if numeric {
		if f, ok := toFloat(v); ok {
			return f
		}
	}
	return v
}

func computeStatistics(profile *Profile, rows []map[string]any) []Statistic {
	materials := distinct(rows, keyMaterialCode, "物料编码")
	batches := distinct(rows, keyBatchCode, "批次")
	suppliers := distinct(rows, keySupplier, "供应商")
	projects := distinct(rows, keyProject, "项目")

	risky := 0
	for _, idx := range rows {
		if isRisk(idx) {
			risky++
		}
	}
	riskSeverity := SeveritySuccess
	if risky > 0 {
		riskSeverity = SeverityWarning
	}

	return []Statistic{
		{Label: "物料", Value: materials, Subtitle: "种物料", Severity: SeverityInfo},
		{Label: "批次", Value: batches, Subtitle: "个批次", Severity: SeverityInfo},
		{Label: "供应商", Value: suppliers, Subtitle: "家供应商", Severity: SeverityInfo},
		{Label: "项目", Value: projects, Subtitle: "个项目", Severity: SeverityInfo},
		{Label: profile.RiskLabel, Value: risky, Subtitle: fmt.Sprintf("共%d条记录", len(rows)), Severity: riskSeverity},
	}
}

func distinct(rows []map[string]any, key, label string) int {
	seen := make(map[string]struct{})
	for _, idx := range rows {
		v, ok := lookup(idx, key, label, columnAliases[key])
		if !ok {
			continue
		}
		s := strings.TrimSpace(stringify(v))
		if s == "" {
			continue
		}
		seen[s] = struct{}{}
	}
	return len(seen)
}

// isRisk 状态为风险或冻结、不良率超过阈值、或测试结果不合格
func isRisk(idx map[string]any) bool {
	if v, ok := lookup(idx, keyStatus, "状态", columnAliases[keyStatus]); ok {
		if _, hit := riskStatuses[strings.ToLower(strings.TrimSpace(stringify(v)))]; hit {
			return true
		}
	}
	if v, ok := lookup(idx, keyDefectRate, "不良率", columnAliases[keyDefectRate]); ok {
		if rate, ok := toFloat(v); ok && rate > DefectRateThreshold {
			return true
		}
	}
	if v, ok := lookup(idx, keyTestResult, "测试结果", columnAliases[keyTestResult]); ok {
		if _, hit := failResults[strings.ToLower(strings.TrimSpace(stringify(v)))]; hit {
			return true
		}
	}
	return false
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// toFloat 接受数值类型和数值字符串，字符串允许带%后缀
func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case pgtype.Float64Valuer:
		// pgtype.Numeric等直接来自pgx的数值
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return 0, false
		}
		return f.Float64, true
	case driver.Valuer:
		dv, err := val.Value()
		if err != nil || dv == nil {
			return 0, false
		}
		if _, nested := dv.(driver.Valuer); nested {
			return 0, false
		}
		return toFloat(dv)
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(val), "%")
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	case []byte:
		return toFloat(string(val))
	}
	return 0, false
}
