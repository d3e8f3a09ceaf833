package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"rulequery-go/internal/config"
	"rulequery-go/internal/datastore"
	"rulequery-go/internal/engine"
	"rulequery-go/internal/rules"
	"rulequery-go/internal/shaper"
)

// 解析结果分类，用于日志和指标标签
const (
	OutcomeMatched       = "matched"
	OutcomePlanned       = "planned"
	OutcomeNoMatch       = "no_match"
	OutcomeClarification = "clarification"
	OutcomeAmbiguous     = "ambiguous"
	OutcomeInvalidParam  = "invalid_parameter"
	OutcomeExecutionFail = "execution_error"
)

// ExecutionError 数据源执行失败，Unwrap返回数据源的原始错误
type ExecutionError struct {
	RuleID int64
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("规则%d查询执行失败: %v", e.RuleID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Recorder 解析过程的指标记录
type Recorder interface {
	RecordResolve(outcome string, scenario string, score float64, duration time.Duration)
	RecordExecution(scenario string, duration time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordResolve(string, string, float64, time.Duration) {}
func (nopRecorder) RecordExecution(string, time.Duration, error)         {}

// RuleSummary 命中规则的摘要
type RuleSummary struct {
	ID         int64            `json:"id"`
	IntentName string           `json:"intent_name"`
	Scenario   rules.Scenario   `json:"scenario"`
	ResultMode rules.ResultMode `json:"result_mode"`
	Priority   int              `json:"priority"`
	Version    int              `json:"version"`
}

// Clarification 命中规则但缺少必填参数时返回的追问
type Clarification struct {
	RuleID     int64             `json:"rule_id"`
	IntentName string            `json:"intent_name"`
	Parameter  string            `json:"parameter"`
	Extracted  map[string]string `json:"extracted"`
	Question   string            `json:"question"`
}

// Response 一次解析的完整结果。
// 命中时Query非空，执行后Result非空；缺参时为Clarification；未命中时为Suggestions
type Response struct {
	Matched       bool                 `json:"matched"`
	Input         string               `json:"input"`
	Intent        *engine.Intent       `json:"intent,omitempty"`
	Rule          *RuleSummary         `json:"rule,omitempty"`
	Score         float64              `json:"score,omitempty"`
	Query         *engine.BoundQuery   `json:"query,omitempty"`
	Executed      bool                 `json:"executed"`
	Result        *shaper.ShapedResult `json:"result,omitempty"`
	Clarification *Clarification       `json:"clarification,omitempty"`
	Suggestions   []engine.Suggestion  `json:"suggestions,omitempty"`
}

// ResolveService 解析流水线：匹配、绑定、执行、整理
type ResolveService struct {
	matcher  *engine.Matcher
	binder   *engine.Binder
	shaper   *shaper.Shaper
	executor datastore.Executor
	cfg      *config.EngineConfig
	recorder Recorder
	logger   *zap.Logger
}

// ResolveOption 解析服务选项
type ResolveOption func(*ResolveService)

// WithRecorder 设置指标记录器
func WithRecorder(r Recorder) ResolveOption {
	return func(s *ResolveService) {
		if r != nil {
			s.recorder = r
		}
	}
}

// NewResolveService 创建解析服务。executor为nil时只生成查询不执行，
// 占位符方言跟随executor，没有executor时使用PostgreSQL方言
func NewResolveService(
	matcher *engine.Matcher,
	shp *shaper.Shaper,
	executor datastore.Executor,
	cfg *config.EngineConfig,
	logger *zap.Logger,
	opts ...ResolveOption,
) *ResolveService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.DefaultEngineConfig()
	}
	if shp == nil {
		shp = shaper.New(logger)
	}
	dialect := datastore.DialectPostgres
	if executor != nil {
		dialect = executor.Dialect()
	}
	s := &ResolveService{
		matcher:  matcher,
		binder:   engine.NewBinder(dialect, logger),
		shaper:   shp,
		executor: executor,
		cfg:      cfg,
		recorder: nopRecorder{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CanExecute 是否配置了数据源
func (s *ResolveService) CanExecute() bool {
	return s.executor != nil
}

// Resolve 解析并执行查询
func (s *ResolveService) Resolve(ctx context.Context, query string) (*Response, error) {
	return s.resolve(ctx, query, s.executor != nil)
}

// Plan 只解析和绑定，不访问数据源
func (s *ResolveService) Plan(ctx context.Context, query string) (*Response, error) {
	return s.resolve(ctx, query, false)
}

// Suggest 按相似度返回候选规则
func (s *ResolveService) Suggest(query string, n int) []engine.Suggestion {
	return s.matcher.Suggest(query, n)
}

func (s *ResolveService) resolve(ctx context.Context, query string, execute bool) (*Response, error) {
	start := time.Now()
	resp := &Response{Input: query}

	match, intent, err := s.matcher.Match(query)
	resp.Intent = intent
	if err != nil {
		s.recorder.RecordResolve(OutcomeAmbiguous, "", 0, time.Since(start))
		s.logger.Error("Rule match is ambiguous", zap.String("query", query), zap.Error(err))
		return nil, err
	}
	if match == nil {
		resp.Suggestions = s.matcher.Suggest(query, s.cfg.SuggestionLimit)
		s.recorder.RecordResolve(OutcomeNoMatch, "", 0, time.Since(start))
		s.logger.Info("No rule matched",
			zap.String("query", query),
			zap.Int("suggestions", len(resp.Suggestions)))
		return resp, nil
	}

	rule := match.Rule
	scenario := string(rule.Scenario)
	resp.Matched = true
	resp.Score = match.Score
	resp.Rule = summarize(rule)

	bound, err := s.binder.Bind(rule, intent, match.ExtractedParameters)
	if err != nil {
		var missing *engine.MissingRequiredParameterError
		if errors.As(err, &missing) {
			resp.Clarification = clarify(missing)
			s.recorder.RecordResolve(OutcomeClarification, scenario, match.Score, time.Since(start))
			s.logger.Info("Required parameter missing",
				zap.Int64("rule_id", rule.ID),
				zap.String("parameter", missing.Parameter))
			return resp, nil
		}
		s.recorder.RecordResolve(OutcomeInvalidParam, scenario, match.Score, time.Since(start))
		return nil, err
	}
	resp.Query = bound

	if !execute {
		s.recorder.RecordResolve(OutcomePlanned, scenario, match.Score, time.Since(start))
		return resp, nil
	}

	rows, err := s.execute(ctx, rule, bound)
	if err != nil {
		s.recorder.RecordResolve(OutcomeExecutionFail, scenario, match.Score, time.Since(start))
		return nil, err
	}

	shaped, err := s.shaper.Shape(rule.Scenario, rows, shaper.OptionsFor(rule))
	if err != nil {
		return nil, fmt.Errorf("整理规则%d的查询结果失败: %w", rule.ID, err)
	}
	resp.Executed = true
	resp.Result = shaped

	s.recorder.RecordResolve(OutcomeMatched, scenario, match.Score, time.Since(start))
	s.logger.Info("Query resolved",
		zap.Int64("rule_id", rule.ID),
		zap.String("scenario", scenario),
		zap.Float64("score", match.Score),
		zap.Int("rows", shaped.Total),
		zap.Duration("duration", time.Since(start)))
	return resp, nil
}

// execute 在执行超时内访问数据源，错误原样包装为ExecutionError
func (s *ResolveService) execute(ctx context.Context, rule *rules.Rule, bound *engine.BoundQuery) ([]map[string]any, error) {
	execCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecutionTimeout)
	defer cancel()

	start := time.Now()
	rows, err := s.executor.Query(execCtx, bound.SQL, bound.Args)
	s.recorder.RecordExecution(string(rule.Scenario), time.Since(start), err)
	if err != nil {
		s.logger.Error("Datastore execution failed",
			zap.Int64("rule_id", rule.ID),
			zap.Error(err))
		return nil, &ExecutionError{RuleID: rule.ID, Err: err}
	}
	return rows, nil
}

func summarize(r *rules.Rule) *RuleSummary {
	return &RuleSummary{
		ID:         r.ID,
		IntentName: r.IntentName,
		Scenario:   r.Scenario,
		ResultMode: r.ResultMode,
		Priority:   r.Priority,
		Version:    r.Version,
	}
}

var parameterLabels = map[string]string{
	"supplier":      "供应商",
	"factory":       "工厂",
	"project":       "项目",
	"material":      "物料",
	"material_code": "物料编码",
	"batch":         "批次",
	"batch_code":    "批次号",
	"start":         "开始时间",
	"end":           "结束时间",
	"status":        "状态",
}

func clarify(e *engine.MissingRequiredParameterError) *Clarification {
	label, ok := parameterLabels[e.Parameter]
	if !ok {
		label = e.Parameter
	}
	question := fmt.Sprintf("请补充%s，例如在查询中写明具体的%s", label, label)
	if strings.HasSuffix(label, "时间") {
		question = fmt.Sprintf("请补充%s，例如“最近一周”或“本月”", label)
	}
	return &Clarification{
		RuleID:     e.RuleID,
		IntentName: e.IntentName,
		Parameter:  e.Parameter,
		Extracted:  e.Extracted,
		Question:   question,
	}
}
