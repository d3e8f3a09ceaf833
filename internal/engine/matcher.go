package engine

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/width"

	"rulequery-go/internal/config"
	"rulequery-go/internal/lexicon"
	"rulequery-go/internal/rules"
)

// ErrAmbiguousMatch 得分、优先级、ID都相同的规则无法裁决，属于规则配置错误
var ErrAmbiguousMatch = errors.New("规则匹配结果无法裁决")

// AmbiguousMatchError 无法裁决的并列规则
type AmbiguousMatchError struct {
	RuleIDs  []int64  `json:"rule_ids"`
	Intents  []string `json:"intents"`
	Score    float64  `json:"score"`
	Priority int      `json:"priority"`
}

func (e *AmbiguousMatchError) Error() string {
	parts := make([]string, len(e.RuleIDs))
	for i, id := range e.RuleIDs {
		parts[i] = fmt.Sprintf("规则%d(%s)", id, e.Intents[i])
	}
	return fmt.Sprintf("%s: %s得分%.1f相同", ErrAmbiguousMatch, strings.Join(parts, "与"), e.Score)
}

func (e *AmbiguousMatchError) Unwrap() error {
	return ErrAmbiguousMatch
}

// RuleProvider 提供当前生效的规则快照
type RuleProvider interface {
	LoadActiveRules() []*rules.Rule
}

// LexiconProvider 提供当前生效的词典
type LexiconProvider interface {
	Current() *lexicon.Lexicon
}

// MatchResult 匹配结果
type MatchResult struct {
	Rule                *rules.Rule       `json:"-"`
	Score               float64           `json:"score"`
	ExtractedParameters map[string]string `json:"extracted_parameters"`
}

var codePatterns = []struct {
	key string
	re  *regexp.Regexp
}{
	{FilterMaterialCode, regexp.MustCompile(`\b[Mm]\d{5,}\b`)},
	{FilterBatchCode, regexp.MustCompile(`\b[Bb]\d{5,}\b`)},
}

// Matcher 基于触发词打分的规则匹配器
type Matcher struct {
	rules    RuleProvider
	lexicon  LexiconProvider
	temporal *lexicon.TemporalResolver
	cfg      *config.EngineConfig
	logger   *zap.Logger
	now      func() time.Time
}

// MatcherOption 匹配器选项
type MatcherOption func(*Matcher)

// WithClock 替换时钟
func WithClock(now func() time.Time) MatcherOption {
	return func(m *Matcher) { m.now = now }
}

// WithTemporalResolver 替换时间短语解析器
func WithTemporalResolver(r *lexicon.TemporalResolver) MatcherOption {
	return func(m *Matcher) { m.temporal = r }
}

// NewMatcher 创建匹配器
func NewMatcher(ruleProvider RuleProvider, lex LexiconProvider, cfg *config.EngineConfig, logger *zap.Logger, opts ...MatcherOption) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.DefaultEngineConfig()
	}
	if lex == nil {
		lex = lexicon.NewStore(nil, logger)
	}
	m := &Matcher{
		rules:    ruleProvider,
		lexicon:  lex,
		temporal: lexicon.NewTemporalResolver(nil),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// normalize 去除首尾空白并把全角字符折叠为半角；
// 返回折叠后的文本（用于词典、编码、时间提取）和小写形式（用于触发词比较）
func normalize(text string) (folded, lowered string) {
	folded = width.Fold.String(strings.TrimSpace(text))
	return folded, strings.ToLower(folded)
}

func foldPhrase(phrase string) string {
	_, lowered := normalize(phrase)
	return lowered
}

// Match 使用当前时间匹配
func (m *Matcher) Match(query string) (*MatchResult, *Intent, error) {
	return m.MatchAt(query, m.now())
}

// MatchAt 对查询打分并选出最佳规则。
// 未命中或最高分低于阈值时返回nil结果和nil错误，Intent仍然返回已识别的过滤条件
func (m *Matcher) MatchAt(query string, now time.Time) (*MatchResult, *Intent, error) {
	folded, lowered := normalize(query)
	if folded == "" {
		return nil, nil, nil
	}

	intent := &Intent{Filters: m.extractFilters(folded)}
	if tr, ok := m.temporal.ResolvePhrase(folded, now); ok {
		intent.TimeRange = &tr
	}

	type candidate struct {
		rule  *rules.Rule
		score float64
	}
	var candidates []candidate
	for _, r := range m.rules.LoadActiveRules() {
		if !r.Active() {
			continue
		}
		if s := m.score(r, lowered); s > 0 {
			candidates = append(candidates, candidate{rule: r, score: s})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.rule.Priority != b.rule.Priority {
			return a.rule.Priority > b.rule.Priority
		}
		return a.rule.ID < b.rule.ID
	})

	// 门槛含等于
	if len(candidates) == 0 || candidates[0].score < m.cfg.MinScore {
		inferIntent(intent, nil, lowered)
		m.logger.Debug("No rule matched", zap.String("query", query), zap.Int("candidates", len(candidates)))
		return nil, intent, nil
	}

	best := candidates[0]
	if len(candidates) > 1 {
		ambiguous := &AmbiguousMatchError{Score: best.score, Priority: best.rule.Priority}
		for _, c := range candidates {
			if c.score != best.score || c.rule.Priority != best.rule.Priority || c.rule.ID != best.rule.ID {
				break
			}
			ambiguous.RuleIDs = append(ambiguous.RuleIDs, c.rule.ID)
			ambiguous.Intents = append(ambiguous.Intents, c.rule.IntentName)
		}
		if len(ambiguous.RuleIDs) > 1 {
			return nil, intent, ambiguous
		}
	}

	inferIntent(intent, best.rule, lowered)
	result := &MatchResult{
		Rule:                best.rule,
		Score:               best.score,
		ExtractedParameters: m.extractParameters(best.rule, folded, intent),
	}

	m.logger.Debug("Rule matched",
		zap.Int64("rule_id", best.rule.ID),
		zap.String("intent", best.rule.IntentName),
		zap.Float64("score", best.score),
		zap.Int("candidates", len(candidates)))
	return result, intent, nil
}

// score 触发词按字符数计分，同义词降权，完全相同额外加分
func (m *Matcher) score(r *rules.Rule, lowered string) float64 {
	var s float64
	for _, phrase := range r.TriggerPhrases {
		p := foldPhrase(phrase)
		if p == "" || !strings.Contains(lowered, p) {
			continue
		}
		s += float64(utf8.RuneCountInString(p)) * m.cfg.TriggerWeight
		if lowered == p {
			s += m.cfg.ExactMatchBonus
		}
	}
	for _, syns := range r.Synonyms {
		for _, syn := range syns {
			p := foldPhrase(syn)
			if p != "" && strings.Contains(lowered, p) {
				s += float64(utf8.RuneCountInString(p)) * m.cfg.SynonymWeight
			}
		}
	}
	return s
}

// extractFilters 词典命中和编码识别，与规则打分无关
func (m *Matcher) extractFilters(folded string) map[string]string {
	filters := make(map[string]string)
	if lex := m.lexicon.Current(); lex != nil {
		for _, hit := range lex.Extract(folded) {
			filters[string(hit.Category)] = hit.Term
		}
	}
	for _, cp := range codePatterns {
		if code := cp.re.FindString(folded); code != "" {
			filters[cp.key] = strings.ToUpper(code)
		}
	}
	return filters
}

// extractParameters 按参数定义依次尝试提取方式，第一个非空值生效
func (m *Matcher) extractParameters(r *rules.Rule, folded string, intent *Intent) map[string]string {
	out := make(map[string]string, len(r.ParameterSchema))
	lex := m.lexicon.Current()
	for _, p := range r.ParameterSchema {
		for i := range p.Extractions {
			if v := extractOne(&p.Extractions[i], folded, intent, lex); v != "" {
				out[p.Name] = v
				break
			}
		}
	}
	return out
}

func extractOne(e *rules.Extraction, folded string, intent *Intent, lex *lexicon.Lexicon) string {
	switch e.Kind {
	case rules.ExtractRegex:
		re := e.Regexp()
		if re == nil {
			compiled, err := regexp.Compile(e.Pattern)
			if err != nil {
				return ""
			}
			re = compiled
		}
		sub := re.FindStringSubmatch(folded)
		if sub == nil {
			return ""
		}
		if len(sub) > 1 && sub[1] != "" {
			return sub[1]
		}
		return sub[0]
	case rules.ExtractLexicon:
		if lex == nil {
			return ""
		}
		term, _ := lex.FindIn(lexicon.Category(e.Category), folded)
		return term
	case rules.ExtractTemporal:
		if intent.TimeRange == nil {
			return ""
		}
		if e.Bound == "end" {
			return intent.TimeRange.End.Format(time.RFC3339Nano)
		}
		return intent.TimeRange.Start.Format(time.RFC3339Nano)
	case rules.ExtractFilter:
		return intent.Filters[e.Key]
	}
	return ""
}
