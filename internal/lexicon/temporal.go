package lexicon

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeRange 解析后的时间区间，End为开区间
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Expression 固定的相对时间短语
type Expression struct {
	Phrase  string
	Resolve func(now time.Time) TimeRange
}

// TemporalResolver 相对时间解析器，所有计算都基于调用方传入的now
type TemporalResolver struct {
	expressions []Expression
}

var (
	// 最近7天、近三个月、过去2周
	relativePattern = regexp.MustCompile(`(?:最近|近|过去)\s*([0-9]+|[一二两三四五六七八九十]+)\s*(天|日|周|个星期|个月|年)`)
	// 2024-01-01到2024-01-31
	absolutePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})\s*(?:到|至|~|-)\s*(\d{4}-\d{2}-\d{2})`)
)

// NewTemporalResolver 使用给定的短语表，nil时使用默认表
func NewTemporalResolver(expressions []Expression) *TemporalResolver {
	if expressions == nil {
		expressions = DefaultExpressions()
	}
	return &TemporalResolver{expressions: expressions}
}

// ResolvePhrase 按固定顺序扫描短语表，第一个出现在text中的短语生效；
// 之后依次尝试“最近N天”和“日期到日期”两种模式。未命中返回false
func (r *TemporalResolver) ResolvePhrase(text string, now time.Time) (TimeRange, bool) {
	if text == "" {
		return TimeRange{}, false
	}
	for _, expr := range r.expressions {
		if strings.Contains(text, expr.Phrase) {
			return expr.Resolve(now), true
		}
	}
	if m := relativePattern.FindStringSubmatch(text); m != nil {
		n, ok := parseCount(m[1])
		if ok && n > 0 {
			return TimeRange{Start: shift(now, n, m[2]), End: now}, true
		}
	}
	if m := absolutePattern.FindStringSubmatch(text); m != nil {
		start, err1 := time.ParseInLocation("2006-01-02", m[1], now.Location())
		end, err2 := time.ParseInLocation("2006-01-02", m[2], now.Location())
		if err1 == nil && err2 == nil && !end.Before(start) {
			// 结束日期包含当天
			return TimeRange{Start: start, End: end.AddDate(0, 0, 1)}, true
		}
	}
	return TimeRange{}, false
}

// Phrases 短语表顺序
func (r *TemporalResolver) Phrases() []string {
	out := make([]string, len(r.expressions))
	for i, e := range r.expressions {
		out[i] = e.Phrase
	}
	return out
}

// DefaultExpressions 默认短语表，顺序即匹配优先级
func DefaultExpressions() []Expression {
	return []Expression{
		{"今天", func(now time.Time) TimeRange { return toDate(dayStart(now), now) }},
		{"今日", func(now time.Time) TimeRange { return toDate(dayStart(now), now) }},
		{"昨天", func(now time.Time) TimeRange {
			today := dayStart(now)
			return TimeRange{today.AddDate(0, 0, -1), today}
		}},
		{"前天", func(now time.Time) TimeRange {
			today := dayStart(now)
			return TimeRange{today.AddDate(0, 0, -2), today.AddDate(0, 0, -1)}
		}},
		{"本周", func(now time.Time) TimeRange { return toDate(weekStart(now), now) }},
		{"这周", func(now time.Time) TimeRange { return toDate(weekStart(now), now) }},
		{"上周", func(now time.Time) TimeRange {
			ws := weekStart(now)
			return TimeRange{ws.AddDate(0, 0, -7), ws}
		}},
		{"本月", func(now time.Time) TimeRange { return toDate(monthStart(now), now) }},
		{"这个月", func(now time.Time) TimeRange { return toDate(monthStart(now), now) }},
		{"上个月", func(now time.Time) TimeRange {
			ms := monthStart(now)
			return TimeRange{ms.AddDate(0, -1, 0), ms}
		}},
		{"上月", func(now time.Time) TimeRange {
			ms := monthStart(now)
			return TimeRange{ms.AddDate(0, -1, 0), ms}
		}},
		{"本季度", func(now time.Time) TimeRange { return toDate(quarterStart(now), now) }},
		{"今年", func(now time.Time) TimeRange { return toDate(yearStart(now), now) }},
		{"去年", func(now time.Time) TimeRange {
			ys := yearStart(now)
			return TimeRange{ys.AddDate(-1, 0, 0), ys}
		}},
		{"近期", func(now time.Time) TimeRange { return TimeRange{now.AddDate(0, 0, -30), now} }},
	}
}

// ResolvePhrase 使用默认短语表解析
func ResolvePhrase(text string, now time.Time) (TimeRange, bool) {
	return defaultResolver.ResolvePhrase(text, now)
}

var defaultResolver = NewTemporalResolver(nil)

// toDate 截至今天的区间，End取次日零点，整点零时也不会得到空区间
func toDate(start, now time.Time) TimeRange {
	return TimeRange{Start: start, End: dayStart(now).AddDate(0, 0, 1)}
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// weekStart 周一为一周的第一天
func weekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return dayStart(t).AddDate(0, 0, -offset)
}

func monthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

func quarterStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	q := (int(m)-1)/3*3 + 1
	return time.Date(y, time.Month(q), 1, 0, 0, 0, 0, t.Location())
}

func yearStart(t time.Time) time.Time {
	return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
}

func shift(now time.Time, n int, unit string) time.Time {
	switch unit {
	case "周", "个星期":
		return now.AddDate(0, 0, -7*n)
	case "个月":
		return now.AddDate(0, -n, 0)
	case "年":
		return now.AddDate(-n, 0, 0)
	default:
		return now.AddDate(0, 0, -n)
	}
}

var chineseDigits = map[rune]int{
	'一': 1, '二': 2, '两': 2, '三': 3, '四': 4, '五': 5, '六': 6, '七': 7, '八': 8, '九': 9,
}

// parseCount 支持阿拉伯数字和一到九十九的中文数字
func parseCount(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	runes := []rune(s)
	switch {
	case len(runes) == 1 && runes[0] == '十':
		return 10, true
	case len(runes) == 1:
		n, ok := chineseDigits[runes[0]]
		return n, ok
	case len(runes) == 2 && runes[0] == '十':
		n, ok := chineseDigits[runes[1]]
		return 10 + n, ok
	case len(runes) == 2 && runes[1] == '十':
		n, ok := chineseDigits[runes[0]]
		return n * 10, ok
	case len(runes) == 3 && runes[1] == '十':
		tens, ok1 := chineseDigits[runes[0]]
		ones, ok2 := chineseDigits[runes[2]]
		return tens*10 + ones, ok1 && ok2
	}
	return 0, false
}
