package lexicon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var shanghai = time.FixedZone("CST", 8*3600)

// 2024-03-14 周四 15:30
var fixedNow = time.Date(2024, 3, 14, 15, 30, 0, 0, shanghai)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, shanghai)
}

func TestResolvePhrase_FixedPhrases(t *testing.T) {
	testCases := []struct {
		text  string
		start time.Time
		end   time.Time
	}{
		{"今天的来料", day(2024, 3, 14), day(2024, 3, 15)},
		{"昨天入库的电池", day(2024, 3, 13), day(2024, 3, 14)},
		{"前天", day(2024, 3, 12), day(2024, 3, 13)},
		{"本周异常", day(2024, 3, 11), day(2024, 3, 15)},
		{"上周的检验记录", day(2024, 3, 4), day(2024, 3, 11)},
		{"本月", day(2024, 3, 1), day(2024, 3, 15)},
		{"上个月的批次", day(2024, 2, 1), day(2024, 3, 1)},
		{"上月", day(2024, 2, 1), day(2024, 3, 1)},
		{"本季度", day(2024, 1, 1), day(2024, 3, 15)},
		{"今年的不良", day(2024, 1, 1), day(2024, 3, 15)},
		{"去年", day(2023, 1, 1), day(2024, 1, 1)},
		{"近期", fixedNow.AddDate(0, 0, -30), fixedNow},
	}

	for _, tc := range testCases {
		t.Run(tc.text, func(t *testing.T) {
			tr, ok := ResolvePhrase(tc.text, fixedNow)
			require.True(t, ok)
			assert.True(t, tc.start.Equal(tr.Start), "start %v != %v", tr.Start, tc.start)
			assert.True(t, tc.end.Equal(tr.End), "end %v != %v", tr.End, tc.end)
			assert.True(t, tr.Start.Before(tr.End))
		})
	}
}

func TestResolvePhrase_Relative(t *testing.T) {
	testCases := []struct {
		text  string
		start time.Time
	}{
		{"查询最近一周的产线异常", fixedNow.AddDate(0, 0, -7)},
		{"近一周", fixedNow.AddDate(0, 0, -7)},
		{"最近7天", fixedNow.AddDate(0, 0, -7)},
		{"最近 30 天的测试", fixedNow.AddDate(0, 0, -30)},
		{"最近三个月", fixedNow.AddDate(0, -3, 0)},
		{"过去两周", fixedNow.AddDate(0, 0, -14)},
		{"近十五天", fixedNow.AddDate(0, 0, -15)},
		{"最近二十天", fixedNow.AddDate(0, 0, -20)},
		{"最近一年", fixedNow.AddDate(-1, 0, 0)},
	}

	for _, tc := range testCases {
		t.Run(tc.text, func(t *testing.T) {
			tr, ok := ResolvePhrase(tc.text, fixedNow)
			require.True(t, ok)
			assert.True(t, tc.start.Equal(tr.Start), "start %v != %v", tr.Start, tc.start)
			assert.True(t, fixedNow.Equal(tr.End))
		})
	}
}

func TestResolvePhrase_AbsoluteRange(t *testing.T) {
	tr, ok := ResolvePhrase("2024-01-01到2024-01-31的入库记录", fixedNow)
	require.True(t, ok)
	assert.True(t, day(2024, 1, 1).Equal(tr.Start))
	assert.True(t, day(2024, 2, 1).Equal(tr.End), "结束日期应包含当天")

	_, ok = ResolvePhrase("2024-02-01到2024-01-01", fixedNow)
	assert.False(t, ok, "倒序区间不解析")
}

func TestResolvePhrase_OrderedList(t *testing.T) {
	// 列表顺序决定优先级，而不是在文本中出现的位置
	tr, ok := ResolvePhrase("对比上周和今天", fixedNow)
	require.True(t, ok)
	assert.True(t, day(2024, 3, 14).Equal(tr.Start))

	// 固定短语先于“最近N天”
	tr, ok = ResolvePhrase("最近3天和昨天", fixedNow)
	require.True(t, ok)
	assert.True(t, day(2024, 3, 13).Equal(tr.Start))
}

func TestResolvePhrase_NotFound(t *testing.T) {
	for _, text := range []string{"", "查询BOE库存", "最近0天", "最近几天"} {
		_, ok := ResolvePhrase(text, fixedNow)
		assert.False(t, ok, text)
	}
}

func TestResolvePhrase_Idempotent(t *testing.T) {
	first, ok := ResolvePhrase("今天", fixedNow)
	require.True(t, ok)
	second, ok := ResolvePhrase("今天", fixedNow)
	require.True(t, ok)
	assert.Equal(t, first, second)
}

func TestResolvePhrase_Midnight(t *testing.T) {
	// 零点整时各“截至今天”的短语仍覆盖完整的当天
	midnight := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	nextDay := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)

	for _, text := range []string{"今天", "今日", "本周", "这周", "本月", "这个月", "本季度", "今年"} {
		t.Run(text, func(t *testing.T) {
			tr, ok := ResolvePhrase(text, midnight)
			require.True(t, ok)
			assert.True(t, tr.Start.Before(tr.End), "区间不能为空: %v - %v", tr.Start, tr.End)
			assert.True(t, nextDay.Equal(tr.End))
		})
	}

	// 年初零点
	newYear := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	tr, ok := ResolvePhrase("今年", newYear)
	require.True(t, ok)
	assert.True(t, newYear.Equal(tr.Start))
	assert.Equal(t, 24*time.Hour, tr.End.Sub(tr.Start))
}

func TestResolvePhrase_WeekStartsOnMonday(t *testing.T) {
	sunday := time.Date(2024, 3, 17, 9, 0, 0, 0, shanghai)
	tr, ok := ResolvePhrase("本周", sunday)
	require.True(t, ok)
	assert.True(t, day(2024, 3, 11).Equal(tr.Start))

	monday := time.Date(2024, 3, 11, 9, 0, 0, 0, shanghai)
	tr, ok = ResolvePhrase("本周", monday)
	require.True(t, ok)
	assert.True(t, day(2024, 3, 11).Equal(tr.Start))
}

func TestTemporalResolver_CustomExpressions(t *testing.T) {
	r := NewTemporalResolver([]Expression{
		{Phrase: "班次内", Resolve: func(now time.Time) TimeRange { return TimeRange{now.Add(-8 * time.Hour), now} }},
	})
	assert.Equal(t, []string{"班次内"}, r.Phrases())

	tr, ok := r.ResolvePhrase("班次内的异常", fixedNow)
	require.True(t, ok)
	assert.Equal(t, 8*time.Hour, tr.End.Sub(tr.Start))

	_, ok = r.ResolvePhrase("今天", fixedNow)
	assert.False(t, ok)
}

func TestParseCount(t *testing.T) {
	testCases := map[string]int{"7": 7, "一": 1, "两": 2, "十": 10, "十五": 15, "三十": 30, "九十九": 99}
	for in, want := range testCases {
		got, ok := parseCount(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := parseCount("百")
	assert.False(t, ok)
}
