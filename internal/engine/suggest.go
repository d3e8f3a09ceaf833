package engine

import (
	"sort"
)

// Suggestion 未命中时给出的候选规则
type Suggestion struct {
	RuleID     int64  `json:"rule_id"`
	IntentName string `json:"intent_name"`
	// Phrase 与查询公共子串最长的触发词
	Phrase     string `json:"phrase"`
	Similarity int    `json:"similarity"`
}

// Suggest 按查询与触发词的最长公共子串排序，返回前n条；
// 规则快照非空时结果一定非空
func (m *Matcher) Suggest(query string, n int) []Suggestion {
	if n <= 0 {
		n = m.cfg.SuggestionLimit
	}
	_, lowered := normalize(query)
	q := []rune(lowered)

	type ranked struct {
		s        Suggestion
		priority int
	}
	var all []ranked
	for _, r := range m.rules.LoadActiveRules() {
		if !r.Active() || len(r.TriggerPhrases) == 0 {
			continue
		}
		best := Suggestion{RuleID: r.ID, IntentName: r.IntentName, Phrase: r.TriggerPhrases[0]}
		for _, phrase := range r.TriggerPhrases {
			if l := longestCommonSubstring(q, []rune(foldPhrase(phrase))); l > best.Similarity {
				best.Similarity = l
				best.Phrase = phrase
			}
		}
		all = append(all, ranked{s: best, priority: r.Priority})
	}

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.s.Similarity != b.s.Similarity {
			return a.s.Similarity > b.s.Similarity
		}
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.s.RuleID < b.s.RuleID
	})

	if len(all) > n {
		all = all[:n]
	}
	out := make([]Suggestion, len(all))
	for i, r := range all {
		out[i] = r.s
	}
	return out
}

// longestCommonSubstring 动态规划，只保留上一行
func longestCommonSubstring(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	best := 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > best {
					best = cur[j]
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return best
}
