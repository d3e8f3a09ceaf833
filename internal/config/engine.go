package config

import (
	"fmt"
	"time"
)

// EngineConfig 匹配与绑定参数
type EngineConfig struct {
	// 触发词每个字符的得分权重
	TriggerWeight float64 `json:"trigger_weight" mapstructure:"trigger_weight"`
	// 同义词命中的权重，低于触发词
	SynonymWeight float64 `json:"synonym_weight" mapstructure:"synonym_weight"`
	// 查询与触发词完全相同时的加分，必须大于任何部分命中的得分
	ExactMatchBonus float64 `json:"exact_match_bonus" mapstructure:"exact_match_bonus"`
	// 命中门槛，含等于：得分不低于该值才算命中。默认2即至少命中一个两字触发词
	MinScore float64 `json:"min_score" mapstructure:"min_score"`

	SuggestionLimit  int           `json:"suggestion_limit" mapstructure:"suggestion_limit"`
	ExecutionTimeout time.Duration `json:"execution_timeout" mapstructure:"execution_timeout"`
}

// DefaultEngineConfig 默认匹配参数
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		TriggerWeight:    1.0,
		SynonymWeight:    0.8,
		ExactMatchBonus:  1000,
		MinScore:         2,
		SuggestionLimit:  3,
		ExecutionTimeout: 10 * time.Second,
	}
}

// Validate 验证匹配参数
func (c *EngineConfig) Validate() error {
	if c.TriggerWeight <= 0 {
		return fmt.Errorf("触发词权重必须大于0")
	}
	if c.SynonymWeight < 0 {
		return fmt.Errorf("同义词权重不能为负数")
	}
	if c.ExactMatchBonus <= 0 {
		return fmt.Errorf("完全匹配加分必须大于0")
	}
	if c.MinScore < 0 {
		return fmt.Errorf("最低分数不能为负数")
	}
	if c.SuggestionLimit <= 0 {
		return fmt.Errorf("候选建议数量必须大于0")
	}
	if c.ExecutionTimeout <= 0 {
		return fmt.Errorf("执行超时必须大于0")
	}
	return nil
}

// RulesConfig 规则与词典的来源
type RulesConfig struct {
	Source        string        `json:"source" mapstructure:"source"` // file | postgres
	Path          string        `json:"path" mapstructure:"path"`
	LexiconPath   string        `json:"lexicon_path" mapstructure:"lexicon_path"`
	Watch         bool          `json:"watch" mapstructure:"watch"`
	WatchDebounce time.Duration `json:"watch_debounce" mapstructure:"watch_debounce"`
}

// DefaultRulesConfig 默认从configs目录读取
func DefaultRulesConfig() *RulesConfig {
	return &RulesConfig{
		Source:        "file",
		Path:          "configs/rules.yaml",
		LexiconPath:   "configs/lexicon.yaml",
		Watch:         true,
		WatchDebounce: 500 * time.Millisecond,
	}
}

// Validate 验证规则来源
func (c *RulesConfig) Validate() error {
	switch c.Source {
	case "file":
		if c.Path == "" {
			return fmt.Errorf("规则文件路径不能为空")
		}
	case "postgres":
	default:
		return fmt.Errorf("不支持的规则来源: %s", c.Source)
	}
	if c.Watch && c.WatchDebounce <= 0 {
		return fmt.Errorf("文件监听防抖间隔必须大于0")
	}
	return nil
}
