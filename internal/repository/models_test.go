package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulequery-go/internal/rules"
)

func TestRecordFromRule_Defaults(t *testing.T) {
	rec := RecordFromRule(&rules.Rule{
		ID:             7,
		IntentName:     "库存查询",
		TriggerPhrases: []string{"库存"},
		Scenario:       rules.ScenarioInventory,
		ActionTemplate: "SELECT 1",
	})

	assert.Equal(t, int64(7), rec.ID)
	assert.Equal(t, string(rules.ModeList), rec.ResultMode)
	assert.Equal(t, string(rules.StatusActive), rec.Status)
	assert.Equal(t, 1, rec.Version)
	assert.NotNil(t, rec.Synonyms)
	assert.NotNil(t, rec.ParameterSchema)
}

func TestRecordRoundTrip(t *testing.T) {
	rule := &rules.Rule{
		ID:             12,
		IntentName:     "批次风险",
		Description:    "按批次查看风险",
		TriggerPhrases: []string{"批次", "风险"},
		Synonyms:       map[string][]string{"批次": {"批号"}},
		Scenario:       rules.ScenarioBatch,
		ResultMode:     rules.ModeExplore,
		RowLimit:       5,
		Action:         "analyze",
		Entity:         "risk",
		ParameterSchema: []rules.ParamSpec{{
			Name:        "batch",
			Type:        rules.TypeCode,
			Extractions: []rules.Extraction{{Kind: rules.ExtractFilter, Key: "batch_code"}},
			Default:     rules.StringPtr("B0"),
		}},
		ActionTemplate: "SELECT * FROM batches WHERE code = :batch",
		Priority:       4,
		Status:         rules.StatusInactive,
		Version:        3,
	}

	got := RecordFromRule(rule).ToRule()
	assert.Equal(t, rule.ID, got.ID)
	assert.Equal(t, rule.TriggerPhrases, got.TriggerPhrases)
	assert.Equal(t, rule.Synonyms, got.Synonyms)
	assert.Equal(t, rule.Scenario, got.Scenario)
	assert.Equal(t, rule.ResultMode, got.ResultMode)
	assert.Equal(t, rule.ParameterSchema, got.ParameterSchema)
	assert.Equal(t, rule.Status, got.Status)
	assert.Equal(t, 3, got.Version)

	// 触发词切片不共享底层数组
	got.TriggerPhrases[0] = "改"
	assert.Equal(t, "批次", rule.TriggerPhrases[0])

	require.NoError(t, rules.NewValidator(nil).Compile(got))
}

func TestErrorKind(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"不存在", fmt.Errorf("规则1不存在: %w", ErrNotFound), KindNotFound},
		{"重复", fmt.Errorf("规则ID 1 已存在: %w", ErrDuplicateEntry), KindDuplicate},
		{"无效输入", fmt.Errorf("%w: bad", ErrInvalidInput), KindInvalid},
		{"连接失败", fmt.Errorf("%w: refused", ErrConnectionFailed), KindUnavailable},
		{"超时", fmt.Errorf("%w: deadline", ErrTimeout), KindTimeout},
		{"同时包装超时和连接失败", fmt.Errorf("%w: %w", ErrConnectionFailed, ErrTimeout), KindTimeout},
		{"其他错误", errors.New("other"), KindUnknown},
		{"nil", nil, KindUnknown},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Kind(tc.err))
		})
	}

	assert.True(t, IsNotFound(fmt.Errorf("wrap: %w", ErrNotFound)))
	assert.False(t, IsNotFound(ErrTimeout))
}
