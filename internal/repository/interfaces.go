package repository

import (
	"context"

	"rulequery-go/internal/rules"
)

// RuleRepository 规则存储。规则只追加，修改限于模板编辑和状态切换，
// 每次修改前的内容写入修订表
type RuleRepository interface {
	// 基础操作
	Create(ctx context.Context, rec *RuleRecord) error
	GetByID(ctx context.Context, id int64) (*RuleRecord, error)
	List(ctx context.Context, status string) ([]*RuleRecord, error) // status为空时返回全部
	Count(ctx context.Context) (int64, error)

	// 维护操作
	UpdateTemplate(ctx context.Context, id int64, template string, params []rules.ParamSpec, by string) (*RuleRecord, error)
	UpdateStatus(ctx context.Context, id int64, status rules.Status, by string) (*RuleRecord, error)
	Import(ctx context.Context, batch []*rules.Rule, by string) (int, error)
	Revisions(ctx context.Context, ruleID int64) ([]*RuleRevision, error)

	// rules.Source
	LoadRules(ctx context.Context) ([]*rules.Rule, error)
	Name() string

	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error
}
