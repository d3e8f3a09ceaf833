// Package postgres 基于pgx/v5的规则存储实现
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"rulequery-go/internal/repository"
	"rulequery-go/internal/rules"
)

//go:embed schema.sql
var schemaSQL string

// dbtx 连接池和事务的公共部分
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const ruleColumns = `id, intent_name, description, trigger_phrases, synonyms, scenario,
	result_mode, row_limit, action, entity, parameter_schema, action_template,
	priority, status, version, create_by, create_time, update_by, update_time`

// PostgreSQLRuleRepository PostgreSQL规则Repository实现
// 同时实现rules.Source，可直接作为规则仓库的来源
type PostgreSQLRuleRepository struct {
	pool      *pgxpool.Pool
	validator *rules.Validator
	logger    *zap.Logger
}

var (
	_ repository.RuleRepository = (*PostgreSQLRuleRepository)(nil)
	_ rules.Source              = (*PostgreSQLRuleRepository)(nil)
)

// NewPostgreSQLRuleRepository 创建PostgreSQL规则Repository
func NewPostgreSQLRuleRepository(pool *pgxpool.Pool, logger *zap.Logger) *PostgreSQLRuleRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgreSQLRuleRepository{
		pool:      pool,
		validator: rules.NewValidator(rules.NewTemplateGuard(logger)),
		logger:    logger,
	}
}

// Name 实现rules.Source
func (r *PostgreSQLRuleRepository) Name() string {
	return "postgres:query_rules"
}

// Migrate 创建表和索引，可重复执行
func (r *PostgreSQLRuleRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		r.logger.Error("执行规则表迁移失败", zap.Error(err))
		return fmt.Errorf("执行规则表迁移失败: %w", classify(err))
	}
	r.logger.Info("规则表迁移完成")
	return nil
}

// HealthCheck 健康检查
func (r *PostgreSQLRuleRepository) HealthCheck(ctx context.Context) error {
	var result int
	if err := r.pool.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		r.logger.Error("规则存储健康检查失败", zap.Error(err))
		return fmt.Errorf("规则存储健康检查失败: %w", classify(err))
	}
	if result != 1 {
		return fmt.Errorf("健康检查返回异常值: %d", result)
	}
	return nil
}

// Create 创建规则，规则在写入前完成校验
func (r *PostgreSQLRuleRepository) Create(ctx context.Context, rec *repository.RuleRecord) error {
	if err := r.validate(rec); err != nil {
		return err
	}

	const query = `
		INSERT INTO query_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $16, $17)`

	now := time.Now().UTC()
	if rec.Version <= 0 {
		rec.Version = 1
	}
	args, err := insertArgs(rec, now)
	if err != nil {
		return err
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		r.logger.Error("创建规则失败",
			zap.Int64("rule_id", rec.ID),
			zap.String("intent_name", rec.IntentName),
			zap.Error(err),
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("规则ID %d 已存在: %w", rec.ID, repository.ErrDuplicateEntry)
		}
		return fmt.Errorf("创建规则失败: %w", classify(err))
	}

	rec.CreateTime = now
	rec.UpdateBy = rec.CreateBy
	rec.UpdateTime = now

	r.logger.Info("规则创建成功",
		zap.Int64("rule_id", rec.ID),
		zap.String("intent_name", rec.IntentName),
		zap.Int("priority", rec.Priority),
	)
	return nil
}

// GetByID 根据ID获取规则
func (r *PostgreSQLRuleRepository) GetByID(ctx context.Context, id int64) (*repository.RuleRecord, error) {
	return getRule(ctx, r.pool, id, false)
}

// List 按优先级降序、ID升序列出规则，status为空时返回全部
func (r *PostgreSQLRuleRepository) List(ctx context.Context, status string) ([]*repository.RuleRecord, error) {
	const query = `
		SELECT ` + ruleColumns + `
		FROM query_rules
		WHERE ($1 = '' OR status = $1)
		ORDER BY priority DESC, id ASC`

	rows, err := r.pool.Query(ctx, query, status)
	if err != nil {
		r.logger.Error("查询规则列表失败", zap.String("status", status), zap.Error(err))
		return nil, fmt.Errorf("查询规则列表失败: %w", classify(err))
	}
	defer rows.Close()

	out := make([]*repository.RuleRecord, 0)
	for rows.Next() {
		rec, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("读取规则列表失败: %w", classify(err))
	}
	return out, nil
}

// Count 规则总数
func (r *PostgreSQLRuleRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM query_rules`).Scan(&count); err != nil {
		return 0, fmt.Errorf("统计规则数量失败: %w", classify(err))
	}
	return count, nil
}

// LoadRules 实现rules.Source，返回全部规则，由规则仓库过滤和编译
func (r *PostgreSQLRuleRepository) LoadRules(ctx context.Context) ([]*rules.Rule, error) {
	records, err := r.List(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]*rules.Rule, len(records))
	for i, rec := range records {
		out[i] = rec.ToRule()
	}
	r.logger.Debug("Rules loaded from postgres", zap.Int("count", len(out)))
	return out, nil
}

// UpdateTemplate 修改模板和参数定义，修改前的内容写入修订表
func (r *PostgreSQLRuleRepository) UpdateTemplate(ctx context.Context, id int64, template string, params []rules.ParamSpec, by string) (*repository.RuleRecord, error) {
	return r.modify(ctx, id, by, func(rec *repository.RuleRecord) {
		rec.ActionTemplate = template
		if params != nil {
			rec.ParameterSchema = params
		}
	})
}

// UpdateStatus 启用或停用规则
func (r *PostgreSQLRuleRepository) UpdateStatus(ctx context.Context, id int64, status rules.Status, by string) (*repository.RuleRecord, error) {
	if status != rules.StatusActive && status != rules.StatusInactive {
		return nil, fmt.Errorf("未知的规则状态 %q: %w", status, repository.ErrInvalidInput)
	}
	return r.modify(ctx, id, by, func(rec *repository.RuleRecord) {
		rec.Status = string(status)
	})
}

// modify 在事务中锁定规则、写修订记录、应用修改并把版本号加1
func (r *PostgreSQLRuleRepository) modify(ctx context.Context, id int64, by string, apply func(rec *repository.RuleRecord)) (*repository.RuleRecord, error) {
	var updated *repository.RuleRecord
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		rec, err := getRule(ctx, tx, id, true)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := insertRevision(ctx, tx, rec, by, now); err != nil {
			return err
		}

		apply(rec)
		if err := r.validate(rec); err != nil {
			return err
		}

		const query = `
			UPDATE query_rules
			SET action_template = $2, parameter_schema = $3, status = $4,
				version = version + 1, update_by = $5, update_time = $6
			WHERE id = $1
			RETURNING version`

		params, err := json.Marshal(rec.ParameterSchema)
		if err != nil {
			return fmt.Errorf("序列化参数定义失败: %w", err)
		}
		if err := tx.QueryRow(ctx, query, id, rec.ActionTemplate, params, rec.Status, by, now).Scan(&rec.Version); err != nil {
			return fmt.Errorf("更新规则失败: %w", classify(err))
		}
		rec.UpdateBy = by
		rec.UpdateTime = now
		updated = rec
		return nil
	})
	if err != nil {
		r.logger.Error("修改规则失败", zap.Int64("rule_id", id), zap.Error(err))
		return nil, err
	}

	r.logger.Info("规则修改成功",
		zap.Int64("rule_id", id),
		zap.Int("version", updated.Version),
		zap.String("status", updated.Status),
		zap.String("update_by", by),
	)
	return updated, nil
}

// Import 批量导入规则。整批先校验，已存在的规则写修订记录后覆盖
func (r *PostgreSQLRuleRepository) Import(ctx context.Context, batch []*rules.Rule, by string) (int, error) {
	compiled := make([]*rules.Rule, len(batch))
	for i, rule := range batch {
		compiled[i] = rule.Clone()
	}
	if err := r.validator.ValidateAll(compiled); err != nil {
		return 0, fmt.Errorf("%w: %w", repository.ErrInvalidInput, err)
	}

	const upsert = `
		INSERT INTO query_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			intent_name = EXCLUDED.intent_name,
			description = EXCLUDED.description,
			trigger_phrases = EXCLUDED.trigger_phrases,
			synonyms = EXCLUDED.synonyms,
			scenario = EXCLUDED.scenario,
			result_mode = EXCLUDED.result_mode,
			row_limit = EXCLUDED.row_limit,
			action = EXCLUDED.action,
			entity = EXCLUDED.entity,
			parameter_schema = EXCLUDED.parameter_schema,
			action_template = EXCLUDED.action_template,
			priority = EXCLUDED.priority,
			status = EXCLUDED.status,
			version = query_rules.version + 1,
			update_by = EXCLUDED.update_by,
			update_time = EXCLUDED.update_time`

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		for _, rule := range compiled {
			existing, err := getRule(ctx, tx, rule.ID, true)
			switch {
			case err == nil:
				if err := insertRevision(ctx, tx, existing, by, now); err != nil {
					return err
				}
			case !errors.Is(err, repository.ErrNotFound):
				return err
			}

			rec := repository.RecordFromRule(rule)
			rec.CreateBy = by
			args, err := insertArgs(rec, now)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, upsert, args...); err != nil {
				return fmt.Errorf("导入规则%d失败: %w", rule.ID, classify(err))
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("批量导入规则失败", zap.Int("count", len(batch)), zap.Error(err))
		return 0, err
	}

	r.logger.Info("规则导入完成", zap.Int("count", len(compiled)), zap.String("by", by))
	return len(compiled), nil
}

// Revisions 规则的修订历史，新版本在前
func (r *PostgreSQLRuleRepository) Revisions(ctx context.Context, ruleID int64) ([]*repository.RuleRevision, error) {
	const query = `
		SELECT id, rule_id, version, action_template, parameter_schema, status, change_by, change_time
		FROM query_rule_revisions
		WHERE rule_id = $1
		ORDER BY version DESC, id DESC`

	rows, err := r.pool.Query(ctx, query, ruleID)
	if err != nil {
		return nil, fmt.Errorf("查询修订历史失败: %w", classify(err))
	}
	defer rows.Close()

	out := make([]*repository.RuleRevision, 0)
	for rows.Next() {
		rev := &repository.RuleRevision{}
		var params []byte
		if err := rows.Scan(&rev.ID, &rev.RuleID, &rev.Version, &rev.ActionTemplate,
			&params, &rev.Status, &rev.ChangeBy, &rev.ChangeTime); err != nil {
			return nil, fmt.Errorf("读取修订记录失败: %w", err)
		}
		if err := json.Unmarshal(params, &rev.ParameterSchema); err != nil {
			return nil, fmt.Errorf("解析修订参数定义失败: %w", err)
		}
		out = append(out, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("读取修订历史失败: %w", classify(err))
	}
	return out, nil
}

// validate 用规则副本做完整校验，不修改记录本身
func (r *PostgreSQLRuleRepository) validate(rec *repository.RuleRecord) error {
	if err := r.validator.Compile(rec.ToRule()); err != nil {
		return fmt.Errorf("规则%d校验失败: %w: %w", rec.ID, repository.ErrInvalidInput, err)
	}
	return nil
}

// inTx 执行事务，fn返回错误时回滚
func (r *PostgreSQLRuleRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", classify(err))
	}
	defer func() {
		// 已提交时Rollback返回ErrTxClosed
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			r.logger.Warn("回滚事务失败", zap.Error(err))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("提交事务失败: %w", classify(err))
	}
	return nil
}

func getRule(ctx context.Context, db dbtx, id int64, forUpdate bool) (*repository.RuleRecord, error) {
	query := `SELECT ` + ruleColumns + ` FROM query_rules WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rec, err := scanRule(db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("规则%d不存在: %w", id, repository.ErrNotFound)
		}
		return nil, err
	}
	return rec, nil
}

func insertRevision(ctx context.Context, tx pgx.Tx, rec *repository.RuleRecord, by string, at time.Time) error {
	const query = `
		INSERT INTO query_rule_revisions (rule_id, version, action_template, parameter_schema, status, change_by, change_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	params, err := json.Marshal(rec.ParameterSchema)
	if err != nil {
		return fmt.Errorf("序列化参数定义失败: %w", err)
	}
	if _, err := tx.Exec(ctx, query, rec.ID, rec.Version, rec.ActionTemplate, params, rec.Status, by, at); err != nil {
		return fmt.Errorf("写入修订记录失败: %w", classify(err))
	}
	return nil
}

// insertArgs 按ruleColumns顺序组装参数，创建信息和更新信息共用$16/$17
func insertArgs(rec *repository.RuleRecord, now time.Time) ([]any, error) {
	synonyms := rec.Synonyms
	if synonyms == nil {
		synonyms = map[string][]string{}
	}
	synJSON, err := json.Marshal(synonyms)
	if err != nil {
		return nil, fmt.Errorf("序列化同义词失败: %w", err)
	}
	schema := rec.ParameterSchema
	if schema == nil {
		schema = []rules.ParamSpec{}
	}
	paramJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("序列化参数定义失败: %w", err)
	}
	triggers := rec.TriggerPhrases
	if triggers == nil {
		triggers = []string{}
	}
	mode := rec.ResultMode
	if mode == "" {
		mode = string(rules.ModeList)
	}
	status := rec.Status
	if status == "" {
		status = string(rules.StatusActive)
	}
	version := rec.Version
	if version <= 0 {
		version = 1
	}

	return []any{
		rec.ID,
		rec.IntentName,
		rec.Description,
		triggers,
		synJSON,
		rec.Scenario,
		mode,
		rec.RowLimit,
		rec.Action,
		rec.Entity,
		paramJSON,
		rec.ActionTemplate,
		rec.Priority,
		status,
		version,
		rec.CreateBy, // $16，同时作为update_by
		now,          // $17，同时作为update_time
	}, nil
}

func scanRule(row pgx.Row) (*repository.RuleRecord, error) {
	rec := &repository.RuleRecord{}
	var synonyms, params []byte
	err := row.Scan(
		&rec.ID,
		&rec.IntentName,
		&rec.Description,
		&rec.TriggerPhrases,
		&synonyms,
		&rec.Scenario,
		&rec.ResultMode,
		&rec.RowLimit,
		&rec.Action,
		&rec.Entity,
		&params,
		&rec.ActionTemplate,
		&rec.Priority,
		&rec.Status,
		&rec.Version,
		&rec.CreateBy,
		&rec.CreateTime,
		&rec.UpdateBy,
		&rec.UpdateTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("读取规则失败: %w", classify(err))
	}
	if err := json.Unmarshal(synonyms, &rec.Synonyms); err != nil {
		return nil, fmt.Errorf("解析规则%d同义词失败: %w", rec.ID, err)
	}
	if err := json.Unmarshal(params, &rec.ParameterSchema); err != nil {
		return nil, fmt.Errorf("解析规则%d参数定义失败: %w", rec.ID, err)
	}
	return rec, nil
}

// isUniqueViolation 检查是否为唯一约束冲突
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// classify 把超时和连接错误映射到repository的哨兵错误，保留原始错误
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", repository.ErrTimeout, err)
	case pgconn.SafeToRetry(err), pgconn.Timeout(err):
		return fmt.Errorf("%w: %w", repository.ErrConnectionFailed, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %w", repository.ErrConnectionFailed, err)
	}
	return err
}
