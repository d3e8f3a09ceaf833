package datastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Querier pgxpool.Pool、pgx.Conn和pgx.Tx都满足
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgxExecutor 在PostgreSQL连接池上执行查询
type PgxExecutor struct {
	db     Querier
	opts   Options
	logger *zap.Logger
}

// NewPgxExecutor 创建PostgreSQL执行器
func NewPgxExecutor(db Querier, opts Options, logger *zap.Logger) *PgxExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PgxExecutor{db: db, opts: opts.withDefaults(), logger: logger}
}

// Dialect 实现Executor
func (e *PgxExecutor) Dialect() string {
	return DialectPostgres
}

// Query 带超时执行查询，超过行数上限时截断并记录警告
func (e *PgxExecutor) Query(ctx context.Context, sql string, args []any) ([]map[string]any, error) {
	start := time.Now()
	queryCtx, cancel := context.WithTimeout(ctx, e.opts.QueryTimeout)
	defer cancel()

	rows, err := e.db.Query(queryCtx, sql, args...)
	if err != nil {
		return nil, wrapPgError(err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = fd.Name
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		if len(out) >= e.opts.MaxRows {
			e.logger.Warn("Query result exceeds row limit, truncated", zap.Int("max_rows", e.opts.MaxRows))
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("读取查询结果失败: %w", err)
		}
		row := make(map[string]any, len(values))
		for i, v := range values {
			row[columns[i]] = convertValue(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPgError(err)
	}

	e.logger.Debug("Query executed",
		zap.Int("rows", len(out)),
		zap.Int("args", len(args)),
		zap.Duration("duration", time.Since(start)))
	return out, nil
}

// wrapPgError 附带PostgreSQL错误码，保留原始错误以便errors.As
func wrapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("数据库错误 [%s]: %w", pgErr.Code, err)
	}
	return fmt.Errorf("查询执行失败: %w", err)
}
