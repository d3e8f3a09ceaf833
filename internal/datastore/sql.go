package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLExecutor 基于database/sql的执行器，占位符使用?
type SQLExecutor struct {
	db      *sql.DB
	dialect string
	opts    Options
	logger  *zap.Logger
}

// NewSQLExecutor 包装已打开的连接
func NewSQLExecutor(db *sql.DB, dialect string, opts Options, logger *zap.Logger) *SQLExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dialect == "" {
		dialect = DialectSQLite
	}
	return &SQLExecutor{db: db, dialect: dialect, opts: opts.withDefaults(), logger: logger}
}

// OpenSQLite 打开SQLite数据库，dsn可以是文件路径或file::memory:
func OpenSQLite(dsn string, opts Options, logger *zap.Logger) (*SQLExecutor, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开SQLite失败: %w", err)
	}
	// 内存库每个连接是独立的数据库
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接SQLite失败: %w", err)
	}
	return NewSQLExecutor(db, DialectSQLite, opts, logger), nil
}

// DB 底层连接
func (e *SQLExecutor) DB() *sql.DB {
	return e.db
}

// Dialect 实现Executor
func (e *SQLExecutor) Dialect() string {
	return e.dialect
}

// HealthCheck Ping底层连接
func (e *SQLExecutor) HealthCheck(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("数据源健康检查失败: %w", err)
	}
	return nil
}

// Close 关闭连接
func (e *SQLExecutor) Close() error {
	return e.db.Close()
}

// Query 带超时执行查询
func (e *SQLExecutor) Query(ctx context.Context, query string, args []any) ([]map[string]any, error) {
	start := time.Now()
	queryCtx, cancel := context.WithTimeout(ctx, e.opts.QueryTimeout)
	defer cancel()

	rows, err := e.db.QueryContext(queryCtx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询执行失败: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("读取列信息失败: %w", err)
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		if len(out) >= e.opts.MaxRows {
			e.logger.Warn("Query result exceeds row limit, truncated", zap.Int("max_rows", e.opts.MaxRows))
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("读取查询结果失败: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("读取查询结果时发生错误: %w", err)
	}

	e.logger.Debug("Query executed",
		zap.String("dialect", e.dialect),
		zap.Int("rows", len(out)),
		zap.Duration("duration", time.Since(start)))
	return out, nil
}
