// Package database 管理PostgreSQL连接池，供规则存储和查询执行共用
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"rulequery-go/internal/config"
)

// ErrPoolNotInitialized 连接池未创建
var ErrPoolNotInitialized = errors.New("数据库连接池未初始化")

// Manager PostgreSQL连接池管理器
type Manager struct {
	pool   *pgxpool.Pool
	config *config.DatabaseConfig
	logger *zap.Logger
}

// NewManager 创建连接池并做一次健康检查，失败时关闭连接池
func NewManager(ctx context.Context, dbConfig *config.DatabaseConfig, logger *zap.Logger) (*Manager, error) {
	if dbConfig == nil {
		return nil, fmt.Errorf("数据库配置不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("Initializing database pool",
		zap.String("host", dbConfig.Host),
		zap.Int("port", dbConfig.Port),
		zap.String("database", dbConfig.Database),
		zap.Int32("max_conns", dbConfig.MaxConns),
		zap.Int32("min_conns", dbConfig.MinConns))

	poolConfig, err := dbConfig.GetPoolConfig(logger)
	if err != nil {
		return nil, fmt.Errorf("获取连接池配置失败: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("创建数据库连接池失败: %w", err)
	}

	m := NewManagerWithPool(pool, dbConfig, logger)
	if err := m.HealthCheck(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("Database pool ready",
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Int32("min_conns", poolConfig.MinConns))
	return m, nil
}

// NewManagerWithPool 包装已有连接池，测试容器场景使用
func NewManagerWithPool(pool *pgxpool.Pool, dbConfig *config.DatabaseConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dbConfig == nil {
		dbConfig = config.DefaultDatabaseConfig()
	}
	return &Manager{pool: pool, config: dbConfig, logger: logger}
}

// Pool 底层连接池
func (m *Manager) Pool() *pgxpool.Pool {
	return m.pool
}

// HealthCheck 执行SELECT 1并记录连接池状态
func (m *Manager) HealthCheck(ctx context.Context) error {
	if m.pool == nil {
		return ErrPoolNotInitialized
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := m.pool.QueryRow(checkCtx, "SELECT 1").Scan(&result); err != nil {
		m.logger.Warn("Database health check failed", zap.Error(err))
		return fmt.Errorf("数据库健康检查失败: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("数据库健康检查返回值异常: %d", result)
	}

	stat := m.pool.Stat()
	m.logger.Debug("Database pool stats",
		zap.Int32("total_conns", stat.TotalConns()),
		zap.Int32("idle_conns", stat.IdleConns()),
		zap.Int32("acquired_conns", stat.AcquiredConns()),
		zap.Duration("acquire_duration", stat.AcquireDuration()))
	return nil
}

// Stats 连接池统计，连接池未创建时返回nil
func (m *Manager) Stats() *PoolStats {
	if m.pool == nil {
		return nil
	}
	stat := m.pool.Stat()
	return &PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		AcquireCount:  stat.AcquireCount(),
		MaxConns:      m.config.MaxConns,
	}
}

// Close 关闭连接池
func (m *Manager) Close() {
	if m.pool == nil {
		return
	}
	m.pool.Close()
	m.logger.Info("Database pool closed")
}

// PoolStats 连接池统计
type PoolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	AcquireCount  int64 `json:"acquire_count"`
	MaxConns      int32 `json:"max_conns"`
}

// Utilization 已获取连接占最大连接数的比例
func (ps *PoolStats) Utilization() float64 {
	if ps.MaxConns <= 0 {
		return 0
	}
	return float64(ps.AcquiredConns) / float64(ps.MaxConns)
}

// Healthy 利用率超过90%或连接耗尽时视为不健康
func (ps *PoolStats) Healthy() bool {
	if ps.Utilization() > 0.9 {
		return false
	}
	return !(ps.IdleConns == 0 && ps.MaxConns > 0 && ps.TotalConns >= ps.MaxConns)
}

func (ps *PoolStats) String() string {
	return fmt.Sprintf("total=%d idle=%d acquired=%d utilization=%.1f%%",
		ps.TotalConns, ps.IdleConns, ps.AcquiredConns, ps.Utilization()*100)
}
