package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"
)

// DatabaseConfig PostgreSQL连接配置
// 同一份配置同时服务于规则存储和业务数据查询
type DatabaseConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	User     string `json:"user" mapstructure:"user"`
	Password string `json:"-" mapstructure:"password"` // 不输出到JSON
	Database string `json:"database" mapstructure:"database"`

	SSLMode     string `json:"ssl_mode" mapstructure:"ssl_mode"` // disable, require, verify-ca, verify-full
	SSLCert     string `json:"ssl_cert,omitempty" mapstructure:"ssl_cert"`
	SSLKey      string `json:"ssl_key,omitempty" mapstructure:"ssl_key"`
	SSLRootCert string `json:"ssl_root_cert,omitempty" mapstructure:"ssl_root_cert"`

	// 连接池
	MaxConns          int32         `json:"max_conns" mapstructure:"max_conns"`
	MinConns          int32         `json:"min_conns" mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `json:"max_conn_lifetime" mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `json:"max_conn_idle_time" mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `json:"health_check_period" mapstructure:"health_check_period"`

	ConnectTimeout time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	QueryTimeout   time.Duration `json:"query_timeout" mapstructure:"query_timeout"` // 单次业务查询的上限
	MaxRows        int           `json:"max_rows" mapstructure:"max_rows"`           // 执行器读取的最大行数

	LogLevel string `json:"log_level" mapstructure:"log_level"` // trace, debug, info, warn, error, none

	ApplicationName string `json:"application_name" mapstructure:"application_name"`
	SearchPath      string `json:"search_path" mapstructure:"search_path"`
}

var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// GetConnectionString 构建pgx格式的连接字符串
func (c *DatabaseConfig) GetConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s application_name=%s search_path=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode, c.ApplicationName, c.SearchPath,
	)

	if c.SSLCert != "" {
		connStr += fmt.Sprintf(" sslcert=%s", c.SSLCert)
	}
	if c.SSLKey != "" {
		connStr += fmt.Sprintf(" sslkey=%s", c.SSLKey)
	}
	if c.SSLRootCert != "" {
		connStr += fmt.Sprintf(" sslrootcert=%s", c.SSLRootCert)
	}

	connStr += fmt.Sprintf(" connect_timeout=%d", int(c.ConnectTimeout.Seconds()))
	return connStr
}

// Validate 验证数据库配置
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("数据库主机地址不能为空")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("数据库端口必须在1-65535范围内")
	}
	if c.User == "" {
		return fmt.Errorf("数据库用户名不能为空")
	}
	if c.Database == "" {
		return fmt.Errorf("数据库名称不能为空")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("最大连接数必须大于0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("最小连接数不能小于0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("最小连接数不能大于最大连接数")
	}
	if c.QueryTimeout < 0 {
		return fmt.Errorf("查询超时不能为负数")
	}
	if !slices.Contains(validSSLModes, c.SSLMode) {
		return fmt.Errorf("无效的SSL模式: %s", c.SSLMode)
	}
	return nil
}

// GetPoolConfig 获取pgxpool连接池配置，查询日志通过tracelog写入zap
func (c *DatabaseConfig) GetPoolConfig(logger *zap.Logger) (*pgxpool.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("数据库配置验证失败: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(c.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("解析数据库连接字符串失败: %w", err)
	}

	poolConfig.MaxConns = c.MaxConns
	poolConfig.MinConns = c.MinConns
	poolConfig.MaxConnLifetime = c.MaxConnLifetime
	poolConfig.MaxConnIdleTime = c.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = c.HealthCheckPeriod

	pgxLogger := NewPgxZapLogger(logger, c.LogLevel)
	if pgxLogger.GetLogLevel() != tracelog.LogLevelNone {
		poolConfig.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   pgxLogger,
			LogLevel: pgxLogger.GetLogLevel(),
		}
	}

	return poolConfig, nil
}

// DefaultDatabaseConfig 开发环境默认值
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Database: "rulequery",
		SSLMode:  "prefer",

		MaxConns:          20,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: 5 * time.Minute,

		ConnectTimeout: 10 * time.Second,
		QueryTimeout:   15 * time.Second,
		MaxRows:        5000,

		LogLevel: "warn",

		ApplicationName: "rulequery",
		SearchPath:      "public",
	}
}

// ProductionDatabaseConfig 生产环境配置
func ProductionDatabaseConfig() *DatabaseConfig {
	cfg := DefaultDatabaseConfig()
	cfg.MaxConns = 100
	cfg.MinConns = 10
	cfg.MaxConnLifetime = 2 * time.Hour
	cfg.HealthCheckPeriod = 2 * time.Minute
	cfg.LogLevel = "error"
	cfg.QueryTimeout = 10 * time.Second
	return cfg
}
