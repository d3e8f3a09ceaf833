package config

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig Redis配置，用于多实例之间广播规则重载
type RedisConfig struct {
	Enabled       bool          `json:"enabled" mapstructure:"enabled"`
	Addr          string        `json:"addr" mapstructure:"addr"`
	Password      string        `json:"-" mapstructure:"password"`
	DB            int           `json:"db" mapstructure:"db"`
	MaxRetries    int           `json:"max_retries" mapstructure:"max_retries"`
	DialTimeout   time.Duration `json:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout   time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	PoolSize      int           `json:"pool_size" mapstructure:"pool_size"`
	PoolTimeout   time.Duration `json:"pool_timeout" mapstructure:"pool_timeout"`
	TLSEnabled    bool          `json:"tls_enabled" mapstructure:"tls_enabled"`
	TLSSkipVerify bool          `json:"tls_skip_verify" mapstructure:"tls_skip_verify"`
	ClusterMode   bool          `json:"cluster_mode" mapstructure:"cluster_mode"`
	ClusterAddrs  []string      `json:"cluster_addrs" mapstructure:"cluster_addrs"`
	ReloadChannel string        `json:"reload_channel" mapstructure:"reload_channel"`
}

// DefaultRedisConfig 默认Redis配置，默认不启用
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Enabled:       false,
		Addr:          "localhost:6379",
		MaxRetries:    3,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		PoolSize:      10,
		PoolTimeout:   4 * time.Second,
		ClusterAddrs:  []string{},
		ReloadChannel: "rulequery:rules:reload",
	}
}

// Validate 验证Redis配置
func (c *RedisConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Addr == "" && len(c.ClusterAddrs) == 0 {
		return fmt.Errorf("Redis地址不能为空")
	}
	if c.ReloadChannel == "" {
		return fmt.Errorf("规则重载频道不能为空")
	}
	return nil
}

// Options 转换为go-redis通用客户端选项
func (c *RedisConfig) Options() *redis.UniversalOptions {
	opts := &redis.UniversalOptions{
		Addrs:        []string{c.Addr},
		Password:     c.Password,
		DB:           c.DB,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		PoolSize:     c.PoolSize,
		PoolTimeout:  c.PoolTimeout,
	}
	if c.ClusterMode && len(c.ClusterAddrs) > 0 {
		opts.Addrs = c.ClusterAddrs
	}
	if c.TLSEnabled {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: c.TLSSkipVerify}
	}
	return opts
}

// RedisManager Redis客户端管理器
type RedisManager struct {
	client redis.UniversalClient
	config *RedisConfig
	logger *zap.Logger
}

// NewRedisManager 创建Redis管理器并做一次连通性检查
func NewRedisManager(ctx context.Context, cfg *RedisConfig, logger *zap.Logger) (*RedisManager, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := cfg.Options()
	client := redis.NewUniversalClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}

	logger.Info("Redis connected successfully",
		zap.Strings("addrs", opts.Addrs),
		zap.Int("db", cfg.DB),
		zap.Bool("cluster_mode", cfg.ClusterMode))

	return NewRedisManagerWithClient(client, cfg, logger), nil
}

// NewRedisManagerWithClient 包装已有客户端
func NewRedisManagerWithClient(client redis.UniversalClient, cfg *RedisConfig, logger *zap.Logger) *RedisManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	return &RedisManager{client: client, config: cfg, logger: logger}
}

// GetClient 获取Redis客户端
func (rm *RedisManager) GetClient() redis.UniversalClient {
	return rm.client
}

// Close 关闭连接
func (rm *RedisManager) Close() error {
	if rm.client != nil {
		return rm.client.Close()
	}
	return nil
}

// HealthCheck 健康检查
func (rm *RedisManager) HealthCheck(ctx context.Context) error {
	return rm.client.Ping(ctx).Err()
}
