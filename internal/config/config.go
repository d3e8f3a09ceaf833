package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 RULEQUERY_DATABASE_HOST
const EnvPrefix = "RULEQUERY"

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	Mode            string        `json:"mode" mapstructure:"mode"` // debug | release | test
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	RateLimitRPS    int           `json:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `json:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	CORSOrigins     []string      `json:"cors_origins" mapstructure:"cors_origins"`
}

// Addr 监听地址
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig 管理接口鉴权
type AuthConfig struct {
	JWTSecret string `json:"-" mapstructure:"jwt_secret"`
	Issuer    string `json:"issuer" mapstructure:"issuer"`
	AdminRole string `json:"admin_role" mapstructure:"admin_role"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Path      string `json:"path" mapstructure:"path"`
	Namespace string `json:"namespace" mapstructure:"namespace"`
}

// Config 应用总配置
type Config struct {
	App      *AppInfo        `json:"app" mapstructure:"app"`
	Server   *ServerConfig   `json:"server" mapstructure:"server"`
	Database *DatabaseConfig `json:"database" mapstructure:"database"`
	Redis    *RedisConfig    `json:"redis" mapstructure:"redis"`
	Engine   *EngineConfig   `json:"engine" mapstructure:"engine"`
	Rules    *RulesConfig    `json:"rules" mapstructure:"rules"`
	Auth     *AuthConfig     `json:"auth" mapstructure:"auth"`
	Metrics  *MetricsConfig  `json:"metrics" mapstructure:"metrics"`
	// Datastore 业务数据执行器: postgres | sqlite | none
	Datastore string `json:"datastore" mapstructure:"datastore"`
	// DatastoreDSN 仅sqlite执行器使用
	DatastoreDSN string `json:"datastore_dsn" mapstructure:"datastore_dsn"`
}

// Default 返回全部默认配置
func Default() *Config {
	return &Config{
		App: DefaultAppInfo(),
		Server: &ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Mode:            "release",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitRPS:    100,
			RateLimitBurst:  200,
			CORSOrigins:     []string{"*"},
		},
		Database: DefaultDatabaseConfig(),
		Redis:    DefaultRedisConfig(),
		Engine:   DefaultEngineConfig(),
		Rules:    DefaultRulesConfig(),
		Auth: &AuthConfig{
			Issuer:    "rulequery",
			AdminRole: "admin",
		},
		Metrics: &MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "rulequery",
		},
		Datastore: "postgres",
	}
}

// Load 按 默认值 < 配置文件 < 环境变量 的顺序加载配置
// path为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith 使用调用方提供的viper实例，命令行参数可以提前BindPFlag到该实例
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	cfg := Default()
	registerDefaults(v, cfg)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件%s失败: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// registerDefaults 注册所有键，AutomaticEnv只对已知的键生效
func registerDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("app.name", cfg.App.Name)
	v.SetDefault("app.version", cfg.App.Version)
	v.SetDefault("app.environment", cfg.App.Environment)

	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.mode", cfg.Server.Mode)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("server.rate_limit_rps", cfg.Server.RateLimitRPS)
	v.SetDefault("server.rate_limit_burst", cfg.Server.RateLimitBurst)
	v.SetDefault("server.cors_origins", cfg.Server.CORSOrigins)

	v.SetDefault("database.host", cfg.Database.Host)
	v.SetDefault("database.port", cfg.Database.Port)
	v.SetDefault("database.user", cfg.Database.User)
	v.SetDefault("database.password", cfg.Database.Password)
	v.SetDefault("database.database", cfg.Database.Database)
	v.SetDefault("database.ssl_mode", cfg.Database.SSLMode)
	v.SetDefault("database.max_conns", cfg.Database.MaxConns)
	v.SetDefault("database.min_conns", cfg.Database.MinConns)
	v.SetDefault("database.query_timeout", cfg.Database.QueryTimeout)
	v.SetDefault("database.max_rows", cfg.Database.MaxRows)
	v.SetDefault("database.log_level", cfg.Database.LogLevel)

	v.SetDefault("redis.enabled", cfg.Redis.Enabled)
	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.reload_channel", cfg.Redis.ReloadChannel)

	v.SetDefault("engine.trigger_weight", cfg.Engine.TriggerWeight)
	v.SetDefault("engine.synonym_weight", cfg.Engine.SynonymWeight)
	v.SetDefault("engine.exact_match_bonus", cfg.Engine.ExactMatchBonus)
	v.SetDefault("engine.min_score", cfg.Engine.MinScore)
	v.SetDefault("engine.suggestion_limit", cfg.Engine.SuggestionLimit)
	v.SetDefault("engine.execution_timeout", cfg.Engine.ExecutionTimeout)

	v.SetDefault("rules.source", cfg.Rules.Source)
	v.SetDefault("rules.path", cfg.Rules.Path)
	v.SetDefault("rules.lexicon_path", cfg.Rules.LexiconPath)
	v.SetDefault("rules.watch", cfg.Rules.Watch)
	v.SetDefault("rules.watch_debounce", cfg.Rules.WatchDebounce)

	v.SetDefault("auth.jwt_secret", cfg.Auth.JWTSecret)
	v.SetDefault("auth.issuer", cfg.Auth.Issuer)
	v.SetDefault("auth.admin_role", cfg.Auth.AdminRole)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
	v.SetDefault("metrics.namespace", cfg.Metrics.Namespace)

	v.SetDefault("datastore", cfg.Datastore)
	v.SetDefault("datastore_dsn", cfg.DatastoreDSN)
}

// Validate 校验各子配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("服务端口必须在1-65535范围内")
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("无效的服务模式: %s", c.Server.Mode)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("匹配引擎配置无效: %w", err)
	}
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("规则来源配置无效: %w", err)
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("Redis配置无效: %w", err)
	}
	switch c.Datastore {
	case "postgres":
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("数据库配置无效: %w", err)
		}
	case "sqlite":
		if c.DatastoreDSN == "" {
			return fmt.Errorf("sqlite执行器需要datastore_dsn")
		}
	case "none":
	default:
		return fmt.Errorf("不支持的数据执行器: %s", c.Datastore)
	}
	if c.Rules.Source == "postgres" && c.Datastore != "postgres" {
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("数据库配置无效: %w", err)
		}
	}
	return nil
}
