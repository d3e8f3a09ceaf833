package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"rulequery-go/internal/config"
	"rulequery-go/internal/database"
	"rulequery-go/internal/datastore"
	"rulequery-go/internal/engine"
	"rulequery-go/internal/lexicon"
	"rulequery-go/internal/metrics"
	"rulequery-go/internal/repository"
	"rulequery-go/internal/repository/postgres"
	"rulequery-go/internal/rules"
	"rulequery-go/internal/service"
	"rulequery-go/internal/shaper"
)

// appOptions 不同子命令需要的组件不同
type appOptions struct {
	execute bool // 构建数据执行器
	redis   bool // 连接Redis用于广播
	metrics bool
}

// app 进程内共享的组件
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db       *database.Manager         // 仅在需要PostgreSQL时非nil
	store    repository.RuleRepository // 规则来源为postgres时非nil
	ruleSet  *rules.Repository
	lexicon  *lexicon.Store
	executor datastore.Executor
	health   service.HealthChecker
	redis    *config.RedisManager
	notifier *rules.ReloadNotifier
	metrics  *metrics.PrometheusMetrics
	resolver *service.ResolveService

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if opts.metrics && cfg.Metrics.Enabled {
		mc := metrics.DefaultMetricsConfig()
		mc.Namespace = cfg.Metrics.Namespace
		mc.ServiceVersion = cfg.App.Version
		a.metrics = metrics.NewPrometheusMetrics(mc, logger)
	}

	needDB := cfg.Rules.Source == "postgres" || (opts.execute && cfg.Datastore == "postgres")
	if needDB {
		a.db, err = database.NewManager(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.db.Close)
		if a.metrics != nil {
			if err := a.metrics.RegisterPoolStats(a.db.Stats); err != nil {
				return nil, fmt.Errorf("注册连接池指标失败: %w", err)
			}
		}
	}

	source, err := a.ruleSource()
	if err != nil {
		return nil, err
	}
	a.ruleSet = rules.NewRepository(source, logger)
	if a.metrics != nil {
		a.ruleSet.OnReload(a.metrics.ObserveReload)
	}
	if _, err := a.ruleSet.Reload(ctx); err != nil {
		return nil, err
	}

	a.lexicon, err = loadLexicon(cfg.Rules.LexiconPath, logger)
	if err != nil {
		return nil, err
	}

	if opts.execute {
		if err := a.openExecutor(); err != nil {
			return nil, err
		}
	}

	if opts.redis && cfg.Redis.Enabled {
		a.redis, err = config.NewRedisManager(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = a.redis.Close() })
		a.notifier = rules.NewReloadNotifier(a.redis.GetClient(), cfg.Redis.ReloadChannel, logger)
	}

	matcher := engine.NewMatcher(a.ruleSet, a.lexicon, cfg.Engine, logger)
	resolveOpts := []service.ResolveOption{}
	if a.metrics != nil {
		resolveOpts = append(resolveOpts, service.WithRecorder(a.metrics))
	}
	a.resolver = service.NewResolveService(matcher, shaper.New(logger), a.executor, cfg.Engine, logger, resolveOpts...)
	return a, nil
}

func (a *app) ruleSource() (rules.Source, error) {
	switch a.cfg.Rules.Source {
	case "postgres":
		repo := postgres.NewPostgreSQLRuleRepository(a.db.Pool(), a.logger)
		a.store = repo
		return repo, nil
	case "file":
		return rules.NewFileSource(a.cfg.Rules.Path), nil
	default:
		return nil, fmt.Errorf("不支持的规则来源: %s", a.cfg.Rules.Source)
	}
}

func (a *app) openExecutor() error {
	opts := datastore.Options{QueryTimeout: a.cfg.Engine.ExecutionTimeout}
	switch a.cfg.Datastore {
	case "postgres":
		a.executor = datastore.NewPgxExecutor(a.db.Pool(), opts, a.logger)
		a.health = a.db
	case "sqlite":
		exec, err := datastore.OpenSQLite(a.cfg.DatastoreDSN, opts, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = exec.Close() })
		a.executor = exec
		a.health = exec
	case "none":
	}
	return nil
}

func (a *app) redisClient() redis.UniversalClient {
	if a.redis == nil {
		return nil
	}
	return a.redis.GetClient()
}

// Close 按创建的逆序释放资源
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// loadLexicon 文件不存在时退回内置词典
func loadLexicon(path string, logger *zap.Logger) (*lexicon.Store, error) {
	if path == "" {
		return lexicon.NewStore(nil, logger), nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Lexicon file not found, using built-in lexicon", zap.String("path", path))
		return lexicon.NewStore(nil, logger), nil
	}
	lex, err := lexicon.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return lexicon.NewStore(lex, logger), nil
}
