package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"rulequery-go/internal/auth"
	"rulequery-go/internal/config"
	"rulequery-go/internal/handler"
	"rulequery-go/internal/middleware"
	"rulequery-go/internal/rules"
	"rulequery-go/internal/service"
)

func newServeCmd(c *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动HTTP服务",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := c.load(zapcore.InfoLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, logger)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting rulequery server",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
		zap.String("rules_source", cfg.Rules.Source),
		zap.String("datastore", cfg.Datastore))

	a, err := newApp(ctx, cfg, logger, appOptions{execute: true, redis: true, metrics: true})
	if err != nil {
		return err
	}
	defer a.Close()

	var authMW *middleware.AuthMiddleware
	jwtService, err := auth.NewJWTService(cfg.Auth, logger)
	switch {
	case err == nil:
		authMW = middleware.NewAuthMiddleware(jwtService, logger)
	case errors.Is(err, auth.ErrMissingSecret):
		logger.Warn("JWT secret not configured, rule admin endpoints disabled")
	default:
		return err
	}

	var publisher handler.Publisher
	if a.notifier != nil {
		publisher = a.notifier
	}

	gin.SetMode(cfg.Server.Mode)
	routerCfg := &handler.RouterConfig{
		QueryHandler:   handler.NewQueryHandler(a.resolver, logger),
		RuleHandler:    handler.NewRuleHandler(a.ruleSet, a.store, publisher, logger),
		HealthHandler:  handler.NewHealthHandler(service.NewHealthService(a.ruleSet, a.health, a.redisClient(), cfg.App, logger)),
		AuthMiddleware: authMW,
		AdminRole:      cfg.Auth.AdminRole,
		Middleware:     middleware.MiddlewareConfigFromServer(cfg.Server, logger),
	}
	if a.metrics != nil {
		routerCfg.Metrics = a.metrics
		routerCfg.MetricsPath = cfg.Metrics.Path
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler.NewRouter(routerCfg),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr), zap.String("mode", gin.Mode()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
			return err
		}
		logger.Info("Server gracefully stopped")
		return nil
	})

	if cfg.Rules.Watch {
		watcher, err := newCatalogWatcher(a)
		if err != nil {
			return err
		}
		if watcher != nil {
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}

	if a.notifier != nil {
		g.Go(func() error {
			err := a.notifier.Listen(gctx, func(ctx context.Context, msg rules.ReloadMessage) {
				if _, err := a.ruleSet.Reload(ctx); err != nil {
					logger.Error("Peer-triggered reload failed", zap.String("reason", msg.Reason), zap.Error(err))
				}
			})
			if err != nil {
				// 广播只是加速同步，订阅失败不影响服务
				logger.Error("Rule reload subscription stopped", zap.Error(err))
			}
			return nil
		})
	}

	return g.Wait()
}

// newCatalogWatcher 监听规则文件和词典文件；规则来自数据库时只监听词典
func newCatalogWatcher(a *app) (*rules.Watcher, error) {
	var paths []string
	rulesPath, lexPath := "", ""
	if a.cfg.Rules.Source == "file" {
		rulesPath, _ = filepath.Abs(a.cfg.Rules.Path)
		paths = append(paths, a.cfg.Rules.Path)
	}
	if a.cfg.Rules.LexiconPath != "" {
		if _, err := os.Stat(a.cfg.Rules.LexiconPath); err == nil {
			lexPath, _ = filepath.Abs(a.cfg.Rules.LexiconPath)
			paths = append(paths, a.cfg.Rules.LexiconPath)
		}
	}
	if len(paths) == 0 {
		return nil, nil
	}

	onChange := func(ctx context.Context, path string) {
		switch path {
		case rulesPath:
			if _, err := a.ruleSet.Reload(ctx); err == nil && a.notifier != nil {
				if err := a.notifier.Publish(ctx, "file_change", 0); err != nil {
					a.logger.Warn("Rule change broadcast failed", zap.Error(err))
				}
			}
		case lexPath:
			_ = a.lexicon.ReloadFile(path)
		}
	}
	return rules.NewWatcher(paths, a.cfg.Rules.WatchDebounce, onChange, a.logger)
}
