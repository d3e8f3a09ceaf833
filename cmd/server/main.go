package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"rulequery-go/internal/config"
)

// globalFlags 所有子命令共享的参数
type globalFlags struct {
	configPath string
	envFiles   []string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	v := viper.New()

	root := &cobra.Command{
		Use:           "rulequery",
		Short:         "基于规则的自然语言查询解析服务",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := config.LoadEnv(flags.envFiles...); err != nil {
				return err
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "配置文件路径（yaml/json/toml）")
	pf.StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, ".env文件，不存在时忽略")
	pf.StringVar(&flags.logLevel, "log-level", "", "日志级别 debug|info|warn|error")
	pf.String("rules", "", "规则文件路径，覆盖rules.path")
	pf.String("datastore", "", "数据执行器 postgres|sqlite|none，覆盖datastore")
	cobra.CheckErr(v.BindPFlag("rules.path", pf.Lookup("rules")))
	cobra.CheckErr(v.BindPFlag("datastore", pf.Lookup("datastore")))

	loader := &cliContext{flags: flags, viper: v}
	root.AddCommand(
		newServeCmd(loader),
		newResolveCmd(loader),
		newRulesCmd(loader),
		newMigrateCmd(loader),
		newTokenCmd(loader),
	)
	return root
}

// cliContext 延迟加载配置和日志，子命令在RunE中调用
type cliContext struct {
	flags *globalFlags
	viper *viper.Viper
}

func (c *cliContext) load(defaultLevel zapcore.Level) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadWith(c.viper, c.flags.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(c.flags.logLevel, defaultLevel, cfg.App.IsProduction())
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newLogger 生产环境输出JSON，其余输出便于阅读的console格式，都写到stderr
func newLogger(level string, fallback zapcore.Level, production bool) (*zap.Logger, error) {
	lvl := fallback
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return nil, fmt.Errorf("无效的日志级别%q: %w", level, err)
		}
	}

	zc := zap.NewDevelopmentConfig()
	if production {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
