package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"rulequery-go/internal/database"
	"rulequery-go/internal/repository/postgres"
)

func newMigrateCmd(c *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "在PostgreSQL中创建规则表和修订表",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := c.load(zapcore.InfoLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := database.NewManager(cmd.Context(), cfg.Database, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			repo := postgres.NewPostgreSQLRuleRepository(db.Pool(), logger)
			if err := repo.Migrate(cmd.Context()); err != nil {
				return err
			}
			count, err := repo.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "迁移完成，当前规则数: %d\n", count)
			return nil
		},
	}
}
