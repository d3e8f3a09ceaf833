package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"rulequery-go/internal/database"
	"rulequery-go/internal/lexicon"
	"rulequery-go/internal/repository/postgres"
	"rulequery-go/internal/rules"
)

func newRulesCmd(c *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "规则目录维护",
	}
	cmd.AddCommand(newRulesValidateCmd(c), newRulesImportCmd(c))
	return cmd
}

func newRulesValidateCmd(c *cliContext) *cobra.Command {
	var lexiconPath string
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "校验规则文件，不修改任何数据",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := c.load(zapcore.WarnLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			path := cfg.Rules.Path
			if len(args) == 1 {
				path = args[0]
			}
			batch, err := loadCatalog(cmd, path, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printCatalog(out, batch)
			fmt.Fprintf(out, "\n%s: %d条规则校验通过\n", path, len(batch))

			if !cmd.Flags().Changed("lexicon") {
				lexiconPath = cfg.Rules.LexiconPath
			}
			if lexiconPath == "" {
				return nil
			}
			if _, err := os.Stat(lexiconPath); errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("lexicon") {
				return nil
			}
			lex, err := lexicon.LoadFile(lexiconPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %d个类别，%d个词条\n", lexiconPath, len(lex.Categories()), lex.Size())
			return nil
		},
	}
	cmd.Flags().StringVar(&lexiconPath, "lexicon", "", "同时校验的词典文件，默认rules.lexicon_path")
	return cmd
}

func newRulesImportCmd(c *cliContext) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "import [path]",
		Short: "把规则文件导入PostgreSQL规则库",
		Long:  "整批校验后写入，已存在的规则先记录修订再覆盖。执行前会自动建表。",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := c.load(zapcore.InfoLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			path := cfg.Rules.Path
			if len(args) == 1 {
				path = args[0]
			}
			batch, err := loadCatalog(cmd, path, logger)
			if err != nil {
				return err
			}

			db, err := database.NewManager(cmd.Context(), cfg.Database, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			repo := postgres.NewPostgreSQLRuleRepository(db.Pool(), logger)
			if err := repo.Migrate(cmd.Context()); err != nil {
				return err
			}
			n, err := repo.Import(cmd.Context(), batch, by)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "导入%d条规则\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "cli", "写入修订记录的操作人")
	return cmd
}

// loadCatalog 读取并整批校验规则文件
func loadCatalog(cmd *cobra.Command, path string, logger *zap.Logger) ([]*rules.Rule, error) {
	batch, err := rules.NewFileSource(path).LoadRules(cmd.Context())
	if err != nil {
		return nil, err
	}
	if err := rules.NewValidator(rules.NewTemplateGuard(logger)).ValidateAll(batch); err != nil {
		var verr *rules.ValidationError
		if errors.As(err, &verr) {
			for _, p := range verr.Problems {
				fmt.Fprintf(cmd.ErrOrStderr(), "  规则%d %s: %s\n", p.RuleID, p.IntentName, p.Message)
			}
		}
		return nil, err
	}
	return batch, nil
}

func printCatalog(w io.Writer, batch []*rules.Rule) {
	sorted := make([]*rules.Rule, len(batch))
	copy(sorted, batch)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tINTENT\tSCENARIO\tMODE\tPRIORITY\tSTATUS\tPARAMS")
	for _, r := range sorted {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%d\n",
			r.ID, r.IntentName, r.Scenario, r.ResultMode, r.Priority, r.Status, len(r.ParameterSchema))
	}
	tw.Flush()
}
