package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

func newResolveCmd(c *cliContext) *cobra.Command {
	var execute bool
	cmd := &cobra.Command{
		Use:   "resolve <query>",
		Short: "解析一条查询并输出结果",
		Long: `解析一条自然语言查询，输出命中的规则和绑定后的SQL。
默认只生成查询不访问数据源，加--execute后按datastore配置执行并整理结果。`,
		Example: `  rulequery resolve "BOE的库存" --datastore none
  rulequery resolve "本月的发货单" --execute --datastore sqlite`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := c.load(zapcore.WarnLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := newApp(cmd.Context(), cfg, logger, appOptions{execute: execute})
			if err != nil {
				return err
			}
			defer a.Close()

			query := strings.Join(args, " ")
			if execute && !a.resolver.CanExecute() {
				return fmt.Errorf("datastore为none时不能执行查询")
			}
			resolve := a.resolver.Plan
			if execute {
				resolve = a.resolver.Resolve
			}
			resp, err := resolve(cmd.Context(), query)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().BoolVar(&execute, "execute", false, "访问数据源执行查询")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
