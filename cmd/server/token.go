package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"rulequery-go/internal/auth"
)

func newTokenCmd(c *cliContext) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "签发规则管理接口使用的令牌",
		Long:  "使用auth.jwt_secret签发HS256令牌，--ttl 0 表示不过期。",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := c.load(zapcore.WarnLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			svc, err := auth.NewJWTService(cfg.Auth, logger)
			if err != nil {
				return err
			}
			if role == "" {
				role = svc.AdminRole()
			}
			token, err := svc.IssueToken(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "令牌主体，写入修订记录的操作人")
	cmd.Flags().StringVar(&role, "role", "", "角色，默认auth.admin_role")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "有效期")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
