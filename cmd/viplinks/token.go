package main

import (
	"fmt"
	"time"

	"viplinks/internal/handler"

	"github.com/spf13/cobra"
)

// tokenCmd 给卖家签发 API 令牌，运维使用
func tokenCmd() *cobra.Command {
	var (
		sellerID string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "签发卖家 API 令牌",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			token, err := handler.GenerateSellerToken(cfg.Auth.JWTSecret, sellerID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&sellerID, "seller", "", "卖家 ID")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "有效期")
	_ = cmd.MarkFlagRequired("seller")

	return cmd
}
