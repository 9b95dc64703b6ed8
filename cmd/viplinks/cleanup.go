package main

import (
	"context"
	"fmt"

	"viplinks/internal/job"

	"github.com/spf13/cobra"
)

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "删除超过保留期的已完成发货记录",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			deleted, err := job.NewCleanupJob(a.db, cfg.Delivery.Retention).RunOnce(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已删除 %d 条发货记录\n", deleted)
			return nil
		},
	}
}
