package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"viplinks/internal/delivery"

	"github.com/spf13/cobra"
)

// dispatchCmd 执行一次分发周期后退出，给外部 cron 调用
func dispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "执行一次发货分发周期",
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

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			summary, err := a.dispatcher.RunCycle(ctx)
			if delivery.IsCycleInProgress(err) {
				fmt.Fprintln(cmd.ErrOrStderr(), "另一个分发周期正在运行，本次跳过")
				return nil
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}
