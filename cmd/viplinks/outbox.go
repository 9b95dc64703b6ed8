package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"viplinks/internal/repository"

	"github.com/spf13/cobra"
)

// outboxCmd 查看和重新投递超过重试上限的发货事件
func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "发货事件消息表运维",
	}
	cmd.AddCommand(outboxFailedCmd())
	cmd.AddCommand(outboxRequeueCmd())
	return cmd
}

func outboxFailedCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "failed",
		Short: "列出投递失败的事件",
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

			messages, err := repository.NewOutboxRepository(a.db).ListFailed(context.Background(), limit)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(messages)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "最多列出的条数")
	return cmd
}

func outboxRequeueCmd() *cobra.Command {
	var all bool
	var limit int

	cmd := &cobra.Command{
		Use:   "requeue [id...]",
		Short: "把投递失败的事件放回队列",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return errors.New("需要指定事件 ID 或 --all")
			}

			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("事件 ID 格式错误: %s", arg)
				}
				ids = append(ids, id)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			repo := repository.NewOutboxRepository(a.db)
			if all {
				failed, err := repo.ListFailed(ctx, limit)
				if err != nil {
					return err
				}
				for _, msg := range failed {
					ids = append(ids, msg.ID)
				}
			}

			requeued, err := repo.Requeue(ctx, ids)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已重新入队 %d 条事件\n", requeued)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "重新入队所有失败的事件")
	cmd.Flags().IntVar(&limit, "limit", 1000, "--all 时最多处理的条数")
	return cmd
}
