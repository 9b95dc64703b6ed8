package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"viplinks/internal/handler"
	"viplinks/internal/job"
	"viplinks/internal/service"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务和后台任务",
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

			return serve(a)
		},
	}
}

func serve(a *app) error {
	cfg := a.cfg

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	intakeService := service.NewIntakeService(a.db, cfg, a.dispatcher)

	// 启动后台任务
	if a.producer != nil {
		outboxSender := job.NewOutboxSender(a.db, a.producer, cfg.Business.MaxRetryCount)
		go outboxSender.Start(ctx)
	}

	cleanupJob := job.NewCleanupJob(a.db, cfg.Delivery.Retention)
	go cleanupJob.Start(ctx)

	// 进程内定时分发（可选），和外部 cron 同时开启时由周期锁 + 认领保证不重复
	if cfg.Delivery.SchedulerInterval > 0 {
		dispatchJob := job.NewDispatchJob(a.dispatcher, cfg.Delivery.SchedulerInterval)
		go dispatchJob.Start(ctx)
	}

	h := handler.NewHandler(
		service.NewSaleService(a.db),
		intakeService,
		service.NewDeliveryService(a.db, cfg, a.publisher),
		service.NewServerService(a.db, a.sealer, a.rcon),
		a.dispatcher,
	)

	// 设置路由
	router := handler.SetupRouter(h, cfg, a.registry)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("服务启动失败: %w", err)
	}

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	// 等待进行中的立即发货和分发周期结束，结果写回后才能关闭数据库
	intakeService.Wait()
	a.dispatcher.Close()

	log.Println("服务已关闭")
	return nil
}
