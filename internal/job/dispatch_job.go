package job

import (
	"context"
	"log"
	"time"

	"viplinks/internal/delivery"
)

// CycleRunner 执行一个分发周期
type CycleRunner interface {
	RunCycle(ctx context.Context) (*delivery.CycleSummary, error)
}

// DispatchJob 进程内定时触发分发周期
//
// 周期内部是顺序执行的，上一个周期没结束时 ticker 的触发会被丢弃，不会重叠。
type DispatchJob struct {
	runner   CycleRunner
	stopCh   chan struct{}
	interval time.Duration
}

func NewDispatchJob(runner CycleRunner, interval time.Duration) *DispatchJob {
	return &DispatchJob{
		runner:   runner,
		stopCh:   make(chan struct{}),
		interval: interval,
	}
}

func (j *DispatchJob) Start(ctx context.Context) {
	log.Printf("[DispatchJob] 分发任务启动，间隔 %s", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[DispatchJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[DispatchJob] 任务停止")
			return
		case <-ticker.C:
			j.runCycle(ctx)
		}
	}
}

func (j *DispatchJob) Stop() {
	close(j.stopCh)
}

func (j *DispatchJob) runCycle(ctx context.Context) {
	summary, err := j.runner.RunCycle(ctx)
	if err != nil {
		if delivery.IsCycleInProgress(err) {
			log.Println("[DispatchJob] 另一个分发周期正在运行，跳过本次")
			return
		}
		log.Printf("[DispatchJob] 分发周期失败: %v", err)
		return
	}
	if summary.TotalConsidered > 0 {
		log.Printf("[DispatchJob] 分发周期完成: 完成=%d, 失败=%d, 重试=%d", summary.Completed, summary.Failed, summary.Retrying)
	}
}
