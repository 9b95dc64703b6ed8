package job

import (
	"context"
	"log"
	"time"

	"viplinks/internal/repository"

	"gorm.io/gorm"
)

// CleanupJob 定期删除保留期之外的已完成发货记录和已投递的事件
type CleanupJob struct {
	deliveryRepo *repository.DeliveryRepository
	outboxRepo   *repository.OutboxRepository
	retention    time.Duration
	stopCh       chan struct{}
	interval     time.Duration
	batchSize    int
	clock        func() time.Time
}

func NewCleanupJob(db *gorm.DB, retention time.Duration) *CleanupJob {
	return &CleanupJob{
		deliveryRepo: repository.NewDeliveryRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
		retention:    retention,
		stopCh:       make(chan struct{}),
		interval:     time.Hour,
		batchSize:    500,
		clock:        func() time.Time { return time.Now().UTC() },
	}
}

func (j *CleanupJob) Start(ctx context.Context) {
	log.Println("[CleanupJob] 发货记录清理任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[CleanupJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[CleanupJob] 任务停止")
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				log.Printf("[CleanupJob] 清理失败: %v", err)
			}
		}
	}
}

func (j *CleanupJob) Stop() {
	close(j.stopCh)
}

// RunOnce 分批删除，直到没有可删除的记录；返回删除的发货记录数
func (j *CleanupJob) RunOnce(ctx context.Context) (int64, error) {
	before := j.clock().Add(-j.retention)

	deliveries, err := j.drain(ctx, before, j.deliveryRepo.DeleteCompletedBefore)
	if err != nil {
		return deliveries, err
	}
	events, err := j.drain(ctx, before, j.outboxRepo.DeleteSentBefore)
	if err != nil {
		return deliveries, err
	}

	if deliveries > 0 || events > 0 {
		log.Printf("[CleanupJob] 本次删除 %d 条已完成的发货记录、%d 条已投递事件（早于 %s）",
			deliveries, events, before.Format(time.RFC3339))
	}
	return deliveries, nil
}

func (j *CleanupJob) drain(ctx context.Context, before time.Time,
	deleteBatch func(ctx context.Context, before time.Time, limit int) (int64, error)) (int64, error) {
	var total int64
	for {
		deleted, err := deleteBatch(ctx, before, j.batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted < int64(j.batchSize) {
			return total, nil
		}
	}
}
