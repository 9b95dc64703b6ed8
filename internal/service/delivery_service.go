package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"viplinks/internal/config"
	"viplinks/internal/delivery"
	"viplinks/internal/model"
	"viplinks/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrDeliveryBusy 记录正被分发周期处理
var ErrDeliveryBusy = errors.New("发货记录正在处理中，请稍后重试")

const pluginBatchSize = 50

// DeliveryService 卖家查询和游戏服务器插件（拉模式）接口
type DeliveryService struct {
	deliveryRepo *repository.DeliveryRepository
	serverRepo   *repository.ServerRepository
	publisher    delivery.EventPublisher
	cfg          *config.Config
	clock        func() time.Time
}

func NewDeliveryService(db *gorm.DB, cfg *config.Config, publisher delivery.EventPublisher) *DeliveryService {
	if publisher == nil {
		publisher = delivery.NopPublisher()
	}
	return &DeliveryService{
		deliveryRepo: repository.NewDeliveryRepository(db),
		serverRepo:   repository.NewServerRepository(db),
		publisher:    publisher,
		cfg:          cfg,
		clock:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *DeliveryService) ListForSeller(ctx context.Context, sellerID, status string, page, pageSize int) ([]*model.PendingDelivery, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return s.deliveryRepo.ListBySeller(ctx, sellerID, status, page, pageSize)
}

// ServerHealth 插件启动时校验 server_key
func (s *DeliveryService) ServerHealth(ctx context.Context, serverKey string) (*model.GameServer, error) {
	return s.serverRepo.GetByServerKey(ctx, serverKey)
}

// PendingForServer 插件拉取本服务器的待发货记录，最早创建的优先
func (s *DeliveryService) PendingForServer(ctx context.Context, serverKey string) ([]*model.PendingDelivery, error) {
	if _, err := s.serverRepo.GetByServerKey(ctx, serverKey); err != nil {
		return nil, err
	}
	return s.deliveryRepo.ListPendingByServerKey(ctx, serverKey, pluginBatchSize)
}

type MarkDeliveredRequest struct {
	ServerKey    string `json:"server_key" binding:"required"`
	SaleID       int64  `json:"sale_id" binding:"required,gt=0"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message"`
}

// MarkDelivered 插件回报发货结果
//
// 成功时和分发周期一样先认领再写回，避免和正在进行的 RCON 尝试重复完成；
// 失败只记录错误信息，重试和过期仍然由分发周期负责。
func (s *DeliveryService) MarkDelivered(ctx context.Context, req *MarkDeliveredRequest) (*model.PendingDelivery, error) {
	d, err := s.deliveryRepo.GetPendingBySale(ctx, req.SaleID, req.ServerKey)
	if err != nil {
		return nil, err
	}

	if !req.Success {
		msg := req.ErrorMessage
		if msg == "" {
			msg = "plugin reported delivery failure"
		}
		if err := s.deliveryRepo.RecordNote(ctx, d.ID, msg); err != nil {
			return nil, err
		}
		log.Printf("[DeliveryService] 插件回报发货失败: delivery=%s, err=%s", d.ID, msg)
		d.LastErrorMessage = &msg
		return d, nil
	}

	now := s.clock()
	token := uuid.NewString()
	claimed, err := s.deliveryRepo.Claim(ctx, d, token, now, s.cfg.Delivery.ClaimLease)
	if err != nil {
		return nil, fmt.Errorf("认领发货记录失败: %w", err)
	}
	if !claimed {
		return nil, ErrDeliveryBusy
	}

	t := delivery.Transition{Status: model.PendingDeliveryStatusCompleted, At: now}
	if err := s.deliveryRepo.Finish(ctx, d, token, t); err != nil {
		return nil, err
	}

	d.Status = model.PendingDeliveryStatusCompleted
	d.CompletedAt = &now
	d.LastAttemptAt = &now
	d.LastErrorMessage = nil
	log.Printf("[DeliveryService] 插件确认发货完成: delivery=%s, sale=%d", d.ID, d.SaleID)

	event := delivery.Event{
		Type:         delivery.EventCompleted,
		DeliveryID:   d.ID,
		SaleID:       d.SaleID,
		Status:       d.Status,
		AttemptCount: d.AttemptCount,
		Message:      "confirmed by game server plugin",
		OccurredAt:   now,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Printf("[DeliveryService] 发布事件失败: delivery=%s, err=%v", d.ID, err)
	}
	return d, nil
}
