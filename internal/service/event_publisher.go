package service

import (
	"context"
	"encoding/json"
	"fmt"

	"viplinks/internal/delivery"
	"viplinks/internal/model"
	"viplinks/internal/repository"

	"gorm.io/gorm"
)

// OutboxPublisher 发货事件写入本地消息表，由 OutboxSender 投递到 Kafka
type OutboxPublisher struct {
	outboxRepo *repository.OutboxRepository
	topic      string
}

func NewOutboxPublisher(db *gorm.DB, topic string) *OutboxPublisher {
	return &OutboxPublisher{
		outboxRepo: repository.NewOutboxRepository(db),
		topic:      topic,
	}
}

var _ delivery.EventPublisher = (*OutboxPublisher)(nil)

func (p *OutboxPublisher) Publish(ctx context.Context, event delivery.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: event.DeliveryID,
		Topic:      p.topic,
		EventType:  event.Type,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	return p.outboxRepo.Create(ctx, nil, msg)
}
