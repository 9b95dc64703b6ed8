package delivery

import (
	"context"
	"time"
)

const (
	EventCompleted = "delivery.completed"
	EventRetrying  = "delivery.retrying"
	EventFailed    = "delivery.failed"
)

// Event 发货状态变更事件，推送给卖家/买家的实时通知从这里订阅
type Event struct {
	Type         string    `json:"type"`
	DeliveryID   string    `json:"delivery_id"`
	SaleID       int64     `json:"sale_id"`
	Status       string    `json:"status"`
	AttemptCount int       `json:"attempt_count"`
	Message      string    `json:"message,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// EventPublisher 事件发布，失败不影响发货状态
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

// NopPublisher 不发布任何事件
func NopPublisher() EventPublisher { return nopPublisher{} }
