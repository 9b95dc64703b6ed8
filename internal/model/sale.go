package model

import (
	"time"
)

// 支付状态
const (
	SaleStatusPending = "PENDING"
	SaleStatusPaid    = "PAID"
)

// 发货状态（订单上的发货投影，PendingDelivery 才是重试期间的真实数据）
const (
	DeliveryStatusNone      = "NONE"
	DeliveryStatusPending   = "PENDING"
	DeliveryStatusCompleted = "COMPLETED"
	DeliveryStatusFailed    = "FAILED"
)

var ValidDeliveryStatusTransitions = map[string][]string{
	DeliveryStatusNone:    {DeliveryStatusPending, DeliveryStatusCompleted},
	DeliveryStatusPending: {DeliveryStatusCompleted, DeliveryStatusFailed},
}

func CanDeliveryTransitionTo(currentStatus, targetStatus string) bool {
	return canTransition(ValidDeliveryStatusTransitions, currentStatus, targetStatus)
}

func canTransition(table map[string][]string, currentStatus, targetStatus string) bool {
	allowedStatuses, exists := table[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Sale 买家的一次购买
type Sale struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	SaleNo         string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"sale_no"`
	RequestID      string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"`
	PaymentID      string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"payment_id"` // 下单时由支付渠道生成
	ProductID      int64      `gorm:"index;not null" json:"product_id"`
	SellerID       string     `gorm:"type:varchar(64);index;not null" json:"seller_id"`
	BuyerSteamID   string     `gorm:"type:varchar(64);not null" json:"buyer_steam_id"`
	BuyerUsername  string     `gorm:"type:varchar(128)" json:"buyer_username"`
	BuyerEmail     string     `gorm:"type:varchar(255)" json:"buyer_email"`
	Amount         int64      `gorm:"not null" json:"amount"`
	Status         string     `gorm:"type:varchar(20);index;not null" json:"status"`
	DeliveryStatus string     `gorm:"type:varchar(20);index;not null;default:NONE" json:"delivery_status"`
	KitDelivered   bool       `gorm:"not null;default:false" json:"kit_delivered"`
	DeliveredAt    *time.Time `json:"delivered_at"`
	Notes          string     `gorm:"type:varchar(512)" json:"notes"`
	PaidAt         *time.Time `json:"paid_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Sale) TableName() string {
	return "sale"
}
