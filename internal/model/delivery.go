package model

import (
	"strconv"
	"time"

	"gorm.io/datatypes"
)

const (
	PendingDeliveryStatusPending   = "pending"
	PendingDeliveryStatusCompleted = "completed"
	PendingDeliveryStatusFailed    = "failed"
)

// completed / failed 是终态，不允许再变更
var ValidPendingDeliveryTransitions = map[string][]string{
	PendingDeliveryStatusPending: {PendingDeliveryStatusCompleted, PendingDeliveryStatusFailed},
}

func CanPendingDeliveryTransitionTo(currentStatus, targetStatus string) bool {
	return canTransition(ValidPendingDeliveryTransitions, currentStatus, targetStatus)
}

// PendingDelivery 一件等待在游戏内发放的商品
//
// 【字段约定】
//   - ID、Commands、CreatedAt 入队后不可变
//   - ServerHost/ServerPort/ServerSecret 在入队时规范化，ServerSecret 为密文
//   - ClaimToken/ClaimedAt 是分发周期的认领标记，空字符串表示未被认领
type PendingDelivery struct {
	ID                     string                      `gorm:"type:varchar(36);primaryKey" json:"id"`
	SaleID                 int64                       `gorm:"index;not null" json:"sale_id"`
	ServerKey              string                      `gorm:"type:varchar(96);index" json:"server_key"`
	BuyerSteamID           string                      `gorm:"type:varchar(64);not null" json:"steam_id"`
	BuyerUsername          string                      `gorm:"type:varchar(128)" json:"username"`
	BuyerEmail             string                      `gorm:"type:varchar(255)" json:"-"`
	ProductName            string                      `gorm:"type:varchar(128)" json:"product_name"`
	ServerHost             string                      `gorm:"type:varchar(255)" json:"-"`
	ServerPort             int                         `json:"-"`
	ServerSecret           string                      `gorm:"type:varchar(512)" json:"-"`
	Commands               datatypes.JSONSlice[string] `gorm:"not null" json:"commands"`
	Status                 string                      `gorm:"type:varchar(20);index;not null" json:"status"`
	AttemptCount           int                         `gorm:"not null;default:0" json:"attempts"`
	InventoryFailureStreak int                         `gorm:"not null;default:0" json:"inventory_failure_streak"`
	LastAttemptAt          *time.Time                  `json:"last_attempt"`
	LastErrorMessage       *string                     `gorm:"type:varchar(1024)" json:"error_message"`
	ClaimToken             string                      `gorm:"type:varchar(36);not null;default:''" json:"-"`
	ClaimedAt              *time.Time                  `json:"-"`
	CompletedAt            *time.Time                  `json:"completed_at"`
	CreatedAt              time.Time                   `gorm:"index;not null" json:"created_at"`
	UpdatedAt              time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PendingDelivery) TableName() string {
	return "pending_delivery"
}

// Deadline 硬性过期时间
func (d *PendingDelivery) Deadline(expiry time.Duration) time.Time {
	return d.CreatedAt.Add(expiry)
}

func (d *PendingDelivery) IsTerminal() bool {
	return d.Status == PendingDeliveryStatusCompleted || d.Status == PendingDeliveryStatusFailed
}

// TemplateVars 指令模板变量
func (d *PendingDelivery) TemplateVars() map[string]string {
	username := d.BuyerUsername
	if username == "" {
		username = d.BuyerSteamID
	}
	return map[string]string{
		"steamid":  d.BuyerSteamID,
		"player":   d.BuyerSteamID,
		"username": username,
		"email":    d.BuyerEmail,
		"product":  d.ProductName,
		"orderid":  strconv.FormatInt(d.SaleID, 10),
	}
}
