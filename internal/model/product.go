package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ProductTypeGaming  = "gaming"
	ProductTypeDigital = "digital"
)

type Product struct {
	ID               int64                       `gorm:"primaryKey;autoIncrement" json:"id"`
	SellerID         string                      `gorm:"type:varchar(64);index;not null" json:"seller_id"`
	Name             string                      `gorm:"type:varchar(128);not null" json:"name"`
	Type             string                      `gorm:"type:varchar(32);not null" json:"type"`
	Category         string                      `gorm:"type:varchar(32)" json:"category"`
	Price            int64                       `gorm:"not null" json:"price"`
	GameServerID     *int64                      `gorm:"index" json:"game_server_id"`
	DeliveryCommands datatypes.JSONSlice[string] `json:"delivery_commands"`
	CreatedAt        time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "product"
}

// IsGaming 原系统中 type 和 category 都可能标记为 gaming
func (p *Product) IsGaming() bool {
	return p.Type == ProductTypeGaming || p.Category == ProductTypeGaming
}

// GameServer 卖家登记的游戏服务器
//
// RconSecret 为加密后的 RCON 密码，任何读接口都不返回
type GameServer struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SellerID   string    `gorm:"type:varchar(64);index;not null" json:"seller_id"`
	Name       string    `gorm:"type:varchar(128);not null" json:"server_name"`
	Host       string    `gorm:"type:varchar(255);not null" json:"server_ip"`
	RconPort   int       `gorm:"not null" json:"rcon_port"`
	RconSecret string    `gorm:"type:varchar(512);not null" json:"-"`
	ServerKey  string    `gorm:"type:varchar(96);uniqueIndex;not null" json:"server_key"`
	GameType   string    `gorm:"type:varchar(32);not null;default:rust" json:"game_type"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (GameServer) TableName() string {
	return "game_server"
}
