package repository

import (
	"context"
	"errors"

	"viplinks/internal/model"

	"gorm.io/gorm"
)

var ErrServerNotFound = errors.New("游戏服务器不存在")

type ServerRepository struct {
	db *gorm.DB
}

func NewServerRepository(db *gorm.DB) *ServerRepository {
	return &ServerRepository{db: db}
}

func (r *ServerRepository) Create(ctx context.Context, server *model.GameServer) error {
	return r.db.WithContext(ctx).Create(server).Error
}

func (r *ServerRepository) GetByID(ctx context.Context, id int64) (*model.GameServer, error) {
	return r.first(ctx, "id = ?", id)
}

// GetBySellerAndID 卖家只能操作自己的服务器
func (r *ServerRepository) GetBySellerAndID(ctx context.Context, sellerID string, id int64) (*model.GameServer, error) {
	return r.first(ctx, "id = ? AND seller_id = ?", id, sellerID)
}

func (r *ServerRepository) GetByServerKey(ctx context.Context, serverKey string) (*model.GameServer, error) {
	return r.first(ctx, "server_key = ?", serverKey)
}

func (r *ServerRepository) first(ctx context.Context, query string, args ...interface{}) (*model.GameServer, error) {
	var server model.GameServer
	err := r.db.WithContext(ctx).Where(query, args...).First(&server).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrServerNotFound
		}
		return nil, err
	}
	return &server, nil
}
