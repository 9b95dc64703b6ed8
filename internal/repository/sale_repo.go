package repository

import (
	"context"
	"errors"
	"time"

	"viplinks/internal/model"

	"gorm.io/gorm"
)

var (
	ErrSaleNotFound      = errors.New("订单不存在")
	ErrSaleStatusInvalid = errors.New("订单状态不合法")
	ErrDuplicateRequest  = errors.New("重复请求")
)

type SaleRepository struct {
	db *gorm.DB
}

func NewSaleRepository(db *gorm.DB) *SaleRepository {
	return &SaleRepository{db: db}
}

func (r *SaleRepository) Create(ctx context.Context, tx *gorm.DB, sale *model.Sale) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(sale).Error
}

func (r *SaleRepository) GetByID(ctx context.Context, id int64) (*model.Sale, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *SaleRepository) GetBySaleNo(ctx context.Context, saleNo string) (*model.Sale, error) {
	return r.first(ctx, "sale_no = ?", saleNo)
}

// GetPendingByPaymentID 只返回尚未确认支付的订单，已处理过的通知直接忽略
func (r *SaleRepository) GetPendingByPaymentID(ctx context.Context, paymentID string) (*model.Sale, error) {
	return r.first(ctx, "payment_id = ? AND status = ?", paymentID, model.SaleStatusPending)
}

// GetByRequestID 幂等检查，不存在时返回 nil, nil
func (r *SaleRepository) GetByRequestID(ctx context.Context, requestID string) (*model.Sale, error) {
	sale, err := r.first(ctx, "request_id = ?", requestID)
	if errors.Is(err, ErrSaleNotFound) {
		return nil, nil
	}
	return sale, err
}

func (r *SaleRepository) first(ctx context.Context, query string, args ...interface{}) (*model.Sale, error) {
	var sale model.Sale
	err := r.db.WithContext(ctx).Where(query, args...).First(&sale).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSaleNotFound
		}
		return nil, err
	}
	return &sale, nil
}

// MarkPaid PENDING -> PAID，条件更新保证同一笔支付只处理一次
func (r *SaleRepository) MarkPaid(ctx context.Context, tx *gorm.DB, saleID int64, paidAt time.Time) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Sale{}).
		Where("id = ? AND status = ?", saleID, model.SaleStatusPending).
		Updates(map[string]interface{}{
			"status":  model.SaleStatusPaid,
			"paid_at": paidAt,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrSaleStatusInvalid
	}

	return nil
}

// UpdateDeliveryStatus 更新订单上的发货投影
//
// 发货状态只能前进（NONE -> PENDING -> COMPLETED/FAILED），
// 当前状态不允许迁移到目标状态时不做修改，返回 false。
func (r *SaleRepository) UpdateDeliveryStatus(ctx context.Context, tx *gorm.DB, saleID int64, toStatus, notes string, at time.Time) (bool, error) {
	if tx == nil {
		tx = r.db
	}

	fromStatuses := allowedFrom(toStatus)
	if len(fromStatuses) == 0 {
		return false, ErrSaleStatusInvalid
	}

	updates := map[string]interface{}{
		"delivery_status": toStatus,
	}
	if notes != "" {
		updates["notes"] = notes
	}
	if toStatus == model.DeliveryStatusCompleted {
		updates["kit_delivered"] = true
		updates["delivered_at"] = at
	}

	result := tx.WithContext(ctx).
		Model(&model.Sale{}).
		Where("id = ? AND delivery_status IN ?", saleID, fromStatuses).
		Updates(updates)

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func allowedFrom(toStatus string) []string {
	var from []string
	for cur := range model.ValidDeliveryStatusTransitions {
		if model.CanDeliveryTransitionTo(cur, toStatus) {
			from = append(from, cur)
		}
	}
	return from
}
