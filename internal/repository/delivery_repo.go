package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"viplinks/internal/delivery"
	"viplinks/internal/model"

	"gorm.io/gorm"
)

var (
	ErrDeliveryNotFound = errors.New("发货记录不存在")
	// ErrClaimLost 认领令牌已失效（租约过期后被其他周期接管，或记录已终结）
	ErrClaimLost = errors.New("发货记录认领已失效")
)

// DeliveryRepository 发货队列
//
// 【关键点】
//  1. 认领和写回都是条件更新，依赖 RowsAffected 判断是否成功
//  2. 写回发货结果和订单发货投影在同一个事务里
//  3. completed / failed 记录不会再被修改
type DeliveryRepository struct {
	db    *gorm.DB
	sales *SaleRepository
}

func NewDeliveryRepository(db *gorm.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db, sales: NewSaleRepository(db)}
}

var _ delivery.Store = (*DeliveryRepository)(nil)

func (r *DeliveryRepository) Create(ctx context.Context, tx *gorm.DB, d *model.PendingDelivery) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(d).Error
}

func (r *DeliveryRepository) GetByID(ctx context.Context, id string) (*model.PendingDelivery, error) {
	var d model.PendingDelivery
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliveryNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListDispatchable 本周期可能需要处理的记录，最早创建的优先
//
// 只做粗过滤：排除最近 minBackoff 内尝试过且未过期的记录，精确的退避判断由调度器完成。
func (r *DeliveryRepository) ListDispatchable(ctx context.Context, now time.Time, minBackoff, expiry time.Duration, limit int) ([]*model.PendingDelivery, error) {
	var list []*model.PendingDelivery
	err := r.db.WithContext(ctx).
		Where("status = ?", model.PendingDeliveryStatusPending).
		Where("(last_attempt_at IS NULL OR last_attempt_at <= ? OR created_at <= ?)",
			now.Add(-minBackoff), now.Add(-expiry)).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// Claim 认领一条记录
//
// attempt_count 作为版本号：读取之后如果有其他周期完成了一次尝试，认领失败。
// 超过租约的认领视为处理进程已崩溃，可以被接管。
func (r *DeliveryRepository) Claim(ctx context.Context, d *model.PendingDelivery, token string, now time.Time, lease time.Duration) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.PendingDelivery{}).
		Where("id = ? AND status = ? AND attempt_count = ?", d.ID, model.PendingDeliveryStatusPending, d.AttemptCount).
		Where("(claim_token = '' OR claimed_at IS NULL OR claimed_at < ?)", now.Add(-lease)).
		Updates(map[string]interface{}{
			"claim_token": token,
			"claimed_at":  now,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Finish 写回一次处理的结果并释放认领
func (r *DeliveryRepository) Finish(ctx context.Context, d *model.PendingDelivery, token string, t delivery.Transition) error {
	if t.Status != model.PendingDeliveryStatusPending && !model.CanPendingDeliveryTransitionTo(model.PendingDeliveryStatusPending, t.Status) {
		return fmt.Errorf("不支持的发货状态: %s", t.Status)
	}

	var errMsg *string
	if t.ErrorMessage != nil {
		msg := truncate(*t.ErrorMessage, 1024)
		errMsg = &msg
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":             t.Status,
			"last_attempt_at":    t.At,
			"last_error_message": errMsg,
			"claim_token":        "",
			"claimed_at":         nil,
		}
		if t.CountAttempt {
			updates["attempt_count"] = gorm.Expr("attempt_count + 1")
		}
		if t.IncrementStreak {
			updates["inventory_failure_streak"] = gorm.Expr("inventory_failure_streak + 1")
		}
		if t.Status == model.PendingDeliveryStatusCompleted {
			updates["completed_at"] = t.At
		}

		result := tx.Model(&model.PendingDelivery{}).
			Where("id = ? AND claim_token = ? AND status = ?", d.ID, token, model.PendingDeliveryStatusPending).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrClaimLost
		}

		return r.project(ctx, tx, d, t)
	})
}

// project 同步订单上的发货投影，重试中的记录不修改订单
func (r *DeliveryRepository) project(ctx context.Context, tx *gorm.DB, d *model.PendingDelivery, t delivery.Transition) error {
	var status, notes string
	switch t.Status {
	case model.PendingDeliveryStatusCompleted:
		status = model.DeliveryStatusCompleted
		attempt := d.AttemptCount
		if t.CountAttempt {
			attempt++
		}
		notes = fmt.Sprintf("delivered automatically (attempt %d)", attempt)
	case model.PendingDeliveryStatusFailed:
		status = model.DeliveryStatusFailed
		msg := ""
		if t.ErrorMessage != nil {
			msg = *t.ErrorMessage
		}
		notes = truncate("automatic delivery failed, seller must deliver manually: "+msg, 512)
	default:
		return nil
	}

	_, err := r.sales.UpdateDeliveryStatus(ctx, tx, d.SaleID, status, notes, t.At)
	return err
}

// ListPendingByServerKey 插件拉取待发货记录
func (r *DeliveryRepository) ListPendingByServerKey(ctx context.Context, serverKey string, limit int) ([]*model.PendingDelivery, error) {
	var list []*model.PendingDelivery
	err := r.db.WithContext(ctx).
		Where("server_key = ? AND status = ?", serverKey, model.PendingDeliveryStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *DeliveryRepository) GetPendingBySale(ctx context.Context, saleID int64, serverKey string) (*model.PendingDelivery, error) {
	var d model.PendingDelivery
	err := r.db.WithContext(ctx).
		Where("sale_id = ? AND server_key = ? AND status = ?", saleID, serverKey, model.PendingDeliveryStatusPending).
		Order("created_at ASC").
		First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliveryNotFound
		}
		return nil, err
	}
	return &d, nil
}

// RecordNote 只记录错误信息，不改变状态也不计入尝试次数
func (r *DeliveryRepository) RecordNote(ctx context.Context, id string, message string) error {
	result := r.db.WithContext(ctx).
		Model(&model.PendingDelivery{}).
		Where("id = ? AND status = ?", id, model.PendingDeliveryStatusPending).
		Update("last_error_message", truncate(message, 1024))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// ListBySeller 卖家查看自己的发货记录
func (r *DeliveryRepository) ListBySeller(ctx context.Context, sellerID, status string, page, pageSize int) ([]*model.PendingDelivery, int64, error) {
	var list []*model.PendingDelivery
	var total int64

	saleIDs := r.db.Model(&model.Sale{}).Select("id").Where("seller_id = ?", sellerID)
	query := r.db.WithContext(ctx).Model(&model.PendingDelivery{}).Where("sale_id IN (?)", saleIDs)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&list).Error

	return list, total, err
}

// DeleteCompletedBefore 清理已完成的旧记录，pending / failed 不删除
func (r *DeliveryRepository) DeleteCompletedBefore(ctx context.Context, before time.Time, limit int) (int64, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.PendingDelivery{}).
		Where("status = ? AND completed_at < ?", model.PendingDeliveryStatusCompleted, before).
		Order("completed_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Where("id IN ? AND status = ?", ids, model.PendingDeliveryStatusCompleted).
		Delete(&model.PendingDelivery{})
	return result.RowsAffected, result.Error
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
