package repository_test

import (
	"context"
	"testing"

	"viplinks/internal/model"
	"viplinks/internal/repository"
	"viplinks/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaleRepository_GetPendingByPaymentID(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewSaleRepository(db)
	ctx := context.Background()

	sale := &model.Sale{
		SaleNo:         "S1",
		RequestID:      "req-1",
		PaymentID:      "pay-1",
		ProductID:      1,
		SellerID:       "seller-1",
		BuyerSteamID:   "76561198000000001",
		Amount:         1000,
		Status:         model.SaleStatusPending,
		DeliveryStatus: model.DeliveryStatusNone,
	}
	require.NoError(t, repo.Create(ctx, nil, sale))

	found, err := repo.GetPendingByPaymentID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, sale.ID, found.ID)

	require.NoError(t, repo.MarkPaid(ctx, nil, sale.ID, now))

	// 已确认的支付再次通知时找不到待处理订单
	_, err = repo.GetPendingByPaymentID(ctx, "pay-1")
	assert.ErrorIs(t, err, repository.ErrSaleNotFound)

	err = repo.MarkPaid(ctx, nil, sale.ID, now)
	assert.ErrorIs(t, err, repository.ErrSaleStatusInvalid)

	got, err := repo.GetBySaleNo(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, model.SaleStatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)
}

func TestSaleRepository_GetByRequestID(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewSaleRepository(db)
	ctx := context.Background()

	got, err := repo.GetByRequestID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	seedSale(t, db, 7, "seller-1")
	got, err = repo.GetByRequestID(ctx, "req-7")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(7), got.ID)
}

func TestSaleRepository_UpdateDeliveryStatusIsMonotonic(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewSaleRepository(db)
	ctx := context.Background()

	sale := seedSale(t, db, 1, "seller-1")
	require.NoError(t, db.Model(sale).Update("delivery_status", model.DeliveryStatusNone).Error)

	tests := []struct {
		to      string
		changed bool
		current string
	}{
		{to: model.DeliveryStatusPending, changed: true, current: model.DeliveryStatusPending},
		{to: model.DeliveryStatusCompleted, changed: true, current: model.DeliveryStatusCompleted},
		{to: model.DeliveryStatusPending, changed: false, current: model.DeliveryStatusCompleted},
		{to: model.DeliveryStatusFailed, changed: false, current: model.DeliveryStatusCompleted},
	}

	for _, tt := range tests {
		changed, err := repo.UpdateDeliveryStatus(ctx, nil, sale.ID, tt.to, "", now)
		require.NoError(t, err)
		assert.Equal(t, tt.changed, changed, "to=%s", tt.to)

		got, err := repo.GetByID(ctx, sale.ID)
		require.NoError(t, err)
		assert.Equal(t, tt.current, got.DeliveryStatus)
	}
}

func TestSaleRepository_UpdateDeliveryStatusRejectsUnknownTarget(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewSaleRepository(db)

	_, err := repo.UpdateDeliveryStatus(context.Background(), nil, 1, model.DeliveryStatusNone, "", now)
	assert.ErrorIs(t, err, repository.ErrSaleStatusInvalid)
}
