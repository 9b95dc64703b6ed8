package service

import (
	"context"
	"fmt"

	"viplinks/internal/model"
	"viplinks/internal/repository"
	"viplinks/pkg/idgen"

	"gorm.io/gorm"
)

type SaleService struct {
	saleRepo    *repository.SaleRepository
	productRepo *repository.ProductRepository
	db          *gorm.DB
}

func NewSaleService(db *gorm.DB) *SaleService {
	return &SaleService{
		saleRepo:    repository.NewSaleRepository(db),
		productRepo: repository.NewProductRepository(db),
		db:          db,
	}
}

type CreateSaleRequest struct {
	RequestID     string `json:"request_id" binding:"required"`
	PaymentID     string `json:"payment_id" binding:"required"`
	ProductID     int64  `json:"product_id" binding:"required,gt=0"`
	BuyerSteamID  string `json:"buyer_steam_id" binding:"required"`
	BuyerUsername string `json:"buyer_username"`
	BuyerEmail    string `json:"buyer_email" binding:"omitempty,email"`
}

// CreateSale 下单，request_id 幂等
func (s *SaleService) CreateSale(ctx context.Context, req *CreateSaleRequest) (*model.Sale, error) {
	existing, err := s.saleRepo.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询订单失败: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	product, err := s.productRepo.GetByID(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	sale := &model.Sale{
		SaleNo:         idgen.GenerateSaleNo(),
		RequestID:      req.RequestID,
		PaymentID:      req.PaymentID,
		ProductID:      product.ID,
		SellerID:       product.SellerID,
		BuyerSteamID:   req.BuyerSteamID,
		BuyerUsername:  req.BuyerUsername,
		BuyerEmail:     req.BuyerEmail,
		Amount:         product.Price,
		Status:         model.SaleStatusPending,
		DeliveryStatus: model.DeliveryStatusNone,
	}

	if err := s.saleRepo.Create(ctx, nil, sale); err != nil {
		// 并发的相同请求
		if existing, findErr := s.saleRepo.GetByRequestID(ctx, req.RequestID); findErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("创建订单失败: %w", err)
	}

	return sale, nil
}

func (s *SaleService) GetSale(ctx context.Context, saleNo string) (*model.Sale, error) {
	return s.saleRepo.GetBySaleNo(ctx, saleNo)
}
