package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"viplinks/internal/config"
	"viplinks/internal/delivery"
	"viplinks/internal/model"
	"viplinks/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrInvalidNotification = errors.New("支付通知缺少支付单号")

// ImmediateDispatcher 支付确认后立即尝试一次发货
type ImmediateDispatcher interface {
	ProcessOne(ctx context.Context, id string) (delivery.Disposition, error)
}

// IntakeService 支付确认 -> 发货入队
//
// 【关键点】
//  1. 只处理 status=PENDING 的订单，重复通知直接忽略
//  2. 订单置为 PAID 和发货记录入队在同一个事务里
//  3. 入队后的立即尝试走分发器的单条处理路径，算作第 1 次尝试
type IntakeService struct {
	db           *gorm.DB
	cfg          *config.Config
	saleRepo     *repository.SaleRepository
	productRepo  *repository.ProductRepository
	serverRepo   *repository.ServerRepository
	deliveryRepo *repository.DeliveryRepository
	dispatcher   ImmediateDispatcher

	wg    sync.WaitGroup
	clock func() time.Time
	newID func() string
}

func NewIntakeService(db *gorm.DB, cfg *config.Config, dispatcher ImmediateDispatcher) *IntakeService {
	return &IntakeService{
		db:           db,
		cfg:          cfg,
		saleRepo:     repository.NewSaleRepository(db),
		productRepo:  repository.NewProductRepository(db),
		serverRepo:   repository.NewServerRepository(db),
		deliveryRepo: repository.NewDeliveryRepository(db),
		dispatcher:   dispatcher,
		clock:        func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}
}

// PaymentNotification 支付渠道的通知：{"type": "payment", "data": {"id": "..."}}
type PaymentNotification struct {
	Type string `json:"type"`
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type ConfirmResult struct {
	Processed      bool   `json:"processed"`
	SaleID         int64  `json:"sale_id,omitempty"`
	DeliveryID     string `json:"delivery_id,omitempty"`
	DeliveryStatus string `json:"delivery_status,omitempty"`
	Message        string `json:"message,omitempty"`
}

// deliveryTarget 入队前的连接参数检查
type deliveryTarget struct {
	Host     string   `validate:"required,hostname|ip"`
	Port     int      `validate:"gt=0,lt=65536"`
	Secret   string   `validate:"required"`
	Commands []string `validate:"min=1,dive,required"`
}

var validate = validator.New()

// ConfirmPayment 处理支付确认
func (s *IntakeService) ConfirmPayment(ctx context.Context, n *PaymentNotification) (*ConfirmResult, error) {
	if n.Type != "payment" {
		return &ConfirmResult{Message: "ignored notification type " + n.Type}, nil
	}
	paymentID := strings.TrimSpace(n.Data.ID)
	if paymentID == "" {
		return nil, ErrInvalidNotification
	}

	sale, err := s.saleRepo.GetPendingByPaymentID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrSaleNotFound) {
			return &ConfirmResult{Message: "sale not found or already processed"}, nil
		}
		return nil, fmt.Errorf("查询订单失败: %w", err)
	}

	product, err := s.productRepo.GetByID(ctx, sale.ProductID)
	if err != nil {
		return nil, fmt.Errorf("查询商品失败: %w", err)
	}

	now := s.clock()
	result := &ConfirmResult{Processed: true, SaleID: sale.ID}

	var queued *model.PendingDelivery
	if product.IsGaming() && product.GameServerID != nil && len(product.DeliveryCommands) > 0 {
		queued = s.buildDelivery(ctx, sale, product, now)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.saleRepo.MarkPaid(ctx, tx, sale.ID, now); err != nil {
			return err
		}

		if queued != nil {
			if err := s.deliveryRepo.Create(ctx, tx, queued); err != nil {
				return fmt.Errorf("发货记录入队失败: %w", err)
			}
			_, err := s.saleRepo.UpdateDeliveryStatus(ctx, tx, sale.ID, model.DeliveryStatusPending,
				"delivery queued, retried automatically", now)
			return err
		}

		notes := "product does not require automatic delivery"
		if product.IsGaming() {
			notes = "no automatic delivery configured for this product"
		}
		_, err := s.saleRepo.UpdateDeliveryStatus(ctx, tx, sale.ID, model.DeliveryStatusCompleted, notes, now)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrSaleStatusInvalid) {
			// 并发的重复通知已经处理过
			return &ConfirmResult{SaleID: sale.ID, Message: "sale already processed"}, nil
		}
		return nil, err
	}

	if queued == nil {
		result.DeliveryStatus = model.DeliveryStatusCompleted
		log.Printf("[Intake] 支付确认，无需游戏内发货: sale=%d, product=%d", sale.ID, product.ID)
		return result, nil
	}

	result.DeliveryID = queued.ID
	result.DeliveryStatus = model.DeliveryStatusPending
	log.Printf("[Intake] 支付确认，发货记录已入队: sale=%d, delivery=%s", sale.ID, queued.ID)

	if s.cfg.Delivery.ImmediateAttempt && s.dispatcher != nil {
		s.attemptAsync(ctx, queued.ID)
	}
	return result, nil
}

// buildDelivery 规范化连接参数和指令
//
// 配置不完整时仍然入队，分发器会把它当作普通失败计数，直到过期后转人工处理。
func (s *IntakeService) buildDelivery(ctx context.Context, sale *model.Sale, product *model.Product, now time.Time) *model.PendingDelivery {
	d := &model.PendingDelivery{
		ID:            s.newID(),
		SaleID:        sale.ID,
		ServerKey:     "unknown",
		BuyerSteamID:  sale.BuyerSteamID,
		BuyerUsername: sale.BuyerUsername,
		BuyerEmail:    sale.BuyerEmail,
		ProductName:   product.Name,
		Commands:      datatypes.JSONSlice[string](append([]string(nil), product.DeliveryCommands...)),
		Status:        model.PendingDeliveryStatusPending,
		CreatedAt:     now,
	}

	server, err := s.serverRepo.GetByID(ctx, *product.GameServerID)
	if err != nil {
		log.Printf("[Intake] 商品关联的游戏服务器不可用: product=%d, err=%v", product.ID, err)
		return d
	}

	d.ServerKey = server.ServerKey
	d.ServerHost = strings.TrimSpace(server.Host)
	d.ServerPort = server.RconPort
	d.ServerSecret = server.RconSecret

	target := deliveryTarget{Host: d.ServerHost, Port: d.ServerPort, Secret: d.ServerSecret, Commands: d.Commands}
	if err := validate.Struct(target); err != nil {
		log.Printf("[Intake] 发货配置不完整，仍然入队: sale=%d, err=%v", sale.ID, err)
	}
	return d
}

// attemptAsync 不阻塞支付通知的响应
func (s *IntakeService) attemptAsync(ctx context.Context, id string) {
	attemptCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		disposition, err := s.dispatcher.ProcessOne(attemptCtx, id)
		if err != nil {
			log.Printf("[Intake] 立即发货失败: delivery=%s, err=%v", id, err)
			return
		}
		log.Printf("[Intake] 立即发货完成: delivery=%s, result=%s", id, disposition)
	}()
}

// Wait 等待所有立即发货尝试结束，关闭服务前调用
func (s *IntakeService) Wait() {
	s.wg.Wait()
}
