package handler

import (
	"context"
	"errors"
	"log"
	"strconv"

	"viplinks/internal/delivery"
	"viplinks/internal/repository"
	"viplinks/internal/service"
	"viplinks/pkg/response"

	"github.com/gin-gonic/gin"
)

// CycleRunner 执行一次分发周期
type CycleRunner interface {
	RunCycle(ctx context.Context) (*delivery.CycleSummary, error)
}

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	saleService     *service.SaleService
	intakeService   *service.IntakeService
	deliveryService *service.DeliveryService
	serverService   *service.ServerService
	dispatcher      CycleRunner
}

// NewHandler 创建处理器实例
func NewHandler(
	saleService *service.SaleService,
	intakeService *service.IntakeService,
	deliveryService *service.DeliveryService,
	serverService *service.ServerService,
	dispatcher CycleRunner,
) *Handler {
	return &Handler{
		saleService:     saleService,
		intakeService:   intakeService,
		deliveryService: deliveryService,
		serverService:   serverService,
		dispatcher:      dispatcher,
	}
}

// writeError 把领域错误映射成业务码
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrSaleNotFound):
		response.BusinessError(c, response.CodeSaleNotFound, err.Error())
	case errors.Is(err, repository.ErrSaleStatusInvalid):
		response.BusinessError(c, response.CodeSaleStatusInvalid, err.Error())
	case errors.Is(err, repository.ErrProductNotFound):
		response.BusinessError(c, response.CodeProductNotFound, err.Error())
	case errors.Is(err, repository.ErrServerNotFound):
		response.BusinessError(c, response.CodeServerNotFound, err.Error())
	case errors.Is(err, repository.ErrDeliveryNotFound):
		response.BusinessError(c, response.CodeDeliveryNotFound, err.Error())
	case errors.Is(err, service.ErrDeliveryBusy):
		response.BusinessError(c, response.CodeDeliveryBusy, err.Error())
	case errors.Is(err, service.ErrInvalidNotification):
		response.ParamError(c, err.Error())
	case delivery.IsCycleInProgress(err):
		response.BusinessError(c, response.CodeCycleInProgress, err.Error())
	default:
		log.Printf("[Handler] 请求处理失败: %s %s, err=%v", c.Request.Method, c.FullPath(), err)
		response.ServerError(c, "服务器内部错误")
	}
}

// ============================================================
// 支付通知
// ============================================================

// PaymentWebhook 支付渠道回调
// POST /api/v1/webhooks/payment
//
// 【关键点】支付渠道会重复推送同一笔通知：
// 1. 只有 PENDING 状态的订单会被处理，重复通知返回 processed=false
// 2. 订单置为 PAID 和发货入队在同一个事务里
// 3. 立即发货在后台进行，不阻塞回调的响应
func (h *Handler) PaymentWebhook(c *gin.Context) {
	var req service.PaymentNotification
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.intakeService.ConfirmPayment(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// ============================================================
// 订单相关接口
// ============================================================

// CreateSale 下单
// POST /api/v1/sales
func (h *Handler) CreateSale(c *gin.Context) {
	var req service.CreateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	sale, err := h.saleService.CreateSale(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"sale_no": sale.SaleNo,
		"status":  sale.Status,
		"amount":  sale.Amount,
	})
}

// GetSale 查询订单及发货状态
// GET /api/v1/sales/:saleNo
func (h *Handler) GetSale(c *gin.Context) {
	sale, err := h.saleService.GetSale(c.Request.Context(), c.Param("saleNo"))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, sale)
}

// ============================================================
// 分发周期
// ============================================================

// TriggerDispatch 外部定时器触发一次分发周期
// POST /api/v1/cron/dispatch
func (h *Handler) TriggerDispatch(c *gin.Context) {
	summary, err := h.dispatcher.RunCycle(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, summary)
}

// ============================================================
// 游戏服务器插件接口
// ============================================================

// PluginHealth 插件校验 server_key
// GET /api/plugin/health/:serverKey
func (h *Handler) PluginHealth(c *gin.Context) {
	server, err := h.deliveryService.ServerHealth(c.Request.Context(), c.Param("serverKey"))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"status":      "ok",
		"server_id":   server.ID,
		"server_name": server.Name,
	})
}

// PendingDeliveries 插件拉取待发货记录
// GET /api/plugin/pending-deliveries/:serverKey
func (h *Handler) PendingDeliveries(c *gin.Context) {
	list, err := h.deliveryService.PendingForServer(c.Request.Context(), c.Param("serverKey"))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"deliveries": list,
		"count":      len(list),
	})
}

// MarkDelivered 插件回报发货结果
// POST /api/plugin/mark-delivered
func (h *Handler) MarkDelivered(c *gin.Context) {
	var req service.MarkDeliveredRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	d, err := h.deliveryService.MarkDelivered(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"delivery_id": d.ID,
		"status":      d.Status,
	})
}

// ============================================================
// 卖家接口（需要 JWT）
// ============================================================

// ListDeliveries 卖家查询发货记录
// GET /api/v1/deliveries?status=pending&page=1&page_size=20
func (h *Handler) ListDeliveries(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	list, total, err := h.deliveryService.ListForSeller(c.Request.Context(), sellerID(c), c.Query("status"), page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// RegisterServer 登记游戏服务器
// POST /api/v1/servers
func (h *Handler) RegisterServer(c *gin.Context) {
	var req service.RegisterServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	server, err := h.serverService.Register(c.Request.Context(), sellerID(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, server)
}

// ValidatePlayerRequest 玩家标识，SteamID 或名字
type ValidatePlayerRequest struct {
	Identifier string `json:"identifier" binding:"required"`
}

// ValidatePlayer 通过 RCON 检查玩家是否在线
// POST /api/v1/servers/:id/validate-player
func (h *Handler) ValidatePlayer(c *gin.Context) {
	serverID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}

	var req ValidatePlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.serverService.ValidatePlayer(c.Request.Context(), sellerID(c), serverID, req.Identifier)
	if err != nil {
		if errors.Is(err, repository.ErrServerNotFound) {
			writeError(c, err)
			return
		}
		log.Printf("[Handler] 查询玩家失败: server=%d, err=%v", serverID, err)
		response.BusinessError(c, response.CodePlayerLookup, "无法连接游戏服务器")
		return
	}

	response.Success(c, result)
}
