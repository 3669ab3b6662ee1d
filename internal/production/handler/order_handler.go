package handler

import (
	"github.com/bitfantasy/nimo-print/internal/production/repository"
	"github.com/bitfantasy/nimo-print/internal/production/service"
	"github.com/gin-gonic/gin"
)

// OrderHandler 订单处理器
type OrderHandler struct {
	svc *service.OrderService
}

func NewOrderHandler(svc *service.OrderService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// Create 订单接入
// POST /api/v1/production/orders
func (h *OrderHandler) Create(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	order, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, order)
}

// Get GET /api/v1/production/orders/:id
func (h *OrderHandler) Get(c *gin.Context) {
	order, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, order)
}

// Backlog 待排批订单
// GET /api/v1/production/orders/backlog?area_id=xxx
func (h *OrderHandler) Backlog(c *gin.Context) {
	orders, err := h.svc.Backlog(c.Request.Context(), c.Query("area_id"))
	if err != nil {
		InternalError(c, "获取待排批订单失败: "+err.Error())
		return
	}
	Success(c, orders)
}

// List GET /api/v1/production/orders?status=xxx&area_id=xxx&batch_id=xxx&keyword=xxx
func (h *OrderHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	items, total, err := h.svc.List(c.Request.Context(), repository.OrderListParams{
		Status:  c.Query("status"),
		AreaID:  c.Query("area_id"),
		BatchID: c.Query("batch_id"),
		Keyword: c.Query("keyword"),
		Page:    page,
		Size:    pageSize,
	})
	if err != nil {
		InternalError(c, "获取订单列表失败: "+err.Error())
		return
	}
	Success(c, listResponse(items, total, page, pageSize))
}

// Cancel POST /api/v1/production/orders/:id/cancel
func (h *OrderHandler) Cancel(c *gin.Context) {
	order, err := h.svc.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, order)
}
