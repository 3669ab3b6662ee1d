package handler

import (
	"github.com/bitfantasy/nimo-print/internal/production/repository"
	"github.com/bitfantasy/nimo-print/internal/production/service"
	"github.com/gin-gonic/gin"
)

// BatchHandler 批次处理器
type BatchHandler struct {
	svc   *service.BatchService
	magic *service.MagicSortService
}

func NewBatchHandler(svc *service.BatchService, magic *service.MagicSortService) *BatchHandler {
	return &BatchHandler{svc: svc, magic: magic}
}

// List 批次列表
// GET /api/v1/production/batches?status=xxx&area_id=xxx&machine_id=xxx&material=xxx&page=1&page_size=20
func (h *BatchHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	items, total, err := h.svc.List(c.Request.Context(), repository.BatchListParams{
		Status:    c.Query("status"),
		AreaID:    c.Query("area_id"),
		MachineID: c.Query("machine_id"),
		Material:  c.Query("material"),
		Page:      page,
		Size:      pageSize,
	})
	if err != nil {
		InternalError(c, "获取批次列表失败: "+err.Error())
		return
	}
	Success(c, listResponse(items, total, page, pageSize))
}

// Get GET /api/v1/production/batches/:id
func (h *BatchHandler) Get(c *gin.Context) {
	batch, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, batch)
}

// Create 创建批次
// POST /api/v1/production/batches
func (h *BatchHandler) Create(c *gin.Context) {
	var req service.CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	result, err := h.svc.Create(c.Request.Context(), req, GetActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, result)
}

// OrderIDsRequest 订单ID列表
type OrderIDsRequest struct {
	OrderIDs []string `json:"order_ids" binding:"required,min=1"`
}

// AppendOrders POST /api/v1/production/batches/:id/orders
func (h *BatchHandler) AppendOrders(c *gin.Context) {
	var req OrderIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	batch, err := h.svc.AppendOrders(c.Request.Context(), c.Param("id"), req.OrderIDs)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, batch)
}

// RemoveOrders POST /api/v1/production/batches/:id/orders/remove
func (h *BatchHandler) RemoveOrders(c *gin.Context) {
	var req OrderIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	batch, err := h.svc.RemoveOrders(c.Request.Context(), c.Param("id"), req.OrderIDs)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, batch)
}

// MoveOrdersRequest 移单（合并到已有批次）
type MoveOrdersRequest struct {
	OrderIDs      []string `json:"order_ids" binding:"required,min=1"`
	TargetBatchID string   `json:"target_batch_id" binding:"required"`
}

// MoveOrders POST /api/v1/production/batches/move-orders
func (h *BatchHandler) MoveOrders(c *gin.Context) {
	var req MoveOrdersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	batch, err := h.svc.MoveOrders(c.Request.Context(), req.OrderIDs, req.TargetBatchID)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, batch)
}

// UsageRequest 用量上报
type UsageRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

// RecordUsage POST /api/v1/production/batches/:id/usage
func (h *BatchHandler) RecordUsage(c *gin.Context) {
	var req UsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	result, err := h.svc.RecordUsage(c.Request.Context(), c.Param("id"), req.Amount, GetActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}

// CloseRequest force=true 时强制关闭，未完成订单退回待排批
type CloseRequest struct {
	Force bool `json:"force"`
}

// Close POST /api/v1/production/batches/:id/close
func (h *BatchHandler) Close(c *gin.Context) {
	var req CloseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, "参数错误: "+err.Error())
			return
		}
	}
	result, err := h.svc.Close(c.Request.Context(), c.Param("id"), req.Force, GetActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}

// MagicSort 自动排批
// POST /api/v1/production/batches/magic-sort
func (h *BatchHandler) MagicSort(c *gin.Context) {
	var req service.MagicSortRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, "参数错误: "+err.Error())
			return
		}
	}
	result, err := h.magic.Run(c.Request.Context(), req, GetActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}
