package handler

import (
	"github.com/bitfantasy/nimo-print/internal/production/repository"
	"github.com/bitfantasy/nimo-print/internal/production/service"
	"github.com/gin-gonic/gin"
)

// SpoolHandler 卷料处理器
type SpoolHandler struct {
	svc *service.SpoolService
}

func NewSpoolHandler(svc *service.SpoolService) *SpoolHandler {
	return &SpoolHandler{svc: svc}
}

// Receive 卷料入库
// POST /api/v1/production/spools
func (h *SpoolHandler) Receive(c *gin.Context) {
	var req service.ReceiveSpoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	spool, err := h.svc.Receive(c.Request.Context(), req, GetActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, spool)
}

// List GET /api/v1/production/spools?state=xxx&area_id=xxx&material=xxx
func (h *SpoolHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	items, total, err := h.svc.List(c.Request.Context(), repository.SpoolListParams{
		State:    c.Query("state"),
		AreaID:   c.Query("area_id"),
		Material: c.Query("material"),
		Page:     page,
		Size:     pageSize,
	})
	if err != nil {
		InternalError(c, "获取卷料列表失败: "+err.Error())
		return
	}
	Success(c, listResponse(items, total, page, pageSize))
}

// Candidate FIFO候选卷料
// GET /api/v1/production/spools/candidate?material=xxx&area_id=xxx
func (h *SpoolHandler) Candidate(c *gin.Context) {
	spool, err := h.svc.FindCandidate(c.Request.Context(), c.Query("material"), c.Query("area_id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, spool)
}

// Get GET /api/v1/production/spools/:id
func (h *SpoolHandler) Get(c *gin.Context) {
	spool, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, spool)
}

// Adjust POST /api/v1/production/spools/:id/adjust
func (h *SpoolHandler) Adjust(c *gin.Context) {
	var req service.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	spool, err := h.svc.Adjust(c.Request.Context(), c.Param("id"), req, GetActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, spool)
}

// CorrectRequest 盘点修正为实测值
type CorrectRequest struct {
	Target *float64 `json:"target" binding:"required"`
	Reason string   `json:"reason" binding:"required"`
}

// Correct POST /api/v1/production/spools/:id/correct
func (h *SpoolHandler) Correct(c *gin.Context) {
	var req CorrectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	spool, err := h.svc.Correct(c.Request.Context(), c.Param("id"), *req.Target, req.Reason, GetActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, spool)
}

// Close 结卷
// POST /api/v1/production/spools/:id/close
func (h *SpoolHandler) Close(c *gin.Context) {
	var req service.CloseSpoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	result, err := h.svc.Close(c.Request.Context(), c.Param("id"), req, GetActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}

// Movements GET /api/v1/production/spools/:id/movements
func (h *SpoolHandler) Movements(c *gin.Context) {
	page, pageSize := GetPagination(c)
	items, total, err := h.svc.Movements(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, listResponse(items, total, page, pageSize))
}

// Reconcile GET /api/v1/production/spools/:id/reconcile
func (h *SpoolHandler) Reconcile(c *gin.Context) {
	result, err := h.svc.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}
