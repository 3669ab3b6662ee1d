package handler

import (
	"fmt"
	"strings"

	"github.com/bitfantasy/nimo-print/internal/production/service"
	"github.com/gin-gonic/gin"
)

// MachineHandler 设备与槽位处理器
type MachineHandler struct {
	svc   *service.MachineService
	spool *service.SpoolService
}

func NewMachineHandler(svc *service.MachineService, spool *service.SpoolService) *MachineHandler {
	return &MachineHandler{svc: svc, spool: spool}
}

// ListSlots 设备槽位
// GET /api/v1/production/machines/:id/slots
func (h *MachineHandler) ListSlots(c *gin.Context) {
	slots, err := h.svc.Slots(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, slots)
}

// SlotActionRequest 槽位操作
type SlotActionRequest struct {
	Action     string  `json:"action" binding:"required"` // MOUNT, UNMOUNT, REFILL
	SpoolID    string  `json:"spool_id"`
	SpoolLabel string  `json:"spool_label"`
	Quantity   float64 `json:"quantity"`
	FinalState string  `json:"final_state"`
	Comment    string  `json:"comment"`
}

func (r SlotActionRequest) spoolRef() service.SpoolRef {
	if r.SpoolLabel != "" {
		return service.SpoolByLabel(r.SpoolLabel)
	}
	return service.SpoolByID(r.SpoolID)
}

// SlotAction 挂载/卸载/补充
// POST /api/v1/production/machines/:id/slots/:slotId/action
func (h *MachineHandler) SlotAction(c *gin.Context) {
	var req SlotActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	machineID, slotID := c.Param("id"), c.Param("slotId")
	actor := GetActor(c)

	switch strings.ToUpper(req.Action) {
	case "MOUNT":
		slot, err := h.spool.Mount(ctx, machineID, slotID, req.spoolRef(), req.Comment, actor)
		if err != nil {
			Fail(c, err)
			return
		}
		Success(c, gin.H{
			"success": true,
			"message": fmt.Sprintf("spool %s mounted on %s", slot.Spool.LabelCode, slot.Name),
			"slot":    slot,
		})
	case "UNMOUNT":
		spool, err := h.spool.Unmount(ctx, machineID, slotID, strings.ToUpper(req.FinalState), req.Comment, actor)
		if err != nil {
			Fail(c, err)
			return
		}
		Success(c, gin.H{
			"success": true,
			"message": fmt.Sprintf("spool %s unmounted, state %s", spool.LabelCode, spool.State),
			"spool":   spool,
		})
	case "REFILL":
		spool, err := h.spool.Refill(ctx, machineID, slotID, req.Quantity, req.Comment, actor)
		if err != nil {
			Fail(c, err)
			return
		}
		Success(c, gin.H{
			"success": true,
			"message": fmt.Sprintf("spool %s refilled, remaining %.2f %s", spool.LabelCode, spool.RemainingQty, spool.Unit),
			"spool":   spool,
		})
	default:
		BadRequest(c, "unknown action "+req.Action+", expected MOUNT, UNMOUNT or REFILL")
	}
}

// AvailableSpools 候选卷料（FIFO）
// GET /api/v1/production/machines/:id/available-spools?material=xxx&slot_type=SPOOL|CONSUMABLE
func (h *MachineHandler) AvailableSpools(c *gin.Context) {
	spools, err := h.spool.Candidates(c.Request.Context(), c.Param("id"), c.Query("material"),
		strings.ToUpper(c.Query("slot_type")))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, spools)
}

// Start 批次上机
// POST /api/v1/production/machines/:id/batches/:batchId/start
func (h *MachineHandler) Start(c *gin.Context) {
	batch, err := h.svc.Start(c.Request.Context(), c.Param("batchId"), c.Param("id"), GetActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, batch)
}

// Pause POST /api/v1/production/machines/:id/batches/:batchId/pause
func (h *MachineHandler) Pause(c *gin.Context) {
	batch, err := h.svc.Pause(c.Request.Context(), c.Param("batchId"), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, batch)
}

// FinishRequest destination 为 PRODUCTION 或 QUALITY
type FinishRequest struct {
	Destination string `json:"destination"`
}

// Finish POST /api/v1/production/machines/:id/batches/:batchId/finish
func (h *MachineHandler) Finish(c *gin.Context) {
	var req FinishRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, "参数错误: "+err.Error())
			return
		}
	}
	batch, err := h.svc.Finish(c.Request.Context(), c.Param("batchId"), c.Param("id"), strings.ToUpper(req.Destination))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, batch)
}

// Unassign POST /api/v1/production/machines/:id/batches/:batchId/unassign
func (h *MachineHandler) Unassign(c *gin.Context) {
	batch, err := h.svc.Unassign(c.Request.Context(), c.Param("batchId"), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, batch)
}

// Board 生产看板
// GET /api/v1/production/board?area_id=xxx
func (h *MachineHandler) Board(c *gin.Context) {
	view, err := h.svc.Board(c.Request.Context(), c.Query("area_id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, view)
}

// BoardVersion GET /api/v1/production/board/version?area_id=xxx
func (h *MachineHandler) BoardVersion(c *gin.Context) {
	areaID := c.Query("area_id")
	version, err := h.svc.BoardVersion(c.Request.Context(), areaID)
	if err != nil {
		InternalError(c, "获取看板版本失败: "+err.Error())
		return
	}
	Success(c, gin.H{"area_id": areaID, "version": version})
}
