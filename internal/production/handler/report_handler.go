package handler

import (
	"github.com/bitfantasy/nimo-print/internal/production/repository"
	"github.com/bitfantasy/nimo-print/internal/production/service"
	"github.com/gin-gonic/gin"
)

// ReportHandler 报表处理器
type ReportHandler struct {
	svc *service.ReportService
}

func NewReportHandler(svc *service.ReportService) *ReportHandler {
	return &ReportHandler{svc: svc}
}

func movementFilter(c *gin.Context) (repository.MovementFilter, error) {
	f := repository.MovementFilter{
		SpoolID:   c.Query("spool_id"),
		MachineID: c.Query("machine_id"),
		Type:      c.Query("type"),
	}
	var err error
	if f.From, err = parseTime(c.Query("from")); err != nil {
		return f, err
	}
	if f.To, err = parseTime(c.Query("to")); err != nil {
		return f, err
	}
	return f, nil
}

// ListMovements 流水查询
// GET /api/v1/production/reports/movements?spool_id=&machine_id=&type=&from=&to=
func (h *ReportHandler) ListMovements(c *gin.Context) {
	f, err := movementFilter(c)
	if err != nil {
		BadRequest(c, "时间格式错误: "+err.Error())
		return
	}
	f.Page, f.Size = GetPagination(c)
	items, total, err := h.svc.ListMovements(c.Request.Context(), f)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, listResponse(items, total, f.Page, f.Size))
}

// ExportMovements 导出流水xlsx
// GET /api/v1/production/reports/movements/export
func (h *ReportHandler) ExportMovements(c *gin.Context) {
	f, err := movementFilter(c)
	if err != nil {
		BadRequest(c, "时间格式错误: "+err.Error())
		return
	}
	file, filename, err := h.svc.ExportMovements(c.Request.Context(), f)
	if err != nil {
		Fail(c, err)
		return
	}
	defer file.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Transfer-Encoding", "binary")

	if err := file.Write(c.Writer); err != nil {
		InternalError(c, "write excel: "+err.Error())
	}
}

// Waste 损耗汇总
// GET /api/v1/production/reports/waste?area_id=xxx
func (h *ReportHandler) Waste(c *gin.Context) {
	rows, err := h.svc.WasteSummary(c.Request.Context(), c.Query("area_id"))
	if err != nil {
		InternalError(c, "获取损耗汇总失败: "+err.Error())
		return
	}
	Success(c, rows)
}
