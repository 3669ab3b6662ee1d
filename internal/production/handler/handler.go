package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/bitfantasy/nimo-print/internal/production/service"
	"github.com/gin-gonic/gin"
)

// Handlers 生产处理器集合
type Handlers struct {
	Machine *MachineHandler
	Batch   *BatchHandler
	Spool   *SpoolHandler
	Order   *OrderHandler
	Report  *ReportHandler
}

// NewHandlers 创建生产处理器集合
func NewHandlers(svc *service.Services) *Handlers {
	return &Handlers{
		Machine: NewMachineHandler(svc.Machine, svc.Spool),
		Batch:   NewBatchHandler(svc.Batch, svc.MagicSort),
		Spool:   NewSpoolHandler(svc.Spool),
		Order:   NewOrderHandler(svc.Order),
		Report:  NewReportHandler(svc.Report),
	}
}

// RegisterRoutes 注册 /production 下的全部路由
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	machines := rg.Group("/machines")
	{
		machines.GET("/:id/slots", h.Machine.ListSlots)
		machines.POST("/:id/slots/:slotId/action", h.Machine.SlotAction)
		machines.GET("/:id/available-spools", h.Machine.AvailableSpools)
		machines.POST("/:id/batches/:batchId/start", h.Machine.Start)
		machines.POST("/:id/batches/:batchId/pause", h.Machine.Pause)
		machines.POST("/:id/batches/:batchId/finish", h.Machine.Finish)
		machines.POST("/:id/batches/:batchId/unassign", h.Machine.Unassign)
	}

	rg.GET("/board", h.Machine.Board)
	rg.GET("/board/version", h.Machine.BoardVersion)

	batches := rg.Group("/batches")
	{
		batches.GET("", h.Batch.List)
		batches.POST("", h.Batch.Create)
		batches.POST("/magic-sort", h.Batch.MagicSort)
		batches.POST("/move-orders", h.Batch.MoveOrders)
		batches.GET("/:id", h.Batch.Get)
		batches.POST("/:id/orders", h.Batch.AppendOrders)
		batches.POST("/:id/orders/remove", h.Batch.RemoveOrders)
		batches.POST("/:id/usage", h.Batch.RecordUsage)
		batches.POST("/:id/close", h.Batch.Close)
	}

	orders := rg.Group("/orders")
	{
		orders.GET("", h.Order.List)
		orders.POST("", h.Order.Create)
		orders.GET("/backlog", h.Order.Backlog)
		orders.GET("/:id", h.Order.Get)
		orders.POST("/:id/cancel", h.Order.Cancel)
	}

	spools := rg.Group("/spools")
	{
		spools.GET("", h.Spool.List)
		spools.POST("", h.Spool.Receive)
		spools.GET("/candidate", h.Spool.Candidate)
		spools.GET("/:id", h.Spool.Get)
		spools.POST("/:id/adjust", h.Spool.Adjust)
		spools.POST("/:id/correct", h.Spool.Correct)
		spools.POST("/:id/close", h.Spool.Close)
		spools.GET("/:id/movements", h.Spool.Movements)
		spools.GET("/:id/reconcile", h.Spool.Reconcile)
	}

	reports := rg.Group("/reports")
	{
		reports.GET("/movements", h.Report.ListMovements)
		reports.GET("/movements/export", h.Report.ExportMovements)
		reports.GET("/waste", h.Report.Waste)
	}
}

// === 响应辅助函数 ===

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Error codes
const (
	CodeValidation = 40000
	CodeNotFound   = 40400
	CodeConflict   = 40900
	CodeIncomplete = 40910
	CodeInvariant  = 42200
	CodeInternal   = 50000
)

func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, CodeValidation, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, CodeNotFound, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, CodeInternal, message)
}

// errorCode maps a service error kind to its response code.
func errorCode(err error) int {
	var e *service.Error
	if !errors.As(err, &e) {
		return CodeInternal
	}
	switch e.Kind {
	case service.KindValidation:
		return CodeValidation
	case service.KindNotFound:
		return CodeNotFound
	case service.KindConflict:
		return CodeConflict
	case service.KindIncomplete:
		return CodeIncomplete
	case service.KindInvariant:
		return CodeInvariant
	}
	return CodeInternal
}

// Fail writes a typed service error, or a 500 for anything else.
func Fail(c *gin.Context, err error) {
	code := errorCode(err)
	if code == CodeInternal {
		InternalError(c, "internal error: "+err.Error())
		return
	}
	Error(c, code, err.Error())
}

func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetActor 操作人：优先用户名，其次用户ID
func GetActor(c *gin.Context) string {
	if name := c.GetString("user_name"); name != "" {
		return name
	}
	return GetUserID(c)
}

func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}

func listResponse(items interface{}, total int64, page, pageSize int) ListResponse {
	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}
	return ListResponse{
		Items: items,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: totalPages,
		},
	}
}

// parseTime accepts RFC3339 or a plain date.
func parseTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, value, time.Local)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
