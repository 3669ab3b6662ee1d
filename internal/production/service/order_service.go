package service

import (
	"context"
	"fmt"

	"github.com/bitfantasy/nimo-print/internal/config"
	"github.com/bitfantasy/nimo-print/internal/production/entity"
	"github.com/bitfantasy/nimo-print/internal/production/repository"
	"github.com/google/uuid"
)

// OrderService 待排订单池，订单由接单系统写入
type OrderService struct {
	repos *repository.Repositories
	cfg   config.ProductionConfig
	board BoardNotifier
}

func NewOrderService(repos *repository.Repositories, cfg config.ProductionConfig, board BoardNotifier) *OrderService {
	return &OrderService{repos: repos, cfg: cfg, board: board}
}

// CreateOrderRequest 订单接入
type CreateOrderRequest struct {
	Code     string  `json:"code"`
	Material string  `json:"material"`
	Variant  string  `json:"variant"`
	AreaID   string  `json:"area_id"`
	Quantity float64 `json:"quantity" binding:"required,gt=0"`
	Unit     string  `json:"unit"`
	Priority int     `json:"priority"`
	Notes    string  `json:"notes"`
}

// Create registers a PENDING order. An empty material is accepted;
// such orders are batched alone.
func (s *OrderService) Create(ctx context.Context, req CreateOrderRequest) (*entity.Order, error) {
	if req.Quantity <= 0 {
		return nil, validation("quantity must be greater than zero")
	}
	code := cleanName(req.Code)
	if code == "" {
		code = generateCode("ORD")
	}
	unit := req.Unit
	if unit == "" {
		unit = s.cfg.DefaultUnit
	}

	order := &entity.Order{
		ID:       uuid.New().String(),
		Code:     code,
		Material: cleanName(req.Material),
		Variant:  cleanName(req.Variant),
		AreaID:   req.AreaID,
		Quantity: req.Quantity,
		Unit:     unit,
		Status:   entity.OrderStatusPending,
		Priority: req.Priority,
		Notes:    req.Notes,
	}
	if err := s.repos.Order.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.board.Touch(ctx, order.AreaID)
	return order, nil
}

func (s *OrderService) Get(ctx context.Context, id string) (*entity.Order, error) {
	order, err := s.repos.Order.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrOrderNotFound, "order %s not found", id)
	}
	return order, nil
}

// Backlog 区域内未排批订单，优先级高的在前
func (s *OrderService) Backlog(ctx context.Context, areaID string) ([]entity.Order, error) {
	return s.repos.Order.ListBacklog(ctx, areaID)
}

func (s *OrderService) List(ctx context.Context, params repository.OrderListParams) ([]entity.Order, int64, error) {
	return s.repos.Order.List(ctx, params)
}

// Cancel withdraws an order that is not on a machine. It leaves its batch
// and the batch planned quantity is recomputed.
func (s *OrderService) Cancel(ctx context.Context, id string) (*entity.Order, error) {
	var order *entity.Order
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		found, missing, err := tx.Order.FindByIDsForUpdate(ctx, []string{id})
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return newError(ErrOrderNotFound, "order %s not found", id)
		}
		o := found[0]
		switch o.Status {
		case entity.OrderStatusInMachine:
			return newError(ErrOrderState, "order %s is on a machine, finish or unassign the batch first", o.Code)
		case entity.OrderStatusDone, entity.OrderStatusQuality, entity.OrderStatusCanceled:
			return newError(ErrOrderState, "order %s is already %s", o.Code, o.Status)
		}
		if err := tx.Order.UpdateFields(ctx, o.ID, map[string]interface{}{
			"status":         entity.OrderStatusCanceled,
			"batch_id":       nil,
			"batch_position": 0,
		}); err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}
		if o.BatchID != nil {
			if err := refreshPlanned(ctx, tx, &entity.Batch{ID: *o.BatchID}); err != nil {
				return err
			}
		}
		o.Status = entity.OrderStatusCanceled
		o.BatchID = nil
		o.BatchPosition = 0
		order = &o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.board.Touch(ctx, order.AreaID)
	return order, nil
}
