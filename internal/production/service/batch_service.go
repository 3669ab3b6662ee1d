package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-print/internal/config"
	"github.com/bitfantasy/nimo-print/internal/production/entity"
	"github.com/bitfantasy/nimo-print/internal/production/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BatchService 批次生命周期：建批、加单、移单、用量、关闭
type BatchService struct {
	repos  *repository.Repositories
	cfg    config.ProductionConfig
	board  BoardNotifier
	logger *zap.Logger
}

func NewBatchService(repos *repository.Repositories, cfg config.ProductionConfig, board BoardNotifier, logger *zap.Logger) *BatchService {
	return &BatchService{repos: repos, cfg: cfg, board: board, logger: logger}
}

// CreateBatchRequest 创建批次
type CreateBatchRequest struct {
	Name     string   `json:"name"`
	Material string   `json:"material" binding:"required"`
	Variant  string   `json:"variant"`
	AreaID   string   `json:"area_id"`
	OrderIDs []string `json:"order_ids"`
	SpoolID  string   `json:"spool_id"`
	// AutoBind picks the FIFO spool when SpoolID is empty.
	AutoBind bool `json:"auto_bind"`
}

// CreateBatchResult carries the batch plus non-fatal notes such as a
// missing spool for auto binding.
type CreateBatchResult struct {
	Batch    *entity.Batch `json:"batch"`
	Warnings []string      `json:"warnings,omitempty"`
}

func (s *BatchService) Create(ctx context.Context, req CreateBatchRequest, actor string) (*CreateBatchResult, error) {
	actor = actorOr(actor, s.cfg)

	var result *CreateBatchResult
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		result, err = s.createInTx(ctx, tx, req, actor, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.created(ctx, result)
}

// created reloads the batch with its orders after commit and notifies the board.
func (s *BatchService) created(ctx context.Context, result *CreateBatchResult) (*CreateBatchResult, error) {
	batch, err := s.repos.Batch.FindByID(ctx, result.Batch.ID)
	if err != nil {
		return nil, err
	}
	result.Batch = batch
	s.logger.Info("batch created",
		zap.String("batch_id", batch.ID),
		zap.String("code", batch.Code),
		zap.String("material", batch.Material),
		zap.Int("orders", len(batch.Orders)),
		zap.Float64("capacity", batch.Capacity))
	s.warnOverCapacity(batch)
	s.board.Touch(ctx, batch.AreaID)
	return result, nil
}

// createInTx creates the batch and appends its orders inside tx.
// requireMaterial is false only for magic sort singletons.
func (s *BatchService) createInTx(ctx context.Context, tx *repository.Repositories, req CreateBatchRequest, actor string, requireMaterial bool) (*CreateBatchResult, error) {
	material := cleanName(req.Material)
	key := NormalizeKey(material)
	if requireMaterial && key == "" {
		return nil, validation("material is required")
	}

	result := &CreateBatchResult{}
	batch := &entity.Batch{
		ID:          uuid.New().String(),
		Code:        generateCode(s.cfg.BatchPrefix),
		Name:        cleanName(req.Name),
		Material:    material,
		Variant:     cleanName(req.Variant),
		MaterialKey: key,
		AreaID:      req.AreaID,
		Capacity:    s.cfg.DefaultBatchCapacity,
		Status:      entity.BatchStatusStaged,
		CreatedBy:   actor,
	}
	if batch.Name == "" {
		batch.Name = batch.Code
	}

	spool, warning, err := s.pickSpool(ctx, tx, req, key)
	if err != nil {
		return nil, err
	}
	if warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}
	if spool != nil {
		batch.SpoolID = &spool.ID
		batch.Capacity = spool.RemainingQty
	}

	if err := tx.Batch.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	if len(req.OrderIDs) > 0 {
		if err := appendInTx(ctx, tx, batch, req.OrderIDs); err != nil {
			return nil, err
		}
	}
	result.Batch = batch
	return result, nil
}

// pickSpool locks the requested spool or, with AutoBind, the FIFO
// candidate of the material. Only ROLL spools back a batch.
func (s *BatchService) pickSpool(ctx context.Context, tx *repository.Repositories, req CreateBatchRequest, key string) (*entity.Spool, string, error) {
	if req.SpoolID != "" {
		spool, err := tx.Spool.FindForUpdate(ctx, req.SpoolID)
		if err != nil {
			return nil, "", notFound(err, ErrSpoolNotFound, "spool %s not found", req.SpoolID)
		}
		if spool.State == entity.SpoolStateExhausted || spool.RemainingQty <= 0 {
			return nil, "", newError(ErrSpoolNotAvailable, "spool %s not available, current state: %s, remaining %.2f %s",
				spool.LabelCode, spool.State, spool.RemainingQty, spool.Unit)
		}
		if spool.Kind != entity.SpoolKindRoll {
			return nil, "", newError(ErrSpoolKind, "spool %s is a %s spool, batches run on %s spools",
				spool.LabelCode, spool.Kind, entity.SpoolKindRoll)
		}
		if key != "" && spool.MaterialKey != key {
			return nil, "", newError(ErrMaterialMismatch, "spool %s holds %q, batch needs %q",
				spool.LabelCode, spool.Material, req.Material)
		}
		return spool, "", nil
	}
	if !req.AutoBind || key == "" {
		return nil, "", nil
	}
	spool, err := tx.Spool.FindCandidate(ctx, key, entity.SpoolKindRoll, req.AreaID, true)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Sprintf("no spool with stock for material %q, using default capacity %.2f",
			req.Material, s.cfg.DefaultBatchCapacity), nil
	}
	if err != nil {
		return nil, "", err
	}
	return spool, "", nil
}

// appendInTx adds PENDING orders after the current last position, in
// caller order. The batch row must already be locked or freshly created.
func appendInTx(ctx context.Context, tx *repository.Repositories, batch *entity.Batch, orderIDs []string) error {
	if !batch.Open() {
		return newError(ErrBatchClosed, "batch %s is closed", batch.Code)
	}
	orders, missing, err := tx.Order.FindByIDsForUpdate(ctx, orderIDs)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return newError(ErrOrderNotFound, "orders not found: %v", missing)
	}
	for _, o := range orders {
		if o.BatchID != nil {
			return newError(ErrOrderAssigned, "order %s already belongs to a batch, move it instead", o.Code)
		}
		if o.Status != entity.OrderStatusPending {
			return newError(ErrOrderState, "order %s is %s, only %s orders can be batched",
				o.Code, o.Status, entity.OrderStatusPending)
		}
	}

	pos, err := tx.Order.MaxPosition(ctx, batch.ID)
	if err != nil {
		return err
	}
	status := orderStatusFor(batch)
	for _, o := range orders {
		pos++
		if err := tx.Order.UpdateFields(ctx, o.ID, map[string]interface{}{
			"batch_id":       batch.ID,
			"batch_position": pos,
			"status":         status,
		}); err != nil {
			return fmt.Errorf("assign order %s: %w", o.Code, err)
		}
	}
	return refreshPlanned(ctx, tx, batch)
}

// orderStatusFor 批次运行中时新加订单直接进入上机状态
func orderStatusFor(batch *entity.Batch) string {
	if batch.Status == entity.BatchStatusRunning {
		return entity.OrderStatusInMachine
	}
	return entity.OrderStatusInBatch
}

func refreshPlanned(ctx context.Context, tx *repository.Repositories, batch *entity.Batch) error {
	planned, err := tx.Order.SumPlanned(ctx, batch.ID)
	if err != nil {
		return err
	}
	if err := tx.Batch.UpdateFields(ctx, batch.ID, map[string]interface{}{"planned_qty": planned}); err != nil {
		return fmt.Errorf("update planned quantity: %w", err)
	}
	batch.PlannedQty = planned
	return nil
}

// AppendOrders appends PENDING orders to an open batch.
func (s *BatchService) AppendOrders(ctx context.Context, batchID string, orderIDs []string) (*entity.Batch, error) {
	if len(orderIDs) == 0 {
		return nil, validation("order_ids is required")
	}
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		batch, err := tx.Batch.FindForUpdate(ctx, batchID)
		if err != nil {
			return notFound(err, ErrBatchNotFound, "batch %s not found", batchID)
		}
		return appendInTx(ctx, tx, batch, orderIDs)
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, batchID)
}

// MoveOrders detaches orders from their batches and appends them to the
// target atomically. Source planned quantities are recomputed.
func (s *BatchService) MoveOrders(ctx context.Context, orderIDs []string, targetBatchID string) (*entity.Batch, error) {
	if len(orderIDs) == 0 {
		return nil, validation("order_ids is required")
	}
	if targetBatchID == "" {
		return nil, validation("target batch is required")
	}

	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		target, err := tx.Batch.FindForUpdate(ctx, targetBatchID)
		if err != nil {
			return notFound(err, ErrBatchNotFound, "batch %s not found", targetBatchID)
		}
		if !target.Open() {
			return newError(ErrBatchClosed, "batch %s is closed", target.Code)
		}
		orders, missing, err := tx.Order.FindByIDsForUpdate(ctx, orderIDs)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return newError(ErrOrderNotFound, "orders not found: %v", missing)
		}

		sources := make(map[string]bool)
		var moving []entity.Order
		for _, o := range orders {
			if o.Finished() {
				return newError(ErrOrderState, "order %s is %s and cannot be moved", o.Code, o.Status)
			}
			if o.BatchID != nil && *o.BatchID == target.ID {
				continue
			}
			if o.BatchID != nil {
				source, err := tx.Batch.FindForUpdate(ctx, *o.BatchID)
				if err != nil && !errors.Is(err, repository.ErrNotFound) {
					return err
				}
				if source != nil && source.Status == entity.BatchStatusClosed {
					return newError(ErrBatchClosed, "order %s sits in closed batch %s", o.Code, source.Code)
				}
				sources[*o.BatchID] = true
			}
			moving = append(moving, o)
		}

		pos, err := tx.Order.MaxPosition(ctx, target.ID)
		if err != nil {
			return err
		}
		status := orderStatusFor(target)
		for _, o := range moving {
			pos++
			if err := tx.Order.UpdateFields(ctx, o.ID, map[string]interface{}{
				"batch_id":       target.ID,
				"batch_position": pos,
				"status":         status,
			}); err != nil {
				return fmt.Errorf("move order %s: %w", o.Code, err)
			}
		}

		for id := range sources {
			if err := refreshPlanned(ctx, tx, &entity.Batch{ID: id}); err != nil {
				return err
			}
		}
		return refreshPlanned(ctx, tx, target)
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, targetBatchID)
}

// RemoveOrders sends orders of an open batch back to the backlog.
func (s *BatchService) RemoveOrders(ctx context.Context, batchID string, orderIDs []string) (*entity.Batch, error) {
	if len(orderIDs) == 0 {
		return nil, validation("order_ids is required")
	}
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		batch, err := tx.Batch.FindForUpdate(ctx, batchID)
		if err != nil {
			return notFound(err, ErrBatchNotFound, "batch %s not found", batchID)
		}
		if !batch.Open() {
			return newError(ErrBatchClosed, "batch %s is closed", batch.Code)
		}
		orders, missing, err := tx.Order.FindByIDsForUpdate(ctx, orderIDs)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return newError(ErrOrderNotFound, "orders not found: %v", missing)
		}
		for _, o := range orders {
			if o.BatchID == nil || *o.BatchID != batch.ID {
				return validation("order %s is not in batch %s", o.Code, batch.Code)
			}
			if o.Finished() {
				return newError(ErrOrderState, "order %s is %s and cannot leave the batch", o.Code, o.Status)
			}
			if err := tx.Order.UpdateFields(ctx, o.ID, map[string]interface{}{
				"batch_id":       nil,
				"batch_position": 0,
				"status":         entity.OrderStatusPending,
			}); err != nil {
				return fmt.Errorf("release order %s: %w", o.Code, err)
			}
		}
		return refreshPlanned(ctx, tx, batch)
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, batchID)
}

// UsageResult 用量记录结果
type UsageResult struct {
	Batch         *entity.Batch `json:"batch"`
	Usage         float64       `json:"usage"`
	SpoolConsumed float64       `json:"spool_consumed"`
	OverCapacity  bool          `json:"over_capacity"`
}

// RecordUsage adds consumption to the batch. A bound spool is written
// down by min(amount, remaining) in the same transaction, so it never
// underflows and never blocks. Capacity overflow is flagged only.
func (s *BatchService) RecordUsage(ctx context.Context, batchID string, amount float64, actor string) (*UsageResult, error) {
	if amount <= 0 {
		return nil, validation("usage amount must be greater than zero")
	}
	actor = actorOr(actor, s.cfg)

	result := &UsageResult{}
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		batch, err := tx.Batch.FindForUpdate(ctx, batchID)
		if err != nil {
			return notFound(err, ErrBatchNotFound, "batch %s not found", batchID)
		}
		if !batch.Open() {
			return newError(ErrBatchClosed, "batch %s is closed", batch.Code)
		}

		usage := batch.Usage + amount
		if err := tx.Batch.UpdateFields(ctx, batch.ID, map[string]interface{}{"usage": usage}); err != nil {
			return fmt.Errorf("update usage: %w", err)
		}
		result.Usage = usage

		if batch.SpoolID == nil {
			return nil
		}
		spool, err := tx.Spool.FindForUpdate(ctx, *batch.SpoolID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		consume := amount
		if spool.RemainingQty < consume {
			consume = spool.RemainingQty
		}
		if consume <= 0 {
			return nil
		}
		_, err = applyDelta(ctx, tx, spool, -consume, entity.MovementConsume,
			fmt.Sprintf("batch %s usage", batch.Code), actor,
			movementRefs{slotID: spool.SlotID, machineID: batch.MachineID, batchID: &batch.ID})
		if err != nil {
			return err
		}
		result.SpoolConsumed = consume
		return nil
	})
	if err != nil {
		return nil, err
	}

	batch, err := s.reload(ctx, batchID)
	if err != nil {
		return nil, err
	}
	result.Batch = batch
	result.OverCapacity = batch.OverCapacity
	s.warnOverCapacity(batch)
	return result, nil
}

// CloseBatchResult 关闭批次结果
type CloseBatchResult struct {
	Batch    *entity.Batch `json:"batch"`
	Released int64         `json:"released"`
}

// Close finalizes a RUNNING or PAUSED batch. Unfinished orders block the
// close unless force is set, in which case they go back to the backlog.
func (s *BatchService) Close(ctx context.Context, batchID string, force bool, actor string) (*CloseBatchResult, error) {
	actor = actorOr(actor, s.cfg)

	result := &CloseBatchResult{}
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		batch, err := tx.Batch.FindForUpdate(ctx, batchID)
		if err != nil {
			return notFound(err, ErrBatchNotFound, "batch %s not found", batchID)
		}
		switch batch.Status {
		case entity.BatchStatusClosed:
			return newError(ErrBatchClosed, "batch %s is already closed", batch.Code)
		case entity.BatchStatusStaged:
			return newError(ErrBatchState, "batch %s has not run yet, remove its orders instead of closing", batch.Code)
		}

		unfinished, err := tx.Order.CountUnfinished(ctx, batch.ID)
		if err != nil {
			return err
		}
		if unfinished > 0 {
			if !force {
				return newError(ErrIncompleteOrders, "batch %s still has %d unfinished orders", batch.Code, unfinished)
			}
			released, err := tx.Order.ReleaseUnfinished(ctx, batch.ID)
			if err != nil {
				return fmt.Errorf("release orders: %w", err)
			}
			result.Released = released
		}

		now := time.Now()
		if err := tx.Batch.UpdateFields(ctx, batch.ID, map[string]interface{}{
			"status":    entity.BatchStatusClosed,
			"closed_at": now,
		}); err != nil {
			return fmt.Errorf("close batch: %w", err)
		}
		return refreshPlanned(ctx, tx, batch)
	})
	if err != nil {
		return nil, err
	}

	batch, err := s.reload(ctx, batchID)
	if err != nil {
		return nil, err
	}
	result.Batch = batch
	s.logger.Info("batch closed",
		zap.String("batch_id", batch.ID),
		zap.String("code", batch.Code),
		zap.Bool("force", force),
		zap.Int64("released", result.Released),
		zap.String("actor", actor))
	return result, nil
}

func (s *BatchService) Get(ctx context.Context, id string) (*entity.Batch, error) {
	batch, err := s.repos.Batch.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrBatchNotFound, "batch %s not found", id)
	}
	return batch, nil
}

func (s *BatchService) List(ctx context.Context, params repository.BatchListParams) ([]entity.Batch, int64, error) {
	if params.Material != "" {
		params.Material = NormalizeKey(params.Material)
	}
	return s.repos.Batch.List(ctx, params)
}

// reload 提交后重新加载批次并通知看板
func (s *BatchService) reload(ctx context.Context, id string) (*entity.Batch, error) {
	batch, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.board.Touch(ctx, batch.AreaID)
	return batch, nil
}

func (s *BatchService) warnOverCapacity(batch *entity.Batch) {
	if !batch.OverCapacity {
		return
	}
	s.logger.Warn("batch over capacity",
		zap.String("batch_id", batch.ID),
		zap.String("code", batch.Code),
		zap.Float64("usage", batch.Usage),
		zap.Float64("planned", batch.PlannedQty),
		zap.Float64("capacity", batch.Capacity))
}
