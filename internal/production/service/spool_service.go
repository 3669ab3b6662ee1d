package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bitfantasy/nimo-print/internal/config"
	"github.com/bitfantasy/nimo-print/internal/production/entity"
	"github.com/bitfantasy/nimo-print/internal/production/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// quantities below this are treated as zero
const qtyEpsilon = 1e-9

// SpoolService 卷料库存与分配（FIFO、挂载/卸载、调整、结卷）
type SpoolService struct {
	repos  *repository.Repositories
	cfg    config.ProductionConfig
	board  BoardNotifier
	logger *zap.Logger
}

func NewSpoolService(repos *repository.Repositories, cfg config.ProductionConfig, board BoardNotifier, logger *zap.Logger) *SpoolService {
	return &SpoolService{repos: repos, cfg: cfg, board: board, logger: logger}
}

type movementRefs struct {
	slotID    *string
	machineID *string
	batchID   *string
}

// applyDelta changes the remaining quantity of a locked spool and appends
// the matching movement. The caller owns the transaction.
func applyDelta(ctx context.Context, tx *repository.Repositories, spool *entity.Spool, delta float64, movementType, reason, actor string, refs movementRefs) (*entity.Movement, error) {
	before := spool.RemainingQty
	after := before + delta
	if after < -qtyEpsilon {
		return nil, newError(ErrWouldUnderflow,
			"adjustment of %.4f would leave spool %s below zero (remaining %.4f %s)",
			delta, spool.LabelCode, before, spool.Unit)
	}
	if after < 0 {
		after = 0
	}
	if err := tx.Spool.UpdateFields(ctx, spool.ID, map[string]interface{}{"remaining_qty": after}); err != nil {
		return nil, fmt.Errorf("update spool quantity: %w", err)
	}
	spool.RemainingQty = after

	m := &entity.Movement{
		ID:        uuid.New().String(),
		SpoolID:   spool.ID,
		SlotID:    refs.slotID,
		MachineID: refs.machineID,
		BatchID:   refs.batchID,
		Type:      movementType,
		Delta:     delta,
		BeforeQty: before,
		AfterQty:  after,
		Reason:    reason,
		Actor:     actor,
	}
	if err := tx.Movement.Append(ctx, m); err != nil {
		return nil, fmt.Errorf("append movement: %w", err)
	}
	return m, nil
}

// ReceiveSpoolRequest 卷料入库
type ReceiveSpoolRequest struct {
	LabelCode  string     `json:"label_code"`
	MaterialID string     `json:"material_id"`
	Material   string     `json:"material" binding:"required"`
	AreaID     string     `json:"area_id"`
	Kind       string     `json:"kind"`
	Quantity   float64    `json:"quantity" binding:"required,gt=0"`
	Unit       string     `json:"unit"`
	IngressAt  *time.Time `json:"ingress_at"`
	Notes      string     `json:"notes"`
}

// Receive registers a new spool on stock ingress.
func (s *SpoolService) Receive(ctx context.Context, req ReceiveSpoolRequest, actor string) (*entity.Spool, error) {
	material := cleanName(req.Material)
	if material == "" {
		return nil, validation("material is required")
	}
	if req.Quantity <= 0 {
		return nil, validation("quantity must be greater than zero")
	}
	kind := req.Kind
	if kind == "" {
		kind = entity.SpoolKindRoll
	}
	if kind != entity.SpoolKindRoll && kind != entity.SpoolKindConsumable {
		return nil, validation("unknown spool kind %q", req.Kind)
	}
	label := cleanName(req.LabelCode)
	if label == "" {
		label = generateCode(s.cfg.LabelPrefix)
	}
	unit := req.Unit
	if unit == "" {
		unit = s.cfg.DefaultUnit
	}
	ingress := time.Now().UTC()
	if req.IngressAt != nil {
		ingress = req.IngressAt.UTC()
	}
	actor = actorOr(actor, s.cfg)

	spool := &entity.Spool{
		ID:           uuid.New().String(),
		LabelCode:    label,
		MaterialID:   req.MaterialID,
		Material:     material,
		MaterialKey:  NormalizeKey(material),
		AreaID:       req.AreaID,
		Kind:         kind,
		InitialQty:   req.Quantity,
		RemainingQty: req.Quantity,
		Unit:         unit,
		State:        entity.SpoolStateAvailable,
		IngressAt:    ingress,
		CreatedBy:    actor,
	}

	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if err := tx.Spool.Create(ctx, spool); err != nil {
			return fmt.Errorf("create spool: %w", err)
		}
		reason := "ingress"
		if req.Notes != "" {
			reason = req.Notes
		}
		// 初始数量计入 initial_qty，入库流水 delta 为0
		return tx.Movement.Append(ctx, &entity.Movement{
			SpoolID:   spool.ID,
			Type:      entity.MovementIngress,
			BeforeQty: spool.InitialQty,
			AfterQty:  spool.InitialQty,
			Reason:    reason,
			Actor:     actor,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("spool received",
		zap.String("spool_id", spool.ID),
		zap.String("label", spool.LabelCode),
		zap.String("material", spool.Material),
		zap.Float64("quantity", spool.InitialQty))
	s.board.Touch(ctx, spool.AreaID)
	return spool, nil
}

func (s *SpoolService) Get(ctx context.Context, id string) (*entity.Spool, error) {
	spool, err := s.repos.Spool.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrSpoolNotFound, "spool %s not found", id)
	}
	return spool, nil
}

func (s *SpoolService) List(ctx context.Context, params repository.SpoolListParams) ([]entity.Spool, int64, error) {
	if params.Material != "" {
		params.Material = NormalizeKey(params.Material)
	}
	return s.repos.Spool.List(ctx, params)
}

// FindCandidate returns the oldest eligible roll of the material.
func (s *SpoolService) FindCandidate(ctx context.Context, material, areaID string) (*entity.Spool, error) {
	key := NormalizeKey(material)
	if key == "" {
		return nil, validation("material is required")
	}
	spool, err := s.repos.Spool.FindCandidate(ctx, key, entity.SpoolKindRoll, areaID, false)
	if err != nil {
		return nil, notFound(err, ErrSpoolNotFound, "no spool with remaining stock for material %q", material)
	}
	return spool, nil
}

// Candidates 设备所在区域可挂到该类型槽位的卷料，按FIFO排序。
// slotType 为空时按卷材槽位处理。
func (s *SpoolService) Candidates(ctx context.Context, machineID, material, slotType string) ([]entity.Spool, error) {
	machine, err := s.repos.Machine.FindByID(ctx, machineID)
	if err != nil {
		return nil, notFound(err, ErrMachineNotFound, "machine %s not found", machineID)
	}
	switch slotType {
	case "", entity.SlotTypeSpool, entity.SlotTypeConsumable:
	default:
		return nil, validation("slot type must be %s or %s", entity.SlotTypeSpool, entity.SlotTypeConsumable)
	}
	return s.repos.Spool.ListCandidates(ctx, NormalizeKey(material), entity.SpoolKindFor(slotType),
		machine.AreaID, s.cfg.CandidateLimit)
}

func (s *SpoolService) resolve(ctx context.Context, tx *repository.Repositories, ref SpoolRef) (*entity.Spool, error) {
	var (
		spool *entity.Spool
		err   error
	)
	if ref.label != "" {
		spool, err = tx.Spool.FindByLabelForUpdate(ctx, ref.label)
	} else {
		spool, err = tx.Spool.FindForUpdate(ctx, ref.id)
	}
	if err != nil {
		return nil, notFound(err, ErrSpoolNotFound, "spool %s not found", ref)
	}
	return spool, nil
}

// lockSlot 锁定槽位并校验归属设备
func lockSlot(ctx context.Context, tx *repository.Repositories, machineID, slotID string) (*entity.Slot, error) {
	slot, err := tx.Machine.FindSlotForUpdate(ctx, slotID)
	if err != nil {
		return nil, notFound(err, ErrSlotNotFound, "slot %s not found", slotID)
	}
	if slot.MachineID != machineID {
		return nil, newError(ErrSlotMismatch, "slot %s does not belong to machine %s", slot.Name, machineID)
	}
	return slot, nil
}

// Mount binds a spool to an empty slot.
//
// Checks run in a fixed order: slot exists, slot belongs to the machine,
// slot is empty, spool exists, spool kind fits the slot, spool is
// AVAILABLE. Mounting an IN_USE spool onto an empty slot therefore fails
// with ErrSpoolNotAvailable, onto an occupied slot with ErrSlotOccupied.
func (s *SpoolService) Mount(ctx context.Context, machineID, slotID string, ref SpoolRef, comment, actor string) (*entity.Slot, error) {
	if ref.IsZero() {
		return nil, validation("spool id or label is required")
	}
	actor = actorOr(actor, s.cfg)

	var (
		slot   *entity.Slot
		spool  *entity.Spool
		areaID string
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		slot, err = lockSlot(ctx, tx, machineID, slotID)
		if err != nil {
			return err
		}
		if slot.SpoolID != nil {
			return newError(ErrSlotOccupied, "slot %s already has a spool mounted (%s)", slot.Name, *slot.SpoolID)
		}
		spool, err = s.resolve(ctx, tx, ref)
		if err != nil {
			return err
		}
		if !slot.AcceptsKind(spool.Kind) {
			return newError(ErrSlotMismatch, "slot %s (type %s) cannot hold a %s spool", slot.Name, slot.Type, spool.Kind)
		}
		if spool.State != entity.SpoolStateAvailable {
			return newError(ErrSpoolNotAvailable, "spool %s not available, current state: %s", spool.LabelCode, spool.State)
		}

		now := time.Now()
		if err := tx.Machine.UpdateSlotFields(ctx, slot.ID, map[string]interface{}{
			"spool_id":   spool.ID,
			"mounted_at": now,
		}); err != nil {
			return fmt.Errorf("bind slot: %w", err)
		}
		if err := tx.Spool.UpdateFields(ctx, spool.ID, map[string]interface{}{
			"state":   entity.SpoolStateInUse,
			"slot_id": slot.ID,
		}); err != nil {
			return fmt.Errorf("update spool state: %w", err)
		}
		reason := "mount"
		if comment != "" {
			reason = comment
		}
		if err := tx.Movement.Append(ctx, &entity.Movement{
			SpoolID:   spool.ID,
			SlotID:    &slot.ID,
			MachineID: &slot.MachineID,
			Type:      entity.MovementMount,
			BeforeQty: spool.RemainingQty,
			AfterQty:  spool.RemainingQty,
			Reason:    reason,
			Actor:     actor,
		}); err != nil {
			return fmt.Errorf("append movement: %w", err)
		}

		slot.SpoolID = &spool.ID
		slot.MountedAt = &now
		spool.State = entity.SpoolStateInUse
		spool.SlotID = &slot.ID
		slot.Spool = spool
		areaID = spool.AreaID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("spool mounted",
		zap.String("machine_id", machineID),
		zap.String("slot_id", slotID),
		zap.String("spool", spool.LabelCode),
		zap.String("actor", actor))
	s.board.Touch(ctx, areaID)
	return slot, nil
}

// Unmount clears a slot and leaves the spool in the requested final state.
func (s *SpoolService) Unmount(ctx context.Context, machineID, slotID, finalState, comment, actor string) (*entity.Spool, error) {
	if finalState == "" {
		finalState = entity.SpoolStateAvailable
	}
	if finalState != entity.SpoolStateAvailable && finalState != entity.SpoolStateExhausted {
		return nil, validation("final state must be %s or %s", entity.SpoolStateAvailable, entity.SpoolStateExhausted)
	}
	actor = actorOr(actor, s.cfg)

	var spool *entity.Spool
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		slot, err := lockSlot(ctx, tx, machineID, slotID)
		if err != nil {
			return err
		}
		if slot.SpoolID == nil {
			return newError(ErrSlotEmpty, "no spool mounted on slot %s", slot.Name)
		}
		spool, err = tx.Spool.FindForUpdate(ctx, *slot.SpoolID)
		if err != nil {
			return notFound(err, ErrSpoolNotFound, "spool %s not found", *slot.SpoolID)
		}
		return detach(ctx, tx, slot, spool, finalState, comment, actor)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("spool unmounted",
		zap.String("machine_id", machineID),
		zap.String("slot_id", slotID),
		zap.String("spool", spool.LabelCode),
		zap.String("final_state", finalState))
	s.board.Touch(ctx, spool.AreaID)
	return spool, nil
}

// detach 解除槽位绑定并记录卸载流水
func detach(ctx context.Context, tx *repository.Repositories, slot *entity.Slot, spool *entity.Spool, finalState, comment, actor string) error {
	if err := tx.Machine.UpdateSlotFields(ctx, slot.ID, map[string]interface{}{
		"spool_id":   nil,
		"mounted_at": nil,
	}); err != nil {
		return fmt.Errorf("clear slot: %w", err)
	}
	if err := tx.Spool.UpdateFields(ctx, spool.ID, map[string]interface{}{
		"state":   finalState,
		"slot_id": nil,
	}); err != nil {
		return fmt.Errorf("update spool state: %w", err)
	}
	reason := "unmount -> " + finalState
	if comment != "" {
		reason = comment + " (" + finalState + ")"
	}
	if err := tx.Movement.Append(ctx, &entity.Movement{
		SpoolID:   spool.ID,
		SlotID:    &slot.ID,
		MachineID: &slot.MachineID,
		Type:      entity.MovementUnmount,
		BeforeQty: spool.RemainingQty,
		AfterQty:  spool.RemainingQty,
		Reason:    reason,
		Actor:     actor,
	}); err != nil {
		return fmt.Errorf("append movement: %w", err)
	}
	spool.State = finalState
	spool.SlotID = nil
	return nil
}

// Refill tops up the spool mounted on a slot (ink, consumables).
func (s *SpoolService) Refill(ctx context.Context, machineID, slotID string, quantity float64, comment, actor string) (*entity.Spool, error) {
	if quantity <= 0 {
		return nil, validation("refill quantity must be greater than zero")
	}
	actor = actorOr(actor, s.cfg)

	var spool *entity.Spool
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		slot, err := lockSlot(ctx, tx, machineID, slotID)
		if err != nil {
			return err
		}
		if slot.SpoolID == nil {
			return newError(ErrSlotEmpty, "no spool mounted on slot %s", slot.Name)
		}
		spool, err = tx.Spool.FindForUpdate(ctx, *slot.SpoolID)
		if err != nil {
			return notFound(err, ErrSpoolNotFound, "spool %s not found", *slot.SpoolID)
		}
		reason := "refill"
		if comment != "" {
			reason = comment
		}
		_, err = applyDelta(ctx, tx, spool, quantity, entity.MovementRefill, reason, actor,
			movementRefs{slotID: &slot.ID, machineID: &slot.MachineID})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.board.Touch(ctx, spool.AreaID)
	return spool, nil
}

// AdjustRequest 数量调整，delta 正数增加、负数减少
type AdjustRequest struct {
	Delta  float64 `json:"delta"`
	Reason string  `json:"reason" binding:"required"`
	Type   string  `json:"type"` // CONSUME or CORRECTION
}

// Adjust applies a signed delta to the remaining quantity.
func (s *SpoolService) Adjust(ctx context.Context, spoolID string, req AdjustRequest, actor string) (*entity.Spool, error) {
	if req.Delta == 0 || math.IsNaN(req.Delta) || math.IsInf(req.Delta, 0) {
		return nil, validation("delta must be a non-zero number")
	}
	if req.Reason == "" {
		return nil, validation("reason is required")
	}
	movementType := req.Type
	if movementType == "" {
		movementType = entity.MovementCorrection
	}
	if movementType != entity.MovementCorrection && movementType != entity.MovementConsume {
		return nil, validation("adjust type must be %s or %s", entity.MovementCorrection, entity.MovementConsume)
	}
	actor = actorOr(actor, s.cfg)

	var spool *entity.Spool
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		spool, err = tx.Spool.FindForUpdate(ctx, spoolID)
		if err != nil {
			return notFound(err, ErrSpoolNotFound, "spool %s not found", spoolID)
		}
		_, err = applyDelta(ctx, tx, spool, req.Delta, movementType, req.Reason, actor, movementRefs{slotID: spool.SlotID})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.board.Touch(ctx, spool.AreaID)
	return spool, nil
}

// Correct sets the remaining quantity to a counted target value.
func (s *SpoolService) Correct(ctx context.Context, spoolID string, target float64, reason, actor string) (*entity.Spool, error) {
	if target < 0 {
		return nil, validation("target quantity cannot be negative")
	}
	if reason == "" {
		return nil, validation("reason is required")
	}
	actor = actorOr(actor, s.cfg)

	var spool *entity.Spool
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		spool, err = tx.Spool.FindForUpdate(ctx, spoolID)
		if err != nil {
			return notFound(err, ErrSpoolNotFound, "spool %s not found", spoolID)
		}
		delta := target - spool.RemainingQty
		if math.Abs(delta) < qtyEpsilon {
			return nil
		}
		_, err = applyDelta(ctx, tx, spool, delta, entity.MovementCorrection, reason, actor, movementRefs{slotID: spool.SlotID})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.board.Touch(ctx, spool.AreaID)
	return spool, nil
}

// CloseSpoolRequest 结卷：录入实测余量
type CloseSpoolRequest struct {
	MeasuredRemaining float64 `json:"measured_remaining"`
	Reason            string  `json:"reason"`
	Retire            bool    `json:"retire"`
}

type CloseSpoolResult struct {
	Spool *entity.Spool `json:"spool"`
	Waste float64       `json:"waste"`
}

// Close records waste = max(0, system remaining - measured remaining).
// Retiring moves the spool to EXHAUSTED and unmounts it if needed.
func (s *SpoolService) Close(ctx context.Context, spoolID string, req CloseSpoolRequest, actor string) (*CloseSpoolResult, error) {
	if req.MeasuredRemaining < 0 {
		return nil, validation("measured remaining cannot be negative")
	}
	actor = actorOr(actor, s.cfg)
	reason := req.Reason
	if reason == "" {
		reason = "spool closure"
	}

	result := &CloseSpoolResult{}
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		spool, err := tx.Spool.FindForUpdate(ctx, spoolID)
		if err != nil {
			return notFound(err, ErrSpoolNotFound, "spool %s not found", spoolID)
		}
		waste := spool.RemainingQty - req.MeasuredRemaining
		if waste < qtyEpsilon {
			waste = 0
		}
		delta := 0.0
		if waste > 0 {
			delta = -waste
		}
		if _, err := applyDelta(ctx, tx, spool, delta, entity.MovementWaste, reason, actor, movementRefs{slotID: spool.SlotID}); err != nil {
			return err
		}

		if req.Retire {
			// 以槽位表为准，spool.slot_id 仅为冗余
			slot, err := tx.Machine.FindSlotBySpool(ctx, spool.ID)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			if slot != nil {
				if err := detach(ctx, tx, slot, spool, entity.SpoolStateExhausted, reason, actor); err != nil {
					return err
				}
			}
			if err := tx.Spool.UpdateFields(ctx, spool.ID, map[string]interface{}{
				"state":   entity.SpoolStateExhausted,
				"slot_id": nil,
			}); err != nil {
				return fmt.Errorf("retire spool: %w", err)
			}
			spool.State = entity.SpoolStateExhausted
			spool.SlotID = nil
		}

		result.Spool = spool
		result.Waste = waste
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("spool closed",
		zap.String("spool", result.Spool.LabelCode),
		zap.Float64("waste", result.Waste),
		zap.Bool("retired", req.Retire))
	s.board.Touch(ctx, result.Spool.AreaID)
	return result, nil
}

// ReconcileResult 缓存余量与流水推导余量的对比
type ReconcileResult struct {
	SpoolID    string  `json:"spool_id"`
	Cached     float64 `json:"cached"`
	Derived    float64 `json:"derived"`
	Consistent bool    `json:"consistent"`
}

// Reconcile re-derives the remaining quantity from the movement log.
func (s *SpoolService) Reconcile(ctx context.Context, spoolID string) (*ReconcileResult, error) {
	spool, err := s.repos.Spool.FindByID(ctx, spoolID)
	if err != nil {
		return nil, notFound(err, ErrSpoolNotFound, "spool %s not found", spoolID)
	}
	sum, err := s.repos.Movement.SumDelta(ctx, spoolID)
	if err != nil {
		return nil, fmt.Errorf("sum movements: %w", err)
	}
	derived := spool.InitialQty + sum
	return &ReconcileResult{
		SpoolID:    spool.ID,
		Cached:     spool.RemainingQty,
		Derived:    derived,
		Consistent: math.Abs(derived-spool.RemainingQty) < 1e-6,
	}, nil
}

func (s *SpoolService) Movements(ctx context.Context, spoolID string, page, size int) ([]entity.Movement, int64, error) {
	if _, err := s.Get(ctx, spoolID); err != nil {
		return nil, 0, err
	}
	return s.repos.Movement.ListBySpool(ctx, spoolID, page, size)
}
