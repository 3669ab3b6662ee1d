package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-print/internal/production/entity"
	"github.com/bitfantasy/nimo-print/internal/production/repository"
	"go.uber.org/zap"
)

// MachineService 设备槽位控制：批次上机、暂停、完成、下机
type MachineService struct {
	repos  *repository.Repositories
	board  BoardNotifier
	logger *zap.Logger
}

func NewMachineService(repos *repository.Repositories, board BoardNotifier, logger *zap.Logger) *MachineService {
	return &MachineService{repos: repos, board: board, logger: logger}
}

// lockBatchOn locks the batch and checks that it is bound to machineID.
// An empty machineID skips the binding check.
func lockBatchOn(ctx context.Context, tx *repository.Repositories, batchID, machineID string) (*entity.Batch, error) {
	batch, err := tx.Batch.FindForUpdate(ctx, batchID)
	if err != nil {
		return nil, notFound(err, ErrBatchNotFound, "batch %s not found", batchID)
	}
	if machineID != "" && (batch.MachineID == nil || *batch.MachineID != machineID) {
		return nil, newError(ErrBatchState, "batch %s is not assigned to machine %s", batch.Code, machineID)
	}
	return batch, nil
}

// Start puts a STAGED or PAUSED batch into production on the machine.
// The machine row lock serializes concurrent starts on one machine, so at
// most one batch per machine is ever RUNNING.
func (s *MachineService) Start(ctx context.Context, batchID, machineID, actor string) (*entity.Batch, error) {
	var areaID string
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		machine, err := tx.Machine.FindForUpdate(ctx, machineID)
		if err != nil {
			return notFound(err, ErrMachineNotFound, "machine %s not found", machineID)
		}
		if machine.Status != entity.MachineStatusActive {
			return newError(ErrMachineInactive, "machine %s is %s", machine.Code, machine.Status)
		}
		areaID = machine.AreaID

		batch, err := tx.Batch.FindForUpdate(ctx, batchID)
		if err != nil {
			return notFound(err, ErrBatchNotFound, "batch %s not found", batchID)
		}
		switch batch.Status {
		case entity.BatchStatusClosed:
			return newError(ErrBatchClosed, "batch %s is closed", batch.Code)
		case entity.BatchStatusRunning:
			return newError(ErrBatchRunning, "batch %s is already running", batch.Code)
		}
		if batch.MachineID != nil && *batch.MachineID != machine.ID {
			return newError(ErrBatchState, "batch %s is assigned to another machine, unassign it first", batch.Code)
		}

		running, err := tx.Batch.FindRunningByMachine(ctx, machine.ID)
		if err != nil {
			return err
		}
		for _, b := range running {
			if b.ID != batch.ID {
				return newError(ErrMachineBusy, "machine %s is busy with batch %s", machine.Code, b.Code)
			}
		}

		fields := map[string]interface{}{
			"status":     entity.BatchStatusRunning,
			"machine_id": machine.ID,
		}
		if batch.StartedAt == nil {
			fields["started_at"] = time.Now()
		}
		if err := tx.Batch.UpdateFields(ctx, batch.ID, fields); err != nil {
			return fmt.Errorf("start batch: %w", err)
		}
		return tx.Order.UpdateStatusByBatch(ctx, batch.ID,
			[]string{entity.OrderStatusInBatch}, entity.OrderStatusInMachine)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("batch started",
		zap.String("batch_id", batchID),
		zap.String("machine_id", machineID),
		zap.String("actor", actor))
	return s.reload(ctx, batchID, areaID)
}

// Pause moves a RUNNING batch to PAUSED; it stays on the machine.
func (s *MachineService) Pause(ctx context.Context, batchID, machineID string) (*entity.Batch, error) {
	var areaID string
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		batch, err := lockBatchOn(ctx, tx, batchID, machineID)
		if err != nil {
			return err
		}
		if batch.Status != entity.BatchStatusRunning {
			return newError(ErrBatchState, "batch %s is %s, only running batches can be paused", batch.Code, batch.Status)
		}
		areaID = batch.AreaID
		return tx.Batch.UpdateFields(ctx, batch.ID, map[string]interface{}{"status": entity.BatchStatusPaused})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("batch paused", zap.String("batch_id", batchID))
	return s.reload(ctx, batchID, areaID)
}

// Finish ends the running period. Orders on the machine become DONE for
// PRODUCTION or QUALITY for the quality review hand-off; the batch is
// PAUSED and can still be started again or closed.
func (s *MachineService) Finish(ctx context.Context, batchID, machineID, destination string) (*entity.Batch, error) {
	if destination == "" {
		destination = entity.DestinationProduction
	}
	var orderStatus string
	switch destination {
	case entity.DestinationProduction:
		orderStatus = entity.OrderStatusDone
	case entity.DestinationQuality:
		orderStatus = entity.OrderStatusQuality
	default:
		return nil, validation("destination must be %s or %s", entity.DestinationProduction, entity.DestinationQuality)
	}

	var areaID string
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		batch, err := lockBatchOn(ctx, tx, batchID, machineID)
		if err != nil {
			return err
		}
		if batch.Status != entity.BatchStatusRunning {
			return newError(ErrBatchState, "batch %s is %s, only running batches can be finished", batch.Code, batch.Status)
		}
		areaID = batch.AreaID
		if err := tx.Order.UpdateStatusByBatch(ctx, batch.ID,
			[]string{entity.OrderStatusInMachine}, orderStatus); err != nil {
			return fmt.Errorf("finish orders: %w", err)
		}
		return tx.Batch.UpdateFields(ctx, batch.ID, map[string]interface{}{
			"status":           entity.BatchStatusPaused,
			"last_destination": destination,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("batch finished",
		zap.String("batch_id", batchID),
		zap.String("destination", destination))
	return s.reload(ctx, batchID, areaID)
}

// Unassign takes a non-running batch off its machine and back to staging.
func (s *MachineService) Unassign(ctx context.Context, batchID, machineID string) (*entity.Batch, error) {
	var areaID string
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		batch, err := lockBatchOn(ctx, tx, batchID, machineID)
		if err != nil {
			return err
		}
		switch batch.Status {
		case entity.BatchStatusRunning:
			return newError(ErrBatchRunning, "batch %s is running, pause it before unassigning", batch.Code)
		case entity.BatchStatusClosed:
			return newError(ErrBatchClosed, "batch %s is closed", batch.Code)
		}
		if batch.MachineID == nil {
			return newError(ErrBatchState, "batch %s is not assigned to a machine", batch.Code)
		}
		areaID = batch.AreaID
		if err := tx.Batch.UpdateFields(ctx, batch.ID, map[string]interface{}{
			"status":     entity.BatchStatusStaged,
			"machine_id": nil,
		}); err != nil {
			return fmt.Errorf("unassign batch: %w", err)
		}
		return tx.Order.UpdateStatusByBatch(ctx, batch.ID,
			[]string{entity.OrderStatusInMachine}, entity.OrderStatusInBatch)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("batch unassigned", zap.String("batch_id", batchID), zap.String("machine_id", machineID))
	return s.reload(ctx, batchID, areaID)
}

func (s *MachineService) reload(ctx context.Context, batchID, areaID string) (*entity.Batch, error) {
	s.board.Touch(ctx, areaID)
	batch, err := s.repos.Batch.FindByID(ctx, batchID)
	if err != nil {
		return nil, notFound(err, ErrBatchNotFound, "batch %s not found", batchID)
	}
	return batch, nil
}

// Slots 设备槽位及挂载卷料
func (s *MachineService) Slots(ctx context.Context, machineID string) ([]entity.Slot, error) {
	if _, err := s.repos.Machine.FindByID(ctx, machineID); err != nil {
		return nil, notFound(err, ErrMachineNotFound, "machine %s not found", machineID)
	}
	return s.repos.Machine.ListSlots(ctx, machineID)
}

// MachineBoard 看板上的单台设备
type MachineBoard struct {
	Machine entity.Machine `json:"machine"`
	Slots   []entity.Slot  `json:"slots"`
	Batches []entity.Batch `json:"batches"`
	Running *entity.Batch  `json:"running,omitempty"`
}

// BoardView 生产看板
type BoardView struct {
	AreaID   string         `json:"area_id"`
	Version  int64          `json:"version"`
	Machines []MachineBoard `json:"machines"`
	Staging  []entity.Batch `json:"staging"`
}

// Board returns every active machine of the area with its slots and open
// batches, plus the staging pool of unassigned batches.
func (s *MachineService) Board(ctx context.Context, areaID string) (*BoardView, error) {
	version, err := s.board.Version(ctx, areaID)
	if err != nil {
		s.logger.Warn("board version unavailable", zap.String("area_id", areaID), zap.Error(err))
	}

	machines, err := s.repos.Machine.ListByArea(ctx, areaID)
	if err != nil {
		return nil, err
	}
	view := &BoardView{
		AreaID:   areaID,
		Version:  version,
		Machines: make([]MachineBoard, 0, len(machines)),
	}
	for _, m := range machines {
		slots, err := s.repos.Machine.ListSlots(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		batches, err := s.repos.Batch.ListByMachine(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		mb := MachineBoard{Machine: m, Slots: slots, Batches: batches}
		for i := range batches {
			if batches[i].Status == entity.BatchStatusRunning {
				mb.Running = &batches[i]
				break
			}
		}
		view.Machines = append(view.Machines, mb)
	}

	view.Staging, err = s.repos.Batch.ListUnassigned(ctx, areaID)
	if err != nil {
		return nil, err
	}
	return view, nil
}

// BoardVersion lets pollers skip a full board reload.
func (s *MachineService) BoardVersion(ctx context.Context, areaID string) (int64, error) {
	return s.board.Version(ctx, areaID)
}
