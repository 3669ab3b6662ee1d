package repository

import (
	"context"

	"github.com/bitfantasy/nimo-print/internal/production/entity"
	"gorm.io/gorm"
)

type MachineRepository struct {
	db *gorm.DB
}

func NewMachineRepository(db *gorm.DB) *MachineRepository {
	return &MachineRepository{db: db}
}

// Create 创建设备及其槽位
func (r *MachineRepository) Create(ctx context.Context, m *entity.Machine) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *MachineRepository) FindByID(ctx context.Context, id string) (*entity.Machine, error) {
	var m entity.Machine
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// FindForUpdate 锁定设备行，串行化同一设备上的启动操作
func (r *MachineRepository) FindForUpdate(ctx context.Context, id string) (*entity.Machine, error) {
	var m entity.Machine
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (r *MachineRepository) ListByArea(ctx context.Context, areaID string) ([]entity.Machine, error) {
	query := r.db.WithContext(ctx).Where("status = ?", entity.MachineStatusActive)
	if areaID != "" {
		query = query.Where("area_id = ?", areaID)
	}
	var machines []entity.Machine
	err := query.Order("code ASC").Find(&machines).Error
	return machines, err
}

// ListSlots 设备槽位（含已挂载卷料）
func (r *MachineRepository) ListSlots(ctx context.Context, machineID string) ([]entity.Slot, error) {
	var slots []entity.Slot
	err := r.db.WithContext(ctx).Preload("Spool").
		Where("machine_id = ?", machineID).
		Order("name ASC").Find(&slots).Error
	return slots, err
}

// FindSlotForUpdate 锁定槽位行，同一槽位的并发挂载只有一个能成功
func (r *MachineRepository) FindSlotForUpdate(ctx context.Context, slotID string) (*entity.Slot, error) {
	var s entity.Slot
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", slotID).First(&s).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

// FindSlotBySpool 卷料当前所在槽位
func (r *MachineRepository) FindSlotBySpool(ctx context.Context, spoolID string) (*entity.Slot, error) {
	var s entity.Slot
	if err := forUpdate(r.db.WithContext(ctx)).Where("spool_id = ?", spoolID).First(&s).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (r *MachineRepository) UpdateSlotFields(ctx context.Context, slotID string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&entity.Slot{}).Where("id = ?", slotID).Updates(fields).Error
}
