package repository

import (
	"context"

	"github.com/bitfantasy/nimo-print/internal/production/entity"
	"gorm.io/gorm"
)

type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

func (r *BatchRepository) Create(ctx context.Context, b *entity.Batch) error {
	return r.db.WithContext(ctx).Omit("Orders", "Spool").Create(b).Error
}

func withOrders(db *gorm.DB) *gorm.DB {
	return db.Preload("Orders", func(db *gorm.DB) *gorm.DB {
		return db.Order("batch_position ASC")
	}).Preload("Spool")
}

// FindByID 查询批次（含订单队列与绑定卷料）
func (r *BatchRepository) FindByID(ctx context.Context, id string) (*entity.Batch, error) {
	var b entity.Batch
	if err := withOrders(r.db.WithContext(ctx)).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, translate(err)
	}
	b.ComputeFlags()
	return &b, nil
}

// FindForUpdate 锁定批次行
func (r *BatchRepository) FindForUpdate(ctx context.Context, id string) (*entity.Batch, error) {
	var b entity.Batch
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (r *BatchRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&entity.Batch{}).Where("id = ?", id).Updates(fields).Error
}

// FindOpenByMaterialKey 同材质的未关闭批次
func (r *BatchRepository) FindOpenByMaterialKey(ctx context.Context, materialKey string) ([]entity.Batch, error) {
	var batches []entity.Batch
	err := r.db.WithContext(ctx).
		Where("material_key = ? AND status IN ?", materialKey, entity.OpenBatchStatuses).
		Order("created_at ASC").Order("id ASC").
		Find(&batches).Error
	for i := range batches {
		batches[i].ComputeFlags()
	}
	return batches, err
}

// FindRunningByMachine 设备上正在运行的批次（加锁读取）
func (r *BatchRepository) FindRunningByMachine(ctx context.Context, machineID string) ([]entity.Batch, error) {
	var batches []entity.Batch
	err := forUpdate(r.db.WithContext(ctx)).
		Where("machine_id = ? AND status = ?", machineID, entity.BatchStatusRunning).
		Find(&batches).Error
	return batches, err
}

// ListByMachine 设备上未关闭的批次
func (r *BatchRepository) ListByMachine(ctx context.Context, machineID string) ([]entity.Batch, error) {
	var batches []entity.Batch
	err := withOrders(r.db.WithContext(ctx)).
		Where("machine_id = ? AND status IN ?", machineID, entity.OpenBatchStatuses).
		Order("created_at ASC").
		Find(&batches).Error
	for i := range batches {
		batches[i].ComputeFlags()
	}
	return batches, err
}

// ListUnassigned 待上机的暂存批次
func (r *BatchRepository) ListUnassigned(ctx context.Context, areaID string) ([]entity.Batch, error) {
	query := withOrders(r.db.WithContext(ctx)).
		Where("machine_id IS NULL AND status IN ?", entity.OpenBatchStatuses)
	if areaID != "" {
		query = query.Where("area_id = ?", areaID)
	}
	var batches []entity.Batch
	err := query.Order("created_at ASC").Find(&batches).Error
	for i := range batches {
		batches[i].ComputeFlags()
	}
	return batches, err
}

type BatchListParams struct {
	Status    string
	AreaID    string
	MachineID string
	Material  string
	Page      int
	Size      int
}

func (r *BatchRepository) List(ctx context.Context, params BatchListParams) ([]entity.Batch, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.Batch{})
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.AreaID != "" {
		query = query.Where("area_id = ?", params.AreaID)
	}
	if params.MachineID != "" {
		query = query.Where("machine_id = ?", params.MachineID)
	}
	if params.Material != "" {
		query = query.Where("material_key = ?", params.Material)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page, size := normalizePage(params.Page, params.Size)
	var batches []entity.Batch
	err := query.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&batches).Error
	for i := range batches {
		batches[i].ComputeFlags()
	}
	return batches, total, err
}
