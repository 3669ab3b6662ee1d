package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-print/internal/production/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MovementRepository 卷料流水仓库，只提供追加与查询
type MovementRepository struct {
	db *gorm.DB
}

func NewMovementRepository(db *gorm.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

// Append 追加一条流水
func (r *MovementRepository) Append(ctx context.Context, m *entity.Movement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(m).Error
}

// SumDelta 某卷料全部流水的增减合计
func (r *MovementRepository) SumDelta(ctx context.Context, spoolID string) (float64, error) {
	var result struct{ Total float64 }
	err := r.db.WithContext(ctx).Model(&entity.Movement{}).
		Select("COALESCE(SUM(delta), 0) AS total").
		Where("spool_id = ?", spoolID).Scan(&result).Error
	return result.Total, err
}

func (r *MovementRepository) ListBySpool(ctx context.Context, spoolID string, page, size int) ([]entity.Movement, int64, error) {
	return r.List(ctx, MovementFilter{SpoolID: spoolID, Page: page, Size: size})
}

type MovementFilter struct {
	SpoolID   string
	MachineID string
	Type      string
	From      *time.Time
	To        *time.Time
	Page      int
	Size      int
}

func (f MovementFilter) apply(db *gorm.DB) *gorm.DB {
	query := db.Model(&entity.Movement{})
	if f.SpoolID != "" {
		query = query.Where("spool_id = ?", f.SpoolID)
	}
	if f.MachineID != "" {
		query = query.Where("machine_id = ?", f.MachineID)
	}
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}
	if f.From != nil {
		query = query.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("created_at < ?", *f.To)
	}
	return query
}

func (r *MovementRepository) List(ctx context.Context, f MovementFilter) ([]entity.Movement, int64, error) {
	query := f.apply(r.db.WithContext(ctx))
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page, size := normalizePage(f.Page, f.Size)
	var items []entity.Movement
	err := query.Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * size).Limit(size).Find(&items).Error
	return items, total, err
}

// ListAll 导出用，不分页，按时间正序
func (r *MovementRepository) ListAll(ctx context.Context, f MovementFilter) ([]entity.Movement, error) {
	var items []entity.Movement
	err := f.apply(r.db.WithContext(ctx)).Order("created_at ASC").Order("id ASC").Find(&items).Error
	return items, err
}

// WasteRow 按材质汇总的损耗
type WasteRow struct {
	Material string  `json:"material"`
	Unit     string  `json:"unit"`
	Waste    float64 `json:"waste"`
	Spools   int64   `json:"spools"`
}

// WasteByMaterial 汇总 WASTE 流水（delta 为负，取反）
func (r *MovementRepository) WasteByMaterial(ctx context.Context, areaID string) ([]WasteRow, error) {
	query := r.db.WithContext(ctx).Table("prod_spool_movements AS m").
		Select("s.material AS material, s.unit AS unit, COALESCE(-SUM(m.delta), 0) AS waste, COUNT(DISTINCT m.spool_id) AS spools").
		Joins("JOIN prod_spools AS s ON s.id = m.spool_id").
		Where("m.type = ?", entity.MovementWaste)
	if areaID != "" {
		query = query.Where("s.area_id = ?", areaID)
	}
	var rows []WasteRow
	err := query.Group("s.material, s.unit").Order("s.material ASC").Scan(&rows).Error
	return rows, err
}
