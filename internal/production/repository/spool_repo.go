package repository

import (
	"context"

	"github.com/bitfantasy/nimo-print/internal/production/entity"
	"gorm.io/gorm"
)

type SpoolRepository struct {
	db *gorm.DB
}

func NewSpoolRepository(db *gorm.DB) *SpoolRepository {
	return &SpoolRepository{db: db}
}

func (r *SpoolRepository) Create(ctx context.Context, s *entity.Spool) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *SpoolRepository) FindByID(ctx context.Context, id string) (*entity.Spool, error) {
	var s entity.Spool
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

// FindByIDs 批量查询卷料（报表用）
func (r *SpoolRepository) FindByIDs(ctx context.Context, ids []string) ([]entity.Spool, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var spools []entity.Spool
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&spools).Error
	return spools, err
}

// FindForUpdate 锁定卷料行
func (r *SpoolRepository) FindForUpdate(ctx context.Context, id string) (*entity.Spool, error) {
	var s entity.Spool
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

// FindByLabelForUpdate 按标签号锁定卷料（扫码枪输入）
func (r *SpoolRepository) FindByLabelForUpdate(ctx context.Context, label string) (*entity.Spool, error) {
	var s entity.Spool
	if err := forUpdate(r.db.WithContext(ctx)).Where("label_code = ?", label).First(&s).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func fifo(db *gorm.DB, materialKey, kind, areaID string) *gorm.DB {
	query := db.Where("material_key = ? AND kind = ? AND state IN ? AND remaining_qty > 0",
		materialKey, kind, entity.CandidateSpoolStates)
	if areaID != "" {
		query = query.Where("area_id = ?", areaID)
	}
	return query.Order("ingress_at ASC").Order("id ASC")
}

// FindCandidate 先进先出：最早入库、仍有余量的可用卷料。
// lock=true 时锁定候选行，避免并发绑定挑到同一卷。
func (r *SpoolRepository) FindCandidate(ctx context.Context, materialKey, kind, areaID string, lock bool) (*entity.Spool, error) {
	db := r.db.WithContext(ctx)
	if lock {
		db = forUpdate(db)
	}
	var s entity.Spool
	if err := fifo(db, materialKey, kind, areaID).First(&s).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

// ListCandidates 按FIFO排序的候选卷料，kind 与槽位类型对应
func (r *SpoolRepository) ListCandidates(ctx context.Context, materialKey, kind, areaID string, limit int) ([]entity.Spool, error) {
	if limit <= 0 {
		limit = 10
	}
	db := r.db.WithContext(ctx)
	var query *gorm.DB
	if materialKey == "" {
		query = db.Where("kind = ? AND state IN ? AND remaining_qty > 0", kind, entity.CandidateSpoolStates)
		if areaID != "" {
			query = query.Where("area_id = ?", areaID)
		}
		query = query.Order("material_key ASC").Order("ingress_at ASC").Order("id ASC")
	} else {
		query = fifo(db, materialKey, kind, areaID)
	}
	var spools []entity.Spool
	err := query.Limit(limit).Find(&spools).Error
	return spools, err
}

func (r *SpoolRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&entity.Spool{}).Where("id = ?", id).Updates(fields).Error
}

type SpoolListParams struct {
	State    string
	AreaID   string
	Material string
	Page     int
	Size     int
}

func (r *SpoolRepository) List(ctx context.Context, params SpoolListParams) ([]entity.Spool, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.Spool{})
	if params.State != "" {
		query = query.Where("state = ?", params.State)
	}
	if params.AreaID != "" {
		query = query.Where("area_id = ?", params.AreaID)
	}
	if params.Material != "" {
		query = query.Where("material_key = ?", params.Material)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page, size := normalizePage(params.Page, params.Size)
	var spools []entity.Spool
	err := query.Order("ingress_at ASC").Order("id ASC").
		Offset((page - 1) * size).Limit(size).Find(&spools).Error
	return spools, total, err
}
