package repository

import (
	"context"

	"github.com/bitfantasy/nimo-print/internal/production/entity"
	"gorm.io/gorm"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, o *entity.Order) error {
	return r.db.WithContext(ctx).Create(o).Error
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*entity.Order, error) {
	var o entity.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&o).Error; err != nil {
		return nil, translate(err)
	}
	return &o, nil
}

// FindByIDs 批量查询订单，按调用方给定的顺序排列。
// 缺失的ID通过 missing 返回。
func (r *OrderRepository) FindByIDs(ctx context.Context, ids []string) (found []entity.Order, missing []string, err error) {
	return findOrdered(r.db.WithContext(ctx), ids)
}

// FindByIDsForUpdate 同 FindByIDs，并锁定订单行
func (r *OrderRepository) FindByIDsForUpdate(ctx context.Context, ids []string) (found []entity.Order, missing []string, err error) {
	return findOrdered(forUpdate(r.db.WithContext(ctx)), ids)
}

func findOrdered(db *gorm.DB, ids []string) (found []entity.Order, missing []string, err error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	var rows []entity.Order
	if err := db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	byID := make(map[string]entity.Order, len(rows))
	for _, o := range rows {
		byID[o.ID] = o
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if o, ok := byID[id]; ok {
			found = append(found, o)
		} else {
			missing = append(missing, id)
		}
	}
	return found, missing, nil
}

// ListBacklog 待排批订单：优先级高的在前，其次按创建时间
func (r *OrderRepository) ListBacklog(ctx context.Context, areaID string) ([]entity.Order, error) {
	query := r.db.WithContext(ctx).Where("status = ? AND batch_id IS NULL", entity.OrderStatusPending)
	if areaID != "" {
		query = query.Where("area_id = ?", areaID)
	}
	var orders []entity.Order
	err := query.Order("priority DESC").Order("created_at ASC").Order("id ASC").Find(&orders).Error
	return orders, err
}

func (r *OrderRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&entity.Order{}).Where("id = ?", id).Updates(fields).Error
}

// UpdateStatusByBatch 批量更新批次内指定状态的订单
func (r *OrderRepository) UpdateStatusByBatch(ctx context.Context, batchID string, from []string, to string) error {
	return r.db.WithContext(ctx).Model(&entity.Order{}).
		Where("batch_id = ? AND status IN ?", batchID, from).
		Update("status", to).Error
}

// MaxPosition 当前批次最大队列位置，空批次返回0
func (r *OrderRepository) MaxPosition(ctx context.Context, batchID string) (int, error) {
	var result struct{ Max int }
	err := r.db.WithContext(ctx).Model(&entity.Order{}).
		Select("COALESCE(MAX(batch_position), 0) AS max").
		Where("batch_id = ?", batchID).Scan(&result).Error
	return result.Max, err
}

// SumPlanned 批次计划用量（不含已取消订单）
func (r *OrderRepository) SumPlanned(ctx context.Context, batchID string) (float64, error) {
	var result struct{ Total float64 }
	err := r.db.WithContext(ctx).Model(&entity.Order{}).
		Select("COALESCE(SUM(quantity), 0) AS total").
		Where("batch_id = ? AND status <> ?", batchID, entity.OrderStatusCanceled).
		Scan(&result).Error
	return result.Total, err
}

// CountUnfinished 批次内未完成订单数量
func (r *OrderRepository) CountUnfinished(ctx context.Context, batchID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.Order{}).
		Where("batch_id = ? AND status NOT IN ?", batchID,
			[]string{entity.OrderStatusDone, entity.OrderStatusQuality, entity.OrderStatusCanceled}).
		Count(&count).Error
	return count, err
}

// ReleaseUnfinished 将未完成订单退回待排批池
func (r *OrderRepository) ReleaseUnfinished(ctx context.Context, batchID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&entity.Order{}).
		Where("batch_id = ? AND status NOT IN ?", batchID,
			[]string{entity.OrderStatusDone, entity.OrderStatusQuality, entity.OrderStatusCanceled}).
		Updates(map[string]interface{}{
			"status":         entity.OrderStatusPending,
			"batch_id":       nil,
			"batch_position": 0,
		})
	return res.RowsAffected, res.Error
}

type OrderListParams struct {
	Status  string
	AreaID  string
	BatchID string
	Keyword string
	Page    int
	Size    int
}

func (r *OrderRepository) List(ctx context.Context, params OrderListParams) ([]entity.Order, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.Order{})
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.AreaID != "" {
		query = query.Where("area_id = ?", params.AreaID)
	}
	if params.BatchID != "" {
		query = query.Where("batch_id = ?", params.BatchID)
	}
	if params.Keyword != "" {
		kw := "%" + params.Keyword + "%"
		query = query.Where("LOWER(code) LIKE LOWER(?) OR LOWER(material) LIKE LOWER(?)", kw, kw)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page, size := normalizePage(params.Page, params.Size)
	var orders []entity.Order
	err := query.Order("priority DESC").Order("created_at ASC").
		Offset((page - 1) * size).Limit(size).Find(&orders).Error
	return orders, total, err
}
