package service

import (
	"context"

	"github.com/bitfantasy/nimo-print/internal/config"
	"github.com/bitfantasy/nimo-print/internal/production/entity"
	"github.com/bitfantasy/nimo-print/internal/production/repository"
	"go.uber.org/zap"
)

// Partition outcome statuses
const (
	PartitionCreated  = "CREATED"
	PartitionConflict = "CONFLICT"
	PartitionFailed   = "FAILED"
)

// MagicSortService 自动排批：按材质/规格分组待排订单
type MagicSortService struct {
	repos  *repository.Repositories
	batch  *BatchService
	cfg    config.ProductionConfig
	board  BoardNotifier
	logger *zap.Logger
}

func NewMagicSortService(repos *repository.Repositories, batch *BatchService, cfg config.ProductionConfig, board BoardNotifier, logger *zap.Logger) *MagicSortService {
	return &MagicSortService{repos: repos, batch: batch, cfg: cfg, board: board, logger: logger}
}

// MagicSortRequest 自动排批请求，OrderIDs 为空时处理区域内全部待排订单
type MagicSortRequest struct {
	AreaID   string   `json:"area_id"`
	OrderIDs []string `json:"order_ids"`
	ForceNew bool     `json:"force_new"`
}

// MagicSortConflict lists open batches that already run the partition's
// material. Merging is done by the caller with MoveOrders.
type MagicSortConflict struct {
	Material   string         `json:"material"`
	Variant    string         `json:"variant"`
	OrderIDs   []string       `json:"order_ids"`
	Candidates []entity.Batch `json:"candidates"`
}

type PartitionOutcome struct {
	Material string   `json:"material"`
	Variant  string   `json:"variant"`
	OrderIDs []string `json:"order_ids"`
	Status   string   `json:"status"`
	BatchID  string   `json:"batch_id,omitempty"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type SkippedOrder struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

type MagicSortResult struct {
	Batches    []entity.Batch      `json:"batches"`
	Conflicts  []MagicSortConflict `json:"conflicts"`
	Partitions []PartitionOutcome  `json:"partitions"`
	Skipped    []SkippedOrder      `json:"skipped,omitempty"`
}

type partition struct {
	material string
	variant  string
	key      string
	areaID   string
	orders   []string
}

// Run partitions the target orders by normalized (material, variant) and
// creates one batch per conflict-free partition, each in its own
// transaction. A failing partition is reported and never rolls back its
// siblings.
func (s *MagicSortService) Run(ctx context.Context, req MagicSortRequest, actor string) (*MagicSortResult, error) {
	actor = actorOr(actor, s.cfg)

	orders, skipped, err := s.targets(ctx, req)
	if err != nil {
		return nil, err
	}
	result := &MagicSortResult{
		Batches:    []entity.Batch{},
		Conflicts:  []MagicSortConflict{},
		Partitions: []PartitionOutcome{},
		Skipped:    skipped,
	}

	parts := partitionOrders(orders)
	var existing map[string][]entity.Batch
	if !req.ForceNew {
		if existing, err = s.openBatches(ctx, parts); err != nil {
			return nil, err
		}
	}

	for _, p := range parts {
		outcome := PartitionOutcome{Material: p.material, Variant: p.variant, OrderIDs: p.orders}

		if p.key != "" && !req.ForceNew {
			if open := existing[p.key]; len(open) > 0 {
				outcome.Status = PartitionConflict
				result.Partitions = append(result.Partitions, outcome)
				result.Conflicts = append(result.Conflicts, MagicSortConflict{
					Material:   p.material,
					Variant:    p.variant,
					OrderIDs:   p.orders,
					Candidates: open,
				})
				continue
			}
		}

		areaID := p.areaID
		if req.AreaID != "" {
			areaID = req.AreaID
		}
		var created *CreateBatchResult
		err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
			var err error
			created, err = s.batch.createInTx(ctx, tx, CreateBatchRequest{
				Material: p.material,
				Variant:  p.variant,
				AreaID:   areaID,
				OrderIDs: p.orders,
				AutoBind: s.cfg.AutoBindSpool,
			}, actor, false)
			return err
		})
		if err != nil {
			outcome.Status = PartitionFailed
			outcome.Error = err.Error()
			result.Partitions = append(result.Partitions, outcome)
			s.logger.Warn("magic sort partition failed",
				zap.String("material", p.material),
				zap.String("variant", p.variant),
				zap.Error(err))
			continue
		}

		created, err = s.batch.created(ctx, created)
		if err != nil {
			return nil, err
		}
		outcome.Status = PartitionCreated
		outcome.BatchID = created.Batch.ID
		outcome.Warnings = created.Warnings
		result.Partitions = append(result.Partitions, outcome)
		result.Batches = append(result.Batches, *created.Batch)
	}

	s.logger.Info("magic sort finished",
		zap.String("area_id", req.AreaID),
		zap.Int("orders", len(orders)),
		zap.Int("batches", len(result.Batches)),
		zap.Int("conflicts", len(result.Conflicts)),
		zap.Int("skipped", len(result.Skipped)))
	return result, nil
}

// openBatches snapshots the open batches per material key before any
// partition is created, so batches made by this run never count as
// conflicts for its later partitions.
func (s *MagicSortService) openBatches(ctx context.Context, parts []*partition) (map[string][]entity.Batch, error) {
	open := make(map[string][]entity.Batch)
	for _, p := range parts {
		if p.key == "" {
			continue
		}
		if _, ok := open[p.key]; ok {
			continue
		}
		batches, err := s.repos.Batch.FindOpenByMaterialKey(ctx, p.key)
		if err != nil {
			return nil, err
		}
		open[p.key] = batches
	}
	return open, nil
}

// targets resolves the explicit order set, or the whole area backlog.
// Unknown or already batched orders are skipped, not fatal.
func (s *MagicSortService) targets(ctx context.Context, req MagicSortRequest) ([]entity.Order, []SkippedOrder, error) {
	if len(req.OrderIDs) == 0 {
		orders, err := s.repos.Order.ListBacklog(ctx, req.AreaID)
		return orders, nil, err
	}

	found, missing, err := s.repos.Order.FindByIDs(ctx, req.OrderIDs)
	if err != nil {
		return nil, nil, err
	}
	var skipped []SkippedOrder
	for _, id := range missing {
		skipped = append(skipped, SkippedOrder{OrderID: id, Reason: "order not found"})
	}
	orders := make([]entity.Order, 0, len(found))
	for _, o := range found {
		if o.BatchID != nil || o.Status != entity.OrderStatusPending {
			skipped = append(skipped, SkippedOrder{OrderID: o.ID, Reason: "order is " + o.Status})
			continue
		}
		orders = append(orders, o)
	}
	return orders, skipped, nil
}

// partitionOrders groups orders by normalized material and variant in
// first appearance order. Orders without material stay alone.
func partitionOrders(orders []entity.Order) []*partition {
	var parts []*partition
	index := make(map[string]*partition)
	for _, o := range orders {
		materialKey := NormalizeKey(o.Material)
		if materialKey == "" {
			parts = append(parts, &partition{
				material: cleanName(o.Material),
				variant:  cleanName(o.Variant),
				areaID:   o.AreaID,
				orders:   []string{o.ID},
			})
			continue
		}
		k := materialKey + "\x00" + NormalizeKey(o.Variant)
		p, ok := index[k]
		if !ok {
			p = &partition{
				material: cleanName(o.Material),
				variant:  cleanName(o.Variant),
				key:      materialKey,
				areaID:   o.AreaID,
			}
			index[k] = p
			parts = append(parts, p)
		}
		p.orders = append(p.orders, o.ID)
	}
	return parts
}
