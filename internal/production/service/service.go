package service

import (
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-print/internal/config"
	"github.com/bitfantasy/nimo-print/internal/production/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Services 生产服务集合
type Services struct {
	Order     *OrderService
	Spool     *SpoolService
	Batch     *BatchService
	Machine   *MachineService
	MagicSort *MagicSortService
	Report    *ReportService
	Board     BoardNotifier
}

func NewServices(repos *repository.Repositories, cfg config.ProductionConfig, board BoardNotifier, logger *zap.Logger) *Services {
	if board == nil {
		board = NopBoardNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultBatchCapacity <= 0 {
		cfg.DefaultBatchCapacity = config.DefaultProductionConfig().DefaultBatchCapacity
	}
	if cfg.DefaultActor == "" {
		cfg.DefaultActor = config.DefaultProductionConfig().DefaultActor
	}

	spoolSvc := NewSpoolService(repos, cfg, board, logger)
	batchSvc := NewBatchService(repos, cfg, board, logger)
	return &Services{
		Order:     NewOrderService(repos, cfg, board),
		Spool:     spoolSvc,
		Batch:     batchSvc,
		Machine:   NewMachineService(repos, board, logger),
		MagicSort: NewMagicSortService(repos, batchSvc, cfg, board, logger),
		Report:    NewReportService(repos),
		Board:     board,
	}
}

// actorOr 请求未携带用户时使用配置的默认操作人
func actorOr(actor string, cfg config.ProductionConfig) string {
	if actor != "" {
		return actor
	}
	return cfg.DefaultActor
}

func generateCode(prefix string) string {
	if prefix == "" {
		prefix = "X"
	}
	return fmt.Sprintf("%s-%s-%s", prefix, time.Now().Format("20060102"), uuid.New().String()[:8])
}
