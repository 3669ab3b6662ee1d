package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound = errors.New("record not found")
)

// Repositories 生产仓库集合
type Repositories struct {
	db       *gorm.DB
	Order    *OrderRepository
	Batch    *BatchRepository
	Spool    *SpoolRepository
	Machine  *MachineRepository
	Movement *MovementRepository
}

// NewRepositories 创建生产仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:       db,
		Order:    NewOrderRepository(db),
		Batch:    NewBatchRepository(db),
		Spool:    NewSpoolRepository(db),
		Machine:  NewMachineRepository(db),
		Movement: NewMovementRepository(db),
	}
}

// Transaction runs fn with every repository bound to one database
// transaction. Returning an error from fn rolls everything back.
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}

// DB 返回底层db
func (r *Repositories) DB() *gorm.DB {
	return r.db
}

// forUpdate 行级锁；sqlite 方言会忽略该子句
func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func normalizePage(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 200 {
		size = 200
	}
	return page, size
}
