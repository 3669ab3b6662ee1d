package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bitfantasy/nimo-print/internal/config"
	"github.com/bitfantasy/nimo-print/internal/production/entity"
	"github.com/bitfantasy/nimo-print/internal/production/repository"
	"github.com/bitfantasy/nimo-print/internal/production/testutil"
	"gorm.io/gorm"
)

type testEnv struct {
	db   *gorm.DB
	svc  *Services
	repo *repository.Repositories
	ctx  context.Context
}

func setupServices(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	return &testEnv{
		db:   db,
		svc:  NewServices(repos, config.DefaultProductionConfig(), nil, nil),
		repo: repos,
		ctx:  context.Background(),
	}
}

func expectErr(t *testing.T, err error, target *Error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", target.Error())
	}
	if !errors.Is(err, target) {
		t.Fatalf("expected %s, got %v", target.Error(), err)
	}
}

func (e *testEnv) spool(t *testing.T, id string) *entity.Spool {
	t.Helper()
	var s entity.Spool
	if err := e.db.Where("id = ?", id).First(&s).Error; err != nil {
		t.Fatalf("load spool: %v", err)
	}
	return &s
}

func (e *testEnv) slot(t *testing.T, id string) *entity.Slot {
	t.Helper()
	var s entity.Slot
	if err := e.db.Where("id = ?", id).First(&s).Error; err != nil {
		t.Fatalf("load slot: %v", err)
	}
	return &s
}

func (e *testEnv) order(t *testing.T, id string) *entity.Order {
	t.Helper()
	var o entity.Order
	if err := e.db.Where("id = ?", id).First(&o).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	return &o
}

func (e *testEnv) movementCount(t *testing.T, spoolID string) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(&entity.Movement{}).Where("spool_id = ?", spoolID).Count(&n).Error; err != nil {
		t.Fatalf("count movements: %v", err)
	}
	return n
}

func almostEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-6
}
