package service

import (
	"testing"
	"time"

	"github.com/bitfantasy/nimo-print/internal/production/entity"
	"github.com/bitfantasy/nimo-print/internal/production/testutil"
)

func TestCreateBatchBindsFIFOSpool(t *testing.T) {
	env := setupServices(t)
	old := testutil.SeedSpool(t, env.db, "BOB-A", "Vinilo", "area-1", 80, day1)
	testutil.SeedSpool(t, env.db, "BOB-B", "Vinilo", "area-1", 200, day1.Add(time.Hour))
	o1 := testutil.SeedOrder(t, env.db, "ORD-1", "Vinilo", "", "area-1", 20, 0)
	o2 := testutil.SeedOrder(t, env.db, "ORD-2", "vinilo", "", "area-1", 15, 0)

	result, err := env.svc.Batch.Create(env.ctx, CreateBatchRequest{
		Material: " Vinilo ",
		AreaID:   "area-1",
		OrderIDs: []string{o2.ID, o1.ID},
		AutoBind: true,
	}, "op")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b := result.Batch
	if b.SpoolID == nil || *b.SpoolID != old.ID {
		t.Fatal("batch should bind the oldest spool")
	}
	if b.Capacity != 80 {
		t.Fatalf("capacity should equal spool remaining, got %v", b.Capacity)
	}
	if b.Status != entity.BatchStatusStaged || b.MaterialKey != "vinilo" {
		t.Fatalf("unexpected batch %s / %q", b.Status, b.MaterialKey)
	}
	if len(b.Orders) != 2 || b.Orders[0].ID != o2.ID || b.Orders[1].ID != o1.ID {
		t.Fatal("orders must keep caller order")
	}
	if b.Orders[0].BatchPosition != 1 || b.Orders[1].BatchPosition != 2 {
		t.Fatalf("unexpected positions %d, %d", b.Orders[0].BatchPosition, b.Orders[1].BatchPosition)
	}
	if b.Orders[0].Status != entity.OrderStatusInBatch {
		t.Fatalf("expected IN_BATCH, got %s", b.Orders[0].Status)
	}
	if !almostEqual(b.PlannedQty, 35) {
		t.Fatalf("expected planned 35, got %v", b.PlannedQty)
	}
}

func TestCreateBatchWithoutSpool(t *testing.T) {
	env := setupServices(t)

	result, err := env.svc.Batch.Create(env.ctx, CreateBatchRequest{Material: "Lona", AutoBind: true}, "op")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if result.Batch.SpoolID != nil || result.Batch.Capacity != 100 {
		t.Fatalf("expected default capacity without a spool, got %v", result.Batch.Capacity)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected a missing spool warning, got %v", result.Warnings)
	}

	_, err = env.svc.Batch.Create(env.ctx, CreateBatchRequest{Material: "   "}, "op")
	expectErr(t, err, ErrValidation)
}

func TestCreateBatchRejectsWrongSpool(t *testing.T) {
	env := setupServices(t)
	lona := testutil.SeedSpool(t, env.db, "BOB-L", "Lona", "area-1", 80, day1)

	_, err := env.svc.Batch.Create(env.ctx, CreateBatchRequest{Material: "Vinilo", SpoolID: lona.ID}, "op")
	expectErr(t, err, ErrMaterialMismatch)

	var count int64
	env.db.Model(&entity.Batch{}).Count(&count)
	if count != 0 {
		t.Fatalf("failed create must roll back, found %d batches", count)
	}
}

func TestCreateBatchBindsRollNotConsumable(t *testing.T) {
	env := setupServices(t)
	ink := testutil.SeedSpoolKind(t, env.db, "INK-1", "Vinilo", "area-1", entity.SpoolKindConsumable, 5, day1)
	roll := testutil.SeedSpool(t, env.db, "ROLL-1", "Vinilo", "area-1", 80, day1.Add(24*time.Hour))

	result, err := env.svc.Batch.Create(env.ctx, CreateBatchRequest{Material: "Vinilo", AreaID: "area-1", AutoBind: true}, "op")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if result.Batch.SpoolID == nil || *result.Batch.SpoolID != roll.ID {
		t.Fatal("older consumable must not be bound as the batch roll")
	}
	if result.Batch.Capacity != 80 {
		t.Fatalf("expected roll capacity 80, got %v", result.Batch.Capacity)
	}

	_, err = env.svc.Batch.Create(env.ctx, CreateBatchRequest{Material: "Vinilo", SpoolID: ink.ID}, "op")
	expectErr(t, err, ErrSpoolKind)
}

func TestAppendOrders(t *testing.T) {
	env := setupServices(t)
	o1 := testutil.SeedOrder(t, env.db, "ORD-1", "Vinilo", "", "area-1", 10, 0)
	o2 := testutil.SeedOrder(t, env.db, "ORD-2", "Vinilo", "", "area-1", 10, 0)
	o3 := testutil.SeedOrder(t, env.db, "ORD-3", "Vinilo", "", "area-1", 10, 0)

	first, err := env.svc.Batch.Create(env.ctx, CreateBatchRequest{Material: "Vinilo", OrderIDs: []string{o1.ID}}, "op")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	batch, err := env.svc.Batch.AppendOrders(env.ctx, first.Batch.ID, []string{o3.ID, o2.ID})
	if err != nil {
		t.Fatalf("AppendOrders: %v", err)
	}
	want := []string{o1.ID, o3.ID, o2.ID}
	for i, o := range batch.Orders {
		if o.ID != want[i] || o.BatchPosition != i+1 {
			t.Fatalf("position %d: got %s at %d", i, o.Code, o.BatchPosition)
		}
	}

	second, err := env.svc.Batch.Create(env.ctx, CreateBatchRequest{Material: "Vinilo"}, "op")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = env.svc.Batch.AppendOrders(env.ctx, second.Batch.ID, []string{o1.ID})
	expectErr(t, err, ErrOrderAssigned)

	_, err = env.svc.Batch.AppendOrders(env.ctx, second.Batch.ID, []string{"missing"})
	expectErr(t, err, ErrOrderNotFound)
}

func TestMoveAndRemoveOrders(t *testing.T) {
	env := setupServices(t)
	o1 := testutil.SeedOrder(t, env.db, "ORD-1", "Vinilo", "", "area-1", 10, 0)
	o2 := testutil.SeedOrder(t, env.db, "ORD-2", "Vinilo", "", "area-1", 25, 0)

	src, err := env.svc.Batch.Create(env.ctx, CreateBatchRequest{Material: "Vinilo", OrderIDs: []string{o1.ID, o2.ID}}, "op")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	dst, err := env.svc.Batch.Create(env.ctx, CreateBatchRequest{Material: "Vinilo"}, "op")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	moved, err := env.svc.Batch.MoveOrders(env.ctx, []string{o2.ID}, dst.Batch.ID)
	if err != nil {
		t.Fatalf("MoveOrders: %v", err)
	}
	if len(moved.Orders) != 1 || moved.Orders[0].ID != o2.ID || !almostEqual(moved.PlannedQty, 25) {
		t.Fatalf("target should hold ORD-2 with planned 25, got %d orders / %v", len(moved.Orders), moved.PlannedQty)
	}
	source, err := env.svc.Batch.Get(env.ctx, src.Batch.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(source.Orders) != 1 || !almostEqual(source.PlannedQty, 10) {
		t.Fatalf("source planned should drop to 10, got %v", source.PlannedQty)
	}

	after, err := env.svc.Batch.RemoveOrders(env.ctx, src.Batch.ID, []string{o1.ID})
	if err != nil {
		t.Fatalf("RemoveOrders: %v", err)
	}
	if len(after.Orders) != 0 || after.PlannedQty != 0 {
		t.Fatal("source batch should be empty")
	}
	if o := env.order(t, o1.ID); o.Status != entity.OrderStatusPending || o.BatchID != nil {
		t.Fatalf("removed order should be PENDING in backlog, got %s", o.Status)
	}

	_, err = env.svc.Batch.RemoveOrders(env.ctx, src.Batch.ID, []string{o2.ID})
	expectErr(t, err, ErrValidation)
}

func TestRecordUsageWritesDownSpool(t *testing.T) {
	env := setupServices(t)
	spool := testutil.SeedSpool(t, env.db, "BOB-A", "Vinilo", "area-1", 80, day1)
	created, err := env.svc.Batch.Create(env.ctx, CreateBatchRequest{Material: "Vinilo", SpoolID: spool.ID}, "op")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := created.Batch.ID

	res, err := env.svc.Batch.RecordUsage(env.ctx, id, 30, "op")
	if err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if res.Usage != 30 || res.SpoolConsumed != 30 || res.OverCapacity {
		t.Fatalf("unexpected first usage result %+v", res)
	}

	res, err = env.svc.Batch.RecordUsage(env.ctx, id, 60, "op")
	if err != nil {
		t.Fatalf("RecordUsage over capacity must not fail: %v", err)
	}
	if res.Usage != 90 || !almostEqual(res.SpoolConsumed, 50) || !res.OverCapacity {
		t.Fatalf("expected usage 90, consumed 50 and over capacity, got %+v", res)
	}
	if got := env.spool(t, spool.ID); got.RemainingQty != 0 {
		t.Fatalf("spool should be written down to 0, got %v", got.RemainingQty)
	}

	rec, err := env.svc.Spool.Reconcile(env.ctx, spool.ID)
	if err != nil || !rec.Consistent {
		t.Fatalf("spool log should reconcile, got %+v, %v", rec, err)
	}

	_, err = env.svc.Batch.RecordUsage(env.ctx, id, 0, "op")
	expectErr(t, err, ErrValidation)
}

func TestCloseBatch(t *testing.T) {
	env := setupServices(t)
	m := testutil.SeedMachine(t, env.db, "M1", "area-1", "S1")
	o1 := testutil.SeedOrder(t, env.db, "ORD-1", "Vinilo", "", "area-1", 10, 0)
	o2 := testutil.SeedOrder(t, env.db, "ORD-2", "Vinilo", "", "area-1", 10, 0)
	created, err := env.svc.Batch.Create(env.ctx, CreateBatchRequest{Material: "Vinilo", OrderIDs: []string{o1.ID, o2.ID}}, "op")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := created.Batch.ID

	_, err = env.svc.Batch.Close(env.ctx, id, false, "op")
	expectErr(t, err, ErrBatchState)

	if _, err := env.svc.Machine.Start(env.ctx, id, m.ID, "op"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err = env.svc.Batch.Close(env.ctx, id, false, "op")
	expectErr(t, err, ErrIncompleteOrders)
	expectErr(t, err, ErrIncomplete)

	result, err := env.svc.Batch.Close(env.ctx, id, true, "op")
	if err != nil {
		t.Fatalf("forced Close: %v", err)
	}
	if result.Batch.Status != entity.BatchStatusClosed || result.Released != 2 || result.Batch.ClosedAt == nil {
		t.Fatalf("unexpected close result: %s released=%d", result.Batch.Status, result.Released)
	}
	if o := env.order(t, o1.ID); o.Status != entity.OrderStatusPending || o.BatchID != nil {
		t.Fatalf("released order should be PENDING, got %s", o.Status)
	}

	_, err = env.svc.Batch.Close(env.ctx, id, true, "op")
	expectErr(t, err, ErrBatchClosed)
	_, err = env.svc.Batch.RecordUsage(env.ctx, id, 5, "op")
	expectErr(t, err, ErrBatchClosed)
	_, err = env.svc.Batch.AppendOrders(env.ctx, id, []string{o1.ID})
	expectErr(t, err, ErrBatchClosed)
}
