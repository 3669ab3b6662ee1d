package service

import (
	"testing"

	"github.com/bitfantasy/nimo-print/internal/production/entity"
	"github.com/bitfantasy/nimo-print/internal/production/testutil"
)

func newBatch(t *testing.T, env *testEnv, material string, orders ...*entity.Order) *entity.Batch {
	t.Helper()
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	result, err := env.svc.Batch.Create(env.ctx, CreateBatchRequest{Material: material, AreaID: "area-1", OrderIDs: ids}, "op")
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	return result.Batch
}

func TestStartMachineBusy(t *testing.T) {
	env := setupServices(t)
	m := testutil.SeedMachine(t, env.db, "M1", "area-1", "S1")
	b1 := newBatch(t, env, "Vinilo")
	b2 := newBatch(t, env, "Lona")

	started, err := env.svc.Machine.Start(env.ctx, b1.ID, m.ID, "op")
	if err != nil {
		t.Fatalf("Start b1: %v", err)
	}
	if started.Status != entity.BatchStatusRunning || started.MachineID == nil || *started.MachineID != m.ID || started.StartedAt == nil {
		t.Fatalf("unexpected started batch %+v", started)
	}

	_, err = env.svc.Machine.Start(env.ctx, b2.ID, m.ID, "op")
	expectErr(t, err, ErrMachineBusy)
	expectErr(t, err, ErrConflict)

	if _, err := env.svc.Machine.Pause(env.ctx, b1.ID, m.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := env.svc.Machine.Start(env.ctx, b2.ID, m.ID, "op"); err != nil {
		t.Fatalf("Start b2 after pause: %v", err)
	}
	_, err = env.svc.Machine.Start(env.ctx, b1.ID, m.ID, "op")
	expectErr(t, err, ErrMachineBusy)

	var running int64
	env.db.Model(&entity.Batch{}).Where("machine_id = ? AND status = ?", m.ID, entity.BatchStatusRunning).Count(&running)
	if running != 1 {
		t.Fatalf("expected one running batch on the machine, got %d", running)
	}
}

func TestStartBoundElsewhere(t *testing.T) {
	env := setupServices(t)
	m1 := testutil.SeedMachine(t, env.db, "M1", "area-1", "S1")
	m2 := testutil.SeedMachine(t, env.db, "M2", "area-1", "S1")
	b := newBatch(t, env, "Vinilo")

	if _, err := env.svc.Machine.Start(env.ctx, b.ID, m1.ID, "op"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err := env.svc.Machine.Start(env.ctx, b.ID, m1.ID, "op")
	expectErr(t, err, ErrBatchRunning)

	if _, err := env.svc.Machine.Pause(env.ctx, b.ID, m1.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	_, err = env.svc.Machine.Start(env.ctx, b.ID, m2.ID, "op")
	expectErr(t, err, ErrBatchState)

	_, err = env.svc.Machine.Start(env.ctx, b.ID, "missing", "op")
	expectErr(t, err, ErrMachineNotFound)

	env.db.Model(&entity.Machine{}).Where("id = ?", m2.ID).Update("status", entity.MachineStatusInactive)
	_, err = env.svc.Machine.Start(env.ctx, newBatch(t, env, "Lona").ID, m2.ID, "op")
	expectErr(t, err, ErrMachineInactive)
}

func TestFinishAndUnassign(t *testing.T) {
	env := setupServices(t)
	m := testutil.SeedMachine(t, env.db, "M1", "area-1", "S1")
	o1 := testutil.SeedOrder(t, env.db, "ORD-1", "Vinilo", "", "area-1", 10, 0)
	o2 := testutil.SeedOrder(t, env.db, "ORD-2", "Vinilo", "", "area-1", 10, 0)
	b := newBatch(t, env, "Vinilo", o1)

	if _, err := env.svc.Machine.Start(env.ctx, b.ID, m.ID, "op"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if o := env.order(t, o1.ID); o.Status != entity.OrderStatusInMachine {
		t.Fatalf("expected IN_MACHINE after start, got %s", o.Status)
	}

	_, err := env.svc.Machine.Unassign(env.ctx, b.ID, m.ID)
	expectErr(t, err, ErrBatchRunning)

	_, err = env.svc.Machine.Finish(env.ctx, b.ID, m.ID, "SHIPPING")
	expectErr(t, err, ErrValidation)

	finished, err := env.svc.Machine.Finish(env.ctx, b.ID, m.ID, entity.DestinationQuality)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if finished.Status != entity.BatchStatusPaused || finished.LastDestination != entity.DestinationQuality {
		t.Fatalf("expected PAUSED with QUALITY destination, got %s / %s", finished.Status, finished.LastDestination)
	}
	if o := env.order(t, o1.ID); o.Status != entity.OrderStatusQuality {
		t.Fatalf("expected QUALITY order, got %s", o.Status)
	}

	_, err = env.svc.Machine.Finish(env.ctx, b.ID, m.ID, "")
	expectErr(t, err, ErrBatchState)

	if _, err := env.svc.Batch.AppendOrders(env.ctx, b.ID, []string{o2.ID}); err != nil {
		t.Fatalf("AppendOrders: %v", err)
	}
	if _, err := env.svc.Machine.Start(env.ctx, b.ID, m.ID, "op"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if _, err := env.svc.Machine.Pause(env.ctx, b.ID, m.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	unassigned, err := env.svc.Machine.Unassign(env.ctx, b.ID, m.ID)
	if err != nil {
		t.Fatalf("Unassign: %v", err)
	}
	if unassigned.Status != entity.BatchStatusStaged || unassigned.MachineID != nil {
		t.Fatalf("expected STAGED unassigned batch, got %s", unassigned.Status)
	}
	if o := env.order(t, o2.ID); o.Status != entity.OrderStatusInBatch {
		t.Fatalf("expected IN_BATCH after unassign, got %s", o.Status)
	}
	if o := env.order(t, o1.ID); o.Status != entity.OrderStatusQuality {
		t.Fatalf("finished order must keep QUALITY, got %s", o.Status)
	}

	_, err = env.svc.Machine.Pause(env.ctx, b.ID, m.ID)
	expectErr(t, err, ErrBatchState)
}

func TestBoard(t *testing.T) {
	env := setupServices(t)
	m := testutil.SeedMachine(t, env.db, "M1", "area-1", "S1", "S2")
	testutil.SeedMachine(t, env.db, "M9", "area-2", "S1")
	spool := testutil.SeedSpool(t, env.db, "BOB-A", "Vinilo", "area-1", 50, day1)
	running := newBatch(t, env, "Vinilo")
	staged := newBatch(t, env, "Lona")

	if _, err := env.svc.Spool.Mount(env.ctx, m.ID, m.Slots[0].ID, SpoolByID(spool.ID), "", "op"); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if _, err := env.svc.Machine.Start(env.ctx, running.ID, m.ID, "op"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	view, err := env.svc.Machine.Board(env.ctx, "area-1")
	if err != nil {
		t.Fatalf("Board: %v", err)
	}
	if len(view.Machines) != 1 {
		t.Fatalf("expected one machine in area-1, got %d", len(view.Machines))
	}
	mb := view.Machines[0]
	if mb.Running == nil || mb.Running.ID != running.ID {
		t.Fatal("board should show the running batch")
	}
	if len(mb.Slots) != 2 || mb.Slots[0].Spool == nil || mb.Slots[0].Spool.LabelCode != "BOB-A" {
		t.Fatal("board should show the mounted spool on S1")
	}
	if len(view.Staging) != 1 || view.Staging[0].ID != staged.ID {
		t.Fatalf("expected one staged batch, got %d", len(view.Staging))
	}

	slots, err := env.svc.Machine.Slots(env.ctx, m.ID)
	if err != nil || len(slots) != 2 {
		t.Fatalf("Slots: %v (%d)", err, len(slots))
	}
	_, err = env.svc.Machine.Slots(env.ctx, "missing")
	expectErr(t, err, ErrMachineNotFound)
}
