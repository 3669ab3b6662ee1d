package handler

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-print/internal/config"
	"github.com/bitfantasy/nimo-print/internal/production/entity"
	"github.com/bitfantasy/nimo-print/internal/production/repository"
	"github.com/bitfantasy/nimo-print/internal/production/service"
	"github.com/bitfantasy/nimo-print/internal/production/testutil"
	"github.com/xuri/excelize/v2"
)

const base = "/api/v1/production"

func setupProductionTest(t *testing.T) *testutil.TestEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	svc := service.NewServices(repository.NewRepositories(db), config.DefaultProductionConfig(), nil, nil)

	router := testutil.SetupRouter()
	RegisterRoutes(testutil.AuthGroup(router, base), NewHandlers(svc))
	return &testutil.TestEnv{DB: db, Router: router, T: t}
}

func dataOf(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	data, ok := resp["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no data object: %v", resp)
	}
	return data
}

func TestRequiresToken(t *testing.T) {
	env := setupProductionTest(t)
	w := testutil.DoRequest(env.Router, http.MethodGet, base+"/board", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestSlotActionMount(t *testing.T) {
	env := setupProductionTest(t)
	token := testutil.DefaultTestToken()
	m := testutil.SeedMachine(t, env.DB, "M1", "area-1", "S1", "S2")
	spool := testutil.SeedSpool(t, env.DB, "BOB-A", "Vinilo", "area-1", 50, time.Now().Add(-time.Hour))

	path := base + "/machines/" + m.ID + "/slots/" + m.Slots[0].ID + "/action"
	w := testutil.DoRequest(env.Router, http.MethodPost, path, map[string]interface{}{
		"action":      "MOUNT",
		"spool_label": "BOB-A",
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := dataOf(t, testutil.ParseResponse(w))
	if data["success"] != true {
		t.Fatalf("expected success, got %v", data)
	}

	var movement entity.Movement
	env.DB.Where("spool_id = ?", spool.ID).First(&movement)
	if movement.Type != entity.MovementMount || movement.Actor != "Test Operator" {
		t.Fatalf("expected MOUNT movement by the token user, got %s by %q", movement.Type, movement.Actor)
	}

	// same spool on the second slot
	path2 := base + "/machines/" + m.ID + "/slots/" + m.Slots[1].ID + "/action"
	w = testutil.DoRequest(env.Router, http.MethodPost, path2, map[string]interface{}{
		"action":   "mount",
		"spool_id": spool.ID,
	}, token)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	if resp["code"].(float64) != CodeConflict {
		t.Fatalf("expected code %d, got %v", CodeConflict, resp["code"])
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, path, map[string]interface{}{
		"action":      "UNMOUNT",
		"final_state": "exhausted",
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on unmount, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, path, map[string]interface{}{"action": "SPIN"}, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", w.Code)
	}
}

func TestMountUnknownSlot(t *testing.T) {
	env := setupProductionTest(t)
	m := testutil.SeedMachine(t, env.DB, "M1", "area-1", "S1")

	w := testutil.DoRequest(env.Router, http.MethodPost, base+"/machines/"+m.ID+"/slots/nope/action",
		map[string]interface{}{"action": "MOUNT", "spool_id": "x"}, testutil.DefaultTestToken())
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBatchLifecycleOverHTTP(t *testing.T) {
	env := setupProductionTest(t)
	token := testutil.DefaultTestToken()
	m := testutil.SeedMachine(t, env.DB, "M1", "area-1", "S1")

	w := testutil.DoRequest(env.Router, http.MethodPost, base+"/orders", map[string]interface{}{
		"material": "Vinilo",
		"area_id":  "area-1",
		"quantity": 12,
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	orderID := dataOf(t, testutil.ParseResponse(w))["id"].(string)

	w = testutil.DoRequest(env.Router, http.MethodPost, base+"/batches", map[string]interface{}{
		"material":  "Vinilo",
		"area_id":   "area-1",
		"order_ids": []string{orderID},
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	batch := dataOf(t, testutil.ParseResponse(w))["batch"].(map[string]interface{})
	batchID := batch["id"].(string)
	if batch["planned_qty"].(float64) != 12 {
		t.Fatalf("expected planned 12, got %v", batch["planned_qty"])
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, base+"/machines/"+m.ID+"/batches/"+batchID+"/start", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, base+"/batches/"+batchID+"/close", map[string]interface{}{}, token)
	if w.Code != http.StatusConflict {
		t.Fatalf("close with open orders: expected 409, got %d", w.Code)
	}
	if code := testutil.ParseResponse(w)["code"].(float64); code != CodeIncomplete {
		t.Fatalf("expected code %d, got %v", CodeIncomplete, code)
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, base+"/machines/"+m.ID+"/batches/"+batchID+"/finish",
		map[string]interface{}{"destination": "production"}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("finish: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, base+"/batches/"+batchID+"/close", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	closed := dataOf(t, testutil.ParseResponse(w))["batch"].(map[string]interface{})
	if closed["status"] != entity.BatchStatusClosed {
		t.Fatalf("expected CLOSED, got %v", closed["status"])
	}
}

func TestMagicSortEndpoint(t *testing.T) {
	env := setupProductionTest(t)
	token := testutil.DefaultTestToken()
	testutil.SeedOrder(t, env.DB, "ORD-1", "Lona", "", "area-1", 3, 0)
	testutil.SeedOrder(t, env.DB, "ORD-2", "LONA ", "", "area-1", 3, 0)

	w := testutil.DoRequest(env.Router, http.MethodPost, base+"/batches/magic-sort",
		map[string]interface{}{"area_id": "area-1"}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := dataOf(t, testutil.ParseResponse(w))
	if batches := data["batches"].([]interface{}); len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	if conflicts := data["conflicts"].([]interface{}); len(conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %d", len(conflicts))
	}

	w = testutil.DoRequest(env.Router, http.MethodGet, base+"/orders/backlog?area_id=area-1", nil, token)
	if backlog, _ := testutil.ParseResponse(w)["data"].([]interface{}); len(backlog) != 0 {
		t.Fatalf("backlog should be empty after magic sort, got %d", len(backlog))
	}
}

func TestSpoolEndpoints(t *testing.T) {
	env := setupProductionTest(t)
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(env.Router, http.MethodPost, base+"/spools", map[string]interface{}{
		"label_code": "BOB-9",
		"material":   "Vinilo",
		"quantity":   50,
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	spoolID := dataOf(t, testutil.ParseResponse(w))["id"].(string)

	w = testutil.DoRequest(env.Router, http.MethodPost, base+"/spools/"+spoolID+"/adjust",
		map[string]interface{}{"delta": -80, "reason": "count"}, token)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("underflow: expected 422, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, base+"/spools/"+spoolID+"/correct",
		map[string]interface{}{"target": 45, "reason": "count"}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("correct: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, base+"/spools/"+spoolID+"/close",
		map[string]interface{}{"measured_remaining": 40, "retire": true}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if waste := dataOf(t, testutil.ParseResponse(w))["waste"].(float64); waste != 5 {
		t.Fatalf("expected waste 5, got %v", waste)
	}

	w = testutil.DoRequest(env.Router, http.MethodGet, base+"/spools/"+spoolID+"/reconcile", nil, token)
	if data := dataOf(t, testutil.ParseResponse(w)); data["consistent"] != true {
		t.Fatalf("expected consistent log, got %v", data)
	}

	w = testutil.DoRequest(env.Router, http.MethodGet, base+"/reports/waste", nil, token)
	rows := testutil.ParseResponse(w)["data"].([]interface{})
	if len(rows) != 1 || rows[0].(map[string]interface{})["waste"].(float64) != 5 {
		t.Fatalf("expected waste summary of 5 for Vinilo, got %v", rows)
	}

	w = testutil.DoRequest(env.Router, http.MethodGet, base+"/spools/missing", nil, token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestExportMovements(t *testing.T) {
	env := setupProductionTest(t)
	token := testutil.DefaultTestToken()
	w := testutil.DoRequest(env.Router, http.MethodPost, base+"/spools", map[string]interface{}{
		"label_code": "BOB-X",
		"material":   "Lona",
		"quantity":   20,
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	w = testutil.DoRequest(env.Router, http.MethodGet, base+"/reports/movements/export", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected content type %q", ct)
	}

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 2 || rows[1][1] != entity.MovementIngress || rows[1][2] != "BOB-X" {
		t.Fatalf("expected header plus one INGRESS row, got %v", rows)
	}

	w = testutil.DoRequest(env.Router, http.MethodGet, base+"/reports/movements?from=2026-13-01", nil, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", w.Code)
	}
}
