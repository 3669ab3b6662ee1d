package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-print/internal/middleware"
	"github.com/bitfantasy/nimo-print/internal/production/entity"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	JWTSecret = "nimo-print-test-secret"
)

var dbSeq atomic.Int64

// TestEnv holds test environment resources
type TestEnv struct {
	DB     *gorm.DB
	Router *gin.Engine
	T      *testing.T
}

// SetupTestDB opens an isolated in-memory sqlite database with the
// production tables migrated. The database is dropped with the last
// connection when the test ends.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_busy_timeout=5000", name, dbSeq.Add(1))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	// 单连接：事务串行执行，等价于行锁
	sqlDB.SetMaxOpenConns(1)

	if err := entity.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, name, email string, roles []string) string {
	if roles == nil {
		roles = []string{}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"uid":   userID,
		"name":  name,
		"email": email,
		"roles": roles,
		"iss":   "nimo-print",
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
		"jti":   fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DefaultTestToken returns a token for a default operator
func DefaultTestToken() string {
	return GenerateTestToken("test-user-001", "Test Operator", "operator@test.com", []string{"production"})
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a handler.Response-like map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedMachine creates an active machine with the given slots. Slot
// names ending in "ink" get the CONSUMABLE type.
func SeedMachine(t *testing.T, db *gorm.DB, code, areaID string, slotNames ...string) *entity.Machine {
	t.Helper()
	m := &entity.Machine{
		ID:     uuid.New().String(),
		Code:   code,
		Name:   "Machine " + code,
		AreaID: areaID,
		Status: entity.MachineStatusActive,
	}
	for _, name := range slotNames {
		slotType := entity.SlotTypeSpool
		if strings.HasSuffix(strings.ToLower(name), "ink") {
			slotType = entity.SlotTypeConsumable
		}
		m.Slots = append(m.Slots, entity.Slot{
			ID:        uuid.New().String(),
			MachineID: m.ID,
			Name:      name,
			Type:      slotType,
		})
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("Failed to seed machine: %v", err)
	}
	return m
}

// SeedSpool creates an AVAILABLE roll spool received at ingress.
func SeedSpool(t *testing.T, db *gorm.DB, label, material, areaID string, qty float64, ingress time.Time) *entity.Spool {
	t.Helper()
	return SeedSpoolKind(t, db, label, material, areaID, entity.SpoolKindRoll, qty, ingress)
}

func SeedSpoolKind(t *testing.T, db *gorm.DB, label, material, areaID, kind string, qty float64, ingress time.Time) *entity.Spool {
	t.Helper()
	s := &entity.Spool{
		ID:           uuid.New().String(),
		LabelCode:    label,
		Material:     material,
		MaterialKey:  normalize(material),
		AreaID:       areaID,
		Kind:         kind,
		InitialQty:   qty,
		RemainingQty: qty,
		Unit:         "m",
		State:        entity.SpoolStateAvailable,
		IngressAt:    ingress.UTC(),
		CreatedBy:    "seed",
	}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("Failed to seed spool: %v", err)
	}
	return s
}

// SeedOrder creates a PENDING order.
func SeedOrder(t *testing.T, db *gorm.DB, code, material, variant, areaID string, qty float64, priority int) *entity.Order {
	t.Helper()
	o := &entity.Order{
		ID:       uuid.New().String(),
		Code:     code,
		Material: material,
		Variant:  variant,
		AreaID:   areaID,
		Quantity: qty,
		Unit:     "m",
		Status:   entity.OrderStatusPending,
		Priority: priority,
	}
	if err := db.Create(o).Error; err != nil {
		t.Fatalf("Failed to seed order: %v", err)
	}
	return o
}

// normalize mirrors the service key for seeded rows (ASCII fixtures only).
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
