package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/valleteclab/portaldcp/internal/middleware"
	planentity "github.com/valleteclab/portaldcp/internal/planning/entity"
	"github.com/valleteclab/portaldcp/internal/procurement/entity"
	"github.com/valleteclab/portaldcp/internal/procurement/phase"
	pubentity "github.com/valleteclab/portaldcp/internal/publication/entity"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	TestSchema = "test_portal"
	JWTSecret  = "portaldcp-test-jwt-secret"
)

// projectRoot 向上查找go.mod所在目录
func projectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func loadEnv() {
	if root := projectRoot(); root != "" {
		_ = godotenv.Load(filepath.Join(root, ".env"))
	}
}

// Entities 全部需要迁移的表
func Entities() []interface{} {
	return []interface{}{
		&entity.Process{},
		&entity.Lot{},
		&entity.LineItem{},
		&entity.ActivityLog{},
		&planentity.AnnualPlan{},
		&planentity.PlanLine{},
		&planentity.PlanConsumption{},
		&planentity.Demand{},
		&planentity.DemandLine{},
		&pubentity.SyncRecord{},
	}
}

// SetupTestDB 每个测试一个独立schema，结束后删除；连不上数据库时跳过
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	loadEnv()

	baseDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable connect_timeout=3",
		getEnv("DB_HOST", "127.0.0.1"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_USER", "portal"),
		getEnv("DB_PASSWORD", "portal123"),
		getEnv("DB_NAME", "portaldcp"))

	schemaName := fmt.Sprintf("%s_%d", TestSchema, time.Now().UnixNano()%1000000)

	setupDB, err := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	sqlSetup, _ := setupDB.DB()
	if err := sqlSetup.Ping(); err != nil {
		sqlSetup.Close()
		t.Skipf("postgres not available: %v", err)
	}
	if err := setupDB.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName)).Error; err != nil {
		sqlSetup.Close()
		t.Fatalf("create test schema: %v", err)
	}
	sqlSetup.Close()

	// search_path写进DSN，连接池里的每个连接都落在测试schema
	testDSN := fmt.Sprintf("%s search_path=%s", baseDSN, schemaName)
	db, err := gorm.Open(postgres.Open(testDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("connect test schema: %v", err)
	}

	if err := db.AutoMigrate(Entities()...); err != nil {
		t.Fatalf("migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, _ := db.DB(); sqlDB != nil {
			sqlDB.Close()
		}
		cleanDB, cleanErr := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if cleanErr == nil {
			cleanDB.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
			if sqlClean, _ := cleanDB.DB(); sqlClean != nil {
				sqlClean.Close()
			}
		}
	})

	return db
}

// SetupRouter gin测试路由
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup 带JWT认证的路由组
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken 生成测试token
func GenerateTestToken(userID, name, email string, roles, permissions []string) string {
	if roles == nil {
		roles = []string{}
	}
	if permissions == nil {
		permissions = []string{}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"uid":   userID,
		"name":  name,
		"email": email,
		"org":   "org-test",
		"roles": roles,
		"perms": permissions,
		"iss":   "portaldcp",
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
		"jti":   fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DefaultTestToken 管理员token
func DefaultTestToken() string {
	return GenerateTestToken("test-user-001", "Test Admin", "admin@test.gov.br",
		[]string{middleware.AdminRole}, []string{"*"})
}

// DoRequest 对测试路由发请求
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

// ParseResponse 解析 {code, message, data}
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// NewID 32位ID
func NewID() string {
	return uuid.New().String()[:32]
}

// SeedPlanLine 创建一份已报送平台的计划和一行，返回计划行
func SeedPlanLine(t *testing.T, db *gorm.DB, orgID string, year int, estimated decimal.Decimal) (*planentity.AnnualPlan, *planentity.PlanLine) {
	t.Helper()
	now := time.Now()
	plan := &planentity.AnnualPlan{
		ID:                    NewID(),
		OrgID:                 orgID,
		Year:                  year,
		Number:                fmt.Sprintf("PCA %d", year),
		Status:                planentity.PlanStatusSentToRegistry,
		TotalEstimated:        estimated,
		LineCount:             1,
		RegistryControlNumber: fmt.Sprintf("11222333000181-0-000001/%d", year),
		RegistrySequence:      1,
		SentAt:                &now,
	}
	if err := db.Create(plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	line := &planentity.PlanLine{
		ID:             NewID(),
		PlanID:         plan.ID,
		Number:         1,
		Category:       planentity.CategoryMaterial,
		Description:    "Material de expediente",
		Unit:           "UN",
		Quantity:       decimal.NewFromInt(1),
		UnitEstimated:  estimated,
		EstimatedValue: estimated,
		ConsumedValue:  decimal.Zero,
		Priority:       3,
		Status:         planentity.LineStatusPlanned,
	}
	if err := db.Create(line).Error; err != nil {
		t.Fatalf("seed plan line: %v", err)
	}
	return plan, line
}

// SeedProcess 直接写入一个指定阶段的流程
func SeedProcess(t *testing.T, db *gorm.DB, number string, ph phase.Phase) *entity.Process {
	t.Helper()
	p := &entity.Process{
		ID:            NewID(),
		ProcessNumber: number,
		Year:          time.Now().Year(),
		Sequence:      1,
		OrgID:         "org-test",
		Object:        "Aquisição de material de expediente",
		Modality:      entity.ModalityPregaoEletronico,
		Criterion:     entity.CriterionLowestPrice,
		DisputeMode:   entity.DisputeModeOpen,
		Phase:         ph,
		BudgetSecrecy: entity.BudgetPublic,
		PlanLinkMode:  entity.LinkByItem,
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("seed process: %v", err)
	}
	return p
}

// SeedItem 在流程下写入一个有效行项
func SeedItem(t *testing.T, db *gorm.DB, processID string, number int, quantity, unit decimal.Decimal) *entity.LineItem {
	t.Helper()
	it := &entity.LineItem{
		ID:            NewID(),
		ProcessID:     processID,
		Number:        number,
		Description:   fmt.Sprintf("Item %d", number),
		ItemType:      entity.ItemTypeMaterial,
		Unit:          "UN",
		Quantity:      quantity,
		UnitEstimated: unit,
		Participation: entity.ParticipationOpen,
		Status:        entity.ItemStatusActive,
	}
	if err := db.Create(it).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return it
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
