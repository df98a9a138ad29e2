package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zipsea/cruisesync/internal/audit"
	"github.com/zipsea/cruisesync/internal/entities"
	"github.com/zipsea/cruisesync/internal/logging"
	"github.com/zipsea/cruisesync/internal/queue"
)

func setupWebhookTest(t *testing.T) (*gin.Engine, *gorm.DB, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbPath := "./test_webhook_" + strings.ReplaceAll(t.Name(), "/", "_") + ".db"
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&entities.SyncJob{}, &entities.WorkerHeartbeat{}))

	controller := NewWebhookController(queue.NewRepository(db), audit.NewAuditor(""), logging.NewNop())
	router := gin.New()
	router.POST("/webhooks/cruiseline-pricing-updated", controller.PricingUpdated)

	cleanup := func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
		os.Remove(dbPath)
	}
	return router, db, cleanup
}

func TestPricingUpdated_EnqueuesJob(t *testing.T) {
	router, db, cleanup := setupWebhookTest(t)
	defer cleanup()

	body, _ := json.Marshal(WebhookPayload{LineID: 16})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/webhooks/cruiseline-pricing-updated", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var jobs []entities.SyncJob
	require.NoError(t, db.Find(&jobs).Error)
	require.Len(t, jobs, 1)
	assert.Equal(t, uint(16), jobs[0].LineID)
	assert.Equal(t, entities.JobStatusWaiting, jobs[0].Status)
}

func TestPricingUpdated_ExplicitPaths(t *testing.T) {
	router, db, cleanup := setupWebhookTest(t)
	defer cleanup()

	payload := WebhookPayload{LineID: 16, Paths: []string{"/2026-05/16/248/9001.json"}}
	body, _ := json.Marshal(payload)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/webhooks/cruiseline-pricing-updated", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var job entities.SyncJob
	require.NoError(t, db.First(&job).Error)
	assert.Equal(t, payload.Paths, job.PathList())
}

func TestPricingUpdated_RejectsMissingLineID(t *testing.T) {
	router, db, cleanup := setupWebhookTest(t)
	defer cleanup()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/webhooks/cruiseline-pricing-updated", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var count int64
	db.Model(&entities.SyncJob{}).Count(&count)
	assert.Equal(t, int64(0), count)
}
