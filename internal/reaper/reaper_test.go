package reaper

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zipsea/cruisesync/internal/config"
	"github.com/zipsea/cruisesync/internal/entities"
	"github.com/zipsea/cruisesync/internal/logging"
	"github.com/zipsea/cruisesync/internal/metrics"
	"github.com/zipsea/cruisesync/internal/queue"
)

var metricsOnce sync.Once
var sharedMetrics *metrics.Metrics

func testMetrics() *metrics.Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = metrics.NewMetrics("reaper_test")
	})
	return sharedMetrics
}

func setupReaper(t *testing.T) (*Reaper, *queue.Repository, *gorm.DB, func()) {
	dbPath := "./test_reaper_" + t.Name() + ".db"

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&entities.SyncJob{}, &entities.WorkerHeartbeat{}))

	repo := queue.NewRepository(db)
	r := New(repo, config.Reaper{
		Schedule:       "*/5 * * * *",
		StuckThreshold: 30 * time.Minute,
		WorkerTimeout:  2 * time.Minute,
	}, testMetrics(), logging.NewNop())

	cleanup := func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
		os.Remove(dbPath)
	}
	return r, repo, db, cleanup
}

func TestSweep_RequeuesStuckJob(t *testing.T) {
	r, repo, db, cleanup := setupReaper(t)
	defer cleanup()

	job, err := repo.Enqueue(16, nil)
	require.NoError(t, err)
	_, err = repo.Claim("worker-dead")
	require.NoError(t, err)

	longAgo := time.Now().Add(-time.Hour)
	require.NoError(t, db.Model(&entities.SyncJob{}).Where("id = ?", job.ID).
		Update("started_at", longAgo).Error)

	r.Sweep()

	var reloaded entities.SyncJob
	require.NoError(t, db.First(&reloaded, job.ID).Error)
	assert.Equal(t, entities.JobStatusWaiting, reloaded.Status)

	// A live worker claims and completes it exactly once.
	claimed, err := repo.Claim("worker-live")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, repo.Complete(claimed.ID, "processed 1 files, 0 failed"))

	require.NoError(t, db.First(&reloaded, job.ID).Error)
	assert.Equal(t, entities.JobStatusCompleted, reloaded.Status)
}

func TestSweep_LeavesHealthyActiveJobsAlone(t *testing.T) {
	r, repo, db, cleanup := setupReaper(t)
	defer cleanup()

	job, err := repo.Enqueue(16, nil)
	require.NoError(t, err)
	_, err = repo.Claim("worker-busy")
	require.NoError(t, err)

	r.Sweep()

	var reloaded entities.SyncJob
	require.NoError(t, db.First(&reloaded, job.ID).Error)
	assert.Equal(t, entities.JobStatusActive, reloaded.Status)
	assert.Equal(t, "worker-busy", reloaded.WorkerID)
}

func TestSweep_CompletedJobsAreNeverTouched(t *testing.T) {
	r, repo, db, cleanup := setupReaper(t)
	defer cleanup()

	job, err := repo.Enqueue(16, nil)
	require.NoError(t, err)
	_, err = repo.Claim("worker-a")
	require.NoError(t, err)
	require.NoError(t, repo.Complete(job.ID, "done"))

	// Even with an ancient start time a terminal job stays terminal.
	longAgo := time.Now().Add(-time.Hour)
	require.NoError(t, db.Model(&entities.SyncJob{}).Where("id = ?", job.ID).
		Update("started_at", longAgo).Error)

	r.Sweep()

	var reloaded entities.SyncJob
	require.NoError(t, db.First(&reloaded, job.ID).Error)
	assert.Equal(t, entities.JobStatusCompleted, reloaded.Status)
}
