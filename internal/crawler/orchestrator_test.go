package crawler

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zipsea/cruisesync/internal/checkpoint"
	"github.com/zipsea/cruisesync/internal/config"
	"github.com/zipsea/cruisesync/internal/database"
	"github.com/zipsea/cruisesync/internal/entities"
	"github.com/zipsea/cruisesync/internal/logging"
	"github.com/zipsea/cruisesync/internal/metrics"
	"github.com/zipsea/cruisesync/internal/remote"
	"github.com/zipsea/cruisesync/internal/upsert"
)

// fakeRemote serves an in-memory file tree and records every fetched path.
type fakeRemote struct {
	mu      sync.Mutex
	files   map[string][]byte // full path -> content
	fetched []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{files: map[string][]byte{}}
}

func (f *fakeRemote) add(path string, content string) {
	f.files[path] = []byte(content)
}

func (f *fakeRemote) List(_ context.Context, dir string) ([]remote.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir = strings.TrimSuffix(dir, "/")
	seen := map[string]remote.Entry{}
	for p := range f.files {
		if !strings.HasPrefix(p, dir+"/") {
			continue
		}
		rest := strings.TrimPrefix(p, dir+"/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) == 1 {
			seen[parts[0]] = remote.Entry{Name: parts[0], Size: int64(len(f.files[p]))}
		} else {
			seen[parts[0]] = remote.Entry{Name: parts[0], IsDir: true}
		}
	}
	var out []remote.Entry
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeRemote) Fetch(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, path)
	data, ok := f.files[path]
	if !ok {
		return nil, &remote.FetchError{Path: path, Err: fmt.Errorf("no such file")}
	}
	return data, nil
}

func (f *fakeRemote) fetchCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.fetched {
		if p == path {
			n++
		}
	}
	return n
}

var metricsOnce sync.Once
var sharedMetrics *metrics.Metrics

// prometheus collectors register globally, so tests share one instance.
func testMetrics() *metrics.Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = metrics.NewMetrics("crawler_test")
	})
	return sharedMetrics
}

func setupTestDB(t *testing.T) (*gorm.DB, func()) {
	dbPath := "./test_crawler_" + t.Name() + ".db"

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	cleanup := func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
		os.Remove(dbPath)
	}
	return db, cleanup
}

func sailingDoc(codeToCruiseID, lineID, shipID uint) string {
	return fmt.Sprintf(`{
		"codetocruiseid": %d,
		"lineid": %d,
		"shipid": %d,
		"name": "Sailing %d",
		"saildate": "2027-01-10",
		"cheapestinside": 500
	}`, codeToCruiseID, lineID, shipID, codeToCruiseID)
}

func newOrchestrator(db *gorm.DB, client remote.Client, batchSize int) *Orchestrator {
	engine := upsert.NewEngine(db, upsert.NewRecorder(), logging.NewNop())
	return NewOrchestrator(
		client,
		engine,
		checkpoint.NewRepository(db),
		db,
		config.Crawl{RootPath: "/", BatchSize: batchSize, Workers: 2, RetentionDays: 90},
		testMetrics(),
		logging.NewNop(),
	)
}

func TestRun_FullCrawl(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	client := newFakeRemote()
	client.add("/2026-05/4/77/9001.json", sailingDoc(9001, 4, 77))
	client.add("/2026-05/4/77/9002.json", sailingDoc(9002, 4, 77))
	client.add("/2026-06/16/248/9003.json", sailingDoc(9003, 16, 248))

	orch := newOrchestrator(db, client, 10)
	result, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Completed)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 3, result.Created)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, StateCompleted, orch.State())

	var sailings int64
	db.Model(&entities.Sailing{}).Count(&sailings)
	assert.Equal(t, int64(3), sailings)

	// Clean completion clears the checkpoint.
	cp, err := checkpoint.NewRepository(db).Load()
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestRun_NormalizationFailureDoesNotAbort(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	client := newFakeRemote()
	client.add("/2026-05/4/77/9001.json", sailingDoc(9001, 4, 77))
	client.add("/2026-05/4/77/bad.json", `{"lineid": "notanumber"}`)
	client.add("/2026-05/4/77/9002.json", sailingDoc(9002, 4, 77))

	orch := newOrchestrator(db, client, 10)
	result, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Completed)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.FailedPaths, 1)
	assert.Equal(t, "/2026-05/4/77/bad.json", result.FailedPaths[0].Path)
	assert.Equal(t, "normalize", result.FailedPaths[0].Kind)

	// Checkpoint is retained for resume.
	cp, err := checkpoint.NewRepository(db).Load()
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 1, cp.Failed)
}

func TestRun_ResumeSkipsCompletedFiles(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	client := newFakeRemote()
	client.add("/2026-05/4/77/9001.json", sailingDoc(9001, 4, 77))
	client.add("/2026-05/4/77/9002.json", sailingDoc(9002, 4, 77))
	client.add("/2026-06/4/77/9003.json", sailingDoc(9003, 4, 77))

	// Simulate an interrupted prior run that finished 9001 and its batch.
	repo := checkpoint.NewRepository(db)
	cp := &entities.SyncCheckpoint{RunID: "prior-run", CurrentSegment: "2026-05", Processed: 1, Created: 1}
	cp.SetPathList([]string{"/2026-05/4/77/9001.json"})
	require.NoError(t, repo.Save(cp))

	orch := newOrchestrator(db, client, 10)
	result, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Completed)
	assert.Equal(t, "prior-run", result.RunID)

	// The completed file is never re-fetched; the rest are fetched once.
	assert.Equal(t, 0, client.fetchCount("/2026-05/4/77/9001.json"))
	assert.Equal(t, 1, client.fetchCount("/2026-05/4/77/9002.json"))
	assert.Equal(t, 1, client.fetchCount("/2026-06/4/77/9003.json"))
}

func TestRun_ResumeCarriesPriorCounters(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	client := newFakeRemote()
	client.add("/2026-05/4/77/9001.json", sailingDoc(9001, 4, 77))
	client.add("/2026-05/4/77/9002.json", sailingDoc(9002, 4, 77))
	client.add("/2026-06/4/77/9003.json", sailingDoc(9003, 4, 77))

	// The interrupted run already created two sailings; the resumed run's
	// summary must include them, not just the files it processed itself.
	repo := checkpoint.NewRepository(db)
	cp := &entities.SyncCheckpoint{RunID: "prior-run", Processed: 2, Created: 2}
	cp.SetSegmentList([]string{"2026-05"})
	require.NoError(t, repo.Save(cp))

	orch := newOrchestrator(db, client, 10)
	result, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Completed)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 3, result.Created)
	assert.Equal(t, 0, result.Failed)
}

func TestRun_ResumeSkipsCompletedSegments(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	client := newFakeRemote()
	client.add("/2026-05/4/77/9001.json", sailingDoc(9001, 4, 77))
	client.add("/2026-06/4/77/9002.json", sailingDoc(9002, 4, 77))

	repo := checkpoint.NewRepository(db)
	cp := &entities.SyncCheckpoint{RunID: "prior-run"}
	cp.SetSegmentList([]string{"2026-05"})
	require.NoError(t, repo.Save(cp))

	orch := newOrchestrator(db, client, 10)
	result, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Completed)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, client.fetchCount("/2026-05/4/77/9001.json"))
	assert.Equal(t, 1, client.fetchCount("/2026-06/4/77/9002.json"))
}

func TestRun_CancelledBetweenBatches(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	client := newFakeRemote()
	for i := uint(0); i < 4; i++ {
		client.add(fmt.Sprintf("/2026-05/4/77/%d.json", 9001+i), sailingDoc(9001+i, 4, 77))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancelled before the first batch boundary check

	orch := newOrchestrator(db, client, 2)
	result, err := orch.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, result.Completed)
	assert.Empty(t, client.fetched)
}

func TestRun_DeactivatesUnseenSailings(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	client := newFakeRemote()
	client.add("/2026-05/4/77/9001.json", sailingDoc(9001, 4, 77))

	// A previously-active sailing the crawl will not re-sight.
	orch := newOrchestrator(db, client, 10)
	stale := entities.Sailing{CodeToCruiseID: 8000, LineID: 4, ShipID: 77, Active: true}
	staleDate := mustDate(t, "2027-06-01")
	stale.SailingDate = &staleDate
	require.NoError(t, db.Create(&stale).Error)

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, int64(1), result.Deactivated)

	var reloaded entities.Sailing
	require.NoError(t, db.First(&reloaded, "code_to_cruise_id = ?", 8000).Error)
	assert.False(t, reloaded.Active)

	var fresh entities.Sailing
	require.NoError(t, db.First(&fresh, "code_to_cruise_id = ?", 9001).Error)
	assert.True(t, fresh.Active)
}

func mustDate(t *testing.T, value string) (parsed time.Time) {
	parsed, err := time.Parse("2006-01-02", value)
	require.NoError(t, err)
	return parsed
}
