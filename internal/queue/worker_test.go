package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zipsea/cruisesync/internal/config"
	"github.com/zipsea/cruisesync/internal/database"
	"github.com/zipsea/cruisesync/internal/entities"
	"github.com/zipsea/cruisesync/internal/logging"
	"github.com/zipsea/cruisesync/internal/metrics"
	"github.com/zipsea/cruisesync/internal/remote"
	"github.com/zipsea/cruisesync/internal/upsert"
)

type stubRemote struct {
	files      map[string][]byte
	listErrs   map[string]error
	fetchDelay time.Duration
}

func (s *stubRemote) List(_ context.Context, dir string) ([]remote.Entry, error) {
	dir = strings.TrimSuffix(dir, "/")
	if err, ok := s.listErrs[dir]; ok {
		return nil, err
	}
	seen := map[string]remote.Entry{}
	for p := range s.files {
		if !strings.HasPrefix(p, dir+"/") {
			continue
		}
		rest := strings.TrimPrefix(p, dir+"/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) == 1 {
			seen[parts[0]] = remote.Entry{Name: parts[0]}
		} else {
			seen[parts[0]] = remote.Entry{Name: parts[0], IsDir: true}
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("%w: %s", remote.ErrNotExist, dir)
	}
	var out []remote.Entry
	for _, e := range seen {
		out = append(out, e)
	}
	return out, nil
}

func (s *stubRemote) Fetch(_ context.Context, path string) ([]byte, error) {
	if s.fetchDelay > 0 {
		time.Sleep(s.fetchDelay)
	}
	data, ok := s.files[path]
	if !ok {
		return nil, &remote.FetchError{Path: path, Err: fmt.Errorf("no such file")}
	}
	return data, nil
}

var queueMetricsOnce sync.Once
var queueMetrics *metrics.Metrics

func testMetrics() *metrics.Metrics {
	queueMetricsOnce.Do(func() {
		queueMetrics = metrics.NewMetrics("queue_test")
	})
	return queueMetrics
}

func newPool(t *testing.T, repo *Repository, client remote.Client) *WorkerPool {
	db := repo.db
	require.NoError(t, database.Migrate(db))
	engine := upsert.NewEngine(db, upsert.NewRecorder(), logging.NewNop())
	return NewWorkerPool(
		repo,
		client,
		engine,
		config.Queue{Workers: 1},
		config.Crawl{RootPath: "/"},
		testMetrics(),
		logging.NewNop(),
	)
}

func TestProcessJob_ExplicitPaths(t *testing.T) {
	repo, db, cleanup := setupTestDB(t)
	defer cleanup()

	client := &stubRemote{files: map[string][]byte{
		"/2026-05/16/248/9001.json": []byte(`{"codetocruiseid": 9001, "lineid": 16, "shipid": 248, "cheapestinside": 450}`),
	}}
	pool := newPool(t, repo, client)

	job, err := repo.Enqueue(16, []string{"/2026-05/16/248/9001.json"})
	require.NoError(t, err)
	claimed, err := repo.Claim("worker-a")
	require.NoError(t, err)

	pool.processJob(context.Background(), "worker-a", claimed)

	var reloaded entities.SyncJob
	require.NoError(t, db.First(&reloaded, job.ID).Error)
	assert.Equal(t, entities.JobStatusCompleted, reloaded.Status)

	var sailing entities.Sailing
	require.NoError(t, db.First(&sailing, "code_to_cruise_id = ?", 9001).Error)
	require.NotNil(t, sailing.CheapestPrice)
	assert.Equal(t, 450.0, *sailing.CheapestPrice)
}

func TestProcessJob_DerivesPathsForLine(t *testing.T) {
	repo, db, cleanup := setupTestDB(t)
	defer cleanup()

	client := &stubRemote{files: map[string][]byte{
		"/2026-05/16/248/9001.json": []byte(`{"codetocruiseid": 9001, "lineid": 16, "shipid": 248}`),
		"/2026-06/16/248/9002.json": []byte(`{"codetocruiseid": 9002, "lineid": 16, "shipid": 248}`),
		"/2026-05/4/77/8001.json":   []byte(`{"codetocruiseid": 8001, "lineid": 4, "shipid": 77}`),
	}}
	pool := newPool(t, repo, client)

	_, err := repo.Enqueue(16, nil)
	require.NoError(t, err)
	claimed, err := repo.Claim("worker-a")
	require.NoError(t, err)

	pool.processJob(context.Background(), "worker-a", claimed)

	// Only line 16's sailings across all segments were synced.
	var count int64
	db.Model(&entities.Sailing{}).Count(&count)
	assert.Equal(t, int64(2), count)

	var other entities.Sailing
	err = db.First(&other, "code_to_cruise_id = ?", 8001).Error
	assert.Error(t, err)
}

func TestProcessJob_DuplicateNotificationIdempotent(t *testing.T) {
	repo, db, cleanup := setupTestDB(t)
	defer cleanup()

	client := &stubRemote{files: map[string][]byte{
		"/2026-05/16/248/9001.json": []byte(`{"codetocruiseid": 9001, "lineid": 16, "shipid": 248, "cheapestinside": 450}`),
	}}
	pool := newPool(t, repo, client)

	for i := 0; i < 2; i++ {
		_, err := repo.Enqueue(16, []string{"/2026-05/16/248/9001.json"})
		require.NoError(t, err)
		claimed, err := repo.Claim("worker-a")
		require.NoError(t, err)
		pool.processJob(context.Background(), "worker-a", claimed)
	}

	var sailings, snapshots int64
	db.Model(&entities.Sailing{}).Count(&sailings)
	db.Model(&entities.PriceSnapshot{}).Count(&snapshots)
	assert.Equal(t, int64(1), sailings)
	// Same prices twice: no snapshot.
	assert.Equal(t, int64(0), snapshots)
}

func TestProcessJob_PerFileFailureDoesNotFailJob(t *testing.T) {
	repo, db, cleanup := setupTestDB(t)
	defer cleanup()

	client := &stubRemote{files: map[string][]byte{
		"/2026-05/16/248/9001.json": []byte(`{"codetocruiseid": 9001, "lineid": 16, "shipid": 248}`),
	}}
	pool := newPool(t, repo, client)

	_, err := repo.Enqueue(16, []string{
		"/2026-05/16/248/9001.json",
		"/2026-05/16/248/missing.json",
	})
	require.NoError(t, err)
	claimed, err := repo.Claim("worker-a")
	require.NoError(t, err)

	pool.processJob(context.Background(), "worker-a", claimed)

	var reloaded entities.SyncJob
	require.NoError(t, db.First(&reloaded, claimed.ID).Error)
	assert.Equal(t, entities.JobStatusCompleted, reloaded.Status)
	assert.Contains(t, reloaded.Error, "1 failed")
	assert.Contains(t, reloaded.Error, "missing.json")
}

func TestProcessJob_UnlistableTreeFailsJob(t *testing.T) {
	repo, db, cleanup := setupTestDB(t)
	defer cleanup()

	client := &stubRemote{files: map[string][]byte{}}
	pool := newPool(t, repo, client)

	_, err := repo.Enqueue(16, nil)
	require.NoError(t, err)
	claimed, err := repo.Claim("worker-a")
	require.NoError(t, err)

	pool.processJob(context.Background(), "worker-a", claimed)

	var reloaded entities.SyncJob
	require.NoError(t, db.First(&reloaded, claimed.ID).Error)
	assert.Equal(t, entities.JobStatusFailed, reloaded.Status)
}

func TestProcessJob_TransientListErrorFailsJob(t *testing.T) {
	repo, db, cleanup := setupTestDB(t)
	defer cleanup()

	// Line 16 exists in both segments, but listing it in one of them hits a
	// transport failure. The job must fail rather than complete against a
	// silently shrunken file set.
	client := &stubRemote{
		files: map[string][]byte{
			"/2026-05/16/248/9001.json": []byte(`{"codetocruiseid": 9001, "lineid": 16, "shipid": 248}`),
			"/2026-06/16/248/9002.json": []byte(`{"codetocruiseid": 9002, "lineid": 16, "shipid": 248}`),
		},
		listErrs: map[string]error{
			"/2026-06/16": errors.New("connection reset by peer"),
		},
	}
	pool := newPool(t, repo, client)

	_, err := repo.Enqueue(16, nil)
	require.NoError(t, err)
	claimed, err := repo.Claim("worker-a")
	require.NoError(t, err)

	pool.processJob(context.Background(), "worker-a", claimed)

	var reloaded entities.SyncJob
	require.NoError(t, db.First(&reloaded, claimed.ID).Error)
	assert.Equal(t, entities.JobStatusFailed, reloaded.Status)

	var count int64
	db.Model(&entities.Sailing{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestProcessJob_HeartbeatStaysFreshDuringLongJob(t *testing.T) {
	repo, db, cleanup := setupTestDB(t)
	defer cleanup()

	client := &stubRemote{
		files: map[string][]byte{
			"/2026-05/16/248/9001.json": []byte(`{"codetocruiseid": 9001, "lineid": 16, "shipid": 248}`),
			"/2026-05/16/248/9002.json": []byte(`{"codetocruiseid": 9002, "lineid": 16, "shipid": 248}`),
			"/2026-05/16/248/9003.json": []byte(`{"codetocruiseid": 9003, "lineid": 16, "shipid": 248}`),
		},
		fetchDelay: 30 * time.Millisecond,
	}
	require.NoError(t, database.Migrate(db))
	engine := upsert.NewEngine(db, upsert.NewRecorder(), logging.NewNop())
	pool := NewWorkerPool(
		repo,
		client,
		engine,
		config.Queue{Workers: 1, PollInterval: 10 * time.Millisecond},
		config.Crawl{RootPath: "/"},
		testMetrics(),
		logging.NewNop(),
	)

	_, err := repo.Enqueue(16, []string{
		"/2026-05/16/248/9001.json",
		"/2026-05/16/248/9002.json",
		"/2026-05/16/248/9003.json",
	})
	require.NoError(t, err)
	claimed, err := repo.Claim("worker-a")
	require.NoError(t, err)
	require.NoError(t, repo.Heartbeat("worker-a"))

	start := time.Now()
	pool.processJob(context.Background(), "worker-a", claimed)

	// The job outlives several poll intervals, so the heartbeat must have
	// been refreshed while it ran.
	var hb entities.WorkerHeartbeat
	require.NoError(t, db.First(&hb, "worker_id = ?", "worker-a").Error)
	assert.True(t, hb.LastSeenAt.After(start))

	live, err := repo.LiveWorkers(time.Since(start))
	require.NoError(t, err)
	assert.Equal(t, int64(1), live)
}
