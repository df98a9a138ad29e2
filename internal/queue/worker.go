package queue

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zipsea/cruisesync/internal/config"
	"github.com/zipsea/cruisesync/internal/entities"
	"github.com/zipsea/cruisesync/internal/metrics"
	"github.com/zipsea/cruisesync/internal/normalizer"
	"github.com/zipsea/cruisesync/internal/remote"
	"github.com/zipsea/cruisesync/internal/upsert"
)

// WorkerPool claims and processes sync jobs. Each job runs its files through
// exactly the same normalize/upsert pipeline as the full crawl; there is no
// separate fast path for incremental updates.
type WorkerPool struct {
	repo    *Repository
	remote  remote.Client
	engine  *upsert.Engine
	cfg     config.Queue
	crawl   config.Crawl
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger

	wg sync.WaitGroup
}

func NewWorkerPool(
	repo *Repository,
	remoteClient remote.Client,
	engine *upsert.Engine,
	cfg config.Queue,
	crawl config.Crawl,
	m *metrics.Metrics,
	logger *zap.SugaredLogger,
) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &WorkerPool{
		repo:    repo,
		remote:  remoteClient,
		engine:  engine,
		cfg:     cfg,
		crawl:   crawl,
		metrics: m,
		logger:  logger,
	}
}

// Start launches the workers. They run until ctx is cancelled; Wait blocks
// until all of them have drained.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runWorker(ctx, workerID)
		}()
	}
	p.logger.Infow("sync queue workers started", "workers", p.cfg.Workers)
}

// Wait blocks until every worker has exited.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) runWorker(ctx context.Context, workerID string) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := p.repo.Heartbeat(workerID); err != nil {
			p.logger.Warnw("worker heartbeat failed", "worker", workerID, "error", err)
		}

		job, err := p.repo.Claim(workerID)
		if err != nil {
			p.logger.Errorw("job claim failed", "worker", workerID, "error", err)
		} else if job != nil {
			p.processJob(ctx, workerID, job)
			// Drain the queue before going back to sleep.
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// processJob fetches and upserts every file the job covers. Per-file failures
// are recorded and do not fail the job; only the inability to even derive the
// file list does. Duplicate notifications are harmless because the upsert
// engine is create-or-update.
func (p *WorkerPool) processJob(ctx context.Context, workerID string, job *entities.SyncJob) {
	p.logger.Infow("processing sync job", "worker", workerID, "job", job.ID, "line", job.LineID)

	stopHeartbeat := p.keepHeartbeat(workerID)
	defer stopHeartbeat()

	paths := job.PathList()
	if len(paths) == 0 {
		derived, err := p.deriveLinePaths(ctx, job.LineID)
		if err != nil {
			p.logger.Errorw("failed to derive file list", "job", job.ID, "line", job.LineID, "error", err)
			if failErr := p.repo.Fail(job.ID, err); failErr != nil {
				// Job stays active; the reaper will requeue it.
				p.logger.Errorw("failed to mark job failed", "job", job.ID, "error", failErr)
			}
			return
		}
		paths = derived
	}

	var processed, failed int
	var failures []string
	for _, filePath := range paths {
		if ctx.Err() != nil {
			// Shutdown mid-job: leave the job active for the reaper rather
			// than recording a partial result as terminal.
			p.logger.Warnw("job interrupted by shutdown", "job", job.ID)
			return
		}
		processed++
		p.metrics.FilesProcessed.Inc()
		created, err := p.processFile(ctx, filePath)
		if err != nil {
			failed++
			failures = append(failures, fmt.Sprintf("%s: %v", filePath, err))
			p.metrics.FileFailures.WithLabelValues("sync").Inc()
			p.logger.Warnw("sync job file failed", "job", job.ID, "path", filePath, "error", err)
			continue
		}
		if created {
			p.metrics.SailingsCreated.Inc()
		} else {
			p.metrics.SailingsUpdated.Inc()
		}
	}

	summary := fmt.Sprintf("processed %d files, %d failed", processed, failed)
	if len(failures) > 0 {
		summary += "; " + strings.Join(failures, "; ")
	}
	if err := p.repo.Complete(job.ID, summary); err != nil {
		p.logger.Errorw("failed to complete job", "job", job.ID, "error", err)
		return
	}
	p.logger.Infow("sync job done", "job", job.ID, "processed", processed, "failed", failed)
}

// keepHeartbeat refreshes the worker's heartbeat on the poll interval until
// the returned stop function is called. A job that takes longer than the
// reaper's worker timeout would otherwise make a busy worker read as dead.
func (p *WorkerPool) keepHeartbeat(workerID string) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := p.repo.Heartbeat(workerID); err != nil {
					p.logger.Warnw("worker heartbeat failed", "worker", workerID, "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (p *WorkerPool) processFile(ctx context.Context, filePath string) (bool, error) {
	data, err := p.remote.Fetch(ctx, filePath)
	if err != nil {
		return false, err
	}
	hint := hintFromPath(filePath)
	rec, err := normalizer.Normalize(data, hint)
	if err != nil {
		return false, err
	}
	res, err := p.engine.Apply(ctx, rec)
	return res.Created, err
}

// deriveLinePaths re-derives the current file set for a line by walking every
// segment's /{segment}/{lineid} subtree.
func (p *WorkerPool) deriveLinePaths(ctx context.Context, lineID uint) ([]string, error) {
	root := p.crawl.RootPath
	segments, err := p.remote.List(ctx, root)
	if err != nil {
		return nil, err
	}

	var paths []string
	lineDir := strconv.FormatUint(uint64(lineID), 10)
	for _, segment := range segments {
		if !segment.IsDir {
			continue
		}
		linePath := path.Join(root, segment.Name, lineDir)
		ships, err := p.remote.List(ctx, linePath)
		if errors.Is(err, remote.ErrNotExist) {
			// The line has no files in this period.
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, ship := range ships {
			if !ship.IsDir {
				continue
			}
			shipPath := path.Join(linePath, ship.Name)
			files, err := p.remote.List(ctx, shipPath)
			if err != nil {
				return nil, err
			}
			for _, f := range files {
				if !f.IsDir && strings.HasSuffix(f.Name, ".json") {
					paths = append(paths, path.Join(shipPath, f.Name))
				}
			}
		}
	}
	return paths, nil
}

// hintFromPath recovers line and ship ids from a
// /{segment}/{lineid}/{shipid}/{codetocruiseid}.json path.
func hintFromPath(filePath string) normalizer.PathHint {
	hint := normalizer.PathHint{Path: filePath}
	parts := strings.Split(strings.Trim(filePath, "/"), "/")
	if len(parts) >= 4 {
		if lineID, err := strconv.ParseUint(parts[len(parts)-3], 10, 32); err == nil {
			hint.LineID = uint(lineID)
		}
		if shipID, err := strconv.ParseUint(parts[len(parts)-2], 10, 32); err == nil {
			hint.ShipID = uint(shipID)
		}
	}
	return hint
}
