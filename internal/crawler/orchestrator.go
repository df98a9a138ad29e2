// Package crawler drives full crawls of the remote cruise inventory tree.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zipsea/cruisesync/internal/checkpoint"
	"github.com/zipsea/cruisesync/internal/config"
	"github.com/zipsea/cruisesync/internal/entities"
	"github.com/zipsea/cruisesync/internal/metrics"
	"github.com/zipsea/cruisesync/internal/normalizer"
	"github.com/zipsea/cruisesync/internal/remote"
	"github.com/zipsea/cruisesync/internal/upsert"
)

// State is the orchestrator's coarse lifecycle, exposed for the status
// endpoint.
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// ErrCrawlInProgress is returned when Run is called while a crawl is already
// running. Concurrent crawls would fight over the same checkpoint row.
var ErrCrawlInProgress = errors.New("a crawl is already in progress")

// FileFailure records one permanently-failed file for the run summary.
type FileFailure struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"` // fetch, normalize, upsert, conflict
	Message string `json:"message"`
}

// Result summarizes one crawl run. Failures are listed explicitly; a run is
// never reported as a bare success with swallowed errors.
type Result struct {
	RunID       string        `json:"run_id"`
	Processed   int           `json:"processed"`
	Created     int           `json:"created"`
	Updated     int           `json:"updated"`
	Failed      int           `json:"failed"`
	Deactivated int64         `json:"deactivated"`
	FailedPaths []FileFailure `json:"failed_paths,omitempty"`
	Completed   bool          `json:"completed"`
	Duration    time.Duration `json:"duration"`
}

// fileRef is one JSON file discovered in the tree, with the ids its path
// encodes.
type fileRef struct {
	path   string
	lineID uint
	shipID uint
}

// Orchestrator walks the remote tree segment by segment, processing files in
// bounded batches with a fixed worker count, and checkpoints after every
// batch. A single file's failure never aborts the batch or the crawl.
type Orchestrator struct {
	remote      remote.Client
	engine      *upsert.Engine
	checkpoints *checkpoint.Repository
	db          *gorm.DB
	cfg         config.Crawl
	metrics     *metrics.Metrics
	logger      *zap.SugaredLogger

	mu         sync.RWMutex
	state      State
	lastResult *Result
}

func NewOrchestrator(
	remoteClient remote.Client,
	engine *upsert.Engine,
	checkpoints *checkpoint.Repository,
	db *gorm.DB,
	cfg config.Crawl,
	m *metrics.Metrics,
	logger *zap.SugaredLogger,
) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Orchestrator{
		remote:      remoteClient,
		engine:      engine,
		checkpoints: checkpoints,
		db:          db,
		cfg:         cfg,
		metrics:     m,
		logger:      logger,
		state:       StateIdle,
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// LastResult returns the most recent run summary, or nil.
func (o *Orchestrator) LastResult() *Result {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastResult
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Run executes one full crawl. It resumes from a prior checkpoint when one
// exists. Cancellation is honored at batch boundaries only, so a batch always
// completes or fails cleanly and the checkpoint reflects exactly the batches
// that finished.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	o.mu.Lock()
	if o.state == StateScanning || o.state == StateProcessing {
		o.mu.Unlock()
		return nil, ErrCrawlInProgress
	}
	o.state = StateScanning
	o.mu.Unlock()

	cp, err := o.checkpoints.Load()
	if err != nil {
		o.setState(StateFailed)
		return nil, err
	}
	if cp == nil {
		cp = &entities.SyncCheckpoint{
			RunID:     uuid.NewString(),
			StartedAt: start,
		}
		o.logger.Infow("starting new crawl", "run_id", cp.RunID)
	} else {
		o.logger.Infow("resuming interrupted crawl",
			"run_id", cp.RunID,
			"completed_segments", len(cp.SegmentList()),
			"completed_paths", len(cp.PathList()))
	}

	// A resumed run carries the interrupted run's counters forward. Failed
	// files were never checkpointed and are retried in full, so their prior
	// attempts are not carried.
	result := &Result{
		RunID:     cp.RunID,
		Processed: cp.Processed - cp.Failed,
		Created:   cp.Created,
		Updated:   cp.Updated,
	}
	doneSegments := stringSet(cp.SegmentList())
	donePaths := stringSet(cp.PathList())

	segments, err := o.listSegments(ctx)
	if err != nil {
		o.setState(StateFailed)
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}

	for _, segment := range segments {
		if doneSegments[segment] {
			continue
		}
		failedBefore := result.Failed
		if err := o.runSegment(ctx, segment, cp, donePaths, result); err != nil {
			o.finish(result, start, false)
			return result, err
		}
		// A segment with failed files stays incomplete so the next run
		// retries exactly those files (their paths were never checkpointed).
		if result.Failed == failedBefore {
			doneSegments[segment] = true
			cp.SetSegmentList(keys(doneSegments))
		}
		cp.CurrentSegment = ""
		if err := o.checkpoints.Save(cp); err != nil {
			o.finish(result, start, false)
			return result, err
		}
	}

	if result.Failed == 0 {
		deactivated, err := o.deactivateUnseen(cp.StartedAt)
		if err != nil {
			o.finish(result, start, false)
			return result, err
		}
		result.Deactivated = deactivated
		if err := o.checkpoints.Clear(); err != nil {
			o.finish(result, start, false)
			return result, err
		}
		o.finish(result, start, true)
		o.logger.Infow("crawl completed",
			"run_id", result.RunID,
			"processed", result.Processed,
			"created", result.Created,
			"updated", result.Updated,
			"deactivated", result.Deactivated,
			"duration", result.Duration)
		return result, nil
	}

	// Failures present: the checkpoint stays so the next run resumes, and the
	// failure list goes to the operator verbatim.
	o.finish(result, start, false)
	o.logger.Warnw("crawl finished with failures",
		"run_id", result.RunID,
		"processed", result.Processed,
		"failed", result.Failed)
	return result, nil
}

func (o *Orchestrator) finish(result *Result, start time.Time, completed bool) {
	result.Completed = completed
	result.Duration = time.Since(start)
	o.metrics.CrawlDuration.Observe(result.Duration.Seconds())
	o.mu.Lock()
	o.lastResult = result
	if completed {
		o.state = StateCompleted
	} else {
		o.state = StateFailed
	}
	o.mu.Unlock()
}

// listSegments returns the period directories under the crawl root, oldest
// first.
func (o *Orchestrator) listSegments(ctx context.Context) ([]string, error) {
	entries, err := o.remote.List(ctx, o.cfg.RootPath)
	if err != nil {
		return nil, err
	}
	var segments []string
	for _, e := range entries {
		if e.IsDir {
			segments = append(segments, e.Name)
		}
	}
	sort.Strings(segments)
	return segments, nil
}

func (o *Orchestrator) runSegment(
	ctx context.Context,
	segment string,
	cp *entities.SyncCheckpoint,
	donePaths map[string]bool,
	result *Result,
) error {
	o.setState(StateScanning)
	cp.CurrentSegment = segment

	files, err := o.enumerateSegment(ctx, segment)
	if err != nil {
		return fmt.Errorf("failed to enumerate segment %s: %w", segment, err)
	}

	// Paths already checkpointed are synchronized; skip without refetching.
	pending := files[:0]
	for _, f := range files {
		if !donePaths[f.path] {
			pending = append(pending, f)
		}
	}

	o.logger.Infow("processing segment",
		"segment", segment, "files", len(pending), "skipped", len(files)-len(pending))

	for offset := 0; offset < len(pending); offset += o.cfg.BatchSize {
		// Cancellation takes effect between batches only.
		if err := ctx.Err(); err != nil {
			return err
		}

		end := offset + o.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[offset:end]

		o.setState(StateProcessing)
		completed := o.processBatch(ctx, batch, result)

		for _, p := range completed {
			donePaths[p] = true
		}
		cp.SetPathList(keys(donePaths))
		cp.Processed = result.Processed
		cp.Created = result.Created
		cp.Updated = result.Updated
		cp.Failed = result.Failed
		if err := o.checkpoints.Save(cp); err != nil {
			return err
		}
	}
	return nil
}

// enumerateSegment walks /{segment}/{lineid}/{shipid}/*.json.
func (o *Orchestrator) enumerateSegment(ctx context.Context, segment string) ([]fileRef, error) {
	var files []fileRef
	segPath := path.Join(o.cfg.RootPath, segment)

	lineDirs, err := o.remote.List(ctx, segPath)
	if err != nil {
		return nil, err
	}
	for _, lineDir := range lineDirs {
		if !lineDir.IsDir {
			continue
		}
		lineID := parseID(lineDir.Name)
		linePath := path.Join(segPath, lineDir.Name)

		shipDirs, err := o.remote.List(ctx, linePath)
		if err != nil {
			return nil, err
		}
		for _, shipDir := range shipDirs {
			if !shipDir.IsDir {
				continue
			}
			shipID := parseID(shipDir.Name)
			shipPath := path.Join(linePath, shipDir.Name)

			entries, err := o.remote.List(ctx, shipPath)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if e.IsDir || !strings.HasSuffix(e.Name, ".json") {
					continue
				}
				files = append(files, fileRef{
					path:   path.Join(shipPath, e.Name),
					lineID: lineID,
					shipID: shipID,
				})
			}
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files, nil
}

// processBatch runs the batch through the pipeline with the fixed worker
// count and returns the paths that succeeded. Failures are recorded on the
// result and the batch continues.
func (o *Orchestrator) processBatch(ctx context.Context, batch []fileRef, result *Result) []string {
	var (
		mu        sync.Mutex
		completed []string
		wg        sync.WaitGroup
		sem       = make(chan struct{}, o.cfg.Workers)
	)

	for _, f := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(f fileRef) {
			defer wg.Done()
			defer func() { <-sem }()

			created, err := o.processFile(ctx, f)

			mu.Lock()
			defer mu.Unlock()
			result.Processed++
			o.metrics.FilesProcessed.Inc()
			if err != nil {
				kind := classifyFailure(err)
				result.Failed++
				result.FailedPaths = append(result.FailedPaths, FileFailure{
					Path:    f.path,
					Kind:    kind,
					Message: err.Error(),
				})
				o.metrics.FileFailures.WithLabelValues(kind).Inc()
				o.logger.Warnw("file failed", "path", f.path, "kind", kind, "error", err)
				return
			}
			if created {
				result.Created++
				o.metrics.SailingsCreated.Inc()
			} else {
				result.Updated++
				o.metrics.SailingsUpdated.Inc()
			}
			completed = append(completed, f.path)
		}(f)
	}
	wg.Wait()
	return completed
}

func (o *Orchestrator) processFile(ctx context.Context, f fileRef) (bool, error) {
	data, err := o.remote.Fetch(ctx, f.path)
	if err != nil {
		return false, err
	}
	rec, err := normalizer.Normalize(data, normalizer.PathHint{
		Path:   f.path,
		LineID: f.lineID,
		ShipID: f.shipID,
	})
	if err != nil {
		return false, err
	}
	res, err := o.engine.Apply(ctx, rec)
	if err != nil {
		return false, err
	}
	return res.Created, nil
}

// deactivateUnseen clears the active flag on sailings a clean full crawl did
// not re-sight, limited to sailings still inside the retention window. Rows
// are never hard-deleted.
func (o *Orchestrator) deactivateUnseen(runStart time.Time) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -o.cfg.RetentionDays)
	res := o.db.Model(&entities.Sailing{}).
		Where("active = ? AND last_synced_at < ? AND sailing_date >= ?", true, runStart, cutoff).
		Update("active", false)
	return res.RowsAffected, res.Error
}

func classifyFailure(err error) string {
	var fetchErr *remote.FetchError
	if errors.As(err, &fetchErr) {
		return "fetch"
	}
	var normErr *normalizer.NormalizationError
	if errors.As(err, &normErr) {
		return "normalize"
	}
	var conflictErr *upsert.ConflictError
	if errors.As(err, &conflictErr) {
		return "conflict"
	}
	return "upsert"
}

func parseID(name string) uint {
	var id uint
	_, _ = fmt.Sscanf(name, "%d", &id)
	return id
}

func stringSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
