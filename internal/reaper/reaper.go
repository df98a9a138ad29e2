// Package reaper recovers sync jobs whose worker died mid-job.
package reaper

import (
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/zipsea/cruisesync/internal/config"
	"github.com/zipsea/cruisesync/internal/metrics"
	"github.com/zipsea/cruisesync/internal/queue"
)

// Reaper periodically requeues jobs stuck in the active state past the
// threshold. The threshold sits well above the expected worst-case job
// duration, so a requeue means the worker is gone, not slow.
type Reaper struct {
	repo    *queue.Repository
	cfg     config.Reaper
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger

	cron      *cron.Cron
	mu        sync.Mutex
	isRunning bool
}

func New(repo *queue.Repository, cfg config.Reaper, m *metrics.Metrics, logger *zap.SugaredLogger) *Reaper {
	return &Reaper{
		repo:    repo,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		cron:    cron.New(),
	}
}

// Start schedules the sweep on the configured cron interval.
func (r *Reaper) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRunning {
		return nil
	}
	if _, err := r.cron.AddFunc(r.cfg.Schedule, r.Sweep); err != nil {
		return err
	}
	r.cron.Start()
	r.isRunning = true
	r.logger.Infow("stuck-job reaper started",
		"schedule", r.cfg.Schedule, "threshold", r.cfg.StuckThreshold)
	return nil
}

// Stop halts the schedule, waiting for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isRunning {
		return
	}
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.isRunning = false
	r.logger.Infow("stuck-job reaper stopped")
}

// Sweep runs one inspection pass. Exported so operators can trigger it out of
// schedule.
func (r *Reaper) Sweep() {
	stuck, err := r.repo.StuckActive(r.cfg.StuckThreshold)
	if err != nil {
		r.logger.Errorw("reaper failed to list stuck jobs", "error", err)
		return
	}
	r.metrics.StuckJobs.Set(float64(len(stuck)))

	for _, job := range stuck {
		if err := r.repo.Requeue(job.ID); err != nil {
			r.logger.Errorw("reaper failed to requeue job", "job", job.ID, "error", err)
			continue
		}
		r.logger.Warnw("requeued stuck job",
			"job", job.ID, "line", job.LineID, "worker", job.WorkerID, "attempts", job.Attempts)
	}

	depth, err := r.repo.Depth()
	if err != nil {
		r.logger.Errorw("reaper failed to read queue depth", "error", err)
		return
	}
	r.metrics.QueueDepth.Set(float64(depth))

	live, err := r.repo.LiveWorkers(r.cfg.WorkerTimeout)
	if err != nil {
		r.logger.Errorw("reaper failed to count live workers", "error", err)
		return
	}
	r.metrics.LiveWorkers.Set(float64(live))

	// Waiting jobs with no live workers means the worker process has likely
	// crashed; surface it instead of retrying forever in silence.
	if depth > 0 && live == 0 {
		r.logger.Errorw("sync jobs waiting but no live workers registered",
			"queue_depth", depth)
	}
}
