// Package queue implements the incremental sync queue: durable jobs enqueued
// by pricing-updated notifications and processed by a small worker pool.
package queue

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/zipsea/cruisesync/internal/entities"
)

// ErrQueueIO marks a failure to persist job state. A worker hitting it aborts
// the current attempt and leaves the job active for the reaper to recover.
var ErrQueueIO = errors.New("sync queue persistence failed")

// Repository provides durable job lifecycle operations. Delivery is
// at-least-once: a claimed job whose worker dies stays active and visible to
// the reaper instead of being lost.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Enqueue creates one waiting job for the given line. The optional explicit
// path list narrows the job to exactly those files.
func (r *Repository) Enqueue(lineID uint, paths []string) (*entities.SyncJob, error) {
	job := &entities.SyncJob{
		LineID:     lineID,
		Status:     entities.JobStatusWaiting,
		EnqueuedAt: time.Now(),
	}
	job.SetPathList(paths)
	if err := r.db.Create(job).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueIO, err)
	}
	return job, nil
}

// Claim atomically flips the oldest waiting job to active for this worker.
// Returns nil when no job is waiting. The waiting->active flip is guarded by
// a conditional update so two workers can never claim the same job.
func (r *Repository) Claim(workerID string) (*entities.SyncJob, error) {
	for {
		var job entities.SyncJob
		err := r.db.Where("status = ?", entities.JobStatusWaiting).
			Order("id asc").First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueueIO, err)
		}

		now := time.Now()
		res := r.db.Model(&entities.SyncJob{}).
			Where("id = ? AND status = ?", job.ID, entities.JobStatusWaiting).
			Updates(map[string]any{
				"status":     entities.JobStatusActive,
				"worker_id":  workerID,
				"started_at": now,
				"attempts":   gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueueIO, res.Error)
		}
		if res.RowsAffected == 0 {
			// Another worker won the race; try the next waiting job.
			continue
		}

		job.Status = entities.JobStatusActive
		job.WorkerID = workerID
		job.StartedAt = &now
		job.Attempts++
		return &job, nil
	}
}

// Complete marks a job finished, recording an operator-readable summary.
func (r *Repository) Complete(jobID uint, summary string) error {
	now := time.Now()
	err := r.db.Model(&entities.SyncJob{}).Where("id = ?", jobID).
		Updates(map[string]any{
			"status":       entities.JobStatusCompleted,
			"completed_at": now,
			"error":        summary,
		}).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueueIO, err)
	}
	return nil
}

// Fail marks a job failed with the terminal error.
func (r *Repository) Fail(jobID uint, jobErr error) error {
	now := time.Now()
	err := r.db.Model(&entities.SyncJob{}).Where("id = ?", jobID).
		Updates(map[string]any{
			"status":       entities.JobStatusFailed,
			"completed_at": now,
			"error":        jobErr.Error(),
		}).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueueIO, err)
	}
	return nil
}

// Requeue moves an active job back to waiting so another worker can claim
// it. Used by the reaper for jobs whose worker died.
func (r *Repository) Requeue(jobID uint) error {
	err := r.db.Model(&entities.SyncJob{}).
		Where("id = ? AND status = ?", jobID, entities.JobStatusActive).
		Updates(map[string]any{
			"status":     entities.JobStatusWaiting,
			"worker_id":  "",
			"started_at": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueueIO, err)
	}
	return nil
}

// Depth returns the number of waiting jobs.
func (r *Repository) Depth() (int64, error) {
	var n int64
	err := r.db.Model(&entities.SyncJob{}).
		Where("status = ?", entities.JobStatusWaiting).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQueueIO, err)
	}
	return n, nil
}

// StuckActive returns active jobs claimed longer ago than threshold.
func (r *Repository) StuckActive(threshold time.Duration) ([]entities.SyncJob, error) {
	cutoff := time.Now().Add(-threshold)
	var jobs []entities.SyncJob
	err := r.db.Where("status = ? AND started_at < ?", entities.JobStatusActive, cutoff).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueIO, err)
	}
	return jobs, nil
}

// Heartbeat records that a worker is alive.
func (r *Repository) Heartbeat(workerID string) error {
	hb := entities.WorkerHeartbeat{WorkerID: workerID, LastSeenAt: time.Now()}
	err := r.db.Save(&hb).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueueIO, err)
	}
	return nil
}

// LiveWorkers counts workers with a heartbeat younger than timeout.
func (r *Repository) LiveWorkers(timeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-timeout)
	var n int64
	err := r.db.Model(&entities.WorkerHeartbeat{}).
		Where("last_seen_at >= ?", cutoff).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrQueueIO, err)
	}
	return n, nil
}
