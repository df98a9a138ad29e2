package entities

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// SyncCheckpoint is the durable record of crawl progress. At most one row is
// live at a time; it is created at crawl start, updated after every completed
// batch, and cleared only when a crawl finishes with zero unrecovered errors.
type SyncCheckpoint struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	RunID             string    `gorm:"size:36;uniqueIndex" json:"run_id"`
	CompletedSegments string    `gorm:"type:text" json:"completed_segments"` // JSON array of segment names
	CurrentSegment    string    `gorm:"size:256" json:"current_segment,omitempty"`
	CompletedPaths    string    `gorm:"type:text" json:"completed_paths"` // JSON array of file paths
	Processed         int       `json:"processed"`
	Created           int       `json:"created"`
	Updated           int       `json:"updated"`
	Failed            int       `json:"failed"`
	StartedAt         time.Time `json:"started_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// SegmentList decodes CompletedSegments.
func (c *SyncCheckpoint) SegmentList() []string {
	return decodeStringList(c.CompletedSegments)
}

// SetSegmentList encodes segments into CompletedSegments.
func (c *SyncCheckpoint) SetSegmentList(segments []string) {
	c.CompletedSegments = encodeStringList(segments)
}

// PathList decodes CompletedPaths.
func (c *SyncCheckpoint) PathList() []string {
	return decodeStringList(c.CompletedPaths)
}

// SetPathList encodes paths into CompletedPaths.
func (c *SyncCheckpoint) SetPathList(paths []string) {
	c.CompletedPaths = encodeStringList(paths)
}

// SyncJob is one incremental unit of work, enqueued when a pricing-updated
// notification arrives for a cruise line. Delivery is at-least-once: a job
// claimed by a worker that dies stays active until the reaper requeues it.
type SyncJob struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	LineID      uint       `gorm:"index" json:"line_id"`
	FilePaths   string     `gorm:"type:text" json:"file_paths,omitempty"` // JSON array, optional
	Status      JobStatus  `gorm:"size:20;index;default:'waiting'" json:"status"`
	WorkerID    string     `gorm:"size:64" json:"worker_id,omitempty"`
	Attempts    int        `json:"attempts"`
	Error       string     `gorm:"type:text" json:"error,omitempty"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PathList decodes FilePaths; nil when the notification carried no explicit
// paths and the worker must re-derive them from the remote tree.
func (j *SyncJob) PathList() []string {
	return decodeStringList(j.FilePaths)
}

// SetPathList encodes paths into FilePaths.
func (j *SyncJob) SetPathList(paths []string) {
	j.FilePaths = encodeStringList(paths)
}

// WorkerHeartbeat records that a queue worker was alive at LastSeenAt. The
// reaper uses it to tell "workers are slow" from "no worker process exists".
type WorkerHeartbeat struct {
	WorkerID   string    `gorm:"primaryKey;size:64" json:"worker_id"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

func (SyncCheckpoint) TableName() string {
	return "sync_checkpoints"
}

func (SyncJob) TableName() string {
	return "sync_jobs"
}

func (WorkerHeartbeat) TableName() string {
	return "worker_heartbeats"
}

func decodeStringList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func encodeStringList(values []string) string {
	if len(values) == 0 {
		return ""
	}
	data, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	return string(data)
}
