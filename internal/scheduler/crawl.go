// Package scheduler runs periodic full crawls on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/zipsea/cruisesync/internal/crawler"
)

// CrawlScheduler manages periodic full crawls of the remote inventory tree.
// A tick that fires while the previous crawl is still running is skipped;
// the orchestrator refuses overlapping runs.
type CrawlScheduler struct {
	orchestrator *crawler.Orchestrator
	schedule     string
	logger       *zap.SugaredLogger

	cron      *cron.Cron
	entryID   cron.EntryID
	mu        sync.RWMutex
	isRunning bool
}

// NewCrawlScheduler creates a new scheduler instance
func NewCrawlScheduler(orchestrator *crawler.Orchestrator, schedule string, logger *zap.SugaredLogger) *CrawlScheduler {
	return &CrawlScheduler{
		orchestrator: orchestrator,
		schedule:     schedule,
		logger:       logger,
		cron:         cron.New(),
	}
}

// Start begins the scheduler if a schedule is configured
func (s *CrawlScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	if s.schedule == "" {
		s.logger.Infow("crawl scheduler disabled, no schedule configured")
		return nil
	}

	entryID, err := s.cron.AddFunc(s.schedule, s.runCrawl)
	if err != nil {
		return fmt.Errorf("invalid crawl schedule %q: %w", s.schedule, err)
	}
	s.entryID = entryID

	s.cron.Start()
	s.isRunning = true

	s.logger.Infow("crawl scheduler started",
		"schedule", s.schedule, "next_run", s.cron.Entry(entryID).Next)
	return nil
}

// Stop halts the scheduler, waiting for an in-flight crawl trigger to return
func (s *CrawlScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.isRunning = false
	s.logger.Infow("crawl scheduler stopped")
}

// IsRunning returns whether the scheduler is active
func (s *CrawlScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetNextRunTime returns the next scheduled crawl time, or nil when disabled
func (s *CrawlScheduler) GetNextRunTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return nil
	}
	next := s.cron.Entry(s.entryID).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

// RunNow triggers a crawl immediately, outside the schedule
func (s *CrawlScheduler) RunNow() (*crawler.Result, error) {
	return s.orchestrator.Run(context.Background())
}

func (s *CrawlScheduler) runCrawl() {
	result, err := s.orchestrator.Run(context.Background())
	if err != nil {
		if err == crawler.ErrCrawlInProgress {
			s.logger.Warnw("scheduled crawl skipped, previous run still in progress")
			return
		}
		s.logger.Errorw("scheduled crawl failed", "error", err)
		return
	}

	s.logger.Infow("scheduled crawl finished",
		"run", result.RunID,
		"processed", result.Processed,
		"created", result.Created,
		"updated", result.Updated,
		"failed", result.Failed,
		"completed", result.Completed)
}
