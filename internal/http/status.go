package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zipsea/cruisesync/internal/crawler"
	"github.com/zipsea/cruisesync/internal/queue"
)

// StatusResponse is the operator-facing monitoring summary.
type StatusResponse struct {
	CrawlState string          `json:"crawl_state"`
	LastCrawl  *crawler.Result `json:"last_crawl,omitempty"`
	QueueDepth int64           `json:"queue_depth"`
	StuckJobs  int             `json:"stuck_jobs"`
}

type StatusController struct {
	orchestrator   *crawler.Orchestrator
	queue          *queue.Repository
	stuckThreshold time.Duration
}

func NewStatusController(orch *crawler.Orchestrator, q *queue.Repository, stuckThreshold time.Duration) *StatusController {
	return &StatusController{orchestrator: orch, queue: q, stuckThreshold: stuckThreshold}
}

func (s *StatusController) Status(c *gin.Context) {
	depth, err := s.queue.Depth()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	stuck, err := s.queue.StuckActive(s.stuckThreshold)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		CrawlState: string(s.orchestrator.State()),
		LastCrawl:  s.orchestrator.LastResult(),
		QueueDepth: depth,
		StuckJobs:  len(stuck),
	})
}
