package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zipsea/cruisesync/internal/audit"
	"github.com/zipsea/cruisesync/internal/queue"
)

// WebhookPayload is an inbound change notification from the feed provider: a
// cruise line whose pricing changed, optionally narrowed to explicit file
// paths.
type WebhookPayload struct {
	LineID uint     `json:"lineid" binding:"required"`
	Paths  []string `json:"paths,omitempty"`
}

type WebhookController struct {
	queue   *queue.Repository
	auditor *audit.Auditor
	logger  *zap.SugaredLogger
}

func NewWebhookController(q *queue.Repository, auditor *audit.Auditor, logger *zap.SugaredLogger) *WebhookController {
	return &WebhookController{queue: q, auditor: auditor, logger: logger}
}

// PricingUpdated enqueues exactly one sync job per notification. Duplicate
// notifications are safe: reprocessing a file is idempotent.
func (w *WebhookController) PricingUpdated(c *gin.Context) {
	var payload WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}

	if w.auditor.Enabled() {
		if _, err := w.auditor.SavePayload("pricing-updated", payload); err != nil {
			w.logger.Warnw("failed to archive webhook payload", "error", err)
		}
	}

	job, err := w.queue.Enqueue(payload.LineID, payload.Paths)
	if err != nil {
		w.logger.Errorw("failed to enqueue sync job", "line", payload.LineID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}

	w.logger.Infow("sync job enqueued",
		"job", job.ID, "line", payload.LineID, "explicit_paths", len(payload.Paths))
	c.JSON(http.StatusAccepted, gin.H{
		"job_id": job.ID,
		"status": job.Status,
	})
}
