package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"statuscert-backend/internal/billing"
	"statuscert-backend/internal/entitlements"
	"statuscert-backend/internal/events"
	"statuscert-backend/internal/reviews"
	"statuscert-backend/internal/shared/server/middleware"
	"statuscert-backend/internal/shared/server/respond"
	"statuscert-backend/internal/shared/telemetry"
)

const recentWindow = 5 * time.Minute

// Runner executes a claimed job; the pipeline implements it. In inline mode
// the handler claims and runs the job before responding, which keeps local
// development workable without a worker process.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// Handler serves job submission and status routes.
type Handler struct {
	Jobs    Repo
	Reviews reviews.Repo
	Billing *billing.Service
	Events  events.Repo
	Runner  Runner

	InlineExecution    bool
	StaleAfter         time.Duration
	QueueWarnAfter     time.Duration
	QueueCriticalAfter time.Duration
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/generate-draft", h.generateDraft)
	rg.POST("/export", h.export)
	rg.GET("/jobs/:id", h.get)
	rg.GET("/worker/health", h.workerHealth)
}

type generateDraftRequest struct {
	ReviewID   string  `json:"reviewId"`
	TemplateID *string `json:"templateId"`
}

func (h *Handler) generateDraft(c *gin.Context) {
	firmID := middleware.FirmIDFromContext(c)
	ctx := c.Request.Context()

	var req generateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ReviewID) == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "reviewId is required", nil)
		return
	}

	if _, err := h.Reviews.GetByID(ctx, firmID, req.ReviewID); err != nil {
		if errors.Is(err, reviews.ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "review not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load review", nil)
		return
	}

	// The gate runs here for a fast 402 and again inside the pipeline, which
	// is the authoritative check right before the paid call.
	state, err := h.Billing.StateFor(ctx, firmID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load entitlements", nil)
		return
	}
	if decision := entitlements.Resolve(state); !decision.Allowed {
		h.recordEvent(ctx, c, firmID, req.ReviewID, events.TypeEntitlementBlocked, map[string]any{
			"reason": decision.Reason,
		})
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
			"code":           "ENTITLEMENT_REQUIRED",
			"reason":         decision.Reason,
			"trialRemaining": state.TrialRemaining,
			"creditsBalance": state.CreditsBalance,
		})
		return
	}

	var payload json.RawMessage
	if req.TemplateID != nil && strings.TrimSpace(*req.TemplateID) != "" {
		payload, _ = json.Marshal(GeneratePayload{TemplateID: req.TemplateID})
	}
	h.enqueue(c, Job{
		ID:       uuid.NewString(),
		ReviewID: req.ReviewID,
		FirmID:   firmID,
		JobType:  TypeGenerateDraft,
		Payload:  payload,
	})
}

type exportRequest struct {
	ReviewID string `json:"reviewId"`
}

func (h *Handler) export(c *gin.Context) {
	firmID := middleware.FirmIDFromContext(c)
	ctx := c.Request.Context()

	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ReviewID) == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "reviewId is required", nil)
		return
	}

	review, err := h.Reviews.GetByID(ctx, firmID, req.ReviewID)
	if errors.Is(err, reviews.ErrNotFound) {
		respond.Error(c, http.StatusNotFound, "not_found", "review not found", nil)
		return
	}
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load review", nil)
		return
	}
	if !review.HasGeneratedContent() {
		respond.Error(c, http.StatusConflict, "review_not_generated", "Generate review first.", nil)
		return
	}

	h.enqueue(c, Job{
		ID:       uuid.NewString(),
		ReviewID: req.ReviewID,
		FirmID:   firmID,
		JobType:  TypeExportDocx,
	})
}

// enqueue inserts the job (or returns the active duplicate), optionally runs
// it inline, and answers 202 with the job snapshot.
func (h *Handler) enqueue(c *gin.Context, job Job) {
	ctx := c.Request.Context()

	queued, created, err := h.Jobs.Enqueue(ctx, job)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to enqueue job", nil)
		return
	}
	telemetry.Info("jobs.enqueued", map[string]any{
		"jobId":    queued.ID,
		"reviewId": queued.ReviewID,
		"jobType":  queued.JobType,
		"created":  created,
	})

	if created && h.InlineExecution && h.Runner != nil {
		if claimed, ok, err := h.Jobs.ClaimNext(ctx); err == nil && ok {
			if runErr := h.Runner.Run(ctx, claimed); runErr != nil {
				failed := StatusFailed
				message := runErr.Error()
				if updateErr := h.Jobs.Update(ctx, claimed.ID, Patch{Status: &failed, ErrorMessage: &message}); updateErr != nil {
					telemetry.Error("jobs.inline_fail_update", map[string]any{"jobId": claimed.ID, "error": updateErr.Error()})
				}
			}
		}
		if done, err := h.Jobs.GetByID(ctx, job.FirmID, queued.ID); err == nil {
			queued = done
		}
	}

	respond.Accepted(c, gin.H{
		"jobId":   queued.ID,
		"status":  queued.Status,
		"created": created,
	})
}

func (h *Handler) get(c *gin.Context) {
	firmID := middleware.FirmIDFromContext(c)

	job, err := h.Jobs.GetByID(c.Request.Context(), firmID, c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		respond.Error(c, http.StatusNotFound, "not_found", "job not found", nil)
		return
	}
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load job", nil)
		return
	}

	respond.OK(c, gin.H{
		"id":           job.ID,
		"reviewId":     job.ReviewID,
		"jobType":      job.JobType,
		"status":       job.Status,
		"stage":        job.Stage,
		"stageLabel":   StageLabel(job.Stage),
		"progress":     job.Progress,
		"attemptCount": job.AttemptCount,
		"errorMessage": job.ErrorMessage,
		"result":       job.Result,
		"createdAt":    job.CreatedAt.Format(time.RFC3339),
		"updatedAt":    job.UpdatedAt.Format(time.RFC3339),
	})
}

func (h *Handler) workerHealth(c *gin.Context) {
	health, err := h.Jobs.Health(c.Request.Context(), h.StaleAfter, recentWindow)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load queue health", nil)
		return
	}

	queueState := "ok"
	switch {
	case h.QueueCriticalAfter > 0 && health.OldestQueuedAge >= h.QueueCriticalAfter:
		queueState = "critical"
	case h.QueueWarnAfter > 0 && health.OldestQueuedAge >= h.QueueWarnAfter:
		queueState = "warn"
	}

	respond.OK(c, gin.H{
		"queueState":      queueState,
		"queued":          health.Queued,
		"running":         health.Running,
		"oldestQueuedMs":  health.OldestQueuedAge.Milliseconds(),
		"staleRunning":    health.StaleRunning,
		"completedLast5m": health.SucceededLast5m,
		"failedLast5m":    health.FailedLast5m,
	})
}

func (h *Handler) recordEvent(ctx context.Context, c *gin.Context, firmID, reviewID, eventType string, payload map[string]any) {
	if h.Events == nil {
		return
	}
	var actor *string
	if actorID := middleware.ActorIDFromContext(c); actorID != "" {
		actor = &actorID
	}
	event := events.Event{
		ID:        uuid.NewString(),
		FirmID:    firmID,
		ReviewID:  &reviewID,
		ActorID:   actor,
		EventType: eventType,
		Payload:   payload,
	}
	if err := h.Events.Record(ctx, event); err != nil {
		telemetry.Warn("jobs.event_record_failed", map[string]any{"eventType": eventType, "error": err.Error()})
	}
}
