package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ledger-recon/internal/domain"
	"ledger-recon/internal/service"
	"ledger-recon/pkg/logger"
	"ledger-recon/pkg/response"
)

type ReconciliationHandler struct {
	service service.ReconciliationService
}

func NewReconciliationHandler(service service.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{service: service}
}

type RunRequest struct {
	Profile     string `json:"profile"`
	Mode        string `json:"mode" binding:"omitempty,oneof=dry_run write"`
	AccountID   string `json:"account_id"`
	StartDate   string `json:"start_date" binding:"required"`
	EndDate     string `json:"end_date" binding:"required"`
	ResumeRunID string `json:"resume_run_id"`
}

// Run godoc
// @Summary Start a reconciliation run
// @Description Match bank transactions against the counter-ledger. Defaults to dry_run mode, which computes the full result set without writing anything.
// @Tags reconciliation
// @Accept json
// @Produce json
// @Param request body RunRequest true "Run parameters"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/reconcile [post]
func (h *ReconciliationHandler) Run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.GetLogger().WithError(err).Error("Invalid request")
		response.ValidationError(c, err.Error())
		return
	}

	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		response.BadRequest(c, "Invalid start_date format", "Use YYYY-MM-DD format")
		return
	}
	endDate, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		response.BadRequest(c, "Invalid end_date format", "Use YYYY-MM-DD format")
		return
	}
	endDate = endDate.Add(23*time.Hour + 59*time.Minute + 59*time.Second)

	mode := domain.RunMode(req.Mode)
	if mode == "" {
		mode = domain.ModeDryRun
	}
	if req.ResumeRunID != "" && mode != domain.ModeWrite {
		response.BadRequest(c, "resume_run_id requires write mode", "Set mode to write when resuming a run")
		return
	}

	summary, err := h.service.Run(c.Request.Context(), service.RunOptions{
		Profile:     req.Profile,
		Mode:        mode,
		AccountID:   req.AccountID,
		StartDate:   startDate,
		EndDate:     endDate,
		ResumeRunID: req.ResumeRunID,
	})
	if err != nil {
		logger.GetLogger().WithError(err).Error("Reconciliation run failed")
		response.InternalError(c, "Reconciliation run failed", err.Error())
		return
	}

	response.Success(c, http.StatusOK, "Reconciliation run completed", summary)
}

// GetRun godoc
// @Summary Get reconciliation run status
// @Tags reconciliation
// @Produce json
// @Param run_id path string true "Run ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/reconcile/runs/{run_id} [get]
func (h *ReconciliationHandler) GetRun(c *gin.Context) {
	runID := c.Param("run_id")

	run, err := h.service.GetRun(runID)
	if err != nil {
		logger.GetLogger().WithError(err).WithField("run_id", runID).Error("Run not found")
		response.NotFound(c, "Run not found")
		return
	}

	response.Success(c, http.StatusOK, "Run retrieved successfully", run)
}

// ListReviewItems godoc
// @Summary List manual review items for a run
// @Description Ambiguous matches, over-allocations and duplicate imports parked for human review.
// @Tags reconciliation
// @Produce json
// @Param run_id path string true "Run ID"
// @Success 200 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/reconcile/runs/{run_id}/review-items [get]
func (h *ReconciliationHandler) ListReviewItems(c *gin.Context) {
	runID := c.Param("run_id")

	items, err := h.service.ListReviewItems(runID)
	if err != nil {
		logger.GetLogger().WithError(err).WithField("run_id", runID).Error("Failed to list review items")
		response.InternalError(c, "Failed to list review items", err.Error())
		return
	}

	response.Success(c, http.StatusOK, "Review items retrieved successfully", items)
}
