package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/internal/service/migration"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
)

type MigrationHandler struct {
	service migration.MigrationService
	logger  logger.Logger
}

// RunResponse is returned when a run is accepted.
type RunResponse struct {
	RunID     string `json:"runId"`
	Status    string `json:"status"`
	Total     int    `json:"total"`
	CreatedAt string `json:"createdAt"`
}

func NewMigrationHandler(service migration.MigrationService, log logger.Logger) *MigrationHandler {
	return &MigrationHandler{
		service: service,
		logger:  log.Named("http"),
	}
}

func (h *MigrationHandler) bindRequest(c *gin.Context) (models.RunRequest, bool) {
	var req models.RunRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		// chunked requests report an unknown length; an empty one is still empty
		if errors.Is(err, io.EOF) {
			return models.RunRequest{}, true
		}
		handleError(c, h.logger, http.StatusBadRequest, "Invalid request body", errors.Wrap(errors.ErrInvalidRequest, err.Error()))
		return req, false
	}
	return req, true
}

// Plan resolves a request to its object set and waves.
func (h *MigrationHandler) Plan(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}
	plan, err := h.service.Plan(c.Request.Context(), req)
	if err != nil {
		handleError(c, h.logger, statusFor(err), "Failed to plan migration", err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// StartRun schedules a run.
func (h *MigrationHandler) StartRun(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}
	status, err := h.service.StartRun(c.Request.Context(), req)
	if err != nil {
		handleError(c, h.logger, statusFor(err), "Failed to start migration", err)
		return
	}
	c.JSON(http.StatusAccepted, RunResponse{
		RunID:     status.RunID,
		Status:    string(status.State),
		Total:     status.Total,
		CreatedAt: status.CreatedAt.Format(time.RFC3339),
	})
}

// GetStatus returns the status of a run.
func (h *MigrationHandler) GetStatus(c *gin.Context) {
	runID := c.Param("runId")
	status, err := h.service.GetRunStatus(c.Request.Context(), runID)
	if err != nil {
		handleError(c, h.logger, statusFor(err), "Failed to get run status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetReport returns the consolidated report of a finished run.
func (h *MigrationHandler) GetReport(c *gin.Context) {
	runID := c.Param("runId")
	report, err := h.service.GetReport(c.Request.Context(), runID)
	if err != nil {
		handleError(c, h.logger, statusFor(err), "Failed to get report", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// CancelRun cancels a pending or running run.
func (h *MigrationHandler) CancelRun(c *gin.Context) {
	runID := c.Param("runId")
	if err := h.service.CancelRun(c.Request.Context(), runID); err != nil {
		handleError(c, h.logger, statusFor(err), "Failed to cancel run", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runId": runID, "status": "cancelling"})
}

// ListObjects lists registered objects with their dependencies.
func (h *MigrationHandler) ListObjects(c *gin.Context) {
	objects := h.service.ListObjects(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"objects": objects, "count": len(objects)})
}

// Impact lists the objects affected by a change to objectId.
func (h *MigrationHandler) Impact(c *gin.Context) {
	objectID := c.Param("objectId")
	impact, err := h.service.Impact(c.Request.Context(), objectID)
	if err != nil {
		status := statusFor(err)
		if errors.HasCode(err, errors.CodePlannerUnknownObject) {
			status = http.StatusNotFound
		}
		handleError(c, h.logger, status, "Failed to compute impact", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"objectId": objectID, "impacted": impact})
}

// ValidateGraph checks the dependency graph.
func (h *MigrationHandler) ValidateGraph(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.ValidateGraph(c.Request.Context()))
}

// CleanupReports removes archived reports past retention.
func (h *MigrationHandler) CleanupReports(c *gin.Context) {
	removed, err := h.service.CleanupReports(c.Request.Context())
	if err != nil {
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to cleanup reports", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
