// Package handler exposes the automation workflow over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadflow_backend/internal/automation"
	"leadflow_backend/platform/httpkit"
)

// Workflow is the coordinator surface the handler needs.
type Workflow interface {
	ExecuteCompleteWorkflow(ctx context.Context, leadID uuid.UUID) (automation.WorkflowRun, error)
	GetAutomationStatus(ctx context.Context, leadID uuid.UUID) (automation.Status, error)
}

type Handler struct {
	workflow Workflow
}

func New(workflow Workflow) *Handler {
	return &Handler{workflow: workflow}
}

func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/:leadId/run", h.HandleRunWorkflow)
	group.GET("/:leadId/status", h.HandleGetStatus)
}

// HandleRunWorkflow drives the full lifecycle for one lead synchronously
// and reports the per-step outcome.
func (h *Handler) HandleRunWorkflow(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("leadId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid lead id", nil)
		return
	}

	run, err := h.workflow.ExecuteCompleteWorkflow(c.Request.Context(), leadID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, run)
}

// HandleGetStatus returns the lead's automation aggregate.
func (h *Handler) HandleGetStatus(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("leadId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid lead id", nil)
		return
	}

	status, err := h.workflow.GetAutomationStatus(c.Request.Context(), leadID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, status)
}
