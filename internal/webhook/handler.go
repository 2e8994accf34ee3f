package webhook

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"leadflow_backend/platform/httpkit"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// HandleEvent ingests one signed webhook delivery. The 200 acknowledges
// durable receipt; processing outcome is reported in the body but never
// turns into a 5xx, so senders do not replay events we already stored.
func (h *Handler) HandleEvent(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "unreadable body", nil)
		return
	}

	receipt, err := h.service.ProcessEvent(c.Request.Context(), c.Param("source"), body)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, receipt)
}
