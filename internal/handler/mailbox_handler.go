package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"contractor-status-relay/internal/service"
)

// ProcessMailbox runs one mail pass
func (h *Handlers) ProcessMailbox(c *gin.Context) {
	var req ProcessMailboxRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	results, err := h.pipeline.ProcessMailbox(c.Request.Context(), service.MailboxOptions{
		Backend:     req.Backend,
		UseFixtures: req.UseFixtures,
	})
	if err != nil {
		respondError(c, err, "Failed to process mailbox")
		return
	}

	c.JSON(http.StatusOK, ResultsResponse{Count: len(results), Results: results})
}
