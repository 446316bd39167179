package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"contractor-status-relay/internal/runner"
)

func thresholdFromQuery(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("minutes", strconv.Itoa(runner.DefaultDelayMinutes))
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes < 0 {
		badRequest(c, "minutes must be a non-negative integer")
		return 0, false
	}
	return minutes, true
}

// GetDelays lists requests without a status change for the given minutes
func (h *Handlers) GetDelays(c *gin.Context) {
	minutes, ok := thresholdFromQuery(c)
	if !ok {
		return
	}

	requests, err := h.store.GetDelayedRequests(c.Request.Context(), minutes)
	if err != nil {
		respondError(c, err, "Failed to retrieve delayed requests")
		return
	}

	c.JSON(http.StatusOK, requests)
}

// NotifyDelays sends, or with dry_run only logs, one message per delayed request
func (h *Handlers) NotifyDelays(c *gin.Context) {
	req := NotifyRequest{Minutes: runner.DefaultDelayMinutes}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if req.Minutes < 0 {
		badRequest(c, "minutes must be a non-negative integer")
		return
	}

	messages, err := h.notifier.NotifyDelays(c.Request.Context(), req.Minutes, !req.DryRun)
	if err != nil {
		respondError(c, err, "Failed to notify delays")
		return
	}

	c.JSON(http.StatusOK, ResultsResponse{Count: len(messages), Results: messages})
}
