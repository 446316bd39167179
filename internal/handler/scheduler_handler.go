package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"contractor-status-relay/internal/scheduler"
)

// StartScheduler starts the periodic pass
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			code = http.StatusConflict
		}
		c.JSON(code, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to start scheduler: " + err.Error(),
			Code:    code,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler started successfully",
		"status":  "running",
	})
}

// StopScheduler stops the periodic pass
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to stop scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler stopped successfully",
		"status":  "stopped",
	})
}

// RunOnce runs one pass immediately
func (h *Handlers) RunOnce(c *gin.Context) {
	report, err := h.scheduler.RunOnce(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to run pass")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Pass completed successfully",
		"report":  report,
	})
}

// GetSchedulerStatus returns the current scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status())
}
