package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetRequests lists requests, most recently updated first
func (h *Handlers) GetRequests(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	requests, err := h.store.GetRequests(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err, "Failed to retrieve requests")
		return
	}

	c.JSON(http.StatusOK, requests)
}

// CreateRequest registers a new request
func (h *Handlers) CreateRequest(c *gin.Context) {
	var req CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	id, err := h.store.AddRequest(c.Request.Context(), req.RequestNumber, req.PositionNumber, req.Comment, req.CommentAuthor)
	if err != nil {
		respondError(c, err, "Failed to create request")
		return
	}

	c.JSON(http.StatusCreated, CreateRequestResponse{
		ID:             id,
		RequestNumber:  req.RequestNumber,
		PositionNumber: req.PositionNumber,
	})
}
