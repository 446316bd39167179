package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"contractor-status-relay/internal/model"
	"contractor-status-relay/internal/repository"
	"contractor-status-relay/internal/runner"
	"contractor-status-relay/internal/scheduler"
	"contractor-status-relay/internal/source"
)

// RequestStore is what the API needs from the request store.
type RequestStore interface {
	AddRequest(ctx context.Context, requestNumber, positionNumber, comment, author string) (uint, error)
	GetRequests(ctx context.Context, limit int) ([]model.Request, error)
	GetDelayedRequests(ctx context.Context, thresholdMinutes int) ([]model.Request, error)
	Ping(ctx context.Context) error
}

// SchedulerControl is what the API needs from the scheduler.
type SchedulerControl interface {
	Start() error
	Stop() error
	IsRunning() bool
	RunOnce(ctx context.Context) (runner.Report, error)
	Status() scheduler.Status
}

// Handlers contains all HTTP handlers
type Handlers struct {
	store     RequestStore
	pipeline  runner.MailboxProcessor
	notifier  runner.DelayNotifier
	scheduler SchedulerControl
	gatherer  prometheus.Gatherer
}

// NewHandlers creates new HTTP handlers. A nil gatherer serves the default
// registry.
func NewHandlers(store RequestStore, pipeline runner.MailboxProcessor, notifier runner.DelayNotifier, sched SchedulerControl, gatherer prometheus.Gatherer) *Handlers {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handlers{
		store:     store,
		pipeline:  pipeline,
		notifier:  notifier,
		scheduler: sched,
		gatherer:  gatherer,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.GET("/requests", h.GetRequests)
		api.POST("/requests", h.CreateRequest)

		api.GET("/delays", h.GetDelays)
		api.POST("/delays/notify", h.NotifyDelays)

		api.POST("/mailbox/process", h.ProcessMailbox)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Database:  "ok",
		Scheduler: make(map[string]string),
	}

	if err := h.store.Ping(c.Request.Context()); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.scheduler.IsRunning() {
		st := h.scheduler.Status()
		response.Scheduler["state"] = "running"
		response.Scheduler["next_run"] = st.NextRun.Format(time.RFC3339)
		if !st.LastRun.IsZero() {
			response.Scheduler["last_run"] = st.LastRun.Format(time.RFC3339)
		}
	} else {
		response.Scheduler["state"] = "stopped"
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid_request",
		Message: message,
		Code:    http.StatusBadRequest,
	})
}

// respondError maps domain errors onto status codes.
func respondError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, repository.ErrConflict):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "conflict",
			Message: err.Error(),
			Code:    http.StatusConflict,
		})
	case errors.Is(err, source.ErrUnknownBackend):
		badRequest(c, err.Error())
	default:
		logrus.Errorf("%s: %v", message, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: message,
			Code:    http.StatusInternalServerError,
		})
	}
}
