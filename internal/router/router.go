package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"contractor-status-relay/internal/handler"
)

// SetupRouter configures the Gin router with routes and middleware
func SetupRouter(h *handler.Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(loggerMiddleware())
	h.SetupRoutes(r)
	return r
}

func loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logrus.WithFields(logrus.Fields{
			"client_ip":  c.ClientIP(),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"user_agent": c.Request.UserAgent(),
		})
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			entry = entry.WithField("error", errs)
		}
		entry.Info("HTTP request")
	}
}
