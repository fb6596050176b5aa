// Package api exposes the orchestrator over HTTP with gin.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRoutes configures all API routes.
func SetupRoutes(handlers *Handlers, logger logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(accessLogger(logger))

	router.GET("/", handlers.IndexHandler)

	router.POST("/task", handlers.CreateTaskHandler)
	router.GET("/task/:id", handlers.GetTaskHandler)
	router.GET("/tasks", handlers.ListTasksHandler)
	router.GET("/queue", handlers.QueueHandler)
	router.POST("/reset", handlers.ResetHandler)

	// Path of the original Flask service
	legacy := router.Group("/api/amass")
	{
		legacy.POST("/enum", handlers.CreateTaskHandler)
	}

	return router
}

// accessLogger logs one line per request.
func accessLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":   method,
			"path":     path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"ip":       c.ClientIP(),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("HTTP request")
			return
		}
		entry.Info("HTTP request")
	}
}
