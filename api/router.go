package api

import (
	"net/http"

	"ffqueue/config"
	"ffqueue/task"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func SetupRouter(tm *task.Manager, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(logger), gin.Recovery())
	h := NewHandler(tm, cfg, logger)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "engine": tm.EngineStatus()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/tasks", h.handleCreateTask)
		v1.GET("/tasks", h.handleListTasks)
		v1.DELETE("/tasks", h.handleClearTasks)
		v1.POST("/tasks/start", h.handleStartAll)
		v1.GET("/tasks/:taskId", h.handleGetTask)
		v1.PATCH("/tasks/:taskId", h.handleUpdateTask)
		v1.DELETE("/tasks/:taskId", h.handleDeleteTask)
		v1.POST("/tasks/:taskId/start", h.handleStartTask)
		v1.POST("/tasks/:taskId/retry", h.handleRetryTask)
		v1.POST("/tasks/:taskId/cancel", h.handleCancelTask)
		v1.GET("/tasks/:taskId/output", h.handleGetOutput)

		v1.GET("/events", h.handleEvents)
		v1.GET("/engine", h.handleEngineStatus)
		v1.POST("/engine/load", h.handleEngineLoad)
		v1.GET("/catalog", h.handleCatalog)
	}
	return r
}
