// Package api exposes the REST surface: task and script management, log
// queries, global-variable configuration, notifications, and engine status.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/t77yq/taskdog/internal/executor"
	"github.com/t77yq/taskdog/internal/monitor"
	"github.com/t77yq/taskdog/internal/notify"
	"github.com/t77yq/taskdog/internal/scheduler"
	"github.com/t77yq/taskdog/internal/store"
)

// API wires the HTTP handlers to the engine components.
type API struct {
	logger    *zap.Logger
	store     *store.Store
	files     *store.Files
	runner    *executor.Runner
	scheduler *scheduler.Scheduler
	notifier  *notify.Notifier
	monitor   *monitor.Monitor
}

// New creates the API layer.
func New(
	logger *zap.Logger,
	st *store.Store,
	files *store.Files,
	runner *executor.Runner,
	sched *scheduler.Scheduler,
	notifier *notify.Notifier,
	mon *monitor.Monitor,
) *API {
	return &API{
		logger:    logger.Named("api"),
		store:     st,
		files:     files,
		runner:    runner,
		scheduler: sched,
		notifier:  notifier,
		monitor:   mon,
	}
}

// Router builds the gin engine with all routes registered.
func (a *API) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(a.requestLogger())

	api := router.Group("/api")
	{
		tasks := api.Group("/tasks")
		{
			tasks.GET("", a.listTasks)
			tasks.POST("", a.createTask)
			tasks.GET("/:id", a.getTask)
			tasks.PUT("/:id", a.updateTask)
			tasks.DELETE("/:id", a.deleteTask)
			tasks.POST("/:id/toggle", a.toggleTask)
			tasks.POST("/:id/start", a.startTask)
			tasks.POST("/:id/stop", a.stopTask)
			tasks.POST("/:id/run", a.runTask)
		}

		scripts := api.Group("/scripts")
		{
			scripts.GET("", a.listScripts)
			scripts.POST("", a.createScript)
			scripts.GET("/:id", a.getScript)
			scripts.PUT("/:id", a.updateScript)
			scripts.DELETE("/:id", a.deleteScript)
			scripts.POST("/:id/test", a.testScript)
			scripts.GET("/:id/test/stream", a.testScriptStream)
		}

		api.GET("/logs", a.listLogs)
		api.DELETE("/logs", a.cleanupLogs)

		config := api.Group("/config")
		{
			config.GET("/globals", a.getGlobals)
			config.PUT("/globals", a.replaceGlobals)
			config.POST("/globals/set", a.setGlobal)
		}

		api.POST("/notify", a.sendNotification)
		api.GET("/status", a.status)
	}

	return router
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 || c.Writer.Status() >= http.StatusInternalServerError {
			a.logger.Warn("Request failed",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Int("status", c.Writer.Status()),
				zap.Strings("errors", c.Errors.Errors()))
			return
		}
		a.logger.Debug("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()))
	}
}

func respond(c *gin.Context, status int, data interface{}) {
	body := gin.H{"success": true}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

func respondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": true, "message": message})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}
