package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/workflow-scheduler/internal/transport/http/handler"
	"github.com/ErlanBelekov/workflow-scheduler/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(
	logger *slog.Logger,
	scheduleHandler *handler.ScheduleHandler,
	workflowHandler *handler.WorkflowHandler,
	leaderHandler *handler.LeaderHandler,
	hmacKey []byte,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	v1 := r.Group("/v1", middleware.Auth(hmacKey))
	v1.GET("/leader", leaderHandler.Get)

	schedules := v1.Group("/schedules")
	schedules.GET("", scheduleHandler.List)
	schedules.PUT("/:id", scheduleHandler.Put)
	schedules.DELETE("/:id", scheduleHandler.Delete)

	workflows := v1.Group("/workflows")
	workflows.PUT("/:id", workflowHandler.Put)

	return r
}
