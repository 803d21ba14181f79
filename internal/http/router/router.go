package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cortexhq/cortex/internal/http/handler"
)

type RouterConfig struct {
	IsProduction bool
}

// SetupRoutes wires the question-answering engine's HTTP surface onto
// router: health, the agent answer/stream endpoints, tool approvals,
// conformal-threshold inspection, the audit trail, metrics, and the
// standalone GoV graph checker.
func SetupRoutes(router *gin.Engine, agent *handler.AnswerHandler, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	AgentRouter(router, agent)
}

// AgentRouter registers every route the orchestration engine exposes.
func AgentRouter(router *gin.Engine, h *handler.AnswerHandler) {
	agent := router.Group("/agent")
	{
		agent.POST("/answer", h.Ask)
		agent.POST("/answer/stream", h.AskStream)
		agent.POST("/answer/async", h.AskAsync)
	}

	router.POST("/tools/approve", h.Approve)

	cp := router.Group("/cp")
	{
		cp.GET("/threshold", h.CPThreshold)
		cp.POST("/artifacts", h.ImportArtifacts)
	}

	steps := router.Group("/steps")
	{
		steps.GET("/recent", h.RecentSteps)
		steps.GET("/:id", h.StepDetail)
	}

	router.GET("/metrics/prom", h.MetricsProm)
	router.GET("/metrics", h.MetricsJSON)

	router.POST("/gov/check", h.GovCheck)
}
