package router

import (
	"github.com/docauditor/backend/config"
	"github.com/docauditor/backend/internal/handler"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

func Setup(
	cfg *config.Config,
	auditHandler *handler.AuditHandler,
	reportHandler *handler.ReportHandler,
	projectHandler *handler.ProjectHandler,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	analyze := r.Group("/analyze")
	{
		analyze.POST("/start", auditHandler.StartAnalyze)
	}

	hitl := r.Group("/hitl")
	{
		hitl.GET("/status/:report_id", auditHandler.HITLStatus)
		hitl.POST("/feedback", auditHandler.HITLFeedback)
	}

	r.GET("/history", reportHandler.History)
	r.GET("/reports/:report_id", reportHandler.Get)

	projects := r.Group("/projects")
	{
		projects.GET("", projectHandler.List)
		projects.GET("/find", projectHandler.Find)
		projects.GET("/:project_id", projectHandler.Get)
		projects.GET("/:project_id/reports", projectHandler.Reports)
	}

	return r
}
