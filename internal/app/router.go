package app

import (
	"speakedu_backend/docs"
	"speakedu_backend/internal/config"
	"speakedu_backend/internal/middleware"
	"speakedu_backend/internal/model"
	"speakedu_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		authGroup.GET("/profile", c.auth.GetProfile)

		// 学生端：练习、录音、提交
		student := authGroup.Group("")
		student.Use(middleware.RoleMiddleware(model.Student))
		{
			student.GET("/assignments", c.assignment.ListAssignments)
			student.GET("/assignments/:id", c.assignment.GetAssignment)
			student.POST("/assignments/:id/recordings", c.assignment.UploadRecording)
			student.GET("/assignments/:id/items/:itemId/status", c.assignment.GetItemStatus)
			student.POST("/assignments/:id/submit", c.assignment.Submit)
			student.POST("/assignments/:id/resubmit", c.assignment.Resubmit)
			student.POST("/assignments/:id/discard", c.assignment.DiscardSession)
		}

		// 看板等外围系统的只读投影，师生均可读
		authGroup.GET("/assignments/:id/projection", c.assignment.GetProjection)

		// 教师端：素材库、派发、批阅
		teacher := authGroup.Group("/teacher")
		teacher.Use(middleware.RoleMiddleware(model.Teacher))
		{
			teacher.POST("/definitions", c.content.CreateDefinition)
			teacher.GET("/definitions", c.content.ListDefinitions)
			teacher.GET("/definitions/:id", c.content.GetDefinition)
			teacher.PUT("/definitions/:id", c.content.UpdateDefinition)
			teacher.DELETE("/definitions/:id", c.content.DeleteDefinition)

			teacher.POST("/assignments/dispatch", c.grading.Dispatch)
			teacher.GET("/assignments", c.grading.ListAssignments)
			teacher.GET("/assignments/pending", c.grading.ListPending)
			teacher.GET("/assignments/:id", c.grading.GetSubmission)
			teacher.DELETE("/assignments/:id", c.grading.Unassign)
			teacher.POST("/assignments/:id/finalize", c.grading.Finalize)

			teacher.POST("/progress/:progressId/review", c.grading.ReviewUnit)
			teacher.GET("/items/:itemId/revisions", c.grading.ListRevisions)
		}
	}
}
