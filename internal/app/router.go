package app

import (
	"assessment_backend/docs"
	"assessment_backend/internal/config"
	"assessment_backend/internal/middleware"
	"assessment_backend/internal/model"
	"assessment_backend/pkg/monitoring"

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
		registerStudentRoutes(authGroup, c)
		registerTeacherRoutes(authGroup, c)
	}
}

func registerStudentRoutes(rg *gin.RouterGroup, c *controllers) {
	rg.GET("/profile", c.auth.GetProfile)

	rg.GET("/assessments", c.assessment.List)
	rg.GET("/assessments/:id", c.assessment.Get)
	rg.GET("/assessments/:id/questions", c.assessment.ListQuestions)

	rg.POST("/assessments/:id/attempts", c.attempt.Start)
	rg.GET("/attempts/:id", c.attempt.Get)
	rg.POST("/attempts/:id/submit", c.grading.SubmitAttempt)
}

func registerTeacherRoutes(rg *gin.RouterGroup, c *controllers) {
	teacher := rg.Group("")
	teacher.Use(middleware.RoleMiddleware(model.Teacher))
	{
		teacher.POST("/assessments", c.assessment.Create)
		teacher.POST("/assessments/:id/questions", c.assessment.AddQuestions)
		teacher.POST("/assessments/:id/publish", c.assessment.Publish)
		teacher.POST("/assessments/:id/generate", c.assessment.Generate)

		teacher.POST("/assessments/:id/documents", c.document.Upload)
		teacher.GET("/assessments/:id/documents", c.document.List)
		teacher.DELETE("/documents/:id", c.document.Delete)

		// 评分
		teacher.GET("/assessments/:id/manual-grading", c.grading.ListManualGrading)
		teacher.POST("/grading/review", c.grading.ReviewAnswer)
		teacher.POST("/grading/override", c.grading.Override)
		teacher.POST("/attempts/:id/regrade", c.grading.RegradeAttempt)
	}
}
