package app

import (
	"quizmark_backend/docs"
	"quizmark_backend/internal/config"
	"quizmark_backend/internal/middleware"
	"quizmark_backend/internal/util"
	"quizmark_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	router.GET("/api/health", c.health.HealthCheck)

	// 2. 教师路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(util.RoleTeacher))
	{
		authGroup.POST("/quizzes", c.quiz.CreateQuiz)
		authGroup.POST("/quizzes/import", c.quiz.ImportQuiz)

		quiz := authGroup.Group("/quizzes/:quizId")
		quiz.Use(middleware.QuizAccess(a.services.quiz))
		{
			a.registerQuizRoutes(quiz, c)
			a.registerAMCRoutes(quiz, c)
			a.registerAnalysisRoutes(quiz, c)
		}
	}
}

func (a *App) registerQuizRoutes(rg *gin.RouterGroup, c *controllers) {
	rg.GET("", c.quiz.GetQuiz)
	rg.PUT("", c.quiz.UpdateQuiz)
	rg.POST("/lock", c.quiz.LockQuiz)
	rg.POST("/unlock", c.quiz.UnlockQuiz)

	rg.GET("/questions", c.quiz.ListQuestions)
	rg.POST("/questions", c.quiz.CreateQuestion)
	rg.PATCH("/questions/order", c.quiz.ReorderQuestions)
	rg.PUT("/questions/:questionId", c.quiz.UpdateQuestion)
	rg.DELETE("/questions/:questionId", c.quiz.DeleteQuestion)

	rg.POST("/questions/:questionId/answers", c.quiz.CreateAnswer)
	rg.PATCH("/questions/:questionId/answers/order", c.quiz.ReorderAnswers)
	rg.PUT("/questions/:questionId/answers/:answerId", c.quiz.UpdateAnswer)
	rg.DELETE("/questions/:questionId/answers/:answerId", c.quiz.DeleteAnswer)

	rg.POST("/subjects", c.quiz.CreateSubject)
	rg.PATCH("/subjects/order", c.quiz.ReorderSubjects)

	rg.POST("/illustrations", c.quiz.UploadIllustration)
}

func (a *App) registerAMCRoutes(rg *gin.RouterGroup, c *controllers) {
	amc := rg.Group("/amc")
	{
		amc.POST("/latex", c.amc.GenerateLatex)
		amc.GET("/latex", c.amc.GetLatex)
		amc.POST("/compile", c.amc.Compile)
		amc.GET("/logs", c.amc.GetLogs)
		amc.GET("/exports/:filename", c.amc.DownloadExport)
	}
}

func (a *App) registerAnalysisRoutes(rg *gin.RouterGroup, c *controllers) {
	rg.POST("/uploads/copies", c.analysis.UploadCopies)
	rg.GET("/roster", c.analysis.GetRoster)
	rg.PUT("/roster", c.analysis.UpdateRoster)
	rg.POST("/analysis", c.analysis.RunAnalysis)

	analysis := rg.Group("/analysis")
	{
		analysis.GET("/status", c.analysis.GetStatus)
		analysis.GET("/status/stream", c.analysis.StreamStatus)
		analysis.GET("/checkboxes", c.analysis.GetCheckboxes)
		analysis.PATCH("/checkboxes", c.analysis.UpdateCheckboxes)
		analysis.POST("/recalculate", c.analysis.Recalculate)
		analysis.GET("/notes", c.analysis.GetNotes)
		analysis.GET("/notes/file", c.analysis.DownloadNotes)
		analysis.GET("/page-images/:student/:page", c.analysis.GetPageImage)
		analysis.GET("/corrections.zip", c.analysis.DownloadCorrections)
		analysis.GET("/associations", c.association.ListAssociations)
		analysis.PATCH("/associations", c.association.UpdateAssociations)
		analysis.GET("/associations/history", c.association.GetAssociationHistory)
	}
}
