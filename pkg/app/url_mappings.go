package app

import (
	"github.com/osvaldoandrade/formq/internal/controllers"
	"github.com/osvaldoandrade/formq/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	app.Engine.GET("/healthz", controllers.NewHealthController(app.Storage).Handle)

	v1 := app.Engine.Group("/v1/formq", middleware.AuthMiddleware(app.Validator))
	{
		v1.POST("/tests/google-form", controllers.NewImportTestController(app.Tests).Handle)
		v1.GET("/tests", controllers.NewListTestsController(app.Tests).Handle)
		v1.GET("/tests/:id", controllers.NewGetTestController(app.Tests).Handle)
		v1.PATCH("/tests/:id", controllers.NewUpdateTestController(app.Tests).Handle)
		v1.POST("/tests/:id/documents", controllers.NewUploadDocumentController(app.Documents, app.Config.Documents.MaxUploadBytes).Handle)
		v1.GET("/tests/:id/documents", controllers.NewListDocumentsController(app.Documents).Handle)
		v1.POST("/tests/:id/submit",
			middleware.RateLimitSubmit(app.RateLimiter, app.Config.RateLimit.Submit),
			controllers.NewSubmitTestController(app.Batch).Handle)

		v1.GET("/jobs/:id", controllers.NewGetJobController(app.Batch).Handle)
		v1.GET("/jobs/:id/stream", controllers.NewStreamJobController(app.Batch).Handle)
		v1.GET("/jobs/:id/runs", controllers.NewListJobRunsController(app.Tests).Handle)

		v1.GET("/test-runs/:id", controllers.NewGetTestRunController(app.Tests).Handle)
	}
}
