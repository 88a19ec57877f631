package router

import (
	"net/http"

	"github.com/cuongbtq/questionnaire-be/internal/api/dto"
	"github.com/cuongbtq/questionnaire-be/internal/api/handler"
	"github.com/cuongbtq/questionnaire-be/internal/domain"
	"github.com/cuongbtq/questionnaire-be/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Options configures the cross-cutting middleware of the router.
type Options struct {
	ServiceName    string
	AllowedOrigins []string
	Verifier       TokenVerifier
	Limiter        Admitter
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	dto.RegisterValidators()

	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(opts.AllowedOrigins))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": opts.ServiceName,
		})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	bulkHandler := handler.NewBulkHandler(deps)
	submissionHandler := handler.NewSubmissionHandler(deps)

	limit := func(op string) gin.HandlerFunc {
		return RateLimitMiddleware(opts.Limiter, op, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(opts.Verifier, deps.Logger))
	{
		bulk := v1.Group("/bulk", limit(domain.OpBulkOperation))
		{
			bulk.POST("/submissions/archive", bulkHandler.SubmitArchive)
			bulk.POST("/submissions/update", bulkHandler.SubmitUpdate)
			bulk.POST("/templates/delete", bulkHandler.SubmitTemplateDelete)
		}

		jobs := v1.Group("/jobs")
		{
			jobs.GET("/:job_id", bulkHandler.GetJob)
			jobs.POST("/:job_id/cancel", limit(domain.OpBulkOperation), bulkHandler.CancelJob)
		}

		submissions := v1.Group("/submissions")
		{
			submissions.GET("", limit(domain.OpQuerySubmissions), submissionHandler.Query)
			submissions.POST("", limit(domain.OpCreateSubmission), submissionHandler.Create)
			submissions.POST("/archive", limit(domain.OpArchiveSubmission), submissionHandler.BatchArchive)
			submissions.PATCH("/:submission_id", limit(domain.OpUpdateSubmission), submissionHandler.Update)
			submissions.POST("/:submission_id/archive", limit(domain.OpArchiveSubmission), submissionHandler.Archive)
			submissions.GET("/:submission_id/versions", limit(domain.OpQuerySubmissions), submissionHandler.ListVersions)
		}
	}

	return r
}
