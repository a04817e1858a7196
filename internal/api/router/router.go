package router

import (
	"net/http"

	"github.com/cuongbtq/console-automator/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": deps.ServiceName,
		})
	})

	automationHandler := handler.NewAutomationHandler(deps)

	// GET / - Submission page; its API calls go through auth below
	r.SetHTMLTemplate(handler.Templates())
	r.GET("/", automationHandler.Index)

	api := r.Group("")
	api.Use(AuthMiddleware(deps.TokenHash, deps.Logger))
	{
		// POST /run_automation - Queue a batch of app names
		api.POST("/run_automation", automationHandler.RunAutomation)

		// GET /automation_status - Queue and worker view
		api.GET("/automation_status", automationHandler.AutomationStatus)

		// GET /session_status - Last derived session validity
		api.GET("/session_status", automationHandler.SessionStatus)

		// POST /worker/start - Launch a stopped worker
		api.POST("/worker/start", automationHandler.StartWorker)

		// DELETE /session - Forget the persisted session
		api.DELETE("/session", automationHandler.ClearSession)
	}

	return r
}
