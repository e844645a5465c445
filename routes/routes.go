package routes

import (
	"net/http"
	"strconv"

	"qbanksync/handlers"
	"qbanksync/logger"
	"qbanksync/middleware"
	"qbanksync/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Handlers struct {
	Auth     *handlers.AuthHandler
	Question *handlers.QuestionHandler
	Sync     *handlers.SyncHandler
	Settings *handlers.SettingsHandler
}

func SetupRoutes(router *gin.Engine, h Handlers, hub *services.Hub, jwtSecret string, log *logger.Logger) {
	api := router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", h.Auth.Login)
		}

		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(jwtSecret))
		{
			protected.GET("/auth/profile", h.Auth.GetProfile)

			categories := protected.Group("/categories")
			{
				categories.POST("", h.Question.CreateCategory)
				categories.GET("/:id", h.Question.GetCategory)
				categories.GET("/:id/questions", h.Question.ListQuestions)
				categories.POST("/:id/import", h.Question.ImportQuestions)
			}

			questions := protected.Group("/questions")
			{
				questions.POST("", h.Question.CreateQuestion)
				questions.GET("/:id", h.Question.GetQuestion)
				questions.PUT("/:id", h.Question.UpdateQuestion)
				questions.DELETE("/:id", h.Question.DeleteQuestion)
				questions.POST("/:id/seeds", h.Question.DeploySeed)
				questions.GET("/:id/tags", h.Question.GetQuestionTags)
				questions.GET("/:id/export", h.Question.ExportQuestion)
			}

			sync := protected.Group("/sync")
			{
				sync.POST("/reconcile", h.Sync.Reconcile)
				sync.POST("/seeds/:id/materialize", h.Sync.Materialize)
				sync.POST("/purge", h.Sync.Purge)
				sync.GET("/ledger", h.Sync.Ledger)
				sync.POST("/fix-tags", h.Sync.FixTags)
				sync.GET("/tasks/pending", h.Sync.PendingTasks)
			}

			protected.GET("/settings", h.Settings.GetSettings)
			protected.PUT("/settings", h.Settings.UpdateSettings)
		}
	}

	// Sync event feed. Browsers pass the token as a query parameter.
	router.GET("/ws/sync", middleware.AuthMiddleware(jwtSecret), func(c *gin.Context) {
		var contextID uint
		if v := c.Query("context_id"); v != "" {
			id, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid context_id"})
				return
			}
			contextID = uint(id)
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("WebSocket upgrade failed", "error", err)
			return
		}
		hub.RegisterClient(conn, contextID)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
