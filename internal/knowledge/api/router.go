package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns a Gin engine instance.
func SetupRouter(h *Handler, jwtSecret string) *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authMiddleware := AuthMiddleware(jwtSecret)

	apiV1 := r.Group("/api/v1")
	{
		knowledge := apiV1.Group("/knowledge")
		knowledge.Use(authMiddleware)
		{
			knowledge.POST("", h.IngestDocument)
			knowledge.GET("", h.ListDocuments)
			knowledge.POST("/search", h.SearchKnowledge)
			knowledge.GET("/:id", h.GetDocument)
			knowledge.PATCH("/:id", h.UpdateDocumentMetadata)
			knowledge.DELETE("/:id", h.DeleteDocument)
			knowledge.POST("/:id/cancel", h.CancelIngestion)
		}
	}

	return r
}
