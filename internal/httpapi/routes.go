// Package httpapi wires the health and chat HTTP surface. The
// HTTP/auth layer's session issuance is a collaborator (spec §1
// Non-goals); this package only exposes a health check and the
// scoped-retrieval chat endpoints; it has no digest endpoints.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"podpipe/internal/chatsearch"
)

// ChatHandlers groups the chatsearch dependencies the routes call into.
type ChatHandlers struct {
	Generator chatsearch.GroundedGenerator
	Repo      chatsearch.Repository
}

// SetupRoutes configures the API route tree.
func SetupRoutes(r *gin.Engine, jwtSecret []byte, chat *ChatHandlers) {
	api := r.Group("/api")

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "podpipe"})
	})

	chatGroup := api.Group("/chat")
	chatGroup.Use(AuthMiddleware(jwtSecret))
	{
		chatGroup.POST("/transcripts/search", handleSearchTranscripts(chat))
		chatGroup.POST("/descriptions/search", handleSearchDescriptions(chat))
		chatGroup.GET("/subscriptions", handleGetSubscriptions(chat))
		chatGroup.GET("/podcasts/:id", handleGetPodcastInfo(chat))
		chatGroup.GET("/episodes/:id", handleGetEpisodeInfo(chat))
	}
}

type searchRequest struct {
	Query     string `json:"query" binding:"required"`
	PodcastID string `json:"podcast_id"`
	EpisodeID string `json:"episode_id"`
	Subscribed bool  `json:"subscribed_only"`
}

func scopeFromRequest(c *gin.Context, req searchRequest) chatsearch.Scope {
	return chatsearch.Scope{
		UserID:         userIDFromContext(c),
		PodcastID:      req.PodcastID,
		EpisodeID:      req.EpisodeID,
		SubscribedOnly: req.Subscribed,
	}
}

func handleSearchTranscripts(chat *ChatHandlers) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req searchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result := chatsearch.SearchTranscripts(c.Request.Context(), chat.Generator, chat.Repo, scopeFromRequest(c, req), req.Query)
		c.JSON(http.StatusOK, result)
	}
}

func handleSearchDescriptions(chat *ChatHandlers) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req searchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result := chatsearch.SearchPodcastDescriptions(c.Request.Context(), chat.Generator, chat.Repo, scopeFromRequest(c, req), req.Query)
		c.JSON(http.StatusOK, result)
	}
}

func handleGetSubscriptions(chat *ChatHandlers) gin.HandlerFunc {
	return func(c *gin.Context) {
		subs, err := chatsearch.GetUserSubscriptions(c.Request.Context(), chat.Repo, userIDFromContext(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, subs)
	}
}

func handleGetPodcastInfo(chat *ChatHandlers) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := chatsearch.GetPodcastInfo(c.Request.Context(), chat.Repo, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func handleGetEpisodeInfo(chat *ChatHandlers) gin.HandlerFunc {
	return func(c *gin.Context) {
		ep, err := chatsearch.GetEpisodeInfo(c.Request.Context(), chat.Repo, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, ep)
	}
}
