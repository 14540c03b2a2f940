package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/woolychat/internal/common"
	"github.com/suPer8Hu/woolychat/internal/httpapi/handlers"
	"github.com/suPer8Hu/woolychat/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Use(middleware.RequestIDs())

	r.GET("/ping", h.Ping)
	r.GET("/health", h.Health)

	// issues the bearer token every other /api route requires
	r.POST("/api/session", h.CreateSession)

	api := r.Group("/api")
	api.Use(middleware.AuthRequired(h.Cfg.JWTSecret))
	api.POST("/chat", h.Chat)
	api.GET("/tags", h.ListModels)

	api.POST("/upload", h.Upload)
	api.GET("/files/:filename", h.ServeFile)

	api.GET("/conversations", h.ListConversations)
	api.POST("/conversations", h.CreateConversation)
	api.GET("/conversations/:id", h.GetConversation)
	api.PUT("/conversations/:id", h.UpdateConversation)
	api.DELETE("/conversations/:id", h.DeleteConversation)
	api.POST("/conversations/:id/tags", h.TagConversation)
	api.DELETE("/conversations/:id/tags/:tag_id", h.UntagConversation)

	// /api/tags is the model list, so conversation labels live here
	api.GET("/conversation-tags", h.ListTags)
	api.POST("/conversation-tags", h.CreateTag)

	api.GET("/projects", h.ListProjects)
	api.POST("/projects", h.CreateProject)
	api.DELETE("/projects/:id", h.DeleteProject)
	api.GET("/projects/:id/conversations", h.ListProjectConversations)
	api.POST("/projects/:id/conversations", h.AddProjectConversation)
	api.DELETE("/projects/:id/conversations/:conversation_id", h.RemoveProjectConversation)
	return r
}
