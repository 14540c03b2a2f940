package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/woolychat/internal/chat"
	"github.com/suPer8Hu/woolychat/internal/files"
)

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// Health reports backend and database reachability. It always answers 200.
func (h *Handler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	ollama := "connected"
	if err := h.Ollama.Ping(ctx); err != nil {
		ollama = "disconnected"
	}

	database := "connected"
	var users int64
	if err := h.DB.WithContext(ctx).Model(&chat.User{}).Count(&users).Error; err != nil {
		database = "disconnected"
		users = 0
	}

	c.JSON(http.StatusOK, gin.H{
		"server":        "running",
		"ollama":        ollama,
		"database":      database,
		"users":         users,
		"ollama_url":    h.Cfg.OllamaBaseURL,
		"upload_folder": h.Files.Root(),
		"max_file_size": files.FormatSize(h.Validator.MaxFileSize),
	})
}
