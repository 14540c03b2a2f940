package handlers

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/woolychat/internal/auth"
	"github.com/suPer8Hu/woolychat/internal/common"
)

const sessionTTL = 24 * time.Hour

type sessionReq struct {
	Username string `json:"username"`
}

// CreateSession issues a token for a local user, creating the user on first
// use. An empty body selects the configured default user.
func (h *Handler) CreateSession(c *gin.Context) {
	var req sessionReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = h.Cfg.DefaultUsername
	}
	if len(username) > 80 {
		common.Fail(c, http.StatusBadRequest, "username too long")
		return
	}

	user, err := h.ChatSvc.Repo().EnsureUser(c.Request.Context(), username)
	if err != nil {
		log.Printf("[CreateSession] ensure user=%q err=%v", username, err)
		common.Fail(c, http.StatusInternalServerError, "failed to load user")
		return
	}
	token, err := auth.SignJWT(user.ID, h.Cfg.JWTSecret, sessionTTL)
	if err != nil {
		log.Printf("[CreateSession] sign uid=%d err=%v", user.ID, err)
		common.Fail(c, http.StatusInternalServerError, "failed to sign token")
		return
	}
	common.OK(c, http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(sessionTTL.Seconds()),
		"user":       user,
	})
}
