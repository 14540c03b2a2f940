package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/woolychat/internal/chat"
	"github.com/suPer8Hu/woolychat/internal/common"
)

func conversationID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		common.Fail(c, http.StatusBadRequest, "invalid conversation id")
		return 0, false
	}
	return id, true
}

// failConversation hides other users' conversations behind the same 404.
func failConversation(c *gin.Context, op string, id uint64, err error) {
	if errors.Is(err, chat.ErrConversationNotFound) || errors.Is(err, chat.ErrForbidden) {
		common.Fail(c, http.StatusNotFound, "Conversation not found")
		return
	}
	log.Printf("[%s] conversation_id=%d err=%v", op, id, err)
	common.Fail(c, http.StatusInternalServerError, "internal error")
}

func (h *Handler) ListConversations(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	list, err := h.ChatSvc.Repo().ListConversations(c.Request.Context(), uid)
	if err != nil {
		log.Printf("[ListConversations] uid=%d err=%v", uid, err)
		common.Fail(c, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []chat.Conversation{}
	}
	common.OK(c, http.StatusOK, list)
}

type createConversationReq struct {
	Title     string `json:"title"`
	ModelName string `json:"model_name"`
}

func (h *Handler) CreateConversation(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createConversationReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	conv, err := h.ChatSvc.CreateConversation(c.Request.Context(), uid, req.Title, req.ModelName)
	if err != nil {
		log.Printf("[CreateConversation] uid=%d err=%v", uid, err)
		common.Fail(c, http.StatusInternalServerError, "failed to create conversation")
		return
	}
	common.OK(c, http.StatusCreated, conv)
}

func (h *Handler) GetConversation(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, okk := conversationID(c)
	if !okk {
		return
	}
	conv, err := h.ChatSvc.Repo().GetConversationWithMessages(c.Request.Context(), uid, id)
	if err != nil {
		failConversation(c, "GetConversation", id, err)
		return
	}
	out := conversationDetail{Conversation: conv, Messages: conv.Messages}
	if out.Messages == nil {
		out.Messages = []chat.Message{}
	}
	common.OK(c, http.StatusOK, out)
}

// conversationDetail always carries the messages key, even when empty.
type conversationDetail struct {
	*chat.Conversation
	Messages []chat.Message `json:"messages"`
}

type updateConversationReq struct {
	Title      *string `json:"title"`
	ModelName  *string `json:"model_name"`
	IsArchived *bool   `json:"is_archived"`
	IsFavorite *bool   `json:"is_favorite"`
}

func (h *Handler) UpdateConversation(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, okk := conversationID(c)
	if !okk {
		return
	}
	var req updateConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Title != nil {
		t := strings.TrimSpace(*req.Title)
		if t == "" || len([]rune(t)) > 200 {
			common.Fail(c, http.StatusBadRequest, "title must be 1-200 characters")
			return
		}
		req.Title = &t
	}

	conv, err := h.ChatSvc.Repo().UpdateConversation(c.Request.Context(), uid, id, chat.ConversationUpdate{
		Title:      req.Title,
		ModelName:  req.ModelName,
		IsArchived: req.IsArchived,
		IsFavorite: req.IsFavorite,
	})
	if err != nil {
		failConversation(c, "UpdateConversation", id, err)
		return
	}
	common.OK(c, http.StatusOK, conv)
}

func (h *Handler) DeleteConversation(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, okk := conversationID(c)
	if !okk {
		return
	}
	if err := h.ChatSvc.Repo().DeleteConversation(c.Request.Context(), uid, id); err != nil {
		failConversation(c, "DeleteConversation", id, err)
		return
	}
	common.OK(c, http.StatusOK, gin.H{"message": "Conversation deleted"})
}
