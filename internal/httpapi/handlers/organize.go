package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/woolychat/internal/chat"
	"github.com/suPer8Hu/woolychat/internal/common"
)

const (
	maxTagName     = 50
	maxProjectName = 100
)

func idParam(c *gin.Context, name, what string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		common.Fail(c, http.StatusBadRequest, "invalid "+what+" id")
		return 0, false
	}
	return id, true
}

func failOrganize(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, chat.ErrConversationNotFound), errors.Is(err, chat.ErrForbidden):
		common.Fail(c, http.StatusNotFound, "Conversation not found")
	case errors.Is(err, chat.ErrTagNotFound):
		common.Fail(c, http.StatusNotFound, "Tag not found")
	case errors.Is(err, chat.ErrProjectNotFound):
		common.Fail(c, http.StatusNotFound, "Project not found")
	case errors.Is(err, chat.ErrTagExists):
		common.Fail(c, http.StatusConflict, err.Error())
	case errors.Is(err, chat.ErrInvalidColor):
		common.Fail(c, http.StatusBadRequest, err.Error())
	default:
		log.Printf("[%s] err=%v", op, err)
		common.Fail(c, http.StatusInternalServerError, "internal error")
	}
}

func validName(name string, limit int) bool {
	name = strings.TrimSpace(name)
	return name != "" && utf8.RuneCountInString(name) <= limit
}

func (h *Handler) ListTags(c *gin.Context) {
	tags, err := h.ChatSvc.Repo().ListTags(c.Request.Context())
	if err != nil {
		failOrganize(c, "ListTags", err)
		return
	}
	if tags == nil {
		tags = []chat.Tag{}
	}
	common.OK(c, http.StatusOK, tags)
}

type createTagReq struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (h *Handler) CreateTag(c *gin.Context) {
	var req createTagReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !validName(req.Name, maxTagName) {
		common.Fail(c, http.StatusBadRequest, "name must be 1-50 characters")
		return
	}
	tag, err := h.ChatSvc.Repo().CreateTag(c.Request.Context(), req.Name, req.Color)
	if err != nil {
		failOrganize(c, "CreateTag", err)
		return
	}
	common.OK(c, http.StatusCreated, tag)
}

type tagConversationReq struct {
	TagID uint64 `json:"tag_id"`
}

func (h *Handler) TagConversation(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := conversationID(c)
	if !ok {
		return
	}
	var req tagConversationReq
	if err := c.ShouldBindJSON(&req); err != nil || req.TagID == 0 {
		common.Fail(c, http.StatusBadRequest, "tag_id is required")
		return
	}
	if err := h.ChatSvc.Repo().TagConversation(c.Request.Context(), uid, id, req.TagID); err != nil {
		failOrganize(c, "TagConversation", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) UntagConversation(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := conversationID(c)
	if !ok {
		return
	}
	tagID, ok := idParam(c, "tag_id", "tag")
	if !ok {
		return
	}
	if err := h.ChatSvc.Repo().UntagConversation(c.Request.Context(), uid, id, tagID); err != nil {
		failOrganize(c, "UntagConversation", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListProjects(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	list, err := h.ChatSvc.Repo().ListProjects(c.Request.Context(), uid)
	if err != nil {
		failOrganize(c, "ListProjects", err)
		return
	}
	if list == nil {
		list = []chat.Project{}
	}
	common.OK(c, http.StatusOK, list)
}

type createProjectReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

func (h *Handler) CreateProject(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createProjectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !validName(req.Name, maxProjectName) {
		common.Fail(c, http.StatusBadRequest, "name must be 1-100 characters")
		return
	}
	p, err := h.ChatSvc.Repo().CreateProject(c.Request.Context(), uid, req.Name, req.Description, req.Color)
	if err != nil {
		failOrganize(c, "CreateProject", err)
		return
	}
	common.OK(c, http.StatusCreated, p)
}

func (h *Handler) DeleteProject(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := idParam(c, "id", "project")
	if !ok {
		return
	}
	if err := h.ChatSvc.Repo().DeleteProject(c.Request.Context(), uid, id); err != nil {
		failOrganize(c, "DeleteProject", err)
		return
	}
	common.OK(c, http.StatusOK, gin.H{"message": "Project deleted"})
}

func (h *Handler) ListProjectConversations(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := idParam(c, "id", "project")
	if !ok {
		return
	}
	list, err := h.ChatSvc.Repo().ProjectConversations(c.Request.Context(), uid, id)
	if err != nil {
		failOrganize(c, "ListProjectConversations", err)
		return
	}
	if list == nil {
		list = []chat.Conversation{}
	}
	common.OK(c, http.StatusOK, list)
}

type projectConversationReq struct {
	ConversationID uint64 `json:"conversation_id"`
}

func (h *Handler) AddProjectConversation(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := idParam(c, "id", "project")
	if !ok {
		return
	}
	var req projectConversationReq
	if err := c.ShouldBindJSON(&req); err != nil || req.ConversationID == 0 {
		common.Fail(c, http.StatusBadRequest, "conversation_id is required")
		return
	}
	if err := h.ChatSvc.Repo().AddProjectConversation(c.Request.Context(), uid, id, req.ConversationID); err != nil {
		failOrganize(c, "AddProjectConversation", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) RemoveProjectConversation(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := idParam(c, "id", "project")
	if !ok {
		return
	}
	convID, ok := idParam(c, "conversation_id", "conversation")
	if !ok {
		return
	}
	if err := h.ChatSvc.Repo().RemoveProjectConversation(c.Request.Context(), uid, id, convID); err != nil {
		failOrganize(c, "RemoveProjectConversation", err)
		return
	}
	c.Status(http.StatusNoContent)
}
