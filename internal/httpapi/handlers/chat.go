package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/woolychat/internal/ai"
	"github.com/suPer8Hu/woolychat/internal/attachments"
	"github.com/suPer8Hu/woolychat/internal/chat"
	"github.com/suPer8Hu/woolychat/internal/common"
	"github.com/suPer8Hu/woolychat/internal/httpapi/middleware"
)

func userIDFromContext(c *gin.Context) (uint64, bool) {
	return middleware.UserID(c)
}

type chatReq struct {
	Model          string                   `json:"model"`
	Message        string                   `json:"message"`
	History        []ai.Message             `json:"history"`
	ConversationID *uint64                  `json:"conversation_id"`
	Attachments    []attachments.Descriptor `json:"attachments"`
}

type fragmentLine struct {
	Content string `json:"content"`
}

// Chat relays one turn: the reply streams back as newline-delimited
// {"content": ...} records and the turn is stored once the stream completes.
func (h *Handler) Chat(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "invalid json")
		return
	}

	rid := middleware.RequestID(c)
	ctx := c.Request.Context()
	stream, err := h.ChatSvc.StartTurn(ctx, chat.ChatTurn{
		UserID:         uid,
		Model:          req.Model,
		Message:        req.Message,
		History:        req.History,
		ConversationID: req.ConversationID,
		Attachments:    req.Attachments,
		RequestID:      rid,
	})
	if err != nil {
		status, msg := turnFailure(err)
		log.Printf("[Chat] open failed uid=%d request_id=%s status=%d err=%v", uid, rid, status, err)
		common.Fail(c, status, msg)
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	sink := func(fragment string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		buf.Reset()
		if err := enc.Encode(fragmentLine{Content: fragment}); err != nil {
			return err
		}
		if _, err := c.Writer.Write(buf.Bytes()); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}

	res := stream.Run(sink)
	log.Printf("[Chat] done uid=%d request_id=%s fragments=%d completed=%t persisted=%t",
		uid, rid, res.Fragments, res.Completed, res.Persisted != nil)
}

// turnFailure maps an error raised before streaming to a status and message.
func turnFailure(err error) (int, string) {
	var se *ai.StatusError
	switch {
	case errors.Is(err, chat.ErrModelRequired),
		errors.Is(err, chat.ErrMessageRequired),
		errors.Is(err, chat.ErrInvalidHistory):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &se):
		status := se.StatusCode
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		return status, "Ollama error: " + se.Message
	case errors.Is(err, ai.ErrBackendUnavailable):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
