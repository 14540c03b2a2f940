package middleware

import (
	"log"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/woolychat/internal/auth"
	"github.com/suPer8Hu/woolychat/internal/common"
)

const (
	UserIDKey    = "user_id"
	RequestIDKey = "request_id"

	RequestIDHeader = "X-Request-ID"
)

// Recovery turns a handler panic into a 500 {"error"} response.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Recovery] panic=%v request_id=%s path=%s\n%s", r, RequestID(c), c.Request.URL.Path, debug.Stack())
				if c.Writer.Written() {
					c.Abort()
					return
				}
				common.Fail(c, http.StatusInternalServerError, "internal server error")
			}
		}()
		c.Next()
	}
}

// RequestIDs keeps a sane caller-supplied X-Request-ID or mints a ULID.
func RequestIDs() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > 64 || strings.ContainsAny(id, " \t\r\n") {
			var err error
			id, err = common.NewULID()
			if err != nil {
				log.Printf("[RequestIDs] ulid failed err=%v", err)
				id = "unknown"
			}
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func RequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

// AuthRequired accepts "Authorization: Bearer <jwt>" and stores the user id.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			common.Fail(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		uid, err := auth.ParseJWT(strings.TrimSpace(token), secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, "invalid token")
			return
		}
		c.Set(UserIDKey, uid)
		c.Next()
	}
}

// UserID returns the authenticated user id set by AuthRequired.
func UserID(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}
