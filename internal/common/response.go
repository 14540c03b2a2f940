package common

import "github.com/gin-gonic/gin"

// OK writes data as the JSON body.
func OK(c *gin.Context, status int, data any) {
	c.JSON(status, data)
}

// Fail writes the {"error": msg} body every non-2xx response uses.
func Fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
