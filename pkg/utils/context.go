package utils

import "github.com/gin-gonic/gin"

// GetUserIDFromContext 从 gin 上下文取出 AuthMiddleware 写入的用户 ID
func GetUserIDFromContext(c *gin.Context) string {
	val, _ := c.Get("userID")
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}
