package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// multipartOverhead 为 multipart 边界和其他表单字段预留的空间
const multipartOverhead = 1 << 20

// BodyLimit 限制请求体大小
func BodyLimit(maxFileSize int64) gin.HandlerFunc {
	limit := maxFileSize + multipartOverhead
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"success": false,
				"message": "request body too large",
				"type":    "too_large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
