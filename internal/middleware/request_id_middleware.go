package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// ContextRequestIDKey ключ для request id в контексте Gin.
	ContextRequestIDKey ContextKey = "requestID"

	requestIDHeader = "X-Request-ID"
)

// RequestID проставляет запросу идентификатор: берет клиентский X-Request-ID
// или генерирует новый, и возвращает его в ответе.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set(string(ContextRequestIDKey), requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)
		c.Next()
	}
}
