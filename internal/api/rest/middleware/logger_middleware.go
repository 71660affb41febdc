package middleware

import (
	"time"

	"github.com/Dhoini/channel-gatekeeper/internal/metrics"
	"github.com/Dhoini/channel-gatekeeper/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request id in and out
	RequestIDHeader = "X-Request-ID"
	// ContextRequestIDKey ключ ID запроса в контексте gin
	ContextRequestIDKey = "requestID"
)

// LoggerMiddleware создает middleware для логирования запросов.
// The request id is taken from X-Request-ID or generated, and echoed back.
func LoggerMiddleware(log *logger.Logger, httpMetrics metrics.HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ContextRequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		if httpMetrics != nil {
			httpMetrics.ObserveRequest(c.Request.Method, c.FullPath(), statusCode, latency)
		}

		fields := []interface{}{
			"status_code", statusCode,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
			"request_id", requestID,
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case statusCode >= 500:
			log.Errorw("Request failed", fields...)
		case statusCode >= 400:
			log.Warnw("Request rejected", fields...)
		default:
			log.Infow("Request handled", fields...)
		}
	}
}
